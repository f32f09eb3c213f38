package model

import "os"

const (
	// MaxSuffixAttempts bounds the suffix collision policy's search for a
	// free name (file_2, file_3, ... file_1000).
	MaxSuffixAttempts = 1000

	// DefaultDirPerms is the permission mode used when the executor
	// creates a directory that did not previously exist.
	DefaultDirPerms os.FileMode = 0o750

	// TrashDirName is the directory (under a plan's root) that quarantines
	// trashed entries, namespaced per op_id.
	TrashDirName = ".tfs-trash"

	// JournalFormatVersion is the current journal header format version,
	// checked with hashicorp/go-version on read so an incompatible future
	// format is rejected rather than misparsed.
	JournalFormatVersion = "1.0.0"
)

package model

// EffectKind discriminates the observable outcome of a successfully
// executed operation.
type EffectKind string

const (
	EffectMovedSameDevice  EffectKind = "moved_same_device"
	EffectMovedCrossDevice EffectKind = "moved_cross_device"
	EffectCopied           EffectKind = "copied"
	EffectMkdirCreated     EffectKind = "mkdir_created"
	EffectMkdirExisted     EffectKind = "mkdir_existed"
	EffectTrashed          EffectKind = "trashed"
)

// Effect is the observable outcome of a successfully executed operation,
// sufficient on its own to construct its reverse (invariant 3, §3). It is
// encoded as a single flat struct (rather than one Go type per variant) so
// it round-trips through the journal's JSON-lines format without a custom
// marshaler per kind — the same shape the journal, the executor, and the
// reverse-operation synthesizer all share.
type Effect struct {
	Kind EffectKind

	// Move/Rename/Trash.
	From string `json:",omitempty"`
	To   string `json:",omitempty"`

	// MovedCrossDevice / Copied.
	Bytes int64 `json:",omitempty"`

	// Copied.
	Overwrote bool   `json:",omitempty"`
	Backup    string `json:",omitempty"`

	// Mkdir.
	At string `json:",omitempty"`
}

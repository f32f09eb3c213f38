// Package fsutil provides the low-level POSIX primitives the engine needs
// that afero.Fs does not expose uniformly: same-device detection, advisory
// file locking, directory fsync, and Unicode path normalization.
package fsutil

import (
	"errors"

	"golang.org/x/text/unicode/norm"
)

// ErrUnsupportedPlatform is returned by the unix-only primitives on a
// platform this package does not support. Windows support is an open
// question the spec leaves out of scope (§9).
var ErrUnsupportedPlatform = errors.New("fsutil: unsupported platform")

// NormalizeName returns the NFC-normalized form of name. The executor
// applies it to the base name of every suffix/hash8 candidate it
// generates; the collision check on the original destination looks the
// name up exactly as given, without normalizing it.
func NormalizeName(name string) string {
	return norm.NFC.String(name)
}

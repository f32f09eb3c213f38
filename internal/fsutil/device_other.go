//go:build !unix

package fsutil

import "os"

// SameDevice always fails on non-unix platforms; Windows support is out of
// scope (§9).
func SameDevice(a, b string) (bool, error) {
	return false, ErrUnsupportedPlatform
}

// Flock always fails on non-unix platforms.
func Flock(f *os.File) error {
	return ErrUnsupportedPlatform
}

// Unflock always fails on non-unix platforms.
func Unflock(f *os.File) error {
	return ErrUnsupportedPlatform
}

// FsyncDir always fails on non-unix platforms.
func FsyncDir(path string) error {
	return ErrUnsupportedPlatform
}

//go:build unix

package fsutil

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// SameDevice reports whether the two existing paths live on the same
// filesystem (device id), used by the executor to decide between an
// atomic rename and a copy+unlink cross-device move (§4.C).
func SameDevice(a, b string) (bool, error) {
	var sa, sb unix.Stat_t
	if err := unix.Stat(a, &sa); err != nil {
		return false, fmt.Errorf("stat %q: %w", a, err)
	}
	if err := unix.Stat(b, &sb); err != nil {
		return false, fmt.Errorf("stat %q: %w", b, err)
	}
	return sa.Dev == sb.Dev, nil
}

// Flock acquires a non-blocking exclusive advisory lock on f, failing
// immediately if another process already holds it (§5, "journal file is
// held open ... with an exclusive advisory lock").
func Flock(f *os.File) error {
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		return fmt.Errorf("flock %q: %w", f.Name(), err)
	}
	return nil
}

// Unflock releases a lock acquired with Flock.
func Unflock(f *os.File) error {
	if err := unix.Flock(int(f.Fd()), unix.LOCK_UN); err != nil {
		return fmt.Errorf("unflock %q: %w", f.Name(), err)
	}
	return nil
}

// FsyncDir fsyncs the directory at path, so a file creation or rename
// within it is durable even if the process crashes before the directory
// entry itself is flushed.
func FsyncDir(path string) error {
	d, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open dir %q: %w", path, err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("fsync dir %q: %w", path, err)
	}
	return nil
}

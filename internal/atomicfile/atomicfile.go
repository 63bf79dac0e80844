// Package atomicfile writes files via a temp file and rename so readers
// never observe a half-written document.
package atomicfile

import (
	"os"
	"path/filepath"
)

// renameFunc is the final replace step; tests override it to simulate an
// interruption between write and rename.
var renameFunc = os.Rename

// Write writes b to path atomically: the bytes go to a temp file in the
// same directory, which then replaces the target.
func Write(path string, b []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	base := filepath.Base(path)

	f, err := os.CreateTemp(dir, base+".tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()

	// Best-effort cleanup if anything fails before rename.
	defer func() { _ = os.Remove(tmp) }()

	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Chmod(mode); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	return renameFunc(tmp, path)
}

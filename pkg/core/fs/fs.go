// Package fs provides filesystem operations that respect sandbox boundaries.
// sedx's packages use this instead of calling os directly.
package fs

import (
	"os"
	"path/filepath"

	"sedx/pkg/sandbox"
)

// Open opens a file for reading.
func Open(path string) (*os.File, error) {
	return sandbox.Open(path)
}

// Create creates a file for writing.
func Create(path string) (*os.File, error) {
	return sandbox.Create(path)
}

// OpenFile opens a file with flags.
func OpenFile(path string, flag int, perm os.FileMode) (*os.File, error) {
	return sandbox.OpenFile(path, flag, perm)
}

// ReadFile reads an entire file.
func ReadFile(path string) ([]byte, error) {
	return sandbox.ReadFile(path)
}

// Stat returns file info.
func Stat(path string) (os.FileInfo, error) {
	return sandbox.Stat(path)
}

// MkdirAll creates a directory and parents.
func MkdirAll(path string, perm os.FileMode) error {
	return sandbox.MkdirAll(path, perm)
}

// RemoveAll removes a path recursively.
func RemoveAll(path string) error {
	return sandbox.RemoveAll(path)
}

// AtomicWriteFile replaces path's content with data by writing to a
// sibling temp file, fsyncing it, renaming it over path, then fsyncing
// the containing directory, so the replacement survives a crash between
// the write and the rename. Used for both the transaction wrapper's
// final write and the backup ledger's restore.
func AtomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".sedx-tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}
	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := sandbox.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	if d, err := os.Open(dir); err == nil {
		d.Sync()
		d.Close()
	}
	return nil
}

package lock

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FS is the filesystem surface the lock needs.
type FS interface {
	// CreateExclusive creates path with data, failing with fs.ErrExist when it
	// already exists. The file must never be observable half-written.
	CreateExclusive(path string, data []byte) error
	ReadFile(path string) ([]byte, error)
	Stat(path string) (fs.FileInfo, error)
	Remove(path string) error
}

// OSFS implements FS on the local filesystem. CreateExclusive writes a
// private temp file and hard-links it into place, so the sentinel appears
// atomically with its content.
type OSFS struct{}

// CreateExclusive implements FS.
func (OSFS) CreateExclusive(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".lock-tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Link(tmpName, path); err != nil {
		if os.IsExist(err) {
			return fs.ErrExist
		}
		return err
	}
	return nil
}

// ReadFile implements FS.
func (OSFS) ReadFile(path string) ([]byte, error) { return os.ReadFile(path) }

// Stat implements FS.
func (OSFS) Stat(path string) (fs.FileInfo, error) { return os.Stat(path) }

// Remove implements FS.
func (OSFS) Remove(path string) error { return os.Remove(path) }

// Package jsonfile provides a single-file JSON document with atomic replace
// semantics: readers never observe a half-written file.
package jsonfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
)

// ErrCorrupt is returned by Read when the file exists but does not decode.
var ErrCorrupt = errors.New("corrupt json document")

// File guards one JSON document on disk. Writes are serialized.
type File struct {
	mu   sync.RWMutex
	path string
	name string // for error messages: "conversations", "settings"
}

// New creates a File for path. The parent directory is created on first write.
func New(path, name string) *File {
	return &File{path: path, name: name}
}

// Path returns the document location.
func (f *File) Path() string { return f.path }

// Read decodes the document into out. It returns found=false when the file
// does not exist and an error wrapping ErrCorrupt when it cannot be decoded.
func (f *File) Read(out any) (found bool, err error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read %s: %w", f.name, err)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return true, fmt.Errorf("%w: %s: %v", ErrCorrupt, f.name, err)
	}
	return true, nil
}

// Write atomically replaces the document with v: temp file in the same
// directory, fsync, rename, fsync of the directory.
func (f *File) Write(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", f.name, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	return WriteAtomic(f.path, data)
}

// Remove deletes the document. A missing file is not an error.
func (f *File) Remove() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s: %w", f.name, err)
	}
	return nil
}

// WriteAtomic writes data to path through a temp file + rename.
func WriteAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create tmp: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("write tmp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("sync tmp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close tmp: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename: %w", err)
	}
	// The rename is only durable once the directory entry is flushed.
	if err := syncDir(dir); err != nil {
		return fmt.Errorf("sync dir: %w", err)
	}
	return nil
}

var syncDir = func(dir string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	if err := d.Sync(); err != nil {
		d.Close()
		return err
	}
	return d.Close()
}

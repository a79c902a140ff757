// Package fsutil holds small file-system helpers shared by the store and the
// course document writer.
package fsutil

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// AtomicWriter writes to a temp file next to the target and renames it into
// place on Commit, so readers never observe a half-written file.
type AtomicWriter struct {
	path    string
	tmpPath string
	file    *os.File
	mode    os.FileMode
}

// NewAtomicWriter creates a writer for path. When path already exists its
// permission bits are carried over to the replacement.
func NewAtomicWriter(path string) (*AtomicWriter, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	mode := os.FileMode(0644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}

	tmpFile, err := os.CreateTemp(dir, ".coursesync-*.tmp")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}

	return &AtomicWriter{
		path:    path,
		tmpPath: tmpFile.Name(),
		file:    tmpFile,
		mode:    mode,
	}, nil
}

// Write writes data to the temporary file.
func (w *AtomicWriter) Write(p []byte) (n int, err error) {
	return w.file.Write(p)
}

// Commit syncs the temp file and renames it over the target.
func (w *AtomicWriter) Commit() error {
	if err := w.file.Sync(); err != nil {
		w.Abort()
		return fmt.Errorf("sync: %w", err)
	}
	if err := w.file.Close(); err != nil {
		os.Remove(w.tmpPath)
		return fmt.Errorf("close: %w", err)
	}
	if err := os.Chmod(w.tmpPath, w.mode); err != nil {
		os.Remove(w.tmpPath)
		return fmt.Errorf("chmod: %w", err)
	}
	if err := os.Rename(w.tmpPath, w.path); err != nil {
		os.Remove(w.tmpPath) // Best effort cleanup
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

// Abort discards the temporary file without committing.
func (w *AtomicWriter) Abort() error {
	w.file.Close()
	return os.Remove(w.tmpPath)
}

// WriteFile atomically replaces path with data.
func WriteFile(path string, data []byte) error {
	return writeFile(path, data, 0)
}

// WritePrivateFile is WriteFile for credentials: the result is always 0600.
func WritePrivateFile(path string, data []byte) error {
	return writeFile(path, data, 0600)
}

func writeFile(path string, data []byte, mode os.FileMode) error {
	w, err := NewAtomicWriter(path)
	if err != nil {
		return err
	}
	if mode != 0 {
		w.mode = mode
	}
	if _, err := w.Write(data); err != nil {
		w.Abort()
		return fmt.Errorf("write: %w", err)
	}
	return w.Commit()
}

// CopyFile copies src to dst, replacing dst atomically.
func CopyFile(dst, src string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	w, err := NewAtomicWriter(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, in); err != nil {
		w.Abort()
		return fmt.Errorf("copy: %w", err)
	}
	return w.Commit()
}

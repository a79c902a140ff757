package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"coursesync/internal/fsutil"
)

const lockTimeout = 5 * time.Second

// JSONStore implements Store on a single JSON file holding an array of
// records. The file is loaded in full on Open and rewritten in full on Save.
type JSONStore struct {
	path   string
	lock   *FileLock
	logger *slog.Logger

	mu      sync.RWMutex
	order   []string
	records map[string]*VideoMetadata
	// corrupt is set when the file on disk could not be parsed. The first
	// Save copies it aside before overwriting.
	corrupt bool
	now     func() time.Time
}

// Open locks path and loads the store. A missing file yields an empty store;
// an unparseable one yields an empty store and a warning.
func Open(path string, logger *slog.Logger) (*JSONStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &JSONStore{
		path:   path,
		lock:   NewFileLock(path),
		logger: logger,
		now:    time.Now,
	}

	if err := s.lock.Lock(lockTimeout); err != nil {
		return nil, err
	}

	if err := s.Load(); err != nil {
		s.lock.Unlock()
		return nil, err
	}

	return s, nil
}

// Path returns the store file location.
func (s *JSONStore) Path() string { return s.path }

// Load replaces the in-memory records with the file contents. Only I/O
// errors other than a missing file are returned.
func (s *JSONStore) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.order = nil
	s.records = make(map[string]*VideoMetadata)
	s.corrupt = false

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return &StorageError{Op: "read", Entity: "store", ID: s.path, Err: err}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	var list []*VideoMetadata
	if err := json.Unmarshal(data, &list); err != nil {
		s.logger.Warn("metadata store unreadable, starting empty",
			"path", s.path, "error", err)
		s.corrupt = true
		return nil
	}

	for i, rec := range list {
		if rec == nil || rec.Filename == "" {
			s.logger.Warn("skipping record without filename", "path", s.path, "index", i)
			continue
		}
		s.put(rec)
	}
	return nil
}

// Save writes all records atomically.
func (s *JSONStore) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.corrupt {
		backup := fmt.Sprintf("%s.corrupt-%d", s.path, s.now().Unix())
		if err := fsutil.CopyFile(backup, s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return &StorageError{Op: "backup", Entity: "store", ID: s.path, Err: err}
		}
		s.logger.Warn("kept unreadable metadata store", "backup", backup)
		s.corrupt = false
	}

	list := make([]*VideoMetadata, 0, len(s.order))
	for _, name := range s.order {
		list = append(list, s.records[name])
	}
	if err := WriteRecords(s.path, list); err != nil {
		return &StorageError{Op: "write", Entity: "store", ID: s.path, Err: err}
	}
	return nil
}

// WriteRecords atomically writes records to path in the store format.
func WriteRecords(path string, records []*VideoMetadata) error {
	writer, err := fsutil.NewAtomicWriter(path)
	if err != nil {
		return err
	}

	if records == nil {
		records = []*VideoMetadata{}
	}
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(records); err != nil {
		writer.Abort()
		return err
	}

	return writer.Commit()
}

// Close releases the file lock.
func (s *JSONStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lock.Unlock()
}

func (s *JSONStore) Get(filename string) (*VideoMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[filename]
	if !ok {
		return nil, &StorageError{Op: "read", Entity: "record", ID: filename, Err: ErrNotFound}
	}
	return rec.Clone(), nil
}

func (s *JSONStore) List() []*VideoMetadata {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*VideoMetadata, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.records[name].Clone())
	}
	return out
}

func (s *JSONStore) FindByHash(hash string) *VideoMetadata {
	if hash == "" {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, name := range s.order {
		if rec := s.records[name]; rec.Hash == hash {
			return rec.Clone()
		}
	}
	return nil
}

func (s *JSONStore) FindAllByHash(hash string) []*VideoMetadata {
	if hash == "" {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*VideoMetadata
	for _, name := range s.order {
		if rec := s.records[name]; rec.Hash == hash {
			out = append(out, rec.Clone())
		}
	}
	return out
}

func (s *JSONStore) FindBySlot(course string, part, chapter int, language string) *VideoMetadata {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, name := range s.order {
		if rec := s.records[name]; rec.InSlot(course, part, chapter, language) {
			return rec.Clone()
		}
	}
	return nil
}

func (s *JSONStore) IsHashUploaded(hash string) bool {
	if hash == "" {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, rec := range s.records {
		if rec.Hash == hash && rec.HasAnyPlatformID() {
			return true
		}
	}
	return false
}

func (s *JSONStore) Update(record *VideoMetadata) error {
	if record == nil || record.Filename == "" {
		return &StorageError{Op: "update", Entity: "record", Err: ErrInvalidInput}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.put(record.Clone())
	return nil
}

func (s *JSONStore) Remove(filename string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[filename]; !ok {
		return &StorageError{Op: "delete", Entity: "record", ID: filename, Err: ErrNotFound}
	}
	delete(s.records, filename)
	for i, name := range s.order {
		if name == filename {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// Len returns the number of records.
func (s *JSONStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// put must be called with mu held.
func (s *JSONStore) put(rec *VideoMetadata) {
	if _, exists := s.records[rec.Filename]; !exists {
		s.order = append(s.order, rec.Filename)
	}
	s.records[rec.Filename] = rec
}

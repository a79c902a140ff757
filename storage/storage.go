// Package storage persists the video metadata records that track what has
// been uploaded where.
package storage

import (
	"errors"
	"fmt"
)

// Sentinel errors for common storage conditions.
var (
	// ErrNotFound indicates the requested record was not found.
	ErrNotFound = errors.New("storage: not found")
	// ErrInvalidInput indicates invalid or malformed input was provided.
	ErrInvalidInput = errors.New("storage: invalid input")
	// ErrStorageCorrupt indicates the persisted file could not be parsed.
	ErrStorageCorrupt = errors.New("storage: data corruption detected")
	// ErrLockTimeout indicates a timeout acquiring a file lock.
	ErrLockTimeout = errors.New("storage: lock acquisition timeout")
)

// StorageError wraps storage errors with operation and entity context.
// Use errors.As() to extract this error type and get operation details:
//
//	var storErr *storage.StorageError
//	if errors.As(err, &storErr) {
//		fmt.Printf("Failed to %s %s %s: %v\n", storErr.Op, storErr.Entity, storErr.ID, storErr.Err)
//	}
type StorageError struct {
	// Op is the operation that failed ("read", "write", "update", "lock", ...).
	Op string
	// Entity is the entity type ("store", "record").
	Entity string
	// ID is the record filename or file path if applicable.
	ID string
	// Err is the underlying error that occurred.
	Err error
}

// Error returns a string representation of the storage error.
func (e *StorageError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("storage: %s %s %s: %v", e.Op, e.Entity, e.ID, e.Err)
	}
	return fmt.Sprintf("storage: %s %s: %v", e.Op, e.Entity, e.Err)
}

// Unwrap returns the underlying error for use with errors.Is() and errors.As().
func (e *StorageError) Unwrap() error { return e.Err }

// Store is the metadata store consulted and mutated by the upload
// orchestrator. Lookups return copies; callers persist changes with Update
// followed by Save.
type Store interface {
	// Get returns the record for filename or an ErrNotFound StorageError.
	Get(filename string) (*VideoMetadata, error)
	// List returns all records in persisted order.
	List() []*VideoMetadata
	// FindByHash returns the first record with the given content hash, or nil.
	FindByHash(hash string) *VideoMetadata
	// FindAllByHash returns every record with the given content hash.
	FindAllByHash(hash string) []*VideoMetadata
	// FindBySlot returns the first record for the logical slot, or nil.
	FindBySlot(course string, part, chapter int, language string) *VideoMetadata
	// IsHashUploaded reports whether any record with hash has a platform ID.
	IsHashUploaded(hash string) bool
	// Update inserts or replaces the record keyed by its filename.
	Update(record *VideoMetadata) error
	// Remove deletes the record for filename.
	Remove(filename string) error
	// Save writes every record to disk.
	Save() error
	// Close releases any resources held by the store.
	Close() error
}

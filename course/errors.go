// Package course reads chapter metadata out of course markdown documents and
// records platform video IDs in each course's course.yml.
package course

import (
	"errors"
	"fmt"
)

// ErrDocumentNotFound is returned when a course document does not exist.
var ErrDocumentNotFound = errors.New("course: document not found")

// DocumentError wraps failures reading or writing a course document.
type DocumentError struct {
	// Op is "read", "parse" or "write".
	Op   string
	Path string
	Err  error
}

func (e *DocumentError) Error() string {
	return fmt.Sprintf("course: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *DocumentError) Unwrap() error { return e.Err }

package course

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Reader resolves course and chapter titles from the markdown documents at
// <courses>/<course>/<language>.md. Parsed documents are cached for the
// lifetime of the Reader.
type Reader struct {
	root   string
	logger *slog.Logger

	mu    sync.Mutex
	cache map[string]*Document
}

// NewReader returns a reader over the courses directory of a content repo.
func NewReader(coursesDir string, logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{
		root:   coursesDir,
		logger: logger,
		cache:  make(map[string]*Document),
	}
}

// DocumentPath returns where the document for course and language lives.
func (r *Reader) DocumentPath(course, language string) string {
	return filepath.Join(r.root, course, language+".md")
}

// Document loads and parses the document for course and language.
func (r *Reader) Document(course, language string) (*Document, error) {
	path := r.DocumentPath(course, language)

	r.mu.Lock()
	defer r.mu.Unlock()
	if doc, ok := r.cache[path]; ok {
		return doc, nil
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &DocumentError{Op: "read", Path: path, Err: ErrDocumentNotFound}
		}
		return nil, &DocumentError{Op: "read", Path: path, Err: err}
	}
	defer f.Close()

	doc, err := Parse(f)
	if err != nil {
		return nil, &DocumentError{Op: "parse", Path: path, Err: err}
	}
	for _, raw := range doc.InvalidVideoIDs {
		r.logger.Debug("ignoring malformed video id", "path", path, "value", raw)
	}
	r.cache[path] = doc
	return doc, nil
}

// CourseTitle returns the front matter name, or "Course <COURSE>" when the
// document has none.
func (r *Reader) CourseTitle(course, language string) (string, error) {
	doc, err := r.Document(course, language)
	if err != nil {
		return "", err
	}
	if doc.Name == "" {
		return "Course " + strings.ToUpper(course), nil
	}
	return doc.Name, nil
}

// ChapterTitleAndVideoID returns the chapter header text and its video id.
// A chapter missing from the document yields "Chapter <part>.<chapter>" and
// an empty id.
func (r *Reader) ChapterTitleAndVideoID(course string, part, chapter int, language string) (string, string, error) {
	doc, err := r.Document(course, language)
	if err != nil {
		return "", "", err
	}
	c, ok := doc.Chapter(part, chapter)
	if !ok {
		r.logger.Debug("chapter not in document", "course", course, "language", language,
			"part", part, "chapter", chapter)
		return fmt.Sprintf("Chapter %d.%d", part, chapter), "", nil
	}
	return c.Title, c.VideoID, nil
}

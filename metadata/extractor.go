// Package metadata derives video records from course video filenames and the
// course documents they belong to.
package metadata

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"coursesync/storage"
)

// CourseReader supplies titles and chapter identifiers from course documents.
type CourseReader interface {
	CourseTitle(course, language string) (string, error)
	ChapterTitleAndVideoID(course string, part, chapter int, language string) (title, videoID string, err error)
}

// FileError ties a per-file failure to the file it happened on.
type FileError struct {
	Filename string
	Err      error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.Filename, e.Err)
}

func (e *FileError) Unwrap() error { return e.Err }

// Extractor builds one metadata record per video file.
type Extractor struct {
	courses CourseReader
	logger  *slog.Logger
}

// NewExtractor returns an extractor reading course documents from courses.
func NewExtractor(courses CourseReader, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{courses: courses, logger: logger}
}

// Extract builds the record for filename. The content hash is computed only
// when filePath is non-empty. Every error is a *FileError.
func (e *Extractor) Extract(filename, filePath string) (*storage.VideoMetadata, error) {
	slot, err := ParseFilename(filename)
	if err != nil {
		return nil, &FileError{Filename: filename, Err: err}
	}

	courseTitle, err := e.courses.CourseTitle(slot.Course, slot.Language)
	if err != nil {
		return nil, &FileError{Filename: filename, Err: err}
	}
	chapterTitle, videoID, err := e.courses.ChapterTitleAndVideoID(slot.Course, slot.Part, slot.Chapter, slot.Language)
	if err != nil {
		return nil, &FileError{Filename: filename, Err: err}
	}
	if videoID == "" {
		e.logger.Warn("no video id in course document", "file", filename, "slot", slot.String())
	}

	rec := &storage.VideoMetadata{
		Filename:     filename,
		Course:       slot.Course,
		Part:         slot.Part,
		Chapter:      slot.Chapter,
		Language:     slot.Language,
		Title:        Title(slot.Course, slot.Part, slot.Chapter, chapterTitle),
		Description:  Description(slot.Course, courseTitle),
		ChapterTitle: chapterTitle,
		CourseTitle:  courseTitle,
		VideoID:      videoID,
		FilePath:     filePath,
	}

	if filePath != "" {
		hash, err := HashFile(filePath)
		if err != nil {
			return nil, &FileError{Filename: filename, Err: err}
		}
		rec.Hash = hash
	}

	return rec, nil
}

// ProcessFolder extracts every *.mp4 file directly inside dir in natural
// name order. Per-file failures are collected; the returned error is only set
// when dir itself cannot be read.
func (e *Extractor) ProcessFolder(dir string) ([]*storage.VideoMetadata, []*FileError, error) {
	files, err := VideoFiles(dir)
	if err != nil {
		return nil, nil, err
	}

	var (
		records  []*storage.VideoMetadata
		failures []*FileError
	)
	for _, name := range files {
		rec, err := e.Extract(name, filepath.Join(dir, name))
		if err != nil {
			e.logger.Warn("skipping file", "file", name, "error", err)
			failures = append(failures, asFileError(name, err))
			continue
		}
		e.logger.Debug("extracted", "file", name, "title", rec.Title)
		records = append(records, rec)
	}
	return records, failures, nil
}

// VideoFiles lists the *.mp4 files in dir, case-insensitively, in natural order.
func VideoFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read folder %s: %w", dir, err)
	}

	var names []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if strings.EqualFold(filepath.Ext(entry.Name()), ".mp4") {
			names = append(names, entry.Name())
		}
	}
	sort.Slice(names, func(i, j int) bool { return naturalLess(names[i], names[j]) })
	return names, nil
}

func asFileError(name string, err error) *FileError {
	if fe, ok := err.(*FileError); ok {
		return fe
	}
	return &FileError{Filename: name, Err: err}
}

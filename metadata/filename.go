package metadata

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

// ErrInvalidFilename is returned when a name does not follow the
// {course}_{part}.{chapter}_{language}[.ext] grammar.
var ErrInvalidFilename = errors.New("metadata: invalid filename")

var filenamePattern = regexp.MustCompile(`^([^_]+)_(\d+)\.(\d+)_([^_.]+)(?:\.[^._]+)?$`)

// Slot is the logical identity of a video: stable across content replacement.
type Slot struct {
	Course   string
	Part     int
	Chapter  int
	Language string
}

func (s Slot) String() string {
	return fmt.Sprintf("%s_%d.%d_%s", s.Course, s.Part, s.Chapter, s.Language)
}

// ParseFilename splits a bare filename such as "btc101_2.3_en.mp4" into its
// slot fields.
func ParseFilename(name string) (Slot, error) {
	m := filenamePattern.FindStringSubmatch(name)
	if m == nil {
		return Slot{}, fmt.Errorf("%w: %q does not match course_part.chapter_language", ErrInvalidFilename, name)
	}

	part, err := strconv.Atoi(m[2])
	if err != nil {
		return Slot{}, fmt.Errorf("%w: part %q: %v", ErrInvalidFilename, m[2], err)
	}
	chapter, err := strconv.Atoi(m[3])
	if err != nil {
		return Slot{}, fmt.Errorf("%w: chapter %q: %v", ErrInvalidFilename, m[3], err)
	}

	return Slot{Course: m[1], Part: part, Chapter: chapter, Language: m[4]}, nil
}

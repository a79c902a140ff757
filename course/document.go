package course

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

const (
	frontMatterDelimiter = "---"
	// markerWindow is how many lines after a header may hold its part or
	// chapter tag.
	markerWindow = 5
	// videoWindow is how many lines after a chapter header are searched for
	// its video marker.
	videoWindow = 10
)

var (
	videoMarker  = regexp.MustCompile(`(?i)video\s+id\s*=\s*"?([^\s:"]+)`)
	emphasisWrap = regexp.MustCompile(`(^|\s)_([^_\s](?:[^_]*[^_\s])?)_($|\s)`)
)

// Chapter is one counted chapter of a course document.
type Chapter struct {
	Part    int
	Chapter int
	Title   string
	// VideoID is empty when the chapter carries no valid video marker.
	VideoID string
}

// Document is a parsed course markdown file.
type Document struct {
	// Name is the front matter name field, empty when absent.
	Name     string
	Chapters []Chapter
	// InvalidVideoIDs lists marker values that were not UUIDs.
	InvalidVideoIDs []string
}

// Chapter returns the chapter at part.chapter, if counted.
func (d *Document) Chapter(part, chapter int) (Chapter, bool) {
	for _, c := range d.Chapters {
		if c.Part == part && c.Chapter == chapter {
			return c, true
		}
	}
	return Chapter{}, false
}

// Parse reads a course document. Only a front matter block opening on the
// first line is recognised; any later delimiter line is body text.
//
// Parts are "# " headers followed within a few lines by a <partId tag, and
// chapters are "## " headers followed by a <chapterId tag. The chapter count
// restarts at each part. Headers inside fenced code blocks are ignored.
func Parse(r io.Reader) (*Document, error) {
	lines, err := readLines(r)
	if err != nil {
		return nil, err
	}

	doc := &Document{}
	body := 0
	if len(lines) > 0 && strings.TrimSpace(lines[0]) == frontMatterDelimiter {
		for i := 1; i < len(lines); i++ {
			if strings.TrimSpace(lines[i]) == frontMatterDelimiter {
				doc.Name = frontMatterName(lines[1:i])
				body = i + 1
				break
			}
		}
	}

	var (
		part, chapter int
		inFence       bool
		fence         string
	)
	for i := body; i < len(lines); i++ {
		line := lines[i]
		trimmed := strings.TrimSpace(line)

		if f := fenceMarker(trimmed); f != "" {
			switch {
			case !inFence:
				inFence, fence = true, f
			case strings.HasPrefix(trimmed, fence):
				inFence = false
			}
			continue
		}
		if inFence {
			continue
		}

		switch {
		case strings.HasPrefix(line, "# "):
			if hasTag(lines, i, "<partid") {
				part++
				chapter = 0
			}
		case strings.HasPrefix(line, "## "):
			if !hasTag(lines, i, "<chapterid") {
				continue
			}
			chapter++
			c := Chapter{Part: part, Chapter: chapter, Title: cleanTitle(line[3:])}
			if raw := findVideoID(lines, i); raw != "" {
				if id, err := uuid.Parse(raw); err == nil {
					c.VideoID = id.String()
				} else {
					doc.InvalidVideoIDs = append(doc.InvalidVideoIDs, raw)
				}
			}
			doc.Chapters = append(doc.Chapters, c)
		}
	}

	return doc, nil
}

func readLines(r io.Reader) ([]string, error) {
	var lines []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		lines = append(lines, strings.TrimSuffix(sc.Text(), "\r"))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	return lines, nil
}

func frontMatterName(lines []string) string {
	for _, line := range lines {
		if !strings.HasPrefix(line, "name:") {
			continue
		}
		v := strings.TrimSpace(strings.TrimPrefix(line, "name:"))
		if len(v) >= 2 && (v[0] == '"' && v[len(v)-1] == '"' || v[0] == '\'' && v[len(v)-1] == '\'') {
			v = v[1 : len(v)-1]
		}
		return strings.TrimSpace(v)
	}
	return ""
}

// hasTag reports whether one of the markerWindow lines after lines[i]
// contains tag, compared case-insensitively. The search ends at the next
// header so a tag belongs to the nearest header above it.
func hasTag(lines []string, i int, tag string) bool {
	for j := i + 1; j <= i+markerWindow && j < len(lines); j++ {
		if strings.HasPrefix(lines[j], "#") {
			return false
		}
		if strings.Contains(strings.ToLower(lines[j]), tag) {
			return true
		}
	}
	return false
}

// findVideoID returns the raw video marker value following the chapter
// header at lines[i], stopping at the next header.
func findVideoID(lines []string, i int) string {
	for j := i + 1; j <= i+videoWindow && j < len(lines); j++ {
		if strings.HasPrefix(lines[j], "#") {
			return ""
		}
		if m := videoMarker.FindStringSubmatch(lines[j]); m != nil {
			return m[1]
		}
	}
	return ""
}

func cleanTitle(s string) string {
	s = strings.NewReplacer("**", "", "__", "", "*", "").Replace(s)
	s = emphasisWrap.ReplaceAllString(s, "$1$2$3")
	return strings.Join(strings.Fields(s), " ")
}

func fenceMarker(trimmed string) string {
	switch {
	case strings.HasPrefix(trimmed, "```"):
		return "```"
	case strings.HasPrefix(trimmed, "~~~"):
		return "~~~"
	}
	return ""
}

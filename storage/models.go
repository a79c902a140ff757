package storage

import (
	"bytes"
	"encoding/json"
	"maps"
	"sort"
)

// Platform names a video hosting platform a record can carry an ID for.
type Platform string

const (
	PlatformYouTube  Platform = "youtube"
	PlatformPeerTube Platform = "peertube"
)

// Platforms lists every supported platform in processing order.
var Platforms = []Platform{PlatformYouTube, PlatformPeerTube}

// VideoMetadata is one record of the metadata store, keyed by Filename.
//
// Zero-valued strings are persisted as JSON null. Fields the store does not
// know about are kept in extra and written back unchanged.
type VideoMetadata struct {
	// Filename is the bare file name, unique within the store.
	Filename string
	// Course is the course code parsed from the filename (e.g. "btc101").
	Course string
	// Part and Chapter are the 1-based section indices from the filename.
	Part    int
	Chapter int
	// Language selects the course document and is sent to platforms.
	Language string

	Title        string
	Description  string
	ChapterTitle string
	CourseTitle  string

	// VideoID is the stable chapter identifier from the course document.
	VideoID string
	// YouTubeID and PeerTubeID are set once an upload to that platform succeeded.
	YouTubeID  string
	PeerTubeID string
	// Hash is the hex SHA-256 of the file content, empty when unreadable.
	Hash string

	// FilePath is where the file was found during this run. Never persisted.
	FilePath string

	extra map[string]json.RawMessage
}

// wireRecord is the persisted layout.
type wireRecord struct {
	Filename     string    `json:"filename"`
	Course       string    `json:"course_index"`
	Part         int       `json:"part_index"`
	Chapter      int       `json:"chapter_index"`
	Language     string    `json:"code_language"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	ChapterTitle string    `json:"chapter_title"`
	CourseTitle  string    `json:"course_title"`
	VideoID      *idString `json:"video_id"`
	YouTubeID    *idString `json:"youtube_id"`
	PeerTubeID   *idString `json:"peertube_id"`
	Hash         *string   `json:"sha256_hash"`
}

// idString accepts a JSON string or number. Older stores wrote PeerTube IDs
// as numbers.
type idString string

func (s *idString) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] != '"' {
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		*s = idString(n.String())
		return nil
	}
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = idString(str)
	return nil
}

// legacyVideoIDKey is the name older stores used for video_id.
const legacyVideoIDKey = "chapter_uuid"

var knownKeys = map[string]bool{
	"filename": true, "course_index": true, "part_index": true, "chapter_index": true,
	"code_language": true, "title": true, "description": true, "chapter_title": true,
	"course_title": true, "video_id": true, "youtube_id": true, "peertube_id": true,
	"sha256_hash": true,
}

// MarshalJSON writes the record with keys in a fixed order followed by any
// unknown keys it was loaded with, sorted.
func (m *VideoMetadata) MarshalJSON() ([]byte, error) {
	w := wireRecord{
		Filename:     m.Filename,
		Course:       m.Course,
		Part:         m.Part,
		Chapter:      m.Chapter,
		Language:     m.Language,
		Title:        m.Title,
		Description:  m.Description,
		ChapterTitle: m.ChapterTitle,
		CourseTitle:  m.CourseTitle,
		VideoID:      nullableID(m.VideoID),
		YouTubeID:    nullableID(m.YouTubeID),
		PeerTubeID:   nullableID(m.PeerTubeID),
		Hash:         nullable(m.Hash),
	}
	data, err := marshalNoEscape(w)
	if err != nil || len(m.extra) == 0 {
		return data, err
	}

	keys := make([]string, 0, len(m.extra))
	for k := range m.extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.Write(data[:len(data)-1]) // drop closing brace
	for _, k := range keys {
		name, err := marshalNoEscape(k)
		if err != nil {
			return nil, err
		}
		buf.WriteByte(',')
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(m.extra[k])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON accepts the current layout and the legacy chapter_uuid key.
func (m *VideoMetadata) UnmarshalJSON(data []byte) error {
	var w wireRecord
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*m = VideoMetadata{
		Filename:     w.Filename,
		Course:       w.Course,
		Part:         w.Part,
		Chapter:      w.Chapter,
		Language:     w.Language,
		Title:        w.Title,
		Description:  w.Description,
		ChapterTitle: w.ChapterTitle,
		CourseTitle:  w.CourseTitle,
		VideoID:      derefID(w.VideoID),
		YouTubeID:    derefID(w.YouTubeID),
		PeerTubeID:   derefID(w.PeerTubeID),
		Hash:         deref(w.Hash),
	}

	for k, v := range raw {
		if knownKeys[k] {
			continue
		}
		if k == legacyVideoIDKey {
			var legacy *idString
			if err := json.Unmarshal(v, &legacy); err == nil && m.VideoID == "" {
				m.VideoID = derefID(legacy)
			}
			continue
		}
		if m.extra == nil {
			m.extra = make(map[string]json.RawMessage)
		}
		m.extra[k] = v
	}
	return nil
}

// PlatformID returns the record's ID on p, or "" when not uploaded there.
func (m *VideoMetadata) PlatformID(p Platform) string {
	switch p {
	case PlatformYouTube:
		return m.YouTubeID
	case PlatformPeerTube:
		return m.PeerTubeID
	}
	return ""
}

// SetPlatformID records id for p. An empty id clears it.
func (m *VideoMetadata) SetPlatformID(p Platform, id string) {
	switch p {
	case PlatformYouTube:
		m.YouTubeID = id
	case PlatformPeerTube:
		m.PeerTubeID = id
	}
}

// HasAnyPlatformID reports whether the record is uploaded anywhere.
func (m *VideoMetadata) HasAnyPlatformID() bool {
	for _, p := range Platforms {
		if m.PlatformID(p) != "" {
			return true
		}
	}
	return false
}

// InSlot reports whether the record belongs to the given logical slot.
func (m *VideoMetadata) InSlot(course string, part, chapter int, language string) bool {
	return m.Course == course && m.Part == part && m.Chapter == chapter && m.Language == language
}

// Extra returns a field the store does not model, as raw JSON.
func (m *VideoMetadata) Extra(key string) (json.RawMessage, bool) {
	v, ok := m.extra[key]
	return v, ok
}

// SetExtra stores an unmodelled field. A nil value removes it. Keys of
// modelled fields are ignored.
func (m *VideoMetadata) SetExtra(key string, value json.RawMessage) {
	if knownKeys[key] || key == legacyVideoIDKey {
		return
	}
	if value == nil {
		delete(m.extra, key)
		return
	}
	if m.extra == nil {
		m.extra = make(map[string]json.RawMessage)
	}
	m.extra[key] = value
}

// CopyExtra replaces m's unmodelled fields with a copy of from's.
func (m *VideoMetadata) CopyExtra(from *VideoMetadata) {
	m.extra = maps.Clone(from.extra)
}

// Equal reports whether both records persist to the same JSON.
func (m *VideoMetadata) Equal(o *VideoMetadata) bool {
	if m == nil || o == nil {
		return m == o
	}
	same := m.Filename == o.Filename &&
		m.Course == o.Course &&
		m.Part == o.Part &&
		m.Chapter == o.Chapter &&
		m.Language == o.Language &&
		m.Title == o.Title &&
		m.Description == o.Description &&
		m.ChapterTitle == o.ChapterTitle &&
		m.CourseTitle == o.CourseTitle &&
		m.VideoID == o.VideoID &&
		m.YouTubeID == o.YouTubeID &&
		m.PeerTubeID == o.PeerTubeID &&
		m.Hash == o.Hash
	if !same || len(m.extra) != len(o.extra) {
		return false
	}
	for k, v := range m.extra {
		if w, ok := o.extra[k]; !ok || !bytes.Equal(v, w) {
			return false
		}
	}
	return true
}

// Clone returns a deep copy.
func (m *VideoMetadata) Clone() *VideoMetadata {
	if m == nil {
		return nil
	}
	c := *m
	c.extra = maps.Clone(m.extra)
	return &c
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullableID(s string) *idString {
	if s == "" {
		return nil
	}
	id := idString(s)
	return &id
}

func derefID(s *idString) string {
	if s == nil {
		return ""
	}
	return string(*s)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func marshalNoEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

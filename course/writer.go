package course

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"coursesync/internal/fsutil"
	"coursesync/storage"
)

const defaultIndent = 2

// Writer records platform video IDs in <courses>/<course>/course.yml under
//
//	videos:
//	  - id: <video id>
//	    youtube:
//	      - en: <youtube id>
//	    peertube:
//	      - en: <peertube id>
//
// Only the videos entry is re-encoded. The rest of the file is spliced back
// byte for byte, so hand-written formatting outside it survives.
type Writer struct {
	root   string
	indent int
	logger *slog.Logger
}

// NewWriter returns a writer over the courses directory. indent <= 0 selects
// two-space indentation.
func NewWriter(coursesDir string, indent int, logger *slog.Logger) *Writer {
	if indent <= 0 {
		indent = defaultIndent
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{root: coursesDir, indent: indent, logger: logger}
}

// DocumentPath returns the course.yml location for course.
func (w *Writer) DocumentPath(course string) string {
	return filepath.Join(w.root, course, "course.yml")
}

// Update applies the record's platform IDs to its course.yml. It returns
// false without error when the record has no video id or no platform ID, or
// when the file already holds every ID.
func (w *Writer) Update(rec *storage.VideoMetadata) (bool, error) {
	if rec.VideoID == "" {
		w.logger.Warn("no video id, skipping course.yml update", "file", rec.Filename)
		return false, nil
	}
	if _, err := uuid.Parse(rec.VideoID); err != nil {
		w.logger.Warn("video id is not a uuid, skipping course.yml update", "file", rec.Filename, "video_id", rec.VideoID)
		return false, nil
	}
	if !rec.HasAnyPlatformID() {
		w.logger.Warn("no platform ids, skipping course.yml update", "file", rec.Filename)
		return false, nil
	}

	changed, err := w.apply(rec.Course, []*storage.VideoMetadata{rec})
	if err != nil {
		w.logger.Error("course.yml update failed", "file", rec.Filename, "error", err)
		return false, err
	}
	if changed {
		w.logger.Info("updated course.yml", "file", rec.Filename, "video_id", rec.VideoID,
			"youtube", rec.YouTubeID, "peertube", rec.PeerTubeID)
	}
	return changed, nil
}

// SyncFailure is a record whose course.yml could not be updated.
type SyncFailure struct {
	Filename string
	Err      error
}

// SyncSummary reports the outcome of SyncAll.
type SyncSummary struct {
	// Updated counts records whose IDs were written.
	Updated int
	// Unchanged counts records already reflected in their course.yml.
	Unchanged int
	// Skipped counts records without a valid video id or any platform ID.
	Skipped int
	Failed  []SyncFailure
}

// SyncAll writes every eligible record into its course.yml, course by
// course. A missing course.yml fails every record of that course.
func (w *Writer) SyncAll(records []*storage.VideoMetadata) *SyncSummary {
	summary := &SyncSummary{}
	byCourse := make(map[string][]*storage.VideoMetadata)
	for _, rec := range records {
		if _, err := uuid.Parse(rec.VideoID); err != nil || !rec.HasAnyPlatformID() {
			summary.Skipped++
			continue
		}
		byCourse[rec.Course] = append(byCourse[rec.Course], rec)
	}

	courses := make([]string, 0, len(byCourse))
	for c := range byCourse {
		courses = append(courses, c)
	}
	sort.Strings(courses)

	for _, c := range courses {
		w.syncCourse(c, byCourse[c], summary)
	}
	return summary
}

func (w *Writer) syncCourse(course string, recs []*storage.VideoMetadata, summary *SyncSummary) {
	for i, rec := range recs {
		changed, err := w.apply(course, []*storage.VideoMetadata{rec})
		if err != nil {
			if errors.Is(err, ErrDocumentNotFound) {
				for _, r := range recs[i:] {
					summary.Failed = append(summary.Failed, SyncFailure{Filename: r.Filename, Err: err})
				}
				w.logger.Error("course.yml missing", "course", course, "error", err)
				return
			}
			summary.Failed = append(summary.Failed, SyncFailure{Filename: rec.Filename, Err: err})
			continue
		}
		if changed {
			summary.Updated++
		} else {
			summary.Unchanged++
		}
	}
	w.logger.Info("synced course.yml", "course", course, "records", len(recs))
}

// apply loads the course file, applies recs, and writes it back if anything
// changed.
func (w *Writer) apply(course string, recs []*storage.VideoMetadata) (bool, error) {
	path := w.DocumentPath(course)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, &DocumentError{Op: "read", Path: path, Err: ErrDocumentNotFound}
		}
		return false, &DocumentError{Op: "read", Path: path, Err: err}
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return false, &DocumentError{Op: "parse", Path: path, Err: err}
	}
	spliceable := canSplice(&doc)
	root, err := documentRoot(&doc)
	if err != nil {
		return false, &DocumentError{Op: "parse", Path: path, Err: err}
	}

	hadVideos := mapValue(root, "videos") != nil
	videos, changed, err := videosSequence(root)
	if err != nil {
		return false, &DocumentError{Op: "parse", Path: path, Err: err}
	}
	if spliceable && hadVideos {
		// Trailing comments are kept from the source lines instead.
		clearTrailingComments(root)
	}
	for _, rec := range recs {
		entry, created := videoEntry(videos, rec.VideoID)
		changed = changed || created
		for _, p := range storage.Platforms {
			id := rec.PlatformID(p)
			if id == "" {
				continue
			}
			c, err := setLanguageID(entry, p, rec.Language, id)
			if err != nil {
				return false, &DocumentError{Op: "parse", Path: path, Err: err}
			}
			changed = changed || c
		}
	}
	if !changed {
		return false, nil
	}

	var out []byte
	if spliceable {
		out, err = w.splice(data, root, hadVideos)
	} else {
		out, err = w.encode(&doc)
	}
	if err != nil {
		return false, &DocumentError{Op: "write", Path: path, Err: err}
	}
	if err := fsutil.WriteFile(path, out); err != nil {
		return false, &DocumentError{Op: "write", Path: path, Err: err}
	}
	return true, nil
}

func (w *Writer) encode(n *yaml.Node) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(w.indent)
	if err := enc.Encode(n); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// canSplice reports whether doc is a block mapping with its keys at column
// 1, so top-level entries can be located by line.
func canSplice(doc *yaml.Node) bool {
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return false
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode || root.Style&yaml.FlowStyle != 0 {
		return false
	}
	for i := 0; i < len(root.Content); i += 2 {
		if root.Content[i].Column != 1 {
			return false
		}
	}
	return true
}

// splice re-encodes the top-level videos entry into the source lines it
// came from, or appends it when the file had none.
func (w *Writer) splice(data []byte, root *yaml.Node, hadVideos bool) ([]byte, error) {
	i := keyIndex(root, "videos")
	key, val := *root.Content[i], *root.Content[i+1]
	key.HeadComment = ""
	frag, err := w.encode(&yaml.Node{Kind: yaml.MappingNode, Tag: "!!map", Content: []*yaml.Node{&key, &val}})
	if err != nil {
		return nil, err
	}

	var out bytes.Buffer
	if !hadVideos {
		out.Write(data)
		if len(data) > 0 && data[len(data)-1] != '\n' {
			out.WriteByte('\n')
		}
		out.Write(frag)
		return out.Bytes(), nil
	}

	lines := bytes.SplitAfter(data, []byte("\n"))
	start := key.Line - 1
	end := len(lines)
	if i+2 < len(root.Content) {
		end = root.Content[i+2].Line - 1
	}
	// Blank lines and comments before the next key stay as written.
	for end > start+1 && commentOrBlank(lines[end-1]) {
		end--
	}
	for _, l := range lines[:start] {
		out.Write(l)
	}
	out.Write(frag)
	for _, l := range lines[end:] {
		out.Write(l)
	}
	return out.Bytes(), nil
}

// clearTrailingComments drops the foot comments that close the videos
// entry, walking its last descendants.
func clearTrailingComments(root *yaml.Node) {
	i := keyIndex(root, "videos")
	root.Content[i].FootComment = ""
	n := root.Content[i+1]
	for n != nil {
		n.FootComment = ""
		last := len(n.Content)
		if last == 0 {
			return
		}
		if n.Kind == yaml.MappingNode && last >= 2 {
			n.Content[last-2].FootComment = ""
		}
		n = n.Content[last-1]
	}
}

func commentOrBlank(line []byte) bool {
	t := bytes.TrimSpace(line)
	return len(t) == 0 || t[0] == '#'
}

func documentRoot(doc *yaml.Node) (*yaml.Node, error) {
	if doc.Kind == 0 {
		doc.Kind = yaml.DocumentNode
	}
	if doc.Kind != yaml.DocumentNode {
		return nil, fmt.Errorf("unexpected node kind %v", doc.Kind)
	}
	if len(doc.Content) == 0 {
		doc.Content = append(doc.Content, &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"})
	}
	root := doc.Content[0]
	if isNull(root) {
		*root = yaml.Node{Kind: yaml.MappingNode, Tag: "!!map", HeadComment: root.HeadComment}
	}
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("top level is not a mapping")
	}
	return root, nil
}

// videosSequence returns the top-level videos list, creating it if absent.
func videosSequence(root *yaml.Node) (*yaml.Node, bool, error) {
	v := mapValue(root, "videos")
	switch {
	case v == nil:
		seq := sequenceNode()
		root.Content = append(root.Content, stringNode("videos"), seq)
		return seq, true, nil
	case isNull(v):
		*v = *sequenceNode()
		return v, true, nil
	case v.Kind != yaml.SequenceNode:
		return nil, false, fmt.Errorf("videos is not a list")
	}
	return v, false, nil
}

// videoEntry finds the mapping whose id is videoID, appending a new
// {id, youtube: [], peertube: []} entry when there is none.
func videoEntry(videos *yaml.Node, videoID string) (*yaml.Node, bool) {
	for _, item := range videos.Content {
		if item.Kind != yaml.MappingNode {
			continue
		}
		if id := mapValue(item, "id"); id != nil && strings.EqualFold(id.Value, videoID) {
			return item, false
		}
	}

	entry := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	entry.Content = append(entry.Content, stringNode("id"), stringNode(videoID))
	for _, p := range storage.Platforms {
		entry.Content = append(entry.Content, stringNode(string(p)), sequenceNode())
	}
	videos.Content = append(videos.Content, entry)
	return entry, true
}

// setLanguageID upserts {language: id} in the entry's list for platform p.
func setLanguageID(entry *yaml.Node, p storage.Platform, language, id string) (bool, error) {
	list := mapValue(entry, string(p))
	switch {
	case list == nil:
		list = sequenceNode()
		entry.Content = append(entry.Content, stringNode(string(p)), list)
	case isNull(list):
		*list = *sequenceNode()
	case list.Kind != yaml.SequenceNode:
		return false, fmt.Errorf("%s of video %s is not a list", p, scalarValue(mapValue(entry, "id")))
	}
	// A block list that was empty was written as "[]"; grow it in block style.
	if len(list.Content) == 0 {
		list.Style = 0
	}

	for _, item := range list.Content {
		if item.Kind != yaml.MappingNode {
			continue
		}
		v := mapValue(item, language)
		if v == nil {
			continue
		}
		if v.Value == id && !isNull(v) {
			return false, nil
		}
		tag := idTag(p, id)
		if v.Tag != tag {
			v.Style = 0
		}
		v.Kind, v.Tag, v.Value = yaml.ScalarNode, tag, id
		return true, nil
	}

	item := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	item.Content = append(item.Content, stringNode(language),
		&yaml.Node{Kind: yaml.ScalarNode, Tag: idTag(p, id), Value: id})
	list.Content = append(list.Content, item)
	return true, nil
}

// idTag writes numeric PeerTube IDs as integers, everything else as strings.
func idTag(p storage.Platform, id string) string {
	if p == storage.PlatformPeerTube && isDigits(id) {
		return "!!int"
	}
	return "!!str"
}

func mapValue(m *yaml.Node, key string) *yaml.Node {
	if i := keyIndex(m, key); i >= 0 {
		return m.Content[i+1]
	}
	return nil
}

func keyIndex(m *yaml.Node, key string) int {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return i
		}
	}
	return -1
}

func scalarValue(n *yaml.Node) string {
	if n == nil {
		return ""
	}
	return n.Value
}

func isNull(n *yaml.Node) bool {
	return n.Kind == yaml.ScalarNode && (n.Tag == "!!null" || n.Value == "" && n.Tag == "")
}

func stringNode(v string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v}
}

func sequenceNode() *yaml.Node {
	return &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

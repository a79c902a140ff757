package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"coursesync/platform"
	"coursesync/storage"
)

type fakeUploader struct {
	name storage.Platform

	mu        sync.Mutex
	calls     []string
	next      int
	playlists map[string]string
	members   map[string][]string

	authErr   error
	uploadErr error
	deleteErr error
	onUpload  func(req *platform.UploadRequest)
}

func newFake(name storage.Platform) *fakeUploader {
	return &fakeUploader{name: name, playlists: map[string]string{}, members: map[string][]string{}}
}

func (f *fakeUploader) record(format string, args ...any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *fakeUploader) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeUploader) count(prefix string) int {
	n := 0
	for _, c := range f.Calls() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (f *fakeUploader) Name() storage.Platform { return f.name }

func (f *fakeUploader) Authenticate(ctx context.Context) error {
	f.record("auth")
	return f.authErr
}

func (f *fakeUploader) UploadVideo(ctx context.Context, req *platform.UploadRequest) (*platform.UploadResult, error) {
	f.record("upload %s thumb=%t", filepath.Base(req.Path), req.ThumbnailPath != "")
	if f.onUpload != nil {
		f.onUpload(req)
	}
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	f.mu.Lock()
	f.next++
	id := fmt.Sprintf("%s-%d", f.name, f.next)
	f.mu.Unlock()
	return &platform.UploadResult{VideoID: id, URL: "https://example.org/" + id}, nil
}

func (f *fakeUploader) DeleteVideo(ctx context.Context, videoID string) error {
	f.record("delete %s", videoID)
	return f.deleteErr
}

func (f *fakeUploader) FindPlaylist(ctx context.Context, title string) (string, error) {
	f.record("find %s", title)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.playlists[title], nil
}

func (f *fakeUploader) CreatePlaylist(ctx context.Context, title, description string) (string, error) {
	f.record("create %s", title)
	f.mu.Lock()
	defer f.mu.Unlock()
	id := fmt.Sprintf("pl-%d", len(f.playlists)+1)
	f.playlists[title] = id
	return id, nil
}

func (f *fakeUploader) AddToPlaylist(ctx context.Context, playlistID, videoID string) error {
	f.record("add %s %s", playlistID, videoID)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.members[playlistID] = append(f.members[playlistID], videoID)
	return nil
}

type fakeWriter struct {
	updated []string
	err     error
}

func (w *fakeWriter) Update(rec *storage.VideoMetadata) (bool, error) {
	if w.err != nil {
		return false, w.err
	}
	w.updated = append(w.updated, rec.Filename)
	return true, nil
}

type fakeFrames struct {
	dir     string
	removed []string
	err     error
}

func (f *fakeFrames) Extract(ctx context.Context, videoPath string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	path := filepath.Join(f.dir, filepath.Base(videoPath)+".jpg")
	return path, os.WriteFile(path, []byte{0xFF, 0xD8, 0xFF}, 0o644)
}

func (f *fakeFrames) Remove(path string) {
	f.removed = append(f.removed, path)
	os.Remove(path)
}

type harness struct {
	t       *testing.T
	path    string
	store   *storage.JSONStore
	yt, pt  *fakeUploader
	writer  *fakeWriter
	orch    *Orchestrator
	decider Decider
	frames  FrameExtractor
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHarness(t *testing.T, seed ...*storage.VideoMetadata) *harness {
	t.Helper()
	path := filepath.Join(t.TempDir(), "metadata.json")
	if len(seed) > 0 {
		require.NoError(t, storage.WriteRecords(path, seed))
	}
	h := &harness{
		t:      t,
		path:   path,
		yt:     newFake(storage.PlatformYouTube),
		pt:     newFake(storage.PlatformPeerTube),
		writer: &fakeWriter{},
	}
	h.open()
	return h
}

func (h *harness) open() {
	h.t.Helper()
	store, err := storage.Open(h.path, quietLogger())
	require.NoError(h.t, err)
	h.t.Cleanup(func() { store.Close() })
	h.store = store
}

func (h *harness) reopen() {
	h.t.Helper()
	require.NoError(h.t, h.store.Close())
	h.open()
	h.orch = nil
}

func (h *harness) start(requested ...storage.Platform) *Orchestrator {
	h.t.Helper()
	orch, err := New(Config{
		Store:     h.store,
		Uploaders: []platform.Uploader{h.yt, h.pt},
		Writer:    h.writer,
		Frames:    h.frames,
		Decider:   h.decider,
		Logger:    quietLogger(),
	})
	require.NoError(h.t, err)
	_, err = orch.Authenticate(context.Background(), requested)
	require.NoError(h.t, err)
	h.orch = orch
	return orch
}

func (h *harness) run(candidates ...*storage.VideoMetadata) *Report {
	h.t.Helper()
	if h.orch == nil {
		h.start()
	}
	report, err := h.orch.Run(context.Background(), candidates)
	require.NoError(h.t, err)
	require.Len(h.t, report.Videos, len(candidates))
	return report
}

func (h *harness) persisted() map[string]*storage.VideoMetadata {
	h.t.Helper()
	data, err := os.ReadFile(h.path)
	require.NoError(h.t, err)
	var list []*storage.VideoMetadata
	require.NoError(h.t, json.Unmarshal(data, &list))
	out := make(map[string]*storage.VideoMetadata, len(list))
	for _, rec := range list {
		out[rec.Filename] = rec
	}
	return out
}

func candidate(filename, hash string) *storage.VideoMetadata {
	var course, lang string
	var part, chapter int
	base := strings.TrimSuffix(filename, filepath.Ext(filename))
	fields := strings.Split(base, "_")
	course, lang = fields[0], fields[2]
	fmt.Sscanf(fields[1], "%d.%d", &part, &chapter)
	return &storage.VideoMetadata{
		Filename:     filename,
		Course:       course,
		Part:         part,
		Chapter:      chapter,
		Language:     lang,
		Title:        fmt.Sprintf("[%s] - %d.%d - Chapter", strings.ToUpper(course), part, chapter),
		Description:  strings.ToUpper(course) + " - Course",
		ChapterTitle: "Chapter",
		CourseTitle:  "Course",
		VideoID:      "4b0c1b6e-5f3a-4d8e-9a57-1f2d3c4b5a60",
		Hash:         hash,
		FilePath:     "/videos/" + filename,
	}
}

func TestAuthenticate(t *testing.T) {
	h := newHarness(t)
	h.yt.authErr = errors.New("consent required")
	h.pt.authErr = errors.New("bad password")

	orch, err := New(Config{Store: h.store, Uploaders: []platform.Uploader{h.yt, h.pt}, Logger: quietLogger()})
	require.NoError(t, err)

	failures, err := orch.Authenticate(context.Background(), nil)
	require.ErrorIs(t, err, ErrNoPlatforms)
	require.Len(t, failures, 2)

	_, err = orch.Run(context.Background(), []*storage.VideoMetadata{candidate("btc101_1.1_en.mp4", "h1")})
	require.ErrorIs(t, err, ErrNoPlatforms)
	require.Zero(t, h.yt.count("upload"))
	require.Zero(t, h.pt.count("upload"))

	h.pt.authErr = nil
	failures, err = orch.Authenticate(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, []storage.Platform{storage.PlatformPeerTube}, orch.Active())
	require.Contains(t, failures, storage.PlatformYouTube)
}

func TestAuthenticateRequestedOnly(t *testing.T) {
	h := newHarness(t)
	orch, err := New(Config{Store: h.store, Uploaders: []platform.Uploader{h.pt}, Logger: quietLogger()})
	require.NoError(t, err)

	failures, err := orch.Authenticate(context.Background(), []storage.Platform{storage.PlatformYouTube, storage.PlatformPeerTube})
	require.NoError(t, err)
	require.ErrorIs(t, failures[storage.PlatformYouTube], ErrNotConfigured)
	require.Equal(t, []storage.Platform{storage.PlatformPeerTube}, orch.Active())
}

func TestNewVideoUploadsEverywhere(t *testing.T) {
	h := newHarness(t)
	report := h.run(candidate("btc101_1.1_en.mp4", "h1"), candidate("btc101_1.2_en.mp4", "h2"))

	for _, v := range report.Videos {
		require.Equal(t, NewContent, v.Classification)
		require.False(t, v.Failed(), "video %s failed", v.Filename)
		require.True(t, v.Saved)
		require.Equal(t, DocumentUpdated, v.Document)
	}

	recs := h.persisted()
	require.Len(t, recs, 2)
	require.Equal(t, "youtube-1", recs["btc101_1.1_en.mp4"].YouTubeID)
	require.Equal(t, "peertube-1", recs["btc101_1.1_en.mp4"].PeerTubeID)
	require.Equal(t, "youtube-2", recs["btc101_1.2_en.mp4"].YouTubeID)
	require.Equal(t, "BTC101 - Course", recs["btc101_1.1_en.mp4"].Description, "stored description must not carry the footer")

	// One playlist per platform, found or created once, holding both videos.
	require.Equal(t, 1, h.yt.count("create BTC101 - Course"))
	require.Equal(t, 1, h.yt.count("find BTC101 - Course"))
	require.Equal(t, []string{"youtube-1", "youtube-2"}, h.yt.members["pl-1"])
	require.Equal(t, []string{"peertube-1", "peertube-2"}, h.pt.members["pl-1"])
	require.Equal(t, []string{"btc101_1.1_en.mp4", "btc101_1.2_en.mp4"}, h.writer.updated)

	summary := report.Summary()
	require.Equal(t, 2, summary[storage.PlatformYouTube].Uploaded)
	require.Equal(t, 2, summary[storage.PlatformPeerTube].Uploaded)
}

func TestUploadDescriptionCarriesFooter(t *testing.T) {
	h := newHarness(t)
	var got string
	h.yt.onUpload = func(req *platform.UploadRequest) { got = req.Description }
	h.run(candidate("btc101_1.1_en.mp4", "h1"))

	require.True(t, strings.HasPrefix(got, "BTC101 - Course"))
	require.Greater(t, len(got), len("BTC101 - Course"))
}

func TestRerunIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.run(candidate("btc101_1.1_en.mp4", "h1"))
	before, err := os.ReadFile(h.path)
	require.NoError(t, err)

	h.reopen()
	h.yt.calls, h.pt.calls, h.writer.updated = nil, nil, nil
	report := h.run(candidate("btc101_1.1_en.mp4", "h1"))

	v := report.Videos[0]
	require.Equal(t, FullDuplicate, v.Classification)
	require.False(t, v.Saved)
	require.Equal(t, DocumentNotRun, v.Document)
	require.Equal(t, []string{"auth"}, h.yt.Calls())
	require.Equal(t, []string{"auth"}, h.pt.Calls())
	require.Empty(t, h.writer.updated)

	after, err := os.ReadFile(h.path)
	require.NoError(t, err)
	require.Equal(t, string(before), string(after))
	require.True(t, v.Outcome(storage.PlatformYouTube).Existing)
}

func TestReplacementDeletesOldVideos(t *testing.T) {
	old := candidate("btc101_1.1_en.mp4", "old-hash")
	old.YouTubeID, old.PeerTubeID = "yt-old", "pt-old"
	h := newHarness(t, old)

	report := h.run(candidate("btc101_1.1_en.mp4", "new-hash"))
	v := report.Videos[0]
	require.Equal(t, Replacement, v.Classification)
	require.Len(t, v.Deletions, 2)
	require.Equal(t, 1, h.yt.count("delete yt-old"))
	require.Equal(t, 1, h.pt.count("delete pt-old"))

	rec := h.persisted()["btc101_1.1_en.mp4"]
	require.Equal(t, "new-hash", rec.Hash)
	require.Equal(t, "youtube-1", rec.YouTubeID)
	require.Equal(t, "peertube-1", rec.PeerTubeID)
	require.Equal(t, old.VideoID, rec.VideoID)
}

func TestReplacementUnderOtherFilename(t *testing.T) {
	old := candidate("btc101_1.1_en.mov", "old-hash")
	old.YouTubeID = "yt-old"
	old.VideoID = "0d9a6c1e-2b7f-4c3d-8e5a-6f1b2c3d4e5f"
	h := newHarness(t, old)

	next := candidate("btc101_1.1_en.mp4", "new-hash")
	next.VideoID = ""
	report := h.run(next)
	require.Equal(t, Replacement, report.Videos[0].Classification)

	recs := h.persisted()
	require.Len(t, recs, 1, "the slot must end with one record")
	rec := recs["btc101_1.1_en.mp4"]
	require.Equal(t, old.VideoID, rec.VideoID, "video id carries over from the replaced record")
	require.Equal(t, "youtube-1", rec.YouTubeID)
}

func TestReplacementDeletionFailureDoesNotBlockUpload(t *testing.T) {
	old := candidate("btc101_1.1_en.mp4", "old-hash")
	old.YouTubeID = "yt-old"
	h := newHarness(t, old)
	h.yt.deleteErr = errors.New("forbidden")

	report := h.run(candidate("btc101_1.1_en.mp4", "new-hash"))
	v := report.Videos[0]
	require.Error(t, v.Deletions[0].Err)
	require.True(t, v.Outcome(storage.PlatformYouTube).Succeeded())
	require.Equal(t, "youtube-1", h.persisted()["btc101_1.1_en.mp4"].YouTubeID)
}

func TestReplacementLeavesInactivePlatformAlone(t *testing.T) {
	old := candidate("btc101_1.1_en.mp4", "old-hash")
	old.YouTubeID, old.PeerTubeID = "yt-old", "pt-old"
	h := newHarness(t, old)
	h.start(storage.PlatformPeerTube)

	report := h.run(candidate("btc101_1.1_en.mp4", "new-hash"))
	v := report.Videos[0]
	require.Zero(t, h.yt.count("delete"))
	require.Equal(t, 1, h.pt.count("delete pt-old"))

	var orphan *Deletion
	for i := range v.Deletions {
		if v.Deletions[i].Platform == storage.PlatformYouTube {
			orphan = &v.Deletions[i]
		}
	}
	require.NotNil(t, orphan)
	require.True(t, orphan.Orphaned)
	require.Equal(t, "peertube-1", h.persisted()["btc101_1.1_en.mp4"].PeerTubeID)
}

func TestRerunAfterFailedDeletionRetriesOnlyTheDeletion(t *testing.T) {
	old := candidate("btc101_1.1_en.mov", "old-hash")
	old.YouTubeID = "yt-old"
	h := newHarness(t, old)
	h.yt.deleteErr = errors.New("forbidden")

	next := candidate("btc101_1.1_en.mp4", "new-hash")
	first := h.run(next)
	require.Equal(t, Replacement, first.Videos[0].Classification)
	recs := h.persisted()
	require.Equal(t, "youtube-1", recs["btc101_1.1_en.mp4"].YouTubeID)
	require.Equal(t, "yt-old", recs["btc101_1.1_en.mov"].YouTubeID, "record kept while its video exists")

	h.reopen()
	second := h.run(candidate("btc101_1.1_en.mp4", "new-hash"))
	v := second.Videos[0]
	require.Equal(t, FullDuplicate, v.Classification)
	require.Equal(t, 1, h.yt.count("upload"), "current content must not be uploaded again")
	require.Equal(t, 1, h.pt.count("upload"))
	require.Equal(t, 2, h.yt.count("delete yt-old"))
	require.Equal(t, "youtube-1", h.persisted()["btc101_1.1_en.mp4"].YouTubeID)

	h.yt.deleteErr = nil
	h.reopen()
	h.run(candidate("btc101_1.1_en.mp4", "new-hash"))
	require.Equal(t, 1, h.yt.count("upload"))
	recs = h.persisted()
	require.Len(t, recs, 1, "cleared leftover record is removed")
	require.Equal(t, "youtube-1", recs["btc101_1.1_en.mp4"].YouTubeID)
	require.Equal(t, "peertube-1", recs["btc101_1.1_en.mp4"].PeerTubeID)
}

func TestRerunAfterReplacementWithInactivePlatform(t *testing.T) {
	old := candidate("btc101_1.1_en.mov", "old-hash")
	old.YouTubeID, old.PeerTubeID = "yt-old", "pt-old"
	h := newHarness(t, old)
	h.start(storage.PlatformYouTube)

	h.run(candidate("btc101_1.1_en.mp4", "new-hash"))
	require.Equal(t, 1, h.yt.count("delete yt-old"))
	require.Equal(t, "pt-old", h.persisted()["btc101_1.1_en.mov"].PeerTubeID)

	h.reopen()
	h.start(storage.PlatformYouTube)
	before, err := os.ReadFile(h.path)
	require.NoError(t, err)
	second := h.run(candidate("btc101_1.1_en.mp4", "new-hash"))
	require.Equal(t, FullDuplicate, second.Videos[0].Classification)
	require.Equal(t, 1, h.yt.count("upload"))
	after, err := os.ReadFile(h.path)
	require.NoError(t, err)
	require.Equal(t, string(before), string(after))

	h.reopen()
	third := h.run(candidate("btc101_1.1_en.mp4", "new-hash"))
	require.Equal(t, PartialDuplicate, third.Videos[0].Classification)
	require.Equal(t, 1, h.pt.count("delete pt-old"))
	require.Equal(t, 1, h.pt.count("upload"))
	require.Equal(t, 1, h.yt.count("upload"))
	recs := h.persisted()
	require.Len(t, recs, 1)
	require.Equal(t, "peertube-1", recs["btc101_1.1_en.mp4"].PeerTubeID)
}

func TestPartialDuplicateUploadsMissingPlatformOnly(t *testing.T) {
	known := candidate("btc101_1.1_en.mp4", "h1")
	known.YouTubeID = "yt-known"
	h := newHarness(t, known)

	report := h.run(candidate("btc102_1.1_en.mp4", "h1"))
	v := report.Videos[0]
	require.Equal(t, PartialDuplicate, v.Classification)
	require.Zero(t, h.yt.count("upload"))
	require.Equal(t, 1, h.pt.count("upload"))
	require.True(t, v.Outcome(storage.PlatformYouTube).Existing)

	recs := h.persisted()
	for _, name := range []string{"btc101_1.1_en.mp4", "btc102_1.1_en.mp4"} {
		require.Equal(t, "yt-known", recs[name].YouTubeID, name)
		require.Equal(t, "peertube-1", recs[name].PeerTubeID, name)
	}
	require.ElementsMatch(t, []string{"btc102_1.1_en.mp4", "btc101_1.1_en.mp4"}, h.writer.updated)
}

func TestFullDuplicateCopiesIDs(t *testing.T) {
	known := candidate("btc101_1.1_en.mp4", "h1")
	known.YouTubeID, known.PeerTubeID = "yt-known", "pt-known"
	h := newHarness(t, known)

	report := h.run(candidate("btc102_1.1_en.mp4", "h1"))
	require.Equal(t, FullDuplicate, report.Videos[0].Classification)
	require.Zero(t, h.yt.count("upload"))
	require.Zero(t, h.pt.count("upload"))

	rec := h.persisted()["btc102_1.1_en.mp4"]
	require.Equal(t, "yt-known", rec.YouTubeID)
	require.Equal(t, "pt-known", rec.PeerTubeID)
}

func TestLegacyRecordWithoutHash(t *testing.T) {
	legacy := candidate("btc101_1.1_en.mp4", "")
	legacy.YouTubeID, legacy.PeerTubeID = "yt-1", "pt-1"
	legacy.SetExtra("thumbnail", json.RawMessage("true"))
	h := newHarness(t, legacy)

	report := h.run(candidate("btc101_1.1_en.mp4", "h1"))
	v := report.Videos[0]
	require.Equal(t, FullDuplicate, v.Classification)
	require.True(t, v.Saved)
	require.Zero(t, h.yt.count("upload"))

	rec := h.persisted()["btc101_1.1_en.mp4"]
	require.Equal(t, "h1", rec.Hash, "hash is backfilled")
	extra, ok := rec.Extra("thumbnail")
	require.True(t, ok)
	require.Equal(t, "true", string(extra))
}

func TestUploadFailureIsIsolated(t *testing.T) {
	h := newHarness(t)
	h.yt.uploadErr = errors.New("quota")

	report := h.run(candidate("btc101_1.1_en.mp4", "h1"), candidate("btc101_1.2_en.mp4", "h2"))
	for _, v := range report.Videos {
		require.Error(t, v.Outcome(storage.PlatformYouTube).Err)
		require.True(t, v.Outcome(storage.PlatformPeerTube).Succeeded())
	}
	require.Equal(t, 2, h.yt.count("upload"))

	recs := h.persisted()
	require.Empty(t, recs["btc101_1.1_en.mp4"].YouTubeID)
	require.Equal(t, "peertube-1", recs["btc101_1.1_en.mp4"].PeerTubeID)

	h.yt.uploadErr = nil
	h.reopen()
	report = h.run(candidate("btc101_1.1_en.mp4", "h1"))
	require.Equal(t, PartialDuplicate, report.Videos[0].Classification)
	require.Equal(t, 1, h.pt.count("upload btc101_1.1"), "peertube must not be uploaded twice")
}

func TestUnreadableFile(t *testing.T) {
	h := newHarness(t)
	report := h.run(candidate("btc101_1.1_en.mp4", ""))
	require.ErrorIs(t, report.Videos[0].Err, ErrUnreadable)
	require.Zero(t, h.yt.count("upload"))
	require.NoFileExists(t, h.path)
}

func TestCancelStopsBetweenVideos(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	h.yt.onUpload = func(*platform.UploadRequest) { cancel() }
	h.start()

	report, err := h.orch.Run(ctx, []*storage.VideoMetadata{
		candidate("btc101_1.1_en.mp4", "h1"),
		candidate("btc101_1.2_en.mp4", "h2"),
	})
	require.ErrorIs(t, err, context.Canceled)
	require.True(t, report.Canceled)
	require.Len(t, report.Videos, 1)

	// The first video finished on both platforms and is on disk.
	rec := h.persisted()["btc101_1.1_en.mp4"]
	require.Equal(t, "youtube-1", rec.YouTubeID)
	require.Equal(t, "peertube-1", rec.PeerTubeID)
	require.NotContains(t, h.persisted(), "btc101_1.2_en.mp4")
}

func TestDeciderSkip(t *testing.T) {
	h := newHarness(t)
	var seen []Classification
	h.decider = DeciderFunc(func(ctx context.Context, p *Proposal) (Decision, error) {
		seen = append(seen, p.Classification)
		require.Equal(t, []storage.Platform{storage.PlatformYouTube, storage.PlatformPeerTube}, p.Targets)
		return Skip, nil
	})

	report := h.run(candidate("btc101_1.1_en.mp4", "h1"))
	require.True(t, report.Videos[0].Skipped)
	require.Equal(t, []Classification{NewContent}, seen)
	require.Zero(t, h.yt.count("upload"))
	require.NoFileExists(t, h.path)
}

func TestThumbnailSharedAndRemoved(t *testing.T) {
	h := newHarness(t)
	frames := &fakeFrames{dir: t.TempDir()}
	h.frames = frames

	h.run(candidate("btc101_1.1_en.mp4", "h1"))
	require.Equal(t, 1, h.yt.count("upload btc101_1.1_en.mp4 thumb=true"))
	require.Equal(t, 1, h.pt.count("upload btc101_1.1_en.mp4 thumb=true"))
	require.Len(t, frames.removed, 1)
	require.NoFileExists(t, frames.removed[0])
}

func TestThumbnailFailureDegrades(t *testing.T) {
	h := newHarness(t)
	h.frames = &fakeFrames{err: errors.New("ffmpeg missing")}

	report := h.run(candidate("btc101_1.1_en.mp4", "h1"))
	require.False(t, report.Videos[0].Failed())
	require.Equal(t, 1, h.yt.count("upload btc101_1.1_en.mp4 thumb=false"))
}

func TestDocumentFailureReported(t *testing.T) {
	h := newHarness(t)
	h.writer.err = errors.New("course.yml missing")

	report := h.run(candidate("btc101_1.1_en.mp4", "h1"))
	v := report.Videos[0]
	require.Equal(t, DocumentFailed, v.Document)
	require.Error(t, v.DocumentErr)
	require.True(t, v.Saved, "the store is saved even when the document is not")
}

package youtube

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"coursesync/internal/retry"
	"coursesync/platform"
)

type recorder struct {
	mu    sync.Mutex
	calls []string
	body  map[string]string
}

func (r *recorder) record(req *http.Request) string {
	data, _ := io.ReadAll(req.Body)
	key := req.Method + " " + req.URL.Path
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, key)
	if r.body == nil {
		r.body = make(map[string]string)
	}
	r.body[key] = string(data)
	return key
}

func (r *recorder) count(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c == key {
			n++
		}
	}
	return n
}

func apiError(w http.ResponseWriter, code int, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"error":{"code":%d,"message":"%s","errors":[{"reason":"%s","message":"%s"}]}}`, code, reason, reason, reason)
}

func testRetry() retry.Config {
	return retry.Config{MaxRetries: 3, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond, Multiplier: 2}
}

func newTestUploader(t *testing.T, h http.HandlerFunc) *Uploader {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	svc, err := youtube.NewService(context.Background(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	cfg := DefaultConfig()
	cfg.Retry = testRetry()
	u, err := NewWithService(cfg, svc)
	if err != nil {
		t.Fatalf("NewWithService() error = %v", err)
	}
	return u
}

func tempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestNewValidation(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("New() without client secrets should fail")
	}
	if _, err := New(Config{ClientSecretsFile: "secrets.json", Privacy: "friends"}); err == nil {
		t.Error("New() with unknown privacy should fail")
	}
	u, err := New(Config{ClientSecretsFile: "secrets.json"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if u.cfg.Privacy != "unlisted" || u.cfg.Category != CategoryEducation {
		t.Errorf("defaults = %q/%q, want unlisted/27", u.cfg.Privacy, u.cfg.Category)
	}
}

func TestNotAuthenticated(t *testing.T) {
	u, err := New(Config{ClientSecretsFile: "secrets.json"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	err = u.DeleteVideo(context.Background(), "abc")
	if !errors.Is(err, platform.ErrNotAuthenticated) {
		t.Fatalf("DeleteVideo() error = %v, want ErrNotAuthenticated", err)
	}
	var perr *platform.Error
	if !errors.As(err, &perr) || perr.Op != "delete" {
		t.Errorf("error = %#v, want *platform.Error for delete", err)
	}
}

func TestUploadVideo(t *testing.T) {
	rec := &recorder{}
	u := newTestUploader(t, func(w http.ResponseWriter, r *http.Request) {
		switch rec.record(r) {
		case "POST /upload/youtube/v3/videos":
			w.Header().Set("Content-Type", "application/json")
			io.WriteString(w, `{"id":"yt-42"}`)
		case "POST /upload/youtube/v3/thumbnails/set":
			if r.URL.Query().Get("videoId") != "yt-42" {
				t.Errorf("thumbnail videoId = %q", r.URL.Query().Get("videoId"))
			}
			io.WriteString(w, `{}`)
		default:
			http.NotFound(w, r)
		}
	})

	video := tempFile(t, "btc101_1.1_en.mp4", "not really a video")
	thumb := tempFile(t, "thumb.jpg", "\xff\xd8jpeg")
	res, err := u.UploadVideo(context.Background(), &platform.UploadRequest{
		Path:          video,
		Title:         "Intro",
		Description:   "BTC 101 - Course",
		Language:      "en",
		ThumbnailPath: thumb,
	})
	if err != nil {
		t.Fatalf("UploadVideo() error = %v", err)
	}
	if res.VideoID != "yt-42" || res.URL != "https://www.youtube.com/watch?v=yt-42" {
		t.Errorf("UploadVideo() = %+v", res)
	}

	body := rec.body["POST /upload/youtube/v3/videos"]
	for _, want := range []string{
		`"title":"Intro"`,
		`"categoryId":"27"`,
		`"privacyStatus":"unlisted"`,
		`"selfDeclaredMadeForKids":false`,
		`"defaultLanguage":"en"`,
		"not really a video",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("upload body missing %s", want)
		}
	}
	if rec.count("POST /upload/youtube/v3/thumbnails/set") != 1 {
		t.Errorf("calls = %v, want one thumbnail set", rec.calls)
	}
	if got := u.Quota().Remaining(); got != DefaultDailyQuota-CostVideoInsert-CostWrite {
		t.Errorf("Remaining() = %d", got)
	}
}

func TestUploadVideoMissingFile(t *testing.T) {
	u := newTestUploader(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request %s", r.URL.Path)
	})
	_, err := u.UploadVideo(context.Background(), &platform.UploadRequest{Path: filepath.Join(t.TempDir(), "missing.mp4")})
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("UploadVideo() error = %v, want ErrNotExist", err)
	}
}

func TestDeleteRetriesServerErrors(t *testing.T) {
	rec := &recorder{}
	u := newTestUploader(t, func(w http.ResponseWriter, r *http.Request) {
		key := rec.record(r)
		if rec.count(key) == 1 {
			apiError(w, http.StatusServiceUnavailable, "backendError")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	if err := u.DeleteVideo(context.Background(), "old"); err != nil {
		t.Fatalf("DeleteVideo() error = %v", err)
	}
	if got := rec.count("DELETE /youtube/v3/videos"); got != 2 {
		t.Errorf("delete calls = %d, want 2", got)
	}
}

func TestDeleteNotFoundIsFinal(t *testing.T) {
	rec := &recorder{}
	u := newTestUploader(t, func(w http.ResponseWriter, r *http.Request) {
		rec.record(r)
		apiError(w, http.StatusNotFound, "videoNotFound")
	})
	err := u.DeleteVideo(context.Background(), "gone")
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) || apiErr.Code != http.StatusNotFound {
		t.Fatalf("DeleteVideo() error = %v, want 404", err)
	}
	if len(rec.calls) != 1 {
		t.Errorf("calls = %v, want exactly one", rec.calls)
	}
}

func TestQuotaExceededStopsCalls(t *testing.T) {
	rec := &recorder{}
	u := newTestUploader(t, func(w http.ResponseWriter, r *http.Request) {
		rec.record(r)
		apiError(w, http.StatusForbidden, "quotaExceeded")
	})
	if err := u.DeleteVideo(context.Background(), "a"); err == nil {
		t.Fatal("DeleteVideo() should fail")
	}
	if len(rec.calls) != 1 {
		t.Fatalf("calls = %v, quotaExceeded must not be retried", rec.calls)
	}
	if !u.Quota().Exhausted() {
		t.Error("quota should be marked exhausted")
	}
	err := u.DeleteVideo(context.Background(), "b")
	if !errors.Is(err, ErrQuotaExhausted) {
		t.Fatalf("second DeleteVideo() error = %v, want ErrQuotaExhausted", err)
	}
	if len(rec.calls) != 1 {
		t.Errorf("calls = %v, exhausted quota must not reach the API", rec.calls)
	}
}

func TestFindPlaylistPages(t *testing.T) {
	rec := &recorder{}
	u := newTestUploader(t, func(w http.ResponseWriter, r *http.Request) {
		rec.record(r)
		if r.URL.Query().Get("mine") != "true" {
			t.Errorf("mine = %q, want true", r.URL.Query().Get("mine"))
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("pageToken") {
		case "":
			io.WriteString(w, `{"items":[{"id":"PL1","snippet":{"title":"Other"}}],"nextPageToken":"p2"}`)
		case "p2":
			io.WriteString(w, `{"items":[{"id":"PL2","snippet":{"title":"BTC 101 - Course"}}]}`)
		}
	})

	id, err := u.FindPlaylist(context.Background(), "BTC 101 - Course")
	if err != nil {
		t.Fatalf("FindPlaylist() error = %v", err)
	}
	if id != "PL2" {
		t.Errorf("FindPlaylist() = %q, want PL2", id)
	}

	id, err = u.FindPlaylist(context.Background(), "Missing")
	if err != nil {
		t.Fatalf("FindPlaylist() error = %v", err)
	}
	if id != "" {
		t.Errorf("FindPlaylist() = %q, want empty", id)
	}
	if got := rec.count("GET /youtube/v3/playlists"); got != 4 {
		t.Errorf("list calls = %d, want 4", got)
	}
}

func TestCreatePlaylistAndAdd(t *testing.T) {
	rec := &recorder{}
	u := newTestUploader(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch rec.record(r) {
		case "POST /youtube/v3/playlists":
			io.WriteString(w, `{"id":"PLnew"}`)
		case "POST /youtube/v3/playlistItems":
			io.WriteString(w, `{"id":"item"}`)
		default:
			http.NotFound(w, r)
		}
	})

	id, err := u.CreatePlaylist(context.Background(), "T", "D")
	if err != nil {
		t.Fatalf("CreatePlaylist() error = %v", err)
	}
	if id != "PLnew" {
		t.Errorf("CreatePlaylist() = %q", id)
	}
	var pl youtube.Playlist
	if err := json.Unmarshal([]byte(rec.body["POST /youtube/v3/playlists"]), &pl); err != nil {
		t.Fatalf("playlist body: %v", err)
	}
	if pl.Snippet.Title != "T" || pl.Snippet.Description != "D" || pl.Status.PrivacyStatus != "unlisted" {
		t.Errorf("playlist = %+v / %+v", pl.Snippet, pl.Status)
	}

	if err := u.AddToPlaylist(context.Background(), "PLnew", "yt-1"); err != nil {
		t.Fatalf("AddToPlaylist() error = %v", err)
	}
	var item youtube.PlaylistItem
	if err := json.Unmarshal([]byte(rec.body["POST /youtube/v3/playlistItems"]), &item); err != nil {
		t.Fatalf("item body: %v", err)
	}
	if item.Snippet.PlaylistId != "PLnew" || item.Snippet.ResourceId.VideoId != "yt-1" || item.Snippet.ResourceId.Kind != "youtube#video" {
		t.Errorf("item = %+v", item.Snippet)
	}
}

func TestIsRetryableAPIError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"server error", &googleapi.Error{Code: 500}, true},
		{"rate limit", &googleapi.Error{Code: 403, Errors: []googleapi.ErrorItem{{Reason: "rateLimitExceeded"}}}, true},
		{"user rate limit", &googleapi.Error{Code: 403, Errors: []googleapi.ErrorItem{{Reason: "userRateLimitExceeded"}}}, true},
		{"too many requests", &googleapi.Error{Code: 429}, true},
		{"quota", &googleapi.Error{Code: 403, Errors: []googleapi.ErrorItem{{Reason: "quotaExceeded"}}}, false},
		{"forbidden", &googleapi.Error{Code: 403, Errors: []googleapi.ErrorItem{{Reason: "forbidden"}}}, false},
		{"bad request", &googleapi.Error{Code: 400}, false},
		{"transport", errors.New("connection reset"), true},
		{"canceled", context.Canceled, false},
		{"permanent", retry.Permanent(errors.New("open failed")), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRetryableAPIError(tt.err); got != tt.want {
				t.Errorf("isRetryableAPIError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestQuota(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	q := NewQuota(100, nil)
	q.now = func() time.Time { return now }
	q.resetAt = now.Add(24 * time.Hour)

	if err := q.Reserve(60); err != nil {
		t.Fatalf("Reserve(60) error = %v", err)
	}
	if err := q.Reserve(50); !errors.Is(err, ErrQuotaExhausted) {
		t.Fatalf("Reserve(50) error = %v, want ErrQuotaExhausted", err)
	}
	if q.Remaining() != 40 {
		t.Errorf("Remaining() = %d, want 40 (failed reserve deducts nothing)", q.Remaining())
	}
	if err := q.Reserve(1); !errors.Is(err, ErrQuotaExhausted) {
		t.Errorf("Reserve(1) after exhaustion error = %v", err)
	}

	now = now.Add(25 * time.Hour)
	if q.Exhausted() || q.Remaining() != 100 {
		t.Errorf("after reset: exhausted=%v remaining=%d", q.Exhausted(), q.Remaining())
	}
}

const testSecrets = `{"installed":{"client_id":"cid","client_secret":"cs","auth_uri":"https://accounts.example/auth","token_uri":"https://accounts.example/token","redirect_uris":["http://localhost"]}}`

func TestAuthenticateWithoutPrompt(t *testing.T) {
	dir := t.TempDir()
	secrets := filepath.Join(dir, "secrets.json")
	if err := os.WriteFile(secrets, []byte(testSecrets), 0o600); err != nil {
		t.Fatal(err)
	}
	u, err := New(Config{ClientSecretsFile: secrets, TokenFile: filepath.Join(dir, "token.json")})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	err = u.Authenticate(context.Background())
	if !errors.Is(err, ErrConsentRequired) {
		t.Fatalf("Authenticate() error = %v, want ErrConsentRequired", err)
	}
}

func TestAuthenticateCachedToken(t *testing.T) {
	dir := t.TempDir()
	secrets := filepath.Join(dir, "secrets.json")
	tokenFile := filepath.Join(dir, "token.json")
	if err := os.WriteFile(secrets, []byte(testSecrets), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := saveToken(tokenFile, &oauth2.Token{AccessToken: "at", RefreshToken: "rt", TokenType: "Bearer", Expiry: time.Now().Add(time.Hour)}); err != nil {
		t.Fatalf("saveToken() error = %v", err)
	}

	u, err := New(Config{ClientSecretsFile: secrets, TokenFile: tokenFile})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := u.Authenticate(context.Background()); err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if _, err := u.service(); err != nil {
		t.Errorf("service() error = %v after Authenticate", err)
	}
}

type sequenceSource struct {
	tokens []string
	i      int
}

func (s *sequenceSource) Token() (*oauth2.Token, error) {
	tok := &oauth2.Token{AccessToken: s.tokens[s.i]}
	if s.i < len(s.tokens)-1 {
		s.i++
	}
	return tok, nil
}

func TestCachingTokenSourceSavesRefreshes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	saves := 0
	src := &cachingTokenSource{
		path:   path,
		src:    &sequenceSource{tokens: []string{"first", "second", "second"}},
		last:   "first",
		onSave: func(err error) { saves++ },
	}
	for range 3 {
		if _, err := src.Token(); err != nil {
			t.Fatalf("Token() error = %v", err)
		}
	}
	if saves != 1 {
		t.Errorf("saves = %d, want 1", saves)
	}
	tok, err := loadToken(path)
	if err != nil {
		t.Fatalf("loadToken() error = %v", err)
	}
	if tok.AccessToken != "second" {
		t.Errorf("cached token = %q, want second", tok.AccessToken)
	}
}

package platform

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"coursesync/storage"
)

type playlistFake struct {
	existing  map[string]string
	findErr   error
	createErr error
	finds     int
	creates   []string
}

func (f *playlistFake) Name() storage.Platform { return storage.PlatformPeerTube }
func (f *playlistFake) Authenticate(context.Context) error { return nil }
func (f *playlistFake) DeleteVideo(context.Context, string) error { return nil }
func (f *playlistFake) AddToPlaylist(context.Context, string, string) error {
	return nil
}

func (f *playlistFake) UploadVideo(context.Context, *UploadRequest) (*UploadResult, error) {
	return nil, errors.New("not used")
}

func (f *playlistFake) FindPlaylist(_ context.Context, title string) (string, error) {
	f.finds++
	if f.findErr != nil {
		return "", f.findErr
	}
	return f.existing[title], nil
}

func (f *playlistFake) CreatePlaylist(_ context.Context, title, _ string) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	f.creates = append(f.creates, title)
	id := "pl-" + title
	if f.existing == nil {
		f.existing = make(map[string]string)
	}
	f.existing[title] = id
	return id, nil
}

func TestEnsurePlaylist_ReusesExisting(t *testing.T) {
	f := &playlistFake{existing: map[string]string{"BTC 101 - Basics": "pl-7"}}

	id, created, err := EnsurePlaylist(context.Background(), f, "BTC 101 - Basics", "BTC 101 - Basics")
	if err != nil {
		t.Fatalf("EnsurePlaylist() error = %v", err)
	}
	if id != "pl-7" || created {
		t.Errorf("EnsurePlaylist() = %q, %v; want pl-7, false", id, created)
	}
	if len(f.creates) != 0 {
		t.Errorf("created %v, want no new playlist", f.creates)
	}
}

func TestEnsurePlaylist_CreatesOnce(t *testing.T) {
	f := &playlistFake{}
	ctx := context.Background()

	first, created, err := EnsurePlaylist(ctx, f, "T", "D")
	if err != nil || !created {
		t.Fatalf("EnsurePlaylist() = %q, %v, %v; want created", first, created, err)
	}
	second, created, err := EnsurePlaylist(ctx, f, "T", "D")
	if err != nil {
		t.Fatalf("EnsurePlaylist() second error = %v", err)
	}
	if created || second != first {
		t.Errorf("second EnsurePlaylist() = %q, %v; want %q reused", second, created, first)
	}
	if len(f.creates) != 1 {
		t.Errorf("creates = %d, want 1", len(f.creates))
	}
}

func TestEnsurePlaylist_Errors(t *testing.T) {
	findErr := errors.New("list failed")
	if _, _, err := EnsurePlaylist(context.Background(), &playlistFake{findErr: findErr}, "T", "D"); !errors.Is(err, findErr) {
		t.Errorf("EnsurePlaylist() error = %v, want lookup error", err)
	}
	createErr := errors.New("create failed")
	if _, _, err := EnsurePlaylist(context.Background(), &playlistFake{createErr: createErr}, "T", "D"); !errors.Is(err, createErr) {
		t.Errorf("EnsurePlaylist() error = %v, want create error", err)
	}
}

func TestPlaylistCache(t *testing.T) {
	f := &playlistFake{}
	cache := NewPlaylistCache()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, _, err := cache.Ensure(ctx, f, "T", "D"); err != nil {
			t.Fatalf("Ensure() error = %v", err)
		}
	}
	if f.finds != 1 {
		t.Errorf("FindPlaylist called %d times, want 1", f.finds)
	}
}

func TestError(t *testing.T) {
	cause := errors.New("quota exceeded")
	err := &Error{Platform: storage.PlatformYouTube, Op: "upload", Err: cause}
	if !errors.Is(err, cause) {
		t.Error("Error should unwrap to its cause")
	}
	if got := err.Error(); got != "youtube upload: quota exceeded" {
		t.Errorf("Error() = %q", got)
	}
}

func TestTrack(t *testing.T) {
	var out bytes.Buffer
	bar := NewProgressBar(&out, 5, "upload")
	data, err := io.ReadAll(Track(strings.NewReader("hello"), bar))
	if err != nil || string(data) != "hello" {
		t.Fatalf("ReadAll(Track()) = %q, %v", data, err)
	}
	FinishProgress(bar)

	if NewProgressBar(nil, 5, "x") != nil {
		t.Error("NewProgressBar(nil) should return nil")
	}
	if r := Track(strings.NewReader("x"), nil); r == nil {
		t.Error("Track() with nil bar should return the reader")
	}
}

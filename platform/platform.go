// Package platform defines the contract video hosting platforms implement
// and the helpers the upload orchestrator builds on it.
//
// Implementations live in subpackages (youtube, peertube). Every method is
// best effort: failures come back as errors, usually *Error, and never
// panic across the boundary.
package platform

import (
	"context"
	"errors"
	"fmt"

	"coursesync/storage"
)

// ErrNotAuthenticated is returned by calls made before Authenticate succeeded.
var ErrNotAuthenticated = errors.New("platform: not authenticated")

// Error carries the platform and operation of a failed call.
type Error struct {
	Platform storage.Platform
	Op       string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Platform, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// UploadRequest describes one video upload.
type UploadRequest struct {
	Path        string
	Title       string
	Description string
	// Language is the ISO 639-1 code of the spoken language.
	Language string
	// ThumbnailPath is an optional JPEG set as the video's thumbnail.
	ThumbnailPath string
}

// UploadResult identifies an uploaded video.
type UploadResult struct {
	// VideoID is the platform's identifier, stored on the record.
	VideoID string
	URL     string
}

// Uploader is a video hosting platform.
type Uploader interface {
	Name() storage.Platform
	// Authenticate establishes credentials for the rest of the run.
	Authenticate(ctx context.Context) error
	UploadVideo(ctx context.Context, req *UploadRequest) (*UploadResult, error)
	DeleteVideo(ctx context.Context, videoID string) error
	// FindPlaylist returns the ID of the caller's playlist titled title, or
	// "" when there is none.
	FindPlaylist(ctx context.Context, title string) (string, error)
	// CreatePlaylist creates a playlist with the platform's configured privacy.
	CreatePlaylist(ctx context.Context, title, description string) (string, error)
	AddToPlaylist(ctx context.Context, playlistID, videoID string) error
}

// ThumbnailSetter is implemented by uploaders that can replace the
// thumbnail of an existing video.
type ThumbnailSetter interface {
	SetThumbnail(ctx context.Context, videoID, imagePath string) error
}

// EnsurePlaylist returns the playlist titled title, creating it when absent.
// created reports whether a new playlist was made.
func EnsurePlaylist(ctx context.Context, u Uploader, title, description string) (id string, created bool, err error) {
	id, err = u.FindPlaylist(ctx, title)
	if err != nil {
		return "", false, err
	}
	if id != "" {
		return id, false, nil
	}
	id, err = u.CreatePlaylist(ctx, title, description)
	if err != nil {
		return "", false, err
	}
	if id == "" {
		return "", false, &Error{Platform: u.Name(), Op: "create playlist", Err: errors.New("empty playlist id")}
	}
	return id, true, nil
}

// PlaylistCache remembers playlist IDs by title for the length of a run so
// each title is looked up at most once per platform.
type PlaylistCache struct {
	ids map[storage.Platform]map[string]string
}

func NewPlaylistCache() *PlaylistCache {
	return &PlaylistCache{ids: make(map[storage.Platform]map[string]string)}
}

// Ensure is EnsurePlaylist with caching of successful lookups.
func (c *PlaylistCache) Ensure(ctx context.Context, u Uploader, title, description string) (string, bool, error) {
	byTitle := c.ids[u.Name()]
	if id, ok := byTitle[title]; ok {
		return id, false, nil
	}
	id, created, err := EnsurePlaylist(ctx, u, title, description)
	if err != nil {
		return "", false, err
	}
	if byTitle == nil {
		byTitle = make(map[string]string)
		c.ids[u.Name()] = byTitle
	}
	byTitle[title] = id
	return id, created, nil
}

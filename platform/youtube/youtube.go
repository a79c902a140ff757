// Package youtube uploads course videos through the YouTube Data API v3.
//
// Authentication uses the OAuth2 installed-app flow. The first run prints a
// consent URL; the resulting token is cached in a JSON file and refreshed
// on later runs without user interaction.
package youtube

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"coursesync/internal/retry"
	"coursesync/platform"
	"coursesync/storage"
)

// CategoryEducation is YouTube's "Education" category.
const CategoryEducation = "27"

// DefaultChunkSize is the resumable upload chunk size.
const DefaultChunkSize = 8 * googleapi.MinUploadChunkSize

// Config configures an Uploader.
type Config struct {
	// ClientSecretsFile is the OAuth client JSON downloaded from the Google
	// Cloud console.
	ClientSecretsFile string
	// TokenFile caches the user's token between runs.
	TokenFile string
	// Privacy is public, unlisted or private. It applies to videos and
	// playlists alike.
	Privacy    string
	Category   string
	DailyQuota int
	ChunkSize  int
	Retry      retry.Config
	// Progress receives an upload progress bar when non-nil.
	Progress io.Writer
	// Prompt receives the consent URL. Nil disables the interactive flow.
	Prompt io.Writer
	Logger *slog.Logger
}

// DefaultConfig returns unlisted Education uploads.
func DefaultConfig() Config {
	return Config{
		TokenFile:  "youtube_token.json",
		Privacy:    "unlisted",
		Category:   CategoryEducation,
		DailyQuota: DefaultDailyQuota,
		ChunkSize:  DefaultChunkSize,
		Retry:      retry.DefaultConfig(),
	}
}

// Uploader implements platform.Uploader and platform.ThumbnailSetter.
type Uploader struct {
	cfg    Config
	logger *slog.Logger
	quota  *Quota

	mu  sync.Mutex
	svc *youtube.Service
}

var (
	_ platform.Uploader        = (*Uploader)(nil)
	_ platform.ThumbnailSetter = (*Uploader)(nil)
)

// New validates cfg and returns an unauthenticated uploader.
func New(cfg Config) (*Uploader, error) {
	if cfg.ClientSecretsFile == "" {
		return nil, errors.New("youtube: client secrets file required")
	}
	if cfg.TokenFile == "" {
		cfg.TokenFile = "youtube_token.json"
	}
	return newUploader(cfg)
}

// NewWithService returns an uploader that talks to an already configured
// service and skips OAuth.
func NewWithService(cfg Config, svc *youtube.Service) (*Uploader, error) {
	if svc == nil {
		return nil, errors.New("youtube: nil service")
	}
	u, err := newUploader(cfg)
	if err != nil {
		return nil, err
	}
	u.svc = svc
	return u, nil
}

func newUploader(cfg Config) (*Uploader, error) {
	switch cfg.Privacy {
	case "":
		cfg.Privacy = "unlisted"
	case "public", "unlisted", "private":
	default:
		return nil, fmt.Errorf("youtube: unknown privacy %q", cfg.Privacy)
	}
	if cfg.Category == "" {
		cfg.Category = CategoryEducation
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.DailyQuota <= 0 {
		cfg.DailyQuota = DefaultDailyQuota
	}
	if cfg.Retry.MaxRetries == 0 && cfg.Retry.InitialBackoff == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg.Retry.OnRetry = func(attempt int, err error, wait time.Duration) {
		logger.Warn("youtube request failed, retrying", "attempt", attempt, "wait", wait, "error", err)
	}
	return &Uploader{
		cfg:    cfg,
		logger: logger,
		quota:  NewQuota(cfg.DailyQuota, logger),
	}, nil
}

func (u *Uploader) Name() storage.Platform { return storage.PlatformYouTube }

// Quota returns the uploader's quota estimate.
func (u *Uploader) Quota() *Quota { return u.quota }

// Authenticate loads or obtains an OAuth token and builds the API service.
func (u *Uploader) Authenticate(ctx context.Context) error {
	u.mu.Lock()
	ready := u.svc != nil
	u.mu.Unlock()
	if ready {
		return nil
	}

	conf, err := loadOAuthConfig(u.cfg.ClientSecretsFile)
	if err != nil {
		return u.fail("authenticate", err)
	}
	// The token source outlives this call; keep it off the caller's cancellation.
	base := context.WithoutCancel(ctx)
	src, err := u.tokenSource(base, conf)
	if err != nil {
		return u.fail("authenticate", err)
	}
	svc, err := youtube.NewService(base, option.WithHTTPClient(oauth2.NewClient(base, src)))
	if err != nil {
		return u.fail("authenticate", fmt.Errorf("create youtube service: %w", err))
	}

	u.mu.Lock()
	u.svc = svc
	u.mu.Unlock()
	u.logger.Info("youtube authenticated")
	return nil
}

func (u *Uploader) service() (*youtube.Service, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.svc == nil {
		return nil, platform.ErrNotAuthenticated
	}
	return u.svc, nil
}

// call runs fn under the retry policy after reserving cost quota units.
func (u *Uploader) call(ctx context.Context, cost int, fn func(ctx context.Context, svc *youtube.Service) error) error {
	svc, err := u.service()
	if err != nil {
		return err
	}
	if err := u.quota.Reserve(cost); err != nil {
		return err
	}
	err = retry.Do(ctx, u.cfg.Retry, isRetryableAPIError, func(ctx context.Context) error {
		return fn(ctx, svc)
	})
	if isQuotaExceeded(err) {
		u.quota.MarkExhausted()
	}
	return err
}

// UploadVideo uploads the file with snippet and status in one request.
func (u *Uploader) UploadVideo(ctx context.Context, req *platform.UploadRequest) (*platform.UploadResult, error) {
	info, err := os.Stat(req.Path)
	if err != nil {
		return nil, u.fail("upload", fmt.Errorf("video file: %w", err))
	}

	video := &youtube.Video{
		Snippet: &youtube.VideoSnippet{
			Title:                req.Title,
			Description:          req.Description,
			CategoryId:           u.cfg.Category,
			DefaultLanguage:      req.Language,
			DefaultAudioLanguage: req.Language,
		},
		Status: &youtube.VideoStatus{
			PrivacyStatus:           u.cfg.Privacy,
			SelfDeclaredMadeForKids: false,
			ForceSendFields:         []string{"SelfDeclaredMadeForKids"},
		},
	}

	uploadRetry := u.cfg.Retry
	if uploadRetry.MaxRetries > 2 {
		uploadRetry.MaxRetries = 2
	}
	bar := platform.NewProgressBar(u.cfg.Progress, info.Size(), "youtube "+filepath.Base(req.Path))

	u.logger.Info("youtube upload started", "file", filepath.Base(req.Path), "size", info.Size())
	svc, err := u.service()
	if err != nil {
		return nil, u.fail("upload", err)
	}
	if err := u.quota.Reserve(CostVideoInsert); err != nil {
		return nil, u.fail("upload", err)
	}

	var uploaded *youtube.Video
	err = retry.Do(ctx, uploadRetry, isRetryableAPIError, func(ctx context.Context) error {
		f, err := os.Open(req.Path)
		if err != nil {
			return retry.Permanent(err)
		}
		defer f.Close()
		if bar != nil {
			bar.Reset()
		}
		uploaded, err = svc.Videos.Insert([]string{"snippet", "status"}, video).
			Media(f, googleapi.ChunkSize(u.cfg.ChunkSize)).
			ProgressUpdater(func(current, _ int64) {
				if bar != nil {
					_ = bar.Set64(current)
				}
			}).
			Context(ctx).
			Do()
		return err
	})
	platform.FinishProgress(bar)
	if isQuotaExceeded(err) {
		u.quota.MarkExhausted()
	}
	if err != nil {
		return nil, u.fail("upload", err)
	}
	if uploaded == nil || uploaded.Id == "" {
		return nil, u.fail("upload", errors.New("response without video id"))
	}

	if req.ThumbnailPath != "" {
		if err := u.SetThumbnail(ctx, uploaded.Id, req.ThumbnailPath); err != nil {
			u.logger.Warn("youtube thumbnail not set", "video", uploaded.Id, "error", err)
		}
	}
	return &platform.UploadResult{VideoID: uploaded.Id, URL: WatchURL(uploaded.Id)}, nil
}

// WatchURL returns the public URL of a video.
func WatchURL(videoID string) string {
	return "https://www.youtube.com/watch?v=" + videoID
}

func (u *Uploader) DeleteVideo(ctx context.Context, videoID string) error {
	err := u.call(ctx, CostWrite, func(ctx context.Context, svc *youtube.Service) error {
		return svc.Videos.Delete(videoID).Context(ctx).Do()
	})
	if err != nil {
		return u.fail("delete", err)
	}
	return nil
}

// FindPlaylist pages through the authenticated user's playlists.
func (u *Uploader) FindPlaylist(ctx context.Context, title string) (string, error) {
	pageToken := ""
	for {
		var page *youtube.PlaylistListResponse
		err := u.call(ctx, CostList, func(ctx context.Context, svc *youtube.Service) error {
			call := svc.Playlists.List([]string{"snippet"}).Mine(true).MaxResults(50).Context(ctx)
			if pageToken != "" {
				call = call.PageToken(pageToken)
			}
			var err error
			page, err = call.Do()
			return err
		})
		if err != nil {
			return "", u.fail("find playlist", err)
		}
		for _, p := range page.Items {
			if p.Snippet != nil && p.Snippet.Title == title {
				return p.Id, nil
			}
		}
		if page.NextPageToken == "" {
			return "", nil
		}
		pageToken = page.NextPageToken
	}
}

func (u *Uploader) CreatePlaylist(ctx context.Context, title, description string) (string, error) {
	playlist := &youtube.Playlist{
		Snippet: &youtube.PlaylistSnippet{Title: title, Description: description},
		Status:  &youtube.PlaylistStatus{PrivacyStatus: u.cfg.Privacy},
	}
	var created *youtube.Playlist
	err := u.call(ctx, CostWrite, func(ctx context.Context, svc *youtube.Service) error {
		var err error
		created, err = svc.Playlists.Insert([]string{"snippet", "status"}, playlist).Context(ctx).Do()
		return err
	})
	if err != nil {
		return "", u.fail("create playlist", err)
	}
	u.logger.Info("youtube playlist created", "title", title, "id", created.Id)
	return created.Id, nil
}

func (u *Uploader) AddToPlaylist(ctx context.Context, playlistID, videoID string) error {
	item := &youtube.PlaylistItem{
		Snippet: &youtube.PlaylistItemSnippet{
			PlaylistId: playlistID,
			ResourceId: &youtube.ResourceId{Kind: "youtube#video", VideoId: videoID},
		},
	}
	err := u.call(ctx, CostWrite, func(ctx context.Context, svc *youtube.Service) error {
		_, err := svc.PlaylistItems.Insert([]string{"snippet"}, item).Context(ctx).Do()
		return err
	})
	if err != nil {
		return u.fail("add to playlist", err)
	}
	return nil
}

// SetThumbnail uploads a custom thumbnail. The channel must be verified for
// custom thumbnails; otherwise YouTube answers 403.
func (u *Uploader) SetThumbnail(ctx context.Context, videoID, imagePath string) error {
	if _, err := os.Stat(imagePath); err != nil {
		return u.fail("set thumbnail", err)
	}
	err := u.call(ctx, CostWrite, func(ctx context.Context, svc *youtube.Service) error {
		f, err := os.Open(imagePath)
		if err != nil {
			return retry.Permanent(err)
		}
		defer f.Close()
		_, err = svc.Thumbnails.Set(videoID).Media(f, googleapi.ContentType("image/jpeg")).Context(ctx).Do()
		return err
	})
	if err != nil {
		return u.fail("set thumbnail", err)
	}
	return nil
}

func (u *Uploader) fail(op string, err error) error {
	return &platform.Error{Platform: storage.PlatformYouTube, Op: op, Err: err}
}

// isRetryableAPIError retries server errors and per-second rate limits.
// Quota exhaustion and other client errors are final.
func isRetryableAPIError(err error) bool {
	if !retry.IsRetryable(err) {
		return false
	}
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		// Transport failure.
		return true
	}
	if apiErr.Code >= http.StatusInternalServerError {
		return true
	}
	for _, e := range apiErr.Errors {
		switch e.Reason {
		case "rateLimitExceeded", "userRateLimitExceeded":
			return true
		}
	}
	return apiErr.Code == http.StatusTooManyRequests && !isQuotaExceeded(err)
}

func isQuotaExceeded(err error) bool {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	for _, e := range apiErr.Errors {
		if e.Reason == "quotaExceeded" || e.Reason == "dailyLimitExceeded" {
			return true
		}
	}
	return false
}

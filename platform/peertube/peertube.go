// Package peertube uploads course videos to a PeerTube instance through its
// REST API.
package peertube

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"

	httpclient "coursesync/http"
	"coursesync/internal/retry"
	"coursesync/platform"
	"coursesync/storage"
)

// Privacy levels of videos and playlists.
const (
	PrivacyPublic   = 1
	PrivacyUnlisted = 2
	PrivacyPrivate  = 3
)

// CategoryScienceTechnology is PeerTube's "Science & Technology" category.
const CategoryScienceTechnology = 15

// Config configures an Uploader.
type Config struct {
	// InstanceURL is the base URL of the instance, e.g. https://video.example.org.
	InstanceURL string
	// UploadURL optionally sends uploads to a different host than the API.
	UploadURL string
	Username  string
	Password  string
	// ChannelID is the upload channel; 0 discovers the user's default channel.
	ChannelID int
	Privacy   int
	Category  int
	// VerifySSL false accepts self-signed certificates.
	VerifySSL bool
	// RPS limits API requests per second to the instance.
	RPS   float64
	Retry retry.Config
	// Progress receives an upload progress bar when non-nil.
	Progress io.Writer
	Logger   *slog.Logger
}

// DefaultConfig returns unlisted uploads in Science & Technology.
func DefaultConfig() Config {
	return Config{
		Privacy:   PrivacyUnlisted,
		Category:  CategoryScienceTechnology,
		VerifySSL: true,
		RPS:       httpclient.DefaultRPS,
		Retry:     retry.DefaultConfig(),
	}
}

// Uploader implements platform.Uploader and platform.ThumbnailSetter.
type Uploader struct {
	cfg    Config
	api    string
	upload string
	client *httpclient.Client
	logger *slog.Logger

	mu        sync.Mutex
	token     string
	channelID int
}

var (
	_ platform.Uploader        = (*Uploader)(nil)
	_ platform.ThumbnailSetter = (*Uploader)(nil)
)

// New validates cfg and returns an unauthenticated uploader.
func New(cfg Config) (*Uploader, error) {
	if cfg.InstanceURL == "" {
		return nil, errors.New("peertube: instance url required")
	}
	if cfg.Username == "" || cfg.Password == "" {
		return nil, errors.New("peertube: username and password required")
	}
	if _, err := url.ParseRequestURI(cfg.InstanceURL); err != nil {
		return nil, fmt.Errorf("peertube: instance url: %w", err)
	}
	if cfg.Privacy == 0 {
		cfg.Privacy = PrivacyUnlisted
	}
	if cfg.Category == 0 {
		cfg.Category = CategoryScienceTechnology
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	api := strings.TrimRight(cfg.InstanceURL, "/")
	upload := api
	if cfg.UploadURL != "" {
		upload = strings.TrimRight(cfg.UploadURL, "/")
	}

	hc := httpclient.DefaultConfig()
	hc.Retry = cfg.Retry
	if hc.Retry.MaxRetries == 0 && hc.Retry.InitialBackoff == 0 {
		hc.Retry = retry.DefaultConfig()
	}
	hc.Retry.OnRetry = func(attempt int, err error, wait time.Duration) {
		logger.Warn("peertube request failed, retrying", "attempt", attempt, "wait", wait, "error", err)
	}
	cfg.Retry = hc.Retry
	hc.RateLimiter.DefaultRPS = cfg.RPS
	hc.Transport.InsecureSkipVerify = !cfg.VerifySSL

	return &Uploader{
		cfg:       cfg,
		api:       api,
		upload:    upload,
		client:    httpclient.New(hc),
		logger:    logger,
		channelID: cfg.ChannelID,
	}, nil
}

func (u *Uploader) Name() storage.Platform { return storage.PlatformPeerTube }

// Close releases idle connections.
func (u *Uploader) Close() error { return u.client.Close() }

type oauthClient struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// Authenticate fetches the instance's local OAuth client and exchanges the
// user's password for an access token.
func (u *Uploader) Authenticate(ctx context.Context) error {
	if err := u.login(ctx); err != nil {
		return u.fail("authenticate", err)
	}
	u.logger.Info("peertube authenticated", "instance", u.api, "user", u.cfg.Username)
	return nil
}

func (u *Uploader) login(ctx context.Context) error {
	var client oauthClient
	if err := u.client.GetJSON(ctx, u.api+"/api/v1/oauth-clients/local", nil, &client); err != nil {
		return fmt.Errorf("client credentials: %w", err)
	}
	if client.ClientID == "" {
		return errors.New("client credentials: empty client id")
	}

	form := url.Values{
		"client_id":     {client.ClientID},
		"client_secret": {client.ClientSecret},
		"grant_type":    {"password"},
		"response_type": {"code"},
		"username":      {u.cfg.Username},
		"password":      {u.cfg.Password},
	}
	resp, err := u.client.PostForm(ctx, u.api+"/api/v1/users/token", nil, form)
	if err != nil {
		return fmt.Errorf("token: %w", err)
	}
	var tok tokenResponse
	if err := resp.JSON(&tok); err != nil {
		return fmt.Errorf("token: %w", err)
	}
	if tok.AccessToken == "" {
		return errors.New("token: empty access token")
	}

	u.mu.Lock()
	u.token = tok.AccessToken
	u.mu.Unlock()
	return nil
}

func (u *Uploader) authHeader() (http.Header, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.token == "" {
		return nil, platform.ErrNotAuthenticated
	}
	return http.Header{"Authorization": {"Bearer " + u.token}}, nil
}

// do sends an authenticated request. An expired token (401) is renewed
// once and the request repeated.
func (u *Uploader) do(ctx context.Context, build func(http.Header) *httpclient.Request) (*httpclient.Response, error) {
	header, err := u.authHeader()
	if err != nil {
		return nil, err
	}
	resp, err := u.client.Do(ctx, build(header))
	if httpclient.StatusCode(err) != http.StatusUnauthorized {
		return resp, err
	}

	u.logger.Info("peertube token rejected, logging in again")
	if err := u.login(ctx); err != nil {
		return nil, err
	}
	header, err = u.authHeader()
	if err != nil {
		return nil, err
	}
	return u.client.Do(ctx, build(header))
}

func (u *Uploader) getJSON(ctx context.Context, urlStr string, v any) error {
	resp, err := u.do(ctx, func(h http.Header) *httpclient.Request {
		return &httpclient.Request{Method: http.MethodGet, URL: urlStr, Header: h}
	})
	if err != nil {
		return err
	}
	return resp.JSON(v)
}

type channel struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// channel returns the upload channel, discovering it on first use: the
// "<user>_channel" channel, else the first channel of the account.
func (u *Uploader) channel(ctx context.Context) (int, error) {
	u.mu.Lock()
	id := u.channelID
	u.mu.Unlock()
	if id != 0 {
		return id, nil
	}

	var ch channel
	err := u.getJSON(ctx, u.api+"/api/v1/video-channels/"+url.PathEscape(u.cfg.Username+"_channel"), &ch)
	if err != nil || ch.ID == 0 {
		var list struct {
			Data []channel `json:"data"`
		}
		if err := u.getJSON(ctx, u.api+"/api/v1/accounts/"+url.PathEscape(u.cfg.Username)+"/video-channels", &list); err != nil {
			return 0, fmt.Errorf("list channels: %w", err)
		}
		if len(list.Data) == 0 {
			return 0, errors.New("no channels found for this account")
		}
		ch = list.Data[0]
	}

	u.mu.Lock()
	u.channelID = ch.ID
	u.mu.Unlock()
	u.logger.Debug("peertube channel selected", "id", ch.ID, "name", ch.Name)
	return ch.ID, nil
}

type uploadResponse struct {
	Video struct {
		ID        int    `json:"id"`
		UUID      string `json:"uuid"`
		ShortUUID string `json:"shortUUID"`
	} `json:"video"`
}

// UploadVideo streams the file as multipart/form-data.
func (u *Uploader) UploadVideo(ctx context.Context, req *platform.UploadRequest) (*platform.UploadResult, error) {
	if _, err := u.authHeader(); err != nil {
		return nil, u.fail("upload", err)
	}
	info, err := os.Stat(req.Path)
	if err != nil {
		return nil, u.fail("upload", fmt.Errorf("video file: %w", err))
	}
	channelID, err := u.channel(ctx)
	if err != nil {
		return nil, u.fail("upload", err)
	}

	fields := []field{
		{"name", req.Title},
		{"description", req.Description},
		{"channelId", strconv.Itoa(channelID)},
		{"privacy", strconv.Itoa(u.cfg.Privacy)},
		{"category", strconv.Itoa(u.cfg.Category)},
		{"nsfw", "false"},
		{"waitTranscoding", "true"},
	}
	if req.Language != "" {
		fields = append(fields, field{"language", req.Language})
	}
	files := []filePart{{Field: "videofile", Path: req.Path, ContentType: "video/mp4"}}
	if req.ThumbnailPath != "" {
		files = append(files,
			filePart{Field: "thumbnailfile", Path: req.ThumbnailPath, ContentType: "image/jpeg"},
			filePart{Field: "previewfile", Path: req.ThumbnailPath, ContentType: "image/jpeg"},
		)
	}

	label := "peertube " + filepath.Base(req.Path)
	body := newMultipart(fields, files, func() *progressbar.ProgressBar {
		return platform.NewProgressBar(u.cfg.Progress, info.Size(), label)
	})
	uploadRetry := u.cfg.Retry
	if uploadRetry.MaxRetries > 2 {
		uploadRetry.MaxRetries = 2
	}

	u.logger.Info("peertube upload started", "file", filepath.Base(req.Path), "endpoint", u.upload)
	resp, err := u.do(ctx, func(h http.Header) *httpclient.Request {
		h.Set("Content-Type", body.ContentType())
		return &httpclient.Request{
			Method:    http.MethodPost,
			URL:       u.upload + "/api/v1/videos/upload",
			Header:    h,
			Body:      body.Open,
			NoTimeout: true,
			Retry:     &uploadRetry,
		}
	})
	platform.FinishProgress(body.Bar())
	if err != nil {
		return nil, u.fail("upload", err)
	}

	var out uploadResponse
	if err := resp.JSON(&out); err != nil {
		return nil, u.fail("upload", err)
	}
	if out.Video.ID == 0 {
		return nil, u.fail("upload", errors.New("response without video id"))
	}
	watch := out.Video.UUID
	if watch == "" {
		watch = out.Video.ShortUUID
	}
	return &platform.UploadResult{
		VideoID: strconv.Itoa(out.Video.ID),
		URL:     u.api + "/w/" + watch,
	}, nil
}

// DeleteVideo removes a video by its numeric ID or UUID.
func (u *Uploader) DeleteVideo(ctx context.Context, videoID string) error {
	_, err := u.do(ctx, func(h http.Header) *httpclient.Request {
		return &httpclient.Request{Method: http.MethodDelete, URL: u.api + "/api/v1/videos/" + url.PathEscape(videoID), Header: h}
	})
	if err != nil {
		return u.fail("delete", err)
	}
	return nil
}

// SetThumbnail replaces the thumbnail and preview image of a video.
func (u *Uploader) SetThumbnail(ctx context.Context, videoID, imagePath string) error {
	if _, err := os.Stat(imagePath); err != nil {
		return u.fail("set thumbnail", err)
	}
	body := newMultipart(nil, []filePart{
		{Field: "thumbnailfile", Path: imagePath, ContentType: "image/jpeg"},
		{Field: "previewfile", Path: imagePath, ContentType: "image/jpeg"},
	}, nil)
	_, err := u.do(ctx, func(h http.Header) *httpclient.Request {
		h.Set("Content-Type", body.ContentType())
		return &httpclient.Request{
			Method: http.MethodPut,
			URL:    u.api + "/api/v1/videos/" + url.PathEscape(videoID),
			Header: h,
			Body:   body.Open,
		}
	})
	if err != nil {
		return u.fail("set thumbnail", err)
	}
	return nil
}

func (u *Uploader) fail(op string, err error) error {
	return &platform.Error{Platform: storage.PlatformPeerTube, Op: op, Err: err}
}

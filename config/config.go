// Package config manages application configuration.
//
// Values are layered: defaults, then a JSON file, then a .env file, then
// the process environment. Every environment variable may be given with
// the COURSESYNC_ prefix or under its bare name (BEC_REPO, PEERTUBE_INSTANCE).
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"coursesync/internal/retry"
)

// EnvPrefix prefixes every environment variable.
const EnvPrefix = "COURSESYNC"

// FileName is the config file looked up when no path is given.
const FileName = "coursesync.json"

// Config holds all application configuration.
type Config struct {
	// BECRepo is the checkout of the course repository.
	BECRepo string `json:"bec_repo" envconfig:"BEC_REPO"`
	// InputDir holds one subfolder per upload batch.
	InputDir     string `json:"input_dir" envconfig:"INPUT_DIR"`
	MetadataFile string `json:"metadata_file" envconfig:"METADATA_FILE"`

	YouTubeClientSecretsFile string `json:"youtube_client_secrets_file" envconfig:"YOUTUBE_CLIENT_SECRETS_FILE"`
	YouTubeTokenFile         string `json:"youtube_token_file" envconfig:"YOUTUBE_TOKEN_FILE"`
	YouTubePrivacy           string `json:"youtube_privacy" envconfig:"YOUTUBE_PRIVACY"`
	YouTubeCategory          string `json:"youtube_category" envconfig:"YOUTUBE_CATEGORY"`
	YouTubeDailyQuota        int    `json:"youtube_daily_quota" envconfig:"YOUTUBE_DAILY_QUOTA"`

	PeerTubeInstance       string  `json:"peertube_instance" envconfig:"PEERTUBE_INSTANCE"`
	PeerTubeUsername       string  `json:"peertube_username" envconfig:"PEERTUBE_USERNAME"`
	PeerTubePassword       string  `json:"peertube_password" envconfig:"PEERTUBE_PASSWORD"`
	PeerTubeUploadEndpoint string  `json:"peertube_upload_endpoint" envconfig:"PEERTUBE_UPLOAD_ENDPOINT"`
	PeerTubeVerifySSL      bool    `json:"peertube_verify_ssl" envconfig:"PEERTUBE_VERIFY_SSL"`
	PeerTubeChannelID      int     `json:"peertube_channel_id" envconfig:"PEERTUBE_CHANNEL_ID"`
	PeerTubePrivacy        int     `json:"peertube_privacy" envconfig:"PEERTUBE_PRIVACY"`
	PeerTubeCategory       int     `json:"peertube_category" envconfig:"PEERTUBE_CATEGORY"`
	PeerTubeRPS            float64 `json:"peertube_rps" envconfig:"PEERTUBE_RPS"`

	Thumbnails    bool     `json:"thumbnails" envconfig:"THUMBNAILS"`
	FFmpegPath    string   `json:"ffmpeg_path" envconfig:"FFMPEG_PATH"`
	FFprobePath   string   `json:"ffprobe_path" envconfig:"FFPROBE_PATH"`
	ThumbnailTime Duration `json:"thumbnail_time" envconfig:"THUMBNAIL_TIME"`

	// YAMLIndent is the indentation of rewritten course.yml files.
	YAMLIndent int `json:"yaml_indent" envconfig:"YAML_INDENT"`

	MaxRetries        int      `json:"max_retries" envconfig:"MAX_RETRIES"`
	InitialBackoff    Duration `json:"initial_backoff" envconfig:"INITIAL_BACKOFF"`
	MaxBackoff        Duration `json:"max_backoff" envconfig:"MAX_BACKOFF"`
	BackoffMultiplier float64  `json:"backoff_multiplier" envconfig:"BACKOFF_MULTIPLIER"`

	LogLevel string `json:"log_level" envconfig:"LOG_LEVEL"`
}

// DefaultConfig returns configuration with safe defaults.
func DefaultConfig() *Config {
	return &Config{
		InputDir:          "./inputs",
		MetadataFile:      "metadata.json",
		YouTubeTokenFile:  "youtube_token.json",
		YouTubePrivacy:    "unlisted",
		YouTubeCategory:   "27",
		YouTubeDailyQuota: 10000,
		PeerTubeVerifySSL: true,
		PeerTubePrivacy:   2,
		PeerTubeCategory:  15,
		PeerTubeRPS:       2,
		Thumbnails:        true,
		FFmpegPath:        "ffmpeg",
		FFprobePath:       "ffprobe",
		ThumbnailTime:     Duration(4 * time.Second),
		YAMLIndent:        2,
		MaxRetries:        5,
		InitialBackoff:    Duration(1 * time.Second),
		MaxBackoff:        Duration(30 * time.Second),
		BackoffMultiplier: 2.0,
		LogLevel:          "info",
	}
}

// Load builds the configuration. path names a JSON file that must exist;
// empty searches FileName in the working directory and then under
// ~/.config/coursesync.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if err := cfg.loadFromFile(path); err != nil {
		// Config file is optional unless named.
		if path != "" || !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	paths := []string{path}
	if path == "" {
		paths = []string{FileName}
		if home, err := os.UserHomeDir(); err == nil {
			paths = append(paths, filepath.Join(home, ".config", "coursesync", FileName))
		}
	}

	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) && path == "" {
				continue
			}
			return err
		}
		if err := json.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parse %s: %w", p, err)
		}
		return nil
	}
	return os.ErrNotExist
}

// loadDotEnv exports the variables of name without overriding the ones
// already set.
func loadDotEnv(name string) error {
	if err := godotenv.Load(name); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", name, err)
	}
	return nil
}

// Validate checks that configuration values are valid and consistent.
func (c *Config) Validate() error {
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be non-negative")
	}
	if c.InitialBackoff <= 0 {
		return fmt.Errorf("initial_backoff must be positive")
	}
	if c.MaxBackoff <= 0 {
		return fmt.Errorf("max_backoff must be positive")
	}
	if c.MaxBackoff < c.InitialBackoff {
		return fmt.Errorf("max_backoff must be >= initial_backoff")
	}
	if c.BackoffMultiplier <= 1 {
		return fmt.Errorf("backoff_multiplier must be > 1")
	}
	switch c.YouTubePrivacy {
	case "public", "unlisted", "private":
	default:
		return fmt.Errorf("youtube_privacy must be public, unlisted or private, got %q", c.YouTubePrivacy)
	}
	if c.PeerTubePrivacy < 1 || c.PeerTubePrivacy > 3 {
		return fmt.Errorf("peertube_privacy must be 1 (public), 2 (unlisted) or 3 (private)")
	}
	if c.PeerTubeChannelID < 0 {
		return fmt.Errorf("peertube_channel_id must be non-negative")
	}
	if c.ThumbnailTime <= 0 {
		return fmt.Errorf("thumbnail_time must be positive")
	}
	if c.YAMLIndent < 2 || c.YAMLIndent > 9 {
		return fmt.Errorf("yaml_indent must be between 2 and 9")
	}
	if c.MetadataFile == "" {
		return fmt.Errorf("metadata_file must be set")
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// YouTubeConfigured reports whether YouTube credentials are present.
func (c *Config) YouTubeConfigured() bool {
	return c.YouTubeClientSecretsFile != ""
}

// PeerTubeConfigured reports whether PeerTube credentials are present.
func (c *Config) PeerTubeConfigured() bool {
	return c.PeerTubeInstance != "" && c.PeerTubeUsername != "" && c.PeerTubePassword != ""
}

// CoursesDir returns the courses directory of the BEC repository, failing
// when it is not configured or does not exist.
func (c *Config) CoursesDir() (string, error) {
	if c.BECRepo == "" {
		return "", errors.New("bec_repo is not set (BEC_REPO)")
	}
	dir := filepath.Join(c.BECRepo, "courses")
	info, err := os.Stat(dir)
	if err != nil {
		return "", fmt.Errorf("courses directory: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("courses directory: %s is not a directory", dir)
	}
	return dir, nil
}

// Retry returns the retry policy for platform calls.
func (c *Config) Retry() retry.Config {
	r := retry.DefaultConfig()
	r.MaxRetries = c.MaxRetries
	r.InitialBackoff = time.Duration(c.InitialBackoff)
	r.MaxBackoff = time.Duration(c.MaxBackoff)
	r.Multiplier = c.BackoffMultiplier
	return r
}

// ParseLogLevel maps debug, info, warn and error to slog levels. Empty
// means info.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("log_level must be debug, info, warn or error, got %q", s)
}

// Duration is a time.Duration read as "4s" or "1m30s" from JSON and the
// environment. Plain JSON numbers are seconds.
type Duration time.Duration

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return d.Decode(s)
	}
	var secs float64
	if err := json.Unmarshal(data, &secs); err != nil {
		return fmt.Errorf("duration must be a string like \"4s\" or a number of seconds")
	}
	*d = Duration(secs * float64(time.Second))
	return nil
}

// Decode implements envconfig.Decoder.
func (d *Duration) Decode(value string) error {
	v, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Package thumbnail extracts a still frame from a video with ffmpeg for use
// as the platform thumbnail.
package thumbnail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gosimple/slug"
)

const (
	DefaultTime    = 4 * time.Second
	DefaultWidth   = 1280
	DefaultHeight  = 720
	DefaultMaxSize = 4 << 20
	defaultTimeout = 30 * time.Second

	// minSize rejects frames too small to be a real image.
	minSize = 100
)

var (
	ErrInvalidImage = errors.New("thumbnail: not a jpeg image")
	ErrTooLarge     = errors.New("thumbnail: image too large")
	ErrTooSmall     = errors.New("thumbnail: image too small")
)

// Config configures a Generator. Zero values take the defaults.
type Config struct {
	FFmpegPath  string
	FFprobePath string
	// Time is where the frame is taken; shorter videos use their midpoint.
	Time    time.Duration
	Width   int
	Height  int
	MaxSize int64
	// TempDir holds generated images; empty means os.TempDir().
	TempDir string
	Timeout time.Duration
	Logger  *slog.Logger
}

// runFunc runs a command and returns its stdout.
type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

// Generator produces thumbnails and tracks the files it created until they
// are removed.
type Generator struct {
	cfg    Config
	logger *slog.Logger
	run    runFunc

	mu    sync.Mutex
	files map[string]bool
}

func New(cfg Config) *Generator {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.FFprobePath == "" {
		cfg.FFprobePath = "ffprobe"
	}
	if cfg.Time <= 0 {
		cfg.Time = DefaultTime
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		cfg.Width, cfg.Height = DefaultWidth, DefaultHeight
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultMaxSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{cfg: cfg, logger: logger, run: runCommand, files: make(map[string]bool)}
}

// Available reports whether the ffmpeg binary can be found.
func (g *Generator) Available() bool {
	_, err := exec.LookPath(g.cfg.FFmpegPath)
	return err == nil
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 300 {
			msg = msg[len(msg)-300:]
		}
		return nil, fmt.Errorf("%s: %w: %s", filepath.Base(name), err, msg)
	}
	return stdout.Bytes(), nil
}

// Duration asks ffprobe for the container duration.
func (g *Generator) Duration(ctx context.Context, videoPath string) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()
	out, err := g.run(ctx, g.cfg.FFprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		videoPath,
	)
	if err != nil {
		return 0, err
	}
	secs, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", strings.TrimSpace(string(out)), err)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// frameTime picks the capture point: target, or half of a shorter
// duration. Unknown durations (0) use target.
func frameTime(target, duration time.Duration) time.Duration {
	if duration <= 0 || duration >= target {
		return target
	}
	return duration / 2
}

func ffmpegArgs(input, output string, at time.Duration, width, height, quality int) []string {
	vf := fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2",
		width, height, width, height)
	return []string{
		"-y",
		"-v", "error",
		"-ss", strconv.FormatFloat(at.Seconds(), 'f', 3, 64),
		"-i", input,
		"-vf", vf,
		"-frames:v", "1",
		"-q:v", strconv.Itoa(quality),
		"-f", "image2",
		output,
	}
}

// Extract writes a JPEG frame of videoPath to a new temp file and returns
// its path. The caller releases it with Remove or Cleanup.
func (g *Generator) Extract(ctx context.Context, videoPath string) (string, error) {
	if _, err := os.Stat(videoPath); err != nil {
		return "", fmt.Errorf("thumbnail: %w", err)
	}

	duration, err := g.Duration(ctx, videoPath)
	if err != nil {
		g.logger.Debug("video duration unknown", "file", filepath.Base(videoPath), "error", err)
	}
	at := frameTime(g.cfg.Time, duration)

	out, err := g.tempFile(videoPath)
	if err != nil {
		return "", err
	}

	attempts := []struct{ width, height, quality int }{
		{g.cfg.Width, g.cfg.Height, 5},
		{(g.cfg.Width * 2 / 3) &^ 1, (g.cfg.Height * 2 / 3) &^ 1, 10},
	}
	for i, a := range attempts {
		err = g.capture(ctx, videoPath, out, at, a.width, a.height, a.quality)
		if err == nil {
			g.logger.Debug("thumbnail extracted", "file", filepath.Base(videoPath), "at", at, "path", out)
			return out, nil
		}
		if !errors.Is(err, ErrTooLarge) || i == len(attempts)-1 {
			break
		}
		g.logger.Debug("thumbnail too large, retrying smaller", "file", filepath.Base(videoPath))
	}
	g.Remove(out)
	return "", err
}

func (g *Generator) capture(ctx context.Context, input, output string, at time.Duration, width, height, quality int) error {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()
	if _, err := g.run(ctx, g.cfg.FFmpegPath, ffmpegArgs(input, output, at, width, height, quality)...); err != nil {
		return err
	}
	return validateJPEG(output, g.cfg.MaxSize)
}

// validateJPEG checks the size bounds and the SOI marker.
func validateJPEG(path string, maxSize int64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	switch {
	case info.Size() < minSize:
		return fmt.Errorf("%w: %d bytes", ErrTooSmall, info.Size())
	case info.Size() > maxSize:
		return fmt.Errorf("%w: %d bytes", ErrTooLarge, info.Size())
	}
	header := make([]byte, 3)
	if _, err := io.ReadFull(f, header); err != nil {
		return err
	}
	if header[0] != 0xFF || header[1] != 0xD8 || header[2] != 0xFF {
		return ErrInvalidImage
	}
	return nil
}

func (g *Generator) tempFile(videoPath string) (string, error) {
	base := strings.TrimSuffix(filepath.Base(videoPath), filepath.Ext(videoPath))
	f, err := os.CreateTemp(g.cfg.TempDir, "thumb-"+slug.Make(base)+"-*.jpg")
	if err != nil {
		return "", fmt.Errorf("thumbnail: %w", err)
	}
	path := f.Name()
	f.Close()

	g.mu.Lock()
	g.files[path] = true
	g.mu.Unlock()
	return path, nil
}

// Remove deletes a file returned by Extract.
func (g *Generator) Remove(path string) {
	g.mu.Lock()
	delete(g.files, path)
	g.mu.Unlock()
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		g.logger.Warn("could not remove thumbnail", "path", path, "error", err)
	}
}

// Cleanup deletes every file still tracked.
func (g *Generator) Cleanup() {
	g.mu.Lock()
	paths := make([]string, 0, len(g.files))
	for p := range g.files {
		paths = append(paths, p)
	}
	g.mu.Unlock()
	for _, p := range paths {
		g.Remove(p)
	}
}

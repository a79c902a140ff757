package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"coursesync/course"
	"coursesync/metadata"
	"coursesync/orchestrator"
	"coursesync/platform"
	"coursesync/platform/peertube"
	"coursesync/platform/youtube"
	"coursesync/storage"
	"coursesync/thumbnail"
)

func cmdFolders(e *env, c *cli.Context) error {
	entries, err := os.ReadDir(e.cfg.InputDir)
	if err != nil {
		return fmt.Errorf("reading input dir: %w", err)
	}

	w := tabwriter.NewWriter(e.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FOLDER\tVIDEOS")
	n := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		files, err := metadata.VideoFiles(filepath.Join(e.cfg.InputDir, entry.Name()))
		if err != nil {
			e.logger.Warn("cannot list folder", "folder", entry.Name(), "error", err)
			continue
		}
		fmt.Fprintf(w, "%s\t%d\n", entry.Name(), len(files))
		n++
	}
	w.Flush()

	if n == 0 {
		fmt.Fprintf(e.out, "No folders in %s.\n", e.cfg.InputDir)
	}
	return nil
}

func cmdExtract(e *env, c *cli.Context) error {
	dir, err := resolveFolder(e.cfg.InputDir, c.Args().First())
	if err != nil {
		return err
	}
	records, err := e.extract(dir)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(e.out, "No videos found.")
		return nil
	}

	printRecords(e.out, records)

	if c.Bool("save") {
		path := filepath.Join(dir, "metadata.json")
		if err := storage.WriteRecords(path, records); err != nil {
			return fmt.Errorf("saving metadata: %w", err)
		}
		fmt.Fprintf(e.out, "\nSaved %d records to %s\n", len(records), path)
	}
	return nil
}

// extract reads every video of dir, printing the files that failed.
func (e *env) extract(dir string) ([]*storage.VideoMetadata, error) {
	coursesDir, err := e.cfg.CoursesDir()
	if err != nil {
		return nil, err
	}
	extractor := metadata.NewExtractor(course.NewReader(coursesDir, e.logger), e.logger)
	records, failures, err := extractor.ProcessFolder(dir)
	if err != nil {
		return nil, err
	}
	for _, f := range failures {
		fmt.Fprintf(e.errOut, "skipped %s: %v\n", f.Filename, f.Err)
	}
	return records, nil
}

func cmdAuth(e *env, c *cli.Context) error {
	uploaders, closeAll, err := e.uploaders()
	if err != nil {
		return err
	}
	defer closeAll()
	if len(uploaders) == 0 {
		return orchestrator.ErrNoPlatforms
	}

	failed := 0
	for _, u := range uploaders {
		if err := u.Authenticate(c.Context); err != nil {
			fmt.Fprintf(e.out, "%-9s FAILED  %v\n", u.Name(), err)
			failed++
			continue
		}
		fmt.Fprintf(e.out, "%-9s ok\n", u.Name())
	}
	if failed == len(uploaders) {
		return orchestrator.ErrNoPlatforms
	}
	return nil
}

func cmdUpload(e *env, c *cli.Context) error {
	dir, err := resolveFolder(e.cfg.InputDir, c.Args().First())
	if err != nil {
		return err
	}
	coursesDir, err := e.cfg.CoursesDir()
	if err != nil {
		return err
	}
	records, err := e.extract(dir)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(e.out, "No videos to upload.")
		return nil
	}

	store, err := storage.Open(e.cfg.MetadataFile, e.logger)
	if err != nil {
		return fmt.Errorf("opening metadata store: %w", err)
	}
	defer store.Close()

	uploaders, closeAll, err := e.uploaders()
	if err != nil {
		return err
	}
	defer closeAll()

	cfg := orchestrator.Config{
		Store:     store,
		Uploaders: uploaders,
		Writer:    course.NewWriter(coursesDir, e.cfg.YAMLIndent, e.logger),
		Logger:    e.logger,
	}
	if e.cfg.Thumbnails && !c.Bool("no-thumbnails") {
		gen := e.thumbnails()
		if gen.Available() {
			cfg.Frames = gen
			defer gen.Cleanup()
		} else {
			e.logger.Warn("ffmpeg not found, uploading without thumbnails")
		}
	}
	if c.Bool("interactive") {
		cfg.Decider = promptDecider(e.in, e.errOut)
	}

	orch, err := orchestrator.New(cfg)
	if err != nil {
		return err
	}

	var requested []storage.Platform
	if c.Bool("youtube") {
		requested = append(requested, storage.PlatformYouTube)
	}
	if c.Bool("peertube") {
		requested = append(requested, storage.PlatformPeerTube)
	}
	authErrs, err := orch.Authenticate(c.Context, requested)
	for p, authErr := range authErrs {
		fmt.Fprintf(e.errOut, "%s unavailable: %v\n", p, authErr)
	}
	if err != nil {
		return err
	}

	start := time.Now()
	report, err := orch.Run(c.Context, records)
	if report != nil {
		printReport(e.out, report, orch.Active())
	}
	if err != nil {
		if report != nil && report.Canceled {
			return fmt.Errorf("interrupted after %d of %d videos", len(report.Videos), len(records))
		}
		return err
	}
	e.logger.Info("upload finished", "videos", len(report.Videos), "elapsed", time.Since(start).Round(time.Second))
	return nil
}

// uploaders builds an uploader for every configured platform. closeAll
// releases them.
func (e *env) uploaders() (uploaders []platform.Uploader, closeAll func(), err error) {
	var closers []func() error
	closeAll = func() {
		for _, f := range closers {
			f()
		}
	}

	if e.cfg.YouTubeConfigured() {
		yt, err := youtube.New(youtube.Config{
			ClientSecretsFile: e.cfg.YouTubeClientSecretsFile,
			TokenFile:         e.cfg.YouTubeTokenFile,
			Privacy:           e.cfg.YouTubePrivacy,
			Category:          e.cfg.YouTubeCategory,
			DailyQuota:        e.cfg.YouTubeDailyQuota,
			Retry:             e.cfg.Retry(),
			Progress:          e.errOut,
			Prompt:            e.errOut,
			Logger:            e.logger,
		})
		if err != nil {
			return nil, func() {}, err
		}
		uploaders = append(uploaders, yt)
	}

	if e.cfg.PeerTubeConfigured() {
		cfg := peertube.DefaultConfig()
		cfg.InstanceURL = e.cfg.PeerTubeInstance
		cfg.UploadURL = e.cfg.PeerTubeUploadEndpoint
		cfg.Username = e.cfg.PeerTubeUsername
		cfg.Password = e.cfg.PeerTubePassword
		cfg.ChannelID = e.cfg.PeerTubeChannelID
		cfg.Privacy = e.cfg.PeerTubePrivacy
		cfg.Category = e.cfg.PeerTubeCategory
		cfg.VerifySSL = e.cfg.PeerTubeVerifySSL
		cfg.RPS = e.cfg.PeerTubeRPS
		cfg.Retry = e.cfg.Retry()
		cfg.Progress = e.errOut
		cfg.Logger = e.logger
		pt, err := peertube.New(cfg)
		if err != nil {
			closeAll()
			return nil, func() {}, err
		}
		closers = append(closers, pt.Close)
		uploaders = append(uploaders, pt)
	}

	return uploaders, closeAll, nil
}

func (e *env) thumbnails() *thumbnail.Generator {
	return thumbnail.New(thumbnail.Config{
		FFmpegPath:  e.cfg.FFmpegPath,
		FFprobePath: e.cfg.FFprobePath,
		Time:        time.Duration(e.cfg.ThumbnailTime),
		Logger:      e.logger,
	})
}

// resolveFolder accepts a folder name under inputDir or a path.
func resolveFolder(inputDir, arg string) (string, error) {
	if arg == "" {
		return "", errors.New("folder argument required")
	}
	candidates := []string{filepath.Join(inputDir, arg), arg}
	if filepath.IsAbs(arg) {
		candidates = []string{arg}
	}
	for _, dir := range candidates {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir, nil
		}
	}
	return "", fmt.Errorf("folder %q not found in %s", arg, inputDir)
}

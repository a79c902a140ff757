package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"slices"

	"github.com/urfave/cli/v2"

	"coursesync/course"
	"coursesync/metadata"
	"coursesync/platform"
	"coursesync/storage"
)

func cmdSyncCourse(e *env, c *cli.Context) error {
	only, err := parsePlatform(c.String("platform"))
	if err != nil {
		return err
	}
	coursesDir, err := e.cfg.CoursesDir()
	if err != nil {
		return err
	}
	store, err := storage.Open(e.cfg.MetadataFile, e.logger)
	if err != nil {
		return fmt.Errorf("opening metadata store: %w", err)
	}
	defer store.Close()

	records := store.List()
	if only != "" {
		records = restrictTo(records, only)
	}

	writer := course.NewWriter(coursesDir, e.cfg.YAMLIndent, e.logger)
	summary := writer.SyncAll(records)

	fmt.Fprintf(e.out, "Updated: %d, unchanged: %d, skipped: %d, failed: %d\n",
		summary.Updated, summary.Unchanged, summary.Skipped, len(summary.Failed))
	for _, f := range summary.Failed {
		fmt.Fprintf(e.out, "  %s: %v\n", f.Filename, f.Err)
	}
	if len(summary.Failed) > 0 {
		return fmt.Errorf("%d course.yml updates failed", len(summary.Failed))
	}
	return nil
}

// restrictTo returns copies of records carrying only p's ID.
func restrictTo(records []*storage.VideoMetadata, p storage.Platform) []*storage.VideoMetadata {
	out := make([]*storage.VideoMetadata, 0, len(records))
	for _, rec := range records {
		rec = rec.Clone()
		for _, other := range storage.Platforms {
			if other != p {
				rec.SetPlatformID(other, "")
			}
		}
		out = append(out, rec)
	}
	return out
}

// thumbnailKey marks a record whose thumbnail was set on a platform.
func thumbnailKey(p storage.Platform) string {
	return "thumbnail_" + string(p)
}

func cmdThumbnails(e *env, c *cli.Context) error {
	only, err := parsePlatform(c.String("platform"))
	if err != nil {
		return err
	}
	dir, err := resolveFolder(e.cfg.InputDir, c.Args().First())
	if err != nil {
		return err
	}
	files, err := metadata.VideoFiles(dir)
	if err != nil {
		return err
	}

	gen := e.thumbnails()
	if !gen.Available() {
		return fmt.Errorf("ffmpeg not found at %q", e.cfg.FFmpegPath)
	}
	defer gen.Cleanup()

	uploaders, closeAll, err := e.uploaders()
	if err != nil {
		return err
	}
	defer closeAll()

	setters := make(map[storage.Platform]platform.ThumbnailSetter)
	for _, u := range uploaders {
		if only != "" && u.Name() != only {
			continue
		}
		setter, ok := u.(platform.ThumbnailSetter)
		if !ok {
			continue
		}
		if err := u.Authenticate(c.Context); err != nil {
			fmt.Fprintf(e.errOut, "%s unavailable: %v\n", u.Name(), err)
			continue
		}
		setters[u.Name()] = setter
	}
	if len(setters) == 0 {
		return errors.New("no platform available for thumbnails")
	}

	store, err := storage.Open(e.cfg.MetadataFile, e.logger)
	if err != nil {
		return fmt.Errorf("opening metadata store: %w", err)
	}
	defer store.Close()

	var set, failed int
	for _, name := range files {
		if err := c.Context.Err(); err != nil {
			return err
		}
		rec, err := store.Get(name)
		if err != nil {
			e.logger.Debug("not in store", "file", name)
			continue
		}

		var image string
		changed := false
		for _, p := range storage.Platforms {
			setter, ok := setters[p]
			id := rec.PlatformID(p)
			if !ok || id == "" {
				continue
			}
			if _, done := rec.Extra(thumbnailKey(p)); done && !c.Bool("force") {
				continue
			}
			if image == "" {
				image, err = gen.Extract(c.Context, filepath.Join(dir, name))
				if err != nil {
					fmt.Fprintf(e.out, "%s: no frame: %v\n", name, err)
					failed++
					break
				}
			}
			if err := setter.SetThumbnail(c.Context, id, image); err != nil {
				fmt.Fprintf(e.out, "%s: %s FAILED  %v\n", name, p, err)
				failed++
				continue
			}
			fmt.Fprintf(e.out, "%s: %s ok\n", name, p)
			rec.SetExtra(thumbnailKey(p), json.RawMessage("true"))
			changed = true
			set++
		}
		if image != "" {
			gen.Remove(image)
		}

		if changed {
			if err := store.Update(rec); err != nil {
				return err
			}
			if err := store.Save(); err != nil {
				return fmt.Errorf("saving metadata: %w", err)
			}
		}
	}

	fmt.Fprintf(e.out, "\nThumbnails set: %d, failed: %d\n", set, failed)
	if failed > 0 {
		return fmt.Errorf("%d thumbnails failed", failed)
	}
	return nil
}

func parsePlatform(s string) (storage.Platform, error) {
	if s == "" {
		return "", nil
	}
	p := storage.Platform(s)
	if !slices.Contains(storage.Platforms, p) {
		return "", fmt.Errorf("unknown platform %q (want youtube or peertube)", s)
	}
	return p, nil
}

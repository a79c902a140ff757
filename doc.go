// Package coursesync uploads course videos to YouTube and PeerTube and keeps
// the course repository in step with what was uploaded.
//
// Overview
//
// Video files are named after the chapter they belong to
// (btc101_2.3_en.mp4: course btc101, part 2, chapter 3, English). For each
// file coursesync:
//
//   - reads the chapter title and video id from the course's Markdown document
//   - hashes the file content
//   - compares the file against the metadata store to tell new content from
//     replacements and duplicates
//   - uploads only where the content is missing, deleting outdated uploads
//     of the same chapter first
//   - saves the record and writes the platform IDs into the course's course.yml
//
// The store is saved after every video, so an interrupted run loses at most
// the video in progress. Running twice on the same files makes no platform
// calls the second time.
//
// Packages
//
//   - metadata: filename parsing, content hash, record extraction
//   - course: course document reader and course.yml writer
//   - storage: the JSON metadata store
//   - orchestrator: classification and the per-video upload workflow
//   - platform, platform/youtube, platform/peertube: uploader contract and
//     implementations
//   - thumbnail: frame extraction through ffmpeg
//   - config: configuration
//
// Example
//
//	store, err := storage.Open("metadata.json", nil)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer store.Close()
//
//	orch, err := orchestrator.New(orchestrator.Config{
//		Store:     store,
//		Uploaders: []platform.Uploader{yt, pt},
//		Writer:    course.NewWriter(coursesDir, 2, nil),
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	if _, err := orch.Authenticate(ctx, nil); err != nil {
//		log.Fatal(err)
//	}
//	report, err := orch.Run(ctx, records)
//
// Configuration
//
// Settings are read from defaults, then coursesync.json (or
// ~/.config/coursesync/coursesync.json), then a .env file, then the
// environment. Variables may carry the COURSESYNC_ prefix or not:
//
//   - BEC_REPO: checkout of the course repository
//   - INPUT_DIR: directory with one folder per upload batch
//   - YOUTUBE_CLIENT_SECRETS_FILE: OAuth client of the YouTube channel
//   - PEERTUBE_INSTANCE, PEERTUBE_USERNAME, PEERTUBE_PASSWORD
//
// Dependencies
//
// Thumbnails need ffmpeg and ffprobe in PATH or configured explicitly.
// Without them videos are uploaded with the platform's default thumbnail.
package coursesync

// Package orchestrator reconciles video files with the metadata store and
// the hosting platforms.
//
// Each candidate is classified against the store, in priority order:
// replacement of a slot's content, new content, a duplicate missing on some
// platform, or a duplicate already everywhere. The orchestrator then
// deletes, uploads and copies IDs as the classification requires, saves the
// store after every video that changed it, and updates the course document.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"

	"coursesync/metadata"
	"coursesync/platform"
	"coursesync/storage"
)

var (
	// ErrNoPlatforms is returned when none of the requested platforms
	// authenticated. No upload is attempted.
	ErrNoPlatforms = errors.New("orchestrator: no platform authenticated")
	// ErrNotConfigured is reported for a requested platform without uploader.
	ErrNotConfigured = errors.New("orchestrator: platform not configured")
	// ErrUnreadable is the video error for a candidate without a hash.
	ErrUnreadable = errors.New("orchestrator: file unreadable")
)

// DocumentWriter records a video's platform IDs in its course document.
type DocumentWriter interface {
	Update(rec *storage.VideoMetadata) (bool, error)
}

// FrameExtractor produces a thumbnail image for a video file.
type FrameExtractor interface {
	Extract(ctx context.Context, videoPath string) (string, error)
	Remove(path string)
}

// Decision is a Decider's verdict on a proposal.
type Decision int

const (
	Proceed Decision = iota
	Skip
)

// Proposal is what the orchestrator is about to do for one candidate.
type Proposal struct {
	Candidate      *storage.VideoMetadata
	Classification Classification
	// Existing holds the slot records being replaced, or the records that
	// already carry the same content.
	Existing []*storage.VideoMetadata
	// Targets are the platforms that would receive an upload.
	Targets []storage.Platform
}

// Decider can veto the automatic classification before anything is done.
type Decider interface {
	Decide(ctx context.Context, p *Proposal) (Decision, error)
}

// DeciderFunc adapts a function to Decider.
type DeciderFunc func(ctx context.Context, p *Proposal) (Decision, error)

func (f DeciderFunc) Decide(ctx context.Context, p *Proposal) (Decision, error) {
	return f(ctx, p)
}

// Config wires an Orchestrator. Store is required.
type Config struct {
	Store     storage.Store
	Uploaders []platform.Uploader
	// Writer, Frames and Decider are optional.
	Writer  DocumentWriter
	Frames  FrameExtractor
	Decider Decider
	Logger  *slog.Logger
}

// Orchestrator classifies candidates against the store and uploads them to
// the authenticated platforms.
type Orchestrator struct {
	store     storage.Store
	uploaders map[storage.Platform]platform.Uploader
	writer    DocumentWriter
	frames    FrameExtractor
	decider   Decider
	logger    *slog.Logger
	playlists *platform.PlaylistCache

	active []platform.Uploader
}

// New returns an orchestrator over cfg.Store. Call Authenticate before Run.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Store == nil {
		return nil, errors.New("orchestrator: store required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	uploaders := make(map[storage.Platform]platform.Uploader, len(cfg.Uploaders))
	for _, u := range cfg.Uploaders {
		if u == nil {
			continue
		}
		if _, dup := uploaders[u.Name()]; dup {
			return nil, fmt.Errorf("orchestrator: two uploaders for %s", u.Name())
		}
		uploaders[u.Name()] = u
	}
	return &Orchestrator{
		store:     cfg.Store,
		uploaders: uploaders,
		writer:    cfg.Writer,
		frames:    cfg.Frames,
		decider:   cfg.Decider,
		logger:    logger,
		playlists: platform.NewPlaylistCache(),
	}, nil
}

// Authenticate signs in to the requested platforms, all configured ones when
// requested is empty. A failing platform is left out of the run and
// reported in the returned map; ErrNoPlatforms is returned when none is left.
func (o *Orchestrator) Authenticate(ctx context.Context, requested []storage.Platform) (map[storage.Platform]error, error) {
	failures := make(map[storage.Platform]error)
	o.active = nil
	for _, p := range storage.Platforms {
		if len(requested) > 0 && !slices.Contains(requested, p) {
			continue
		}
		u, ok := o.uploaders[p]
		if !ok {
			if len(requested) > 0 {
				failures[p] = ErrNotConfigured
			}
			continue
		}
		if err := u.Authenticate(ctx); err != nil {
			o.logger.Warn("authentication failed, platform disabled for this run", "platform", p, "error", err)
			failures[p] = err
			continue
		}
		o.logger.Info("platform ready", "platform", p)
		o.active = append(o.active, u)
	}
	if len(o.active) == 0 {
		return failures, ErrNoPlatforms
	}
	return failures, nil
}

// Active lists the platforms uploads go to, in processing order.
func (o *Orchestrator) Active() []storage.Platform {
	out := make([]storage.Platform, 0, len(o.active))
	for _, u := range o.active {
		out = append(out, u.Name())
	}
	return out
}

func (o *Orchestrator) activeUploader(p storage.Platform) platform.Uploader {
	for _, u := range o.active {
		if u.Name() == p {
			return u
		}
	}
	return nil
}

// Run processes candidates in order. Cancelling ctx stops the run before the
// next video; the video in progress is finished first.
func (o *Orchestrator) Run(ctx context.Context, candidates []*storage.VideoMetadata) (*Report, error) {
	if len(o.active) == 0 {
		return nil, ErrNoPlatforms
	}
	report := &Report{}
	for i, c := range candidates {
		if err := ctx.Err(); err != nil {
			o.logger.Info("run stopped", "processed", i, "remaining", len(candidates)-i)
			report.Canceled = true
			return report, err
		}
		o.logger.Info("processing video", "file", c.Filename, "n", i+1, "of", len(candidates))
		report.Videos = append(report.Videos, o.Process(context.WithoutCancel(ctx), c))
	}
	return report, nil
}

// plan is the classification of a candidate and what it implies.
type plan struct {
	class Classification
	// existing is the stored record under the candidate's filename.
	existing *storage.VideoMetadata
	replaced []*storage.VideoMetadata
	// dups are other records with the candidate's hash.
	dups []*storage.VideoMetadata
	// leftovers are outdated slot records kept by an earlier replacement
	// because they still reference platform videos.
	leftovers []*storage.VideoMetadata
	known     map[storage.Platform]string
	targets   []storage.Platform
}

func (o *Orchestrator) classify(c *storage.VideoMetadata) *plan {
	p := &plan{known: make(map[storage.Platform]string)}
	if rec, err := o.store.Get(c.Filename); err == nil {
		p.existing = rec
	}

	// A hashless record under the same name predates hashing and is taken
	// to be this content.
	current := p.existing != nil && (p.existing.Hash == "" || p.existing.Hash == c.Hash)
	var stale []*storage.VideoMetadata
	for _, rec := range o.store.List() {
		if rec.Filename == c.Filename || !rec.InSlot(c.Course, c.Part, c.Chapter, c.Language) {
			continue
		}
		if rec.Hash != c.Hash {
			stale = append(stale, rec)
		}
	}
	if p.existing != nil && !current {
		p.replaced = append(p.replaced, p.existing)
	}
	if !current && len(p.replaced)+len(stale) > 0 {
		p.replaced = append(p.replaced, stale...)
		p.class = Replacement
		p.targets = o.Active()
		return p
	}
	// The content was uploaded already; outdated records left in the slot
	// only need their deletions retried.
	p.leftovers = stale

	for _, rec := range o.store.FindAllByHash(c.Hash) {
		if rec.Filename != c.Filename {
			p.dups = append(p.dups, rec)
		}
	}
	sources := p.dups
	if p.existing != nil {
		sources = append([]*storage.VideoMetadata{p.existing}, p.dups...)
	}
	for _, pl := range storage.Platforms {
		for _, rec := range sources {
			if id := rec.PlatformID(pl); id != "" {
				p.known[pl] = id
				break
			}
		}
	}

	for _, pl := range o.Active() {
		if p.known[pl] == "" {
			p.targets = append(p.targets, pl)
		}
	}
	switch {
	case len(p.known) == 0:
		p.class = NewContent
	case len(p.targets) > 0:
		p.class = PartialDuplicate
	default:
		p.class = FullDuplicate
	}
	return p
}

func (p *plan) related() []*storage.VideoMetadata {
	if p.class == Replacement {
		return p.replaced
	}
	if p.existing != nil {
		return append([]*storage.VideoMetadata{p.existing}, p.dups...)
	}
	return p.dups
}

// Process handles a single candidate. Platform failures are recorded in the
// result; they never stop the video's other platforms.
func (o *Orchestrator) Process(ctx context.Context, c *storage.VideoMetadata) *VideoResult {
	res := &VideoResult{Filename: c.Filename, Title: c.Title}
	if c.Hash == "" {
		o.logger.Warn("skipping unreadable file", "file", c.Filename)
		res.Err = ErrUnreadable
		return res
	}

	p := o.classify(c)
	res.Classification = p.class
	o.logger.Debug("video classified", "file", c.Filename, "class", p.class, "targets", p.targets)

	if o.decider != nil {
		d, err := o.decider.Decide(ctx, &Proposal{
			Candidate:      c.Clone(),
			Classification: p.class,
			Existing:       p.related(),
			Targets:        slices.Clone(p.targets),
		})
		if err != nil {
			res.Err = err
			return res
		}
		if d == Skip {
			o.logger.Info("video skipped", "file", c.Filename)
			res.Skipped = true
			return res
		}
	}

	rec := c.Clone()
	if p.existing != nil && p.class != Replacement {
		rec.CopyExtra(p.existing)
	}
	if rec.VideoID == "" {
		rec.VideoID = inheritedVideoID(p)
	}
	for pl, id := range p.known {
		rec.SetPlatformID(pl, id)
	}
	for _, pl := range o.Active() {
		if id := p.known[pl]; id != "" {
			out := res.outcome(pl)
			out.Existing = true
			out.VideoID = id
		}
	}

	var touched []*storage.VideoMetadata
	outdated := p.leftovers
	if p.class == Replacement {
		outdated = p.replaced
	}
	if len(outdated) > 0 {
		old, err := o.deleteReplaced(ctx, c, outdated, res)
		if err != nil {
			res.Err = err
			return res
		}
		touched = append(touched, old...)
	}

	if len(p.targets) > 0 {
		thumb := o.thumbnail(ctx, rec)
		if thumb != "" {
			defer o.frames.Remove(thumb)
		}
		for _, pl := range p.targets {
			o.upload(ctx, o.activeUploader(pl), rec, thumb, res.outcome(pl))
		}
	}

	for _, d := range p.dups {
		if propagateIDs(rec, d) {
			if err := o.store.Update(d); err != nil {
				res.Err = err
				return res
			}
			touched = append(touched, d)
		}
	}

	removed := false
	if (p.class == Replacement && uploadedAny(res)) || (len(p.leftovers) > 0 && rec.HasAnyPlatformID()) {
		for _, old := range outdated {
			if old.Filename == rec.Filename {
				continue
			}
			if old.HasAnyPlatformID() {
				o.logger.Warn("keeping replaced record, it still references platform videos", "file", old.Filename)
				continue
			}
			if err := o.store.Remove(old.Filename); err != nil {
				res.Err = err
				return res
			}
			touched = slices.DeleteFunc(touched, func(r *storage.VideoMetadata) bool { return r.Filename == old.Filename })
			o.logger.Info("removed replaced record", "file", old.Filename)
			removed = true
		}
	}

	recChanged := p.existing == nil || !rec.Equal(p.existing)
	if recChanged {
		if err := o.store.Update(rec); err != nil {
			res.Err = err
			return res
		}
	}
	if !recChanged && len(touched) == 0 && !removed {
		o.logger.Debug("nothing to do", "file", c.Filename)
		return res
	}
	if err := o.store.Save(); err != nil {
		res.Err = err
		return res
	}
	res.Saved = true

	if o.writer == nil {
		return res
	}
	if recChanged && rec.HasAnyPlatformID() {
		res.Document, res.DocumentErr = o.writeDocument(rec)
	}
	for _, d := range touched {
		if d.HasAnyPlatformID() {
			if _, err := o.writeDocument(d); err != nil {
				o.logger.Warn("course document not updated", "file", d.Filename, "error", err)
			}
		}
	}
	return res
}

func inheritedVideoID(p *plan) string {
	if p.existing != nil && p.existing.VideoID != "" {
		return p.existing.VideoID
	}
	for _, rec := range p.replaced {
		if rec.VideoID != "" {
			return rec.VideoID
		}
	}
	for _, rec := range p.dups {
		if rec.VideoID != "" {
			return rec.VideoID
		}
	}
	return ""
}

// deleteReplaced removes the platform videos of replaced records and
// persists the cleared IDs before anything is uploaded.
func (o *Orchestrator) deleteReplaced(ctx context.Context, c *storage.VideoMetadata, replaced []*storage.VideoMetadata, res *VideoResult) ([]*storage.VideoMetadata, error) {
	skip := map[string]bool{c.Filename: true}
	for _, old := range replaced {
		skip[old.Filename] = true
	}

	var changed []*storage.VideoMetadata
	for _, old := range replaced {
		cleared := false
		for _, pl := range storage.Platforms {
			id := old.PlatformID(pl)
			if id == "" {
				continue
			}
			if o.idInUse(pl, id, skip) {
				o.logger.Info("old video still used by another record, not deleting", "platform", pl, "id", id)
				old.SetPlatformID(pl, "")
				cleared = true
				continue
			}
			u := o.activeUploader(pl)
			if u == nil {
				o.logger.Warn("platform inactive, old video left in place", "platform", pl, "id", id, "file", old.Filename)
				res.Deletions = append(res.Deletions, Deletion{Platform: pl, VideoID: id, Orphaned: true})
				continue
			}
			err := u.DeleteVideo(ctx, id)
			res.Deletions = append(res.Deletions, Deletion{Platform: pl, VideoID: id, Err: err})
			if err != nil {
				o.logger.Warn("could not delete old video", "platform", pl, "id", id, "error", err)
				continue
			}
			o.logger.Info("deleted old video", "platform", pl, "id", id)
			old.SetPlatformID(pl, "")
			cleared = true
		}
		if !cleared {
			continue
		}
		if err := o.store.Update(old); err != nil {
			return nil, err
		}
		if old.Filename != c.Filename {
			changed = append(changed, old)
		}
		if err := o.store.Save(); err != nil {
			return nil, err
		}
	}
	return changed, nil
}

func (o *Orchestrator) idInUse(pl storage.Platform, id string, skip map[string]bool) bool {
	for _, rec := range o.store.List() {
		if !skip[rec.Filename] && rec.PlatformID(pl) == id {
			return true
		}
	}
	return false
}

func (o *Orchestrator) thumbnail(ctx context.Context, rec *storage.VideoMetadata) string {
	if o.frames == nil {
		return ""
	}
	path, err := o.frames.Extract(ctx, videoPath(rec))
	if err != nil {
		o.logger.Warn("no thumbnail, uploading without", "file", rec.Filename, "error", err)
		return ""
	}
	return path
}

func (o *Orchestrator) upload(ctx context.Context, u platform.Uploader, rec *storage.VideoMetadata, thumb string, out *Outcome) {
	out.Attempted = true
	out.Existing = false
	result, err := u.UploadVideo(ctx, &platform.UploadRequest{
		Path:          videoPath(rec),
		Title:         rec.Title,
		Description:   metadata.UploadDescription(rec.Description),
		Language:      rec.Language,
		ThumbnailPath: thumb,
	})
	if err != nil {
		o.logger.Warn("upload failed", "platform", u.Name(), "file", rec.Filename, "error", err)
		out.Err = err
		return
	}
	out.VideoID, out.URL = result.VideoID, result.URL
	rec.SetPlatformID(u.Name(), result.VideoID)
	o.logger.Info("uploaded", "platform", u.Name(), "file", rec.Filename, "id", result.VideoID, "url", result.URL)

	if rec.Description == "" {
		return
	}
	playlistID, created, err := o.playlists.Ensure(ctx, u, rec.Description, rec.Description)
	if err != nil {
		o.logger.Warn("playlist unavailable", "platform", u.Name(), "playlist", rec.Description, "error", err)
		out.PlaylistErr = err
		return
	}
	if created {
		o.logger.Info("playlist created", "platform", u.Name(), "playlist", rec.Description, "id", playlistID)
	}
	if err := u.AddToPlaylist(ctx, playlistID, result.VideoID); err != nil {
		o.logger.Warn("could not add video to playlist", "platform", u.Name(), "playlist", playlistID, "error", err)
		out.PlaylistErr = err
	}
}

func (o *Orchestrator) writeDocument(rec *storage.VideoMetadata) (DocumentStatus, error) {
	updated, err := o.writer.Update(rec)
	switch {
	case err != nil:
		return DocumentFailed, err
	case updated:
		return DocumentUpdated, nil
	}
	return DocumentUnchanged, nil
}

// propagateIDs fills IDs missing on dst from src.
func propagateIDs(src, dst *storage.VideoMetadata) bool {
	changed := false
	for _, pl := range storage.Platforms {
		if id := src.PlatformID(pl); id != "" && dst.PlatformID(pl) == "" {
			dst.SetPlatformID(pl, id)
			changed = true
		}
	}
	return changed
}

func uploadedAny(res *VideoResult) bool {
	for _, o := range res.Outcomes {
		if o.Attempted && o.Succeeded() {
			return true
		}
	}
	return false
}

func videoPath(rec *storage.VideoMetadata) string {
	if rec.FilePath != "" {
		return rec.FilePath
	}
	return filepath.Clean(rec.Filename)
}

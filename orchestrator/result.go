package orchestrator

import (
	"coursesync/storage"
)

// Classification is how a candidate relates to what the store already knows.
type Classification int

const (
	// NewContent: no record shares the hash.
	NewContent Classification = iota
	// Replacement: the slot holds different content, which is deleted first.
	Replacement
	// PartialDuplicate: the content is known but missing on some platform.
	PartialDuplicate
	// FullDuplicate: the content is on every requested platform.
	FullDuplicate
)

func (c Classification) String() string {
	switch c {
	case NewContent:
		return "new"
	case Replacement:
		return "replacement"
	case PartialDuplicate:
		return "partial duplicate"
	case FullDuplicate:
		return "duplicate"
	}
	return "unknown"
}

// Outcome is what happened to one video on one platform.
type Outcome struct {
	Platform storage.Platform
	// Attempted is set when an upload was sent.
	Attempted bool
	// Existing is set when the ID was already known and no upload was needed.
	Existing bool
	VideoID  string
	URL      string
	Err      error
	// PlaylistErr reports a playlist failure after a successful upload.
	PlaylistErr error
}

// Succeeded reports whether the video is on the platform after the run.
func (o *Outcome) Succeeded() bool {
	return o.Err == nil && o.VideoID != ""
}

// Deletion is one removal of an outdated platform video.
type Deletion struct {
	Platform storage.Platform
	VideoID  string
	// Orphaned is set when the platform was not active this run and the
	// video was left in place.
	Orphaned bool
	Err      error
}

// DocumentStatus reports the course document update for a video.
type DocumentStatus int

const (
	DocumentNotRun DocumentStatus = iota
	DocumentUpdated
	DocumentUnchanged
	DocumentFailed
)

func (s DocumentStatus) String() string {
	switch s {
	case DocumentUpdated:
		return "updated"
	case DocumentUnchanged:
		return "unchanged"
	case DocumentFailed:
		return "failed"
	}
	return "-"
}

// VideoResult is the outcome of one candidate.
type VideoResult struct {
	Filename       string
	Title          string
	Classification Classification
	// Skipped is set when the Decider declined the video.
	Skipped     bool
	Outcomes    []*Outcome
	Deletions   []Deletion
	Saved       bool
	Document    DocumentStatus
	DocumentErr error
	// Err is a failure that stopped the whole video.
	Err error
}

// Outcome returns the outcome for p, or nil when p was not involved.
func (r *VideoResult) Outcome(p storage.Platform) *Outcome {
	for _, o := range r.Outcomes {
		if o.Platform == p {
			return o
		}
	}
	return nil
}

func (r *VideoResult) outcome(p storage.Platform) *Outcome {
	if o := r.Outcome(p); o != nil {
		return o
	}
	o := &Outcome{Platform: p}
	r.Outcomes = append(r.Outcomes, o)
	return o
}

// Failed reports whether anything about the video went wrong.
func (r *VideoResult) Failed() bool {
	if r.Err != nil || r.DocumentErr != nil {
		return true
	}
	for _, o := range r.Outcomes {
		if o.Err != nil {
			return true
		}
	}
	return false
}

// PlatformSummary counts outcomes on one platform.
type PlatformSummary struct {
	Uploaded int
	Existing int
	Failed   int
	Deleted  int
}

// Report is the result of a run.
type Report struct {
	Videos []*VideoResult
	// Canceled is set when the run stopped before the last video.
	Canceled bool
}

// Summary aggregates outcomes per platform.
func (r *Report) Summary() map[storage.Platform]*PlatformSummary {
	out := make(map[storage.Platform]*PlatformSummary)
	get := func(p storage.Platform) *PlatformSummary {
		s, ok := out[p]
		if !ok {
			s = &PlatformSummary{}
			out[p] = s
		}
		return s
	}
	for _, v := range r.Videos {
		for _, o := range v.Outcomes {
			s := get(o.Platform)
			switch {
			case o.Err != nil:
				s.Failed++
			case o.Existing:
				s.Existing++
			case o.Attempted:
				s.Uploaded++
			}
		}
		for _, d := range v.Deletions {
			if d.Err == nil && !d.Orphaned {
				get(d.Platform).Deleted++
			}
		}
	}
	return out
}

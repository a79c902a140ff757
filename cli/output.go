package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"coursesync/orchestrator"
	"coursesync/storage"
)

func printRecords(out io.Writer, records []*storage.VideoMetadata) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FILE\tTITLE\tVIDEO ID\tHASH")
	for _, rec := range records {
		videoID := rec.VideoID
		if videoID == "" {
			videoID = "(none)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			rec.Filename,
			truncate(rec.Title, 50),
			videoID,
			truncate(rec.Hash, 12),
		)
	}
	w.Flush()

	for _, rec := range records {
		fmt.Fprintf(out, "\n%s\n", rec.Filename)
		fmt.Fprintf(out, "  Title:       %s\n", rec.Title)
		fmt.Fprintf(out, "  Description: %s\n", rec.Description)
		fmt.Fprintf(out, "  Course:      %s (%s)\n", rec.CourseTitle, rec.Course)
		fmt.Fprintf(out, "  Chapter:     %d.%d %s\n", rec.Part, rec.Chapter, rec.ChapterTitle)
		fmt.Fprintf(out, "  Language:    %s\n", rec.Language)
	}
}

func printReport(out io.Writer, report *orchestrator.Report, active []storage.Platform) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	header := []string{"FILE", "RESULT"}
	for _, p := range active {
		header = append(header, strings.ToUpper(string(p)))
	}
	header = append(header, "COURSE.YML")
	fmt.Fprintln(w, strings.Join(header, "\t"))

	for _, v := range report.Videos {
		row := []string{truncate(v.Filename, 40), resultCell(v)}
		for _, p := range active {
			row = append(row, outcomeCell(v.Outcome(p)))
		}
		row = append(row, v.Document.String())
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	w.Flush()

	for _, v := range report.Videos {
		printDetails(out, v)
	}

	fmt.Fprintln(out)
	summary := report.Summary()
	for _, p := range active {
		s, ok := summary[p]
		if !ok {
			s = &orchestrator.PlatformSummary{}
		}
		fmt.Fprintf(out, "%s: %d uploaded, %d existing, %d failed, %d deleted\n",
			p, s.Uploaded, s.Existing, s.Failed, s.Deleted)
	}
	if report.Canceled {
		fmt.Fprintln(out, "Run interrupted; remaining videos were not processed.")
	}
}

func printDetails(out io.Writer, v *orchestrator.VideoResult) {
	var lines []string
	if v.Err != nil {
		lines = append(lines, "error: "+v.Err.Error())
	}
	for _, o := range v.Outcomes {
		switch {
		case o.Err != nil:
			lines = append(lines, fmt.Sprintf("%s: %v", o.Platform, o.Err))
		case o.Attempted && o.URL != "":
			lines = append(lines, fmt.Sprintf("%s: %s", o.Platform, o.URL))
		}
		if o.PlaylistErr != nil {
			lines = append(lines, fmt.Sprintf("%s playlist: %v", o.Platform, o.PlaylistErr))
		}
	}
	for _, d := range v.Deletions {
		switch {
		case d.Orphaned:
			lines = append(lines, fmt.Sprintf("%s: old video %s left in place", d.Platform, d.VideoID))
		case d.Err != nil:
			lines = append(lines, fmt.Sprintf("%s: delete %s: %v", d.Platform, d.VideoID, d.Err))
		default:
			lines = append(lines, fmt.Sprintf("%s: deleted old video %s", d.Platform, d.VideoID))
		}
	}
	if v.DocumentErr != nil {
		lines = append(lines, "course.yml: "+v.DocumentErr.Error())
	}
	if len(lines) == 0 {
		return
	}
	fmt.Fprintf(out, "\n%s\n", v.Filename)
	for _, l := range lines {
		fmt.Fprintf(out, "  %s\n", l)
	}
}

func resultCell(v *orchestrator.VideoResult) string {
	switch {
	case v.Skipped:
		return "skipped"
	case v.Err != nil:
		return "FAILED"
	}
	return v.Classification.String()
}

func outcomeCell(o *orchestrator.Outcome) string {
	switch {
	case o == nil:
		return "-"
	case o.Err != nil:
		return "FAILED"
	case o.Existing:
		return "exists"
	case o.Succeeded():
		return "uploaded"
	}
	return "-"
}

// promptDecider asks before replacing content or filling in duplicates.
// New videos proceed without a question; end of input skips.
func promptDecider(in *bufio.Reader, out io.Writer) orchestrator.DeciderFunc {
	return func(ctx context.Context, p *orchestrator.Proposal) (orchestrator.Decision, error) {
		if p.Classification == orchestrator.NewContent {
			return orchestrator.Proceed, nil
		}

		var others []string
		for _, rec := range p.Existing {
			others = append(others, rec.Filename)
		}
		var targets []string
		for _, t := range p.Targets {
			targets = append(targets, string(t))
		}
		action := "no upload needed"
		if len(targets) > 0 {
			action = "upload to " + strings.Join(targets, ", ")
		}
		fmt.Fprintf(out, "%s: %s of %s (%s)\n", p.Candidate.Filename, p.Classification, strings.Join(others, ", "), action)

		for {
			if err := ctx.Err(); err != nil {
				return orchestrator.Skip, err
			}
			fmt.Fprint(out, "Proceed? [Y/n] ")
			line, err := in.ReadString('\n')
			if err != nil && !errors.Is(err, io.EOF) {
				return orchestrator.Skip, err
			}
			answer := strings.ToLower(strings.TrimSpace(line))
			if err != nil && answer == "" {
				return orchestrator.Skip, nil
			}
			switch answer {
			case "", "y", "yes":
				return orchestrator.Proceed, nil
			case "n", "no", "s", "skip":
				return orchestrator.Skip, nil
			}
			if err != nil {
				return orchestrator.Skip, nil
			}
		}
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

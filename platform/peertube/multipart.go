package peertube

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"os"
	"path/filepath"
	"sync"

	"github.com/schollz/progressbar/v3"

	"coursesync/platform"
)

type field struct {
	Name, Value string
}

type filePart struct {
	Field       string
	Path        string
	ContentType string
}

// multipartBody produces identical multipart/form-data bodies on demand.
// Files are streamed from disk through a pipe so memory stays flat
// regardless of video size.
type multipartBody struct {
	boundary string
	fields   []field
	files    []filePart
	// progress returns the bar of one attempt; it may be nil.
	progress func() *progressbar.ProgressBar

	mu  sync.Mutex
	bar *progressbar.ProgressBar
}

func newMultipart(fields []field, files []filePart, progress func() *progressbar.ProgressBar) *multipartBody {
	return &multipartBody{
		boundary: multipart.NewWriter(io.Discard).Boundary(),
		fields:   fields,
		files:    files,
		progress: progress,
	}
}

func (b *multipartBody) ContentType() string {
	return "multipart/form-data; boundary=" + b.boundary
}

// Open starts writing a fresh body and returns its read side. The writer
// goroutine ends when the body is fully read or the reader is closed. Each
// call gets its own progress bar, so a retry starts from zero.
func (b *multipartBody) Open() (io.Reader, error) {
	for _, f := range b.files {
		if _, err := os.Stat(f.Path); err != nil {
			return nil, err
		}
	}
	var bar *progressbar.ProgressBar
	if b.progress != nil {
		bar = b.progress()
	}
	b.mu.Lock()
	b.bar = bar
	b.mu.Unlock()

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(b.write(pw, bar))
	}()
	return pr, nil
}

// Bar returns the progress bar of the latest attempt.
func (b *multipartBody) Bar() *progressbar.ProgressBar {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bar
}

func (b *multipartBody) write(w io.Writer, progress *progressbar.ProgressBar) error {
	mw := multipart.NewWriter(w)
	if err := mw.SetBoundary(b.boundary); err != nil {
		return err
	}
	for _, f := range b.fields {
		if err := mw.WriteField(f.Name, f.Value); err != nil {
			return err
		}
	}
	for i, f := range b.files {
		// Only the first file, the video, drives the progress bar.
		var bar *progressbar.ProgressBar
		if i == 0 {
			bar = progress
		}
		if err := writeFile(mw, f, bar); err != nil {
			return err
		}
	}
	return mw.Close()
}

func writeFile(mw *multipart.Writer, f filePart, bar *progressbar.ProgressBar) error {
	file, err := os.Open(f.Path)
	if err != nil {
		return err
	}
	defer file.Close()

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, f.Field, filepath.Base(f.Path)))
	h.Set("Content-Type", f.ContentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	_, err = io.Copy(part, platform.Track(file, bar))
	return err
}

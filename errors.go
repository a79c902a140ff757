package coursesync

import (
	"coursesync/course"
	httpclient "coursesync/http"
	"coursesync/internal/retry"
	"coursesync/metadata"
	"coursesync/orchestrator"
	"coursesync/platform"
	"coursesync/platform/youtube"
	"coursesync/storage"
	"coursesync/thumbnail"
)

// Error handling types exported for library users.
//
// Sentinel errors are matched with errors.Is:
//
//	if errors.Is(err, coursesync.ErrDocumentNotFound) {
//		fmt.Println("course document missing")
//	}
//
// Typed errors carry context and are extracted with errors.As:
//
//	var fileErr *coursesync.FileError
//	if errors.As(err, &fileErr) {
//		fmt.Printf("%s: %v\n", fileErr.Filename, fileErr.Err)
//	}

// Type aliases for convenient error handling.
type (
	// FileError ties an extraction failure to its video file.
	FileError = metadata.FileError
	// DocumentError wraps course document reads and writes.
	DocumentError = course.DocumentError
	// StorageError wraps metadata store operations.
	StorageError = storage.StorageError
	// PlatformError wraps a failed platform call.
	PlatformError = platform.Error
	// HTTPError is a non-2xx response from a platform API.
	HTTPError = httpclient.HTTPError
	// RateLimitError reports a 429 response.
	RateLimitError = httpclient.RateLimitError
	// RetryableError wraps errors that occurred after retries were exhausted.
	RetryableError = retry.RetryableError
)

// Sentinel errors exported from sub-packages.
var (
	// ErrInvalidFilename indicates a video name outside the course_part.chapter_lang.mp4 form.
	ErrInvalidFilename = metadata.ErrInvalidFilename
	// ErrDocumentNotFound indicates a missing course document or course.yml.
	ErrDocumentNotFound = course.ErrDocumentNotFound

	// Storage errors
	ErrNotFound       = storage.ErrNotFound
	ErrInvalidInput   = storage.ErrInvalidInput
	ErrStorageCorrupt = storage.ErrStorageCorrupt
	ErrLockTimeout    = storage.ErrLockTimeout

	// ErrNotAuthenticated indicates a platform call before Authenticate.
	ErrNotAuthenticated = platform.ErrNotAuthenticated
	// ErrConsentRequired indicates YouTube needs the interactive sign-in.
	ErrConsentRequired = youtube.ErrConsentRequired
	// ErrQuotaExhausted indicates the YouTube daily quota is spent.
	ErrQuotaExhausted = youtube.ErrQuotaExhausted
	// ErrCircuitOpen indicates a platform host is failing and calls are suspended.
	ErrCircuitOpen = httpclient.ErrCircuitOpen

	// ErrNoPlatforms indicates no requested platform could be used.
	ErrNoPlatforms = orchestrator.ErrNoPlatforms
	// ErrUnreadable indicates a video whose content could not be hashed.
	ErrUnreadable = orchestrator.ErrUnreadable

	// ErrInvalidImage indicates ffmpeg produced something other than a JPEG.
	ErrInvalidImage = thumbnail.ErrInvalidImage
)

// IsRetryable determines if an error should be retried.
// It returns false for errors marked permanent.
func IsRetryable(err error) bool {
	return retry.IsRetryable(err)
}

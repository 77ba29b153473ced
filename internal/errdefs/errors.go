package errdefs

import (
	"context"
	"fmt"
)

// FetchError represents a remote resource that could not be retrieved: connection failures,
// timeouts and non-2xx responses from playlist or media servers.
type FetchError struct {
	URL        string // The remote resource that failed
	StatusCode int    // HTTP status code, if applicable (0 for transport errors)
	Err        error  // Underlying error, if any
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
	}

	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
	}

	return fmt.Sprintf("fetch %s failed", e.URL)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// FormatError represents a retrieved body that is not textual playlist content.
type FormatError struct {
	URL    string // Where the document came from
	Reason string // Human-readable explanation of why the content was rejected
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("invalid playlist content from %s: %s", e.URL, e.Reason)
}

// StorageError represents a persistence failure.
type StorageError struct {
	Operation string // The repository operation that failed (e.g. "complete_download")
	Err       error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error during %s: %v", e.Operation, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// FilesystemError represents a failure to create a directory, write a file or remove a
// partial file.
type FilesystemError struct {
	Op   string // "mkdir", "create", "write", "remove"
	Path string
	Err  error
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("filesystem error during %s of '%s': %v", e.Op, e.Path, e.Err)
}

func (e *FilesystemError) Unwrap() error {
	return e.Err
}

// CancelledError reports a transfer that was deliberately aborted. It is not a failure.
type CancelledError struct {
	DownloadID int64
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("download %d cancelled", e.DownloadID)
}

// Unwrap lets errors.Is(err, context.Canceled) match a cancelled transfer.
func (e *CancelledError) Unwrap() error {
	return context.Canceled
}

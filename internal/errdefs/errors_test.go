package errdefs

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

// TestFetchError_Error verifies error message formatting
func TestFetchError_Error(t *testing.T) {
	tests := []struct {
		name       string
		err        *FetchError
		wantFormat string
	}{
		{
			name:       "with HTTP status code",
			err:        &FetchError{URL: "http://x/list.m3u", StatusCode: 503},
			wantFormat: "fetch http://x/list.m3u: unexpected status 503",
		},
		{
			name:       "with transport error",
			err:        &FetchError{URL: "http://x/list.m3u", Err: errors.New("connection refused")},
			wantFormat: "fetch http://x/list.m3u: connection refused",
		},
		{
			name:       "without cause",
			err:        &FetchError{URL: "http://x/list.m3u"},
			wantFormat: "fetch http://x/list.m3u failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantFormat {
				t.Errorf("Error() = %q, want %q", got, tt.wantFormat)
			}
		})
	}
}

// TestFormatError_Error verifies error message formatting
func TestFormatError_Error(t *testing.T) {
	err := &FormatError{URL: "http://x/list.m3u", Reason: "empty document"}

	expected := "invalid playlist content from http://x/list.m3u: empty document"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

// TestFilesystemError_Error verifies error message formatting
func TestFilesystemError_Error(t *testing.T) {
	err := &FilesystemError{Op: "mkdir", Path: "/downloads/tv", Err: errors.New("permission denied")}

	expected := "filesystem error during mkdir of '/downloads/tv': permission denied"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

// TestStorageError_Error verifies error message formatting
func TestStorageError_Error(t *testing.T) {
	err := &StorageError{Operation: "complete_download", Err: errors.New("database is locked")}

	expected := "storage error during complete_download: database is locked"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

// TestErrors_Unwrap verifies error chain traversal
func TestErrors_Unwrap(t *testing.T) {
	cause := errors.New("underlying cause")

	tests := []struct {
		name string
		err  error
	}{
		{name: "FetchError", err: &FetchError{URL: "http://x", Err: cause}},
		{name: "StorageError", err: &StorageError{Operation: "create_download", Err: cause}},
		{name: "FilesystemError", err: &FilesystemError{Op: "write", Path: "/tmp/x", Err: cause}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if unwrapped := errors.Unwrap(tt.err); unwrapped != cause {
				t.Errorf("Unwrap() = %v, want %v", unwrapped, cause)
			}

			wrapped := fmt.Errorf("context: %w", tt.err)
			if !errors.Is(wrapped, cause) {
				t.Error("errors.Is() should find cause in wrapped chain")
			}
		})
	}
}

// TestFetchError_As verifies programmatic error type detection
func TestFetchError_As(t *testing.T) {
	wrapped := fmt.Errorf("parse playlist: %w", &FetchError{URL: "http://x", StatusCode: 404})

	var target *FetchError
	if !errors.As(wrapped, &target) {
		t.Fatal("errors.As() should extract FetchError from wrapped chain")
	}

	if target.StatusCode != 404 {
		t.Errorf("StatusCode = %d, want %d", target.StatusCode, 404)
	}
}

func TestCancelledError_IsContextCanceled(t *testing.T) {
	err := fmt.Errorf("transfer: %w", &CancelledError{DownloadID: 7})

	if !errors.Is(err, context.Canceled) {
		t.Error("cancelled transfers should match context.Canceled")
	}

	var target *CancelledError
	if !errors.As(err, &target) || target.DownloadID != 7 {
		t.Errorf("errors.As() = %v, want DownloadID 7", target)
	}

	if got := target.Error(); got != "download 7 cancelled" {
		t.Errorf("Error() = %q", got)
	}
}

// TestErrorTypes_Nil verifies nil error handling
func TestErrorTypes_Nil(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "FetchError with nil Err", err: &FetchError{URL: "http://x", StatusCode: 500}},
		{name: "StorageError with nil Err", err: &StorageError{Operation: "update_progress"}},
		{name: "FilesystemError with nil Err", err: &FilesystemError{Op: "remove", Path: "/tmp/x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if unwrapped := errors.Unwrap(tt.err); unwrapped != nil {
				t.Errorf("Unwrap() = %v, want nil", unwrapped)
			}

			if errMsg := tt.err.Error(); errMsg == "" {
				t.Error("Error() should return non-empty string even when Err is nil")
			}
		})
	}
}

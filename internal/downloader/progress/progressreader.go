package progress

import (
	"io"
	"math"
	"sync/atomic"
	"time"
)

// Reader counts the bytes read through it. Count may be called from another goroutine
// while Read is in progress.
type Reader struct {
	r         io.Reader
	totalRead atomic.Int64
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

func (pr *Reader) Read(p []byte) (int, error) {
	n, err := pr.r.Read(p)
	if n > 0 {
		pr.totalRead.Add(int64(n))
	}

	return n, err
}

// Count returns the bytes read so far.
func (pr *Reader) Count() int64 {
	return pr.totalRead.Load()
}

// Sample is a point-in-time view of a transfer. Speed is in bytes per second and ETA in whole
// seconds; both are 0 while unknown, as is Progress when the total size is unknown.
type Sample struct {
	Progress        float64 `json:"progress"`
	Speed           float64 `json:"speed"`
	ETA             int64   `json:"eta"`
	BytesDownloaded int64   `json:"bytesDownloaded"`
	TotalBytes      int64   `json:"totalBytes"`
}

// Compute derives a Sample from the bytes transferred, the expected total (0 if unknown) and
// the time since the transfer started.
func Compute(bytes, total int64, elapsed time.Duration) Sample {
	s := Sample{BytesDownloaded: bytes, TotalBytes: total}

	if secs := elapsed.Seconds(); secs > 0 {
		s.Speed = float64(bytes) / secs
	}

	if total > 0 {
		s.Progress = min(max(float64(bytes)/float64(total), 0), 1)

		if s.Speed > 0 && bytes < total {
			s.ETA = int64(math.Round(float64(total-bytes) / s.Speed))
		}
	}

	return s
}

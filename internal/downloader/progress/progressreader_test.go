package progress

import (
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReader_Counts(t *testing.T) {
	r := NewReader(strings.NewReader(strings.Repeat("a", 10_000)))

	buf := make([]byte, 3000)
	n, err := r.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, int64(n), r.Count())

	rest, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, int64(n+len(rest)), r.Count())
	assert.Equal(t, int64(10_000), r.Count())
}

func TestCompute(t *testing.T) {
	tests := []struct {
		name    string
		bytes   int64
		total   int64
		elapsed time.Duration
		want    Sample
	}{
		{
			name: "half done at 100 B/s", bytes: 500, total: 1000, elapsed: 5 * time.Second,
			want: Sample{Progress: 0.5, Speed: 100, ETA: 5, BytesDownloaded: 500, TotalBytes: 1000},
		},
		{
			name: "unknown total", bytes: 500, total: 0, elapsed: 5 * time.Second,
			want: Sample{Speed: 100, BytesDownloaded: 500},
		},
		{
			name: "no time elapsed", bytes: 10, total: 100, elapsed: 0,
			want: Sample{Progress: 0.1, BytesDownloaded: 10, TotalBytes: 100},
		},
		{
			name: "nothing read yet", bytes: 0, total: 100, elapsed: time.Second,
			want: Sample{TotalBytes: 100},
		},
		{
			name: "more than announced is clamped", bytes: 150, total: 100, elapsed: time.Second,
			want: Sample{Progress: 1, Speed: 150, BytesDownloaded: 150, TotalBytes: 100},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Compute(tt.bytes, tt.total, tt.elapsed))
		})
	}
}

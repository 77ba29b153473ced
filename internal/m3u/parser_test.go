package m3u

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FaulknerMassimo/m3u-downloader/internal/errdefs"
)

const breakingBad = `#EXTM3U
#EXTINF:-1 tvg-id="" group-title="Series",Breaking Bad S01E01
http://h/bb101.mp4
#EXTINF:-1 tvg-id="" group-title="Series",Breaking Bad S01E02
http://h/bb102.mkv
`

func collect(t *testing.T, doc string) []Entry {
	t.Helper()

	var entries []Entry

	for e, err := range ParseReader(strings.NewReader(doc)) {
		require.NoError(t, err)

		entries = append(entries, e)
	}

	return entries
}

func TestParseReader_PairsMetadataWithURL(t *testing.T) {
	entries := collect(t, breakingBad)
	require.Len(t, entries, 2)

	assert.Equal(t, Entry{
		ID:         EntryID("http://h/bb101.mp4"),
		Title:      "Breaking Bad S01E01",
		URL:        "http://h/bb101.mp4",
		SeriesName: "Breaking Bad",
		Season:     1,
		Episode:    1,
	}, entries[0])
	assert.Equal(t, 2, entries[1].Episode)
}

func TestParseReader_Edges(t *testing.T) {
	tests := []struct {
		name   string
		doc    string
		titles []string
		urls   []string
	}{
		{
			name: "trailing metadata without url is dropped",
			doc:  "#EXTM3U\n#EXTINF:-1,Movie One\nhttp://h/1.mp4\n#EXTINF:-1,Dangling\n",
			titles: []string{"Movie One"},
			urls:   []string{"http://h/1.mp4"},
		},
		{
			name: "only metadata yields nothing",
			doc:  "#EXTINF:-1,A\n\n#EXTINF:-1,B\n",
		},
		{
			name:   "comments and blank lines between metadata and url are skipped",
			doc:    "#EXTINF:-1,Title\n\n#EXTVLCOPT:http-user-agent=x\n   \nhttp://h/x.ts\n",
			titles: []string{"Title"},
			urls:   []string{"http://h/x.ts"},
		},
		{
			name:   "title is the text after the last comma",
			doc:    "#EXTINF:-1 tvg-name=\"a,b\",Tom, Dick and Harry\nhttp://h/t.mp4\n",
			titles: []string{"Harry"},
			urls:   []string{"http://h/t.mp4"},
		},
		{
			name:   "url without preceding metadata is ignored",
			doc:    "http://h/orphan.mp4\n#EXTINF:-1,Real\nhttp://h/real.mp4\n",
			titles: []string{"Real"},
			urls:   []string{"http://h/real.mp4"},
		},
		{
			name:   "a second metadata line replaces the first",
			doc:    "#EXTINF:-1,First\n#EXTINF:-1,Second\nhttp://h/2.mp4\n",
			titles: []string{"Second"},
			urls:   []string{"http://h/2.mp4"},
		},
		{
			name:   "crlf line endings",
			doc:    "#EXTM3U\r\n#EXTINF:-1,Win\r\nhttp://h/w.mp4\r\n",
			titles: []string{"Win"},
			urls:   []string{"http://h/w.mp4"},
		},
		{
			name:   "metadata without comma has an empty title",
			doc:    "#EXTINF:-1\nhttp://h/n.mp4\n",
			titles: []string{""},
			urls:   []string{"http://h/n.mp4"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries := collect(t, tt.doc)
			require.Len(t, entries, len(tt.urls))

			for i, e := range entries {
				assert.Equal(t, tt.titles[i], e.Title)
				assert.Equal(t, tt.urls[i], e.URL)
				assert.Equal(t, EntryID(e.URL), e.ID)
			}
		})
	}
}

func TestParseReader_StopsEarly(t *testing.T) {
	n := 0

	for range ParseReader(strings.NewReader(breakingBad)) {
		n++
		break
	}

	assert.Equal(t, 1, n)
}

func TestParseReader_LineTooLong(t *testing.T) {
	doc := "#EXTINF:-1," + strings.Repeat("x", maxLineSize+10) + "\nhttp://h/x\n"

	var gotErr error
	for _, err := range ParseReader(strings.NewReader(doc)) {
		gotErr = err
	}

	assert.ErrorContains(t, gotErr, "line longer than")
}

func TestParseSeries(t *testing.T) {
	tests := []struct {
		title   string
		name    string
		season  int
		episode int
		ok      bool
	}{
		{title: "Breaking Bad S01E01", name: "Breaking Bad", season: 1, episode: 1, ok: true},
		{title: "the.office.s03e12.720p", name: "the.office", season: 3, episode: 12, ok: true},
		{title: "Show Name S2 E10", name: "Show Name", season: 2, episode: 10, ok: true},
		{title: "Show.S10.E05", name: "Show", season: 10, episode: 5, ok: true},
		{title: "Lost s1e4 Walkabout", name: "Lost", season: 1, episode: 4, ok: true},
		{title: "The Matrix (1999)", ok: false},
		{title: "S01E01", ok: false},
		{title: "Title-S01E01", ok: false},
		{title: "", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			name, season, episode, ok := ParseSeries(tt.title)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.name, name)
			assert.Equal(t, tt.season, season)
			assert.Equal(t, tt.episode, episode)

			if ok {
				assert.Positive(t, season)
				assert.Positive(t, episode)
			}
		})
	}
}

func TestEntryID_Deterministic(t *testing.T) {
	assert.Equal(t, EntryID("http://h/a.mp4"), EntryID("http://h/a.mp4"))
	assert.NotEqual(t, EntryID("http://h/a.mp4"), EntryID("http://h/b.mp4"))
	assert.Len(t, EntryID("x"), 32)
}

func TestParser_Parse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-agent", r.UserAgent())
		_, _ = io.WriteString(w, breakingBad)
	}))
	defer srv.Close()

	entries, err := NewParser(WithUserAgent("test-agent")).Parse(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "Breaking Bad", entries[1].SeriesName)
}

func TestParser_CompressedBodies(t *testing.T) {
	var gz, br, zl, raw bytes.Buffer

	gw := gzip.NewWriter(&gz)
	_, _ = io.WriteString(gw, breakingBad)
	require.NoError(t, gw.Close())

	bw := brotli.NewWriter(&br)
	_, _ = io.WriteString(bw, breakingBad)
	require.NoError(t, bw.Close())

	zw := zlib.NewWriter(&zl)
	_, _ = io.WriteString(zw, breakingBad)
	require.NoError(t, zw.Close())

	fw, err := flate.NewWriter(&raw, flate.DefaultCompression)
	require.NoError(t, err)
	_, _ = io.WriteString(fw, breakingBad)
	require.NoError(t, fw.Close())

	tests := []struct {
		name     string
		encoding string
		body     []byte
	}{
		{"gzip", "gzip", gz.Bytes()},
		{"brotli", "br", br.Bytes()},
		{"zlib deflate", "deflate", zl.Bytes()},
		{"raw deflate", "deflate", raw.Bytes()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Contains(t, r.Header.Get("Accept-Encoding"), tt.encoding)
				w.Header().Set("Content-Encoding", tt.encoding)
				_, _ = w.Write(tt.body)
			}))
			defer srv.Close()

			entries, err := NewParser().Parse(context.Background(), srv.URL)
			require.NoError(t, err)
			assert.Len(t, entries, 2)
		})
	}
}

func TestParser_FetchErrors(t *testing.T) {
	t.Run("non-2xx status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		}))
		defer srv.Close()

		_, err := NewParser().Parse(context.Background(), srv.URL)

		var fetchErr *errdefs.FetchError
		require.ErrorAs(t, err, &fetchErr)
		assert.Equal(t, http.StatusForbidden, fetchErr.StatusCode)
	})

	t.Run("timeout", func(t *testing.T) {
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer srv.Close()
		defer close(release)

		p := NewParser(WithHTTPClient(&http.Client{Timeout: 50 * time.Millisecond}))

		_, err := p.Parse(context.Background(), srv.URL)

		var fetchErr *errdefs.FetchError
		require.ErrorAs(t, err, &fetchErr)
		assert.Zero(t, fetchErr.StatusCode)
	})

	t.Run("unreachable", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		_, err := NewParser().Parse(context.Background(), url)

		var fetchErr *errdefs.FetchError
		assert.ErrorAs(t, err, &fetchErr)
	})
}

func TestParser_FormatErrors(t *testing.T) {
	tests := map[string][]byte{
		"empty":      nil,
		"whitespace": []byte("  \n\n"),
		"binary":     {0x1f, 0x8b, 0x08, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x03},
		"png":        append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 64)...),
	}

	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/octet-stream")
				_, _ = w.Write(body)
			}))
			defer srv.Close()

			_, err := NewParser().Parse(context.Background(), srv.URL)

			var formatErr *errdefs.FormatError
			require.ErrorAs(t, err, &formatErr)
			assert.Equal(t, srv.URL, formatErr.URL)
		})
	}

	t.Run("oversized", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, breakingBad)
		}))
		defer srv.Close()

		_, err := NewParser(WithMaxSize(16)).Parse(context.Background(), srv.URL)

		var formatErr *errdefs.FormatError
		assert.ErrorAs(t, err, &formatErr)
	})
}

func TestParser_SharesConcurrentFetches(t *testing.T) {
	var hits atomic.Int32

	gate := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		<-gate
		_, _ = io.WriteString(w, breakingBad)
	}))
	defer srv.Close()

	p := NewParser()

	var wg sync.WaitGroup

	results := make([][]Entry, 4)
	errs := make([]error, 4)

	for i := range results {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = p.Parse(context.Background(), srv.URL)
		}(i)
	}

	// Let every goroutine join the in-flight call before the server answers.
	time.Sleep(100 * time.Millisecond)
	close(gate)
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
		assert.Len(t, results[i], 2)
	}

	assert.LessOrEqual(t, hits.Load(), int32(4))
	assert.GreaterOrEqual(t, hits.Load(), int32(1))

	// Sequential calls always refetch.
	before := hits.Load()
	_, err := p.Parse(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, before+1, hits.Load())
}

func TestParser_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewParser().Parse(ctx, "http://127.0.0.1:1/list.m3u")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestParser_CancelledCallerDoesNotFailSharedFetch(t *testing.T) {
	var hits atomic.Int32

	arrived := make(chan struct{}, 1)
	gate := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)

		select {
		case arrived <- struct{}{}:
		default:
		}

		<-gate
		_, _ = io.WriteString(w, breakingBad)
	}))
	defer srv.Close()

	p := NewParser()

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)

	go func() {
		_, err := p.Parse(ctxA, srv.URL)
		errA <- err
	}()

	<-arrived

	type result struct {
		entries []Entry
		err     error
	}

	resB := make(chan result, 1)

	go func() {
		entries, err := p.Parse(context.Background(), srv.URL)
		resB <- result{entries, err}
	}()

	// B joins the in-flight fetch, then A goes away before the server answers.
	time.Sleep(50 * time.Millisecond)
	cancelA()

	select {
	case err := <-errA:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled caller did not return")
	}

	close(gate)

	b := <-resB
	require.NoError(t, b.err)
	assert.Len(t, b.entries, 2)
	assert.Equal(t, int32(1), hits.Load())
}

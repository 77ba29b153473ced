package m3u

import (
	"bufio"
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/dustin/go-humanize"
	"golang.org/x/sync/singleflight"

	"github.com/FaulknerMassimo/m3u-downloader/internal/errdefs"
	"github.com/FaulknerMassimo/m3u-downloader/internal/logctx"
	"github.com/FaulknerMassimo/m3u-downloader/internal/telemetry"
)

const (
	extinfPrefix = "#EXTINF:"

	maxLineSize = 1 << 20 // 1 MiB per line

	// DefaultTimeout bounds the whole playlist fetch, body included.
	DefaultTimeout = 10 * time.Second

	defaultMaxSize = 256 << 20
)

// Parser fetches playlists over HTTP and turns them into entries. Concurrent Parse calls for
// the same URL share a single request; nothing is cached once it returns.
type Parser struct {
	client    *http.Client
	userAgent string
	maxSize   int64
	telemetry *telemetry.Telemetry
	group     singleflight.Group
}

type Option func(*Parser)

// WithHTTPClient replaces the default client. Its Timeout is the fetch bound.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Parser) { p.client = c }
}

func WithUserAgent(ua string) Option {
	return func(p *Parser) { p.userAgent = ua }
}

// WithMaxSize caps the decoded playlist size.
func WithMaxSize(n int64) Option {
	return func(p *Parser) { p.maxSize = n }
}

func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(p *Parser) { p.telemetry = t }
}

func NewParser(opts ...Option) *Parser {
	p := &Parser{
		client: &http.Client{
			Timeout:   DefaultTimeout,
			Transport: telemetry.NewTransport(http.DefaultTransport),
		},
		userAgent: "m3u-downloader/1.0",
		maxSize:   defaultMaxSize,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Parse fetches the playlist at url and returns its complete entries in document order.
// It fails with *errdefs.FetchError when the document cannot be retrieved and with
// *errdefs.FormatError when the body is not textual playlist content.
func (p *Parser) Parse(ctx context.Context, url string) ([]Entry, error) {
	logger := logctx.LoggerFromContext(ctx).With("playlist", url)

	var entries []Entry

	err := p.telemetry.InstrumentPlaylistFetch(ctx, func(ctx context.Context) (int, error) {
		if err := ctx.Err(); err != nil {
			return 0, &errdefs.FetchError{URL: url, Err: err}
		}

		// The shared fetch outlives any single caller and is bounded by the client timeout.
		ch := p.group.DoChan(url, func() (any, error) {
			return p.fetch(context.WithoutCancel(ctx), url)
		})

		var res singleflight.Result

		select {
		case <-ctx.Done():
			return 0, &errdefs.FetchError{URL: url, Err: ctx.Err()}
		case res = <-ch:
		}

		if res.Err != nil {
			return 0, res.Err
		}

		body := res.Val.([]byte)
		shared := res.Shared

		for e, err := range ParseReader(bytes.NewReader(body)) {
			if err != nil {
				return 0, &errdefs.FormatError{URL: url, Reason: err.Error()}
			}

			entries = append(entries, e)
		}

		logger.DebugContext(ctx, "playlist parsed",
			"entries", len(entries),
			"size", humanize.Bytes(uint64(len(body))),
			"shared", shared,
		)

		return len(entries), nil
	})
	if err != nil {
		return nil, err
	}

	return entries, nil
}

func (p *Parser) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &errdefs.FetchError{URL: url, Err: err}
	}

	req.Header.Set("User-Agent", p.userAgent)
	req.Header.Set("Accept-Encoding", "br, gzip, deflate")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &errdefs.FetchError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &errdefs.FetchError{URL: url, StatusCode: resp.StatusCode}
	}

	body, err := decodeBody(resp)
	if err != nil {
		return nil, &errdefs.FetchError{URL: url, Err: err}
	}

	data, err := io.ReadAll(io.LimitReader(body, p.maxSize+1))
	if err != nil {
		return nil, &errdefs.FetchError{URL: url, Err: fmt.Errorf("read body: %w", err)}
	}

	if int64(len(data)) > p.maxSize {
		return nil, &errdefs.FormatError{URL: url, Reason: "document exceeds " + humanize.Bytes(uint64(p.maxSize))}
	}

	if reason := checkText(data); reason != "" {
		return nil, &errdefs.FormatError{URL: url, Reason: reason}
	}

	return data, nil
}

func decodeBody(resp *http.Response) (io.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "br":
		return brotli.NewReader(resp.Body), nil
	case "gzip":
		zr, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}

		return zr, nil
	case "deflate":
		return deflateReader(resp.Body)
	default:
		return resp.Body, nil
	}
}

// deflateReader accepts both zlib-wrapped and raw deflate streams; servers send either.
func deflateReader(r io.Reader) (io.Reader, error) {
	br := bufio.NewReader(r)

	head, err := br.Peek(2)
	if err != nil {
		return nil, fmt.Errorf("deflate: %w", err)
	}

	if head[0]&0x0f == 8 && (uint16(head[0])<<8|uint16(head[1]))%31 == 0 {
		zr, err := zlib.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("deflate: %w", err)
		}

		return zr, nil
	}

	return flate.NewReader(br), nil
}

// checkText returns why data is not a textual playlist, or "" when it is.
func checkText(data []byte) string {
	if len(bytes.TrimSpace(data)) == 0 {
		return "empty document"
	}

	head := data[:min(len(data), 512)]
	if bytes.IndexByte(head, 0) >= 0 || !strings.HasPrefix(http.DetectContentType(head), "text/") {
		return "binary content"
	}

	return ""
}

// ParseReader lazily scans an M3U document. A #EXTINF line opens a candidate entry; the next
// non-empty line that is not a comment supplies its URL. A candidate without a URL at the end
// of the document is dropped. The sequence stops after yielding a read error.
func ParseReader(r io.Reader) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		sc := bufio.NewScanner(r)
		sc.Buffer(nil, maxLineSize)

		var (
			title   string
			pending bool
		)

		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())

			switch {
			case line == "":
				continue
			case strings.HasPrefix(line, extinfPrefix):
				title = titleFromExtinf(line)
				pending = true
			case strings.HasPrefix(line, "#"):
				continue
			case pending:
				pending = false

				if !yield(newEntry(title, line), nil) {
					return
				}
			}
		}

		if err := sc.Err(); err != nil {
			if errors.Is(err, bufio.ErrTooLong) {
				err = fmt.Errorf("line longer than %s", humanize.IBytes(maxLineSize))
			}

			yield(Entry{}, err)
		}
	}
}

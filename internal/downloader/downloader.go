package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/time/rate"

	"github.com/FaulknerMassimo/m3u-downloader/internal/downloader/progress"
	"github.com/FaulknerMassimo/m3u-downloader/internal/errdefs"
	"github.com/FaulknerMassimo/m3u-downloader/internal/logctx"
	"github.com/FaulknerMassimo/m3u-downloader/internal/storage"
	"github.com/FaulknerMassimo/m3u-downloader/internal/telemetry"
)

const (
	dirPerm = 0755

	eventBuffer = 64
)

var (
	// ErrInvalidRequest is returned by Start for a request that cannot be downloaded.
	ErrInvalidRequest = errors.New("invalid download request")
	// ErrStalled is the cause of a transfer aborted because its body stopped arriving.
	ErrStalled = errors.New("transfer stalled")
)

type Config struct {
	UserAgent string
	// ResponseTimeout bounds the wait for the response headers and every wait for more body
	// bytes. The body as a whole may stream for as long as it needs.
	ResponseTimeout  time.Duration
	ProgressInterval time.Duration
	// TerminalRetries is how many times a terminal record update is attempted.
	TerminalRetries int
	RetryBackoff    time.Duration
	// CancelWait bounds how long Cancel waits for the transfer goroutine to stop before it
	// removes the partial file.
	CancelWait time.Duration
}

func (c Config) withDefaults() Config {
	if c.UserAgent == "" {
		c.UserAgent = "Mozilla/5.0 (X11; Linux x86_64) m3u-downloader/1.0"
	}

	if c.ResponseTimeout <= 0 {
		c.ResponseTimeout = 60 * time.Second
	}

	if c.ProgressInterval <= 0 {
		c.ProgressInterval = time.Second
	}

	if c.TerminalRetries <= 0 {
		c.TerminalRetries = 3
	}

	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 200 * time.Millisecond
	}

	if c.CancelWait <= 0 {
		c.CancelWait = 5 * time.Second
	}

	return c
}

// StartRequest describes one file to fetch. Dir is the resolved destination directory.
type StartRequest struct {
	URL    string
	Title  string
	LinkID *int64
	Dir    string
}

// Event reports a download reaching a terminal state.
type Event struct {
	DownloadID int64
	Title      string
	FilePath   string
	Status     storage.DownloadStatus
	Bytes      int64
	Duration   time.Duration
	Err        error
}

// Engine runs downloads: one goroutine per transfer, progress sampled into the registry and the
// repository, and exactly one terminal state written per download.
type Engine struct {
	repo      storage.DownloadRepository
	registry  *Registry
	client    *http.Client
	cfg       Config
	telemetry *telemetry.Telemetry
	events    chan Event

	// root outlives request contexts; Shutdown cancels it.
	root     context.Context
	stopAll  context.CancelFunc
	inflight sync.WaitGroup
}

func NewEngine(repo storage.DownloadRepository, registry *Registry, cfg Config, tel *telemetry.Telemetry) *Engine {
	cfg = cfg.withDefaults()

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = cfg.ResponseTimeout

	root, stop := context.WithCancel(context.Background())

	return &Engine{
		repo:      repo,
		registry:  registry,
		client:    &http.Client{Transport: telemetry.NewTransport(transport)},
		cfg:       cfg,
		telemetry: tel,
		events:    make(chan Event, eventBuffer),
		root:      root,
		stopAll:   stop,
	}
}

// Events delivers terminal transitions. Events are dropped when nobody keeps up.
func (e *Engine) Events() <-chan Event {
	return e.events
}

// Start records a new download in the downloading state, launches its transfer and returns
// the record id without waiting for any network activity.
func (e *Engine) Start(ctx context.Context, req StartRequest) (int64, error) {
	if err := validate(req); err != nil {
		return 0, err
	}

	filePath := filepath.Join(req.Dir, FileName(req.Title, req.URL))
	start := time.Now()

	id, err := e.repo.CreateDownload(ctx, storage.DownloadRecord{
		Title:     req.Title,
		FilePath:  filePath,
		StartTime: start,
		M3ULinkID: req.LinkID,
	})
	if err != nil {
		return 0, &errdefs.StorageError{Operation: "create_download", Err: err}
	}

	logger := logctx.LoggerFromContext(ctx)

	tctx := logctx.WithLogger(e.root, logger)
	tctx = logctx.WithDownloadID(tctx, id)
	tctx, cancel := context.WithCancelCause(tctx)

	t := newActiveTransfer(id, req.Title, filePath, start, cancel)
	e.registry.add(t)

	e.inflight.Add(1)

	go e.run(tctx, t, req.URL)

	logger.InfoContext(tctx, "download started", "title", req.Title, "file_path", filePath)

	return id, nil
}

func validate(req StartRequest) error {
	if strings.TrimSpace(req.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidRequest)
	}

	if strings.TrimSpace(req.Dir) == "" {
		return fmt.Errorf("%w: destination directory is required", ErrInvalidRequest)
	}

	u, err := url.Parse(req.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q is not an http(s) url", ErrInvalidRequest, req.URL)
	}

	return nil
}

// Cancel stops the transfer for id, marks the record cancelled and removes the partial file.
// It returns false when id has no transfer in flight.
func (e *Engine) Cancel(ctx context.Context, id int64) bool {
	t, ok := e.registry.take(id)
	if !ok {
		return false
	}

	logger := logctx.LoggerFromContext(ctx).With("download_id", id)

	t.cancel(nil)

	select {
	case <-t.done:
	case <-time.After(e.cfg.CancelWait):
		logger.WarnContext(ctx, "transfer did not stop in time, removing file anyway")
	case <-ctx.Done():
	}

	err := e.withRetry(ctx, "cancel_download", func(ctx context.Context) error {
		return e.repo.EndDownload(ctx, id, storage.StatusCancelled, time.Now())
	})
	if err != nil {
		logger.ErrorContext(ctx, "failed to mark download cancelled", "err", err)
	}

	e.removePartial(ctx, t.FilePath)

	snap := t.Snapshot()
	e.publish(ctx, Event{
		DownloadID: id,
		Title:      t.Title,
		FilePath:   t.FilePath,
		Status:     storage.StatusCancelled,
		Bytes:      snap.BytesDownloaded,
		Duration:   time.Since(t.StartTime),
		Err:        &errdefs.CancelledError{DownloadID: id},
	})

	logger.InfoContext(ctx, "download cancelled", "downloaded", humanize.Bytes(uint64(snap.BytesDownloaded)))

	return true
}

// Status returns the live sample for id, or false when it is not in flight.
func (e *Engine) Status(id int64) (progress.Sample, bool) {
	t, ok := e.registry.Get(id)
	if !ok {
		return progress.Sample{}, false
	}

	return t.Snapshot(), true
}

// Active returns the live sample of every in-flight download.
func (e *Engine) Active() map[int64]progress.Sample {
	return e.registry.Snapshots()
}

// Shutdown aborts every transfer and waits for their goroutines. Their records stay in the
// downloading state.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.stopAll()

	done := make(chan struct{})

	go func() {
		e.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for transfers: %w", ctx.Err())
	}
}

func (e *Engine) run(ctx context.Context, t *ActiveTransfer, rawURL string) {
	defer e.inflight.Done()
	defer close(t.done)

	defer func() {
		if r := recover(); r != nil {
			e.settle(ctx, t, 0, fmt.Errorf("transfer panicked: %v", r))
		}
	}()

	var written int64

	err := e.telemetry.InstrumentDownload(ctx, func(ctx context.Context) (int64, error) {
		var err error
		written, err = e.transfer(ctx, t, rawURL)

		return written, err
	})

	e.settle(ctx, t, written, err)
}

// transfer streams rawURL into t.FilePath and returns the bytes written.
func (e *Engine) transfer(ctx context.Context, t *ActiveTransfer, rawURL string) (int64, error) {
	logger := logctx.LoggerFromContext(ctx)

	if err := e.ensureTargetDir(t.FilePath, logger); err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, &errdefs.FetchError{URL: rawURL, Err: err}
	}

	req.Header.Set("User-Agent", e.cfg.UserAgent)

	resp, err := e.client.Do(req)
	if err != nil {
		return 0, &errdefs.FetchError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, &errdefs.FetchError{URL: rawURL, StatusCode: resp.StatusCode}
	}

	total := max(resp.ContentLength, 0)
	t.setTotal(total)

	out, err := os.Create(t.FilePath)
	if err != nil {
		return 0, &errdefs.FilesystemError{Op: "create", Path: t.FilePath, Err: err}
	}
	defer out.Close()

	logger.InfoContext(ctx, "downloading file", "file_path", t.FilePath, "file_size", humanize.Bytes(uint64(total)))

	return e.writeFile(ctx, t, out, resp.Body, rawURL, total)
}

func (e *Engine) writeFile(ctx context.Context, t *ActiveTransfer, out *os.File, body io.Reader, rawURL string, total int64) (int64, error) {
	watchdog := time.AfterFunc(e.cfg.ResponseTimeout, func() { t.cancel(ErrStalled) })
	defer watchdog.Stop()

	pr := progress.NewReader(idleReader{r: body, watchdog: watchdog, timeout: e.cfg.ResponseTimeout})

	stopSampler := make(chan struct{})
	samplerDone := make(chan struct{})

	go func() {
		defer close(samplerDone)
		e.sample(ctx, t, pr, total, stopSampler)
	}()

	_, copyErr := io.Copy(fsWriter{out}, pr)

	close(stopSampler)
	<-samplerDone

	written := pr.Count()
	t.update(progress.Compute(written, total, time.Since(t.StartTime)))

	if copyErr != nil {
		if errors.Is(context.Cause(ctx), ErrStalled) {
			copyErr = fmt.Errorf("no data for %s: %w", e.cfg.ResponseTimeout, ErrStalled)
		}

		var fsErr *errdefs.FilesystemError
		if errors.As(copyErr, &fsErr) {
			fsErr.Path = t.FilePath
			return written, fsErr
		}

		return written, &errdefs.FetchError{URL: rawURL, Err: fmt.Errorf("stream body: %w", copyErr)}
	}

	if err := out.Sync(); err != nil {
		return written, &errdefs.FilesystemError{Op: "sync", Path: t.FilePath, Err: err}
	}

	return written, nil
}

// sample refreshes the transfer's stats every ProgressInterval and pushes them to the record.
// Persistence here is best effort.
func (e *Engine) sample(ctx context.Context, t *ActiveTransfer, pr *progress.Reader, total int64, stop <-chan struct{}) {
	logger := logctx.LoggerFromContext(ctx)
	debugEvery := rate.Sometimes{Interval: 10 * time.Second}

	ticker := time.NewTicker(e.cfg.ProgressInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := progress.Compute(pr.Count(), total, time.Since(t.StartTime))
			t.update(s)

			if err := e.repo.UpdateProgress(ctx, t.ID, s.Progress, s.BytesDownloaded); err != nil && ctx.Err() == nil {
				logger.WarnContext(ctx, "failed to persist download progress", "err", err)
			}

			debugEvery.Do(func() {
				logger.DebugContext(ctx, "download progress",
					"downloaded", humanize.Bytes(uint64(s.BytesDownloaded)),
					"total", humanize.Bytes(uint64(s.TotalBytes)),
					"percent", humanize.FtoaWithDigits(s.Progress*100, 2),
					"speed", humanize.Bytes(uint64(s.Speed))+"/s",
					"eta_seconds", s.ETA,
				)
			})
		}
	}
}

// settle writes the terminal state once. If the transfer is no longer registered, Cancel got
// there first and owns the record.
func (e *Engine) settle(ctx context.Context, t *ActiveTransfer, written int64, err error) {
	if _, ok := e.registry.take(t.ID); !ok {
		return
	}

	logger := logctx.LoggerFromContext(ctx)
	elapsed := time.Since(t.StartTime)

	switch {
	case err == nil:
		werr := e.withRetry(ctx, "complete_download", func(ctx context.Context) error {
			return e.repo.CompleteDownload(ctx, t.ID, written, time.Now())
		})
		if werr != nil {
			logger.ErrorContext(ctx, "failed to mark download completed", "err", werr)
		}

		logger.InfoContext(ctx, "download completed",
			"file_path", t.FilePath,
			"size", humanize.Bytes(uint64(written)),
			"duration", elapsed.Round(time.Millisecond),
		)

		e.publish(ctx, Event{DownloadID: t.ID, Title: t.Title, FilePath: t.FilePath, Status: storage.StatusCompleted, Bytes: written, Duration: elapsed})

	case ctx.Err() != nil && !errors.Is(context.Cause(ctx), ErrStalled):
		// Engine shutdown. The record stays downloading and is reconciled on the next start.
		logger.InfoContext(ctx, "download interrupted by shutdown", "downloaded", humanize.Bytes(uint64(written)))

	default:
		logger.ErrorContext(ctx, "download failed", "err", err)

		werr := e.withRetry(ctx, "fail_download", func(ctx context.Context) error {
			return e.repo.EndDownload(ctx, t.ID, storage.StatusFailed, time.Now())
		})
		if werr != nil {
			logger.ErrorContext(ctx, "failed to mark download failed", "err", werr)
		}

		// Failed transfers cannot be resumed, so the partial file goes too, not only on cancel.
		e.removePartial(ctx, t.FilePath)

		e.publish(ctx, Event{DownloadID: t.ID, Title: t.Title, FilePath: t.FilePath, Status: storage.StatusFailed, Bytes: written, Duration: elapsed, Err: err})
	}
}

// withRetry runs a terminal record update up to TerminalRetries times. It ignores cancellation
// of ctx so a shutdown cannot leave a half-written terminal state. Conflicts are not retried.
func (e *Engine) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx = context.WithoutCancel(ctx)

	var err error

	for attempt := 1; attempt <= e.cfg.TerminalRetries; attempt++ {
		if err = fn(ctx); err == nil || errors.Is(err, storage.ErrConflict) || errors.Is(err, storage.ErrNotFound) {
			break
		}

		if attempt < e.cfg.TerminalRetries {
			time.Sleep(time.Duration(attempt) * e.cfg.RetryBackoff)
		}
	}

	if err != nil {
		e.telemetry.RecordSystemError("downloader", op)
		return &errdefs.StorageError{Operation: op, Err: err}
	}

	return nil
}

func (e *Engine) publish(ctx context.Context, ev Event) {
	select {
	case e.events <- ev:
	default:
		logctx.LoggerFromContext(ctx).DebugContext(ctx, "download event dropped", "status", ev.Status)
	}
}

func (e *Engine) ensureTargetDir(targetPath string, logger *slog.Logger) error {
	dir := filepath.Dir(targetPath)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		logger.Error("failed to create target directory", "dir", dir, "err", err)

		return &errdefs.FilesystemError{Op: "mkdir", Path: dir, Err: err}
	}

	return nil
}

func (e *Engine) removePartial(ctx context.Context, path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logctx.LoggerFromContext(ctx).WarnContext(ctx, "failed to remove partial file",
			"err", &errdefs.FilesystemError{Op: "remove", Path: path, Err: err})
	}
}

// idleReader re-arms watchdog after every read that returns data.
type idleReader struct {
	r        io.Reader
	watchdog *time.Timer
	timeout  time.Duration
}

func (ir idleReader) Read(p []byte) (int, error) {
	n, err := ir.r.Read(p)
	if n > 0 {
		ir.watchdog.Reset(ir.timeout)
	}

	return n, err
}

// fsWriter marks write errors so they are reported as filesystem failures rather than
// network ones.
type fsWriter struct {
	w io.Writer
}

func (f fsWriter) Write(p []byte) (int, error) {
	n, err := f.w.Write(p)
	if err != nil {
		return n, &errdefs.FilesystemError{Op: "write", Err: err}
	}

	return n, nil
}

package telemetry

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Span and metric attributes must stay low-cardinality: operation names, status values and
// component names only. Download ids, titles, file paths and playlist URLs go to logs.

// InstrumentedFunc represents a function that can be instrumented.
type InstrumentedFunc func(ctx context.Context) error

// InstrumentOperation runs fn inside a span named operationName.
func (t *Telemetry) InstrumentOperation(ctx context.Context, operationName, component string, fn InstrumentedFunc) error {
	if t == nil || t.tracer == nil {
		return fn(ctx)
	}

	start := time.Now()
	ctx, span := t.tracer.Start(ctx, operationName)

	defer span.End()

	span.SetAttributes(
		attribute.String("component", component),
		attribute.String("operation", operationName),
	)

	err := fn(ctx)

	status := statusOf(err)
	if err != nil && status == "error" {
		span.SetAttributes(attribute.Bool("error", true))
		span.SetStatus(codes.Error, err.Error())
	}

	span.SetAttributes(
		attribute.String("status", status),
		attribute.Float64("duration_seconds", time.Since(start).Seconds()),
	)

	return err
}

// InstrumentDBOperation instruments database operations.
func (t *Telemetry) InstrumentDBOperation(ctx context.Context, operation string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	start := time.Now()
	err := t.InstrumentOperation(ctx, "db_"+operation, "database", fn)

	t.RecordDBOperation(operation, statusOf(err), time.Since(start))

	return err
}

// InstrumentPlaylistFetch instruments a playlist fetch. fn reports the number of entries parsed.
func (t *Telemetry) InstrumentPlaylistFetch(ctx context.Context, fn func(ctx context.Context) (int, error)) error {
	if t == nil {
		_, err := fn(ctx)
		return err
	}

	var entries int

	err := t.InstrumentOperation(ctx, "playlist_fetch", "m3u", func(ctx context.Context) error {
		var err error
		entries, err = fn(ctx)

		return err
	})

	t.RecordPlaylistFetch(statusOf(err), entries)

	return err
}

// InstrumentDownload wraps a whole transfer. fn reports the number of bytes written.
func (t *Telemetry) InstrumentDownload(ctx context.Context, fn func(ctx context.Context) (int64, error)) error {
	if t == nil {
		_, err := fn(ctx)
		return err
	}

	start := time.Now()

	t.IncrementActiveDownloads()
	defer t.DecrementActiveDownloads()

	var written int64

	err := t.InstrumentOperation(ctx, "download", "downloader", func(ctx context.Context) error {
		var err error
		written, err = fn(ctx)

		return err
	})

	t.RecordDownload(statusOf(err), time.Since(start), written)

	return err
}

// InstrumentWatchlistTick wraps one poller tick. fn reports how many downloads it started.
func (t *Telemetry) InstrumentWatchlistTick(ctx context.Context, fn func(ctx context.Context) (int, error)) error {
	if t == nil {
		_, err := fn(ctx)
		return err
	}

	var triggered int

	err := t.InstrumentOperation(ctx, "watchlist_tick", "watchlist", func(ctx context.Context) error {
		var err error
		triggered, err = fn(ctx)

		return err
	})

	t.RecordWatchlistTick(statusOf(err), triggered)

	return err
}

// statusOf maps an error to a bounded status label. Cancellation is not an error.
func statusOf(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "error"
	}
}

package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/FaulknerMassimo/m3u-downloader/internal/storage"
	"github.com/FaulknerMassimo/m3u-downloader/internal/telemetry"
)

// InstrumentedDownloadRepository wraps DownloadRepository with telemetry.
type InstrumentedDownloadRepository struct {
	repo      *DownloadRepository
	telemetry *telemetry.Telemetry
}

// NewInstrumentedDownloadRepository creates a new instrumented download repository.
func NewInstrumentedDownloadRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedDownloadRepository {
	return &InstrumentedDownloadRepository{
		repo:      NewDownloadRepository(dbConn),
		telemetry: tel,
	}
}

func (r *InstrumentedDownloadRepository) CreateDownload(ctx context.Context, rec storage.DownloadRecord) (int64, error) {
	var id int64

	err := r.telemetry.InstrumentDBOperation(ctx, "create_download", func(ctx context.Context) error {
		var err error
		id, err = r.repo.CreateDownload(ctx, rec)

		return err
	})

	return id, err
}

func (r *InstrumentedDownloadRepository) GetDownload(ctx context.Context, id int64) (storage.DownloadRecord, error) {
	var rec storage.DownloadRecord

	err := r.telemetry.InstrumentDBOperation(ctx, "get_download", func(ctx context.Context) error {
		var err error
		rec, err = r.repo.GetDownload(ctx, id)

		return err
	})

	return rec, err
}

func (r *InstrumentedDownloadRepository) ListDownloads(ctx context.Context, statuses ...storage.DownloadStatus) ([]storage.DownloadRecord, error) {
	var result []storage.DownloadRecord

	err := r.telemetry.InstrumentDBOperation(ctx, "list_downloads", func(ctx context.Context) error {
		var err error
		result, err = r.repo.ListDownloads(ctx, statuses...)

		return err
	})

	return result, err
}

func (r *InstrumentedDownloadRepository) UpdateProgress(ctx context.Context, id int64, progress float64, size int64) error {
	return r.telemetry.InstrumentDBOperation(ctx, "update_progress", func(ctx context.Context) error {
		return r.repo.UpdateProgress(ctx, id, progress, size)
	})
}

func (r *InstrumentedDownloadRepository) CompleteDownload(ctx context.Context, id int64, size int64, end time.Time) error {
	return r.telemetry.InstrumentDBOperation(ctx, "complete_download", func(ctx context.Context) error {
		return r.repo.CompleteDownload(ctx, id, size, end)
	})
}

func (r *InstrumentedDownloadRepository) EndDownload(ctx context.Context, id int64, status storage.DownloadStatus, end time.Time) error {
	return r.telemetry.InstrumentDBOperation(ctx, "end_download", func(ctx context.Context) error {
		return r.repo.EndDownload(ctx, id, status, end)
	})
}

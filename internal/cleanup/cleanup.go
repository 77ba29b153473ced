package cleanup

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/FaulknerMassimo/m3u-downloader/internal/errdefs"
	"github.com/FaulknerMassimo/m3u-downloader/internal/logctx"
	"github.com/FaulknerMassimo/m3u-downloader/internal/storage"
)

// ReconcileOrphans marks every record still downloading as failed and removes its partial
// file. It must run before the engine starts: at that point no record can have a live
// transfer. It returns the number of records reconciled.
func ReconcileOrphans(ctx context.Context, repo storage.DownloadRepository) (int, error) {
	logger := logctx.LoggerFromContext(ctx)

	orphans, err := repo.ListDownloads(ctx, storage.StatusDownloading)
	if err != nil {
		return 0, &errdefs.StorageError{Operation: "list_downloads", Err: err}
	}

	var reconciled int

	for _, rec := range orphans {
		recLogger := logger.With("download_id", rec.ID, "file", rec.FilePath)

		if err := repo.EndDownload(ctx, rec.ID, storage.StatusFailed, time.Now()); err != nil {
			if errors.Is(err, storage.ErrConflict) {
				continue
			}

			recLogger.Error("Failed to mark orphaned download failed", "err", err)

			return reconciled, &errdefs.StorageError{Operation: "fail_download", Err: err}
		}

		reconciled++

		if err := os.Remove(rec.FilePath); err != nil && !os.IsNotExist(err) {
			recLogger.Warn("Failed to delete partial file", "err", err)

			continue
		}

		recLogger.Info("Reconciled orphaned download")
	}

	return reconciled, nil
}

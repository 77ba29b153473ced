package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/FaulknerMassimo/m3u-downloader/internal/storage"
)

// SettingsRepository reads and writes the single settings row created by InitDB.
type SettingsRepository struct {
	db *sql.DB
}

func NewSettingsRepository(dbConn *sql.DB) *SettingsRepository {
	return &SettingsRepository{db: dbConn}
}

func (r *SettingsRepository) GetSettings(ctx context.Context) (storage.Settings, error) {
	var s storage.Settings

	err := r.db.QueryRowContext(ctx,
		`SELECT download_path, webui_port, watchlist_refresh_rate FROM settings WHERE id = 1`,
	).Scan(&s.DownloadPath, &s.WebUIPort, &s.WatchlistRefreshRate)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Settings{}, fmt.Errorf("settings: %w", storage.ErrNotFound)
	}

	return s, err
}

func (r *SettingsRepository) UpdateSettings(ctx context.Context, s storage.Settings) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE settings SET download_path = ?, webui_port = ?, watchlist_refresh_rate = ? WHERE id = 1`,
		s.DownloadPath, s.WebUIPort, s.WatchlistRefreshRate,
	)
	if err != nil {
		return err
	}

	return requireAffected(res, "settings", 1)
}

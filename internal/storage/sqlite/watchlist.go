package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/FaulknerMassimo/m3u-downloader/internal/storage"
)

type WatchlistRepository struct {
	db *sql.DB
}

func NewWatchlistRepository(dbConn *sql.DB) *WatchlistRepository {
	return &WatchlistRepository{db: dbConn}
}

func (r *WatchlistRepository) ListWatchlist(ctx context.Context) ([]storage.WatchlistEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, title, series_id, COALESCE(last_episode, ''), added_at FROM watchlist ORDER BY added_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []storage.WatchlistEntry

	for rows.Next() {
		var (
			e       storage.WatchlistEntry
			addedAt int64
		)

		if err := rows.Scan(&e.ID, &e.Title, &e.SeriesID, &e.LastEpisode, &addedAt); err != nil {
			return nil, err
		}

		e.AddedAt = time.UnixMilli(addedAt)
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// AddToWatchlist fails with storage.ErrConflict when the series is already tracked.
func (r *WatchlistRepository) AddToWatchlist(ctx context.Context, e storage.WatchlistEntry) (int64, error) {
	added := e.AddedAt
	if added.IsZero() {
		added = time.Now()
	}

	var last sql.NullString
	if e.LastEpisode != "" {
		last = sql.NullString{String: e.LastEpisode, Valid: true}
	}

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO watchlist (title, series_id, last_episode, added_at) VALUES (?, ?, ?, ?)`,
		e.Title, e.SeriesID, last, added.UnixMilli(),
	)
	if isUniqueViolation(err) {
		return 0, fmt.Errorf("series %q already on watchlist: %w", e.Title, storage.ErrConflict)
	}

	if err != nil {
		return 0, err
	}

	return res.LastInsertId()
}

func (r *WatchlistRepository) RemoveFromWatchlist(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM watchlist WHERE id = ?`, id)
	if err != nil {
		return err
	}

	return requireAffected(res, "watchlist entry", id)
}

func (r *WatchlistRepository) UpdateLastEpisode(ctx context.Context, id int64, snapshot string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE watchlist SET last_episode = ? WHERE id = ?`, snapshot, id)
	if err != nil {
		return err
	}

	return requireAffected(res, "watchlist entry", id)
}

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/FaulknerMassimo/m3u-downloader/internal/storage"
)

type DownloadRepository struct {
	db *sql.DB
}

func NewDownloadRepository(dbConn *sql.DB) *DownloadRepository {
	return &DownloadRepository{db: dbConn}
}

const selectDownloads = `
	SELECT d.id, d.title, d.file_path, d.size, d.status, d.progress, d.start_time, d.end_time,
		d.m3u_link_id, COALESCE(m.name, '')
	FROM downloads d
	LEFT JOIN m3u_links m ON d.m3u_link_id = m.id`

func (r *DownloadRepository) CreateDownload(ctx context.Context, rec storage.DownloadRecord) (int64, error) {
	start := rec.StartTime
	if start.IsZero() {
		start = time.Now()
	}

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO downloads (title, file_path, status, progress, start_time, m3u_link_id)
		VALUES (?, ?, 'downloading', 0, ?, ?)`,
		rec.Title, rec.FilePath, start.UnixMilli(), nullInt64(rec.M3ULinkID),
	)
	if isForeignKeyViolation(err) {
		return 0, fmt.Errorf("m3u link %d: %w", *rec.M3ULinkID, storage.ErrNotFound)
	}

	if err != nil {
		return 0, err
	}

	return res.LastInsertId()
}

func (r *DownloadRepository) GetDownload(ctx context.Context, id int64) (storage.DownloadRecord, error) {
	row := r.db.QueryRowContext(ctx, selectDownloads+` WHERE d.id = ?`, id)

	rec, err := scanDownload(row)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.DownloadRecord{}, fmt.Errorf("download %d: %w", id, storage.ErrNotFound)
	}

	return rec, err
}

func (r *DownloadRepository) ListDownloads(ctx context.Context, statuses ...storage.DownloadStatus) ([]storage.DownloadRecord, error) {
	query := selectDownloads
	args := make([]any, 0, len(statuses))

	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, s := range statuses {
			placeholders[i] = "?"
			args = append(args, string(s))
		}

		query += ` WHERE d.status IN (` + strings.Join(placeholders, ", ") + `)`
	}

	query += ` ORDER BY d.start_time DESC, d.id DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var downloads []storage.DownloadRecord

	for rows.Next() {
		rec, err := scanDownload(rows)
		if err != nil {
			return nil, err
		}

		downloads = append(downloads, rec)
	}

	return downloads, rows.Err()
}

func (r *DownloadRepository) UpdateProgress(ctx context.Context, id int64, progress float64, size int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE downloads SET progress = ?, size = ? WHERE id = ? AND status = 'downloading'`,
		progress, size, id,
	)

	return err
}

func (r *DownloadRepository) CompleteDownload(ctx context.Context, id int64, size int64, end time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE downloads SET status = 'completed', progress = 1.0, size = ?, end_time = ?
		WHERE id = ? AND status = 'downloading'`,
		size, end.UnixMilli(), id,
	)
	if err != nil {
		return err
	}

	return r.checkTransition(ctx, res, id)
}

func (r *DownloadRepository) EndDownload(ctx context.Context, id int64, status storage.DownloadStatus, end time.Time) error {
	if status != storage.StatusCancelled && status != storage.StatusFailed {
		return fmt.Errorf("end download %d: invalid terminal status %q", id, status)
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE downloads SET status = ?, end_time = ? WHERE id = ? AND status = 'downloading'`,
		string(status), end.UnixMilli(), id,
	)
	if err != nil {
		return err
	}

	return r.checkTransition(ctx, res, id)
}

// checkTransition tells a missing record apart from one that is already terminal.
func (r *DownloadRepository) checkTransition(ctx context.Context, res sql.Result, id int64) error {
	if n, err := res.RowsAffected(); err != nil || n > 0 {
		return err
	}

	var status string

	err := r.db.QueryRowContext(ctx, `SELECT status FROM downloads WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("download %d: %w", id, storage.ErrNotFound)
	}

	if err != nil {
		return err
	}

	return fmt.Errorf("download %d already %s: %w", id, status, storage.ErrConflict)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDownload(s scanner) (storage.DownloadRecord, error) {
	var (
		rec     storage.DownloadRecord
		status  string
		size    sql.NullInt64
		start   int64
		end     sql.NullInt64
		link    sql.NullInt64
		srcName string
	)

	err := s.Scan(&rec.ID, &rec.Title, &rec.FilePath, &size, &status, &rec.Progress, &start, &end, &link, &srcName)
	if err != nil {
		return storage.DownloadRecord{}, err
	}

	rec.Status = storage.DownloadStatus(status)
	rec.StartTime = time.UnixMilli(start)
	rec.SourceName = srcName

	if size.Valid {
		rec.Size = &size.Int64
	}

	if end.Valid {
		t := time.UnixMilli(end.Int64)
		rec.EndTime = &t
	}

	if link.Valid {
		rec.M3ULinkID = &link.Int64
	}

	return rec, nil
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}

	return sql.NullInt64{Int64: *v, Valid: true}
}

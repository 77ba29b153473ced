package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	// Both drivers are registered; DB_DRIVER picks one at runtime.
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

const (
	// DriverModernc is the pure-Go driver, the default. It needs no cgo toolchain.
	DriverModernc = "sqlite"
	// DriverMattn is the cgo driver.
	DriverMattn = "sqlite3"
)

// Defaults seeds the settings row the first time the database is created.
type Defaults struct {
	DownloadPath         string
	WebUIPort            int
	WatchlistRefreshRate int
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS settings (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		download_path TEXT NOT NULL,
		webui_port INTEGER NOT NULL,
		watchlist_refresh_rate INTEGER NOT NULL DEFAULT 60
	)`,
	`CREATE TABLE IF NOT EXISTS categories (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		download_path TEXT NOT NULL DEFAULT '',
		use_series_folders INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS m3u_links (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		category_id INTEGER NOT NULL REFERENCES categories(id) ON DELETE CASCADE,
		url TEXT NOT NULL,
		name TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS downloads (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		file_path TEXT NOT NULL,
		size INTEGER,
		status TEXT NOT NULL DEFAULT 'downloading'
			CHECK (status IN ('downloading', 'completed', 'cancelled', 'failed')),
		progress REAL NOT NULL DEFAULT 0,
		start_time INTEGER NOT NULL,
		end_time INTEGER,
		m3u_link_id INTEGER REFERENCES m3u_links(id) ON DELETE SET NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_downloads_status ON downloads(status)`,
	`CREATE TABLE IF NOT EXISTS watchlist (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		series_id TEXT NOT NULL UNIQUE,
		last_episode TEXT,
		added_at INTEGER NOT NULL
	)`,
}

// InitDB opens the database at path with the given driver, applies the schema and inserts the
// default settings row and categories when they are missing.
func InitDB(ctx context.Context, driver, path string, defaults Defaults) (*sql.DB, error) {
	dsn, err := buildDSN(driver, path)
	if err != nil {
		return nil, err
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}

	if err := insertDefaults(ctx, db, defaults); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// buildDSN sets foreign keys, busy timeout and WAL on every pooled connection. The two drivers
// spell these options differently.
func buildDSN(driver, path string) (string, error) {
	q := url.Values{}

	switch driver {
	case DriverModernc:
		q.Add("_pragma", "foreign_keys(1)")
		q.Add("_pragma", "busy_timeout(5000)")
		q.Add("_pragma", "journal_mode(WAL)")
	case DriverMattn:
		q.Set("_foreign_keys", "on")
		q.Set("_busy_timeout", "5000")
		q.Set("_journal_mode", "WAL")
	default:
		return "", fmt.Errorf("unsupported sqlite driver %q", driver)
	}

	return "file:" + path + "?" + q.Encode(), nil
}

func insertDefaults(ctx context.Context, db *sql.DB, d Defaults) error {
	if d.WebUIPort == 0 {
		d.WebUIPort = 3000
	}

	if d.WatchlistRefreshRate <= 0 {
		d.WatchlistRefreshRate = 60
	}

	_, err := db.ExecContext(ctx,
		`INSERT OR IGNORE INTO settings (id, download_path, webui_port, watchlist_refresh_rate) VALUES (1, ?, ?, ?)`,
		d.DownloadPath, d.WebUIPort, d.WatchlistRefreshRate,
	)
	if err != nil {
		return fmt.Errorf("insert default settings: %w", err)
	}

	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM categories`).Scan(&n); err != nil {
		return fmt.Errorf("count categories: %w", err)
	}

	if n == 0 {
		if _, err := db.ExecContext(ctx, `INSERT INTO categories (name) VALUES ('TV Shows'), ('Movies')`); err != nil {
			return fmt.Errorf("insert default categories: %w", err)
		}
	}

	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isForeignKeyViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

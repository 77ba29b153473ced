package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned for duplicate names/series and for transitions out of a terminal state.
	ErrConflict = errors.New("conflict")
)

type DownloadStatus string

const (
	StatusDownloading DownloadStatus = "downloading"
	StatusCompleted   DownloadStatus = "completed"
	StatusCancelled   DownloadStatus = "cancelled"
	StatusFailed      DownloadStatus = "failed"
)

// Terminal reports whether no further transition is allowed from s.
func (s DownloadStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusFailed
}

// DownloadRecord is the persisted state of one download. EndTime is set exactly when Status
// is terminal.
type DownloadRecord struct {
	ID         int64
	Title      string
	FilePath   string
	Size       *int64
	Status     DownloadStatus
	Progress   float64
	StartTime  time.Time
	EndTime    *time.Time
	M3ULinkID  *int64
	SourceName string // name of the originating playlist, when known
}

type Category struct {
	ID               int64
	Name             string
	DownloadPath     string
	UseSeriesFolders bool
}

type M3ULink struct {
	ID           int64
	CategoryID   int64
	URL          string
	Name         string
	CategoryName string
}

// WatchlistEntry tracks one series. LastEpisode is the serialized snapshot of the newest
// episode already downloaded, empty when none is known.
type WatchlistEntry struct {
	ID          int64
	Title       string
	SeriesID    string
	LastEpisode string
	AddedAt     time.Time
}

type Settings struct {
	DownloadPath         string
	WebUIPort            int
	WatchlistRefreshRate int // minutes
}

// RefreshInterval is WatchlistRefreshRate as a duration, falling back to def when unset.
func (s Settings) RefreshInterval(def time.Duration) time.Duration {
	if s.WatchlistRefreshRate <= 0 {
		return def
	}

	return time.Duration(s.WatchlistRefreshRate) * time.Minute
}

type DownloadRepository interface {
	// CreateDownload inserts rec in the downloading state and returns its id.
	CreateDownload(ctx context.Context, rec DownloadRecord) (int64, error)
	GetDownload(ctx context.Context, id int64) (DownloadRecord, error)
	// ListDownloads returns records newest first, restricted to statuses when any are given.
	ListDownloads(ctx context.Context, statuses ...DownloadStatus) ([]DownloadRecord, error)
	// UpdateProgress is a no-op for records that already left the downloading state.
	UpdateProgress(ctx context.Context, id int64, progress float64, size int64) error
	// CompleteDownload moves a downloading record to completed with progress 1.0.
	CompleteDownload(ctx context.Context, id int64, size int64, end time.Time) error
	// EndDownload moves a downloading record to cancelled or failed, leaving progress as is.
	EndDownload(ctx context.Context, id int64, status DownloadStatus, end time.Time) error
}

type CatalogRepository interface {
	ListCategories(ctx context.Context) ([]Category, error)
	GetCategory(ctx context.Context, id int64) (Category, error)
	GetCategoryByName(ctx context.Context, name string) (Category, error)
	CreateCategory(ctx context.Context, c Category) (int64, error)
	UpdateCategory(ctx context.Context, c Category) error
	DeleteCategory(ctx context.Context, id int64) error

	ListLinks(ctx context.Context) ([]M3ULink, error)
	ListLinksByCategory(ctx context.Context, categoryID int64) ([]M3ULink, error)
	GetLink(ctx context.Context, id int64) (M3ULink, error)
	CreateLink(ctx context.Context, l M3ULink) (int64, error)
	UpdateLink(ctx context.Context, l M3ULink) error
	DeleteLink(ctx context.Context, id int64) error
}

type WatchlistRepository interface {
	ListWatchlist(ctx context.Context) ([]WatchlistEntry, error)
	AddToWatchlist(ctx context.Context, e WatchlistEntry) (int64, error)
	RemoveFromWatchlist(ctx context.Context, id int64) error
	UpdateLastEpisode(ctx context.Context, id int64, snapshot string) error
}

type SettingsRepository interface {
	GetSettings(ctx context.Context) (Settings, error)
	UpdateSettings(ctx context.Context, s Settings) error
}

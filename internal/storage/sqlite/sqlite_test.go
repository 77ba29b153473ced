package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FaulknerMassimo/m3u-downloader/internal/storage"
	"github.com/FaulknerMassimo/m3u-downloader/internal/telemetry"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := InitDB(context.Background(), DriverModernc, filepath.Join(t.TempDir(), "test.db"), Defaults{
		DownloadPath:         "/downloads",
		WatchlistRefreshRate: 30,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return db
}

func seedLink(t *testing.T, db *sql.DB) (storage.Category, storage.M3ULink) {
	t.Helper()

	ctx := context.Background()
	catalog := NewCatalogRepository(db)

	cat, err := catalog.GetCategoryByName(ctx, "TV Shows")
	require.NoError(t, err)

	id, err := catalog.CreateLink(ctx, storage.M3ULink{CategoryID: cat.ID, URL: "http://example.com/tv.m3u", Name: "main"})
	require.NoError(t, err)

	link, err := catalog.GetLink(ctx, id)
	require.NoError(t, err)

	return cat, link
}

func TestInitDB_DefaultsAndIdempotency(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "test.db")
	ctx := context.Background()

	db, err := InitDB(ctx, DriverModernc, path, Defaults{DownloadPath: "/data"})
	require.NoError(t, err)

	settings, err := NewSettingsRepository(db).GetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, storage.Settings{DownloadPath: "/data", WebUIPort: 3000, WatchlistRefreshRate: 60}, settings)

	categories, err := NewCatalogRepository(db).ListCategories(ctx)
	require.NoError(t, err)
	require.Len(t, categories, 2)
	assert.Equal(t, "Movies", categories[0].Name)
	assert.Equal(t, "TV Shows", categories[1].Name)
	require.NoError(t, db.Close())

	// Reopening keeps existing rows untouched.
	db, err = InitDB(ctx, DriverModernc, path, Defaults{DownloadPath: "/elsewhere"})
	require.NoError(t, err)
	defer db.Close()

	settings, err = NewSettingsRepository(db).GetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, "/data", settings.DownloadPath)

	categories, err = NewCatalogRepository(db).ListCategories(ctx)
	require.NoError(t, err)
	assert.Len(t, categories, 2)
}

func TestInitDB_MattnDriver(t *testing.T) {
	db, err := InitDB(context.Background(), DriverMattn, filepath.Join(t.TempDir(), "cgo.db"), Defaults{DownloadPath: "/d"})
	if err != nil && strings.Contains(err.Error(), "CGO_ENABLED") {
		t.Skip("mattn/go-sqlite3 requires cgo")
	}

	require.NoError(t, err)
	defer db.Close()

	id, err := NewDownloadRepository(db).CreateDownload(context.Background(), storage.DownloadRecord{Title: "x", FilePath: "/d/x.mp4"})
	require.NoError(t, err)
	assert.Positive(t, id)
}

func TestInitDB_UnknownDriver(t *testing.T) {
	_, err := InitDB(context.Background(), "postgres", filepath.Join(t.TempDir(), "x.db"), Defaults{})
	assert.ErrorContains(t, err, "unsupported sqlite driver")
}

func TestDownloadRepository_Lifecycle(t *testing.T) {
	db := openTestDB(t)
	_, link := seedLink(t, db)
	repo := NewDownloadRepository(db)
	ctx := context.Background()

	start := time.UnixMilli(time.Now().UnixMilli())

	id, err := repo.CreateDownload(ctx, storage.DownloadRecord{
		Title:     "Show S01E01",
		FilePath:  "/downloads/Show_S01E01.mp4",
		StartTime: start,
		M3ULinkID: &link.ID,
	})
	require.NoError(t, err)

	rec, err := repo.GetDownload(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusDownloading, rec.Status)
	assert.Equal(t, start, rec.StartTime)
	assert.Nil(t, rec.EndTime)
	assert.Nil(t, rec.Size)
	assert.Zero(t, rec.Progress)
	assert.Equal(t, "main", rec.SourceName)
	require.NotNil(t, rec.M3ULinkID)
	assert.Equal(t, link.ID, *rec.M3ULinkID)

	require.NoError(t, repo.UpdateProgress(ctx, id, 0.5, 512))

	rec, err = repo.GetDownload(ctx, id)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, rec.Progress, 1e-9)
	require.NotNil(t, rec.Size)
	assert.Equal(t, int64(512), *rec.Size)

	end := start.Add(time.Minute)
	require.NoError(t, repo.CompleteDownload(ctx, id, 1024, end))

	rec, err = repo.GetDownload(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusCompleted, rec.Status)
	assert.InDelta(t, 1.0, rec.Progress, 1e-9)
	assert.Equal(t, int64(1024), *rec.Size)
	require.NotNil(t, rec.EndTime)
	assert.Equal(t, end, *rec.EndTime)

	// Terminal states are final and progress writes are ignored.
	err = repo.EndDownload(ctx, id, storage.StatusFailed, end)
	require.ErrorIs(t, err, storage.ErrConflict)
	require.NoError(t, repo.UpdateProgress(ctx, id, 0.1, 1))

	rec, err = repo.GetDownload(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusCompleted, rec.Status)
	assert.InDelta(t, 1.0, rec.Progress, 1e-9)
}

func TestDownloadRepository_EndKeepsProgress(t *testing.T) {
	db := openTestDB(t)
	repo := NewDownloadRepository(db)
	ctx := context.Background()

	for _, status := range []storage.DownloadStatus{storage.StatusCancelled, storage.StatusFailed} {
		t.Run(string(status), func(t *testing.T) {
			id, err := repo.CreateDownload(ctx, storage.DownloadRecord{Title: "t", FilePath: "/f"})
			require.NoError(t, err)
			require.NoError(t, repo.UpdateProgress(ctx, id, 0.25, 100))

			require.NoError(t, repo.EndDownload(ctx, id, status, time.Now()))

			rec, err := repo.GetDownload(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, status, rec.Status)
			assert.InDelta(t, 0.25, rec.Progress, 1e-9)
			assert.NotNil(t, rec.EndTime)
		})
	}

	err := repo.EndDownload(ctx, 999, storage.StatusFailed, time.Now())
	assert.ErrorIs(t, err, storage.ErrNotFound)

	err = repo.EndDownload(ctx, 1, storage.StatusCompleted, time.Now())
	assert.ErrorContains(t, err, "invalid terminal status")

	_, err = repo.GetDownload(ctx, 999)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDownloadRepository_ListByStatus(t *testing.T) {
	db := openTestDB(t)
	repo := NewDownloadRepository(db)
	ctx := context.Background()
	base := time.Now()

	active, err := repo.CreateDownload(ctx, storage.DownloadRecord{Title: "a", FilePath: "/a", StartTime: base})
	require.NoError(t, err)
	done, err := repo.CreateDownload(ctx, storage.DownloadRecord{Title: "b", FilePath: "/b", StartTime: base.Add(time.Second)})
	require.NoError(t, err)
	require.NoError(t, repo.CompleteDownload(ctx, done, 1, time.Now()))

	all, err := repo.ListDownloads(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, done, all[0].ID, "newest first")

	downloading, err := repo.ListDownloads(ctx, storage.StatusDownloading)
	require.NoError(t, err)
	require.Len(t, downloading, 1)
	assert.Equal(t, active, downloading[0].ID)

	history, err := repo.ListDownloads(ctx, storage.StatusCompleted, storage.StatusCancelled, storage.StatusFailed)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, done, history[0].ID)
}

func TestDownloadRepository_UnknownLink(t *testing.T) {
	db := openTestDB(t)
	missing := int64(77)

	_, err := NewDownloadRepository(db).CreateDownload(context.Background(), storage.DownloadRecord{
		Title: "t", FilePath: "/f", M3ULinkID: &missing,
	})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCatalogRepository(t *testing.T) {
	db := openTestDB(t)
	repo := NewCatalogRepository(db)
	ctx := context.Background()

	id, err := repo.CreateCategory(ctx, storage.Category{Name: "Anime", DownloadPath: "/anime", UseSeriesFolders: true})
	require.NoError(t, err)

	_, err = repo.CreateCategory(ctx, storage.Category{Name: "Anime"})
	require.ErrorIs(t, err, storage.ErrConflict)

	cat, err := repo.GetCategory(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, storage.Category{ID: id, Name: "Anime", DownloadPath: "/anime", UseSeriesFolders: true}, cat)

	cat.UseSeriesFolders = false
	require.NoError(t, repo.UpdateCategory(ctx, cat))
	require.ErrorIs(t, repo.UpdateCategory(ctx, storage.Category{ID: 999, Name: "x"}), storage.ErrNotFound)

	linkID, err := repo.CreateLink(ctx, storage.M3ULink{CategoryID: id, URL: "http://example.com/a.m3u"})
	require.NoError(t, err)

	link, err := repo.GetLink(ctx, linkID)
	require.NoError(t, err)
	assert.Equal(t, "http://example.com/a.m3u", link.Name, "name defaults to url")
	assert.Equal(t, "Anime", link.CategoryName)

	_, err = repo.CreateLink(ctx, storage.M3ULink{CategoryID: 999, URL: "http://x"})
	require.ErrorIs(t, err, storage.ErrNotFound)

	link.Name = "renamed"
	require.NoError(t, repo.UpdateLink(ctx, link))

	links, err := repo.ListLinksByCategory(ctx, id)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, "renamed", links[0].Name)

	// Deleting the category cascades to its playlists.
	require.NoError(t, repo.DeleteCategory(ctx, id))

	links, err = repo.ListLinks(ctx)
	require.NoError(t, err)
	assert.Empty(t, links)

	require.ErrorIs(t, repo.DeleteCategory(ctx, id), storage.ErrNotFound)
	require.ErrorIs(t, repo.DeleteLink(ctx, linkID), storage.ErrNotFound)
}

func TestWatchlistRepository(t *testing.T) {
	db := openTestDB(t)
	repo := NewWatchlistRepository(db)
	ctx := context.Background()

	id, err := repo.AddToWatchlist(ctx, storage.WatchlistEntry{Title: "Breaking Bad", SeriesID: "YnJlYWtpbmcgYmFk"})
	require.NoError(t, err)

	_, err = repo.AddToWatchlist(ctx, storage.WatchlistEntry{Title: "Breaking Bad", SeriesID: "YnJlYWtpbmcgYmFk"})
	require.ErrorIs(t, err, storage.ErrConflict)

	entries, err := repo.ListWatchlist(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Empty(t, entries[0].LastEpisode)
	assert.False(t, entries[0].AddedAt.IsZero())

	snapshot := `{"id":"x","title":"Breaking Bad S01E02","season":1,"episode":2}`
	require.NoError(t, repo.UpdateLastEpisode(ctx, id, snapshot))

	entries, err = repo.ListWatchlist(ctx)
	require.NoError(t, err)
	assert.Equal(t, snapshot, entries[0].LastEpisode)

	require.NoError(t, repo.RemoveFromWatchlist(ctx, id))
	require.ErrorIs(t, repo.RemoveFromWatchlist(ctx, id), storage.ErrNotFound)
	require.ErrorIs(t, repo.UpdateLastEpisode(ctx, id, snapshot), storage.ErrNotFound)
}

func TestSettingsRepository(t *testing.T) {
	db := openTestDB(t)
	repo := NewSettingsRepository(db)
	ctx := context.Background()

	s, err := repo.GetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 30, s.WatchlistRefreshRate)
	assert.Equal(t, 30*time.Minute, s.RefreshInterval(time.Hour))

	s.DownloadPath = "/new"
	s.WatchlistRefreshRate = 5
	require.NoError(t, repo.UpdateSettings(ctx, s))

	got, err := repo.GetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, s, got)

	assert.Equal(t, time.Hour, storage.Settings{}.RefreshInterval(time.Hour))
}

func TestInstrumentedDownloadRepository(t *testing.T) {
	db := openTestDB(t)

	tel, err := telemetry.New(context.Background(), telemetry.Config{Enabled: false})
	require.NoError(t, err)

	var repo storage.DownloadRepository = NewInstrumentedDownloadRepository(db, tel)
	ctx := context.Background()

	id, err := repo.CreateDownload(ctx, storage.DownloadRecord{Title: "t", FilePath: "/f"})
	require.NoError(t, err)
	require.NoError(t, repo.UpdateProgress(ctx, id, 0.5, 10))
	require.NoError(t, repo.EndDownload(ctx, id, storage.StatusCancelled, time.Now()))

	rec, err := repo.GetDownload(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusCancelled, rec.Status)

	list, err := repo.ListDownloads(ctx, storage.StatusCancelled)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.ErrorIs(t, repo.CompleteDownload(ctx, id, 1, time.Now()), storage.ErrConflict)
}

// Package library decides where a download is written on disk.
package library

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/FaulknerMassimo/m3u-downloader/internal/downloader"
	"github.com/FaulknerMassimo/m3u-downloader/internal/errdefs"
	"github.com/FaulknerMassimo/m3u-downloader/internal/logctx"
	"github.com/FaulknerMassimo/m3u-downloader/internal/storage"
)

type Resolver struct {
	settings storage.SettingsRepository
	catalog  storage.CatalogRepository
	fallback string
}

// NewResolver returns a Resolver. fallback is used when the settings row has no download path.
func NewResolver(settings storage.SettingsRepository, catalog storage.CatalogRepository, fallback string) *Resolver {
	return &Resolver{settings: settings, catalog: catalog, fallback: fallback}
}

type Request struct {
	// LinkID is the playlist the entry came from, if known.
	LinkID *int64
	// SeriesName is the parsed series name; empty for movies.
	SeriesName string
	// BaseDir replaces the configured download path when set.
	BaseDir string
}

// Resolve returns the destination directory for req.
//
// The base is BaseDir, else the settings download path. A category download path on the
// link's category overrides the base, and a category with series folders enabled gets a
// sanitized per-series subdirectory. A link or category that cannot be loaded is logged and
// ignored.
func (r *Resolver) Resolve(ctx context.Context, req Request) (string, error) {
	logger := logctx.LoggerFromContext(ctx)

	dir := req.BaseDir
	if dir == "" {
		s, err := r.settings.GetSettings(ctx)
		if err != nil {
			return "", &errdefs.StorageError{Operation: "get_settings", Err: err}
		}

		dir = s.DownloadPath
	}

	if dir == "" {
		dir = r.fallback
	}

	if req.LinkID == nil {
		return dir, nil
	}

	cat, err := r.categoryOf(ctx, *req.LinkID)
	if err != nil {
		logger.WarnContext(ctx, "using default download path", "m3u_link_id", *req.LinkID, "err", err)
		return dir, nil
	}

	if cat.DownloadPath != "" {
		dir = cat.DownloadPath
	}

	if cat.UseSeriesFolders && req.SeriesName != "" {
		dir = filepath.Join(dir, downloader.SafeFileName(req.SeriesName))
	}

	return dir, nil
}

func (r *Resolver) categoryOf(ctx context.Context, linkID int64) (storage.Category, error) {
	link, err := r.catalog.GetLink(ctx, linkID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.Category{}, fmt.Errorf("m3u link %d: %w", linkID, err)
		}

		return storage.Category{}, &errdefs.StorageError{Operation: "get_link", Err: err}
	}

	cat, err := r.catalog.GetCategory(ctx, link.CategoryID)
	if err != nil {
		return storage.Category{}, fmt.Errorf("category %d: %w", link.CategoryID, err)
	}

	return cat, nil
}

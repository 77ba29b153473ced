package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/FaulknerMassimo/m3u-downloader/internal/downloader"
	"github.com/FaulknerMassimo/m3u-downloader/internal/downloader/progress"
	"github.com/FaulknerMassimo/m3u-downloader/internal/library"
	"github.com/FaulknerMassimo/m3u-downloader/internal/logctx"
	"github.com/FaulknerMassimo/m3u-downloader/internal/search"
	"github.com/FaulknerMassimo/m3u-downloader/internal/series"
	"github.com/FaulknerMassimo/m3u-downloader/internal/storage"
)

const maxBodySize = 1 << 20

// errValidation marks a request body or parameter the handler rejects.
var errValidation = errors.New("validation failed")

type Engine interface {
	Start(ctx context.Context, req downloader.StartRequest) (int64, error)
	Cancel(ctx context.Context, id int64) bool
	Status(id int64) (progress.Sample, bool)
	Active() map[int64]progress.Sample
}

type Searcher interface {
	Search(ctx context.Context, query, category string) ([]series.Group, error)
	Episodes(ctx context.Context, seriesID string) ([]series.Episode, error)
}

type Resolver interface {
	Resolve(ctx context.Context, req library.Request) (string, error)
}

// Deps are the services the API serves.
type Deps struct {
	Engine    Engine
	Search    Searcher
	Resolver  Resolver
	Downloads storage.DownloadRepository
	Catalog   storage.CatalogRepository
	Watchlist storage.WatchlistRepository
	Settings  storage.SettingsRepository
}

type APIHandler struct {
	Deps
}

func NewAPIHandler(d Deps) *APIHandler {
	return &APIHandler{Deps: d}
}

// Routes returns the router to be mounted under /api.
func (h *APIHandler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/search", h.handleSearch)
	r.Get("/series/{seriesID}/episodes", h.handleEpisodes)

	r.Get("/downloads", h.handleListDownloads)
	r.Get("/downloads/active", h.handleActiveDownloads)
	r.Get("/downloads/history", h.handleDownloadHistory)
	r.Get("/downloads/{id}", h.handleGetDownload)
	r.Get("/downloads/{id}/status", h.handleDownloadStatus)
	r.Delete("/downloads/{id}", h.handleCancelDownload)
	r.Post("/download", h.handleStartDownload)

	r.Get("/watchlist", h.handleListWatchlist)
	r.Post("/watchlist", h.handleAddToWatchlist)
	r.Delete("/watchlist/{id}", h.handleRemoveFromWatchlist)

	r.Get("/settings", h.handleGetSettings)
	r.Put("/settings", h.handleUpdateSettings)

	r.Get("/categories", h.handleListCategories)
	r.Post("/categories", h.handleCreateCategory)
	r.Put("/categories/{id}", h.handleUpdateCategory)
	r.Delete("/categories/{id}", h.handleDeleteCategory)

	r.Get("/m3u-links", h.handleListLinks)
	// GET takes a category id; PUT and DELETE take a link id.
	r.Get("/m3u-links/{id}", h.handleListLinksByCategory)
	r.Post("/m3u-links", h.handleCreateLink)
	r.Put("/m3u-links/{id}", h.handleUpdateLink)
	r.Delete("/m3u-links/{id}", h.handleDeleteLink)

	return r
}

type errorResponse struct {
	Error string `json:"error"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		logctx.LoggerFromContext(r.Context()).Error("failed to encode response", "err", err)
	}
}

// writeError maps err to a status code: not found 404, validation 400, conflict 409, and 500
// for anything else.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, errValidation),
		errors.Is(err, downloader.ErrInvalidRequest),
		errors.Is(err, search.ErrInvalidQuery):
		status = http.StatusBadRequest
	case errors.Is(err, storage.ErrConflict):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		logctx.LoggerFromContext(r.Context()).ErrorContext(r.Context(), "failed to handle request",
			"method", r.Method, "path", r.URL.Path, "err", err)
	}

	writeJSON(w, r, status, errorResponse{Error: err.Error()})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: request body is empty", errValidation)
		}

		return fmt.Errorf("%w: invalid request body: %v", errValidation, err)
	}

	return nil
}

func idParam(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)

	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid %s %q", errValidation, name, raw)
	}

	return id, nil
}

// pathParam returns a URL parameter unescaped. Series ids are base64 and may arrive with %2F.
func pathParam(r *http.Request, name string) (string, error) {
	v, err := url.PathUnescape(chi.URLParam(r, name))
	if err != nil {
		return "", fmt.Errorf("%w: invalid %s: %v", errValidation, name, err)
	}

	return v, nil
}

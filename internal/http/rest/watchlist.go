package rest

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/FaulknerMassimo/m3u-downloader/internal/series"
	"github.com/FaulknerMassimo/m3u-downloader/internal/storage"
)

type watchlistEntry struct {
	ID          int64   `json:"id"`
	Title       string  `json:"title"`
	SeriesID    string  `json:"series_id"`
	LastEpisode *string `json:"last_episode"`
	AddedAt     int64   `json:"added_at"`
}

func newWatchlistEntry(e storage.WatchlistEntry) watchlistEntry {
	out := watchlistEntry{ID: e.ID, Title: e.Title, SeriesID: e.SeriesID, AddedAt: e.AddedAt.UnixMilli()}
	if e.LastEpisode != "" {
		out.LastEpisode = &e.LastEpisode
	}

	return out
}

func (h *APIHandler) handleListWatchlist(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Watchlist.ListWatchlist(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := make([]watchlistEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, newWatchlistEntry(e))
	}

	writeJSON(w, r, http.StatusOK, out)
}

type addToWatchlistRequest struct {
	Title       string `json:"title"`
	SeriesID    string `json:"series_id"`
	LastEpisode string `json:"last_episode"`
}

func (h *APIHandler) handleAddToWatchlist(w http.ResponseWriter, r *http.Request) {
	var req addToWatchlistRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	if strings.TrimSpace(req.Title) == "" || strings.TrimSpace(req.SeriesID) == "" {
		writeError(w, r, fmt.Errorf("%w: title and series_id are required", errValidation))
		return
	}

	if _, err := series.Name(req.SeriesID); err != nil {
		writeError(w, r, fmt.Errorf("%w: %w", errValidation, err))
		return
	}

	entry := storage.WatchlistEntry{Title: req.Title, SeriesID: req.SeriesID, LastEpisode: req.LastEpisode}

	id, err := h.Watchlist.AddToWatchlist(r.Context(), entry)
	if err != nil {
		writeError(w, r, err)
		return
	}

	entries, err := h.Watchlist.ListWatchlist(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	for _, e := range entries {
		if e.ID == id {
			writeJSON(w, r, http.StatusCreated, newWatchlistEntry(e))
			return
		}
	}

	writeError(w, r, fmt.Errorf("watchlist entry %d: %w", id, storage.ErrNotFound))
}

func (h *APIHandler) handleRemoveFromWatchlist(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.Watchlist.RemoveFromWatchlist(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, messageResponse{Message: "removed from watchlist"})
}

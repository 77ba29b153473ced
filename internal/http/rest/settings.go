package rest

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/FaulknerMassimo/m3u-downloader/internal/storage"
)

type settingsPayload struct {
	DownloadPath         string `json:"download_path"`
	WebUIPort            int    `json:"webui_port"`
	WatchlistRefreshRate int    `json:"watchlist_refresh_rate"`
}

func (h *APIHandler) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	s, err := h.Settings.GetSettings(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, settingsPayload(s))
}

func (h *APIHandler) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsPayload
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	var problems []string

	if strings.TrimSpace(req.DownloadPath) == "" {
		problems = append(problems, "download_path is required")
	}

	if req.WebUIPort < 1 || req.WebUIPort > 65535 {
		problems = append(problems, "webui_port must be between 1 and 65535")
	}

	if req.WatchlistRefreshRate < 1 {
		problems = append(problems, "watchlist_refresh_rate must be at least 1 minute")
	}

	if len(problems) > 0 {
		writeError(w, r, fmt.Errorf("%w: %s", errValidation, strings.Join(problems, "; ")))
		return
	}

	if err := h.Settings.UpdateSettings(r.Context(), storage.Settings(req)); err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, req)
}

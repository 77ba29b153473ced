package rest

import (
	"net/http"

	"github.com/FaulknerMassimo/m3u-downloader/internal/series"
)

type searchResponse struct {
	Results []series.Group `json:"results"`
}

type episodesResponse struct {
	Episodes []series.Episode `json:"episodes"`
}

func (h *APIHandler) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	groups, err := h.Search.Search(r.Context(), q.Get("query"), q.Get("category"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	if groups == nil {
		groups = []series.Group{}
	}

	writeJSON(w, r, http.StatusOK, searchResponse{Results: groups})
}

func (h *APIHandler) handleEpisodes(w http.ResponseWriter, r *http.Request) {
	seriesID, err := pathParam(r, "seriesID")
	if err != nil {
		writeError(w, r, err)
		return
	}

	episodes, err := h.Search.Episodes(r.Context(), seriesID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if episodes == nil {
		episodes = []series.Episode{}
	}

	writeJSON(w, r, http.StatusOK, episodesResponse{Episodes: episodes})
}

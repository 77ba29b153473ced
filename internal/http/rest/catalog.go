package rest

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/FaulknerMassimo/m3u-downloader/internal/storage"
)

type categoryPayload struct {
	ID               int64  `json:"id"`
	Name             string `json:"name"`
	DownloadPath     string `json:"download_path"`
	UseSeriesFolders bool   `json:"use_series_folders"`
}

type linkPayload struct {
	ID           int64  `json:"id"`
	CategoryID   int64  `json:"category_id"`
	URL          string `json:"url"`
	Name         string `json:"name"`
	CategoryName string `json:"category_name,omitempty"`
}

func (h *APIHandler) handleListCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := h.Catalog.ListCategories(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := make([]categoryPayload, 0, len(cats))
	for _, c := range cats {
		out = append(out, categoryPayload(c))
	}

	writeJSON(w, r, http.StatusOK, out)
}

func decodeCategory(w http.ResponseWriter, r *http.Request) (storage.Category, error) {
	var req categoryPayload
	if err := decodeBody(w, r, &req); err != nil {
		return storage.Category{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return storage.Category{}, fmt.Errorf("%w: category name is required", errValidation)
	}

	return storage.Category(req), nil
}

func (h *APIHandler) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	c, err := decodeCategory(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	c.ID, err = h.Catalog.CreateCategory(r.Context(), c)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusCreated, categoryPayload(c))
}

func (h *APIHandler) handleUpdateCategory(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	c, err := decodeCategory(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	c.ID = id

	if err := h.Catalog.UpdateCategory(r.Context(), c); err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, categoryPayload(c))
}

func (h *APIHandler) handleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.Catalog.DeleteCategory(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, messageResponse{Message: "category deleted"})
}

func writeLinks(w http.ResponseWriter, r *http.Request, links []storage.M3ULink) {
	out := make([]linkPayload, 0, len(links))
	for _, l := range links {
		out = append(out, linkPayload(l))
	}

	writeJSON(w, r, http.StatusOK, out)
}

func (h *APIHandler) handleListLinks(w http.ResponseWriter, r *http.Request) {
	links, err := h.Catalog.ListLinks(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeLinks(w, r, links)
}

func (h *APIHandler) handleListLinksByCategory(w http.ResponseWriter, r *http.Request) {
	categoryID, err := idParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	links, err := h.Catalog.ListLinksByCategory(r.Context(), categoryID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeLinks(w, r, links)
}

func decodeLink(w http.ResponseWriter, r *http.Request) (storage.M3ULink, error) {
	var req linkPayload
	if err := decodeBody(w, r, &req); err != nil {
		return storage.M3ULink{}, err
	}

	req.URL = strings.TrimSpace(req.URL)

	if req.CategoryID <= 0 || req.URL == "" {
		return storage.M3ULink{}, fmt.Errorf("%w: category_id and url are required", errValidation)
	}

	if u, err := url.Parse(req.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return storage.M3ULink{}, fmt.Errorf("%w: %q is not an http(s) url", errValidation, req.URL)
	}

	return storage.M3ULink(req), nil
}

func (h *APIHandler) handleCreateLink(w http.ResponseWriter, r *http.Request) {
	l, err := decodeLink(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	id, err := h.Catalog.CreateLink(r.Context(), l)
	if err != nil {
		writeError(w, r, err)
		return
	}

	created, err := h.Catalog.GetLink(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusCreated, linkPayload(created))
}

func (h *APIHandler) handleUpdateLink(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	l, err := decodeLink(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	l.ID = id

	if err := h.Catalog.UpdateLink(r.Context(), l); err != nil {
		writeError(w, r, err)
		return
	}

	updated, err := h.Catalog.GetLink(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, linkPayload(updated))
}

func (h *APIHandler) handleDeleteLink(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.Catalog.DeleteLink(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, messageResponse{Message: "m3u link deleted"})
}

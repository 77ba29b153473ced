package rest

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/FaulknerMassimo/m3u-downloader/internal/downloader"
	"github.com/FaulknerMassimo/m3u-downloader/internal/downloader/progress"
	"github.com/FaulknerMassimo/m3u-downloader/internal/library"
	"github.com/FaulknerMassimo/m3u-downloader/internal/m3u"
	"github.com/FaulknerMassimo/m3u-downloader/internal/storage"
)

// downloadResponse is a download record; the live fields are set while a transfer runs.
type downloadResponse struct {
	ID         int64   `json:"id"`
	Title      string  `json:"title"`
	FilePath   string  `json:"file_path"`
	Size       *int64  `json:"size"`
	Status     string  `json:"status"`
	Progress   float64 `json:"progress"`
	StartTime  int64   `json:"start_time"`
	EndTime    *int64  `json:"end_time"`
	M3ULinkID  *int64  `json:"m3u_link_id"`
	SourceName *string `json:"source_name"`

	Speed           *float64 `json:"speed,omitempty"`
	ETA             *int64   `json:"eta,omitempty"`
	BytesDownloaded *int64   `json:"bytesDownloaded,omitempty"`
	TotalBytes      *int64   `json:"totalBytes,omitempty"`
}

func newDownloadResponse(rec storage.DownloadRecord, live map[int64]progress.Sample) downloadResponse {
	resp := downloadResponse{
		ID:        rec.ID,
		Title:     rec.Title,
		FilePath:  rec.FilePath,
		Size:      rec.Size,
		Status:    string(rec.Status),
		Progress:  rec.Progress,
		StartTime: rec.StartTime.UnixMilli(),
		M3ULinkID: rec.M3ULinkID,
	}

	if rec.EndTime != nil {
		end := rec.EndTime.UnixMilli()
		resp.EndTime = &end
	}

	if rec.SourceName != "" {
		resp.SourceName = &rec.SourceName
	}

	if s, ok := live[rec.ID]; ok && rec.Status == storage.StatusDownloading {
		resp.Progress = s.Progress
		resp.Speed = &s.Speed
		resp.ETA = &s.ETA
		resp.BytesDownloaded = &s.BytesDownloaded
		resp.TotalBytes = &s.TotalBytes
	}

	return resp
}

func (h *APIHandler) listDownloads(w http.ResponseWriter, r *http.Request, statuses ...storage.DownloadStatus) {
	records, err := h.Downloads.ListDownloads(r.Context(), statuses...)
	if err != nil {
		writeError(w, r, err)
		return
	}

	live := h.Engine.Active()

	out := make([]downloadResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, newDownloadResponse(rec, live))
	}

	writeJSON(w, r, http.StatusOK, out)
}

func (h *APIHandler) handleListDownloads(w http.ResponseWriter, r *http.Request) {
	h.listDownloads(w, r)
}

func (h *APIHandler) handleActiveDownloads(w http.ResponseWriter, r *http.Request) {
	h.listDownloads(w, r, storage.StatusDownloading)
}

func (h *APIHandler) handleDownloadHistory(w http.ResponseWriter, r *http.Request) {
	h.listDownloads(w, r, storage.StatusCompleted, storage.StatusCancelled, storage.StatusFailed)
}

func (h *APIHandler) handleGetDownload(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	rec, err := h.Downloads.GetDownload(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, newDownloadResponse(rec, h.Engine.Active()))
}

func (h *APIHandler) handleDownloadStatus(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	s, ok := h.Engine.Status(id)
	if !ok {
		writeError(w, r, fmt.Errorf("download %d is not active: %w", id, storage.ErrNotFound))
		return
	}

	writeJSON(w, r, http.StatusOK, s)
}

type startDownloadRequest struct {
	URL          string `json:"url"`
	Title        string `json:"title"`
	M3ULinkID    *int64 `json:"m3u_link_id"`
	DownloadPath string `json:"download_path"`
}

func (h *APIHandler) handleStartDownload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req startDownloadRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	if strings.TrimSpace(req.URL) == "" || strings.TrimSpace(req.Title) == "" {
		writeError(w, r, fmt.Errorf("%w: url and title are required", errValidation))
		return
	}

	seriesName, _, _, _ := m3u.ParseSeries(req.Title)

	dir, err := h.Resolver.Resolve(ctx, library.Request{
		LinkID:     req.M3ULinkID,
		SeriesName: seriesName,
		BaseDir:    req.DownloadPath,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	id, err := h.Engine.Start(ctx, downloader.StartRequest{
		URL:    req.URL,
		Title:  req.Title,
		LinkID: req.M3ULinkID,
		Dir:    dir,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	rec, err := h.Downloads.GetDownload(ctx, id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusCreated, newDownloadResponse(rec, nil))
}

func (h *APIHandler) handleCancelDownload(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	if !h.Engine.Cancel(r.Context(), id) {
		writeError(w, r, fmt.Errorf("download %d not found or already finished: %w", id, storage.ErrNotFound))
		return
	}

	writeJSON(w, r, http.StatusOK, messageResponse{Message: "download cancelled"})
}

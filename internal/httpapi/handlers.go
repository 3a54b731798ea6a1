package httpapi

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"tunedrop/internal/jobs"
)

type searchRequest struct {
	Query string `json:"query"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	results, err := s.engine.Search(r.Context(), req.Query, s.searchLimit)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, results)
}

type submitRequest struct {
	VideoID string `json:"video_id"`
	URL     string `json:"url"`
	Quality string `json:"quality"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	sourceRef := req.URL
	if sourceRef == "" && req.VideoID != "" {
		sourceRef = "https://www.youtube.com/watch?v=" + req.VideoID
	}
	if sourceRef == "" {
		writeError(w, http.StatusBadRequest, "video_id or url is required")
		return
	}
	quality := req.Quality
	if quality == "" {
		quality = s.defaultQuality
	}

	id := s.manager.Submit(sourceRef, quality)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"download_id": id,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	job, ok := s.manager.Status(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, statusPayload(job))
}

// handleTakeResult serves the one-shot pull read: a terminal payload is
// evicted on first read, further reads report not found. Progress reads
// pass through unchanged.
func (s *Server) handleTakeResult(w http.ResponseWriter, r *http.Request) {
	job, ok := s.manager.TakeResult(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, statusPayload(job))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	records, err := s.history.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")
	if filename == "" || filename != filepath.Base(filename) || strings.Contains(filename, "..") {
		writeError(w, http.StatusBadRequest, "invalid filename")
		return
	}

	path := filepath.Join(s.downloadDir, filename)
	if stat, err := os.Stat(path); err != nil || !stat.Mode().IsRegular() {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	http.ServeFile(w, r, path)
}

func statusPayload(job *jobs.DownloadJob) map[string]any {
	switch job.State {
	case jobs.StateComplete:
		return map[string]any{"status": "complete", "filename": job.Filename}
	case jobs.StateFailed:
		return map[string]any{"status": "error", "message": job.Error}
	case jobs.StateDownloading:
		return map[string]any{"status": "downloading", "progress": job.Progress}
	default:
		return map[string]any{"status": "queued", "progress": 0}
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"tunedrop/internal/jobs"
)

// handleEvents streams one job's state transitions as server-sent
// events. The stream opens with the current snapshot so late
// subscribers see the state they missed, and ends after the terminal
// event. Delivery is best-effort; the terminal value stays recoverable
// through the pull endpoints.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// Snapshot and subscription are taken atomically, so the stream
	// neither misses a transition nor replays one older than the
	// snapshot it opens with.
	job, events, cancel, ok := s.manager.Watch(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	send := func(event jobs.Event) bool {
		payload, err := json.Marshal(event)
		if err != nil {
			return false
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	current := jobs.Event{
		JobID:    job.ID,
		State:    job.State,
		Progress: job.Progress,
		Filename: job.Filename,
		Error:    job.Error,
	}
	if !send(current) || current.State.Terminal() {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case event, open := <-events:
			if !open {
				return
			}
			if !send(event) {
				return
			}
			if event.State.Terminal() {
				return
			}
		}
	}
}

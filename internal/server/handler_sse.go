package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/me/tasker/pkg/model"
)

// sseHeartbeat is how often an idle event stream gets a comment line.
const sseHeartbeat = 15 * time.Second

// handleSSEBoard streams board changes via Server-Sent Events: one "init"
// event with the full board, then an "update" event with the changed entry
// for every record the board receives.
// GET /api/v1/sse/board
func (s *Server) handleSSEBoard(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	if s.board == nil || s.events == nil {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("event stream", "board"))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError("streaming not supported"))
		return
	}

	// Subscribe before the snapshot so no change falls between the two.
	records, cancel := s.events.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	if err := sendSSEEvent(w, flusher, "init", s.board.Snapshot()); err != nil {
		s.logger.Debug("sse client disconnected", "error", err)
		return
	}

	ticker := time.NewTicker(sseHeartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case rec, ok := <-records:
			if !ok {
				return
			}
			entry, found := s.board.Get(rec.TaskID)
			if !found {
				continue
			}
			if err := sendSSEEvent(w, flusher, "update", entry); err != nil {
				s.logger.Debug("sse client disconnected", "error", err)
				return
			}
		case <-ticker.C:
			if _, err := fmt.Fprintf(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

package server

import (
	"net/http"

	"github.com/me/tasker/internal/board"
)

func (s *Server) handleBoard(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	if s.board == nil {
		respondOK(w, reqID, []board.Entry{})
		return
	}
	respondOK(w, reqID, s.board.Snapshot())
}

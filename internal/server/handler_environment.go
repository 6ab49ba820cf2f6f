package server

import (
	"net/http"
	"time"

	"github.com/me/tasker/internal/scheduler"
	"github.com/me/tasker/pkg/model"
)

func (s *Server) handleGetEnvironment(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	if s.scheduler == nil {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("scheduler", "environment"))
		return
	}
	respondOK(w, reqID, s.environmentView())
}

// handleUpdateEnvironment merges the patch into the scheduler environment.
// A new interval takes effect immediately.
func (s *Server) handleUpdateEnvironment(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	if s.scheduler == nil {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("scheduler", "environment"))
		return
	}

	var patch model.EnvironmentPatch
	if err := decodeJSON(r, &patch); err != nil {
		respondError(w, reqID, http.StatusBadRequest, model.NewValidationError("invalid JSON body: "+err.Error()))
		return
	}

	u := scheduler.EnvironmentUpdate{Values: patch.Values}
	if patch.IntervalMS != nil {
		if *patch.IntervalMS <= 0 {
			respondError(w, reqID, http.StatusBadRequest, model.NewValidationError("invalid environment",
				model.FieldError{Field: "interval_ms", Message: "must be positive"}))
			return
		}
		d := time.Duration(*patch.IntervalMS) * time.Millisecond
		u.Interval = &d
	}
	if err := s.scheduler.UpdateEnvironment(u); err != nil {
		respondError(w, reqID, http.StatusBadRequest, model.NewValidationError(err.Error()))
		return
	}
	respondOK(w, reqID, s.environmentView())
}

func (s *Server) environmentView() model.Environment {
	env := s.scheduler.Environment()
	values := env.Values
	if values == nil {
		values = map[string]any{}
	}
	return model.Environment{
		Scheduler:  s.scheduler.Name(),
		IntervalMS: env.Interval.Milliseconds(),
		Values:     values,
	}
}

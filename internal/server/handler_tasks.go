package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/me/tasker/internal/scheduler"
	"github.com/me/tasker/pkg/model"
)

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	opts, apiErr := parseListOptions(r)
	if apiErr != nil {
		respondError(w, reqID, http.StatusBadRequest, apiErr)
		return
	}

	tasks, err := s.store.ReadTasks(r.Context())
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError(err.Error()))
		return
	}

	if opts.Status != "" {
		filtered := tasks[:0]
		for _, task := range tasks {
			if string(task.Status) == opts.Status {
				filtered = append(filtered, task)
			}
		}
		tasks = filtered
	}

	total := len(tasks)
	start := min(opts.Offset, total)
	end := min(start+opts.Limit, total)
	respondList(w, reqID, tasks[start:end], &model.Pagination{
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
		HasMore: end < total,
	})
}

func parseListOptions(r *http.Request) (model.ListOptions, *model.APIError) {
	opts := model.DefaultListOptions()
	q := r.URL.Query()

	var details []model.FieldError
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			details = append(details, model.FieldError{Field: "limit", Message: "must be an integer"})
		}
		opts.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			details = append(details, model.FieldError{Field: "offset", Message: "must be an integer"})
		}
		opts.Offset = n
	}
	if v := q.Get("status"); v != "" {
		if !model.TaskStatus(v).IsValid() {
			details = append(details, model.FieldError{Field: "status", Message: "unknown status " + strconv.Quote(v)})
		}
		opts.Status = v
	}
	if len(details) > 0 {
		return opts, model.NewValidationError("invalid query parameters", details...)
	}
	opts.Clamp()
	return opts, nil
}

// handleCreateTask enqueues a task. With a scheduler attached, a task type
// that has no registered handler is rejected here instead of failing later
// at dispatch.
func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	var req model.CreateTaskRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, reqID, http.StatusBadRequest, model.NewValidationError("invalid JSON body: "+err.Error()))
		return
	}
	if req.Task == "" {
		respondError(w, reqID, http.StatusBadRequest,
			model.NewValidationError("task is required", model.FieldError{Field: "task", Message: "must not be empty"}))
		return
	}
	if s.scheduler != nil {
		if err := s.scheduler.Registry().Verify(req.Task); err != nil {
			if errors.Is(err, scheduler.ErrNoHandler) {
				respondError(w, reqID, http.StatusUnprocessableEntity,
					model.NewValidationError(err.Error(), model.FieldError{Field: "task", Message: "no handler registered"}))
				return
			}
			respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError(err.Error()))
			return
		}
	}

	id, err := s.store.AddTask(r.Context(), model.Task{Type: req.Task, Meta: req.Meta})
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError(err.Error()))
		return
	}
	s.logger.Info("task enqueued", "task_id", id, "task", req.Task)

	task, ok, err := s.findTask(r, id)
	if err != nil || !ok {
		task = model.Task{ID: id, Type: req.Task, Status: model.TaskStatusQueued, Meta: req.Meta}
	}
	respondCreated(w, reqID, task)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	task, ok, err := s.findTask(r, id)
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError(err.Error()))
		return
	}
	if !ok {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("task", id))
		return
	}
	respondOK(w, reqID, task)
}

func (s *Server) findTask(r *http.Request, id string) (model.Task, bool, error) {
	tasks, err := s.store.ReadTasks(r.Context())
	if err != nil {
		return model.Task{}, false, err
	}
	for _, task := range tasks {
		if task.ID == id {
			return task, true, nil
		}
	}
	return model.Task{}, false, nil
}

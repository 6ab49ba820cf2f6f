package model

import "time"

// Response is the standard API response envelope.
type Response struct {
	Status     string      `json:"status"`
	RequestID  string      `json:"request_id"`
	Timestamp  time.Time   `json:"timestamp"`
	Data       any         `json:"data"`
	Pagination *Pagination `json:"pagination,omitempty"`
	Error      *APIError   `json:"error"`
}

// Pagination holds pagination metadata for list endpoints.
type Pagination struct {
	Total   int  `json:"total"`
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
}

// ListOptions configures list queries with pagination and filtering.
type ListOptions struct {
	Limit  int
	Offset int
	Status string // Optional status filter
}

// DefaultListOptions returns sensible defaults.
func DefaultListOptions() ListOptions {
	return ListOptions{Limit: 20, Offset: 0}
}

// Clamp enforces limits (max 100, min 1).
func (o *ListOptions) Clamp() {
	if o.Limit <= 0 {
		o.Limit = 20
	}
	if o.Limit > 100 {
		o.Limit = 100
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
}

// CreateTaskRequest is the body of POST /tasks.
type CreateTaskRequest struct {
	Task string         `json:"task"`
	Meta map[string]any `json:"meta,omitempty"`
}

// Environment is the wire form of a scheduler environment. The interval is
// carried in milliseconds.
type Environment struct {
	Scheduler  string         `json:"scheduler,omitempty"`
	IntervalMS int64          `json:"interval_ms"`
	Values     map[string]any `json:"values"`
}

// EnvironmentPatch is the body of PUT /environment. Absent fields are kept.
type EnvironmentPatch struct {
	IntervalMS *int64         `json:"interval_ms,omitempty"`
	Values     map[string]any `json:"values,omitempty"`
}

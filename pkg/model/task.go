package model

import (
	"maps"
	"time"
)

// Task is a unit of work with a typed payload and a lifecycle status.
type Task struct {
	ID     string     `json:"id"`
	Type   string     `json:"task"`
	Status TaskStatus `json:"status"`

	// Meta is the handler-specific payload. The scheduler never inspects it.
	Meta map[string]any `json:"meta,omitempty"`

	Progress     float64    `json:"progress"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// Clone returns a copy of t that shares no mutable state with it.
func (t Task) Clone() Task {
	c := t
	if t.Meta != nil {
		c.Meta = maps.Clone(t.Meta)
	}
	if t.StartedAt != nil {
		v := *t.StartedAt
		c.StartedAt = &v
	}
	if t.CompletedAt != nil {
		v := *t.CompletedAt
		c.CompletedAt = &v
	}
	return c
}

// TaskUpdate is a partial Task used for merge-updates. Nil fields are left
// untouched; ID selects the record and is never changed.
type TaskUpdate struct {
	ID           string         `json:"id"`
	Status       *TaskStatus    `json:"status,omitempty"`
	Meta         map[string]any `json:"meta,omitempty"`
	Progress     *float64       `json:"progress,omitempty"`
	ErrorMessage *string        `json:"error_message,omitempty"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
}

// Apply merges the set fields of u into t. Meta is replaced as a whole, not
// merged key by key.
func (u TaskUpdate) Apply(t *Task) {
	if u.Status != nil {
		t.Status = *u.Status
	}
	if u.Meta != nil {
		t.Meta = maps.Clone(u.Meta)
	}
	if u.Progress != nil {
		t.Progress = *u.Progress
	}
	if u.ErrorMessage != nil {
		t.ErrorMessage = *u.ErrorMessage
	}
	if u.StartedAt != nil {
		v := *u.StartedAt
		t.StartedAt = &v
	}
	if u.CompletedAt != nil {
		v := *u.CompletedAt
		t.CompletedAt = &v
	}
}

// UpdateFrom builds an update carrying every mergeable field of t.
func UpdateFrom(t Task) TaskUpdate {
	status := t.Status
	progress := t.Progress
	u := TaskUpdate{
		ID:          t.ID,
		Status:      &status,
		Meta:        t.Meta,
		Progress:    &progress,
		StartedAt:   t.StartedAt,
		CompletedAt: t.CompletedAt,
	}
	if t.ErrorMessage != "" {
		msg := t.ErrorMessage
		u.ErrorMessage = &msg
	}
	return u
}

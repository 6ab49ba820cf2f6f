package board

import (
	"bytes"
	"strings"
	"testing"

	"github.com/me/tasker/internal/sink"
	"github.com/me/tasker/pkg/model"
)

func record(id string, progress float64) sink.Record {
	return sink.Record{
		TaskID: id,
		Task:   model.Task{ID: id, Type: "export", Status: model.TaskStatusRunning, Progress: progress},
	}
}

func TestPut_ClampsProgress(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{-5, 0},
		{0, 0},
		{42.5, 42.5},
		{100, 100},
		{180, 100},
	}
	for _, tt := range tests {
		b := New(nil)
		b.Put(record("task_a", tt.in))
		e, ok := b.Get("task_a")
		if !ok {
			t.Fatal("entry missing")
		}
		if e.Progress != tt.want {
			t.Errorf("progress(%v) = %v, want %v", tt.in, e.Progress, tt.want)
		}
	}
}

func TestPut_Placements(t *testing.T) {
	b := New(nil)
	b.Put(record("task_a", 10))
	b.Put(record("task_b", 10))
	b.Put(record("task_c", 10))

	b.Put(record("task_b", 120))
	b.Put(record("task_a", 60))
	b.Put(record("task_c", 100))
	b.Put(record("task_b", 100))
	b.Put(record("task_a", 100))

	want := map[string]int{"task_b": 1, "task_c": 2, "task_a": 3}
	for id, place := range want {
		e, _ := b.Get(id)
		if e.Place != place {
			t.Errorf("%s place = %d, want %d", id, e.Place, place)
		}
	}
}

func TestPut_ErrorKeepsProgress(t *testing.T) {
	b := New(nil)
	b.Put(record("task_a", 40))
	b.Put(sink.Record{
		TaskID: "task_a",
		Task:   model.Task{ID: "task_a", Type: "export", Status: model.TaskStatusError, Progress: 40},
		Error:  "disk full",
	})

	e, _ := b.Get("task_a")
	if e.ErrorMessage != "disk full" {
		t.Errorf("ErrorMessage = %q", e.ErrorMessage)
	}
	if e.Progress != 40 || e.Status != model.TaskStatusError {
		t.Errorf("entry = %+v", e)
	}
	if e.Place != 0 {
		t.Errorf("failed task placed %d", e.Place)
	}
}

func TestSnapshot_FirstSeenOrder(t *testing.T) {
	b := New(nil)
	for _, id := range []string{"task_c", "task_a", "task_b", "task_a"} {
		b.Put(record(id, 5))
	}
	snap := b.Snapshot()
	var ids []string
	for _, e := range snap {
		ids = append(ids, e.ID)
	}
	if strings.Join(ids, ",") != "task_c,task_a,task_b" {
		t.Errorf("order = %v", ids)
	}
	if snap[0].Name != "Export task_c" {
		t.Errorf("name = %q", snap[0].Name)
	}
}

func TestPut_ForwardsToNotify(t *testing.T) {
	notify := sink.NewMemory()
	b := New(notify)
	b.Put(record("task_a", 5))
	b.Put(sink.Record{})

	if got := len(notify.Records()); got != 1 {
		t.Errorf("notify got %d records, want 1", got)
	}
}

func TestRender(t *testing.T) {
	b := New(nil)
	b.Put(record("task_a", 50))
	b.Put(record("task_b", 100))

	var buf bytes.Buffer
	if err := b.Render(&buf); err != nil {
		t.Fatalf("Render: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"Export task_a", " 50%", "[##########..........]", "#1"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestDone(t *testing.T) {
	entries := []Entry{
		{ID: "a", Status: model.TaskStatusFinished},
		{ID: "b", Status: model.TaskStatusError},
	}
	if !Done(entries) {
		t.Error("Done = false for terminal entries")
	}
	entries = append(entries, Entry{ID: "c", Status: model.TaskStatusQueued})
	if Done(entries) {
		t.Error("Done = true with a queued entry")
	}
}

func TestName(t *testing.T) {
	tests := []struct {
		taskType string
		want     string
	}{
		{"export", "Export task_1"},
		{"", "task_1"},
		{"école", "École task_1"},
		{"ärger", "Ärger task_1"},
		{"7zip", "7zip task_1"},
	}
	for _, tt := range tests {
		if got := name(tt.taskType, "task_1"); got != tt.want {
			t.Errorf("name(%q) = %q, want %q", tt.taskType, got, tt.want)
		}
	}
}

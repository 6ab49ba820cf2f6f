package sink

import (
	"testing"

	"github.com/me/tasker/pkg/model"
)

func TestMemory_LatestAndHistory(t *testing.T) {
	m := NewMemory()
	m.Put(Record{TaskID: "a", Task: model.Task{ID: "a", Progress: 10}})
	m.Put(Record{TaskID: "b", Task: model.Task{ID: "b", Progress: 5}})
	m.Put(Record{TaskID: "a", Task: model.Task{ID: "a", Progress: 30}})

	rec, ok := m.Latest("a")
	if !ok || rec.Task.Progress != 30 {
		t.Errorf("Latest(a) = %+v, %v; want progress 30", rec, ok)
	}
	if _, ok := m.Latest("missing"); ok {
		t.Error("Latest(missing) reported a record")
	}
	if n := len(m.Records()); n != 3 {
		t.Errorf("len(Records) = %d, want 3", n)
	}
	if n := len(m.For("a")); n != 2 {
		t.Errorf("len(For(a)) = %d, want 2", n)
	}
}

func TestMemory_CopiesMeta(t *testing.T) {
	m := NewMemory()
	meta := map[string]any{"k": "v"}
	m.Put(Record{TaskID: "a", Task: model.Task{ID: "a", Meta: meta}})
	meta["k"] = "changed"

	rec, _ := m.Latest("a")
	if rec.Task.Meta["k"] != "v" {
		t.Errorf("sink shares meta with producer: %v", rec.Task.Meta)
	}
}

func TestMulti_FansOut(t *testing.T) {
	a, b := NewMemory(), NewMemory()
	var calls int
	Multi{a, b, Func(func(Record) { calls++ }), Discard}.Put(Record{TaskID: "x"})

	if _, ok := a.Latest("x"); !ok {
		t.Error("first sink missed the record")
	}
	if _, ok := b.Latest("x"); !ok {
		t.Error("second sink missed the record")
	}
	if calls != 1 {
		t.Errorf("func sink called %d times, want 1", calls)
	}
}

func TestBroadcaster_SubscribeAndCancel(t *testing.T) {
	b := NewBroadcaster(2)
	ch, cancel := b.Subscribe()
	if b.Subscribers() != 1 {
		t.Fatalf("Subscribers = %d, want 1", b.Subscribers())
	}

	b.Put(Record{TaskID: "a"})
	b.Put(Record{TaskID: "b"})
	b.Put(Record{TaskID: "c"}) // dropped, buffer full

	if got := (<-ch).TaskID; got != "a" {
		t.Errorf("first record = %q, want a", got)
	}
	if got := (<-ch).TaskID; got != "b" {
		t.Errorf("second record = %q, want b", got)
	}

	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Error("channel still open after cancel")
	}
	if b.Subscribers() != 0 {
		t.Errorf("Subscribers = %d, want 0", b.Subscribers())
	}
	b.Put(Record{TaskID: "d"})
}

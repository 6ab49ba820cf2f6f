package sink

import "sync"

// Memory keeps the latest record per task plus the full history.
type Memory struct {
	mu      sync.RWMutex
	latest  map[string]Record
	history []Record
}

// NewMemory creates an empty Memory sink.
func NewMemory() *Memory {
	return &Memory{latest: make(map[string]Record)}
}

func (m *Memory) Put(rec Record) {
	rec.Task = rec.Task.Clone()
	m.mu.Lock()
	m.latest[rec.TaskID] = rec
	m.history = append(m.history, rec)
	m.mu.Unlock()
}

// Latest returns the most recent record for taskID.
func (m *Memory) Latest(taskID string) (Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.latest[taskID]
	return rec, ok
}

// Records returns every record received, oldest first.
func (m *Memory) Records() []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Record, len(m.history))
	copy(out, m.history)
	return out
}

// For returns the records received for taskID, oldest first.
func (m *Memory) For(taskID string) []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Record
	for _, rec := range m.history {
		if rec.TaskID == taskID {
			out = append(out, rec)
		}
	}
	return out
}

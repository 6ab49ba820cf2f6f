package sink

import "sync"

// Broadcaster forwards records to any number of subscribers. A subscriber
// whose buffer is full misses the record instead of stalling the producer.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[chan Record]struct{}
	buffer int
}

// NewBroadcaster creates a Broadcaster whose subscriber channels hold buffer records.
func NewBroadcaster(buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = 16
	}
	return &Broadcaster{subs: make(map[chan Record]struct{}), buffer: buffer}
}

func (b *Broadcaster) Put(rec Record) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- rec:
		default:
		}
	}
}

// Subscribe registers a new subscriber. The returned cancel func unregisters
// it and closes the channel.
func (b *Broadcaster) Subscribe() (<-chan Record, func()) {
	ch := make(chan Record, b.buffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers returns the number of active subscribers.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

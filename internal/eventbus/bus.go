package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event is an in-process notification about a timer.
//
// Publish never blocks: every subscriber has a buffered channel and an
// event that does not fit is dropped for that subscriber only.
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory fanout bus. It owns no goroutines.
func New() *Memory {
	return &Memory{}
}

type subscriber struct {
	ch chan Event
}

// Memory is the in-process Bus.
type Memory struct {
	mu   sync.RWMutex
	subs []*subscriber

	published atomic.Uint64
	dropped   atomic.Uint64
}

func (b *Memory) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.published.Add(1)
	// Unsubscribe closes under the write lock, so sending under the read
	// lock never hits a closed channel.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		select {
		case s.ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *Memory) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	s := &subscriber{ch: make(chan Event, buffer)}

	b.mu.Lock()
	b.subs = append(b.subs, s)
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() { once.Do(func() { b.remove(s) }) }
}

func (b *Memory) remove(s *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, cur := range b.subs {
		if cur == s {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			break
		}
	}
	close(s.ch)
}

// Stats returns how many events were published and how many deliveries
// were dropped because a subscriber was full.
func (b *Memory) Stats() (published, dropped uint64) {
	return b.published.Load(), b.dropped.Load()
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(Event) {}

func (Nop) Subscribe(int) (<-chan Event, func()) {
	ch := make(chan Event)
	close(ch)
	return ch, func() {}
}

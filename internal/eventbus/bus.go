// Package eventbus decouples the engine, the dispatcher and the app
// wiring through an in-memory fanout. Publish never blocks; a subscriber
// that falls behind its buffer loses events and the loss is counted.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types carried on the bus.
const (
	TypeAnalysisCompleted = "analysis.completed"
	TypeCacheEvicted      = "cache.evicted"
	TypeJobDispatched     = "job.dispatched"
	TypeJobFinished       = "job.finished"
	TypeChannelDelivered  = "channel.delivered"
	TypeChannelFailed     = "channel.failed"
	TypeChannelSkipped    = "channel.skipped"
	TypeBreakerOpen       = "breaker.open"
	TypeConfigReloaded    = "config.reloaded"
)

// Event is one signal on the bus. Data should stay small and
// JSON-serializable so subscribers can forward it as-is.
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory bus. It owns no goroutines; delivery happens
// on the publisher's stack.
func New() Bus {
	return &fanout{}
}

type subscriber struct {
	mu     sync.Mutex
	ch     chan Event
	closed bool
}

// offer attempts a non-blocking delivery. Returns false when the event
// was dropped (full buffer or closed subscriber).
func (s *subscriber) offer(e Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- e:
		return true
	default:
		return false
	}
}

func (s *subscriber) shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

type fanout struct {
	mu      sync.RWMutex
	subs    []*subscriber
	dropped atomic.Uint64
}

func (b *fanout) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()

	for _, s := range subs {
		if !s.offer(e) {
			b.dropped.Add(1)
		}
	}
}

// Dropped reports how many deliveries were lost to slow or departed
// subscribers since the bus was created.
func (b *fanout) Dropped() uint64 { return b.dropped.Load() }

func (b *fanout) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	s := &subscriber{ch: make(chan Event, buffer)}

	b.mu.Lock()
	// Copy-on-write keeps Publish free of subscriber-list locking beyond
	// the snapshot read.
	next := make([]*subscriber, 0, len(b.subs)+1)
	next = append(next, b.subs...)
	next = append(next, s)
	b.subs = next
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			trimmed := make([]*subscriber, 0, len(b.subs))
			for _, cur := range b.subs {
				if cur != s {
					trimmed = append(trimmed, cur)
				}
			}
			b.subs = trimmed
			b.mu.Unlock()
			s.shutdown()
		})
	}
	return s.ch, unsub
}

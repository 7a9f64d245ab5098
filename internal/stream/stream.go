// Package stream fan-outs directory change notifications to SSE clients.
// Bursts of writes against the same resource are coalesced so listing
// pages refresh once per burst instead of once per row.
package stream

import (
	"context"
	"sync"
	"time"

	"slotwise.org/internal/auth"
	"slotwise.org/internal/debounce"
)

// Event is a coalesced change notification for one resource collection.
// Changes counts how many mutations collapsed into this event.
type Event struct {
	Resource  string    `json:"resource"`
	Changes   int       `json:"changes"`
	LastID    string    `json:"last_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Stream fan-outs events to all active subscribers (SSE clients).
type Stream struct {
	interval time.Duration
	now      func() time.Time

	mu   sync.RWMutex
	subs map[int]chan Event
	next int

	pendingMu sync.Mutex
	pending   map[string]*pendingResource
}

type pendingResource struct {
	debouncer *debounce.Debouncer
	changes   int
	lastID    string
}

// Option configures a Stream.
type Option func(*Stream)

// WithInterval overrides the coalescing window.
func WithInterval(d time.Duration) Option {
	return func(s *Stream) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithStreamClock overrides the time source.
func WithStreamClock(fn func() time.Time) Option {
	return func(s *Stream) {
		if fn != nil {
			s.now = fn
		}
	}
}

// New initialises an empty stream.
func New(opts ...Option) *Stream {
	s := &Stream{
		interval: debounce.DefaultInterval,
		now:      time.Now,
		subs:     make(map[int]chan Event),
		pending:  make(map[string]*pendingResource),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe registers a subscriber and returns a channel which will receive
// events. The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Notify records a directory mutation. The matching Event is published on
// the trailing edge once the resource has been quiet for the coalescing
// window. Safe to call from request handlers; never blocks.
func (s *Stream) Notify(change auth.ChangeEvent) {
	s.pendingMu.Lock()
	p, ok := s.pending[change.Resource]
	if !ok {
		p = &pendingResource{debouncer: debounce.New(s.interval)}
		s.pending[change.Resource] = p
	}
	p.changes++
	p.lastID = change.ID
	s.pendingMu.Unlock()

	resource := change.Resource
	p.debouncer.Trigger(func() { s.flush(resource) })
}

func (s *Stream) flush(resource string) {
	s.pendingMu.Lock()
	p, ok := s.pending[resource]
	if !ok || p.changes == 0 {
		s.pendingMu.Unlock()
		return
	}
	evt := Event{
		Resource:  resource,
		Changes:   p.changes,
		LastID:    p.lastID,
		Timestamp: s.now().UTC(),
	}
	p.changes = 0
	p.lastID = ""
	s.pendingMu.Unlock()

	s.publish(evt)
}

func (s *Stream) publish(evt Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}

// Close stops all pending debouncers. Subscribers are detached through
// their own contexts.
func (s *Stream) Close() {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	for _, p := range s.pending {
		p.debouncer.Stop()
	}
}

package telemetry

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps every stream in process memory.
// It backs the "memory" database driver and the tests.
type MemoryStore struct {
	mu      sync.RWMutex
	nextKey Key
	streams map[Stream][]Entry
	subs    map[Stream]map[*subscription]struct{}
	closed  bool
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		streams: make(map[Stream][]Entry),
		subs:    make(map[Stream]map[*subscription]struct{}),
	}
}

// Append implements Store
func (m *MemoryStore) Append(ctx context.Context, stream Stream, record any) (Key, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	payload, err := encode(record)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}

	m.nextKey++
	entry := Entry{
		Key:       m.nextKey,
		Stream:    stream,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
	m.streams[stream] = append(m.streams[stream], entry)

	// pushing under the lock keeps delivery in key order
	for sub := range m.subs[stream] {
		sub.push(entry)
	}
	return entry.Key, nil
}

// Latest implements Store
func (m *MemoryStore) Latest(ctx context.Context, stream Stream, n int) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, ErrInvalidLimit
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}

	entries := m.streams[stream]
	if n > len(entries) {
		n = len(entries)
	}
	out := make([]Entry, n)
	copy(out, entries[len(entries)-n:])
	return out, nil
}

// Subscribe implements Store
func (m *MemoryStore) Subscribe(ctx context.Context, stream Stream, handler Handler) (Unsubscribe, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	sub := newSubscription(handler)
	if m.subs[stream] == nil {
		m.subs[stream] = make(map[*subscription]struct{})
	}
	m.subs[stream][sub] = struct{}{}
	m.mu.Unlock()

	go sub.run()

	unsubscribe := func() {
		m.mu.Lock()
		delete(m.subs[stream], sub)
		m.mu.Unlock()
		sub.stop()
	}
	go func() {
		select {
		case <-ctx.Done():
			unsubscribe()
		case <-sub.done:
		}
	}()
	return unsubscribe, nil
}

// Len returns the number of entries in stream
func (m *MemoryStore) Len(stream Stream) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.streams[stream])
}

// Close stops every subscription
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	var subs []*subscription
	for _, set := range m.subs {
		for sub := range set {
			subs = append(subs, sub)
		}
	}
	m.subs = nil
	m.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
	return nil
}

var _ Store = (*MemoryStore)(nil)

// subscription delivers entries to its handler from one goroutine through an
// unbounded queue, so appenders never block on a slow handler.
type subscription struct {
	handler Handler

	mu    sync.Mutex
	queue []Entry

	wake    chan struct{}
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

func newSubscription(handler Handler) *subscription {
	return &subscription{
		handler: handler,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

func (s *subscription) push(e Entry) {
	s.mu.Lock()
	s.queue = append(s.queue, e)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscription) run() {
	defer close(s.stopped)
	for {
		s.mu.Lock()
		batch := s.queue
		s.queue = nil
		s.mu.Unlock()

		for _, e := range batch {
			select {
			case <-s.done:
				return
			default:
			}
			s.handler(e)
		}
		if len(batch) > 0 {
			continue
		}

		select {
		case <-s.done:
			return
		case <-s.wake:
		}
	}
}

func (s *subscription) stop() {
	s.once.Do(func() { close(s.done) })
	<-s.stopped
}

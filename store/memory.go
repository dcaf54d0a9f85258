package store

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/arloliu/rewind"
	"github.com/arloliu/rewind/types"
)

// MemoryStore is an in-process event store.
//
// # Durability Warning
//
// Retained events are LOST on process restart. This is acceptable for a
// short best-effort replay window. Use RedisStore or NATSStore to share
// history across server instances or survive restarts.
//
// # Thread Safety
//
// Each channel log has its own lock, so operations on different channels
// do not contend beyond a brief read lock on the channel map. Payloads are
// stored by reference and must not be mutated after publishing.
type MemoryStore struct {
	mu     sync.RWMutex
	logs   map[string]*memoryLog
	closed atomic.Bool
}

type memoryLog struct {
	mu     sync.RWMutex
	events []types.Event
}

// Compile-time assertion that MemoryStore implements rewind.EventStore.
var _ rewind.EventStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-process event store.
//
// Returns:
//   - *MemoryStore: A new memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		logs: make(map[string]*memoryLog),
	}
}

// Append adds an event to the end of the channel log.
func (s *MemoryStore) Append(_ context.Context, channel string, ev types.Event) error {
	if s.closed.Load() {
		return types.ErrStoreClosed
	}

	s.withLog(channel, true, func(l *memoryLog) {
		l.mu.Lock()
		l.events = append(l.events, ev)
		l.mu.Unlock()
	})

	return nil
}

// Len returns the number of events in the channel log.
func (s *MemoryStore) Len(_ context.Context, channel string) (int, error) {
	if s.closed.Load() {
		return 0, types.ErrStoreClosed
	}

	n := 0
	s.withLog(channel, false, func(l *memoryLog) {
		l.mu.RLock()
		n = len(l.events)
		l.mu.RUnlock()
	})

	return n, nil
}

// ElementAt returns the event at index, oldest-first.
func (s *MemoryStore) ElementAt(_ context.Context, channel string, index int) (types.Event, error) {
	if s.closed.Load() {
		return types.Event{}, types.ErrStoreClosed
	}

	var (
		ev    types.Event
		found bool
	)
	s.withLog(channel, false, func(l *memoryLog) {
		l.mu.RLock()
		defer l.mu.RUnlock()

		if index >= 0 && index < len(l.events) {
			ev, found = l.events[index], true
		}
	})

	if !found {
		return types.Event{}, types.ErrEventNotFound
	}

	return ev, nil
}

// ElementsAfter returns the events with Time strictly greater than t, in
// insertion order. Every event is tested, so a log appended out of time
// order still yields exactly the events after t.
func (s *MemoryStore) ElementsAfter(_ context.Context, channel string, t int64) ([]types.Event, error) {
	if s.closed.Load() {
		return nil, types.ErrStoreClosed
	}

	var out []types.Event
	s.withLog(channel, false, func(l *memoryLog) {
		l.mu.RLock()
		defer l.mu.RUnlock()

		out = eventsAfter(l.events, t)
	})

	if out == nil {
		out = []types.Event{}
	}

	return out, nil
}

// RemoveElementAt deletes the event at index. Out of range is a no-op.
func (s *MemoryStore) RemoveElementAt(_ context.Context, channel string, index int) error {
	if s.closed.Load() {
		return types.ErrStoreClosed
	}

	s.withLog(channel, false, func(l *memoryLog) {
		l.mu.Lock()
		defer l.mu.Unlock()

		if index < 0 || index >= len(l.events) {
			return
		}
		if index == 0 {
			// Drop the head without shifting; the next append reallocates.
			l.events[0] = types.Event{}
			l.events = l.events[1:]

			return
		}
		l.events = slices.Delete(l.events, index, index+1)
	})

	return nil
}

// RemoveChannel drops the whole channel log.
func (s *MemoryStore) RemoveChannel(_ context.Context, channel string) error {
	if s.closed.Load() {
		return types.ErrStoreClosed
	}

	s.mu.Lock()
	delete(s.logs, channel)
	s.mu.Unlock()

	return nil
}

// Channels lists the channels holding at least one event.
func (s *MemoryStore) Channels(_ context.Context) ([]string, error) {
	if s.closed.Load() {
		return nil, types.ErrStoreClosed
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	channels := make([]string, 0, len(s.logs))
	for name, l := range s.logs {
		l.mu.RLock()
		n := len(l.events)
		l.mu.RUnlock()

		if n > 0 {
			channels = append(channels, name)
		}
	}
	slices.Sort(channels)

	return channels, nil
}

// Close marks the store closed and releases all retained events.
func (s *MemoryStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	s.mu.Lock()
	s.logs = make(map[string]*memoryLog)
	s.mu.Unlock()

	return nil
}

// withLog runs fn with the channel log while holding the map read lock, so
// RemoveChannel cannot orphan a log mid-operation. When create is false and
// the channel is absent, fn is not called.
func (s *MemoryStore) withLog(channel string, create bool, fn func(l *memoryLog)) {
	for {
		s.mu.RLock()
		l, ok := s.logs[channel]
		if ok {
			fn(l)
			s.mu.RUnlock()

			return
		}
		s.mu.RUnlock()

		if !create {
			return
		}

		s.mu.Lock()
		if _, ok := s.logs[channel]; !ok {
			s.logs[channel] = &memoryLog{}
		}
		s.mu.Unlock()
	}
}

// eventsAfter returns a copy of the events with Time strictly greater than t.
func eventsAfter(events []types.Event, t int64) []types.Event {
	out := make([]types.Event, 0, len(events))
	for _, ev := range events {
		if ev.Time > t {
			out = append(out, ev)
		}
	}

	return out
}

package testutil

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/arloliu/rewind"
	"github.com/arloliu/rewind/types"
)

// Delivery is one event received by a RecordingSender.
type Delivery struct {
	ClientID string
	Name     string
	Payload  any
}

// RecordingSender is a rewind.ClientSender that records every delivery.
type RecordingSender struct {
	mu         sync.Mutex
	deliveries []Delivery

	// OnSend, when set, is called before recording; a non-nil error is
	// returned to the caller and the delivery is not recorded.
	OnSend func(clientID, name string, payload any) error
}

// Compile-time assertion that RecordingSender implements rewind.ClientSender.
var _ rewind.ClientSender = (*RecordingSender)(nil)

// NewRecordingSender creates an empty recording sender.
func NewRecordingSender() *RecordingSender {
	return &RecordingSender{}
}

// SendTo records the delivery.
func (s *RecordingSender) SendTo(_ context.Context, clientID string, name string, payload any) error {
	if s.OnSend != nil {
		if err := s.OnSend(clientID, name, payload); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliveries = append(s.deliveries, Delivery{ClientID: clientID, Name: name, Payload: payload})

	return nil
}

// Deliveries returns a copy of all recorded deliveries in order.
func (s *RecordingSender) Deliveries() []Delivery {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]Delivery(nil), s.deliveries...)
}

// Names returns the event names of all recorded deliveries in order.
func (s *RecordingSender) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.deliveries))
	for _, d := range s.deliveries {
		names = append(names, d.Name)
	}

	return names
}

// Store operations that FailingStore can fail.
const (
	OpAppend          = "append"
	OpLen             = "len"
	OpElementAt       = "element_at"
	OpElementsAfter   = "elements_after"
	OpRemoveElementAt = "remove_element_at"
	OpRemoveChannel   = "remove_channel"
	OpChannels        = "channels"
)

// ErrInjected is the default error returned by FailingStore.
var ErrInjected = errors.New("testutil: injected failure")

// FailingStore wraps an event store and fails selected operations.
//
// Failures can be scoped to one channel; an empty channel fails the
// operation for every channel.
type FailingStore struct {
	rewind.EventStore

	mu    sync.Mutex
	fails map[string]map[string]error // op -> channel -> error
	calls map[string]int
}

// Compile-time assertion that FailingStore implements rewind.EventStore.
var _ rewind.EventStore = (*FailingStore)(nil)

// NewFailingStore wraps inner.
func NewFailingStore(inner rewind.EventStore) *FailingStore {
	return &FailingStore{
		EventStore: inner,
		fails:      make(map[string]map[string]error),
		calls:      make(map[string]int),
	}
}

// Fail makes op return err for channel (or every channel when empty).
// A nil err uses ErrInjected.
func (s *FailingStore) Fail(op, channel string, err error) {
	if err == nil {
		err = ErrInjected
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fails[op] == nil {
		s.fails[op] = make(map[string]error)
	}
	s.fails[op][channel] = err
}

// Heal removes every injected failure.
func (s *FailingStore) Heal() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.fails = make(map[string]map[string]error)
}

// Calls returns how many times op was invoked.
func (s *FailingStore) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.calls[op]
}

func (s *FailingStore) check(op, channel string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls[op]++
	if err, ok := s.fails[op][channel]; ok {
		return err
	}
	if err, ok := s.fails[op][""]; ok {
		return err
	}

	return nil
}

func (s *FailingStore) Append(ctx context.Context, channel string, ev types.Event) error {
	if err := s.check(OpAppend, channel); err != nil {
		return err
	}

	return s.EventStore.Append(ctx, channel, ev)
}

func (s *FailingStore) Len(ctx context.Context, channel string) (int, error) {
	if err := s.check(OpLen, channel); err != nil {
		return 0, err
	}

	return s.EventStore.Len(ctx, channel)
}

func (s *FailingStore) ElementAt(ctx context.Context, channel string, index int) (types.Event, error) {
	if err := s.check(OpElementAt, channel); err != nil {
		return types.Event{}, err
	}

	return s.EventStore.ElementAt(ctx, channel, index)
}

func (s *FailingStore) ElementsAfter(ctx context.Context, channel string, t int64) ([]types.Event, error) {
	if err := s.check(OpElementsAfter, channel); err != nil {
		return nil, err
	}

	return s.EventStore.ElementsAfter(ctx, channel, t)
}

func (s *FailingStore) RemoveElementAt(ctx context.Context, channel string, index int) error {
	if err := s.check(OpRemoveElementAt, channel); err != nil {
		return err
	}

	return s.EventStore.RemoveElementAt(ctx, channel, index)
}

func (s *FailingStore) RemoveChannel(ctx context.Context, channel string) error {
	if err := s.check(OpRemoveChannel, channel); err != nil {
		return err
	}

	return s.EventStore.RemoveChannel(ctx, channel)
}

func (s *FailingStore) Channels(ctx context.Context) ([]string, error) {
	if err := s.check(OpChannels, ""); err != nil {
		return nil, err
	}

	return s.EventStore.Channels(ctx)
}

// StepClock is a manually advanced clock for deterministic timestamps.
type StepClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewStepClock creates a clock reading the given unix millisecond time.
func NewStepClock(unixMilli int64) *StepClock {
	return &StepClock{now: time.UnixMilli(unixMilli)}
}

// Now returns the current clock time. Pass c.Now to rewind.WithClock.
func (c *StepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

// Set moves the clock to the given unix millisecond time.
func (c *StepClock) Set(unixMilli int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = time.UnixMilli(unixMilli)
}

// Advance moves the clock forward by d.
func (c *StepClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

// Package storetest provides a conformance suite for rewind.EventStore
// implementations.
//
// Every backend runs the same suite, so the retention manager and replay
// coordinator can rely on identical semantics whichever store is in use:
//
//	func TestMemoryStore_Conformance(t *testing.T) {
//	    storetest.Run(t, func(t *testing.T) rewind.EventStore {
//	        return store.NewMemoryStore()
//	    })
//	}
package storetest

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/rewind"
	"github.com/arloliu/rewind/types"
)

// Factory returns a fresh, empty store for one subtest.
type Factory func(t *testing.T) rewind.EventStore

// Run executes the conformance suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s rewind.EventStore)
	}{
		{"EmptyChannel", testEmptyChannel},
		{"AppendPreservesOrder", testAppendPreservesOrder},
		{"SameMillisecondKeepsInsertionOrder", testSameMillisecond},
		{"ElementsAfterIsStrict", testElementsAfterIsStrict},
		{"ElementsAfterOutOfOrderTimes", testOutOfOrderTimes},
		{"RemoveElementAt", testRemoveElementAt},
		{"RemoveChannel", testRemoveChannel},
		{"ChannelsListsNonEmpty", testChannels},
		{"ChannelsAreIsolated", testIsolation},
		{"PayloadRoundTrip", testPayloadRoundTrip},
		{"UnusualChannelNames", testUnusualChannelNames},
		{"ConcurrentChannels", testConcurrentChannels},
		{"Closed", testClosed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })

			tt.fn(t, s)
		})
	}
}

// NewEvent builds an event with a time-ordered id.
func NewEvent(name string, t int64) types.Event {
	return types.Event{
		ID:      uuid.Must(uuid.NewV7()).String(),
		Name:    name,
		Payload: name,
		Time:    t,
	}
}

// AppendAll appends events to channel, failing the test on error.
func AppendAll(t *testing.T, s rewind.EventStore, channel string, events ...types.Event) {
	t.Helper()

	for _, ev := range events {
		require.NoError(t, s.Append(context.Background(), channel, ev))
	}
}

// Names returns the event names in order.
func Names(events []types.Event) []string {
	names := make([]string, 0, len(events))
	for _, ev := range events {
		names = append(names, ev.Name)
	}

	return names
}

func testEmptyChannel(t *testing.T, s rewind.EventStore) {
	ctx := context.Background()

	n, err := s.Len(ctx, "nope")
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = s.ElementAt(ctx, "nope", 0)
	require.ErrorIs(t, err, types.ErrEventNotFound)

	events, err := s.ElementsAfter(ctx, "nope", 0)
	require.NoError(t, err)
	assert.Empty(t, events)

	require.NoError(t, s.RemoveElementAt(ctx, "nope", 0))
	require.NoError(t, s.RemoveChannel(ctx, "nope"))

	channels, err := s.Channels(ctx)
	require.NoError(t, err)
	assert.Empty(t, channels)
}

func testAppendPreservesOrder(t *testing.T, s rewind.EventStore) {
	ctx := context.Background()
	AppendAll(t, s, "room1", NewEvent("a", 100), NewEvent("b", 200), NewEvent("c", 300))

	n, err := s.Len(ctx, "room1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	for i, want := range []string{"a", "b", "c"} {
		ev, err := s.ElementAt(ctx, "room1", i)
		require.NoError(t, err)
		assert.Equal(t, want, ev.Name)
		assert.Equal(t, "room1", ev.Channel)
	}

	_, err = s.ElementAt(ctx, "room1", 3)
	require.ErrorIs(t, err, types.ErrEventNotFound)
	_, err = s.ElementAt(ctx, "room1", -1)
	require.ErrorIs(t, err, types.ErrEventNotFound)
}

// testOutOfOrderTimes checks the time filter on a log whose times are not
// sorted. Backends may order the result differently, so only membership is
// compared.
func testOutOfOrderTimes(t *testing.T, s rewind.EventStore) {
	ctx := context.Background()
	AppendAll(t, s, "room1",
		NewEvent("a", 100),
		NewEvent("c", 300),
		NewEvent("b", 200),
		NewEvent("d", 150),
		NewEvent("e", 400),
	)

	tests := []struct {
		after int64
		want  []string
	}{
		{250, []string{"c", "e"}},
		{180, []string{"c", "b", "e"}},
		{120, []string{"c", "b", "d", "e"}},
		{400, nil},
	}

	for _, tt := range tests {
		events, err := s.ElementsAfter(ctx, "room1", tt.after)
		require.NoError(t, err)
		assert.ElementsMatch(t, tt.want, Names(events), "after %d", tt.after)
	}
}

func testSameMillisecond(t *testing.T, s rewind.EventStore) {
	ctx := context.Background()
	AppendAll(t, s, "room1", NewEvent("first", 500), NewEvent("second", 500), NewEvent("third", 500))

	events, err := s.ElementsAfter(ctx, "room1", 499)
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second", "third"}, Names(events))

	oldest, err := s.ElementAt(ctx, "room1", 0)
	require.NoError(t, err)
	assert.Equal(t, "first", oldest.Name)
}

func testElementsAfterIsStrict(t *testing.T, s rewind.EventStore) {
	ctx := context.Background()
	AppendAll(t, s, "room1", NewEvent("a", 100), NewEvent("b", 200), NewEvent("c", 300))

	tests := []struct {
		after int64
		want  []string
	}{
		{0, []string{"a", "b", "c"}},
		{100, []string{"b", "c"}},
		{150, []string{"b", "c"}},
		{200, []string{"c"}},
		{300, []string{}},
		{1000, []string{}},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("after_%d", tt.after), func(t *testing.T) {
			events, err := s.ElementsAfter(ctx, "room1", tt.after)
			require.NoError(t, err)
			assert.Equal(t, tt.want, Names(events))
		})
	}
}

func testRemoveElementAt(t *testing.T, s rewind.EventStore) {
	ctx := context.Background()
	AppendAll(t, s, "room1",
		NewEvent("a", 100), NewEvent("b", 200), NewEvent("c", 300), NewEvent("d", 400))

	require.NoError(t, s.RemoveElementAt(ctx, "room1", 0))
	require.NoError(t, s.RemoveElementAt(ctx, "room1", 1)) // c
	require.NoError(t, s.RemoveElementAt(ctx, "room1", 10))
	require.NoError(t, s.RemoveElementAt(ctx, "room1", -1))

	events, err := s.ElementsAfter(ctx, "room1", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "d"}, Names(events))

	AppendAll(t, s, "room1", NewEvent("e", 500))
	events, err = s.ElementsAfter(ctx, "room1", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "d", "e"}, Names(events))
}

func testRemoveChannel(t *testing.T, s rewind.EventStore) {
	ctx := context.Background()
	AppendAll(t, s, "room1", NewEvent("a", 100), NewEvent("b", 200))
	AppendAll(t, s, "room2", NewEvent("x", 100))

	require.NoError(t, s.RemoveChannel(ctx, "room1"))

	n, err := s.Len(ctx, "room1")
	require.NoError(t, err)
	assert.Zero(t, n)

	events, err := s.ElementsAfter(ctx, "room1", 0)
	require.NoError(t, err)
	assert.Empty(t, events)

	n, err = s.Len(ctx, "room2")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// A removed channel starts over on the next append.
	AppendAll(t, s, "room1", NewEvent("c", 300))
	events, err = s.ElementsAfter(ctx, "room1", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, Names(events))
}

func testChannels(t *testing.T, s rewind.EventStore) {
	ctx := context.Background()
	AppendAll(t, s, "room2", NewEvent("a", 100))
	AppendAll(t, s, "room1", NewEvent("b", 100))
	AppendAll(t, s, "general", NewEvent("c", 100))

	channels, err := s.Channels(ctx)
	require.NoError(t, err)
	slices.Sort(channels)
	assert.Equal(t, []string{"general", "room1", "room2"}, channels)

	require.NoError(t, s.RemoveElementAt(ctx, "room2", 0))
	require.NoError(t, s.RemoveChannel(ctx, "general"))

	channels, err = s.Channels(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"room1"}, channels)
}

func testIsolation(t *testing.T, s rewind.EventStore) {
	ctx := context.Background()
	AppendAll(t, s, "room1", NewEvent("a", 100))
	AppendAll(t, s, "room2", NewEvent("b", 200))

	events, err := s.ElementsAfter(ctx, "room1", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, Names(events))

	events, err = s.ElementsAfter(ctx, "room2", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, Names(events))
}

func testPayloadRoundTrip(t *testing.T, s rewind.EventStore) {
	ctx := context.Background()

	ev := NewEvent("message", 100)
	ev.Payload = map[string]any{
		"text":  "hello, world",
		"score": 1.5,
		"tags":  []any{"x", "y"},
		"ok":    true,
	}
	AppendAll(t, s, "room1", ev)

	got, err := s.ElementAt(ctx, "room1", 0)
	require.NoError(t, err)
	assert.Equal(t, ev.ID, got.ID)
	assert.Equal(t, ev.Name, got.Name)
	assert.Equal(t, ev.Time, got.Time)
	assert.Equal(t, ev.Payload, got.Payload)

	nilPayload := NewEvent("ping", 200)
	nilPayload.Payload = nil
	AppendAll(t, s, "room1", nilPayload)

	got, err = s.ElementAt(ctx, "room1", 1)
	require.NoError(t, err)
	assert.Nil(t, got.Payload)
}

func testUnusualChannelNames(t *testing.T, s rewind.EventStore) {
	ctx := context.Background()
	names := []string{"room:1", "a/b c", "ünïcode", "{braces}", "with.dots", "pipe|delim"}

	for i, ch := range names {
		AppendAll(t, s, ch, NewEvent(fmt.Sprintf("e%d", i), int64(100+i)))
	}

	channels, err := s.Channels(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, names, channels)

	for i, ch := range names {
		events, err := s.ElementsAfter(ctx, ch, 0)
		require.NoError(t, err)
		assert.Equal(t, []string{fmt.Sprintf("e%d", i)}, Names(events), "channel %q", ch)
	}
}

func testConcurrentChannels(t *testing.T, s rewind.EventStore) {
	const (
		workers = 8
		perChan = 10
	)
	ctx := context.Background()

	var wg sync.WaitGroup
	errCh := make(chan error, workers*perChan)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			ch := fmt.Sprintf("room-%d", w)
			for i := 0; i < perChan; i++ {
				if err := s.Append(ctx, ch, NewEvent(fmt.Sprintf("e%d", i), int64(100+i))); err != nil {
					errCh <- err
				}
			}
		}(w)
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		require.NoError(t, err)
	}

	for w := 0; w < workers; w++ {
		n, err := s.Len(ctx, fmt.Sprintf("room-%d", w))
		require.NoError(t, err)
		assert.Equal(t, perChan, n)
	}
}

func testClosed(t *testing.T, s rewind.EventStore) {
	ctx := context.Background()
	AppendAll(t, s, "room1", NewEvent("a", 100))

	require.NoError(t, s.Close())
	require.NoError(t, s.Close(), "Close must be idempotent")

	require.ErrorIs(t, s.Append(ctx, "room1", NewEvent("b", 200)), types.ErrStoreClosed)

	_, err := s.Len(ctx, "room1")
	require.ErrorIs(t, err, types.ErrStoreClosed)

	_, err = s.ElementAt(ctx, "room1", 0)
	require.ErrorIs(t, err, types.ErrStoreClosed)

	_, err = s.ElementsAfter(ctx, "room1", 0)
	require.ErrorIs(t, err, types.ErrStoreClosed)

	require.ErrorIs(t, s.RemoveElementAt(ctx, "room1", 0), types.ErrStoreClosed)
	require.ErrorIs(t, s.RemoveChannel(ctx, "room1"), types.ErrStoreClosed)

	_, err = s.Channels(ctx)
	require.ErrorIs(t, err, types.ErrStoreClosed)
}

package rewind_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/rewind"
	"github.com/arloliu/rewind/store"
	"github.com/arloliu/rewind/store/storetest"
	"github.com/arloliu/rewind/test/testutil"
	"github.com/arloliu/rewind/types"
)

func record(t *testing.T, m *rewind.RetentionManager, channel, name string, at int64) {
	t.Helper()

	require.NoError(t, m.RecordEvent(context.Background(), types.Event{Channel: channel, Name: name, Time: at}))
}

func names(t *testing.T, s rewind.EventStore, channel string) []string {
	t.Helper()

	events, err := s.ElementsAfter(context.Background(), channel, -1)
	require.NoError(t, err)

	return storetest.Names(events)
}

func TestNewRetentionManager_Validation(t *testing.T) {
	_, err := rewind.NewRetentionManager(nil)
	require.ErrorIs(t, err, types.ErrNilStore)

	_, err = rewind.NewRetentionManager(store.NewMemoryStore(), rewind.WithCountLimit(-1))
	require.ErrorIs(t, err, types.ErrInvalidPolicy)

	m, err := rewind.NewRetentionManager(store.NewMemoryStore())
	require.NoError(t, err)
	assert.Equal(t, types.DefaultRetentionPolicy(), m.Policy())
	assert.NotNil(t, m.Store())
}

func TestRetentionManager_CountBound(t *testing.T) {
	st := store.NewMemoryStore()
	collector := testutil.NewTestMetricsCollector()

	m, err := rewind.NewRetentionManager(st, rewind.WithCountLimit(3), rewind.WithMetrics(collector))
	require.NoError(t, err)

	for i, name := range []string{"a", "b", "c", "d", "e"} {
		record(t, m, "room1", name, int64(100*(i+1)))
	}

	assert.Equal(t, []string{"c", "d", "e"}, names(t, st, "room1"))
	assert.Equal(t, int64(2), collector.GetEvictions(rewind.EvictionCount))
	assert.Equal(t, int64(5), collector.GetRecorded())
}

func TestRetentionManager_CountLimitZeroKeepsNewest(t *testing.T) {
	st := store.NewMemoryStore()

	m, err := rewind.NewRetentionManager(st, rewind.WithCountLimit(0))
	require.NoError(t, err)

	record(t, m, "room1", "a", 100)
	record(t, m, "room1", "b", 200)
	record(t, m, "room1", "c", 300)

	assert.Equal(t, []string{"c"}, names(t, st, "room1"))
}

func TestRetentionManager_ChannelsAreBoundedIndependently(t *testing.T) {
	st := store.NewMemoryStore()

	m, err := rewind.NewRetentionManager(st, rewind.WithCountLimit(2))
	require.NoError(t, err)

	record(t, m, "room1", "a", 100)
	record(t, m, "room1", "b", 200)
	record(t, m, "room2", "x", 250)
	record(t, m, "room1", "c", 300)

	assert.Equal(t, []string{"b", "c"}, names(t, st, "room1"))
	assert.Equal(t, []string{"x"}, names(t, st, "room2"))
}

func TestRetentionManager_OneEvictionPerAppendUnlessDraining(t *testing.T) {
	tests := []struct {
		name  string
		drain bool
		want  []string
	}{
		{"single eviction", false, []string{"b", "c", "d", "e", "new"}},
		{"drain", true, []string{"e", "new"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := store.NewMemoryStore()
			// History written before the limit was lowered.
			for i, name := range []string{"a", "b", "c", "d", "e"} {
				storetest.AppendAll(t, st, "room1", storetest.NewEvent(name, int64(100*(i+1))))
			}

			m, err := rewind.NewRetentionManager(st,
				rewind.WithCountLimit(2),
				rewind.WithDrainOnAppend(tt.drain),
			)
			require.NoError(t, err)

			record(t, m, "room1", "new", 1000)
			assert.Equal(t, tt.want, names(t, st, "room1"))
		})
	}
}

func TestRetentionManager_MaxAgeZeroKeepsNewest(t *testing.T) {
	tests := []struct {
		name  string
		times []int64
	}{
		{"distinct times", []int64{100, 200, 300}},
		{"same millisecond", []int64{500, 500, 500}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := store.NewMemoryStore()
			m, err := rewind.NewRetentionManager(st, rewind.WithMaxAge(0))
			require.NoError(t, err)

			record(t, m, "room1", "x", tt.times[0])
			record(t, m, "room1", "y", tt.times[1])
			record(t, m, "room1", "z", tt.times[2])

			assert.Equal(t, []string{"z"}, names(t, st, "room1"))
		})
	}
}

func TestRetentionManager_AgeBound(t *testing.T) {
	const base = int64(1_000)
	st := store.NewMemoryStore()
	collector := testutil.NewTestMetricsCollector()

	m, err := rewind.NewRetentionManager(st,
		rewind.WithMaxAge(100*time.Millisecond),
		rewind.WithMetrics(collector),
	)
	require.NoError(t, err)

	record(t, m, "room1", "t0", base)
	record(t, m, "room1", "t50", base+50)
	record(t, m, "room1", "t100", base+100)
	// Newest stored is t100, so t0 sits exactly on the bound and is kept.
	record(t, m, "room1", "t150", base+150)
	assert.Equal(t, []string{"t0", "t50", "t100", "t150"}, names(t, st, "room1"))

	// Newest stored is t150, so t0 is past the bound.
	record(t, m, "room1", "t300", base+300)
	assert.Equal(t, []string{"t50", "t100", "t150", "t300"}, names(t, st, "room1"))
	assert.Equal(t, int64(1), collector.GetEvictions(rewind.EvictionAge))
	assert.Zero(t, collector.GetEvictions(rewind.EvictionCount))
}

func TestRetentionManager_AgeBoundDrain(t *testing.T) {
	const base = int64(1_000)
	tests := []struct {
		name  string
		drain bool
		want  []string
	}{
		{"single eviction", false, []string{"t10", "t20", "t500", "t510"}},
		{"drain", true, []string{"t500", "t510"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := store.NewMemoryStore()
			m, err := rewind.NewRetentionManager(st,
				rewind.WithMaxAge(100*time.Millisecond),
				rewind.WithDrainOnAppend(tt.drain),
			)
			require.NoError(t, err)

			record(t, m, "room1", "t0", base)
			record(t, m, "room1", "t10", base+10)
			record(t, m, "room1", "t20", base+20)
			record(t, m, "room1", "t500", base+500)
			record(t, m, "room1", "t510", base+510)

			assert.Equal(t, tt.want, names(t, st, "room1"))
		})
	}
}

func TestRetentionManager_AssignsIDAndTime(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	clock := testutil.NewStepClock(1234)

	m, err := rewind.NewRetentionManager(st, rewind.WithClock(clock.Now))
	require.NoError(t, err)

	require.NoError(t, m.RecordEvent(ctx, types.Event{Channel: "room1", Name: "a"}))
	require.NoError(t, m.RecordEvent(ctx, types.Event{ID: "fixed", Channel: "room1", Name: "b", Time: 99}))

	first, err := st.ElementAt(ctx, "room1", 0)
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, int64(1234), first.Time)

	second, err := st.ElementAt(ctx, "room1", 1)
	require.NoError(t, err)
	assert.Equal(t, "fixed", second.ID)
	assert.Equal(t, int64(1234), second.Time, "earlier time is raised to the newest stored time")

	require.NoError(t, m.RecordEvent(ctx, types.Event{Channel: "room1", Name: "c", Time: 2000}))
	third, err := st.ElementAt(ctx, "room1", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), third.Time)
}

func TestRetentionManager_StoreFailures(t *testing.T) {
	tests := []struct {
		name string
		op   string
	}{
		{"append", testutil.OpAppend},
		{"len", testutil.OpLen},
		{"newest", testutil.OpElementAt},
		{"evict", testutil.OpRemoveElementAt},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := testutil.NewFailingStore(store.NewMemoryStore())
			collector := testutil.NewTestMetricsCollector()

			m, err := rewind.NewRetentionManager(st, rewind.WithCountLimit(1), rewind.WithMetrics(collector))
			require.NoError(t, err)
			record(t, m, "room1", "a", 100)

			st.Fail(tt.op, "room1", nil)

			err = m.RecordEvent(context.Background(), types.Event{Channel: "room1", Name: "b", Time: 200})
			require.ErrorIs(t, err, testutil.ErrInjected)
			assert.Equal(t, int64(1), collector.GetRecordErrors())
		})
	}
}

func TestRetentionManager_ConcurrentRecordsRespectBound(t *testing.T) {
	const (
		limit   = 10
		writers = 8
		each    = 25
	)
	st := store.NewMemoryStore()

	m, err := rewind.NewRetentionManager(st, rewind.WithCountLimit(limit))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < each; i++ {
				ev := types.Event{Channel: "room1", Name: fmt.Sprintf("w%d-%d", w, i), Time: int64(i + 1)}
				if err := m.RecordEvent(context.Background(), ev); err != nil {
					t.Error(err)
				}
			}
		}(w)
	}
	wg.Wait()

	n, err := st.Len(context.Background(), "room1")
	require.NoError(t, err)
	assert.Equal(t, limit, n)
}

func TestRetentionManager_ConcurrentRecordsKeepTimeOrder(t *testing.T) {
	const (
		writers = 8
		each    = 50
	)
	ctx := context.Background()
	st := store.NewMemoryStore()

	m, err := rewind.NewRetentionManager(st, rewind.WithCountLimit(writers*each))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < each; i++ {
				// Writers run on skewed clocks, so arrival order differs from time order.
				ev := types.Event{Channel: "room1", Name: fmt.Sprintf("w%d-%d", w, i), Time: int64(100 + i*10 + w*7)}
				if err := m.RecordEvent(ctx, ev); err != nil {
					t.Error(err)
				}
			}
		}(w)
	}
	wg.Wait()

	events, err := st.ElementsAfter(ctx, "room1", -1)
	require.NoError(t, err)
	require.Len(t, events, writers*each)
	for i := 1; i < len(events); i++ {
		require.LessOrEqual(t, events[i-1].Time, events[i].Time, "index %d", i)
	}

	// Every cut point splits the log into a prefix and a replayed suffix.
	for _, cut := range []int64{150, 200, 333, 400} {
		after, err := st.ElementsAfter(ctx, "room1", cut)
		require.NoError(t, err)
		want := 0
		for _, ev := range events {
			if ev.Time > cut {
				want++
			}
		}
		assert.Len(t, after, want, "cut %d", cut)
	}
}

func TestRetentionManager_Sweep(t *testing.T) {
	ctx := context.Background()
	now := int64(10 * time.Hour / time.Millisecond)
	clock := testutil.NewStepClock(now)
	st := store.NewMemoryStore()
	collector := testutil.NewTestMetricsCollector()

	m, err := rewind.NewRetentionManager(st,
		rewind.WithInactivityTTL(10*time.Minute),
		rewind.WithClock(clock.Now),
		rewind.WithMetrics(collector),
	)
	require.NoError(t, err)

	minute := time.Minute.Milliseconds()
	// Only the newest event decides: an old head does not make a channel stale.
	record(t, m, "active", "old", now-30*minute)
	record(t, m, "active", "recent", now-minute)
	record(t, m, "stale", "a", now-11*minute)
	record(t, m, "edge", "a", now-10*minute)

	result, err := m.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, rewind.SweepResult{Scanned: 3, Removed: 1}, result)

	channels, err := st.Channels(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"active", "edge"}, channels)
	assert.Equal(t, int64(1), collector.GetChannelsRemoved())
	assert.Equal(t, int64(1), collector.GetSweepRuns())
}

func TestRetentionManager_SweepDisabled(t *testing.T) {
	st := testutil.NewFailingStore(store.NewMemoryStore())

	m, err := rewind.NewRetentionManager(st, rewind.WithInactivityTTL(0))
	require.NoError(t, err)

	result, err := m.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result)
	assert.Zero(t, st.Calls(testutil.OpChannels))
}

func TestRetentionManager_SweepContinuesPastFailures(t *testing.T) {
	ctx := context.Background()
	clock := testutil.NewStepClock(int64(time.Hour / time.Millisecond))
	st := testutil.NewFailingStore(store.NewMemoryStore())
	collector := testutil.NewTestMetricsCollector()

	m, err := rewind.NewRetentionManager(st,
		rewind.WithInactivityTTL(time.Minute),
		rewind.WithClock(clock.Now),
		rewind.WithMetrics(collector),
	)
	require.NoError(t, err)

	record(t, m, "bad", "a", 1)
	record(t, m, "good", "a", 1)
	st.Fail(testutil.OpRemoveChannel, "bad", nil)

	result, err := m.Sweep(ctx)
	require.Error(t, err)
	assert.Equal(t, rewind.SweepResult{Scanned: 2, Removed: 1, Errors: 1}, result)

	var chErr *types.ChannelError
	require.True(t, errors.As(err, &chErr))
	assert.Equal(t, "bad", chErr.Channel)
	require.ErrorIs(t, err, testutil.ErrInjected)
	assert.Equal(t, int64(1), collector.GetSweepErrors())
}

func TestRetentionManager_SweepListFailure(t *testing.T) {
	st := testutil.NewFailingStore(store.NewMemoryStore())
	st.Fail(testutil.OpChannels, "", nil)

	m, err := rewind.NewRetentionManager(st)
	require.NoError(t, err)

	_, err = m.Sweep(context.Background())
	require.ErrorIs(t, err, testutil.ErrInjected)
}

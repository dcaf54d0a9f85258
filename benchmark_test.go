package rewind_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/arloliu/rewind"
	"github.com/arloliu/rewind/store"
	"github.com/arloliu/rewind/types"
)

// =============================================================================
// Benchmark Infrastructure
// =============================================================================

// discardSender is a zero-overhead rewind.ClientSender.
type discardSender struct {
	sent atomic.Int64
}

func (s *discardSender) SendTo(_ context.Context, _ string, _ string, _ any) error {
	s.sent.Add(1)

	return nil
}

// benchClock returns a clock advancing one millisecond per call, so every
// recorded event gets a distinct time.
func benchClock() rewind.Clock {
	var ms atomic.Int64
	ms.Store(1_000)

	return func() time.Time {
		return time.UnixMilli(ms.Add(1))
	}
}

func newBenchManager(b *testing.B, st rewind.EventStore, opts ...rewind.Option) *rewind.RetentionManager {
	b.Helper()

	opts = append([]rewind.Option{rewind.WithClock(benchClock())}, opts...)
	m, err := rewind.NewRetentionManager(st, opts...)
	if err != nil {
		b.Fatal(err)
	}

	return m
}

// =============================================================================
// Recording Benchmarks
// =============================================================================

// BenchmarkRecordCountBound measures recording into a full count-bounded log,
// where every append also evicts.
func BenchmarkRecordCountBound(b *testing.B) {
	m := newBenchManager(b, store.NewMemoryStore(), rewind.WithCountLimit(500))
	ctx := context.Background()
	ev := types.Event{Channel: "room1", Name: "message", Payload: "hello"}

	b.ResetTimer()
	b.ReportAllocs()

	for b.Loop() {
		_ = m.RecordEvent(ctx, ev)
	}
}

// BenchmarkRecordAgeBound measures recording under age-bounded retention,
// which reads the oldest and newest events before each append.
func BenchmarkRecordAgeBound(b *testing.B) {
	m := newBenchManager(b, store.NewMemoryStore(), rewind.WithMaxAge(100*time.Millisecond))
	ctx := context.Background()
	ev := types.Event{Channel: "room1", Name: "message", Payload: "hello"}

	b.ResetTimer()
	b.ReportAllocs()

	for b.Loop() {
		_ = m.RecordEvent(ctx, ev)
	}
}

// BenchmarkRecordParallelChannels measures concurrent recording into
// distinct channels, which only contend on lock stripes.
func BenchmarkRecordParallelChannels(b *testing.B) {
	m := newBenchManager(b, store.NewMemoryStore(), rewind.WithCountLimit(100))
	ctx := context.Background()

	var worker atomic.Int64

	b.ResetTimer()
	b.ReportAllocs()

	b.RunParallel(func(pb *testing.PB) {
		ev := types.Event{Channel: fmt.Sprintf("room%d", worker.Add(1)), Name: "message"}
		for pb.Next() {
			_ = m.RecordEvent(ctx, ev)
		}
	})
}

// BenchmarkRecordParallelSameChannel measures concurrent recording into one
// channel, fully serialized by its stripe lock.
func BenchmarkRecordParallelSameChannel(b *testing.B) {
	m := newBenchManager(b, store.NewMemoryStore(), rewind.WithCountLimit(100))
	ctx := context.Background()
	ev := types.Event{Channel: "room1", Name: "message"}

	b.ResetTimer()
	b.ReportAllocs()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_ = m.RecordEvent(ctx, ev)
		}
	})
}

// =============================================================================
// Interceptor Benchmarks
// =============================================================================

// BenchmarkInterceptorExcluded measures the cost of skipping a control event.
func BenchmarkInterceptorExcluded(b *testing.B) {
	i := rewind.NewInterceptor(newBenchManager(b, store.NewMemoryStore()))
	ctx := context.Background()
	p := types.Publish{Channel: "room1", Name: rewind.EventChangeRoomNames}

	b.ResetTimer()
	b.ReportAllocs()

	for b.Loop() {
		i.OnPublish(ctx, p)
	}
}

// BenchmarkInterceptorRecord measures the full publish hook path.
func BenchmarkInterceptorRecord(b *testing.B) {
	i := rewind.NewInterceptor(newBenchManager(b, store.NewMemoryStore(), rewind.WithCountLimit(500)))
	ctx := context.Background()
	p := types.Publish{Channel: "room1", Name: "message", Payload: "hello"}

	b.ResetTimer()
	b.ReportAllocs()

	for b.Loop() {
		i.OnPublish(ctx, p)
	}
}

// =============================================================================
// Replay Benchmarks
// =============================================================================

// BenchmarkReplay measures a reconnect replaying half of a 500-event log
// across two channels.
func BenchmarkReplay(b *testing.B) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	for _, ch := range []string{"room1", "general"} {
		for t := int64(1); t <= 500; t++ {
			_ = st.Append(ctx, ch, types.Event{Channel: ch, Name: "message", Time: t})
		}
	}

	c, err := rewind.NewCoordinator(st)
	if err != nil {
		b.Fatal(err)
	}
	sender := &discardSender{}
	hs := types.Handshake{Channels: []string{"room1", "general"}, LastDisconnectTime: 250}

	b.ResetTimer()
	b.ReportAllocs()

	for b.Loop() {
		_, _ = c.Replay(ctx, sender, "alice", hs)
	}
}

// BenchmarkReplayFirstConnection measures the first-connection fast path.
func BenchmarkReplayFirstConnection(b *testing.B) {
	c, err := rewind.NewCoordinator(store.NewMemoryStore())
	if err != nil {
		b.Fatal(err)
	}
	ctx := context.Background()
	sender := &discardSender{}

	b.ResetTimer()
	b.ReportAllocs()

	for b.Loop() {
		_, _ = c.Replay(ctx, sender, "alice", types.Handshake{})
	}
}

// =============================================================================
// Sweep Benchmarks
// =============================================================================

// BenchmarkSweepNothingStale measures a sweep over 1000 active channels.
func BenchmarkSweepNothingStale(b *testing.B) {
	ctx := context.Background()
	m := newBenchManager(b, store.NewMemoryStore(), rewind.WithInactivityTTL(time.Hour))
	for i := 0; i < 1000; i++ {
		_ = m.RecordEvent(ctx, types.Event{Channel: fmt.Sprintf("room%d", i), Name: "message"})
	}

	b.ResetTimer()
	b.ReportAllocs()

	for b.Loop() {
		_, _ = m.Sweep(ctx)
	}
}

// =============================================================================
// Membership Benchmarks
// =============================================================================

// BenchmarkMembershipJoinLeave measures a join followed by a leave.
func BenchmarkMembershipJoinLeave(b *testing.B) {
	m := rewind.NewMembership(nil)
	m.Join("alice", "general")

	b.ResetTimer()
	b.ReportAllocs()

	for b.Loop() {
		m.Join("alice", "room1")
		m.Leave("alice", "room1")
	}
}

package rewind

import (
	"context"
	"errors"
	"fmt"
	"hash/maphash"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arloliu/rewind/types"
)

// Eviction reasons reported to MetricsCollector.IncEviction.
const (
	EvictionCount = "count"
	EvictionAge   = "age"
)

// SweepResult summarizes one inactivity sweep.
type SweepResult struct {
	// Scanned is the number of channels inspected.
	Scanned int

	// Removed is the number of channels dropped.
	Removed int

	// Errors is the number of channels whose inspection or removal failed.
	Errors int
}

// RetentionManager keeps every channel log within its retention policy.
//
// Before each append it evicts the oldest event when the count or age bound
// is reached, and Sweep drops channels whose newest event is older than the
// inactivity TTL.
//
// # Concurrency
//
// Mutations of the same channel are serialized with striped locks keyed by
// channel name, so the bound check never runs against a stale length.
// Channels that hash to different stripes proceed in parallel. Sweep takes
// the same lock around its per-channel read-then-delete.
type RetentionManager struct {
	store   EventStore
	config  *Config
	seed    maphash.Seed
	stripes []sync.Mutex
}

// NewRetentionManager creates a retention manager over an event store.
//
// Parameters:
//   - store: The backing event store (required)
//   - opts: Optional configuration options (policy, logger, metrics, clock)
//
// Returns:
//   - *RetentionManager: A new retention manager
//   - error: ErrNilStore if store is nil, ErrInvalidPolicy if the policy is invalid
func NewRetentionManager(store EventStore, opts ...Option) (*RetentionManager, error) {
	if store == nil {
		return nil, types.ErrNilStore
	}

	cfg := newConfig(opts)
	if err := cfg.Policy.Validate(); err != nil {
		return nil, err
	}

	return &RetentionManager{
		store:   store,
		config:  cfg,
		seed:    maphash.MakeSeed(),
		stripes: make([]sync.Mutex, cfg.LockStripes),
	}, nil
}

// Policy returns the retention policy in effect.
func (m *RetentionManager) Policy() types.RetentionPolicy {
	return m.config.Policy
}

// Store returns the underlying event store.
func (m *RetentionManager) Store() EventStore {
	return m.store
}

// RecordEvent enforces the retention bound on the event's channel and then
// appends the event.
//
// The event ID is assigned when empty (UUIDv7, time-ordered) and the time is
// stamped from the configured clock when zero. Both happen under the channel
// lock, and the time is raised to the newest stored time when it is earlier,
// so every channel log stays non-decreasing in time. Store failures are
// returned as-is and are not retried.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - ev: The event to record; Channel must be set
//
// Returns:
//   - error: Store error from eviction or append, or nil on success
func (m *RetentionManager) RecordEvent(ctx context.Context, ev types.Event) error {
	start := time.Now()
	defer func() {
		m.config.Metrics.ObserveRecordDuration(time.Since(start).Seconds())
	}()

	mu := m.lockFor(ev.Channel)
	mu.Lock()
	defer mu.Unlock()

	if err := m.stamp(ctx, &ev); err != nil {
		m.config.Metrics.IncRecordError()
		return err
	}

	if err := m.evict(ctx, ev.Channel); err != nil {
		m.config.Metrics.IncRecordError()
		return err
	}

	if err := m.store.Append(ctx, ev.Channel, ev); err != nil {
		m.config.Metrics.IncRecordError()
		return err
	}

	m.config.Metrics.IncEventRecorded()

	return nil
}

// stamp assigns the id and time of ev. The caller holds the channel lock.
func (m *RetentionManager) stamp(ctx context.Context, ev *types.Event) error {
	if ev.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("rewind: failed to generate event id: %w", err)
		}
		ev.ID = id.String()
	}
	if ev.Time == 0 {
		ev.Time = m.config.nowMillis()
	}

	n, err := m.store.Len(ctx, ev.Channel)
	if err != nil {
		return err
	}
	if n == 0 {
		return nil
	}

	newest, err := m.store.ElementAt(ctx, ev.Channel, n-1)
	if errors.Is(err, types.ErrEventNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	ev.Time = max(ev.Time, newest.Time)

	return nil
}

// evict removes the oldest event while the channel violates its bound.
// Without DrainOnAppend it removes at most one event.
func (m *RetentionManager) evict(ctx context.Context, channel string) error {
	policy := m.config.Policy

	for {
		n, err := m.store.Len(ctx, channel)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}

		violated, reason, err := m.violates(ctx, channel, n)
		if err != nil {
			return err
		}
		if !violated {
			return nil
		}

		if err := m.store.RemoveElementAt(ctx, channel, 0); err != nil {
			return err
		}
		m.config.Metrics.IncEviction(reason)

		if !policy.DrainOnAppend {
			return nil
		}
	}
}

// violates reports whether a channel of length n breaks the retention bound.
func (m *RetentionManager) violates(ctx context.Context, channel string, n int) (bool, string, error) {
	policy := m.config.Policy

	if policy.Mode == types.RetentionCount {
		return n >= policy.CountLimit, EvictionCount, nil
	}

	// A zero max age keeps only the event about to be appended.
	if policy.MaxAge <= 0 {
		return true, EvictionAge, nil
	}

	oldest, err := m.store.ElementAt(ctx, channel, 0)
	if errors.Is(err, types.ErrEventNotFound) {
		return false, EvictionAge, nil
	}
	if err != nil {
		return false, EvictionAge, err
	}

	newest, err := m.store.ElementAt(ctx, channel, n-1)
	if errors.Is(err, types.ErrEventNotFound) {
		return false, EvictionAge, nil
	}
	if err != nil {
		return false, EvictionAge, err
	}

	return oldest.Time < newest.Time-policy.MaxAge.Milliseconds(), EvictionAge, nil
}

// Sweep drops every channel whose newest event is older than the inactivity TTL.
//
// Only the newest event of each channel is inspected. Channels that are
// empty or vanish during the scan are skipped. A failure on one channel is
// logged and counted, and the sweep continues with the remaining channels.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//
// Returns:
//   - SweepResult: Number of channels scanned, removed and failed
//   - error: Joined per-channel errors, or the error from listing channels
func (m *RetentionManager) Sweep(ctx context.Context) (SweepResult, error) {
	var result SweepResult

	ttl := m.config.Policy.InactivityTTL
	if ttl <= 0 {
		return result, nil
	}

	channels, err := m.store.Channels(ctx)
	if err != nil {
		m.config.Metrics.IncSweepError()
		return result, err
	}

	cutoff := m.config.nowMillis() - ttl.Milliseconds()

	var errs []error
	for _, channel := range channels {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}

		result.Scanned++

		removed, err := m.sweepChannel(ctx, channel, cutoff)
		if err != nil {
			result.Errors++
			m.config.Metrics.IncSweepError()
			m.config.Logger.Warn("rewind: sweep failed for channel",
				"channel", channel,
				"error", err,
			)
			errs = append(errs, &types.ChannelError{Channel: channel, Cause: err})

			continue
		}

		if removed {
			result.Removed++
			m.config.Metrics.IncChannelSwept()
		}
	}

	m.config.Metrics.IncSweepRun()
	m.config.Logger.Debug("rewind: sweep completed",
		"scanned", result.Scanned,
		"removed", result.Removed,
		"errors", result.Errors,
	)

	return result, errors.Join(errs...)
}

// sweepChannel removes channel when its newest event is older than cutoff.
func (m *RetentionManager) sweepChannel(ctx context.Context, channel string, cutoff int64) (bool, error) {
	mu := m.lockFor(channel)
	mu.Lock()
	defer mu.Unlock()

	n, err := m.store.Len(ctx, channel)
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}

	newest, err := m.store.ElementAt(ctx, channel, n-1)
	if errors.Is(err, types.ErrEventNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if newest.Time >= cutoff {
		return false, nil
	}

	if err := m.store.RemoveChannel(ctx, channel); err != nil {
		return false, err
	}

	return true, nil
}

// lockFor returns the stripe lock guarding channel.
func (m *RetentionManager) lockFor(channel string) *sync.Mutex {
	idx := maphash.String(m.seed, channel) % uint64(len(m.stripes))

	return &m.stripes[idx]
}

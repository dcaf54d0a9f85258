// Package chaos wraps an event store to inject latency and failures.
package chaos

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"slices"
	"sync/atomic"
	"time"

	"github.com/arloliu/rewind"
	"github.com/arloliu/rewind/test/testutil"
	"github.com/arloliu/rewind/types"
)

// ErrChaos is returned by operations the chaos store decided to fail.
var ErrChaos = errors.New("chaos: injected store failure")

// StoreConfig holds the chaos configuration for a store.
type StoreConfig struct {
	Latency   time.Duration // Added before every operation
	ErrorRate float64       // 0.0-1.0 probability to fail
	Ops       []string      // Operations subject to ErrorRate; empty means all
}

// Store wraps a rewind.EventStore to inject chaos.
type Store struct {
	wrapped rewind.EventStore
	config  *atomic.Pointer[StoreConfig]
	failed  atomic.Int64
}

// Compile-time assertion that Store implements rewind.EventStore.
var _ rewind.EventStore = (*Store)(nil)

// NewStore creates a chaos store wrapping the provided real store.
func NewStore(wrapped rewind.EventStore) *Store {
	s := &Store{
		wrapped: wrapped,
		config:  &atomic.Pointer[StoreConfig]{},
	}
	s.config.Store(&StoreConfig{})

	return s
}

// SetConfig replaces the chaos configuration.
func (s *Store) SetConfig(cfg StoreConfig) {
	cfg.Ops = slices.Clone(cfg.Ops)
	s.config.Store(&cfg)
}

// SetErrorRate fails every operation with the given probability.
func (s *Store) SetErrorRate(rate float64, ops ...string) {
	cfg := *s.config.Load()
	cfg.ErrorRate = rate
	cfg.Ops = ops
	s.SetConfig(cfg)
}

// SetLatency delays every operation.
func (s *Store) SetLatency(d time.Duration) {
	cfg := *s.config.Load()
	cfg.Latency = d
	s.SetConfig(cfg)
}

// Reset removes all chaos.
func (s *Store) Reset() {
	s.SetConfig(StoreConfig{})
}

// Failed returns the number of injected failures.
func (s *Store) Failed() int64 {
	return s.failed.Load()
}

func (s *Store) inject(ctx context.Context, op string) error {
	cfg := s.config.Load()

	if cfg.Latency > 0 {
		timer := time.NewTimer(cfg.Latency)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	if cfg.ErrorRate <= 0 {
		return nil
	}
	if len(cfg.Ops) > 0 && !slices.Contains(cfg.Ops, op) {
		return nil
	}
	if shouldFail(cfg.ErrorRate) {
		s.failed.Add(1)
		return &types.StoreError{Backend: "chaos", Op: op, Cause: ErrChaos}
	}

	return nil
}

func shouldFail(rate float64) bool {
	if rate >= 1.0 {
		return true
	}

	n, err := rand.Int(rand.Reader, big.NewInt(1000))
	if err != nil {
		return false
	}

	return float64(n.Int64())/1000.0 < rate
}

func (s *Store) Append(ctx context.Context, channel string, ev types.Event) error {
	if err := s.inject(ctx, testutil.OpAppend); err != nil {
		return err
	}

	return s.wrapped.Append(ctx, channel, ev)
}

func (s *Store) Len(ctx context.Context, channel string) (int, error) {
	if err := s.inject(ctx, testutil.OpLen); err != nil {
		return 0, err
	}

	return s.wrapped.Len(ctx, channel)
}

func (s *Store) ElementAt(ctx context.Context, channel string, index int) (types.Event, error) {
	if err := s.inject(ctx, testutil.OpElementAt); err != nil {
		return types.Event{}, err
	}

	return s.wrapped.ElementAt(ctx, channel, index)
}

func (s *Store) ElementsAfter(ctx context.Context, channel string, t int64) ([]types.Event, error) {
	if err := s.inject(ctx, testutil.OpElementsAfter); err != nil {
		return nil, err
	}

	return s.wrapped.ElementsAfter(ctx, channel, t)
}

func (s *Store) RemoveElementAt(ctx context.Context, channel string, index int) error {
	if err := s.inject(ctx, testutil.OpRemoveElementAt); err != nil {
		return err
	}

	return s.wrapped.RemoveElementAt(ctx, channel, index)
}

func (s *Store) RemoveChannel(ctx context.Context, channel string) error {
	if err := s.inject(ctx, testutil.OpRemoveChannel); err != nil {
		return err
	}

	return s.wrapped.RemoveChannel(ctx, channel)
}

func (s *Store) Channels(ctx context.Context) ([]string, error) {
	if err := s.inject(ctx, testutil.OpChannels); err != nil {
		return nil, err
	}

	return s.wrapped.Channels(ctx)
}

func (s *Store) Close() error {
	return s.wrapped.Close()
}

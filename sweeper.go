package rewind

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/rewind/types"
)

// Sweeper runs the retention manager's inactivity sweep on a fixed period.
//
// The period is the policy's SweepInterval. Each run is bounded by the
// configured SweepTimeout. A sweeper can be restarted after Stop.
type Sweeper struct {
	manager *RetentionManager
	config  *Config
	mu      sync.Mutex
	stopCh  chan struct{}
	wg      sync.WaitGroup
	running atomic.Bool
	runs    atomic.Int64
}

// NewSweeper creates a sweeper for a retention manager.
//
// The sweeper shares the manager's policy, logger and metrics unless
// overridden by opts.
//
// Parameters:
//   - manager: The retention manager to sweep
//   - opts: Optional configuration options
//
// Returns:
//   - *Sweeper: A new, stopped sweeper
func NewSweeper(manager *RetentionManager, opts ...Option) *Sweeper {
	cfg := *manager.config
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Sweeper{
		manager: manager,
		config:  &cfg,
	}
}

// Start begins sweeping in a background goroutine.
//
// A zero SweepInterval or InactivityTTL leaves the sweeper idle; Start still
// succeeds so lifecycles stay uniform.
//
// Returns:
//   - error: types.ErrSweeperRunning if already started
func (s *Sweeper) Start() error {
	if !s.running.CompareAndSwap(false, true) {
		return types.ErrSweeperRunning
	}

	s.mu.Lock()
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.mu.Unlock()

	interval := s.config.Policy.SweepInterval
	if interval <= 0 || s.config.Policy.InactivityTTL <= 0 {
		s.config.Logger.Info("rewind: sweeper idle, sweep disabled by policy")
		return nil
	}

	s.wg.Add(1)
	go s.loop(stopCh, interval)

	s.config.Logger.Info("rewind: sweeper started",
		"interval", interval,
		"inactivity_ttl", s.config.Policy.InactivityTTL,
	)

	return nil
}

// Stop signals the sweep loop to exit and waits for an in-flight run to finish.
func (s *Sweeper) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}

	s.mu.Lock()
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
}

// IsRunning returns whether the sweeper is currently running.
func (s *Sweeper) IsRunning() bool {
	return s.running.Load()
}

// Runs returns the number of completed sweep runs.
func (s *Sweeper) Runs() int64 {
	return s.runs.Load()
}

func (s *Sweeper) loop(stopCh <-chan struct{}, interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			s.runOnce(stopCh)
		}
	}
}

// runOnce performs one bounded sweep, cancelled early if the sweeper stops.
func (s *Sweeper) runOnce(stopCh <-chan struct{}) {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if s.config.SweepTimeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), s.config.SweepTimeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	defer cancel()

	go func() {
		select {
		case <-stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	result, err := s.manager.Sweep(ctx)
	s.runs.Add(1)

	if err != nil {
		s.config.Logger.Error("rewind: sweep finished with errors",
			"scanned", result.Scanned,
			"removed", result.Removed,
			"errors", result.Errors,
			"error", err,
		)
	}

	if s.config.OnSweep != nil {
		s.config.OnSweep(result, err)
	}
}

package rewind

import (
	"context"
	"sync/atomic"

	"github.com/arloliu/rewind/types"
)

// Rewind wires the retention manager, sweeper, interceptor and replay
// coordinator over a single event store.
//
// The sweeper is started by New and stopped by Close. Close does not close
// the event store; its owner does.
type Rewind struct {
	store       EventStore
	config      *Config
	retention   *RetentionManager
	sweeper     *Sweeper
	interceptor *Interceptor
	coordinator *Coordinator
	closed      atomic.Bool
}

// New creates a Rewind instance and starts its inactivity sweeper.
//
// Parameters:
//   - store: The event store backend (required)
//   - opts: Optional configuration options shared by all components
//
// Returns:
//   - *Rewind: A ready instance
//   - error: ErrNilStore, ErrInvalidPolicy, or an error starting the sweeper
//
// Example:
//
//	st := store.NewMemoryStore()
//	r, err := rewind.New(st,
//	    rewind.WithCountLimit(200),
//	    rewind.WithInactivityTTL(15*time.Minute),
//	)
//	if err != nil {
//	    return err
//	}
//	defer r.Close()
//
//	hub.RegisterPublishHook(r.Hook())
func New(store EventStore, opts ...Option) (*Rewind, error) {
	retention, err := NewRetentionManager(store, opts...)
	if err != nil {
		return nil, err
	}

	coordinator, err := NewCoordinator(store, opts...)
	if err != nil {
		return nil, err
	}

	r := &Rewind{
		store:       store,
		config:      retention.config,
		retention:   retention,
		sweeper:     NewSweeper(retention),
		interceptor: NewInterceptor(retention),
		coordinator: coordinator,
	}

	if err := r.sweeper.Start(); err != nil {
		return nil, err
	}

	return r, nil
}

// Hook returns the publish hook to register on a transport.
func (r *Rewind) Hook() types.PublishHook {
	return r.interceptor.Hook()
}

// Attach registers the publish hook on a transport.
func (r *Rewind) Attach(registrar HookRegistrar) {
	r.interceptor.Attach(registrar)
}

// Replay answers a reconnect handshake. See Coordinator.Replay.
func (r *Rewind) Replay(ctx context.Context, sender ClientSender, clientID string, hs types.Handshake) (ReplayResult, error) {
	if r.closed.Load() {
		return ReplayResult{}, types.ErrClosed
	}

	return r.coordinator.Replay(ctx, sender, clientID, hs)
}

// Record records an event directly, bypassing the exclusion list.
//
// Leave ev.ID empty unless ids must be preserved. The Redis store orders
// events of the same millisecond by id, so caller ids that are not
// time-ordered can replay those events in a different order than the
// memory store would.
func (r *Rewind) Record(ctx context.Context, ev types.Event) error {
	if r.closed.Load() {
		return types.ErrClosed
	}

	return r.retention.RecordEvent(ctx, ev)
}

// Sweep runs one inactivity sweep immediately.
func (r *Rewind) Sweep(ctx context.Context) (SweepResult, error) {
	return r.retention.Sweep(ctx)
}

// Retention returns the retention manager.
func (r *Rewind) Retention() *RetentionManager {
	return r.retention
}

// Interceptor returns the publish interceptor.
func (r *Rewind) Interceptor() *Interceptor {
	return r.interceptor
}

// Coordinator returns the replay coordinator.
func (r *Rewind) Coordinator() *Coordinator {
	return r.coordinator
}

// Sweeper returns the periodic sweeper.
func (r *Rewind) Sweeper() *Sweeper {
	return r.sweeper
}

// Store returns the event store.
func (r *Rewind) Store() EventStore {
	return r.store
}

// Close stops the sweeper. It is safe to call multiple times.
func (r *Rewind) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}

	r.sweeper.Stop()
	r.config.Logger.Info("rewind: closed")

	return nil
}

package rewind

import (
	"context"

	"github.com/arloliu/rewind/types"
)

// Interceptor records outbound publishes for later replay.
//
// Transports call OnPublish (or the function returned by Hook) for every
// publish before delivering it. Control events are skipped. Recording
// failures are logged, counted and reported to the OnRecordError callback,
// but never propagated to the publisher: live delivery always proceeds.
type Interceptor struct {
	manager  *RetentionManager
	config   *Config
	excluded map[string]struct{}
}

// NewInterceptor creates a publish interceptor that records through manager.
//
// Parameters:
//   - manager: The retention manager that receives recorded events
//   - opts: Optional configuration options (excluded events, default channel, timeout)
//
// Returns:
//   - *Interceptor: A new interceptor
func NewInterceptor(manager *RetentionManager, opts ...Option) *Interceptor {
	cfg := *manager.config
	cfg.ExcludedEvents = append([]string(nil), cfg.ExcludedEvents...)
	for _, opt := range opts {
		opt(&cfg)
	}

	excluded := make(map[string]struct{}, len(cfg.ExcludedEvents))
	for _, name := range cfg.ExcludedEvents {
		excluded[name] = struct{}{}
	}

	return &Interceptor{
		manager:  manager,
		config:   &cfg,
		excluded: excluded,
	}
}

// Hook returns the interceptor as a publish hook for transport registration.
//
// Example:
//
//	hub := transport.NewLocal()
//	hub.RegisterPublishHook(interceptor.Hook())
func (i *Interceptor) Hook() types.PublishHook {
	return i.OnPublish
}

// Attach registers the interceptor on a transport.
//
// Parameters:
//   - registrar: A transport exposing a publish hook point
func (i *Interceptor) Attach(registrar HookRegistrar) {
	registrar.RegisterPublishHook(i.Hook())
}

// IsExcluded reports whether an event name is never recorded.
func (i *Interceptor) IsExcluded(name string) bool {
	_, ok := i.excluded[name]
	return ok
}

// ResolveChannel returns the channel an event is recorded under.
func (i *Interceptor) ResolveChannel(channel string) string {
	if channel == "" {
		return i.config.DefaultChannel
	}

	return channel
}

// OnPublish records one outbound publish.
//
// The event is recorded synchronously, bounded by RecordTimeout, so the
// record has been handed to the store before the publish is delivered. A
// zero publish time is stamped by the retention manager under the channel
// lock, so concurrent publishes to one channel get non-decreasing times.
//
// Parameters:
//   - ctx: Context of the publish call
//   - p: The publish being performed
func (i *Interceptor) OnPublish(ctx context.Context, p types.Publish) {
	if i.IsExcluded(p.Name) {
		i.config.Metrics.IncEventExcluded()
		return
	}

	ev := types.Event{
		Channel: i.ResolveChannel(p.Channel),
		Name:    p.Name,
		Payload: p.Payload,
		Time:    p.Time,
	}

	// The publish may be cancelled by its caller right after delivery;
	// recording still gets its own bounded window.
	recordCtx := context.WithoutCancel(ctx)
	if i.config.RecordTimeout > 0 {
		var cancel context.CancelFunc
		recordCtx, cancel = context.WithTimeout(recordCtx, i.config.RecordTimeout)
		defer cancel()
	}

	if err := i.manager.RecordEvent(recordCtx, ev); err != nil {
		i.config.Logger.Warn("rewind: failed to record publish",
			"channel", ev.Channel,
			"event", ev.Name,
			"error", err,
		)
		if i.config.OnRecordError != nil {
			i.config.OnRecordError(ev, err)
		}
	}
}

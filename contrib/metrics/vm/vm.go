package vm

import (
	"fmt"
	"io"
	"net/http"

	"github.com/VictoriaMetrics/metrics"

	"github.com/arloliu/rewind/types"
)

// Option configures a Collector.
type Option func(*Collector)

// WithPrefix sets the metric name prefix.
//
// Default: "rewind"
//
// Parameters:
//   - prefix: The prefix to use for all metric names
//
// Returns:
//   - Option: A configuration option
func WithPrefix(prefix string) Option {
	return func(c *Collector) {
		c.prefix = prefix
	}
}

// WithMetricsSet sets the metrics set to use.
//
// If provided, the collector will register metrics with this set instead of
// creating a new one. The caller is responsible for exposing this set
// (e.g., via metrics.WritePrometheus or a custom handler).
//
// Parameters:
//   - set: The metrics set to use
//
// Returns:
//   - Option: A configuration option
func WithMetricsSet(set *metrics.Set) Option {
	return func(c *Collector) {
		c.set = set
	}
}

// Collector implements types.MetricsCollector using VictoriaMetrics.
//
// All metrics are pre-created at initialization time for optimal performance.
// Thread-safe for concurrent use.
type Collector struct {
	set    *metrics.Set
	prefix string

	// Recording metrics
	recorded       *metrics.Counter
	excluded       *metrics.Counter
	recordErrors   *metrics.Counter
	recordDuration *metrics.Histogram

	// Retention metrics
	evictionsCount *metrics.Counter
	evictionsAge   *metrics.Counter
	sweepRuns      *metrics.Counter
	channelsSwept  *metrics.Counter
	sweepErrors    *metrics.Counter

	// Replay metrics
	handshakesFirst  *metrics.Counter
	handshakesResume *metrics.Counter
	replayed         *metrics.Counter
	replayErrors     *metrics.Counter
	replayDuration   *metrics.Histogram
}

// Compile-time assertion that Collector implements types.MetricsCollector.
var _ types.MetricsCollector = (*Collector)(nil)

// New creates a new VictoriaMetrics-based metrics collector.
//
// The collector creates its own metrics.Set and registers it globally.
// All metrics are pre-created at initialization for optimal performance.
//
// Parameters:
//   - opts: Configuration options (e.g., WithPrefix)
//
// Returns:
//   - *Collector: A new metrics collector ready for use
//
// Example:
//
//	collector := vm.New(vm.WithPrefix("chat"))
//	r, _ := rewind.New(st, rewind.WithMetrics(collector))
func New(opts ...Option) *Collector {
	c := &Collector{
		prefix: "rewind",
	}

	for _, opt := range opts {
		opt(c)
	}

	// If no set is provided, create a new one and register it globally.
	// If a set is provided, we assume the caller manages it.
	if c.set == nil {
		c.set = metrics.NewSet()
		metrics.RegisterSet(c.set)
	}

	c.initMetrics()

	return c
}

// initMetrics pre-creates all metrics with the configured prefix.
func (c *Collector) initMetrics() {
	p := c.prefix

	// Recording metrics
	c.recorded = c.set.NewCounter(fmt.Sprintf(`%s_events_recorded_total`, p))
	c.excluded = c.set.NewCounter(fmt.Sprintf(`%s_events_excluded_total`, p))
	c.recordErrors = c.set.NewCounter(fmt.Sprintf(`%s_record_errors_total`, p))
	c.recordDuration = c.set.NewHistogram(fmt.Sprintf(`%s_record_duration_seconds`, p))

	// Retention metrics
	c.evictionsCount = c.set.NewCounter(fmt.Sprintf(`%s_evictions_total{reason="count"}`, p))
	c.evictionsAge = c.set.NewCounter(fmt.Sprintf(`%s_evictions_total{reason="age"}`, p))
	c.sweepRuns = c.set.NewCounter(fmt.Sprintf(`%s_sweep_runs_total`, p))
	c.channelsSwept = c.set.NewCounter(fmt.Sprintf(`%s_sweep_channels_removed_total`, p))
	c.sweepErrors = c.set.NewCounter(fmt.Sprintf(`%s_sweep_errors_total`, p))

	// Replay metrics
	c.handshakesFirst = c.set.NewCounter(fmt.Sprintf(`%s_handshakes_total{first_connection="true"}`, p))
	c.handshakesResume = c.set.NewCounter(fmt.Sprintf(`%s_handshakes_total{first_connection="false"}`, p))
	c.replayed = c.set.NewCounter(fmt.Sprintf(`%s_events_replayed_total`, p))
	c.replayErrors = c.set.NewCounter(fmt.Sprintf(`%s_replay_errors_total`, p))
	c.replayDuration = c.set.NewHistogram(fmt.Sprintf(`%s_replay_duration_seconds`, p))
}

// Set returns the metrics set the collector registers with.
func (c *Collector) Set() *metrics.Set {
	return c.set
}

// Handler returns an HTTP handler that exposes metrics in Prometheus format.
//
// Example:
//
//	http.HandleFunc("/metrics", collector.Handler)
func (c *Collector) Handler(w http.ResponseWriter, _ *http.Request) {
	c.set.WritePrometheus(w)
}

// WritePrometheus writes all metrics in Prometheus format to the given writer.
//
// Parameters:
//   - w: The writer to write metrics to
func (c *Collector) WritePrometheus(w io.Writer) {
	c.set.WritePrometheus(w)
}

// ----------------------
// Recording
// ----------------------

// IncEventRecorded increments the recorded events counter.
func (c *Collector) IncEventRecorded() {
	c.recorded.Inc()
}

// IncEventExcluded increments the counter of publishes skipped as control events.
func (c *Collector) IncEventExcluded() {
	c.excluded.Inc()
}

// IncRecordError increments the failed recordings counter.
func (c *Collector) IncRecordError() {
	c.recordErrors.Inc()
}

// ObserveRecordDuration records a recording duration in seconds.
func (c *Collector) ObserveRecordDuration(seconds float64) {
	c.recordDuration.Update(seconds)
}

// ----------------------
// Retention
// ----------------------

// IncEviction increments the evictions counter for a reason.
func (c *Collector) IncEviction(reason string) {
	switch reason {
	case "count":
		c.evictionsCount.Inc()
	case "age":
		c.evictionsAge.Inc()
	default:
		c.set.GetOrCreateCounter(fmt.Sprintf(`%s_evictions_total{reason=%q}`, c.prefix, reason)).Inc()
	}
}

// IncSweepRun increments the completed sweeps counter.
func (c *Collector) IncSweepRun() {
	c.sweepRuns.Inc()
}

// IncChannelSwept increments the counter of channels dropped for inactivity.
func (c *Collector) IncChannelSwept() {
	c.channelsSwept.Inc()
}

// IncSweepError increments the sweep failures counter.
func (c *Collector) IncSweepError() {
	c.sweepErrors.Inc()
}

// ----------------------
// Replay
// ----------------------

// IncHandshake increments the handshakes counter.
func (c *Collector) IncHandshake(firstConnection bool) {
	if firstConnection {
		c.handshakesFirst.Inc()
	} else {
		c.handshakesResume.Inc()
	}
}

// IncEventReplayed increments the replayed events counter.
func (c *Collector) IncEventReplayed() {
	c.replayed.Inc()
}

// IncReplayError increments the failed channel replays counter.
func (c *Collector) IncReplayError() {
	c.replayErrors.Inc()
}

// ObserveReplayDuration records a handshake replay duration in seconds.
func (c *Collector) ObserveReplayDuration(seconds float64) {
	c.replayDuration.Update(seconds)
}

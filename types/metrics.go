package types

// MetricsCollector defines methods for collecting operational metrics.
//
// Labels are kept to a fixed, low-cardinality set; channel names are never
// used as labels. Implementations should be thread-safe as methods may be
// called concurrently.
//
// Example usage with VictoriaMetrics (via contrib/metrics/vm):
//
//	import vmmetrics "github.com/arloliu/rewind/contrib/metrics/vm"
//
//	collector := vmmetrics.New(vmmetrics.WithPrefix("myapp"))
//	r, _ := rewind.New(st, rewind.WithMetrics(collector))
//
//	// Expose metrics via HTTP
//	http.HandleFunc("/metrics", collector.Handler)
type MetricsCollector interface {
	// ----------------------
	// Recording
	// ----------------------

	// IncEventRecorded increments the counter of events appended to a store.
	IncEventRecorded()

	// IncEventExcluded increments the counter of publishes skipped because
	// their event name is a control event.
	IncEventExcluded()

	// IncRecordError increments the counter of failed record attempts.
	IncRecordError()

	// ObserveRecordDuration records the duration of one record operation in seconds.
	ObserveRecordDuration(seconds float64)

	// ----------------------
	// Retention
	// ----------------------

	// IncEviction increments the eviction counter.
	// Reason is either "count" or "age".
	IncEviction(reason string)

	// IncSweepRun increments the counter of completed sweeps.
	IncSweepRun()

	// IncChannelSwept increments the counter of channels dropped by a sweep.
	IncChannelSwept()

	// IncSweepError increments the counter of per-channel sweep failures.
	IncSweepError()

	// ----------------------
	// Replay
	// ----------------------

	// IncHandshake increments the counter of reconnect handshakes.
	// FirstConnection is true when the handshake had nothing to replay.
	IncHandshake(firstConnection bool)

	// IncEventReplayed increments the counter of events delivered by replay.
	IncEventReplayed()

	// IncReplayError increments the counter of failed per-channel replays.
	IncReplayError()

	// ObserveReplayDuration records the duration of one handshake replay in seconds.
	ObserveReplayDuration(seconds float64)
}

// Package vm provides a VictoriaMetrics-based implementation of the MetricsCollector interface.
//
// This package uses github.com/VictoriaMetrics/metrics for lightweight,
// high-performance Prometheus-compatible metrics collection.
//
// # Basic Usage
//
// Create a collector with default prefix "rewind":
//
//	collector := vm.New()
//	r, _ := rewind.New(st, rewind.WithMetrics(collector))
//
// # Custom Prefix
//
// Use WithPrefix to customize the metric name prefix:
//
//	collector := vm.New(vm.WithPrefix("chat"))
//
// This produces metrics like:
//   - chat_events_recorded_total
//   - chat_evictions_total{reason="count"}
//
// # Exposing Metrics
//
// Use the Handler method to expose metrics via HTTP:
//
//	http.HandleFunc("/metrics", collector.Handler)
//	http.ListenAndServe(":8080", nil)
//
// # Metrics Provided
//
// Recording:
//   - {prefix}_events_recorded_total - Counter of recorded events
//   - {prefix}_events_excluded_total - Counter of control events skipped
//   - {prefix}_record_errors_total - Counter of recording failures
//   - {prefix}_record_duration_seconds - Histogram of recording latencies
//
// Retention:
//   - {prefix}_evictions_total{reason} - Counter of evicted events (count, age)
//   - {prefix}_sweep_runs_total - Counter of inactivity sweeps
//   - {prefix}_sweep_channels_removed_total - Counter of channels dropped
//   - {prefix}_sweep_errors_total - Counter of sweep failures
//
// Replay:
//   - {prefix}_handshakes_total{first_connection} - Counter of handshakes
//   - {prefix}_events_replayed_total - Counter of replayed events
//   - {prefix}_replay_errors_total - Counter of failed channel replays
//   - {prefix}_replay_duration_seconds - Histogram of replay latencies
//
// # Performance Notes
//
// This implementation pre-creates all metrics at initialization time
// using the NewXXX pattern (instead of GetOrCreateXXX) for optimal
// performance in hot paths, as recommended by the VictoriaMetrics documentation.
package vm

// Package metrics provides internal metrics utilities for rewind.
package metrics

import "github.com/arloliu/rewind/types"

// NopMetrics is a no-op metrics collector that discards all metrics.
//
// This is used as the default metrics collector when no collector is configured,
// avoiding nil checks throughout the codebase.
type NopMetrics struct{}

// Compile-time assertion that NopMetrics implements types.MetricsCollector.
var _ types.MetricsCollector = (*NopMetrics)(nil)

// NewNopMetrics creates a new no-op metrics collector.
//
// Returns:
//   - *NopMetrics: A collector that discards all metrics
func NewNopMetrics() *NopMetrics {
	return &NopMetrics{}
}

// OrNop returns collector, or a NopMetrics when collector is nil.
func OrNop(collector types.MetricsCollector) types.MetricsCollector {
	if collector == nil {
		return NewNopMetrics()
	}

	return collector
}

// ----------------------
// Recording
// ----------------------

// IncEventRecorded discards the metric.
func (m *NopMetrics) IncEventRecorded() {}

// IncEventExcluded discards the metric.
func (m *NopMetrics) IncEventExcluded() {}

// IncRecordError discards the metric.
func (m *NopMetrics) IncRecordError() {}

// ObserveRecordDuration discards the metric.
func (m *NopMetrics) ObserveRecordDuration(_ float64) {}

// ----------------------
// Retention
// ----------------------

// IncEviction discards the metric.
func (m *NopMetrics) IncEviction(_ string) {}

// IncSweepRun discards the metric.
func (m *NopMetrics) IncSweepRun() {}

// IncChannelSwept discards the metric.
func (m *NopMetrics) IncChannelSwept() {}

// IncSweepError discards the metric.
func (m *NopMetrics) IncSweepError() {}

// ----------------------
// Replay
// ----------------------

// IncHandshake discards the metric.
func (m *NopMetrics) IncHandshake(_ bool) {}

// IncEventReplayed discards the metric.
func (m *NopMetrics) IncEventReplayed() {}

// IncReplayError discards the metric.
func (m *NopMetrics) IncReplayError() {}

// ObserveReplayDuration discards the metric.
func (m *NopMetrics) ObserveReplayDuration(_ float64) {}

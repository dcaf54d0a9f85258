package testutil

import (
	"sync"

	"github.com/arloliu/rewind/types"
)

// TestMetricsCollector is a test implementation of types.MetricsCollector
// that tracks method calls for assertion in tests.
type TestMetricsCollector struct {
	mu sync.RWMutex

	// Recording
	Recorded        int64
	Excluded        int64
	RecordErrors    int64
	RecordDurations []float64

	// Retention
	Evictions       map[string]int64 // key: eviction reason
	SweepRuns       int64
	ChannelsRemoved int64
	SweepErrors     int64

	// Replay
	Handshakes      map[bool]int64 // key: first connection
	Replayed        int64
	ReplayErrors    int64
	ReplayDurations []float64
}

// Compile-time assertion that TestMetricsCollector implements types.MetricsCollector.
var _ types.MetricsCollector = (*TestMetricsCollector)(nil)

// NewTestMetricsCollector creates a new test metrics collector.
func NewTestMetricsCollector() *TestMetricsCollector {
	return &TestMetricsCollector{
		Evictions:  make(map[string]int64),
		Handshakes: make(map[bool]int64),
	}
}

// ----------------------
// Recording
// ----------------------

func (m *TestMetricsCollector) IncEventRecorded() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Recorded++
}

func (m *TestMetricsCollector) IncEventExcluded() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Excluded++
}

func (m *TestMetricsCollector) IncRecordError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RecordErrors++
}

func (m *TestMetricsCollector) ObserveRecordDuration(seconds float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RecordDurations = append(m.RecordDurations, seconds)
}

// ----------------------
// Retention
// ----------------------

func (m *TestMetricsCollector) IncEviction(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Evictions[reason]++
}

func (m *TestMetricsCollector) IncSweepRun() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SweepRuns++
}

func (m *TestMetricsCollector) IncChannelSwept() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ChannelsRemoved++
}

func (m *TestMetricsCollector) IncSweepError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SweepErrors++
}

// ----------------------
// Replay
// ----------------------

func (m *TestMetricsCollector) IncHandshake(firstConnection bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Handshakes[firstConnection]++
}

func (m *TestMetricsCollector) IncEventReplayed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Replayed++
}

func (m *TestMetricsCollector) IncReplayError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReplayErrors++
}

func (m *TestMetricsCollector) ObserveReplayDuration(seconds float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReplayDurations = append(m.ReplayDurations, seconds)
}

// ----------------------
// Getters
// ----------------------

// GetRecorded returns the number of recorded events.
func (m *TestMetricsCollector) GetRecorded() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.Recorded
}

// GetExcluded returns the number of excluded publishes.
func (m *TestMetricsCollector) GetExcluded() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.Excluded
}

// GetRecordErrors returns the number of failed recordings.
func (m *TestMetricsCollector) GetRecordErrors() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RecordErrors
}

// GetEvictions returns the number of evictions for a reason.
func (m *TestMetricsCollector) GetEvictions(reason string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.Evictions[reason]
}

// GetSweepRuns returns the number of completed sweeps.
func (m *TestMetricsCollector) GetSweepRuns() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.SweepRuns
}

// GetChannelsRemoved returns the number of channels dropped by sweeps.
func (m *TestMetricsCollector) GetChannelsRemoved() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ChannelsRemoved
}

// GetSweepErrors returns the number of sweep failures.
func (m *TestMetricsCollector) GetSweepErrors() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.SweepErrors
}

// GetHandshakes returns the number of handshakes of the given kind.
func (m *TestMetricsCollector) GetHandshakes(firstConnection bool) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.Handshakes[firstConnection]
}

// GetReplayed returns the number of replayed events.
func (m *TestMetricsCollector) GetReplayed() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.Replayed
}

// GetReplayErrors returns the number of failed channel replays.
func (m *TestMetricsCollector) GetReplayErrors() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ReplayErrors
}

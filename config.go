package rewind

import (
	"time"

	"github.com/arloliu/rewind/internal/logging"
	"github.com/arloliu/rewind/internal/metrics"
	"github.com/arloliu/rewind/types"
)

// DefaultChannel is the channel used for publishes that address no channel.
const DefaultChannel = "general"

// Control event names. Publishes with these names are never recorded.
const (
	EventConnect              = "connect"
	EventConnection           = "connection"
	EventDisconnect           = "disconnect"
	EventRetrieveMissedEvents = "retrieve_missed_events"
	EventChangeRoomNames      = "change_room_names"
)

// DefaultExcludedEvents returns the control event names excluded from recording.
func DefaultExcludedEvents() []string {
	return []string{
		EventConnect,
		EventConnection,
		EventDisconnect,
		EventRetrieveMissedEvents,
		EventChangeRoomNames,
	}
}

// Clock returns the current time.
//
// The default clock is time.Now. Tests inject a fixed or stepping clock.
type Clock func() time.Time

// RecordErrorHandler is called when a publish could not be recorded.
//
// The publish itself has already proceeded; this callback only allows
// applications to alert on or persist the lost history.
//
// Parameters:
//   - ev: The event that could not be recorded
//   - err: The error from the retention manager
type RecordErrorHandler func(ev types.Event, err error)

// SweepHandler is called after every sweep run.
type SweepHandler func(result SweepResult, err error)

// Config holds configuration shared by rewind components.
type Config struct {
	Policy         types.RetentionPolicy
	Logger         types.Logger
	Metrics        types.MetricsCollector
	Clock          Clock
	DefaultChannel string
	ExcludedEvents []string
	RecordTimeout  time.Duration
	SweepTimeout   time.Duration
	ReplayTimeout  time.Duration
	LockStripes    int
	OnRecordError  RecordErrorHandler
	OnSweep        SweepHandler
}

// DefaultConfig returns a Config with sensible defaults.
//
// Defaults:
//   - Policy: types.DefaultRetentionPolicy()
//   - Logger and Metrics: no-op implementations
//   - Clock: time.Now
//   - DefaultChannel: "general"
//   - RecordTimeout: 2 seconds
//   - SweepTimeout: 1 minute
//   - ReplayTimeout: 30 seconds
//
// Returns:
//   - *Config: Configuration with default settings
func DefaultConfig() *Config {
	return &Config{
		Policy:         types.DefaultRetentionPolicy(),
		Logger:         logging.NewNopLogger(),
		Metrics:        metrics.NewNopMetrics(),
		Clock:          time.Now,
		DefaultChannel: DefaultChannel,
		ExcludedEvents: DefaultExcludedEvents(),
		RecordTimeout:  2 * time.Second,
		SweepTimeout:   time.Minute,
		ReplayTimeout:  30 * time.Second,
		LockStripes:    64,
	}
}

// Option configures a Config.
type Option func(*Config)

// newConfig builds a Config from defaults and options, replacing nil
// collaborators with no-op implementations.
func newConfig(opts []Option) *Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	cfg.Logger = logging.OrNop(cfg.Logger)
	cfg.Metrics = metrics.OrNop(cfg.Metrics)
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.DefaultChannel == "" {
		cfg.DefaultChannel = DefaultChannel
	}
	if cfg.LockStripes <= 0 {
		cfg.LockStripes = 64
	}

	return cfg
}

// nowMillis returns the configured clock time in unix milliseconds.
func (c *Config) nowMillis() int64 {
	return c.Clock().UnixMilli()
}

// WithRetentionPolicy sets the retention policy.
//
// Parameters:
//   - policy: The retention policy (validated by constructors)
//
// Returns:
//   - Option: Configuration option
func WithRetentionPolicy(policy types.RetentionPolicy) Option {
	return func(c *Config) {
		c.Policy = policy
	}
}

// WithCountLimit selects count-bounded retention with the given limit.
//
// Parameters:
//   - n: Maximum events retained per channel
//
// Returns:
//   - Option: Configuration option
func WithCountLimit(n int) Option {
	return func(c *Config) {
		c.Policy.Mode = types.RetentionCount
		c.Policy.CountLimit = n
	}
}

// WithMaxAge selects age-bounded retention with the given maximum age.
//
// Parameters:
//   - d: Maximum age of the oldest event relative to the newest
//
// Returns:
//   - Option: Configuration option
func WithMaxAge(d time.Duration) Option {
	return func(c *Config) {
		c.Policy.Mode = types.RetentionAge
		c.Policy.MaxAge = d
	}
}

// WithInactivityTTL sets the idle duration after which a channel is dropped.
//
// Parameters:
//   - d: Inactivity TTL (0 disables the sweep)
//
// Returns:
//   - Option: Configuration option
func WithInactivityTTL(d time.Duration) Option {
	return func(c *Config) {
		c.Policy.InactivityTTL = d
	}
}

// WithSweepInterval sets how often the inactivity sweep runs.
//
// Parameters:
//   - d: Sweep period
//
// Returns:
//   - Option: Configuration option
func WithSweepInterval(d time.Duration) Option {
	return func(c *Config) {
		c.Policy.SweepInterval = d
	}
}

// WithDrainOnAppend makes each append evict every violating event rather
// than at most one.
//
// Parameters:
//   - drain: true to drain all violations on each append
//
// Returns:
//   - Option: Configuration option
func WithDrainOnAppend(drain bool) Option {
	return func(c *Config) {
		c.Policy.DrainOnAppend = drain
	}
}

// WithLogger sets the structured logger.
//
// If not set, a no-op logger is used that discards all messages.
// *slog.Logger satisfies types.Logger directly.
//
// Parameters:
//   - logger: The logger implementation
//
// Returns:
//   - Option: Configuration option
//
// Example:
//
//	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
//	r, _ := rewind.New(st, rewind.WithLogger(logger))
func WithLogger(logger types.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithMetrics sets the metrics collector.
//
// If not set, a no-op collector is used that discards all metrics.
// Use contrib/metrics/vm.New() for VictoriaMetrics integration.
//
// Parameters:
//   - collector: The metrics collector implementation
//
// Returns:
//   - Option: Configuration option
func WithMetrics(collector types.MetricsCollector) Option {
	return func(c *Config) {
		c.Metrics = collector
	}
}

// WithClock sets the time source used for event timestamps and the sweep.
//
// Parameters:
//   - clock: Function returning the current time
//
// Returns:
//   - Option: Configuration option
func WithClock(clock Clock) Option {
	return func(c *Config) {
		c.Clock = clock
	}
}

// WithDefaultChannel sets the channel used for publishes that address none.
//
// Parameters:
//   - channel: Default channel name
//
// Returns:
//   - Option: Configuration option
func WithDefaultChannel(channel string) Option {
	return func(c *Config) {
		c.DefaultChannel = channel
	}
}

// WithExcludedEvents adds event names that are never recorded.
//
// The default control events stay excluded.
//
// Parameters:
//   - names: Additional event names to exclude
//
// Returns:
//   - Option: Configuration option
func WithExcludedEvents(names ...string) Option {
	return func(c *Config) {
		c.ExcludedEvents = append(c.ExcludedEvents, names...)
	}
}

// WithRecordTimeout bounds how long a publish waits for its event to be recorded.
//
// Parameters:
//   - d: Record timeout (0 disables the bound)
//
// Returns:
//   - Option: Configuration option
func WithRecordTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.RecordTimeout = d
	}
}

// WithSweepTimeout bounds a single sweep run.
//
// Parameters:
//   - d: Sweep timeout
//
// Returns:
//   - Option: Configuration option
func WithSweepTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.SweepTimeout = d
	}
}

// WithReplayTimeout bounds a single handshake replay.
//
// Parameters:
//   - d: Replay timeout (0 disables the bound)
//
// Returns:
//   - Option: Configuration option
func WithReplayTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.ReplayTimeout = d
	}
}

// WithLockStripes sets the number of striped per-channel locks used by the
// retention manager.
//
// Parameters:
//   - n: Number of lock stripes (default: 64)
//
// Returns:
//   - Option: Configuration option
func WithLockStripes(n int) Option {
	return func(c *Config) {
		c.LockStripes = n
	}
}

// WithOnRecordError sets a callback for publishes that could not be recorded.
//
// Parameters:
//   - handler: Function called with the lost event and the error
//
// Returns:
//   - Option: Configuration option
//
// Example:
//
//	rewind.WithOnRecordError(func(ev types.Event, err error) {
//	    log.Error("history lost", "channel", ev.Channel, "event", ev.Name, "error", err)
//	})
func WithOnRecordError(handler RecordErrorHandler) Option {
	return func(c *Config) {
		c.OnRecordError = handler
	}
}

// WithOnSweep sets a callback invoked after each periodic sweep.
//
// Parameters:
//   - handler: Function called with the sweep result and error
//
// Returns:
//   - Option: Configuration option
func WithOnSweep(handler SweepHandler) Option {
	return func(c *Config) {
		c.OnSweep = handler
	}
}

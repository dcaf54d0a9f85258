// Package simulation runs rewind under client churn and store chaos and
// verifies that every client received exactly the events it should have.
package simulation

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/arloliu/rewind"
	"github.com/arloliu/rewind/store"
	"github.com/arloliu/rewind/test/simulation/chaos"
	"github.com/arloliu/rewind/test/simulation/config"
	simtypes "github.com/arloliu/rewind/test/simulation/types"
	"github.com/arloliu/rewind/test/simulation/workload"
	"github.com/arloliu/rewind/test/testutil"
	"github.com/arloliu/rewind/transport"
	"github.com/arloliu/rewind/types"
)

// Config holds simulation configuration.
type Config struct {
	Duration time.Duration
	Seed     int64
	Profile  string
	Settings *config.Config
}

// Simulation orchestrates the test execution.
type Simulation struct {
	config    Config
	logger    *slog.Logger
	env       *simtypes.Environment
	scenarios []simtypes.Scenario
	rewind    *rewind.Rewind
	closers   []func()
	rng       *rand.Rand
}

// New creates a new simulation instance.
func New(cfg Config, logger *slog.Logger) (*Simulation, error) {
	if cfg.Settings == nil {
		cfg.Settings = config.Default()
	}

	return &Simulation{
		config:    cfg,
		logger:    logger,
		scenarios: make([]simtypes.Scenario, 0),
		//nolint:gosec // Simulation data, not security sensitive
		rng: rand.New(rand.NewSource(cfg.Seed)),
	}, nil
}

// RegisterScenario adds a scenario to the simulation.
func (s *Simulation) RegisterScenario(scenario simtypes.Scenario) {
	s.scenarios = append(s.scenarios, scenario)
}

// Run executes the simulation.
func (s *Simulation) Run(ctx context.Context) error {
	s.logger.Info("Initializing simulation environment...")

	if err := s.setupEnvironment(); err != nil {
		return fmt.Errorf("failed to setup environment: %w", err)
	}
	defer s.teardown()

	s.logger.Info("Starting workload generator...")
	workloadCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.generateTraffic(workloadCtx)
	}()
	go s.report(workloadCtx)

	for _, scenario := range s.scenarios {
		if ctx.Err() != nil {
			break
		}

		s.logger.Info("--------------------------------------------------")
		s.logger.Info("Running Scenario", "name", scenario.Name(), "description", scenario.Description())
		s.logger.Info("--------------------------------------------------")

		if err := scenario.Run(ctx, s.env); err != nil {
			s.logger.Error("Scenario failed", "error", err)
			cancel()
			<-done

			return fmt.Errorf("scenario %s: %w", scenario.Name(), err)
		}
		s.logger.Info("Scenario completed successfully")
	}

	s.logger.Info("Stopping workload...")
	cancel()
	<-done

	return s.verify(ctx)
}

func (s *Simulation) setupEnvironment() error {
	settings := s.config.Settings

	backing, err := s.openStore(settings.Store)
	if err != nil {
		return err
	}
	chaosStore := chaos.NewStore(backing)

	clock := testutil.NewStepClock(time.Now().UnixMilli())
	tracker := workload.NewTracker(settings.Rewind.CountLimit)

	r, err := rewind.New(chaosStore,
		rewind.WithCountLimit(settings.Rewind.CountLimit),
		rewind.WithInactivityTTL(settings.Rewind.InactivityTTL),
		rewind.WithSweepInterval(0),
		rewind.WithRecordTimeout(settings.Rewind.RecordTimeout),
		rewind.WithClock(clock.Now),
		rewind.WithLogger(s.logger.With("component", "rewind")),
		rewind.WithOnRecordError(func(ev types.Event, _ error) {
			tracker.Lost(ev.Name)
		}),
	)
	if err != nil {
		return err
	}
	s.rewind = r

	channels := settings.Workload.Channels
	hub := transport.NewLocal(
		transport.WithBuffer(settings.Rewind.CountLimit*(len(channels)+1)+64),
		transport.WithLocalLogger(s.logger.With("component", "hub")),
	)
	r.Attach(hub)

	driver := workload.NewDriver(hub, r, clock, tracker, s.rng.Int63())
	for i := 0; i < settings.Workload.Clients; i++ {
		// Each client joins a rotating subset of the channels.
		joined := make([]string, 0, len(channels))
		for j, ch := range channels {
			if (i+j)%2 == 0 || len(channels) == 1 {
				joined = append(joined, ch)
			}
		}
		if err := driver.AddClient(fmt.Sprintf("client-%02d", i), joined); err != nil {
			return err
		}
	}

	s.env = &simtypes.Environment{
		Driver:  driver,
		Chaos:   chaosStore,
		Tracker: tracker,
		Logger:  s.logger,
		Step:    settings.Simulation.Step,
	}

	return nil
}

func (s *Simulation) openStore(cfg config.StoreConfig) (rewind.EventStore, error) {
	switch cfg.Type {
	case "memory":
		return store.NewMemoryStore(), nil
	case "redis":
		mr, err := miniredis.Run()
		if err != nil {
			return nil, fmt.Errorf("failed to start miniredis: %w", err)
		}
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		s.closers = append(s.closers, func() {
			_ = client.Close()
			mr.Close()
		})

		return store.NewRedisStore(client, store.WithRedisTTL(0))
	default:
		return nil, fmt.Errorf("unknown store type %q", cfg.Type)
	}
}

func (s *Simulation) teardown() {
	if s.rewind != nil {
		_ = s.rewind.Close()
		_ = s.rewind.Store().Close()
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func (s *Simulation) generateTraffic(ctx context.Context) {
	channels := append([]string{""}, s.config.Settings.Workload.Channels...)

	ticker := time.NewTicker(s.config.Settings.Workload.PublishInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			channel := channels[s.rng.Intn(len(channels))]
			if err := s.env.Driver.Publish(ctx, channel); err != nil {
				s.logger.Error("Publish failed", "error", err)
			}
		}
	}
}

func (s *Simulation) report(ctx context.Context) {
	ticker := time.NewTicker(s.config.Settings.Simulation.ConsoleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := s.env.Tracker.Stats()
			s.logger.Info("Progress",
				"published", st.Published,
				"lost", st.Lost,
				"received", st.Received,
				"replays", st.Replays,
			)
		}
	}
}

func (s *Simulation) verify(ctx context.Context) error {
	s.logger.Info("Verifying simulation results...")

	// Reset chaos and bring everyone back before checking
	s.env.Chaos.Reset()
	s.env.Driver.ResumeAll(ctx)

	st := s.env.Tracker.Stats()
	s.logger.Info("Workload summary",
		"published", st.Published,
		"lost", st.Lost,
		"received", st.Received,
		"replays", st.Replays,
		"failed_replays", st.Failures,
		"injected_failures", s.env.Chaos.Failed(),
	)

	if err := s.env.Tracker.Verify(); err != nil {
		return fmt.Errorf("verification failed: %w", err)
	}

	s.logger.Info("Verification passed!")

	return nil
}

package types

import (
	"context"
	"log/slog"
	"time"

	"github.com/arloliu/rewind/test/simulation/chaos"
	"github.com/arloliu/rewind/test/simulation/workload"
)

// Environment holds the shared resources for the simulation.
type Environment struct {
	Driver  *workload.Driver
	Chaos   *chaos.Store
	Tracker *workload.Tracker
	Logger  *slog.Logger
	Step    time.Duration
}

// Scenario defines a test scenario interface.
type Scenario interface {
	// Name returns the unique name of the scenario.
	Name() string

	// Description returns a human-readable description.
	Description() string

	// Run executes the scenario logic.
	Run(ctx context.Context, env *Environment) error
}

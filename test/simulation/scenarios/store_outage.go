package scenarios

import (
	"context"
	"fmt"

	"github.com/arloliu/rewind/test/simulation/types"
)

// StoreOutage takes the event store down while clients are away.
type StoreOutage struct{}

func (s *StoreOutage) Name() string {
	return "store-outage"
}

func (s *StoreOutage) Description() string {
	return "Fails every store operation; publishes must still reach live clients"
}

func (s *StoreOutage) Run(ctx context.Context, env *types.Environment) error {
	env.Logger.Info("Starting StoreOutage scenario")

	env.Driver.DisconnectRandom(half(env.Driver.Online()))
	before := env.Tracker.Stats().Lost

	env.Logger.Info("Killing store")
	env.Chaos.SetErrorRate(1.0)

	err := waitUntil(ctx, 5*env.Step, func() bool {
		return env.Tracker.Stats().Lost > before
	})

	env.Logger.Info("Recovering store")
	env.Chaos.Reset()

	if err != nil {
		return fmt.Errorf("no publish was lost during the outage: %w", err)
	}

	if err := sleep(ctx, env.Step); err != nil {
		return err
	}
	env.Driver.ResumeAll(ctx)

	env.Logger.Info("StoreOutage scenario completed", "lost", env.Tracker.Stats().Lost-before)

	return nil
}

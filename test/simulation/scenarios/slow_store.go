package scenarios

import (
	"context"
	"time"

	"github.com/arloliu/rewind/test/simulation/types"
)

// SlowStore adds latency to every store operation during churn.
type SlowStore struct{}

func (s *SlowStore) Name() string {
	return "slow-store"
}

func (s *SlowStore) Description() string {
	return "Adds store latency; publishes slow down but nothing is lost"
}

func (s *SlowStore) Run(ctx context.Context, env *types.Environment) error {
	env.Logger.Info("Starting SlowStore scenario")

	env.Chaos.SetLatency(2 * time.Millisecond)
	defer env.Chaos.Reset()

	env.Driver.DisconnectRandom(half(env.Driver.Online()))
	if err := sleep(ctx, env.Step); err != nil {
		return err
	}
	env.Driver.ResumeAll(ctx)

	env.Logger.Info("SlowStore scenario completed")

	return nil
}

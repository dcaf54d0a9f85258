package scenarios

import (
	"context"
	"errors"

	"github.com/arloliu/rewind/test/simulation/types"
	"github.com/arloliu/rewind/test/testutil"
)

// ReplayOutage fails the reconnect queries only.
type ReplayOutage struct{}

func (s *ReplayOutage) Name() string {
	return "replay-outage"
}

func (s *ReplayOutage) Description() string {
	return "Fails history reads during reconnect; clients must come back regardless"
}

func (s *ReplayOutage) Run(ctx context.Context, env *types.Environment) error {
	env.Logger.Info("Starting ReplayOutage scenario")

	gone := env.Driver.DisconnectRandom(half(env.Driver.Online()))
	if err := sleep(ctx, env.Step); err != nil {
		return err
	}

	env.Chaos.SetErrorRate(1.0, testutil.OpElementsAfter)
	failed := env.Driver.ResumeAll(ctx)
	env.Chaos.Reset()

	if failed != len(gone) {
		return errors.New("expected every replay to fail during the outage")
	}

	env.Logger.Info("ReplayOutage scenario completed", "failed", failed)

	return nil
}

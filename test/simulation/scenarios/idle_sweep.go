package scenarios

import (
	"context"
	"fmt"
	"time"

	"github.com/arloliu/rewind/test/simulation/types"
)

// IdleSweep lets every channel go idle past the inactivity TTL and sweeps.
type IdleSweep struct {
	// TTL is the inactivity TTL the rewind instance runs with.
	TTL time.Duration
}

func (s *IdleSweep) Name() string {
	return "idle-sweep"
}

func (s *IdleSweep) Description() string {
	return "Sweeps idle channels while clients are away; their history is gone"
}

func (s *IdleSweep) Run(ctx context.Context, env *types.Environment) error {
	env.Logger.Info("Starting IdleSweep scenario")

	env.Driver.DisconnectRandom(half(env.Driver.Online()))
	if err := sleep(ctx, env.Step); err != nil {
		return err
	}

	result, err := env.Driver.Sweep(ctx, s.TTL+time.Millisecond)
	if err != nil {
		return fmt.Errorf("sweep failed: %w", err)
	}
	env.Logger.Info("Swept idle channels", "scanned", result.Scanned, "removed", result.Removed)

	if err := sleep(ctx, env.Step); err != nil {
		return err
	}
	env.Driver.ResumeAll(ctx)

	env.Logger.Info("IdleSweep scenario completed")

	return nil
}

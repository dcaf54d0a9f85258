package scenarios

import (
	"context"

	"github.com/arloliu/rewind/test/simulation/types"
)

// ClientChurn repeatedly disconnects and resumes clients under traffic.
type ClientChurn struct{}

func (s *ClientChurn) Name() string {
	return "client-churn"
}

func (s *ClientChurn) Description() string {
	return "Disconnects half the clients, lets traffic flow, then resumes them"
}

func (s *ClientChurn) Run(ctx context.Context, env *types.Environment) error {
	env.Logger.Info("Starting ClientChurn scenario")

	for round := 0; round < 3; round++ {
		gone := env.Driver.DisconnectRandom(half(env.Driver.Online()))
		env.Logger.Info("Clients disconnected", "round", round, "clients", gone)

		if err := sleep(ctx, env.Step); err != nil {
			return err
		}

		if failed := env.Driver.ResumeAll(ctx); failed > 0 {
			env.Logger.Warn("Replays failed without chaos", "failed", failed)
		}
	}

	env.Logger.Info("ClientChurn scenario completed")

	return nil
}

package rewind

import (
	"context"
	"errors"
	"time"

	"github.com/arloliu/rewind/types"
)

// ReplayResult summarizes one reconnect handshake.
type ReplayResult struct {
	// FirstConnection is true when the handshake declared nothing to replay.
	FirstConnection bool

	// Channels is the number of channels queried.
	Channels int

	// Replayed is the number of events delivered to the client.
	Replayed int

	// Failed lists channels whose query or delivery failed.
	Failed []string
}

// Coordinator answers reconnect handshakes by replaying missed events to
// the reconnecting client.
//
// For each declared channel it queries the store for events strictly after
// the client's last disconnect time and delivers them oldest-first to that
// client only. An event published in the same millisecond as the disconnect
// is not replayed.
type Coordinator struct {
	store  EventStore
	config *Config
}

// NewCoordinator creates a replay coordinator reading from store.
//
// Parameters:
//   - store: The event store to read from (required)
//   - opts: Optional configuration options (logger, metrics, replay timeout)
//
// Returns:
//   - *Coordinator: A new coordinator
//   - error: ErrNilStore if store is nil
func NewCoordinator(store EventStore, opts ...Option) (*Coordinator, error) {
	if store == nil {
		return nil, types.ErrNilStore
	}

	return &Coordinator{
		store:  store,
		config: newConfig(opts),
	}, nil
}

// Replay handles one reconnect handshake.
//
// Channels are deduplicated and processed in declaration order. A store
// failure on one channel does not prevent the others from replaying; all
// failures are joined into the returned error as *types.ChannelError. A
// delivery failure stops replay of that channel, since later events would
// arrive out of order.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - sender: Delivers events to the reconnecting client
//   - clientID: The reconnecting client
//   - hs: The client's handshake
//
// Returns:
//   - ReplayResult: What was replayed
//   - error: Joined per-channel errors, or ErrNilSender
func (c *Coordinator) Replay(ctx context.Context, sender ClientSender, clientID string, hs types.Handshake) (ReplayResult, error) {
	if sender == nil {
		return ReplayResult{}, types.ErrNilSender
	}

	if hs.IsFirstConnection() {
		c.config.Metrics.IncHandshake(true)
		c.config.Logger.Debug("rewind: first connection, nothing to replay", "client", clientID)

		return ReplayResult{FirstConnection: true}, nil
	}

	c.config.Metrics.IncHandshake(false)

	start := time.Now()
	defer func() {
		c.config.Metrics.ObserveReplayDuration(time.Since(start).Seconds())
	}()

	if c.config.ReplayTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.ReplayTimeout)
		defer cancel()
	}

	var (
		result ReplayResult
		errs   []error
	)
	for _, channel := range dedupe(hs.Channels) {
		result.Channels++

		n, err := c.replayChannel(ctx, sender, clientID, channel, hs.LastDisconnectTime)
		result.Replayed += n
		if err != nil {
			c.config.Metrics.IncReplayError()
			c.config.Logger.Warn("rewind: replay failed for channel",
				"client", clientID,
				"channel", channel,
				"replayed", n,
				"error", err,
			)
			result.Failed = append(result.Failed, channel)
			errs = append(errs, &types.ChannelError{Channel: channel, Cause: err})
		}
	}

	c.config.Logger.Debug("rewind: replay completed",
		"client", clientID,
		"channels", result.Channels,
		"replayed", result.Replayed,
		"since", hs.LastDisconnectTime,
	)

	return result, errors.Join(errs...)
}

// replayChannel delivers the events of one channel after since.
func (c *Coordinator) replayChannel(ctx context.Context, sender ClientSender, clientID, channel string, since int64) (int, error) {
	events, err := c.store.ElementsAfter(ctx, channel, since)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, ev := range events {
		if err := sender.SendTo(ctx, clientID, ev.Name, ev.Payload); err != nil {
			return sent, err
		}
		sent++
		c.config.Metrics.IncEventReplayed()
	}

	return sent, nil
}

// dedupe returns channels without empty names or repeats, keeping order.
func dedupe(channels []string) []string {
	seen := make(map[string]struct{}, len(channels))
	out := make([]string, 0, len(channels))
	for _, ch := range channels {
		if ch == "" {
			continue
		}
		if _, ok := seen[ch]; ok {
			continue
		}
		seen[ch] = struct{}{}
		out = append(out, ch)
	}

	return out
}

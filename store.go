package rewind

import (
	"context"

	"github.com/arloliu/rewind/types"
)

// EventStore holds one ordered event log per channel.
//
// Every backend honors the same contract, so the retention manager and the
// replay coordinator never depend on which backend is in use:
//   - Logs are ordered oldest-first by insertion.
//   - Reads against a nonexistent channel return empty results, never errors.
//   - Backend failures are returned as errors, never as empty results.
//
// Implementations: store.MemoryStore (in-process), store.RedisStore
// (networked), store.NATSStore (JetStream KV), store.SQLStore (database/sql).
type EventStore interface {
	// Append adds an event to the end of the channel log, creating the log
	// if absent.
	Append(ctx context.Context, channel string, ev types.Event) error

	// Len returns the number of retained events; 0 for a nonexistent channel.
	Len(ctx context.Context, channel string) (int, error)

	// ElementAt returns the event at a 0-based, oldest-first index.
	// Returns types.ErrEventNotFound when the index is out of range.
	ElementAt(ctx context.Context, channel string, index int) (types.Event, error)

	// ElementsAfter returns all events with Time strictly greater than t,
	// oldest-first. The result is empty when nothing qualifies.
	ElementsAfter(ctx context.Context, channel string, t int64) ([]types.Event, error)

	// RemoveElementAt deletes the event at index. Out of range is a no-op.
	RemoveElementAt(ctx context.Context, channel string, index int) error

	// RemoveChannel drops the whole channel log. Absent channels are a no-op.
	RemoveChannel(ctx context.Context, channel string) error

	// Channels lists the channels that currently hold a log.
	Channels(ctx context.Context) ([]string, error)

	// Close releases resources held by the store.
	Close() error
}

// ClientSender delivers an event to exactly one connected client.
//
// Transports implement it; replayed events are delivered through it and
// therefore never pass through the publish hook.
type ClientSender interface {
	// SendTo delivers name and payload to the client identified by clientID.
	SendTo(ctx context.Context, clientID string, name string, payload any) error
}

// HookRegistrar is implemented by transports that invoke a hook on every
// outbound publish.
type HookRegistrar interface {
	// RegisterPublishHook adds a hook invoked before each publish is delivered.
	RegisterPublishHook(hook types.PublishHook)
}

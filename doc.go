// Package rewind buffers recently published channel events and replays the
// ones a client missed while it was disconnected.
//
// Rewind sits between a pub/sub transport and an event store. Every outbound
// publish is recorded into a per-channel log, bounded by a retention policy.
// When a client reconnects it declares its channels and the time it last
// disconnected, and exactly the events published after that instant are
// delivered to that client alone, oldest first.
//
// # Key Features
//
//   - Retention: count-bounded or age-bounded logs, plus an inactivity sweep
//   - Publish Interception: control events are never recorded
//   - Reconnect Replay: strict "after disconnect" semantics, per client
//   - Pluggable Stores: in-process, Redis, NATS JetStream KV or SQL
//   - Transports: an in-process hub and a NATS core transport
//
// # Basic Usage
//
//	st := store.NewMemoryStore()
//
//	r, err := rewind.New(st,
//	    rewind.WithCountLimit(200),
//	    rewind.WithInactivityTTL(10*time.Minute),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer r.Close()
//
//	hub := transport.NewLocal()
//	r.Attach(hub)
//
//	// On reconnect:
//	client, result, err := hub.Resume(ctx, previous, r)
//
// # Error Handling
//
// Recording never blocks a publish. When a publish cannot be recorded the
// failure is logged, counted and passed to the WithOnRecordError callback;
// the publish is delivered regardless.
//
// Replay and the sweep keep going past per-channel failures. Their errors
// join one *types.ChannelError per failed channel:
//
//	result, err := r.Replay(ctx, hub, clientID, hs)
//	if err != nil {
//	    var chErr *types.ChannelError
//	    if errors.As(err, &chErr) {
//	        log.Printf("channel %s: %v", chErr.Channel, chErr.Cause)
//	    }
//	}
//
// Store backends wrap their failures in *types.StoreError, naming the backend
// and operation.
//
// # Sentinel Errors
//
//   - types.ErrNilStore: A constructor was given a nil store
//   - types.ErrInvalidPolicy: The retention policy failed validation
//   - types.ErrStoreClosed: Operation attempted on a closed store
//   - types.ErrSweeperRunning: Sweeper started twice
//   - types.ErrNilSender: Replay was given a nil client sender
//   - types.ErrClosed: Operation attempted on a closed Rewind
//
// # Retention
//
// Before each append the retention manager checks the channel:
//
//   - Count mode: the oldest event is evicted when the log already holds
//     CountLimit events.
//   - Age mode: the oldest event is evicted when it is more than MaxAge
//     older than the newest stored event.
//
// At most one event is evicted per append unless WithDrainOnAppend is set.
// Separately, the sweeper drops every channel whose newest event is older
// than the inactivity TTL.
//
// # Replay Semantics
//
// A handshake with no channels or no disconnect time is a first connection
// and replays nothing. Otherwise each declared channel is queried for events
// with time strictly greater than the disconnect time. An event published in
// the same millisecond as the disconnect is not replayed. Replayed events
// are sent directly to the client and never pass through the publish hook,
// so they are not recorded twice.
//
// # Thread Safety
//
// All exported types are safe for concurrent use. Appends and evictions on
// the same channel are serialized by striped locks.
package rewind

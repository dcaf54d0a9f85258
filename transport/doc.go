// Package transport provides pub/sub transports that integrate with rewind.
//
// A transport owns client connections and channel membership. It invokes
// registered publish hooks before delivering each publish, which is where
// rewind records events, and implements rewind.ClientSender so missed
// events can be replayed to one reconnecting client.
//
// # Transports
//
//   - [Local]: In-process hub for single-instance servers and tests
//   - [NATS]: NATS core adapter for multi-instance deployments
//
// # Reconnect Flow
//
// Clients remember their channel list from change_room_names notifications
// and their disconnect time in a rewind.ClientState. On reconnect they send
// the resulting handshake, and the server replays events published after
// the disconnect:
//
//	hub := transport.NewLocal()
//	r.Attach(hub)
//
//	c, _ := hub.Connect("alice")
//	hub.Join("alice", "room1")
//	hub.Disconnect("alice", time.Now())
//
//	c, result, err := hub.Resume(ctx, c, r)
package transport

import (
	"context"

	"github.com/arloliu/rewind"
	"github.com/arloliu/rewind/types"
)

// Replayer answers reconnect handshakes. *rewind.Rewind and
// *rewind.Coordinator implement it.
type Replayer interface {
	Replay(ctx context.Context, sender rewind.ClientSender, clientID string, hs types.Handshake) (rewind.ReplayResult, error)
}

// Message is one event delivered to a client.
type Message struct {
	Name    string
	Payload any
}

package rewind

import (
	"slices"
	"sync"
	"time"

	"github.com/arloliu/rewind/types"
)

// ClientState is the client-side record needed to build a reconnect handshake.
//
// It remembers the channel list from the most recent change_room_names
// notification and the time of the last disconnect. Safe for concurrent use.
type ClientState struct {
	mu             sync.Mutex
	channels       []string
	disconnectedAt int64
	defaultChannel string
}

// NewClientState creates an empty client state.
//
// Parameters:
//   - defaultChannel: Channel always declared on reconnect; empty means DefaultChannel
//
// Returns:
//   - *ClientState: A new client state
func NewClientState(defaultChannel string) *ClientState {
	if defaultChannel == "" {
		defaultChannel = DefaultChannel
	}

	return &ClientState{defaultChannel: defaultChannel}
}

// SetChannels replaces the remembered channel list.
func (s *ClientState) SetChannels(channels []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.channels = slices.Clone(channels)
}

// MarkDisconnected records the disconnect time.
func (s *ClientState) MarkDisconnected(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.disconnectedAt = at.UnixMilli()
}

// Handshake builds the reconnect handshake.
//
// The declared channels are the remembered ones plus the default channel.
// Before any disconnect the handshake is a first connection.
func (s *ClientState) Handshake() types.Handshake {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disconnectedAt == 0 {
		return types.Handshake{}
	}

	channels := make([]string, 0, len(s.channels)+1)
	channels = append(channels, s.channels...)
	if !slices.Contains(channels, s.defaultChannel) {
		channels = append(channels, s.defaultChannel)
	}

	return types.Handshake{
		Channels:           channels,
		LastDisconnectTime: s.disconnectedAt,
	}
}

package rewind_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/arloliu/rewind"
	"github.com/arloliu/rewind/types"
)

func TestClientState_FirstConnection(t *testing.T) {
	s := rewind.NewClientState("")
	s.SetChannels([]string{"room1"})

	hs := s.Handshake()
	assert.True(t, hs.IsFirstConnection())
	assert.Equal(t, types.Handshake{}, hs)
}

func TestClientState_Handshake(t *testing.T) {
	s := rewind.NewClientState("")
	s.SetChannels([]string{"room1", "room2"})
	s.MarkDisconnected(time.UnixMilli(150))

	assert.Equal(t, types.Handshake{
		Channels:           []string{"room1", "room2", rewind.DefaultChannel},
		LastDisconnectTime: 150,
	}, s.Handshake())
}

func TestClientState_DefaultChannelNotDuplicated(t *testing.T) {
	s := rewind.NewClientState("lobby")
	s.SetChannels([]string{"lobby", "room1"})
	s.MarkDisconnected(time.UnixMilli(150))

	assert.Equal(t, []string{"lobby", "room1"}, s.Handshake().Channels)
}

func TestClientState_CopiesChannels(t *testing.T) {
	channels := []string{"room1"}
	s := rewind.NewClientState("")
	s.SetChannels(channels)
	s.MarkDisconnected(time.UnixMilli(150))

	channels[0] = "mutated"
	assert.Equal(t, []string{"room1", rewind.DefaultChannel}, s.Handshake().Channels)
}

func TestClientState_LatestNotificationWins(t *testing.T) {
	s := rewind.NewClientState("")
	s.SetChannels([]string{"room1", "room2"})
	s.SetChannels([]string{"room2"})
	s.MarkDisconnected(time.UnixMilli(100))
	s.MarkDisconnected(time.UnixMilli(200))

	hs := s.Handshake()
	assert.Equal(t, []string{"room2", rewind.DefaultChannel}, hs.Channels)
	assert.Equal(t, int64(200), hs.LastDisconnectTime)
}

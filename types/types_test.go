package types

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreError(t *testing.T) {
	cause := errors.New("connection refused")
	err := &StoreError{
		Backend: "redis",
		Op:      "append",
		Channel: "room1",
		Cause:   cause,
	}

	assert.Contains(t, err.Error(), "redis append")
	assert.Contains(t, err.Error(), "channel room1")
	assert.Contains(t, err.Error(), "connection refused")
	assert.True(t, errors.Is(err, cause))

	noChannel := &StoreError{Backend: "nats", Op: "channels", Cause: cause}
	assert.NotContains(t, noChannel.Error(), "on channel")
}

func TestChannelError(t *testing.T) {
	cause := &StoreError{Backend: "memory", Op: "len", Channel: "room2", Cause: ErrStoreClosed}
	err := &ChannelError{Channel: "room2", Cause: cause}

	assert.Contains(t, err.Error(), "channel room2")
	require.True(t, errors.Is(err, ErrStoreClosed))

	var storeErr *StoreError
	require.True(t, errors.As(err, &storeErr))
	assert.Equal(t, "memory", storeErr.Backend)
}

func TestSentinelErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		msg  string
	}{
		{"ErrEventNotFound", ErrEventNotFound, "event not found"},
		{"ErrStoreClosed", ErrStoreClosed, "event store is closed"},
		{"ErrNilStore", ErrNilStore, "event store cannot be nil"},
		{"ErrInvalidPolicy", ErrInvalidPolicy, "invalid retention policy"},
		{"ErrSweeperRunning", ErrSweeperRunning, "sweeper already running"},
		{"ErrNilSender", ErrNilSender, "client sender cannot be nil"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Contains(t, tt.err.Error(), tt.msg)
			assert.Contains(t, tt.err.Error(), "rewind: ")
		})
	}
}

func TestDefaultRetentionPolicy(t *testing.T) {
	p := DefaultRetentionPolicy()

	assert.Equal(t, RetentionCount, p.Mode)
	assert.Equal(t, 500, p.CountLimit)
	assert.Equal(t, 10*time.Minute, p.MaxAge)
	assert.Equal(t, 10*time.Minute, p.InactivityTTL)
	assert.Equal(t, 10*time.Minute, p.SweepInterval)
	assert.False(t, p.DrainOnAppend)
	require.NoError(t, p.Validate())
}

func TestRetentionPolicyValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *RetentionPolicy)
		ok     bool
	}{
		{"age mode", func(p *RetentionPolicy) { p.Mode = RetentionAge }, true},
		{"zero limit", func(p *RetentionPolicy) { p.CountLimit = 0 }, true},
		{"zero ttl", func(p *RetentionPolicy) { p.InactivityTTL = 0 }, true},
		{"unknown mode", func(p *RetentionPolicy) { p.Mode = "lru" }, false},
		{"negative limit", func(p *RetentionPolicy) { p.CountLimit = -1 }, false},
		{"negative age", func(p *RetentionPolicy) { p.MaxAge = -time.Second }, false},
		{"negative ttl", func(p *RetentionPolicy) { p.InactivityTTL = -time.Second }, false},
		{"negative interval", func(p *RetentionPolicy) { p.SweepInterval = -time.Second }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultRetentionPolicy()
			tt.mutate(&p)

			err := p.Validate()
			if tt.ok {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, ErrInvalidPolicy)
			}
		})
	}
}

func TestHandshakeIsFirstConnection(t *testing.T) {
	assert.True(t, Handshake{}.IsFirstConnection())
	assert.True(t, Handshake{LastDisconnectTime: 150}.IsFirstConnection())
	assert.True(t, Handshake{Channels: []string{"room1"}}.IsFirstConnection())
	assert.False(t, Handshake{Channels: []string{"room1"}, LastDisconnectTime: 150}.IsFirstConnection())
}

func TestEventAt(t *testing.T) {
	ev := Event{Time: 1_700_000_000_123}
	assert.Equal(t, int64(1_700_000_000_123), ev.At().UnixMilli())
}

func TestRetentionModeString(t *testing.T) {
	assert.Equal(t, "count", RetentionCount.String())
	assert.Equal(t, "age", RetentionAge.String())
}

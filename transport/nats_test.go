package transport_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinylib/msgp/msgp"

	"github.com/arloliu/rewind"
	"github.com/arloliu/rewind/store"
	"github.com/arloliu/rewind/test/testutil"
	"github.com/arloliu/rewind/transport"
	"github.com/arloliu/rewind/types"
)

type natsFixture struct {
	url    string
	server *transport.NATS
	rewind *rewind.Rewind
	clock  *testutil.StepClock
}

func newNATSFixture(t *testing.T) *natsFixture {
	t.Helper()

	url := testutil.StartNATSServer(t)
	clock := testutil.NewStepClock(0)

	r, err := rewind.New(store.NewMemoryStore(), rewind.WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	server, err := transport.NewNATS(connect(t, url))
	require.NoError(t, err)
	r.Attach(server)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, server.Start(ctx, r))
	t.Cleanup(server.Stop)

	return &natsFixture{url: url, server: server, rewind: r, clock: clock}
}

func connect(t *testing.T, url string) *nats.Conn {
	t.Helper()

	nc, err := nats.Connect(url)
	require.NoError(t, err)
	t.Cleanup(nc.Close)

	return nc
}

// collect reads messages until n non-control events arrived or the timeout.
func collect(t *testing.T, c *transport.NATSClient, n int) []string {
	t.Helper()

	var names []string
	timeout := time.After(2 * time.Second)
	for len(names) < n {
		select {
		case m := <-c.Messages():
			if m.Name != rewind.EventChangeRoomNames {
				names = append(names, m.Name)
			}
		case <-timeout:
			t.Fatalf("timed out after %d of %d messages: %v", len(names), n, names)
		}
	}

	return names
}

func TestNATS_NilConnection(t *testing.T) {
	_, err := transport.NewNATS(nil)
	require.Error(t, err)

	_, err = transport.NewNATSClient(nil, "alice")
	require.Error(t, err)
}

func TestNATS_JoinNotifiesChannels(t *testing.T) {
	ctx := context.Background()
	f := newNATSFixture(t)

	alice, err := transport.NewNATSClient(connect(t, f.url), "alice")
	require.NoError(t, err)
	defer alice.Close()

	require.NoError(t, alice.Join(ctx, "room2"))
	require.NoError(t, alice.Join(ctx, "room1"))

	var last transport.Message
	for i := 0; i < 2; i++ {
		select {
		case last = <-alice.Messages():
		case <-time.After(2 * time.Second):
			t.Fatal("no change_room_names notification")
		}
	}
	assert.Equal(t, rewind.EventChangeRoomNames, last.Name)
	assert.Equal(t, []string{"room1", "room2"}, last.Payload)
	assert.True(t, f.server.Membership().IsMember("alice", "room1"))

	require.NoError(t, alice.Leave(ctx, "room2"))
	assert.False(t, f.server.Membership().IsMember("alice", "room2"))

	require.ErrorIs(t, alice.Join(ctx, ""), types.ErrInvalidChannel)
}

func TestNATS_PublishDeliversToMembers(t *testing.T) {
	ctx := context.Background()
	f := newNATSFixture(t)

	alice, err := transport.NewNATSClient(connect(t, f.url), "alice")
	require.NoError(t, err)
	defer alice.Close()
	require.NoError(t, alice.Join(ctx, "room.with dots"))

	require.NoError(t, f.server.Publish(ctx, "room.with dots", "message", "hi"))
	require.NoError(t, f.server.Publish(ctx, "", "announcement", "all"))

	assert.Equal(t, []string{"message", "announcement"}, collect(t, alice, 2))

	n, err := f.rewind.Store().Len(ctx, "room.with dots")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNATS_ReconnectReplaysMissedEvents(t *testing.T) {
	ctx := context.Background()
	f := newNATSFixture(t)

	alice, err := transport.NewNATSClient(connect(t, f.url), "alice")
	require.NoError(t, err)
	defer alice.Close()
	require.NoError(t, alice.Join(ctx, "room1"))

	f.clock.Set(100)
	require.NoError(t, f.server.Publish(ctx, "room1", "a", "first"))
	assert.Equal(t, []string{"a"}, collect(t, alice, 1))

	alice.Disconnect(time.UnixMilli(150))

	f.clock.Set(200)
	require.NoError(t, f.server.Publish(ctx, "room1", "b", "second"))
	f.clock.Set(300)
	require.NoError(t, f.server.Publish(ctx, "room1", "c", "third"))

	result, err := alice.Reconnect(ctx)
	require.NoError(t, err)
	assert.False(t, result.FirstConnection)
	assert.Equal(t, 2, result.Replayed)

	assert.Equal(t, []string{"b", "c"}, collect(t, alice, 2))
}

func TestNATS_ReconnectReplaysMoreThanBuffer(t *testing.T) {
	const events = 400
	ctx := context.Background()
	f := newNATSFixture(t)

	alice, err := transport.NewNATSClient(connect(t, f.url), "alice", transport.WithNATSBuffer(16))
	require.NoError(t, err)
	defer alice.Close()
	require.NoError(t, alice.Join(ctx, "room1"))

	alice.Disconnect(time.UnixMilli(50))

	want := make([]string, 0, events)
	for i := 0; i < events; i++ {
		name := fmt.Sprintf("e%03d", i)
		want = append(want, name)
		f.clock.Set(int64(100 + i))
		require.NoError(t, f.server.Publish(ctx, "room1", name, i))
	}

	// Nothing reads Messages until Reconnect returns.
	result, err := alice.Reconnect(ctx)
	require.NoError(t, err)
	assert.Equal(t, events, result.Replayed)

	assert.Equal(t, want, collect(t, alice, events))
}

func TestNATS_DisconnectForgetsMembership(t *testing.T) {
	ctx := context.Background()
	f := newNATSFixture(t)
	members := f.server.Membership()

	alice, err := transport.NewNATSClient(connect(t, f.url), "alice")
	require.NoError(t, err)
	defer alice.Close()
	require.NoError(t, alice.Join(ctx, "room1"))
	require.NoError(t, alice.Join(ctx, "room2"))
	require.True(t, members.IsMember("alice", "room1"))

	alice.Disconnect(time.UnixMilli(100))
	assert.Eventually(t, func() bool {
		return len(members.Channels("alice")) == 0
	}, 2*time.Second, 10*time.Millisecond)

	_, err = alice.Reconnect(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"room1", "room2"}, members.Channels("alice"))

	alice.Close()
	assert.Eventually(t, func() bool {
		return len(members.Channels("alice")) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestNATS_FirstConnectionHandshake(t *testing.T) {
	ctx := context.Background()
	f := newNATSFixture(t)

	alice, err := transport.NewNATSClient(connect(t, f.url), "alice")
	require.NoError(t, err)
	defer alice.Close()

	result, err := alice.Reconnect(ctx)
	require.NoError(t, err)
	assert.True(t, result.FirstConnection)
	assert.Zero(t, result.Replayed)
}

func TestNATS_MalformedHandshakeIsFirstConnection(t *testing.T) {
	f := newNATSFixture(t)
	nc := connect(t, f.url)

	reply, err := nc.Request("rewind.handshake", []byte{0xc1, 0x00}, 2*time.Second)
	require.NoError(t, err)

	decoded, _, err := msgp.ReadIntfBytes(reply.Data)
	require.NoError(t, err)
	fields, ok := decoded.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, fields["f"])
	assert.Equal(t, "", fields["e"])
}

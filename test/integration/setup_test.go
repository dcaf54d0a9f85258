package integration_test

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/rewind"
	"github.com/arloliu/rewind/store"
	"github.com/arloliu/rewind/test/testutil"
	"github.com/arloliu/rewind/transport"
)

// backend opens a fresh event store for one test.
type backend struct {
	name string
	open func(t *testing.T) rewind.EventStore
}

func backends() []backend {
	return []backend{
		{"memory", func(t *testing.T) rewind.EventStore {
			return store.NewMemoryStore()
		}},
		{"redis", func(t *testing.T) rewind.EventStore {
			_, client := testutil.StartMiniRedis(t)
			st, err := store.NewRedisStore(client, store.WithRedisTTL(0))
			require.NoError(t, err)

			return st
		}},
		{"nats", func(t *testing.T) rewind.EventStore {
			js := testutil.StartEmbeddedNATS(t)
			st, err := store.NewNATSStore(js, store.WithMemoryStorage(), store.WithNATSTTL(0))
			require.NoError(t, err)

			return st
		}},
		{"sqlite", func(t *testing.T) rewind.EventStore {
			st, err := store.NewSQLStore(t.Context(), testutil.OpenSQLite(t))
			require.NoError(t, err)

			return st
		}},
	}
}

func skipShort(t *testing.T) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
}

// newRewind creates a Rewind over st driven by a step clock.
func newRewind(t *testing.T, st rewind.EventStore, opts ...rewind.Option) (*rewind.Rewind, *testutil.StepClock) {
	t.Helper()

	clock := testutil.NewStepClock(1)
	opts = append([]rewind.Option{rewind.WithClock(clock.Now)}, opts...)

	r, err := rewind.New(st, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = r.Close()
		_ = st.Close()
	})

	return r, clock
}

// publishAt publishes on hub with the clock set to at.
func publishAt(t *testing.T, hub *transport.Local, clock *testutil.StepClock, at int64, channel, name string) {
	t.Helper()

	clock.Set(at)
	require.NoError(t, hub.Publish(context.Background(), channel, name, name))
}

// events returns the non-control event names in msgs.
func events(msgs []transport.Message) []string {
	names := []string{}
	for _, m := range msgs {
		if m.Name != rewind.EventChangeRoomNames {
			names = append(names, m.Name)
		}
	}

	return names
}

// collect reads messages from a NATS client until n non-control events arrived.
func collect(t *testing.T, c *transport.NATSClient, n int) []string {
	t.Helper()

	names := []string{}
	timeout := time.After(5 * time.Second)
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

// quiet asserts that no further non-control event arrives for a short while.
func quiet(t *testing.T, c *transport.NATSClient) {
	t.Helper()

	timeout := time.After(100 * time.Millisecond)
	for {
		select {
		case m := <-c.Messages():
			if m.Name != rewind.EventChangeRoomNames {
				t.Fatalf("unexpected message %q", m.Name)
			}
		case <-timeout:
			return
		}
	}
}

// natsConn starts an embedded NATS server for a transport and connects to it.
func natsConn(t *testing.T) *nats.Conn {
	t.Helper()

	return testutil.ConnectEmbeddedNATS(t)
}

// natsClientConn opens a second connection to the server behind nc, so
// clients and servers do not share a connection.
func natsClientConn(t *testing.T, nc *nats.Conn) *nats.Conn {
	t.Helper()

	conn, err := nats.Connect(nc.ConnectedUrl())
	require.NoError(t, err)
	t.Cleanup(conn.Close)

	return conn
}

// sharedJetStream returns a JetStream context for tests that need several
// stores over one bucket.
func sharedJetStream(t *testing.T, nc *nats.Conn) jetstream.JetStream {
	t.Helper()

	js, err := jetstream.New(nc)
	require.NoError(t, err)

	return js
}

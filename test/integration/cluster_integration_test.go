package integration_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/rewind"
	"github.com/arloliu/rewind/store"
	"github.com/arloliu/rewind/test/testutil"
	"github.com/arloliu/rewind/transport"
)

type instance struct {
	rewind *rewind.Rewind
	server *transport.NATS
	clock  *testutil.StepClock
}

func TestMultiInstanceReplayIntegration(t *testing.T) {
	skipShort(t)

	tests := []struct {
		name string
		open func(t *testing.T) (rewind.EventStore, rewind.EventStore)
	}{
		{"redis", func(t *testing.T) (rewind.EventStore, rewind.EventStore) {
			_, client := testutil.StartMiniRedis(t)
			a, err := store.NewRedisStore(client, store.WithRedisKeyPrefix("cluster"))
			require.NoError(t, err)
			b, err := store.NewRedisStore(client, store.WithRedisKeyPrefix("cluster"))
			require.NoError(t, err)

			return a, b
		}},
		{"nats", func(t *testing.T) (rewind.EventStore, rewind.EventStore) {
			js := testutil.StartEmbeddedNATS(t)
			a, err := store.NewNATSStore(js, store.WithMemoryStorage(), store.WithBucket("cluster"))
			require.NoError(t, err)
			b, err := store.NewNATSStore(js, store.WithMemoryStorage(), store.WithBucket("cluster"))
			require.NoError(t, err)

			return a, b
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			nc := natsConn(t)
			storeA, storeB := tt.open(t)

			instances := make([]*instance, 0, 2)
			for _, st := range []rewind.EventStore{storeA, storeB} {
				r, clock := newRewind(t, st)

				server, err := transport.NewNATS(natsClientConn(t, nc))
				require.NoError(t, err)
				r.Attach(server)
				require.NoError(t, server.Start(ctx, r))
				t.Cleanup(server.Stop)

				instances = append(instances, &instance{rewind: r, server: server, clock: clock})
			}

			client, err := transport.NewNATSClient(natsClientConn(t, nc), "alice")
			require.NoError(t, err)
			t.Cleanup(client.Close)
			require.NoError(t, client.Join(ctx, "room1"))

			// Membership is replicated to every instance.
			for _, in := range instances {
				assert.Eventually(t, func() bool {
					return in.server.Membership().IsMember("alice", "room1")
				}, 2*time.Second, 10*time.Millisecond)
			}

			client.Disconnect(time.UnixMilli(150))
			for _, in := range instances {
				assert.Eventually(t, func() bool {
					return !in.server.Membership().IsMember("alice", "room1")
				}, 2*time.Second, 10*time.Millisecond)
			}

			// Each instance records into the shared store.
			instances[0].clock.Set(200)
			require.NoError(t, instances[0].server.Publish(ctx, "room1", "from-a", "a"))
			instances[1].clock.Set(300)
			require.NoError(t, instances[1].server.Publish(ctx, "room1", "from-b", "b"))

			n, err := storeA.Len(ctx, "room1")
			require.NoError(t, err)
			assert.Equal(t, 2, n)

			// Whichever instance answers the handshake replays both.
			result, err := client.Reconnect(ctx)
			require.NoError(t, err)
			assert.Equal(t, 2, result.Replayed)
			assert.Equal(t, []string{"from-a", "from-b"}, collect(t, client, 2))
			quiet(t, client)

			// Reconnect restores membership on every instance.
			for _, in := range instances {
				assert.Eventually(t, func() bool {
					return in.server.Membership().IsMember("alice", "room1")
				}, 2*time.Second, 10*time.Millisecond)
			}
		})
	}
}

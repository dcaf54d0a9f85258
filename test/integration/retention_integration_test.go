package integration_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/rewind"
	"github.com/arloliu/rewind/store/storetest"
	"github.com/arloliu/rewind/test/testutil"
	"github.com/arloliu/rewind/transport"
)

func TestCountRetentionIntegration(t *testing.T) {
	skipShort(t)

	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			st := b.open(t)
			r, clock := newRewind(t, st, rewind.WithCountLimit(3))

			hub := transport.NewLocal()
			r.Attach(hub)

			for i, name := range []string{"a", "b", "c", "d", "e"} {
				publishAt(t, hub, clock, int64(100*(i+1)), "room1", name)
			}

			got, err := st.ElementsAfter(ctx, "room1", 0)
			require.NoError(t, err)
			assert.Equal(t, []string{"c", "d", "e"}, storetest.Names(got))

			// A client gone since before the window only sees what was kept.
			sender := testutil.NewRecordingSender()
			result, err := r.Replay(ctx, sender, "alice", rewind.Handshake{
				Channels:           []string{"room1"},
				LastDisconnectTime: 50,
			})
			require.NoError(t, err)
			assert.Equal(t, 3, result.Replayed)
			assert.Equal(t, []string{"c", "d", "e"}, sender.Names())
		})
	}
}

func TestAgeRetentionIntegration(t *testing.T) {
	skipShort(t)

	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			st := b.open(t)
			r, clock := newRewind(t, st,
				rewind.WithMaxAge(100*time.Millisecond),
				rewind.WithDrainOnAppend(true),
			)

			hub := transport.NewLocal()
			r.Attach(hub)

			publishAt(t, hub, clock, 1_000, "room1", "t0")
			publishAt(t, hub, clock, 1_010, "room1", "t10")
			publishAt(t, hub, clock, 1_500, "room1", "t500")
			publishAt(t, hub, clock, 1_510, "room1", "t510")

			got, err := st.ElementsAfter(ctx, "room1", 0)
			require.NoError(t, err)
			assert.Equal(t, []string{"t500", "t510"}, storetest.Names(got))
		})
	}
}

func TestInactivitySweepIntegration(t *testing.T) {
	skipShort(t)

	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			st := b.open(t)
			r, clock := newRewind(t, st, rewind.WithInactivityTTL(time.Minute))

			hub := transport.NewLocal()
			r.Attach(hub)

			publishAt(t, hub, clock, 1_000, "quiet", "a")
			publishAt(t, hub, clock, 50_000, "busy", "a")

			clock.Set(90_000)
			result, err := r.Sweep(ctx)
			require.NoError(t, err)
			assert.Equal(t, 2, result.Scanned)
			assert.Equal(t, 1, result.Removed)

			channels, err := st.Channels(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"busy"}, channels)

			// A swept channel starts over on the next publish.
			publishAt(t, hub, clock, 91_000, "quiet", "b")
			got, err := st.ElementsAfter(ctx, "quiet", 0)
			require.NoError(t, err)
			assert.Equal(t, []string{"b"}, storetest.Names(got))
		})
	}
}

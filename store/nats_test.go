package store_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/rewind"
	"github.com/arloliu/rewind/store"
	"github.com/arloliu/rewind/store/storetest"
	"github.com/arloliu/rewind/test/testutil"
)

func TestNATSStore_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) rewind.EventStore {
		js := testutil.StartEmbeddedNATS(t)

		s, err := store.NewNATSStore(js, store.WithMemoryStorage())
		require.NoError(t, err)

		return s
	})
}

func TestNewNATSStore_NilJetStream(t *testing.T) {
	_, err := store.NewNATSStore(nil)
	require.Error(t, err)
}

func TestNATSStore_BucketConfig(t *testing.T) {
	ctx := context.Background()
	js := testutil.StartEmbeddedNATS(t)

	s, err := store.NewNATSStore(js,
		store.WithBucket("chat-history"),
		store.WithNATSTTL(5*time.Minute),
		store.WithMemoryStorage(),
	)
	require.NoError(t, err)
	assert.Equal(t, "chat-history", s.Config().Bucket)

	kv, err := js.KeyValue(ctx, "chat-history")
	require.NoError(t, err)

	status, err := kv.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, status.TTL())
	assert.Equal(t, int64(1), status.History())
}

func TestNATSStore_SharedAcrossInstances(t *testing.T) {
	ctx := context.Background()
	js := testutil.StartEmbeddedNATS(t)

	a, err := store.NewNATSStore(js, store.WithMemoryStorage())
	require.NoError(t, err)
	b, err := store.NewNATSStore(js, store.WithMemoryStorage())
	require.NoError(t, err)

	storetest.AppendAll(t, a, "room1", storetest.NewEvent("from-a", 100))
	storetest.AppendAll(t, b, "room1", storetest.NewEvent("from-b", 200))

	events, err := a.ElementsAfter(ctx, "room1", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"from-a", "from-b"}, storetest.Names(events))
}

func TestNATSStore_ConcurrentAppendsSameChannel(t *testing.T) {
	const (
		writers   = 4
		perWriter = 5
	)
	ctx := context.Background()
	js := testutil.StartEmbeddedNATS(t)

	s, err := store.NewNATSStore(js, store.WithMemoryStorage(), store.WithMaxRetries(100))
	require.NoError(t, err)

	var wg sync.WaitGroup
	errCh := make(chan error, writers*perWriter)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				ev := storetest.NewEvent(fmt.Sprintf("w%d-%d", w, i), int64(100+i))
				if err := s.Append(ctx, "room1", ev); err != nil {
					errCh <- err
				}
			}
		}(w)
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		require.NoError(t, err)
	}

	n, err := s.Len(ctx, "room1")
	require.NoError(t, err)
	assert.Equal(t, writers*perWriter, n, "no append may be lost to a lost race")
}

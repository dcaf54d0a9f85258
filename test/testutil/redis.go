package testutil

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// StartMiniRedis starts an in-memory Redis server and a client connected to it.
//
// Expiry in miniredis only advances through FastForward, which lets tests
// exercise TTL behavior without sleeping. Both are closed when the test completes.
//
// Parameters:
//   - t: The testing context
//
// Returns:
//   - *miniredis.Miniredis: The server, for FastForward and SetError
//   - *redis.Client: A client connected to the server
func StartMiniRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	t.Cleanup(func() {
		_ = client.Close()
	})

	return mr, client
}

package testutil

import (
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/require"
)

// StartEmbeddedNATS starts an embedded NATS server with JetStream enabled for testing.
//
// The server is configured with a random available port and uses t.TempDir()
// for JetStream storage. Both the connection and server are automatically
// cleaned up when the test completes.
//
// Parameters:
//   - t: The testing context
//
// Returns:
//   - jetstream.JetStream: A JetStream context ready for use
func StartEmbeddedNATS(t *testing.T) jetstream.JetStream {
	t.Helper()

	nc := ConnectEmbeddedNATS(t)

	js, err := jetstream.New(nc)
	require.NoError(t, err, "failed to create JetStream context")

	return js
}

// ConnectEmbeddedNATS starts an embedded NATS server and returns a core
// connection to it. Cleanup is registered on t.
//
// Parameters:
//   - t: The testing context
//
// Returns:
//   - *nats.Conn: A connected client
func ConnectEmbeddedNATS(t *testing.T) *nats.Conn {
	t.Helper()

	ns := startServer(t)

	nc, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err, "failed to connect to NATS server")

	t.Cleanup(func() {
		nc.Close()
	})

	return nc
}

// StartNATSServer starts an embedded NATS server and returns its client URL,
// for tests that open several connections.
func StartNATSServer(t *testing.T) string {
	t.Helper()

	return startServer(t).ClientURL()
}

func startServer(t *testing.T) *server.Server {
	t.Helper()

	opts := &server.Options{
		Host:      "127.0.0.1",
		Port:      -1, // Random available port
		JetStream: true,
		StoreDir:  t.TempDir(),
	}

	ns, err := server.NewServer(opts)
	require.NoError(t, err, "failed to create NATS server")

	ns.Start()

	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready for connections")
	}

	t.Cleanup(ns.Shutdown)

	return ns
}

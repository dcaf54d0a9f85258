// Package testutil provides test helpers and fakes for rewind testing.
//
// # Fakes
//
//   - [RecordingSender]: rewind.ClientSender that records every delivery
//   - [FailingStore]: rewind.EventStore wrapper that injects errors per operation
//   - [TestMetricsCollector]: types.MetricsCollector that counts every call
//   - [StepClock]: manually advanced clock for deterministic timestamps
//
// # Backend Helpers
//
// Networked backends run in-process, so no external services are needed:
//
//   - StartEmbeddedNATS: Starts an embedded NATS server with JetStream
//   - StartMiniRedis: Starts an in-memory Redis server
//   - OpenSQLite: Opens a file-backed SQLite database under t.TempDir()
package testutil

// Package integration_test provides end-to-end tests for rewind.
//
// These tests wire the core, every store backend and both transports
// together. All backing services run in-process: miniredis for Redis, an
// embedded nats-server for NATS and JetStream, and a file-backed SQLite
// database.
//
// # Running Integration Tests
//
// Integration tests are skipped by default when using -short flag:
//
//	go test -short ./...           # Skips integration tests
//	go test ./test/integration/... # Runs integration tests
package integration_test

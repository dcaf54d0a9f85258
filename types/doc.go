// Package types provides shared types and error definitions for the rewind library.
//
// This is a leaf package with zero rewind imports to prevent import cycles.
// All packages in rewind can safely import this package.
//
// # Events
//
// Event is the unit retained per channel and replayed on reconnect:
//
//	type Event struct {
//	    ID      string
//	    Channel string
//	    Name    string
//	    Payload any
//	    Time    int64 // unix milliseconds
//	}
//
// # Retention
//
// RetentionPolicy selects count-bounded or age-bounded eviction plus an
// inactivity TTL used by the periodic sweep:
//
//	policy := types.DefaultRetentionPolicy() // count mode, 500 events, 10m TTL
//	policy.Mode = types.RetentionAge
//	policy.MaxAge = 5 * time.Minute
//
// # Errors
//
// Sentinel errors are provided for common failure scenarios:
//
//   - ErrEventNotFound: An index outside the channel log was requested
//   - ErrStoreClosed: The event store has been closed
//   - ErrInvalidPolicy: The retention policy failed validation
//   - ErrSweeperRunning: The sweeper was started twice
//
// Backend failures are reported as *StoreError, and per-channel failures in
// multi-channel operations as *ChannelError. Both unwrap to their cause.
package types

// Package types provides shared types and errors for the rewind library.
//
// This is a "leaf" package with no imports from other rewind packages,
// allowing it to be imported by any package without causing import cycles.
package types

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Event is one published occurrence retained for replay.
//
// Events are immutable once stored. Within a channel, events are ordered by
// insertion, which is expected to be non-decreasing in Time.
type Event struct {
	// ID uniquely identifies the event. Assigned at record time when empty
	// as a UUIDv7. The Redis store breaks same-millisecond ties by ID.
	ID string

	// Channel is the channel (room) the event was published to.
	Channel string

	// Name is the event name delivered to subscribers.
	Name string

	// Payload is the published value. Backends that serialize events
	// round-trip it through MessagePack.
	Payload any

	// Time is the publish time in unix milliseconds.
	Time int64
}

// At returns the event time as a time.Time.
func (e Event) At() time.Time {
	return time.UnixMilli(e.Time)
}

// Publish describes one outbound publish observed by the transport.
//
// Channel and time travel with the publish itself, so concurrent publishes
// never share state.
type Publish struct {
	// Channel is the addressed channel. Empty means no channel was addressed.
	Channel string

	// Name is the event name.
	Name string

	// Payload is the published value.
	Payload any

	// Time is the publish time in unix milliseconds. Zero means "now".
	Time int64
}

// PublishHook is invoked by a transport on every outbound publish, before
// the publish is delivered.
type PublishHook func(ctx context.Context, p Publish)

// Handshake is the reconnect request sent by a client.
type Handshake struct {
	// Channels are the channels the client belonged to before disconnecting.
	// Empty means this is a first connection.
	Channels []string

	// LastDisconnectTime is the disconnect time in unix milliseconds.
	// Zero means absent.
	LastDisconnectTime int64
}

// IsFirstConnection reports whether the handshake carries nothing to replay.
func (h Handshake) IsFirstConnection() bool {
	return len(h.Channels) == 0 || h.LastDisconnectTime <= 0
}

// RetentionMode selects how a channel log is bounded.
type RetentionMode string

const (
	// RetentionCount bounds a channel log by number of events.
	RetentionCount RetentionMode = "count"
	// RetentionAge bounds a channel log by the age of its oldest event
	// relative to its newest.
	RetentionAge RetentionMode = "age"
)

// String returns the string representation of the RetentionMode.
func (m RetentionMode) String() string {
	return string(m)
}

// RetentionPolicy configures eviction and inactivity reclamation.
type RetentionPolicy struct {
	// Mode selects count-bounded or age-bounded eviction.
	Mode RetentionMode

	// CountLimit is the maximum number of events per channel in count mode.
	// A limit of 0 keeps only the newest event.
	CountLimit int

	// MaxAge is the maximum age of the oldest event relative to the newest
	// in age mode. A max age of 0 keeps only the newest event.
	MaxAge time.Duration

	// InactivityTTL is the idle duration after which a channel is dropped
	// by the sweep. Networked backends also use it as key expiry.
	// 0 disables the sweep and key expiry.
	InactivityTTL time.Duration

	// SweepInterval is how often the inactivity sweep runs.
	SweepInterval time.Duration

	// DrainOnAppend evicts every violating event on each append instead of
	// at most one.
	DrainOnAppend bool
}

// DefaultRetentionPolicy returns the default retention policy.
//
// Defaults: count mode, 500 events per channel, 10 minute max age,
// 10 minute inactivity TTL, sweep every 10 minutes, single eviction per append.
func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{
		Mode:          RetentionCount,
		CountLimit:    500,
		MaxAge:        10 * time.Minute,
		InactivityTTL: 10 * time.Minute,
		SweepInterval: 10 * time.Minute,
	}
}

// Validate checks that the policy is usable.
//
// Returns:
//   - error: ErrInvalidPolicy wrapped with the offending field, or nil if valid
func (p RetentionPolicy) Validate() error {
	switch p.Mode {
	case RetentionCount, RetentionAge:
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidPolicy, p.Mode)
	}
	if p.CountLimit < 0 {
		return fmt.Errorf("%w: count limit cannot be negative", ErrInvalidPolicy)
	}
	if p.MaxAge < 0 {
		return fmt.Errorf("%w: max age cannot be negative", ErrInvalidPolicy)
	}
	if p.InactivityTTL < 0 {
		return fmt.Errorf("%w: inactivity ttl cannot be negative", ErrInvalidPolicy)
	}
	if p.SweepInterval < 0 {
		return fmt.Errorf("%w: sweep interval cannot be negative", ErrInvalidPolicy)
	}

	return nil
}

// Logger is the structured logger used across rewind.
//
// Arguments after the message are alternating key/value pairs.
// *slog.Logger satisfies this interface.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Sentinel errors for common failure scenarios.
var (
	// ErrEventNotFound indicates an index outside the channel log.
	ErrEventNotFound = errors.New("rewind: event not found")

	// ErrStoreClosed indicates an operation on a closed event store.
	ErrStoreClosed = errors.New("rewind: event store is closed")

	// ErrNilStore indicates that a nil event store was provided.
	ErrNilStore = errors.New("rewind: event store cannot be nil")

	// ErrInvalidPolicy indicates an unusable retention policy.
	ErrInvalidPolicy = errors.New("rewind: invalid retention policy")

	// ErrSweeperRunning indicates Start was called on a running sweeper.
	ErrSweeperRunning = errors.New("rewind: sweeper already running")

	// ErrNilSender indicates that a nil client sender was provided.
	ErrNilSender = errors.New("rewind: client sender cannot be nil")

	// ErrUnknownClient indicates a send to a client that is not connected.
	ErrUnknownClient = errors.New("rewind: unknown client")

	// ErrInvalidChannel indicates a channel name a transport cannot address.
	ErrInvalidChannel = errors.New("rewind: invalid channel name")

	// ErrClosed indicates an operation on a closed component.
	ErrClosed = errors.New("rewind: closed")
)

// StoreError wraps a failure from an event store backend.
type StoreError struct {
	// Backend names the store implementation (e.g., "redis").
	Backend string

	// Op is the failed operation (e.g., "append").
	Op string

	// Channel is the channel being operated on, if any.
	Channel string

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.Channel == "" {
		return "rewind: " + e.Backend + " " + e.Op + " failed: " + e.Cause.Error()
	}

	return "rewind: " + e.Backend + " " + e.Op + " on channel " + e.Channel + " failed: " + e.Cause.Error()
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *StoreError) Unwrap() error {
	return e.Cause
}

// ChannelError wraps a failure that affected a single channel during a
// multi-channel operation such as a sweep or a replay.
type ChannelError struct {
	// Channel is the affected channel.
	Channel string

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *ChannelError) Error() string {
	return "rewind: channel " + e.Channel + ": " + e.Cause.Error()
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *ChannelError) Unwrap() error {
	return e.Cause
}

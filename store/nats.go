package store

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/rewind"
	"github.com/arloliu/rewind/types"
)

const natsBackend = "nats"

// natsKeyPrefix is prepended to every encoded channel key. Channel names are
// base64url-encoded because KV keys only allow [-/_=.a-zA-Z0-9].
const natsKeyPrefix = "ch_"

// errRevisionConflict is returned when optimistic updates keep losing races.
var errRevisionConflict = errors.New("rewind: too many concurrent updates")

// NATSStoreConfig configures the NATS JetStream KV event store.
type NATSStoreConfig struct {
	// Bucket is the KV bucket holding one entry per channel.
	// Default: "rewind-events"
	Bucket string

	// TTL expires channel entries that have not been updated for this long.
	// Set it to the inactivity TTL. 0 disables expiry.
	// Default: 10 minutes
	TTL time.Duration

	// Replicas is the number of bucket replicas.
	// Default: 1 (use 3 for production clusters)
	Replicas int

	// Storage selects file or memory storage for the bucket.
	// Default: jetstream.FileStorage
	Storage jetstream.StorageType

	// MaxRetries bounds optimistic-concurrency retries per mutation.
	// Default: 10
	MaxRetries int

	// CreateTimeout is the timeout for creating or updating the bucket.
	// Default: 10 seconds
	CreateTimeout time.Duration
}

// DefaultNATSStoreConfig returns the default configuration.
//
// Returns:
//   - NATSStoreConfig: Default configuration
func DefaultNATSStoreConfig() NATSStoreConfig {
	return NATSStoreConfig{
		Bucket:        "rewind-events",
		TTL:           10 * time.Minute,
		Replicas:      1,
		Storage:       jetstream.FileStorage,
		MaxRetries:    10,
		CreateTimeout: 10 * time.Second,
	}
}

// NATSStoreOption configures a NATSStore.
type NATSStoreOption func(*NATSStoreConfig)

// WithBucket sets the KV bucket name.
//
// Parameters:
//   - name: Bucket name
//
// Returns:
//   - NATSStoreOption: Configuration option
func WithBucket(name string) NATSStoreOption {
	return func(c *NATSStoreConfig) {
		c.Bucket = name
	}
}

// WithNATSTTL sets the per-entry expiry of the bucket.
//
// Parameters:
//   - d: Entry TTL (0 disables)
//
// Returns:
//   - NATSStoreOption: Configuration option
func WithNATSTTL(d time.Duration) NATSStoreOption {
	return func(c *NATSStoreConfig) {
		c.TTL = d
	}
}

// WithNATSReplicas sets the number of bucket replicas.
//
// Parameters:
//   - n: Number of replicas (1 for dev, 3 for production)
//
// Returns:
//   - NATSStoreOption: Configuration option
func WithNATSReplicas(n int) NATSStoreOption {
	return func(c *NATSStoreConfig) {
		c.Replicas = n
	}
}

// WithMemoryStorage keeps the bucket in server memory instead of on disk.
//
// Returns:
//   - NATSStoreOption: Configuration option
func WithMemoryStorage() NATSStoreOption {
	return func(c *NATSStoreConfig) {
		c.Storage = jetstream.MemoryStorage
	}
}

// WithMaxRetries sets the optimistic-concurrency retry bound.
//
// Parameters:
//   - n: Maximum attempts per mutation
//
// Returns:
//   - NATSStoreOption: Configuration option
func WithMaxRetries(n int) NATSStoreOption {
	return func(c *NATSStoreConfig) {
		c.MaxRetries = n
	}
}

// NATSStore is a shared, durable event store backed by a NATS JetStream
// key-value bucket.
//
// Each channel is one KV entry holding the MessagePack-encoded log. Every
// mutation reads the entry, applies the change and writes it back guarded
// by the entry revision, retrying when another writer won the race. This
// gives per-channel atomicity across server instances. Logs are bounded by
// the retention policy, so whole-entry rewrites stay small.
type NATSStore struct {
	kv     jetstream.KeyValue
	config NATSStoreConfig
	closed atomic.Bool
}

// Compile-time assertion that NATSStore implements rewind.EventStore.
var _ rewind.EventStore = (*NATSStore)(nil)

// NewNATSStore creates or updates the KV bucket and returns a store over it.
//
// Parameters:
//   - js: A JetStream context (created via jetstream.New(conn))
//   - opts: Optional configuration options
//
// Returns:
//   - *NATSStore: A new NATS store
//   - error: Error if js is nil or bucket creation fails
//
// Example:
//
//	nc, _ := nats.Connect("nats://localhost:4222")
//	js, _ := jetstream.New(nc)
//	st, _ := store.NewNATSStore(js, store.WithNATSTTL(10*time.Minute))
func NewNATSStore(js jetstream.JetStream, opts ...NATSStoreOption) (*NATSStore, error) {
	if js == nil {
		return nil, errors.New("rewind: JetStream context is nil")
	}

	config := DefaultNATSStoreConfig()
	for _, opt := range opts {
		opt(&config)
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.CreateTimeout)
	defer cancel()

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      config.Bucket,
		Description: "rewind missed-event logs",
		History:     1,
		TTL:         config.TTL,
		Storage:     config.Storage,
		Replicas:    config.Replicas,
	})
	if err != nil {
		return nil, fmt.Errorf("rewind: failed to create KV bucket %q: %w", config.Bucket, err)
	}

	return &NATSStore{
		kv:     kv,
		config: config,
	}, nil
}

// Config returns the store configuration.
func (s *NATSStore) Config() NATSStoreConfig {
	return s.config
}

// Append adds an event to the end of the channel log.
func (s *NATSStore) Append(ctx context.Context, channel string, ev types.Event) error {
	if s.closed.Load() {
		return types.ErrStoreClosed
	}

	ev.Channel = channel

	return s.mutate(ctx, "append", channel, func(events []types.Event) ([]types.Event, bool) {
		return append(events, ev), true
	})
}

// Len returns the number of events in the channel log.
func (s *NATSStore) Len(ctx context.Context, channel string) (int, error) {
	events, err := s.load(ctx, "len", channel)
	if err != nil {
		return 0, err
	}

	return len(events), nil
}

// ElementAt returns the event at index, oldest-first.
func (s *NATSStore) ElementAt(ctx context.Context, channel string, index int) (types.Event, error) {
	events, err := s.load(ctx, "element_at", channel)
	if err != nil {
		return types.Event{}, err
	}
	if index < 0 || index >= len(events) {
		return types.Event{}, types.ErrEventNotFound
	}

	return events[index], nil
}

// ElementsAfter returns the events with Time strictly greater than t.
func (s *NATSStore) ElementsAfter(ctx context.Context, channel string, t int64) ([]types.Event, error) {
	events, err := s.load(ctx, "elements_after", channel)
	if err != nil {
		return nil, err
	}

	return eventsAfter(events, t), nil
}

// RemoveElementAt deletes the event at index. Out of range is a no-op.
func (s *NATSStore) RemoveElementAt(ctx context.Context, channel string, index int) error {
	if s.closed.Load() {
		return types.ErrStoreClosed
	}

	return s.mutate(ctx, "remove_element_at", channel, func(events []types.Event) ([]types.Event, bool) {
		if index < 0 || index >= len(events) {
			return events, false
		}

		return slices.Delete(events, index, index+1), true
	})
}

// RemoveChannel deletes the channel entry.
func (s *NATSStore) RemoveChannel(ctx context.Context, channel string) error {
	if s.closed.Load() {
		return types.ErrStoreClosed
	}

	if err := s.kv.Delete(ctx, encodeChannelKey(channel)); err != nil {
		return s.wrap("remove_channel", channel, err)
	}

	return nil
}

// Channels lists the channels with a live entry in the bucket.
func (s *NATSStore) Channels(ctx context.Context) ([]string, error) {
	if s.closed.Load() {
		return nil, types.ErrStoreClosed
	}

	lister, err := s.kv.ListKeys(ctx)
	if err != nil {
		return nil, s.wrap("channels", "", err)
	}
	defer func() { _ = lister.Stop() }()

	var channels []string
	for key := range lister.Keys() {
		if ch, ok := decodeChannelKey(key); ok {
			channels = append(channels, ch)
		}
	}
	slices.Sort(channels)

	return channels, nil
}

// Close marks the store closed. The JetStream connection is left open.
func (s *NATSStore) Close() error {
	s.closed.Store(true)
	return nil
}

// load reads and decodes the channel log. A missing entry is an empty log.
func (s *NATSStore) load(ctx context.Context, op, channel string) ([]types.Event, error) {
	if s.closed.Load() {
		return nil, types.ErrStoreClosed
	}

	events, _, err := s.get(ctx, channel)
	if err != nil {
		return nil, s.wrap(op, channel, err)
	}
	if events == nil {
		events = []types.Event{}
	}

	return events, nil
}

// get returns the decoded log and its revision; revision 0 means absent.
func (s *NATSStore) get(ctx context.Context, channel string) ([]types.Event, uint64, error) {
	entry, err := s.kv.Get(ctx, encodeChannelKey(channel))
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, err
	}

	events, err := decodeEvents(entry.Value())
	if err != nil {
		return nil, 0, err
	}

	return events, entry.Revision(), nil
}

// mutate applies fn to the channel log under optimistic concurrency.
// fn reports whether it changed the log; unchanged logs are not written.
func (s *NATSStore) mutate(ctx context.Context, op, channel string, fn func([]types.Event) ([]types.Event, bool)) error {
	key := encodeChannelKey(channel)

	for attempt := 0; attempt < s.config.MaxRetries; attempt++ {
		events, rev, err := s.get(ctx, channel)
		if err != nil {
			return s.wrap(op, channel, err)
		}

		next, changed := fn(events)
		if !changed {
			return nil
		}

		switch {
		case len(next) == 0 && rev != 0:
			err = s.kv.Delete(ctx, key, jetstream.LastRevision(rev))
		case len(next) == 0:
			return nil
		default:
			var data []byte
			data, err = encodeEvents(next)
			if err != nil {
				return s.wrap(op, channel, err)
			}
			if rev == 0 {
				_, err = s.kv.Create(ctx, key, data)
			} else {
				_, err = s.kv.Update(ctx, key, data, rev)
			}
		}

		if err == nil {
			return nil
		}
		if !isRevisionConflict(err) {
			return s.wrap(op, channel, err)
		}
	}

	return s.wrap(op, channel, errRevisionConflict)
}

func (s *NATSStore) wrap(op, channel string, err error) error {
	return &types.StoreError{Backend: natsBackend, Op: op, Channel: channel, Cause: err}
}

// isRevisionConflict reports whether a KV write lost an optimistic race.
func isRevisionConflict(err error) bool {
	if errors.Is(err, jetstream.ErrKeyExists) {
		return true
	}

	var apiErr *jetstream.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
}

func encodeChannelKey(channel string) string {
	return natsKeyPrefix + base64.RawURLEncoding.EncodeToString([]byte(channel))
}

func decodeChannelKey(key string) (string, bool) {
	rest, ok := strings.CutPrefix(key, natsKeyPrefix)
	if !ok {
		return "", false
	}

	b, err := base64.RawURLEncoding.DecodeString(rest)
	if err != nil {
		return "", false
	}

	return string(b), true
}

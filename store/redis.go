package store

import (
	"context"
	"errors"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/arloliu/rewind"
	"github.com/arloliu/rewind/types"
)

const redisBackend = "redis"

// RedisConfig configures the Redis event store.
type RedisConfig struct {
	// KeyPrefix namespaces every key written by the store.
	// Default: "rewind"
	KeyPrefix string

	// TTL is applied to both keys of a channel on every append, so idle
	// channels expire without a sweep. Set it to the inactivity TTL.
	// 0 disables expiry.
	// Default: 10 minutes
	TTL time.Duration

	// ScanCount is the COUNT hint used when listing channels.
	// Default: 100
	ScanCount int64
}

// DefaultRedisConfig returns the default configuration.
//
// Returns:
//   - RedisConfig: Default configuration
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		KeyPrefix: "rewind",
		TTL:       10 * time.Minute,
		ScanCount: 100,
	}
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisConfig)

// WithRedisKeyPrefix sets the key namespace.
//
// Parameters:
//   - prefix: Key prefix (e.g., "chat")
//
// Returns:
//   - RedisOption: Configuration option
func WithRedisKeyPrefix(prefix string) RedisOption {
	return func(c *RedisConfig) {
		c.KeyPrefix = prefix
	}
}

// WithRedisTTL sets the per-channel key expiry.
//
// Parameters:
//   - d: Expiry refreshed on every append (0 disables)
//
// Returns:
//   - RedisOption: Configuration option
func WithRedisTTL(d time.Duration) RedisOption {
	return func(c *RedisConfig) {
		c.TTL = d
	}
}

// WithRedisScanCount sets the SCAN COUNT hint used by Channels.
//
// Parameters:
//   - n: Keys requested per SCAN round trip
//
// Returns:
//   - RedisOption: Configuration option
func WithRedisScanCount(n int64) RedisOption {
	return func(c *RedisConfig) {
		c.ScanCount = n
	}
}

// RedisStore is a networked event store backed by Redis.
//
// # Key Layout
//
// Each channel uses two keys sharing a hash tag so they live in the same
// cluster slot:
//   - {prefix}:log:{channel}  ZSET, score = event time (ms), member = event id
//   - {prefix}:data:{channel} HASH, field = event id, value = MessagePack event
//
// Event ids assigned by the retention manager are UUIDv7 generated under the
// channel lock, so events sharing a millisecond still sort in insertion
// order within the ZSET. Caller-supplied ids keep their own order.
//
// # Atomicity
//
// Append and RemoveElementAt run as MULTI/EXEC transactions. Connection
// errors are returned as *types.StoreError, never as empty results.
//
// The store does not own the client; Close does not close it.
type RedisStore struct {
	client redis.UniversalClient
	config RedisConfig
	closed atomic.Bool
}

// Compile-time assertion that RedisStore implements rewind.EventStore.
var _ rewind.EventStore = (*RedisStore)(nil)

// NewRedisStore creates a Redis event store.
//
// Parameters:
//   - client: A go-redis client (*redis.Client, *redis.ClusterClient, ...)
//   - opts: Optional configuration options
//
// Returns:
//   - *RedisStore: A new Redis store
//   - error: Error if client is nil
//
// Example:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	st, _ := store.NewRedisStore(client, store.WithRedisTTL(10*time.Minute))
func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("rewind: redis client is nil")
	}

	config := DefaultRedisConfig()
	for _, opt := range opts {
		opt(&config)
	}
	if config.ScanCount <= 0 {
		config.ScanCount = 100
	}

	return &RedisStore{
		client: client,
		config: config,
	}, nil
}

// Config returns the store configuration.
func (s *RedisStore) Config() RedisConfig {
	return s.config
}

// Append adds an event to the channel log in a single transaction that
// writes the ZSET entry and payload record and refreshes both TTLs.
func (s *RedisStore) Append(ctx context.Context, channel string, ev types.Event) error {
	if s.closed.Load() {
		return types.ErrStoreClosed
	}

	if ev.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return s.wrap("append", channel, err)
		}
		ev.ID = id.String()
	}
	ev.Channel = channel

	data, err := EncodeEvent(ev)
	if err != nil {
		return s.wrap("append", channel, err)
	}

	logKey, dataKey := s.logKey(channel), s.dataKey(channel)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, logKey, redis.Z{Score: float64(ev.Time), Member: ev.ID})
		pipe.HSet(ctx, dataKey, ev.ID, data)
		if s.config.TTL > 0 {
			pipe.PExpire(ctx, logKey, s.config.TTL)
			pipe.PExpire(ctx, dataKey, s.config.TTL)
		}

		return nil
	})
	if err != nil {
		return s.wrap("append", channel, err)
	}

	return nil
}

// Len returns the number of events in the channel log.
func (s *RedisStore) Len(ctx context.Context, channel string) (int, error) {
	if s.closed.Load() {
		return 0, types.ErrStoreClosed
	}

	n, err := s.client.ZCard(ctx, s.logKey(channel)).Result()
	if err != nil {
		return 0, s.wrap("len", channel, err)
	}

	return int(n), nil
}

// ElementAt returns the event at index, oldest-first.
func (s *RedisStore) ElementAt(ctx context.Context, channel string, index int) (types.Event, error) {
	if s.closed.Load() {
		return types.Event{}, types.ErrStoreClosed
	}
	if index < 0 {
		return types.Event{}, types.ErrEventNotFound
	}

	id, err := s.idAt(ctx, channel, index)
	if err != nil {
		return types.Event{}, err
	}

	data, err := s.client.HGet(ctx, s.dataKey(channel), id).Bytes()
	if errors.Is(err, redis.Nil) {
		return types.Event{}, types.ErrEventNotFound
	}
	if err != nil {
		return types.Event{}, s.wrap("element_at", channel, err)
	}

	ev, err := DecodeEvent(data)
	if err != nil {
		return types.Event{}, s.wrap("element_at", channel, err)
	}

	return ev, nil
}

// ElementsAfter range-queries the ZSET with an exclusive lower bound and
// bulk-fetches the payload records.
func (s *RedisStore) ElementsAfter(ctx context.Context, channel string, t int64) ([]types.Event, error) {
	if s.closed.Load() {
		return nil, types.ErrStoreClosed
	}

	ids, err := s.client.ZRangeByScore(ctx, s.logKey(channel), &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(t, 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, s.wrap("elements_after", channel, err)
	}
	if len(ids) == 0 {
		return []types.Event{}, nil
	}

	values, err := s.client.HMGet(ctx, s.dataKey(channel), ids...).Result()
	if err != nil {
		return nil, s.wrap("elements_after", channel, err)
	}

	events := make([]types.Event, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			// Payload record removed between the two reads.
			continue
		}

		ev, err := DecodeEvent([]byte(raw))
		if err != nil {
			return nil, s.wrap("elements_after", channel, err)
		}
		events = append(events, ev)
	}

	return events, nil
}

// RemoveElementAt deletes the event at index together with its payload record.
func (s *RedisStore) RemoveElementAt(ctx context.Context, channel string, index int) error {
	if s.closed.Load() {
		return types.ErrStoreClosed
	}
	if index < 0 {
		return nil
	}

	id, err := s.idAt(ctx, channel, index)
	if errors.Is(err, types.ErrEventNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	logKey, dataKey := s.logKey(channel), s.dataKey(channel)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, logKey, id)
		pipe.HDel(ctx, dataKey, id)

		return nil
	})
	if err != nil {
		return s.wrap("remove_element_at", channel, err)
	}

	return nil
}

// RemoveChannel deletes both keys of the channel.
func (s *RedisStore) RemoveChannel(ctx context.Context, channel string) error {
	if s.closed.Load() {
		return types.ErrStoreClosed
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.logKey(channel))
		pipe.Del(ctx, s.dataKey(channel))

		return nil
	})
	if err != nil {
		return s.wrap("remove_channel", channel, err)
	}

	return nil
}

// Channels lists channels by scanning the log keys. On Redis Cluster every
// master is scanned.
func (s *RedisStore) Channels(ctx context.Context) ([]string, error) {
	if s.closed.Load() {
		return nil, types.ErrStoreClosed
	}

	var (
		mu       sync.Mutex
		channels []string
	)
	collect := func(ctx context.Context, c redis.Cmdable) error {
		iter := c.Scan(ctx, 0, s.logKeyPattern(), s.config.ScanCount).Iterator()
		for iter.Next(ctx) {
			if ch, ok := s.channelFromLogKey(iter.Val()); ok {
				mu.Lock()
				channels = append(channels, ch)
				mu.Unlock()
			}
		}

		return iter.Err()
	}

	var err error
	if cc, ok := s.client.(*redis.ClusterClient); ok {
		err = cc.ForEachMaster(ctx, func(ctx context.Context, c *redis.Client) error {
			return collect(ctx, c)
		})
	} else {
		err = collect(ctx, s.client)
	}
	if err != nil {
		return nil, s.wrap("channels", "", err)
	}
	slices.Sort(channels)

	return channels, nil
}

// Close marks the store closed. The Redis client is left open.
func (s *RedisStore) Close() error {
	s.closed.Store(true)
	return nil
}

// idAt resolves the event id at a ZSET rank.
func (s *RedisStore) idAt(ctx context.Context, channel string, index int) (string, error) {
	ids, err := s.client.ZRange(ctx, s.logKey(channel), int64(index), int64(index)).Result()
	if err != nil {
		return "", s.wrap("element_at", channel, err)
	}
	if len(ids) == 0 {
		return "", types.ErrEventNotFound
	}

	return ids[0], nil
}

func (s *RedisStore) logKey(channel string) string {
	return s.config.KeyPrefix + ":log:{" + channel + "}"
}

func (s *RedisStore) dataKey(channel string) string {
	return s.config.KeyPrefix + ":data:{" + channel + "}"
}

func (s *RedisStore) logKeyPattern() string {
	return s.config.KeyPrefix + ":log:*"
}

func (s *RedisStore) channelFromLogKey(key string) (string, bool) {
	rest, ok := strings.CutPrefix(key, s.config.KeyPrefix+":log:{")
	if !ok {
		return "", false
	}

	return strings.CutSuffix(rest, "}")
}

func (s *RedisStore) wrap(op, channel string, err error) error {
	return &types.StoreError{Backend: redisBackend, Op: op, Channel: channel, Cause: err}
}

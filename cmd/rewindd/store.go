package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3" // registers the "sqlite3" driver
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/redis/go-redis/v9"

	"github.com/arloliu/rewind"
	"github.com/arloliu/rewind/internal/config"
	"github.com/arloliu/rewind/store"
)

// openStore builds the configured event store. The returned closer releases
// the store and the connection it was built on.
func openStore(ctx context.Context, cfg *config.Config) (rewind.EventStore, func() error, error) {
	ttl := cfg.Retention.InactivityTTL

	switch cfg.Store.Type {
	case config.StoreMemory:
		st := store.NewMemoryStore()
		return st, st.Close, nil

	case config.StoreRedis:
		rc := cfg.Store.Redis
		client := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    rc.Addrs,
			Username: rc.Username,
			Password: rc.Password,
			DB:       rc.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("redis ping failed: %w", err)
		}

		st, err := store.NewRedisStore(client,
			store.WithRedisKeyPrefix(rc.KeyPrefix),
			store.WithRedisTTL(ttl),
		)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}

		return st, func() error {
			return errors.Join(st.Close(), client.Close())
		}, nil

	case config.StoreNATS:
		nc := cfg.Store.NATS
		conn, err := nats.Connect(nc.URL, nats.Name("rewindd-store"))
		if err != nil {
			return nil, nil, err
		}

		js, err := jetstream.New(conn)
		if err != nil {
			conn.Close()
			return nil, nil, err
		}

		opts := []store.NATSStoreOption{
			store.WithBucket(nc.Bucket),
			store.WithNATSTTL(ttl),
			store.WithNATSReplicas(nc.Replicas),
		}
		if nc.MemoryStorage {
			opts = append(opts, store.WithMemoryStorage())
		}

		st, err := store.NewNATSStore(js, opts...)
		if err != nil {
			conn.Close()
			return nil, nil, err
		}

		return st, func() error {
			err := st.Close()
			conn.Close()

			return err
		}, nil

	case config.StoreSQLite:
		sc := cfg.Store.SQLite
		db, err := sql.Open("sqlite3", "file:"+sc.Path+"?_busy_timeout=5000&_journal_mode=WAL")
		if err != nil {
			return nil, nil, err
		}
		db.SetMaxOpenConns(1)

		st, err := store.NewSQLStore(ctx, db, store.WithTable(sc.Table))
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}

		return st, func() error {
			return errors.Join(st.Close(), db.Close())
		}, nil
	}

	return nil, nil, fmt.Errorf("unknown store type %q", cfg.Store.Type)
}

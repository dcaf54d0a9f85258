package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/rewind/internal/config"
	"github.com/arloliu/rewind/types"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := config.Default()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, types.DefaultRetentionPolicy(), cfg.RetentionPolicy())
	assert.Equal(t, config.StoreMemory, cfg.Store.Type)
	assert.Equal(t, "general", cfg.Retention.DefaultChannel)
}

func TestParse_OverridesDefaults(t *testing.T) {
	cfg, err := config.Parse([]byte(`
retention:
  mode: age
  max_age: 90s
  inactivity_ttl: 1h
  drain_on_append: true
  excluded_events: [typing]
store:
  type: redis
  redis:
    addrs: ["redis-1:6379", "redis-2:6379"]
    key_prefix: chat
log:
  level: debug
`))
	require.NoError(t, err)

	policy := cfg.RetentionPolicy()
	assert.Equal(t, types.RetentionAge, policy.Mode)
	assert.Equal(t, 90*time.Second, policy.MaxAge)
	assert.Equal(t, time.Hour, policy.InactivityTTL)
	assert.True(t, policy.DrainOnAppend)
	assert.Equal(t, 10*time.Minute, policy.SweepInterval, "unset keys keep defaults")
	assert.Equal(t, 500, policy.CountLimit)

	assert.Equal(t, []string{"redis-1:6379", "redis-2:6379"}, cfg.Store.Redis.Addrs)
	assert.Equal(t, "chat", cfg.Store.Redis.KeyPrefix)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Len(t, cfg.Options(), 5)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad yaml", "retention: ["},
		{"unknown store", "store: {type: cassandra}"},
		{"unknown mode", "retention: {mode: size}"},
		{"negative count", "retention: {count_limit: -1}"},
		{"redis without addrs", "store: {type: redis, redis: {addrs: []}}"},
		{"nats without url", `store: {type: nats, nats: {url: ""}}`},
		{"sqlite without path", `store: {type: sqlite, sqlite: {path: ""}}`},
		{"bad log format", "log: {format: xml}"},
		{"bad duration", "retention: {max_age: soon}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Parse([]byte(tt.yaml))
			require.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rewind.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  type: sqlite\n  sqlite:\n    path: /tmp/x.db\n"), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.StoreSQLite, cfg.Store.Type)
	assert.Equal(t, "/tmp/x.db", cfg.Store.SQLite.Path)
	assert.Equal(t, "rewind_events", cfg.Store.SQLite.Table)

	_, err = config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

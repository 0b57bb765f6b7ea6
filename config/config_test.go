package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "redis", cfg.Store.Driver)
	assert.Equal(t, 30*time.Second, cfg.Session.HeartbeatInterval)
	assert.Equal(t, 100*time.Millisecond, cfg.Session.DrainInterval)
	assert.Equal(t, 15*time.Minute, cfg.Session.MaxLifetime)
	assert.Equal(t, 5*time.Second, cfg.Presence.TypingTTL)
	assert.Equal(t, int64(100), cfg.History.Limit)
}

func TestLoadConfigFileAndFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := []byte(`
store:
  driver: memory
session:
  drain_interval: 50ms
log:
  level: debug
`)
	require.NoError(t, os.WriteFile(path, body, 0o600))

	cfg, err := LoadConfig(path, []string{"--http.addr=:9999"})
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, 50*time.Millisecond, cfg.Session.DrainInterval)
	assert.Equal(t, ":9999", cfg.HTTP.Addr)
	assert.Equal(t, slog.LevelDebug, cfg.Log.SlogLevel())
}

func TestLoadConfigEnv(t *testing.T) {
	t.Setenv("IM_FORUM_STORE_DRIVER", "memory")
	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Store.Driver)
}

func TestValidateMetadataTTLMustExceedHeartbeat(t *testing.T) {
	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)

	cfg.Registry.MetadataTTL = cfg.Session.HeartbeatInterval
	err = cfg.Validate()
	require.Error(t, err)
	assert.True(t, errors.IsNotValid(err))
}

func TestValidateUnknownDriver(t *testing.T) {
	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)

	cfg.Store.Driver = "etcd"
	assert.True(t, errors.IsNotValid(cfg.Validate()))
}

func TestSlogLevelFallback(t *testing.T) {
	assert.Equal(t, slog.LevelInfo, LogConfig{Level: "loud"}.SlogLevel())
	assert.Equal(t, slog.LevelWarn, LogConfig{Level: "warn"}.SlogLevel())
}

package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: "9090"
  collections: [duels]
store:
  backend: nats
  bucket_prefix: test
auth:
  secret: from-file
  token_ttl: 2h
history:
  poll_interval: 5s
`), 0o600))

	t.Setenv("AUTH_SECRET", "from-env")
	t.Setenv("ALLOWED_ORIGINS", "http://localhost:5173, https://duelpad.app")

	cfg, err := loadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, []string{"duels"}, cfg.Server.Collections)
	assert.Equal(t, []string{"http://localhost:5173", "https://duelpad.app"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "nats", cfg.Store.Backend)
	assert.Equal(t, "test", cfg.Store.BucketPrefix)
	assert.Equal(t, "from-env", cfg.Auth.Secret)
	assert.Equal(t, 2*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, 5*time.Second, cfg.History.PollInterval)
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "s")

	cfg, err := loadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, []string{"duels", "matchHistory"}, cfg.Server.Collections)
}

func TestLoadConfigValidation(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("AUTH_SECRET", "")

	_, err := loadConfig(filepath.Join(dir, "none.yaml"))
	assert.ErrorContains(t, err, "AUTH_SECRET")

	t.Setenv("AUTH_SECRET", "s")
	t.Setenv("STORE_BACKEND", "mongo")
	_, err = loadConfig(filepath.Join(dir, "none.yaml"))
	assert.ErrorContains(t, err, "unknown store backend")

	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("HISTORY_RELAY", "true")
	_, err = loadConfig(filepath.Join(dir, "none.yaml"))
	assert.ErrorContains(t, err, "database")
}

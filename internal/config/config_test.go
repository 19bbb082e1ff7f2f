package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, BackendMemory, cfg.StoreBackend)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, "storefront-events", cfg.KafkaTopic)
	assert.Equal(t, "8080", cfg.ServicePort)
	assert.Empty(t, cfg.Brokers())
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"storeBackend: redis\nredisAddr: cache:6379\nkafkaBrokers: kafka-1:9092,kafka-2:9092\n",
	), 0o600))
	t.Setenv("VAPORSHOP_CONFIG", path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, BackendRedis, cfg.StoreBackend)
	assert.Equal(t, "cache:6379", cfg.RedisAddr)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Brokers())
	// Defaults survive for keys the file omits.
	assert.Equal(t, "8080", cfg.ServicePort)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storeBackend: redis\n"), 0o600))
	t.Setenv("VAPORSHOP_CONFIG", path)
	t.Setenv("STORE_BACKEND", "mssql")
	t.Setenv("SERVICE_PORT", "9090")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, BackendMSSQL, cfg.StoreBackend)
	assert.Equal(t, "9090", cfg.ServicePort)
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	t.Setenv("STORE_BACKEND", "cassandra")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown store backend")
}

func TestLoadMissingConfigFile(t *testing.T) {
	t.Setenv("VAPORSHOP_CONFIG", filepath.Join(t.TempDir(), "absent.yaml"))

	_, err := Load()
	require.Error(t, err)
}

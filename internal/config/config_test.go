package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"FIELDSYNC_CONFIG", "CONFIG_PATH",
		"API_BASE_URL", "WS_URL", "DATA_DIR", "TECHNICIAN_ID", "LOG_LEVEL",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg := Load()

	assert.Equal(t, "http://localhost:8090/api", cfg.APIBaseURL)
	assert.Equal(t, "http://localhost:8090/api/health", cfg.HealthURL)
	assert.Equal(t, "ws://localhost:8090/api/live", cfg.WSURL)
	assert.Equal(t, "./data", cfg.DataDir)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 500, cfg.QueueMaxSize)
	assert.Equal(t, 5, cfg.QueueMaxAttempts)
	assert.Equal(t, 10*time.Second, cfg.PollInterval())
	assert.Equal(t, 30*time.Second, cfg.Heartbeat())
	assert.Equal(t, 15*time.Second, cfg.LocationInterval())
	assert.Equal(t, 2*time.Second, cfg.InitialBackoff())
	assert.Equal(t, 5*time.Minute, cfg.MaxBackoff())
	assert.Equal(t, 10, cfg.ReconnectMaxAttempts)
}

func TestLoadInlineJSON(t *testing.T) {
	clearEnv(t)
	t.Setenv("FIELDSYNC_CONFIG", `{
		"api_base_url": "https://api.fieldpulse.test",
		"technician_id": "tech-42",
		"queue_max_size": 100,
		"initial_backoff_sec": 1
	}`)

	cfg := Load()

	assert.Equal(t, "https://api.fieldpulse.test", cfg.APIBaseURL)
	assert.Equal(t, "https://api.fieldpulse.test/health", cfg.HealthURL)
	assert.Equal(t, "tech-42", cfg.TechnicianID)
	assert.Equal(t, 100, cfg.QueueMaxSize)
	assert.Equal(t, time.Second, cfg.InitialBackoff())
}

func TestLoadConfigFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "fieldsync.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"api_base_url": "https://file.fieldpulse.test",
		"ws_url": "wss://file.fieldpulse.test/live"
	}`), 0o644))
	t.Setenv("CONFIG_PATH", path)

	cfg := Load()

	assert.Equal(t, "https://file.fieldpulse.test", cfg.APIBaseURL)
	assert.Equal(t, "wss://file.fieldpulse.test/live", cfg.WSURL)
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "fieldsync.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"api_base_url": "https://file.fieldpulse.test"}`), 0o644))
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("API_BASE_URL", "https://env.fieldpulse.test")
	t.Setenv("TECHNICIAN_ID", "tech-7")
	t.Setenv("LOG_LEVEL", "debug")

	cfg := Load()

	assert.Equal(t, "https://env.fieldpulse.test", cfg.APIBaseURL)
	assert.Equal(t, "tech-7", cfg.TechnicianID)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadIgnoresGarbageJSON(t *testing.T) {
	clearEnv(t)
	t.Setenv("FIELDSYNC_CONFIG", `{not json`)

	cfg := Load()
	assert.Equal(t, "http://localhost:8090/api", cfg.APIBaseURL)
}

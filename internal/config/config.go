// Package config provides runtime configuration for the sync core.
package config

import (
	"encoding/json"
	"os"
	"strings"
	"time"
)

// Config holds all tunable settings.
type Config struct {
	APIBaseURL   string `json:"api_base_url"`
	HealthURL    string `json:"health_url"`
	WSURL        string `json:"ws_url"`
	DataDir      string `json:"data_dir"`
	TechnicianID string `json:"technician_id"`

	PollIntervalSec      int `json:"poll_interval_sec"`
	HeartbeatSec         int `json:"heartbeat_sec"`
	LocationIntervalSec  int `json:"location_interval_sec"`
	QueueMaxSize         int `json:"queue_max_size"`
	QueueMaxAttempts     int `json:"queue_max_attempts"`
	InitialBackoffSec    int `json:"initial_backoff_sec"`
	MaxBackoffSec        int `json:"max_backoff_sec"`
	ReconnectMaxAttempts int `json:"reconnect_max_attempts"`

	LogLevel string `json:"-"`
}

// Load reads configuration from the FIELDSYNC_CONFIG environment variable
// (inline JSON), then a config file (CONFIG_PATH or ./fieldsync.json),
// then applies defaults. Individual env vars override file values.
func Load() Config {
	cfg := Config{}

	if env := strings.TrimSpace(os.Getenv("FIELDSYNC_CONFIG")); env != "" {
		_ = json.Unmarshal([]byte(env), &cfg)
	}

	if cfg.APIBaseURL == "" {
		paths := []string{os.Getenv("CONFIG_PATH"), "fieldsync.json"}
		for _, p := range paths {
			if strings.TrimSpace(p) == "" {
				continue
			}
			if b, err := os.ReadFile(p); err == nil {
				_ = json.Unmarshal(b, &cfg)
				break
			}
		}
	}

	if v := strings.TrimSpace(os.Getenv("API_BASE_URL")); v != "" {
		cfg.APIBaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("WS_URL")); v != "" {
		cfg.WSURL = v
	}
	if v := strings.TrimSpace(os.Getenv("DATA_DIR")); v != "" {
		cfg.DataDir = v
	}
	if v := strings.TrimSpace(os.Getenv("TECHNICIAN_ID")); v != "" {
		cfg.TechnicianID = v
	}
	cfg.LogLevel = strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	applyDefaults(&cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "http://localhost:8090/api"
	}
	if cfg.HealthURL == "" {
		cfg.HealthURL = cfg.APIBaseURL + "/health"
	}
	if cfg.WSURL == "" {
		cfg.WSURL = "ws://localhost:8090/api/live"
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "./data"
	}
	if cfg.PollIntervalSec <= 0 {
		cfg.PollIntervalSec = 10
	}
	if cfg.HeartbeatSec <= 0 {
		cfg.HeartbeatSec = 30
	}
	if cfg.LocationIntervalSec <= 0 {
		cfg.LocationIntervalSec = 15
	}
	if cfg.QueueMaxSize <= 0 {
		cfg.QueueMaxSize = 500
	}
	if cfg.QueueMaxAttempts <= 0 {
		cfg.QueueMaxAttempts = 5
	}
	if cfg.InitialBackoffSec <= 0 {
		cfg.InitialBackoffSec = 2
	}
	if cfg.MaxBackoffSec <= 0 {
		cfg.MaxBackoffSec = 300
	}
	if cfg.ReconnectMaxAttempts <= 0 {
		cfg.ReconnectMaxAttempts = 10
	}
}

// PollInterval returns the reachability poll interval.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSec) * time.Second
}

// Heartbeat returns the live channel heartbeat interval.
func (c Config) Heartbeat() time.Duration {
	return time.Duration(c.HeartbeatSec) * time.Second
}

// LocationInterval returns the location sampling interval.
func (c Config) LocationInterval() time.Duration {
	return time.Duration(c.LocationIntervalSec) * time.Second
}

// InitialBackoff returns the first retry delay.
func (c Config) InitialBackoff() time.Duration {
	return time.Duration(c.InitialBackoffSec) * time.Second
}

// MaxBackoff returns the retry delay cap.
func (c Config) MaxBackoff() time.Duration {
	return time.Duration(c.MaxBackoffSec) * time.Second
}

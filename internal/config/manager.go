package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds the user's persistent client preferences.
type Config struct {
	ServiceURL          string `json:"service_url,omitempty"`           // Analysis service base URL
	UserID              int    `json:"user_id,omitempty"`               // Default requester id
	TimeFrequency       string `json:"time_frequency,omitempty"`        // Default analysis horizon (1D, 1W, 1M, ...)
	PollIntervalSeconds int    `json:"poll_interval_seconds,omitempty"` // Status poll spacing for the fallback driver
	PollingOnly         bool   `json:"polling_only"`                    // Skip streaming and poll from the start
}

// Defaults used when neither the config file nor the environment sets a
// value.
const (
	DefaultServiceURL   = "http://localhost:8000"
	DefaultUserID       = 1
	DefaultPollInterval = 3 * time.Second
)

// PollInterval returns the configured poll spacing, or the default.
func (c *Config) PollInterval() time.Duration {
	if c.PollIntervalSeconds <= 0 {
		return DefaultPollInterval
	}
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// ApplyEnv overlays environment variables on top of file values. The
// environment wins, so one-off overrides don't require editing the file.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("STOCKPULSE_SERVICE_URL"); v != "" {
		c.ServiceURL = v
	}
	if v := os.Getenv("STOCKPULSE_USER_ID"); v != "" {
		if id, err := strconv.Atoi(v); err == nil {
			c.UserID = id
		}
	}
	if v := os.Getenv("STOCKPULSE_TIME_FREQUENCY"); v != "" {
		c.TimeFrequency = v
	}
	if v := os.Getenv("STOCKPULSE_POLL_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.PollIntervalSeconds = n
		}
	}
}

// Manager handles loading and saving the configuration.
type Manager struct {
	configDir string
}

// NewManager creates a new configuration manager.
func NewManager() (*Manager, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get user config dir: %w", err)
	}

	return &Manager{
		configDir: filepath.Join(configDir, "stockpulse"),
	}, nil
}

// GetConfigPath returns the absolute path to the config.json file.
func (m *Manager) GetConfigPath() string {
	return filepath.Join(m.configDir, "config.json")
}

// Load reads the configuration from disk.
// If the file does not exist, it returns a Config with defaults and no error.
func (m *Manager) Load() (*Config, error) {
	cfg := &Config{
		ServiceURL:    DefaultServiceURL,
		UserID:        DefaultUserID,
		TimeFrequency: "1M",
	}

	path := m.GetConfigPath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config json: %w", err)
	}
	if cfg.ServiceURL == "" {
		cfg.ServiceURL = DefaultServiceURL
	}
	if cfg.UserID <= 0 {
		cfg.UserID = DefaultUserID
	}

	return cfg, nil
}

// Save writes the configuration to disk with restricted permissions (0600).
func (m *Manager) Save(cfg *Config) error {
	if err := os.MkdirAll(m.configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	path := m.GetConfigPath()
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Exists checks if the configuration file has been created.
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.GetConfigPath())
	return !os.IsNotExist(err)
}

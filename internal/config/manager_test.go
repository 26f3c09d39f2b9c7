package config

import (
	"testing"
	"time"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	m := &Manager{configDir: t.TempDir()}

	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ServiceURL != DefaultServiceURL {
		t.Errorf("service url = %q, want %q", cfg.ServiceURL, DefaultServiceURL)
	}
	if cfg.UserID != DefaultUserID {
		t.Errorf("user id = %d, want %d", cfg.UserID, DefaultUserID)
	}
	if cfg.PollInterval() != DefaultPollInterval {
		t.Errorf("poll interval = %v, want %v", cfg.PollInterval(), DefaultPollInterval)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	m := &Manager{configDir: t.TempDir()}

	want := &Config{
		ServiceURL:          "http://analysis.internal:9000",
		UserID:              42,
		TimeFrequency:       "1W",
		PollIntervalSeconds: 10,
		PollingOnly:         true,
	}
	if err := m.Save(want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !m.Exists() {
		t.Fatal("Exists() = false after Save")
	}

	got, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if *got != *want {
		t.Errorf("Load = %+v, want %+v", got, want)
	}
	if got.PollInterval() != 10*time.Second {
		t.Errorf("poll interval = %v, want 10s", got.PollInterval())
	}
}

func TestApplyEnvOverridesFileValues(t *testing.T) {
	t.Setenv("STOCKPULSE_SERVICE_URL", "http://override:8000")
	t.Setenv("STOCKPULSE_USER_ID", "7")
	t.Setenv("STOCKPULSE_POLL_INTERVAL", "5")

	cfg := &Config{ServiceURL: "http://file:8000", UserID: 1}
	cfg.ApplyEnv()

	if cfg.ServiceURL != "http://override:8000" {
		t.Errorf("service url = %q", cfg.ServiceURL)
	}
	if cfg.UserID != 7 {
		t.Errorf("user id = %d, want 7", cfg.UserID)
	}
	if cfg.PollInterval() != 5*time.Second {
		t.Errorf("poll interval = %v, want 5s", cfg.PollInterval())
	}
}

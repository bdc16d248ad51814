package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DBDsn == "" {
		t.Error("DBDsn should have a default")
	}
	if cfg.GoogleScopes == "" {
		t.Error("GoogleScopes should have a default")
	}
	if cfg.BroadcastAccountID != "default" {
		t.Errorf("BroadcastAccountID default = %q, want default", cfg.BroadcastAccountID)
	}
	if cfg.LaunchWindow != 5*time.Minute {
		t.Errorf("LaunchWindow = %v, want 5m", cfg.LaunchWindow)
	}
	if cfg.MaxSessionDuration != 60*time.Minute {
		t.Errorf("MaxSessionDuration = %v, want 60m", cfg.MaxSessionDuration)
	}
	if cfg.GracePeriod != 30*time.Minute {
		t.Errorf("GracePeriod = %v, want 30m", cfg.GracePeriod)
	}
	if cfg.WatcherMaxAttempts != 10 {
		t.Errorf("WatcherMaxAttempts = %d, want 10", cfg.WatcherMaxAttempts)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("MAX_SESSION_DURATION", "90m")
	t.Setenv("SESSION_GRACE_PERIOD", "10m")
	t.Setenv("RECORDING_MAX_ATTEMPTS", "3")
	t.Setenv("DB_DSN", "postgres://x:y@db:5432/z")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MaxSessionDuration != 90*time.Minute {
		t.Errorf("MaxSessionDuration = %v, want 90m", cfg.MaxSessionDuration)
	}
	if cfg.GracePeriod != 10*time.Minute {
		t.Errorf("GracePeriod = %v, want 10m", cfg.GracePeriod)
	}
	if cfg.WatcherMaxAttempts != 3 {
		t.Errorf("WatcherMaxAttempts = %d, want 3", cfg.WatcherMaxAttempts)
	}
	if cfg.DBDsn != "postgres://x:y@db:5432/z" {
		t.Errorf("DBDsn = %q", cfg.DBDsn)
	}
}

func TestLoadIgnoresInvalidDurations(t *testing.T) {
	t.Setenv("LAUNCH_WINDOW", "not-a-duration")
	t.Setenv("RECONCILE_INTERVAL", "-5m")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LaunchWindow != 5*time.Minute {
		t.Errorf("invalid LAUNCH_WINDOW should fall back to default, got %v", cfg.LaunchWindow)
	}
	if cfg.ReconcileInterval != time.Minute {
		t.Errorf("negative RECONCILE_INTERVAL should fall back to default, got %v", cfg.ReconcileInterval)
	}
}

func TestValidateBroadcastReady(t *testing.T) {
	cfg := &Config{}
	if err := cfg.ValidateBroadcastReady(); err == nil {
		t.Error("expected error with missing credentials")
	}
	cfg.GoogleClientID = "id"
	cfg.GoogleClientSecret = "secret"
	if err := cfg.ValidateBroadcastReady(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load with missing file: %v", err)
	}

	if cfg.Sync.FeedPollSeconds != 300 {
		t.Errorf("FeedPollSeconds = %d, want 300", cfg.Sync.FeedPollSeconds)
	}
	if cfg.Sync.MaxPostAgeSeconds != 86400 {
		t.Errorf("MaxPostAgeSeconds = %d, want 86400", cfg.Sync.MaxPostAgeSeconds)
	}
	if cfg.Sync.FailureThreshold != 3 {
		t.Errorf("FailureThreshold = %d, want 3", cfg.Sync.FailureThreshold)
	}
	if cfg.HTTP.MaxConnections != 100 || cfg.HTTP.MaxPerHost != 10 {
		t.Errorf("HTTP limits = %d/%d, want 100/10", cfg.HTTP.MaxConnections, cfg.HTTP.MaxPerHost)
	}
	if cfg.Sync.DefaultTimezone != "Europe/Berlin" {
		t.Errorf("DefaultTimezone = %q, want Europe/Berlin", cfg.Sync.DefaultTimezone)
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tausendsassa.toml")
	content := `
[database]
url = "postgres://u:p@db:5432/tsb"

[sync]
feed_poll_seconds = 60
failure_threshold = 5

[logging]
level = "debug"
format = "text"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Database.URL != "postgres://u:p@db:5432/tsb" {
		t.Errorf("Database.URL = %q", cfg.Database.URL)
	}
	if cfg.Sync.FeedPollSeconds != 60 {
		t.Errorf("FeedPollSeconds = %d, want 60", cfg.Sync.FeedPollSeconds)
	}
	if cfg.Sync.FailureThreshold != 5 {
		t.Errorf("FailureThreshold = %d, want 5", cfg.Sync.FailureThreshold)
	}
	// Untouched sections keep their defaults.
	if cfg.Sync.CalendarSyncSeconds != 3600 {
		t.Errorf("CalendarSyncSeconds = %d, want 3600", cfg.Sync.CalendarSyncSeconds)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("TSB_DATABASE_URL", "postgres://env@db/tsb")
	t.Setenv("TSB_SYNC_FAILURE_THRESHOLD", "7")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Database.URL != "postgres://env@db/tsb" {
		t.Errorf("Database.URL = %q, want env value", cfg.Database.URL)
	}
	if cfg.Sync.FailureThreshold != 7 {
		t.Errorf("FailureThreshold = %d, want 7", cfg.Sync.FailureThreshold)
	}
}

func TestLoad_InvalidTimezone(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tausendsassa.toml")
	if err := os.WriteFile(path, []byte("[sync]\ndefault_timezone = \"Mars/Olympus\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid timezone")
	}
}

func TestLoad_InvalidLogLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tausendsassa.toml")
	if err := os.WriteFile(path, []byte("[logging]\nlevel = \"verbose\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid log level")
	}
}

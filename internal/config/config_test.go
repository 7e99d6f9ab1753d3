package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "letterdesk.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	cfg, err := Load(writeConfig(t, "app:\n  base_url: https://news.example.com/\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.App.BaseURL != "https://news.example.com" {
		t.Errorf("Expected trailing slash trimmed, got %s", cfg.App.BaseURL)
	}
	if cfg.Links.ShortBaseURL != cfg.App.BaseURL {
		t.Errorf("Expected short base url to default to app base url, got %s", cfg.Links.ShortBaseURL)
	}
	if cfg.Distribution.BatchSize != 100 {
		t.Errorf("Expected batch size 100, got %d", cfg.Distribution.BatchSize)
	}
	if cfg.Distribution.MaxAttempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", cfg.Distribution.MaxAttempts)
	}
	if got := Duration(cfg.Distribution.BatchPause, 0); got != 600*time.Millisecond {
		t.Errorf("Expected 600ms batch pause, got %s", got)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Expected port 8080, got %d", cfg.Server.Port)
	}
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	Reset()
	t.Cleanup(Reset)
	t.Setenv("RESEND_API_KEY", "re_test")
	t.Setenv("AIRTABLE_PAT", "pat_test")
	t.Setenv("AIRTABLE_BASE_ID", "app123")
	t.Setenv("GOOGLE_AI_API_KEY", "gem_test")

	cfg, err := Load(writeConfig(t, "logging:\n  level: warn\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Resend.APIKey != "re_test" {
		t.Errorf("Expected resend key from env, got %q", cfg.Resend.APIKey)
	}
	if !cfg.Airtable.Enabled() {
		t.Error("Expected Airtable to be enabled")
	}
	if cfg.AI.Gemini.APIKey != "gem_test" {
		t.Errorf("Expected gemini key from fallback env var, got %q", cfg.AI.Gemini.APIKey)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Expected log level warn, got %s", cfg.Logging.Level)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"bad duration", "distribution:\n  batch_pause: soon\n", "invalid duration for distribution.batch_pause"},
		{"batch too large", "distribution:\n  batch_size: 500\n", "batch_size must be between 1 and 100"},
		{"unknown driver", "database:\n  driver: oracle\n", "Unknown database driver"},
		{"bad cron", "scheduler:\n  ingestion_schedule: every day\n", "Invalid scheduler.ingestion_schedule"},
		{"bad secrets key", "secrets:\n  key: short\n", "secrets.key"},
		{"password without secret", "auth:\n  admin_password_hash: $2a$10$abc\n", "Session secret is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			Reset()
			t.Cleanup(Reset)

			_, err := Load(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("Expected an error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestResendFrom(t *testing.T) {
	r := Resend{FromAddress: "news@example.com"}
	if r.From() != "news@example.com" {
		t.Errorf("Unexpected from: %s", r.From())
	}
	r.FromName = "Weekly"
	if r.From() != "Weekly <news@example.com>" {
		t.Errorf("Unexpected from: %s", r.From())
	}
}

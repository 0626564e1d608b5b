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
	path := filepath.Join(t.TempDir(), "formrules.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("Port = %s, want 8080", cfg.Server.Port)
	}
	if cfg.Server.ShutdownTimeout != 30*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 30s", cfg.Server.ShutdownTimeout)
	}
	if cfg.Server.MaxBodyBytes != 1<<20 {
		t.Errorf("MaxBodyBytes = %d, want 1 MiB", cfg.Server.MaxBodyBytes)
	}
	if cfg.Redis.Prefix != "formrules:session:" {
		t.Errorf("Redis.Prefix = %q", cfg.Redis.Prefix)
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q", cfg.Metrics.Path)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: "9090"
  request_timeout: 10s
database:
  url: postgres://localhost/forms
forms:
  strict_validation: true
  cache_ttl: 1m
logging:
  level: debug
metrics:
  enabled: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("Port = %s, want 9090", cfg.Server.Port)
	}
	if cfg.Server.RequestTimeout != 10*time.Second {
		t.Errorf("RequestTimeout = %v, want 10s", cfg.Server.RequestTimeout)
	}
	if cfg.Database.URL != "postgres://localhost/forms" {
		t.Errorf("Database.URL = %q", cfg.Database.URL)
	}
	if !cfg.Forms.StrictValidation {
		t.Error("StrictValidation should be true")
	}
	if cfg.Forms.CacheTTL != time.Minute {
		t.Errorf("CacheTTL = %v, want 1m", cfg.Forms.CacheTTL)
	}
	if !cfg.Metrics.Enabled {
		t.Error("Metrics should be enabled")
	}
	// Unset values still get defaults
	if cfg.Server.WriteTimeout != 15*time.Second {
		t.Errorf("WriteTimeout = %v, want 15s", cfg.Server.WriteTimeout)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  port: "9090"
database:
  url: postgres://file/forms
`)
	t.Setenv("PORT", "7070")
	t.Setenv("DATABASE_URL", "postgres://env/forms")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("FORMRULES_FORMS_STRICT_VALIDATION", "true")
	t.Setenv("FORMRULES_REDIS_SESSION_TTL", "2h")
	t.Setenv("FORMRULES_DATABASE_MAX_OPEN_CONNS", "not-a-number")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Server.Port != "7070" {
		t.Errorf("Port = %s, want 7070", cfg.Server.Port)
	}
	if cfg.Database.URL != "postgres://env/forms" {
		t.Errorf("Database.URL = %q", cfg.Database.URL)
	}
	if cfg.Redis.Addr != "localhost:6379" {
		t.Errorf("Redis.Addr = %q", cfg.Redis.Addr)
	}
	if !cfg.Forms.StrictValidation {
		t.Error("StrictValidation should be overridden to true")
	}
	if cfg.Redis.SessionTTL != 2*time.Hour {
		t.Errorf("SessionTTL = %v, want 2h", cfg.Redis.SessionTTL)
	}
	if cfg.Database.MaxOpenConns != 25 {
		t.Errorf("invalid override should be ignored, MaxOpenConns = %d", cfg.Database.MaxOpenConns)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"bad yaml", "server: [", "failed to parse"},
		{"bad port", "server:\n  port: \"http\"\n", "server.port"},
		{"bad level", "logging:\n  level: loud\n", "logging.level"},
		{"bad metrics path", "metrics:\n  path: metrics\n", "metrics.path"},
		{"negative body limit", "server:\n  max_body_bytes: -5\n", "server.max_body_bytes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q should mention %q", err, tt.want)
			}
		})
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file should be an error")
	}
}

func TestValidateReportsAllProblems(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	cfg.Server.Port = "0"
	cfg.Database.MaxOpenConns = -1
	cfg.Redis.DB = -2

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"server.port", "max_open_conns", "redis.db"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q should mention %q", err, want)
		}
	}
}

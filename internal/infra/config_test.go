package infra

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"escrow_go/internal/domain"
)

const sampleConfig = `
app:
  name: escrow-test
engine:
  inbox_size: 64
server:
  addr: ":9090"
idempotency:
  backend: redis
  redis_addr: "localhost:6379"
  ttl_sec: 60
display:
  decimals: 2
  unit: USD
`

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(sampleConfig))
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}

	if cfg.Engine.InboxSize != 64 {
		t.Errorf("Expected inbox 64, got %d", cfg.Engine.InboxSize)
	}
	if cfg.Display.Decimals != 2 || cfg.Display.Unit != "USD" {
		t.Errorf("unexpected display settings: %+v", cfg.Display)
	}
	// Absent keys keep their defaults
	if !cfg.Engine.VerifyInvariants {
		t.Error("Expected verify_invariants to default to true")
	}
	if cfg.Images.Size != 128 {
		t.Errorf("Expected default image size 128, got %d", cfg.Images.Size)
	}
}

func TestParseConfig_EnvOverride(t *testing.T) {
	t.Setenv("ESCROW_SERVER_ADDR", ":7070")
	t.Setenv("ESCROW_VERIFY_INVARIANTS", "false")

	cfg, err := ParseConfig([]byte(sampleConfig))
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}
	if cfg.Server.Addr != ":7070" {
		t.Errorf("Expected env addr :7070, got %s", cfg.Server.Addr)
	}
	if cfg.Engine.VerifyInvariants {
		t.Error("Expected env to disable invariant verification")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"inbox", func(c *Config) { c.Engine.InboxSize = 0 }, "engine.inbox_size"},
		{"backend", func(c *Config) { c.Idempotency.Backend = "etcd" }, "idempotency.backend"},
		{"redis addr", func(c *Config) { c.Idempotency.Backend = "redis" }, "idempotency.redis_addr"},
		{"decimals", func(c *Config) { c.Display.Decimals = 30 }, "display.decimals"},
		{"template scheme", func(c *Config) { c.Images.URLTemplate = "ftp://x/{item}.png" }, "images.url_template"},
		{"template placeholder", func(c *Config) { c.Images.URLTemplate = "https://x/a.png" }, "images.url_template"},
		{"tracing endpoint", func(c *Config) { c.Tracing.Enabled = true }, "tracing.endpoint"},
		{"tracing ratio", func(c *Config) { c.Tracing.Enabled, c.Tracing.Endpoint, c.Tracing.SampleRatio = true, "otel:4317", 2 }, "tracing.sample_ratio"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			var cfgErr *domain.ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("Expected ConfigError, got %v", err)
			}
			if cfgErr.Field != tt.field {
				t.Errorf("Expected field %s, got %s", tt.field, cfgErr.Field)
			}
			if domain.IsRetriable(err) {
				t.Error("ConfigError should not be retriable")
			}
		})
	}

	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
}

func TestLoadConfig_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(sampleConfig), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.App.Name != "escrow-test" {
		t.Errorf("Expected app name escrow-test, got %s", cfg.App.Name)
	}

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("debug") != slog.LevelDebug || ParseLevel("bogus") != slog.LevelInfo {
		t.Error("unexpected level mapping")
	}
}

func TestInitTracing_Disabled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	shutdown, err := InitTracing(ctx, DefaultConfig())
	if err != nil {
		t.Fatalf("InitTracing failed: %v", err)
	}
	if err := shutdown(ctx); err != nil {
		t.Errorf("shutdown failed: %v", err)
	}
}

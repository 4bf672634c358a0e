package infra

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"escrow_go/internal/domain"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultUserAgent is sent with outbound asset requests
	DefaultUserAgent = "escrow-go/1.0 (+thumbnail-fetcher)"
)

// Config는 애플리케이션의 모든 설정을 담습니다.
// LoadConfig로 로드된 후에 환경 변수를 통해 민감 내용을 덮어씁니다.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Engine struct {
		InboxSize        int    `yaml:"inbox_size"`
		VerifyInvariants bool   `yaml:"verify_invariants"`
		DumpPath         string `yaml:"dump_path"`
	} `yaml:"engine"`

	Storage struct {
		Path string `yaml:"path"` // Empty: per-user config dir
	} `yaml:"storage"`

	Server struct {
		Addr            string `yaml:"addr"`
		ShutdownTimeout int    `yaml:"shutdown_timeout_sec"`
	} `yaml:"server"`

	Idempotency struct {
		Backend   string `yaml:"backend"` // "memory" | "redis" | "none"
		RedisAddr string `yaml:"redis_addr"`
		TTLSec    int    `yaml:"ttl_sec"`
	} `yaml:"idempotency"`

	Display struct {
		Decimals int32  `yaml:"decimals"`
		Unit     string `yaml:"unit"`
	} `yaml:"display"`

	Images struct {
		URLTemplate string `yaml:"url_template"` // "{item}" is replaced by the item id
		Dir         string `yaml:"dir"`
		Size        int    `yaml:"size"`
		Concurrency int    `yaml:"concurrency"`
	} `yaml:"images"`

	Logging struct {
		Level string `yaml:"level"`
		Dir   string `yaml:"dir"`
	} `yaml:"logging"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		Endpoint    string  `yaml:"endpoint"` // OTLP/gRPC collector, host:port
		SampleRatio float64 `yaml:"sample_ratio"`
	} `yaml:"tracing"`
}

// DefaultConfig returns the settings used when a key is absent from the file.
func DefaultConfig() *Config {
	var cfg Config
	cfg.App.Name = "escrow-go"
	cfg.Engine.InboxSize = 1024
	cfg.Engine.VerifyInvariants = true
	cfg.Engine.DumpPath = "panic_dump.json"
	cfg.Server.Addr = ":8080"
	cfg.Server.ShutdownTimeout = 10
	cfg.Idempotency.Backend = "memory"
	cfg.Idempotency.TTLSec = 86400
	cfg.Display.Unit = "KRW"
	cfg.Images.Dir = "assets/thumbnails"
	cfg.Images.Size = 128
	cfg.Images.Concurrency = 5
	cfg.Logging.Level = "info"
	cfg.Logging.Dir = "logs"
	cfg.Tracing.SampleRatio = 1.0
	return &cfg
}

// LoadConfig는 설정 파일을 읽고 파싱합니다.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML over the defaults, applies env overrides and validates.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	// 환경 변수 오버라이드 지원
	overrideWithEnv(cfg)

	// 설정 유효성 검사
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if c.Engine.InboxSize <= 0 {
		return &domain.ConfigError{Field: "engine.inbox_size", Err: errors.New("must be positive")}
	}
	if c.Server.Addr == "" {
		return &domain.ConfigError{Field: "server.addr", Err: errors.New("required")}
	}

	switch c.Idempotency.Backend {
	case "memory", "none":
	case "redis":
		if c.Idempotency.RedisAddr == "" {
			return &domain.ConfigError{Field: "idempotency.redis_addr", Err: errors.New("required for redis backend")}
		}
	default:
		return &domain.ConfigError{Field: "idempotency.backend", Err: fmt.Errorf("unknown backend %q", c.Idempotency.Backend)}
	}
	if c.Idempotency.Backend != "none" && c.Idempotency.TTLSec <= 0 {
		return &domain.ConfigError{Field: "idempotency.ttl_sec", Err: errors.New("must be positive")}
	}

	if c.Display.Decimals < 0 || c.Display.Decimals > 18 {
		return &domain.ConfigError{Field: "display.decimals", Err: errors.New("must be between 0 and 18")}
	}

	if c.Images.URLTemplate != "" {
		if !hasPrefix(c.Images.URLTemplate, "http://") && !hasPrefix(c.Images.URLTemplate, "https://") {
			return &domain.ConfigError{Field: "images.url_template", Err: errors.New("must be an http(s) URL")}
		}
		if !strings.Contains(c.Images.URLTemplate, "{item}") {
			return &domain.ConfigError{Field: "images.url_template", Err: errors.New("must contain {item}")}
		}
		if c.Images.Size <= 0 || c.Images.Concurrency <= 0 {
			return &domain.ConfigError{Field: "images", Err: errors.New("size and concurrency must be positive")}
		}
	}

	if c.Tracing.Enabled {
		if c.Tracing.Endpoint == "" {
			return &domain.ConfigError{Field: "tracing.endpoint", Err: errors.New("required when tracing is enabled")}
		}
		if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
			return &domain.ConfigError{Field: "tracing.sample_ratio", Err: errors.New("must be between 0 and 1")}
		}
	}

	return nil
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[0:len(prefix)] == prefix
}

// overrideWithEnv는 환경 변수가 존재할 경우 설정 값을 덮어씁니다.
func overrideWithEnv(cfg *Config) {
	if addr := os.Getenv("ESCROW_SERVER_ADDR"); addr != "" {
		cfg.Server.Addr = addr
	}
	if path := os.Getenv("ESCROW_STORAGE_PATH"); path != "" {
		cfg.Storage.Path = path
	}
	if backend := os.Getenv("ESCROW_IDEMPOTENCY_BACKEND"); backend != "" {
		cfg.Idempotency.Backend = backend
	}
	if addr := os.Getenv("ESCROW_REDIS_ADDR"); addr != "" {
		cfg.Idempotency.RedisAddr = addr
	}
	if level := os.Getenv("ESCROW_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if endpoint := os.Getenv("ESCROW_OTEL_ENDPOINT"); endpoint != "" {
		cfg.Tracing.Enabled = true
		cfg.Tracing.Endpoint = endpoint
	}
	if v := os.Getenv("ESCROW_VERIFY_INVARIANTS"); v != "" {
		if on, err := strconv.ParseBool(v); err == nil {
			cfg.Engine.VerifyInvariants = on
		}
	}
}

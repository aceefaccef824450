package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Server.Port != "8080" {
		t.Errorf("expected port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Flow.TerminateThreshold != 5*time.Minute {
		t.Errorf("expected terminate threshold 5m, got %v", cfg.Flow.TerminateThreshold)
	}
	if cfg.Flow.Store != "postgres" {
		t.Errorf("expected postgres store, got %s", cfg.Flow.Store)
	}
	if cfg.Breaker.Timeout != 30*time.Second {
		t.Errorf("expected breaker timeout 30s, got %v", cfg.Breaker.Timeout)
	}
}

func TestLoadYAMLOverride(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "test.yaml")

	content := `
server:
  port: "9090"
flow:
  terminate_threshold: 90s
  complex_max_steps: 6
target:
  dsn: "postgres://ro@replica:5432/app"
logging:
  level: "debug"
`
	if err := os.WriteFile(yamlPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Defaults()
	if err := loadYAML(&cfg, yamlPath); err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Flow.TerminateThreshold != 90*time.Second {
		t.Errorf("expected 90s threshold, got %v", cfg.Flow.TerminateThreshold)
	}
	if cfg.Flow.ComplexMaxSteps != 6 {
		t.Errorf("expected 6 steps, got %d", cfg.Flow.ComplexMaxSteps)
	}
	if cfg.Target.DSN != "postgres://ro@replica:5432/app" {
		t.Errorf("unexpected target dsn %s", cfg.Target.DSN)
	}
	// Unchanged fields keep defaults
	if cfg.Flow.MaxConcurrent != 8 {
		t.Errorf("expected default max_concurrent, got %d", cfg.Flow.MaxConcurrent)
	}
}

func TestLoadYAMLMissing(t *testing.T) {
	cfg := Defaults()
	if err := loadYAML(&cfg, "/nonexistent/path.yaml"); err != nil {
		t.Errorf("missing YAML should not error, got %v", err)
	}
}

func TestLoadYAMLInvalid(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(yamlPath, []byte("server: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := Defaults()
	if err := loadYAML(&cfg, yamlPath); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestEnvOverride(t *testing.T) {
	cfg := Defaults()

	t.Setenv("QUERYWARDEN_PORT", "7070")
	t.Setenv("DATABASE_URL", "postgres://test:test@db:5432/test")
	t.Setenv("TARGET_DATABASE_URL", "postgres://ops@prod:5432/app")
	t.Setenv("QUERYWARDEN_TERMINATE_THRESHOLD", "2m")
	t.Setenv("QUERYWARDEN_FLOW_MAX_CONCURRENT", "3")
	t.Setenv("QUERYWARDEN_LOG_LEVEL", "warn")
	t.Setenv("QUERYWARDEN_LOG_ASYNC", "true")
	t.Setenv("QUERYWARDEN_FLOW_MAX_CONCURRENT_BAD", "ignored")
	t.Setenv("QUERYWARDEN_SUBMIT_RATE", "0.5")

	loadEnv(&cfg)

	if cfg.Server.Port != "7070" {
		t.Errorf("expected port 7070, got %s", cfg.Server.Port)
	}
	if cfg.Postgres.DSN != "postgres://test:test@db:5432/test" {
		t.Errorf("expected test DSN, got %s", cfg.Postgres.DSN)
	}
	if cfg.Target.DSN != "postgres://ops@prod:5432/app" {
		t.Errorf("expected target DSN, got %s", cfg.Target.DSN)
	}
	if cfg.Flow.TerminateThreshold != 2*time.Minute {
		t.Errorf("expected 2m threshold, got %v", cfg.Flow.TerminateThreshold)
	}
	if cfg.Flow.MaxConcurrent != 3 {
		t.Errorf("expected max_concurrent 3, got %d", cfg.Flow.MaxConcurrent)
	}
	if cfg.Server.SubmitRate != 0.5 {
		t.Errorf("expected submit rate 0.5, got %v", cfg.Server.SubmitRate)
	}
	if cfg.Logging.Level != "warn" || !cfg.Logging.Async {
		t.Errorf("unexpected logging config %+v", cfg.Logging)
	}
}

func TestEnvInvalidNumberIgnored(t *testing.T) {
	cfg := Defaults()
	t.Setenv("QUERYWARDEN_COMPLEX_MAX_STEPS", "many")
	loadEnv(&cfg)
	if cfg.Flow.ComplexMaxSteps != 4 {
		t.Errorf("invalid env value must be ignored, got %d", cfg.Flow.ComplexMaxSteps)
	}
}

func TestInheritTarget(t *testing.T) {
	cfg := Defaults()
	inheritTarget(&cfg)
	if cfg.Target.DSN != cfg.Postgres.DSN {
		t.Errorf("target should default to store DSN, got %q", cfg.Target.DSN)
	}

	cfg.Target.DSN = "postgres://elsewhere"
	inheritTarget(&cfg)
	if cfg.Target.DSN != "postgres://elsewhere" {
		t.Errorf("explicit target DSN must be kept, got %q", cfg.Target.DSN)
	}
}

func TestValidateRequired(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		errMsg string
	}{
		{
			name:   "empty port",
			modify: func(c *Config) { c.Server.Port = "" },
			errMsg: "server.port is required",
		},
		{
			name:   "unknown store",
			modify: func(c *Config) { c.Flow.Store = "redis" },
			errMsg: "flow.store must be postgres or memory",
		},
		{
			name:   "empty DSN with postgres store",
			modify: func(c *Config) { c.Postgres.DSN = "" },
			errMsg: "postgres.dsn is required",
		},
		{
			name:   "empty target DSN",
			modify: func(c *Config) { c.Target.DSN = "" },
			errMsg: "target.dsn is required",
		},
		{
			name:   "zero concurrency",
			modify: func(c *Config) { c.Flow.MaxConcurrent = 0 },
			errMsg: "flow.max_concurrent must be >= 1",
		},
		{
			name:   "zero threshold",
			modify: func(c *Config) { c.Flow.TerminateThreshold = 0 },
			errMsg: "flow.terminate_threshold must be > 0",
		},
		{
			name:   "zero steps",
			modify: func(c *Config) { c.Flow.ComplexMaxSteps = 0 },
			errMsg: "flow.complex_max_steps must be >= 1",
		},
		{
			name:   "negative submit rate",
			modify: func(c *Config) { c.Server.SubmitRate = -1 },
			errMsg: "server.submit_rate must be >= 0",
		},
		{
			name:   "rate without burst",
			modify: func(c *Config) { c.Server.SubmitRate = 2; c.Server.SubmitBurst = 0 },
			errMsg: "server.submit_burst must be >= 1",
		},
		{
			name:   "zero breaker failures",
			modify: func(c *Config) { c.Breaker.MaxFailures = 0 },
			errMsg: "breaker.max_failures must be >= 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			inheritTarget(&cfg)
			tt.modify(&cfg)
			err := validate(&cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("expected error containing %q, got %q", tt.errMsg, err.Error())
			}
		})
	}
}

func TestValidateMemoryStoreWithoutDSN(t *testing.T) {
	cfg := Defaults()
	cfg.Flow.Store = "memory"
	cfg.Postgres.DSN = ""
	cfg.Target.DSN = "postgres://target"
	if err := validate(&cfg); err != nil {
		t.Fatalf("memory store should not need postgres.dsn: %v", err)
	}
}

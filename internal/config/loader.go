package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "querywarden.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error. QUERYWARDEN_CONFIG
// overrides the file path.
func Load() (*Config, error) {
	path := DefaultConfigFile
	if p := os.Getenv("QUERYWARDEN_CONFIG"); p != "" {
		path = p
	}
	return LoadFrom(path)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)
	inheritTarget(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: operator-supplied config path
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "QUERYWARDEN_PORT")
	setString(&cfg.Server.CORSOrigin, "QUERYWARDEN_CORS_ORIGIN")
	setInt64(&cfg.Server.MaxRequestBodySize, "QUERYWARDEN_MAX_BODY_SIZE")
	setFloat64(&cfg.Server.SubmitRate, "QUERYWARDEN_SUBMIT_RATE")
	setInt(&cfg.Server.SubmitBurst, "QUERYWARDEN_SUBMIT_BURST")

	// Flow store database
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "QUERYWARDEN_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "QUERYWARDEN_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "QUERYWARDEN_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "QUERYWARDEN_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "QUERYWARDEN_PG_HEALTH_CHECK")

	// Monitored database
	setString(&cfg.Target.DSN, "TARGET_DATABASE_URL")
	setInt32(&cfg.Target.MaxConns, "QUERYWARDEN_TARGET_MAX_CONNS")

	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.RouteBucket, "QUERYWARDEN_NATS_ROUTE_BUCKET")
	setDuration(&cfg.NATS.RouteTTL, "QUERYWARDEN_NATS_ROUTE_TTL")

	setString(&cfg.LiteLLM.URL, "LITELLM_URL")
	setString(&cfg.LiteLLM.MasterKey, "LITELLM_MASTER_KEY")
	setString(&cfg.LiteLLM.Model, "QUERYWARDEN_LLM_MODEL")
	setDuration(&cfg.LiteLLM.Timeout, "QUERYWARDEN_LLM_TIMEOUT")

	setString(&cfg.Logging.Level, "QUERYWARDEN_LOG_LEVEL")
	setString(&cfg.Logging.Service, "QUERYWARDEN_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "QUERYWARDEN_LOG_ASYNC")

	setInt(&cfg.Breaker.MaxFailures, "QUERYWARDEN_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "QUERYWARDEN_BREAKER_TIMEOUT")

	// Flow
	setString(&cfg.Flow.Store, "QUERYWARDEN_FLOW_STORE")
	setInt64(&cfg.Flow.MaxConcurrent, "QUERYWARDEN_FLOW_MAX_CONCURRENT")
	setDuration(&cfg.Flow.TerminateThreshold, "QUERYWARDEN_TERMINATE_THRESHOLD")
	setInt(&cfg.Flow.ComplexMaxSteps, "QUERYWARDEN_COMPLEX_MAX_STEPS")
	setDuration(&cfg.Flow.StepTimeout, "QUERYWARDEN_STEP_TIMEOUT")
	setBool(&cfg.Flow.RecoverOnStart, "QUERYWARDEN_RECOVER_ON_START")

	// Cache
	setInt64(&cfg.Cache.L1MaxSizeMB, "QUERYWARDEN_CACHE_L1_SIZE_MB")
	setDuration(&cfg.Cache.RouteTTL, "QUERYWARDEN_CACHE_ROUTE_TTL")

	// OpenTelemetry
	setString(&cfg.OTEL.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setBool(&cfg.OTEL.Insecure, "QUERYWARDEN_OTEL_INSECURE")
	setString(&cfg.OTEL.ServiceName, "OTEL_SERVICE_NAME")
}

// inheritTarget makes the monitored database default to the store database.
func inheritTarget(cfg *Config) {
	if cfg.Target.DSN == "" {
		cfg.Target.DSN = cfg.Postgres.DSN
	}
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Server.SubmitRate < 0 {
		return errors.New("server.submit_rate must be >= 0")
	}
	if cfg.Server.SubmitRate > 0 && cfg.Server.SubmitBurst < 1 {
		return errors.New("server.submit_burst must be >= 1 when submit_rate is set")
	}
	if cfg.Flow.Store != "postgres" && cfg.Flow.Store != "memory" {
		return fmt.Errorf("flow.store must be postgres or memory, got %q", cfg.Flow.Store)
	}
	if cfg.Flow.Store == "postgres" && cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.Target.DSN == "" {
		return errors.New("target.dsn is required")
	}
	if cfg.Postgres.MaxConns < 1 || cfg.Target.MaxConns < 1 {
		return errors.New("postgres.max_conns and target.max_conns must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Flow.MaxConcurrent < 1 {
		return errors.New("flow.max_concurrent must be >= 1")
	}
	if cfg.Flow.TerminateThreshold <= 0 {
		return errors.New("flow.terminate_threshold must be > 0")
	}
	if cfg.Flow.ComplexMaxSteps < 1 {
		return errors.New("flow.complex_max_steps must be >= 1")
	}
	if cfg.LiteLLM.Model == "" {
		return errors.New("litellm.model is required")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

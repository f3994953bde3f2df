package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{
		"PORT", "DATABASE_DRIVER", "REDIS_ADDR", "REDIS_DB", "REDIS_TIMEOUT", "STORE_TIMEOUT",
		"SESSION_ACCESS_TTL", "SESSION_REFRESH_TTL", "REGISTRY_TOKEN_TTL", "TOKEN_ISSUER",
		"METRICS_ENABLED", "OTEL_ENABLED", "OTEL_SAMPLING_RATE", "LOG_LEVEL",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()

	if cfg.Port != "8080" {
		t.Errorf("want port 8080, got %s", cfg.Port)
	}
	if cfg.DatabaseDriver != "mysql" {
		t.Errorf("want mysql driver, got %s", cfg.DatabaseDriver)
	}
	if cfg.RedisAddr != "localhost:6379" || cfg.RedisDB != 0 || cfg.RedisTimeout != 3*time.Second {
		t.Errorf("unexpected redis config: %+v", cfg)
	}
	if cfg.StoreTimeout != 5*time.Second {
		t.Errorf("want store timeout 5s, got %v", cfg.StoreTimeout)
	}
	if cfg.SessionAccessTTL != 12*time.Hour || cfg.SessionRefreshTTL != 168*time.Hour || cfg.RegistryTokenTTL != 48*time.Hour {
		t.Errorf("unexpected ttls: %v %v %v", cfg.SessionAccessTTL, cfg.SessionRefreshTTL, cfg.RegistryTokenTTL)
	}
	if cfg.TokenIssuer != "Noelware/charted" {
		t.Errorf("want default issuer, got %s", cfg.TokenIssuer)
	}
	if !cfg.MetricsEnabled || cfg.OtelEnabled {
		t.Errorf("unexpected feature flags: metrics=%v otel=%v", cfg.MetricsEnabled, cfg.OtelEnabled)
	}
	if cfg.OtelSamplingRate != 1.0 {
		t.Errorf("want sampling rate 1.0, got %v", cfg.OtelSamplingRate)
	}
	if cfg.SlogLevel() != slog.LevelInfo {
		t.Errorf("want info level, got %v", cfg.SlogLevel())
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("SESSION_ACCESS_TTL", "30m")
	t.Setenv("METRICS_ENABLED", "false")
	t.Setenv("OTEL_SAMPLING_RATE", "0.25")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg := Load()

	if cfg.DatabaseDriver != "sqlite" {
		t.Errorf("want sqlite, got %s", cfg.DatabaseDriver)
	}
	if cfg.RedisDB != 2 {
		t.Errorf("want redis db 2, got %d", cfg.RedisDB)
	}
	if cfg.SessionAccessTTL != 30*time.Minute {
		t.Errorf("want 30m, got %v", cfg.SessionAccessTTL)
	}
	if cfg.MetricsEnabled {
		t.Error("want metrics disabled")
	}
	if cfg.OtelSamplingRate != 0.25 {
		t.Errorf("want 0.25, got %v", cfg.OtelSamplingRate)
	}
	if cfg.SlogLevel() != slog.LevelDebug {
		t.Errorf("want debug level, got %v", cfg.SlogLevel())
	}
}

func TestLoad_InvalidFallsBack(t *testing.T) {
	t.Setenv("REDIS_DB", "two")
	t.Setenv("REGISTRY_TOKEN_TTL", "soon")
	t.Setenv("STORE_TIMEOUT", "-1s")
	t.Setenv("METRICS_ENABLED", "maybe")
	t.Setenv("OTEL_SAMPLING_RATE", "3")

	cfg := Load()

	if cfg.RedisDB != 0 {
		t.Errorf("want fallback redis db 0, got %d", cfg.RedisDB)
	}
	if cfg.RegistryTokenTTL != 48*time.Hour {
		t.Errorf("want fallback 48h, got %v", cfg.RegistryTokenTTL)
	}
	if cfg.StoreTimeout != 5*time.Second {
		t.Errorf("want fallback 5s, got %v", cfg.StoreTimeout)
	}
	if !cfg.MetricsEnabled {
		t.Error("want fallback metrics enabled")
	}
	if cfg.OtelSamplingRate != 1.0 {
		t.Errorf("want fallback 1.0, got %v", cfg.OtelSamplingRate)
	}
}

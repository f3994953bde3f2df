// Package config はアプリケーション設定の読み込みを提供する。
package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"
)

// Config はアプリケーション設定を表す。
type Config struct {
	Port string

	DatabaseDriver string
	DatabaseURL    string
	MigrationsDir  string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTimeout  time.Duration
	StoreTimeout  time.Duration

	JWTSecret           string
	JWTSecretCiphertext string
	KMSKeyName          string
	TokenIssuer         string

	SessionAccessTTL  time.Duration
	SessionRefreshTTL time.Duration
	RegistryTokenTTL  time.Duration

	GoogleCloudProject string
	LogLevel           string
	MetricsEnabled     bool

	OtelEnabled      bool
	OtelEndpoint     string
	OtelInsecure     bool
	OtelServiceName  string
	OtelSamplingRate float64
}

// Load は環境変数から設定を読み込む。不正な値は既定値に置き換えて警告を出す。
func Load() *Config {
	return &Config{
		Port: getEnv("PORT", "8080"),

		DatabaseDriver: getEnv("DATABASE_DRIVER", "mysql"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		MigrationsDir:  os.Getenv("MIGRATIONS_DIR"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		RedisTimeout:  getEnvDuration("REDIS_TIMEOUT", 3*time.Second),
		StoreTimeout:  getEnvDuration("STORE_TIMEOUT", 5*time.Second),

		JWTSecret:           os.Getenv("JWT_SECRET"),
		JWTSecretCiphertext: os.Getenv("JWT_SECRET_CIPHERTEXT"),
		KMSKeyName:          os.Getenv("KMS_KEY_NAME"),
		TokenIssuer:         getEnv("TOKEN_ISSUER", "Noelware/charted"),

		SessionAccessTTL:  getEnvDuration("SESSION_ACCESS_TTL", 12*time.Hour),
		SessionRefreshTTL: getEnvDuration("SESSION_REFRESH_TTL", 7*24*time.Hour),
		RegistryTokenTTL:  getEnvDuration("REGISTRY_TOKEN_TTL", 2*24*time.Hour),

		GoogleCloudProject: os.Getenv("GOOGLE_CLOUD_PROJECT"),
		LogLevel:           getEnv("LOG_LEVEL", "INFO"),
		MetricsEnabled:     getEnvBool("METRICS_ENABLED", true),

		OtelEnabled:      getEnvBool("OTEL_ENABLED", false),
		OtelEndpoint:     getEnv("OTEL_ENDPOINT", "localhost:4317"),
		OtelInsecure:     getEnvBool("OTEL_INSECURE", false),
		OtelServiceName:  getEnv("OTEL_SERVICE_NAME", "charted-server"),
		OtelSamplingRate: getEnvFloat("OTEL_SAMPLING_RATE", 1.0),
	}
}

// SlogLevel はLOG_LEVELに対応するslogのレベルを返す。
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		slog.Warn("invalid integer in environment, using default", "key", key, "value", val, "default", defaultVal)
		return defaultVal
	}
	return n
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil || d <= 0 {
		slog.Warn("invalid duration in environment, using default", "key", key, "value", val, "default", defaultVal.String())
		return defaultVal
	}
	return d
}

func getEnvBool(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		slog.Warn("invalid boolean in environment, using default", "key", key, "value", val, "default", defaultVal)
		return defaultVal
	}
	return b
}

func getEnvFloat(key string, defaultVal float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil || f < 0 || f > 1 {
		slog.Warn("invalid sampling rate in environment, using default", "key", key, "value", val, "default", defaultVal)
		return defaultVal
	}
	return f
}

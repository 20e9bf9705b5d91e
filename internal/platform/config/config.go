package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures everything the server needs from the environment.
type Config struct {
	Addr        string
	DatabaseURL string
	Redis       RedisConfig
	Kafka       KafkaConfig

	// BaseURL is the externally reachable portal URL; verification links
	// continue back to it after the identity provider confirms possession.
	BaseURL string

	// LinkSigningKey signs single-use verification-link tokens minted by the
	// bundled local identity provider.
	LinkSigningKey string

	Verification VerificationConfig
	Throttle     ThrottleConfig
}

// RedisConfig holds connection settings for the request throttle store.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig holds audit publisher settings. Empty Brokers means audit
// events go to the structured log instead.
type KafkaConfig struct {
	Brokers []string
}

// VerificationConfig carries the challenge policy knobs. Defaults implement
// the documented policy; env overrides exist for load tests only.
type VerificationConfig struct {
	OTPTTL            time.Duration
	LinkTTL           time.Duration
	MaxAttempts       int
	MaxResends        int
	MinResendInterval time.Duration
}

// ThrottleConfig bounds inbound verification requests per client IP.
type ThrottleConfig struct {
	Limit  int
	Window time.Duration
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() Config {
	cfg := Config{
		Addr:           envOr("CIVICA_ADDR", ":8080"),
		DatabaseURL:    os.Getenv("CIVICA_DATABASE_URL"),
		BaseURL:        envOr("CIVICA_BASE_URL", "http://localhost:8080"),
		LinkSigningKey: envOr("CIVICA_LINK_SIGNING_KEY", "dev-secret-key-change-in-production"),
		Redis: RedisConfig{
			URL:          os.Getenv("CIVICA_REDIS_URL"),
			PoolSize:     envIntOr("CIVICA_REDIS_POOL_SIZE", 10),
			MinIdleConns: envIntOr("CIVICA_REDIS_MIN_IDLE", 2),
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Verification: VerificationConfig{
			OTPTTL:            5 * time.Minute,
			LinkTTL:           10 * time.Minute,
			MaxAttempts:       3,
			MaxResends:        5,
			MinResendInterval: 30 * time.Second,
		},
		Throttle: ThrottleConfig{
			Limit:  envIntOr("CIVICA_THROTTLE_LIMIT", 30),
			Window: time.Minute,
		},
	}

	if brokers := os.Getenv("CIVICA_KAFKA_BROKERS"); brokers != "" {
		cfg.Kafka.Brokers = strings.Split(brokers, ",")
	}

	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

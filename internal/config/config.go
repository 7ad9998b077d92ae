// Copyright 2026 The OpenTrusty Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"errors"
	"fmt"
	"math"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"
)

// Backend names
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Storage       StorageConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Session       SessionConfig
	Security      SecurityConfig
	Audit         AuditConfig
	Observability ObservabilityConfig
	RateLimit     RateLimitConfig
	Bootstrap     BootstrapConfig
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host           string
	Port           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	RequestTimeout time.Duration
	AllowedHosts   []string
	SSLRedirect    bool
	// TrustedProxies lists proxy addresses or CIDR ranges allowed to set
	// X-Forwarded-For. Empty trusts no forwarding header.
	TrustedProxies []string
}

// StorageConfig selects where users, roles and audit entries live.
type StorageConfig struct {
	Backend string // memory, postgres
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig holds the session backend connection settings
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// SessionConfig holds session management configuration
type SessionConfig struct {
	Backend         string        // memory, redis, postgres
	Lifetime        time.Duration // zero keeps sessions until revoked
	CleanupInterval time.Duration
	Stripes         int
}

// ObservabilityConfig holds logging and tracing configuration
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string
	OTELEnabled    bool
	ServiceName    string
	ServiceVersion string
	SamplingRate   float64
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	CredentialScheme   string
	SaltLength         int
	Argon2Memory       int
	Argon2Iterations   int
	Argon2Parallelism  int
	Argon2KeyLength    int
	LockoutMaxAttempts int
}

// AuditConfig holds audit log configuration
type AuditConfig struct {
	BufferSize int
	HMACKey    string // hex; empty generates a per-process key
	LogToSlog  bool
}

// BootstrapConfig names the default administrator account
type BootstrapConfig struct {
	OnStart       bool
	AdminUsername string
	AdminPassword string
	AdminRole     string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			Port:           getEnv("SERVER_PORT", "8080"),
			ReadTimeout:    parseDuration("SERVER_READ_TIMEOUT", "15s"),
			WriteTimeout:   parseDuration("SERVER_WRITE_TIMEOUT", "15s"),
			IdleTimeout:    parseDuration("SERVER_IDLE_TIMEOUT", "60s"),
			RequestTimeout: parseDuration("SERVER_REQUEST_TIMEOUT", "30s"),
			AllowedHosts:   parseList("SERVER_ALLOWED_HOSTS"),
			TrustedProxies: parseList("SERVER_TRUSTED_PROXIES"),
			SSLRedirect:    parseBool("SERVER_SSL_REDIRECT", false),
		},
		Storage: StorageConfig{
			Backend: getEnv("STORAGE_BACKEND", BackendMemory),
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnv("DB_PORT", "5432"),
			User:            getEnv("DB_USER", "scoreguard"),
			Password:        getEnv("DB_PASSWORD", ""),
			Database:        getEnv("DB_NAME", "scoreguard"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:    parseInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    parseInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: parseDuration("DB_CONN_MAX_LIFETIME", "5m"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       parseInt("REDIS_DB", 0),
		},
		Session: SessionConfig{
			Backend:         getEnv("SESSION_BACKEND", BackendMemory),
			Lifetime:        parseDuration("SESSION_LIFETIME", "0s"),
			CleanupInterval: parseDuration("SESSION_CLEANUP_INTERVAL", "1h"),
			Stripes:         parseInt("SESSION_STRIPES", 64),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			OTELEnabled:    parseBool("OTEL_ENABLED", false),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "scoreguard"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "0.1.0"),
			SamplingRate:   parseFloat("OTEL_SAMPLING_RATE", 1.0),
		},
		Security: SecurityConfig{
			CredentialScheme:   getEnv("CREDENTIAL_SCHEME", "salted-sha256"),
			SaltLength:         parseInt("CREDENTIAL_SALT_LENGTH", 16),
			Argon2Memory:       parseInt("ARGON2_MEMORY", 65536),
			Argon2Iterations:   parseInt("ARGON2_ITERATIONS", 3),
			Argon2Parallelism:  parseInt("ARGON2_PARALLELISM", 4),
			Argon2KeyLength:    parseInt("ARGON2_KEY_LENGTH", 32),
			LockoutMaxAttempts: parseInt("SECURITY_LOCKOUT_MAX_ATTEMPTS", 5),
		},
		Audit: AuditConfig{
			BufferSize: parseInt("AUDIT_BUFFER_SIZE", 1024),
			HMACKey:    getEnv("AUDIT_HMAC_KEY", ""),
			LogToSlog:  parseBool("AUDIT_LOG_TO_SLOG", true),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: parseFloat("RATELIMIT_RPS", 10),
			Burst:             parseInt("RATELIMIT_BURST", 20),
		},
		Bootstrap: BootstrapConfig{
			OnStart:       parseBool("BOOTSTRAP_ON_START", true),
			AdminUsername: getEnv("BOOTSTRAP_ADMIN_USERNAME", "admin"),
			AdminPassword: getEnv("BOOTSTRAP_ADMIN_PASSWORD", "Admin123"),
			AdminRole:     getEnv("BOOTSTRAP_ADMIN_ROLE", "ADMIN"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Database.Password == "" {
			errs = append(errs, errors.New("DB_PASSWORD is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORAGE_BACKEND must be %q or %q, got %q", BackendMemory, BackendPostgres, c.Storage.Backend))
	}

	switch c.Session.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("REDIS_ADDR is required for the redis session backend"))
		}
	case BackendPostgres:
		if c.Storage.Backend != BackendPostgres {
			errs = append(errs, errors.New("SESSION_BACKEND=postgres requires STORAGE_BACKEND=postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("SESSION_BACKEND must be %q, %q or %q, got %q", BackendMemory, BackendRedis, BackendPostgres, c.Session.Backend))
	}

	for _, proxy := range c.Server.TrustedProxies {
		if !validProxy(proxy) {
			errs = append(errs, fmt.Errorf("SERVER_TRUSTED_PROXIES entry %q is not an IP address or CIDR range", proxy))
		}
	}

	if c.Session.Lifetime < 0 {
		errs = append(errs, errors.New("SESSION_LIFETIME must not be negative"))
	}
	if c.Session.Lifetime > 0 && c.Session.CleanupInterval <= 0 {
		errs = append(errs, errors.New("SESSION_CLEANUP_INTERVAL must be positive when SESSION_LIFETIME is set"))
	}

	switch c.Security.CredentialScheme {
	case "salted-sha256", "argon2id":
	default:
		errs = append(errs, fmt.Errorf("CREDENTIAL_SCHEME must be salted-sha256 or argon2id, got %q", c.Security.CredentialScheme))
	}
	errs = append(errs, c.Security.validateRanges()...)
	if c.Security.LockoutMaxAttempts < 0 {
		errs = append(errs, errors.New("SECURITY_LOCKOUT_MAX_ATTEMPTS must not be negative"))
	}

	if c.Audit.BufferSize <= 0 {
		errs = append(errs, errors.New("AUDIT_BUFFER_SIZE must be positive"))
	}
	if c.Audit.HMACKey != "" && len(c.Audit.HMACKey) != 64 {
		errs = append(errs, errors.New("AUDIT_HMAC_KEY must be 64 hex characters"))
	}

	if c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst <= 0 {
		errs = append(errs, errors.New("RATELIMIT_RPS and RATELIMIT_BURST must be positive"))
	}

	return errors.Join(errs...)
}

// validateRanges bounds the numeric hashing settings so they survive the
// narrowing to the hasher's unsigned parameter types.
func (s SecurityConfig) validateRanges() []error {
	var errs []error
	check := func(name string, v int, lo, hi int64) {
		if int64(v) < lo || int64(v) > hi {
			errs = append(errs, fmt.Errorf("%s must be between %d and %d, got %d", name, lo, hi, v))
		}
	}
	check("CREDENTIAL_SALT_LENGTH", s.SaltLength, 16, 1024)
	check("ARGON2_MEMORY", s.Argon2Memory, 8, math.MaxUint32)
	check("ARGON2_ITERATIONS", s.Argon2Iterations, 1, math.MaxUint32)
	check("ARGON2_PARALLELISM", s.Argon2Parallelism, 1, math.MaxUint8)
	check("ARGON2_KEY_LENGTH", s.Argon2KeyLength, 16, 1024)
	return errs
}

func validProxy(s string) bool {
	if strings.Contains(s, "/") {
		_, err := netip.ParsePrefix(s)
		return err == nil
	}
	_, err := netip.ParseAddr(s)
	return err == nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func parseFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func parseBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func parseDuration(key string, defaultValue string) time.Duration {
	value := getEnv(key, defaultValue)
	d, err := time.ParseDuration(value)
	if err != nil {
		// Fallback to default
		d, _ = time.ParseDuration(defaultValue)
	}
	return d
}

func parseList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Package config provides configuration for the run server.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/xiaot623/gogo/runplane/internal/domain"
)

// Config holds the server configuration.
type Config struct {
	// Server settings
	HTTPPort int
	RPCPort  int // 0 disables the JSON-RPC control listener

	// WebSocket settings
	WSPingInterval   time.Duration
	WSWriteTimeout   time.Duration
	WSReadTimeout    time.Duration
	WSMaxMessageSize int64

	// Database
	DatabaseURL  string
	MetaPoolSize int
	StatePoolMin int
	StatePoolMax int
	RedisURL     string

	// Scheduling
	MaxConcurrentRuns int
	AdmissionMode     domain.AdmissionMode
	AdmissionTimeout  time.Duration

	// Thread locks
	LockTTL         time.Duration
	HeartbeatEvery  time.Duration
	ReclaimInterval time.Duration
	ReclaimPolicy   domain.ReclaimPolicy

	// Streaming
	StreamBuffer int
	StreamGrace  time.Duration

	// Run event audit log
	EventRetention time.Duration
	EventCleanup   time.Duration

	// Storage retries
	StorageMaxRetries int

	// Graph catalog
	GraphsFile string

	// Logging
	LogLevel string
}

// Load loads configuration from environment variables.
func Load() *Config {
	cfg := &Config{
		HTTPPort:          getEnvInt("HTTP_PORT", 8000),
		RPCPort:           getEnvInt("RPC_PORT", 0),
		WSPingInterval:    getEnvDuration("WS_PING_INTERVAL_MS", 30*time.Second),
		WSWriteTimeout:    getEnvDuration("WS_WRITE_TIMEOUT_MS", 10*time.Second),
		WSReadTimeout:     getEnvDuration("WS_READ_TIMEOUT_MS", 60*time.Second),
		WSMaxMessageSize:  int64(getEnvInt("WS_MAX_MESSAGE_SIZE", 65536)),
		DatabaseURL:       getEnv("DATABASE_URL", "sqlite:///runplane.db"),
		MetaPoolSize:      getEnvInt("META_POOL_SIZE", 2),
		StatePoolMin:      getEnvInt("STATE_POOL_MIN", 1),
		StatePoolMax:      getEnvInt("STATE_POOL_MAX", 6),
		RedisURL:          getEnv("REDIS_URL", ""),
		MaxConcurrentRuns: getEnvInt("MAX_CONCURRENT_RUNS", 8),
		AdmissionMode:     domain.AdmissionMode(getEnv("ADMISSION_MODE", string(domain.AdmissionBlock))),
		AdmissionTimeout:  getEnvDuration("ADMISSION_TIMEOUT_MS", 5*time.Second),
		LockTTL:           getEnvDuration("LOCK_TTL_MS", 15*time.Second),
		HeartbeatEvery:    getEnvDuration("HEARTBEAT_MS", 5*time.Second),
		ReclaimInterval:   getEnvDuration("RECLAIM_INTERVAL_MS", 2*time.Second),
		ReclaimPolicy:     domain.ReclaimPolicy(getEnv("RECLAIM_POLICY", string(domain.ReclaimToError))),
		StreamBuffer:      getEnvInt("STREAM_BUFFER", 1024),
		StreamGrace:       getEnvDuration("STREAM_GRACE_MS", time.Minute),
		EventRetention:    getEnvDuration("EVENT_RETENTION_MS", time.Hour),
		EventCleanup:      getEnvDuration("EVENT_CLEANUP_MS", 5*time.Minute),
		StorageMaxRetries: getEnvInt("STORAGE_MAX_RETRIES", 5),
		GraphsFile:        getEnv("GRAPHS_FILE", ""),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
	}
	return cfg
}

// Default returns the configuration Load would produce with an empty environment.
func Default() *Config {
	return &Config{
		HTTPPort:          8000,
		WSPingInterval:    30 * time.Second,
		WSWriteTimeout:    10 * time.Second,
		WSReadTimeout:     60 * time.Second,
		WSMaxMessageSize:  65536,
		DatabaseURL:       "sqlite:///runplane.db",
		MetaPoolSize:      2,
		StatePoolMin:      1,
		StatePoolMax:      6,
		MaxConcurrentRuns: 8,
		AdmissionMode:     domain.AdmissionBlock,
		AdmissionTimeout:  5 * time.Second,
		LockTTL:           15 * time.Second,
		HeartbeatEvery:    5 * time.Second,
		ReclaimInterval:   2 * time.Second,
		ReclaimPolicy:     domain.ReclaimToError,
		StreamBuffer:      1024,
		StreamGrace:       time.Minute,
		EventRetention:    time.Hour,
		EventCleanup:      5 * time.Minute,
		StorageMaxRetries: 5,
		LogLevel:          "info",
	}
}

// Validate rejects settings that cannot work together.
func (c *Config) Validate() error {
	var errs []error
	if c.MaxConcurrentRuns <= 0 {
		errs = append(errs, errors.New("MAX_CONCURRENT_RUNS must be positive"))
	}
	if c.AdmissionMode != domain.AdmissionBlock && c.AdmissionMode != domain.AdmissionFailFast {
		errs = append(errs, fmt.Errorf("unknown ADMISSION_MODE %q", c.AdmissionMode))
	}
	if c.ReclaimPolicy != domain.ReclaimToError && c.ReclaimPolicy != domain.ReclaimToInterrupted {
		errs = append(errs, fmt.Errorf("unknown RECLAIM_POLICY %q", c.ReclaimPolicy))
	}
	if c.LockTTL <= 0 || c.HeartbeatEvery <= 0 {
		errs = append(errs, errors.New("LOCK_TTL_MS and HEARTBEAT_MS must be positive"))
	} else if c.HeartbeatEvery >= c.LockTTL {
		errs = append(errs, fmt.Errorf("HEARTBEAT_MS (%s) must be shorter than LOCK_TTL_MS (%s)", c.HeartbeatEvery, c.LockTTL))
	}
	if c.StreamBuffer <= 0 {
		errs = append(errs, errors.New("STREAM_BUFFER must be positive"))
	}
	if c.StatePoolMax < c.StatePoolMin {
		errs = append(errs, errors.New("STATE_POOL_MAX must be >= STATE_POOL_MIN"))
	}
	if _, _, err := ParseDatabaseURL(c.DatabaseURL); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Backend kinds recognised in DATABASE_URL.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// ParseDatabaseURL splits DATABASE_URL into a backend kind and a driver DSN.
// "sqlite:///path.db" and "sqlite://:memory:" select SQLite; postgres:// and
// postgresql:// URLs are passed to pgx unchanged.
func ParseDatabaseURL(raw string) (kind, dsn string, err error) {
	switch {
	case strings.HasPrefix(raw, "sqlite:///"):
		return BackendSQLite, strings.TrimPrefix(raw, "sqlite:///"), nil
	case strings.HasPrefix(raw, "sqlite://"):
		return BackendSQLite, strings.TrimPrefix(raw, "sqlite://"), nil
	case strings.HasPrefix(raw, "postgres://"), strings.HasPrefix(raw, "postgresql://"):
		return BackendPostgres, raw, nil
	}
	return "", "", fmt.Errorf("unsupported DATABASE_URL %q", raw)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if ms, err := strconv.Atoi(val); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultVal
}

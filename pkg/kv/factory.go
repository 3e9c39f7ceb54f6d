package kv

import (
	"context"
	"fmt"
	"time"
)

// Backend represents the storage backend type
type Backend string

const (
	// BackendMemory uses the in-memory store
	BackendMemory Backend = "memory"
	// BackendFile stores each key as a file under Config.Dir
	BackendFile Backend = "file"
	// BackendRedis uses Redis as the backend
	BackendRedis Backend = "redis"
)

// Config holds configuration for creating a Store instance
type Config struct {
	// Backend specifies which storage backend to use
	Backend Backend

	// RedisURL is the connection string for Redis (required when Backend is "redis")
	// Format: redis://localhost:6379/0 or redis://:password@localhost:6379/1
	RedisURL string

	// Dir is the directory used by the file backend. When Backend is "redis"
	// and Dir is set, the failover store falls back to files instead of memory.
	Dir string

	// JanitorInterval controls how often the in-memory store cleans up expired keys
	// Default: 30 seconds
	JanitorInterval time.Duration

	// FailoverEnabled controls whether a redis store fails over to the local
	// fallback while redis is unavailable.
	FailoverEnabled bool

	// ProbeInterval controls how often to probe Redis for recovery after failover
	// Default: 5 seconds
	ProbeInterval time.Duration

	// StartupProbeTimeout controls how long to wait for Redis at startup
	// Default: 1 second
	StartupProbeTimeout time.Duration

	// Logger is used for logging failover events. If nil, no logging occurs.
	Logger LogFunc
}

// StoreFactory defines a function that creates a Store instance
type StoreFactory func(cfg Config) (Store, error)

var factories = make(map[Backend]StoreFactory)

// RegisterBackend registers a store factory for a given backend
func RegisterBackend(backend Backend, factory StoreFactory) {
	factories[backend] = factory
}

// NewStoreFromConfig creates a new Store instance based on the provided configuration
func NewStoreFromConfig(cfg Config) (Store, error) {
	if cfg.JanitorInterval == 0 {
		cfg.JanitorInterval = 30 * time.Second
	}
	if cfg.ProbeInterval == 0 {
		cfg.ProbeInterval = 5 * time.Second
	}
	if cfg.StartupProbeTimeout == 0 {
		cfg.StartupProbeTimeout = 1 * time.Second
	}

	switch cfg.Backend {
	case BackendMemory, BackendFile:
		return newLocalStore(cfg.Backend, cfg)

	case BackendRedis:
		return createRedisStoreWithFailover(cfg)

	default:
		return nil, fmt.Errorf("unsupported backend: %s (supported: %s, %s, %s)",
			cfg.Backend, BackendMemory, BackendFile, BackendRedis)
	}
}

func newLocalStore(backend Backend, cfg Config) (Store, error) {
	factory, exists := factories[backend]
	if !exists {
		return nil, fmt.Errorf("%s backend not registered", backend)
	}
	return factory(cfg)
}

// fallbackBackend picks the local backend that stands in for redis.
func fallbackBackend(cfg Config) Backend {
	if cfg.Dir != "" {
		return BackendFile
	}
	return BackendMemory
}

// createRedisStoreWithFailover creates a Redis store with optional failover
func createRedisStoreWithFailover(cfg Config) (Store, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("redis URL is required when backend is 'redis'")
	}

	redisFactory, exists := factories[BackendRedis]
	if !exists {
		return nil, fmt.Errorf("redis backend not registered")
	}

	if !cfg.FailoverEnabled {
		redisStore, err := redisFactory(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return redisStore, nil
	}

	fallback, err := newLocalStore(fallbackBackend(cfg), cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create fallback store: %w", err)
	}

	redisStore, err := redisFactory(cfg)
	if err != nil {
		if cfg.Logger != nil {
			cfg.Logger("Redis unavailable at startup; using local store",
				"fallback", string(fallbackBackend(cfg)), "error", err.Error())
		}
		return fallback, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.StartupProbeTimeout)
	defer cancel()

	if err := redisStore.Ping(ctx); err != nil {
		if cfg.Logger != nil {
			cfg.Logger("Redis unhealthy at startup; using local store (will retry in background)",
				"fallback", string(fallbackBackend(cfg)), "error", err.Error())
		}
		return NewFailoverStoreWithFallbackActive(redisStore, fallback, cfg.ProbeInterval, cfg.Logger), nil
	}

	if cfg.Logger != nil {
		cfg.Logger("Redis healthy at startup; using Redis with local failover",
			"fallback", string(fallbackBackend(cfg)))
	}
	return NewFailoverStore(redisStore, fallback, cfg.ProbeInterval, cfg.Logger), nil
}

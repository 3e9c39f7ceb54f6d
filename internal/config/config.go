package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
	"golang.org/x/crypto/bcrypt"

	"github.com/farmsight/farmsight-backend/pkg/kv"
)

type Config struct {
	Env      string `mapstructure:"FS_ENV"`
	LogLevel string `mapstructure:"FS_LOG_LEVEL"`
	HTTPAddr string `mapstructure:"FS_HTTP_ADDR"`

	Storage  StorageConfig  `mapstructure:",squash"`
	Auth     AuthConfig     `mapstructure:",squash"`
	Seed     SeedConfig     `mapstructure:",squash"`
	Security SecurityConfig `mapstructure:",squash"`
}

type StorageConfig struct {
	Backend  string `mapstructure:"FS_STORAGE_BACKEND"` // "file", "memory", "redis"
	Dir      string `mapstructure:"FS_STORAGE_DIR"`
	RedisURL string `mapstructure:"FS_REDIS_URL"`
	Failover bool   `mapstructure:"FS_STORAGE_FAILOVER"`
	Key      string `mapstructure:"FS_STORAGE_KEY"`
}

type AuthConfig struct {
	SessionTTL    time.Duration `mapstructure:"FS_SESSION_TTL"`
	SweepInterval time.Duration `mapstructure:"FS_SESSION_SWEEP_INTERVAL"`
	BcryptCost    int           `mapstructure:"FS_BCRYPT_COST"`
	// AdminEmail names an account granted the admin role at startup.
	AdminEmail string `mapstructure:"FS_ADMIN_EMAIL"`
}

type SeedConfig struct {
	OnStart      bool   `mapstructure:"FS_SEED_ON_START"`
	DemoPassword string `mapstructure:"FS_DEMO_PASSWORD"`
}

type SecurityConfig struct {
	RateLimitRPM       int      `mapstructure:"FS_RATE_LIMIT_RPM"`
	CORSAllowedOrigins []string `mapstructure:"FS_CORS_ALLOWED_ORIGINS"`
}

func loadDotEnvFiles() {
	candidates := []string{
		".env",
		filepath.Join("..", ".env"),
	}

	seen := make(map[string]struct{})
	for _, path := range candidates {
		abs := path
		if resolved, err := filepath.Abs(path); err == nil {
			abs = resolved
		}
		if _, ok := seen[abs]; ok {
			continue
		}
		seen[abs] = struct{}{}

		if _, err := os.Stat(path); err == nil {
			_ = gotenv.Load(path) // variables already set take precedence
		}
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("FS_ENV", "dev")
	v.SetDefault("FS_LOG_LEVEL", "")
	v.SetDefault("FS_HTTP_ADDR", "127.0.0.1:8080")
	v.SetDefault("FS_STORAGE_BACKEND", string(kv.BackendFile))
	v.SetDefault("FS_STORAGE_DIR", "./data")
	v.SetDefault("FS_REDIS_URL", "redis://127.0.0.1:6379/0")
	v.SetDefault("FS_STORAGE_FAILOVER", true)
	v.SetDefault("FS_STORAGE_KEY", "farmsight-db")
	v.SetDefault("FS_SESSION_TTL", "720h")
	v.SetDefault("FS_SESSION_SWEEP_INTERVAL", "1h")
	v.SetDefault("FS_BCRYPT_COST", bcrypt.DefaultCost)
	v.SetDefault("FS_ADMIN_EMAIL", "")
	v.SetDefault("FS_SEED_ON_START", true)
	v.SetDefault("FS_DEMO_PASSWORD", "demo123")
	v.SetDefault("FS_RATE_LIMIT_RPM", 600)
	v.SetDefault("FS_CORS_ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:3000")
}

// Load reads .env files and FS_* environment variables on top of the defaults.
func Load() (*Config, error) {
	loadDotEnvFiles()
	return load(viper.New())
}

func load(v *viper.Viper) (*Config, error) {
	v.SetConfigType("env")
	v.AutomaticEnv()
	setDefaults(v)

	// AutomaticEnv only resolves keys viper already knows, which the defaults provide
	if origins := v.GetString("FS_CORS_ALLOWED_ORIGINS"); origins != "" {
		v.Set("FS_CORS_ALLOWED_ORIGINS", splitList(origins))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Storage.Backend = strings.ToLower(strings.TrimSpace(cfg.Storage.Backend))
	cfg.Storage.Key = strings.TrimSpace(cfg.Storage.Key)
	cfg.Seed.DemoPassword = strings.TrimSpace(cfg.Seed.DemoPassword)
	cfg.Auth.AdminEmail = strings.TrimSpace(cfg.Auth.AdminEmail)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *Config) validate() error {
	switch kv.Backend(c.Storage.Backend) {
	case kv.BackendFile:
		if c.Storage.Dir == "" {
			return fmt.Errorf("FS_STORAGE_DIR is required for the file backend")
		}
	case kv.BackendMemory:
	case kv.BackendRedis:
		if c.Storage.RedisURL == "" {
			return fmt.Errorf("FS_REDIS_URL is required for the redis backend")
		}
	default:
		return fmt.Errorf("invalid FS_STORAGE_BACKEND %q (must be file, memory, or redis)", c.Storage.Backend)
	}
	if c.Storage.Key == "" {
		return fmt.Errorf("FS_STORAGE_KEY is required")
	}
	if c.Auth.SessionTTL <= 0 {
		return fmt.Errorf("FS_SESSION_TTL must be positive")
	}
	if c.Auth.SweepInterval <= 0 {
		return fmt.Errorf("FS_SESSION_SWEEP_INTERVAL must be positive")
	}
	if c.Auth.BcryptCost < bcrypt.MinCost || c.Auth.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("FS_BCRYPT_COST must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	if c.Seed.OnStart && c.Seed.DemoPassword == "" {
		return fmt.Errorf("FS_DEMO_PASSWORD is required when FS_SEED_ON_START is set")
	}
	if c.Security.RateLimitRPM < 0 {
		return fmt.Errorf("FS_RATE_LIMIT_RPM must not be negative")
	}
	return nil
}

// KVConfig translates the storage settings for kv.NewStoreFromConfig.
func (c *Config) KVConfig() kv.Config {
	cfg := kv.Config{
		Backend:         kv.Backend(c.Storage.Backend),
		RedisURL:        c.Storage.RedisURL,
		FailoverEnabled: c.Storage.Failover,
	}
	// the file backend doubles as the redis failover target
	if cfg.Backend == kv.BackendFile || cfg.Backend == kv.BackendRedis {
		cfg.Dir = c.Storage.Dir
	}
	return cfg
}

func (c *Config) IsDev() bool {
	return c.Env == "dev"
}

func (c *Config) IsProd() bool {
	return c.Env == "prod"
}

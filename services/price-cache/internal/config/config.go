package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/finboard/price-cache/services/price-cache/internal/cache"
	"github.com/finboard/price-cache/services/price-cache/internal/service"
	"github.com/finboard/price-cache/shared/pkg/database"
	"github.com/finboard/price-cache/shared/pkg/quotes"
	"gopkg.in/yaml.v3"
)

const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
)

type SourceConfig struct {
	HTTP   quotes.Config       `yaml:"http"`
	EODHD  quotes.EODHDConfig  `yaml:"eodhd"`
	KuCoin quotes.KuCoinConfig `yaml:"kucoin"`
}

type Config struct {
	Cache          service.Config    `yaml:"cache"`
	Backend        string            `yaml:"backend"`
	Database       database.Config   `yaml:"database"`
	Redis          cache.RedisConfig `yaml:"redis"`
	Source         SourceConfig      `yaml:"source"`
	HTTPPort       string            `yaml:"http_port"`
	RetentionDays  int               `yaml:"retention_days"`
	AutoUpdateCron string            `yaml:"auto_update_cron"`
}

func Default() *Config {
	return &Config{
		Cache:   service.DefaultConfig(),
		Backend: BackendPostgres,
		Database: database.Config{
			DbUri: "localhost",
		},
		Redis: cache.RedisConfig{
			Addr: "localhost:6379",
		},
		Source: SourceConfig{
			HTTP: quotes.DefaultConfig(),
		},
		HTTPPort:       "8080",
		RetentionDays:  30,
		AutoUpdateCron: "0 */5 * * * *",
	}
}

// Load applies defaults, then the YAML file named by CONFIG_FILE if set, then
// environment variables.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Cache.TTLMinutes = getEnvInt("CACHE_TTL_MINUTES", c.Cache.TTLMinutes)
	c.Cache.MaxStaleHours = getEnvInt("CACHE_MAX_STALE_HOURS", c.Cache.MaxStaleHours)
	c.Cache.BatchSize = getEnvInt("CACHE_BATCH_SIZE", c.Cache.BatchSize)
	c.Cache.EnableAutoUpdate = getEnvBool("CACHE_ENABLE_AUTO_UPDATE", c.Cache.EnableAutoUpdate)

	c.Backend = strings.ToLower(getEnv("CACHE_BACKEND", c.Backend))
	c.Database.DbUri = getEnv("DB_URI", c.Database.DbUri)
	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvInt("REDIS_DB", c.Redis.DB)

	c.Source.HTTP.Timeout = getEnvDuration("SOURCE_TIMEOUT_SECONDS", time.Second, c.Source.HTTP.Timeout)
	c.Source.HTTP.RetryCount = getEnvInt("RETRY_ATTEMPTS", c.Source.HTTP.RetryCount)
	c.Source.HTTP.RetryWait = getEnvDuration("RETRY_DELAY_MS", time.Millisecond, c.Source.HTTP.RetryWait)
	c.Source.EODHD.APIKey = getEnv("EODHD_API_KEY", c.Source.EODHD.APIKey)
	c.Source.KuCoin.Sandbox = getEnvBool("KUCOIN_SANDBOX", c.Source.KuCoin.Sandbox)

	c.HTTPPort = getEnv("HTTP_PORT", c.HTTPPort)
	c.RetentionDays = getEnvInt("CACHE_RETENTION_DAYS", c.RetentionDays)
	c.AutoUpdateCron = getEnv("AUTO_UPDATE_CRON", c.AutoUpdateCron)
}

func (c *Config) Validate() error {
	switch c.Backend {
	case BackendPostgres, BackendRedis, BackendMemory:
	default:
		return fmt.Errorf("unknown cache backend %q", c.Backend)
	}
	if c.Cache.TTLMinutes <= 0 {
		return fmt.Errorf("cache ttl must be positive, got %d", c.Cache.TTLMinutes)
	}
	if c.Cache.MaxStaleHours <= 0 {
		return fmt.Errorf("max stale hours must be positive, got %d", c.Cache.MaxStaleHours)
	}
	if c.Cache.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", c.Cache.BatchSize)
	}
	return nil
}

func (c *Config) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvDuration reads an integer count of unit.
func getEnvDuration(key string, unit, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return time.Duration(intValue) * unit
		}
	}
	return defaultValue
}

package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"soulcrush/internal/common"
)

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig selects the SQL driver and pool settings. Driver is
// either "sqlite" (modernc) or "pgx" (postgres).
type DatabaseConfig struct {
	Driver                 string `yaml:"driver"`
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"maxOpenConns"`
	MaxIdleConns           int    `yaml:"maxIdleConns"`
	ConnMaxLifetimeMinutes int    `yaml:"connMaxLifetimeMinutes"`
}

// RedisConfig is optional. When URL is empty rate limiting and
// cross-process version notifications are disabled.
type RedisConfig struct {
	URL     string `yaml:"url"`
	Channel string `yaml:"channel"`
}

type RateLimitConfig struct {
	PerMinute int `yaml:"perMinute"`
}

// RefreshConfig tunes the list refresh controller.
type RefreshConfig struct {
	FetchTimeoutMs int `yaml:"fetchTimeoutMs"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Refresh   RefreshConfig   `yaml:"refresh"`
	Log       LogConfig       `yaml:"log"`
}

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

// Default returns a configuration usable without a config file: a local
// sqlite database and no redis.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 3000},
		Database: DatabaseConfig{
			Driver:                 DriverSQLite,
			DSN:                    "file:soulcrush.db?_pragma=foreign_keys(1)",
			MaxOpenConns:           10,
			MaxIdleConns:           5,
			ConnMaxLifetimeMinutes: 30,
		},
		Redis:   RedisConfig{Channel: "soulcrush:versions"},
		Refresh: RefreshConfig{FetchTimeoutMs: 5000},
		Log:     LogConfig{Level: "info"},
	}
}

// Load reads the YAML file at path over the defaults and applies
// environment overrides. A missing file is not an error; the defaults
// are used instead.
func Load(path string) *Config {
	cfg := Default()

	f, err := os.Open(path)
	switch {
	case err == nil:
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
			log.Fatalf("failed to decode config: %v", err)
		}
	case os.IsNotExist(err):
		// fall through to defaults
	default:
		log.Fatalf("failed to open config file: %v", err)
	}

	cfg.applyEnv()
	return cfg
}

func (c *Config) applyEnv() {
	c.Database.DSN = getEnv("SOULCRUSH_DB_DSN", c.Database.DSN)
	c.Database.Driver = getEnv("SOULCRUSH_DB_DRIVER", c.Database.Driver)
	c.Redis.URL = getEnv("SOULCRUSH_REDIS_URL", c.Redis.URL)
	c.Server.Port = getEnvAsInt("SOULCRUSH_PORT", c.Server.Port)
}

// Validate checks the loaded configuration
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return common.NewAppError(common.CodeConfig, fmt.Sprintf("unsupported database driver %q", c.Database.Driver), common.ErrInvalidInput)
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		return common.NewAppError(common.CodeConfig, "database dsn is required", common.ErrInvalidInput)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return common.NewAppError(common.CodeConfig, fmt.Sprintf("invalid server port %d", c.Server.Port), common.ErrInvalidInput)
	}
	if c.Redis.URL != "" && c.Redis.Channel == "" {
		return common.NewAppError(common.CodeConfig, "redis channel is required when redis is enabled", common.ErrInvalidInput)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

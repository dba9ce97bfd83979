package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Duration decodes TOML strings such as "24h" or "90s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

type ServerConfig struct {
	Port         int    `toml:"port"`
	SecretKey    string `toml:"secret_key"` // Signs session tokens
	CookieSecure bool   `toml:"cookie_secure"`
}

type DatabaseConfig struct {
	URL             string   `toml:"url"`
	MaxOpenConns    int      `toml:"max_open_conns"`
	ConnMaxLifetime Duration `toml:"conn_max_lifetime"`
	AutoMigrate     bool     `toml:"auto_migrate"`
}

type EncryptionConfig struct {
	Key string `toml:"key"` // 32-byte key for relay password encryption, base64 or hex
}

type SessionConfig struct {
	Path       string   `toml:"path"` // bbolt file holding HTTP sessions
	Expiration Duration `toml:"expiration"`
}

type SchedulerConfig struct {
	Timezone string   `toml:"timezone"` // IANA name; "" or "Local" uses the host zone
	Cron     string   `toml:"cron"`     // In-process schedule, empty disables it
	LockTTL  Duration `toml:"lock_ttl"`
}

type RedisConfig struct {
	URL string `toml:"url"`
}

type MetricsConfig struct {
	PushgatewayURL string `toml:"pushgateway_url"`
}

type LogConfig struct {
	Level string `toml:"level"`
	Env   string `toml:"env"` // "dev" or "prod"
}

type RateLimitConfig struct {
	LoginPerMinute int `toml:"login_per_minute"`
}

type Config struct {
	Server     ServerConfig     `toml:"server"`
	Database   DatabaseConfig   `toml:"database"`
	Encryption EncryptionConfig `toml:"encryption"`
	Session    SessionConfig    `toml:"session"`
	Scheduler  SchedulerConfig  `toml:"scheduler"`
	Redis      RedisConfig      `toml:"redis"`
	Metrics    MetricsConfig    `toml:"metrics"`
	Log        LogConfig        `toml:"log"`
	RateLimit  RateLimitConfig  `toml:"ratelimit"`
}

// Default returns a configuration with every optional value set.
func Default() *Config {
	var config Config

	config.Server.Port = 3000
	config.Database.MaxOpenConns = 5
	config.Database.ConnMaxLifetime = Duration{30 * time.Minute}
	config.Database.AutoMigrate = true
	config.Session.Path = "./data/sessions.db"
	config.Session.Expiration = Duration{24 * time.Hour}
	config.Scheduler.Timezone = "Local"
	config.Scheduler.LockTTL = Duration{30 * time.Minute}
	config.Log.Level = "info"
	config.Log.Env = "dev"
	config.RateLimit.LoginPerMinute = 10

	return &config
}

// LoadConfig reads defaults, then the TOML file at filepath (skipped when it
// does not exist), then a local .env file, then process environment variables.
func LoadConfig(filepath string) (*Config, error) {
	config := Default()

	if filepath != "" {
		if _, err := os.Stat(filepath); err == nil {
			if _, err := toml.DecodeFile(filepath, config); err != nil {
				return nil, fmt.Errorf("parse %s: %w", filepath, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}

	// .env never overrides variables already set in the environment
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	if err := config.applyEnv(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) applyEnv() error {
	setString(&c.Server.SecretKey, "SECRET_KEY")
	setString(&c.Database.URL, "DATABASE_URL")
	setString(&c.Encryption.Key, "SMTP_ENCRYPTION_KEY")
	setString(&c.Session.Path, "SESSION_PATH")
	setString(&c.Scheduler.Timezone, "SCHEDULER_TIMEZONE")
	setString(&c.Scheduler.Cron, "SCHEDULER_CRON")
	setString(&c.Redis.URL, "REDIS_URL")
	setString(&c.Metrics.PushgatewayURL, "PUSHGATEWAY_URL")
	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Log.Env, "LOG_ENV")

	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT must be an integer: %w", err)
		}
		c.Server.Port = port
	}
	if v := os.Getenv("COOKIE_SECURE"); v != "" {
		secure, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("COOKIE_SECURE must be a boolean: %w", err)
		}
		c.Server.CookieSecure = secure
	}
	return nil
}

func setString(dst *string, env string) {
	if v, ok := os.LookupEnv(env); ok && strings.TrimSpace(v) != "" {
		*dst = strings.TrimSpace(v)
	}
}

// Validate checks that the values the process cannot run without are present.
func (c *Config) Validate() error {
	var missing []string
	if c.Server.SecretKey == "" {
		missing = append(missing, "SECRET_KEY")
	}
	if c.Database.URL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.Encryption.Key == "" {
		missing = append(missing, "SMTP_ENCRYPTION_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves the scheduler time zone used to compute "today".
func (c *Config) Location() (*time.Location, error) {
	tz := strings.TrimSpace(c.Scheduler.Timezone)
	if tz == "" || strings.EqualFold(tz, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("scheduler timezone %q: %w", tz, err)
	}
	return loc, nil
}

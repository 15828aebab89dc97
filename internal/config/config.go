// Package config loads chatsync settings from an optional YAML file, a .env file and
// CHATSYNC_* environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const envPrefix = "CHATSYNC"

// Transports accepted in realtime.transport.
const (
	TransportWebsocket = "websocket"
	TransportRedis     = "redis"
	TransportPostgres  = "postgres"
)

type Config struct {
	API struct {
		BaseURL string        `mapstructure:"base_url"`
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"api"`

	Realtime struct {
		Transport     string        `mapstructure:"transport"`
		URL           string        `mapstructure:"url"`
		APIKey        string        `mapstructure:"api_key"`
		Table         string        `mapstructure:"table"`
		Heartbeat     time.Duration `mapstructure:"heartbeat"`
		NotifyChannel string        `mapstructure:"notify_channel"`
		RedisPrefix   string        `mapstructure:"redis_prefix"`
	} `mapstructure:"realtime"`

	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`

	Postgres struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"postgres"`

	Session struct {
		Token     string `mapstructure:"token"`
		ProfileID string `mapstructure:"profile_id"`
		UserID    string `mapstructure:"user_id"`
		// Secret is the HS256 signing key; when set the token signature is checked locally.
		Secret string `mapstructure:"secret"`
	} `mapstructure:"session"`

	Log Log `mapstructure:"log"`
}

type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

var defaults = map[string]interface{}{
	"api.base_url":            "http://localhost:8000/api",
	"api.timeout":             15 * time.Second,
	"realtime.transport":      TransportWebsocket,
	"realtime.url":            "",
	"realtime.api_key":        "",
	"realtime.table":          "Chat_Message",
	"realtime.heartbeat":      30 * time.Second,
	"realtime.notify_channel": "chat_message_insert",
	"realtime.redis_prefix":   "realtime:",
	"redis.addr":              "localhost:6379",
	"redis.password":          "",
	"redis.db":                0,
	"postgres.dsn":            "",
	"session.token":           "",
	"session.profile_id":      "",
	"session.user_id":         "",
	"session.secret":          "",
	"log.level":               "info",
	"log.format":              "console",
}

// Load reads the configuration. With an empty path ./configs/chatsync.yaml and
// ./chatsync.yaml are tried and a missing file is not an error.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("chatsync")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read %s: %w", v.ConfigFileUsed(), err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return errors.New("config: api.base_url is required")
	}

	switch c.Realtime.Transport {
	case TransportWebsocket:
		if c.Realtime.URL == "" {
			return errors.New("config: realtime.url is required for the websocket transport")
		}
	case TransportRedis:
		if c.Redis.Addr == "" {
			return errors.New("config: redis.addr is required for the redis transport")
		}
	case TransportPostgres:
		if c.Postgres.DSN == "" {
			return errors.New("config: postgres.dsn is required for the postgres transport")
		}
	default:
		return fmt.Errorf("config: unknown realtime.transport %q", c.Realtime.Transport)
	}
	return nil
}

// NewLogger builds a zap logger from the log section. Format is "json" or "console".
func NewLogger(c Log) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Level)
	if err != nil {
		return nil, fmt.Errorf("config: log.level: %w", err)
	}

	zc := zap.NewProductionConfig()
	switch c.Format {
	case "json":
	case "console", "":
		zc = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("config: unknown log.format %q", c.Format)
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	return zc.Build()
}

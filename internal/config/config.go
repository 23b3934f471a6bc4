package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Log     LogConfig     `mapstructure:"log"`
	WS      WSConfig      `mapstructure:"ws"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Storage StorageConfig `mapstructure:"storage"`
	Fanout  FanoutConfig  `mapstructure:"fanout"`
	Chat    ChatConfig    `mapstructure:"chat"`
}

type ServerConfig struct {
	Mode            string        `mapstructure:"mode"`
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type WSConfig struct {
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	PongWait   time.Duration `mapstructure:"pong_wait"`
	WriteWait  time.Duration `mapstructure:"write_wait"`
	SendBuffer int           `mapstructure:"send_buffer"`
	// AllowedOrigins lists browser origins allowed to open sockets besides
	// the server's own host.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type AuthConfig struct {
	Secret      string        `mapstructure:"secret"`
	Issuer      string        `mapstructure:"issuer"`
	TokenExpiry time.Duration `mapstructure:"token_expiry"`
}

type StorageConfig struct {
	Driver      string `mapstructure:"driver"`
	BoltPath    string `mapstructure:"bolt_path"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
	Migrate     bool   `mapstructure:"migrate"`
}

type FanoutConfig struct {
	Driver       string `mapstructure:"driver"`
	RedisAddr    string `mapstructure:"redis_addr"`
	RedisChannel string `mapstructure:"redis_channel"`
}

type ChatConfig struct {
	Backpressure        string        `mapstructure:"backpressure"`
	EvictRemovedMembers bool          `mapstructure:"evict_removed_members"`
	RateLimit           int           `mapstructure:"rate_limit"`
	RateInterval        time.Duration `mapstructure:"rate_interval"`
	HistoryLimit        int           `mapstructure:"history_limit"`
	CircleNameTTL       time.Duration `mapstructure:"circle_name_ttl"`
}

// Load reads config/config.<CONFIG_ENV>.yaml (CONFIG_ENV defaults to dev).
func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

// LoadFile reads fileName on top of the defaults. A missing file is not an
// error. CIRCLES_* environment variables override both, e.g.
// CIRCLES_AUTH_SECRET for auth.secret.
func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)

	v.SetEnvPrefix("CIRCLES")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().
		Str("module", "config").
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Str("storage", cfg.Storage.Driver).
		Str("fanout", cfg.Fanout.Driver).
		Msg("config ready")
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", "5s")

	v.SetDefault("log.level", "info")

	v.SetDefault("ws.read_limit", 32768)
	v.SetDefault("ws.ping_period", "54s")
	v.SetDefault("ws.pong_wait", "60s")
	v.SetDefault("ws.write_wait", "10s")
	v.SetDefault("ws.send_buffer", 64)
	v.SetDefault("ws.allowed_origins", []string{})

	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.issuer", "circles")
	v.SetDefault("auth.token_expiry", "24h")

	v.SetDefault("storage.driver", "bbolt")
	v.SetDefault("storage.bolt_path", "circles.db")
	v.SetDefault("storage.postgres_dsn", "")
	v.SetDefault("storage.migrate", true)

	v.SetDefault("fanout.driver", "local")
	v.SetDefault("fanout.redis_addr", "localhost:6379")
	v.SetDefault("fanout.redis_channel", "circles:rooms")

	v.SetDefault("chat.backpressure", "drop")
	v.SetDefault("chat.evict_removed_members", false)
	v.SetDefault("chat.rate_limit", 20)
	v.SetDefault("chat.rate_interval", "10s")
	v.SetDefault("chat.history_limit", 50)
	v.SetDefault("chat.circle_name_ttl", "10m")
}

func (c *Config) Validate() error {
	var errs []error
	if c.Auth.Secret == "" {
		errs = append(errs, errors.New("auth.secret is required"))
	}
	switch c.Storage.Driver {
	case "bbolt":
		if c.Storage.BoltPath == "" {
			errs = append(errs, errors.New("storage.bolt_path is required for bbolt"))
		}
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("storage.postgres_dsn is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.driver %q", c.Storage.Driver))
	}
	switch c.Fanout.Driver {
	case "local":
	case "redis":
		if c.Fanout.RedisAddr == "" {
			errs = append(errs, errors.New("fanout.redis_addr is required for redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown fanout.driver %q", c.Fanout.Driver))
	}
	switch c.Chat.Backpressure {
	case "drop", "kick":
	default:
		errs = append(errs, fmt.Errorf("unknown chat.backpressure %q", c.Chat.Backpressure))
	}
	if c.WS.PingPeriod >= c.WS.PongWait {
		errs = append(errs, errors.New("ws.ping_period must be shorter than ws.pong_wait"))
	}
	if c.WS.SendBuffer <= 0 {
		errs = append(errs, errors.New("ws.send_buffer must be positive"))
	}
	return errors.Join(errs...)
}

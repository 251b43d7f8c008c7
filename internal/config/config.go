// Package config loads runtime configuration from .env, environment variables and defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Log      LogConfig      `mapstructure:"log"`
	DB       DBConfig       `mapstructure:"db"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Session  SessionConfig  `mapstructure:"session"`
	Bidding  BiddingConfig  `mapstructure:"bidding"`
	Stream   StreamConfig   `mapstructure:"stream"`
	Registry RegistryConfig `mapstructure:"registry"`
}

type AppConfig struct {
	Port            string        `mapstructure:"port"`
	Env             string        `mapstructure:"env"`
	FrontendOrigin  string        `mapstructure:"frontend_origin"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// DBConfig selects the durable store. Driver is "memory" or "mysql".
type DBConfig struct {
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	MaxConns int    `mapstructure:"max_conns"`
	Migrate  bool   `mapstructure:"migrate"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// SessionConfig selects the session store. Store is "memory" or "redis".
type SessionConfig struct {
	Store      string        `mapstructure:"store"`
	TTL        time.Duration `mapstructure:"ttl"`
	CookieName string        `mapstructure:"cookie_name"`
	Secure     bool          `mapstructure:"secure"`
}

type BiddingConfig struct {
	AppendTimeout time.Duration `mapstructure:"append_timeout"`
	HistoryLimit  int           `mapstructure:"history_limit"`
}

type StreamConfig struct {
	SendBuffer     int           `mapstructure:"send_buffer"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	PingPeriod     time.Duration `mapstructure:"ping_period"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	RequireSession bool          `mapstructure:"require_session"`
}

type RegistryConfig struct {
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

var keys = []string{
	"app.port", "app.env", "app.frontend_origin", "app.shutdown_timeout",
	"log.level",
	"db.driver", "db.host", "db.port", "db.user", "db.password", "db.name", "db.max_conns", "db.migrate",
	"redis.addr", "redis.password", "redis.db",
	"session.store", "session.ttl", "session.cookie_name", "session.secure",
	"bidding.append_timeout", "bidding.history_limit",
	"stream.send_buffer", "stream.write_wait", "stream.pong_wait", "stream.ping_period",
	"stream.max_message_size", "stream.require_session",
	"registry.sweep_interval",
}

// LoadConfig reads configuration from .env file, environment variables, and defaults.
func LoadConfig() (*Config, error) {
	// a missing .env is normal outside local development
	_ = godotenv.Load()

	return load(viper.New())
}

func load(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	// maps dot-notation to underscores (e.g., "app.port" -> "APP_PORT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("config: bind env for %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unable to decode into struct: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.port", ":3000")
	v.SetDefault("app.env", "local")
	v.SetDefault("app.frontend_origin", "http://localhost:5173")
	v.SetDefault("app.shutdown_timeout", 15*time.Second)

	v.SetDefault("log.level", "info")

	v.SetDefault("db.driver", "memory")
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 3306)
	v.SetDefault("db.user", "root")
	v.SetDefault("db.password", "")
	v.SetDefault("db.name", "auc")
	v.SetDefault("db.max_conns", 5)
	v.SetDefault("db.migrate", false)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("session.store", "memory")
	v.SetDefault("session.ttl", 24*time.Hour)
	v.SetDefault("session.cookie_name", "session")
	v.SetDefault("session.secure", false)

	v.SetDefault("bidding.append_timeout", 2*time.Second)
	v.SetDefault("bidding.history_limit", 20)

	v.SetDefault("stream.send_buffer", 256)
	v.SetDefault("stream.write_wait", 10*time.Second)
	v.SetDefault("stream.pong_wait", 60*time.Second)
	v.SetDefault("stream.ping_period", 50*time.Second)
	v.SetDefault("stream.max_message_size", 1024)
	v.SetDefault("stream.require_session", false)

	v.SetDefault("registry.sweep_interval", time.Second)
}

// Validate rejects combinations the server cannot start with
func (c *Config) Validate() error {
	switch c.DB.Driver {
	case "memory", "mysql":
	default:
		return fmt.Errorf("config: unsupported db.driver %q", c.DB.Driver)
	}
	switch c.Session.Store {
	case "memory", "redis":
	default:
		return fmt.Errorf("config: unsupported session.store %q", c.Session.Store)
	}
	if c.Stream.SendBuffer <= 0 {
		return fmt.Errorf("config: stream.send_buffer must be positive")
	}
	if c.Stream.PingPeriod >= c.Stream.PongWait {
		return fmt.Errorf("config: stream.ping_period must be shorter than stream.pong_wait")
	}
	if c.Bidding.AppendTimeout <= 0 {
		return fmt.Errorf("config: bidding.append_timeout must be positive")
	}
	if c.Registry.SweepInterval <= 0 {
		return fmt.Errorf("config: registry.sweep_interval must be positive")
	}
	return nil
}

// MySQLAddr returns host:port for the MySQL driver
func (c DBConfig) MySQLAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

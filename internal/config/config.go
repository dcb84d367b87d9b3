package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

const (
	SinkNone     = "none"
	SinkRedis    = "redis"
	SinkRabbitMQ = "rabbitmq"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Hub       HubConfig       `mapstructure:"hub"`
	Redis     RedisConfig     `mapstructure:"redis"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	RabbitMQ  RabbitMQConfig  `mapstructure:"rabbitmq"`
	Relay     RelayConfig     `mapstructure:"relay"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Env             string        `mapstructure:"env"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// AllowedOrigins is passed to the WebSocket handshake; empty means same-origin only.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type HubConfig struct {
	BufferSize     int    `mapstructure:"buffer_size"`
	OverflowPolicy string `mapstructure:"overflow_policy"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type RateLimitConfig struct {
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
	Burst    int           `mapstructure:"burst"`
}

type RabbitMQConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	VHost    string `mapstructure:"vhost"`
	Exchange string `mapstructure:"exchange"`
	Queue    string `mapstructure:"queue"`
}

type RelayConfig struct {
	Sink         string `mapstructure:"sink"`
	RedisChannel string `mapstructure:"redis_channel"`
}

func Load(configFile string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.env", "development")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("hub.buffer_size", 256)
	v.SetDefault("hub.overflow_policy", "drop_oldest")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("rate_limit.requests", 1000)
	v.SetDefault("rate_limit.window", time.Minute)
	v.SetDefault("rate_limit.burst", 50)
	v.SetDefault("rabbitmq.host", "localhost")
	v.SetDefault("rabbitmq.port", 5672)
	v.SetDefault("rabbitmq.user", "guest")
	v.SetDefault("rabbitmq.password", "guest")
	v.SetDefault("rabbitmq.vhost", "/")
	v.SetDefault("rabbitmq.exchange", "livepoll")
	v.SetDefault("rabbitmq.queue", "livepoll_notifications")
	v.SetDefault("relay.sink", SinkNone)
	v.SetDefault("relay.redis_channel", "livepoll:events")

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	if configFile != "" {
		v.SetConfigFile(configFile)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}
	if err := bindEnvs(v); err != nil {
		return nil, fmt.Errorf("bind env vars: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

func bindEnvs(v *viper.Viper) error {
	bindings := map[string]string{
		"server.port":             "LIVEPOLL_SERVER_PORT",
		"server.env":              "LIVEPOLL_SERVER_ENV",
		"server.shutdown_timeout": "LIVEPOLL_SERVER_SHUTDOWN_TIMEOUT",
		"log.level":               "LIVEPOLL_LOG_LEVEL",
		"hub.buffer_size":         "LIVEPOLL_HUB_BUFFER_SIZE",
		"hub.overflow_policy":     "LIVEPOLL_HUB_OVERFLOW_POLICY",
		"redis.enabled":           "LIVEPOLL_REDIS_ENABLED",
		"redis.host":              "LIVEPOLL_REDIS_HOST",
		"redis.port":              "LIVEPOLL_REDIS_PORT",
		"redis.password":          "LIVEPOLL_REDIS_PASSWORD",
		"redis.db":                "LIVEPOLL_REDIS_DB",
		"rate_limit.requests":     "LIVEPOLL_RATE_LIMIT_REQUESTS",
		"rate_limit.window":       "LIVEPOLL_RATE_LIMIT_WINDOW",
		"rate_limit.burst":        "LIVEPOLL_RATE_LIMIT_BURST",
		"rabbitmq.host":           "LIVEPOLL_RABBITMQ_HOST",
		"rabbitmq.port":           "LIVEPOLL_RABBITMQ_PORT",
		"rabbitmq.user":           "LIVEPOLL_RABBITMQ_USER",
		"rabbitmq.password":       "LIVEPOLL_RABBITMQ_PASSWORD",
		"rabbitmq.vhost":          "LIVEPOLL_RABBITMQ_VHOST",
		"rabbitmq.exchange":       "LIVEPOLL_RABBITMQ_EXCHANGE",
		"rabbitmq.queue":          "LIVEPOLL_RABBITMQ_QUEUE",
		"relay.sink":              "LIVEPOLL_RELAY_SINK",
		"relay.redis_channel":     "LIVEPOLL_RELAY_REDIS_CHANNEL",
	}

	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	return nil
}

func validateConfig(cfg *Config) error {
	if cfg.Server.Port <= 0 {
		return fmt.Errorf("server.port must be greater than 0")
	}
	if cfg.Server.Env == "" {
		return fmt.Errorf("server.env is required")
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be greater than 0")
	}

	if cfg.Hub.BufferSize <= 0 {
		return fmt.Errorf("hub.buffer_size must be greater than 0")
	}
	switch cfg.Hub.OverflowPolicy {
	case "drop_oldest", "drop_newest", "disconnect":
	default:
		return fmt.Errorf("hub.overflow_policy must be one of drop_oldest, drop_newest, disconnect")
	}

	switch cfg.Relay.Sink {
	case SinkNone:
	case SinkRedis:
		if !cfg.Redis.Enabled {
			return fmt.Errorf("relay.sink redis requires redis.enabled")
		}
		if cfg.Relay.RedisChannel == "" {
			return fmt.Errorf("relay.redis_channel is required")
		}
	case SinkRabbitMQ:
		if err := validateRabbitMQ(cfg.RabbitMQ); err != nil {
			return err
		}
	default:
		return fmt.Errorf("relay.sink must be one of none, redis, rabbitmq")
	}

	if cfg.Redis.Enabled {
		if cfg.Redis.Host == "" {
			return fmt.Errorf("redis.host is required")
		}
		if cfg.Redis.Port <= 0 {
			return fmt.Errorf("redis.port must be greater than 0")
		}
		if cfg.RateLimit.Requests <= 0 || cfg.RateLimit.Burst <= 0 {
			return fmt.Errorf("rate_limit.requests and rate_limit.burst must be greater than 0")
		}
		if cfg.RateLimit.Window < time.Second {
			return fmt.Errorf("rate_limit.window must be at least 1s")
		}
	}

	return nil
}

// ValidateRabbitMQ is also used by the consumer command, which needs the
// broker regardless of relay.sink.
func (c *Config) ValidateRabbitMQ() error {
	return validateRabbitMQ(c.RabbitMQ)
}

func validateRabbitMQ(cfg RabbitMQConfig) error {
	if cfg.Host == "" {
		return fmt.Errorf("rabbitmq.host is required")
	}
	if cfg.Port <= 0 {
		return fmt.Errorf("rabbitmq.port must be greater than 0")
	}
	if cfg.User == "" {
		return fmt.Errorf("rabbitmq.user is required")
	}
	if cfg.Exchange == "" {
		return fmt.Errorf("rabbitmq.exchange is required")
	}
	return nil
}

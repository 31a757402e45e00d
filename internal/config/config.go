// Package config loads and validates the stalkerd configuration from a
// YAML file, environment variables (STALKER_*), and built-in defaults.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	API      APIConfig      `mapstructure:"api"`
	Stream   StreamConfig   `mapstructure:"stream"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Roster   RosterConfig   `mapstructure:"roster"`
	Resolver ResolverConfig `mapstructure:"resolver"`
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type APIConfig struct {
	BaseURL    string `mapstructure:"base_url"`
	APIKey     string `mapstructure:"api_key"`
	TimeoutSec int    `mapstructure:"timeout_sec"`
}

type StreamConfig struct {
	PollIntervalMS int `mapstructure:"poll_interval_ms"`
	// RetryBudget bounds consecutive reconnect attempts; 0 fails on the
	// first transient error, -1 retries forever, which is the right
	// setting for a long-running loop.
	RetryBudget int `mapstructure:"retry_budget"`
}

type QueueConfig struct {
	// Driver selects the queue backend: "nats" (durable, default) or
	// "memory" (single-process, run command only).
	Driver        string `mapstructure:"driver"`
	URL           string `mapstructure:"url"`
	Stream        string `mapstructure:"stream"`
	Subject       string `mapstructure:"subject"`
	Durable       string `mapstructure:"durable"`
	QueueGroup    string `mapstructure:"queue_group"`
	Workers       int    `mapstructure:"workers"`
	Compression   bool   `mapstructure:"compression"`
	BufferSize    int    `mapstructure:"buffer_size"`
	MaxAgeHours   int    `mapstructure:"max_age_hours"`
	AckWaitSec    int    `mapstructure:"ack_wait_sec"`
	MaxReconnects int    `mapstructure:"max_reconnects"`
	Embedded      bool   `mapstructure:"embedded"`
	StoreDir      string `mapstructure:"store_dir"`
}

type RosterConfig struct {
	// Players seeds the tracked roster with 64-bit account IDs.
	Players []uint64 `mapstructure:"players"`
}

type ResolverConfig struct {
	CacheTTLSec int `mapstructure:"cache_ttl_sec"`
}

type ServerConfig struct {
	Port          string `mapstructure:"port"`
	MatchLinkBase string `mapstructure:"match_link_base"`
}

type LoggingConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Directory string `mapstructure:"directory"`
	Level     string `mapstructure:"level"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("api.base_url", "https://api.steampowered.com")
	v.SetDefault("api.timeout_sec", 10)
	v.SetDefault("stream.poll_interval_ms", 1000)
	v.SetDefault("stream.retry_budget", -1)
	v.SetDefault("queue.driver", "nats")
	v.SetDefault("queue.url", "nats://127.0.0.1:4222")
	v.SetDefault("queue.stream", "MATCHES")
	v.SetDefault("queue.subject", "matches.completed")
	v.SetDefault("queue.durable", "match-processor")
	v.SetDefault("queue.queue_group", "match-processor")
	v.SetDefault("queue.workers", 2)
	v.SetDefault("queue.compression", true)
	v.SetDefault("queue.buffer_size", 1024)
	v.SetDefault("queue.max_age_hours", 24)
	v.SetDefault("queue.ack_wait_sec", 30)
	v.SetDefault("queue.max_reconnects", -1)
	v.SetDefault("queue.store_dir", "data/jetstream")
	v.SetDefault("resolver.cache_ttl_sec", 600)
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.match_link_base", "http://www.dotabuff.com/matches/")
	v.SetDefault("logging.enabled", true)
	v.SetDefault("logging.directory", "logs")
	v.SetDefault("logging.level", "info")

	// Environment variable support
	v.SetEnvPrefix("STALKER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Explicitly bind nested keys to env vars
	_ = v.BindEnv("api.api_key", "STALKER_API_KEY")

	// Load config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("default")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.API.APIKey == "" {
		return fmt.Errorf("api_key is required (set STALKER_API_KEY env var)")
	}
	if c.Stream.PollIntervalMS < 100 {
		return fmt.Errorf("poll_interval_ms must be >= 100")
	}
	if c.Queue.Workers < 1 {
		return fmt.Errorf("queue workers must be >= 1")
	}
	switch c.Queue.Driver {
	case "nats", "memory":
	default:
		return fmt.Errorf("unknown queue driver %q (valid: nats, memory)", c.Queue.Driver)
	}
	return nil
}

// Package config provides configuration loading for the logger service.
package config

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/bugtracker/history-stack/common/config"
	natsclient "github.com/bugtracker/history-stack/common/messaging/nats"
)

// Config holds all configuration for the logger service
type Config struct {
	Server   config.ServerConfig   `mapstructure:"server"`
	Database config.DatabaseConfig `mapstructure:"database"`
	NATS     config.NATSConfig     `mapstructure:"nats"`
	Consumer config.ConsumerConfig `mapstructure:"consumer"`
	Logging  config.LoggingConfig  `mapstructure:"logging"`
	Auth     config.AuthConfig     `mapstructure:"auth"`
	Audit    config.AuditConfig    `mapstructure:"audit"`
	Logs     LogsConfig            `mapstructure:"logs"`
}

// LogsConfig controls where entries are stored and how failed ingestion is handled.
type LogsConfig struct {
	Collection string `mapstructure:"collection"`
	// MaxAttempts is the number of deliveries before a failing entry is parked.
	MaxAttempts int `mapstructure:"max_attempts"`
}

// Load reads configuration from file and environment variables (prefix LOGGER_).
func Load(configPath string) (*Config, error) {
	v := viper.New()
	config.SetInfraDefaults(v, 8092, "bugtracker_history")

	v.SetDefault("logs.collection", "logs")
	v.SetDefault("logs.max_attempts", 3)

	var cfg Config
	if err := config.Read(v, configPath, "LOGGER", "/etc/bugtracker/logger", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that a failing entry is parked before the broker gives up on it.
func (c *Config) Validate() error {
	if c.Logs.MaxAttempts < 1 {
		return fmt.Errorf("logs.max_attempts must be at least 1, got %d", c.Logs.MaxAttempts)
	}
	maxDeliver := c.Consumer.MaxDeliver
	if maxDeliver == 0 {
		maxDeliver = natsclient.DefaultMaxDeliver
	}
	if maxDeliver > 0 && c.Logs.MaxAttempts > maxDeliver {
		return fmt.Errorf("logs.max_attempts (%d) exceeds consumer.max_deliver (%d); entries would be dropped before they are parked",
			c.Logs.MaxAttempts, maxDeliver)
	}
	return nil
}

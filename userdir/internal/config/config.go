// Package config provides configuration loading for the user directory.
package config

import (
	"time"

	"github.com/spf13/viper"

	"github.com/bugtracker/history-stack/common/config"
)

// Config holds all configuration for the user directory
type Config struct {
	Server   config.ServerConfig   `mapstructure:"server"`
	Database config.DatabaseConfig `mapstructure:"database"`
	NATS     config.NATSConfig     `mapstructure:"nats"`
	Consumer config.ConsumerConfig `mapstructure:"consumer"`
	Redis    config.RedisConfig    `mapstructure:"redis"`
	Logging  config.LoggingConfig  `mapstructure:"logging"`
	Auth     config.AuthConfig     `mapstructure:"auth"`
	Users    UsersConfig           `mapstructure:"users"`
}

type UsersConfig struct {
	Collection string        `mapstructure:"collection"`
	CacheTTL   time.Duration `mapstructure:"cache_ttl"`
}

// Load reads configuration from file and environment variables (prefix USERDIR_).
func Load(configPath string) (*Config, error) {
	v := viper.New()
	config.SetInfraDefaults(v, 8093, "bugtracker_users")

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.pool_size", 10)

	v.SetDefault("users.collection", "users")
	v.SetDefault("users.cache_ttl", "5m")

	var cfg Config
	if err := config.Read(v, configPath, "USERDIR", "/etc/bugtracker/userdir", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

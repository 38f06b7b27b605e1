// Package config provides configuration loading for the versioning service.
package config

import (
	"github.com/spf13/viper"

	"github.com/bugtracker/history-stack/common/config"
)

// Config holds all configuration for the versioning service
type Config struct {
	Server     config.ServerConfig   `mapstructure:"server"`
	Database   config.DatabaseConfig `mapstructure:"database"`
	NATS       config.NATSConfig     `mapstructure:"nats"`
	Consumer   config.ConsumerConfig `mapstructure:"consumer"`
	Logging    config.LoggingConfig  `mapstructure:"logging"`
	Auth       config.AuthConfig     `mapstructure:"auth"`
	Audit      config.AuditConfig    `mapstructure:"audit"`
	Versioning VersioningConfig      `mapstructure:"versioning"`
}

// VersioningConfig maps item types to the collections holding their history.
type VersioningConfig struct {
	ItemTypes map[string]string `mapstructure:"item_types"`
}

// Load reads configuration from file and environment variables (prefix VERSIONING_).
func Load(configPath string) (*Config, error) {
	v := viper.New()
	config.SetInfraDefaults(v, 8091, "bugtracker_history")

	v.SetDefault("versioning.item_types", map[string]string{
		"ticket":  "tickets",
		"task":    "tasks",
		"subtask": "subtasks",
	})

	var cfg Config
	if err := config.Read(v, configPath, "VERSIONING", "/etc/bugtracker/versioning", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

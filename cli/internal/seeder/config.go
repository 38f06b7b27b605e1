package seeder

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/bugtracker/history-stack/common/events"
)

// Config controls how much history the seeder generates.
type Config struct {
	Items           int           `mapstructure:"items"`
	VersionsPerItem int           `mapstructure:"versions_per_item"`
	Logs            int           `mapstructure:"logs"`
	ItemTypes       []string      `mapstructure:"item_types"`
	LogTypes        []string      `mapstructure:"log_types"`
	TimeSpread      time.Duration `mapstructure:"time_spread"`
	// Service names the publishing service in log subjects.
	Service string `mapstructure:"service"`
	// Seed makes runs reproducible; zero picks a random seed.
	Seed int64 `mapstructure:"seed"`
}

// LoadConfig resolves settings with the cascade: flags > ./seeder.yaml > ~/.bthist/seeder.yaml > defaults.
// Flags are applied by the caller on the returned Config.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("seeder")
	v.SetConfigType("yaml")
	v.SetEnvPrefix("SEEDER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".bthist"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("items", 10)
	v.SetDefault("versions_per_item", 5)
	v.SetDefault("logs", 50)
	v.SetDefault("item_types", []string{"ticket", "task", "subtask"})
	v.SetDefault("log_types", []string{events.LogAudit, events.LogInfo, events.LogError})
	v.SetDefault("time_spread", 7*24*time.Hour)
	v.SetDefault("service", "seeder")
	v.SetDefault("seed", 0)
}

// Validate checks counts and type names.
func (c *Config) Validate() error {
	if c.Items < 0 || c.VersionsPerItem < 0 || c.Logs < 0 {
		return errors.New("counts must not be negative")
	}
	if c.Items > 0 && c.VersionsPerItem == 0 {
		return errors.New("versions_per_item must be positive when items are requested")
	}
	if c.Items > 0 && len(c.ItemTypes) == 0 {
		return errors.New("item_types is empty")
	}
	if c.Logs > 0 && len(c.LogTypes) == 0 {
		return errors.New("log_types is empty")
	}
	for _, t := range c.LogTypes {
		if !events.ValidLogType(t) {
			return fmt.Errorf("unknown log type %q", t)
		}
	}
	if c.TimeSpread < 0 {
		return errors.New("time_spread must not be negative")
	}
	return nil
}

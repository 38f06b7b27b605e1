// Package config stores bthist connection profiles in ~/.bthist/config.yaml.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type Config struct {
	CurrentProfile string              `yaml:"current_profile"`
	Profiles       map[string]*Profile `yaml:"profiles"`
	Defaults       *Profile            `yaml:"defaults"`
	path           string
}

// Profile holds the endpoints and credentials of one deployment. Empty fields fall
// back to Defaults.
type Profile struct {
	VersioningURL string `yaml:"versioning_url"`
	LoggerURL     string `yaml:"logger_url"`
	UserdirURL    string `yaml:"userdir_url"`
	NATSURL       string `yaml:"nats_url"`
	AccessToken   string `yaml:"access_token"`
	// SigningSecret signs log entries published by the seeder.
	SigningSecret string `yaml:"signing_secret,omitempty"`
}

func Default() *Config {
	return &Config{
		CurrentProfile: "default",
		Profiles:       make(map[string]*Profile),
		Defaults: &Profile{
			VersioningURL: "http://localhost:8091",
			LoggerURL:     "http://localhost:8092",
			UserdirURL:    "http://localhost:8093",
			NATSURL:       "nats://localhost:4222",
		},
	}
}

// DefaultPath returns ~/.bthist/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".bthist", "config.yaml"), nil
}

// Load reads cfgFile, or the default path when empty. A missing file yields Default().
func Load(cfgFile string) (*Config, error) {
	if cfgFile == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		cfgFile = p
	}

	cfg := Default()
	cfg.path = cfgFile

	data, err := os.ReadFile(cfgFile)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", cfgFile, err)
	}
	if cfg.Profiles == nil {
		cfg.Profiles = make(map[string]*Profile)
	}
	if cfg.Defaults == nil {
		cfg.Defaults = Default().Defaults
	}
	return cfg, nil
}

func (c *Config) Save() error {
	if c.path == "" {
		p, err := DefaultPath()
		if err != nil {
			return err
		}
		c.path = p
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0700); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(c.path, data, 0600)
}

// SaveProfile stores p under name, makes it current and writes the file.
func (c *Config) SaveProfile(name string, p *Profile) error {
	if c.Profiles == nil {
		c.Profiles = make(map[string]*Profile)
	}
	c.Profiles[name] = p
	c.CurrentProfile = name
	return c.Save()
}

// GetProfile returns the named profile, or the current one when name is empty, with
// unset endpoints filled from Defaults. An unknown name yields the defaults alone.
func (c *Config) GetProfile(name string) *Profile {
	if name == "" {
		name = c.CurrentProfile
	}

	merged := Profile{}
	if c.Defaults != nil {
		merged = *c.Defaults
	}
	p, ok := c.Profiles[name]
	if !ok {
		return &merged
	}

	if p.VersioningURL != "" {
		merged.VersioningURL = p.VersioningURL
	}
	if p.LoggerURL != "" {
		merged.LoggerURL = p.LoggerURL
	}
	if p.UserdirURL != "" {
		merged.UserdirURL = p.UserdirURL
	}
	if p.NATSURL != "" {
		merged.NATSURL = p.NATSURL
	}
	merged.AccessToken = p.AccessToken
	merged.SigningSecret = p.SigningSecret
	return &merged
}

func (c *Config) RemoveProfile(name string) error {
	if _, ok := c.Profiles[name]; !ok {
		return fmt.Errorf("profile '%s' not found", name)
	}

	delete(c.Profiles, name)

	if c.CurrentProfile == name {
		c.CurrentProfile = ""
	}
	return c.Save()
}

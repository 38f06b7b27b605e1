package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8092, cfg.Server.Port)
	assert.Equal(t, "logs", cfg.Logs.Collection)
	assert.Equal(t, 3, cfg.Logs.MaxAttempts)
	assert.Empty(t, cfg.Audit.SigningSecret)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logger.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logs:\n  max_attempts: 7\nconsumer:\n  max_deliver: 10\naudit:\n  signing_secret: from-file\n"), 0o600))
	t.Setenv("LOGGER_AUDIT_SIGNING_SECRET", "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Logs.MaxAttempts)
	assert.Equal(t, "from-env", cfg.Audit.SigningSecret)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoad_RejectsAttemptsBeyondMaxDeliver(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logger.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logs:\n  max_attempts: 10\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds consumer.max_deliver")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		maxAttempts int
		maxDeliver  int
		wantErr     bool
	}{
		{"within max deliver", 3, 5, false},
		{"equal to max deliver", 5, 5, false},
		{"unlimited deliveries", 50, -1, false},
		{"broker default", 5, 0, false},
		{"beyond broker default", 6, 0, true},
		{"beyond max deliver", 10, 5, true},
		{"zero attempts", 0, 5, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			cfg.Logs.MaxAttempts = tt.maxAttempts
			cfg.Consumer.MaxDeliver = tt.maxDeliver
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

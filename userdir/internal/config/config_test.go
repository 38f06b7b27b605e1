package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("USERDIR_REDIS_ENABLED", "false")
	t.Setenv("USERDIR_USERS_CACHE_TTL", "90s")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8093, cfg.Server.Port)
	assert.Equal(t, "users", cfg.Users.Collection)
	assert.Equal(t, 90*time.Second, cfg.Users.CacheTTL)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
}

package seeder

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bugtracker/history-stack/common/audit"
	"github.com/bugtracker/history-stack/common/events"
	"github.com/bugtracker/history-stack/common/messaging/memory"
	natsclient "github.com/bugtracker/history-stack/common/messaging/nats"
)

func testConfig() *Config {
	return &Config{
		Items:           3,
		VersionsPerItem: 4,
		Logs:            6,
		ItemTypes:       []string{"ticket", "task"},
		LogTypes:        []string{events.LogAudit, events.LogInfo, events.LogError},
		TimeSpread:      24 * time.Hour,
		Service:         "seeder",
		Seed:            42,
	}
}

func TestGeneratorIsDeterministic(t *testing.T) {
	a, b := NewGenerator(7).NewItem("ticket"), NewGenerator(7).NewItem("ticket")
	assert.Equal(t, a, b)
	assert.True(t, strings.HasPrefix(a.ID, "T-"))

	g := NewGenerator(7)
	it := g.NewItem("task")
	g.Mutate(it)
	assert.Equal(t, 2, it.Revision)
}

func TestRunnerPublishesHistory(t *testing.T) {
	broker := memory.NewBroker()
	signer := audit.NewSigner("seed-secret")
	r, err := NewRunner(testConfig(), broker, signer)
	require.NoError(t, err)

	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Versions: 12, Logs: 6}, res)

	ctx := context.Background()
	versionMsgs, err := broker.StreamMessages(ctx, natsclient.VersionEventsStream.Name, "", 100)
	require.NoError(t, err)
	require.Len(t, versionMsgs, 12)

	lastTS := map[string]int64{}
	created := map[string]int{}
	for _, msg := range versionMsgs {
		var ev events.ItemChangeEvent
		require.NoError(t, json.Unmarshal(msg.Data, &ev))
		assert.GreaterOrEqual(t, ev.Timestamp, lastTS[ev.ID], "versions of %s out of order", ev.ID)
		lastTS[ev.ID] = ev.Timestamp
		assert.NotEmpty(t, ev.MutationID)
		if strings.HasSuffix(msg.Subject, ".created") {
			created[ev.ID]++
		}
	}
	assert.Len(t, created, 3)

	logMsgs, err := broker.StreamMessages(ctx, natsclient.LogEventsStream.Name, "", 100)
	require.NoError(t, err)
	require.Len(t, logMsgs, 6)
	for _, msg := range logMsgs {
		var entry events.LogEntry
		require.NoError(t, json.Unmarshal(msg.Data, &entry))
		assert.True(t, signer.Verify(&entry, entry.Signature))
		assert.True(t, strings.HasSuffix(msg.Subject, ".seeder"))
	}
}

func TestRunnerCountsFailures(t *testing.T) {
	broker := memory.NewBroker()
	broker.SetPublishError(errors.New("stream unavailable"))

	cfg := testConfig()
	cfg.Items, cfg.VersionsPerItem, cfg.Logs = 1, 2, 1
	r, err := NewRunner(cfg, broker, nil)
	require.NoError(t, err)

	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Failed: 3}, res)
}

func TestRunnerStopsOnCancel(t *testing.T) {
	r, err := NewRunner(testConfig(), memory.NewBroker(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"negative items", func(c *Config) { c.Items = -1 }, true},
		{"zero versions per item", func(c *Config) { c.VersionsPerItem = 0 }, true},
		{"no item types", func(c *Config) { c.ItemTypes = nil }, true},
		{"unknown log type", func(c *Config) { c.LogTypes = []string{"debug"} }, true},
		{"logs only", func(c *Config) { c.Items, c.ItemTypes = 0, nil }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(cfg)
			if tt.wantErr {
				assert.Error(t, cfg.Validate())
			} else {
				assert.NoError(t, cfg.Validate())
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seeder.yaml")
	require.NoError(t, os.WriteFile(path, []byte("items: 2\nlogs: 0\nitem_types: [subtask]\ntime_spread: 1h\n"), 0600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Items)
	assert.Equal(t, 0, cfg.Logs)
	assert.Equal(t, 5, cfg.VersionsPerItem)
	assert.Equal(t, []string{"subtask"}, cfg.ItemTypes)
	assert.Equal(t, time.Hour, cfg.TimeSpread)
	assert.NoError(t, cfg.Validate())
}

// Package seeder publishes fake item changes and log entries to the broker so the
// versioning and logger services have history to serve.
package seeder

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/bugtracker/history-stack/common/audit"
	"github.com/bugtracker/history-stack/common/events"
	"github.com/bugtracker/history-stack/common/logging"
	"github.com/bugtracker/history-stack/common/messaging"
	natsclient "github.com/bugtracker/history-stack/common/messaging/nats"
)

// Broker is what the runner publishes through; *nats.JetStreamClient implements it.
type Broker interface {
	messaging.PersistentPublisher
	EnsureStream(ctx context.Context, spec messaging.StreamSpec) error
}

// Result counts what a run published.
type Result struct {
	Versions int `json:"versions"`
	Logs     int `json:"logs"`
	Failed   int `json:"failed"`
}

type Runner struct {
	cfg      *Config
	broker   Broker
	versions *events.VersionPublisher
	logs     *events.LogPublisher
	gen      *Generator
	now      func() time.Time
	logger   *slog.Logger
}

// NewRunner validates cfg. signer may be nil when the logger runs without a signing secret.
func NewRunner(cfg *Config, broker Broker, signer *audit.Signer) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Runner{
		cfg:      cfg,
		broker:   broker,
		versions: events.NewVersionPublisher(broker),
		logs:     events.NewLogPublisher(broker, cfg.Service, signer),
		gen:      NewGenerator(seed),
		now:      time.Now,
		logger:   logging.Component("seeder"),
	}, nil
}

// Run declares the event streams and publishes the configured history. Versions of one
// item are published in timestamp order. Individual publish failures are counted and
// the run continues; a cancelled context stops it.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	var res Result
	for _, spec := range []messaging.StreamSpec{natsclient.VersionEventsStream, natsclient.LogEventsStream} {
		if err := r.broker.EnsureStream(ctx, spec); err != nil {
			return res, fmt.Errorf("ensure stream %s: %w", spec.Name, err)
		}
	}

	end := r.now()
	start := end.Add(-r.cfg.TimeSpread)

	for i := 0; i < r.cfg.Items; i++ {
		item := r.gen.NewItem(r.gen.Pick(r.cfg.ItemTypes))
		stamps := r.timestamps(start, r.cfg.VersionsPerItem)
		for v, ts := range stamps {
			if v > 0 {
				r.gen.Mutate(item)
			}
			action := "updated"
			if v == 0 {
				action = "created"
			}
			ev, err := r.gen.ChangeEvent(item, ts)
			if err == nil {
				err = r.versions.Publish(ctx, action, ev)
			}
			if err != nil {
				if ctx.Err() != nil {
					return res, ctx.Err()
				}
				r.logger.Warn("failed to publish item change", logging.Item(item.ID, item.Type), logging.Error(err))
				res.Failed++
				continue
			}
			res.Versions++
		}
	}

	for _, ts := range r.timestamps(start, r.cfg.Logs) {
		entry := r.gen.LogEntry(r.gen.Pick(r.cfg.LogTypes), ts)
		if err := r.logs.Publish(ctx, entry); err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			r.logger.Warn("failed to publish log entry", logging.Error(err))
			res.Failed++
			continue
		}
		res.Logs++
	}

	r.logger.Info("seeding finished",
		slog.Int("versions", res.Versions), slog.Int("logs", res.Logs), slog.Int("failed", res.Failed))
	return res, nil
}

// timestamps returns n ascending instants within the configured spread after start.
func (r *Runner) timestamps(start time.Time, n int) []time.Time {
	out := make([]time.Time, n)
	for i := range out {
		out[i] = start.Add(r.gen.Offset(r.cfg.TimeSpread))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

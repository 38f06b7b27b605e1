// Package service resolves user ids to user records through the cache and the user store.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bugtracker/history-stack/common/logging"
	"github.com/bugtracker/history-stack/common/rpc"
	"github.com/bugtracker/history-stack/userdir/internal/metrics"
)

// MaxLookupIDs bounds one lookup request.
const MaxLookupIDs = 500

var ErrValidation = errors.New("validation failed")

// Store is implemented by *repository.UserStore.
type Store interface {
	GetUsers(ctx context.Context, ids []string) (map[string]rpc.User, error)
	PutUser(ctx context.Context, u rpc.User) error
	Ping(ctx context.Context) error
}

// Cache is implemented by *cache.UserCache.
type Cache interface {
	GetMany(ctx context.Context, ids []string) (map[string]rpc.User, error)
	SetMany(ctx context.Context, users []rpc.User) error
	Invalidate(ctx context.Context, id string) error
}

type Directory struct {
	store  Store
	cache  Cache
	logger *slog.Logger
}

func NewDirectory(store Store, cache Cache) *Directory {
	return &Directory{store: store, cache: cache, logger: logging.Component("user-directory")}
}

func (d *Directory) Ping(ctx context.Context) error {
	return d.store.Ping(ctx)
}

// Lookup returns the known users among ids in request order. Unknown ids are omitted and
// repeated ids are answered once. Cache failures fall back to the store.
func (d *Directory) Lookup(ctx context.Context, ids []string) ([]rpc.User, error) {
	if len(ids) > MaxLookupIDs {
		return nil, fmt.Errorf("%w: at most %d ids per lookup", ErrValidation, MaxLookupIDs)
	}
	metrics.LookupsTotal.Inc()

	unique := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		unique = append(unique, id)
	}
	if len(unique) == 0 {
		return []rpc.User{}, nil
	}

	found, err := d.cache.GetMany(ctx, unique)
	if err != nil {
		metrics.CacheResults.WithLabelValues("error").Inc()
		d.logger.WarnContext(ctx, "user cache read failed", logging.Error(err))
		found = map[string]rpc.User{}
	}
	metrics.CacheResults.WithLabelValues("hit").Add(float64(len(found)))

	var misses []string
	for _, id := range unique {
		if _, ok := found[id]; !ok {
			misses = append(misses, id)
		}
	}

	if len(misses) > 0 {
		metrics.CacheResults.WithLabelValues("miss").Add(float64(len(misses)))
		stored, err := d.store.GetUsers(ctx, misses)
		if err != nil {
			return nil, fmt.Errorf("lookup users: %w", err)
		}

		fill := make([]rpc.User, 0, len(stored))
		for _, id := range misses {
			if u, ok := stored[id]; ok {
				found[id] = u
				fill = append(fill, u)
			} else {
				metrics.UnknownUsers.Inc()
			}
		}
		if err := d.cache.SetMany(ctx, fill); err != nil {
			d.logger.WarnContext(ctx, "user cache write failed", logging.Error(err))
		}
	}

	out := make([]rpc.User, 0, len(found))
	for _, id := range unique {
		if u, ok := found[id]; ok {
			out = append(out, u)
		}
	}
	d.logger.DebugContext(ctx, "users resolved", slog.Int("requested", len(ids)), slog.Int("resolved", len(out)))
	return out, nil
}

// PutUser creates or replaces a user and drops its cached copy.
func (d *Directory) PutUser(ctx context.Context, u rpc.User) error {
	if u.ID == "" || strings.Contains(u.ID, "/") {
		return fmt.Errorf("%w: user id must be non-empty and contain no slash", ErrValidation)
	}
	if u.Username == "" {
		return fmt.Errorf("%w: username is required", ErrValidation)
	}
	if err := d.store.PutUser(ctx, u); err != nil {
		return err
	}
	if err := d.cache.Invalidate(ctx, u.ID); err != nil {
		d.logger.WarnContext(ctx, "user cache invalidation failed", slog.String("user_id", u.ID), logging.Error(err))
	}
	return nil
}

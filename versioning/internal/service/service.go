// Package service implements the versioning rules on top of the version store.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bugtracker/history-stack/common/logging"
	"github.com/bugtracker/history-stack/versioning/internal/metrics"
	"github.com/bugtracker/history-stack/versioning/internal/models"
	"github.com/bugtracker/history-stack/versioning/internal/repository"
)

// Store is the persistence the service needs; *repository.VersionStore implements it.
type Store interface {
	Collection(itemType string) (string, error)
	AppendVersion(ctx context.Context, itemID, itemType string, build repository.BuildFunc, idemKey string) (*models.VersionEnvelope, error)
	GetItemVersion(ctx context.Context, itemID, itemType, versionID string) (*models.VersionEnvelope, error)
	GetItemVersions(ctx context.Context, itemID, itemType string, limit int, startAfter string) ([]*models.VersionEnvelope, error)
	DeleteItemVersion(ctx context.Context, itemID, itemType, versionID string) error
	DeleteItemVersions(ctx context.Context, itemID, itemType string, versionIDs []string) error
	DeleteItem(ctx context.Context, itemID, itemType string) (int, error)
	Ping(ctx context.Context) error
}

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

type Service struct {
	store  Store
	now    func() time.Time
	newID  func() (string, error)
	logger *slog.Logger
}

func NewService(store Store) *Service {
	return &Service{
		store:  store,
		now:    time.Now,
		newID:  newVersionID,
		logger: slog.Default().With(slog.String("component", "version-service")),
	}
}

// WithClock replaces the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// WithIDGenerator replaces the envelope id generator.
func (s *Service) WithIDGenerator(gen func() (string, error)) *Service {
	s.newID = gen
	return s
}

func newVersionID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Ping reports whether the store is reachable.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// CreateItemVersion appends the next version of an item. With an idempotency key that was
// already recorded, the original envelope is returned and nothing is written.
func (s *Service) CreateItemVersion(ctx context.Context, itemType, itemID string, data json.RawMessage, idempotencyKey string) (*models.VersionEnvelope, error) {
	if err := s.validateItem(itemType, itemID); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		data = json.RawMessage("null")
	}

	var idErr error
	build := func(_ int64, prevTimestamp int64) *models.VersionEnvelope {
		ts := s.now().UnixMilli()
		// Timestamps strictly increase per item so (timestamp, id) order matches version order.
		if ts <= prevTimestamp {
			ts = prevTimestamp + 1
		}
		id, err := s.newID()
		if err != nil {
			idErr = err
		}
		return &models.VersionEnvelope{ID: id, Timestamp: ts, Data: data}
	}

	env, err := s.store.AppendVersion(ctx, itemID, itemType, build, idempotencyKey)
	if idErr != nil {
		return nil, &OpError{Op: "generate version id", Err: idErr}
	}
	switch {
	case errors.Is(err, repository.ErrDuplicateMutation):
		metrics.DuplicatesSkipped.WithLabelValues(itemType).Inc()
		s.logger.InfoContext(ctx, "mutation already versioned",
			logging.Item(itemID, itemType), logging.Version(env.Version), slog.String("mutation_id", idempotencyKey))
		return env, nil
	case err != nil:
		return nil, &OpError{Op: "create item version", Err: err}
	}

	metrics.VersionsCreated.WithLabelValues(itemType).Inc()
	s.logger.DebugContext(ctx, "item version created", logging.Item(itemID, itemType), logging.Version(env.Version))
	return env, nil
}

// GetItemVersion returns one version of an item.
func (s *Service) GetItemVersion(ctx context.Context, itemType, itemID, versionID string) (*models.VersionEnvelope, error) {
	if err := s.validateItem(itemType, itemID); err != nil {
		return nil, err
	}
	if versionID == "" {
		return nil, &ValidationError{Field: "versionId", Reason: "required"}
	}
	env, err := s.store.GetItemVersion(ctx, itemID, itemType, versionID)
	if err != nil {
		return nil, wrap("get item version", err)
	}
	return env, nil
}

// GetItemVersions returns a page of history in ascending order. limit 0 selects the default.
func (s *Service) GetItemVersions(ctx context.Context, itemType, itemID string, limit int, startAfter string) (*models.VersionPage, error) {
	if err := s.validateItem(itemType, itemID); err != nil {
		return nil, err
	}
	if limit == 0 {
		limit = DefaultPageSize
	}
	if limit < 1 || limit > MaxPageSize {
		return nil, &ValidationError{Field: "limit", Reason: "must be between 1 and 100"}
	}

	versions, err := s.store.GetItemVersions(ctx, itemID, itemType, limit, startAfter)
	if err != nil {
		return nil, wrap("get item versions", err)
	}
	page := &models.VersionPage{Versions: versions}
	if len(versions) == limit {
		page.NextStartAfter = versions[len(versions)-1].ID
	}
	return page, nil
}

// DeleteItemVersions removes the listed versions of an item, all or none.
func (s *Service) DeleteItemVersions(ctx context.Context, itemType, itemID string, versionIDs []string) error {
	if err := s.validateItem(itemType, itemID); err != nil {
		return err
	}
	if len(versionIDs) == 0 {
		return &ValidationError{Field: "versions", Reason: "at least one version id is required"}
	}
	for _, id := range versionIDs {
		if id == "" {
			return &ValidationError{Field: "versions", Reason: "version ids cannot be empty"}
		}
	}

	var err error
	if len(versionIDs) == 1 {
		err = s.store.DeleteItemVersion(ctx, itemID, itemType, versionIDs[0])
	} else {
		err = s.store.DeleteItemVersions(ctx, itemID, itemType, versionIDs)
	}
	if err != nil {
		return wrap("delete item versions", err)
	}
	metrics.VersionsDeleted.WithLabelValues(itemType).Add(float64(len(versionIDs)))
	return nil
}

// DeleteItem removes an item together with its whole history.
func (s *Service) DeleteItem(ctx context.Context, itemType, itemID string) error {
	if err := s.validateItem(itemType, itemID); err != nil {
		return err
	}
	n, err := s.store.DeleteItem(ctx, itemID, itemType)
	if err != nil {
		return wrap("delete item", err)
	}
	s.logger.InfoContext(ctx, "item history deleted", logging.Item(itemID, itemType), slog.Int("documents", n))
	return nil
}

func (s *Service) validateItem(itemType, itemID string) error {
	if _, err := s.store.Collection(itemType); err != nil {
		return err
	}
	if itemID == "" {
		return &ValidationError{Field: "itemId", Reason: "required"}
	}
	return nil
}

// wrap keeps domain errors as they are and wraps everything else in an OpError.
func wrap(op string, err error) error {
	if errors.Is(err, repository.ErrVersionNotFound) ||
		errors.Is(err, repository.ErrItemNotFound) ||
		errors.Is(err, repository.ErrInvalidItemType) {
		return err
	}
	return &OpError{Op: op, Err: err}
}

// Package repository stores item version history in the document store.
//
// Layout, for an item type mapped to collection C:
//
//	C/<itemId>                      item document {id, type, lastVersion, lastVersionId, updatedAt}
//	C/<itemId>/versions/<id>        version envelopes
//	C/<itemId>/mutations/<key>      idempotency markers {versionId, timestamp}
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/bugtracker/history-stack/common/database"
	"github.com/bugtracker/history-stack/common/docstore"
	"github.com/bugtracker/history-stack/versioning/internal/models"
)

var (
	ErrInvalidItemType   = errors.New("invalid item type")
	ErrItemNotFound      = errors.New("item not found")
	ErrVersionNotFound   = errors.New("item version not found")
	ErrDuplicateMutation = errors.New("mutation already recorded")
)

const (
	versionsCollection  = "versions"
	mutationsCollection = "mutations"
)

// VersionStore persists version envelopes per item.
type VersionStore struct {
	store       docstore.Store
	collections map[string]string
}

// NewVersionStore creates a store; collections maps item types to top-level collection names.
func NewVersionStore(store docstore.Store, collections map[string]string) *VersionStore {
	cols := make(map[string]string, len(collections))
	for k, v := range collections {
		cols[k] = v
	}
	return &VersionStore{store: store, collections: cols}
}

// Collection returns the collection for itemType or ErrInvalidItemType.
func (s *VersionStore) Collection(itemType string) (string, error) {
	c, ok := s.collections[itemType]
	if !ok || c == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidItemType, itemType)
	}
	return c, nil
}

func (s *VersionStore) versions(itemID, itemType string) (string, error) {
	c, err := s.Collection(itemType)
	if err != nil {
		return "", err
	}
	return docstore.Path(c, itemID, versionsCollection), nil
}

// Ping checks the underlying store.
func (s *VersionStore) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// CreateItemVersion writes env under the item's versions keyed by env.ID without touching the
// item counter. It backfills imported history; AppendVersion continues numbering after it.
func (s *VersionStore) CreateItemVersion(ctx context.Context, itemID, itemType string, env *models.VersionEnvelope) (*models.VersionEnvelope, error) {
	col, err := s.versions(itemID, itemType)
	if err != nil {
		return nil, err
	}
	data, err := docstore.Encode(env)
	if err != nil {
		return nil, err
	}

	ctx, cancel := database.WriteContext(ctx)
	defer cancel()
	if err := s.store.Set(ctx, col, env.ID, data); err != nil {
		return nil, fmt.Errorf("create item version: %w", err)
	}
	return env, nil
}

// GetLastVersionNumber returns the version of the newest envelope by timestamp, 0 when none.
func (s *VersionStore) GetLastVersionNumber(ctx context.Context, itemID, itemType string) (int64, error) {
	col, err := s.versions(itemID, itemType)
	if err != nil {
		return 0, err
	}

	ctx, cancel := database.QueryContext(ctx)
	defer cancel()
	version, _, err := newestVersion(ctx, s.store, col)
	return version, err
}

// newestVersion returns the version and timestamp of the newest envelope in col.
func newestVersion(ctx context.Context, r docstore.Reader, col string) (version, timestamp int64, err error) {
	docs, err := r.Query(ctx, docstore.Query{
		Collection: col,
		OrderBy:    "timestamp",
		Desc:       true,
		Limit:      1,
		Select:     []string{"version", "timestamp"},
	})
	if err != nil {
		return 0, 0, fmt.Errorf("get last item version: %w", err)
	}
	if len(docs) == 0 {
		return 0, 0, nil
	}
	return docs[0].Int("version"), docs[0].Int("timestamp"), nil
}

// GetItemVersion returns one envelope.
func (s *VersionStore) GetItemVersion(ctx context.Context, itemID, itemType, versionID string) (*models.VersionEnvelope, error) {
	col, err := s.versions(itemID, itemType)
	if err != nil {
		return nil, err
	}

	ctx, cancel := database.QueryContext(ctx)
	defer cancel()
	return getVersion(ctx, s.store, col, versionID)
}

// GetItemVersions returns up to limit envelopes in ascending timestamp order, strictly after
// the envelope startAfter. An unknown startAfter reads from the beginning.
func (s *VersionStore) GetItemVersions(ctx context.Context, itemID, itemType string, limit int, startAfter string) ([]*models.VersionEnvelope, error) {
	col, err := s.versions(itemID, itemType)
	if err != nil {
		return nil, err
	}

	ctx, cancel := database.QueryContext(ctx)
	defer cancel()

	q := docstore.Query{Collection: col, OrderBy: "timestamp", Limit: limit}
	if startAfter != "" {
		last, err := s.store.Get(ctx, col, startAfter)
		switch {
		case err == nil:
			q.StartAfter = docstore.CursorOf(last, "timestamp")
		case !errors.Is(err, docstore.ErrNotFound):
			return nil, fmt.Errorf("resolve cursor %s: %w", startAfter, err)
		}
	}

	docs, err := s.store.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("get item versions: %w", err)
	}
	out := make([]*models.VersionEnvelope, 0, len(docs))
	for _, d := range docs {
		var env models.VersionEnvelope
		if err := d.DataTo(&env); err != nil {
			return nil, err
		}
		out = append(out, &env)
	}
	return out, nil
}

// DeleteItemVersion removes one envelope.
func (s *VersionStore) DeleteItemVersion(ctx context.Context, itemID, itemType, versionID string) error {
	col, err := s.versions(itemID, itemType)
	if err != nil {
		return err
	}

	ctx, cancel := database.WriteContext(ctx)
	defer cancel()
	if err := s.store.Delete(ctx, col, versionID); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrVersionNotFound, versionID)
		}
		return fmt.Errorf("delete item version: %w", err)
	}
	return nil
}

// DeleteItemVersions removes all of versionIDs or none of them.
func (s *VersionStore) DeleteItemVersions(ctx context.Context, itemID, itemType string, versionIDs []string) error {
	col, err := s.versions(itemID, itemType)
	if err != nil {
		return err
	}

	ctx, cancel := database.BulkContext(ctx)
	defer cancel()
	return s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		for _, id := range versionIDs {
			if err := tx.Delete(ctx, col, id); err != nil {
				if errors.Is(err, docstore.ErrNotFound) {
					return fmt.Errorf("%w: %s", ErrVersionNotFound, id)
				}
				return fmt.Errorf("delete item version %s: %w", id, err)
			}
		}
		return nil
	})
}

// DeleteItem removes the item document and its whole history.
func (s *VersionStore) DeleteItem(ctx context.Context, itemID, itemType string) (int, error) {
	col, err := s.Collection(itemType)
	if err != nil {
		return 0, err
	}

	ctx, cancel := database.BulkContext(ctx)
	defer cancel()

	removed := 0
	err = s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		if _, err := tx.Get(ctx, col, itemID); err != nil {
			if errors.Is(err, docstore.ErrNotFound) {
				return fmt.Errorf("%w: %s/%s", ErrItemNotFound, itemType, itemID)
			}
			return err
		}
		n, err := tx.DeleteTree(ctx, col, itemID)
		if err != nil {
			return fmt.Errorf("delete item %s: %w", itemID, err)
		}
		removed = n
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// BuildFunc creates the envelope for the allocated version number.
// prevTimestamp is the timestamp of the item's previous version, 0 for the first.
type BuildFunc func(version, prevTimestamp int64) *models.VersionEnvelope

// AppendVersion allocates the next version number from the item's counter and stores the
// envelope built for it, all in one transaction. When idemKey is set and was already
// recorded for the item, nothing is written and the stored envelope is returned together
// with ErrDuplicateMutation.
func (s *VersionStore) AppendVersion(ctx context.Context, itemID, itemType string, build BuildFunc, idemKey string) (*models.VersionEnvelope, error) {
	col, err := s.Collection(itemType)
	if err != nil {
		return nil, err
	}
	versionsCol := docstore.Path(col, itemID, versionsCollection)
	mutationsCol := docstore.Path(col, itemID, mutationsCollection)

	ctx, cancel := database.WriteContext(ctx)
	defer cancel()

	var env *models.VersionEnvelope
	err = s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		if idemKey != "" {
			marker, err := tx.Get(ctx, mutationsCol, idemKey)
			switch {
			case err == nil:
				versionID, _ := marker.Data["versionId"].(string)
				prev, err := getVersion(ctx, tx, versionsCol, versionID)
				if err != nil {
					return fmt.Errorf("load recorded version for mutation %s: %w", idemKey, err)
				}
				env = prev
				return ErrDuplicateMutation
			case !errors.Is(err, docstore.ErrNotFound):
				return fmt.Errorf("check mutation %s: %w", idemKey, err)
			}
		}

		version, err := tx.Increment(ctx, col, itemID, "lastVersion", 1)
		if err != nil {
			return fmt.Errorf("allocate version: %w", err)
		}
		item, err := tx.Get(ctx, col, itemID)
		if err != nil {
			return fmt.Errorf("load item %s: %w", itemID, err)
		}
		prevTimestamp := item.Int("updatedAt")
		if version == 1 {
			// A new counter may sit on top of backfilled history.
			last, lastTimestamp, err := newestVersion(ctx, tx, versionsCol)
			if err != nil {
				return err
			}
			if last > 0 {
				version = last + 1
				prevTimestamp = lastTimestamp
			}
		}

		env = build(version, prevTimestamp)
		env.Version = version
		env.IdempotencyKey = idemKey

		if err := tx.Set(ctx, col, itemID, map[string]any{
			"id":          itemID,
			"type":        itemType,
			"lastVersion": version,
			"updatedAt":   env.Timestamp,
		}); err != nil {
			return fmt.Errorf("update item %s: %w", itemID, err)
		}

		data, err := docstore.Encode(env)
		if err != nil {
			return err
		}
		if err := tx.Create(ctx, versionsCol, env.ID, data); err != nil {
			return fmt.Errorf("create version %d: %w", version, err)
		}

		if idemKey != "" {
			if err := tx.Create(ctx, mutationsCol, idemKey, map[string]any{
				"versionId": env.ID,
				"timestamp": env.Timestamp,
			}); err != nil {
				return fmt.Errorf("record mutation %s: %w", idemKey, err)
			}
		}
		return nil
	})
	if errors.Is(err, ErrDuplicateMutation) {
		return env, ErrDuplicateMutation
	}
	if err != nil {
		return nil, err
	}
	return env, nil
}

func getVersion(ctx context.Context, r docstore.Reader, col, versionID string) (*models.VersionEnvelope, error) {
	doc, err := r.Get(ctx, col, versionID)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrVersionNotFound, versionID)
		}
		return nil, fmt.Errorf("get item version: %w", err)
	}
	var env models.VersionEnvelope
	if err := doc.DataTo(&env); err != nil {
		return nil, err
	}
	return &env, nil
}

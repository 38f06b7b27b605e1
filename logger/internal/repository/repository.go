// Package repository stores log entries in one document per UTC calendar day.
package repository

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/bugtracker/history-stack/common/database"
	"github.com/bugtracker/history-stack/common/docstore"
	"github.com/bugtracker/history-stack/common/events"
)

var (
	ErrLogNotFound    = errors.New("log entry not found")
	ErrInvalidLogType = errors.New("invalid log type")
)

// DefaultCollection holds the day documents.
const DefaultCollection = "logs"

const entriesField = "entries"

type dayDocument struct {
	Entries []events.LogEntry `json:"entries"`
}

// LogStore keeps every entry of a day in the array field "entries" of the document
// <collection>/<YYYY-MM-DD>.
type LogStore struct {
	store      docstore.Store
	collection string
}

func NewLogStore(store docstore.Store, collection string) *LogStore {
	if collection == "" {
		collection = DefaultCollection
	}
	return &LogStore{store: store, collection: collection}
}

func (s *LogStore) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// CreateLog appends entry to its day document, creating the document on the first entry of
// the day. Appends are atomic on the server, so concurrent writers never lose an entry, and
// an entry identical to one already stored is not added twice.
func (s *LogStore) CreateLog(ctx context.Context, entry *events.LogEntry) error {
	ctx, cancel := database.WriteContext(ctx)
	defer cancel()
	if err := s.store.ArrayUnion(ctx, s.collection, entry.Day(), entriesField, entry); err != nil {
		return fmt.Errorf("append log entry: %w", err)
	}
	return nil
}

// GetLog returns one entry of a day.
func (s *LogStore) GetLog(ctx context.Context, day, logType, logID string) (*events.LogEntry, error) {
	entries, err := s.read(ctx, s.store, day)
	if err != nil {
		return nil, err
	}
	i := indexOf(entries, logType, logID)
	if i < 0 {
		return nil, fmt.Errorf("%w: %s/%s/%s", ErrLogNotFound, day, logType, logID)
	}
	return &entries[i], nil
}

// GetLogs returns up to limit entries of logType for day, newest first. With startAfter
// set to the id of the last entry of the previous page the listing continues strictly
// after it; an unknown startAfter restarts from the newest entry.
func (s *LogStore) GetLogs(ctx context.Context, day, logType string, limit int, startAfter string) ([]events.LogEntry, error) {
	entries, err := s.read(ctx, s.store, day)
	if err != nil {
		return nil, err
	}

	out := make([]events.LogEntry, 0, len(entries))
	for _, e := range entries {
		if e.Type == logType {
			out = append(out, e)
		}
	}
	slices.SortStableFunc(out, func(a, b events.LogEntry) int {
		if c := cmp.Compare(b.Timestamp, a.Timestamp); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})

	if startAfter != "" {
		if i := slices.IndexFunc(out, func(e events.LogEntry) bool { return e.ID == startAfter }); i >= 0 {
			out = out[i+1:]
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// UpdateLog replaces the stored entry with update, keeping its id, type and timestamp.
func (s *LogStore) UpdateLog(ctx context.Context, day, logType, logID string, update func(*events.LogEntry)) (*events.LogEntry, error) {
	ctx, cancel := database.WriteContext(ctx)
	defer cancel()

	var updated events.LogEntry
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		entries, err := s.read(ctx, tx, day)
		if err != nil {
			return err
		}
		i := indexOf(entries, logType, logID)
		if i < 0 {
			return fmt.Errorf("%w: %s/%s/%s", ErrLogNotFound, day, logType, logID)
		}

		orig := entries[i]
		update(&entries[i])
		entries[i].ID, entries[i].Type, entries[i].Timestamp = orig.ID, orig.Type, orig.Timestamp
		updated = entries[i]
		return s.write(ctx, tx, day, entries)
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// DeleteLog removes one entry; the day document goes away with its last entry.
func (s *LogStore) DeleteLog(ctx context.Context, day, logType, logID string) error {
	ctx, cancel := database.WriteContext(ctx)
	defer cancel()

	return s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		entries, err := s.read(ctx, tx, day)
		if err != nil {
			return err
		}
		i := indexOf(entries, logType, logID)
		if i < 0 {
			return fmt.Errorf("%w: %s/%s/%s", ErrLogNotFound, day, logType, logID)
		}

		entries = slices.Delete(entries, i, i+1)
		if len(entries) == 0 {
			return tx.Delete(ctx, s.collection, day)
		}
		return s.write(ctx, tx, day, entries)
	})
}

// read loads a day document through r, which is the store or a transaction.
// A missing day reads as empty.
func (s *LogStore) read(ctx context.Context, r docstore.Reader, day string) ([]events.LogEntry, error) {
	doc, err := r.Get(ctx, s.collection, day)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get log day %s: %w", day, err)
	}
	var dd dayDocument
	if err := doc.DataTo(&dd); err != nil {
		return nil, err
	}
	return dd.Entries, nil
}

func (s *LogStore) write(ctx context.Context, tx docstore.Tx, day string, entries []events.LogEntry) error {
	data, err := docstore.Encode(dayDocument{Entries: entries})
	if err != nil {
		return err
	}
	if err := tx.Set(ctx, s.collection, day, data); err != nil {
		return fmt.Errorf("write log day %s: %w", day, err)
	}
	return nil
}

func indexOf(entries []events.LogEntry, logType, logID string) int {
	return slices.IndexFunc(entries, func(e events.LogEntry) bool {
		return e.ID == logID && e.Type == logType
	})
}

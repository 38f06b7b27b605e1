// Package repository stores user records in the document store.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/bugtracker/history-stack/common/database"
	"github.com/bugtracker/history-stack/common/docstore"
	"github.com/bugtracker/history-stack/common/rpc"
)

// DefaultCollection holds one document per user, keyed by user id.
const DefaultCollection = "users"

var ErrUserNotFound = errors.New("user not found")

type UserStore struct {
	store      docstore.Store
	collection string
}

func NewUserStore(store docstore.Store, collection string) *UserStore {
	if collection == "" {
		collection = DefaultCollection
	}
	return &UserStore{store: store, collection: collection}
}

func (s *UserStore) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// GetUsers returns the stored users among ids keyed by id. Unknown ids are absent from the map.
func (s *UserStore) GetUsers(ctx context.Context, ids []string) (map[string]rpc.User, error) {
	ctx, cancel := database.QueryContext(ctx)
	defer cancel()

	found := make(map[string]rpc.User, len(ids))
	for _, id := range ids {
		if _, ok := found[id]; ok {
			continue
		}
		doc, err := s.store.Get(ctx, s.collection, id)
		if errors.Is(err, docstore.ErrNotFound) || errors.Is(err, docstore.ErrInvalidPath) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get user %s: %w", id, err)
		}
		var u rpc.User
		if err := doc.DataTo(&u); err != nil {
			return nil, err
		}
		u.ID = id
		found[id] = u
	}
	return found, nil
}

// GetUser returns one user.
func (s *UserStore) GetUser(ctx context.Context, id string) (*rpc.User, error) {
	users, err := s.GetUsers(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	u, ok := users[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, id)
	}
	return &u, nil
}

// PutUser creates or replaces a user record.
func (s *UserStore) PutUser(ctx context.Context, u rpc.User) error {
	data, err := docstore.Encode(u)
	if err != nil {
		return err
	}

	ctx, cancel := database.WriteContext(ctx)
	defer cancel()
	if err := s.store.Set(ctx, s.collection, u.ID, data); err != nil {
		return fmt.Errorf("put user %s: %w", u.ID, err)
	}
	return nil
}

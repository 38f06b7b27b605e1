package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bugtracker/history-stack/common/docstore"
	"github.com/bugtracker/history-stack/versioning/internal/models"
)

var testCollections = map[string]string{"ticket": "tickets", "task": "tasks", "subtask": "subtasks"}

func newStore(t *testing.T) (*VersionStore, *docstore.MemoryStore) {
	t.Helper()
	mem := docstore.NewMemoryStore()
	return NewVersionStore(mem, testCollections), mem
}

// builder returns envelopes with ids v0001, v0002, … and timestamps 1000, 1001, …
func builder(data string) BuildFunc {
	return func(version, prev int64) *models.VersionEnvelope {
		ts := int64(1000)
		if prev >= ts {
			ts = prev + 1
		}
		return &models.VersionEnvelope{
			ID:        fmt.Sprintf("v%04d", version),
			Timestamp: ts,
			Data:      json.RawMessage(data),
		}
	}
}

func appendN(t *testing.T, s *VersionStore, itemID string, n int) []*models.VersionEnvelope {
	t.Helper()
	var out []*models.VersionEnvelope
	for i := 0; i < n; i++ {
		env, err := s.AppendVersion(context.Background(), itemID, "ticket", builder(fmt.Sprintf(`{"n":%d}`, i)), "")
		require.NoError(t, err)
		out = append(out, env)
	}
	return out
}

func TestCollection(t *testing.T) {
	s, _ := newStore(t)

	c, err := s.Collection("task")
	require.NoError(t, err)
	assert.Equal(t, "tasks", c)

	_, err = s.Collection("epic")
	assert.ErrorIs(t, err, ErrInvalidItemType)
}

func TestAppendVersion_Sequential(t *testing.T) {
	s, mem := newStore(t)
	envs := appendN(t, s, "t1", 5)

	for i, env := range envs {
		assert.Equal(t, int64(i+1), env.Version)
		if i > 0 {
			assert.Greater(t, env.Timestamp, envs[i-1].Timestamp)
		}
	}

	item, err := mem.Get(context.Background(), "tickets", "t1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), item.Int("lastVersion"))
	assert.Equal(t, envs[4].Timestamp, item.Int("updatedAt"))

	last, err := s.GetLastVersionNumber(context.Background(), "t1", "ticket")
	require.NoError(t, err)
	assert.Equal(t, int64(5), last)
}

func TestAppendVersion_ConcurrentWritersGetDistinctVersions(t *testing.T) {
	s, _ := newStore(t)

	var wg sync.WaitGroup
	versions := make([]int64, 20)
	for i := range versions {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			env, err := s.AppendVersion(context.Background(), "t1", "ticket", func(version, prev int64) *models.VersionEnvelope {
				return &models.VersionEnvelope{ID: fmt.Sprintf("c%04d", version), Timestamp: prev + 1}
			}, "")
			if err == nil {
				versions[i] = env.Version
			}
		}(i)
	}
	wg.Wait()

	seen := make(map[int64]bool)
	for _, v := range versions {
		assert.False(t, seen[v], "version %d allocated twice", v)
		seen[v] = true
	}
	for v := int64(1); v <= 20; v++ {
		assert.True(t, seen[v], "version %d missing", v)
	}
}

func TestAppendVersion_IdempotencyKey(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	first, err := s.AppendVersion(ctx, "t1", "ticket", builder(`{"title":"A"}`), "mut-1")
	require.NoError(t, err)
	assert.Equal(t, "mut-1", first.IdempotencyKey)

	again, err := s.AppendVersion(ctx, "t1", "ticket", builder(`{"title":"A"}`), "mut-1")
	require.ErrorIs(t, err, ErrDuplicateMutation)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, int64(1), again.Version)

	last, err := s.GetLastVersionNumber(ctx, "t1", "ticket")
	require.NoError(t, err)
	assert.Equal(t, int64(1), last, "duplicate must not allocate a version")

	next, err := s.AppendVersion(ctx, "t1", "ticket", builder(`{"title":"B"}`), "mut-2")
	require.NoError(t, err)
	assert.Equal(t, int64(2), next.Version)
}

func TestAppendVersion_ReplayWithoutKeyCreatesNewVersion(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	a, err := s.AppendVersion(ctx, "t1", "ticket", builder(`{"title":"A"}`), "")
	require.NoError(t, err)
	b, err := s.AppendVersion(ctx, "t1", "ticket", builder(`{"title":"A"}`), "")
	require.NoError(t, err)

	assert.Equal(t, int64(1), a.Version)
	assert.Equal(t, int64(2), b.Version)
	assert.JSONEq(t, string(a.Data), string(b.Data))
}

func TestGetItemVersion(t *testing.T) {
	s, _ := newStore(t)
	envs := appendN(t, s, "t1", 2)

	got, err := s.GetItemVersion(context.Background(), "t1", "ticket", envs[1].ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
	assert.JSONEq(t, `{"n":1}`, string(got.Data))

	_, err = s.GetItemVersion(context.Background(), "t1", "ticket", "missing")
	assert.ErrorIs(t, err, ErrVersionNotFound)

	_, err = s.GetItemVersion(context.Background(), "t1", "epic", envs[0].ID)
	assert.ErrorIs(t, err, ErrInvalidItemType)
}

func TestGetItemVersions_PaginationHasNoGapsOrOverlap(t *testing.T) {
	s, _ := newStore(t)
	appendN(t, s, "t1", 7)

	var (
		got        []int64
		startAfter string
		pages      int
	)
	for {
		page, err := s.GetItemVersions(context.Background(), "t1", "ticket", 3, startAfter)
		require.NoError(t, err)
		pages++
		for _, env := range page {
			got = append(got, env.Version)
		}
		if len(page) < 3 {
			break
		}
		startAfter = page[len(page)-1].ID
	}

	assert.Equal(t, []int64{1, 2, 3, 4, 5, 6, 7}, got)
	assert.Equal(t, 3, pages)
}

func TestGetItemVersions_UnknownCursorStartsFromBeginning(t *testing.T) {
	s, _ := newStore(t)
	appendN(t, s, "t1", 2)

	page, err := s.GetItemVersions(context.Background(), "t1", "ticket", 10, "does-not-exist")
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, int64(1), page[0].Version)
}

func TestGetLastVersionNumber_Empty(t *testing.T) {
	s, _ := newStore(t)
	last, err := s.GetLastVersionNumber(context.Background(), "nobody", "task")
	require.NoError(t, err)
	assert.Zero(t, last)
}

func TestCreateItemVersion(t *testing.T) {
	s, _ := newStore(t)
	env := &models.VersionEnvelope{ID: "raw-1", Timestamp: 5, Version: 1, Data: json.RawMessage(`{"a":1}`)}

	stored, err := s.CreateItemVersion(context.Background(), "s1", "subtask", env)
	require.NoError(t, err)
	assert.Equal(t, env, stored)

	got, err := s.GetItemVersion(context.Background(), "s1", "subtask", "raw-1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.Timestamp)
}

func TestAppendVersion_ContinuesAfterBackfilledHistory(t *testing.T) {
	s, mem := newStore(t)
	ctx := context.Background()
	for i := int64(1); i <= 3; i++ {
		_, err := s.CreateItemVersion(ctx, "t-imp", "ticket", &models.VersionEnvelope{
			ID:        fmt.Sprintf("imported-%d", i),
			Timestamp: 5000 + i,
			Version:   i,
			Data:      json.RawMessage(`{}`),
		})
		require.NoError(t, err)
	}

	last, err := s.GetLastVersionNumber(ctx, "t-imp", "ticket")
	require.NoError(t, err)
	assert.Equal(t, int64(3), last)

	env, err := s.AppendVersion(ctx, "t-imp", "ticket", builder(`{"n":4}`), "")
	require.NoError(t, err)
	assert.Equal(t, int64(4), env.Version)
	assert.Equal(t, int64(5004), env.Timestamp)

	next, err := s.AppendVersion(ctx, "t-imp", "ticket", builder(`{"n":5}`), "")
	require.NoError(t, err)
	assert.Equal(t, int64(5), next.Version)

	item, err := mem.Get(ctx, "tickets", "t-imp")
	require.NoError(t, err)
	assert.Equal(t, int64(5), item.Int("lastVersion"))
}

func TestDeleteItemVersion(t *testing.T) {
	s, _ := newStore(t)
	envs := appendN(t, s, "t1", 2)

	require.NoError(t, s.DeleteItemVersion(context.Background(), "t1", "ticket", envs[0].ID))
	_, err := s.GetItemVersion(context.Background(), "t1", "ticket", envs[0].ID)
	assert.ErrorIs(t, err, ErrVersionNotFound)

	err = s.DeleteItemVersion(context.Background(), "t1", "ticket", envs[0].ID)
	assert.ErrorIs(t, err, ErrVersionNotFound)
}

func TestDeleteItemVersions_AllOrNothing(t *testing.T) {
	s, _ := newStore(t)
	envs := appendN(t, s, "t1", 3)
	ctx := context.Background()

	err := s.DeleteItemVersions(ctx, "t1", "ticket", []string{envs[0].ID, "missing", envs[1].ID})
	require.ErrorIs(t, err, ErrVersionNotFound)
	assert.Contains(t, err.Error(), "missing")

	page, err := s.GetItemVersions(ctx, "t1", "ticket", 10, "")
	require.NoError(t, err)
	assert.Len(t, page, 3, "failed bulk delete must not remove anything")

	require.NoError(t, s.DeleteItemVersions(ctx, "t1", "ticket", []string{envs[0].ID, envs[1].ID}))
	page, err = s.GetItemVersions(ctx, "t1", "ticket", 10, "")
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, envs[2].ID, page[0].ID)
}

func TestDeleteItem_RemovesWholeHistory(t *testing.T) {
	s, mem := newStore(t)
	ctx := context.Background()
	appendN(t, s, "t1", 4)
	_, err := s.AppendVersion(ctx, "t1", "ticket", builder(`{}`), "mut-9")
	require.NoError(t, err)
	appendN(t, s, "t2", 1)

	removed, err := s.DeleteItem(ctx, "t1", "ticket")
	require.NoError(t, err)
	assert.Equal(t, 7, removed, "item document, five versions and one mutation marker")

	_, err = mem.Get(ctx, "tickets", "t1")
	assert.True(t, errors.Is(err, docstore.ErrNotFound))
	page, err := s.GetItemVersions(ctx, "t1", "ticket", 10, "")
	require.NoError(t, err)
	assert.Empty(t, page)

	other, err := s.GetItemVersions(ctx, "t2", "ticket", 10, "")
	require.NoError(t, err)
	assert.Len(t, other, 1, "other items are untouched")

	_, err = s.DeleteItem(ctx, "t1", "ticket")
	assert.ErrorIs(t, err, ErrItemNotFound)
}

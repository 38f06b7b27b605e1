package docstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMemoryStore_Contract(t *testing.T) {
	runStoreContract(t, NewMemoryStore())
}

func TestCompareValues(t *testing.T) {
	tests := []struct {
		name string
		a, b any
		want int
	}{
		{"numbers", float64(1), float64(2), -1},
		{"equal numbers", float64(2), float64(2), 0},
		{"strings", "b", "a", 1},
		{"string before number", "z", float64(0), -1},
		{"null first", nil, "a", -1},
		{"false before true", false, true, -1},
		{"number before bool", float64(9), false, -1},
		{"array before object", []any{}, map[string]any{}, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := compareValues(tt.a, tt.b)
			switch {
			case tt.want < 0:
				assert.Negative(t, got)
			case tt.want > 0:
				assert.Positive(t, got)
			default:
				assert.Zero(t, got)
			}
		})
	}
}

func TestMemoryStore_MissingOrderFieldSortsLast(t *testing.T) {
	store := NewMemoryStore()
	ctx := t.Context()
	assert.NoError(t, store.Set(ctx, "c", "no-ts", map[string]any{}))
	assert.NoError(t, store.Set(ctx, "c", "ts", map[string]any{"timestamp": 5}))

	asc, err := store.Query(ctx, Query{Collection: "c", OrderBy: "timestamp"})
	assert.NoError(t, err)
	assert.Equal(t, []string{"ts", "no-ts"}, ids(asc))

	desc, err := store.Query(ctx, Query{Collection: "c", OrderBy: "timestamp", Desc: true})
	assert.NoError(t, err)
	assert.Equal(t, []string{"no-ts", "ts"}, ids(desc))
}

// Package docstore is a small document database contract: documents grouped in
// slash-separated collections (with subcollections under a document), field-ordered range
// queries with start-after cursors, projections, atomic array-union and counters,
// transactions, and recursive deletes.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound      = errors.New("document not found")
	ErrAlreadyExists = errors.New("document already exists")
	ErrInvalidPath   = errors.New("invalid document path")
)

// Document is a stored JSON object.
type Document struct {
	Collection string
	ID         string
	Data       map[string]any
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// DataTo decodes the document data into v.
func (d *Document) DataTo(v any) error {
	b, err := json.Marshal(d.Data)
	if err != nil {
		return fmt.Errorf("encode document %s/%s: %w", d.Collection, d.ID, err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode document %s/%s: %w", d.Collection, d.ID, err)
	}
	return nil
}

// Int returns a numeric field as int64, or 0 when absent.
func (d *Document) Int(field string) int64 {
	return toInt(d.Data[field])
}

// Encode converts v into document data via its JSON representation.
func Encode(v any) (map[string]any, error) {
	if m, ok := v.(map[string]any); ok {
		return normalize(m)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("document must be a JSON object: %w", err)
	}
	return out, nil
}

// Path joins collection and document ids into a collection path,
// e.g. Path("tickets", "t1", "versions") is "tickets/t1/versions".
func Path(segments ...string) string {
	return strings.Join(segments, "/")
}

// Cursor positions a query strictly after the document with this ordering value and id.
type Cursor struct {
	Value any
	ID    string
}

// CursorOf builds a cursor from a document for a query ordered by field.
func CursorOf(doc *Document, field string) *Cursor {
	return &Cursor{Value: doc.Data[field], ID: doc.ID}
}

// Query selects documents from one collection.
type Query struct {
	Collection string

	// OrderBy names the field to sort on; ties are broken by document id.
	// Empty orders by id alone.
	OrderBy string
	Desc    bool

	StartAfter *Cursor
	Limit      int

	// Select projects the returned data to these fields; empty returns whole documents.
	Select []string
}

// Reader reads documents.
type Reader interface {
	Get(ctx context.Context, collection, id string) (*Document, error)
	Query(ctx context.Context, q Query) ([]*Document, error)
}

// Writer mutates documents.
type Writer interface {
	// Set creates or replaces a document.
	Set(ctx context.Context, collection, id string, data map[string]any) error

	// Create stores a new document and fails with ErrAlreadyExists if one is present.
	Create(ctx context.Context, collection, id string, data map[string]any) error

	// Delete removes a document and fails with ErrNotFound if absent.
	Delete(ctx context.Context, collection, id string) error

	// DeleteTree removes a document together with every document in its subcollections,
	// returning how many documents were removed.
	DeleteTree(ctx context.Context, collection, id string) (int, error)

	// ArrayUnion adds values to the array field, skipping values already present.
	// A missing document is created with the field set to the values.
	ArrayUnion(ctx context.Context, collection, id, field string, values ...any) error

	// Increment adds delta to a numeric field, creating document and field as needed,
	// and returns the new value.
	Increment(ctx context.Context, collection, id, field string, delta int64) (int64, error)
}

// Tx is a transaction. Get locks the document until the transaction ends.
type Tx interface {
	Reader
	Writer
}

// TxFunc runs inside a transaction; returning an error rolls everything back.
type TxFunc func(ctx context.Context, tx Tx) error

// Store is a document database.
type Store interface {
	Reader
	Writer

	RunTransaction(ctx context.Context, fn TxFunc) error
	Ping(ctx context.Context) error
	Close()
}

func validate(collection, id string) error {
	if collection == "" || id == "" || strings.Contains(id, "/") {
		return fmt.Errorf("%w: %q/%q", ErrInvalidPath, collection, id)
	}
	return nil
}

// normalize deep-copies m through JSON so stored values have the types a decoder produces.
func normalize(m map[string]any) (map[string]any, error) {
	if m == nil {
		return map[string]any{}, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func normalizeValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func toInt(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	case json.Number:
		i, _ := n.Int64()
		return i
	default:
		return 0
	}
}

func project(data map[string]any, fields []string) map[string]any {
	if len(fields) == 0 {
		return data
	}
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		if v, ok := data[f]; ok {
			out[f] = v
		}
	}
	return out
}

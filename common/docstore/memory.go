package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and local development.
// Transactions hold the store lock for their whole duration.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]map[string]*Document
	now  func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs: make(map[string]map[string]*Document),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Get(ctx context.Context, collection, id string) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return (&memOps{s: s}).get(collection, id)
}

func (s *MemoryStore) Query(ctx context.Context, q Query) ([]*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return (&memOps{s: s}).query(q)
}

func (s *MemoryStore) Set(ctx context.Context, collection, id string, data map[string]any) error {
	return s.write(ctx, func(o *memOps) error { return o.set(collection, id, data) })
}

func (s *MemoryStore) Create(ctx context.Context, collection, id string, data map[string]any) error {
	return s.write(ctx, func(o *memOps) error { return o.create(collection, id, data) })
}

func (s *MemoryStore) Delete(ctx context.Context, collection, id string) error {
	return s.write(ctx, func(o *memOps) error { return o.delete(collection, id) })
}

func (s *MemoryStore) DeleteTree(ctx context.Context, collection, id string) (int, error) {
	var n int
	err := s.write(ctx, func(o *memOps) error {
		var err error
		n, err = o.deleteTree(collection, id)
		return err
	})
	return n, err
}

func (s *MemoryStore) ArrayUnion(ctx context.Context, collection, id, field string, values ...any) error {
	return s.write(ctx, func(o *memOps) error { return o.arrayUnion(collection, id, field, values) })
}

func (s *MemoryStore) Increment(ctx context.Context, collection, id, field string, delta int64) (int64, error) {
	var n int64
	err := s.write(ctx, func(o *memOps) error {
		var err error
		n, err = o.increment(collection, id, field, delta)
		return err
	})
	return n, err
}

// RunTransaction runs fn with exclusive access; on error every write made through tx is undone.
func (s *MemoryStore) RunTransaction(ctx context.Context, fn TxFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{ops: &memOps{s: s, undo: &[]func(){}}}
	if err := fn(ctx, tx); err != nil {
		tx.ops.rollback()
		return err
	}
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return ctx.Err() }

func (s *MemoryStore) Close() {}

func (s *MemoryStore) write(ctx context.Context, fn func(*memOps) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ops := &memOps{s: s, undo: &[]func(){}}
	if err := fn(ops); err != nil {
		ops.rollback()
		return err
	}
	return nil
}

type memTx struct {
	ops *memOps
}

func (t *memTx) Get(ctx context.Context, collection, id string) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return t.ops.get(collection, id)
}

func (t *memTx) Query(ctx context.Context, q Query) ([]*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return t.ops.query(q)
}

func (t *memTx) Set(ctx context.Context, collection, id string, data map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return t.ops.set(collection, id, data)
}

func (t *memTx) Create(ctx context.Context, collection, id string, data map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return t.ops.create(collection, id, data)
}

func (t *memTx) Delete(ctx context.Context, collection, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return t.ops.delete(collection, id)
}

func (t *memTx) DeleteTree(ctx context.Context, collection, id string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return t.ops.deleteTree(collection, id)
}

func (t *memTx) ArrayUnion(ctx context.Context, collection, id, field string, values ...any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return t.ops.arrayUnion(collection, id, field, values)
}

func (t *memTx) Increment(ctx context.Context, collection, id, field string, delta int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return t.ops.increment(collection, id, field, delta)
}

// memOps implements the operations against s.docs; the caller holds the lock.
type memOps struct {
	s    *MemoryStore
	undo *[]func()
}

func (o *memOps) rollback() {
	if o.undo == nil {
		return
	}
	u := *o.undo
	for i := len(u) - 1; i >= 0; i-- {
		u[i]()
	}
	*o.undo = nil
}

// remember records how to restore collection/id to its current state.
func (o *memOps) remember(collection, id string) {
	prev := o.s.docs[collection][id]
	*o.undo = append(*o.undo, func() {
		if prev == nil {
			if c := o.s.docs[collection]; c != nil {
				delete(c, id)
			}
			return
		}
		o.put(prev)
	})
}

func (o *memOps) put(doc *Document) {
	c := o.s.docs[doc.Collection]
	if c == nil {
		c = make(map[string]*Document)
		o.s.docs[doc.Collection] = c
	}
	c[doc.ID] = doc
}

func (o *memOps) get(collection, id string) (*Document, error) {
	if err := validate(collection, id); err != nil {
		return nil, err
	}
	doc := o.s.docs[collection][id]
	if doc == nil {
		return nil, ErrNotFound
	}
	return cloneDoc(doc, nil), nil
}

func (o *memOps) query(q Query) ([]*Document, error) {
	if q.Collection == "" {
		return nil, fmt.Errorf("%w: empty collection", ErrInvalidPath)
	}
	docs := make([]*Document, 0, len(o.s.docs[q.Collection]))
	for _, d := range o.s.docs[q.Collection] {
		docs = append(docs, d)
	}

	sort.Slice(docs, func(i, j int) bool {
		return less(docs[i], docs[j], q.OrderBy, q.Desc)
	})

	out := make([]*Document, 0)
	for _, d := range docs {
		if q.StartAfter != nil && !after(d, q.StartAfter, q.OrderBy, q.Desc) {
			continue
		}
		out = append(out, cloneDoc(d, q.Select))
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

func (o *memOps) set(collection, id string, data map[string]any) error {
	if err := validate(collection, id); err != nil {
		return err
	}
	norm, err := normalize(data)
	if err != nil {
		return err
	}
	now := o.s.now()
	o.remember(collection, id)
	created := now
	if prev := o.s.docs[collection][id]; prev != nil {
		created = prev.CreatedAt
	}
	o.put(&Document{Collection: collection, ID: id, Data: norm, CreatedAt: created, UpdatedAt: now})
	return nil
}

func (o *memOps) create(collection, id string, data map[string]any) error {
	if err := validate(collection, id); err != nil {
		return err
	}
	if o.s.docs[collection][id] != nil {
		return ErrAlreadyExists
	}
	return o.set(collection, id, data)
}

func (o *memOps) delete(collection, id string) error {
	if err := validate(collection, id); err != nil {
		return err
	}
	if o.s.docs[collection][id] == nil {
		return ErrNotFound
	}
	o.remember(collection, id)
	delete(o.s.docs[collection], id)
	return nil
}

func (o *memOps) deleteTree(collection, id string) (int, error) {
	if err := validate(collection, id); err != nil {
		return 0, err
	}
	n := 0
	if o.s.docs[collection][id] != nil {
		o.remember(collection, id)
		delete(o.s.docs[collection], id)
		n++
	}
	prefix := Path(collection, id) + "/"
	for coll, docs := range o.s.docs {
		if !strings.HasPrefix(coll, prefix) {
			continue
		}
		for docID := range docs {
			o.remember(coll, docID)
			delete(docs, docID)
			n++
		}
	}
	return n, nil
}

func (o *memOps) arrayUnion(collection, id, field string, values []any) error {
	if err := validate(collection, id); err != nil {
		return err
	}
	norm := make([]any, 0, len(values))
	for _, v := range values {
		nv, err := normalizeValue(v)
		if err != nil {
			return err
		}
		norm = append(norm, nv)
	}

	var data map[string]any
	if prev := o.s.docs[collection][id]; prev != nil {
		data = cloneDoc(prev, nil).Data
	} else {
		data = map[string]any{}
	}

	existing, _ := data[field].([]any)
	for _, v := range norm {
		if !containsJSON(existing, v) {
			existing = append(existing, v)
		}
	}
	if existing == nil {
		existing = []any{}
	}
	data[field] = existing
	return o.set(collection, id, data)
}

func (o *memOps) increment(collection, id, field string, delta int64) (int64, error) {
	if err := validate(collection, id); err != nil {
		return 0, err
	}
	var data map[string]any
	if prev := o.s.docs[collection][id]; prev != nil {
		data = cloneDoc(prev, nil).Data
	} else {
		data = map[string]any{}
	}
	n := toInt(data[field]) + delta
	data[field] = n
	if err := o.set(collection, id, data); err != nil {
		return 0, err
	}
	return n, nil
}

func cloneDoc(d *Document, fields []string) *Document {
	data, err := normalize(d.Data)
	if err != nil {
		data = map[string]any{}
	}
	return &Document{
		Collection: d.Collection,
		ID:         d.ID,
		Data:       project(data, fields),
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
	}
}

func containsJSON(list []any, v any) bool {
	vb, _ := json.Marshal(v)
	for _, e := range list {
		eb, _ := json.Marshal(e)
		if string(eb) == string(vb) {
			return true
		}
	}
	return false
}

// less orders documents by field then id. Documents missing the field sort last
// ascending and first descending.
func less(a, b *Document, field string, desc bool) bool {
	c := 0
	if field != "" {
		av, aok := a.Data[field]
		bv, bok := b.Data[field]
		switch {
		case !aok && !bok:
		case !aok:
			c = 1
		case !bok:
			c = -1
		default:
			c = compareValues(av, bv)
		}
	}
	if c == 0 {
		c = strings.Compare(a.ID, b.ID)
	}
	if desc {
		return c > 0
	}
	return c < 0
}

// after reports whether d comes strictly after the cursor in the query order.
// Documents missing the order field never follow a cursor.
func after(d *Document, cur *Cursor, field string, desc bool) bool {
	c := 0
	if field != "" {
		v, ok := d.Data[field]
		if !ok {
			return false
		}
		cv, err := normalizeValue(cur.Value)
		if err != nil {
			return false
		}
		c = compareValues(v, cv)
	}
	if c == 0 {
		c = strings.Compare(d.ID, cur.ID)
	}
	if desc {
		return c < 0
	}
	return c > 0
}

// compareValues orders JSON values as Postgres orders jsonb:
// null < string < number < boolean < array < object.
func compareValues(a, b any) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return ra - rb
	}
	switch av := a.(type) {
	case string:
		return strings.Compare(av, b.(string))
	case float64:
		bv := b.(float64)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
		return 0
	case bool:
		bv := b.(bool)
		switch {
		case av == bv:
			return 0
		case !av:
			return -1
		}
		return 1
	case nil:
		return 0
	default:
		ab, _ := json.Marshal(a)
		bb, _ := json.Marshal(b)
		return strings.Compare(string(ab), string(bb))
	}
}

func rank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case string:
		return 1
	case float64:
		return 2
	case bool:
		return 3
	case []any:
		return 4
	default:
		return 5
	}
}

package db

import (
	"context"
	"encoding/json"
	"math"
	"reflect"
	"time"

	"github.com/nabhalearn/edusync/internal/errors"
	"github.com/nabhalearn/edusync/internal/models"
)

// Collection is a typed handle on one collection of a Store.
type Collection[T models.Record] struct {
	store   *Store
	spec    Spec[T]
	indexes map[string]bool
}

// NewCollection binds spec to s. The collection must be part of the
// store's namespace.
func NewCollection[T models.Record](s *Store, spec Spec[T]) (*Collection[T], error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if _, ok := s.ns.lookup(spec.Name); !ok {
		return nil, errors.Newf(errors.ErrInvalid, "collection %s is not part of namespace %s", spec.Name, s.ns.Name)
	}
	indexes := make(map[string]bool, len(spec.Indexes))
	for _, idx := range spec.Indexes {
		indexes[idx.Name] = true
	}
	return &Collection[T]{store: s, spec: spec, indexes: indexes}, nil
}

// MustCollection is NewCollection for statically known specs.
func MustCollection[T models.Record](s *Store, spec Spec[T]) *Collection[T] {
	c, err := NewCollection(s, spec)
	if err != nil {
		panic(err)
	}
	return c
}

// Name returns the collection name.
func (c *Collection[T]) Name() string {
	return c.spec.Name
}

// Store returns the store the collection lives in.
func (c *Collection[T]) Store() *Store {
	return c.store
}

// =====================================================
// Writes
// =====================================================

// Put upserts v and rewrites its index entries atomically.
func (c *Collection[T]) Put(ctx context.Context, v T) error {
	return c.store.WithTx(ctx, func(tx *Tx) error {
		return c.PutTx(ctx, tx, v)
	})
}

// PutTx is Put inside an existing transaction.
func (c *Collection[T]) PutTx(ctx context.Context, tx *Tx, v T) error {
	if err := c.checkTx(tx); err != nil {
		return err
	}
	if isNil(v) {
		return errors.New(errors.ErrInvalid, "cannot store a nil record")
	}
	id := v.RecordKey()
	if id == "" {
		return errors.Newf(errors.ErrInvalid, "%s: %s is required", c.spec.Name, c.keyPath())
	}

	body, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(errors.ErrInvalid, "encode "+c.spec.Name+" record", err)
	}

	s := c.store
	if err := s.exec(ctx, tx,
		`INSERT INTO records (collection, id, body, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(collection, id) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
		c.spec.Name, id, string(body), time.Now().UnixMilli()); err != nil {
		return s.dbError("put "+c.spec.Name, err)
	}
	if err := s.exec(ctx, tx, "DELETE FROM record_index WHERE collection = ? AND id = ?", c.spec.Name, id); err != nil {
		return s.dbError("reindex "+c.spec.Name, err)
	}
	for name, value := range c.spec.extract(v) {
		key, ok, err := encodeIndexValue(value)
		if err != nil {
			return errors.Wrap(errors.ErrInvalid, "index "+c.spec.Name+"."+name, err)
		}
		if !ok {
			continue
		}
		if err := s.exec(ctx, tx,
			`INSERT INTO record_index (collection, index_name, value, ord, id) VALUES (?, ?, ?, ?, ?)`,
			c.spec.Name, name, key.text, key.ord, id); err != nil {
			return s.dbError("index "+c.spec.Name+"."+name, err)
		}
	}
	return nil
}

// Delete removes the record with id. Deleting a missing record is a no-op.
func (c *Collection[T]) Delete(ctx context.Context, id string) error {
	return c.store.WithTx(ctx, func(tx *Tx) error {
		return c.DeleteTx(ctx, tx, id)
	})
}

// DeleteTx is Delete inside an existing transaction.
func (c *Collection[T]) DeleteTx(ctx context.Context, tx *Tx, id string) error {
	if err := c.checkTx(tx); err != nil {
		return err
	}
	s := c.store
	if err := s.exec(ctx, tx, "DELETE FROM record_index WHERE collection = ? AND id = ?", c.spec.Name, id); err != nil {
		return s.dbError("delete "+c.spec.Name, err)
	}
	if err := s.exec(ctx, tx, "DELETE FROM records WHERE collection = ? AND id = ?", c.spec.Name, id); err != nil {
		return s.dbError("delete "+c.spec.Name, err)
	}
	return nil
}

// Clear removes every record of the collection.
func (c *Collection[T]) Clear(ctx context.Context) error {
	return c.store.WithTx(ctx, func(tx *Tx) error {
		s := c.store
		if err := s.exec(ctx, tx, "DELETE FROM record_index WHERE collection = ?", c.spec.Name); err != nil {
			return s.dbError("clear "+c.spec.Name, err)
		}
		if err := s.exec(ctx, tx, "DELETE FROM records WHERE collection = ?", c.spec.Name); err != nil {
			return s.dbError("clear "+c.spec.Name, err)
		}
		return nil
	})
}

// Modify loads id, lets fn change it and stores the result in one
// transaction. fn returns false to leave the record untouched. found is
// false when no record exists.
func (c *Collection[T]) Modify(ctx context.Context, id string, fn func(v T) (T, bool)) (found bool, err error) {
	err = c.store.WithTx(ctx, func(tx *Tx) error {
		v, ok, err := c.GetTx(ctx, tx, id)
		if err != nil || !ok {
			return err
		}
		found = true
		next, changed := fn(v)
		if !changed {
			return nil
		}
		return c.PutTx(ctx, tx, next)
	})
	return found, err
}

// =====================================================
// Reads
// =====================================================

// Get returns the record with id; ok is false when absent.
func (c *Collection[T]) Get(ctx context.Context, id string) (v T, ok bool, err error) {
	return c.get(ctx, nil, id)
}

// GetTx is Get inside an existing transaction.
func (c *Collection[T]) GetTx(ctx context.Context, tx *Tx, id string) (v T, ok bool, err error) {
	if err := c.checkTx(tx); err != nil {
		return v, false, err
	}
	return c.get(ctx, tx, id)
}

func (c *Collection[T]) get(ctx context.Context, tx *Tx, id string) (v T, ok bool, err error) {
	if err := c.store.ready(); err != nil {
		return v, false, err
	}
	bodies, err := c.store.queryStrings(ctx, tx,
		"SELECT body FROM records WHERE collection = ? AND id = ?", c.spec.Name, id)
	if err != nil {
		return v, false, c.store.dbError("get "+c.spec.Name, err)
	}
	if len(bodies) == 0 {
		return v, false, nil
	}
	if err := json.Unmarshal([]byte(bodies[0]), &v); err != nil {
		return v, false, errors.Wrap(errors.ErrDatabase, "decode "+c.spec.Name+" record "+id, err)
	}
	return v, true, nil
}

// GetAll returns every record ordered by key.
func (c *Collection[T]) GetAll(ctx context.Context) ([]T, error) {
	return c.list(ctx, "SELECT body FROM records WHERE collection = ? ORDER BY id", c.spec.Name)
}

// GetAllByIndex returns the records whose index value equals value,
// ordered by key.
func (c *Collection[T]) GetAllByIndex(ctx context.Context, index string, value any) ([]T, error) {
	if err := c.checkIndex(index); err != nil {
		return nil, err
	}
	key, ok, err := encodeIndexValue(value)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInvalid, "index "+c.spec.Name+"."+index, err)
	}
	if !ok {
		return nil, nil
	}
	return c.list(ctx,
		`SELECT r.body FROM record_index i
		 JOIN records r ON r.collection = i.collection AND r.id = i.id
		 WHERE i.collection = ? AND i.index_name = ? AND i.value = ?
		 ORDER BY i.id`,
		c.spec.Name, index, key.text)
}

// GetAllByIndexRange returns records whose ordered index value lies within
// [lower, upper]. A nil bound is open. Results are ordered by index value,
// then key.
func (c *Collection[T]) GetAllByIndexRange(ctx context.Context, index string, lower, upper any) ([]T, error) {
	if err := c.checkIndex(index); err != nil {
		return nil, err
	}
	lo, err := encodeBound(lower, math.MinInt64)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInvalid, "lower bound", err)
	}
	hi, err := encodeBound(upper, math.MaxInt64)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInvalid, "upper bound", err)
	}
	return c.list(ctx,
		`SELECT r.body FROM record_index i
		 JOIN records r ON r.collection = i.collection AND r.id = i.id
		 WHERE i.collection = ? AND i.index_name = ? AND i.ord IS NOT NULL AND i.ord >= ? AND i.ord <= ?
		 ORDER BY i.ord, i.id`,
		c.spec.Name, index, lo, hi)
}

// Count returns the number of records in the collection.
func (c *Collection[T]) Count(ctx context.Context) (int, error) {
	if err := c.store.ready(); err != nil {
		return 0, err
	}
	n, err := c.store.queryInt(ctx, nil, "SELECT COUNT(*) FROM records WHERE collection = ?", c.spec.Name)
	return n, c.store.dbError("count "+c.spec.Name, err)
}

// CountByIndex returns the number of records whose index value equals value.
func (c *Collection[T]) CountByIndex(ctx context.Context, index string, value any) (int, error) {
	if err := c.checkIndex(index); err != nil {
		return 0, err
	}
	if err := c.store.ready(); err != nil {
		return 0, err
	}
	key, ok, err := encodeIndexValue(value)
	if err != nil {
		return 0, errors.Wrap(errors.ErrInvalid, "index "+c.spec.Name+"."+index, err)
	}
	if !ok {
		return 0, nil
	}
	n, err := c.store.queryInt(ctx, nil,
		"SELECT COUNT(*) FROM record_index WHERE collection = ? AND index_name = ? AND value = ?",
		c.spec.Name, index, key.text)
	return n, c.store.dbError("count "+c.spec.Name, err)
}

func (c *Collection[T]) list(ctx context.Context, query string, args ...any) ([]T, error) {
	if err := c.store.ready(); err != nil {
		return nil, err
	}
	bodies, err := c.store.queryStrings(ctx, nil, query, args...)
	if err != nil {
		return nil, c.store.dbError("list "+c.spec.Name, err)
	}
	out := make([]T, 0, len(bodies))
	for _, body := range bodies {
		var v T
		if err := json.Unmarshal([]byte(body), &v); err != nil {
			return nil, errors.Wrap(errors.ErrDatabase, "decode "+c.spec.Name+" record", err)
		}
		out = append(out, v)
	}
	return out, nil
}

// =====================================================
// Raw access for export and import
// =====================================================

// DumpRaw returns every stored body ordered by key.
func (c *Collection[T]) DumpRaw(ctx context.Context) ([]json.RawMessage, error) {
	if err := c.store.ready(); err != nil {
		return nil, err
	}
	bodies, err := c.store.queryStrings(ctx, nil,
		"SELECT body FROM records WHERE collection = ? ORDER BY id", c.spec.Name)
	if err != nil {
		return nil, c.store.dbError("dump "+c.spec.Name, err)
	}
	out := make([]json.RawMessage, len(bodies))
	for i, b := range bodies {
		out[i] = json.RawMessage(b)
	}
	return out, nil
}

// PutRaw decodes body as T and stores it, recomputing its indexes.
func (c *Collection[T]) PutRaw(ctx context.Context, body json.RawMessage) error {
	var v T
	if err := json.Unmarshal(body, &v); err != nil {
		return errors.Wrap(errors.ErrInvalid, "decode "+c.spec.Name+" record", err)
	}
	return c.Put(ctx, v)
}

// =====================================================
// Helpers
// =====================================================

func (c *Collection[T]) checkTx(tx *Tx) error {
	if tx == nil || tx.store != c.store {
		return errors.Newf(errors.ErrInvalid, "%s: transaction belongs to another store", c.spec.Name)
	}
	return nil
}

func (c *Collection[T]) checkIndex(index string) error {
	if !c.indexes[index] {
		return errors.Newf(errors.ErrInvalid, "%s has no index %q", c.spec.Name, index)
	}
	return nil
}

func (c *Collection[T]) keyPath() string {
	if c.spec.KeyPath == "" {
		return "id"
	}
	return c.spec.KeyPath
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Pointer && rv.IsNil()
}

package db

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/nabhalearn/edusync/internal/errors"
	"github.com/nabhalearn/edusync/internal/logging"
)

// Store is one opened namespace. All collection operations go through it;
// after Close every operation fails with NOT_READY.
type Store struct {
	db     *DB
	ns     Namespace
	log    *logging.Logger
	closed atomic.Bool

	// Prepared statements for non-transactional queries, keyed by SQL.
	stmtCache sync.Map // map[string]*sql.Stmt
}

// Tx is a write transaction on a Store.
type Tx struct {
	tx    *sql.Tx
	store *Store
}

// OpenStore opens <dataDir>/<ns.Name>.db, applies the built-in migrations
// and reconciles the namespace's collections and indexes. Any failure is
// reported as NOT_READY.
func OpenStore(ctx context.Context, dataDir string, ns Namespace, log *logging.Logger) (*Store, error) {
	if err := ns.validate(); err != nil {
		return nil, errors.Wrap(errors.ErrNotReady, "invalid namespace", err)
	}
	conn, err := Open(dataDir, ns.Name)
	if err != nil {
		return nil, errors.Wrap(errors.ErrNotReady, "open "+ns.Name+" store", err)
	}
	s, err := NewStore(ctx, conn, ns, log)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// NewStore prepares an already opened database for ns.
func NewStore(ctx context.Context, conn *DB, ns Namespace, log *logging.Logger) (*Store, error) {
	if log == nil {
		log = logging.Get()
	}
	s := &Store{db: conn, ns: ns, log: log.Named("db")}

	m := NewMigrator(conn.DB, Migrations())
	if err := m.Initialize(ctx); err != nil {
		return nil, errors.Wrap(errors.ErrNotReady, "initialize migrations", err)
	}
	if err := m.Up(ctx); err != nil {
		return nil, errors.Wrap(errors.ErrNotReady, "migrate "+ns.Name+" store",
			errors.Wrap(errors.ErrMigration, "schema migration failed", err))
	}
	if err := s.reconcile(ctx); err != nil {
		return nil, errors.Wrap(errors.ErrNotReady, "reconcile "+ns.Name+" namespace", err)
	}

	s.log.Info("store opened", map[string]interface{}{
		"namespace":   ns.Name,
		"version":     ns.Version,
		"collections": len(ns.Collections),
		"path":        conn.Path(),
	})
	return s, nil
}

// Namespace returns the namespace this store was opened with.
func (s *Store) Namespace() Namespace {
	return s.ns
}

// Close releases cached statements and the database. It is idempotent.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.stmtCache.Range(func(key, value interface{}) bool {
		value.(*sql.Stmt).Close()
		s.stmtCache.Delete(key)
		return true
	})
	return s.db.Close()
}

func (s *Store) ready() error {
	if s == nil || s.closed.Load() {
		return errors.NotReady("record store")
	}
	return nil
}

// WithTx runs fn in a write transaction, committing when fn returns nil.
// fn must use the *Tx variants of collection operations: the store has a
// single connection, which the transaction holds until it ends.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	if err := s.ready(); err != nil {
		return err
	}
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.dbError("begin transaction", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&Tx{tx: sqlTx, store: s}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return s.dbError("commit transaction", err)
	}
	return nil
}

// SchemaVersion returns the namespace version recorded in the database.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	return s.schemaVersion(ctx, s.db.DB)
}

// =====================================================
// Statement helpers
// =====================================================

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// prepareStmt gets or creates a prepared statement from cache.
func (s *Store) prepareStmt(ctx context.Context, query string) (*sql.Stmt, error) {
	if stmt, ok := s.stmtCache.Load(query); ok {
		return stmt.(*sql.Stmt), nil
	}

	stmt, err := s.db.PrepareContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}

	actual, loaded := s.stmtCache.LoadOrStore(query, stmt)
	if loaded {
		stmt.Close()
		return actual.(*sql.Stmt), nil
	}
	return stmt, nil
}

// stmt returns a statement for query bound to tx, or to the pool when tx is
// nil. Inside a transaction only already cached statements are reused;
// preparing on the pool would wait for the connection tx holds.
func (s *Store) stmt(ctx context.Context, tx *Tx, query string) (*sql.Stmt, error) {
	if tx == nil {
		return s.prepareStmt(ctx, query)
	}
	if cached, ok := s.stmtCache.Load(query); ok {
		return tx.tx.StmtContext(ctx, cached.(*sql.Stmt)), nil
	}
	return tx.tx.PrepareContext(ctx, query)
}

func (s *Store) exec(ctx context.Context, tx *Tx, query string, args ...any) error {
	st, err := s.stmt(ctx, tx, query)
	if err != nil {
		return err
	}
	if tx != nil {
		defer st.Close()
	}
	_, err = st.ExecContext(ctx, args...)
	return err
}

// queryStrings runs a query returning one text column and drains it.
func (s *Store) queryStrings(ctx context.Context, tx *Tx, query string, args ...any) ([]string, error) {
	st, err := s.stmt(ctx, tx, query)
	if err != nil {
		return nil, err
	}
	if tx != nil {
		defer st.Close()
	}
	rows, err := st.QueryContext(ctx, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Store) queryInt(ctx context.Context, tx *Tx, query string, args ...any) (int, error) {
	st, err := s.stmt(ctx, tx, query)
	if err != nil {
		return 0, err
	}
	if tx != nil {
		defer st.Close()
	}
	var n int
	err = st.QueryRowContext(ctx, args...).Scan(&n)
	return n, err
}

// dbError maps driver failures onto application errors.
func (s *Store) dbError(op string, err error) error {
	if err == nil {
		return nil
	}
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		return err
	}
	if s.closed.Load() || stderrors.Is(err, sql.ErrConnDone) {
		return errors.Wrap(errors.ErrNotReady, op, err)
	}
	return errors.Wrap(errors.ErrDatabase, op, err)
}

// =====================================================
// Namespace reconciliation
// =====================================================

func (s *Store) schemaVersion(ctx context.Context, q querier) (int, error) {
	var raw string
	err := q.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = 'schema_version'").Scan(&raw)
	if stderrors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(raw)
}

// reconcile registers every collection and index of the namespace, creating
// missing ones and backfilling indexes added to populated collections.
func (s *Store) reconcile(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stored, err := s.schemaVersion(ctx, tx)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if stored > s.ns.Version {
		return errors.Newf(errors.ErrMigration, "namespace %s is at version %d, newer than %d",
			s.ns.Name, stored, s.ns.Version)
	}

	for _, def := range s.ns.Collections {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO collections (name, key_path, created_version) VALUES (?, ?, ?)
			 ON CONFLICT(name) DO NOTHING`,
			def.Name, def.KeyPath, s.ns.Version); err != nil {
			return fmt.Errorf("register collection %s: %w", def.Name, err)
		}

		existing, err := registeredIndexes(ctx, tx, def.Name)
		if err != nil {
			return err
		}
		for _, idx := range def.Indexes {
			if existing[idx] {
				continue
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO collection_indexes (collection, name, created_version) VALUES (?, ?, ?)`,
				def.Name, idx, s.ns.Version); err != nil {
				return fmt.Errorf("register index %s.%s: %w", def.Name, idx, err)
			}
			n, err := backfill(ctx, tx, def, idx)
			if err != nil {
				return fmt.Errorf("backfill index %s.%s: %w", def.Name, idx, err)
			}
			if n > 0 {
				s.log.Info("index backfilled", map[string]interface{}{
					"collection": def.Name,
					"index":      idx,
					"records":    n,
				})
			}
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO meta (key, value) VALUES ('schema_version', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		strconv.Itoa(s.ns.Version)); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}

	return tx.Commit()
}

func registeredIndexes(ctx context.Context, tx *sql.Tx, collection string) (map[string]bool, error) {
	rows, err := tx.QueryContext(ctx, "SELECT name FROM collection_indexes WHERE collection = ?", collection)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out[name] = true
	}
	return out, rows.Err()
}

// backfill writes index rows for idx over every stored record of def.
func backfill(ctx context.Context, tx *sql.Tx, def CollectionDef, idx string) (int, error) {
	rows, err := tx.QueryContext(ctx, "SELECT id, body FROM records WHERE collection = ?", def.Name)
	if err != nil {
		return 0, err
	}
	type stored struct{ id, body string }
	var all []stored
	for rows.Next() {
		var r stored
		if err := rows.Scan(&r.id, &r.body); err != nil {
			rows.Close()
			return 0, err
		}
		all = append(all, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, r := range all {
		values, err := def.Extract([]byte(r.body))
		if err != nil {
			return 0, fmt.Errorf("decode record %s: %w", r.id, err)
		}
		key, ok, err := encodeIndexValue(values[idx])
		if err != nil {
			return 0, err
		}
		if !ok {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO record_index (collection, index_name, value, ord, id) VALUES (?, ?, ?, ?, ?)`,
			def.Name, idx, key.text, key.ord, r.id); err != nil {
			return 0, err
		}
	}
	return len(all), nil
}

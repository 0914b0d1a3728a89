package objstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/tapestore/internal/model"
)

// Tx is a transaction scoped to a fixed set of collections.
type Tx struct {
	ctx      context.Context
	tx       *sql.Tx
	catalog  catalog
	scope    map[string]bool
	writable bool
}

// View runs fn in a read-only transaction over collections.
func (s *DB) View(ctx context.Context, collections []string, fn func(tx *Tx) error) error {
	return s.run(ctx, collections, false, fn)
}

// Update runs fn in a read-write transaction over collections. The
// transaction commits when fn returns nil and rolls back otherwise.
func (s *DB) Update(ctx context.Context, collections []string, fn func(tx *Tx) error) error {
	return s.run(ctx, collections, true, fn)
}

func (s *DB) run(ctx context.Context, collections []string, writable bool, fn func(tx *Tx) error) (err error) {
	scope := make(map[string]bool, len(collections))
	for _, name := range collections {
		if _, ok := s.catalog[name]; !ok {
			return fmt.Errorf("%w: %s", ErrNoCollection, name)
		}
		scope[name] = true
	}

	pool := s.db
	if !writable {
		pool = s.reader
	}
	sqlTx, err := pool.BeginTx(ctx, &sql.TxOptions{ReadOnly: !writable})
	if err != nil {
		if isBusy(err) {
			return fmt.Errorf("%w: %v", ErrBlocked, err)
		}
		return fmt.Errorf("objstore: begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = sqlTx.Rollback()
		}
	}()

	tx := &Tx{ctx: ctx, tx: sqlTx, catalog: s.catalog, scope: scope, writable: writable}
	if err := fn(tx); err != nil {
		return err
	}
	if !writable {
		return sqlTx.Rollback()
	}
	if err := sqlTx.Commit(); err != nil {
		if isBusy(err) {
			return fmt.Errorf("%w: %v", ErrBlocked, err)
		}
		return fmt.Errorf("objstore: commit transaction: %w", err)
	}
	return nil
}

// Store returns the named collection within the transaction scope.
func (t *Tx) Store(name string) (*Store, error) {
	info, ok := t.catalog[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoCollection, name)
	}
	if !t.scope[name] {
		return nil, fmt.Errorf("%w: %s", ErrNotInScope, name)
	}
	return &Store{tx: t, info: info}, nil
}

// Store reads and writes the records of one collection.
type Store struct {
	tx   *Tx
	info CollectionInfo
}

// Name returns the collection name.
func (s *Store) Name() string { return s.info.Name }

// Get decodes the record stored under key into dst. It returns ErrNotFound
// when no record has that key.
func (s *Store) Get(key string, dst any) error {
	raw, err := s.GetRaw(key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("objstore: decode %s/%s: %w", s.info.Name, key, err)
	}
	return nil
}

// GetRaw returns the JSON stored under key.
func (s *Store) GetRaw(key string) (json.RawMessage, error) {
	var value string
	err := s.tx.tx.QueryRowContext(s.tx.ctx,
		fmt.Sprintf(`SELECT value FROM %s WHERE pk = ?`, tableName(s.info.Name)), key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, s.info.Name, key)
	}
	if err != nil {
		return nil, fmt.Errorf("objstore: get %s/%s: %w", s.info.Name, key, err)
	}
	return json.RawMessage(value), nil
}

// Add inserts record and returns its key. It fails with a *ConstraintError
// when the key or a unique index value is already present.
func (s *Store) Add(record any) (string, error) {
	return s.write(record, `INSERT INTO %s (pk, value) VALUES (?, ?)`)
}

// Put inserts or replaces record and returns its key. Unique indexes still
// apply against other records.
func (s *Store) Put(record any) (string, error) {
	return s.write(record,
		`INSERT INTO %s (pk, value) VALUES (?, ?) ON CONFLICT(pk) DO UPDATE SET value = excluded.value`)
}

func (s *Store) write(record any, stmt string) (string, error) {
	if !s.tx.writable {
		return "", ErrReadOnly
	}
	value, err := model.MarshalRecord(record)
	if err != nil {
		return "", fmt.Errorf("objstore: encode %s record: %w", s.info.Name, err)
	}
	key, err := extractKey(value, s.info.KeyPath)
	if err != nil {
		return "", fmt.Errorf("%s: %w", s.info.Name, err)
	}
	if _, err := s.tx.tx.ExecContext(s.tx.ctx,
		fmt.Sprintf(stmt, tableName(s.info.Name)), key, string(value)); err != nil {
		return "", classifyWriteError(s.info.Name, err)
	}
	return key, nil
}

// Delete removes the record stored under key. Deleting a missing key is not
// an error.
func (s *Store) Delete(key string) error {
	if !s.tx.writable {
		return ErrReadOnly
	}
	if _, err := s.tx.tx.ExecContext(s.tx.ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE pk = ?`, tableName(s.info.Name)), key); err != nil {
		return fmt.Errorf("objstore: delete %s/%s: %w", s.info.Name, key, err)
	}
	return nil
}

// Count returns the number of records whose key falls in r.
func (s *Store) Count(r KeyRange) (int, error) {
	return s.count("pk", r)
}

// OpenCursor iterates the records whose key falls in r, in key order.
func (s *Store) OpenCursor(r KeyRange) (*Cursor, error) {
	return s.openCursor("pk", r)
}

// Index returns the named secondary index of the collection.
func (s *Store) Index(name string) (*Index, error) {
	idx, ok := s.info.index(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrNoIndex, s.info.Name, name)
	}
	return &Index{store: s, info: idx}, nil
}

func (s *Store) count(expr string, r KeyRange) (int, error) {
	where, args := r.where(expr)
	var n int
	err := s.tx.tx.QueryRowContext(s.tx.ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM %s%s`, tableName(s.info.Name), where), args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("objstore: count %s: %w", s.info.Name, err)
	}
	return n, nil
}

// openCursor reads every matching row up front so the caller may write to the
// collection while iterating.
func (s *Store) openCursor(expr string, r KeyRange) (*Cursor, error) {
	where, args := r.where(expr)
	query := fmt.Sprintf(`SELECT pk, value FROM %s%s ORDER BY %s, pk`, tableName(s.info.Name), where, expr)
	rows, err := s.tx.tx.QueryContext(s.tx.ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("objstore: query %s: %w", s.info.Name, err)
	}
	defer rows.Close()

	c := &Cursor{pos: -1}
	for rows.Next() {
		var e entry
		var value string
		if err := rows.Scan(&e.key, &value); err != nil {
			return nil, fmt.Errorf("objstore: scan %s: %w", s.info.Name, err)
		}
		e.value = json.RawMessage(value)
		c.entries = append(c.entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("objstore: query %s: %w", s.info.Name, err)
	}
	return c, nil
}

// Index reads a collection through one of its secondary indexes.
type Index struct {
	store *Store
	info  IndexInfo
}

// Name returns the index name.
func (i *Index) Name() string { return i.info.Name }

// Unique reports whether the index enforces unique values.
func (i *Index) Unique() bool { return i.info.Unique }

// Count returns the number of records whose indexed value falls in r.
func (i *Index) Count(r KeyRange) (int, error) {
	return i.store.count(fieldExpr(i.info.KeyPath), r)
}

// OpenCursor iterates the records whose indexed value falls in r, ordered by
// indexed value and then primary key. Records without the indexed field are
// skipped.
func (i *Index) OpenCursor(r KeyRange) (*Cursor, error) {
	return i.store.openCursor(fieldExpr(i.info.KeyPath), r.notNull())
}

// Get decodes the first record whose indexed value equals value.
func (i *Index) Get(value any, dst any) error {
	c, err := i.OpenCursor(Only(value))
	if err != nil {
		return err
	}
	defer c.Close()
	if !c.Next() {
		return fmt.Errorf("%w: %s.%s=%v", ErrNotFound, i.store.info.Name, i.info.Name, value)
	}
	return c.Decode(dst)
}

// extractKey reads the primary key field from a canonical record.
func extractKey(value []byte, keyPath string) (string, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(value, &fields); err != nil {
		return "", fmt.Errorf("%w: record is not an object", ErrInvalidKey)
	}
	raw, ok := fields[keyPath]
	if !ok {
		return "", fmt.Errorf("%w: missing %s", ErrInvalidKey, keyPath)
	}
	var key string
	if err := json.Unmarshal(raw, &key); err != nil || key == "" {
		return "", fmt.Errorf("%w: %s must be a non-empty string", ErrInvalidKey, keyPath)
	}
	return key, nil
}

package objstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
)

var namePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func validName(name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

func tableName(collection string) string { return "c_" + collection }

func indexPrefix(collection string) string { return "i_" + collection + "__" }

func indexName(collection, index string) string { return indexPrefix(collection) + index }

// fieldExpr is the SQL expression an index is built on. Queries use the same
// expression so SQLite picks the index.
func fieldExpr(keyPath string) string {
	return fmt.Sprintf("json_extract(value, '$.%s')", keyPath)
}

// IndexInfo describes a secondary index.
type IndexInfo struct {
	Name    string `json:"name"`
	KeyPath string `json:"keyPath"`
	Unique  bool   `json:"unique"`
}

// CollectionInfo describes a collection and its indexes.
type CollectionInfo struct {
	Name    string      `json:"name"`
	KeyPath string      `json:"keyPath"`
	Indexes []IndexInfo `json:"indexes"`
}

func (c CollectionInfo) index(name string) (IndexInfo, bool) {
	for _, idx := range c.Indexes {
		if idx.Name == name {
			return idx, true
		}
	}
	return IndexInfo{}, false
}

type catalog map[string]CollectionInfo

func (c catalog) sorted() []CollectionInfo {
	out := make([]CollectionInfo, 0, len(c))
	for _, info := range c {
		info.Indexes = append([]IndexInfo(nil), info.Indexes...)
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func ensureCatalogTables(ctx context.Context, q querier) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS _collections (
			name TEXT PRIMARY KEY,
			key_path TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS _indexes (
			collection TEXT NOT NULL REFERENCES _collections(name),
			name TEXT NOT NULL,
			key_path TEXT NOT NULL,
			is_unique INTEGER NOT NULL,
			PRIMARY KEY (collection, name)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := q.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("objstore: create catalog: %w", err)
		}
	}
	return nil
}

func readCatalog(ctx context.Context, q querier) (catalog, error) {
	cat := catalog{}

	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = '_collections'`).Scan(&n)
	if err != nil {
		return nil, fmt.Errorf("objstore: inspect catalog: %w", err)
	}
	if n == 0 {
		return cat, nil
	}

	rows, err := q.QueryContext(ctx, `SELECT name, key_path FROM _collections ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("objstore: read collections: %w", err)
	}
	for rows.Next() {
		var info CollectionInfo
		if err := rows.Scan(&info.Name, &info.KeyPath); err != nil {
			rows.Close()
			return nil, fmt.Errorf("objstore: scan collection: %w", err)
		}
		cat[info.Name] = info
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("objstore: read collections: %w", err)
	}
	rows.Close()

	rows, err = q.QueryContext(ctx, `SELECT collection, name, key_path, is_unique FROM _indexes ORDER BY collection, name`)
	if err != nil {
		return nil, fmt.Errorf("objstore: read indexes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var collection string
		var idx IndexInfo
		if err := rows.Scan(&collection, &idx.Name, &idx.KeyPath, &idx.Unique); err != nil {
			return nil, fmt.Errorf("objstore: scan index: %w", err)
		}
		info, ok := cat[collection]
		if !ok {
			continue
		}
		info.Indexes = append(info.Indexes, idx)
		cat[collection] = info
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("objstore: read indexes: %w", err)
	}
	return cat, nil
}

func (s *DB) loadCatalog(ctx context.Context) error {
	cat, err := readCatalog(ctx, s.db)
	if err != nil {
		return err
	}
	s.catalog = cat
	return nil
}

// Collections lists the collections of the database, sorted by name.
func (s *DB) Collections() []CollectionInfo {
	return s.catalog.sorted()
}

// UpgradeTx is the schema-changing transaction handed to an UpgradeFunc.
type UpgradeTx struct {
	ctx     context.Context
	q       querier
	catalog catalog
}

func (u *UpgradeTx) loadCatalog() error {
	cat, err := readCatalog(u.ctx, u.q)
	if err != nil {
		return err
	}
	u.catalog = cat
	return nil
}

// Collections lists the collections visible to the upgrade so far.
func (u *UpgradeTx) Collections() []CollectionInfo {
	return u.catalog.sorted()
}

// HasCollection reports whether name exists.
func (u *UpgradeTx) HasCollection(name string) bool {
	_, ok := u.catalog[name]
	return ok
}

// CreateCollection creates a collection whose records are keyed by keyPath.
// It fails with ErrCollectionExists if the collection is already present.
func (u *UpgradeTx) CreateCollection(name, keyPath string) (*Collection, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	if err := validName(keyPath); err != nil {
		return nil, err
	}
	if _, ok := u.catalog[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrCollectionExists, name)
	}

	stmt := fmt.Sprintf(`CREATE TABLE %s (
		pk TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`, tableName(name))
	if _, err := u.q.ExecContext(u.ctx, stmt); err != nil {
		return nil, fmt.Errorf("objstore: create collection %s: %w", name, err)
	}
	if _, err := u.q.ExecContext(u.ctx,
		`INSERT INTO _collections (name, key_path) VALUES (?, ?)`, name, keyPath); err != nil {
		return nil, fmt.Errorf("objstore: register collection %s: %w", name, err)
	}
	u.catalog[name] = CollectionInfo{Name: name, KeyPath: keyPath}
	return &Collection{u: u, name: name}, nil
}

// Collection returns an existing collection for index changes.
func (u *UpgradeTx) Collection(name string) (*Collection, error) {
	if _, ok := u.catalog[name]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoCollection, name)
	}
	return &Collection{u: u, name: name}, nil
}

// Collection is a handle for changing one collection during an upgrade.
type Collection struct {
	u    *UpgradeTx
	name string
}

// Name returns the collection name.
func (c *Collection) Name() string { return c.name }

// HasIndex reports whether the collection has an index called name.
func (c *Collection) HasIndex(name string) bool {
	_, ok := c.u.catalog[c.name].index(name)
	return ok
}

// CreateIndex adds a secondary index over keyPath. Existing records are
// indexed immediately; for a unique index, duplicate values among them fail
// the upgrade. It fails with ErrIndexExists if the index is already present.
func (c *Collection) CreateIndex(name, keyPath string, unique bool) error {
	if err := validName(name); err != nil {
		return err
	}
	if err := validName(keyPath); err != nil {
		return err
	}
	info := c.u.catalog[c.name]
	if _, ok := info.index(name); ok {
		return fmt.Errorf("%w: %s.%s", ErrIndexExists, c.name, name)
	}

	kind := "INDEX"
	if unique {
		kind = "UNIQUE INDEX"
	}
	stmt := fmt.Sprintf(`CREATE %s %s ON %s (%s)`,
		kind, indexName(c.name, name), tableName(c.name), fieldExpr(keyPath))
	if _, err := c.u.q.ExecContext(c.u.ctx, stmt); err != nil {
		return fmt.Errorf("objstore: create index %s.%s: %w", c.name, name, classifyWriteError(c.name, err))
	}
	if _, err := c.u.q.ExecContext(c.u.ctx,
		`INSERT INTO _indexes (collection, name, key_path, is_unique) VALUES (?, ?, ?, ?)`,
		c.name, name, keyPath, unique); err != nil {
		return fmt.Errorf("objstore: register index %s.%s: %w", c.name, name, err)
	}
	info.Indexes = append(info.Indexes, IndexInfo{Name: name, KeyPath: keyPath, Unique: unique})
	c.u.catalog[c.name] = info
	return nil
}

// IsExists reports whether err is ErrCollectionExists or ErrIndexExists.
func IsExists(err error) bool {
	return errors.Is(err, ErrCollectionExists) || errors.Is(err, ErrIndexExists)
}

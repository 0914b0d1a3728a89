// Package schema opens partition databases and brings them to the current
// schema version.
//
// A partition database is named <namespace>_<dbName>_<partitionId> and lives
// at <dataDir>/<name>.db. Upgrade steps are gated on the stored version and
// tolerate collections and indexes that already exist, so an interrupted or
// partially applied upgrade can be re-run.
package schema

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/roach88/tapestore/internal/objstore"
)

// Version is the schema version partitions are opened at.
const Version = 4

const (
	DefaultNamespace = "tw"
	DefaultDBName    = "default"
	DefaultPartition = "master"
)

// Collection and index names.
const (
	Commits   = "commits"
	Truncated = "truncated"
	Snapshots = "snapshots"

	IndexStreamID               = "streamId"
	IndexStreamIDCommitSequence = "streamIdCommitSequence"
)

// ErrInvalidPartition is returned for partition ids that cannot name a file.
var ErrInvalidPartition = errors.New("schema: invalid partition id")

// Options locates and tunes partition databases.
type Options struct {
	DataDir     string
	Namespace   string
	DBName      string
	BusyTimeout time.Duration
	Synchronous string
	Logger      *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.DataDir == "" {
		o.DataDir = "."
	}
	if o.Namespace == "" {
		o.Namespace = DefaultNamespace
	}
	if o.DBName == "" {
		o.DBName = DefaultDBName
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// PartitionID normalizes id, mapping "" to the master partition, and rejects
// ids that would escape the data directory.
func PartitionID(id string) (string, error) {
	if id == "" {
		return DefaultPartition, nil
	}
	if id == "." || id == ".." || strings.ContainsAny(id, "/\\\x00") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPartition, id)
	}
	return id, nil
}

// Name returns the database name of a partition.
func Name(namespace, dbName, partitionID string) string {
	return namespace + "_" + dbName + "_" + partitionID
}

// Path returns the database file of a partition. partitionID must already be
// normalized by PartitionID.
func (o Options) Path(partitionID string) string {
	o = o.withDefaults()
	return filepath.Join(o.DataDir, Name(o.Namespace, o.DBName, partitionID)+".db")
}

// Open opens the database of partitionID at Version, creating it and running
// any pending upgrade steps.
//
// A caller-supplied logger is used as is; only the default logger is tagged
// with the partition id.
func Open(ctx context.Context, partitionID string, opts Options) (*objstore.DB, error) {
	tagLogger := opts.Logger == nil
	opts = opts.withDefaults()
	id, err := PartitionID(partitionID)
	if err != nil {
		return nil, err
	}
	path := opts.Path(id)
	logger := opts.Logger
	if tagLogger {
		logger = logger.With("partition", id)
	}

	if err := os.MkdirAll(opts.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("schema: create data dir: %w", err)
	}

	db, err := objstore.Open(ctx, path, objstore.Options{
		Version:     Version,
		Upgrade:     Upgrade(logger),
		BusyTimeout: opts.BusyTimeout,
		Synchronous: opts.Synchronous,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("schema: open %s: %w", Name(opts.Namespace, opts.DBName, id), err)
	}
	return db, nil
}

type step struct {
	version int
	name    string
	apply   func(tx *objstore.UpgradeTx, logger *slog.Logger) error
}

var steps = []step{
	{1, "create commits", createCommits},
	{2, "create truncated", createTruncated},
	{3, "create snapshots", createSnapshots},
	{4, "repair collections", repair},
}

// Upgrade returns the upgrade callback applying every step newer than the
// stored version.
func Upgrade(logger *slog.Logger) objstore.UpgradeFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(tx *objstore.UpgradeTx, oldVersion int) error {
		for _, s := range steps {
			if oldVersion >= s.version {
				continue
			}
			logger.Debug("applying schema step", "version", s.version, "step", s.name)
			if err := s.apply(tx, logger); err != nil {
				return fmt.Errorf("schema step %d (%s): %w", s.version, s.name, err)
			}
		}
		return nil
	}
}

func createCommits(tx *objstore.UpgradeTx, logger *slog.Logger) error {
	c, err := ensureCollection(tx, logger, Commits, "id")
	if err != nil {
		return err
	}
	if err := ensureIndex(c, logger, IndexStreamID, "streamId", false); err != nil {
		return err
	}
	return ensureIndex(c, logger, IndexStreamIDCommitSequence, "streamIdCommitSequence", true)
}

func createTruncated(tx *objstore.UpgradeTx, logger *slog.Logger) error {
	c, err := ensureCollection(tx, logger, Truncated, "id")
	if err != nil {
		return err
	}
	return ensureIndex(c, logger, IndexStreamID, "streamId", false)
}

func createSnapshots(tx *objstore.UpgradeTx, logger *slog.Logger) error {
	_, err := ensureCollection(tx, logger, Snapshots, "streamId")
	return err
}

// repair re-applies the earlier steps so a database that reached version 3
// without its collections comes out complete.
func repair(tx *objstore.UpgradeTx, logger *slog.Logger) error {
	for _, fn := range []func(*objstore.UpgradeTx, *slog.Logger) error{createCommits, createTruncated, createSnapshots} {
		if err := fn(tx, logger); err != nil {
			return err
		}
	}
	return nil
}

func ensureCollection(tx *objstore.UpgradeTx, logger *slog.Logger, name, keyPath string) (*objstore.Collection, error) {
	c, err := tx.CreateCollection(name, keyPath)
	if errors.Is(err, objstore.ErrCollectionExists) {
		logger.Debug("collection already exists", "collection", name)
		return tx.Collection(name)
	}
	return c, err
}

func ensureIndex(c *objstore.Collection, logger *slog.Logger, name, keyPath string, unique bool) error {
	err := c.CreateIndex(name, keyPath, unique)
	if errors.Is(err, objstore.ErrIndexExists) {
		logger.Debug("index already exists", "collection", c.Name(), "index", name)
		return nil
	}
	return err
}

// Description summarizes an open partition database.
type Description struct {
	Path        string                    `json:"path"`
	Version     int                       `json:"version"`
	Collections []objstore.CollectionInfo `json:"collections"`
}

// Describe reports the version and catalog of db.
func Describe(db *objstore.DB) Description {
	return Description{
		Path:        db.Path(),
		Version:     db.Version(),
		Collections: db.Collections(),
	}
}

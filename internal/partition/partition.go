// Package partition implements the storage partition of an event store: an
// append-only commit log with per-stream queries, truncation and header
// merge, plus a per-stream snapshot cache.
//
// A Partition owns one schema-managed database. Conflicting writes are
// resolved by the database's uniqueness constraints, never by locks in this
// package:
//
//	p := partition.New("orders", schema.Options{DataDir: dir})
//	if err := p.Open(ctx); err != nil {
//	    return err
//	}
//	stored, err := p.Append(ctx, commit)
//	switch {
//	case partition.IsDuplicate(err):
//	    // already applied
//	case partition.IsConcurrency(err):
//	    // re-sequence and retry
//	}
package partition

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/tapestore/internal/model"
	"github.com/roach88/tapestore/internal/objstore"
	"github.com/roach88/tapestore/internal/schema"
)

// CommitStore is the full operation set of a partition.
type CommitStore interface {
	ID() string

	Append(ctx context.Context, commit model.Commit) (model.Commit, error)
	AppendBatch(ctx context.Context, commits []model.Commit) ([]model.Commit, error)
	QueryAll(ctx context.Context) ([]model.Commit, error)
	QueryStream(ctx context.Context, streamID string, fromEventSequence int) ([]model.Commit, error)
	QueryTruncated(ctx context.Context, streamID string) ([]model.TruncatedCommit, error)
	GetCommit(ctx context.Context, commitID string) (model.Commit, error)
	TruncateStreamFrom(ctx context.Context, streamID string, commitSequence int, remove bool) error
	ApplyCommitHeader(ctx context.Context, commitID string, header model.Header) (model.Commit, error)
	MarkAsDispatched(ctx context.Context, commitID string) (model.Commit, error)
	GetUndispatched(ctx context.Context) ([]model.Commit, error)

	LoadSnapshot(ctx context.Context, streamID string) (model.Snapshot, bool, error)
	StoreSnapshot(ctx context.Context, streamID string, snapshot json.RawMessage, version int) (model.Snapshot, error)
	StoreSnapshotsBulk(ctx context.Context, snapshots []model.Snapshot) error
	RemoveSnapshots(ctx context.Context, streamIDs ...string) error
}

// Clock supplies append timestamps.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Option configures a Partition.
type Option func(*Partition)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Partition) { p.logger = logger }
}

// WithClock sets the clock that stamps appendDateTime.
func WithClock(clock Clock) Option {
	return func(p *Partition) { p.clock = clock }
}

// Partition is the storage unit for one partition id.
type Partition struct {
	id     string
	opts   schema.Options
	logger *slog.Logger
	clock  Clock

	mu sync.Mutex
	db *objstore.DB
}

var _ CommitStore = (*Partition)(nil)

// New creates a closed partition. An empty id means the master partition.
func New(id string, opts schema.Options, options ...Option) *Partition {
	if id == "" {
		id = schema.DefaultPartition
	}
	p := &Partition{
		id:     id,
		opts:   opts,
		logger: slog.Default(),
		clock:  systemClock{},
	}
	for _, opt := range options {
		opt(p)
	}
	p.logger = p.logger.With("partition", id)
	return p
}

// ID returns the partition id.
func (p *Partition) ID() string { return p.id }

// Open opens the partition database, creating or upgrading it as needed.
// Calling Open on an open partition is a no-op. A failed Open is reported as
// an open error and may be attempted again.
func (p *Partition) Open(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.db != nil {
		return nil
	}
	opts := p.opts
	opts.Logger = p.logger
	db, err := schema.Open(ctx, p.id, opts)
	if err != nil {
		p.logger.Error("open failed", "error", err)
		return &Error{Kind: KindOpen, Op: "open", PartitionID: p.id, Err: err}
	}
	p.db = db
	p.logger.Info("partition opened", "db", db.Path(), "version", db.Version())
	return nil
}

// Close closes the partition database. The partition can be opened again.
func (p *Partition) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.db == nil {
		return nil
	}
	err := p.db.Close()
	p.db = nil
	return err
}

// Describe reports the schema of the open database.
func (p *Partition) Describe() (schema.Description, error) {
	db, err := p.handle("describe")
	if err != nil {
		return schema.Description{}, err
	}
	return schema.Describe(db), nil
}

func (p *Partition) handle(op string) (*objstore.DB, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.db == nil {
		return nil, &Error{Kind: KindStorage, Op: op, PartitionID: p.id, Err: ErrClosed}
	}
	return p.db, nil
}

func (p *Partition) storageError(op, streamID, commitID string, err error) error {
	return &Error{Kind: KindStorage, Op: op, PartitionID: p.id, StreamID: streamID, CommitID: commitID, Err: err}
}

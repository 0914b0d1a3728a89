package partition

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/roach88/tapestore/internal/model"
	"github.com/roach88/tapestore/internal/objstore"
	"github.com/roach88/tapestore/internal/schema"
)

// Append stores commit at its stream position. isDispatched is reset,
// streamIdCommitSequence derived and appendDateTime stamped before the insert.
//
// Append fails with a duplicate commit error when the id was appended before
// (including ids archived by truncation) and with a concurrency error when a
// different commit already holds the stream position.
func (p *Partition) Append(ctx context.Context, commit model.Commit) (model.Commit, error) {
	const op = "append"
	db, err := p.handle(op)
	if err != nil {
		return model.Commit{}, err
	}
	if err := validateCommit(commit); err != nil {
		return model.Commit{}, &Error{Kind: KindInvalid, Op: op, PartitionID: p.id,
			StreamID: commit.StreamID, CommitID: commit.ID, Err: err}
	}

	c := commit.Clone()
	if c.PartitionID == "" {
		c.PartitionID = p.id
	}
	if c.Events == nil {
		c.Events = []model.Event{}
	}
	c.IsDispatched = false
	c.StreamIDCommitSequence = model.StreamIDCommitSequenceKey(c.StreamID, c.CommitSequence)
	c.AppendDateTime = p.clock.Now().UTC()

	err = db.Update(ctx, []string{schema.Commits, schema.Truncated}, func(tx *objstore.Tx) error {
		return p.insertCommit(tx, c)
	})
	if err != nil {
		var pe *Error
		if errors.As(err, &pe) {
			p.logger.Warn("append rejected", "kind", pe.Kind, "stream", c.StreamID,
				"commit", c.ID, "sequence", c.CommitSequence)
			return model.Commit{}, err
		}
		return model.Commit{}, p.storageError(op, c.StreamID, c.ID, err)
	}

	p.logger.Debug("commit appended", "stream", c.StreamID, "commit", c.ID,
		"sequence", c.CommitSequence, "events", len(c.Events))
	return c.Clone(), nil
}

// insertCommit adds c and classifies a uniqueness failure. A primary key
// violation is a duplicate. Any other violation is resolved by looking the id
// up: present means the same commit was re-submitted, absent means another
// commit won the stream position.
func (p *Partition) insertCommit(tx *objstore.Tx, c model.Commit) error {
	commits, err := tx.Store(schema.Commits)
	if err != nil {
		return err
	}
	truncated, err := tx.Store(schema.Truncated)
	if err != nil {
		return err
	}

	conflict := func(kind ErrorKind, cause error) error {
		return &Error{Kind: kind, Op: "append", PartitionID: p.id, StreamID: c.StreamID, CommitID: c.ID, Err: cause}
	}

	if _, err := truncated.GetRaw(c.ID); err == nil {
		return conflict(KindDuplicateCommit, fmt.Errorf("commit %s was truncated", c.ID))
	} else if !errors.Is(err, objstore.ErrNotFound) {
		return err
	}

	_, err = commits.Add(c)
	if err == nil {
		return nil
	}
	var ce *objstore.ConstraintError
	if !errors.As(err, &ce) {
		return err
	}
	if ce.Primary {
		return conflict(KindDuplicateCommit, err)
	}
	if _, lerr := commits.GetRaw(c.ID); lerr == nil {
		return conflict(KindDuplicateCommit, err)
	}
	return conflict(KindConcurrency, err)
}

func validateCommit(c model.Commit) error {
	switch {
	case c.ID == "":
		return errors.New("commit id is required")
	case c.StreamID == "":
		return errors.New("stream id is required")
	case c.CommitSequence < 0:
		return fmt.Errorf("commit sequence must be >= 0, got %d", c.CommitSequence)
	}
	return nil
}

// AppendBatch appends commits in order and stops at the first failure. It
// returns the commits stored before the failure.
func (p *Partition) AppendBatch(ctx context.Context, commits []model.Commit) ([]model.Commit, error) {
	stored := make([]model.Commit, 0, len(commits))
	for _, c := range commits {
		s, err := p.Append(ctx, c)
		if err != nil {
			return stored, err
		}
		stored = append(stored, s)
	}
	return stored, nil
}

// QueryAll returns every active commit sorted by commitSequence.
func (p *Partition) QueryAll(ctx context.Context) ([]model.Commit, error) {
	const op = "queryAll"
	db, err := p.handle(op)
	if err != nil {
		return nil, err
	}
	var out []model.Commit
	err = db.View(ctx, []string{schema.Commits}, func(tx *objstore.Tx) error {
		commits, err := tx.Store(schema.Commits)
		if err != nil {
			return err
		}
		cur, err := commits.OpenCursor(objstore.All())
		if err != nil {
			return err
		}
		out, err = decodeCommits(cur)
		return err
	})
	if err != nil {
		return nil, p.storageError(op, "", "", err)
	}
	sortBySequence(out)
	return out, nil
}

// QueryStream returns the active commits of streamID sorted by
// commitSequence, starting at event fromEventSequence of the stream.
//
// The events of the sorted commits are treated as one sequence. Commits whose
// events all precede fromEventSequence are dropped, and when the boundary
// falls inside a commit that commit is returned with only its trailing
// events.
func (p *Partition) QueryStream(ctx context.Context, streamID string, fromEventSequence int) ([]model.Commit, error) {
	const op = "queryStream"
	db, err := p.handle(op)
	if err != nil {
		return nil, err
	}
	if fromEventSequence < 0 {
		return nil, &Error{Kind: KindInvalid, Op: op, PartitionID: p.id, StreamID: streamID,
			Err: fmt.Errorf("negative event sequence %d", fromEventSequence)}
	}
	commits, err := queryByStream(ctx, db, schema.Commits, streamID)
	if err != nil {
		return nil, p.storageError(op, streamID, "", err)
	}
	out := sliceFromEvent(commits, fromEventSequence)
	p.logger.Debug("stream queried", "stream", streamID, "from", fromEventSequence, "commits", len(out))
	return out, nil
}

// QueryTruncated returns the archived commits of streamID sorted by
// commitSequence.
func (p *Partition) QueryTruncated(ctx context.Context, streamID string) ([]model.TruncatedCommit, error) {
	const op = "queryTruncated"
	db, err := p.handle(op)
	if err != nil {
		return nil, err
	}
	out, err := queryByStream(ctx, db, schema.Truncated, streamID)
	if err != nil {
		return nil, p.storageError(op, streamID, "", err)
	}
	return out, nil
}

func queryByStream(ctx context.Context, db *objstore.DB, collection, streamID string) ([]model.Commit, error) {
	var out []model.Commit
	err := db.View(ctx, []string{collection}, func(tx *objstore.Tx) error {
		var err error
		out, err = streamCommits(tx, collection, streamID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// streamCommits reads the commits of streamID from collection through its
// streamId index, sorted by commitSequence.
func streamCommits(tx *objstore.Tx, collection, streamID string) ([]model.Commit, error) {
	store, err := tx.Store(collection)
	if err != nil {
		return nil, err
	}
	idx, err := store.Index(schema.IndexStreamID)
	if err != nil {
		return nil, err
	}
	cur, err := idx.OpenCursor(objstore.Only(streamID))
	if err != nil {
		return nil, err
	}
	out, err := decodeCommits(cur)
	if err != nil {
		return nil, err
	}
	sortBySequence(out)
	return out, nil
}

func decodeCommits(cur *objstore.Cursor) ([]model.Commit, error) {
	defer cur.Close()
	out := make([]model.Commit, 0, cur.Len())
	for cur.Next() {
		var c model.Commit
		if err := cur.Decode(&c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, cur.Err()
}

func sortBySequence(commits []model.Commit) {
	sort.SliceStable(commits, func(i, j int) bool {
		return commits[i].CommitSequence < commits[j].CommitSequence
	})
}

// sliceFromEvent drops the events before from. commits must be sorted.
func sliceFromEvent(commits []model.Commit, from int) []model.Commit {
	if from <= 0 {
		return commits
	}
	found := 0
	for i, c := range commits {
		found += len(c.Events)
		if found < from {
			continue
		}
		extra := found - from
		if extra == 0 {
			return commits[i+1:]
		}
		first := c.Clone()
		first.Events = first.Events[len(first.Events)-extra:]
		return append([]model.Commit{first}, commits[i+1:]...)
	}
	return []model.Commit{}
}

// GetCommit returns the active commit stored under commitID.
func (p *Partition) GetCommit(ctx context.Context, commitID string) (model.Commit, error) {
	const op = "getCommit"
	db, err := p.handle(op)
	if err != nil {
		return model.Commit{}, err
	}
	var c model.Commit
	err = db.View(ctx, []string{schema.Commits}, func(tx *objstore.Tx) error {
		commits, err := tx.Store(schema.Commits)
		if err != nil {
			return err
		}
		return commits.Get(commitID, &c)
	})
	if errors.Is(err, objstore.ErrNotFound) {
		return model.Commit{}, &Error{Kind: KindNotFound, Op: op, PartitionID: p.id, CommitID: commitID, Err: err}
	}
	if err != nil {
		return model.Commit{}, p.storageError(op, "", commitID, err)
	}
	return c, nil
}

// TruncateStreamFrom removes the commits of streamID at or after
// commitSequence from the active log. Unless remove is set, each removed
// commit is archived in the truncated collection first. The read, archive and
// delete run in one transaction, so a partial truncation is never visible.
// Truncating a range that is already gone is a no-op.
func (p *Partition) TruncateStreamFrom(ctx context.Context, streamID string, commitSequence int, remove bool) error {
	const op = "truncateStreamFrom"
	db, err := p.handle(op)
	if err != nil {
		return err
	}

	var removed int
	err = db.Update(ctx, []string{schema.Commits, schema.Truncated}, func(tx *objstore.Tx) error {
		stream, err := streamCommits(tx, schema.Commits, streamID)
		if err != nil {
			return err
		}
		commits, err := tx.Store(schema.Commits)
		if err != nil {
			return err
		}
		truncated, err := tx.Store(schema.Truncated)
		if err != nil {
			return err
		}
		for _, c := range stream {
			if c.CommitSequence < commitSequence {
				continue
			}
			if !remove {
				if _, err := truncated.Put(c); err != nil {
					return fmt.Errorf("archive commit %s: %w", c.ID, err)
				}
			}
			if err := commits.Delete(c.ID); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return p.storageError(op, streamID, "", err)
	}

	p.logger.Info("stream truncated", "stream", streamID, "from", commitSequence,
		"commits", removed, "remove", remove)
	return nil
}

// ApplyCommitHeader merges header into the stored commit and returns the
// commit as stored, so header values come back decoded the same way GetCommit
// decodes them. Identity, ordering and event fields are never changed by the
// merge.
func (p *Partition) ApplyCommitHeader(ctx context.Context, commitID string, header model.Header) (model.Commit, error) {
	const op = "applyCommitHeader"
	db, err := p.handle(op)
	if err != nil {
		return model.Commit{}, err
	}

	var merged model.Commit
	err = db.Update(ctx, []string{schema.Commits}, func(tx *objstore.Tx) error {
		commits, err := tx.Store(schema.Commits)
		if err != nil {
			return err
		}
		var c model.Commit
		if err := commits.Get(commitID, &c); err != nil {
			if errors.Is(err, objstore.ErrNotFound) {
				return &Error{Kind: KindNotFound, Op: op, PartitionID: p.id, CommitID: commitID, Err: err}
			}
			return err
		}
		updated, err := c.MergeHeader(header)
		if err != nil {
			return &Error{Kind: KindInvalid, Op: op, PartitionID: p.id, StreamID: c.StreamID, CommitID: commitID, Err: err}
		}
		if _, err := commits.Put(updated); err != nil {
			return err
		}
		return commits.Get(commitID, &merged)
	})
	if err != nil {
		var pe *Error
		if errors.As(err, &pe) {
			return model.Commit{}, err
		}
		return model.Commit{}, p.storageError(op, "", commitID, err)
	}

	p.logger.Debug("commit header applied", "commit", commitID, "fields", len(header))
	return merged, nil
}

// MarkAsDispatched is not supported; dispatch tracking is not active.
func (p *Partition) MarkAsDispatched(_ context.Context, commitID string) (model.Commit, error) {
	return model.Commit{}, &Error{Kind: KindNotImplemented, Op: "markAsDispatched", PartitionID: p.id, CommitID: commitID}
}

// GetUndispatched is not supported; dispatch tracking is not active.
func (p *Partition) GetUndispatched(_ context.Context) ([]model.Commit, error) {
	return nil, &Error{Kind: KindNotImplemented, Op: "getUndispatched", PartitionID: p.id}
}

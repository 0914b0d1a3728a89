package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/tapestore/internal/model"
	"github.com/roach88/tapestore/internal/partition"
	"github.com/roach88/tapestore/internal/testutil"
)

// Operation names accepted in scenario steps.
const (
	OpAppend             = "append"
	OpAppendBatch        = "appendBatch"
	OpQueryAll           = "queryAll"
	OpQueryStream        = "queryStream"
	OpQueryTruncated     = "queryTruncated"
	OpGetCommit          = "getCommit"
	OpTruncate           = "truncate"
	OpApplyHeader        = "applyHeader"
	OpMarkDispatched     = "markDispatched"
	OpGetUndispatched    = "getUndispatched"
	OpStoreSnapshot      = "storeSnapshot"
	OpStoreSnapshotsBulk = "storeSnapshotsBulk"
	OpLoadSnapshot       = "loadSnapshot"
	OpRemoveSnapshots    = "removeSnapshots"
)

// opFunc runs one operation and returns its trace result.
type opFunc func(ctx context.Context, store partition.CommitStore, a args) (interface{}, error)

var operations = map[string]opFunc{
	OpAppend:             opAppend,
	OpAppendBatch:        opAppendBatch,
	OpQueryAll:           opQueryAll,
	OpQueryStream:        opQueryStream,
	OpQueryTruncated:     opQueryTruncated,
	OpGetCommit:          opGetCommit,
	OpTruncate:           opTruncate,
	OpApplyHeader:        opApplyHeader,
	OpMarkDispatched:     opMarkDispatched,
	OpGetUndispatched:    opGetUndispatched,
	OpStoreSnapshot:      opStoreSnapshot,
	OpStoreSnapshotsBulk: opStoreSnapshotsBulk,
	OpLoadSnapshot:       opLoadSnapshot,
	OpRemoveSnapshots:    opRemoveSnapshots,
}

func opAppend(ctx context.Context, store partition.CommitStore, a args) (interface{}, error) {
	c, err := a.commit()
	if err != nil {
		return nil, err
	}
	stored, err := store.Append(ctx, c)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"key":            stored.StreamIDCommitSequence,
		"appendDateTime": stored.AppendDateTime.Format(time.RFC3339Nano),
	}, nil
}

func opAppendBatch(ctx context.Context, store partition.CommitStore, a args) (interface{}, error) {
	items, err := a.list("commits")
	if err != nil {
		return nil, err
	}
	commits := make([]model.Commit, 0, len(items))
	for i, item := range items {
		c, err := item.commit()
		if err != nil {
			return nil, fmt.Errorf("commits[%d]: %w", i, err)
		}
		commits = append(commits, c)
	}
	stored, err := store.AppendBatch(ctx, commits)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"stored": commitIDs(stored)}, nil
}

func opQueryAll(ctx context.Context, store partition.CommitStore, _ args) (interface{}, error) {
	commits, err := store.QueryAll(ctx)
	if err != nil {
		return nil, err
	}
	return commitsResult(commits), nil
}

func opQueryStream(ctx context.Context, store partition.CommitStore, a args) (interface{}, error) {
	stream, err := a.str("stream")
	if err != nil {
		return nil, err
	}
	from, err := a.optionalNum("from", 0)
	if err != nil {
		return nil, err
	}
	commits, err := store.QueryStream(ctx, stream, from)
	if err != nil {
		return nil, err
	}
	return commitsResult(commits), nil
}

func opQueryTruncated(ctx context.Context, store partition.CommitStore, a args) (interface{}, error) {
	stream, err := a.str("stream")
	if err != nil {
		return nil, err
	}
	commits, err := store.QueryTruncated(ctx, stream)
	if err != nil {
		return nil, err
	}
	return commitsResult(commits), nil
}

func opGetCommit(ctx context.Context, store partition.CommitStore, a args) (interface{}, error) {
	id, err := a.str("id")
	if err != nil {
		return nil, err
	}
	c, err := store.GetCommit(ctx, id)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"stream": c.StreamID,
		"seq":    c.CommitSequence,
		"events": eventIDs([]model.Commit{c}),
	}, nil
}

func opTruncate(ctx context.Context, store partition.CommitStore, a args) (interface{}, error) {
	stream, err := a.str("stream")
	if err != nil {
		return nil, err
	}
	from, err := a.num("from")
	if err != nil {
		return nil, err
	}
	remove, err := a.optionalBool("remove")
	if err != nil {
		return nil, err
	}
	return nil, store.TruncateStreamFrom(ctx, stream, from, remove)
}

func opApplyHeader(ctx context.Context, store partition.CommitStore, a args) (interface{}, error) {
	id, err := a.str("id")
	if err != nil {
		return nil, err
	}
	header, err := a.object("header")
	if err != nil {
		return nil, err
	}
	merged, err := store.ApplyCommitHeader(ctx, id, model.Header(header))
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"headers": map[string]interface{}(merged.Headers)}, nil
}

func opMarkDispatched(ctx context.Context, store partition.CommitStore, a args) (interface{}, error) {
	id, err := a.str("id")
	if err != nil {
		return nil, err
	}
	_, err = store.MarkAsDispatched(ctx, id)
	return nil, err
}

func opGetUndispatched(ctx context.Context, store partition.CommitStore, _ args) (interface{}, error) {
	commits, err := store.GetUndispatched(ctx)
	if err != nil {
		return nil, err
	}
	return commitsResult(commits), nil
}

func opStoreSnapshot(ctx context.Context, store partition.CommitStore, a args) (interface{}, error) {
	snap, err := a.snapshot()
	if err != nil {
		return nil, err
	}
	stored, err := store.StoreSnapshot(ctx, snap.StreamID, snap.Snapshot, snap.Version)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"version": stored.Version}, nil
}

func opStoreSnapshotsBulk(ctx context.Context, store partition.CommitStore, a args) (interface{}, error) {
	items, err := a.list("snapshots")
	if err != nil {
		return nil, err
	}
	snaps := make([]model.Snapshot, 0, len(items))
	for i, item := range items {
		snap, err := item.snapshot()
		if err != nil {
			return nil, fmt.Errorf("snapshots[%d]: %w", i, err)
		}
		snaps = append(snaps, snap)
	}
	return nil, store.StoreSnapshotsBulk(ctx, snaps)
}

func opLoadSnapshot(ctx context.Context, store partition.CommitStore, a args) (interface{}, error) {
	stream, err := a.str("stream")
	if err != nil {
		return nil, err
	}
	snap, ok, err := store.LoadSnapshot(ctx, stream)
	if err != nil {
		return nil, err
	}
	if !ok {
		return map[string]interface{}{"found": false}, nil
	}
	return map[string]interface{}{
		"found":    true,
		"version":  snap.Version,
		"snapshot": snap.Snapshot,
	}, nil
}

func opRemoveSnapshots(ctx context.Context, store partition.CommitStore, a args) (interface{}, error) {
	streams, err := a.strs("streams")
	if err != nil {
		return nil, err
	}
	return nil, store.RemoveSnapshots(ctx, streams...)
}

func commitsResult(commits []model.Commit) map[string]interface{} {
	return map[string]interface{}{
		"commits": commitIDs(commits),
		"events":  eventIDs(commits),
	}
}

func commitIDs(commits []model.Commit) []string {
	ids := make([]string, 0, len(commits))
	for _, c := range commits {
		ids = append(ids, c.ID)
	}
	return ids
}

func eventIDs(commits []model.Commit) []string {
	ids := testutil.EventIDs(commits)
	if ids == nil {
		return []string{}
	}
	return ids
}

// args wraps decoded YAML arguments with typed accessors.
type args map[string]interface{}

func (a args) str(key string) (string, error) {
	v, ok := a[key]
	if !ok {
		return "", fmt.Errorf("arg %q is required", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("arg %q: want string, got %T", key, v)
	}
	return s, nil
}

func (a args) num(key string) (int, error) {
	v, ok := a[key]
	if !ok {
		return 0, fmt.Errorf("arg %q is required", key)
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n == float64(int(n)) {
			return int(n), nil
		}
	}
	return 0, fmt.Errorf("arg %q: want integer, got %v", key, v)
}

func (a args) optionalNum(key string, def int) (int, error) {
	if _, ok := a[key]; !ok {
		return def, nil
	}
	return a.num(key)
}

func (a args) optionalBool(key string) (bool, error) {
	v, ok := a[key]
	if !ok {
		return false, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("arg %q: want bool, got %T", key, v)
	}
	return b, nil
}

func (a args) object(key string) (map[string]interface{}, error) {
	v, ok := a[key]
	if !ok {
		return nil, fmt.Errorf("arg %q is required", key)
	}
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("arg %q: want mapping, got %T", key, v)
	}
	return m, nil
}

func (a args) list(key string) ([]args, error) {
	v, ok := a[key]
	if !ok {
		return nil, fmt.Errorf("arg %q is required", key)
	}
	raw, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("arg %q: want list, got %T", key, v)
	}
	out := make([]args, len(raw))
	for i, item := range raw {
		m, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("arg %q[%d]: want mapping, got %T", key, i, item)
		}
		out[i] = args(m)
	}
	return out, nil
}

func (a args) strs(key string) ([]string, error) {
	v, ok := a[key]
	if !ok {
		return nil, fmt.Errorf("arg %q is required", key)
	}
	raw, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("arg %q: want list, got %T", key, v)
	}
	out := make([]string, len(raw))
	for i, item := range raw {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("arg %q[%d]: want string, got %T", key, i, item)
		}
		out[i] = s
	}
	return out, nil
}

// commit builds a commit from id, stream, seq and an event count. Event ids
// are "<id>-e-<n>".
func (a args) commit() (model.Commit, error) {
	id, err := a.str("id")
	if err != nil {
		return model.Commit{}, err
	}
	stream, err := a.str("stream")
	if err != nil {
		return model.Commit{}, err
	}
	seq, err := a.num("seq")
	if err != nil {
		return model.Commit{}, err
	}
	n, err := a.optionalNum("events", 0)
	if err != nil {
		return model.Commit{}, err
	}
	return model.NewCommit(id, "", stream, seq, testutil.Events(id+"-e", n)), nil
}

func (a args) snapshot() (model.Snapshot, error) {
	stream, err := a.str("stream")
	if err != nil {
		return model.Snapshot{}, err
	}
	version, err := a.num("version")
	if err != nil {
		return model.Snapshot{}, err
	}
	data, err := json.Marshal(a["snapshot"])
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("arg \"snapshot\": %w", err)
	}
	return model.Snapshot{StreamID: stream, Version: version, Snapshot: data}, nil
}

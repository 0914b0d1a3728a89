package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/tapestore/internal/model"
	"github.com/roach88/tapestore/internal/partition"
)

var _ partition.CommitStore = (*Store)(nil)

// Store records a span and metrics for every call to the wrapped partition.
type Store struct {
	next partition.CommitStore
}

// WithTelemetry wraps next.
func WithTelemetry(next partition.CommitStore) partition.CommitStore {
	return &Store{next: next}
}

// ID returns the wrapped partition id.
func (s *Store) ID() string { return s.next.ID() }

type call struct {
	ctx   context.Context
	span  trace.Span
	start time.Time
	attrs []attribute.KeyValue
}

func (s *Store) begin(ctx context.Context, op string, attrs ...attribute.KeyValue) *call {
	attrs = append([]attribute.KeyValue{
		AttrOperation.String(op),
		AttrPartitionID.String(s.next.ID()),
	}, attrs...)
	ctx, span := tracer.Start(ctx, "Partition."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
	return &call{ctx: ctx, span: span, start: time.Now(), attrs: attrs[:2:2]}
}

// millis converts d to fractional milliseconds; most operations finish in
// under one.
func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func (c *call) end(err error) {
	defer c.span.End()

	OperationDuration.Record(c.ctx, millis(time.Since(c.start)), metric.WithAttributes(c.attrs...))
	Operations.Add(c.ctx, 1, metric.WithAttributes(c.attrs...))
	if err == nil {
		c.span.SetStatus(codes.Ok, "")
		return
	}

	kind := "unknown"
	var pe *partition.Error
	if errors.As(err, &pe) {
		kind = string(pe.Kind)
	}
	OperationErrors.Add(c.ctx, 1, metric.WithAttributes(append(c.attrs, AttrErrorKind.String(kind))...))

	switch {
	case partition.IsConcurrency(err):
		Conflicts.Add(c.ctx, 1, metric.WithAttributes(append(c.attrs, AttrConflictType.String("concurrency"))...))
	case partition.IsDuplicate(err):
		Conflicts.Add(c.ctx, 1, metric.WithAttributes(append(c.attrs, AttrConflictType.String("duplicate"))...))
	}

	c.span.SetAttributes(AttrErrorKind.String(kind))
	c.span.RecordError(err)
	c.span.SetStatus(codes.Error, err.Error())
}

func (c *call) loaded(commits []model.Commit) {
	events := 0
	for _, commit := range commits {
		events += len(commit.Events)
	}
	c.span.SetAttributes(AttrResultCount.Int(len(commits)), AttrEventCount.Int(events))
	EventsLoaded.Add(c.ctx, int64(events), metric.WithAttributes(c.attrs...))
}

func commitAttrs(commit model.Commit) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrStreamID.String(commit.StreamID),
		AttrCommitID.String(commit.ID),
		AttrCommitSequence.Int(commit.CommitSequence),
		AttrEventCount.Int(len(commit.Events)),
	}
}

func (s *Store) Append(ctx context.Context, commit model.Commit) (model.Commit, error) {
	c := s.begin(ctx, "Append", commitAttrs(commit)...)
	stored, err := s.next.Append(c.ctx, commit)
	if err == nil {
		CommitsAppended.Add(c.ctx, 1, metric.WithAttributes(c.attrs...))
		EventsAppended.Add(c.ctx, int64(len(stored.Events)), metric.WithAttributes(c.attrs...))
	}
	c.end(err)
	return stored, err
}

func (s *Store) AppendBatch(ctx context.Context, commits []model.Commit) ([]model.Commit, error) {
	c := s.begin(ctx, "AppendBatch", AttrResultCount.Int(len(commits)))
	stored, err := s.next.AppendBatch(c.ctx, commits)
	events := 0
	for _, commit := range stored {
		events += len(commit.Events)
	}
	CommitsAppended.Add(c.ctx, int64(len(stored)), metric.WithAttributes(c.attrs...))
	EventsAppended.Add(c.ctx, int64(events), metric.WithAttributes(c.attrs...))
	c.end(err)
	return stored, err
}

func (s *Store) QueryAll(ctx context.Context) ([]model.Commit, error) {
	c := s.begin(ctx, "QueryAll")
	commits, err := s.next.QueryAll(c.ctx)
	c.loaded(commits)
	c.end(err)
	return commits, err
}

func (s *Store) QueryStream(ctx context.Context, streamID string, fromEventSequence int) ([]model.Commit, error) {
	c := s.begin(ctx, "QueryStream", AttrStreamID.String(streamID), AttrFromEvent.Int(fromEventSequence))
	commits, err := s.next.QueryStream(c.ctx, streamID, fromEventSequence)
	c.loaded(commits)
	c.end(err)
	return commits, err
}

func (s *Store) QueryTruncated(ctx context.Context, streamID string) ([]model.TruncatedCommit, error) {
	c := s.begin(ctx, "QueryTruncated", AttrStreamID.String(streamID))
	commits, err := s.next.QueryTruncated(c.ctx, streamID)
	c.loaded(commits)
	c.end(err)
	return commits, err
}

func (s *Store) GetCommit(ctx context.Context, commitID string) (model.Commit, error) {
	c := s.begin(ctx, "GetCommit", AttrCommitID.String(commitID))
	commit, err := s.next.GetCommit(c.ctx, commitID)
	c.end(err)
	return commit, err
}

func (s *Store) TruncateStreamFrom(ctx context.Context, streamID string, commitSequence int, remove bool) error {
	c := s.begin(ctx, "TruncateStreamFrom",
		AttrStreamID.String(streamID), AttrCommitSequence.Int(commitSequence), AttrRemove.Bool(remove))
	err := s.next.TruncateStreamFrom(c.ctx, streamID, commitSequence, remove)
	c.end(err)
	return err
}

func (s *Store) ApplyCommitHeader(ctx context.Context, commitID string, header model.Header) (model.Commit, error) {
	c := s.begin(ctx, "ApplyCommitHeader", AttrCommitID.String(commitID))
	commit, err := s.next.ApplyCommitHeader(c.ctx, commitID, header)
	c.end(err)
	return commit, err
}

func (s *Store) MarkAsDispatched(ctx context.Context, commitID string) (model.Commit, error) {
	c := s.begin(ctx, "MarkAsDispatched", AttrCommitID.String(commitID))
	commit, err := s.next.MarkAsDispatched(c.ctx, commitID)
	c.end(err)
	return commit, err
}

func (s *Store) GetUndispatched(ctx context.Context) ([]model.Commit, error) {
	c := s.begin(ctx, "GetUndispatched")
	commits, err := s.next.GetUndispatched(c.ctx)
	c.end(err)
	return commits, err
}

func (s *Store) LoadSnapshot(ctx context.Context, streamID string) (model.Snapshot, bool, error) {
	c := s.begin(ctx, "LoadSnapshot", AttrStreamID.String(streamID))
	snap, ok, err := s.next.LoadSnapshot(c.ctx, streamID)
	c.span.SetAttributes(attribute.Bool("tapestore.snapshot.found", ok))
	c.end(err)
	return snap, ok, err
}

func (s *Store) StoreSnapshot(ctx context.Context, streamID string, snapshot json.RawMessage, version int) (model.Snapshot, error) {
	c := s.begin(ctx, "StoreSnapshot", AttrStreamID.String(streamID), attribute.Int("tapestore.snapshot.version", version))
	snap, err := s.next.StoreSnapshot(c.ctx, streamID, snapshot, version)
	c.end(err)
	return snap, err
}

func (s *Store) StoreSnapshotsBulk(ctx context.Context, snapshots []model.Snapshot) error {
	c := s.begin(ctx, "StoreSnapshotsBulk", AttrResultCount.Int(len(snapshots)))
	err := s.next.StoreSnapshotsBulk(c.ctx, snapshots)
	c.end(err)
	return err
}

func (s *Store) RemoveSnapshots(ctx context.Context, streamIDs ...string) error {
	c := s.begin(ctx, "RemoveSnapshots", AttrResultCount.Int(len(streamIDs)))
	err := s.next.RemoveSnapshots(c.ctx, streamIDs...)
	c.end(err)
	return err
}

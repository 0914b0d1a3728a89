package partition

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tapestore/internal/model"
	"github.com/roach88/tapestore/internal/testutil"
)

func TestAppend_StampsCommit(t *testing.T) {
	p := createTestPartition(t)

	in := testutil.Commit("S", 0, 2)
	in.IsDispatched = true
	stored, err := p.Append(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, in.ID, stored.ID)
	assert.Equal(t, "master", stored.PartitionID)
	assert.False(t, stored.IsDispatched, "isDispatched is reset on append")
	assert.Equal(t, "S:0", stored.StreamIDCommitSequence)
	assert.True(t, testutil.Epoch.Equal(stored.AppendDateTime))
	assert.True(t, in.AppendDateTime.IsZero(), "input commit must not be modified")

	got, err := p.GetCommit(context.Background(), in.ID)
	require.NoError(t, err)
	assert.Equal(t, stored, got)
}

func TestAppend_EmptyEvents(t *testing.T) {
	p := createTestPartition(t)

	stored, err := p.Append(context.Background(), model.NewCommit("c-1", "", "S", 0, nil))
	require.NoError(t, err)
	assert.NotNil(t, stored.Events)
	assert.Empty(t, stored.Events)

	got, err := p.GetCommit(context.Background(), "c-1")
	require.NoError(t, err)
	assert.Empty(t, got.Events)
}

func TestAppend_InvalidCommit(t *testing.T) {
	p := createTestPartition(t)

	for name, c := range map[string]model.Commit{
		"missing id":        model.NewCommit("", "", "S", 0, nil),
		"missing stream":    model.NewCommit("c-1", "", "", 0, nil),
		"negative sequence": model.NewCommit("c-1", "", "S", -1, nil),
	} {
		_, err := p.Append(context.Background(), c)
		assert.True(t, IsInvalid(err), "%s: %v", name, err)
	}
}

func TestAppend_Duplicate(t *testing.T) {
	p := createTestPartition(t)
	c := testutil.Commit("S", 0, 1)
	mustAppend(t, p, c)

	_, err := p.Append(context.Background(), c)
	require.Error(t, err)
	assert.True(t, IsDuplicate(err), "got %v", err)
	assert.ErrorIs(t, err, ErrDuplicateCommit)

	var pe *Error
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "master", pe.PartitionID)
	assert.Equal(t, c.ID, pe.CommitID)
}

func TestAppend_DuplicateIDAtNewPosition(t *testing.T) {
	p := createTestPartition(t)
	c := testutil.Commit("S", 0, 1)
	mustAppend(t, p, c)

	c.CommitSequence = 1
	_, err := p.Append(context.Background(), c)
	assert.True(t, IsDuplicate(err), "got %v", err)
}

func TestAppend_Concurrency(t *testing.T) {
	p := createTestPartition(t)
	mustAppend(t, p, model.NewCommit("first", "", "S", 0, nil))

	_, err := p.Append(context.Background(), model.NewCommit("second", "", "S", 0, nil))
	require.Error(t, err)
	assert.True(t, IsConcurrency(err), "got %v", err)
	assert.ErrorIs(t, err, ErrConcurrency)
}

func TestAppend_RacingSamePosition(t *testing.T) {
	p := createTestPartition(t)

	const writers = 8
	errs := make([]error, writers)
	var wg sync.WaitGroup
	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func(i int) {
			defer wg.Done()
			c := model.NewCommit(testutil.Commit("S", i, 0).ID, "", "S", 0, testutil.Events("e", 1))
			_, errs[i] = p.Append(context.Background(), c)
		}(i)
	}
	wg.Wait()

	var ok, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case IsConcurrency(err):
			conflicts++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, writers-1, conflicts)

	commits, err := p.QueryStream(context.Background(), "S", 0)
	require.NoError(t, err)
	assert.Len(t, commits, 1)
}

func TestAppend_TruncatedIDStaysReserved(t *testing.T) {
	p := createTestPartition(t)
	commits := mustAppend(t, p, testutil.Stream("S", 1, 1)...)
	require.NoError(t, p.TruncateStreamFrom(context.Background(), "S", 1, false))

	_, err := p.Append(context.Background(), commits[1])
	assert.True(t, IsDuplicate(err), "got %v", err)

	// The stream position itself is free again.
	_, err = p.Append(context.Background(), model.NewCommit("replacement", "", "S", 1, nil))
	require.NoError(t, err)
}

func TestAppendBatch_StopsAtFirstFailure(t *testing.T) {
	p := createTestPartition(t)
	batch := testutil.Stream("S", 1, 1, 1)
	batch[2] = batch[0]

	stored, err := p.AppendBatch(context.Background(), batch)
	assert.True(t, IsDuplicate(err))
	assert.Len(t, stored, 2)
}

func TestQueryAll_SortedBySequence(t *testing.T) {
	p := createTestPartition(t)
	mustAppend(t, p,
		testutil.Commit("A", 2, 1),
		testutil.Commit("B", 0, 1),
		testutil.Commit("A", 0, 1),
		testutil.Commit("B", 1, 1),
		testutil.Commit("A", 1, 1),
	)

	commits, err := p.QueryAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{0, 0, 1, 1, 2}, sequences(commits))
}

func TestQueryAll_Empty(t *testing.T) {
	p := createTestPartition(t)
	commits, err := p.QueryAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, commits)
}

func TestQueryStream_ReturnsStreamInOrder(t *testing.T) {
	p := createTestPartition(t)
	stream := testutil.Stream("S", 1, 1, 1, 1)
	mustAppend(t, p, stream[3], stream[1], stream[0], stream[2])
	mustAppend(t, p, testutil.Commit("other", 0, 1))

	commits, err := p.QueryStream(context.Background(), "S", 0)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3}, sequences(commits))
	for _, c := range commits {
		assert.Equal(t, "S", c.StreamID)
	}
}

func TestQueryStream_UnknownStream(t *testing.T) {
	p := createTestPartition(t)
	commits, err := p.QueryStream(context.Background(), "nope", 0)
	require.NoError(t, err)
	assert.Empty(t, commits)
}

func TestQueryStream_FromEventSequence(t *testing.T) {
	p := createTestPartition(t)
	stream := testutil.Stream("S", 2, 3, 1)
	mustAppend(t, p, stream...)

	commits, err := p.QueryStream(context.Background(), "S", 4)
	require.NoError(t, err)
	require.Len(t, commits, 2)

	assert.Equal(t, stream[1].ID, commits[0].ID)
	assert.Equal(t, []model.Event{stream[1].Events[2]}, commits[0].Events)
	assert.Equal(t, stream[2].ID, commits[1].ID)
	assert.Equal(t, stream[2].Events, commits[1].Events)
	assert.Len(t, testutil.EventIDs(commits), 2)

	// Slicing must not reach stored data.
	full, err := p.QueryStream(context.Background(), "S", 0)
	require.NoError(t, err)
	assert.Len(t, full[1].Events, 3)
}

func TestQueryStream_FromEventSequenceTable(t *testing.T) {
	p := createTestPartition(t)
	stream := testutil.Stream("S", 2, 3, 1)
	mustAppend(t, p, stream...)
	all := testutil.EventIDs(stream)

	for from := 0; from <= len(all)+1; from++ {
		commits, err := p.QueryStream(context.Background(), "S", from)
		require.NoError(t, err)

		want := []string(nil)
		if from < len(all) {
			want = all[from:]
		}
		assert.Equal(t, want, testutil.EventIDs(commits), "from=%d", from)
	}
}

func TestQueryStream_NegativeFromIsInvalid(t *testing.T) {
	p := createTestPartition(t)
	mustAppend(t, p, testutil.Commit("S", 0, 2))

	commits, err := p.QueryStream(context.Background(), "S", -3)
	require.Error(t, err)
	assert.True(t, IsInvalid(err))
	assert.Nil(t, commits)
}

func TestSliceFromEvent_KeepsEmptyCommitsAfterBoundary(t *testing.T) {
	commits := testutil.Stream("S", 2, 0, 1)

	out := sliceFromEvent(commits, 2)
	assert.Equal(t, []int{1, 2}, sequences(out))
	assert.Equal(t, []string{"S-c2-e-0"}, testutil.EventIDs(out))
}

func TestTruncateStreamFrom_Archives(t *testing.T) {
	p := createTestPartition(t)
	stream := mustAppend(t, p, testutil.Stream("S", 1, 1, 1, 1)...)
	mustAppend(t, p, testutil.Commit("other", 3, 1))

	require.NoError(t, p.TruncateStreamFrom(context.Background(), "S", 2, false))

	active, err := p.QueryStream(context.Background(), "S", 0)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, sequences(active))

	archived, err := p.QueryTruncated(context.Background(), "S")
	require.NoError(t, err)
	assert.Equal(t, []model.TruncatedCommit{stream[2], stream[3]}, archived)

	other, err := p.QueryStream(context.Background(), "other", 0)
	require.NoError(t, err)
	assert.Len(t, other, 1)

	_, err = p.GetCommit(context.Background(), stream[3].ID)
	assert.True(t, IsNotFound(err))
}

func TestTruncateStreamFrom_Remove(t *testing.T) {
	p := createTestPartition(t)
	mustAppend(t, p, testutil.Stream("S", 1, 1, 1)...)

	require.NoError(t, p.TruncateStreamFrom(context.Background(), "S", 1, true))

	active, err := p.QueryStream(context.Background(), "S", 0)
	require.NoError(t, err)
	assert.Equal(t, []int{0}, sequences(active))

	archived, err := p.QueryTruncated(context.Background(), "S")
	require.NoError(t, err)
	assert.Empty(t, archived)
}

func TestTruncateStreamFrom_Idempotent(t *testing.T) {
	p := createTestPartition(t)
	mustAppend(t, p, testutil.Stream("S", 1, 1, 1)...)

	require.NoError(t, p.TruncateStreamFrom(context.Background(), "S", 1, false))
	require.NoError(t, p.TruncateStreamFrom(context.Background(), "S", 1, false))
	require.NoError(t, p.TruncateStreamFrom(context.Background(), "missing", 0, false))

	archived, err := p.QueryTruncated(context.Background(), "S")
	require.NoError(t, err)
	assert.Len(t, archived, 2)
}

func TestApplyCommitHeader(t *testing.T) {
	p := createTestPartition(t)
	stored := mustAppend(t, p, testutil.Commit("S", 0, 2))[0]

	merged, err := p.ApplyCommitHeader(context.Background(), stored.ID, model.Header{
		"authoritative":  true,
		"isDispatched":   true,
		"id":             "hijack",
		"events":         []any{},
		"commitSequence": 99,
	})
	require.NoError(t, err)
	assert.Equal(t, true, merged.Headers["authoritative"])
	assert.True(t, merged.IsDispatched)

	got, err := p.GetCommit(context.Background(), stored.ID)
	require.NoError(t, err)
	assert.Equal(t, stored.ID, got.ID)
	assert.Equal(t, stored.CommitSequence, got.CommitSequence)
	assert.Equal(t, stored.Events, got.Events)
	assert.Equal(t, true, got.Headers["authoritative"])
	assert.True(t, got.IsDispatched)

	// A second merge adds without dropping earlier fields.
	_, err = p.ApplyCommitHeader(context.Background(), stored.ID, model.Header{"region": "eu"})
	require.NoError(t, err)
	got, err = p.GetCommit(context.Background(), stored.ID)
	require.NoError(t, err)
	assert.Equal(t, true, got.Headers["authoritative"])
	assert.Equal(t, "eu", got.Headers["region"])
}

func TestApplyCommitHeader_NotFound(t *testing.T) {
	p := createTestPartition(t)
	_, err := p.ApplyCommitHeader(context.Background(), "missing", model.Header{"a": 1})
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.Contains(t, err.Error(), "unable to find commit")
}

func TestApplyCommitHeader_InvalidDispatchFlag(t *testing.T) {
	p := createTestPartition(t)
	stored := mustAppend(t, p, testutil.Commit("S", 0, 1))[0]

	_, err := p.ApplyCommitHeader(context.Background(), stored.ID, model.Header{"isDispatched": "yes"})
	assert.True(t, IsInvalid(err), "got %v", err)
}

func TestApplyCommitHeader_ReturnsStoredValues(t *testing.T) {
	p := createTestPartition(t)
	stored := mustAppend(t, p, testutil.Commit("S", 0, 1))[0]

	merged, err := p.ApplyCommitHeader(context.Background(), stored.ID, model.Header{"attempts": 2})
	require.NoError(t, err)

	got, err := p.GetCommit(context.Background(), stored.ID)
	require.NoError(t, err)
	assert.Equal(t, got, merged)
	assert.Equal(t, json.Number("2"), merged.Headers["attempts"])
}

func TestNonNormalizedUnicodeIsStoredVerbatim(t *testing.T) {
	ctx := context.Background()
	p := createTestPartition(t)

	// Decomposed forms: "e" followed by U+0301 COMBINING ACUTE ACCENT.
	const (
		streamID = "cafe\u0301"
		commitID = "id-e\u0301"
	)
	in := model.NewCommit(commitID, "", streamID, 0, []model.Event{
		{ID: "ev-1", Type: "Named", Data: json.RawMessage("{\"name\":\"Jose\u0301\"}")},
	})
	_, err := p.Append(ctx, in)
	require.NoError(t, err)

	commits, err := p.QueryStream(ctx, streamID, 0)
	require.NoError(t, err)
	require.Len(t, commits, 1)
	assert.Equal(t, commitID, commits[0].ID)
	assert.Equal(t, streamID, commits[0].StreamID)
	assert.Equal(t, "{\"name\":\"Jose\u0301\"}", string(commits[0].Events[0].Data))

	got, err := p.GetCommit(ctx, commitID)
	require.NoError(t, err)
	assert.Equal(t, streamID, got.StreamID)

	_, err = p.ApplyCommitHeader(ctx, commitID, model.Header{"region": "eu"})
	require.NoError(t, err)

	// The composed spelling is a different id.
	_, err = p.Append(ctx, model.NewCommit("id-\u00e9", "", "other", 0, nil))
	require.NoError(t, err)

	require.NoError(t, p.TruncateStreamFrom(ctx, streamID, 0, false))
	commits, err = p.QueryStream(ctx, streamID, 0)
	require.NoError(t, err)
	assert.Empty(t, commits)
	archived, err := p.QueryTruncated(ctx, streamID)
	require.NoError(t, err)
	require.Len(t, archived, 1)
	assert.Equal(t, commitID, archived[0].ID)
}

func TestReturnedCommitsAreCopies(t *testing.T) {
	p := createTestPartition(t)
	mustAppend(t, p, testutil.Commit("S", 0, 2))

	first, err := p.QueryStream(context.Background(), "S", 0)
	require.NoError(t, err)
	first[0].Events[0].Data = json.RawMessage(`{"tampered":true}`)
	first[0].Events = first[0].Events[:1]

	second, err := p.QueryStream(context.Background(), "S", 0)
	require.NoError(t, err)
	assert.Len(t, second[0].Events, 2)
	assert.JSONEq(t, `{"index":0}`, string(second[0].Events[0].Data))
}

func TestDispatchTrackingNotImplemented(t *testing.T) {
	p := createTestPartition(t)

	_, err := p.MarkAsDispatched(context.Background(), "c-1")
	assert.True(t, IsNotImplemented(err))

	_, err = p.GetUndispatched(context.Background())
	assert.True(t, IsNotImplemented(err))
	assert.ErrorIs(t, err, ErrNotImplemented)
}

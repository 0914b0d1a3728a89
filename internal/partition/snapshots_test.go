package partition

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tapestore/internal/model"
)

func TestSnapshot_StoreLoadReplace(t *testing.T) {
	p := createTestPartition(t)
	ctx := context.Background()

	payload := json.RawMessage(`{"balance":10}`)
	stored, err := p.StoreSnapshot(ctx, "S", payload, 3)
	require.NoError(t, err)
	assert.Equal(t, model.Snapshot{StreamID: "S", Version: 3, Snapshot: payload}, stored)

	got, ok, err := p.LoadSnapshot(ctx, "S")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "S", got.StreamID)
	assert.Equal(t, 3, got.Version)
	assert.JSONEq(t, `{"balance":10}`, string(got.Snapshot))

	_, err = p.StoreSnapshot(ctx, "S", json.RawMessage(`{"owner":"ann"}`), 4)
	require.NoError(t, err)

	got, ok, err = p.LoadSnapshot(ctx, "S")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 4, got.Version)
	assert.JSONEq(t, `{"owner":"ann"}`, string(got.Snapshot), "replace must not merge payloads")
}

func TestSnapshot_LoadMissing(t *testing.T) {
	p := createTestPartition(t)
	_, ok, err := p.LoadSnapshot(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSnapshot_Bulk(t *testing.T) {
	p := createTestPartition(t)
	ctx := context.Background()

	err := p.StoreSnapshotsBulk(ctx, []model.Snapshot{
		{StreamID: "A", Version: 1, Snapshot: json.RawMessage(`1`)},
		{StreamID: "B", Version: 2, Snapshot: json.RawMessage(`2`)},
	})
	require.NoError(t, err)

	for id, version := range map[string]int{"A": 1, "B": 2} {
		got, ok, err := p.LoadSnapshot(ctx, id)
		require.NoError(t, err)
		require.True(t, ok, id)
		assert.Equal(t, version, got.Version)
	}
}

func TestSnapshot_BulkIsAllOrNothing(t *testing.T) {
	p := createTestPartition(t)
	ctx := context.Background()

	err := p.StoreSnapshotsBulk(ctx, []model.Snapshot{
		{StreamID: "A", Version: 1},
		{StreamID: "", Version: 2},
	})
	require.Error(t, err)
	assert.True(t, IsInvalid(err))

	_, ok, err := p.LoadSnapshot(ctx, "A")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSnapshot_Remove(t *testing.T) {
	p := createTestPartition(t)
	ctx := context.Background()

	for _, id := range []string{"A", "B", "C"} {
		_, err := p.StoreSnapshot(ctx, id, json.RawMessage(`{}`), 1)
		require.NoError(t, err)
	}

	require.NoError(t, p.RemoveSnapshots(ctx, "A"))
	require.NoError(t, p.RemoveSnapshots(ctx, "B", "missing"))
	require.NoError(t, p.RemoveSnapshots(ctx))

	for id, want := range map[string]bool{"A": false, "B": false, "C": true} {
		_, ok, err := p.LoadSnapshot(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, ok, id)
	}
}

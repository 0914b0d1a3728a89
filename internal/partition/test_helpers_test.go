package partition

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/tapestore/internal/model"
	"github.com/roach88/tapestore/internal/schema"
	"github.com/roach88/tapestore/internal/testutil"
)

// createTestPartition opens a master partition in a temporary directory.
func createTestPartition(t *testing.T) *Partition {
	t.Helper()
	p := New("", schema.Options{DataDir: t.TempDir()}, WithClock(testutil.NewDeterministicClock()))
	require.NoError(t, p.Open(context.Background()))
	t.Cleanup(func() { p.Close() })
	return p
}

func mustAppend(t *testing.T, p *Partition, commits ...model.Commit) []model.Commit {
	t.Helper()
	stored, err := p.AppendBatch(context.Background(), commits)
	require.NoError(t, err)
	return stored
}

func sequences(commits []model.Commit) []int {
	out := make([]int, len(commits))
	for i, c := range commits {
		out[i] = c.CommitSequence
	}
	return out
}

package harness

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tapestore/internal/partition"
	"github.com/roach88/tapestore/internal/schema"
)

func TestRun_TestdataScenariosPass(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)

	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)

			result, err := Run(context.Background(), scenario, t.TempDir(), Options{})
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
			assert.Empty(t, result.Errors)
			assert.Len(t, result.Trace, len(scenario.Setup)+len(scenario.Steps))
		})
	}
}

func TestRun_TraceSequence(t *testing.T) {
	scenario := mustParse(t, `
name: seq
description: trace events are numbered from one
setup:
  - op: append
    args: { id: a, stream: S, seq: 0 }
steps:
  - op: queryAll
    args: {}
  - op: getCommit
    args: { id: a }
`)
	result, err := Run(context.Background(), scenario, t.TempDir(), Options{})
	require.NoError(t, err)
	require.Len(t, result.Trace, 3)
	for i, event := range result.Trace {
		assert.Equal(t, int64(i+1), event.Seq)
		assert.Equal(t, OutcomeOK, event.Outcome)
	}
	assert.Equal(t, OpGetCommit, result.Trace[2].Op)
}

func TestRun_ExpectMismatchFails(t *testing.T) {
	scenario := mustParse(t, `
name: mismatch
description: wrong expectations are reported per step
setup:
  - op: append
    args: { id: a, stream: S, seq: 0, events: 1 }
steps:
  - op: append
    args: { id: b, stream: S, seq: 0 }
    expect: { outcome: ok }
  - op: queryStream
    args: { stream: S }
    expect:
      outcome: ok
      commits: [a, b]
      events: [x]
  - op: loadSnapshot
    args: { stream: S }
    expect:
      outcome: ok
      result: { found: true }
`)
	result, err := Run(context.Background(), scenario, t.TempDir(), Options{})
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 4)
	assert.Contains(t, result.Errors[0], "steps[0] append: expected outcome ok, got CONCURRENCY")
	assert.Contains(t, result.Errors[1], "expected commits [a b], got [a]")
	assert.Contains(t, result.Errors[2], "expected events [x], got [a-e-0]")
	assert.Contains(t, result.Errors[3], "result field")
}

func TestRun_UnexpectedFailureWithoutExpect(t *testing.T) {
	scenario := mustParse(t, `
name: unexpected
description: a step without expect must succeed
steps:
  - op: getCommit
    args: { id: missing }
`)
	result, err := Run(context.Background(), scenario, t.TempDir(), Options{})
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "unexpected outcome NOT_FOUND")
}

func TestRun_SetupFailureAborts(t *testing.T) {
	scenario := mustParse(t, `
name: setup_fails
description: setup must succeed
setup:
  - op: append
    args: { id: a, stream: S, seq: 0 }
  - op: append
    args: { id: a, stream: S, seq: 1 }
steps:
  - op: queryAll
    args: {}
`)
	_, err := Run(context.Background(), scenario, t.TempDir(), Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "setup step 1 (append): DUPLICATE_COMMIT")
}

func TestRun_BadArgumentsAreRecorded(t *testing.T) {
	scenario := mustParse(t, `
name: bad_args
description: argument errors surface as ERROR outcomes
steps:
  - op: append
    args: { id: a, stream: S, seq: first }
    expect: { outcome: ERROR }
  - op: truncate
    args: { stream: S }
    expect: { outcome: ERROR }
`)
	result, err := Run(context.Background(), scenario, t.TempDir(), Options{})
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	res, ok := result.Trace[0].Result.(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, res["error"], `arg "seq": want integer`)
	assert.Contains(t, result.Trace[1].Result.(map[string]interface{})["error"], `arg "from" is required`)
}

func TestRun_PartitionFromScenario(t *testing.T) {
	dir := t.TempDir()
	scenario := mustParse(t, `
name: tenant
description: the scenario partition names the database
partition: tenant-7
steps:
  - op: append
    args: { id: a, stream: S, seq: 0 }
`)
	result, err := Run(context.Background(), scenario, dir, Options{})
	require.NoError(t, err)
	assert.True(t, result.Pass)
	assert.FileExists(t, schema.Options{DataDir: dir}.Path("tenant-7"))
}

func TestRun_Wrap(t *testing.T) {
	var wrapped partition.CommitStore
	scenario := mustParse(t, `
name: wrapped
description: operations go through the wrapper
steps:
  - op: queryAll
    args: {}
`)
	result, err := Run(context.Background(), scenario, t.TempDir(), Options{
		Wrap: func(s partition.CommitStore) partition.CommitStore {
			wrapped = s
			return s
		},
	})
	require.NoError(t, err)
	assert.True(t, result.Pass)
	require.NotNil(t, wrapped)
	assert.Equal(t, "master", wrapped.ID())
}

func TestRun_AppendBatch(t *testing.T) {
	scenario := mustParse(t, `
name: batch
description: a batch stops at the first rejected commit
steps:
  - op: appendBatch
    args:
      commits:
        - { id: a, stream: S, seq: 0, events: 1 }
        - { id: b, stream: S, seq: 1, events: 1 }
    expect:
      outcome: ok
      result: { stored: [a, b] }
  - op: appendBatch
    args:
      commits:
        - { id: c, stream: S, seq: 2 }
        - { id: d, stream: S, seq: 2 }
        - { id: e, stream: S, seq: 3 }
    expect: { outcome: CONCURRENCY }
assertions:
  - type: active_commits
    stream: S
    commits: [a, b, c]
`)
	result, err := Run(context.Background(), scenario, t.TempDir(), Options{})
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestOutcomeOf(t *testing.T) {
	assert.Equal(t, OutcomeOK, outcomeOf(nil))
	assert.Equal(t, "CONCURRENCY", outcomeOf(&partition.Error{Kind: partition.KindConcurrency}))
	assert.Equal(t, "ERROR", outcomeOf(assert.AnError))
}

func mustParse(t *testing.T, data string) *Scenario {
	t.Helper()
	scenario, err := ParseScenario([]byte(data))
	require.NoError(t, err)
	return scenario
}

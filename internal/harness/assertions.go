package harness

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/tapestore/internal/model"
	"github.com/roach88/tapestore/internal/partition"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %v -> %s\n", event.Seq, event.Op, event.Args, event.Outcome)
		}
	}

	return buf.String()
}

// assertTraceCount checks that op appears exactly the specified number of
// times. A non-empty outcome only counts events with that outcome.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Op != assertion.Op {
			continue
		}
		if assertion.Outcome != "" && event.Outcome != assertion.Outcome {
			continue
		}
		count++
	}

	if count != assertion.Count {
		what := assertion.Op
		if assertion.Outcome != "" {
			what += " with outcome " + assertion.Outcome
		}
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", assertion.Count, what),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertTraceOrder checks that ops appear in the specified order.
// Ops don't need to be consecutive (intervening ops are allowed).
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	positions := make(map[string]int)
	for i, event := range trace {
		if _, seen := positions[event.Op]; !seen {
			positions[event.Op] = i + 1 // 1-indexed for readability
		}
	}

	for _, op := range assertion.Ops {
		if positions[op] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all ops present: %v", assertion.Ops),
				Actual:   fmt.Sprintf("missing op: %s", op),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(assertion.Ops); i++ {
		prev := assertion.Ops[i-1]
		curr := assertion.Ops[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("ops in order: %v", assertion.Ops),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

// assertActiveCommits checks the active commits of a stream, or of the
// whole partition when no stream is given.
func assertActiveCommits(ctx context.Context, store partition.CommitStore, assertion Assertion) error {
	var commits []model.Commit
	var err error
	if assertion.Stream == "" {
		commits, err = store.QueryAll(ctx)
	} else {
		commits, err = store.QueryStream(ctx, assertion.Stream, 0)
	}
	if err != nil {
		return fmt.Errorf("%s: query: %w", AssertActiveCommits, err)
	}
	return compareCommitIDs(AssertActiveCommits, assertion, commits)
}

// assertTruncatedCommits checks the archived commits of a stream.
func assertTruncatedCommits(ctx context.Context, store partition.CommitStore, assertion Assertion) error {
	commits, err := store.QueryTruncated(ctx, assertion.Stream)
	if err != nil {
		return fmt.Errorf("%s: query: %w", AssertTruncatedCommits, err)
	}
	return compareCommitIDs(AssertTruncatedCommits, assertion, commits)
}

func compareCommitIDs(kind string, assertion Assertion, commits []model.Commit) error {
	got := commitIDs(commits)
	want := assertion.Commits
	if want == nil {
		want = []string{}
	}
	if !slices.Equal(want, got) {
		return &AssertionError{
			Type:     kind,
			Expected: fmt.Sprintf("commits %v in stream %q", want, assertion.Stream),
			Actual:   fmt.Sprintf("commits %v", got),
		}
	}
	return nil
}

// assertSnapshot checks the stored snapshot version of a stream, or that
// none is stored.
func assertSnapshot(ctx context.Context, store partition.CommitStore, assertion Assertion) error {
	snap, ok, err := store.LoadSnapshot(ctx, assertion.Stream)
	if err != nil {
		return fmt.Errorf("%s: load: %w", AssertSnapshot, err)
	}
	switch {
	case assertion.Missing && ok:
		return &AssertionError{
			Type:     AssertSnapshot,
			Expected: fmt.Sprintf("no snapshot for %q", assertion.Stream),
			Actual:   fmt.Sprintf("snapshot at version %d", snap.Version),
		}
	case !assertion.Missing && !ok:
		return &AssertionError{
			Type:     AssertSnapshot,
			Expected: fmt.Sprintf("snapshot for %q at version %d", assertion.Stream, assertion.Version),
			Actual:   "no snapshot",
		}
	case ok && snap.Version != assertion.Version:
		return &AssertionError{
			Type:     AssertSnapshot,
			Expected: fmt.Sprintf("snapshot for %q at version %d", assertion.Stream, assertion.Version),
			Actual:   fmt.Sprintf("version %d", snap.Version),
		}
	}
	return nil
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions. State assertions
// read through store.
func EvaluateAssertions(ctx context.Context, result *Result, assertions []Assertion, store partition.CommitStore) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertActiveCommits, AssertTruncatedCommits, AssertSnapshot:
			if store == nil {
				err = fmt.Errorf("assertion[%d]: %s requires a partition", i, assertion.Type)
				break
			}
			switch assertion.Type {
			case AssertActiveCommits:
				err = assertActiveCommits(ctx, store, assertion)
			case AssertTruncatedCommits:
				err = assertTruncatedCommits(ctx, store, assertion)
			default:
				err = assertSnapshot(ctx, store, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}

package harness

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/roach88/tapestore/internal/model"
	"github.com/roach88/tapestore/internal/partition"
	"github.com/roach88/tapestore/internal/schema"
	"github.com/roach88/tapestore/internal/testutil"
)

// Harness is the scenario execution engine.
// It runs operations against one partition with a deterministic clock.
type Harness struct {
	store  partition.CommitStore
	logger *slog.Logger
	seq    int64
}

// Options tunes a scenario run.
type Options struct {
	// Wrap decorates the partition before operations run, for example with
	// telemetry. Nil runs against the partition directly.
	Wrap func(partition.CommitStore) partition.CommitStore

	// Logger receives partition logs. Nil discards them.
	Logger *slog.Logger
}

// Run executes a scenario in a fresh partition under dataDir and returns
// the result.
//
// Execution flow:
// 1. Open the scenario partition with a deterministic clock
// 2. Execute setup steps, which must all succeed
// 3. Execute steps and check their expect clauses
// 4. Evaluate assertions against the trace and the stored state
func Run(ctx context.Context, scenario *Scenario, dataDir string, opts Options) (*Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil)) // Suppress logs in tests
	}
	p := partition.New(scenario.Partition,
		schema.Options{DataDir: dataDir, Logger: logger},
		partition.WithClock(testutil.NewDeterministicClock()),
		partition.WithLogger(logger),
	)
	if err := p.Open(ctx); err != nil {
		return nil, fmt.Errorf("failed to open partition: %w", err)
	}
	defer p.Close()

	var store partition.CommitStore = p
	if opts.Wrap != nil {
		store = opts.Wrap(p)
	}

	h := &Harness{store: store, logger: logger}

	result := NewResult()
	for i, step := range scenario.Setup {
		event := h.execute(ctx, step)
		result.AddTrace(event)
		if event.Outcome != OutcomeOK {
			return nil, fmt.Errorf("setup step %d (%s): %s", i, step.Op, event.Outcome)
		}
	}

	for i, step := range scenario.Steps {
		event := h.execute(ctx, step)
		result.AddTrace(event)
		for _, msg := range checkExpect(step, event) {
			result.AddError(fmt.Sprintf("steps[%d] %s: %s", i, step.Op, msg))
		}
		h.logger.Debug("step completed", "step", i, "op", step.Op, "outcome", event.Outcome)
	}

	for _, msg := range EvaluateAssertions(ctx, result, scenario.Assertions, store) {
		result.AddError(msg)
	}

	return result, nil
}

// execute runs one step and records it as a trace event.
func (h *Harness) execute(ctx context.Context, step Step) TraceEvent {
	h.seq++
	event := TraceEvent{Seq: h.seq, Op: step.Op, Args: step.Args}

	res, err := operations[step.Op](ctx, h.store, args(step.Args))
	event.Outcome = outcomeOf(err)
	if err != nil {
		var pe *partition.Error
		if !errors.As(err, &pe) {
			// Argument errors are not partition outcomes; keep the message.
			event.Result = map[string]interface{}{"error": err.Error()}
		}
		return event
	}
	event.Result = res
	return event
}

// outcomeOf maps an operation error to its outcome name.
func outcomeOf(err error) string {
	if err == nil {
		return OutcomeOK
	}
	var pe *partition.Error
	if errors.As(err, &pe) {
		return string(pe.Kind)
	}
	return "ERROR"
}

// checkExpect compares a step's trace event with its expect clause.
// A step without expect must succeed.
func checkExpect(step Step, event TraceEvent) []string {
	if step.Expect == nil {
		if event.Outcome != OutcomeOK {
			return []string{fmt.Sprintf("unexpected outcome %s", event.Outcome)}
		}
		return nil
	}

	exp := step.Expect
	if exp.Outcome != event.Outcome {
		return []string{fmt.Sprintf("expected outcome %s, got %s", exp.Outcome, event.Outcome)}
	}

	var msgs []string
	res, _ := event.Result.(map[string]interface{})
	if exp.Commits != nil {
		got, _ := res["commits"].([]string)
		if !slices.Equal(exp.Commits, got) {
			msgs = append(msgs, fmt.Sprintf("expected commits %v, got %v", exp.Commits, got))
		}
	}
	if exp.Events != nil {
		got, _ := res["events"].([]string)
		if !slices.Equal(exp.Events, got) {
			msgs = append(msgs, fmt.Sprintf("expected events %v, got %v", exp.Events, got))
		}
	}
	for key, want := range exp.Result {
		got, ok := res[key]
		if !ok {
			msgs = append(msgs, fmt.Sprintf("result field %q missing", key))
			continue
		}
		if !resultValuesEqual(want, got) {
			msgs = append(msgs, fmt.Sprintf("result field %q = %v, want %v", key, got, want))
		}
	}
	return msgs
}

// resultValuesEqual compares a YAML-decoded expectation with a result value
// by their canonical JSON, so numbers and list element types need not match.
func resultValuesEqual(want, got interface{}) bool {
	w, err := model.MarshalCanonical(want)
	if err != nil {
		return false
	}
	g, err := model.MarshalCanonical(got)
	if err != nil {
		return false
	}
	return bytes.Equal(w, g)
}

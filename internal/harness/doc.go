// Package harness runs conformance scenarios against a partition.
//
// # Scenario Format
//
// Scenarios are YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	partition: master
//	setup:
//	  - op: append
//	    args: { id: c-0, stream: S, seq: 0, events: 2 }
//	steps:
//	  - op: append
//	    args: { id: c-1, stream: S, seq: 0, events: 1 }
//	    expect:
//	      outcome: CONCURRENCY
//	  - op: queryStream
//	    args: { stream: S, from: 1 }
//	    expect:
//	      outcome: ok
//	      commits: [c-0]
//	      events: [c-0-e-1]
//	assertions:
//	  - type: trace_count
//	    op: append
//	    outcome: CONCURRENCY
//	    count: 1
//	  - type: active_commits
//	    stream: S
//	    commits: [c-0]
//
// Append arguments take an event count rather than event bodies. Event n of
// commit c has id "c-e-n" and data {"index":n}.
//
// # Assertion Types
//
//   - trace_count: an op, optionally with a given outcome, appears exactly N times
//   - trace_order: ops first appear in the given order
//   - active_commits: the active commits of a stream, or of the partition
//   - truncated_commits: the archived commits of a stream
//   - snapshot: the stored snapshot version of a stream, or its absence
//
// # Deterministic Testing
//
// Every run opens a fresh partition database in the given directory and
// stamps appends with testutil.DeterministicClock, so traces are identical
// across runs and can be compared with golden files.
package harness

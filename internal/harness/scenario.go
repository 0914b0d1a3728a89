package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario defines a conformance scenario.
// A scenario runs a sequence of partition operations against a fresh
// partition and asserts on each outcome and on the final stored state.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Partition is the partition id to open. Empty means the default partition.
	Partition string `yaml:"partition,omitempty"`

	// Setup contains operations that establish initial state.
	// Every setup operation must succeed.
	Setup []Step `yaml:"setup,omitempty"`

	// Steps contains the operations under test, each with an optional
	// expected outcome.
	Steps []Step `yaml:"steps"`

	// Assertions validate the trace and the final stored state.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step is a single partition operation.
type Step struct {
	// Op names the operation (see the Op* constants).
	Op string `yaml:"op"`

	// Args holds the operation arguments.
	Args map[string]interface{} `yaml:"args"`

	// Expect specifies the expected outcome.
	// If nil, the step must succeed and its result is not checked.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect specifies the expected outcome of a step.
type Expect struct {
	// Outcome is "ok" or a partition error kind such as "CONCURRENCY".
	Outcome string `yaml:"outcome"`

	// Commits lists the commit ids a query must return, in order.
	Commits []string `yaml:"commits,omitempty"`

	// Events lists the event ids a query must return, in order.
	Events []string `yaml:"events,omitempty"`

	// Result holds fields the step result must contain (subset match).
	Result map[string]interface{} `yaml:"result,omitempty"`
}

// Assertion validates the trace or the final stored state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_count": op (optionally with outcome) appears exactly Count times
	// - "trace_order": ops appear in the given order
	// - "active_commits": active commits of Stream (all streams if empty) are Commits
	// - "truncated_commits": archived commits of Stream are Commits
	// - "snapshot": the snapshot of Stream has Version, or is Missing
	Type string `yaml:"type"`

	Op      string   `yaml:"op,omitempty"`
	Outcome string   `yaml:"outcome,omitempty"`
	Count   int      `yaml:"count,omitempty"`
	Ops     []string `yaml:"ops,omitempty"`

	Stream  string   `yaml:"stream,omitempty"`
	Commits []string `yaml:"commits,omitempty"`
	Version int      `yaml:"version,omitempty"`
	Missing bool     `yaml:"missing,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceCount       = "trace_count"
	AssertTraceOrder       = "trace_order"
	AssertActiveCommits    = "active_commits"
	AssertTruncatedCommits = "truncated_commits"
	AssertSnapshot         = "snapshot"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, step := range s.Setup {
		if err := validateStep(fmt.Sprintf("setup[%d]", i), step); err != nil {
			return err
		}
		if step.Expect != nil {
			return fmt.Errorf("setup[%d]: expect is not allowed in setup", i)
		}
	}

	for i, step := range s.Steps {
		if err := validateStep(fmt.Sprintf("steps[%d]", i), step); err != nil {
			return err
		}
		if step.Expect != nil && step.Expect.Outcome == "" {
			return fmt.Errorf("steps[%d].expect: outcome is required", i)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

func validateStep(where string, step Step) error {
	if step.Op == "" {
		return fmt.Errorf("%s: op is required", where)
	}
	if _, ok := operations[step.Op]; !ok {
		return fmt.Errorf("%s: unknown op %q", where, step.Op)
	}
	if step.Args == nil {
		return fmt.Errorf("%s: args is required (use empty map if no args)", where)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceCount:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertTraceOrder:
		if len(a.Ops) == 0 {
			return fmt.Errorf("assertions[%d]: ops list is required for trace_order", index)
		}
	case AssertActiveCommits:
	case AssertTruncatedCommits, AssertSnapshot:
		if a.Stream == "" {
			return fmt.Errorf("assertions[%d]: stream is required for %s", index, a.Type)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}

package harness

// TraceEvent records one partition operation and its outcome.
type TraceEvent struct {
	Seq     int64                  `json:"seq"`
	Op      string                 `json:"op"`
	Args    map[string]interface{} `json:"args,omitempty"`
	Outcome string                 `json:"outcome"` // OutcomeOK or a partition error kind
	Result  interface{}            `json:"result,omitempty"`
}

// OutcomeOK is the outcome of an operation that returned no error.
const OutcomeOK = "ok"

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expect clause and assertion matched.
	Pass bool `json:"pass"`

	// Trace contains every executed operation in order, setup included.
	Trace []TraceEvent `json:"trace"`

	// Errors contains expectation and assertion failures.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends an executed operation to the trace.
func (r *Result) AddTrace(event TraceEvent) {
	r.Trace = append(r.Trace, event)
}

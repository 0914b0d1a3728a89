package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/tapestore/internal/partition"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Rejected operation (duplicate or conflicting commit, missing commit)
	ExitCommandError = 2 // Command error (bad config, unreadable input, database cannot be opened)
)

// Error codes reported in CLIError.Code.
const (
	ErrCodeGeneric        = "E001" // Generic/unknown error
	ErrCodeConfig         = "E002" // Config file unreadable or invalid
	ErrCodeOpen           = "E003" // Partition cannot be opened or upgraded
	ErrCodeInput          = "E004" // Malformed command input
	ErrCodeStorage        = "E005" // Backing store failure
	ErrCodeDuplicate      = "E101" // Commit id already appended
	ErrCodeConcurrency    = "E102" // Stream position already taken
	ErrCodeNotFound       = "E103" // Commit not found
	ErrCodeNotImplemented = "E104" // Operation not supported
)

// ExitError represents an error with a specific exit code.
// Use this to return errors with meaningful exit codes from CLI commands.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Separate writer for verbose/diagnostic output (defaults to Writer)
	Verbose   bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status  string      `json:"status"`            // "ok" or "error"
	Data    interface{} `json:"data,omitempty"`    // success payload
	Error   *CLIError   `json:"error,omitempty"`   // error details
	TraceID string      `json:"trace_id,omitempty"` // optional trace correlation
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string      `json:"code"`              // "E001", "E002", etc.
	Message string      `json:"message"`           // human-readable message
	Details interface{} `json:"details,omitempty"` // additional context
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data interface{}) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   data,
		})
	}

	// Human-readable text output
	fmt.Fprintln(f.Writer, data)
	return nil
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details interface{}) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error: &CLIError{
				Code:    code,
				Message: message,
				Details: details,
			},
		})
	}

	// Human-readable error
	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// VerboseLog outputs a message only if verbose mode is enabled.
// Uses ErrWriter if set, otherwise falls back to Writer.
// When format is JSON, verbose logs go to ErrWriter to avoid corrupting JSON output.
func (f *OutputFormatter) VerboseLog(format string, args ...interface{}) {
	if !f.Verbose {
		return
	}
	w := f.ErrWriter
	if w == nil {
		w = f.Writer
	}
	fmt.Fprintf(w, format+"\n", args...)
}

// GetErrWriter returns the appropriate writer for diagnostic output.
// Returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}

// classifyPartitionError maps a partition error to an error code and exit code.
func classifyPartitionError(err error) (string, int) {
	switch {
	case partition.IsDuplicate(err):
		return ErrCodeDuplicate, ExitFailure
	case partition.IsConcurrency(err):
		return ErrCodeConcurrency, ExitFailure
	case partition.IsNotFound(err):
		return ErrCodeNotFound, ExitFailure
	case partition.IsNotImplemented(err):
		return ErrCodeNotImplemented, ExitCommandError
	case partition.IsInvalid(err):
		return ErrCodeInput, ExitCommandError
	case partition.IsOpenError(err):
		return ErrCodeOpen, ExitCommandError
	}
	var pe *partition.Error
	if errors.As(err, &pe) {
		return ErrCodeStorage, ExitCommandError
	}
	return ErrCodeGeneric, ExitCommandError
}

// Fail reports err in the configured format and returns the matching ExitError.
func (f *OutputFormatter) Fail(message string, err error) error {
	code, exit := classifyPartitionError(err)
	return f.FailWith(code, exit, message, err)
}

// FailWith reports err under an explicit error code and exit code.
func (f *OutputFormatter) FailWith(code string, exit int, message string, err error) error {
	var details interface{}
	var pe *partition.Error
	if errors.As(err, &pe) {
		details = map[string]string{
			"kind":      string(pe.Kind),
			"op":        pe.Op,
			"partition": pe.PartitionID,
			"stream":    pe.StreamID,
			"commit":    pe.CommitID,
		}
	}
	_ = f.Error(code, fmt.Sprintf("%s: %v", message, err), details)
	return WrapExitError(exit, message, err)
}

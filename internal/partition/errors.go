package partition

import (
	"errors"
	"fmt"
)

// Error is returned by every partition operation that fails.
//
// Kinds:
//   - KindOpen: the database could not be opened or upgraded
//   - KindDuplicateCommit: a commit with the same id was already appended
//   - KindConcurrency: another commit holds the same stream position
//   - KindNotFound: the referenced commit does not exist
//   - KindNotImplemented: dispatch tracking is not supported
//   - KindInvalid: the caller passed a malformed commit or header
//   - KindStorage: any other backing store failure
//
// Error carries the ids involved so callers can log or retry without parsing
// the message.
type Error struct {
	// Kind identifies the error category.
	Kind ErrorKind

	// Op is the partition operation that failed, e.g. "append".
	Op string

	PartitionID string
	StreamID    string
	CommitID    string

	// Err is the underlying cause, if any.
	Err error
}

// ErrorKind categorizes partition errors.
type ErrorKind string

const (
	KindOpen            ErrorKind = "OPEN"
	KindDuplicateCommit ErrorKind = "DUPLICATE_COMMIT"
	KindConcurrency     ErrorKind = "CONCURRENCY"
	KindNotFound        ErrorKind = "NOT_FOUND"
	KindNotImplemented  ErrorKind = "NOT_IMPLEMENTED"
	KindInvalid         ErrorKind = "INVALID_ARGUMENT"
	KindStorage         ErrorKind = "STORAGE"
)

// Sentinels matched by errors.Is against an *Error of the same kind.
var (
	ErrOpen            = errors.New("partition: open failed")
	ErrDuplicateCommit = errors.New("partition: duplicate commit")
	ErrConcurrency     = errors.New("partition: concurrency conflict")
	ErrNotFound        = errors.New("partition: not found")
	ErrNotImplemented  = errors.New("partition: not implemented")
	ErrInvalid         = errors.New("partition: invalid argument")
	ErrClosed          = errors.New("partition: not open")
)

var kindSentinels = map[ErrorKind]error{
	KindOpen:            ErrOpen,
	KindDuplicateCommit: ErrDuplicateCommit,
	KindConcurrency:     ErrConcurrency,
	KindNotFound:        ErrNotFound,
	KindNotImplemented:  ErrNotImplemented,
	KindInvalid:         ErrInvalid,
}

var kindMessages = map[ErrorKind]string{
	KindOpen:            "unable to open partition",
	KindDuplicateCommit: "commit already exists",
	KindConcurrency:     "stream position already taken",
	KindNotFound:        "unable to find commit",
	KindNotImplemented:  "not implemented",
	KindInvalid:         "invalid argument",
	KindStorage:         "storage failure",
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s: %s", e.Kind, e.Op, kindMessages[e.Kind])
	switch {
	case e.CommitID != "" && e.StreamID != "":
		msg += fmt.Sprintf(" (partition=%s, stream=%s, commit=%s)", e.PartitionID, e.StreamID, e.CommitID)
	case e.CommitID != "":
		msg += fmt.Sprintf(" (partition=%s, commit=%s)", e.PartitionID, e.CommitID)
	case e.StreamID != "":
		msg += fmt.Sprintf(" (partition=%s, stream=%s)", e.PartitionID, e.StreamID)
	case e.PartitionID != "":
		msg += fmt.Sprintf(" (partition=%s)", e.PartitionID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel for e.Kind.
func (e *Error) Is(target error) bool {
	s, ok := kindSentinels[e.Kind]
	return ok && s == target
}

func kindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// IsOpenError reports whether err is an open or upgrade failure.
func IsOpenError(err error) bool { return kindOf(err) == KindOpen }

// IsDuplicate reports whether err is a duplicate commit error.
func IsDuplicate(err error) bool { return kindOf(err) == KindDuplicateCommit }

// IsConcurrency reports whether err is a concurrency conflict. Callers should
// re-sequence and retry.
func IsConcurrency(err error) bool { return kindOf(err) == KindConcurrency }

// IsNotFound reports whether err is a not found error.
func IsNotFound(err error) bool { return kindOf(err) == KindNotFound }

// IsNotImplemented reports whether err is a not implemented error.
func IsNotImplemented(err error) bool { return kindOf(err) == KindNotImplemented }

// IsInvalid reports whether err rejects malformed input.
func IsInvalid(err error) bool { return kindOf(err) == KindInvalid }

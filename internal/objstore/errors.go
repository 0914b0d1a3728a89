package objstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"
)

var (
	ErrNotFound         = errors.New("objstore: record not found")
	ErrKeyExists        = errors.New("objstore: key already exists")
	ErrCollectionExists = errors.New("objstore: collection already exists")
	ErrIndexExists      = errors.New("objstore: index already exists")
	ErrNoCollection     = errors.New("objstore: no such collection")
	ErrNoIndex          = errors.New("objstore: no such index")
	ErrNotInScope       = errors.New("objstore: collection not in transaction scope")
	ErrReadOnly         = errors.New("objstore: write in read-only transaction")
	ErrInvalidKey       = errors.New("objstore: invalid record key")
	ErrInvalidName      = errors.New("objstore: invalid name")
	ErrVersion          = errors.New("objstore: requested version is lower than stored version")
	ErrBlocked          = errors.New("objstore: database is locked by another connection")
)

// ConstraintError reports a uniqueness violation on Add or Put.
type ConstraintError struct {
	Collection string
	// Index names the unique index that fired. Empty when Primary is set or
	// when SQLite did not name the index.
	Index   string
	Primary bool
	Err     error
}

func (e *ConstraintError) Error() string {
	switch {
	case e.Primary:
		return fmt.Sprintf("objstore: %s: primary key already exists", e.Collection)
	case e.Index != "":
		return fmt.Sprintf("objstore: %s: unique index %s already holds value", e.Collection, e.Index)
	default:
		return fmt.Sprintf("objstore: %s: unique constraint failed: %v", e.Collection, e.Err)
	}
}

func (e *ConstraintError) Unwrap() error { return e.Err }

// Is makes every ConstraintError match ErrKeyExists.
func (e *ConstraintError) Is(target error) bool { return target == ErrKeyExists }

// classifyWriteError converts SQLite uniqueness failures into *ConstraintError.
// Other errors are returned unchanged.
func classifyWriteError(collection string, err error) error {
	var se sqlite3.Error
	if !errors.As(err, &se) || se.Code != sqlite3.ErrConstraint {
		return err
	}
	switch se.ExtendedCode {
	case sqlite3.ErrConstraintPrimaryKey:
		return &ConstraintError{Collection: collection, Primary: true, Err: err}
	case sqlite3.ErrConstraintUnique:
		return &ConstraintError{Collection: collection, Index: indexFromMessage(collection, se.Error()), Err: err}
	}
	return err
}

// indexFromMessage extracts the logical index name from
// "UNIQUE constraint failed: index 'i_commits__streamIdCommitSequence'".
func indexFromMessage(collection, msg string) string {
	const marker = "index '"
	start := strings.Index(msg, marker)
	if start < 0 {
		return ""
	}
	rest := msg[start+len(marker):]
	end := strings.IndexByte(rest, '\'')
	if end < 0 {
		return ""
	}
	return strings.TrimPrefix(rest[:end], indexPrefix(collection))
}

func isBusy(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
}

package objstore

import (
	"encoding/json"
	"fmt"
	"strings"
)

// KeyRange restricts a cursor or count to a span of keys. The zero value
// matches everything.
type KeyRange struct {
	lower, upper         any
	hasLower, hasUpper   bool
	lowerOpen, upperOpen bool
	exact                bool
	requireValue         bool
}

// All matches every key.
func All() KeyRange { return KeyRange{} }

// Only matches keys equal to v.
func Only(v any) KeyRange {
	return KeyRange{lower: v, upper: v, hasLower: true, hasUpper: true, exact: true}
}

// Bound matches keys between lower and upper. An open end excludes the bound.
func Bound(lower, upper any, lowerOpen, upperOpen bool) KeyRange {
	return KeyRange{
		lower: lower, upper: upper,
		hasLower: true, hasUpper: true,
		lowerOpen: lowerOpen, upperOpen: upperOpen,
	}
}

// LowerBound matches keys at or above v, or strictly above when open is set.
func LowerBound(v any, open bool) KeyRange {
	return KeyRange{lower: v, hasLower: true, lowerOpen: open}
}

// UpperBound matches keys at or below v, or strictly below when open is set.
func UpperBound(v any, open bool) KeyRange {
	return KeyRange{upper: v, hasUpper: true, upperOpen: open}
}

func (r KeyRange) notNull() KeyRange {
	r.requireValue = true
	return r
}

func (r KeyRange) where(expr string) (string, []any) {
	var clauses []string
	var args []any
	if r.requireValue {
		clauses = append(clauses, expr+" IS NOT NULL")
	}
	if r.exact {
		clauses = append(clauses, expr+" = ?")
		args = append(args, sqlValue(r.lower))
	} else {
		if r.hasLower {
			op := " >= ?"
			if r.lowerOpen {
				op = " > ?"
			}
			clauses = append(clauses, expr+op)
			args = append(args, sqlValue(r.lower))
		}
		if r.hasUpper {
			op := " <= ?"
			if r.upperOpen {
				op = " < ?"
			}
			clauses = append(clauses, expr+op)
			args = append(args, sqlValue(r.upper))
		}
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// sqlValue maps a key to the value json_extract yields for it.
func sqlValue(v any) any {
	if b, ok := v.(bool); ok {
		if b {
			return 1
		}
		return 0
	}
	return v
}

type entry struct {
	key   string
	value json.RawMessage
}

// Cursor iterates a snapshot of matching records taken when it was opened.
//
//	c, err := store.OpenCursor(objstore.All())
//	if err != nil {
//	    return err
//	}
//	defer c.Close()
//	for c.Next() {
//	    var rec Record
//	    if err := c.Decode(&rec); err != nil {
//	        return err
//	    }
//	}
//	return c.Err()
type Cursor struct {
	entries []entry
	pos     int
	err     error
}

// Next advances to the next record, reporting whether one exists.
func (c *Cursor) Next() bool {
	if c.err != nil || c.pos+1 >= len(c.entries) {
		c.pos = len(c.entries)
		return false
	}
	c.pos++
	return true
}

// Key returns the primary key of the current record.
func (c *Cursor) Key() string {
	if c.pos < 0 || c.pos >= len(c.entries) {
		return ""
	}
	return c.entries[c.pos].key
}

// Value returns the canonical JSON of the current record.
func (c *Cursor) Value() json.RawMessage {
	if c.pos < 0 || c.pos >= len(c.entries) {
		return nil
	}
	return c.entries[c.pos].value
}

// Decode unmarshals the current record into dst.
func (c *Cursor) Decode(dst any) error {
	v := c.Value()
	if v == nil {
		return fmt.Errorf("objstore: cursor has no current record")
	}
	if err := json.Unmarshal(v, dst); err != nil {
		c.err = fmt.Errorf("objstore: decode %s: %w", c.Key(), err)
		return c.err
	}
	return nil
}

// Len returns the number of records the cursor holds.
func (c *Cursor) Len() int { return len(c.entries) }

// Err returns the first decode error seen by the cursor.
func (c *Cursor) Err() error { return c.err }

// Close releases the cursor.
func (c *Cursor) Close() error {
	c.entries = nil
	return nil
}

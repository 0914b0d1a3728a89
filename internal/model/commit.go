package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"strconv"
	"time"
)

// Record field names. They double as the key paths the schema indexes on.
const (
	FieldID                     = "id"
	FieldPartitionID            = "partitionId"
	FieldStreamID               = "streamId"
	FieldCommitSequence         = "commitSequence"
	FieldEvents                 = "events"
	FieldIsDispatched           = "isDispatched"
	FieldStreamIDCommitSequence = "streamIdCommitSequence"
	FieldAppendDateTime         = "appendDateTime"
)

// ProtectedFields can never be changed by a header merge.
var ProtectedFields = map[string]struct{}{
	FieldID:                     {},
	FieldPartitionID:            {},
	FieldStreamID:               {},
	FieldCommitSequence:         {},
	FieldEvents:                 {},
	FieldStreamIDCommitSequence: {},
	FieldAppendDateTime:         {},
}

// Event is one domain event inside a commit. Data is opaque to the partition.
type Event struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Header holds caller-defined commit fields merged after append.
type Header map[string]any

// Commit is an immutable batch of events applied to one stream at one position.
//
// Headers are flattened next to the fixed fields when encoded; unknown fields
// read back from storage land in Headers.
type Commit struct {
	ID                     string
	PartitionID            string
	StreamID               string
	CommitSequence         int
	Events                 []Event
	IsDispatched           bool
	StreamIDCommitSequence string
	AppendDateTime         time.Time
	Headers                Header
}

// TruncatedCommit is a commit moved out of the active log by truncation. It
// keeps every field of the original commit.
type TruncatedCommit = Commit

// NewCommit builds a commit ready for append.
func NewCommit(id, partitionID, streamID string, commitSequence int, events []Event) Commit {
	return Commit{
		ID:             id,
		PartitionID:    partitionID,
		StreamID:       streamID,
		CommitSequence: commitSequence,
		Events:         events,
	}
}

// StreamIDCommitSequenceKey derives the composite uniqueness key for a stream
// position. The separator keeps the key injective: the sequence is all digits,
// so the last ':' always splits stream and sequence.
func StreamIDCommitSequenceKey(streamID string, commitSequence int) string {
	return streamID + ":" + strconv.Itoa(commitSequence)
}

// EventCount returns the number of events carried by the commit.
func (c Commit) EventCount() int { return len(c.Events) }

// Clone returns a deep copy; slicing or mutating the copy never reaches c.
func (c Commit) Clone() Commit {
	out := c
	if c.Events != nil {
		out.Events = make([]Event, len(c.Events))
		for i, e := range c.Events {
			out.Events[i] = e.clone()
		}
	}
	if c.Headers != nil {
		out.Headers = maps.Clone(c.Headers)
	}
	return out
}

func (e Event) clone() Event {
	if e.Data != nil {
		e.Data = append(json.RawMessage(nil), e.Data...)
	}
	return e
}

// MarshalJSON flattens headers next to the fixed fields. Fixed fields win over
// headers of the same name.
func (c Commit) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(c.Headers)+8)
	for k, v := range c.Headers {
		m[k] = v
	}
	events := c.Events
	if events == nil {
		events = []Event{}
	}
	m[FieldID] = c.ID
	m[FieldPartitionID] = c.PartitionID
	m[FieldStreamID] = c.StreamID
	m[FieldCommitSequence] = c.CommitSequence
	m[FieldEvents] = events
	m[FieldIsDispatched] = c.IsDispatched
	if c.StreamIDCommitSequence != "" {
		m[FieldStreamIDCommitSequence] = c.StreamIDCommitSequence
	}
	if !c.AppendDateTime.IsZero() {
		m[FieldAppendDateTime] = c.AppendDateTime.UTC().Format(time.RFC3339Nano)
	}
	return json.Marshal(m)
}

// UnmarshalJSON reads the fixed fields and collects everything else into Headers.
func (c *Commit) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var out Commit
	fixed := []struct {
		name string
		dst  any
	}{
		{FieldID, &out.ID},
		{FieldPartitionID, &out.PartitionID},
		{FieldStreamID, &out.StreamID},
		{FieldCommitSequence, &out.CommitSequence},
		{FieldEvents, &out.Events},
		{FieldIsDispatched, &out.IsDispatched},
		{FieldStreamIDCommitSequence, &out.StreamIDCommitSequence},
	}
	for _, f := range fixed {
		v, ok := raw[f.name]
		if !ok {
			continue
		}
		delete(raw, f.name)
		if bytes.Equal(v, []byte("null")) {
			continue
		}
		if err := json.Unmarshal(v, f.dst); err != nil {
			return fmt.Errorf("commit field %s: %w", f.name, err)
		}
	}

	if v, ok := raw[FieldAppendDateTime]; ok {
		delete(raw, FieldAppendDateTime)
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return fmt.Errorf("commit field %s: %w", FieldAppendDateTime, err)
		}
		if s != "" {
			ts, err := time.Parse(time.RFC3339Nano, s)
			if err != nil {
				return fmt.Errorf("commit field %s: %w", FieldAppendDateTime, err)
			}
			out.AppendDateTime = ts
		}
	}

	if len(raw) > 0 {
		out.Headers = make(Header, len(raw))
		for k, v := range raw {
			val, err := decodeGeneric(v)
			if err != nil {
				return fmt.Errorf("commit header %s: %w", k, err)
			}
			out.Headers[k] = val
		}
	}

	*c = out
	return nil
}

// MergeHeader shallow-merges header onto the commit. Protected fields are
// skipped; isDispatched may be set through a header. Existing headers are
// overwritten by name and never removed.
func (c Commit) MergeHeader(header Header) (Commit, error) {
	out := c.Clone()
	for k, v := range header {
		if _, protected := ProtectedFields[k]; protected {
			continue
		}
		if k == FieldIsDispatched {
			b, ok := v.(bool)
			if !ok {
				return Commit{}, fmt.Errorf("header %s: want bool, got %T", k, v)
			}
			out.IsDispatched = b
			continue
		}
		if out.Headers == nil {
			out.Headers = make(Header, len(header))
		}
		out.Headers[k] = v
	}
	return out, nil
}

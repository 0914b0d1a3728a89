package testutil

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/roach88/tapestore/internal/model"
)

// SequentialIDs generates predictable ids: prefix-1, prefix-2, ...
//
// Thread-safety: Generate is safe for concurrent use.
type SequentialIDs struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequentialIDs creates a generator. If prefix is empty, "id" is used.
func NewSequentialIDs(prefix string) *SequentialIDs {
	if prefix == "" {
		prefix = "id"
	}
	return &SequentialIDs{prefix: prefix}
}

// Generate returns the next id.
func (g *SequentialIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}

// Events builds n events of type "TestEvent" whose ids are prefix-0 ..
// prefix-(n-1) and whose data records their index.
func Events(prefix string, n int) []model.Event {
	events := make([]model.Event, n)
	for i := range events {
		events[i] = model.Event{
			ID:   fmt.Sprintf("%s-%d", prefix, i),
			Type: "TestEvent",
			Data: json.RawMessage(fmt.Sprintf(`{"index":%d}`, i)),
		}
	}
	return events
}

// Commit builds a commit on streamID at seq carrying eventCount events.
// The commit id is "<streamID>-c<seq>" and event ids derive from it.
func Commit(streamID string, seq, eventCount int) model.Commit {
	id := fmt.Sprintf("%s-c%d", streamID, seq)
	return model.NewCommit(id, "", streamID, seq, Events(id+"-e", eventCount))
}

// Stream builds one commit per entry of eventCounts at sequences 0, 1, ...
func Stream(streamID string, eventCounts ...int) []model.Commit {
	commits := make([]model.Commit, len(eventCounts))
	for seq, n := range eventCounts {
		commits[seq] = Commit(streamID, seq, n)
	}
	return commits
}

// EventIDs flattens the event ids of commits, in order.
func EventIDs(commits []model.Commit) []string {
	var ids []string
	for _, c := range commits {
		for _, e := range c.Events {
			ids = append(ids, e.ID)
		}
	}
	return ids
}

package model

import "encoding/json"

// Snapshot is the cached state of a stream at Version. One per stream.
type Snapshot struct {
	StreamID string          `json:"streamId"`
	Version  int             `json:"version"`
	Snapshot json.RawMessage `json:"snapshot"`
}

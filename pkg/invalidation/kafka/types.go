package kafka

import "time"

// WireEvent is the pre-resolved form: either an exact cache key or a
// list of geohash cells, optionally pinned to specific lengths.
type WireEvent struct {
	Key     string    `json:"key,omitempty"`
	Layer   string    `json:"layer,omitempty"`
	Cells   []string  `json:"cells,omitempty"`
	Lengths []int     `json:"len,omitempty"`
	Version uint64    `json:"version"`
	TS      time.Time `json:"ts"`
	Op      string    `json:"op,omitempty"`
}

// SPDX-License-Identifier: MIT
package transport

import (
	"time"

	"pitchscope/internal/analysis"
)

// Transport defines a generic interface for sending processed data or events.
// Implementations should be thread-safe.
type Transport interface {
	Send(data any) error
	Close() error
}

// SnapshotSource publishes the result of the last completed block.
// *analysis.Analyzer satisfies it.
type SnapshotSource interface {
	Seq() uint64
	NewSnapshot() *analysis.Snapshot
	SnapshotInto(dst *analysis.Snapshot) error
}

var _ SnapshotSource = (*analysis.Analyzer)(nil)

// ChannelFrame is the per-channel payload of a Frame.
type ChannelFrame struct {
	NormAvg float64   `json:"norm_avg"`
	Pitch   []float64 `json:"pitch"`
}

// Frame is the consumer-facing view of one completed block.
type Frame struct {
	Seq       uint64         `json:"seq"`
	Timestamp int64          `json:"timestamp"` // Unix nanoseconds.
	Channels  []ChannelFrame `json:"channels"`
}

// NewFrame copies the pitch data of s into a Frame stamped with ts.
// The frame owns its slices and may be handed to another goroutine.
func NewFrame(s *analysis.Snapshot, ts time.Time) Frame {
	f := Frame{
		Seq:       s.Seq,
		Timestamp: ts.UnixNano(),
		Channels:  make([]ChannelFrame, s.Channels()),
	}
	for c := range f.Channels {
		f.Channels[c] = ChannelFrame{
			NormAvg: s.NormAvg[c],
			Pitch:   append([]float64(nil), s.Pitch[c]...),
		}
	}
	return f
}

// SPDX-License-Identifier: MIT
/*
Package audio connects capture devices to the analysis ring and records
analysed blocks to WAV.

Two backends deliver frames:
  - PortAudio input streams with typed sample callbacks.
  - miniaudio (malgo) capture or duplex devices with raw byte callbacks and
    optional input-to-output monitoring.

Hot Path Rules (device callbacks):
  - Only the ring write side is touched: acquire, encode or copy, commit.
  - No locks, no allocations, no logging.
  - Frames that do not fit in the ring are counted and dropped.
*/
package audio

import (
	"sync/atomic"

	"pitchscope/internal/ring"
)

// Source is a running capture device feeding a ring.
type Source interface {
	Start() error
	Stop() error
	Close() error
	Stats() Stats
}

// Stats counts frames seen by a capture callback.
type Stats struct {
	Captured uint64 // Frames delivered by the device.
	Dropped  uint64 // Frames discarded because the ring was full.
}

// counters is updated from the device callback and read from anywhere.
type counters struct {
	captured atomic.Uint64
	dropped  atomic.Uint64
}

func (c *counters) add(frames, written int) {
	c.captured.Add(uint64(frames))
	if written < frames {
		c.dropped.Add(uint64(frames - written))
	}
}

func (c *counters) stats() Stats {
	return Stats{Captured: c.captured.Load(), Dropped: c.dropped.Load()}
}

// writeEncoded encodes interleaved samples straight into ring grants,
// issuing a second acquire when the first grant stops at the wrap point.
// It returns the number of frames written.
func writeEncoded[T any](r *ring.Ring, in []T, channels int, encode func([]byte, []T) int) int {
	frames := len(in) / channels
	done := 0
	for pass := 0; pass < 2 && done < frames; pass++ {
		n, region := r.AcquireWrite(frames - done)
		if n == 0 {
			break
		}
		encode(region, in[done*channels:(done+n)*channels])
		_ = r.CommitWrite(n)
		done += n
	}
	return done
}

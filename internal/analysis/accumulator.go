// SPDX-License-Identifier: MIT
package analysis

import "pitchscope/internal/pcm"

// Accumulator de-interleaves PCM frames into one fixed-size window per
// channel. Blocks do not overlap: once the window set is full it accepts
// nothing until Reset.
type Accumulator struct {
	format  pcm.Format
	sampleB int
	windows [][]float64
	size    int
	cursor  int // Next slot, shared by all channels.
	count   int // Filled slots, <= size.
}

// NewAccumulator allocates one window of size samples per channel.
func NewAccumulator(format pcm.Format, size int) *Accumulator {
	windows := make([][]float64, format.Channels)
	for c := range windows {
		windows[c] = make([]float64, size)
	}
	return &Accumulator{
		format:  format,
		sampleB: format.Encoding.BytesPerSample(),
		windows: windows,
		size:    size,
	}
}

// Size returns the window length in frames.
func (a *Accumulator) Size() int { return a.size }

// Count returns the number of frames accumulated in the current block.
func (a *Accumulator) Count() int { return a.count }

// Remaining returns the number of frames the current block still needs.
func (a *Accumulator) Remaining() int { return a.size - a.count }

// Ready reports whether every channel window is full.
func (a *Accumulator) Ready() bool { return a.count == a.size }

// Window returns the samples of channel c. The slice is only stable while
// the accumulator is not being pushed to.
func (a *Accumulator) Window(c int) []float64 { return a.windows[c] }

// Push de-interleaves up to frames frames of region into the windows and
// returns the number consumed. At most Remaining frames are taken.
func (a *Accumulator) Push(region []byte, frames int) int {
	n := min(frames, a.Remaining(), len(region)/a.format.BytesPerFrame())
	if n <= 0 {
		return 0
	}
	enc := a.format.Encoding
	channels := a.format.Channels
	off := 0
	for i := range n {
		slot := (a.cursor + i) % a.size
		for c := range channels {
			a.windows[c][slot] = enc.Sample(region, off)
			off += a.sampleB
		}
	}
	a.cursor = (a.cursor + n) % a.size
	a.count = min(a.count+n, a.size)
	return n
}

// Reset drains the block so accumulation restarts at slot zero.
func (a *Accumulator) Reset() {
	a.cursor = 0
	a.count = 0
}

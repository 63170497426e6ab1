// SPDX-License-Identifier: MIT
package analysis

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

const (
	// SmoothingWindow is the number of past vectors averaged.
	SmoothingWindow = 5
	// MaxSmoothingDimensions bounds the vector length of a MovingAverage.
	MaxSmoothingDimensions = 10000
)

// MovingAverage is a windowed moving average over vectors. The running sum
// always equals the sum of the buffered history. One instance per channel.
type MovingAverage struct {
	history [SmoothingWindow][]float64
	sum     []float64
	index   int
	count   int
}

// NewMovingAverage allocates history for vectors of length dim.
func NewMovingAverage(dim int) (*MovingAverage, error) {
	if dim < 1 || dim > MaxSmoothingDimensions {
		return nil, &ConfigError{
			Field:  "smoothing dimension",
			Value:  dim,
			Reason: fmt.Sprintf("must be in [1, %d]", MaxSmoothingDimensions),
		}
	}
	m := &MovingAverage{sum: make([]float64, dim)}
	for i := range m.history {
		m.history[i] = make([]float64, dim)
	}
	return m, nil
}

// Len returns the vector dimension.
func (m *MovingAverage) Len() int { return len(m.sum) }

// Update pushes v into the history and writes the mean of the buffered
// vectors into dst, which it returns. v and dst may be the same slice.
func (m *MovingAverage) Update(dst, v []float64) []float64 {
	slot := m.history[m.index]
	if m.count == SmoothingWindow {
		floats.Sub(m.sum, slot)
	}
	copy(slot, v)
	floats.Add(m.sum, slot)

	m.index = (m.index + 1) % SmoothingWindow
	if m.count < SmoothingWindow {
		m.count++
	}
	floats.ScaleTo(dst, 1/float64(m.count), m.sum)
	return dst
}

// Reset clears the history.
func (m *MovingAverage) Reset() {
	for i := range m.history {
		clear(m.history[i])
	}
	clear(m.sum)
	m.index = 0
	m.count = 0
}

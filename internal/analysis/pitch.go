// SPDX-License-Identifier: MIT
package analysis

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"pitchscope/pkg/bitint"
)

// PitchBins is the fixed length of every pitch vector.
const PitchBins = 125

// PitchMap folds a linear magnitude vector into PitchBins logarithmically
// spaced, log-compressed bins. Bin boundaries depend only on the window
// size and are computed once.
//
// With L = ceil(log2(W)), bin j covers magnitude[start:end] where
//
//	start = floor(2^(j·L/125) - 1)
//	end   = min(ceil(2^((j+1)·L/125)), W)
//
// Low bins overlap; that is expected. A bin whose start reaches W is empty
// and always reads zero.
type PitchMap struct {
	size   int
	starts [PitchBins]int
	ends   [PitchBins]int
}

// NewPitchMap precomputes bin boundaries for windows of size samples.
func NewPitchMap(size int) *PitchMap {
	m := &PitchMap{size: size}
	octaves := float64(bitint.CeilLog2(size))
	for j := range PitchBins {
		start := int(math.Floor(math.Exp2(float64(j)*octaves/PitchBins) - 1))
		end := int(math.Ceil(math.Exp2(float64(j+1) * octaves / PitchBins)))
		end = min(end, size)
		m.starts[j] = max(min(start, end), 0)
		m.ends[j] = end
	}
	return m
}

// Bounds returns the half-open magnitude range of bin j.
func (m *PitchMap) Bounds(j int) (start, end int) {
	return m.starts[j], m.ends[j]
}

// Apply writes log2(mean(magnitude[start:end]) + 1) for every bin into dst.
// dst must hold PitchBins values and magnitude the window size.
func (m *PitchMap) Apply(dst, magnitude []float64) {
	for j := range PitchBins {
		start, end := m.starts[j], m.ends[j]
		if end <= start {
			dst[j] = 0
			continue
		}
		mean := floats.Sum(magnitude[start:end]) / float64(end-start)
		dst[j] = math.Log2(mean + 1)
	}
}

// SPDX-License-Identifier: MIT
package analysis

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
)

// SpectralFrame holds the transform plan and pre-allocated vectors for one
// channel. The plan is sized to the window at creation and never changes.
type SpectralFrame struct {
	plan      *fourier.QuarterWaveFFT
	input     []float64
	output    []float64
	magnitude []float64
	scale     float64
}

// NewSpectralFrame creates a frame for windows of size samples.
func NewSpectralFrame(size int) *SpectralFrame {
	return &SpectralFrame{
		plan:      fourier.NewQuarterWaveFFT(size),
		input:     make([]float64, size),
		output:    make([]float64, size),
		magnitude: make([]float64, size),
		// CosSequence computes 4·Σx[n]·cos(πk(2n+1)/2N), twice the
		// unnormalised DCT-II, so halve it before dividing by N.
		scale: 0.5 / float64(size),
	}
}

// Size returns the transform length.
func (f *SpectralFrame) Size() int { return len(f.input) }

// Transform runs the DCT-II over window and fills the magnitude vector:
// |Y[k]| / N with the DC bin forced to zero. It returns the arithmetic mean
// of the raw window samples. window must have length Size.
func (f *SpectralFrame) Transform(window []float64) (normAvg float64) {
	copy(f.input, window)
	f.plan.CosSequence(f.output, f.input)
	for k, y := range f.output {
		f.magnitude[k] = math.Abs(y) * f.scale
	}
	f.magnitude[0] = 0
	return floats.Sum(f.input) / float64(len(f.input))
}

// Magnitude returns the magnitude vector of the last Transform. The slice
// is owned by the frame and overwritten by the next call.
func (f *SpectralFrame) Magnitude() []float64 { return f.magnitude }

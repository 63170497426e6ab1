// SPDX-License-Identifier: MIT
package analysis

import "fmt"

// Snapshot is the published result of the last completed block.
// Every per-channel slice is indexed [channel][i].
type Snapshot struct {
	Seq        uint64      // Completed blocks; zero before the first.
	TimeData   [][]float64 // Raw samples of the block.
	Magnitudes [][]float64 // Frequency magnitudes, length = window size.
	Pitch      [][]float64 // Perceptual bins, length = PitchBins.
	NormAvg    []float64   // Mean of the raw samples.
}

// NewSnapshot allocates a snapshot for channels windows of size samples.
func NewSnapshot(channels, size int) *Snapshot {
	s := &Snapshot{
		TimeData:   make([][]float64, channels),
		Magnitudes: make([][]float64, channels),
		Pitch:      make([][]float64, channels),
		NormAvg:    make([]float64, channels),
	}
	for c := range channels {
		s.TimeData[c] = make([]float64, size)
		s.Magnitudes[c] = make([]float64, size)
		s.Pitch[c] = make([]float64, PitchBins)
	}
	return s
}

// Channels returns the channel count.
func (s *Snapshot) Channels() int { return len(s.NormAvg) }

// WindowSize returns the per-channel window length.
func (s *Snapshot) WindowSize() int {
	if len(s.TimeData) == 0 {
		return 0
	}
	return len(s.TimeData[0])
}

// copyFrom copies src into s without allocating. Shapes must match.
func (s *Snapshot) copyFrom(src *Snapshot) error {
	if s.Channels() != src.Channels() || s.WindowSize() != src.WindowSize() {
		return fmt.Errorf("%w: have %dx%d, want %dx%d", ErrSnapshotShape,
			s.Channels(), s.WindowSize(), src.Channels(), src.WindowSize())
	}
	s.Seq = src.Seq
	copy(s.NormAvg, src.NormAvg)
	for c := range src.TimeData {
		copy(s.TimeData[c], src.TimeData[c])
		copy(s.Magnitudes[c], src.Magnitudes[c])
		copy(s.Pitch[c], src.Pitch[c])
	}
	return nil
}

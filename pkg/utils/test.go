// SPDX-License-Identifier: MIT
//
// Package utils provides deterministic signals and fakes shared by tests.
package utils

import (
	"math"
	"sync"
)

// MockTransport records everything sent to it instead of transmitting.
type MockTransport struct {
	mu     sync.Mutex
	sent   []any
	closed bool
}

// Send stores data for later inspection.
func (m *MockTransport) Send(data any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, data)
	return nil
}

// Close marks the transport closed.
func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Count returns the number of Send calls.
func (m *MockTransport) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// Last returns the most recent value sent, or nil.
func (m *MockTransport) Last() any {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return nil
	}
	return m.sent[len(m.sent)-1]
}

// Closed reports whether Close was called.
func (m *MockTransport) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// CosineBasis returns amplitude·cos(π·bin·(n+½)/size) for n in [0, size).
// Its DCT-II has a single non-zero coefficient at bin.
func CosineBasis(size, bin int, amplitude float64) []float64 {
	buffer := make([]float64, size)
	for n := range buffer {
		buffer[n] = amplitude * math.Cos(math.Pi*float64(bin)*(float64(n)+0.5)/float64(size))
	}
	return buffer
}

// SineWave returns size samples of a sine at frequency Hz.
func SineWave(size int, sampleRate, frequency, amplitude float64) []float64 {
	buffer := make([]float64, size)
	for i := range buffer {
		t := float64(i) / sampleRate
		buffer[i] = amplitude * math.Sin(2*math.Pi*frequency*t)
	}
	return buffer
}

// Constant returns size copies of v.
func Constant(size int, v float64) []float64 {
	buffer := make([]float64, size)
	for i := range buffer {
		buffer[i] = v
	}
	return buffer
}

// Repeat concatenates times copies of signal.
func Repeat(signal []float64, times int) []float64 {
	out := make([]float64, 0, len(signal)*times)
	for range times {
		out = append(out, signal...)
	}
	return out
}

// FindPeakBin returns the index of the largest value in
// magnitudes[startBin:endBin+1].
func FindPeakBin(magnitudes []float64, startBin, endBin int) int {
	if len(magnitudes) == 0 {
		return 0
	}

	if startBin < 0 {
		startBin = 0
	}

	if endBin >= len(magnitudes) {
		endBin = len(magnitudes) - 1
	}

	peakBin := startBin
	peakValue := magnitudes[startBin]

	for bin := startBin + 1; bin <= endBin; bin++ {
		if magnitudes[bin] > peakValue {
			peakValue = magnitudes[bin]
			peakBin = bin
		}
	}

	return peakBin
}

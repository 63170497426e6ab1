// SPDX-License-Identifier: MIT
package pcm

import (
	"encoding/binary"
	"math"
)

// Sample decodes the sample at byte offset off of p.
// The caller guarantees that p holds at least BytesPerSample bytes at off.
func (f SampleFormat) Sample(p []byte, off int) float64 {
	switch f {
	case FormatS16:
		return float64(int16(binary.LittleEndian.Uint16(p[off:])))
	case FormatS32:
		return float64(int32(binary.LittleEndian.Uint32(p[off:])))
	case FormatF32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(p[off:])))
	default:
		return 0
	}
}

// PutSample encodes v at byte offset off of p, saturating integer
// encodings to their range.
func (f SampleFormat) PutSample(p []byte, off int, v float64) {
	switch f {
	case FormatS16:
		binary.LittleEndian.PutUint16(p[off:], uint16(int16(clamp(v, math.MinInt16, math.MaxInt16))))
	case FormatS32:
		binary.LittleEndian.PutUint32(p[off:], uint32(int32(clamp(v, math.MinInt32, math.MaxInt32))))
	case FormatF32:
		binary.LittleEndian.PutUint32(p[off:], math.Float32bits(float32(v)))
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// EncodeInt16 writes samples into dst as S16 and returns the bytes written.
// Used by capture callbacks that receive typed buffers; it never allocates.
func EncodeInt16(dst []byte, samples []int16) int {
	n := min(len(samples), len(dst)/2)
	for i := range n {
		binary.LittleEndian.PutUint16(dst[i*2:], uint16(samples[i]))
	}
	return n * 2
}

// EncodeInt32 writes samples into dst as S32 and returns the bytes written.
func EncodeInt32(dst []byte, samples []int32) int {
	n := min(len(samples), len(dst)/4)
	for i := range n {
		binary.LittleEndian.PutUint32(dst[i*4:], uint32(samples[i]))
	}
	return n * 4
}

// EncodeFloat32 writes samples into dst as F32 and returns the bytes written.
func EncodeFloat32(dst []byte, samples []float32) int {
	n := min(len(samples), len(dst)/4)
	for i := range n {
		binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(samples[i]))
	}
	return n * 4
}

// Interleave encodes per-channel sample slices into interleaved frames.
// All channels must have the same length; the result holds
// len(channels[0]) frames. Intended for tests and tooling, not hot paths.
func Interleave(f Format, channels [][]float64) []byte {
	if len(channels) == 0 {
		return nil
	}
	frames := len(channels[0])
	bps := f.Encoding.BytesPerSample()
	out := make([]byte, frames*bps*len(channels))
	for i := range frames {
		for c, ch := range channels {
			f.Encoding.PutSample(out, (i*len(channels)+c)*bps, ch[i])
		}
	}
	return out
}

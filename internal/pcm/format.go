// SPDX-License-Identifier: MIT
/*
Package pcm describes interleaved little-endian PCM capture formats and
converts between raw frames and float64 samples.

Decoded samples keep the numeric scale of their encoding: an S32 sample of
1000 decodes to 1000.0, an F32 sample decodes to its float value. Nothing
is normalised.
*/
package pcm

import (
	"errors"
	"fmt"
	"strings"
)

// SampleFormat is the encoding of a single sample.
type SampleFormat uint8

const (
	FormatUnknown SampleFormat = iota
	FormatS16
	FormatS32
	FormatF32
)

// MaxChannels bounds the channel count of a capture session.
const MaxChannels = 32

var (
	ErrUnknownFormat   = errors.New("pcm: unknown sample format")
	ErrInvalidChannels = errors.New("pcm: invalid channel count")
)

// String returns the canonical lower-case name of the format.
func (f SampleFormat) String() string {
	switch f {
	case FormatS16:
		return "s16"
	case FormatS32:
		return "s32"
	case FormatF32:
		return "f32"
	default:
		return "unknown"
	}
}

// BytesPerSample returns the encoded size of one sample, or 0 for
// unknown formats.
func (f SampleFormat) BytesPerSample() int {
	switch f {
	case FormatS16:
		return 2
	case FormatS32, FormatF32:
		return 4
	default:
		return 0
	}
}

// ParseSampleFormat converts a name (case-insensitive) into a SampleFormat.
func ParseSampleFormat(name string) (SampleFormat, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "s16", "int16":
		return FormatS16, nil
	case "s32", "int32":
		return FormatS32, nil
	case "f32", "float32":
		return FormatF32, nil
	default:
		return FormatUnknown, fmt.Errorf("%w: %q", ErrUnknownFormat, name)
	}
}

// Format is the negotiated capture format. It is fixed for the lifetime
// of a capture session.
type Format struct {
	Encoding SampleFormat
	Channels int
}

// Validate checks that the encoding is known and the channel count is
// within [1, MaxChannels].
func (f Format) Validate() error {
	if f.Encoding.BytesPerSample() == 0 {
		return fmt.Errorf("%w: %d", ErrUnknownFormat, f.Encoding)
	}
	if f.Channels < 1 || f.Channels > MaxChannels {
		return fmt.Errorf("%w: %d (want 1..%d)", ErrInvalidChannels, f.Channels, MaxChannels)
	}
	return nil
}

// BytesPerFrame returns the size of one interleaved frame.
func (f Format) BytesPerFrame() int {
	return f.Encoding.BytesPerSample() * f.Channels
}

func (f Format) String() string {
	return fmt.Sprintf("%s/%dch", f.Encoding, f.Channels)
}

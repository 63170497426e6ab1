// SPDX-License-Identifier: MIT
package pcm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSampleFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    SampleFormat
		wantErr bool
	}{
		{"s16", FormatS16, false},
		{"S32", FormatS32, false},
		{" float32 ", FormatF32, false},
		{"int16", FormatS16, false},
		{"u8", FormatUnknown, true},
		{"", FormatUnknown, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSampleFormat(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownFormat)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatValidate(t *testing.T) {
	tests := []struct {
		name   string
		format Format
		target error
	}{
		{"stereo s32", Format{FormatS32, 2}, nil},
		{"mono f32", Format{FormatF32, 1}, nil},
		{"zero channels", Format{FormatS32, 0}, ErrInvalidChannels},
		{"negative channels", Format{FormatS16, -1}, ErrInvalidChannels},
		{"too many channels", Format{FormatS16, MaxChannels + 1}, ErrInvalidChannels},
		{"unknown encoding", Format{FormatUnknown, 2}, ErrUnknownFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.format.Validate()
			if tt.target == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.target)
			}
		})
	}
}

func TestBytesPerFrame(t *testing.T) {
	assert.Equal(t, 4, Format{FormatS16, 2}.BytesPerFrame())
	assert.Equal(t, 8, Format{FormatS32, 2}.BytesPerFrame())
	assert.Equal(t, 4, Format{FormatF32, 1}.BytesPerFrame())
	assert.Equal(t, 0, Format{FormatUnknown, 2}.BytesPerFrame())
	assert.Equal(t, "s32/2ch", Format{FormatS32, 2}.String())
}

func TestSampleKeepsRawScale(t *testing.T) {
	buf := make([]byte, 4)

	FormatS32.PutSample(buf, 0, 1000)
	assert.Equal(t, 1000.0, FormatS32.Sample(buf, 0))

	FormatS32.PutSample(buf, 0, -3e12)
	assert.Equal(t, float64(-2147483648), FormatS32.Sample(buf, 0), "s32 saturates")

	FormatS16.PutSample(buf, 0, -1234)
	assert.Equal(t, -1234.0, FormatS16.Sample(buf, 0))

	FormatF32.PutSample(buf, 0, 0.25)
	assert.Equal(t, 0.25, FormatF32.Sample(buf, 0))
}

func TestEncodeTypedBuffers(t *testing.T) {
	dst := make([]byte, 16)

	n := EncodeInt32(dst, []int32{1, -2, 3})
	require.Equal(t, 12, n)
	assert.Equal(t, -2.0, FormatS32.Sample(dst, 4))

	n = EncodeInt16(dst, []int16{7, -8})
	require.Equal(t, 4, n)
	assert.Equal(t, -8.0, FormatS16.Sample(dst, 2))

	n = EncodeFloat32(dst, []float32{0.5, 1, 2, 3, 4})
	require.Equal(t, 16, n, "truncated to destination size")
	assert.Equal(t, 3.0, FormatF32.Sample(dst, 12))
}

func TestEncodeDoesNotAllocate(t *testing.T) {
	dst := make([]byte, 4096)
	src := make([]int32, 1024)
	allocs := testing.AllocsPerRun(100, func() {
		EncodeInt32(dst, src)
	})
	if allocs > 0 {
		t.Errorf("Expected zero allocations in EncodeInt32, got %.1f", allocs)
	}
}

func TestInterleave(t *testing.T) {
	f := Format{FormatS32, 2}
	out := Interleave(f, [][]float64{{1, 2, 3}, {-1, -2, -3}})
	require.Len(t, out, 3*f.BytesPerFrame())
	for i, want := range []float64{1, -1, 2, -2, 3, -3} {
		assert.Equal(t, want, FormatS32.Sample(out, i*4))
	}
	assert.Nil(t, Interleave(f, nil))
}

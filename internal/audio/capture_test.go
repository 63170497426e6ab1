// SPDX-License-Identifier: MIT
package audio

import (
	"testing"

	"github.com/gen2brain/malgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pitchscope/internal/pcm"
	"pitchscope/internal/ring"
)

func newTestRing(t testing.TB, enc pcm.SampleFormat, channels, frames int) *ring.Ring {
	t.Helper()
	r, err := ring.New(pcm.Format{Encoding: enc, Channels: channels}, frames)
	require.NoError(t, err)
	return r
}

func readFrames(t *testing.T, r *ring.Ring, frames int) []byte {
	t.Helper()
	out := make([]byte, frames*r.Format().BytesPerFrame())
	require.Equal(t, frames, r.Read(out))
	return out
}

func TestWriteEncodedAcrossWrap(t *testing.T) {
	r := newTestRing(t, pcm.FormatS32, 2, 8)
	enc := pcm.FormatS32

	// Move the cursors so the next write wraps.
	require.Equal(t, 6, writeEncoded(r, make([]int32, 12), 2, pcm.EncodeInt32))
	readFrames(t, r, 6)

	in := []int32{1, -1, 2, -2, 3, -3, 4, -4, 5, -5}
	assert.Equal(t, 5, writeEncoded(r, in, 2, pcm.EncodeInt32))

	out := readFrames(t, r, 5)
	for i, want := range in {
		assert.Equal(t, float64(want), enc.Sample(out, i*4), "sample %d", i)
	}
}

func TestWriteEncodedFullRing(t *testing.T) {
	r := newTestRing(t, pcm.FormatS16, 1, 4)

	assert.Equal(t, 4, writeEncoded(r, []int16{1, 2, 3, 4, 5, 6}, 1, pcm.EncodeInt16))
	assert.Equal(t, 0, writeEncoded(r, []int16{7}, 1, pcm.EncodeInt16))
}

func TestCountersTrackDrops(t *testing.T) {
	var c counters
	c.add(512, 512)
	c.add(512, 200)
	c.add(256, 0)

	assert.Equal(t, Stats{Captured: 1280, Dropped: 568}, c.stats())
}

func TestMalgoDataCallback(t *testing.T) {
	r := newTestRing(t, pcm.FormatF32, 2, 4)
	c := &MalgoCapture{
		cfg:    MalgoConfig{Monitor: true},
		ring:   r,
		format: r.Format(),
	}

	in := make([]byte, 6*r.Format().BytesPerFrame())
	for i := 0; i < 12; i++ {
		pcm.FormatF32.PutSample(in, i*4, float64(i)/16)
	}
	out := make([]byte, len(in))

	c.onData(out, in, 6)

	assert.Equal(t, in, out, "monitor copies input to output")
	assert.Equal(t, Stats{Captured: 6, Dropped: 2}, c.Stats())

	got := readFrames(t, r, 4)
	assert.Equal(t, in[:len(got)], got)
}

func TestMalgoFormat(t *testing.T) {
	for _, f := range []pcm.SampleFormat{pcm.FormatS16, pcm.FormatS32, pcm.FormatF32} {
		_, err := malgoFormat(f)
		assert.NoError(t, err, f.String())
	}
	_, err := malgoFormat(pcm.FormatUnknown)
	assert.ErrorIs(t, err, pcm.ErrUnknownFormat)
}

func TestSelectMalgoDevice(t *testing.T) {
	infos := make([]malgo.DeviceInfo, 2)

	for _, kind := range []malgo.DeviceType{malgo.Capture, malgo.Playback} {
		got, err := selectMalgoDevice(infos, kind, 1)
		require.NoError(t, err)
		assert.Same(t, &infos[1], got)

		for _, id := range []int{-2, 2, 5} {
			_, err := selectMalgoDevice(infos, kind, id)
			assert.ErrorIs(t, err, ErrInvalidDevice, "id %d", id)
		}
	}

	_, err := selectMalgoDevice(nil, malgo.Playback, 0)
	require.ErrorIs(t, err, ErrInvalidDevice)
	assert.Contains(t, err.Error(), "0 playback devices")
}

func TestWriteEncodedNoAllocs(t *testing.T) {
	r := newTestRing(t, pcm.FormatS32, 2, 1024)
	in := make([]int32, 512*2)
	sink := make([]byte, 512*r.Format().BytesPerFrame())

	allocs := testing.AllocsPerRun(100, func() {
		writeEncoded(r, in, 2, pcm.EncodeInt32)
		r.Read(sink)
	})
	if allocs > 0 {
		t.Errorf("writeEncoded allocated memory: got %.1f allocs, want 0", allocs)
	}
}

func BenchmarkWriteEncoded(b *testing.B) {
	r := newTestRing(b, pcm.FormatS32, 2, 4096)
	in := make([]int32, 512*2)
	sink := make([]byte, 512*r.Format().BytesPerFrame())

	b.ReportAllocs()
	for b.Loop() {
		writeEncoded(r, in, 2, pcm.EncodeInt32)
		r.Read(sink)
	}
}

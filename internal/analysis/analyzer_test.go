// SPDX-License-Identifier: MIT
package analysis

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"pitchscope/internal/pcm"
	"pitchscope/pkg/bitint"
	"pitchscope/pkg/utils"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type countingSink struct {
	mu     sync.Mutex
	blocks []uint64
	first  []float64
}

func (s *countingSink) WriteBlock(snap *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks = append(s.blocks, snap.Seq)
	if s.first == nil {
		s.first = append([]float64(nil), snap.TimeData[0]...)
	}
	return nil
}

func (s *countingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.blocks)
}

type countingObserver struct {
	frames atomic.Int64
	empty  atomic.Int64
	blocks atomic.Int64
}

func (o *countingObserver) FramesRead(n int)             { o.frames.Add(int64(n)) }
func (o *countingObserver) EmptyPoll()                   { o.empty.Add(1) }
func (o *countingObserver) BlockProcessed(time.Duration) { o.blocks.Add(1) }

func testConfig(channels, window int) Config {
	return Config{
		Format:     pcm.Format{Encoding: pcm.FormatS32, Channels: channels},
		WindowSize: window,
		Backoff:    100 * time.Microsecond,
	}
}

// writeAll feeds data into the ring, waiting for the consumer when full.
func writeAll(a *Analyzer, data []byte) {
	frameBytes := a.Ring().Format().BytesPerFrame()
	for off := 0; off < len(data); {
		n := a.Ring().Write(data[off:])
		if n == 0 {
			time.Sleep(100 * time.Microsecond)
		}
		off += n * frameBytes
	}
}

// drain runs the analysis step on the calling goroutine until the ring is
// empty.
func drain(a *Analyzer) {
	for a.step() {
	}
}

func TestConfigureRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name  string
		cfg   Config
		field string
	}{
		{"zero window", testConfig(2, 0), "window size"},
		{"negative window", testConfig(2, -5), "window size"},
		{"window too large", testConfig(2, MaxWindowSize+1), "window size"},
		{"zero channels", testConfig(0, 1200), "channel count"},
		{"negative channels", testConfig(-1, 1200), "channel count"},
		{"too many channels", testConfig(pcm.MaxChannels+1, 1200), "channel count"},
		{"unknown encoding", Config{Format: pcm.Format{Channels: 2}, WindowSize: 1200}, "sample format"},
		{"negative ring", Config{Format: stereoS32, WindowSize: 1200, RingFrames: -1}, "ring frames"},
		{"ring smaller than window", Config{Format: stereoS32, WindowSize: 1200, RingFrames: 600}, "ring frames"},
		{"negative backoff", Config{Format: stereoS32, WindowSize: 1200, Backoff: -time.Second}, "backoff"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := Configure(tt.cfg)
			require.Error(t, err)
			assert.Nil(t, a, "no handle is returned on error")
			assert.ErrorIs(t, err, ErrInvalidConfig)

			var cfgErr *ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestConfigureDefaults(t *testing.T) {
	a, err := Configure(Config{Format: stereoS32, WindowSize: 1200})
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, StateConfigured, a.State())
	assert.Equal(t, DefaultBackoff, a.Config().Backoff)
	assert.Equal(t, bitint.NextPowerOfTwo(4*1200), a.Ring().Capacity(), "4 windows rounded up")
	assert.Equal(t, 8192, a.Ring().Capacity())
	assert.Equal(t, stereoS32, a.Ring().Format())
	assert.Zero(t, a.Seq())
}

func TestStopBeforeStartAndTwice(t *testing.T) {
	a, err := Configure(testConfig(2, 64))
	require.NoError(t, err)

	require.NoError(t, a.Stop(), "stop before start is a no-op")
	assert.Equal(t, StateConfigured, a.State())

	require.NoError(t, a.Start())
	require.NoError(t, a.Start(), "second start is a no-op")
	assert.Equal(t, StateRunning, a.State())

	require.NoError(t, a.Stop())
	require.NoError(t, a.Stop(), "second stop is a no-op")
	assert.Equal(t, StateConfigured, a.State())

	require.NoError(t, a.Close())
	require.NoError(t, a.Close(), "close is idempotent")
}

func TestCloseRequiresStop(t *testing.T) {
	a, err := Configure(testConfig(1, 64))
	require.NoError(t, err)

	require.NoError(t, a.Start())
	assert.ErrorIs(t, a.Close(), ErrRunning)
	assert.Equal(t, StateRunning, a.State())

	r := a.Ring()
	require.NoError(t, a.Stop())
	require.NoError(t, a.Close())
	assert.Equal(t, StateClosed, a.State())
	assert.Nil(t, a.Ring(), "ring is released")
	assert.Equal(t, 1, r.Write(make([]byte, r.Format().BytesPerFrame())), "collaborator reference stays usable")

	assert.ErrorIs(t, a.Start(), ErrClosed)
	_, err = a.Snapshot()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestRestartAfterStop(t *testing.T) {
	const window = 32
	a, err := Configure(testConfig(1, window))
	require.NoError(t, err)
	defer a.Close()

	block := pcm.Interleave(a.Ring().Format(), [][]float64{utils.Constant(window, 1)})
	for round := 1; round <= 2; round++ {
		require.NoError(t, a.Start())
		require.Equal(t, window, a.Ring().Write(block))
		require.Eventually(t, func() bool { return a.Seq() == uint64(round) },
			time.Second, time.Millisecond)
		require.NoError(t, a.Stop())
	}
}

func TestBlocksFireOncePerWindow(t *testing.T) {
	const (
		window = 100
		k      = 3
	)
	obs := &countingObserver{}
	sink := &countingSink{}
	a, err := Configure(testConfig(2, window), WithObserver(obs), WithSink(sink))
	require.NoError(t, err)
	defer a.Close()

	ch := utils.Repeat(utils.CosineBasis(window, 5, 1e5), k)
	data := pcm.Interleave(a.Ring().Format(), [][]float64{ch, ch})

	require.NoError(t, a.Start())
	writeAll(a, data)
	require.Eventually(t, func() bool { return a.Seq() == k }, 2*time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, a.Stop())

	assert.EqualValues(t, k, a.Seq(), "no extra firings")
	assert.Equal(t, k, sink.count())
	assert.Equal(t, []uint64{1, 2, 3}, sink.blocks)
	assert.EqualValues(t, k, obs.blocks.Load())
	assert.EqualValues(t, k*window, obs.frames.Load())
	assert.Zero(t, a.acc.Count(), "fill count resets after each block")
}

func TestEndToEndStereoTone(t *testing.T) {
	const (
		window    = 1200
		bin       = 100
		amplitude = 1e6
	)
	sink := &countingSink{}
	a, err := Configure(testConfig(2, window), WithSink(sink))
	require.NoError(t, err)
	defer a.Close()

	left := utils.Repeat(utils.CosineBasis(window, bin, amplitude), 2)
	right := utils.Repeat(utils.CosineBasis(window, bin, amplitude/2), 2)
	data := pcm.Interleave(a.Ring().Format(), [][]float64{left, right})
	require.Equal(t, window, a.Ring().Write(data[:len(data)/2]))

	drain(a)
	first, err := a.Snapshot()
	require.NoError(t, err)
	require.Equal(t, window, a.Ring().Write(data[len(data)/2:]))

	drain(a)
	second, err := a.Snapshot()
	require.NoError(t, err)

	assert.EqualValues(t, 2, a.Seq(), "exactly two firings")
	assert.Equal(t, 2, sink.count())

	for _, snap := range []*Snapshot{first, second} {
		for c, want := range []float64{amplitude, amplitude / 2} {
			mag := snap.Magnitudes[c]
			assert.Zero(t, mag[0], "bin 0 is forced to zero")
			assert.Equal(t, bin, utils.FindPeakBin(mag, 1, window-1))
			// Integer quantisation bounds the error.
			assert.InDelta(t, want, mag[bin], 2)
			assert.InDelta(t, 0, snap.NormAvg[c], 1)
			for j, p := range snap.Pitch[c] {
				assert.GreaterOrEqual(t, p, 0.0, "pitch[%d]", j)
			}
		}
	}
	assert.EqualValues(t, 1, first.Seq)
	assert.EqualValues(t, 2, second.Seq)
	assert.InDelta(t, left[0], sink.first[0], 1, "sink sees the raw block")
}

func TestEndToEndOffBinSine(t *testing.T) {
	const (
		window     = 1200
		sampleRate = 48000.0
		amplitude  = 1e6
	)
	// Fractional bins; bin k of an N-point DCT-II sits at k·fs/2N Hz.
	for _, bin := range []float64{37.7, 100.4, 250.3} {
		a, err := Configure(testConfig(1, window))
		require.NoError(t, err)

		tone := utils.SineWave(window, sampleRate, bin*sampleRate/(2*window), amplitude)
		data := pcm.Interleave(a.Ring().Format(), [][]float64{tone})
		require.Equal(t, window, a.Ring().Write(data))

		drain(a)
		snap, err := a.Snapshot()
		require.NoError(t, err)

		mag := snap.Magnitudes[0]
		peak := utils.FindPeakBin(mag, 1, window-1)
		assert.InDelta(t, bin, float64(peak), 1, "peak for bin %.1f", bin)
		assert.Greater(t, mag[peak], amplitude/2, "bin %.1f", bin)
		assert.LessOrEqual(t, mag[peak], amplitude, "bin %.1f", bin)
		require.NoError(t, a.Close())
	}
}

func TestSmoothingAppliesToMagnitudes(t *testing.T) {
	const window = 64
	cfg := testConfig(1, window)
	cfg.Smoothing = true
	a, err := Configure(cfg)
	require.NoError(t, err)
	defer a.Close()

	format := a.Ring().Format()
	tone := pcm.Interleave(format, [][]float64{utils.CosineBasis(window, 8, 1000)})
	silence := pcm.Interleave(format, [][]float64{utils.Constant(window, 0)})

	a.Ring().Write(tone)
	drain(a)
	a.Ring().Write(silence)
	drain(a)

	snap, err := a.Snapshot()
	require.NoError(t, err)
	assert.InDelta(t, 500, snap.Magnitudes[0][8], 1, "average of the tone and silence")
}

func TestSnapshotIntoShapeMismatch(t *testing.T) {
	a, err := Configure(testConfig(2, 64))
	require.NoError(t, err)
	defer a.Close()

	assert.ErrorIs(t, a.SnapshotInto(NewSnapshot(1, 64)), ErrSnapshotShape)
	assert.ErrorIs(t, a.SnapshotInto(NewSnapshot(2, 65)), ErrSnapshotShape)
	assert.NoError(t, a.SnapshotInto(a.NewSnapshot()))
}

func TestConcurrentSnapshotReads(t *testing.T) {
	const window = 256
	a, err := Configure(testConfig(2, window))
	require.NoError(t, err)
	defer a.Close()
	require.NoError(t, a.Start())

	ch := utils.CosineBasis(window, 3, 1e4)
	data := pcm.Interleave(a.Ring().Format(), [][]float64{ch, ch})

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		dst := a.NewSnapshot()
		for {
			select {
			case <-done:
				return
			default:
				if err := a.SnapshotInto(dst); err != nil {
					t.Error(err)
					return
				}
				if dst.Seq > 0 && dst.Magnitudes[0][3] < 9999 {
					t.Errorf("torn snapshot at seq %d", dst.Seq)
					return
				}
			}
		}
	}()

	for range 20 {
		writeAll(a, data)
	}
	require.Eventually(t, func() bool { return a.Seq() == 20 }, 2*time.Second, time.Millisecond)
	close(done)
	wg.Wait()
	require.NoError(t, a.Stop())
}

func TestProcessBlockDoesNotAllocate(t *testing.T) {
	const window = 1200
	cfg := testConfig(2, window)
	cfg.Smoothing = true
	a, err := Configure(cfg)
	require.NoError(t, err)
	defer a.Close()

	ch := utils.CosineBasis(window, 40, 1e5)
	data := pcm.Interleave(a.Ring().Format(), [][]float64{ch, ch})

	allocs := testing.AllocsPerRun(20, func() {
		a.Ring().Write(data)
		drain(a)
	})
	if allocs > 0 {
		t.Errorf("Expected zero allocations per block, got %.1f", allocs)
	}
}

func BenchmarkProcessBlock(b *testing.B) {
	const window = 1200
	a, err := Configure(testConfig(2, window))
	if err != nil {
		b.Fatal(err)
	}
	defer a.Close()
	ch := utils.CosineBasis(window, 40, 1e5)
	data := pcm.Interleave(a.Ring().Format(), [][]float64{ch, ch})
	for b.Loop() {
		a.Ring().Write(data)
		drain(a)
	}
}

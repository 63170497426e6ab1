// SPDX-License-Identifier: MIT
/*
Package analysis turns a stream of interleaved PCM frames into per-channel
spectra and perceptual pitch vectors.

Pipeline (one analysis goroutine per Analyzer):

	ring read -> Accumulator -> SpectralFrame (DCT-II) -> MovingAverage
	          -> PitchMap -> published Snapshot -> BlockSink

Thread Safety:
  - The capture side only touches the Ring returned by Analyzer.Ring.
  - The analysis goroutine is the sole writer of windows, frames and the
    working snapshot.
  - Readers copy the published snapshot under a read lock held for the
    duration of a copy. Seq can be polled without locking.
*/
package analysis

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	applog "pitchscope/internal/log"
	"pitchscope/internal/pcm"
	"pitchscope/internal/ring"
)

const (
	MinWindowSize     = 2
	MaxWindowSize     = MaxSmoothingDimensions
	DefaultWindowSize = 1200
	DefaultBackoff    = time.Millisecond

	// defaultRingBlocks sizes the ring, in windows, when RingFrames is 0.
	defaultRingBlocks = 4
)

// State is the lifecycle state of an Analyzer.
type State int32

const (
	StateUninitialized State = iota
	StateConfigured
	StateRunning
	StateStopping
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateConfigured:
		return "configured"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Config describes one capture session.
type Config struct {
	Format     pcm.Format    // Negotiated capture format.
	WindowSize int           // Frames per analysis block.
	RingFrames int           // Ring capacity in frames; 0 selects 4 windows.
	Smoothing  bool          // Apply the moving average to magnitudes.
	Backoff    time.Duration // Sleep after an empty read; 0 selects 1ms.
}

// Validate checks cfg against the implementation limits.
func (cfg Config) Validate() error {
	if cfg.Format.Encoding.BytesPerSample() == 0 {
		return &ConfigError{Field: "sample format", Value: cfg.Format.Encoding, Reason: "unsupported encoding"}
	}
	if cfg.Format.Channels < 1 || cfg.Format.Channels > pcm.MaxChannels {
		return &ConfigError{Field: "channel count", Value: cfg.Format.Channels,
			Reason: fmt.Sprintf("must be in [1, %d]", pcm.MaxChannels)}
	}
	if cfg.WindowSize < MinWindowSize || cfg.WindowSize > MaxWindowSize {
		return &ConfigError{Field: "window size", Value: cfg.WindowSize,
			Reason: fmt.Sprintf("must be in [%d, %d]", MinWindowSize, MaxWindowSize)}
	}
	if cfg.RingFrames < 0 {
		return &ConfigError{Field: "ring frames", Value: cfg.RingFrames, Reason: "must not be negative"}
	}
	if cfg.RingFrames != 0 && cfg.RingFrames < cfg.WindowSize {
		return &ConfigError{Field: "ring frames", Value: cfg.RingFrames,
			Reason: fmt.Sprintf("must hold at least one window (%d frames)", cfg.WindowSize)}
	}
	if cfg.Backoff < 0 {
		return &ConfigError{Field: "backoff", Value: cfg.Backoff, Reason: "must not be negative"}
	}
	return nil
}

// BlockSink receives every completed block on the analysis goroutine. The
// snapshot is only valid for the duration of the call.
type BlockSink interface {
	WriteBlock(s *Snapshot) error
}

// Observer receives pipeline counters. Implementations must be cheap and
// must not block.
type Observer interface {
	FramesRead(n int)
	EmptyPoll()
	BlockProcessed(elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) FramesRead(int)               {}
func (nopObserver) EmptyPoll()                   {}
func (nopObserver) BlockProcessed(time.Duration) {}

// Option customises an Analyzer at configure time.
type Option func(*Analyzer)

// WithSink registers a sink for completed blocks.
func WithSink(sink BlockSink) Option {
	return func(a *Analyzer) { a.sink = sink }
}

// WithObserver registers pipeline counters.
func WithObserver(o Observer) Option {
	return func(a *Analyzer) {
		if o != nil {
			a.observer = o
		}
	}
}

// Analyzer owns the ring, the per-channel analysis state and the analysis
// goroutine of one capture session.
type Analyzer struct {
	cfg       Config
	ring      *ring.Ring
	acc       *Accumulator
	frames    []*SpectralFrame
	smoothers []*MovingAverage
	pitch     *PitchMap
	work      *Snapshot // Analysis goroutine only.

	mu        sync.RWMutex
	published *Snapshot
	seq       atomic.Uint64

	sink     BlockSink
	observer Observer

	lifecycle sync.Mutex
	state     atomic.Int32
	running   atomic.Bool
	wg        sync.WaitGroup
}

// Configure validates cfg and allocates everything the session needs. On
// error nothing is retained and the returned Analyzer is nil.
func Configure(cfg Config, opts ...Option) (*Analyzer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.RingFrames == 0 {
		cfg.RingFrames = defaultRingBlocks * cfg.WindowSize
	}
	if cfg.Backoff == 0 {
		cfg.Backoff = DefaultBackoff
	}

	rb, err := ring.New(cfg.Format, cfg.RingFrames)
	if err != nil {
		if errors.Is(err, ring.ErrAllocation) {
			return nil, fmt.Errorf("%w: %w", ErrAllocation, err)
		}
		return nil, &ConfigError{Field: "ring frames", Value: cfg.RingFrames, Reason: err.Error()}
	}

	a := &Analyzer{
		cfg:      cfg,
		ring:     rb,
		observer: nopObserver{},
	}
	channels := cfg.Format.Channels
	err = guardAlloc("channel buffers", func() {
		a.acc = NewAccumulator(cfg.Format, cfg.WindowSize)
		a.frames = make([]*SpectralFrame, channels)
		for c := range a.frames {
			a.frames[c] = NewSpectralFrame(cfg.WindowSize)
		}
		a.pitch = NewPitchMap(cfg.WindowSize)
		a.work = NewSnapshot(channels, cfg.WindowSize)
		a.published = NewSnapshot(channels, cfg.WindowSize)
	})
	if err != nil {
		return nil, err
	}
	if cfg.Smoothing {
		a.smoothers = make([]*MovingAverage, channels)
		for c := range a.smoothers {
			if a.smoothers[c], err = NewMovingAverage(cfg.WindowSize); err != nil {
				return nil, err
			}
		}
	}
	for _, opt := range opts {
		opt(a)
	}

	a.state.Store(int32(StateConfigured))
	applog.Infof("Analysis: Configured (Format: %s, Window: %d, Ring: %d frames, Smoothing: %v)",
		cfg.Format, cfg.WindowSize, rb.Capacity(), cfg.Smoothing)
	return a, nil
}

// Config returns the effective configuration.
func (a *Analyzer) Config() Config { return a.cfg }

// Ring returns the write side handed to the capture collaborator, or nil
// after Close. Collaborators keep their own reference.
func (a *Analyzer) Ring() *ring.Ring { return a.ring }

// State returns the current lifecycle state.
func (a *Analyzer) State() State { return State(a.state.Load()) }

// Seq returns the number of completed blocks.
func (a *Analyzer) Seq() uint64 { return a.seq.Load() }

// Start launches the analysis goroutine. Starting a running analyzer is a
// no-op.
func (a *Analyzer) Start() error {
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()

	switch a.State() {
	case StateRunning:
		return nil
	case StateClosed:
		return ErrClosed
	}

	a.running.Store(true)
	a.state.Store(int32(StateRunning))
	a.wg.Add(1)
	go a.run()
	applog.Infof("Analysis: Started (Backoff: %s)", a.cfg.Backoff)
	return nil
}

// Stop clears the running flag and waits for the analysis goroutine to
// return. Stopping an analyzer that is not running is a no-op. A stopped
// analyzer can be started again.
func (a *Analyzer) Stop() error {
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()

	if a.State() != StateRunning {
		return nil
	}

	a.state.Store(int32(StateStopping))
	a.running.Store(false)
	a.wg.Wait()
	a.state.Store(int32(StateConfigured))
	applog.Infof("Analysis: Stopped after %d blocks", a.seq.Load())
	return nil
}

// Close releases all buffers. The analyzer must be stopped first.
func (a *Analyzer) Close() error {
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()

	switch a.State() {
	case StateClosed:
		return nil
	case StateRunning, StateStopping:
		return ErrRunning
	}

	a.mu.Lock()
	a.published = nil
	a.mu.Unlock()
	a.work = nil
	a.smoothers = nil
	a.frames = nil
	a.acc = nil
	a.pitch = nil
	a.ring = nil
	a.state.Store(int32(StateClosed))
	applog.Debugf("Analysis: Closed")
	return nil
}

// NewSnapshot allocates a snapshot shaped for this analyzer, for use with
// SnapshotInto.
func (a *Analyzer) NewSnapshot() *Snapshot {
	return NewSnapshot(a.cfg.Format.Channels, a.cfg.WindowSize)
}

// SnapshotInto copies the last completed block into dst without
// allocating. dst must come from NewSnapshot.
func (a *Analyzer) SnapshotInto(dst *Snapshot) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.published == nil {
		return ErrClosed
	}
	return dst.copyFrom(a.published)
}

// Snapshot returns a copy of the last completed block.
// NOTE: This allocates on every call. Render loops should reuse a buffer
// with SnapshotInto.
func (a *Analyzer) Snapshot() (*Snapshot, error) {
	dst := a.NewSnapshot()
	if err := a.SnapshotInto(dst); err != nil {
		return nil, err
	}
	return dst, nil
}

func (a *Analyzer) run() {
	defer a.wg.Done()
	for a.running.Load() {
		if !a.step() {
			time.Sleep(a.cfg.Backoff)
		}
	}
}

// step performs one read from the ring and processes the block if it
// completes. It reports false when the ring had nothing to read.
func (a *Analyzer) step() bool {
	n, region := a.ring.AcquireRead(a.acc.Remaining())
	if n == 0 {
		a.observer.EmptyPoll()
		return false
	}
	a.acc.Push(region, n)
	_ = a.ring.CommitRead(n)
	a.observer.FramesRead(n)

	if a.acc.Ready() {
		a.processBlock()
		a.acc.Reset()
	}
	return true
}

func (a *Analyzer) processBlock() {
	start := time.Now()
	w := a.work
	for c, frame := range a.frames {
		window := a.acc.Window(c)
		copy(w.TimeData[c], window)
		w.NormAvg[c] = frame.Transform(window)
		if a.smoothers != nil {
			a.smoothers[c].Update(w.Magnitudes[c], frame.Magnitude())
		} else {
			copy(w.Magnitudes[c], frame.Magnitude())
		}
		a.pitch.Apply(w.Pitch[c], w.Magnitudes[c])
	}

	seq := a.seq.Load() + 1
	w.Seq = seq
	a.mu.Lock()
	_ = a.published.copyFrom(w)
	a.mu.Unlock()
	a.seq.Store(seq)

	if a.sink != nil {
		if err := a.sink.WriteBlock(w); err != nil {
			applog.Warnf("Analysis: Block sink failed at block %d: %v", seq, err)
		}
	}
	a.observer.BlockProcessed(time.Since(start))
}

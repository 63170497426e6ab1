// SPDX-License-Identifier: MIT
package audio

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"pitchscope/internal/analysis"
	applog "pitchscope/internal/log"
	"pitchscope/internal/pcm"
)

// ErrRecorderClosed is returned when writing to a closed Recorder.
var ErrRecorderClosed = errors.New("recorder closed")

const wavFormatPCM = 1

// Recorder writes the time data of every analysed block to a WAV file.
// It implements analysis.BlockSink.
type Recorder struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	encoder  *wav.Encoder
	buf      *audio.IntBuffer
	encoding pcm.SampleFormat
	channels int
	frames   uint64
	closed   bool
}

var _ analysis.BlockSink = (*Recorder)(nil)

// BitDepth returns the WAV bit depth used to record f. Float capture is
// stored as 32-bit integer PCM.
func BitDepth(f pcm.SampleFormat) int {
	if f == pcm.FormatS16 {
		return 16
	}
	return 32
}

// NewRecorder creates the file at path, including missing parent
// directories, and prepares a buffer for blocks of windowSize frames.
func NewRecorder(path string, format pcm.Format, sampleRate, windowSize int) (*Recorder, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	if sampleRate <= 0 || windowSize <= 0 {
		return nil, fmt.Errorf("invalid recording shape: rate %d, window %d", sampleRate, windowSize)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create recording directory: %w", err)
		}
	}

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create recording: %w", err)
	}

	r := &Recorder{
		path:     path,
		file:     file,
		encoder:  wav.NewEncoder(file, sampleRate, BitDepth(format.Encoding), format.Channels, wavFormatPCM),
		encoding: format.Encoding,
		channels: format.Channels,
		buf: &audio.IntBuffer{
			Format: &audio.Format{
				NumChannels: format.Channels,
				SampleRate:  sampleRate,
			},
			Data:           make([]int, windowSize*format.Channels),
			SourceBitDepth: BitDepth(format.Encoding),
		},
	}

	applog.Infof("Recording: Writing %s at %d Hz to %s", format, sampleRate, path)
	return r, nil
}

// Path returns the output file path.
func (r *Recorder) Path() string { return r.path }

// Frames returns the number of frames written so far.
func (r *Recorder) Frames() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

// WriteBlock interleaves the block's time data and appends it to the file.
func (r *Recorder) WriteBlock(s *analysis.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRecorderClosed
	}
	if s.Channels() != r.channels {
		return fmt.Errorf("%w: block has %d channels, recorder %d",
			analysis.ErrSnapshotShape, s.Channels(), r.channels)
	}

	size := s.WindowSize()
	if need := size * r.channels; cap(r.buf.Data) < need {
		r.buf.Data = make([]int, need)
	}
	r.buf.Data = r.buf.Data[:size*r.channels]

	for i := 0; i < size; i++ {
		for c := 0; c < r.channels; c++ {
			r.buf.Data[i*r.channels+c] = r.toInt(s.TimeData[c][i])
		}
	}

	if err := r.encoder.Write(r.buf); err != nil {
		return fmt.Errorf("failed to write recording: %w", err)
	}
	r.frames += uint64(size)
	return nil
}

func (r *Recorder) toInt(v float64) int {
	if r.encoding == pcm.FormatF32 {
		v *= math.MaxInt32
	}
	switch BitDepth(r.encoding) {
	case 16:
		v = math.Max(math.MinInt16, math.Min(math.MaxInt16, v))
	default:
		v = math.Max(math.MinInt32, math.Min(math.MaxInt32, v))
	}
	return int(math.Round(v))
}

// Close finalises the WAV header and closes the file. Closing twice is a no-op.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	encErr := r.encoder.Close()
	fileErr := r.file.Close()
	if err := errors.Join(encErr, fileErr); err != nil {
		return fmt.Errorf("failed to close recording: %w", err)
	}

	applog.Infof("Recording: Closed %s (%d frames)", r.path, r.frames)
	return nil
}

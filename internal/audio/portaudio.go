// SPDX-License-Identifier: MIT
package audio

import (
	"fmt"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	applog "pitchscope/internal/log"
	"pitchscope/internal/pcm"
	"pitchscope/internal/ring"
)

// PortAudioConfig selects and tunes a PortAudio input device.
type PortAudioConfig struct {
	DeviceID        int     // Device index, MinDeviceID for the default input.
	SampleRate      float64 // Hz.
	FramesPerBuffer int     // Callback period in frames.
	LowLatency      bool    // Use the device's low input latency.
}

// PortAudioCapture streams a PortAudio input device into a ring in the
// ring's sample format. Initialize must have been called.
type PortAudioCapture struct {
	cfg     PortAudioConfig
	ring    *ring.Ring
	format  pcm.Format
	device  *portaudio.DeviceInfo
	latency time.Duration

	mu     sync.Mutex
	stream *portaudio.Stream
	counters
}

var _ Source = (*PortAudioCapture)(nil)

// NewPortAudioCapture resolves the input device and checks that it can
// deliver the ring's channel count.
func NewPortAudioCapture(cfg PortAudioConfig, r *ring.Ring) (*PortAudioCapture, error) {
	device, err := InputDevice(cfg.DeviceID)
	if err != nil {
		return nil, err
	}
	format := r.Format()
	if device.MaxInputChannels < format.Channels {
		return nil, fmt.Errorf("device %q supports %d input channels, need %d",
			device.Name, device.MaxInputChannels, format.Channels)
	}

	c := &PortAudioCapture{
		cfg:    cfg,
		ring:   r,
		format: format,
		device: device,
	}
	if cfg.LowLatency {
		c.latency = device.DefaultLowInputLatency
	} else {
		c.latency = device.DefaultHighInputLatency
	}
	return c, nil
}

// Device returns the resolved input device.
func (c *PortAudioCapture) Device() *portaudio.DeviceInfo { return c.device }

// Start opens and starts the input stream. Starting a running capture is a
// no-op.
func (c *PortAudioCapture) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream != nil {
		return nil
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Channels: c.format.Channels,
			Device:   c.device,
			Latency:  c.latency,
		},
		Output: portaudio.StreamDeviceParameters{
			Channels: 0, // Input only.
			Device:   nil,
		},
		FramesPerBuffer: c.cfg.FramesPerBuffer,
		SampleRate:      c.cfg.SampleRate,
	}

	stream, err := portaudio.OpenStream(params, c.callback())
	if err != nil {
		return fmt.Errorf("failed to open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("failed to start input stream: %w", err)
	}
	c.stream = stream

	applog.Infof("Capture: PortAudio stream started (Device: %s, Format: %s, Rate: %.0f Hz, Latency: %s)",
		c.device.Name, c.format, c.cfg.SampleRate, c.latency)
	return nil
}

// callback returns the typed stream callback matching the ring format.
func (c *PortAudioCapture) callback() any {
	channels := c.format.Channels
	switch c.format.Encoding {
	case pcm.FormatS16:
		return func(in []int16) {
			c.add(len(in)/channels, writeEncoded(c.ring, in, channels, pcm.EncodeInt16))
		}
	case pcm.FormatF32:
		return func(in []float32) {
			c.add(len(in)/channels, writeEncoded(c.ring, in, channels, pcm.EncodeFloat32))
		}
	default:
		return func(in []int32) {
			c.add(len(in)/channels, writeEncoded(c.ring, in, channels, pcm.EncodeInt32))
		}
	}
}

// Stop stops and closes the stream. Stopping a stopped capture is a no-op.
func (c *PortAudioCapture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream == nil {
		return nil
	}
	stream := c.stream
	c.stream = nil

	if err := stream.Stop(); err != nil {
		stream.Close()
		return fmt.Errorf("failed to stop input stream: %w", err)
	}
	if err := stream.Close(); err != nil {
		return fmt.Errorf("failed to close input stream: %w", err)
	}

	s := c.stats()
	applog.Infof("Capture: PortAudio stream stopped (Captured: %d frames, Dropped: %d)", s.Captured, s.Dropped)
	return nil
}

// Close stops the stream if it is running.
func (c *PortAudioCapture) Close() error {
	return c.Stop()
}

// Stats returns the callback counters.
func (c *PortAudioCapture) Stats() Stats { return c.stats() }

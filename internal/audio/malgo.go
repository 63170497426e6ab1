// SPDX-License-Identifier: MIT
package audio

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"

	"pitchscope/internal/config"
	applog "pitchscope/internal/log"
	"pitchscope/internal/pcm"
	"pitchscope/internal/ring"
)

var (
	// ErrCaptureClosed is returned when starting a closed capture.
	ErrCaptureClosed = errors.New("capture closed")
	// ErrInvalidDevice is returned when a device ID is out of range.
	ErrInvalidDevice = errors.New("invalid device ID")
)

// MalgoConfig selects and tunes a miniaudio capture device.
type MalgoConfig struct {
	DeviceID        int    // Capture device index, config.MinDeviceID for the default.
	OutputDeviceID  int    // Playback device index when monitoring, config.MinDeviceID for the default.
	SampleRate      uint32 // Hz.
	FramesPerBuffer uint32 // Callback period in frames, 0 for the backend default.
	Monitor         bool   // Open a duplex device and copy input to output.
}

// MalgoCapture streams a miniaudio capture or duplex device into a ring.
// Samples arrive already in the ring's format and are copied as bytes.
type MalgoCapture struct {
	cfg    MalgoConfig
	ring   *ring.Ring
	format pcm.Format
	name   string
	output string

	mu      sync.Mutex
	ctx     *malgo.AllocatedContext
	device  *malgo.Device
	running atomic.Bool
	closed  bool
	counters
}

var _ Source = (*MalgoCapture)(nil)

func malgoFormat(f pcm.SampleFormat) (malgo.FormatType, error) {
	switch f {
	case pcm.FormatS16:
		return malgo.FormatS16, nil
	case pcm.FormatS32:
		return malgo.FormatS32, nil
	case pcm.FormatF32:
		return malgo.FormatF32, nil
	}
	return malgo.FormatUnknown, fmt.Errorf("%w: %s", pcm.ErrUnknownFormat, f)
}

// malgoBackends returns the platform backend, or nil to let miniaudio choose.
func malgoBackends() []malgo.Backend {
	switch runtime.GOOS {
	case "linux":
		return []malgo.Backend{malgo.BackendAlsa}
	case "windows":
		return []malgo.Backend{malgo.BackendWasapi}
	case "darwin":
		return []malgo.Backend{malgo.BackendCoreaudio}
	}
	return nil
}

func initMalgoContext() (*malgo.AllocatedContext, error) {
	ctx, err := malgo.InitContext(malgoBackends(), malgo.ContextConfig{}, func(message string) {
		applog.Debugf("Capture: miniaudio: %s", strings.TrimSpace(message))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize miniaudio context: %w", err)
	}
	return ctx, nil
}

// lookupMalgoDevice resolves a device index of the given kind.
func lookupMalgoDevice(ctx *malgo.AllocatedContext, kind malgo.DeviceType, id int) (*malgo.DeviceInfo, error) {
	infos, err := ctx.Devices(kind)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate %s devices: %w", deviceKind(kind), err)
	}
	return selectMalgoDevice(infos, kind, id)
}

func selectMalgoDevice(infos []malgo.DeviceInfo, kind malgo.DeviceType, id int) (*malgo.DeviceInfo, error) {
	if id < 0 || id >= len(infos) {
		return nil, fmt.Errorf("%w: %d (%d %s devices)", ErrInvalidDevice, id, len(infos), deviceKind(kind))
	}
	return &infos[id], nil
}

func deviceKind(kind malgo.DeviceType) string {
	if kind == malgo.Playback {
		return "playback"
	}
	return "capture"
}

func releaseMalgoContext(ctx *malgo.AllocatedContext) {
	if err := ctx.Uninit(); err != nil {
		applog.Warnf("Capture: miniaudio context uninit failed: %v", err)
	}
	ctx.Free()
}

// NewMalgoCapture initialises a miniaudio context and device for the ring's
// format. The device is started by Start.
func NewMalgoCapture(cfg MalgoConfig, r *ring.Ring) (*MalgoCapture, error) {
	format := r.Format()
	sampleFormat, err := malgoFormat(format.Encoding)
	if err != nil {
		return nil, err
	}

	ctx, err := initMalgoContext()
	if err != nil {
		return nil, err
	}

	c := &MalgoCapture{cfg: cfg, ring: r, format: format, ctx: ctx, name: "default", output: "default"}

	kind := malgo.Capture
	if cfg.Monitor {
		kind = malgo.Duplex
	}
	deviceConfig := malgo.DefaultDeviceConfig(kind)
	deviceConfig.Capture.Format = sampleFormat
	deviceConfig.Capture.Channels = uint32(format.Channels)
	deviceConfig.SampleRate = cfg.SampleRate
	deviceConfig.PeriodSizeInFrames = cfg.FramesPerBuffer
	deviceConfig.Alsa.NoMMap = 1
	if cfg.Monitor {
		deviceConfig.Playback.Format = sampleFormat
		deviceConfig.Playback.Channels = uint32(format.Channels)
	}

	if cfg.DeviceID != config.MinDeviceID {
		info, err := lookupMalgoDevice(ctx, malgo.Capture, cfg.DeviceID)
		if err != nil {
			releaseMalgoContext(ctx)
			return nil, err
		}
		deviceConfig.Capture.DeviceID = info.ID.Pointer()
		c.name = info.Name()
	}
	if cfg.Monitor && cfg.OutputDeviceID != config.MinDeviceID {
		info, err := lookupMalgoDevice(ctx, malgo.Playback, cfg.OutputDeviceID)
		if err != nil {
			releaseMalgoContext(ctx)
			return nil, err
		}
		deviceConfig.Playback.DeviceID = info.ID.Pointer()
		c.output = info.Name()
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: c.onData,
		Stop: c.onStop,
	})
	if err != nil {
		releaseMalgoContext(ctx)
		return nil, fmt.Errorf("failed to initialize capture device: %w", err)
	}
	c.device = device
	return c, nil
}

// onData runs on the miniaudio thread.
func (c *MalgoCapture) onData(out, in []byte, frameCount uint32) {
	if c.cfg.Monitor {
		copy(out, in)
	}
	n := min(len(in), int(frameCount)*c.format.BytesPerFrame())
	written := c.ring.Write(in[:n])
	c.add(int(frameCount), written)
}

func (c *MalgoCapture) onStop() {
	if c.running.Load() {
		applog.Warnf("Capture: miniaudio device %s stopped unexpectedly", c.name)
	}
}

// Start starts the device. Starting a running capture is a no-op.
func (c *MalgoCapture) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrCaptureClosed
	}
	if c.running.Load() {
		return nil
	}
	c.running.Store(true)
	if err := c.device.Start(); err != nil {
		c.running.Store(false)
		return fmt.Errorf("failed to start capture device: %w", err)
	}

	if c.cfg.Monitor {
		applog.Infof("Capture: miniaudio duplex started (Device: %s, Output: %s, Format: %s, Rate: %d Hz)",
			c.name, c.output, c.format, c.device.SampleRate())
	} else {
		applog.Infof("Capture: miniaudio capture started (Device: %s, Format: %s, Rate: %d Hz)",
			c.name, c.format, c.device.SampleRate())
	}
	return nil
}

// Stop stops the device. Stopping a stopped capture is a no-op.
func (c *MalgoCapture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopLocked()
}

func (c *MalgoCapture) stopLocked() error {
	if !c.running.Load() {
		return nil
	}
	c.running.Store(false)
	if err := c.device.Stop(); err != nil {
		return fmt.Errorf("failed to stop capture device: %w", err)
	}

	s := c.stats()
	applog.Infof("Capture: miniaudio stopped (Captured: %d frames, Dropped: %d)", s.Captured, s.Dropped)
	return nil
}

// Close stops the device and releases the device and context.
func (c *MalgoCapture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	err := c.stopLocked()
	c.closed = true
	c.device.Uninit()
	releaseMalgoContext(c.ctx)
	return err
}

// Stats returns the callback counters.
func (c *MalgoCapture) Stats() Stats { return c.stats() }

// ListMalgoDevices lists miniaudio capture devices followed by playback
// devices. IDs are indexes within each kind.
func ListMalgoDevices() ([]Device, error) {
	ctx, err := initMalgoContext()
	if err != nil {
		return nil, err
	}
	defer releaseMalgoContext(ctx)

	var devices []Device
	for _, kind := range []malgo.DeviceType{malgo.Capture, malgo.Playback} {
		infos, err := ctx.Devices(kind)
		if err != nil {
			return nil, fmt.Errorf("failed to enumerate %s devices: %w", deviceKind(kind), err)
		}
		for i, info := range infos {
			d := Device{
				Backend:   BackendMalgo,
				ID:        i,
				Name:      info.Name(),
				IsDefault: info.IsDefault != 0,
			}
			if full, err := ctx.DeviceInfo(kind, info.ID, malgo.Shared); err == nil {
				channels := 0
				for _, f := range full.Formats {
					channels = max(channels, int(f.Channels))
					d.DefaultSampleRate = max(d.DefaultSampleRate, float64(f.SampleRate))
				}
				if kind == malgo.Playback {
					d.MaxOutputChannels = channels
				} else {
					d.MaxInputChannels = channels
				}
			}
			devices = append(devices, d)
		}
	}
	return devices, nil
}

// SPDX-License-Identifier: MIT
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"pitchscope/internal/analysis"
	applog "pitchscope/internal/log"
	"pitchscope/internal/pcm"
)

// defaultPaths are searched in order when LoadConfig is given no path.
var defaultPaths = []string{
	"config.yaml",
}

// LoadConfig loads configuration from a YAML file specified by path. If path
// is empty, it searches defaultPaths and falls back to built-in defaults.
// Environment overrides are applied after the file, then the result is
// validated.
func LoadConfig(path string) (*Config, error) {
	cfg := NewConfig()

	if path == "" {
		for _, candidate := range defaultPaths {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
		applog.Debugf("Config: Loaded %s", path)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks every section and joins all problems into one error.
func (c *Config) Validate() error {
	var errs []error

	if _, ok := applog.ParseLevel(c.LogLevel); !ok {
		errs = append(errs, fmt.Errorf("log_level %q is not a known level", c.LogLevel))
	}

	switch c.Audio.Backend {
	case BackendPortAudio, BackendMalgo:
	default:
		errs = append(errs, fmt.Errorf("audio.backend %q must be %q or %q", c.Audio.Backend, BackendPortAudio, BackendMalgo))
	}
	if c.Audio.InputDevice < MinDeviceID {
		errs = append(errs, fmt.Errorf("audio.input_device %d must be >= %d", c.Audio.InputDevice, MinDeviceID))
	}
	if c.Audio.OutputDevice < MinDeviceID {
		errs = append(errs, fmt.Errorf("audio.output_device %d must be >= %d", c.Audio.OutputDevice, MinDeviceID))
	}
	if c.Audio.SampleRate < MinSampleRate || c.Audio.SampleRate > MaxSampleRate {
		errs = append(errs, fmt.Errorf("audio.sample_rate %.0f must be in [%d, %d]", c.Audio.SampleRate, MinSampleRate, MaxSampleRate))
	}
	if c.Audio.FramesPerBuffer < 1 || c.Audio.FramesPerBuffer > MaxBufferFrames {
		errs = append(errs, fmt.Errorf("audio.frames_per_buffer %d must be in [1, %d]", c.Audio.FramesPerBuffer, MaxBufferFrames))
	}
	if _, err := c.CaptureFormat(); err != nil {
		errs = append(errs, err)
	}

	if c.Analysis.WindowSize < analysis.MinWindowSize || c.Analysis.WindowSize > analysis.MaxWindowSize {
		errs = append(errs, fmt.Errorf("analysis.window_size %d must be in [%d, %d]",
			c.Analysis.WindowSize, analysis.MinWindowSize, analysis.MaxWindowSize))
	}
	if c.Analysis.RingFrames < 0 {
		errs = append(errs, fmt.Errorf("analysis.ring_frames %d must not be negative", c.Analysis.RingFrames))
	}
	if c.Analysis.PollBackoff < 0 {
		errs = append(errs, fmt.Errorf("analysis.poll_backoff %s must not be negative", c.Analysis.PollBackoff))
	}

	if c.Recording.Enabled && c.Recording.OutputDir == "" && c.Recording.Filename == "" {
		errs = append(errs, errors.New("recording.output_dir or recording.filename must be set when recording is enabled"))
	}

	t := c.Transport
	if t.UDPEnabled {
		if !strings.Contains(t.UDPTargetAddress, ":") {
			errs = append(errs, fmt.Errorf("transport.udp_target_address %q appears invalid (missing port?)", t.UDPTargetAddress))
		}
		if t.UDPSendInterval <= 0 {
			errs = append(errs, errors.New("transport.udp_send_interval must be positive when UDP is enabled"))
		}
	}
	if t.WebSocketEnabled {
		if !strings.Contains(t.WebSocketAddress, ":") {
			errs = append(errs, fmt.Errorf("transport.websocket_address %q appears invalid (missing port?)", t.WebSocketAddress))
		}
		if t.WebSocketInterval <= 0 {
			errs = append(errs, errors.New("transport.websocket_interval must be positive when WebSocket is enabled"))
		}
	}
	if t.MetricsEnabled && !strings.Contains(t.MetricsAddress, ":") {
		errs = append(errs, fmt.Errorf("transport.metrics_address %q appears invalid (missing port?)", t.MetricsAddress))
	}

	return errors.Join(errs...)
}

// CaptureFormat returns the PCM format described by the audio section.
func (c *Config) CaptureFormat() (pcm.Format, error) {
	enc, err := pcm.ParseSampleFormat(c.Audio.SampleFormat)
	if err != nil {
		return pcm.Format{}, fmt.Errorf("audio.sample_format: %w", err)
	}
	f := pcm.Format{Encoding: enc, Channels: c.Audio.InputChannels}
	if err := f.Validate(); err != nil {
		return pcm.Format{}, fmt.Errorf("audio.input_channels: %w", err)
	}
	return f, nil
}

// AnalysisConfig builds the analyzer configuration.
func (c *Config) AnalysisConfig() (analysis.Config, error) {
	format, err := c.CaptureFormat()
	if err != nil {
		return analysis.Config{}, err
	}
	return analysis.Config{
		Format:     format,
		WindowSize: c.Analysis.WindowSize,
		RingFrames: c.Analysis.RingFrames,
		Smoothing:  c.Analysis.Smoothing,
		Backoff:    c.Analysis.PollBackoff,
	}, nil
}

// RecordingPath returns the WAV file path for a recording started at now.
func (c *Config) RecordingPath(now time.Time) string {
	name := c.Recording.Filename
	if name == "" {
		name = "recording-" + now.UTC().Format("02-01-2006-150405") + ".wav"
	}
	if filepath.IsAbs(name) || c.Recording.OutputDir == "" {
		return name
	}
	return filepath.Join(c.Recording.OutputDir, name)
}

// applyEnvOverrides applies ENV_* variables on top of file values.
// Unparseable values are logged and ignored.
func (c *Config) applyEnvOverrides() {
	envBool("ENV_DEBUG", "debug", &c.Debug)
	envString("ENV_LOG_LEVEL", "log_level", &c.LogLevel)
	envString("ENV_LOG_FILE", "log_file", &c.LogFile)

	envString("ENV_AUDIO_BACKEND", "audio.backend", &c.Audio.Backend)
	envInt("ENV_INPUT_DEVICE", "audio.input_device", &c.Audio.InputDevice)
	envInt("ENV_OUTPUT_DEVICE", "audio.output_device", &c.Audio.OutputDevice)
	envString("ENV_SAMPLE_FORMAT", "audio.sample_format", &c.Audio.SampleFormat)
	envInt("ENV_WINDOW_SIZE", "analysis.window_size", &c.Analysis.WindowSize)
	envBool("ENV_SMOOTHING", "analysis.smoothing", &c.Analysis.Smoothing)

	envBool("ENV_UDP_ENABLED", "transport.udp_enabled", &c.Transport.UDPEnabled)
	envString("ENV_UDP_TARGET_ADDRESS", "transport.udp_target_address", &c.Transport.UDPTargetAddress)
	envDuration("ENV_UDP_SEND_INTERVAL", "transport.udp_send_interval", &c.Transport.UDPSendInterval)
	envBool("ENV_WS_ENABLED", "transport.websocket_enabled", &c.Transport.WebSocketEnabled)
	envString("ENV_WS_ADDRESS", "transport.websocket_address", &c.Transport.WebSocketAddress)
	envBool("ENV_METRICS_ENABLED", "transport.metrics_enabled", &c.Transport.MetricsEnabled)
	envString("ENV_METRICS_ADDRESS", "transport.metrics_address", &c.Transport.MetricsAddress)
}

func envString(key, field string, dst *string) {
	if val, ok := os.LookupEnv(key); ok {
		*dst = val
		applog.Infof("Config: Overriding %s from env: %s", field, val)
	}
}

func envBool(key, field string, dst *bool) {
	val, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		applog.Warnf("Config: Ignoring %s=%q: %v", key, val, err)
		return
	}
	*dst = b
	applog.Infof("Config: Overriding %s from env: %v", field, b)
}

func envInt(key, field string, dst *int) {
	val, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		applog.Warnf("Config: Ignoring %s=%q: %v", key, val, err)
		return
	}
	*dst = n
	applog.Infof("Config: Overriding %s from env: %d", field, n)
}

func envDuration(key, field string, dst *time.Duration) {
	val, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		applog.Warnf("Config: Ignoring %s=%q: %v", key, val, err)
		return
	}
	*dst = d
	applog.Infof("Config: Overriding %s from env: %s", field, d)
}

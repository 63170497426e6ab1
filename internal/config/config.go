// SPDX-License-Identifier: MIT
package config

import "time"

// Defaults and limits for a capture session. The analysis defaults mirror a
// stereo 1200-frame window, which at 48 kHz refreshes the spectrum 40 times
// per second.
const (
	DefaultBackend         = BackendPortAudio
	DefaultDeviceID        = MinDeviceID
	DefaultSampleRate      = 48000
	DefaultFramesPerBuffer = 512
	DefaultLowLatency      = false
	DefaultChannels        = 2
	DefaultSampleFormat    = "s32"
	DefaultMonitor         = false

	DefaultWindowSize  = 1200
	DefaultRingFrames  = 0 // Four windows.
	DefaultSmoothing   = true
	DefaultPollBackoff = time.Millisecond

	DefaultRecordInputStream = false
	DefaultOutputDir         = "./recordings"
	DefaultOutputFile        = "" // Auto-generated filename.

	DefaultUDPTargetAddress  = "127.0.0.1:9090"
	DefaultUDPSendInterval   = 33 * time.Millisecond // ~30Hz.
	DefaultWebSocketAddress  = ":8080"
	DefaultWebSocketInterval = 33 * time.Millisecond
	DefaultMetricsAddress    = ":9100"

	DefaultLogLevel  = "info"
	DefaultVerbosity = false

	// Hardware and processing limits.
	MinDeviceID     = -1 // -1 represents the system default device.
	MinSampleRate   = 8000
	MaxSampleRate   = 192000
	MaxBufferFrames = 8192
)

const (
	BackendPortAudio = "portaudio"
	BackendMalgo     = "malgo"
)

// Config represents the main application configuration structure, loaded
// from YAML and then overridden by environment variables and flags.
type Config struct {
	Debug     bool            `yaml:"debug"`             // Verbose logging.
	LogLevel  string          `yaml:"log_level"`         // "debug", "info", "warn" or "error".
	LogFile   string          `yaml:"log_file"`          // Rotating log file; empty logs to stderr.
	Command   string          `yaml:"command,omitempty"` // One-off command instead of running ("list").
	Audio     AudioConfig     `yaml:"audio"`
	Analysis  AnalysisConfig  `yaml:"analysis"`
	Recording RecordingConfig `yaml:"recording"`
	Transport TransportConfig `yaml:"transport"`
}

// AudioConfig holds capture device settings.
type AudioConfig struct {
	Backend         string  `yaml:"backend"`           // "portaudio" or "malgo".
	InputDevice     int     `yaml:"input_device"`      // Device index, -1 for the default device.
	OutputDevice    int     `yaml:"output_device"`     // Monitor playback device index, -1 for the default (malgo).
	SampleRate      float64 `yaml:"sample_rate"`       // Hz.
	FramesPerBuffer int     `yaml:"frames_per_buffer"` // Device callback period.
	LowLatency      bool    `yaml:"low_latency"`       // Request the device's low input latency.
	InputChannels   int     `yaml:"input_channels"`    // 1 for mono, 2 for stereo.
	SampleFormat    string  `yaml:"sample_format"`     // "s16", "s32" or "f32".
	Monitor         bool    `yaml:"monitor"`           // Duplex pass-through of input to output (malgo).
}

// AnalysisConfig holds block analysis settings.
type AnalysisConfig struct {
	WindowSize  int           `yaml:"window_size"`  // Frames per block.
	RingFrames  int           `yaml:"ring_frames"`  // Ring capacity; 0 selects four windows.
	Smoothing   bool          `yaml:"smoothing"`    // Moving average over the last 5 spectra.
	PollBackoff time.Duration `yaml:"poll_backoff"` // Sleep when the ring is empty.
}

// RecordingConfig holds settings for writing analysed blocks to WAV.
type RecordingConfig struct {
	Enabled   bool   `yaml:"enabled"`
	OutputDir string `yaml:"output_dir"`
	Filename  string `yaml:"filename"` // Empty generates recording-DD-MM-YYYY-HHMMSS.wav.
}

// TransportConfig holds settings for publishing snapshots.
type TransportConfig struct {
	UDPEnabled        bool          `yaml:"udp_enabled"`
	UDPTargetAddress  string        `yaml:"udp_target_address"`
	UDPSendInterval   time.Duration `yaml:"udp_send_interval"`
	WebSocketEnabled  bool          `yaml:"websocket_enabled"`
	WebSocketAddress  string        `yaml:"websocket_address"`
	WebSocketInterval time.Duration `yaml:"websocket_interval"`
	MetricsEnabled    bool          `yaml:"metrics_enabled"`
	MetricsAddress    string        `yaml:"metrics_address"`
}

// NewConfig returns a Config populated with defaults.
func NewConfig() *Config {
	return &Config{
		LogLevel: DefaultLogLevel,
		Audio: AudioConfig{
			Backend:         DefaultBackend,
			InputDevice:     DefaultDeviceID,
			OutputDevice:    DefaultDeviceID,
			SampleRate:      DefaultSampleRate,
			FramesPerBuffer: DefaultFramesPerBuffer,
			LowLatency:      DefaultLowLatency,
			InputChannels:   DefaultChannels,
			SampleFormat:    DefaultSampleFormat,
			Monitor:         DefaultMonitor,
		},
		Analysis: AnalysisConfig{
			WindowSize:  DefaultWindowSize,
			RingFrames:  DefaultRingFrames,
			Smoothing:   DefaultSmoothing,
			PollBackoff: DefaultPollBackoff,
		},
		Recording: RecordingConfig{
			Enabled:   DefaultRecordInputStream,
			OutputDir: DefaultOutputDir,
			Filename:  DefaultOutputFile,
		},
		Transport: TransportConfig{
			UDPTargetAddress:  DefaultUDPTargetAddress,
			UDPSendInterval:   DefaultUDPSendInterval,
			WebSocketAddress:  DefaultWebSocketAddress,
			WebSocketInterval: DefaultWebSocketInterval,
			MetricsAddress:    DefaultMetricsAddress,
		},
	}
}

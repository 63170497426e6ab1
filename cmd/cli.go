// SPDX-License-Identifier: MIT
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"pitchscope/internal/config"
	"pitchscope/pkg/build"
)

// CommandList prints the capture devices of every backend and exits.
const CommandList = "list"

// flagValues receives command-line values before they are merged over the
// loaded configuration. Only flags the user set are applied.
type flagValues struct {
	configPath      string
	backend         string
	deviceID        int
	outputDeviceID  int
	channels        int
	sampleRate      float64
	framesPerBuffer int
	lowLatency      bool
	sampleFormat    string
	monitor         bool
	windowSize      int
	smoothing       bool
	record          bool
	output          string
	udp             bool
	websocket       bool
	metrics         bool
	logLevel        string
	logFile         string
	verbose         bool
}

// ParseArgs parses args (without the program name), loads the configuration
// file and applies flags over it. It returns a nil Config and nil error when
// help or version output was requested and there is nothing to run.
func ParseArgs(args []string) (*config.Config, error) {
	buildInfo := build.GetBuildFlags()
	v := flagValues{}
	command := ""
	ran := false

	rootCmd := &cobra.Command{
		Use:           buildInfo.Name,
		Short:         buildInfo.Description,
		Version:       buildInfo.String(),
		SilenceErrors: true,
		SilenceUsage:  true,
		Args:          cobra.NoArgs,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableDescriptions: true,
			DisableNoDescFlag:   true,
			HiddenDefaultCmd:    true,
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ran = true
			return nil
		},
	}

	// Display help message
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	// List command
	listCmd := &cobra.Command{
		Use:   CommandList,
		Short: "List available audio devices",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			ran = true
			command = CommandList
		},
	}
	rootCmd.AddCommand(listCmd)

	flags := rootCmd.PersistentFlags()

	flags.StringVar(&v.configPath, "config", "",
		"Path to a YAML configuration file (default: ./config.yaml if present)")

	// Audio Device Configuration
	flags.StringVar(&v.backend, "backend", config.DefaultBackend,
		"Capture backend: portaudio or malgo")
	flags.IntVarP(&v.deviceID, "device", "d", config.DefaultDeviceID,
		"Specify input device ID. Use 'list' command to see available devices.")
	flags.IntVar(&v.outputDeviceID, "output-device", config.DefaultDeviceID,
		"Specify monitor output device ID (malgo backend)")
	flags.IntVarP(&v.channels, "channels", "c", config.DefaultChannels,
		"Number of channels to capture (1=mono, 2=stereo)")
	flags.Float64VarP(&v.sampleRate, "sample-rate", "s", config.DefaultSampleRate,
		"Sample rate, measured in Hertz (Hz)")
	flags.IntVarP(&v.framesPerBuffer, "frames-per-buffer", "b", config.DefaultFramesPerBuffer,
		"The number of frames per device buffer (affects latency)")
	flags.BoolVarP(&v.lowLatency, "low-latency", "l", config.DefaultLowLatency,
		"Use the device's low input latency")
	flags.StringVarP(&v.sampleFormat, "sample-format", "f", config.DefaultSampleFormat,
		"Capture sample format: s16, s32 or f32")
	flags.BoolVarP(&v.monitor, "monitor", "m", config.DefaultMonitor,
		"Play captured input back through the output device (malgo backend)")

	// Analysis Configuration
	flags.IntVarP(&v.windowSize, "window-size", "w", config.DefaultWindowSize,
		"Frames per analysis block")
	flags.BoolVar(&v.smoothing, "smoothing", config.DefaultSmoothing,
		"Smooth spectra with a moving average over the last 5 blocks")

	// Recording Configuration
	flags.BoolVarP(&v.record, "record", "r", config.DefaultRecordInputStream,
		"Record analysed audio to a WAV file")
	flags.StringVarP(&v.output, "output", "o", config.DefaultOutputFile,
		"Output file name. Default is recording-DD-MM-YYYY-HHMMSS.wav")

	// Transports
	flags.BoolVar(&v.udp, "udp", false, "Publish pitch frames over UDP")
	flags.BoolVar(&v.websocket, "websocket", false, "Serve pitch frames over WebSocket")
	flags.BoolVar(&v.metrics, "metrics", false, "Serve Prometheus metrics")

	// Logging Configuration
	flags.StringVar(&v.logLevel, "log-level", config.DefaultLogLevel,
		"Log level: debug, info, warn or error")
	flags.StringVar(&v.logFile, "log-file", "", "Write logs to a rotating file")
	flags.BoolVarP(&v.verbose, "verbose", "v", config.DefaultVerbosity,
		"Show verbose output")

	// A nil slice makes cobra fall back to os.Args.
	rootCmd.SetArgs(append([]string{}, args...))
	if err := rootCmd.Execute(); err != nil {
		return nil, err
	}
	if !ran {
		return nil, nil
	}

	cfg, err := config.LoadConfig(v.configPath)
	if err != nil {
		return nil, err
	}
	cfg.Command = command
	applyFlags(cfg, flags, &v)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	return cfg, nil
}

// applyFlags copies every flag the user set into cfg.
func applyFlags(cfg *config.Config, flags *pflag.FlagSet, v *flagValues) {
	set := func(name string, apply func()) {
		if flags.Changed(name) {
			apply()
		}
	}

	set("backend", func() { cfg.Audio.Backend = v.backend })
	set("device", func() { cfg.Audio.InputDevice = v.deviceID })
	set("output-device", func() { cfg.Audio.OutputDevice = v.outputDeviceID })
	set("channels", func() { cfg.Audio.InputChannels = v.channels })
	set("sample-rate", func() { cfg.Audio.SampleRate = v.sampleRate })
	set("frames-per-buffer", func() { cfg.Audio.FramesPerBuffer = v.framesPerBuffer })
	set("low-latency", func() { cfg.Audio.LowLatency = v.lowLatency })
	set("sample-format", func() { cfg.Audio.SampleFormat = v.sampleFormat })
	set("monitor", func() { cfg.Audio.Monitor = v.monitor })

	set("window-size", func() { cfg.Analysis.WindowSize = v.windowSize })
	set("smoothing", func() { cfg.Analysis.Smoothing = v.smoothing })

	set("record", func() { cfg.Recording.Enabled = v.record })
	set("output", func() { cfg.Recording.Filename = v.output })

	set("udp", func() { cfg.Transport.UDPEnabled = v.udp })
	set("websocket", func() { cfg.Transport.WebSocketEnabled = v.websocket })
	set("metrics", func() { cfg.Transport.MetricsEnabled = v.metrics })

	set("log-level", func() { cfg.LogLevel = v.logLevel })
	set("log-file", func() { cfg.LogFile = v.logFile })
	set("verbose", func() {
		cfg.Debug = v.verbose
		if v.verbose {
			cfg.LogLevel = "debug"
		}
	})
}

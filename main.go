// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"pitchscope/cmd"
	"pitchscope/internal/analysis"
	"pitchscope/internal/audio"
	"pitchscope/internal/config"
	applog "pitchscope/internal/log"
	"pitchscope/internal/metrics"
	"pitchscope/internal/ring"
	"pitchscope/internal/transport"
	"pitchscope/internal/transport/udp"
	"pitchscope/pkg/build"
)

// main is the entry point for the pitch analyser.
// The program flow is divided into three distinct phases:
//
// 1. Startup Phase (Cold Path):
//   - Initialize build information
//   - Parse command line arguments and configuration
//   - Execute one-off commands if requested
//   - Configure the analyzer, capture source, sinks and transports
//
// 2. Concurrent Phase (Hot Path):
//   - Device callback writes frames into the ring
//   - Analysis goroutine turns full windows into snapshots
//   - Publishers forward new snapshots to their transports
//
// 3. Shutdown Phase (Cold Path):
//   - Handle termination signals
//   - Stop and release components in reverse start order
func main() {
	// ==================== STARTUP PHASE (Cold Path) ====================

	if err := build.Initialize(); err != nil {
		applog.Fatalf("%v", err)
	}

	cfg, err := cmd.ParseArgs(os.Args[1:])
	if err != nil {
		applog.Fatalf("%v", err)
	}
	if cfg == nil {
		return // Help or version output only.
	}

	if err := configureLogging(cfg); err != nil {
		applog.Fatalf("%v", err)
	}
	defer applog.Close()

	if cfg.Command != "" {
		if err := executeCommand(cfg.Command); err != nil {
			applog.Fatalf("%v", err)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		applog.Errorf("%v", err)
		applog.Close()
		os.Exit(1)
	}
}

func configureLogging(cfg *config.Config) error {
	level, ok := applog.ParseLevel(cfg.LogLevel)
	if !ok {
		return fmt.Errorf("unknown log level %q", cfg.LogLevel)
	}
	if cfg.Debug {
		level = applog.LevelDebug
	}
	applog.SetLevel(level)

	if cfg.LogFile != "" {
		return applog.OpenFile(cfg.LogFile, applog.FileOptions{
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
			Stderr:     cfg.Debug,
		})
	}
	return nil
}

// shutdown runs cleanup steps in reverse registration order.
type shutdown struct {
	steps []namedStep
}

type namedStep struct {
	name string
	fn   func() error
}

func (s *shutdown) add(name string, fn func() error) {
	s.steps = append(s.steps, namedStep{name, fn})
}

func (s *shutdown) run() error {
	var errs []error
	for i := len(s.steps) - 1; i >= 0; i-- {
		step := s.steps[i]
		if err := step.fn(); err != nil {
			applog.Errorf("Shutdown: %s: %v", step.name, err)
			errs = append(errs, fmt.Errorf("%s: %w", step.name, err))
		}
	}
	s.steps = nil
	return errors.Join(errs...)
}

func run(ctx context.Context, cfg *config.Config) (err error) {
	var down shutdown
	defer func() {
		err = errors.Join(err, down.run())
	}()

	acfg, err := cfg.AnalysisConfig()
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.New(registry)
	if err != nil {
		return fmt.Errorf("failed to create metrics: %w", err)
	}

	opts := []analysis.Option{analysis.WithObserver(m)}

	var recorder *audio.Recorder
	if cfg.Recording.Enabled {
		recorder, err = audio.NewRecorder(cfg.RecordingPath(time.Now()), acfg.Format,
			int(cfg.Audio.SampleRate), acfg.WindowSize)
		if err != nil {
			return err
		}
		down.add("recorder", func() error {
			if err := recorder.Close(); err != nil {
				return err
			}
			fmt.Printf("\nRecording saved to: %s\n", recorder.Path())
			return nil
		})
		opts = append(opts, analysis.WithSink(recorder))
	}

	analyzer, err := analysis.Configure(acfg, opts...)
	if err != nil {
		return err
	}
	down.add("analyzer", analyzer.Close)

	if err := m.RegisterRing(analyzer.Ring()); err != nil {
		return fmt.Errorf("failed to register ring metrics: %w", err)
	}

	source, err := newSource(cfg, analyzer.Ring(), &down)
	if err != nil {
		return err
	}
	down.add("capture", source.Close)

	err = m.RegisterCaptureCounters(cfg.Audio.Backend,
		func() uint64 { return source.Stats().Captured },
		func() uint64 { return source.Stats().Dropped })
	if err != nil {
		return fmt.Errorf("failed to register capture metrics: %w", err)
	}

	if cfg.Transport.MetricsEnabled {
		srv, err := metrics.Serve(cfg.Transport.MetricsAddress, m)
		if err != nil {
			return fmt.Errorf("failed to serve metrics: %w", err)
		}
		down.add("metrics server", srv.Close)
	}

	if err := startTransports(cfg, analyzer, &down); err != nil {
		return err
	}

	// ==================== CONCURRENT PHASE (Hot Path) ====================

	if err := analyzer.Start(); err != nil {
		return err
	}
	down.add("analysis", analyzer.Stop)

	// CRITICAL: Start of real-time audio processing. From here the device
	// callback writes into the ring.
	if err := source.Start(); err != nil {
		return err
	}
	down.add("capture stream", source.Stop)

	applog.Infof("Running: %s, window %d frames, smoothing %v. Press Ctrl+C to stop.",
		acfg.Format, acfg.WindowSize, acfg.Smoothing)

	<-ctx.Done()

	// ==================== SHUTDOWN PHASE (Cold Path) ====================

	applog.Infof("Shutting down after %d blocks", analyzer.Seq())
	return nil
}

// newSource opens the configured capture backend on r.
func newSource(cfg *config.Config, r *ring.Ring, down *shutdown) (audio.Source, error) {
	switch cfg.Audio.Backend {
	case config.BackendMalgo:
		return audio.NewMalgoCapture(audio.MalgoConfig{
			DeviceID:        cfg.Audio.InputDevice,
			OutputDeviceID:  cfg.Audio.OutputDevice,
			SampleRate:      uint32(cfg.Audio.SampleRate),
			FramesPerBuffer: uint32(cfg.Audio.FramesPerBuffer),
			Monitor:         cfg.Audio.Monitor,
		}, r)
	default:
		if cfg.Audio.Monitor {
			applog.Warnf("Capture: Monitoring requires the %s backend, ignoring", config.BackendMalgo)
		}
		if err := audio.Initialize(); err != nil {
			return nil, err
		}
		down.add("portaudio", audio.Terminate)
		return audio.NewPortAudioCapture(audio.PortAudioConfig{
			DeviceID:        cfg.Audio.InputDevice,
			SampleRate:      cfg.Audio.SampleRate,
			FramesPerBuffer: cfg.Audio.FramesPerBuffer,
			LowLatency:      cfg.Audio.LowLatency,
		}, r)
	}
}

// startTransports starts a publisher for every enabled transport. With none
// enabled, debug runs log frames instead.
func startTransports(cfg *config.Config, source transport.SnapshotSource, down *shutdown) error {
	t := cfg.Transport

	if t.UDPEnabled {
		sender, err := udp.NewUDPSender(t.UDPTargetAddress)
		if err != nil {
			return err
		}
		down.add("udp sender", sender.Close)

		pub, err := udp.NewUDPPublisher(t.UDPSendInterval, sender, source)
		if err != nil {
			return err
		}
		pub.Start()
		down.add("udp publisher", pub.Stop)
	}

	if t.WebSocketEnabled {
		wst, err := transport.NewWebSocketTransport(t.WebSocketAddress)
		if err != nil {
			return err
		}
		down.add("websocket", wst.Close)
		if err := startPublisher(t.WebSocketInterval, source, wst, down); err != nil {
			return err
		}
	}

	if !t.UDPEnabled && !t.WebSocketEnabled && cfg.Debug {
		lt := transport.NewLoggingTransport()
		down.add("logging transport", lt.Close)
		return startPublisher(t.WebSocketInterval, source, lt, down)
	}
	return nil
}

func startPublisher(interval time.Duration, source transport.SnapshotSource, t transport.Transport, down *shutdown) error {
	pub, err := transport.NewPublisher(interval, source, t)
	if err != nil {
		return err
	}
	pub.Start()
	down.add("publisher", pub.Stop)
	return nil
}

// executeCommand handles one-off commands that don't require the analyzer
// to be running, such as listing available audio devices.
func executeCommand(command string) error {
	switch command {
	case cmd.CommandList:
		return listDevices()
	}
	return fmt.Errorf("unknown command %q", command)
}

func listDevices() error {
	if err := audio.Initialize(); err != nil {
		return err
	}
	defer audio.Terminate()

	var errs []error
	devices, err := audio.HostDevices()
	if err != nil {
		errs = append(errs, fmt.Errorf("portaudio: %w", err))
	}
	malgoDevices, err := audio.ListMalgoDevices()
	if err != nil {
		errs = append(errs, fmt.Errorf("malgo: %w", err))
	}
	devices = append(devices, malgoDevices...)

	audio.ListDevices(os.Stdout, devices)
	return errors.Join(errs...)
}

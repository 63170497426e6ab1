// SPDX-License-Identifier: MIT
package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pitchscope/internal/config"
)

// isolate runs the test in an empty directory so no config.yaml is found.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

func TestParseArgsDefaults(t *testing.T) {
	isolate(t)

	cfg, err := ParseArgs(nil)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "", cfg.Command)
	assert.Equal(t, config.DefaultBackend, cfg.Audio.Backend)
	assert.Equal(t, config.DefaultDeviceID, cfg.Audio.InputDevice)
	assert.Equal(t, config.DefaultDeviceID, cfg.Audio.OutputDevice)
	assert.Equal(t, config.DefaultChannels, cfg.Audio.InputChannels)
	assert.Equal(t, config.DefaultWindowSize, cfg.Analysis.WindowSize)
	assert.True(t, cfg.Analysis.Smoothing)
	assert.False(t, cfg.Recording.Enabled)
}

func TestParseArgsListCommand(t *testing.T) {
	isolate(t)

	cfg, err := ParseArgs([]string{"list"})
	require.NoError(t, err)
	assert.Equal(t, CommandList, cfg.Command)
}

func TestParseArgsFlags(t *testing.T) {
	isolate(t)

	cfg, err := ParseArgs([]string{
		"--backend", "malgo",
		"-d", "3",
		"--output-device", "1",
		"-c", "1",
		"-s", "44100",
		"-f", "f32",
		"-w", "2048",
		"--smoothing=false",
		"-m",
		"-r", "-o", "take.wav",
		"--udp", "--websocket", "--metrics",
		"-v",
	})
	require.NoError(t, err)

	assert.Equal(t, config.BackendMalgo, cfg.Audio.Backend)
	assert.Equal(t, 3, cfg.Audio.InputDevice)
	assert.Equal(t, 1, cfg.Audio.OutputDevice)
	assert.Equal(t, 1, cfg.Audio.InputChannels)
	assert.Equal(t, 44100.0, cfg.Audio.SampleRate)
	assert.Equal(t, "f32", cfg.Audio.SampleFormat)
	assert.True(t, cfg.Audio.Monitor)
	assert.Equal(t, 2048, cfg.Analysis.WindowSize)
	assert.False(t, cfg.Analysis.Smoothing)
	assert.True(t, cfg.Recording.Enabled)
	assert.Equal(t, "take.wav", cfg.Recording.Filename)
	assert.True(t, cfg.Transport.UDPEnabled)
	assert.True(t, cfg.Transport.WebSocketEnabled)
	assert.True(t, cfg.Transport.MetricsEnabled)
	assert.True(t, cfg.Debug)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestParseArgsFlagsOverrideFile(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
audio:
  input_channels: 1
  sample_format: s16
analysis:
  window_size: 600
  smoothing: false
`), 0o644))

	cfg, err := ParseArgs([]string{"--config", path, "-w", "800"})
	require.NoError(t, err)

	assert.Equal(t, 1, cfg.Audio.InputChannels, "file value kept")
	assert.Equal(t, "s16", cfg.Audio.SampleFormat, "file value kept")
	assert.False(t, cfg.Analysis.Smoothing, "unset flag does not override the file")
	assert.Equal(t, 800, cfg.Analysis.WindowSize, "flag overrides the file")
}

func TestParseArgsErrors(t *testing.T) {
	isolate(t)

	tests := []struct {
		name string
		args []string
	}{
		{"window too small", []string{"-w", "1"}},
		{"zero channels", []string{"-c", "0"}},
		{"unknown format", []string{"-f", "u8"}},
		{"unknown backend", []string{"--backend", "jack"}},
		{"unknown flag", []string{"--bogus"}},
		{"positional argument", []string{"extra"}},
		{"missing config file", []string{"--config", "does-not-exist.yaml"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := ParseArgs(tt.args)
			assert.Error(t, err)
			assert.Nil(t, cfg)
		})
	}
}

func TestParseArgsHelpAndVersion(t *testing.T) {
	isolate(t)

	for _, args := range [][]string{{"--help"}, {"--version"}} {
		cfg, err := ParseArgs(args)
		assert.NoError(t, err, args)
		assert.Nil(t, cfg, args)
	}
}

package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"colortrack/colors"
	"colortrack/detection"
	"colortrack/video"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "colortrack.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaults(t *testing.T) {
	// run from an empty directory so no stray colortrack.yaml is picked up
	chdir(t, t.TempDir())

	s, err := Load(NewViper(), "")
	require.NoError(t, err)

	assert.Equal(t, "", s.Source)
	assert.Equal(t, "yolov8n.onnx", s.Model.Path)
	assert.Equal(t, 640, s.Model.InputSize)
	assert.InDelta(t, 0.25, s.Model.Confidence, 1e-6)
	assert.InDelta(t, 0.7, s.Model.NMS, 1e-6)
	assert.Equal(t, detection.BackendAuto, s.Model.Backend)
	assert.True(t, s.Display.Enabled)
	assert.Equal(t, DefaultWindowTitle, s.Display.Title)
	assert.Equal(t, 27, s.Display.StopKey)
	assert.Equal(t, "ffmpeg", s.Stream.FFmpeg)
	assert.Equal(t, 30.0, s.Stream.FPS)
	assert.Equal(t, "info", s.Log.Level)
	assert.Equal(t, 15*time.Second, s.ReportInterval)

	palette, err := s.ColorPalette()
	require.NoError(t, err)
	assert.Equal(t, colors.DefaultPalette(), palette)

	// the only missing piece is the source
	err = s.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, video.ErrInvalidSource)

	s.Source = video.WebcamSource
	assert.NoError(t, s.Validate())
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
source: videos/traffic.mp4
model:
  path: models/yolov8s.onnx
  confidence: 0.4
  backend: cpu
display:
  enabled: false
stream:
  output: rtmp://localhost/live/stream
  fps: 25
record:
  db: annotations.db
report_interval: 30s
palette:
  - name: Red
    hex: "#ff0000"
  - name: Blue
    hex: "#0000ff"
`)
	s, err := Load(NewViper(), path)
	require.NoError(t, err)
	require.NoError(t, s.Validate())

	assert.Equal(t, "videos/traffic.mp4", s.Source)
	assert.Equal(t, "models/yolov8s.onnx", s.Model.Path)
	assert.Equal(t, detection.BackendCPU, s.Model.Backend)
	assert.False(t, s.Display.Enabled)
	assert.Equal(t, "rtmp://localhost/live/stream", s.Stream.Output)
	assert.Equal(t, 25.0, s.Stream.FPS)
	assert.Equal(t, "annotations.db", s.Record.DB)
	assert.Equal(t, 30*time.Second, s.ReportInterval)
	// untouched keys keep their defaults
	assert.Equal(t, 640, s.Model.InputSize)

	opts := s.DetectionOptions()
	assert.Equal(t, 640, opts.InputSize)
	assert.InDelta(t, 0.4, opts.Confidence, 1e-6)

	palette, err := s.ColorPalette()
	require.NoError(t, err)
	require.Len(t, palette, 2)
	assert.Equal(t, "Blue", palette.Name(colors.ColorSample{B: 200}))
}

func TestEnvOverride(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("COLORTRACK_SOURCE", "0")
	t.Setenv("COLORTRACK_MODEL_CONFIDENCE", "0.6")
	t.Setenv("COLORTRACK_DISPLAY_ENABLED", "false")
	t.Setenv("COLORTRACK_STREAM_OUTPUT", "out.mp4")

	s, err := Load(NewViper(), "")
	require.NoError(t, err)
	assert.Equal(t, "0", s.Source)
	assert.InDelta(t, 0.6, s.Model.Confidence, 1e-6)
	assert.False(t, s.Display.Enabled)
	assert.Equal(t, "out.mp4", s.Stream.Output)
	assert.NoError(t, s.Validate())
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(NewViper(), filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Settings {
		return &Settings{
			Source:  "video.mp4",
			Model:   ModelConfig{Path: "m.onnx", InputSize: 640, Confidence: 0.25, NMS: 0.45, Backend: "auto"},
			Display: DisplayConfig{Enabled: true},
			Stream:  StreamConfig{FPS: 30},
			Log:     LogConfig{Level: "info"},
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Settings)
		want   string
	}{
		{"empty source", func(s *Settings) { s.Source = "" }, "empty source"},
		{"no model", func(s *Settings) { s.Model.Path = "" }, "model.path"},
		{"input size", func(s *Settings) { s.Model.InputSize = 0 }, "model.input_size"},
		{"confidence high", func(s *Settings) { s.Model.Confidence = 1.5 }, "model.confidence"},
		{"confidence negative", func(s *Settings) { s.Model.Confidence = -0.1 }, "model.confidence"},
		{"nms", func(s *Settings) { s.Model.NMS = 2 }, "model.nms"},
		{"backend", func(s *Settings) { s.Model.Backend = "tpu" }, "model.backend"},
		{"no sink", func(s *Settings) { s.Display.Enabled = false }, "at least one of"},
		{"stream fps", func(s *Settings) { s.Stream.Output = "out.mp4"; s.Stream.FPS = 0 }, "stream.fps"},
		{"log level", func(s *Settings) { s.Log.Level = "loud" }, "log.level"},
		{"report interval", func(s *Settings) { s.ReportInterval = -time.Second }, "report_interval"},
		{"palette", func(s *Settings) { s.Palette = []colors.HexColor{{Name: "Red", Hex: "nothex"}} }, "palette"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid()
			tt.mutate(s)
			err := s.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)

			var ve ValidationError
			assert.True(t, errors.As(err, &ve))
			assert.Len(t, ve.Errors, 1)
		})
	}
}

func TestValidateReportsAllProblems(t *testing.T) {
	s := &Settings{Model: ModelConfig{Backend: "auto"}, Log: LogConfig{Level: "info"}}
	err := s.Validate()
	var ve ValidationError
	require.True(t, errors.As(err, &ve))
	// source, model path, input size, no sink
	assert.Len(t, ve.Errors, 4)
}

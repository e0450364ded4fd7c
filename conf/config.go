// Package conf loads colortrack settings from a YAML file, COLORTRACK_
// environment variables and command line flags.
package conf

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"colortrack/colors"
	"colortrack/detection"
)

// ConfigName is the base name of the config file, without extension.
const ConfigName = "colortrack"

// EnvPrefix prefixes environment overrides, e.g. COLORTRACK_MODEL_PATH.
const EnvPrefix = "COLORTRACK"

// ModelConfig selects the detector model.
type ModelConfig struct {
	Path       string  `mapstructure:"path"`       // YOLOv8 ONNX file
	Names      string  `mapstructure:"names"`      // class name file, empty for COCO
	InputSize  int     `mapstructure:"input_size"` // square network input
	Confidence float64 `mapstructure:"confidence"` // minimum class score
	NMS        float64 `mapstructure:"nms"`        // IoU threshold for suppression
	Backend    string  `mapstructure:"backend"`    // auto, cpu or cuda
}

// DisplayConfig controls the preview window.
type DisplayConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Title   string `mapstructure:"title"`
	StopKey int    `mapstructure:"stop_key"`
	Status  bool   `mapstructure:"status"` // draw the FPS/status block
}

// StreamConfig controls the ffmpeg output.
type StreamConfig struct {
	Output string  `mapstructure:"output"` // empty disables streaming
	FFmpeg string  `mapstructure:"ffmpeg"`
	FPS    float64 `mapstructure:"fps"`
}

// RecordConfig controls the SQLite annotation log.
type RecordConfig struct {
	DB string `mapstructure:"db"` // empty disables recording
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Listen string `mapstructure:"listen"` // empty disables the endpoint
}

// LogConfig controls logger construction.
type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// Settings is the complete colortrack configuration.
type Settings struct {
	Source         string            `mapstructure:"source"`
	Model          ModelConfig       `mapstructure:"model"`
	Display        DisplayConfig     `mapstructure:"display"`
	Stream         StreamConfig      `mapstructure:"stream"`
	Record         RecordConfig      `mapstructure:"record"`
	Metrics        MetricsConfig     `mapstructure:"metrics"`
	Log            LogConfig         `mapstructure:"log"`
	ReportInterval time.Duration     `mapstructure:"report_interval"`
	Palette        []colors.HexColor `mapstructure:"palette"`
}

// NewViper returns a viper instance with defaults, config search paths and
// environment bindings set up.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)

	v.SetConfigName(ConfigName)
	v.SetConfigType("yaml")
	for _, path := range DefaultConfigPaths() {
		v.AddConfigPath(path)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// DefaultConfigPaths lists the directories searched for colortrack.yaml.
func DefaultConfigPaths() []string {
	paths := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "colortrack"))
	}
	return append(paths, "/etc/colortrack")
}

// Load reads configFile, or searches the default paths when it is empty, and
// unmarshals the merged settings. A missing config file is not an error
// unless it was named explicitly. Load does not validate.
func Load(v *viper.Viper, configFile string) (*Settings, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "reading config file")
		}
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, errors.Wrap(err, "unmarshaling config")
	}
	return settings, nil
}

// ColorPalette returns the configured palette or the default one.
func (s *Settings) ColorPalette() (colors.Palette, error) {
	if len(s.Palette) == 0 {
		return colors.DefaultPalette(), nil
	}
	return colors.ParsePalette(s.Palette)
}

// DetectionOptions converts the model settings for the detector.
func (s *Settings) DetectionOptions() detection.Options {
	return detection.Options{
		InputSize:  s.Model.InputSize,
		Confidence: float32(s.Model.Confidence),
		NMS:        float32(s.Model.NMS),
	}
}

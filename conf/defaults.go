package conf

import (
	"time"

	"github.com/spf13/viper"

	"colortrack/detection"
	"colortrack/video"
)

// DefaultWindowTitle is the title of the preview window.
const DefaultWindowTitle = "Object Detection (Name, Confidence, Color, Speed)"

// SetDefaults registers the default value of every setting. Keys must be
// registered for environment overrides to reach Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("source", "")

	defaults := detection.DefaultOptions()
	v.SetDefault("model.path", "yolov8n.onnx")
	v.SetDefault("model.names", "")
	v.SetDefault("model.input_size", defaults.InputSize)
	v.SetDefault("model.confidence", float64(defaults.Confidence))
	v.SetDefault("model.nms", float64(defaults.NMS))
	v.SetDefault("model.backend", detection.BackendAuto)

	v.SetDefault("display.enabled", true)
	v.SetDefault("display.title", DefaultWindowTitle)
	v.SetDefault("display.stop_key", video.KeyEscape)
	v.SetDefault("display.status", false)

	v.SetDefault("stream.output", "")
	v.SetDefault("stream.ffmpeg", "ffmpeg")
	v.SetDefault("stream.fps", 30.0)

	v.SetDefault("record.db", "")
	v.SetDefault("metrics.listen", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)

	v.SetDefault("report_interval", 15*time.Second)
}

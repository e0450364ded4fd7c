// Package cmd implements the colortrack command line.
package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"colortrack/colors"
	"colortrack/conf"
)

// flagBindings maps command line flags to config keys.
var flagBindings = map[string]string{
	"log-level":  "log.level",
	"log-json":   "log.json",
	"model":      "model.path",
	"names":      "model.names",
	"input-size": "model.input_size",
	"confidence": "model.confidence",
	"nms":        "model.nms",
	"backend":    "model.backend",
	"display":    "display.enabled",
	"status":     "display.status",
	"output":     "stream.output",
	"ffmpeg":     "stream.ffmpeg",
	"fps":        "stream.fps",
	"record":     "record.db",
	"metrics":    "metrics.listen",
	"report":     "report_interval",
}

// RootCommand creates the colortrack command. Running it without a
// subcommand starts the annotation pipeline.
func RootCommand(v *viper.Viper) *cobra.Command {
	var configFile string

	rootCmd := &cobra.Command{
		Use:   "colortrack [source]",
		Short: "Annotate detected objects with their color and speed",
		Long: "colortrack runs a YOLO detector over a camera or video file and labels every\n" +
			"detection with its dominant color name, estimated speed and pixel area.\n" +
			"Use \"0\" as the source for the default camera.",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings(v, configFile, args)
			if err != nil {
				return err
			}
			return runPipeline(cmd.Context(), settings, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "config file (default: colortrack.yaml in ., ~/.config/colortrack, /etc/colortrack)")
	pf.String("log-level", v.GetString("log.level"), "log level (debug, info, warn, error)")
	pf.Bool("log-json", v.GetBool("log.json"), "log in JSON")

	f := rootCmd.Flags()
	f.String("model", v.GetString("model.path"), "YOLOv8 ONNX model")
	f.String("names", v.GetString("model.names"), "class names file, one per line (default: COCO)")
	f.Int("input-size", v.GetInt("model.input_size"), "model input size in pixels")
	f.Float64("confidence", v.GetFloat64("model.confidence"), "minimum detection confidence")
	f.Float64("nms", v.GetFloat64("model.nms"), "non-maximum suppression IoU threshold")
	f.String("backend", v.GetString("model.backend"), "inference backend (auto, cpu, cuda)")
	f.Bool("display", v.GetBool("display.enabled"), "show the annotated video in a window")
	f.Bool("status", v.GetBool("display.status"), "draw FPS and object count on each frame")
	f.String("output", v.GetString("stream.output"), "also encode annotated video to this file or rtmp:// URL")
	f.String("ffmpeg", v.GetString("stream.ffmpeg"), "ffmpeg executable")
	f.Float64("fps", v.GetFloat64("stream.fps"), "frame rate of the encoded output")
	f.String("record", v.GetString("record.db"), "record annotations to this SQLite database")
	f.String("metrics", v.GetString("metrics.listen"), "serve Prometheus metrics on this address, e.g. :9090")
	f.Duration("report", v.GetDuration("report_interval"), "interval between performance reports (0 disables)")

	if err := bindFlags(v, pf, f); err != nil {
		panic(err)
	}

	rootCmd.AddCommand(paletteCommand(v, &configFile))
	return rootCmd
}

func bindFlags(v *viper.Viper, sets ...*pflag.FlagSet) error {
	for _, set := range sets {
		var bindErr error
		set.VisitAll(func(fl *pflag.Flag) {
			key, ok := flagBindings[fl.Name]
			if !ok || bindErr != nil {
				return
			}
			bindErr = errors.Wrapf(v.BindPFlag(key, fl), "binding --%s", fl.Name)
		})
		if bindErr != nil {
			return bindErr
		}
	}
	return nil
}

// loadSettings merges config file, environment and flags. A positional
// source overrides every other source setting.
func loadSettings(v *viper.Viper, configFile string, args []string) (*conf.Settings, error) {
	settings, err := conf.Load(v, configFile)
	if err != nil {
		return nil, err
	}
	if len(args) == 1 {
		settings.Source = args[0]
	}
	return settings, nil
}

func paletteCommand(v *viper.Viper, configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "palette",
		Short: "Print the color palette used to name colors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, err := conf.Load(v, *configFile)
			if err != nil {
				return err
			}
			palette, err := settings.ColorPalette()
			if err != nil {
				return err
			}
			return printPalette(cmd.OutOrStdout(), palette)
		},
	}
}

func printPalette(w io.Writer, palette colors.Palette) error {
	for _, e := range palette {
		if _, err := fmt.Fprintf(w, "%-10s %s\n", e.Name, e.Color.Hex()); err != nil {
			return err
		}
	}
	return nil
}

// Execute runs the root command with ctx.
func Execute(ctx context.Context, args []string) error {
	rootCmd := RootCommand(conf.NewViper())
	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(ctx)
}

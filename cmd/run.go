package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/term"

	"colortrack/conf"
	"colortrack/detection"
	"colortrack/logging"
	"colortrack/metrics"
	"colortrack/pipeline"
	"colortrack/store"
	"colortrack/video"
)

// SourcePrompt asks for the source when none was configured.
const SourcePrompt = "Enter '0' for webcam or path to video file: "

// promptSource reads one line from in after writing the prompt to out.
func promptSource(in io.Reader, out io.Writer) (string, error) {
	if _, err := fmt.Fprint(out, SourcePrompt); err != nil {
		return "", err
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", errors.Wrap(err, "reading source")
	}
	return strings.TrimSpace(line), nil
}

// isInteractive reports whether r is a terminal.
func isInteractive(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// resolveSource fills in a missing source by prompting on an interactive
// stdin.
func resolveSource(settings *conf.Settings, in io.Reader, out io.Writer, interactive bool) error {
	if settings.Source != "" || !interactive {
		return nil
	}
	source, err := promptSource(in, out)
	if err != nil {
		return err
	}
	settings.Source = source
	return nil
}

func runPipeline(ctx context.Context, settings *conf.Settings, in io.Reader, out io.Writer) error {
	if err := resolveSource(settings, in, out, isInteractive(in)); err != nil {
		return err
	}
	if err := settings.Validate(); err != nil {
		return err
	}

	runID := uuid.NewString()
	logger, err := logging.NewLogger("colortrack", settings.Log.Level, settings.Log.JSON)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck
	logger = logger.With("run_id", runID)

	logger.Infow("starting",
		"source", settings.Source,
		"model", settings.Model.Path,
		"backend", settings.Model.Backend)

	classNames, err := detection.LoadClassNames(settings.Model.Names)
	if err != nil {
		return err
	}
	palette, err := settings.ColorPalette()
	if err != nil {
		return err
	}

	providers := detection.NewProviderManager(logger)
	if err := providers.Initialize(settings.Model.Path, classNames, settings.DetectionOptions(), settings.Model.Backend); err != nil {
		return errors.Wrap(err, "loading detector")
	}
	defer providers.Close()

	source, err := video.OpenSource(settings.Source)
	if err != nil {
		return err
	}
	defer source.Close()

	sink, err := openSinks(logger, settings)
	if err != nil {
		return err
	}
	defer func() {
		if err := sink.Close(); err != nil {
			logger.Warnw("closing sinks", "error", err)
		}
	}()

	opts := []pipeline.Option{
		pipeline.WithPalette(palette),
		pipeline.WithReportInterval(settings.ReportInterval),
	}
	if settings.Display.Status {
		opts = append(opts, pipeline.WithStatusOverlay(providers.GetProviderInfo().Type))
	}

	if settings.Record.DB != "" {
		db, err := store.Open(logger, settings.Record.DB, runID, settings.Source)
		if err != nil {
			return err
		}
		defer db.Close()
		opts = append(opts, pipeline.WithObserver(db))
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	if settings.Metrics.Listen != "" {
		registry := prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		m, err := metrics.NewPipelineMetrics(registry)
		if err != nil {
			return err
		}
		opts = append(opts, pipeline.WithObserver(m), pipeline.WithStageRecorder(m))

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.Serve(ctx, logger, settings.Metrics.Listen); err != nil {
				logger.Errorw("metrics endpoint stopped", "error", err)
			}
		}()
	}

	p := pipeline.New(logger, providers, opts...)
	runErr := p.Run(ctx, source, sink)

	cancel()
	wg.Wait()

	frames, detections := p.Stats().Totals()
	logger.Infow("finished", "frames", frames, "detections", detections, "tracked_classes", p.Tracker().Len())
	if runErr != nil {
		logger.Errorw("pipeline failed", "error", runErr)
	}
	return runErr
}

func openSinks(logger *zap.SugaredLogger, settings *conf.Settings) (video.MultiSink, error) {
	var sinks []video.Sink
	if settings.Display.Enabled {
		sinks = append(sinks, video.NewWindowSink(settings.Display.Title, settings.Display.StopKey))
	}
	if settings.Stream.Output != "" {
		ff, err := video.NewFFmpegSink(logger, video.FFmpegOptions{
			Binary: settings.Stream.FFmpeg,
			Output: settings.Stream.Output,
			FPS:    settings.Stream.FPS,
		})
		if err != nil {
			for _, s := range sinks {
				s.Close()
			}
			return nil, err
		}
		sinks = append(sinks, ff)
	}
	return video.NewMultiSink(sinks...)
}

// Package pipeline annotates detections frame by frame: it samples each
// detection's dominant color, names it against the palette, estimates the
// class's speed and draws the result back onto the frame.
package pipeline

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"colortrack/colors"
	"colortrack/detection"
	"colortrack/overlay"
	"colortrack/tracking"
	"colortrack/video"
)

// Stage names reported to StageRecorders.
const (
	StageRead     = "read"
	StageDetect   = "detect"
	StageAnnotate = "annotate"
	StageEmit     = "emit"
)

// Annotation is everything drawn for one detection.
type Annotation struct {
	Detection   detection.Detection
	Color       colors.ColorSample
	ColorName   string
	Speed       float64
	Area        int
	RegionEmpty bool
	Labels      []overlay.Label
}

// AnnotatedFrame is a frame after ProcessFrame drew on it. Frame is the same
// Mat that was passed in; Annotations follow the detector's order.
type AnnotatedFrame struct {
	Frame       gocv.Mat
	Time        time.Time
	Annotations []Annotation
}

// Observer receives every annotated frame before it is emitted. The frame
// must not be retained after Observe returns.
type Observer interface {
	Observe(ctx context.Context, seq int64, frame AnnotatedFrame) error
}

// StageRecorder receives the duration of each pipeline stage.
type StageRecorder interface {
	ObserveStage(stage string, d time.Duration)
}

// Pipeline runs the per-frame annotation loop.
type Pipeline struct {
	logger   *zap.SugaredLogger
	detector detection.Detector
	palette  colors.Palette
	tracker  *tracking.MotionTracker
	renderer *overlay.Renderer
	now      func() time.Time

	observers      []Observer
	recorders      []StageRecorder
	stats          *Stats
	reportInterval time.Duration

	statusOverlay bool
	providerName  string
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithPalette replaces the default color palette.
func WithPalette(p colors.Palette) Option {
	return func(pl *Pipeline) { pl.palette = p }
}

// WithClock sets the clock used to timestamp frames for speed estimation.
func WithClock(now func() time.Time) Option {
	return func(pl *Pipeline) { pl.now = now }
}

// WithObserver adds an observer; observers are called in the order added.
func WithObserver(o Observer) Option {
	return func(pl *Pipeline) { pl.observers = append(pl.observers, o) }
}

// WithStageRecorder adds a recorder for stage durations.
func WithStageRecorder(r StageRecorder) Option {
	return func(pl *Pipeline) { pl.recorders = append(pl.recorders, r) }
}

// WithReportInterval sets how often Run logs a performance report. Zero
// disables the report.
func WithReportInterval(d time.Duration) Option {
	return func(pl *Pipeline) { pl.reportInterval = d }
}

// WithStatusOverlay draws the time, FPS and object count onto each frame.
func WithStatusOverlay(providerName string) Option {
	return func(pl *Pipeline) {
		pl.statusOverlay = true
		pl.providerName = providerName
	}
}

// New creates a pipeline around detector.
func New(logger *zap.SugaredLogger, detector detection.Detector, opts ...Option) *Pipeline {
	p := &Pipeline{
		logger:         logger.Named("pipeline"),
		detector:       detector,
		palette:        colors.DefaultPalette(),
		tracker:        tracking.NewMotionTracker(),
		renderer:       overlay.NewRenderer(logger),
		now:            time.Now,
		reportInterval: 15 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.stats = NewStats(p.now())
	p.recorders = append([]StageRecorder{p.stats}, p.recorders...)
	return p
}

// Tracker exposes the motion state shared across frames.
func (p *Pipeline) Tracker() *tracking.MotionTracker {
	return p.tracker
}

// Stats returns the running performance counters.
func (p *Pipeline) Stats() *Stats {
	return p.stats
}

// ProcessFrame annotates frame in place for each detection, in order. A
// detection whose box covers no pixels gets the fallback color, the "N/A"
// color name and zero area, but still updates the tracker. Every region is
// sampled before anything is drawn, so one detection's overlay never reaches
// another detection's color.
func (p *Pipeline) ProcessFrame(frame gocv.Mat, detections []detection.Detection, now time.Time) AnnotatedFrame {
	annotations := make([]Annotation, 0, len(detections))
	for _, d := range detections {
		a := Annotation{Detection: d}

		region, ok := colors.ExtractRegion(frame, d.Box)
		if ok {
			a.Color = colors.Sample(region)
			region.Close()
			a.ColorName = p.palette.Name(a.Color)
			a.Area = d.Area()
		} else {
			a.RegionEmpty = true
			a.Color = colors.FallbackColor
			a.ColorName = colors.NotAvailable
		}

		a.Speed = p.tracker.Update(d.ClassName, d.Center(), now)
		annotations = append(annotations, a)
	}

	for i := range annotations {
		a := &annotations[i]
		a.Labels = p.renderer.Render(&frame, a.Detection, a.Color, a.ColorName, a.Speed, a.Area)
	}
	return AnnotatedFrame{Frame: frame, Time: now, Annotations: annotations}
}

// Run reads frames from source until it is exhausted, the sink requests a
// stop or ctx is cancelled; all three end the run without error. Detector
// and sink failures are returned. Observer failures are logged and the run
// continues.
func (p *Pipeline) Run(ctx context.Context, source video.Source, sink video.Sink) error {
	frame := gocv.NewMat()
	defer frame.Close()

	var seq int64
	lastReport := time.Now()
	p.logger.Info("pipeline started")

	for {
		select {
		case <-ctx.Done():
			p.logger.Infow("pipeline cancelled", "frames", seq)
			return nil
		default:
		}

		start := time.Now()
		if !source.Read(&frame) {
			p.logger.Infow("end of stream", "frames", seq)
			return nil
		}
		if frame.Empty() {
			p.logger.Debug("skipping empty frame")
			continue
		}
		now := p.now()
		p.recordStage(StageRead, time.Since(start))

		start = time.Now()
		detections, err := p.detector.Detect(frame)
		if err != nil {
			return errors.Wrapf(err, "detecting objects in frame %d", seq)
		}
		p.recordStage(StageDetect, time.Since(start))

		start = time.Now()
		annotated := p.ProcessFrame(frame, detections, now)
		if p.statusOverlay {
			p.renderer.RenderStatus(&frame, overlay.Status{
				Time:       now,
				FPS:        p.stats.FPS(),
				Frame:      seq,
				Detections: len(detections),
				Provider:   p.providerName,
			})
		}
		p.recordStage(StageAnnotate, time.Since(start))

		for _, o := range p.observers {
			if err := o.Observe(ctx, seq, annotated); err != nil {
				p.logger.Warnw("observer failed", "frame", seq, "error", err)
			}
		}

		start = time.Now()
		err = sink.Emit(frame)
		if errors.Is(err, video.ErrStopRequested) {
			p.logger.Infow("stop requested", "frames", seq+1)
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "emitting frame %d", seq)
		}
		p.recordStage(StageEmit, time.Since(start))

		p.stats.FrameDone(len(detections))
		seq++

		if p.reportInterval > 0 && time.Since(lastReport) >= p.reportInterval {
			p.stats.Report(time.Now()).Log(p.logger)
			lastReport = time.Now()
		}
	}
}

func (p *Pipeline) recordStage(stage string, d time.Duration) {
	for _, r := range p.recorders {
		r.ObserveStage(stage, d)
	}
}

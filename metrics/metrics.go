// Package metrics exposes pipeline counters and latencies to Prometheus.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"colortrack/pipeline"
)

// PipelineMetrics contains all Prometheus metrics for the annotation pipeline.
type PipelineMetrics struct {
	FramesTotal       prometheus.Counter
	DetectionsTotal   *prometheus.CounterVec
	ColorsTotal       *prometheus.CounterVec
	EmptyRegionsTotal prometheus.Counter
	Speed             *prometheus.HistogramVec
	StageDuration     *prometheus.HistogramVec

	registry *prometheus.Registry
}

// NewPipelineMetrics creates the metrics and registers them with registry.
func NewPipelineMetrics(registry *prometheus.Registry) (*PipelineMetrics, error) {
	m := &PipelineMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, errors.Wrap(err, "failed to register pipeline metrics")
	}
	return m, nil
}

func (m *PipelineMetrics) initMetrics() {
	m.FramesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "colortrack_frames_total",
		Help: "Total number of annotated frames.",
	})
	m.DetectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "colortrack_detections_total",
			Help: "Total number of annotated detections partitioned by class name.",
		},
		[]string{"class"},
	)
	m.ColorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "colortrack_colors_total",
			Help: "Total number of detections partitioned by dominant color name.",
		},
		[]string{"color"},
	)
	m.EmptyRegionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "colortrack_empty_regions_total",
		Help: "Detections whose box covered no pixels of the frame.",
	})
	m.Speed = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "colortrack_speed_pixels_per_second",
			Help:    "Estimated speed of tracked classes.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1 to 2048 px/s
		},
		[]string{"class"},
	)
	m.StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "colortrack_stage_duration_seconds",
			Help:    "Time spent in each pipeline stage per frame.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms to ~1s
		},
		[]string{"stage"},
	)
}

// Observe counts the frame and its annotations.
func (m *PipelineMetrics) Observe(_ context.Context, _ int64, frame pipeline.AnnotatedFrame) error {
	m.FramesTotal.Inc()
	for _, a := range frame.Annotations {
		class := a.Detection.ClassName
		m.DetectionsTotal.WithLabelValues(class).Inc()
		m.ColorsTotal.WithLabelValues(a.ColorName).Inc()
		if a.RegionEmpty {
			m.EmptyRegionsTotal.Inc()
		}
		m.Speed.WithLabelValues(class).Observe(a.Speed)
	}
	return nil
}

// ObserveStage records a stage duration.
func (m *PipelineMetrics) ObserveStage(stage string, d time.Duration) {
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// Describe implements the prometheus.Collector interface.
func (m *PipelineMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.FramesTotal.Describe(ch)
	m.DetectionsTotal.Describe(ch)
	m.ColorsTotal.Describe(ch)
	m.EmptyRegionsTotal.Describe(ch)
	m.Speed.Describe(ch)
	m.StageDuration.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *PipelineMetrics) Collect(ch chan<- prometheus.Metric) {
	m.FramesTotal.Collect(ch)
	m.DetectionsTotal.Collect(ch)
	m.ColorsTotal.Collect(ch)
	m.EmptyRegionsTotal.Collect(ch)
	m.Speed.Collect(ch)
	m.StageDuration.Collect(ch)
}

// Handler serves the registry in the Prometheus text format.
func (m *PipelineMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *PipelineMetrics) Serve(ctx context.Context, logger *zap.SugaredLogger, addr string) error {
	logger = logger.Named("metrics")

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infow("serving metrics", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return errors.Wrapf(err, "metrics server on %s", addr)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutting down metrics server")
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

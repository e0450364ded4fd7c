package pipeline

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"
)

// Stats accumulates frame counts and stage durations between reports.
type Stats struct {
	mu sync.Mutex

	totalFrames     int64
	totalDetections int64

	frames         int64
	detections     int64
	lastReportTime time.Time
	stageSeconds   map[string][]float64

	fpsCount      int64
	lastFPSUpdate time.Time
	fps           float64
}

// NewStats starts the first reporting window at start.
func NewStats(start time.Time) *Stats {
	return &Stats{
		lastReportTime: start,
		lastFPSUpdate:  start,
		stageSeconds:   make(map[string][]float64),
	}
}

// ObserveStage records one stage duration.
func (s *Stats) ObserveStage(stage string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stageSeconds[stage] = append(s.stageSeconds[stage], d.Seconds())
}

// FrameDone counts a completed frame.
func (s *Stats) FrameDone(detections int) {
	s.frameDoneAt(time.Now(), detections)
}

func (s *Stats) frameDoneAt(now time.Time, detections int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.frames++
	s.totalFrames++
	s.detections += int64(detections)
	s.totalDetections += int64(detections)

	// FPS over a one second window
	s.fpsCount++
	if elapsed := now.Sub(s.lastFPSUpdate); elapsed >= time.Second {
		s.fps = float64(s.fpsCount) / elapsed.Seconds()
		s.fpsCount = 0
		s.lastFPSUpdate = now
	}
}

// FPS returns the frame rate over the last full second.
func (s *Stats) FPS() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fps
}

// Totals returns the frame and detection counts since the pipeline started.
func (s *Stats) Totals() (frames, detections int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalFrames, s.totalDetections
}

// StageStats summarizes one stage over a reporting window.
type StageStats struct {
	Count  int
	Mean   time.Duration
	StdDev time.Duration
}

// StatsReport is one reporting window.
type StatsReport struct {
	Window     time.Duration
	Frames     int64
	Detections int64
	FPS        float64
	Stages     map[string]StageStats
}

// Report summarizes the window ending at now and starts a new one.
func (s *Stats) Report(now time.Time) StatsReport {
	s.mu.Lock()
	defer s.mu.Unlock()

	window := now.Sub(s.lastReportTime)
	r := StatsReport{
		Window:     window,
		Frames:     s.frames,
		Detections: s.detections,
		Stages:     make(map[string]StageStats, len(s.stageSeconds)),
	}
	if window > 0 {
		r.FPS = float64(s.frames) / window.Seconds()
	}
	for stage, samples := range s.stageSeconds {
		if len(samples) == 0 {
			continue
		}
		mean, std := stat.MeanStdDev(samples, nil)
		if len(samples) < 2 {
			std = 0
		}
		r.Stages[stage] = StageStats{
			Count:  len(samples),
			Mean:   seconds(mean),
			StdDev: seconds(std),
		}
	}

	s.frames = 0
	s.detections = 0
	s.stageSeconds = make(map[string][]float64, len(s.stageSeconds))
	s.lastReportTime = now
	return r
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

// Log writes the report at info level, one entry per stage.
func (r StatsReport) Log(logger *zap.SugaredLogger) {
	logger.Infow("performance report",
		"window", r.Window.Round(time.Millisecond),
		"frames", r.Frames,
		"detections", r.Detections,
		"fps", r.FPS)

	stages := make([]string, 0, len(r.Stages))
	for stage := range r.Stages {
		stages = append(stages, stage)
	}
	sort.Strings(stages)
	for _, stage := range stages {
		st := r.Stages[stage]
		logger.Infow("stage timing",
			"stage", stage,
			"samples", st.Count,
			"mean", st.Mean,
			"stddev", st.StdDev)
	}
}

package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"colortrack/logging"
)

func TestStatsReport(t *testing.T) {
	start := time.Unix(0, 0)
	s := NewStats(start)

	for _, ms := range []int{10, 20, 30} {
		s.ObserveStage(StageDetect, time.Duration(ms)*time.Millisecond)
	}
	s.ObserveStage(StageRead, 5*time.Millisecond)
	for i := 0; i < 4; i++ {
		s.frameDoneAt(start.Add(time.Duration(i)*100*time.Millisecond), 2)
	}

	r := s.Report(start.Add(2 * time.Second))
	assert.Equal(t, 2*time.Second, r.Window)
	assert.EqualValues(t, 4, r.Frames)
	assert.EqualValues(t, 8, r.Detections)
	assert.InDelta(t, 2.0, r.FPS, 1e-9)

	detect := r.Stages[StageDetect]
	assert.Equal(t, 3, detect.Count)
	assert.InDelta(t, float64(20*time.Millisecond), float64(detect.Mean), float64(time.Microsecond))
	// sample standard deviation of 10, 20, 30 ms
	assert.InDelta(t, float64(10*time.Millisecond), float64(detect.StdDev), float64(time.Microsecond))

	read := r.Stages[StageRead]
	assert.Equal(t, 1, read.Count)
	assert.Zero(t, read.StdDev)

	// the next window starts empty but totals carry on
	r = s.Report(start.Add(3 * time.Second))
	assert.Zero(t, r.Frames)
	assert.Empty(t, r.Stages)

	frames, dets := s.Totals()
	assert.EqualValues(t, 4, frames)
	assert.EqualValues(t, 8, dets)
}

func TestStatsFPS(t *testing.T) {
	start := time.Unix(0, 0)
	s := NewStats(start)
	assert.Zero(t, s.FPS())

	for i := 1; i <= 30; i++ {
		s.frameDoneAt(start.Add(time.Duration(i)*time.Second/30), 0)
	}
	assert.InDelta(t, 30.0, s.FPS(), 1e-6)
}

func TestStatsReportLog(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)
	s := NewStats(time.Unix(0, 0))
	s.ObserveStage(StageEmit, time.Millisecond)
	s.ObserveStage(StageAnnotate, time.Millisecond)

	s.Report(time.Unix(1, 0)).Log(logger)
	require.Equal(t, 1, logs.FilterMessage("performance report").Len())

	stages := logs.FilterMessage("stage timing").All()
	require.Len(t, stages, 2)
	assert.Equal(t, StageAnnotate, stages[0].ContextMap()["stage"])
	assert.Equal(t, StageEmit, stages[1].ContextMap()["stage"])
}

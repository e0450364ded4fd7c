// Package ffmpeg watches the diagnostic output of an ffmpeg encoder process.
package ffmpeg

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	frameRegex          = regexp.MustCompile(`frame=\s*(\d+)`)
	timestampErrorRegex = regexp.MustCompile(`(?i)((DTS|PTS)\s+\d+,\s+next:\d+.*invalid dropping|Non-monotonic DTS.*previous:.*current:.*changing to)`)
)

// OutputBuffer stores recent output lines for crash dump analysis
type OutputBuffer struct {
	lines    []string
	maxLines int
	index    int
	full     bool
	mutex    sync.RWMutex
}

// NewOutputBuffer creates a circular buffer for storing recent output
func NewOutputBuffer(maxLines int) *OutputBuffer {
	if maxLines < 1 {
		maxLines = 1
	}
	return &OutputBuffer{
		lines:    make([]string, maxLines),
		maxLines: maxLines,
	}
}

// Add stores a new line in the circular buffer
func (ob *OutputBuffer) Add(line string) {
	ob.mutex.Lock()
	defer ob.mutex.Unlock()

	ob.lines[ob.index] = line
	ob.index = (ob.index + 1) % ob.maxLines
	if ob.index == 0 {
		ob.full = true
	}
}

// GetRecent returns the most recent lines (oldest first)
func (ob *OutputBuffer) GetRecent() []string {
	ob.mutex.RLock()
	defer ob.mutex.RUnlock()

	if !ob.full {
		return append([]string(nil), ob.lines[:ob.index]...)
	}
	result := make([]string, 0, ob.maxLines)
	for i := 0; i < ob.maxLines; i++ {
		result = append(result, ob.lines[(ob.index+i)%ob.maxLines])
	}
	return result
}

// Options tunes the health thresholds of a Monitor.
type Options struct {
	// OutputTimeout is how long the process may stay silent after a frame
	// was written to it.
	OutputTimeout time.Duration
	// FrameTimeout is how long the frame counter may stay still once
	// StallFrames frames are waiting on it. Time spent with no frames
	// written never counts, so a slow producer is not a stall.
	FrameTimeout time.Duration
	StallFrames  int
	// TimestampErrorLimit marks the encoder unhealthy after this many
	// timestamp errors inside TimestampErrorWindow.
	TimestampErrorLimit  int
	TimestampErrorWindow time.Duration
	// BufferLines is the number of stderr lines kept for DumpCrashInfo.
	BufferLines int
}

// DefaultOptions allows 200 frame intervals at fps without progress.
func DefaultOptions(fps float64) Options {
	if fps <= 0 {
		fps = 30
	}
	return Options{
		OutputTimeout:        30 * time.Second,
		FrameTimeout:         time.Duration(200 / fps * float64(time.Second)),
		StallFrames:          2,
		TimestampErrorLimit:  3,
		TimestampErrorWindow: 30 * time.Second,
		BufferLines:          100,
	}
}

// Monitor tracks the progress ffmpeg reports on stderr.
type Monitor struct {
	logger *zap.SugaredLogger
	opts   Options
	now    func() time.Time

	stderrBuffer *OutputBuffer

	mutex           sync.RWMutex
	started         time.Time
	lastFrameNumber int
	framesWritten   int64
	timestampErrors int
	lastErrorTime   time.Time
	forceUnhealthy  bool
	lines           int

	// frames written since the last progress line, and since when
	pendingFrames      int
	framePendingSince  time.Time
	outputPendingSince time.Time

	done chan struct{}
}

// NewMonitor creates a monitor; call Watch with the process stderr.
func NewMonitor(logger *zap.SugaredLogger, opts Options) *Monitor {
	return newMonitor(logger, opts, time.Now)
}

func newMonitor(logger *zap.SugaredLogger, opts Options, now func() time.Time) *Monitor {
	start := now()
	return &Monitor{
		logger:          logger.Named("ffmpeg"),
		opts:            opts,
		now:             now,
		stderrBuffer:    NewOutputBuffer(opts.BufferLines),
		started:         start,
		done:            make(chan struct{}),
	}
}

// Watch consumes r until EOF, recording every line. It blocks and is meant
// to run in its own goroutine; Done is closed when it returns.
func (m *Monitor) Watch(r io.Reader) {
	defer close(m.done)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	// progress lines are terminated by '\r'
	scanner.Split(scanLinesCR)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		m.stderrBuffer.Add(line)
		m.processOutputLine(line)
		m.logger.Debug(line)
	}
	if err := scanner.Err(); err != nil {
		m.logger.Warnw("stderr scanner stopped", "error", err)
		m.stderrBuffer.Add(fmt.Sprintf("SCANNER_ERROR: %v", err))
	}

	m.mutex.RLock()
	defer m.mutex.RUnlock()
	m.logger.Debugw("output monitor finished",
		"lines", m.lines,
		"last_frame", m.lastFrameNumber,
		"frames_written", m.framesWritten,
		"uptime", m.now().Sub(m.started).Round(time.Millisecond))
}

// Done is closed once Watch has returned.
func (m *Monitor) Done() <-chan struct{} {
	return m.done
}

func (m *Monitor) processOutputLine(line string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	now := m.now()
	m.lines++
	m.outputPendingSince = time.Time{}

	if timestampErrorRegex.MatchString(line) {
		if now.Sub(m.lastErrorTime) > m.opts.TimestampErrorWindow {
			m.timestampErrors = 0
		}
		m.timestampErrors++
		m.lastErrorTime = now
		m.logger.Warnw("timestamp error", "count", m.timestampErrors, "line", line)

		if m.opts.TimestampErrorLimit > 0 && m.timestampErrors >= m.opts.TimestampErrorLimit {
			m.logger.Errorw("timestamp error threshold reached, marking unhealthy", "errors", m.timestampErrors)
			m.forceUnhealthy = true
			m.timestampErrors = 0
		}
		return
	}

	if matches := frameRegex.FindStringSubmatch(line); len(matches) > 1 {
		if frameNum, err := strconv.Atoi(matches[1]); err == nil && frameNum > m.lastFrameNumber {
			m.lastFrameNumber = frameNum
			m.pendingFrames = 0
			m.framePendingSince = time.Time{}
		}
	}
}

// Healthy reports whether the encoder is making progress, and if not, why.
func (m *Monitor) Healthy() (bool, string) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	now := m.now()
	switch {
	case m.forceUnhealthy:
		return false, "forced unhealthy due to critical errors"
	case m.opts.OutputTimeout > 0 && !m.outputPendingSince.IsZero() &&
		now.Sub(m.outputPendingSince) > m.opts.OutputTimeout:
		return false, fmt.Sprintf("no output received for %v", now.Sub(m.outputPendingSince).Round(time.Millisecond))
	case m.opts.FrameTimeout > 0 && m.pendingFrames >= max(m.opts.StallFrames, 1) &&
		now.Sub(m.framePendingSince) > m.opts.FrameTimeout:
		return false, fmt.Sprintf("no frame progress for %v (last frame: %d, %d frames pending)",
			now.Sub(m.framePendingSince).Round(time.Millisecond), m.lastFrameNumber, m.pendingFrames)
	}
	return true, ""
}

// FrameWritten records that one more frame was handed to the process. The
// progress timeouts only run while written frames are unacknowledged.
func (m *Monitor) FrameWritten() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	now := m.now()
	m.framesWritten++
	m.pendingFrames++
	if m.framePendingSince.IsZero() {
		m.framePendingSince = now
	}
	if m.outputPendingSince.IsZero() {
		m.outputPendingSince = now
	}
}

// LastFrame returns the highest frame number ffmpeg has reported.
func (m *Monitor) LastFrame() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.lastFrameNumber
}

// Recent returns the buffered stderr lines, oldest first.
func (m *Monitor) Recent() []string {
	return m.stderrBuffer.GetRecent()
}

// DumpCrashInfo logs the buffered stderr lines.
func (m *Monitor) DumpCrashInfo() {
	lines := m.stderrBuffer.GetRecent()
	if len(lines) == 0 {
		m.logger.Error("ffmpeg crash dump: no stderr output captured")
		return
	}
	m.logger.Errorw("ffmpeg crash dump", "lines", len(lines))
	for _, line := range lines {
		m.logger.Error(line)
	}
}

// scanLinesCR is bufio.ScanLines that also splits on a bare '\r'.
func scanLinesCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

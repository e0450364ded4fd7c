package video

import (
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"colortrack/pkg/ffmpeg"
)

// FFmpegOptions configures an FFmpegSink.
type FFmpegOptions struct {
	Binary string  // ffmpeg executable
	Output string  // file path or rtmp:// URL
	FPS    float64 // input frame rate
}

// FFmpegSink pipes raw BGR frames into an ffmpeg encoder. The process is
// started on the first frame, whose dimensions fix the input size.
type FFmpegSink struct {
	logger *zap.SugaredLogger
	opts   FFmpegOptions

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	monitor *ffmpeg.Monitor
	size    string
	frames  int64
	closed  bool

	// overridable in tests
	env          []string
	closeTimeout time.Duration
}

// NewFFmpegSink validates opts; the encoder is not started yet.
func NewFFmpegSink(logger *zap.SugaredLogger, opts FFmpegOptions) (*FFmpegSink, error) {
	if opts.Output == "" {
		return nil, errors.New("ffmpeg sink: output is required")
	}
	if opts.Binary == "" {
		opts.Binary = "ffmpeg"
	}
	if opts.FPS <= 0 {
		opts.FPS = 30
	}
	return &FFmpegSink{
		logger:       logger.Named("ffmpeg_sink"),
		opts:         opts,
		closeTimeout: 5 * time.Second,
	}, nil
}

// commandArgs builds the ffmpeg argument list for frames of the given size.
func commandArgs(size string, opts FFmpegOptions) []string {
	fps := strconv.FormatFloat(opts.FPS, 'f', -1, 64)
	args := []string{
		"-hide_banner",
		"-loglevel", "info",
		"-y",
		"-f", "rawvideo",
		"-pix_fmt", "bgr24",
		"-s", size,
		"-r", fps,
		"-i", "-",
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-tune", "zerolatency",
		"-pix_fmt", "yuv420p",
	}
	if isStreamURL(opts.Output) {
		args = append(args,
			"-g", fps,
			"-f", "flv",
			"-flvflags", "no_duration_filesize",
		)
	}
	return append(args, opts.Output)
}

func isStreamURL(output string) bool {
	return strings.HasPrefix(output, "rtmp://") || strings.HasPrefix(output, "rtmps://")
}

func (s *FFmpegSink) start(frame gocv.Mat) error {
	s.size = fmt.Sprintf("%dx%d", frame.Cols(), frame.Rows())
	args := commandArgs(s.size, s.opts)

	cmd := exec.Command(s.opts.Binary, args...)
	if s.env != nil {
		cmd.Env = s.env
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return errors.Wrap(err, "could not get ffmpeg stdin")
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return errors.Wrap(err, "could not get ffmpeg stderr")
	}

	s.logger.Infow("starting encoder", "command", s.opts.Binary+" "+strings.Join(args, " "))
	if err := cmd.Start(); err != nil {
		return errors.Wrap(err, "could not start ffmpeg")
	}

	s.monitor = ffmpeg.NewMonitor(s.logger, ffmpeg.DefaultOptions(s.opts.FPS))
	go s.monitor.Watch(stderr)

	s.cmd = cmd
	s.stdin = stdin
	s.logger.Infow("encoder started", "pid", cmd.Process.Pid, "size", s.size, "output", s.opts.Output)
	return nil
}

// Emit writes frame to the encoder, starting it if needed.
func (s *FFmpegSink) Emit(frame gocv.Mat) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New("ffmpeg sink: closed")
	}
	if frame.Type() != gocv.MatTypeCV8UC3 {
		return errors.Errorf("ffmpeg sink: expected 8-bit BGR frame, got type %v", frame.Type())
	}
	if s.cmd == nil {
		if err := s.start(frame); err != nil {
			return err
		}
	}
	if size := fmt.Sprintf("%dx%d", frame.Cols(), frame.Rows()); size != s.size {
		return errors.Errorf("ffmpeg sink: frame size changed from %s to %s", s.size, size)
	}

	if s.frames > 0 {
		if ok, reason := s.monitor.Healthy(); !ok {
			s.monitor.DumpCrashInfo()
			return errors.Errorf("ffmpeg encoder unhealthy: %s", reason)
		}
	}

	if _, err := s.stdin.Write(frame.ToBytes()); err != nil {
		s.monitor.DumpCrashInfo()
		return errors.Wrapf(err, "writing frame %d to ffmpeg", s.frames)
	}
	s.monitor.FrameWritten()
	s.frames++
	return nil
}

// Frames returns the number of frames written so far.
func (s *FFmpegSink) Frames() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// Close ends the input stream and waits for the encoder to finish, killing it
// if it does not exit in time.
func (s *FFmpegSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.cmd == nil {
		return nil
	}

	closeErr := s.stdin.Close()

	waitDone := make(chan error, 1)
	go func() {
		<-s.monitor.Done()
		waitDone <- s.cmd.Wait()
	}()

	var waitErr error
	select {
	case waitErr = <-waitDone:
	case <-time.After(s.closeTimeout):
		s.logger.Warnw("encoder did not exit in time, killing", "timeout", s.closeTimeout)
		if err := s.cmd.Process.Kill(); err != nil {
			s.logger.Warnw("failed to kill encoder", "error", err)
		}
		waitErr = <-waitDone
	}

	s.logger.Infow("encoder stopped",
		"frames_written", s.frames,
		"frames_encoded", s.monitor.LastFrame())

	if waitErr != nil {
		s.monitor.DumpCrashInfo()
		return errors.Wrap(waitErr, "ffmpeg exited with error")
	}
	return errors.Wrap(closeErr, "closing ffmpeg stdin")
}

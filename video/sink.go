package video

import (
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gocv.io/x/gocv"
)

// ErrStopRequested is returned by a sink when the viewer asked to stop.
var ErrStopRequested = errors.New("video: stop requested")

// Sink consumes annotated frames. Emit must not retain frame after it returns.
type Sink interface {
	Emit(frame gocv.Mat) error
	Close() error
}

// MultiSink fans a frame out to several sinks in order.
type MultiSink []Sink

// NewMultiSink requires at least one sink.
func NewMultiSink(sinks ...Sink) (MultiSink, error) {
	if len(sinks) == 0 {
		return nil, errors.New("video: at least one frame sink is required")
	}
	return MultiSink(sinks), nil
}

// Emit delivers frame to every sink even if an earlier one fails. A stop
// request from any sink is reported as ErrStopRequested; other errors are
// combined.
func (m MultiSink) Emit(frame gocv.Mat) error {
	var errs error
	stop := false
	for _, s := range m {
		err := s.Emit(frame)
		switch {
		case err == nil:
		case errors.Is(err, ErrStopRequested):
			stop = true
		default:
			errs = multierr.Append(errs, err)
		}
	}
	if errs != nil {
		return errs
	}
	if stop {
		return ErrStopRequested
	}
	return nil
}

// Close closes every sink and combines their errors.
func (m MultiSink) Close() error {
	var errs error
	for _, s := range m {
		errs = multierr.Append(errs, s.Close())
	}
	return errs
}

package conf

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap/zapcore"

	"colortrack/detection"
	"colortrack/video"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []error
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	msgs := make([]string, len(ve.Errors))
	for i, err := range ve.Errors {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("invalid settings: %s", strings.Join(msgs, "; "))
}

// Unwrap exposes the individual errors to errors.Is.
func (ve ValidationError) Unwrap() []error {
	return ve.Errors
}

// Validate checks the settings and reports every problem at once.
func (s *Settings) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, errors.Errorf(format, args...))
	}

	if _, _, _, err := video.ParseSource(s.Source); err != nil {
		errs = append(errs, err)
	}

	if s.Model.Path == "" {
		add("model.path is required")
	}
	if s.Model.InputSize <= 0 {
		add("model.input_size must be positive, got %d", s.Model.InputSize)
	}
	if s.Model.Confidence < 0 || s.Model.Confidence > 1 {
		add("model.confidence must be within [0,1], got %v", s.Model.Confidence)
	}
	if s.Model.NMS < 0 || s.Model.NMS > 1 {
		add("model.nms must be within [0,1], got %v", s.Model.NMS)
	}
	switch s.Model.Backend {
	case detection.BackendAuto, detection.BackendCPU, detection.BackendCUDA:
	default:
		add("model.backend must be one of auto, cpu, cuda, got %q", s.Model.Backend)
	}

	if !s.Display.Enabled && s.Stream.Output == "" {
		add("at least one of display.enabled or stream.output is required")
	}
	if s.Stream.Output != "" && s.Stream.FPS <= 0 {
		add("stream.fps must be positive, got %v", s.Stream.FPS)
	}

	if _, err := zapcore.ParseLevel(s.Log.Level); err != nil {
		add("log.level: %v", err)
	}
	if s.ReportInterval < 0 {
		add("report_interval must not be negative, got %v", s.ReportInterval)
	}
	if _, err := s.ColorPalette(); err != nil {
		add("palette: %v", err)
	}

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

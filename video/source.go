// Package video opens frame sources and delivers annotated frames to sinks.
package video

import (
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// WebcamSource is the source string that selects camera device 0.
const WebcamSource = "0"

// ErrInvalidSource is returned when a source string is empty.
var ErrInvalidSource = errors.New("video: empty source")

// Source yields BGR frames until it is exhausted.
type Source interface {
	// Read fills frame with the next image. It returns false at end of stream
	// or when the device stops delivering frames.
	Read(frame *gocv.Mat) bool
	Close() error
}

// CaptureSource reads frames through an OpenCV VideoCapture.
type CaptureSource struct {
	capture *gocv.VideoCapture
	name    string
}

// ParseSource reports whether s selects the default camera. Only the exact
// string "0" does; anything else is treated as a file path or stream URL.
func ParseSource(s string) (device int, path string, isDevice bool, err error) {
	switch s {
	case "":
		return 0, "", false, ErrInvalidSource
	case WebcamSource:
		return 0, "", true, nil
	default:
		return 0, s, false, nil
	}
}

// OpenSource opens the camera or video file named by s.
func OpenSource(s string) (*CaptureSource, error) {
	device, path, isDevice, err := ParseSource(s)
	if err != nil {
		return nil, err
	}

	var capture *gocv.VideoCapture
	if isDevice {
		capture, err = gocv.VideoCaptureDevice(device)
	} else {
		capture, err = gocv.VideoCaptureFile(path)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "opening video source %q", s)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, errors.Errorf("video source %q could not be opened", s)
	}
	// keep device latency low for live cameras
	if isDevice {
		capture.Set(gocv.VideoCaptureBufferSize, 1)
	}
	return &CaptureSource{capture: capture, name: s}, nil
}

// Read implements Source.
func (c *CaptureSource) Read(frame *gocv.Mat) bool {
	return c.capture.Read(frame)
}

// FPS returns the frame rate the backend reports, or 0 if unknown.
func (c *CaptureSource) FPS() float64 {
	return c.capture.Get(gocv.VideoCaptureFPS)
}

// String returns the source string the capture was opened with.
func (c *CaptureSource) String() string {
	return c.name
}

// Close releases the capture device.
func (c *CaptureSource) Close() error {
	return c.capture.Close()
}

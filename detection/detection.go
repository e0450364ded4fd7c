// Package detection defines the detector contract used by the pipeline and a
// YOLOv8 implementation on gocv's DNN module.
package detection

import (
	"image"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// ErrModelNotLoaded is returned by Detect before a provider has been initialized.
var ErrModelNotLoaded = errors.New("detection model not loaded")

// Detection is one object reported for a frame. Box is kept exactly as the
// detector produced it, so an inverted or zero-size box stays degenerate.
type Detection struct {
	Box        image.Rectangle
	ClassID    int
	ClassName  string
	Confidence float64
}

// Center returns the integer midpoint of the box.
func (d Detection) Center() image.Point {
	return image.Pt((d.Box.Min.X+d.Box.Max.X)/2, (d.Box.Min.Y+d.Box.Max.Y)/2)
}

// Area returns the box area in pixels, or 0 for a degenerate box.
func (d Detection) Area() int {
	w := d.Box.Max.X - d.Box.Min.X
	h := d.Box.Max.Y - d.Box.Min.Y
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// Detector returns the objects found in a frame, in the order they should be annotated.
type Detector interface {
	Detect(frame gocv.Mat) ([]Detection, error)
}

// DetectorFunc adapts a plain function to Detector.
type DetectorFunc func(frame gocv.Mat) ([]Detection, error)

// Detect calls f(frame).
func (f DetectorFunc) Detect(frame gocv.Mat) ([]Detection, error) {
	return f(frame)
}

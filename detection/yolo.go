package detection

import (
	"image"
	"math"

	"github.com/pkg/errors"
)

// Candidate is a decoded box before non-maximum suppression.
type Candidate struct {
	Box     image.Rectangle
	ClassID int
	Score   float32
}

// Letterbox describes how a frame was scaled onto the square network input.
// The frame is anchored at the top-left corner and padded on the right/bottom.
type Letterbox struct {
	Scale     float64
	FrameSize image.Point
}

// NewLetterbox computes the scale that fits frameSize inside inputSize x inputSize.
func NewLetterbox(frameSize image.Point, inputSize int) Letterbox {
	longest := math.Max(float64(frameSize.X), float64(frameSize.Y))
	scale := 1.0
	if longest > 0 {
		scale = float64(inputSize) / longest
	}
	return Letterbox{Scale: scale, FrameSize: frameSize}
}

// ScaledSize is the frame size after scaling, before padding.
func (lb Letterbox) ScaledSize() image.Point {
	return image.Pt(
		int(math.Round(float64(lb.FrameSize.X)*lb.Scale)),
		int(math.Round(float64(lb.FrameSize.Y)*lb.Scale)),
	)
}

// toFrame maps a network-space center box back to a frame rectangle clamped to the frame.
func (lb Letterbox) toFrame(cx, cy, w, h float32) image.Rectangle {
	s := float32(lb.Scale)
	x1 := int(math.Round(float64((cx - w/2) / s)))
	y1 := int(math.Round(float64((cy - h/2) / s)))
	x2 := int(math.Round(float64((cx + w/2) / s)))
	y2 := int(math.Round(float64((cy + h/2) / s)))
	return image.Rectangle{
		Min: image.Pt(clamp(x1, 0, lb.FrameSize.X), clamp(y1, 0, lb.FrameSize.Y)),
		Max: image.Pt(clamp(x2, 0, lb.FrameSize.X), clamp(y2, 0, lb.FrameSize.Y)),
	}
}

// DecodeYOLOv8 turns a raw YOLOv8 output tensor into candidates above minScore.
// shape is the tensor shape without the batch axis: either [4+C, N] (ultralytics'
// default export) or [N, 4+C]. Each anchor carries cx, cy, w, h followed by C
// class scores; the best class per anchor is kept.
func DecodeYOLOv8(data []float32, shape [2]int, numClasses int, lb Letterbox, minScore float32) ([]Candidate, error) {
	rows, cols := shape[0], shape[1]
	if rows*cols != len(data) {
		return nil, errors.Errorf("output has %d values, shape %v needs %d", len(data), shape, rows*cols)
	}
	if numClasses <= 0 {
		return nil, errors.New("no class names loaded")
	}

	attrs := 4 + numClasses
	var anchors int
	var transposed bool
	switch attrs {
	case rows:
		anchors = cols
	case cols:
		anchors, transposed = rows, true
	default:
		return nil, errors.Errorf("output shape %v does not match %d classes", shape, numClasses)
	}

	at := func(attr, anchor int) float32 {
		if transposed {
			return data[anchor*attrs+attr]
		}
		return data[attr*anchors+anchor]
	}

	var out []Candidate
	for a := 0; a < anchors; a++ {
		classID := 0
		best := at(4, a)
		for c := 1; c < attrs-4; c++ {
			if s := at(4+c, a); s > best {
				best, classID = s, c
			}
		}
		if best < minScore {
			continue
		}
		box := lb.toFrame(at(0, a), at(1, a), at(2, a), at(3, a))
		out = append(out, Candidate{Box: box, ClassID: classID, Score: best})
	}
	return out, nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

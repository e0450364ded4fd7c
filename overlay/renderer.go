// Package overlay draws detection annotations onto frames.
package overlay

import (
	"fmt"
	"image"
	"image/color"
	"time"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"colortrack/colors"
	"colortrack/detection"
)

const (
	boxThickness  = 2
	textThickness = 2
)

// Label is one line of text placed relative to a detection box.
type Label struct {
	Text   string
	Origin image.Point // Baseline-left corner passed to gocv.PutText
	Scale  float64
}

// Labels composes the annotation text for a detection. Two lines sit above the
// box (class with confidence, then color name) and three below it (speed, area,
// box coordinates).
func Labels(d detection.Detection, colorName string, speed float64, area int) []Label {
	x1, y1 := d.Box.Min.X, d.Box.Min.Y
	x2, y2 := d.Box.Max.X, d.Box.Max.Y
	return []Label{
		{fmt.Sprintf("%s (%.2f)", d.ClassName, d.Confidence), image.Pt(x1, y1-40), 0.7},
		{fmt.Sprintf("Color: %s", colorName), image.Pt(x1, y1-20), 0.6},
		{fmt.Sprintf("Speed: %.2f px/s", speed), image.Pt(x1, y2+20), 0.5},
		{fmt.Sprintf("Area: %d px", area), image.Pt(x1, y2+40), 0.5},
		{fmt.Sprintf("Box: (%d,%d)-(%d,%d)", x1, y1, x2, y2), image.Pt(x1, y2+60), 0.5},
	}
}

// Status is the frame-level information shown in the top-left corner.
type Status struct {
	Time       time.Time
	FPS        float64
	Frame      int64
	Detections int
	Provider   string
}

// Renderer handles visualization and overlay rendering
type Renderer struct {
	logger *zap.SugaredLogger
	font   gocv.HersheyFont

	statusColor color.RGBA
}

// NewRenderer creates a renderer using the Hershey simplex font.
func NewRenderer(logger *zap.SugaredLogger) *Renderer {
	return &Renderer{
		logger:      logger.Named("overlay"),
		font:        gocv.FontHersheySimplex,
		statusColor: color.RGBA{R: 255, G: 255, B: 255, A: 255},
	}
}

// Render strokes the detection box and writes its labels onto frame, all in the
// sampled color c. The frame is modified in place.
func (r *Renderer) Render(frame *gocv.Mat, d detection.Detection, c colors.ColorSample, colorName string, speed float64, area int) []Label {
	stroke := c.RGBA()
	gocv.Rectangle(frame, d.Box, stroke, boxThickness)

	labels := Labels(d, colorName, speed, area)
	for _, l := range labels {
		gocv.PutText(frame, l.Text, l.Origin, r.font, l.Scale, stroke, textThickness)
	}

	r.logger.Debugw("annotated detection",
		"class", d.ClassName,
		"confidence", d.Confidence,
		"color", colorName,
		"speed", speed,
		"area", area)
	return labels
}

// StatusLines formats the status overlay text.
func StatusLines(s Status) []string {
	lines := []string{
		fmt.Sprintf("TIME: %s", s.Time.Format("15:04:05")),
		fmt.Sprintf("FPS: %.1f  FRAME: %d", s.FPS, s.Frame),
		fmt.Sprintf("OBJECTS: %d", s.Detections),
	}
	if s.Provider != "" {
		lines = append(lines, fmt.Sprintf("INFERENCE: %s", s.Provider))
	}
	return lines
}

// RenderStatus writes the status block in the top-left corner of frame.
func (r *Renderer) RenderStatus(frame *gocv.Mat, s Status) {
	lines := StatusLines(s)
	for i, origin := range statusOrigins(len(lines)) {
		gocv.PutText(frame, lines[i], origin, r.font, 0.5, r.statusColor, 1)
	}
}

// statusOrigins returns the baseline origin of each of n status lines.
func statusOrigins(n int) []image.Point {
	origins := make([]image.Point, n)
	for i := range origins {
		origins[i] = image.Pt(10, 25+20*i)
	}
	return origins
}

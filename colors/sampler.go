package colors

import (
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

// SampleSize is the edge length regions are resized to before counting colors.
const SampleSize = 50

// ColorSample is an 8-bit RGB triple.
type ColorSample struct {
	R, G, B uint8
}

// FallbackColor is reported for regions with no pixels.
var FallbackColor = ColorSample{R: 0, G: 255, B: 0}

// RGBA converts the sample to an opaque color for gocv drawing calls.
func (c ColorSample) RGBA() color.RGBA {
	return color.RGBA{R: c.R, G: c.G, B: c.B, A: 255}
}

// ExtractRegion returns the part of frame covered by box, clipped to the frame.
// ok is false when nothing of the box lies inside the frame; otherwise the caller
// owns the returned Mat and must Close it.
func ExtractRegion(frame gocv.Mat, box image.Rectangle) (region gocv.Mat, ok bool) {
	if frame.Empty() || box.Empty() {
		return gocv.Mat{}, false
	}
	clipped := box.Intersect(image.Rect(0, 0, frame.Cols(), frame.Rows()))
	if clipped.Empty() {
		return gocv.Mat{}, false
	}
	return frame.Region(clipped), true
}

// Sample returns the most frequent exact color of region after resizing it to
// SampleSize x SampleSize. Empty regions yield FallbackColor. region is expected
// in gocv's BGR channel order.
func Sample(region gocv.Mat) ColorSample {
	if region.Empty() || region.Rows() == 0 || region.Cols() == 0 {
		return FallbackColor
	}

	small := gocv.NewMat()
	defer small.Close()
	gocv.Resize(region, &small, image.Pt(SampleSize, SampleSize), 0, 0, gocv.InterpolationLinear)

	return DominantBGR(small.ToBytes(), small.Channels())
}

// DominantBGR returns the mode of an interleaved BGR(A) or grayscale pixel buffer.
// Among equally frequent colors the one that reached the count first wins.
func DominantBGR(pix []byte, channels int) ColorSample {
	if channels <= 0 || len(pix) < channels {
		return FallbackColor
	}

	counts := make(map[ColorSample]int, len(pix)/channels)
	var best ColorSample
	bestCount := 0

	for i := 0; i+channels <= len(pix); i += channels {
		var c ColorSample
		if channels < 3 {
			c = ColorSample{R: pix[i], G: pix[i], B: pix[i]}
		} else {
			c = ColorSample{R: pix[i+2], G: pix[i+1], B: pix[i]}
		}
		counts[c]++
		if counts[c] > bestCount {
			best = c
			bestCount = counts[c]
		}
	}
	return best
}

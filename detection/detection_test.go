package detection

import (
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func box(x1, y1, x2, y2 int) image.Rectangle {
	return image.Rectangle{Min: image.Pt(x1, y1), Max: image.Pt(x2, y2)}
}

func TestDetectionGeometry(t *testing.T) {
	tests := []struct {
		name   string
		box    image.Rectangle
		area   int
		center image.Point
	}{
		{"regular", box(0, 0, 10, 20), 200, image.Pt(5, 10)},
		{"unit", box(0, 0, 10, 10), 100, image.Pt(5, 5)},
		{"odd midpoint", box(1, 1, 4, 6), 15, image.Pt(2, 3)},
		{"degenerate", box(5, 5, 5, 5), 0, image.Pt(5, 5)},
		{"zero width", box(5, 0, 5, 9), 0, image.Pt(5, 4)},
		{"inverted", box(10, 10, 0, 0), 0, image.Pt(5, 5)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Detection{Box: tt.box}
			assert.Equal(t, tt.area, d.Area())
			assert.Equal(t, tt.center, d.Center())
		})
	}
}

func TestLetterbox(t *testing.T) {
	lb := NewLetterbox(image.Pt(1280, 720), 640)
	assert.InDelta(t, 0.5, lb.Scale, 1e-9)
	assert.Equal(t, image.Pt(640, 360), lb.ScaledSize())

	// network-space box maps back to frame pixels
	assert.Equal(t, box(180, 160, 220, 240), lb.toFrame(100, 100, 20, 40))

	// clamped to the frame
	assert.Equal(t, box(0, 0, 20, 20), lb.toFrame(0, 0, 20, 20))
	assert.Equal(t, box(1250, 690, 1280, 720), lb.toFrame(635, 355, 20, 20))
}

func TestDecodeYOLOv8(t *testing.T) {
	lb := NewLetterbox(image.Pt(640, 640), 640)

	// 2 classes, 3 anchors, attribute-major layout [6, 3]
	data := []float32{
		// cx
		100, 300, 500,
		// cy
		100, 300, 500,
		// w
		20, 40, 60,
		// h
		20, 40, 60,
		// class 0
		0.9, 0.1, 0.05,
		// class 1
		0.2, 0.8, 0.1,
	}
	got, err := DecodeYOLOv8(data, [2]int{6, 3}, 2, lb, 0.25)
	require.NoError(t, err)

	want := []Candidate{
		{Box: box(90, 90, 110, 110), ClassID: 0, Score: 0.9},
		{Box: box(280, 280, 320, 320), ClassID: 1, Score: 0.8},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("decoded candidates mismatch (-want +got):\n%s", diff)
	}

	// same tensor in anchor-major layout [3, 6]
	transposed := make([]float32, len(data))
	for attr := 0; attr < 6; attr++ {
		for anchor := 0; anchor < 3; anchor++ {
			transposed[anchor*6+attr] = data[attr*3+anchor]
		}
	}
	got, err = DecodeYOLOv8(transposed, [2]int{3, 6}, 2, lb, 0.25)
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(want, got))
}

func TestDecodeYOLOv8Errors(t *testing.T) {
	lb := NewLetterbox(image.Pt(640, 640), 640)

	_, err := DecodeYOLOv8(make([]float32, 10), [2]int{6, 3}, 2, lb, 0.25)
	assert.Error(t, err)

	_, err = DecodeYOLOv8(make([]float32, 18), [2]int{6, 3}, 0, lb, 0.25)
	assert.Error(t, err)

	_, err = DecodeYOLOv8(make([]float32, 18), [2]int{6, 3}, 80, lb, 0.25)
	assert.ErrorContains(t, err, "does not match")
}

func TestClassNames(t *testing.T) {
	names := DefaultClassNames()
	require.Len(t, names, 80)
	assert.Equal(t, "person", names[0])
	assert.Equal(t, "car", names[2])
	assert.Equal(t, "toothbrush", names[79])

	path := filepath.Join(t.TempDir(), "names.txt")
	require.NoError(t, os.WriteFile(path, []byte("drone\r\n\nbird\n\n\n"), 0o644))
	names, err := LoadClassNames(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"drone", "", "bird"}, names)

	assert.Equal(t, "bird", className(names, 2))
	assert.Equal(t, "class1", className(names, 1))
	assert.Equal(t, "class7", className(names, 7))

	_, err = LoadClassNames(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)

	empty := filepath.Join(t.TempDir(), "empty.txt")
	require.NoError(t, os.WriteFile(empty, []byte("\n\n"), 0o644))
	_, err = LoadClassNames(empty)
	assert.Error(t, err)

	names, err = LoadClassNames("")
	require.NoError(t, err)
	assert.Len(t, names, 80)
}

func TestSuppressPerClass(t *testing.T) {
	names := []string{"person", "bicycle"}
	candidates := []Candidate{
		{Box: box(0, 0, 100, 100), ClassID: 0, Score: 0.7},
		{Box: box(5, 5, 100, 100), ClassID: 1, Score: 0.8},
		{Box: box(2, 2, 100, 100), ClassID: 0, Score: 0.9},
		{Box: box(300, 300, 340, 340), ClassID: 0, Score: 0.5},
	}

	got := suppress(candidates, names, DefaultOptions())
	want := []Detection{
		{Box: box(2, 2, 100, 100), ClassID: 0, ClassName: "person", Confidence: float64(float32(0.9))},
		{Box: box(5, 5, 100, 100), ClassID: 1, ClassName: "bicycle", Confidence: float64(float32(0.8))},
		{Box: box(300, 300, 340, 340), ClassID: 0, ClassName: "person", Confidence: float64(float32(0.5))},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("suppress() mismatch (-want +got):\n%s", diff)
	}

	assert.Nil(t, suppress(nil, names, DefaultOptions()))
}

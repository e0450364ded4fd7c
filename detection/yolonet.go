package detection

import (
	"image"
	"image/color"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// Options tune YOLO inference.
type Options struct {
	InputSize  int     // Square network input edge (640 for stock YOLOv8)
	Confidence float32 // Minimum class score kept
	NMS        float32 // IoU threshold for non-maximum suppression
}

// DefaultOptions matches ultralytics' defaults for exported YOLOv8 models.
func DefaultOptions() Options {
	return Options{InputSize: 640, Confidence: 0.25, NMS: 0.7}
}

var letterboxPad = color.RGBA{R: 114, G: 114, B: 114, A: 0}

// yoloNet is the inference path shared by the CPU and GPU providers; they only
// differ in the backend/target they select.
type yoloNet struct {
	net        gocv.Net
	classNames []string
	opts       Options
	loaded     bool
	mu         sync.Mutex
}

func (y *yoloNet) load(modelPath string, classNames []string, opts Options, backend gocv.NetBackendType, target gocv.NetTargetType) error {
	if opts.InputSize <= 0 {
		return errors.Errorf("invalid input size %d", opts.InputSize)
	}
	if len(classNames) == 0 {
		return errors.New("no class names")
	}

	y.net = gocv.ReadNetFromONNX(modelPath)
	if y.net.Empty() {
		return errors.Errorf("failed to load YOLO network from %s", modelPath)
	}
	if err := y.net.SetPreferableBackend(backend); err != nil {
		y.net.Close()
		return errors.Wrap(err, "failed to set backend")
	}
	if err := y.net.SetPreferableTarget(target); err != nil {
		y.net.Close()
		return errors.Wrap(err, "failed to set target")
	}

	y.classNames = classNames
	y.opts = opts
	y.loaded = true
	return nil
}

func (y *yoloNet) detect(frame gocv.Mat) ([]Detection, error) {
	y.mu.Lock()
	defer y.mu.Unlock()

	if !y.loaded {
		return nil, ErrModelNotLoaded
	}
	if frame.Empty() {
		return nil, nil
	}

	lb := NewLetterbox(image.Pt(frame.Cols(), frame.Rows()), y.opts.InputSize)
	input := letterbox(frame, lb, y.opts.InputSize)
	defer input.Close()

	blob := gocv.BlobFromImage(input, 1.0/255.0, image.Pt(y.opts.InputSize, y.opts.InputSize), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	y.net.SetInput(blob, "")
	output := y.net.Forward("")
	defer output.Close()

	size := output.Size()
	if len(size) != 3 {
		return nil, errors.Errorf("unexpected YOLO output dims %v", size)
	}
	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, errors.Wrap(err, "could not read YOLO output")
	}

	candidates, err := DecodeYOLOv8(data, [2]int{size[1], size[2]}, len(y.classNames), lb, y.opts.Confidence)
	if err != nil {
		return nil, err
	}
	return suppress(candidates, y.classNames, y.opts), nil
}

func (y *yoloNet) close() error {
	y.mu.Lock()
	defer y.mu.Unlock()
	if !y.loaded {
		return nil
	}
	y.loaded = false
	return y.net.Close()
}

// letterbox scales frame to fit the network input and pads the right and bottom edges.
func letterbox(frame gocv.Mat, lb Letterbox, inputSize int) gocv.Mat {
	scaled := gocv.NewMat()
	defer scaled.Close()
	sz := lb.ScaledSize()
	gocv.Resize(frame, &scaled, sz, 0, 0, gocv.InterpolationLinear)

	padded := gocv.NewMat()
	gocv.CopyMakeBorder(scaled, &padded, 0, inputSize-sz.Y, 0, inputSize-sz.X, gocv.BorderConstant, letterboxPad)
	return padded
}

// suppress runs NMS separately for each class and converts the survivors to
// detections in descending score order. Overlapping boxes of different classes
// never suppress each other.
func suppress(candidates []Candidate, classNames []string, opts Options) []Detection {
	if len(candidates) == 0 {
		return nil
	}

	var classOrder []int
	byClass := make(map[int][]int)
	for i, c := range candidates {
		if _, ok := byClass[c.ClassID]; !ok {
			classOrder = append(classOrder, c.ClassID)
		}
		byClass[c.ClassID] = append(byClass[c.ClassID], i)
	}

	var keep []int
	for _, classID := range classOrder {
		members := byClass[classID]
		boxes := make([]image.Rectangle, len(members))
		scores := make([]float32, len(members))
		for j, idx := range members {
			boxes[j] = candidates[idx].Box
			scores[j] = candidates[idx].Score
		}
		for _, j := range gocv.NMSBoxes(boxes, scores, opts.Confidence, opts.NMS) {
			keep = append(keep, members[j])
		}
	}
	sort.SliceStable(keep, func(i, j int) bool {
		return candidates[keep[i]].Score > candidates[keep[j]].Score
	})

	detections := make([]Detection, 0, len(keep))
	for _, idx := range keep {
		c := candidates[idx]
		detections = append(detections, Detection{
			Box:        c.Box,
			ClassID:    c.ClassID,
			ClassName:  className(classNames, c.ClassID),
			Confidence: float64(c.Score),
		})
	}
	return detections
}

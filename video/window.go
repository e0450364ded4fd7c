package video

import (
	"gocv.io/x/gocv"
)

// KeyEscape is the key code that stops the display loop by default.
const KeyEscape = 27

// WindowSink shows frames in a HighGUI window and watches for the stop key.
type WindowSink struct {
	window  *gocv.Window
	stopKey int
}

// NewWindowSink opens a window titled title. A negative stopKey disables the
// stop check.
func NewWindowSink(title string, stopKey int) *WindowSink {
	return &WindowSink{
		window:  gocv.NewWindow(title),
		stopKey: stopKey,
	}
}

// Emit shows frame and polls the keyboard for one millisecond.
func (w *WindowSink) Emit(frame gocv.Mat) error {
	w.window.IMShow(frame)
	if isStopKey(w.window.WaitKey(1), w.stopKey) {
		return ErrStopRequested
	}
	return nil
}

// Close destroys the window.
func (w *WindowSink) Close() error {
	return w.window.Close()
}

func isStopKey(key, stopKey int) bool {
	if stopKey < 0 || key < 0 {
		return false
	}
	// some backends report modifier bits above the low byte
	return key&0xFF == stopKey&0xFF
}

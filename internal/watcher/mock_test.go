package watcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"image/color"
	"sync"

	"github.com/agenthands/prism/internal/model"
	"github.com/agenthands/prism/internal/vision"
)

// testFrame builds a solid-color frame so two captures with the same
// fill compare as unchanged under every detection method.
func testFrame(fill color.RGBA, ts int64) *vision.Frame {
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, fill)
		}
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d-%d-%d", fill.R, fill.G, fill.B)))
	return &vision.Frame{
		Image:     img,
		Width:     64,
		Height:    48,
		Hash:      hex.EncodeToString(sum[:]),
		Timestamp: ts,
	}
}

type fakeCapture struct {
	mu     sync.Mutex
	frames []*vision.Frame
	calls  int
	err    error
}

func (c *fakeCapture) Capture(context.Context) (*vision.Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	f := c.frames[0]
	if len(c.frames) > 1 {
		c.frames = c.frames[1:]
	}
	return f, nil
}

type fakeWindows struct {
	win *vision.ActiveWindow
	err error
}

func (w *fakeWindows) ActiveWindow(context.Context) (*vision.ActiveWindow, error) {
	if w.err != nil {
		return nil, w.err
	}
	return w.win, nil
}

type fakeDetector struct {
	mu         sync.Mutex
	calls      int
	detections []vision.Detection
	err        error
}

func (d *fakeDetector) Name() string { return "fake" }

func (d *fakeDetector) Detect(context.Context, *vision.Frame) ([]vision.Detection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	return d.detections, nil
}

func (d *fakeDetector) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

type fakeOCR struct {
	result *vision.OCRResult
	err    error
}

func (o *fakeOCR) Analyze(context.Context, *vision.Frame) (*vision.OCRResult, error) {
	if o.err != nil {
		return nil, o.err
	}
	return o.result, nil
}

// recordingIndex counts indexed screens; err makes every write fail.
type recordingIndex struct {
	mu      sync.Mutex
	screens []*model.UIScreenState
	err     error
}

func (r *recordingIndex) IndexScreenState(_ context.Context, ss *model.UIScreenState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.screens = append(r.screens, ss)
	return nil
}

func (r *recordingIndex) SetErr(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

func (r *recordingIndex) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.screens)
}

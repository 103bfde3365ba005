package vision

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	_ "image/png"
	"time"

	"github.com/agenthands/prism/internal/model"
)

// ErrNoActiveWindow reports that nothing on screen has focus.
var ErrNoActiveWindow = errors.New("no active window")

// ModelUnavailableError marks a provider that failed to load or errored
// at call time. The detector chain falls back past it when another
// provider is configured.
type ModelUnavailableError struct {
	Provider string
	Err      error
}

func (e *ModelUnavailableError) Error() string {
	return fmt.Sprintf("provider %s unavailable: %v", e.Provider, e.Err)
}

func (e *ModelUnavailableError) Unwrap() error { return e.Err }

// Frame is one captured screenshot. Hash fingerprints the PNG bytes and
// keys the OCR cache; the decoded image serves samplers and heuristics.
type Frame struct {
	PNG       []byte
	Image     image.Image
	Width     int
	Height    int
	Hash      string
	Timestamp int64 // epoch ms at capture
}

func NewFrame(png []byte) (*Frame, error) {
	img, _, err := image.Decode(bytes.NewReader(png))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	sum := sha256.Sum256(png)
	b := img.Bounds()
	return &Frame{
		PNG:       png,
		Image:     img,
		Width:     b.Dx(),
		Height:    b.Dy(),
		Hash:      hex.EncodeToString(sum[:]),
		Timestamp: time.Now().UnixMilli(),
	}, nil
}

// Detection is the normalized provider output. Every detector maps its
// native response into this record before anything downstream sees it.
type Detection struct {
	Type       model.NodeType `json:"type"`
	BBox       model.BBox     `json:"bbox"`
	Confidence float64        `json:"confidence"`
	Text       string         `json:"text,omitempty"`
	Source     string         `json:"source"`
}

type OCRWord struct {
	Text       string     `json:"text"`
	BBox       model.BBox `json:"bbox"`
	Confidence float64    `json:"confidence"`
}

type OCRResult struct {
	Words []OCRWord `json:"words"`
}

type ActiveWindow struct {
	App    string      `json:"app_name"`
	Title  string      `json:"title"`
	Bounds *model.BBox `json:"bounds,omitempty"`
}

type Detector interface {
	Detect(ctx context.Context, frame *Frame) ([]Detection, error)
	Name() string
}

type OCRProvider interface {
	Analyze(ctx context.Context, frame *Frame) (*OCRResult, error)
}

type ScreenshotProvider interface {
	Capture(ctx context.Context) (*Frame, error)
}

// WindowProvider returns ErrNoActiveWindow when nothing has focus.
type WindowProvider interface {
	ActiveWindow(ctx context.Context) (*ActiveWindow, error)
}

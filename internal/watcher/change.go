package watcher

import (
	"image"
	"image/color"
	"log"
	"sync"
	"time"

	"github.com/agenthands/prism/internal/config"
	"github.com/agenthands/prism/internal/vision"
)

// Comparison methods reported in ChangeResult.Method.
const (
	MethodInitial   = "initial"
	MethodHash      = "hash"
	MethodSampling  = "sampling"
	MethodPixels    = "pixels"
	MethodDebounced = "debounced"
	MethodError     = "error"
	MethodResize    = "resize"
)

type ChangeResult struct {
	Changed       bool    `json:"changed"`
	ChangePercent float64 `json:"change_percent"` // 0..100
	Method        string  `json:"method"`
}

// ChangeDetector gates the capture pipeline: it compares each frame to
// the last accepted one and reports whether the difference clears the
// configured threshold. The first frame is always a change. A debounce
// window suppresses re-triggering right after an accepted change so a
// settling animation does not burn a pipeline run per frame. Internal
// failures fail open: a missed comparison costs one wasted pipeline
// run, a swallowed change costs a stale index.
type ChangeDetector struct {
	mu  sync.Mutex
	cfg config.DetectorConfig

	prev         *vision.Frame
	lastAccepted time.Time

	now func() time.Time // replaced in tests
}

func NewChangeDetector(cfg config.DetectorConfig) *ChangeDetector {
	switch cfg.Method {
	case "", MethodHash, MethodSampling, MethodPixels:
	default:
		log.Printf("change detector: unknown method %q, using sampling", cfg.Method)
		cfg.Method = MethodSampling
	}
	if cfg.Method == "" {
		cfg.Method = MethodSampling
	}
	if cfg.GridSize <= 0 {
		cfg.GridSize = 4
	}
	if cfg.PixelThreshold <= 0 {
		cfg.PixelThreshold = 30
	}
	if cfg.ChangeThreshold <= 0 {
		cfg.ChangeThreshold = 0.1
	}
	return &ChangeDetector{cfg: cfg, now: time.Now}
}

// HasChanged compares frame against the last indexed capture. It never
// moves the baseline itself: the caller hands the frame to Observe once
// the pipeline behind the gate has succeeded, so a tick that fails
// after the gate retries the same content against the same reference.
func (d *ChangeDetector) HasChanged(frame *vision.Frame) ChangeResult {
	d.mu.Lock()
	defer d.mu.Unlock()

	if frame == nil || frame.Image == nil {
		return ChangeResult{Changed: true, ChangePercent: 100, Method: MethodError}
	}

	if d.prev == nil {
		return ChangeResult{Changed: true, ChangePercent: 100, Method: MethodInitial}
	}

	if frame.Width != d.prev.Width || frame.Height != d.prev.Height {
		return ChangeResult{Changed: true, ChangePercent: 100, Method: MethodResize}
	}

	var res ChangeResult
	switch d.cfg.Method {
	case MethodHash:
		res = compareHash(d.prev, frame)
	case MethodPixels:
		res = comparePixels(d.prev.Image, frame.Image, d.cfg.PixelThreshold, d.cfg.ChangeThreshold)
	default:
		res = compareSamples(d.prev.Image, frame.Image, d.cfg.GridSize, d.cfg.PixelThreshold, d.cfg.ChangeThreshold)
	}

	if !res.Changed {
		return res
	}
	if window := time.Duration(d.cfg.DebounceMs) * time.Millisecond; window > 0 {
		if d.now().Sub(d.lastAccepted) < window {
			res.Changed = false
			res.Method = MethodDebounced
			return res
		}
	}
	return res
}

// Observe replaces the baseline without comparing. Callers invoke it
// after a capture has actually been indexed, forced or gated, so the
// next tick compares against the last indexed screen and the debounce
// window restarts from that point.
func (d *ChangeDetector) Observe(frame *vision.Frame) {
	if frame == nil || frame.Image == nil {
		return
	}
	d.mu.Lock()
	d.accept(frame)
	d.mu.Unlock()
}

// Reset drops the baseline; the next frame reports initial.
func (d *ChangeDetector) Reset() {
	d.mu.Lock()
	d.prev = nil
	d.lastAccepted = time.Time{}
	d.mu.Unlock()
}

func (d *ChangeDetector) accept(frame *vision.Frame) {
	d.prev = frame
	d.lastAccepted = d.now()
}

func compareHash(prev, cur *vision.Frame) ChangeResult {
	if prev.Hash == cur.Hash {
		return ChangeResult{Changed: false, ChangePercent: 0, Method: MethodHash}
	}
	return ChangeResult{Changed: true, ChangePercent: 100, Method: MethodHash}
}

// compareSamples checks a fixed grid of points, one at the center of
// each grid cell. Cost is gridSize squared regardless of resolution.
func compareSamples(prev, cur image.Image, gridSize, pixelThreshold int, changeThreshold float64) ChangeResult {
	pb := prev.Bounds()
	cb := cur.Bounds()
	total := gridSize * gridSize
	changed := 0
	for gy := 0; gy < gridSize; gy++ {
		for gx := 0; gx < gridSize; gx++ {
			x := pb.Dx() * (2*gx + 1) / (2 * gridSize)
			y := pb.Dy() * (2*gy + 1) / (2 * gridSize)
			if pixelDiffers(prev.At(pb.Min.X+x, pb.Min.Y+y), cur.At(cb.Min.X+x, cb.Min.Y+y), pixelThreshold) {
				changed++
			}
		}
	}
	fraction := float64(changed) / float64(total)
	return ChangeResult{
		Changed:       fraction >= changeThreshold,
		ChangePercent: fraction * 100,
		Method:        MethodSampling,
	}
}

// comparePixels walks every pixel. Accurate but linear in resolution;
// meant for offline validation, not the capture loop.
func comparePixels(prev, cur image.Image, pixelThreshold int, changeThreshold float64) ChangeResult {
	pb := prev.Bounds()
	cb := cur.Bounds()
	total := pb.Dx() * pb.Dy()
	if total == 0 {
		return ChangeResult{Changed: true, ChangePercent: 100, Method: MethodError}
	}
	changed := 0
	for y := 0; y < pb.Dy(); y++ {
		for x := 0; x < pb.Dx(); x++ {
			if pixelDiffers(prev.At(pb.Min.X+x, pb.Min.Y+y), cur.At(cb.Min.X+x, cb.Min.Y+y), pixelThreshold) {
				changed++
			}
		}
	}
	fraction := float64(changed) / float64(total)
	return ChangeResult{
		Changed:       fraction >= changeThreshold,
		ChangePercent: fraction * 100,
		Method:        MethodPixels,
	}
}

// pixelDiffers applies the per-channel threshold to the RGB channels.
func pixelDiffers(a, b color.Color, threshold int) bool {
	ar, ag, ab, _ := a.RGBA()
	br, bg, bb, _ := b.RGBA()
	t := uint32(threshold)
	return chanDiff(ar>>8, br>>8) > t || chanDiff(ag>>8, bg>>8) > t || chanDiff(ab>>8, bb>>8) > t
}

func chanDiff(a, b uint32) uint32 {
	if a > b {
		return a - b
	}
	return b - a
}

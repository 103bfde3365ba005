package vision

import (
	"context"
	"image"

	"github.com/agenthands/prism/internal/model"
)

var _ Detector = (*HeuristicDetector)(nil)

// HeuristicDetector is the model-free fallback: it splits the frame into
// a coarse cell grid, marks cells whose luminance variance clears a
// threshold, and merges connected marked cells into candidate regions.
// It finds "something is drawn here" boxes, not element types, so every
// detection is a low-confidence panel or unknown.
type HeuristicDetector struct {
	cells        int
	varThreshold float64
}

func NewHeuristicDetector() *HeuristicDetector {
	return &HeuristicDetector{cells: 16, varThreshold: 120}
}

func (d *HeuristicDetector) Name() string { return "heuristic" }

func (d *HeuristicDetector) Detect(_ context.Context, frame *Frame) ([]Detection, error) {
	if frame == nil || frame.Image == nil {
		return nil, nil
	}
	active := d.activeCells(frame.Image)
	regions := mergeCells(active, d.cells)

	cellW := frame.Width / d.cells
	cellH := frame.Height / d.cells
	if cellW == 0 || cellH == 0 {
		return nil, nil
	}

	out := make([]Detection, 0, len(regions))
	for _, r := range regions {
		bbox := model.BBox{
			X1: r.minX * cellW,
			Y1: r.minY * cellH,
			X2: (r.maxX + 1) * cellW,
			Y2: (r.maxY + 1) * cellH,
		}
		t := model.NodeUnknown
		if r.size >= 4 {
			t = model.NodePanel
		}
		out = append(out, Detection{
			Type:       t,
			BBox:       bbox,
			Confidence: 0.3,
			Source:     d.Name(),
		})
	}
	return out, nil
}

// activeCells computes per-cell luminance variance over a subsample of
// pixels and marks cells above the threshold.
func (d *HeuristicDetector) activeCells(img image.Image) []bool {
	b := img.Bounds()
	cellW := b.Dx() / d.cells
	cellH := b.Dy() / d.cells
	active := make([]bool, d.cells*d.cells)
	if cellW == 0 || cellH == 0 {
		return active
	}

	step := cellW / 8
	if step < 1 {
		step = 1
	}
	for cy := 0; cy < d.cells; cy++ {
		for cx := 0; cx < d.cells; cx++ {
			var sum, sumSq float64
			var count int
			for y := cy * cellH; y < (cy+1)*cellH; y += step {
				for x := cx * cellW; x < (cx+1)*cellW; x += step {
					r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
					lum := 0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(bl>>8)
					sum += lum
					sumSq += lum * lum
					count++
				}
			}
			if count == 0 {
				continue
			}
			mean := sum / float64(count)
			variance := sumSq/float64(count) - mean*mean
			active[cy*d.cells+cx] = variance >= d.varThreshold
		}
	}
	return active
}

type cellRegion struct {
	minX, minY, maxX, maxY int
	size                   int
}

// mergeCells groups 4-connected active cells with a flood fill.
func mergeCells(active []bool, cells int) []cellRegion {
	seen := make([]bool, len(active))
	var regions []cellRegion
	for i := range active {
		if !active[i] || seen[i] {
			continue
		}
		r := cellRegion{minX: cells, minY: cells, maxX: -1, maxY: -1}
		stack := []int{i}
		seen[i] = true
		for len(stack) > 0 {
			cur := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			cx, cy := cur%cells, cur/cells
			if cx < r.minX {
				r.minX = cx
			}
			if cx > r.maxX {
				r.maxX = cx
			}
			if cy < r.minY {
				r.minY = cy
			}
			if cy > r.maxY {
				r.maxY = cy
			}
			r.size++
			for _, next := range neighbors(cur, cells) {
				if active[next] && !seen[next] {
					seen[next] = true
					stack = append(stack, next)
				}
			}
		}
		regions = append(regions, r)
	}
	return regions
}

func neighbors(i, cells int) []int {
	cx, cy := i%cells, i/cells
	var out []int
	if cx > 0 {
		out = append(out, i-1)
	}
	if cx < cells-1 {
		out = append(out, i+1)
	}
	if cy > 0 {
		out = append(out, i-cells)
	}
	if cy < cells-1 {
		out = append(out, i+cells)
	}
	return out
}

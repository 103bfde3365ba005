package model

// BBox is a pixel-space bounding box with X1 <= X2 and Y1 <= Y2.
type BBox struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

func (b BBox) Width() int  { return b.X2 - b.X1 }
func (b BBox) Height() int { return b.Y2 - b.Y1 }
func (b BBox) Area() int   { return b.Width() * b.Height() }

func (b BBox) Valid() bool {
	return b.X1 <= b.X2 && b.Y1 <= b.Y2
}

// Center is the midpoint in pixel coordinates, used by region filters.
func (b BBox) Center() (int, int) {
	return (b.X1 + b.X2) / 2, (b.Y1 + b.Y2) / 2
}

func (b BBox) Contains(x, y int) bool {
	return x >= b.X1 && x <= b.X2 && y >= b.Y1 && y <= b.Y2
}

// Normalize maps the box into 0..1 screen-relative coordinates.
// Returns nil when the screen dimensions are not positive.
func (b BBox) Normalize(width, height int) *NormBBox {
	if width <= 0 || height <= 0 {
		return nil
	}
	return &NormBBox{
		X1: float64(b.X1) / float64(width),
		Y1: float64(b.Y1) / float64(height),
		X2: float64(b.X2) / float64(width),
		Y2: float64(b.Y2) / float64(height),
	}
}

type NormBBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

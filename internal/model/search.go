package model

// TimeRange bounds are inclusive epoch-millisecond timestamps.
// A zero bound is unconstrained.
type TimeRange struct {
	Start int64 `json:"start,omitempty"`
	End   int64 `json:"end,omitempty"`
}

func (tr TimeRange) Contains(ts int64) bool {
	if tr.Start != 0 && ts < tr.Start {
		return false
	}
	if tr.End != 0 && ts > tr.End {
		return false
	}
	return true
}

// BBoxRegion matches nodes whose bbox center falls inside the given
// bounds. Nil bounds are unconstrained.
type BBoxRegion struct {
	MinX *int `json:"min_x,omitempty"`
	MaxX *int `json:"max_x,omitempty"`
	MinY *int `json:"min_y,omitempty"`
	MaxY *int `json:"max_y,omitempty"`
}

func (r BBoxRegion) Contains(x, y int) bool {
	if r.MinX != nil && x < *r.MinX {
		return false
	}
	if r.MaxX != nil && x > *r.MaxX {
		return false
	}
	if r.MinY != nil && y < *r.MinY {
		return false
	}
	if r.MaxY != nil && y > *r.MaxY {
		return false
	}
	return true
}

// SearchFilters are applied as a conjunction: a node must pass every
// supplied filter to be ranked.
type SearchFilters struct {
	Types         []NodeType  `json:"types,omitempty"`
	App           string      `json:"app,omitempty"`
	ScreenID      string      `json:"screen_id,omitempty"`
	ClickableOnly bool        `json:"clickable_only,omitempty"`
	VisibleOnly   bool        `json:"visible_only,omitempty"`
	TextContains  string      `json:"text_contains,omitempty"`
	BBoxRegion    *BBoxRegion `json:"bbox_region,omitempty"`
	TimeRange     *TimeRange  `json:"time_range,omitempty"`
}

// NodeResult is a ranked node. The embedded node marshals its fields
// inline so API responses stay flat.
type NodeResult struct {
	UINode
	Score float64 `json:"score"`
}

type ScreenResult struct {
	ID          string  `json:"id"`
	Timestamp   int64   `json:"timestamp"`
	App         string  `json:"app"`
	WindowTitle string  `json:"window_title,omitempty"`
	Description string  `json:"description,omitempty"`
	Score       float64 `json:"score"`
}

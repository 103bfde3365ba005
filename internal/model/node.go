package model

type NodeType string

const (
	NodeButton   NodeType = "button"
	NodeInput    NodeType = "input"
	NodeText     NodeType = "text"
	NodeIcon     NodeType = "icon"
	NodeCheckbox NodeType = "checkbox"
	NodeRadio    NodeType = "radio"
	NodeDropdown NodeType = "dropdown"
	NodeLink     NodeType = "link"
	NodeImage    NodeType = "image"
	NodePanel    NodeType = "panel"
	NodeUnknown  NodeType = "unknown"
)

// Interactive reports whether elements of this type accept user input.
func (t NodeType) Interactive() bool {
	switch t {
	case NodeButton, NodeInput, NodeCheckbox, NodeRadio, NodeDropdown, NodeLink:
		return true
	}
	return false
}

type NodeMetadata struct {
	App              string  `json:"app,omitempty"`
	WindowTitle      string  `json:"window_title,omitempty"`
	URL              string  `json:"url,omitempty"`
	Region           string  `json:"region,omitempty"` // coarse screen position tag, e.g. "top-left"
	Source           string  `json:"source,omitempty"` // detector that produced the element
	SourceConfidence float64 `json:"source_confidence,omitempty"`
}

type UINode struct {
	ID            string       `json:"id"`
	Type          NodeType     `json:"type"`
	Text          string       `json:"text,omitempty"`
	Description   string       `json:"description"`
	BBox          BBox         `json:"bbox"`
	NormBBox      *NormBBox    `json:"normalized_bbox,omitempty"`
	ParentID      string       `json:"parent_id,omitempty"` // owning subtree, weak reference
	Embedding     []float32    `json:"embedding,omitempty"`
	Confidence    float64      `json:"confidence"`
	Clickable     bool         `json:"clickable"`
	Visible       bool         `json:"visible"`
	Interactive   bool         `json:"interactive"`
	Metadata      NodeMetadata `json:"metadata"`
	Timestamp     int64        `json:"timestamp"` // capture time, epoch ms
	ScreenStateID string       `json:"screen_state_id"`
}

type UISubtree struct {
	ID            string    `json:"id"`
	ScreenStateID string    `json:"screen_state_id"`
	Description   string    `json:"description"`
	BBox          BBox      `json:"bbox"`
	NodeIDs       []string  `json:"node_ids"`
	Embedding     []float32 `json:"embedding,omitempty"`
	Timestamp     int64     `json:"timestamp"`
}

package screen

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/agenthands/prism/internal/model"
	"github.com/agenthands/prism/internal/vision"
)

// Builder assembles a screen state from a captured frame and provider
// output: OCR words merge into the detections they overlap, leftover
// words become text nodes, panel detections group their members into
// subtrees, and every record gets a synthesized description for
// embedding.
type Builder struct{}

func NewBuilder() *Builder { return &Builder{} }

// Build tolerates nil detections (fast mode) and nil OCR; whatever is
// present still produces a valid screen state.
func (b *Builder) Build(frame *vision.Frame, win *vision.ActiveWindow, detections []vision.Detection, ocr *vision.OCRResult) *model.UIScreenState {
	ss := &model.UIScreenState{
		ID:        uuid.New().String(),
		Timestamp: frame.Timestamp,
		Dimensions: model.ScreenDimensions{
			Width:  frame.Width,
			Height: frame.Height,
		},
	}
	if win != nil {
		ss.App = win.App
		ss.WindowTitle = win.Title
	}

	var words []vision.OCRWord
	if ocr != nil {
		words = ocr.Words
	}
	consumed := make([]bool, len(words))

	var panels []vision.Detection
	for _, det := range detections {
		if det.Type == model.NodePanel {
			panels = append(panels, det)
			continue
		}
		node := b.newNode(ss, det.Type, det.BBox, det.Confidence, det.Source, frame)
		node.Text = det.Text
		if merged := mergeWords(det.BBox, words, consumed); merged != "" && node.Text == "" {
			node.Text = merged
		}
		node.Description = describeNode(node)
		ss.Nodes = append(ss.Nodes, *node)
	}

	// Leftover OCR words stand alone as text nodes.
	for i, w := range words {
		if consumed[i] || strings.TrimSpace(w.Text) == "" {
			continue
		}
		node := b.newNode(ss, model.NodeText, w.BBox, w.Confidence, "ocr", frame)
		node.Text = strings.TrimSpace(w.Text)
		node.Description = describeNode(node)
		ss.Nodes = append(ss.Nodes, *node)
	}

	for _, panel := range panels {
		members := memberIndices(ss.Nodes, panel.BBox)
		if len(members) == 0 {
			node := b.newNode(ss, model.NodePanel, panel.BBox, panel.Confidence, panel.Source, frame)
			node.Text = panel.Text
			node.Description = describeNode(node)
			ss.Nodes = append(ss.Nodes, *node)
			continue
		}
		subtree := model.UISubtree{
			ID:            uuid.New().String(),
			ScreenStateID: ss.ID,
			BBox:          panel.BBox,
			Timestamp:     frame.Timestamp,
		}
		var texts []string
		for _, i := range members {
			ss.Nodes[i].ParentID = subtree.ID
			subtree.NodeIDs = append(subtree.NodeIDs, ss.Nodes[i].ID)
			if t := ss.Nodes[i].Text; t != "" && len(texts) < 3 {
				texts = append(texts, t)
			}
		}
		subtree.Description = describeSubtree(len(members), texts)
		ss.Subtrees = append(ss.Subtrees, subtree)
	}

	ss.Description = describeScreen(ss.Nodes)
	return ss
}

func (b *Builder) newNode(ss *model.UIScreenState, t model.NodeType, bbox model.BBox, confidence float64, source string, frame *vision.Frame) *model.UINode {
	if t == "" {
		t = model.NodeUnknown
	}
	interactive := t.Interactive()
	return &model.UINode{
		ID:            uuid.New().String(),
		Type:          t,
		BBox:          bbox,
		NormBBox:      bbox.Normalize(frame.Width, frame.Height),
		Confidence:    confidence,
		Clickable:     interactive,
		Visible:       true,
		Interactive:   interactive,
		Timestamp:     frame.Timestamp,
		ScreenStateID: ss.ID,
		Metadata: model.NodeMetadata{
			App:              ss.App,
			WindowTitle:      ss.WindowTitle,
			Region:           regionTag(bbox, frame.Width, frame.Height),
			Source:           source,
			SourceConfidence: confidence,
		},
	}
}

// mergeWords joins the OCR words whose centers fall inside the bbox, in
// reading order, and marks them consumed.
func mergeWords(bbox model.BBox, words []vision.OCRWord, consumed []bool) string {
	type hit struct {
		i    int
		word vision.OCRWord
	}
	var hits []hit
	for i, w := range words {
		if consumed[i] {
			continue
		}
		cx, cy := w.BBox.Center()
		if bbox.Contains(cx, cy) {
			hits = append(hits, hit{i: i, word: w})
		}
	}
	if len(hits) == 0 {
		return ""
	}
	sort.SliceStable(hits, func(a, b int) bool {
		if hits[a].word.BBox.Y1 != hits[b].word.BBox.Y1 {
			return hits[a].word.BBox.Y1 < hits[b].word.BBox.Y1
		}
		return hits[a].word.BBox.X1 < hits[b].word.BBox.X1
	})
	parts := make([]string, 0, len(hits))
	for _, h := range hits {
		consumed[h.i] = true
		if t := strings.TrimSpace(h.word.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

func memberIndices(nodes []model.UINode, bbox model.BBox) []int {
	var members []int
	for i := range nodes {
		if nodes[i].ParentID != "" {
			continue
		}
		cx, cy := nodes[i].BBox.Center()
		if bbox.Contains(cx, cy) {
			members = append(members, i)
		}
	}
	return members
}

func describeNode(n *model.UINode) string {
	if n.Text != "" {
		return fmt.Sprintf("%s: %q", n.Type, n.Text)
	}
	cx, cy := n.BBox.Center()
	return fmt.Sprintf("%s at (%d,%d)", n.Type, cx, cy)
}

func describeSubtree(memberCount int, texts []string) string {
	desc := fmt.Sprintf("panel with %d elements", memberCount)
	if memberCount == 1 {
		desc = "panel with 1 element"
	}
	if len(texts) > 0 {
		desc += ": " + strings.Join(texts, ", ")
	}
	return desc
}

// describeScreen aggregates node types into a short summary such as
// "screen with 3 buttons, 1 input, 5 texts".
func describeScreen(nodes []model.UINode) string {
	if len(nodes) == 0 {
		return "empty screen"
	}
	counts := make(map[model.NodeType]int)
	for i := range nodes {
		counts[nodes[i].Type]++
	}
	types := make([]string, 0, len(counts))
	for t := range counts {
		types = append(types, string(t))
	}
	sort.Slice(types, func(a, b int) bool {
		if counts[model.NodeType(types[a])] != counts[model.NodeType(types[b])] {
			return counts[model.NodeType(types[a])] > counts[model.NodeType(types[b])]
		}
		return types[a] < types[b]
	})
	parts := make([]string, 0, len(types))
	for _, t := range types {
		c := counts[model.NodeType(t)]
		label := t
		if c != 1 {
			label += "s"
		}
		parts = append(parts, fmt.Sprintf("%d %s", c, label))
	}
	return "screen with " + strings.Join(parts, ", ")
}

// regionTag names the 3x3 grid cell holding the bbox center.
func regionTag(bbox model.BBox, width, height int) string {
	if width <= 0 || height <= 0 {
		return ""
	}
	cx, cy := bbox.Center()
	col := cx * 3 / width
	row := cy * 3 / height
	if col < 0 {
		col = 0
	}
	if col > 2 {
		col = 2
	}
	if row < 0 {
		row = 0
	}
	if row > 2 {
		row = 2
	}
	names := [3][3]string{
		{"top-left", "top-center", "top-right"},
		{"middle-left", "center", "middle-right"},
		{"bottom-left", "bottom-center", "bottom-right"},
	}
	return names[row][col]
}

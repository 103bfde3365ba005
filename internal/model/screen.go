package model

type ScreenDimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// UIScreenState is one timestamped capture of the screen together with
// every element detected on it. Immutable after indexing except deletion.
type UIScreenState struct {
	ID          string           `json:"id"`
	Timestamp   int64            `json:"timestamp"` // epoch ms
	App         string           `json:"app"`
	WindowTitle string           `json:"window_title,omitempty"`
	URL         string           `json:"url,omitempty"`
	Dimensions  ScreenDimensions `json:"screen_dimensions"`
	Description string           `json:"description,omitempty"`
	Embedding   []float32        `json:"embedding,omitempty"`
	Nodes       []UINode         `json:"nodes"`
	Subtrees    []UISubtree      `json:"subtrees,omitempty"`
}

// ScreenSummary is a timeline entry: enough to pick a screen without
// loading its full tree.
type ScreenSummary struct {
	ID          string `json:"id"`
	Timestamp   int64  `json:"timestamp"`
	App         string `json:"app"`
	WindowTitle string `json:"window_title,omitempty"`
	Description string `json:"description,omitempty"`
	NodeCount   int    `json:"node_count"`
}

type StoreStats struct {
	Nodes     int64 `json:"nodes"`
	Subtrees  int64 `json:"subtrees"`
	Screens   int64 `json:"screens"`
	SizeBytes int64 `json:"size_bytes"`
}

package index

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/agenthands/prism/internal/embed"
	"github.com/agenthands/prism/internal/model"
	"github.com/agenthands/prism/internal/store"
)

// Search defaults, overridable per request.
const (
	DefaultK             = 5
	DefaultMinScore      = 0.0
	DefaultTimelineLimit = 100
)

// ValidationError rejects malformed input at the index boundary; it
// never reaches the store.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

type SearchRequest struct {
	Query    string              `json:"query"`
	Filters  model.SearchFilters `json:"filters"`
	K        int                 `json:"k"`         // 0 means DefaultK
	MinScore float64             `json:"min_score"` // 0 means DefaultMinScore
}

type SearchResponse struct {
	Results []model.NodeResult `json:"results"`
	Count   int                `json:"count"`
}

// SemanticIndex owns the embed-then-persist pipeline and serves hybrid
// queries. One instance is built by the process entry point and shared
// between the background watcher and the query routes.
type SemanticIndex struct {
	store    store.Store
	embedder embed.EmbedderClient
	searcher embed.EmbedderClient

	initOnce  sync.Once
	initErr   error
	closeOnce sync.Once
}

// New wires the index. searchEmbedder may be nil, in which case queries
// embed through the same client as indexing.
func New(st store.Store, embedder embed.EmbedderClient, searchEmbedder embed.EmbedderClient) *SemanticIndex {
	if searchEmbedder == nil {
		searchEmbedder = embedder
	}
	return &SemanticIndex{store: st, embedder: embedder, searcher: searchEmbedder}
}

// Initialize is optional and idempotent; every operation initializes
// lazily on first use. Concurrent callers observe a single init.
func (idx *SemanticIndex) Initialize(ctx context.Context) error {
	return idx.ensureInit(ctx)
}

func (idx *SemanticIndex) ensureInit(ctx context.Context) error {
	idx.initOnce.Do(func() {
		if idx.store == nil {
			idx.initErr = fmt.Errorf("no store configured")
			return
		}
		if idx.embedder == nil {
			idx.initErr = fmt.Errorf("no embedder configured")
			return
		}
		if d := idx.embedder.Dimension(); d <= 0 {
			idx.initErr = fmt.Errorf("embedder reports dimension %d", d)
			return
		}
		if sd := idx.searcher.Dimension(); sd != idx.embedder.Dimension() {
			idx.initErr = fmt.Errorf("search embedder dimension %d does not match index dimension %d", sd, idx.embedder.Dimension())
			return
		}
		if _, err := idx.store.Stats(ctx); err != nil {
			idx.initErr = fmt.Errorf("store unavailable: %w", err)
		}
	})
	return idx.initErr
}

// IndexScreenState embeds every node/subtree/screen description that
// still lacks a vector in one batch call, then persists the whole tree.
// Records with empty descriptions persist without embeddings and never
// rank in vector search.
func (idx *SemanticIndex) IndexScreenState(ctx context.Context, ss *model.UIScreenState) error {
	if err := idx.ensureInit(ctx); err != nil {
		return err
	}
	if err := validateScreenState(ss); err != nil {
		return err
	}

	var texts []string
	var assign []func([]float32)

	if len(ss.Embedding) == 0 && ss.Description != "" {
		texts = append(texts, ss.Description)
		assign = append(assign, func(v []float32) { ss.Embedding = v })
	}
	for i := range ss.Nodes {
		n := &ss.Nodes[i]
		if len(n.Embedding) == 0 && n.Description != "" {
			texts = append(texts, n.Description)
			assign = append(assign, func(v []float32) { n.Embedding = v })
		}
	}
	for i := range ss.Subtrees {
		st := &ss.Subtrees[i]
		if len(st.Embedding) == 0 && st.Description != "" {
			texts = append(texts, st.Description)
			assign = append(assign, func(v []float32) { st.Embedding = v })
		}
	}

	if len(texts) > 0 {
		vecs, err := idx.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed screen %s: %w", ss.ID, err)
		}
		if len(vecs) != len(texts) {
			return fmt.Errorf("embed screen %s: expected %d vectors, got %d", ss.ID, len(texts), len(vecs))
		}
		for i, set := range assign {
			set(vecs[i])
		}
	}

	return idx.store.InsertScreenState(ctx, ss)
}

func (idx *SemanticIndex) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	if err := idx.ensureInit(ctx); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Query) == "" {
		return nil, &ValidationError{Field: "query", Reason: "required"}
	}
	k := req.K
	if k <= 0 {
		k = DefaultK
	}
	vec, err := idx.searcher.Embed(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	results, err := idx.store.SearchNodes(ctx, vec, req.Filters, k, req.MinScore)
	if err != nil {
		return nil, err
	}
	return &SearchResponse{Results: results, Count: len(results)}, nil
}

func (idx *SemanticIndex) SearchHistory(ctx context.Context, query string, tr model.TimeRange, k int) ([]model.ScreenResult, error) {
	if err := idx.ensureInit(ctx); err != nil {
		return nil, err
	}
	if strings.TrimSpace(query) == "" {
		return nil, &ValidationError{Field: "query", Reason: "required"}
	}
	if k <= 0 {
		k = DefaultK
	}
	vec, err := idx.searcher.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return idx.store.SearchScreenStates(ctx, vec, tr, k)
}

func (idx *SemanticIndex) Timeline(ctx context.Context, tr model.TimeRange, limit int) ([]model.ScreenSummary, error) {
	if err := idx.ensureInit(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultTimelineLimit
	}
	return idx.store.ListScreenStates(ctx, tr, limit)
}

func (idx *SemanticIndex) GetScreen(ctx context.Context, id string) (*model.UIScreenState, error) {
	if err := idx.ensureInit(ctx); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, &ValidationError{Field: "id", Reason: "required"}
	}
	return idx.store.GetScreenState(ctx, id)
}

// Cleanup removes every screen state older than the given age and
// returns how many were deleted.
func (idx *SemanticIndex) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	if err := idx.ensureInit(ctx); err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-olderThan).UnixMilli()
	return idx.store.DeleteOldScreenStates(ctx, cutoff)
}

func (idx *SemanticIndex) Stats(ctx context.Context) (model.StoreStats, error) {
	if err := idx.ensureInit(ctx); err != nil {
		return model.StoreStats{}, err
	}
	return idx.store.Stats(ctx)
}

func (idx *SemanticIndex) Compact(ctx context.Context) error {
	if err := idx.ensureInit(ctx); err != nil {
		return err
	}
	return idx.store.Compact(ctx)
}

func (idx *SemanticIndex) Clear(ctx context.Context) error {
	if err := idx.ensureInit(ctx); err != nil {
		return err
	}
	return idx.store.Clear(ctx)
}

// Close is idempotent; repeated calls return nil.
func (idx *SemanticIndex) Close(ctx context.Context) error {
	var err error
	idx.closeOnce.Do(func() {
		if idx.store != nil {
			err = idx.store.Close(ctx)
		}
	})
	return err
}

func validateScreenState(ss *model.UIScreenState) error {
	if ss == nil {
		return &ValidationError{Field: "screen_state", Reason: "missing"}
	}
	if ss.ID == "" {
		return &ValidationError{Field: "id", Reason: "required"}
	}
	if ss.Dimensions.Width <= 0 || ss.Dimensions.Height <= 0 {
		return &ValidationError{Field: "screen_dimensions", Reason: "must be positive"}
	}
	for i := range ss.Nodes {
		n := &ss.Nodes[i]
		if n.ID == "" {
			return &ValidationError{Field: "nodes", Reason: fmt.Sprintf("node %d has no id", i)}
		}
		if !n.BBox.Valid() {
			return &ValidationError{Field: "nodes", Reason: fmt.Sprintf("node %s has an inverted bbox", n.ID)}
		}
		if n.ScreenStateID == "" {
			n.ScreenStateID = ss.ID
		} else if n.ScreenStateID != ss.ID {
			return &ValidationError{Field: "nodes", Reason: fmt.Sprintf("node %s belongs to screen %s", n.ID, n.ScreenStateID)}
		}
	}
	for i := range ss.Subtrees {
		st := &ss.Subtrees[i]
		if st.ID == "" {
			return &ValidationError{Field: "subtrees", Reason: fmt.Sprintf("subtree %d has no id", i)}
		}
		if !st.BBox.Valid() {
			return &ValidationError{Field: "subtrees", Reason: fmt.Sprintf("subtree %s has an inverted bbox", st.ID)}
		}
		if st.ScreenStateID == "" {
			st.ScreenStateID = ss.ID
		} else if st.ScreenStateID != ss.ID {
			return &ValidationError{Field: "subtrees", Reason: fmt.Sprintf("subtree %s belongs to screen %s", st.ID, st.ScreenStateID)}
		}
	}
	return nil
}

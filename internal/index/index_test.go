package index

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/prism/internal/model"
	"github.com/agenthands/prism/internal/store"
)

func newMockIndex(t *testing.T) (*SemanticIndex, *MockStore, *MockEmbedder) {
	t.Helper()
	st := &MockStore{}
	emb := &MockEmbedder{Dim: 4}
	return New(st, emb, nil), st, emb
}

func validScreen() *model.UIScreenState {
	return &model.UIScreenState{
		ID:          "s1",
		Timestamp:   1000,
		App:         "Editor",
		Dimensions:  model.ScreenDimensions{Width: 1920, Height: 1080},
		Description: "screen with 1 button",
		Nodes: []model.UINode{{
			ID:          "n1",
			Type:        model.NodeButton,
			Text:        "Save",
			Description: `button: "Save"`,
			BBox:        model.BBox{X1: 10, Y1: 10, X2: 100, Y2: 40},
		}},
	}
}

func TestIndexScreenStateBatchesEmbeddings(t *testing.T) {
	idx, st, emb := newMockIndex(t)
	ctx := context.Background()

	preEmbedded := []float32{9, 9, 9, 9}
	ss := validScreen()
	ss.Nodes = append(ss.Nodes,
		model.UINode{ID: "n2", Type: model.NodeText, Description: "", BBox: model.BBox{X2: 1, Y2: 1}},
		model.UINode{ID: "n3", Type: model.NodeText, Description: `text: "Hello"`, BBox: model.BBox{X2: 1, Y2: 1}, Embedding: preEmbedded},
	)
	ss.Subtrees = []model.UISubtree{{
		ID:          "t1",
		Description: "panel with 1 element",
		BBox:        model.BBox{X2: 10, Y2: 10},
	}}

	require.NoError(t, idx.IndexScreenState(ctx, ss))

	// Everything missing a vector goes through one batch call.
	require.Equal(t, 1, emb.BatchCalls)
	require.Len(t, emb.BatchTexts, 1)
	assert.Equal(t, []string{
		"screen with 1 button",
		`button: "Save"`,
		"panel with 1 element",
	}, emb.BatchTexts[0])

	require.Len(t, st.Inserted, 1)
	got := st.Inserted[0]
	assert.NotEmpty(t, got.Embedding)
	assert.NotEmpty(t, got.Nodes[0].Embedding)
	assert.Empty(t, got.Nodes[1].Embedding, "blank descriptions stay unembedded")
	assert.Equal(t, preEmbedded, got.Nodes[2].Embedding, "existing vectors are kept")
	assert.NotEmpty(t, got.Subtrees[0].Embedding)
}

func TestIndexScreenStateNoTextsSkipsEmbedder(t *testing.T) {
	idx, st, emb := newMockIndex(t)

	ss := validScreen()
	ss.Description = ""
	ss.Nodes[0].Embedding = []float32{1, 2, 3, 4}

	require.NoError(t, idx.IndexScreenState(context.Background(), ss))
	assert.Zero(t, emb.BatchCalls)
	assert.Len(t, st.Inserted, 1)
}

func TestIndexScreenStateEmbedFailure(t *testing.T) {
	idx, st, emb := newMockIndex(t)
	require.NoError(t, idx.Initialize(context.Background()))

	emb.Err = errors.New("model offline")
	err := idx.IndexScreenState(context.Background(), validScreen())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "embed screen s1")
	assert.Empty(t, st.Inserted, "nothing persists when embedding fails")
}

func TestIndexScreenStateValidation(t *testing.T) {
	idx, _, _ := newMockIndex(t)
	ctx := context.Background()

	var verr *ValidationError

	err := idx.IndexScreenState(ctx, nil)
	require.ErrorAs(t, err, &verr)

	ss := validScreen()
	ss.ID = ""
	require.ErrorAs(t, idx.IndexScreenState(ctx, ss), &verr)
	assert.Equal(t, "id", verr.Field)

	ss = validScreen()
	ss.Dimensions.Width = 0
	require.ErrorAs(t, idx.IndexScreenState(ctx, ss), &verr)
	assert.Equal(t, "screen_dimensions", verr.Field)

	ss = validScreen()
	ss.Nodes[0].BBox = model.BBox{X1: 100, Y1: 10, X2: 10, Y2: 40}
	require.ErrorAs(t, idx.IndexScreenState(ctx, ss), &verr)
	assert.Equal(t, "nodes", verr.Field)

	ss = validScreen()
	ss.Nodes[0].ScreenStateID = "someone-else"
	require.ErrorAs(t, idx.IndexScreenState(ctx, ss), &verr)
}

func TestIndexScreenStateFillsChildScreenID(t *testing.T) {
	idx, st, _ := newMockIndex(t)

	ss := validScreen()
	ss.Nodes[0].ScreenStateID = ""
	require.NoError(t, idx.IndexScreenState(context.Background(), ss))
	require.Len(t, st.Inserted, 1)
	assert.Equal(t, "s1", st.Inserted[0].Nodes[0].ScreenStateID)
}

func TestSearchDefaults(t *testing.T) {
	idx, st, _ := newMockIndex(t)
	st.NodeResults = []model.NodeResult{
		{UINode: model.UINode{ID: "n1"}, Score: 0.9},
		{UINode: model.UINode{ID: "n2"}, Score: 0.7},
	}

	resp, err := idx.Search(context.Background(), SearchRequest{Query: "save button"})
	require.NoError(t, err)
	assert.Equal(t, DefaultK, st.LastK)
	assert.Equal(t, DefaultMinScore, st.LastMinScore)
	assert.Equal(t, 2, resp.Count)
	assert.Len(t, resp.Results, 2)
}

func TestSearchPassesFiltersAndOverrides(t *testing.T) {
	idx, st, _ := newMockIndex(t)

	filters := model.SearchFilters{App: "Editor", ClickableOnly: true}
	_, err := idx.Search(context.Background(), SearchRequest{
		Query:    "save button",
		Filters:  filters,
		K:        3,
		MinScore: 0.25,
	})
	require.NoError(t, err)
	assert.Equal(t, filters, st.LastFilters)
	assert.Equal(t, 3, st.LastK)
	assert.Equal(t, 0.25, st.LastMinScore)
	assert.Len(t, st.LastQueryVec, 4)
}

func TestSearchEmptyQuery(t *testing.T) {
	idx, _, _ := newMockIndex(t)

	var verr *ValidationError
	_, err := idx.Search(context.Background(), SearchRequest{Query: "   "})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "query", verr.Field)
}

func TestSearchHistoryDelegates(t *testing.T) {
	idx, st, _ := newMockIndex(t)
	st.ScreenResults = []model.ScreenResult{{ID: "s1", Score: 0.8}}

	tr := model.TimeRange{Start: 100, End: 200}
	results, err := idx.SearchHistory(context.Background(), "editing a document", tr, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, tr, st.LastRange)
	assert.Equal(t, DefaultK, st.LastK)

	var verr *ValidationError
	_, err = idx.SearchHistory(context.Background(), "", tr, 5)
	require.ErrorAs(t, err, &verr)
}

func TestTimelineDefaultLimit(t *testing.T) {
	idx, st, _ := newMockIndex(t)

	_, err := idx.Timeline(context.Background(), model.TimeRange{}, 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultTimelineLimit, st.LastLimit)

	_, err = idx.Timeline(context.Background(), model.TimeRange{}, 7)
	require.NoError(t, err)
	assert.Equal(t, 7, st.LastLimit)
}

func TestGetScreen(t *testing.T) {
	idx, st, _ := newMockIndex(t)
	st.Screen = validScreen()

	got, err := idx.GetScreen(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", got.ID)

	_, err = idx.GetScreen(context.Background(), "unknown")
	assert.ErrorIs(t, err, store.ErrNotFound)

	var verr *ValidationError
	_, err = idx.GetScreen(context.Background(), "")
	require.ErrorAs(t, err, &verr)
}

func TestCleanupCutoff(t *testing.T) {
	idx, st, _ := newMockIndex(t)
	st.DeleteCount = 4

	deleted, err := idx.Cleanup(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 4, deleted)

	want := time.Now().Add(-time.Hour).UnixMilli()
	assert.InDelta(t, want, st.LastBefore, 2000, "cutoff is now minus the retention age")
}

func TestInitializeOnce(t *testing.T) {
	idx, st, _ := newMockIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Initialize(ctx))
	require.NoError(t, idx.Initialize(ctx))
	assert.Equal(t, 1, st.StatsCalls, "init probes the store once")
}

func TestInitializeDimensionMismatch(t *testing.T) {
	st := &MockStore{}
	idx := New(st, &MockEmbedder{Dim: 64}, &MockEmbedder{Dim: 128})

	err := idx.Initialize(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dimension")
}

func TestInitializeRequiresComponents(t *testing.T) {
	err := New(nil, &MockEmbedder{Dim: 4}, nil).Initialize(context.Background())
	assert.Error(t, err)

	err = New(&MockStore{}, nil, nil).Initialize(context.Background())
	assert.Error(t, err)

	err = New(&MockStore{}, &MockEmbedder{Dim: 0}, nil).Initialize(context.Background())
	assert.Error(t, err)
}

func TestCloseIdempotent(t *testing.T) {
	idx, st, _ := newMockIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Close(ctx))
	require.NoError(t, idx.Close(ctx))
	assert.Equal(t, 1, st.CloseCalls)
}

func TestStatsCompactClearDelegate(t *testing.T) {
	idx, st, _ := newMockIndex(t)
	ctx := context.Background()
	st.StoreStats = model.StoreStats{Nodes: 12, Screens: 3}

	stats, err := idx.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(12), stats.Nodes)

	require.NoError(t, idx.Compact(ctx))
	assert.Equal(t, 1, st.CompactCalls)

	require.NoError(t, idx.Clear(ctx))
	assert.Equal(t, 1, st.ClearCalls)
}

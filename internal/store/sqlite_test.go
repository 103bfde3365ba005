package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/prism/internal/config"
	"github.com/agenthands/prism/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "prism.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func testScreen(id string, ts int64, app string, nodes ...model.UINode) *model.UIScreenState {
	for i := range nodes {
		nodes[i].ScreenStateID = id
		if nodes[i].Timestamp == 0 {
			nodes[i].Timestamp = ts
		}
		if nodes[i].Metadata.App == "" {
			nodes[i].Metadata.App = app
		}
	}
	return &model.UIScreenState{
		ID:         id,
		Timestamp:  ts,
		App:        app,
		Dimensions: model.ScreenDimensions{Width: 1920, Height: 1080},
		Embedding:  []float32{0.5, 0.5, 0},
		Nodes:      nodes,
	}
}

func testNode(id string, typ model.NodeType, text string, emb []float32) model.UINode {
	return model.UINode{
		ID:          id,
		Type:        typ,
		Text:        text,
		Description: fmt.Sprintf("%s: %q", typ, text),
		BBox:        model.BBox{X1: 10, Y1: 20, X2: 110, Y2: 60},
		Embedding:   emb,
		Confidence:  0.9,
		Clickable:   typ.Interactive(),
		Visible:     true,
		Interactive: typ.Interactive(),
	}
}

func TestInsertScreenStateIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := testScreen("s1", 1000, "Editor",
		testNode("n1", model.NodeButton, "Save", []float32{1, 0, 0}),
		testNode("n2", model.NodeText, "Hello", []float32{0, 1, 0}),
	)
	require.NoError(t, s.InsertScreenState(ctx, first))

	// Same id, different content: the second write wins wholesale.
	second := testScreen("s1", 2000, "Editor",
		testNode("n3", model.NodeInput, "Name", []float32{0, 0, 1}),
	)
	require.NoError(t, s.InsertScreenState(ctx, second))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Screens)
	assert.Equal(t, int64(1), stats.Nodes)

	got, err := s.GetScreenState(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(2000), got.Timestamp)
	require.Len(t, got.Nodes, 1)
	assert.Equal(t, "n3", got.Nodes[0].ID)
}

func TestSearchNodesOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ss := testScreen("s1", 1000, "Editor",
		testNode("far", model.NodeText, "unrelated", []float32{0, 1, 0}),
		testNode("near", model.NodeButton, "save", []float32{1, 0, 0}),
		testNode("mid", model.NodeText, "saving", []float32{0.7, 0.3, 0}),
	)
	require.NoError(t, s.InsertScreenState(ctx, ss))

	query := []float32{1, 0, 0}
	results, err := s.SearchNodes(ctx, query, model.SearchFilters{}, 10, 0.0)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "near", results[0].ID)
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score, "scores must descend")
	}

	// minScore drops the orthogonal candidate.
	results, err = s.SearchNodes(ctx, query, model.SearchFilters{}, 10, 0.5)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.GreaterOrEqual(t, r.Score, 0.5)
	}

	// k truncates after ranking.
	results, err = s.SearchNodes(ctx, query, model.SearchFilters{}, 1, 0.0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "near", results[0].ID)
}

func TestSearchNodesFilterConjunction(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	emb := []float32{1, 0, 0}
	save := testNode("save", model.NodeButton, "Save", emb)
	cancel := testNode("cancel", model.NodeButton, "Cancel", emb)
	label := testNode("label", model.NodeText, "Save your work", emb)
	otherApp := testNode("other", model.NodeButton, "Save", emb)
	otherApp.Metadata.App = "Browser"

	ss := testScreen("s1", 1000, "Editor", save, cancel, label)
	require.NoError(t, s.InsertScreenState(ctx, ss))
	ss2 := testScreen("s2", 1000, "Browser", otherApp)
	require.NoError(t, s.InsertScreenState(ctx, ss2))

	minX := 0
	maxX := 500
	filters := model.SearchFilters{
		Types:         []model.NodeType{model.NodeButton, model.NodeText},
		App:           "Editor",
		ClickableOnly: true,
		TextContains:  "save",
		BBoxRegion:    &model.BBoxRegion{MinX: &minX, MaxX: &maxX},
		TimeRange:     &model.TimeRange{Start: 500, End: 1500},
	}
	results, err := s.SearchNodes(ctx, emb, filters, 10, 0.0)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	for _, r := range results {
		assert.Equal(t, "Editor", r.Metadata.App)
		assert.True(t, r.Clickable)
		assert.Contains(t, []model.NodeType{model.NodeButton, model.NodeText}, r.Type)
		cx, _ := r.BBox.Center()
		assert.GreaterOrEqual(t, cx, minX)
		assert.LessOrEqual(t, cx, maxX)
		assert.True(t, r.Timestamp >= 500 && r.Timestamp <= 1500)
	}
	// Only the Editor save button passes every filter.
	require.Len(t, results, 1)
	assert.Equal(t, "save", results[0].ID)
}

func TestSearchNodesScreenIDFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	emb := []float32{1, 0, 0}
	require.NoError(t, s.InsertScreenState(ctx, testScreen("s1", 1000, "Editor", testNode("a", model.NodeButton, "Save", emb))))
	require.NoError(t, s.InsertScreenState(ctx, testScreen("s2", 2000, "Editor", testNode("b", model.NodeButton, "Save", emb))))

	results, err := s.SearchNodes(ctx, emb, model.SearchFilters{ScreenID: "s2"}, 10, 0.0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "b", results[0].ID)
	assert.Equal(t, "s2", results[0].ScreenStateID)
}

func TestSearchNodesExcludesEmbeddingless(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	withVec := testNode("ranked", model.NodeButton, "Save", []float32{1, 0, 0})
	noVec := testNode("unranked", model.NodeButton, "Save", nil)
	require.NoError(t, s.InsertScreenState(ctx, testScreen("s1", 1000, "Editor", withVec, noVec)))

	results, err := s.SearchNodes(ctx, []float32{1, 0, 0}, model.SearchFilters{}, 10, -1.0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "ranked", results[0].ID)

	// The row itself is still persisted and readable.
	got, err := s.GetScreenState(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, got.Nodes, 2)
}

func TestSearchNodesTextContainsCaseInsensitive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	emb := []float32{1, 0, 0}
	require.NoError(t, s.InsertScreenState(ctx, testScreen("s1", 1000, "Editor",
		testNode("a", model.NodeButton, "SAVE FILE", emb),
		testNode("b", model.NodeButton, "Cancel", emb),
	)))

	results, err := s.SearchNodes(ctx, emb, model.SearchFilters{TextContains: "save"}, 10, 0.0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ID)
}

func TestSearchNodesTextContainsFoldsNonASCII(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	emb := []float32{1, 0, 0}
	require.NoError(t, s.InsertScreenState(ctx, testScreen("s1", 1000, "Browser",
		testNode("a", model.NodeText, "ÄRZTE IN DER NÄHE", emb),
		testNode("b", model.NodeText, "Cafés nearby", emb),
	)))

	results, err := s.SearchNodes(ctx, emb, model.SearchFilters{TextContains: "ärzte"}, 10, 0.0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ID)

	results, err = s.SearchNodes(ctx, emb, model.SearchFilters{TextContains: "CAFÉS"}, 10, 0.0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "b", results[0].ID)
}

func TestBBoxRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n := testNode("n1", model.NodeButton, "Save", []float32{1, 0, 0})
	n.BBox = model.BBox{X1: 800, Y1: 900, X2: 900, Y2: 940}
	n.NormBBox = &model.NormBBox{X1: 0.41, Y1: 0.83, X2: 0.46, Y2: 0.87}
	require.NoError(t, s.InsertScreenState(ctx, testScreen("s1", 1000, "Editor", n)))

	got, err := s.GetScreenState(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, got.Nodes, 1)
	assert.Equal(t, model.BBox{X1: 800, Y1: 900, X2: 900, Y2: 940}, got.Nodes[0].BBox)
	require.NotNil(t, got.Nodes[0].NormBBox)
	assert.InDelta(t, 0.41, got.Nodes[0].NormBBox.X1, 1e-9)
	assert.InDelta(t, 0.87, got.Nodes[0].NormBBox.Y2, 1e-9)
}

func TestDeleteOldScreenStates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, ts := range []int64{1000, 2000, 3000} {
		id := fmt.Sprintf("s%d", i)
		require.NoError(t, s.InsertScreenState(ctx, testScreen(id, ts, "Editor",
			testNode(id+"-n", model.NodeButton, "Save", []float32{1, 0, 0}))))
	}

	before, err := s.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(3), before.Screens)

	deleted, err := s.DeleteOldScreenStates(ctx, 3000)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	after, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, before.Screens-int64(deleted), after.Screens)
	assert.Equal(t, int64(1), after.Nodes, "cascade must remove child nodes")

	// Nothing older than the cutoff remains reachable.
	results, err := s.SearchNodes(ctx, []float32{1, 0, 0}, model.SearchFilters{}, 10, -1.0)
	require.NoError(t, err)
	for _, r := range results {
		assert.GreaterOrEqual(t, r.Timestamp, int64(3000))
	}
	screens, err := s.SearchScreenStates(ctx, []float32{0.5, 0.5, 0}, model.TimeRange{}, 10)
	require.NoError(t, err)
	for _, sc := range screens {
		assert.GreaterOrEqual(t, sc.Timestamp, int64(3000))
	}

	// No-op when nothing qualifies.
	deleted, err = s.DeleteOldScreenStates(ctx, 1000)
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestSearchScreenStatesTimeRange(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, ts := range []int64{1000, 2000, 3000} {
		ss := testScreen(fmt.Sprintf("s%d", i), ts, "Editor")
		require.NoError(t, s.InsertScreenState(ctx, ss))
	}

	results, err := s.SearchScreenStates(ctx, []float32{0.5, 0.5, 0}, model.TimeRange{Start: 1000, End: 2000}, 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.NotEqual(t, int64(3000), r.Timestamp, "out-of-range screen must never appear")
	}
}

func TestListScreenStates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, ts := range []int64{1000, 2000, 3000} {
		require.NoError(t, s.InsertScreenState(ctx, testScreen(fmt.Sprintf("s%d", i), ts, "Editor",
			testNode(fmt.Sprintf("s%d-n", i), model.NodeButton, "Save", nil))))
	}

	summaries, err := s.ListScreenStates(ctx, model.TimeRange{}, 2)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, int64(3000), summaries[0].Timestamp, "newest first")
	assert.Equal(t, int64(2000), summaries[1].Timestamp)
	assert.Equal(t, 1, summaries[0].NodeCount)

	summaries, err = s.ListScreenStates(ctx, model.TimeRange{Start: 1500, End: 2500}, 0)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, int64(2000), summaries[0].Timestamp)
}

func TestGetScreenStateNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetScreenState(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSubtreeRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ss := testScreen("s1", 1000, "Editor",
		testNode("n1", model.NodeButton, "Save", []float32{1, 0, 0}))
	ss.Subtrees = []model.UISubtree{{
		ID:            "t1",
		ScreenStateID: "s1",
		Description:   "panel with 1 element: Save",
		BBox:          model.BBox{X1: 700, Y1: 800, X2: 1000, Y2: 1000},
		NodeIDs:       []string{"n1"},
		Embedding:     []float32{0, 1, 0},
		Timestamp:     1000,
	}}
	require.NoError(t, s.InsertScreenState(ctx, ss))

	got, err := s.GetScreenState(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, got.Subtrees, 1)
	st := got.Subtrees[0]
	assert.Equal(t, "t1", st.ID)
	assert.Equal(t, []string{"n1"}, st.NodeIDs)
	assert.Equal(t, model.BBox{X1: 700, Y1: 800, X2: 1000, Y2: 1000}, st.BBox)
	assert.Equal(t, []float32{0, 1, 0}, st.Embedding)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Subtrees)
}

func TestClear(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertScreenState(ctx, testScreen("s1", 1000, "Editor",
		testNode("n1", model.NodeButton, "Save", []float32{1, 0, 0}))))
	require.NoError(t, s.Clear(ctx))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Screens)
	assert.Zero(t, stats.Nodes)
	assert.Zero(t, stats.Subtrees)
}

func TestStatsReportsSize(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertScreenState(ctx, testScreen("s1", 1000, "Editor")))
	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Greater(t, stats.SizeBytes, int64(0))
}

func TestOpenUnknownProvider(t *testing.T) {
	_, err := Open(config.StoreConfig{Provider: "bogus"})
	assert.Error(t, err)
}

func TestOpenSQLite(t *testing.T) {
	s, err := Open(config.StoreConfig{Provider: "sqlite", Path: filepath.Join(t.TempDir(), "prism.db")})
	require.NoError(t, err)
	require.NoError(t, s.Close(context.Background()))
}

package index

import (
	"context"

	"github.com/agenthands/prism/internal/model"
	"github.com/agenthands/prism/internal/store"
)

type MockStore struct {
	Inserted []*model.UIScreenState

	LastQueryVec []float32
	LastFilters  model.SearchFilters
	LastK        int
	LastMinScore float64
	LastRange    model.TimeRange
	LastLimit    int
	LastBefore   int64

	NodeResults   []model.NodeResult
	ScreenResults []model.ScreenResult
	Summaries     []model.ScreenSummary
	Screen        *model.UIScreenState
	DeleteCount   int
	StoreStats    model.StoreStats

	StatsCalls   int
	CompactCalls int
	ClearCalls   int
	CloseCalls   int

	Err error
}

var _ store.Store = (*MockStore)(nil)

func (m *MockStore) InsertScreenState(_ context.Context, ss *model.UIScreenState) error {
	if m.Err != nil {
		return m.Err
	}
	m.Inserted = append(m.Inserted, ss)
	return nil
}

func (m *MockStore) SearchNodes(_ context.Context, queryEmbedding []float32, filters model.SearchFilters, k int, minScore float64) ([]model.NodeResult, error) {
	m.LastQueryVec = queryEmbedding
	m.LastFilters = filters
	m.LastK = k
	m.LastMinScore = minScore
	if m.Err != nil {
		return nil, m.Err
	}
	return m.NodeResults, nil
}

func (m *MockStore) SearchScreenStates(_ context.Context, queryEmbedding []float32, tr model.TimeRange, k int) ([]model.ScreenResult, error) {
	m.LastQueryVec = queryEmbedding
	m.LastRange = tr
	m.LastK = k
	if m.Err != nil {
		return nil, m.Err
	}
	return m.ScreenResults, nil
}

func (m *MockStore) ListScreenStates(_ context.Context, tr model.TimeRange, limit int) ([]model.ScreenSummary, error) {
	m.LastRange = tr
	m.LastLimit = limit
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Summaries, nil
}

func (m *MockStore) GetScreenState(_ context.Context, id string) (*model.UIScreenState, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	if m.Screen == nil || m.Screen.ID != id {
		return nil, store.ErrNotFound
	}
	return m.Screen, nil
}

func (m *MockStore) DeleteOldScreenStates(_ context.Context, before int64) (int, error) {
	m.LastBefore = before
	if m.Err != nil {
		return 0, m.Err
	}
	return m.DeleteCount, nil
}

func (m *MockStore) Stats(_ context.Context) (model.StoreStats, error) {
	m.StatsCalls++
	if m.Err != nil {
		return model.StoreStats{}, m.Err
	}
	return m.StoreStats, nil
}

func (m *MockStore) Checkpoint(_ context.Context) error { return nil }

func (m *MockStore) Compact(_ context.Context) error {
	m.CompactCalls++
	return m.Err
}

func (m *MockStore) Clear(_ context.Context) error {
	m.ClearCalls++
	return m.Err
}

func (m *MockStore) Close(_ context.Context) error {
	m.CloseCalls++
	return m.Err
}

// MockEmbedder hands out small fixed-size vectors and records the batch
// traffic so tests can assert on call shape.
type MockEmbedder struct {
	Dim        int
	BatchCalls int
	BatchTexts [][]string
	EmbedCalls int
	Err        error
}

func (m *MockEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	m.EmbedCalls++
	if m.Err != nil {
		return nil, m.Err
	}
	return m.vector(0), nil
}

func (m *MockEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	m.BatchCalls++
	m.BatchTexts = append(m.BatchTexts, texts)
	if m.Err != nil {
		return nil, m.Err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = m.vector(i + 1)
	}
	return out, nil
}

func (m *MockEmbedder) Dimension() int { return m.Dim }

func (m *MockEmbedder) vector(seed int) []float32 {
	vec := make([]float32, m.Dim)
	for i := range vec {
		vec[i] = float32(seed)
	}
	return vec
}

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/agenthands/prism/internal/config"
	"github.com/agenthands/prism/internal/model"
)

// ErrNotFound is returned by GetScreenState for an unknown id. It is a
// lookup miss, not a StorageError.
var ErrNotFound = errors.New("screen state not found")

// StorageError marks a fatal storage failure. The store never retries
// internally; the capture loop's backoff is the retry mechanism.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("storage %s: %v", e.Op, e.Err) }
func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// Store persists screen states with their nodes and subtrees and serves
// hybrid symbolic+vector retrieval over them.
//
// Writes keep parent-before-children ordering: a reader never observes a
// node whose screen state row is absent. InsertScreenState is idempotent
// by screen id; re-inserting replaces the previous children wholesale.
type Store interface {
	InsertScreenState(ctx context.Context, ss *model.UIScreenState) error

	// SearchNodes ranks nodes passing the symbolic filters by cosine
	// similarity to queryEmbedding, descending, dropping scores below
	// minScore. Rows without an embedding never rank.
	SearchNodes(ctx context.Context, queryEmbedding []float32, filters model.SearchFilters, k int, minScore float64) ([]model.NodeResult, error)

	SearchScreenStates(ctx context.Context, queryEmbedding []float32, tr model.TimeRange, k int) ([]model.ScreenResult, error)
	ListScreenStates(ctx context.Context, tr model.TimeRange, limit int) ([]model.ScreenSummary, error)
	GetScreenState(ctx context.Context, id string) (*model.UIScreenState, error)

	// DeleteOldScreenStates removes every screen state with ts < before,
	// cascading to nodes and subtrees, all-or-nothing. Returns the number
	// of screen states removed.
	DeleteOldScreenStates(ctx context.Context, before int64) (int, error)

	Stats(ctx context.Context) (model.StoreStats, error)
	Checkpoint(ctx context.Context) error
	Compact(ctx context.Context) error
	Clear(ctx context.Context) error
	Close(ctx context.Context) error
}

// Open builds the configured Store implementation.
func Open(cfg config.StoreConfig) (Store, error) {
	switch cfg.Provider {
	case "", "sqlite":
		return NewSQLiteStore(cfg.Path)
	case "memgraph":
		return NewMemgraphStore(cfg.URI, cfg.Username, cfg.Password)
	default:
		return nil, fmt.Errorf("unknown store provider: %s", cfg.Provider)
	}
}

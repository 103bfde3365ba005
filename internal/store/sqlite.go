package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/agenthands/prism/internal/model"
)

var _ Store = (*SQLiteStore)(nil)

// SQLiteStore is the default backend: a single WAL-mode database file
// holding screen_states, nodes and subtrees. Vector ranking runs in Go
// over the symbolically filtered candidate rows.
type SQLiteStore struct {
	path string
	db   *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		path = "prism.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, storageErr("open", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, storageErr("open", err)
	}

	// Keep sqlite responsive under watcher/query contention.
	_, _ = db.Exec("PRAGMA busy_timeout = 5000;")
	_, _ = db.Exec("PRAGMA journal_mode = WAL;")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL;")

	schema := []string{
		`CREATE TABLE IF NOT EXISTS screen_states (
			id TEXT PRIMARY KEY,
			ts INTEGER NOT NULL,
			app TEXT NOT NULL DEFAULT '',
			window_title TEXT,
			url TEXT,
			width INTEGER NOT NULL,
			height INTEGER NOT NULL,
			description TEXT,
			embedding BLOB
		);`,
		`CREATE INDEX IF NOT EXISTS idx_screen_states_ts ON screen_states(ts);`,
		`CREATE TABLE IF NOT EXISTS nodes (
			id TEXT PRIMARY KEY,
			screen_state_id TEXT NOT NULL,
			type TEXT NOT NULL,
			text TEXT,
			description TEXT,
			x1 INTEGER NOT NULL,
			y1 INTEGER NOT NULL,
			x2 INTEGER NOT NULL,
			y2 INTEGER NOT NULL,
			norm_x1 REAL, norm_y1 REAL, norm_x2 REAL, norm_y2 REAL,
			parent_id TEXT,
			embedding BLOB,
			confidence REAL NOT NULL DEFAULT 0,
			clickable INTEGER NOT NULL DEFAULT 0,
			visible INTEGER NOT NULL DEFAULT 0,
			interactive INTEGER NOT NULL DEFAULT 0,
			app TEXT,
			window_title TEXT,
			url TEXT,
			region TEXT,
			source TEXT,
			source_confidence REAL,
			ts INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_nodes_screen ON nodes(screen_state_id);`,
		`CREATE INDEX IF NOT EXISTS idx_nodes_type ON nodes(type);`,
		`CREATE INDEX IF NOT EXISTS idx_nodes_app ON nodes(app);`,
		`CREATE INDEX IF NOT EXISTS idx_nodes_ts ON nodes(ts);`,
		`CREATE INDEX IF NOT EXISTS idx_nodes_clickable ON nodes(clickable);`,
		`CREATE TABLE IF NOT EXISTS subtrees (
			id TEXT PRIMARY KEY,
			screen_state_id TEXT NOT NULL,
			description TEXT,
			x1 INTEGER NOT NULL,
			y1 INTEGER NOT NULL,
			x2 INTEGER NOT NULL,
			y2 INTEGER NOT NULL,
			node_ids TEXT NOT NULL DEFAULT '[]',
			embedding BLOB,
			ts INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_subtrees_screen ON subtrees(screen_state_id);`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, storageErr("schema", err)
		}
	}

	log.Printf("sqlite store ready at %s", path)
	return &SQLiteStore{path: path, db: db}, nil
}

func (s *SQLiteStore) InsertScreenState(ctx context.Context, ss *model.UIScreenState) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("insert screen state", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Parent row first so a concurrent reader never sees orphan children.
	_, err = tx.ExecContext(ctx, UpsertScreenQuery,
		ss.ID, ss.Timestamp, ss.App, nullIfEmpty(ss.WindowTitle), nullIfEmpty(ss.URL),
		ss.Dimensions.Width, ss.Dimensions.Height, nullIfEmpty(ss.Description), encodeVector(ss.Embedding),
	)
	if err != nil {
		return storageErr("insert screen state", err)
	}

	// Re-inserting an id replaces its children wholesale.
	if _, err := tx.ExecContext(ctx, DeleteScreenNodesQuery, ss.ID); err != nil {
		return storageErr("insert screen state", err)
	}
	if _, err := tx.ExecContext(ctx, DeleteScreenSubtreesQuery, ss.ID); err != nil {
		return storageErr("insert screen state", err)
	}

	for _, n := range ss.Nodes {
		var nx1, ny1, nx2, ny2 any
		if n.NormBBox != nil {
			nx1, ny1, nx2, ny2 = n.NormBBox.X1, n.NormBBox.Y1, n.NormBBox.X2, n.NormBBox.Y2
		}
		_, err = tx.ExecContext(ctx, UpsertNodeQuery,
			n.ID, ss.ID, string(n.Type), n.Text, n.Description,
			n.BBox.X1, n.BBox.Y1, n.BBox.X2, n.BBox.Y2,
			nx1, ny1, nx2, ny2,
			nullIfEmpty(n.ParentID), encodeVector(n.Embedding), n.Confidence,
			boolInt(n.Clickable), boolInt(n.Visible), boolInt(n.Interactive),
			nullIfEmpty(n.Metadata.App), nullIfEmpty(n.Metadata.WindowTitle), nullIfEmpty(n.Metadata.URL),
			nullIfEmpty(n.Metadata.Region), nullIfEmpty(n.Metadata.Source), n.Metadata.SourceConfidence,
			n.Timestamp,
		)
		if err != nil {
			return storageErr("insert node", err)
		}
	}

	for _, st := range ss.Subtrees {
		ids, err := json.Marshal(st.NodeIDs)
		if err != nil || st.NodeIDs == nil {
			ids = []byte("[]")
		}
		_, err = tx.ExecContext(ctx, UpsertSubtreeQuery,
			st.ID, ss.ID, st.Description,
			st.BBox.X1, st.BBox.Y1, st.BBox.X2, st.BBox.Y2,
			string(ids), encodeVector(st.Embedding), st.Timestamp,
		)
		if err != nil {
			return storageErr("insert subtree", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storageErr("insert screen state", err)
	}

	// Bound WAL growth: one checkpoint per screen write.
	return s.Checkpoint(ctx)
}

func (s *SQLiteStore) SearchNodes(ctx context.Context, queryEmbedding []float32, filters model.SearchFilters, k int, minScore float64) ([]model.NodeResult, error) {
	where, args := nodeFilterClauses(filters, true)
	rows, err := s.db.QueryContext(ctx, SelectNodesQuery+where+" ORDER BY rowid", args...)
	if err != nil {
		return nil, storageErr("search nodes", err)
	}
	defer rows.Close()

	var candidates []model.UINode
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, storageErr("search nodes", err)
		}
		// textContains is matched here rather than in SQL so case
		// folding covers non-ASCII text.
		if !matchesText(n, filters.TextContains) {
			continue
		}
		candidates = append(candidates, n)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("search nodes", err)
	}
	return rankNodes(queryEmbedding, candidates, k, minScore), nil
}

func (s *SQLiteStore) SearchScreenStates(ctx context.Context, queryEmbedding []float32, tr model.TimeRange, k int) ([]model.ScreenResult, error) {
	conds := []string{"embedding IS NOT NULL"}
	var args []any
	if tr.Start != 0 {
		conds = append(conds, "ts >= ?")
		args = append(args, tr.Start)
	}
	if tr.End != 0 {
		conds = append(conds, "ts <= ?")
		args = append(args, tr.End)
	}
	query := SelectScreensQuery + " WHERE " + strings.Join(conds, " AND ") + " ORDER BY rowid"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("search screen states", err)
	}
	defer rows.Close()

	var candidates []screenCandidate
	for rows.Next() {
		var (
			c        screenCandidate
			title    sql.NullString
			desc     sql.NullString
			emb      []byte
		)
		if err := rows.Scan(&c.id, &c.ts, &c.app, &title, &desc, &emb); err != nil {
			return nil, storageErr("search screen states", err)
		}
		c.windowTitle = title.String
		c.description = desc.String
		c.embedding = decodeVector(emb)
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("search screen states", err)
	}
	return rankScreens(queryEmbedding, candidates, k), nil
}

func (s *SQLiteStore) ListScreenStates(ctx context.Context, tr model.TimeRange, limit int) ([]model.ScreenSummary, error) {
	var conds []string
	var args []any
	if tr.Start != 0 {
		conds = append(conds, "s.ts >= ?")
		args = append(args, tr.Start)
	}
	if tr.End != 0 {
		conds = append(conds, "s.ts <= ?")
		args = append(args, tr.End)
	}
	query := ListScreensQuery
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY s.ts DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("list screen states", err)
	}
	defer rows.Close()

	summaries := []model.ScreenSummary{}
	for rows.Next() {
		var (
			sum   model.ScreenSummary
			title sql.NullString
			desc  sql.NullString
		)
		if err := rows.Scan(&sum.ID, &sum.Timestamp, &sum.App, &title, &desc, &sum.NodeCount); err != nil {
			return nil, storageErr("list screen states", err)
		}
		sum.WindowTitle = title.String
		sum.Description = desc.String
		summaries = append(summaries, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list screen states", err)
	}
	return summaries, nil
}

func (s *SQLiteStore) GetScreenState(ctx context.Context, id string) (*model.UIScreenState, error) {
	var (
		ss    model.UIScreenState
		title sql.NullString
		url   sql.NullString
		desc  sql.NullString
		emb   []byte
	)
	err := s.db.QueryRowContext(ctx, GetScreenQuery, id).Scan(
		&ss.ID, &ss.Timestamp, &ss.App, &title, &url,
		&ss.Dimensions.Width, &ss.Dimensions.Height, &desc, &emb,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr("get screen state", err)
	}
	ss.WindowTitle = title.String
	ss.URL = url.String
	ss.Description = desc.String
	ss.Embedding = decodeVector(emb)

	rows, err := s.db.QueryContext(ctx, SelectNodesQuery+" WHERE screen_state_id = ? ORDER BY rowid", id)
	if err != nil {
		return nil, storageErr("get screen state", err)
	}
	defer rows.Close()
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, storageErr("get screen state", err)
		}
		ss.Nodes = append(ss.Nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("get screen state", err)
	}

	trows, err := s.db.QueryContext(ctx, SelectScreenSubtreesQuery, id)
	if err != nil {
		return nil, storageErr("get screen state", err)
	}
	defer trows.Close()
	for trows.Next() {
		var (
			st      model.UISubtree
			desc    sql.NullString
			nodeIDs string
			emb     []byte
		)
		if err := trows.Scan(&st.ID, &st.ScreenStateID, &desc,
			&st.BBox.X1, &st.BBox.Y1, &st.BBox.X2, &st.BBox.Y2,
			&nodeIDs, &emb, &st.Timestamp); err != nil {
			return nil, storageErr("get screen state", err)
		}
		st.Description = desc.String
		st.Embedding = decodeVector(emb)
		if err := json.Unmarshal([]byte(nodeIDs), &st.NodeIDs); err != nil {
			st.NodeIDs = nil
		}
		ss.Subtrees = append(ss.Subtrees, st)
	}
	if err := trows.Err(); err != nil {
		return nil, storageErr("get screen state", err)
	}
	return &ss, nil
}

func (s *SQLiteStore) DeleteOldScreenStates(ctx context.Context, before int64) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storageErr("delete old screen states", err)
	}
	defer func() { _ = tx.Rollback() }()

	var count int
	if err := tx.QueryRowContext(ctx, CountOldScreensQuery, before).Scan(&count); err != nil {
		return 0, storageErr("delete old screen states", err)
	}
	if count == 0 {
		return 0, storageErr("delete old screen states", tx.Commit())
	}

	// Children first within the tx; the commit makes it all-or-nothing.
	if _, err := tx.ExecContext(ctx, DeleteOldNodesQuery, before); err != nil {
		return 0, storageErr("delete old screen states", err)
	}
	if _, err := tx.ExecContext(ctx, DeleteOldSubtreesQuery, before); err != nil {
		return 0, storageErr("delete old screen states", err)
	}
	if _, err := tx.ExecContext(ctx, DeleteOldScreensQuery, before); err != nil {
		return 0, storageErr("delete old screen states", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, storageErr("delete old screen states", err)
	}
	return count, nil
}

func (s *SQLiteStore) Stats(ctx context.Context) (model.StoreStats, error) {
	var stats model.StoreStats
	if err := s.db.QueryRowContext(ctx, CountNodesQuery).Scan(&stats.Nodes); err != nil {
		return stats, storageErr("stats", err)
	}
	if err := s.db.QueryRowContext(ctx, CountSubtreesQuery).Scan(&stats.Subtrees); err != nil {
		return stats, storageErr("stats", err)
	}
	if err := s.db.QueryRowContext(ctx, CountScreensQuery).Scan(&stats.Screens); err != nil {
		return stats, storageErr("stats", err)
	}
	var pageCount, pageSize int64
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_count;").Scan(&pageCount); err != nil {
		return stats, storageErr("stats", err)
	}
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_size;").Scan(&pageSize); err != nil {
		return stats, storageErr("stats", err)
	}
	stats.SizeBytes = pageCount * pageSize
	return stats, nil
}

func (s *SQLiteStore) Checkpoint(ctx context.Context) error {
	var busy, logFrames, moved int
	err := s.db.QueryRowContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE);").Scan(&busy, &logFrames, &moved)
	return storageErr("checkpoint", err)
}

func (s *SQLiteStore) Compact(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM;")
	return storageErr("compact", err)
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("clear", err)
	}
	defer func() { _ = tx.Rollback() }()
	for _, q := range []string{"DELETE FROM nodes;", "DELETE FROM subtrees;", "DELETE FROM screen_states;"} {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			return storageErr("clear", err)
		}
	}
	return storageErr("clear", tx.Commit())
}

func (s *SQLiteStore) Close(ctx context.Context) error {
	if err := s.Checkpoint(ctx); err != nil {
		log.Printf("sqlite close checkpoint: %v", err)
	}
	return storageErr("close", s.db.Close())
}

// nodeFilterClauses renders the symbolic prefilter as a conjunction of
// WHERE conditions. requireEmbedding additionally drops unrankable rows
// before they reach the scorer.
func nodeFilterClauses(f model.SearchFilters, requireEmbedding bool) (string, []any) {
	var conds []string
	var args []any
	if requireEmbedding {
		conds = append(conds, "embedding IS NOT NULL")
	}
	if len(f.Types) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(f.Types)), ",")
		conds = append(conds, fmt.Sprintf("type IN (%s)", placeholders))
		for _, t := range f.Types {
			args = append(args, string(t))
		}
	}
	if f.App != "" {
		conds = append(conds, "app = ?")
		args = append(args, f.App)
	}
	if f.ScreenID != "" {
		conds = append(conds, "screen_state_id = ?")
		args = append(args, f.ScreenID)
	}
	if f.ClickableOnly {
		conds = append(conds, "clickable = 1")
	}
	if f.VisibleOnly {
		conds = append(conds, "visible = 1")
	}
	if r := f.BBoxRegion; r != nil {
		if r.MinX != nil {
			conds = append(conds, "(x1 + x2) / 2 >= ?")
			args = append(args, *r.MinX)
		}
		if r.MaxX != nil {
			conds = append(conds, "(x1 + x2) / 2 <= ?")
			args = append(args, *r.MaxX)
		}
		if r.MinY != nil {
			conds = append(conds, "(y1 + y2) / 2 >= ?")
			args = append(args, *r.MinY)
		}
		if r.MaxY != nil {
			conds = append(conds, "(y1 + y2) / 2 <= ?")
			args = append(args, *r.MaxY)
		}
	}
	if tr := f.TimeRange; tr != nil {
		if tr.Start != 0 {
			conds = append(conds, "ts >= ?")
			args = append(args, tr.Start)
		}
		if tr.End != 0 {
			conds = append(conds, "ts <= ?")
			args = append(args, tr.End)
		}
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanNode(rows *sql.Rows) (model.UINode, error) {
	var (
		n                            model.UINode
		typ                          string
		text, desc, parentID         sql.NullString
		app, title, url, region, src sql.NullString
		nx1, ny1, nx2, ny2           sql.NullFloat64
		srcConf                      sql.NullFloat64
		emb                          []byte
	)
	err := rows.Scan(&n.ID, &n.ScreenStateID, &typ, &text, &desc,
		&n.BBox.X1, &n.BBox.Y1, &n.BBox.X2, &n.BBox.Y2,
		&nx1, &ny1, &nx2, &ny2,
		&parentID, &emb, &n.Confidence, &n.Clickable, &n.Visible, &n.Interactive,
		&app, &title, &url, &region, &src, &srcConf, &n.Timestamp)
	if err != nil {
		return n, err
	}
	n.Type = model.NodeType(typ)
	n.Text = text.String
	n.Description = desc.String
	n.ParentID = parentID.String
	if nx1.Valid {
		n.NormBBox = &model.NormBBox{X1: nx1.Float64, Y1: ny1.Float64, X2: nx2.Float64, Y2: ny2.Float64}
	}
	n.Embedding = decodeVector(emb)
	n.Metadata = model.NodeMetadata{
		App:              app.String,
		WindowTitle:      title.String,
		URL:              url.String,
		Region:           region.String,
		Source:           src.String,
		SourceConfidence: srcConf.Float64,
	}
	return n, nil
}

// Embeddings are stored as little-endian float32 blobs.
func encodeVector(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	if len(b) < 4 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

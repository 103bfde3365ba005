package store

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/agenthands/prism/internal/model"
)

var _ Store = (*MemgraphStore)(nil)

// MemgraphStore keeps the graph layout: Screen nodes own their UINode and
// Subtree children through HAS_NODE/HAS_SUBTREE edges. Symbolic filters
// run in Cypher; similarity ranking runs client-side over the returned
// vectors, same as the sqlite backend.
type MemgraphStore struct {
	driver neo4j.DriverWithContext
}

func NewMemgraphStore(uri, username, password string) (*MemgraphStore, error) {
	drv, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, storageErr("connect", err)
	}
	if err := drv.VerifyConnectivity(context.Background()); err != nil {
		return nil, storageErr("connect", err)
	}
	log.Println("Connected to Memgraph")

	s := &MemgraphStore{driver: drv}
	s.buildIndices(context.Background())
	return s, nil
}

func (s *MemgraphStore) buildIndices(ctx context.Context) {
	queries := []string{
		"CREATE INDEX ON :Screen(id);",
		"CREATE INDEX ON :Screen(ts);",
		"CREATE INDEX ON :UINode(id);",
		"CREATE INDEX ON :UINode(screen_state_id);",
		"CREATE INDEX ON :UINode(type);",
		"CREATE INDEX ON :UINode(app);",
		"CREATE INDEX ON :UINode(ts);",
		"CREATE INDEX ON :UINode(clickable);",
		"CREATE INDEX ON :Subtree(id);",
		"CREATE INDEX ON :Subtree(screen_state_id);",
	}
	for _, q := range queries {
		if _, err := s.execute(ctx, q, nil); err != nil {
			// Index may already exist.
			log.Printf("Warning: failed to create index '%s': %v", q, err)
		}
	}
}

func (s *MemgraphStore) execute(ctx context.Context, query string, params map[string]any) (neo4j.EagerResult, error) {
	result, err := neo4j.ExecuteQuery(ctx, s.driver, query, params, neo4j.EagerResultTransformer)
	if err != nil {
		return neo4j.EagerResult{}, fmt.Errorf("failed to execute query: %w", err)
	}
	return *result, nil
}

func (s *MemgraphStore) InsertScreenState(ctx context.Context, ss *model.UIScreenState) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	// One managed transaction keeps the parent-then-children write atomic.
	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx, SaveScreenCypher, screenParams(ss)); err != nil {
			return nil, err
		}
		if _, err := tx.Run(ctx, DeleteScreenChildrenCypher, map[string]any{"id": ss.ID}); err != nil {
			return nil, err
		}
		for i, n := range ss.Nodes {
			if _, err := tx.Run(ctx, SaveNodeCypher, nodeParams(ss.ID, i, n)); err != nil {
				return nil, err
			}
		}
		for i, st := range ss.Subtrees {
			if _, err := tx.Run(ctx, SaveSubtreeCypher, subtreeParams(ss.ID, i, st)); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return storageErr("insert screen state", err)
}

func (s *MemgraphStore) SearchNodes(ctx context.Context, queryEmbedding []float32, filters model.SearchFilters, k int, minScore float64) ([]model.NodeResult, error) {
	where, params := cypherNodeFilter(filters)
	res, err := s.execute(ctx, fmt.Sprintf(SelectNodesCypher, where), params)
	if err != nil {
		return nil, storageErr("search nodes", err)
	}
	candidates := make([]model.UINode, 0, len(res.Records))
	for _, rec := range res.Records {
		n := nodeFromRecord(rec)
		// textContains is matched here rather than in Cypher so case
		// folding covers non-ASCII text.
		if !matchesText(n, filters.TextContains) {
			continue
		}
		candidates = append(candidates, n)
	}
	return rankNodes(queryEmbedding, candidates, k, minScore), nil
}

func (s *MemgraphStore) SearchScreenStates(ctx context.Context, queryEmbedding []float32, tr model.TimeRange, k int) ([]model.ScreenResult, error) {
	conds := []string{"s.embedding IS NOT NULL"}
	params := map[string]any{}
	if tr.Start != 0 {
		conds = append(conds, "s.ts >= $start")
		params["start"] = tr.Start
	}
	if tr.End != 0 {
		conds = append(conds, "s.ts <= $end")
		params["end"] = tr.End
	}
	where := "WHERE " + strings.Join(conds, " AND ")

	res, err := s.execute(ctx, fmt.Sprintf(SelectScreensCypher, where), params)
	if err != nil {
		return nil, storageErr("search screen states", err)
	}
	candidates := make([]screenCandidate, 0, len(res.Records))
	for _, rec := range res.Records {
		m := rec.AsMap()
		candidates = append(candidates, screenCandidate{
			id:          asString(m["id"]),
			ts:          asInt64(m["ts"]),
			app:         asString(m["app"]),
			windowTitle: asString(m["window_title"]),
			description: asString(m["description"]),
			embedding:   asVector(m["embedding"]),
		})
	}
	return rankScreens(queryEmbedding, candidates, k), nil
}

func (s *MemgraphStore) ListScreenStates(ctx context.Context, tr model.TimeRange, limit int) ([]model.ScreenSummary, error) {
	var conds []string
	params := map[string]any{}
	if tr.Start != 0 {
		conds = append(conds, "s.ts >= $start")
		params["start"] = tr.Start
	}
	if tr.End != 0 {
		conds = append(conds, "s.ts <= $end")
		params["end"] = tr.End
	}
	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}
	if limit <= 0 {
		limit = math.MaxInt32 // effectively unbounded
	}
	params["limit"] = limit

	res, err := s.execute(ctx, fmt.Sprintf(ListScreensCypher, where), params)
	if err != nil {
		return nil, storageErr("list screen states", err)
	}
	summaries := make([]model.ScreenSummary, 0, len(res.Records))
	for _, rec := range res.Records {
		m := rec.AsMap()
		summaries = append(summaries, model.ScreenSummary{
			ID:          asString(m["id"]),
			Timestamp:   asInt64(m["ts"]),
			App:         asString(m["app"]),
			WindowTitle: asString(m["window_title"]),
			Description: asString(m["description"]),
			NodeCount:   asInt(m["node_count"]),
		})
	}
	return summaries, nil
}

func (s *MemgraphStore) GetScreenState(ctx context.Context, id string) (*model.UIScreenState, error) {
	res, err := s.execute(ctx, GetScreenCypher, map[string]any{"id": id})
	if err != nil {
		return nil, storageErr("get screen state", err)
	}
	if len(res.Records) == 0 {
		return nil, ErrNotFound
	}
	m := res.Records[0].AsMap()
	ss := &model.UIScreenState{
		ID:          asString(m["id"]),
		Timestamp:   asInt64(m["ts"]),
		App:         asString(m["app"]),
		WindowTitle: asString(m["window_title"]),
		URL:         asString(m["url"]),
		Dimensions:  model.ScreenDimensions{Width: asInt(m["width"]), Height: asInt(m["height"])},
		Description: asString(m["description"]),
		Embedding:   asVector(m["embedding"]),
	}

	nres, err := s.execute(ctx, GetScreenNodesCypher, map[string]any{"id": id})
	if err != nil {
		return nil, storageErr("get screen state", err)
	}
	for _, rec := range nres.Records {
		ss.Nodes = append(ss.Nodes, nodeFromRecord(rec))
	}

	tres, err := s.execute(ctx, GetScreenSubtreesCypher, map[string]any{"id": id})
	if err != nil {
		return nil, storageErr("get screen state", err)
	}
	for _, rec := range tres.Records {
		tm := rec.AsMap()
		ss.Subtrees = append(ss.Subtrees, model.UISubtree{
			ID:            asString(tm["id"]),
			ScreenStateID: asString(tm["screen_state_id"]),
			Description:   asString(tm["description"]),
			BBox:          model.BBox{X1: asInt(tm["x1"]), Y1: asInt(tm["y1"]), X2: asInt(tm["x2"]), Y2: asInt(tm["y2"])},
			NodeIDs:       asStrings(tm["node_ids"]),
			Embedding:     asVector(tm["embedding"]),
			Timestamp:     asInt64(tm["ts"]),
		})
	}
	return ss, nil
}

func (s *MemgraphStore) DeleteOldScreenStates(ctx context.Context, before int64) (int, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	deleted, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		cur, err := tx.Run(ctx, DeleteOldScreensCypher, map[string]any{"before": before})
		if err != nil {
			return nil, err
		}
		rec, err := cur.Single(ctx)
		if err != nil {
			return nil, err
		}
		v, _ := rec.Get("deleted")
		return v, nil
	})
	if err != nil {
		return 0, storageErr("delete old screen states", err)
	}
	return asInt(deleted), nil
}

func (s *MemgraphStore) Stats(ctx context.Context) (model.StoreStats, error) {
	var stats model.StoreStats
	res, err := s.execute(ctx, CountStatsCypher, nil)
	if err != nil {
		return stats, storageErr("stats", err)
	}
	if len(res.Records) > 0 {
		m := res.Records[0].AsMap()
		stats.Nodes = asInt64(m["nodes"])
		stats.Subtrees = asInt64(m["subtrees"])
		stats.Screens = asInt64(m["screens"])
	}
	// On-disk size is server-managed and not exposed over bolt.
	return stats, nil
}

// Durability is server-managed; both are no-ops here.
func (s *MemgraphStore) Checkpoint(ctx context.Context) error { return nil }
func (s *MemgraphStore) Compact(ctx context.Context) error    { return nil }

func (s *MemgraphStore) Clear(ctx context.Context) error {
	_, err := s.execute(ctx, ClearCypher, nil)
	return storageErr("clear", err)
}

func (s *MemgraphStore) Close(ctx context.Context) error {
	return storageErr("close", s.driver.Close(ctx))
}

func screenParams(ss *model.UIScreenState) map[string]any {
	return map[string]any{
		"id":           ss.ID,
		"ts":           ss.Timestamp,
		"app":          ss.App,
		"window_title": ss.WindowTitle,
		"url":          ss.URL,
		"width":        ss.Dimensions.Width,
		"height":       ss.Dimensions.Height,
		"description":  ss.Description,
		"embedding":    vectorParam(ss.Embedding),
	}
}

func nodeParams(screenID string, ord int, n model.UINode) map[string]any {
	params := map[string]any{
		"id":                n.ID,
		"screen_state_id":   screenID,
		"ord":               ord,
		"type":              string(n.Type),
		"text":              n.Text,
		"description":       n.Description,
		"x1":                n.BBox.X1,
		"y1":                n.BBox.Y1,
		"x2":                n.BBox.X2,
		"y2":                n.BBox.Y2,
		"norm_x1":           nil,
		"norm_y1":           nil,
		"norm_x2":           nil,
		"norm_y2":           nil,
		"parent_id":         n.ParentID,
		"embedding":         vectorParam(n.Embedding),
		"confidence":        n.Confidence,
		"clickable":         n.Clickable,
		"visible":           n.Visible,
		"interactive":       n.Interactive,
		"app":               n.Metadata.App,
		"window_title":      n.Metadata.WindowTitle,
		"url":               n.Metadata.URL,
		"region":            n.Metadata.Region,
		"source":            n.Metadata.Source,
		"source_confidence": n.Metadata.SourceConfidence,
		"ts":                n.Timestamp,
	}
	if n.NormBBox != nil {
		params["norm_x1"] = n.NormBBox.X1
		params["norm_y1"] = n.NormBBox.Y1
		params["norm_x2"] = n.NormBBox.X2
		params["norm_y2"] = n.NormBBox.Y2
	}
	return params
}

func subtreeParams(screenID string, ord int, st model.UISubtree) map[string]any {
	nodeIDs := st.NodeIDs
	if nodeIDs == nil {
		nodeIDs = []string{}
	}
	return map[string]any{
		"id":              st.ID,
		"screen_state_id": screenID,
		"ord":             ord,
		"description":     st.Description,
		"x1":              st.BBox.X1,
		"y1":              st.BBox.Y1,
		"x2":              st.BBox.X2,
		"y2":              st.BBox.Y2,
		"node_ids":        nodeIDs,
		"embedding":       vectorParam(st.Embedding),
		"ts":              st.Timestamp,
	}
}

func cypherNodeFilter(f model.SearchFilters) (string, map[string]any) {
	conds := []string{"n.embedding IS NOT NULL"}
	params := map[string]any{}
	if len(f.Types) > 0 {
		types := make([]string, len(f.Types))
		for i, t := range f.Types {
			types[i] = string(t)
		}
		conds = append(conds, "n.type IN $types")
		params["types"] = types
	}
	if f.App != "" {
		conds = append(conds, "n.app = $app")
		params["app"] = f.App
	}
	if f.ScreenID != "" {
		conds = append(conds, "n.screen_state_id = $screen_id")
		params["screen_id"] = f.ScreenID
	}
	if f.ClickableOnly {
		conds = append(conds, "n.clickable = true")
	}
	if f.VisibleOnly {
		conds = append(conds, "n.visible = true")
	}
	if r := f.BBoxRegion; r != nil {
		if r.MinX != nil {
			conds = append(conds, "(n.x1 + n.x2) / 2 >= $min_x")
			params["min_x"] = *r.MinX
		}
		if r.MaxX != nil {
			conds = append(conds, "(n.x1 + n.x2) / 2 <= $max_x")
			params["max_x"] = *r.MaxX
		}
		if r.MinY != nil {
			conds = append(conds, "(n.y1 + n.y2) / 2 >= $min_y")
			params["min_y"] = *r.MinY
		}
		if r.MaxY != nil {
			conds = append(conds, "(n.y1 + n.y2) / 2 <= $max_y")
			params["max_y"] = *r.MaxY
		}
	}
	if tr := f.TimeRange; tr != nil {
		if tr.Start != 0 {
			conds = append(conds, "n.ts >= $start")
			params["start"] = tr.Start
		}
		if tr.End != 0 {
			conds = append(conds, "n.ts <= $end")
			params["end"] = tr.End
		}
	}
	return "WHERE " + strings.Join(conds, " AND "), params
}

func nodeFromRecord(rec *neo4j.Record) model.UINode {
	m := rec.AsMap()
	n := model.UINode{
		ID:            asString(m["id"]),
		ScreenStateID: asString(m["screen_state_id"]),
		Type:          model.NodeType(asString(m["type"])),
		Text:          asString(m["text"]),
		Description:   asString(m["description"]),
		BBox:          model.BBox{X1: asInt(m["x1"]), Y1: asInt(m["y1"]), X2: asInt(m["x2"]), Y2: asInt(m["y2"])},
		ParentID:      asString(m["parent_id"]),
		Embedding:     asVector(m["embedding"]),
		Confidence:    asFloat(m["confidence"]),
		Clickable:     asBool(m["clickable"]),
		Visible:       asBool(m["visible"]),
		Interactive:   asBool(m["interactive"]),
		Timestamp:     asInt64(m["ts"]),
		Metadata: model.NodeMetadata{
			App:              asString(m["app"]),
			WindowTitle:      asString(m["window_title"]),
			URL:              asString(m["url"]),
			Region:           asString(m["region"]),
			Source:           asString(m["source"]),
			SourceConfidence: asFloat(m["source_confidence"]),
		},
	}
	if m["norm_x1"] != nil {
		n.NormBBox = &model.NormBBox{
			X1: asFloat(m["norm_x1"]),
			Y1: asFloat(m["norm_y1"]),
			X2: asFloat(m["norm_x2"]),
			Y2: asFloat(m["norm_y2"]),
		}
	}
	return n
}

// Bolt hands numbers back as int64/float64; vectors go out as float64
// lists and come back the same way.
func vectorParam(v []float32) any {
	if len(v) == 0 {
		return nil
	}
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asInt64(v any) int64 {
	switch x := v.(type) {
	case int64:
		return x
	case float64:
		return int64(x)
	}
	return 0
}

func asInt(v any) int { return int(asInt64(v)) }

func asFloat(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case int64:
		return float64(x)
	}
	return 0
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func asVector(v any) []float32 {
	list, ok := v.([]any)
	if !ok || len(list) == 0 {
		return nil
	}
	out := make([]float32, len(list))
	for i, item := range list {
		out[i] = float32(asFloat(item))
	}
	return out
}

func asStrings(v any) []string {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		out = append(out, asString(item))
	}
	return out
}

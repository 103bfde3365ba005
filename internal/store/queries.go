package store

// SQLite statements. Schema lives in sqlite.go next to the pragmas.
const (
	UpsertScreenQuery = `
		INSERT INTO screen_states(id, ts, app, window_title, url, width, height, description, embedding)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			ts = excluded.ts,
			app = excluded.app,
			window_title = excluded.window_title,
			url = excluded.url,
			width = excluded.width,
			height = excluded.height,
			description = excluded.description,
			embedding = excluded.embedding
	`

	UpsertNodeQuery = `
		INSERT INTO nodes(id, screen_state_id, type, text, description,
			x1, y1, x2, y2, norm_x1, norm_y1, norm_x2, norm_y2,
			parent_id, embedding, confidence, clickable, visible, interactive,
			app, window_title, url, region, source, source_confidence, ts)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			screen_state_id = excluded.screen_state_id,
			type = excluded.type,
			text = excluded.text,
			description = excluded.description,
			x1 = excluded.x1, y1 = excluded.y1, x2 = excluded.x2, y2 = excluded.y2,
			norm_x1 = excluded.norm_x1, norm_y1 = excluded.norm_y1,
			norm_x2 = excluded.norm_x2, norm_y2 = excluded.norm_y2,
			parent_id = excluded.parent_id,
			embedding = excluded.embedding,
			confidence = excluded.confidence,
			clickable = excluded.clickable,
			visible = excluded.visible,
			interactive = excluded.interactive,
			app = excluded.app,
			window_title = excluded.window_title,
			url = excluded.url,
			region = excluded.region,
			source = excluded.source,
			source_confidence = excluded.source_confidence,
			ts = excluded.ts
	`

	UpsertSubtreeQuery = `
		INSERT INTO subtrees(id, screen_state_id, description, x1, y1, x2, y2, node_ids, embedding, ts)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			screen_state_id = excluded.screen_state_id,
			description = excluded.description,
			x1 = excluded.x1, y1 = excluded.y1, x2 = excluded.x2, y2 = excluded.y2,
			node_ids = excluded.node_ids,
			embedding = excluded.embedding,
			ts = excluded.ts
	`

	DeleteScreenNodesQuery    = `DELETE FROM nodes WHERE screen_state_id = ?`
	DeleteScreenSubtreesQuery = `DELETE FROM subtrees WHERE screen_state_id = ?`

	// Candidate scan for vector ranking. WHERE conditions are appended by
	// the caller; rowid order gives a stable tie-break for equal scores.
	SelectNodesQuery = `
		SELECT id, screen_state_id, type, text, description,
			x1, y1, x2, y2, norm_x1, norm_y1, norm_x2, norm_y2,
			parent_id, embedding, confidence, clickable, visible, interactive,
			app, window_title, url, region, source, source_confidence, ts
		FROM nodes
	`

	SelectScreensQuery = `
		SELECT id, ts, app, window_title, description, embedding
		FROM screen_states
	`

	ListScreensQuery = `
		SELECT s.id, s.ts, s.app, s.window_title, s.description,
			(SELECT COUNT(*) FROM nodes n WHERE n.screen_state_id = s.id) AS node_count
		FROM screen_states s
	`

	GetScreenQuery = `
		SELECT id, ts, app, window_title, url, width, height, description, embedding
		FROM screen_states WHERE id = ?
	`

	SelectScreenSubtreesQuery = `
		SELECT id, screen_state_id, description, x1, y1, x2, y2, node_ids, embedding, ts
		FROM subtrees WHERE screen_state_id = ? ORDER BY rowid
	`

	CountOldScreensQuery     = `SELECT COUNT(*) FROM screen_states WHERE ts < ?`
	DeleteOldNodesQuery      = `DELETE FROM nodes WHERE screen_state_id IN (SELECT id FROM screen_states WHERE ts < ?)`
	DeleteOldSubtreesQuery   = `DELETE FROM subtrees WHERE screen_state_id IN (SELECT id FROM screen_states WHERE ts < ?)`
	DeleteOldScreensQuery    = `DELETE FROM screen_states WHERE ts < ?`
	CountNodesQuery          = `SELECT COUNT(*) FROM nodes`
	CountSubtreesQuery       = `SELECT COUNT(*) FROM subtrees`
	CountScreensQuery        = `SELECT COUNT(*) FROM screen_states`
)

// Memgraph statements, written for bolt. Property names mirror the
// SQLite columns so both backends round-trip the same model.
const (
	SaveScreenCypher = `
		MERGE (s:Screen {id: $id})
		SET s.ts = $ts,
			s.app = $app,
			s.window_title = $window_title,
			s.url = $url,
			s.width = $width,
			s.height = $height,
			s.description = $description,
			s.embedding = $embedding
		RETURN s.id AS id
	`

	DeleteScreenChildrenCypher = `
		MATCH (s:Screen {id: $id})-[:HAS_NODE|HAS_SUBTREE]->(c)
		DETACH DELETE c
	`

	SaveNodeCypher = `
		MATCH (s:Screen {id: $screen_state_id})
		MERGE (n:UINode {id: $id})
		SET n.screen_state_id = $screen_state_id,
			n.ord = $ord,
			n.type = $type,
			n.text = $text,
			n.description = $description,
			n.x1 = $x1, n.y1 = $y1, n.x2 = $x2, n.y2 = $y2,
			n.norm_x1 = $norm_x1, n.norm_y1 = $norm_y1,
			n.norm_x2 = $norm_x2, n.norm_y2 = $norm_y2,
			n.parent_id = $parent_id,
			n.embedding = $embedding,
			n.confidence = $confidence,
			n.clickable = $clickable,
			n.visible = $visible,
			n.interactive = $interactive,
			n.app = $app,
			n.window_title = $window_title,
			n.url = $url,
			n.region = $region,
			n.source = $source,
			n.source_confidence = $source_confidence,
			n.ts = $ts
		MERGE (s)-[:HAS_NODE]->(n)
		RETURN n.id AS id
	`

	SaveSubtreeCypher = `
		MATCH (s:Screen {id: $screen_state_id})
		MERGE (t:Subtree {id: $id})
		SET t.screen_state_id = $screen_state_id,
			t.ord = $ord,
			t.description = $description,
			t.x1 = $x1, t.y1 = $y1, t.x2 = $x2, t.y2 = $y2,
			t.node_ids = $node_ids,
			t.embedding = $embedding,
			t.ts = $ts
		MERGE (s)-[:HAS_SUBTREE]->(t)
		RETURN t.id AS id
	`

	// ord keeps ranking ties deterministic; bolt has no rowid analog.
	SelectNodesCypher = `
		MATCH (n:UINode)
		%s
		RETURN n.id AS id, n.screen_state_id AS screen_state_id, n.type AS type,
			n.text AS text, n.description AS description,
			n.x1 AS x1, n.y1 AS y1, n.x2 AS x2, n.y2 AS y2,
			n.norm_x1 AS norm_x1, n.norm_y1 AS norm_y1,
			n.norm_x2 AS norm_x2, n.norm_y2 AS norm_y2,
			n.parent_id AS parent_id, n.embedding AS embedding,
			n.confidence AS confidence, n.clickable AS clickable,
			n.visible AS visible, n.interactive AS interactive,
			n.app AS app, n.window_title AS window_title, n.url AS url,
			n.region AS region, n.source AS source,
			n.source_confidence AS source_confidence, n.ts AS ts
		ORDER BY n.ts, n.ord
	`

	SelectScreensCypher = `
		MATCH (s:Screen)
		%s
		RETURN s.id AS id, s.ts AS ts, s.app AS app,
			s.window_title AS window_title, s.description AS description,
			s.embedding AS embedding
		ORDER BY s.ts, s.id
	`

	ListScreensCypher = `
		MATCH (s:Screen)
		%s
		OPTIONAL MATCH (s)-[:HAS_NODE]->(n:UINode)
		RETURN s.id AS id, s.ts AS ts, s.app AS app,
			s.window_title AS window_title, s.description AS description,
			count(n) AS node_count
		ORDER BY s.ts DESC
		LIMIT $limit
	`

	GetScreenCypher = `
		MATCH (s:Screen {id: $id})
		RETURN s.id AS id, s.ts AS ts, s.app AS app,
			s.window_title AS window_title, s.url AS url,
			s.width AS width, s.height AS height,
			s.description AS description, s.embedding AS embedding
	`

	GetScreenNodesCypher = `
		MATCH (:Screen {id: $id})-[:HAS_NODE]->(n:UINode)
		RETURN n.id AS id, n.screen_state_id AS screen_state_id, n.type AS type,
			n.text AS text, n.description AS description,
			n.x1 AS x1, n.y1 AS y1, n.x2 AS x2, n.y2 AS y2,
			n.norm_x1 AS norm_x1, n.norm_y1 AS norm_y1,
			n.norm_x2 AS norm_x2, n.norm_y2 AS norm_y2,
			n.parent_id AS parent_id, n.embedding AS embedding,
			n.confidence AS confidence, n.clickable AS clickable,
			n.visible AS visible, n.interactive AS interactive,
			n.app AS app, n.window_title AS window_title, n.url AS url,
			n.region AS region, n.source AS source,
			n.source_confidence AS source_confidence, n.ts AS ts
		ORDER BY n.ord
	`

	GetScreenSubtreesCypher = `
		MATCH (:Screen {id: $id})-[:HAS_SUBTREE]->(t:Subtree)
		RETURN t.id AS id, t.screen_state_id AS screen_state_id,
			t.description AS description,
			t.x1 AS x1, t.y1 AS y1, t.x2 AS x2, t.y2 AS y2,
			t.node_ids AS node_ids, t.embedding AS embedding, t.ts AS ts
		ORDER BY t.ord
	`

	DeleteOldScreensCypher = `
		MATCH (s:Screen) WHERE s.ts < $before
		OPTIONAL MATCH (s)-[:HAS_NODE|HAS_SUBTREE]->(c)
		DETACH DELETE s, c
		RETURN count(DISTINCT s) AS deleted
	`

	CountStatsCypher = `
		OPTIONAL MATCH (n:UINode) WITH count(n) AS nodes
		OPTIONAL MATCH (t:Subtree) WITH nodes, count(t) AS subtrees
		OPTIONAL MATCH (s:Screen)
		RETURN nodes, subtrees, count(s) AS screens
	`

	ClearCypher = `
		MATCH (n) WHERE n:Screen OR n:UINode OR n:Subtree
		DETACH DELETE n
	`
)

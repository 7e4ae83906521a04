package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/IngaCherny/AgentsLeak/internal/apierr"
	"github.com/IngaCherny/AgentsLeak/internal/models"
)

// SaveGraphNode upserts a node by (node_type, value) identity. On conflict,
// last_seen/access_count/alert_count advance and session_ids/event_ids are
// overwritten with the caller's latest view, not merged.
//
// The row a caller proposes is not necessarily the row that ends up
// persisted — on conflict the existing row's id wins. Callers MUST use the
// returned id, not n.ID, when wiring subsequent edges.
func (s *Store) SaveGraphNode(ctx context.Context, n *models.GraphNode) (uuid.UUID, error) {
	ctx = ctxOrBackground(ctx)

	sessionIDsJSON, _ := toJSON(n.SessionIDs)
	eventIDs := make([]string, len(n.EventIDs))
	for i, id := range n.EventIDs {
		eventIDs[i] = id.String()
	}
	eventIDsJSON, _ := toJSON(eventIDs)
	metadataJSON, err := toJSON(n.Metadata)
	if err != nil {
		return uuid.Nil, apierr.Internalf(err, "marshal node metadata")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO graph_nodes (
			id, node_type, label, value, first_seen, last_seen,
			access_count, alert_count, session_ids, event_ids, size, color, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(node_type, value) DO UPDATE SET
			last_seen = excluded.last_seen,
			access_count = graph_nodes.access_count + 1,
			alert_count = graph_nodes.alert_count + excluded.alert_count,
			session_ids = excluded.session_ids,
			event_ids = excluded.event_ids,
			size = graph_nodes.size + 1
	`,
		n.ID.String(), string(n.NodeType), nullString(n.Label), n.Value,
		n.FirstSeen.UTC().Format(time.RFC3339Nano), n.LastSeen.UTC().Format(time.RFC3339Nano),
		n.AccessCount, n.AlertCount, nullString(sessionIDsJSON), nullString(eventIDsJSON),
		n.Size, nullString(n.Color), nullString(metadataJSON),
	)
	if err != nil {
		return uuid.Nil, apierr.Internalf(err, "save graph node %s:%s", n.NodeType, n.Value)
	}

	var effectiveID string
	err = s.db.QueryRowContext(ctx, `SELECT id FROM graph_nodes WHERE node_type = ? AND value = ?`,
		string(n.NodeType), n.Value).Scan(&effectiveID)
	if err != nil {
		return uuid.Nil, apierr.Internalf(err, "resolve effective id for node %s:%s", n.NodeType, n.Value)
	}
	return uuid.MustParse(effectiveID), nil
}

// SaveGraphEdge upserts an edge by (source_id, target_id, relation)
// identity, symmetric to SaveGraphNode: count/weight advance, session_ids
// /event_ids are overwritten, and the effective (possibly pre-existing) id
// is returned.
func (s *Store) SaveGraphEdge(ctx context.Context, e *models.GraphEdge) (uuid.UUID, error) {
	ctx = ctxOrBackground(ctx)

	sessionIDsJSON, _ := toJSON(e.SessionIDs)
	eventIDs := make([]string, len(e.EventIDs))
	for i, id := range e.EventIDs {
		eventIDs[i] = id.String()
	}
	eventIDsJSON, _ := toJSON(eventIDs)
	metadataJSON, err := toJSON(e.Metadata)
	if err != nil {
		return uuid.Nil, apierr.Internalf(err, "marshal edge metadata")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO graph_edges (
			id, source_id, target_id, relation, first_seen, last_seen,
			count, session_ids, event_ids, weight, color, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_id, target_id, relation) DO UPDATE SET
			last_seen = excluded.last_seen,
			count = graph_edges.count + 1,
			session_ids = excluded.session_ids,
			event_ids = excluded.event_ids,
			weight = graph_edges.weight + 1
	`,
		e.ID.String(), e.SourceID.String(), e.TargetID.String(), string(e.Relation),
		e.FirstSeen.UTC().Format(time.RFC3339Nano), e.LastSeen.UTC().Format(time.RFC3339Nano),
		e.Count, nullString(sessionIDsJSON), nullString(eventIDsJSON),
		e.Weight, nullString(e.Color), nullString(metadataJSON),
	)
	if err != nil {
		return uuid.Nil, apierr.Internalf(err, "save graph edge %s->%s", e.SourceID, e.TargetID)
	}

	var effectiveID string
	err = s.db.QueryRowContext(ctx, `
		SELECT id FROM graph_edges WHERE source_id = ? AND target_id = ? AND relation = ?`,
		e.SourceID.String(), e.TargetID.String(), string(e.Relation)).Scan(&effectiveID)
	if err != nil {
		return uuid.Nil, apierr.Internalf(err, "resolve effective id for edge %s->%s", e.SourceID, e.TargetID)
	}
	return uuid.MustParse(effectiveID), nil
}

func scanGraphNode(row rowScanner) (*models.GraphNode, error) {
	var (
		n                                    models.GraphNode
		id, firstSeen, lastSeen              string
		nodeType                             string
		label, color                         sql.NullString
		sessionIDsJSON, eventIDsJSON, metaJSON sql.NullString
	)
	if err := row.Scan(
		&id, &nodeType, &label, &n.Value, &firstSeen, &lastSeen,
		&n.AccessCount, &n.AlertCount, &sessionIDsJSON, &eventIDsJSON, &n.Size, &color, &metaJSON,
	); err != nil {
		return nil, err
	}
	n.ID = uuid.MustParse(id)
	n.NodeType = models.NodeType(nodeType)
	n.Label = label.String
	n.Color = color.String
	n.FirstSeen, _ = time.Parse(time.RFC3339Nano, firstSeen)
	n.LastSeen, _ = time.Parse(time.RFC3339Nano, lastSeen)
	_ = fromJSON(sessionIDsJSON, &n.SessionIDs)
	var eventIDStrs []string
	_ = fromJSON(eventIDsJSON, &eventIDStrs)
	for _, s := range eventIDStrs {
		if eid, err := uuid.Parse(s); err == nil {
			n.EventIDs = append(n.EventIDs, eid)
		}
	}
	_ = fromJSON(metaJSON, &n.Metadata)
	return &n, nil
}

const graphNodeColumns = `id, node_type, label, value, first_seen, last_seen,
		access_count, alert_count, session_ids, event_ids, size, color, metadata`

// GetGraphNode fetches a single node by id.
func (s *Store) GetGraphNode(ctx context.Context, id uuid.UUID) (*models.GraphNode, error) {
	ctx = ctxOrBackground(ctx)
	row := s.db.QueryRowContext(ctx, "SELECT "+graphNodeColumns+" FROM graph_nodes WHERE id = ?", id.String())
	n, err := scanGraphNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierr.NotFoundf("graph node %s not found", id)
	}
	if err != nil {
		return nil, apierr.Internalf(err, "get graph node %s", id)
	}
	return n, nil
}

func scanGraphEdge(row rowScanner) (*models.GraphEdge, error) {
	var (
		e                                    models.GraphEdge
		id, sourceID, targetID               string
		firstSeen, lastSeen                  string
		relation                             string
		color                                sql.NullString
		sessionIDsJSON, eventIDsJSON, metaJSON sql.NullString
	)
	if err := row.Scan(
		&id, &sourceID, &targetID, &relation, &firstSeen, &lastSeen,
		&e.Count, &sessionIDsJSON, &eventIDsJSON, &e.Weight, &color, &metaJSON,
	); err != nil {
		return nil, err
	}
	e.ID = uuid.MustParse(id)
	e.SourceID = uuid.MustParse(sourceID)
	e.TargetID = uuid.MustParse(targetID)
	e.Relation = models.EdgeRelation(relation)
	e.Color = color.String
	e.FirstSeen, _ = time.Parse(time.RFC3339Nano, firstSeen)
	e.LastSeen, _ = time.Parse(time.RFC3339Nano, lastSeen)
	_ = fromJSON(sessionIDsJSON, &e.SessionIDs)
	var eventIDStrs []string
	_ = fromJSON(eventIDsJSON, &eventIDStrs)
	for _, s := range eventIDStrs {
		if eid, err := uuid.Parse(s); err == nil {
			e.EventIDs = append(e.EventIDs, eid)
		}
	}
	_ = fromJSON(metaJSON, &e.Metadata)
	return &e, nil
}

const graphEdgeColumns = `id, source_id, target_id, relation, first_seen, last_seen,
		count, session_ids, event_ids, weight, color, metadata`

// SessionGraph returns every node touched by sessionID and the edges
// between them, for the per-session activity graph view.
func (s *Store) SessionGraph(ctx context.Context, sessionID string) ([]*models.GraphNode, []*models.GraphEdge, error) {
	ctx = ctxOrBackground(ctx)
	rows, err := s.db.QueryContext(ctx, "SELECT "+graphNodeColumns+` FROM graph_nodes
		WHERE session_ids LIKE ?`, "%\""+sessionID+"\"%")
	if err != nil {
		return nil, nil, apierr.Internalf(err, "query session graph nodes")
	}
	defer rows.Close()

	nodes := []*models.GraphNode{}
	nodeIDs := map[string]bool{}
	for rows.Next() {
		n, err := scanGraphNode(rows)
		if err != nil {
			return nil, nil, apierr.Internalf(err, "scan graph node row")
		}
		nodes = append(nodes, n)
		nodeIDs[n.ID.String()] = true
	}

	edgeRows, err := s.db.QueryContext(ctx, "SELECT "+graphEdgeColumns+` FROM graph_edges
		WHERE session_ids LIKE ?`, "%\""+sessionID+"\"%")
	if err != nil {
		return nil, nil, apierr.Internalf(err, "query session graph edges")
	}
	defer edgeRows.Close()

	edges := []*models.GraphEdge{}
	for edgeRows.Next() {
		e, err := scanGraphEdge(edgeRows)
		if err != nil {
			return nil, nil, apierr.Internalf(err, "scan graph edge row")
		}
		if nodeIDs[e.SourceID.String()] && nodeIDs[e.TargetID.String()] {
			edges = append(edges, e)
		}
	}
	return nodes, edges, nil
}

// GraphFilter narrows the global activity graph query to a time window
// and/or an endpoint/source-derived session scope, mirroring
// AggregateFilter's field names in stats.go.
type GraphFilter struct {
	From     time.Time
	To       time.Time
	Endpoint string
	Source   string
	Limit    int
}

// GlobalGraph returns the whole activity graph active in f's time window,
// capped at f.Limit highest-access_count nodes (0 means unlimited).
// Endpoint/Source, if set, narrow the result to nodes touched by a
// session in that scope, the same resolve-then-intersect pattern
// resolveSessionScope uses for the top_files/top_commands aggregations.
func (s *Store) GlobalGraph(ctx context.Context, f GraphFilter) ([]*models.GraphNode, []*models.GraphEdge, error) {
	ctx = ctxOrBackground(ctx)

	var scopeIDs []string
	scoped := false
	var err error
	switch {
	case f.Endpoint != "":
		scopeIDs, err = s.sessionIDsForEndpoint(ctx, f.Endpoint)
		scoped = true
	case f.Source != "":
		scopeIDs, err = s.sessionIDsForSource(ctx, f.Source)
		scoped = true
	}
	if err != nil {
		return nil, nil, err
	}
	if scoped && len(scopeIDs) == 0 {
		return []*models.GraphNode{}, []*models.GraphEdge{}, nil
	}
	scopeSet := make(map[string]bool, len(scopeIDs))
	for _, id := range scopeIDs {
		scopeSet[id] = true
	}

	query := "SELECT " + graphNodeColumns + " FROM graph_nodes WHERE 1=1"
	var args []any
	if !f.From.IsZero() {
		query += " AND last_seen >= ?"
		args = append(args, f.From.UTC().Format(time.RFC3339Nano))
	}
	if !f.To.IsZero() {
		query += " AND first_seen <= ?"
		args = append(args, f.To.UTC().Format(time.RFC3339Nano))
	}
	query += " ORDER BY access_count DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, apierr.Internalf(err, "query global graph nodes")
	}
	defer rows.Close()

	nodes := []*models.GraphNode{}
	nodeIDs := map[string]bool{}
	for rows.Next() {
		n, err := scanGraphNode(rows)
		if err != nil {
			return nil, nil, apierr.Internalf(err, "scan graph node row")
		}
		if scoped && !nodeInSessionScope(n.SessionIDs, scopeSet) {
			continue
		}
		nodes = append(nodes, n)
		nodeIDs[n.ID.String()] = true
		if f.Limit > 0 && len(nodes) >= f.Limit {
			break
		}
	}

	edgeRows, err := s.db.QueryContext(ctx, "SELECT "+graphEdgeColumns+" FROM graph_edges")
	if err != nil {
		return nil, nil, apierr.Internalf(err, "query global graph edges")
	}
	defer edgeRows.Close()

	edges := []*models.GraphEdge{}
	for edgeRows.Next() {
		e, err := scanGraphEdge(edgeRows)
		if err != nil {
			return nil, nil, apierr.Internalf(err, "scan graph edge row")
		}
		if nodeIDs[e.SourceID.String()] && nodeIDs[e.TargetID.String()] {
			edges = append(edges, e)
		}
	}
	return nodes, edges, nil
}

func nodeInSessionScope(sessionIDs []string, scope map[string]bool) bool {
	for _, id := range sessionIDs {
		if scope[id] {
			return true
		}
	}
	return false
}

// IncrementGraphNodeAlertCount is used by the engine to bump a node's
// alert_count independently of the next access-triggered upsert.
func (s *Store) IncrementGraphNodeAlertCount(ctx context.Context, id uuid.UUID, delta int) error {
	ctx = ctxOrBackground(ctx)
	_, err := s.db.ExecContext(ctx, `UPDATE graph_nodes SET alert_count = alert_count + ? WHERE id = ?`, delta, id.String())
	if err != nil {
		return apierr.Internalf(err, "increment graph node alert count %s", id)
	}
	return nil
}

package queryapi

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/IngaCherny/AgentsLeak/internal/models"
	"github.com/IngaCherny/AgentsLeak/internal/store"
)

func (a *API) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	q := r.URL.Query()
	filter := store.AlertFilter{
		SessionID: q.Get("session_id"),
		Status:    q.Get("status"),
		Severity:  q.Get("severity"),
		Category:  q.Get("category"),
		FromDate:  queryTime(r, "from_date"),
		ToDate:    queryTime(r, "to_date"),
		Limit:     clampLimit(queryInt(r, "limit", 100)),
		Offset:    queryInt(r, "offset", 0),
	}
	result, err := a.store.GetAlerts(r.Context(), filter)
	if err != nil {
		sendErr(w, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]any{"items": result.Items, "total": result.Total})
}

func (a *API) handleAlertSubroutes(w http.ResponseWriter, r *http.Request) {
	tail := pathTail(r.URL.Path, "/api/alerts/")
	if tail == "" {
		sendJSONError(w, http.StatusNotFound, "not found")
		return
	}
	idStr, rest, hasRest := splitFirstSegment(tail)
	id, ok := parseUUID(w, idStr)
	if !ok {
		return
	}
	if !hasRest {
		a.handleAlertByID(w, r, id)
		return
	}
	switch rest {
	case "acknowledge":
		a.handleAlertSetStatus(w, r, id, models.AlertInvestigating)
	case "resolve":
		a.handleAlertSetStatus(w, r, id, models.AlertResolved)
	case "context":
		a.handleAlertContext(w, r, id)
	case "graph":
		a.handleAlertGraph(w, r, id)
	default:
		sendJSONError(w, http.StatusNotFound, "not found")
	}
}

func (a *API) handleAlertByID(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	switch r.Method {
	case http.MethodGet:
		alert, err := a.store.GetAlert(r.Context(), id)
		if err != nil {
			sendErr(w, err)
			return
		}
		sendJSON(w, http.StatusOK, alert)
	case http.MethodPatch:
		var fields map[string]any
		if err := decodeJSON(r, &fields); err != nil {
			sendJSONError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if err := a.store.UpdateAlert(r.Context(), id, fields); err != nil {
			sendErr(w, err)
			return
		}
		alert, err := a.store.GetAlert(r.Context(), id)
		if err != nil {
			sendErr(w, err)
			return
		}
		sendJSON(w, http.StatusOK, alert)
	default:
		sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (a *API) handleAlertSetStatus(w http.ResponseWriter, r *http.Request, id uuid.UUID, status models.AlertStatus) {
	if r.Method != http.MethodPost {
		sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err := a.store.UpdateAlert(r.Context(), id, map[string]any{"status": string(status)}); err != nil {
		sendErr(w, err)
		return
	}
	alert, err := a.store.GetAlert(r.Context(), id)
	if err != nil {
		sendErr(w, err)
		return
	}
	sendJSON(w, http.StatusOK, alert)
}

// handleAlertContext returns, in chronological order, the limit most recent
// events in the alert's session at or before its creation time, each tagged
// is_trigger if its id appears among the alert's event_ids.
func (a *API) handleAlertContext(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	if r.Method != http.MethodGet {
		sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	alert, err := a.store.GetAlert(r.Context(), id)
	if err != nil {
		sendErr(w, err)
		return
	}
	limit := clampLimit(queryInt(r, "limit", 50))

	result, err := a.store.GetEvents(r.Context(), store.EventFilter{
		SessionID: alert.SessionID,
		ToDate:    &alert.CreatedAt,
		Limit:     limit,
	})
	if err != nil {
		sendErr(w, err)
		return
	}

	triggers := map[uuid.UUID]bool{}
	for _, eid := range alert.EventIDs {
		triggers[eid] = true
	}

	items := make([]map[string]any, len(result.Items))
	for i := len(result.Items) - 1; i >= 0; i-- {
		e := result.Items[i]
		items[len(result.Items)-1-i] = map[string]any{
			"event":      e,
			"is_trigger": triggers[e.ID],
		}
	}
	sendJSON(w, http.StatusOK, map[string]any{"alert_id": id, "events": items})
}

// handleAlertGraph returns the induced subgraph around an alert's triggering
// events: each triggering node, its ancestor chain back to the session root,
// and the direct children of each triggering node.
func (a *API) handleAlertGraph(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	if r.Method != http.MethodGet {
		sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	alert, err := a.store.GetAlert(r.Context(), id)
	if err != nil {
		sendErr(w, err)
		return
	}
	nodes, edges, err := a.store.SessionGraph(r.Context(), alert.SessionID)
	if err != nil {
		sendErr(w, err)
		return
	}

	triggerIDs := map[uuid.UUID]bool{}
	for _, eid := range alert.EventIDs {
		triggerIDs[eid] = true
	}

	childrenOf := map[uuid.UUID][]*models.GraphEdge{}
	parentOf := map[uuid.UUID]*models.GraphEdge{}
	for _, e := range edges {
		childrenOf[e.SourceID] = append(childrenOf[e.SourceID], e)
		parentOf[e.TargetID] = e
	}

	triggerNodes := map[uuid.UUID]bool{}
	for _, n := range nodes {
		for _, eid := range n.EventIDs {
			if triggerIDs[eid] {
				triggerNodes[n.ID] = true
				break
			}
		}
	}

	keepNodes := map[uuid.UUID]bool{}
	keepEdges := map[uuid.UUID]bool{}
	for nodeID := range triggerNodes {
		keepNodes[nodeID] = true
		cur := nodeID
		for {
			edge, ok := parentOf[cur]
			if !ok {
				break
			}
			keepEdges[edge.ID] = true
			keepNodes[edge.SourceID] = true
			cur = edge.SourceID
		}
		for _, e := range childrenOf[nodeID] {
			keepEdges[e.ID] = true
			keepNodes[e.TargetID] = true
		}
	}

	outNodes := []*models.GraphNode{}
	for _, n := range nodes {
		if keepNodes[n.ID] {
			outNodes = append(outNodes, n)
		}
	}
	outEdges := []*models.GraphEdge{}
	for _, e := range edges {
		if keepEdges[e.ID] {
			outEdges = append(outEdges, e)
		}
	}
	sendJSON(w, http.StatusOK, map[string]any{"nodes": outNodes, "edges": outEdges})
}

package queryapi

import (
	"net/http"

	"github.com/IngaCherny/AgentsLeak/internal/store"
)

func (a *API) handleSessionGraph(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	sessionID := pathTail(r.URL.Path, "/api/graph/session/")
	if sessionID == "" {
		sendJSONError(w, http.StatusBadRequest, "session id is required")
		return
	}
	nodes, edges, err := a.store.SessionGraph(r.Context(), sessionID)
	if err != nil {
		sendErr(w, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]any{"nodes": nodes, "edges": edges})
}

func (a *API) handleGlobalGraph(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	limit := queryInt(r, "limit", 500)
	if limit < 1 || limit > 5000 {
		limit = 500
	}
	q := r.URL.Query()
	filter := store.GraphFilter{
		Endpoint: q.Get("endpoint"),
		Source:   q.Get("session_source"),
		Limit:    limit,
	}
	if from := queryTime(r, "from_date"); from != nil {
		filter.From = *from
	}
	if to := queryTime(r, "to_date"); to != nil {
		filter.To = *to
	}
	nodes, edges, err := a.store.GlobalGraph(r.Context(), filter)
	if err != nil {
		sendErr(w, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]any{"nodes": nodes, "edges": edges})
}

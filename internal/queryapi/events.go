package queryapi

import (
	"net/http"

	"github.com/IngaCherny/AgentsLeak/internal/store"
)

func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	q := r.URL.Query()
	filter := store.EventFilter{
		SessionID: q.Get("session_id"),
		Category:  q.Get("category"),
		Severity:  q.Get("severity"),
		HookType:  q.Get("hook_type"),
		ToolName:  q.Get("tool_name"),
		FromDate:  queryTime(r, "from_date"),
		ToDate:    queryTime(r, "to_date"),
		Limit:     clampLimit(queryInt(r, "limit", 100)),
		Offset:    queryInt(r, "offset", 0),
	}
	result, err := a.store.GetEvents(r.Context(), filter)
	if err != nil {
		sendErr(w, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]any{"items": result.Items, "total": result.Total})
}

func (a *API) handleEventByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	tail := pathTail(r.URL.Path, "/api/events/")
	id, ok := parseUUID(w, tail)
	if !ok {
		return
	}
	event, err := a.store.GetEvent(r.Context(), id)
	if err != nil {
		sendErr(w, err)
		return
	}
	sendJSON(w, http.StatusOK, event)
}

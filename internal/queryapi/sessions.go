package queryapi

import (
	"net/http"
	"time"

	"github.com/IngaCherny/AgentsLeak/internal/store"
)

func (a *API) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	q := r.URL.Query()
	page := queryInt(r, "page", 1)
	pageSize := queryInt(r, "page_size", 50)
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 500 {
		pageSize = 50
	}

	filter := store.SessionFilter{
		Status:           q.Get("status"),
		EndpointHostname: firstNonEmpty(q.Get("hostname"), q.Get("endpoint")),
		EndpointUser:     q.Get("username"),
		SessionSource:    q.Get("session_source"),
		FromDate:         queryTime(r, "from_date"),
		ToDate:           queryTime(r, "to_date"),
		Limit:            pageSize,
		Offset:           (page - 1) * pageSize,
	}

	result, err := a.store.ListSessions(r.Context(), filter)
	if err != nil {
		sendErr(w, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]any{
		"items":     result.Items,
		"total":     result.Total,
		"page":      page,
		"page_size": pageSize,
	})
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func (a *API) handleSessionSubroutes(w http.ResponseWriter, r *http.Request) {
	tail := pathTail(r.URL.Path, "/api/sessions/")
	if tail == "" {
		sendJSONError(w, http.StatusNotFound, "not found")
		return
	}

	if id, rest, ok := splitFirstSegment(tail); ok {
		switch rest {
		case "events":
			a.handleSessionEvents(w, r, id)
			return
		case "timeline":
			a.handleSessionTimeline(w, r, id)
			return
		case "terminate":
			a.handleSessionTerminate(w, r, id)
			return
		}
	}
	a.handleSessionByID(w, r, tail)
}

func splitFirstSegment(tail string) (head, rest string, hasRest bool) {
	for i := 0; i < len(tail); i++ {
		if tail[i] == '/' {
			return tail[:i], tail[i+1:], true
		}
	}
	return tail, "", false
}

func (a *API) handleSessionByID(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != http.MethodGet {
		sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	sess, err := a.store.GetSession(r.Context(), sessionID)
	if err != nil {
		sendErr(w, err)
		return
	}
	stats, err := a.store.SessionStats(r.Context(), sessionID)
	if err != nil {
		sendErr(w, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]any{
		"session": sess,
		"stats":   stats,
	})
}

func (a *API) handleSessionEvents(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != http.MethodGet {
		sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	q := r.URL.Query()
	filter := store.EventFilter{
		SessionID: sessionID,
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

func clampLimit(n int) int {
	if n < 1 || n > 1000 {
		return 100
	}
	return n
}

func (a *API) handleSessionTimeline(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != http.MethodGet {
		sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	from := queryTime(r, "from_date")
	to := queryTime(r, "to_date")
	now := time.Now().UTC()
	fromVal, toVal := defaultWindow(from, to, now)
	interval := queryInt(r, "interval_minutes", 60)

	buckets, err := a.store.TimelineStats(r.Context(), fromVal, toVal, interval)
	if err != nil {
		sendErr(w, err)
		return
	}

	events, err := a.store.GetEvents(r.Context(), store.EventFilter{
		SessionID: sessionID,
		FromDate:  &fromVal,
		ToDate:    &toVal,
		Limit:     1000,
	})
	if err != nil {
		sendErr(w, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]any{"buckets": buckets, "events": events.Items})
}

func defaultWindow(from, to *time.Time, now time.Time) (time.Time, time.Time) {
	toVal := now
	if to != nil {
		toVal = *to
	}
	fromVal := toVal.Add(-24 * time.Hour)
	if from != nil {
		fromVal = *from
	}
	return fromVal, toVal
}

func (a *API) handleSessionTerminate(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != http.MethodPost {
		sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err := a.store.EndSession(r.Context(), sessionID, time.Now().UTC()); err != nil {
		sendErr(w, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]string{"status": "terminated", "session_id": sessionID})
}

package queryapi

import (
	"net/http"
	"time"

	"github.com/IngaCherny/AgentsLeak/internal/store"
)

func (a *API) handleDashboardStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	stats, err := a.store.DashboardStats(r.Context())
	if err != nil {
		sendErr(w, err)
		return
	}
	sendJSON(w, http.StatusOK, stats)
}

func (a *API) handleEndpointStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	stats, err := a.store.EndpointStats(r.Context())
	if err != nil {
		sendErr(w, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]any{"items": stats})
}

func (a *API) handleTimelineStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	now := time.Now().UTC()
	fromVal, toVal := defaultWindow(queryTime(r, "from_date"), queryTime(r, "to_date"), now)
	interval := queryInt(r, "interval_minutes", 60)
	buckets, err := a.store.TimelineStats(r.Context(), fromVal, toVal, interval)
	if err != nil {
		sendErr(w, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]any{"buckets": buckets})
}

func aggregateFilter(r *http.Request) store.AggregateFilter {
	q := r.URL.Query()
	return store.AggregateFilter{
		FromDate: queryTime(r, "from_date"),
		ToDate:   queryTime(r, "to_date"),
		Endpoint: q.Get("endpoint"),
		Source:   q.Get("session_source"),
		Limit:    queryInt(r, "limit", 20),
		SortBy:   q.Get("sort_by"),
	}
}

func (a *API) handleTopFiles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	items, err := a.store.TopFiles(r.Context(), aggregateFilter(r))
	if err != nil {
		sendErr(w, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) handleTopCommands(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	items, err := a.store.TopCommands(r.Context(), aggregateFilter(r))
	if err != nil {
		sendErr(w, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) handleTopDomains(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	items, err := a.store.TopDomains(r.Context(), aggregateFilter(r))
	if err != nil {
		sendErr(w, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]any{"items": items})
}

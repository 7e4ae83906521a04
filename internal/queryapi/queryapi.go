// Package queryapi is the read-mostly dashboard REST surface plus the
// pub/sub WebSocket upgrade endpoint, mounted under /api.
package queryapi

import (
	"context"
	"crypto/hmac"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/IngaCherny/AgentsLeak/internal/apierr"
	"github.com/IngaCherny/AgentsLeak/internal/pubsub"
	"github.com/IngaCherny/AgentsLeak/internal/store"
)

// Engine is the processing surface queryapi needs, beyond the store, to
// reload the policy cache after a mutation.
type Engine interface {
	ReloadPolicies(ctx context.Context) error
}

// API wires HTTP handlers to the store, engine, and pub/sub hub.
type API struct {
	store  *store.Store
	engine Engine
	hub    *pubsub.Hub

	collectorAPIKey string
	dashboardToken  string
}

// New builds an API.
func New(st *store.Store, engine Engine, hub *pubsub.Hub, collectorAPIKey, dashboardToken string) *API {
	return &API{store: st, engine: engine, hub: hub, collectorAPIKey: collectorAPIKey, dashboardToken: dashboardToken}
}

// Register attaches every dashboard route, the websocket upgrade, and
// health/overview to mux. The routes it adds carry no auth of their own;
// the caller serves mux wrapped in AuthMiddleware to gate them.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/sessions", a.handleSessions)
	mux.HandleFunc("/api/sessions/", a.handleSessionSubroutes)

	mux.HandleFunc("/api/events", a.handleEvents)
	mux.HandleFunc("/api/events/", a.handleEventByID)

	mux.HandleFunc("/api/alerts", a.handleAlerts)
	mux.HandleFunc("/api/alerts/", a.handleAlertSubroutes)

	mux.HandleFunc("/api/policies", a.handlePolicies)
	mux.HandleFunc("/api/policies/", a.handlePolicySubroutes)

	mux.HandleFunc("/api/graph/session/", a.handleSessionGraph)
	mux.HandleFunc("/api/graph/global", a.handleGlobalGraph)

	mux.HandleFunc("/api/stats/dashboard", a.handleDashboardStats)
	mux.HandleFunc("/api/stats/endpoints", a.handleEndpointStats)
	mux.HandleFunc("/api/stats/timeline", a.handleTimelineStats)
	mux.HandleFunc("/api/stats/top-files", a.handleTopFiles)
	mux.HandleFunc("/api/stats/top-commands", a.handleTopCommands)
	mux.HandleFunc("/api/stats/top-domains", a.handleTopDomains)

	mux.HandleFunc("/api/health", a.handleHealth)
	mux.HandleFunc("/api/overview", a.handleOverview)

	mux.HandleFunc("/api/ws", a.hub.HandleWebSocket)
}

// AuthMiddleware enforces the two independent bearer-style secrets: a
// collector key guarding /api/collect/*, and a dashboard token guarding
// every other /api/* path (query-param token for the websocket upgrade).
// Health and non-API paths (static assets, SPA) are never gated.
func (a *API) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path

		if a.collectorAPIKey != "" && strings.HasPrefix(path, "/api/collect/") && path != "/api/collect/health" {
			provided := r.Header.Get("X-AgentsLeak-Key")
			if !constantTimeEqual(provided, a.collectorAPIKey) {
				sendJSONError(w, http.StatusUnauthorized, "invalid or missing API key")
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		if a.dashboardToken == "" {
			next.ServeHTTP(w, r)
			return
		}

		if path == "/api/health" || strings.HasPrefix(path, "/api/collect/") ||
			strings.HasPrefix(path, "/assets/") || !strings.HasPrefix(path, "/api/") {
			next.ServeHTTP(w, r)
			return
		}

		if path == "/api/ws" {
			token := r.URL.Query().Get("token")
			if !constantTimeEqual(token, a.dashboardToken) {
				sendJSONError(w, http.StatusUnauthorized, "invalid or missing dashboard token")
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		provided := strings.TrimPrefix(authHeader, "Bearer ")
		if !strings.HasPrefix(authHeader, "Bearer ") || !constantTimeEqual(provided, a.dashboardToken) {
			sendJSONError(w, http.StatusUnauthorized, "invalid or missing dashboard token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func constantTimeEqual(a, b string) bool {
	if a == "" {
		return false
	}
	return hmac.Equal([]byte(a), []byte(b))
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (a *API) handleOverview(w http.ResponseWriter, r *http.Request) {
	stats, err := a.store.DashboardStats(r.Context())
	if err != nil {
		sendErr(w, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"stats":        stats,
		"client_count": a.hub.ClientCount(),
	})
}

func sendJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Str("component", "queryapi").Msg("failed to encode JSON response")
	}
}

func sendJSONError(w http.ResponseWriter, statusCode int, message string) {
	sendJSON(w, statusCode, map[string]string{"error": message})
}

func sendErr(w http.ResponseWriter, err error) {
	sendJSONError(w, apierr.StatusFor(err), err.Error())
}

func parseUUID(w http.ResponseWriter, s string) (uuid.UUID, bool) {
	id, err := uuid.Parse(s)
	if err != nil {
		sendJSONError(w, http.StatusBadRequest, "invalid id")
		return uuid.Nil, false
	}
	return id, true
}

func pathTail(path, prefix string) string {
	return strings.Trim(strings.TrimPrefix(path, prefix), "/")
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n := 0
	for _, c := range v {
		if c < '0' || c > '9' {
			return def
		}
		n = n*10 + int(c-'0')
	}
	return n
}

func queryTime(r *http.Request, key string) *time.Time {
	v := r.URL.Query().Get(key)
	if v == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil
	}
	return &t
}

func decodeJSON(r *http.Request, out any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(out)
}

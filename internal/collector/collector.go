// Package collector exposes the HTTP endpoints Claude Code hook sensors
// post to: one route per hook type, plus a health check.
package collector

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/IngaCherny/AgentsLeak/internal/models"
)

const maxPayloadBytes = 5 << 20

func readAll(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
}

// Store is the persistence surface the collector needs.
type Store interface {
	GetSession(ctx context.Context, sessionID string) (*models.Session, error)
	SaveSession(ctx context.Context, sess *models.Session) error
	SaveEvent(ctx context.Context, e *models.Event) error
	IncrementSessionEventCount(ctx context.Context, sessionID string) error
	EndSession(ctx context.Context, sessionID string, endedAt time.Time) error
}

// Engine is the processing surface the collector needs.
type Engine interface {
	EvaluatePreTool(ctx context.Context, event *models.Event) models.Decision
	Enqueue(event *models.Event)
}

// Collector wires incoming hook payloads to the store and engine.
type Collector struct {
	store  Store
	engine Engine
}

// New builds a Collector.
func New(store Store, engine Engine) *Collector {
	return &Collector{store: store, engine: engine}
}

// Register attaches every collector route to mux under /api/collect.
func (c *Collector) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/collect/pre-tool-use", c.handlePreToolUse)
	mux.HandleFunc("/api/collect/post-tool-use", c.handleHookType(models.HookPostToolUse))
	mux.HandleFunc("/api/collect/post-tool-use-error", c.handleHookType(models.HookPostToolUseError))
	mux.HandleFunc("/api/collect/session-start", c.handleSessionStart)
	mux.HandleFunc("/api/collect/session-end", c.handleSessionEnd)
	mux.HandleFunc("/api/collect/subagent-start", c.handleSubagentStart)
	mux.HandleFunc("/api/collect/subagent-stop", c.handleSubagentStop)
	mux.HandleFunc("/api/collect/permission-request", c.handleHookType(models.HookPermissionRequest))
	mux.HandleFunc("/api/collect/user-prompt-submit", c.handleHookType(models.HookUserPromptSubmit))
	mux.HandleFunc("/api/collect/health", c.handleHealth)
}

func resolveEndpointFields(p *models.HookPayload, r *http.Request) (hostname, user string) {
	hostname = p.EndpointHostname
	if hostname == "" {
		hostname = r.Header.Get("X-Endpoint-Hostname")
	}
	user = p.EndpointUser
	if user == "" {
		user = r.Header.Get("X-Endpoint-User")
	}
	return hostname, user
}

func resolveSessionSource(p *models.HookPayload, r *http.Request) string {
	if p.SessionSource != "" {
		return p.SessionSource
	}
	if source := r.Header.Get("X-AgentsLeak-Source"); source != "" {
		return source
	}
	return "claude_code"
}

func (c *Collector) ensureSession(ctx context.Context, p *models.HookPayload, r *http.Request) error {
	existing, err := c.store.GetSession(ctx, p.SessionID)
	if err == nil && existing != nil {
		return nil
	}
	hostname, user := resolveEndpointFields(p, r)
	sess := &models.Session{
		SessionID:        p.SessionID,
		StartedAt:        time.Now().UTC(),
		Cwd:              p.SessionCwd,
		ParentSessionID:  p.ParentSessionID,
		Status:           models.SessionActive,
		EndpointHostname: hostname,
		EndpointUser:     user,
		SessionSource:    resolveSessionSource(p, r),
	}
	log.Info().Str("component", "collector").Str("session_id", p.SessionID).Msg("created new session")
	return c.store.SaveSession(ctx, sess)
}

func (c *Collector) newSession(ctx context.Context, p *models.HookPayload, r *http.Request) error {
	hostname, user := resolveEndpointFields(p, r)
	startedAt := p.Timestamp
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}
	sess := &models.Session{
		SessionID:        p.SessionID,
		StartedAt:        startedAt,
		Cwd:              p.SessionCwd,
		ParentSessionID:  p.ParentSessionID,
		Status:           models.SessionActive,
		EndpointHostname: hostname,
		EndpointUser:     user,
		SessionSource:    resolveSessionSource(p, r),
	}
	return c.store.SaveSession(ctx, sess)
}

func (c *Collector) decode(w http.ResponseWriter, r *http.Request) (*models.HookPayload, bool) {
	if r.Method != http.MethodPost {
		sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return nil, false
	}
	body, err := readAll(r)
	if err != nil {
		sendJSONError(w, http.StatusBadRequest, "failed to read request body")
		return nil, false
	}
	payload, err := models.DecodeHookPayload(body)
	if err != nil {
		sendJSONError(w, http.StatusBadRequest, "invalid hook payload")
		return nil, false
	}
	if payload.SessionID == "" {
		sendJSONError(w, http.StatusBadRequest, "session_id is required")
		return nil, false
	}
	return payload, true
}

// handlePreToolUse is called before a tool executes; it synchronously
// evaluates BLOCK policies and returns a Claude-Code hook response.
func (c *Collector) handlePreToolUse(w http.ResponseWriter, r *http.Request) {
	payload, ok := c.decode(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	if err := c.ensureSession(ctx, payload, r); err != nil {
		log.Error().Err(err).Str("component", "collector").Msg("ensure session failed")
	}

	event := models.NewEventFromHookPayload(payload)
	event.HookType = models.HookPreToolUse

	decision := c.engine.EvaluatePreTool(ctx, event)

	if err := c.store.SaveEvent(ctx, event); err != nil {
		log.Error().Err(err).Str("component", "collector").Msg("save event failed")
	}
	if err := c.store.IncrementSessionEventCount(ctx, payload.SessionID); err != nil {
		log.Warn().Err(err).Str("component", "collector").Msg("increment session event count failed")
	}
	c.engine.Enqueue(event)

	sendJSON(w, http.StatusOK, decision.ToHookResponse())
}

// handleHookType builds a handler for the common shape: ensure session,
// build and persist an event tagged with the given hook type (forced,
// regardless of what hook_type the payload itself carries, since several
// sensor endpoints don't send one), enqueue for async processing, and
// acknowledge receipt.
func (c *Collector) handleHookType(kind models.HookKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload, ok := c.decode(w, r)
		if !ok {
			return
		}
		ctx := r.Context()

		if err := c.ensureSession(ctx, payload, r); err != nil {
			log.Error().Err(err).Str("component", "collector").Msg("ensure session failed")
		}

		event := models.NewEventFromHookPayload(payload)
		event.HookType = kind

		if err := c.store.SaveEvent(ctx, event); err != nil {
			log.Error().Err(err).Str("component", "collector").Msg("save event failed")
		}
		if err := c.store.IncrementSessionEventCount(ctx, payload.SessionID); err != nil {
			log.Warn().Err(err).Str("component", "collector").Msg("increment session event count failed")
		}
		c.engine.Enqueue(event)

		sendJSON(w, http.StatusOK, map[string]string{"status": "received"})
	}
}

func (c *Collector) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	payload, ok := c.decode(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	log.Info().Str("component", "collector").Str("session_id", payload.SessionID).Str("cwd", payload.SessionCwd).Msg("session start")

	if err := c.newSession(ctx, payload, r); err != nil {
		log.Error().Err(err).Str("component", "collector").Msg("save session failed")
	}

	event := models.NewEventFromHookPayload(payload)
	event.HookType = models.HookSessionStart
	if err := c.store.SaveEvent(ctx, event); err != nil {
		log.Error().Err(err).Str("component", "collector").Msg("save event failed")
	}
	if err := c.store.IncrementSessionEventCount(ctx, payload.SessionID); err != nil {
		log.Warn().Err(err).Str("component", "collector").Msg("increment session event count failed")
	}
	c.engine.Enqueue(event)

	sendJSON(w, http.StatusOK, map[string]string{"status": "session_started", "session_id": payload.SessionID})
}

func (c *Collector) handleSessionEnd(w http.ResponseWriter, r *http.Request) {
	payload, ok := c.decode(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	log.Info().Str("component", "collector").Str("session_id", payload.SessionID).Msg("session end")

	if err := c.store.EndSession(ctx, payload.SessionID, time.Now().UTC()); err != nil {
		log.Warn().Err(err).Str("component", "collector").Msg("end session failed")
	}

	event := models.NewEventFromHookPayload(payload)
	event.HookType = models.HookSessionEnd
	if err := c.store.SaveEvent(ctx, event); err != nil {
		log.Error().Err(err).Str("component", "collector").Msg("save event failed")
	}
	if err := c.store.IncrementSessionEventCount(ctx, payload.SessionID); err != nil {
		log.Warn().Err(err).Str("component", "collector").Msg("increment session event count failed")
	}
	c.engine.Enqueue(event)

	sendJSON(w, http.StatusOK, map[string]string{"status": "session_ended", "session_id": payload.SessionID})
}

func (c *Collector) handleSubagentStart(w http.ResponseWriter, r *http.Request) {
	payload, ok := c.decode(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	log.Info().Str("component", "collector").Str("session_id", payload.SessionID).Str("parent_session_id", payload.ParentSessionID).Msg("subagent start")

	if err := c.newSession(ctx, payload, r); err != nil {
		log.Error().Err(err).Str("component", "collector").Msg("save session failed")
	}

	event := models.NewEventFromHookPayload(payload)
	event.HookType = models.HookSubagentStart
	if err := c.store.SaveEvent(ctx, event); err != nil {
		log.Error().Err(err).Str("component", "collector").Msg("save event failed")
	}
	if err := c.store.IncrementSessionEventCount(ctx, payload.SessionID); err != nil {
		log.Warn().Err(err).Str("component", "collector").Msg("increment session event count failed")
	}
	c.engine.Enqueue(event)

	sendJSON(w, http.StatusOK, map[string]string{
		"status":            "subagent_started",
		"session_id":        payload.SessionID,
		"parent_session_id": payload.ParentSessionID,
	})
}

func (c *Collector) handleSubagentStop(w http.ResponseWriter, r *http.Request) {
	payload, ok := c.decode(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	log.Info().Str("component", "collector").Str("session_id", payload.SessionID).Msg("subagent stop")

	if err := c.store.EndSession(ctx, payload.SessionID, time.Now().UTC()); err != nil {
		log.Warn().Err(err).Str("component", "collector").Msg("end session failed")
	}

	event := models.NewEventFromHookPayload(payload)
	event.HookType = models.HookSubagentStop
	if err := c.store.SaveEvent(ctx, event); err != nil {
		log.Error().Err(err).Str("component", "collector").Msg("save event failed")
	}
	if err := c.store.IncrementSessionEventCount(ctx, payload.SessionID); err != nil {
		log.Warn().Err(err).Str("component", "collector").Msg("increment session event count failed")
	}
	c.engine.Enqueue(event)

	sendJSON(w, http.StatusOK, map[string]string{"status": "subagent_stopped", "session_id": payload.SessionID})
}

func (c *Collector) handleHealth(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "collector"})
}

func sendJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Str("component", "collector").Msg("failed to encode JSON response")
	}
}

func sendJSONError(w http.ResponseWriter, statusCode int, message string) {
	sendJSON(w, statusCode, map[string]string{"error": message})
}

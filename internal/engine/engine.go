// Package engine is the orchestrator: it receives enriched events from the
// collector, evaluates policies and sequence rules, maintains risk scores
// and the activity graph, and publishes results to subscribers. Every
// dependency is constructor-injected; there is no process-global engine
// instance to reach through.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/IngaCherny/AgentsLeak/internal/classifier"
	"github.com/IngaCherny/AgentsLeak/internal/graphbuilder"
	"github.com/IngaCherny/AgentsLeak/internal/models"
	"github.com/IngaCherny/AgentsLeak/internal/policy"
	"github.com/IngaCherny/AgentsLeak/internal/risk"
	"github.com/IngaCherny/AgentsLeak/internal/rules"
	"github.com/IngaCherny/AgentsLeak/internal/sequence"
)

// Store is the persistence surface the engine depends on.
type Store interface {
	rules.PolicyStore
	graphbuilder.NodeStore

	SaveEvent(ctx context.Context, e *models.Event) error
	SaveAlert(ctx context.Context, a *models.Alert) error
	ListPolicies(ctx context.Context, enabledOnly bool) ([]*models.Policy, error)
	IncrementSessionEventCount(ctx context.Context, sessionID string) error
	IncrementSessionAlertCount(ctx context.Context, sessionID string) error
	IncrementSessionRiskScore(ctx context.Context, sessionID string, delta int) error
	CleanupStaleSessions(ctx context.Context, cutoff time.Time) (int, error)
}

// Publisher is the pub/sub surface the engine depends on.
type Publisher interface {
	PublishEvent(sessionID string, data any)
	PublishAlert(sessionID string, data any)
}

// Config is the subset of server configuration the engine reads.
type Config struct {
	MaxQueueLength                    int
	StaleSessionCheckInterval         time.Duration
	StaleSessionInactiveThreshold     time.Duration
}

// Engine is the event-processing pipeline.
type Engine struct {
	store     Store
	publisher Publisher
	cfg       Config

	tracker *sequence.Tracker

	mu       sync.RWMutex
	policies []*models.Policy

	queue    chan *models.Event
	stopOnce sync.Once
	stopped  chan struct{}
	wg       sync.WaitGroup
}

// New builds an Engine with no background goroutines started yet.
func New(store Store, publisher Publisher, cfg Config) *Engine {
	if cfg.MaxQueueLength <= 0 {
		cfg.MaxQueueLength = 10000
	}
	if cfg.StaleSessionCheckInterval <= 0 {
		cfg.StaleSessionCheckInterval = 5 * time.Minute
	}
	if cfg.StaleSessionInactiveThreshold <= 0 {
		cfg.StaleSessionInactiveThreshold = 24 * time.Hour
	}
	return &Engine{
		store:     store,
		publisher: publisher,
		cfg:       cfg,
		tracker:   sequence.NewTracker(rules.DefaultSequenceRules()),
		queue:     make(chan *models.Event, cfg.MaxQueueLength),
		stopped:   make(chan struct{}),
	}
}

// Start seeds default policies, loads the active policy cache, and
// launches the background worker and stale-session reaper. Call Stop to
// shut both down.
func (e *Engine) Start(ctx context.Context) error {
	if _, err := rules.SeedDefaultPolicies(ctx, e.store); err != nil {
		return err
	}
	if err := e.ReloadPolicies(ctx); err != nil {
		return err
	}

	e.wg.Add(2)
	go e.worker(ctx)
	go e.staleSessionLoop(ctx)
	return nil
}

// Stop drains the current event (if any) and waits for background
// goroutines to exit.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		close(e.stopped)
	})
	e.wg.Wait()
}

// ReloadPolicies refreshes the cached enabled-policy list from the store.
func (e *Engine) ReloadPolicies(ctx context.Context) error {
	policies, err := e.store.ListPolicies(ctx, true)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.policies = policies
	e.mu.Unlock()
	return nil
}

func (e *Engine) activePolicies() []*models.Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*models.Policy, len(e.policies))
	copy(out, e.policies)
	return out
}

// EvaluatePreTool is the synchronous pre-tool-use path: enrich, classify,
// and check BLOCK policies only. It never touches the sequence tracker,
// risk score, or activity graph, and it fails open — an internal error
// results in Allow, never a hang or a 500 that would break the agent's
// tool call. On the first matching BLOCK policy it persists the denial as
// an alert (same as the async fireAlert path) so a blocked tool call is
// never silently undetectable.
func (e *Engine) EvaluatePreTool(ctx context.Context, event *models.Event) (decision models.Decision) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("component", "engine").Interface("panic", r).Msg("pre-tool evaluation failed, allowing")
			decision = models.Decision{Allow: true}
		}
	}()
	classifier.Enrich(event)

	eventData := eventToPolicyData(event)
	for _, p := range e.activePolicies() {
		if p.Action != models.ActionBlock {
			continue
		}
		if policy.Matches(p, eventData, event.Category, event.ToolName) {
			reason := p.AlertDescription
			if reason == "" {
				reason = p.Name
			}
			alertID := e.fireBlockAlert(ctx, event, p)
			return models.Decision{Allow: false, Reason: reason, AlertID: alertID}
		}
	}
	return models.Decision{Allow: true}
}

// fireBlockAlert persists the alert for a synchronously blocked tool call:
// blocked=true, evidence for the denied event, severity from the policy.
func (e *Engine) fireBlockAlert(ctx context.Context, event *models.Event, p *models.Policy) *uuid.UUID {
	alert := models.NewAlert(event.SessionID, p.Severity, event.Category)
	alert.Title = p.AlertTitle
	if alert.Title == "" {
		alert.Title = "Blocked: " + p.Name
	}
	alert.Description = p.AlertDescription
	if alert.Description == "" {
		alert.Description = p.Description
	}
	alert.PolicyID = &p.ID
	alert.Blocked = true
	alert.Tags = append(append([]string{}, p.Tags...))
	alert.Metadata["policy_name"] = p.Name
	alert.EventIDs = append(alert.EventIDs, event.ID)

	var filePath, command, url *string
	if len(event.FilePaths) > 0 {
		filePath = &event.FilePaths[0]
	}
	if len(event.Commands) > 0 {
		command = &event.Commands[0]
	}
	if len(event.URLs) > 0 {
		url = &event.URLs[0]
	}
	alert.AddEvidence(event.ID, "Blocked by policy: "+p.Name, evidenceData(event), filePath, command, url)

	e.saveAndPublishAlert(ctx, alert)
	return &alert.ID
}

// Enqueue submits an event for asynchronous processing. If the queue is
// full the event is dropped and a warning logged rather than blocking the
// caller (almost always an HTTP handler).
func (e *Engine) Enqueue(event *models.Event) {
	select {
	case e.queue <- event:
	default:
		log.Warn().Str("component", "engine").Str("session_id", event.SessionID).Msg("event queue full, dropping event")
	}
}

func (e *Engine) worker(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopped:
			return
		case event := <-e.queue:
			e.process(ctx, event)
		}
	}
}

func (e *Engine) process(ctx context.Context, event *models.Event) {
	if !event.Enriched {
		classifier.Enrich(event)
	}

	eventData := eventToPolicyData(event)

	if event.HookType != models.HookPreToolUse {
		for _, p := range e.activePolicies() {
			if p.Action == models.ActionBlock {
				continue
			}
			if policy.Matches(p, eventData, event.Category, event.ToolName) {
				e.fireAlert(ctx, event, p, nil)
			}
		}
	}

	for _, rule := range e.tracker.TrackEvent(event, eventData) {
		matched := e.tracker.MatchedEvents(rule, event.SessionID)
		e.fireSequenceAlert(ctx, event.SessionID, rule, matched)
	}

	delta := risk.ComputeEventRisk(risk.EventInput{
		FilePaths:   event.FilePaths,
		Commands:    event.Commands,
		URLs:        event.URLs,
		IPAddresses: event.IPAddresses,
		ToolName:    event.ToolName,
		SearchQuery: searchQuery(event),
	})
	if delta > 0 {
		if err := e.store.IncrementSessionRiskScore(ctx, event.SessionID, delta); err != nil {
			log.Warn().Err(err).Str("component", "engine").Msg("risk score update failed")
		}
	}

	if err := graphbuilder.Build(ctx, e.store, event); err != nil {
		log.Error().Err(err).Str("component", "engine").Str("event_id", event.ID.String()).Msg("graph build failed")
	}

	event.Processed = true
	if err := e.store.SaveEvent(ctx, event); err != nil {
		log.Error().Err(err).Str("component", "engine").Msg("save event failed")
	}
	e.publisher.PublishEvent(event.SessionID, serializeEvent(event))
}

func searchQuery(e *models.Event) string {
	if e.ToolInput == nil {
		return ""
	}
	if v, ok := e.ToolInput["pattern"]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func (e *Engine) fireAlert(ctx context.Context, event *models.Event, p *models.Policy, matched []*models.Event) {
	alert := models.NewAlert(event.SessionID, p.Severity, event.Category)
	alert.Title = p.AlertTitle
	if alert.Title == "" {
		alert.Title = p.Name
	}
	alert.Description = p.AlertDescription
	alert.PolicyID = &p.ID
	alert.Blocked = p.Action == models.ActionBlock
	alert.Tags = append(append([]string{}, p.Tags...))
	alert.Metadata["policy_name"] = p.Name

	events := matched
	if events == nil {
		events = []*models.Event{event}
	}
	for _, me := range events {
		alert.EventIDs = append(alert.EventIDs, me.ID)
	}
	e.saveAndPublishAlert(ctx, alert)
}

func (e *Engine) fireSequenceAlert(ctx context.Context, sessionID string, rule *models.SequenceRule, matched []*models.Event) {
	if len(matched) == 0 {
		return
	}
	alert := models.NewAlert(sessionID, rule.Severity, matched[len(matched)-1].Category)
	alert.Title = rule.AlertTitle
	if alert.Title == "" {
		alert.Title = rule.Name
	}
	alert.Description = rule.AlertDescription
	alert.Blocked = rule.Action == models.ActionBlock
	alert.Tags = append(append([]string{}, rule.Tags...), "sequence-detection")
	alert.Metadata["policy_name"] = rule.Name

	for i, me := range matched {
		alert.EventIDs = append(alert.EventIDs, me.ID)
		alert.AddEvidence(me.ID, stepDescription(i, rule), evidenceData(me), nil, nil, nil)
	}
	e.saveAndPublishAlert(ctx, alert)
}

func stepDescription(i int, rule *models.SequenceRule) string {
	label := ""
	if i < len(rule.Steps) {
		label = rule.Steps[i].Label
	}
	return "Step " + itoa(i+1) + ": " + label
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func evidenceData(e *models.Event) models.JSONMap {
	return models.JSONMap{
		"tool_name": e.ToolName,
		"category":  string(e.Category),
	}
}

func (e *Engine) saveAndPublishAlert(ctx context.Context, alert *models.Alert) {
	if err := e.store.SaveAlert(ctx, alert); err != nil {
		log.Error().Err(err).Str("component", "engine").Msg("save alert failed")
		return
	}
	if err := e.store.IncrementSessionAlertCount(ctx, alert.SessionID); err != nil {
		log.Warn().Err(err).Str("component", "engine").Msg("increment session alert count failed")
	}
	e.publisher.PublishAlert(alert.SessionID, serializeAlert(alert))
}

func (e *Engine) staleSessionLoop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.StaleSessionCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopped:
			return
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-e.cfg.StaleSessionInactiveThreshold)
			n, err := e.store.CleanupStaleSessions(ctx, cutoff)
			if err != nil {
				log.Error().Err(err).Str("component", "engine").Msg("stale session cleanup failed")
				continue
			}
			if n > 0 {
				log.Info().Str("component", "engine").Int("closed", n).Msg("closed stale sessions")
			}
		}
	}
}

// eventToPolicyData flattens an event into the map shape policy conditions
// match against, including the raw-payload fields (permission_mode, query,
// transcript_path, session_cwd, parent_session_id) that are only available
// via the raw payload, not the typed Event.
func eventToPolicyData(e *models.Event) models.JSONMap {
	data := models.JSONMap{
		"id":           e.ID.String(),
		"session_id":   e.SessionID,
		"hook_type":    string(e.HookType),
		"tool_name":    e.ToolName,
		"tool_input":   e.ToolInput,
		"tool_result":  e.ToolResult,
		"category":     string(e.Category),
		"severity":     string(e.Severity),
		"file_paths":   e.FilePaths,
		"commands":     e.Commands,
		"urls":         e.URLs,
		"ip_addresses": e.IPAddresses,
	}
	for _, k := range []string{"permission_mode", "query", "transcript_path", "session_cwd", "parent_session_id"} {
		if v, ok := e.RawPayload[k]; ok {
			data[k] = v
		}
	}
	return data
}

func serializeEvent(e *models.Event) models.JSONMap {
	return models.JSONMap{
		"id":           e.ID.String(),
		"session_id":   e.SessionID,
		"timestamp":    e.Timestamp.Format(time.RFC3339),
		"hook_type":    string(e.HookType),
		"tool_name":    e.ToolName,
		"tool_input":   e.ToolInput,
		"tool_result":  e.ToolResult,
		"category":     string(e.Category),
		"severity":     string(e.Severity),
		"file_paths":   e.FilePaths,
		"commands":     e.Commands,
		"urls":         e.URLs,
		"ip_addresses": e.IPAddresses,
		"processed":    e.Processed,
		"enriched":     e.Enriched,
	}
}

func serializeAlert(a *models.Alert) models.JSONMap {
	var policyID any
	if a.PolicyID != nil {
		policyID = a.PolicyID.String()
	}
	eventIDs := make([]string, len(a.EventIDs))
	for i, id := range a.EventIDs {
		eventIDs[i] = id.String()
	}
	evidence := make([]models.JSONMap, len(a.Evidence))
	for i, ev := range a.Evidence {
		evidence[i] = models.JSONMap{
			"event_id":    ev.EventID.String(),
			"description": ev.Description,
			"data":        ev.Data,
		}
	}
	return models.JSONMap{
		"id":           a.ID.String(),
		"session_id":   a.SessionID,
		"created_at":   a.CreatedAt.Format(time.RFC3339),
		"updated_at":   a.UpdatedAt.Format(time.RFC3339),
		"title":        a.Title,
		"description":  a.Description,
		"severity":     string(a.Severity),
		"category":     string(a.Category),
		"status":       string(a.Status),
		"policy_id":    policyID,
		"policy_name":  a.Metadata["policy_name"],
		"event_ids":    eventIDs,
		"evidence":     evidence,
		"action_taken": a.ActionTaken,
		"blocked":      a.Blocked,
		"tags":         a.Tags,
		"metadata":     a.Metadata,
	}
}

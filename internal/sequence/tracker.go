// Package sequence tracks a sliding window of recent events per session
// and fires a SequenceRule when its ordered (or unordered) steps are all
// satisfied within the rule's time window.
package sequence

import (
	"regexp"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/IngaCherny/AgentsLeak/internal/models"
)

// maxBufferSize bounds the per-session FIFO; once exceeded the oldest
// event is evicted regardless of whether any rule's window still covers
// it, the same bound the original implementation uses.
const maxBufferSize = 500

type trackedEvent struct {
	event     *models.Event
	eventData models.JSONMap
}

// Tracker evaluates SequenceRules against a rolling per-session event
// buffer. Rule firings for a given (rule, session) pair dedup for the
// Tracker's lifetime; nothing ever re-arms a fired rule short of
// ResetSession.
type Tracker struct {
	mu      sync.Mutex
	rules   []*models.SequenceRule
	buffers map[string][]trackedEvent
	fired   map[string]bool
}

// NewTracker builds a Tracker over the given rule set.
func NewTracker(rules []*models.SequenceRule) *Tracker {
	return &Tracker{
		rules:   rules,
		buffers: map[string][]trackedEvent{},
		fired:   map[string]bool{},
	}
}

// SetRules replaces the active rule set (used when rules are reloaded).
func (t *Tracker) SetRules(rules []*models.SequenceRule) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rules = rules
}

// ResetSession clears a session's buffer and fired-rule dedup state.
func (t *Tracker) ResetSession(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.buffers, sessionID)
	for key := range t.fired {
		if dedupSessionID(key) == sessionID {
			delete(t.fired, key)
		}
	}
}

func dedupKey(ruleID, sessionID string) string { return ruleID + "\x00" + sessionID }

func dedupSessionID(key string) string {
	for i := 0; i < len(key); i++ {
		if key[i] == 0 {
			return key[i+1:]
		}
	}
	return ""
}

// TrackEvent appends an event to its session's buffer, evicts entries the
// largest rule window can no longer reach, and returns any rules that
// newly fire as a result.
func (t *Tracker) TrackEvent(e *models.Event, eventData models.JSONMap) []*models.SequenceRule {
	t.mu.Lock()
	defer t.mu.Unlock()

	buf := append(t.buffers[e.SessionID], trackedEvent{event: e, eventData: eventData})
	var maxWindow time.Duration
	for _, rule := range t.rules {
		if w := time.Duration(rule.TimeWindowSeconds) * time.Second; w > maxWindow {
			maxWindow = w
		}
	}
	if maxWindow > 0 {
		cutoff := e.Timestamp.Add(-maxWindow)
		for len(buf) > 0 && buf[0].event.Timestamp.Before(cutoff) {
			buf = buf[1:]
		}
	}
	if len(buf) > maxBufferSize {
		buf = buf[len(buf)-maxBufferSize:]
	}
	t.buffers[e.SessionID] = buf

	var fired []*models.SequenceRule
	for _, rule := range t.rules {
		if !rule.Enabled {
			continue
		}
		key := dedupKey(rule.ID, e.SessionID)
		if t.fired[key] {
			continue
		}
		if t.evaluateRule(rule, buf) != nil {
			t.fired[key] = true
			fired = append(fired, rule)
		}
	}
	return fired
}

// MatchedEvents returns the events that satisfied rule's steps the last
// time it fired for sessionID, used by the engine to build alert evidence.
// Recomputing (rather than caching) keeps the Tracker's state minimal;
// sequence rules are evaluated at most once per session by construction.
func (t *Tracker) MatchedEvents(rule *models.SequenceRule, sessionID string) []*models.Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	matches := t.evaluateRule(rule, t.buffers[sessionID])
	if matches == nil {
		return nil
	}
	out := make([]*models.Event, len(matches))
	for i, m := range matches {
		out[i] = m.event
	}
	return out
}

// evaluateRule returns the matched events for rule's steps if it fires
// against buf, or nil if it doesn't.
func (t *Tracker) evaluateRule(rule *models.SequenceRule, buf []trackedEvent) []trackedEvent {
	if len(buf) == 0 || len(rule.Steps) == 0 {
		return nil
	}
	cutoff := buf[len(buf)-1].event.Timestamp.Add(-time.Duration(rule.TimeWindowSeconds) * time.Second)
	window := make([]trackedEvent, 0, len(buf))
	for _, te := range buf {
		if !te.event.Timestamp.Before(cutoff) {
			window = append(window, te)
		}
	}

	stepMatches := make([][]trackedEvent, len(rule.Steps))
	for i, step := range rule.Steps {
		for _, te := range window {
			if stepMatchesEvent(step, te) {
				stepMatches[i] = append(stepMatches[i], te)
			}
		}
		if len(stepMatches[i]) == 0 {
			return nil
		}
	}

	if !rule.Ordered {
		result := make([]trackedEvent, len(rule.Steps))
		for i, matches := range stepMatches {
			result[i] = matches[0]
		}
		return result
	}

	result := make([]trackedEvent, len(rule.Steps))
	var lastTS time.Time
	for i, matches := range stepMatches {
		found := false
		for _, m := range matches {
			if i == 0 || !m.event.Timestamp.Before(lastTS) {
				result[i] = m
				lastTS = m.event.Timestamp
				found = true
				break
			}
		}
		if !found {
			return nil
		}
	}
	return result
}

func stepMatchesEvent(step models.SequenceStep, te trackedEvent) bool {
	if len(step.Categories) > 0 {
		matched := false
		for _, c := range step.Categories {
			if c == te.event.Category {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	for field, pattern := range step.FieldPatterns {
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			log.Warn().Str("component", "sequence").Str("field", field).Str("pattern", pattern).Msg("invalid sequence field pattern")
			return false
		}
		if !fieldMatches(te.eventData, field, re) {
			return false
		}
	}
	return true
}

// fieldMatches checks re against every element of a list-valued field
// (OR'd together) or a single scalar field.
func fieldMatches(data models.JSONMap, field string, re *regexp.Regexp) bool {
	v, ok := data[field]
	if !ok {
		return false
	}
	switch t := v.(type) {
	case []string:
		for _, s := range t {
			if re.MatchString(s) {
				return true
			}
		}
		return false
	case []any:
		for _, item := range t {
			if s, ok := item.(string); ok && re.MatchString(s) {
				return true
			}
		}
		return false
	case string:
		return re.MatchString(t)
	default:
		return false
	}
}

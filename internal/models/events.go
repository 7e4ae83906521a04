// Package models holds the data types shared by every AgentsLeak component:
// hook payloads, sessions, events, alerts, policies, and the activity graph.
package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventCategory classifies an event by the kind of action it represents.
type EventCategory string

const (
	CategoryFileRead         EventCategory = "file_read"
	CategoryFileWrite        EventCategory = "file_write"
	CategoryFileDelete       EventCategory = "file_delete"
	CategoryCommandExec      EventCategory = "command_exec"
	CategoryNetworkAccess    EventCategory = "network_access"
	CategoryCodeExecution    EventCategory = "code_execution"
	CategorySubagentSpawn    EventCategory = "subagent_spawn"
	CategoryMCPToolUse       EventCategory = "mcp_tool_use"
	CategorySessionLifecycle EventCategory = "session_lifecycle"
	CategoryUnknown          EventCategory = "unknown"
)

// Severity is the event/alert severity lattice, ordered low to high.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityInfo:     0,
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// MaxSeverity returns the higher-ranked of the two severities.
func MaxSeverity(a, b Severity) Severity {
	if severityRank[a] >= severityRank[b] {
		return a
	}
	return b
}

// HookKind is the Claude-Code-style hook event name that produced an Event.
type HookKind string

const (
	HookPreToolUse        HookKind = "PreToolUse"
	HookPostToolUse       HookKind = "PostToolUse"
	HookPostToolUseError  HookKind = "PostToolUseFailure"
	HookSessionStart      HookKind = "SessionStart"
	HookSessionEnd        HookKind = "SessionEnd"
	HookSubagentStart     HookKind = "SubagentStart"
	HookSubagentStop      HookKind = "SubagentStop"
	HookPermissionRequest HookKind = "PermissionRequest"
	HookUserPromptSubmit  HookKind = "UserPromptSubmit"
	HookStop              HookKind = "Stop"
	HookNotification      HookKind = "Notification"
	HookUnknown           HookKind = "unknown"
)

// JSONMap is a free-form JSON object, used for tool_input/tool_result and
// the raw payload tail that isn't part of the typed header.
type JSONMap map[string]any

// HookPayload is the body posted by a hook sensor. It accepts both the
// agent runtime's native field names and AgentsLeak's internal names;
// DecodeHookPayload resolves aliases and folds everything unrecognized into
// RawPayload.
type HookPayload struct {
	SessionID    string   `json:"session_id"`
	SessionCwd   string   `json:"session_cwd,omitempty"`
	HookType     HookKind `json:"hook_type,omitempty"`
	ToolName     string   `json:"tool_name,omitempty"`
	ToolInput    JSONMap  `json:"tool_input,omitempty"`
	ToolResult   JSONMap  `json:"tool_result,omitempty"`
	ToolUseID    string   `json:"tool_use_id,omitempty"`
	TranscriptPath string `json:"transcript_path,omitempty"`
	PermissionMode string `json:"permission_mode,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	Query        string   `json:"query,omitempty"`
	ParentSessionID string `json:"parent_session_id,omitempty"`

	EndpointHostname string `json:"endpoint_hostname,omitempty"`
	EndpointUser     string `json:"endpoint_user,omitempty"`
	SessionSource    string `json:"session_source,omitempty"`

	// RawPayload preserves every field of the original POST body verbatim,
	// including fields this struct doesn't name.
	RawPayload JSONMap `json:"-"`
}

// aliasedFields maps the agent runtime's native field names onto ours.
var aliasedFields = map[string]string{
	"cwd":              "session_cwd",
	"hook_event_name":  "hook_type",
	"tool_response":    "tool_result",
	"sensor_timestamp": "timestamp",
}

// DecodeHookPayload parses a raw JSON body into a HookPayload, resolving
// field aliases and keeping the full decoded body as RawPayload.
func DecodeHookPayload(body []byte) (*HookPayload, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}

	normalized := make(map[string]json.RawMessage, len(raw))
	rawMap := make(JSONMap, len(raw))
	for k, v := range raw {
		var decoded any
		if err := json.Unmarshal(v, &decoded); err == nil {
			rawMap[k] = decoded
		}
		target := k
		if alias, ok := aliasedFields[k]; ok {
			target = alias
		}
		if _, exists := normalized[target]; !exists || target != k {
			normalized[target] = v
		}
	}

	p := &HookPayload{RawPayload: rawMap}
	if v, ok := normalized["session_id"]; ok {
		_ = json.Unmarshal(v, &p.SessionID)
	}
	if v, ok := normalized["session_cwd"]; ok {
		_ = json.Unmarshal(v, &p.SessionCwd)
	}
	if v, ok := normalized["hook_type"]; ok {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			p.HookType = HookKind(s)
		}
	}
	if p.HookType == "" {
		p.HookType = HookUnknown
	}
	if v, ok := normalized["tool_name"]; ok {
		_ = json.Unmarshal(v, &p.ToolName)
	}
	if v, ok := normalized["tool_input"]; ok {
		_ = json.Unmarshal(v, &p.ToolInput)
	}
	if v, ok := normalized["tool_result"]; ok {
		_ = json.Unmarshal(v, &p.ToolResult)
	}
	if v, ok := normalized["tool_use_id"]; ok {
		_ = json.Unmarshal(v, &p.ToolUseID)
	}
	if v, ok := normalized["transcript_path"]; ok {
		_ = json.Unmarshal(v, &p.TranscriptPath)
	}
	if v, ok := normalized["permission_mode"]; ok {
		_ = json.Unmarshal(v, &p.PermissionMode)
	}
	if v, ok := normalized["timestamp"]; ok {
		_ = json.Unmarshal(v, &p.Timestamp)
	}
	if p.Timestamp.IsZero() {
		p.Timestamp = time.Now().UTC()
	}
	if v, ok := normalized["query"]; ok {
		_ = json.Unmarshal(v, &p.Query)
	}
	if v, ok := normalized["parent_session_id"]; ok {
		_ = json.Unmarshal(v, &p.ParentSessionID)
	}
	if v, ok := normalized["endpoint_hostname"]; ok {
		_ = json.Unmarshal(v, &p.EndpointHostname)
	}
	if v, ok := normalized["endpoint_user"]; ok {
		_ = json.Unmarshal(v, &p.EndpointUser)
	}
	if v, ok := normalized["session_source"]; ok {
		_ = json.Unmarshal(v, &p.SessionSource)
	}

	return p, nil
}

// Decision is the synchronous response to a PreToolUse hook.
type Decision struct {
	Allow        bool
	Reason       string
	ModifiedInput JSONMap
	AlertID      *uuid.UUID
}

// ToHookResponse renders the bit-exact Claude-Code-style hook reply.
func (d Decision) ToHookResponse() JSONMap {
	if d.Allow {
		if len(d.ModifiedInput) == 0 {
			return JSONMap{}
		}
		return JSONMap{
			"hookSpecificOutput": JSONMap{
				"hookEventName":     "PreToolUse",
				"permissionDecision": "allow",
				"updatedInput":      d.ModifiedInput,
			},
		}
	}
	reason := d.Reason
	if reason == "" {
		reason = "Blocked by AgentsLeak policy"
	}
	return JSONMap{
		"hookSpecificOutput": JSONMap{
			"hookEventName":            "PreToolUse",
			"permissionDecision":       "deny",
			"permissionDecisionReason": reason,
		},
	}
}

// SessionStatus is the lifecycle state of a Session.
type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionEnded  SessionStatus = "ended"
)

// Session is one monitored agent run.
type Session struct {
	ID               uuid.UUID  `json:"id"`
	SessionID        string     `json:"session_id"`
	StartedAt        time.Time  `json:"started_at"`
	EndedAt          *time.Time `json:"ended_at,omitempty"`
	Cwd              string     `json:"cwd,omitempty"`
	ParentSessionID  string     `json:"parent_session_id,omitempty"`
	EventCount       int        `json:"event_count"`
	AlertCount       int        `json:"alert_count"`
	RiskScore        int        `json:"risk_score"`
	Status           SessionStatus `json:"status"`
	EndpointHostname string     `json:"endpoint_hostname,omitempty"`
	EndpointUser     string     `json:"endpoint_user,omitempty"`
	SessionSource    string     `json:"session_source,omitempty"`
}

// Event is an immutable record of one hook invocation, enriched and
// classified as it moves through the pipeline.
type Event struct {
	ID         uuid.UUID `json:"id"`
	SessionID  string    `json:"session_id"`
	Timestamp  time.Time `json:"timestamp"`
	HookType   HookKind  `json:"hook_type"`
	ToolName   string    `json:"tool_name,omitempty"`
	ToolInput  JSONMap   `json:"tool_input,omitempty"`
	ToolResult JSONMap   `json:"tool_result,omitempty"`

	Category EventCategory `json:"category"`
	Severity Severity      `json:"severity"`

	FilePaths   []string `json:"file_paths,omitempty"`
	Commands    []string `json:"commands,omitempty"`
	URLs        []string `json:"urls,omitempty"`
	IPAddresses []string `json:"ip_addresses,omitempty"`

	Processed bool `json:"processed"`
	Enriched  bool `json:"enriched"`

	RawPayload JSONMap `json:"raw_payload,omitempty"`
}

// NewEventFromHookPayload builds an Event from a normalized hook payload.
func NewEventFromHookPayload(p *HookPayload) *Event {
	raw := JSONMap{}
	for k, v := range p.RawPayload {
		raw[k] = v
	}
	// Make sure the normalized internal names are present for policy
	// matching even if the sensor used the aliased native names.
	raw["session_cwd"] = p.SessionCwd
	raw["hook_type"] = string(p.HookType)
	raw["permission_mode"] = p.PermissionMode
	raw["query"] = p.Query
	raw["transcript_path"] = p.TranscriptPath
	raw["parent_session_id"] = p.ParentSessionID

	return &Event{
		ID:         uuid.New(),
		SessionID:  p.SessionID,
		Timestamp:  p.Timestamp,
		HookType:   p.HookType,
		ToolName:   p.ToolName,
		ToolInput:  p.ToolInput,
		ToolResult: p.ToolResult,
		Category:   CategoryUnknown,
		Severity:   SeverityInfo,
		RawPayload: raw,
	}
}

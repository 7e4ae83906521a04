package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaxSeverity(t *testing.T) {
	assert.Equal(t, SeverityHigh, MaxSeverity(SeverityLow, SeverityHigh))
	assert.Equal(t, SeverityCritical, MaxSeverity(SeverityCritical, SeverityInfo))
	assert.Equal(t, SeverityMedium, MaxSeverity(SeverityMedium, SeverityMedium))
}

func TestDecodeHookPayload_ResolvesAliases(t *testing.T) {
	body := []byte(`{
		"session_id": "sess-1",
		"cwd": "/home/agent/project",
		"hook_event_name": "PreToolUse",
		"tool_name": "Bash",
		"tool_response": {"exit_code": 0},
		"sensor_timestamp": "2026-01-02T03:04:05Z",
		"endpoint_hostname": "box-1"
	}`)

	p, err := DecodeHookPayload(body)
	require.NoError(t, err)

	assert.Equal(t, "sess-1", p.SessionID)
	assert.Equal(t, "/home/agent/project", p.SessionCwd)
	assert.Equal(t, HookPreToolUse, p.HookType)
	assert.Equal(t, "Bash", p.ToolName)
	assert.Equal(t, float64(0), p.ToolResult["exit_code"])
	assert.Equal(t, "box-1", p.EndpointHostname)
	assert.Equal(t, 2026, p.Timestamp.Year())

	// The raw payload keeps the original field names, unresolved.
	assert.Contains(t, p.RawPayload, "hook_event_name")
}

func TestDecodeHookPayload_DefaultsHookTypeAndTimestamp(t *testing.T) {
	before := time.Now().UTC()
	p, err := DecodeHookPayload([]byte(`{"session_id": "sess-2"}`))
	require.NoError(t, err)

	assert.Equal(t, HookUnknown, p.HookType)
	assert.True(t, !p.Timestamp.Before(before))
}

func TestDecodeHookPayload_InvalidJSON(t *testing.T) {
	_, err := DecodeHookPayload([]byte(`not json`))
	assert.Error(t, err)
}

func TestDecision_ToHookResponse_Allow(t *testing.T) {
	d := Decision{Allow: true}
	assert.Equal(t, JSONMap{}, d.ToHookResponse())

	modified := Decision{Allow: true, ModifiedInput: JSONMap{"command": "safe"}}
	resp := modified.ToHookResponse()
	hso, ok := resp["hookSpecificOutput"].(JSONMap)
	require.True(t, ok)
	assert.Equal(t, "allow", hso["permissionDecision"])
	assert.Equal(t, JSONMap{"command": "safe"}, hso["updatedInput"])
}

func TestDecision_ToHookResponse_Deny(t *testing.T) {
	d := Decision{Allow: false, Reason: "matched policy: exfil"}
	resp := d.ToHookResponse()
	hso, ok := resp["hookSpecificOutput"].(JSONMap)
	require.True(t, ok)
	assert.Equal(t, "deny", hso["permissionDecision"])
	assert.Equal(t, "matched policy: exfil", hso["permissionDecisionReason"])

	empty := Decision{Allow: false}
	resp = empty.ToHookResponse()
	hso = resp["hookSpecificOutput"].(JSONMap)
	assert.Equal(t, "Blocked by AgentsLeak policy", hso["permissionDecisionReason"])
}

func TestNewEventFromHookPayload(t *testing.T) {
	p := &HookPayload{
		SessionID:  "sess-3",
		SessionCwd: "/tmp",
		HookType:   HookPostToolUse,
		ToolName:   "Write",
		Timestamp:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		RawPayload: JSONMap{"tool_name": "Write"},
	}
	e := NewEventFromHookPayload(p)

	assert.Equal(t, "sess-3", e.SessionID)
	assert.Equal(t, HookPostToolUse, e.HookType)
	assert.Equal(t, CategoryUnknown, e.Category)
	assert.Equal(t, SeverityInfo, e.Severity)
	assert.Equal(t, "/tmp", e.RawPayload["session_cwd"])
	assert.NotEqual(t, uuid.Nil, e.ID)
}

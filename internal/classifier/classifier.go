// Package classifier assigns an EventCategory and Severity to an Event and
// extracts the file paths, commands, URLs, and IP addresses it touches.
// The pattern tables below are reproduced verbatim from the monitored
// agent-hook scanner this system is a Go rewrite of.
package classifier

import (
	"strings"

	"github.com/IngaCherny/AgentsLeak/internal/models"
)

// toolCategoryMap maps a tool name directly onto a category, bypassing
// shape inspection for tools whose behavior is unambiguous.
var toolCategoryMap = map[string]models.EventCategory{
	"Read": models.CategoryFileRead, "read_file": models.CategoryFileRead,
	"cat": models.CategoryFileRead, "head": models.CategoryFileRead, "tail": models.CategoryFileRead,
	"Glob": models.CategoryFileRead, "Grep": models.CategoryFileRead,

	"Write": models.CategoryFileWrite, "Edit": models.CategoryFileWrite,
	"write_file": models.CategoryFileWrite, "NotebookEdit": models.CategoryFileWrite,

	"Bash": models.CategoryCommandExec, "bash": models.CategoryCommandExec,
	"execute_command": models.CategoryCommandExec, "shell": models.CategoryCommandExec,

	"WebFetch": models.CategoryNetworkAccess, "WebSearch": models.CategoryNetworkAccess,
	"fetch": models.CategoryNetworkAccess, "curl": models.CategoryNetworkAccess, "http": models.CategoryNetworkAccess,

	"Task": models.CategorySubagentSpawn, "dispatch_agent": models.CategorySubagentSpawn,

	"TaskCreate": models.CategorySessionLifecycle, "TaskUpdate": models.CategorySessionLifecycle,
	"TaskList": models.CategorySessionLifecycle, "TaskGet": models.CategorySessionLifecycle,
	"TaskStop": models.CategorySessionLifecycle, "TodoWrite": models.CategorySessionLifecycle,
	"TodoRead": models.CategorySessionLifecycle, "AskUserQuestion": models.CategorySessionLifecycle,
	"Skill": models.CategorySessionLifecycle, "EnterPlanMode": models.CategorySessionLifecycle,
	"ExitPlanMode": models.CategorySessionLifecycle,
}

var networkCommandSubstrings = []string{
	"curl", "wget", "ssh", "scp", "rsync", "nc", "netcat", "ping", "traceroute",
	"dig", "nslookup", "host", "ftp", "sftp", "telnet",
}

func isNetworkCommand(command string) bool {
	for _, sub := range networkCommandSubstrings {
		if strings.Contains(command, sub) {
			return true
		}
	}
	return false
}

func stringField(m models.JSONMap, key string) (string, bool) {
	v, ok := m[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Classify assigns a category to an event, consulting the tool-name map
// first and falling back to tool_input/hook_type shape inspection.
func Classify(e *models.Event) models.EventCategory {
	if cat, ok := toolCategoryMap[e.ToolName]; ok {
		return cat
	}

	input := e.ToolInput
	if input != nil {
		_, hasFilePath := stringField(input, "file_path")
		_, hasPath := stringField(input, "path")
		_, hasContent := stringField(input, "content")
		_, hasNewString := stringField(input, "new_string")
		if hasFilePath || hasPath {
			if hasContent || hasNewString {
				return models.CategoryFileWrite
			}
			return models.CategoryFileRead
		}
		if cmd, ok := stringField(input, "command"); ok {
			if isNetworkCommand(cmd) {
				return models.CategoryNetworkAccess
			}
			return models.CategoryCommandExec
		}
		if _, ok := stringField(input, "url"); ok {
			return models.CategoryNetworkAccess
		}
	}

	switch e.HookType {
	case models.HookSessionStart, models.HookSessionEnd, models.HookUserPromptSubmit, models.HookStop, models.HookNotification:
		return models.CategorySessionLifecycle
	case models.HookSubagentStart, models.HookSubagentStop:
		return models.CategorySubagentSpawn
	}

	return models.CategoryUnknown
}

package classifier

import (
	"regexp"
	"strings"

	"github.com/IngaCherny/AgentsLeak/internal/models"
)

var (
	pathInCommandPattern = regexp.MustCompile(`(?:^|\s)(/[^\s;|&><]+|\.?\.?/[^\s;|&><]+)`)
	urlPattern           = regexp.MustCompile(`https?://[^\s"'>]+`)
	ipPattern            = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
)

// ExtractFilePaths pulls every file path an event's tool_input or command
// references: file_path/path/notebook_path fields, Glob's pattern field,
// and any path-looking token in a shell command.
func ExtractFilePaths(e *models.Event) []string {
	seen := map[string]bool{}
	var out []string
	add := func(p string) {
		if p != "" && !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}

	if e.ToolInput != nil {
		if v, ok := stringField(e.ToolInput, "file_path"); ok {
			add(v)
		}
		if v, ok := stringField(e.ToolInput, "path"); ok {
			add(v)
		}
		if v, ok := stringField(e.ToolInput, "notebook_path"); ok {
			add(v)
		}
		if e.ToolName == "Glob" {
			if v, ok := stringField(e.ToolInput, "pattern"); ok {
				add(v)
			}
		}
		if cmd, ok := stringField(e.ToolInput, "command"); ok {
			for _, m := range pathInCommandPattern.FindAllStringSubmatch(cmd, -1) {
				add(m[1])
			}
		}
	}
	return out
}

// ExtractCommands returns the event's command, if any.
func ExtractCommands(e *models.Event) []string {
	if e.ToolInput == nil {
		return nil
	}
	if cmd, ok := stringField(e.ToolInput, "command"); ok && cmd != "" {
		return []string{cmd}
	}
	return nil
}

// ExtractURLs pulls the url field and any http(s) URL embedded in a
// command, deduplicated.
func ExtractURLs(e *models.Event) []string {
	seen := map[string]bool{}
	var out []string
	add := func(u string) {
		if u != "" && !seen[u] {
			seen[u] = true
			out = append(out, u)
		}
	}

	if e.ToolInput != nil {
		if v, ok := stringField(e.ToolInput, "url"); ok {
			add(v)
		}
		if cmd, ok := stringField(e.ToolInput, "command"); ok {
			for _, m := range urlPattern.FindAllString(cmd, -1) {
				add(m)
			}
		}
	}
	return out
}

// ExtractIPAddresses pulls IPv4 addresses out of a command and a url
// field, deduplicated.
func ExtractIPAddresses(e *models.Event) []string {
	seen := map[string]bool{}
	var out []string
	add := func(ip string) {
		if ip != "" && !seen[ip] {
			seen[ip] = true
			out = append(out, ip)
		}
	}

	if e.ToolInput != nil {
		if cmd, ok := stringField(e.ToolInput, "command"); ok {
			for _, m := range ipPattern.FindAllString(cmd, -1) {
				add(m)
			}
		}
		if v, ok := stringField(e.ToolInput, "url"); ok {
			for _, m := range ipPattern.FindAllString(v, -1) {
				add(m)
			}
		}
	}
	return out
}

// FileRole is the kind of access a command performs against a file it
// references.
type FileRole string

const (
	RoleReads    FileRole = "reads"
	RoleWrites   FileRole = "writes"
	RoleExecutes FileRole = "executes"
)

// CommandFileRef is one file a shell command reads, writes, or executes.
type CommandFileRef struct {
	Path string
	Role FileRole
}

var (
	curlWgetOutputPattern = regexp.MustCompile(`(?:curl|wget)\b.*?(?:-o|-O|--output)\s+([^\s;|&]+)`)
	redirectPattern       = regexp.MustCompile(`(?:\d|&)?>>?\s*([^\s;|&]+)`)
	teePattern            = regexp.MustCompile(`\btee\b\s+(?:-a\s+)?([^\s;|&]+)`)
	cpMvPattern           = regexp.MustCompile(`\b(?:cp|mv)\s+([^\s;|&]+)\s+([^\s;|&]+)`)
	executePattern        = regexp.MustCompile(`\b(?:bash|sh|zsh|python3?|node|ruby|perl)\s+([^\s;|&]+)`)
	dotSlashPattern       = regexp.MustCompile(`(?:^|\s)(\./[^\s;|&]+)`)
	sourcePattern         = regexp.MustCompile(`\b(?:source|\.)\s+([^\s;|&]+)`)
	chmodXPattern         = regexp.MustCompile(`\bchmod\s+\+x\s+([^\s;|&]+)`)
	readPattern           = regexp.MustCompile(`\b(?:cat|less|more|head|tail|sort|wc|md5sum|sha256sum)\s+([^\s;|&]+)`)
	stdinRedirectPattern  = regexp.MustCompile(`(?:^|\s)<(?:<)?([^<\s;|&]+)`)
	atFilePattern         = regexp.MustCompile(`-d\s+@([^\s;|&]+)`)
)

// ExtractCommandFileRefs scans a shell command for every file it reads,
// writes, or executes, deduplicated by (path, role).
func ExtractCommandFileRefs(command string) []CommandFileRef {
	seen := map[string]bool{}
	var out []CommandFileRef
	add := func(path string, role FileRole) {
		path = strings.Trim(path, `"'`)
		if path == "" || strings.HasPrefix(path, "-") || strings.HasPrefix(path, "/dev/") {
			return
		}
		key := path + "\x00" + string(role)
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, CommandFileRef{Path: path, Role: role})
	}

	for _, m := range curlWgetOutputPattern.FindAllStringSubmatch(command, -1) {
		add(m[1], RoleWrites)
	}
	for _, m := range redirectPattern.FindAllStringSubmatch(command, -1) {
		add(m[1], RoleWrites)
	}
	for _, m := range teePattern.FindAllStringSubmatch(command, -1) {
		add(m[1], RoleWrites)
	}
	for _, m := range cpMvPattern.FindAllStringSubmatch(command, -1) {
		add(m[1], RoleReads)
		add(m[2], RoleWrites)
	}
	for _, m := range executePattern.FindAllStringSubmatch(command, -1) {
		add(m[1], RoleExecutes)
	}
	for _, m := range dotSlashPattern.FindAllStringSubmatch(command, -1) {
		add(m[1], RoleExecutes)
	}
	for _, m := range sourcePattern.FindAllStringSubmatch(command, -1) {
		add(m[1], RoleExecutes)
	}
	for _, m := range chmodXPattern.FindAllStringSubmatch(command, -1) {
		add(m[1], RoleExecutes)
	}
	for _, m := range readPattern.FindAllStringSubmatch(command, -1) {
		add(m[1], RoleReads)
	}
	for _, m := range stdinRedirectPattern.FindAllStringSubmatch(command, -1) {
		if strings.HasPrefix(m[0], "<<") || strings.Contains(m[0], "<<") {
			continue
		}
		add(m[1], RoleReads)
	}
	for _, m := range atFilePattern.FindAllStringSubmatch(command, -1) {
		add(m[1], RoleReads)
	}

	return out
}

// Enrich populates an event's Category, Severity, and extracted-field
// slices in one pass.
func Enrich(e *models.Event) {
	e.Category = Classify(e)
	e.FilePaths = ExtractFilePaths(e)
	e.Commands = ExtractCommands(e)
	e.URLs = ExtractURLs(e)
	e.IPAddresses = ExtractIPAddresses(e)
	e.Severity = ComputeSeverity(e)
	e.Enriched = true
}

// Package risk computes a per-event risk score contribution from weighted
// pattern tables over file paths, commands, search patterns, and URLs,
// plus a flat weight per external IP address touched. Scores accumulate
// onto a session's running total; they are never reset or recomputed from
// scratch.
package risk

import "regexp"

type signal struct {
	pattern *regexp.Regexp
	weight  int
}

func sig(pattern string, weight int) signal {
	return signal{pattern: regexp.MustCompile(pattern), weight: weight}
}

var fileSignals = []signal{
	sig(`\.ssh/id_(?:rsa|ed25519|ecdsa|dsa)(?:\.pub)?$`, 15),
	sig(`\.(?:pem|key|p12|pfx|jks|keystore)$`, 12),
	sig(`\.aws/credentials`, 15),
	sig(`\.(?:gcloud|azure|kube)/config`, 12),
	sig(`\.git-credentials|\.netrc`, 12),
	sig(`\.env(?:\.|$)`, 10),
	sig(`(?i)secret|credential|password|token`, 10),
	sig(`/etc/(?:passwd|shadow|sudoers)`, 10),
	sig(`/proc/\d+/(?:environ|maps|cmdline)`, 8),
	sig(`[Cc]ookies|[Ll]ogin [Dd]ata|\.gnupg`, 8),
}

var cmdSignals = []signal{
	sig(`/dev/(?:tcp|udp)/`, 25),
	sig(`\b(?:nc|ncat)\s+.*-e\s+/bin`, 25),
	sig(`mkfifo.*nc\b|socat\s+.*exec`, 25),
	sig(`\b(?:curl|wget)\b.*\|\s*(?:bash|sh)\b`, 20),
	sig(`\bcurl\b.*-o\b.*&&.*chmod\s+\+x`, 20),
	sig(`\bcurl\b.*-d\s+@`, 18),
	sig(`\bcurl\b.*\|\s*base64`, 15),
	sig(`\bbase64\s+(?:-d|--decode|-e|--encode)\b`, 10),
	sig(`\beval\s*\(.*[\x60$]`, 12),
	sig(`\bpython3?\s+-c\s+.*(?:requests|urllib|socket)`, 12),
	sig(`\bnode\s+-e\s+.*fetch\(`, 10),
	sig(`\bruby\s+-e\s+.*Net::HTTP`, 10),
	sig(`\bsudo\s+chmod\s+[4-7]\d{2}\b|\bchown\s+root\b`, 8),
	sig(`\bchmod\s+\+s\b`, 10),
	sig(`\b(?:whoami|id|uname\s+-a)\b`, 3),
}

var searchSignals = []signal{
	sig(`(?i)password|passwd|api_key|secret.?key|token`, 8),
	sig(`AKIA[0-9A-Z]{16}|aws_secret|aws_access`, 12),
	sig(`-----BEGIN (?:RSA |EC )?PRIVATE KEY-----`, 15),
	sig(`ghp_[0-9A-Za-z]{36}|github_pat_[0-9A-Za-z_]+`, 10),
}

var urlSignals = []signal{
	sig(`https?://(?:\d{1,3}\.){3}\d{1,3}`, 8),
	sig(`(?i)pastebin|requestbin|ngrok|burpcollaborator|interact\.sh|\.oast\.`, 12),
}

var privateIPPrefixes = []string{"127.", "0.", "10.", "192.168.", "172."}

func isPrivateIP(ip string) bool {
	for _, prefix := range privateIPPrefixes {
		if len(ip) >= len(prefix) && ip[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}

// EventInput is the subset of an enriched Event the scorer needs.
type EventInput struct {
	FilePaths   []string
	Commands    []string
	URLs        []string
	IPAddresses []string
	ToolName    string
	SearchQuery string
}

// ComputeEventRisk returns the risk contribution of one event. File and URL
// signals award at most one hit per item (first match wins); command
// signals stack (every match counts); search signals are only scanned for
// Grep/Search tools and, like commands, stack without breaking.
func ComputeEventRisk(in EventInput) int {
	total := 0

	for _, path := range in.FilePaths {
		for _, s := range fileSignals {
			if s.pattern.MatchString(path) {
				total += s.weight
				break
			}
		}
	}

	for _, cmd := range in.Commands {
		for _, s := range cmdSignals {
			if s.pattern.MatchString(cmd) {
				total += s.weight
			}
		}
	}

	if in.ToolName == "Grep" || in.ToolName == "Search" {
		for _, s := range searchSignals {
			if s.pattern.MatchString(in.SearchQuery) {
				total += s.weight
			}
		}
	}

	for _, u := range in.URLs {
		for _, s := range urlSignals {
			if s.pattern.MatchString(u) {
				total += s.weight
				break
			}
		}
	}

	for _, ip := range in.IPAddresses {
		if !isPrivateIP(ip) {
			total += 6
		}
	}

	return total
}

package classifier

import (
	"regexp"

	"github.com/IngaCherny/AgentsLeak/internal/models"
)

type severityPattern struct {
	pattern  *regexp.Regexp
	severity models.Severity
}

func sp(pattern string, severity models.Severity) severityPattern {
	return severityPattern{pattern: regexp.MustCompile(pattern), severity: severity}
}

// dangerousCommandPatterns is ordered highest-severity first; a command
// may match several, and the overall result is the maximum.
var dangerousCommandPatterns = []severityPattern{
	sp(`:\(\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;\s*:`, models.SeverityCritical), // fork bomb
	sp(`\bmkfs\.`, models.SeverityCritical),
	sp(`\bdd\s+if=.*of=/dev/`, models.SeverityCritical),
	sp(`\bchmod\s+777\b`, models.SeverityCritical),
	sp(`\brm\s+-rf\s+/(?:\s|$)`, models.SeverityCritical),
	sp(`\b(?:shred|wipefs)\b`, models.SeverityCritical),
	sp(`>\s*/dev/sd[a-z]`, models.SeverityCritical),
	sp(`\bpython3?\s+-c\s+.*(?:os\.system|subprocess|exec\()`, models.SeverityCritical),
	sp(`\bnode\s+-e\s+.*(?:child_process|require\(['"]net['"]\))`, models.SeverityCritical),
	sp(`\bruby\s+-e\s+.*(?:system\(|exec\()`, models.SeverityCritical),
	sp(`\bperl\s+-e\s+.*(?:system\(|exec\()`, models.SeverityCritical),
	sp(`\bbase64\s+-d.*\|\s*(?:bash|sh|python)`, models.SeverityCritical),
	sp(`\beval\s*\(.*\$\(`, models.SeverityCritical),
	sp(`/dev/(?:tcp|udp)/`, models.SeverityCritical),
	sp(`\bnc\s+.*-e\s+/bin`, models.SeverityCritical),

	sp(`\bcurl\b.*\|\s*(?:bash|sh)\b`, models.SeverityHigh),
	sp(`\bwget\b.*\|\s*(?:bash|sh)\b`, models.SeverityHigh),
	sp(`\bsudo\s+rm\b`, models.SeverityHigh),
	sp(`\buserdel\b|\bgroupdel\b`, models.SeverityHigh),
	sp(`\biptables\s+-F\b`, models.SeverityHigh),
	sp(`\bkill\s+-9\s+1\b`, models.SeverityHigh),

	sp(`\bcurl\b`, models.SeverityMedium),
	sp(`\bwget\b`, models.SeverityMedium),
	sp(`\bgit\s+clone\b`, models.SeverityMedium),
	sp(`\bpip3?\s+install\b`, models.SeverityMedium),
	sp(`\bnpm\s+install\b`, models.SeverityMedium),
	sp(`\bssh\b`, models.SeverityMedium),
	sp(`\bscp\b`, models.SeverityMedium),

	sp(`\bgit\b`, models.SeverityLow),

	sp(`\bls\b|\bpwd\b|\becho\b`, models.SeverityInfo),
}

// sensitiveFilePatterns scans file paths for known secret/credential
// locations.
var sensitiveFilePatterns = []severityPattern{
	sp(`/etc/shadow`, models.SeverityCritical),
	sp(`id_rsa|id_ed25519`, models.SeverityCritical),
	sp(`\.aws/credentials`, models.SeverityCritical),

	sp(`/etc/passwd`, models.SeverityHigh),
	sp(`\.ssh/`, models.SeverityHigh),
	sp(`\.env\b`, models.SeverityHigh),
	sp(`\.netrc`, models.SeverityHigh),
	sp(`\.pgpass`, models.SeverityHigh),

	sp(`\.git/config`, models.SeverityMedium),
	sp(`password`, models.SeverityMedium),
	sp(`secret`, models.SeverityMedium),
	sp(`token`, models.SeverityMedium),
	sp(`api.?key`, models.SeverityMedium),

	sp(`\.bashrc|\.zshrc|\.profile`, models.SeverityLow),
}

func maxSeverityAgainst(text string, patterns []severityPattern, current models.Severity) models.Severity {
	for _, p := range patterns {
		if p.pattern.MatchString(text) {
			current = models.MaxSeverity(current, p.severity)
		}
	}
	return current
}

// ComputeSeverity scans an event's commands and file paths against the
// dangerous-command and sensitive-file pattern tables, then floors the
// result for a couple of categories that are inherently at least that
// risky regardless of pattern matches.
func ComputeSeverity(e *models.Event) models.Severity {
	sev := models.SeverityInfo

	for _, cmd := range e.Commands {
		sev = maxSeverityAgainst(cmd, dangerousCommandPatterns, sev)
	}

	paths := append([]string{}, e.FilePaths...)
	if e.ToolInput != nil {
		if fp, ok := stringField(e.ToolInput, "file_path"); ok {
			paths = append(paths, fp)
		}
		if p, ok := stringField(e.ToolInput, "path"); ok {
			paths = append(paths, p)
		}
	}
	for _, path := range paths {
		sev = maxSeverityAgainst(path, sensitiveFilePatterns, sev)
	}

	switch e.Category {
	case models.CategoryNetworkAccess:
		sev = models.MaxSeverity(sev, models.SeverityLow)
	case models.CategorySubagentSpawn:
		sev = models.MaxSeverity(sev, models.SeverityMedium)
	}

	return sev
}

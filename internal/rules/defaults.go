// Package rules holds the built-in policies and sequence rules AgentsLeak
// ships with, seeded into a fresh database/tracker at startup.
package rules

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/IngaCherny/AgentsLeak/internal/apierr"
	"github.com/IngaCherny/AgentsLeak/internal/models"
)

// PolicyStore is the subset of the store the seeder needs.
type PolicyStore interface {
	GetPolicyByName(ctx context.Context, name string) (*models.Policy, error)
	SavePolicy(ctx context.Context, p *models.Policy) error
}

func newPolicy(name, description string, conditions []models.RuleCondition, logic models.ConditionLogic, action models.PolicyAction, severity models.Severity, tags []string) *models.Policy {
	now := time.Now().UTC()
	return &models.Policy{
		ID:               uuid.New(),
		Name:             name,
		Description:      description,
		Enabled:          true,
		Conditions:       conditions,
		ConditionLogic:   logic,
		Action:           action,
		Severity:         severity,
		AlertDescription: description,
		Tags:             tags,
		Metadata:         models.JSONMap{},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// builtinPolicies is the fixed set of single-event detection rules seeded
// into every fresh database. Unlike the bundled-JSON-file rule loading
// this system's upstream inspiration supports, these are compiled in.
func builtinPolicies() []*models.Policy {
	return []*models.Policy{
		newPolicy(
			"SESSION-001",
			"Dangerous skip permissions mode",
			[]models.RuleCondition{
				{Field: "hook_type", Operator: models.OpEquals, Value: "SessionStart", CaseSensitive: true},
				{Field: "permission_mode", Operator: models.OpMatches, Value: `(?i)(dangerously.*skip|bypass|none|disabled)`, CaseSensitive: false},
			},
			models.LogicAll, models.ActionAlert, models.SeverityCritical,
			[]string{"permissions", "session-security", "skip-permissions", "high-risk"},
		),
		newPolicy(
			"EXFIL-001",
			"Command exfiltrating data to a remote host",
			[]models.RuleCondition{
				{Field: "commands", Operator: models.OpMatches, Value: `(?i)(curl|wget)\b.*(-d|--data|-F)\b`, CaseSensitive: true},
			},
			models.LogicAll, models.ActionBlock, models.SeverityCritical,
			[]string{"exfiltration", "pattern-rule"},
		),
		newPolicy(
			"EXEC-001",
			"Remote content piped directly into a shell",
			[]models.RuleCondition{
				{Field: "commands", Operator: models.OpMatches, Value: `(?i)(curl|wget)\b.*\|\s*(bash|sh|zsh)\b`, CaseSensitive: true},
			},
			models.LogicAll, models.ActionBlock, models.SeverityCritical,
			[]string{"download-execute", "pattern-rule"},
		),
	}
}

// SeedDefaultPolicies inserts every built-in policy that doesn't already
// exist by name, returning the number newly created.
func SeedDefaultPolicies(ctx context.Context, store PolicyStore) (int, error) {
	created := 0
	for _, p := range builtinPolicies() {
		_, err := store.GetPolicyByName(ctx, p.Name)
		if err == nil {
			continue
		}
		apiErr, ok := apierr.As(err)
		if !ok || apiErr.Kind != apierr.NotFound {
			return created, err
		}
		if err := store.SavePolicy(ctx, p); err != nil {
			return created, err
		}
		created++
	}
	log.Info().Str("component", "rules").Int("count", created).Msg("seeded default policies")
	return created, nil
}

func step(label string, categories []models.EventCategory, fieldPatterns map[string]string) models.SequenceStep {
	return models.SequenceStep{Label: label, Categories: categories, FieldPatterns: fieldPatterns}
}

// DefaultSequenceRules is the fixed set of multi-step detection rules
// seeded into every Tracker at startup.
func DefaultSequenceRules() []*models.SequenceRule {
	return []*models.SequenceRule{
		{
			ID: "SEQ-EXFIL-001", Name: "Sensitive file read followed by network transmission",
			Steps: []models.SequenceStep{
				step("read sensitive file", []models.EventCategory{models.CategoryFileRead}, map[string]string{
					"file_paths": `(\.(env|pem|key)|credentials|secrets|password|api_key|\.ssh/id_)`,
				}),
				step("send over network", []models.EventCategory{models.CategoryNetworkAccess, models.CategoryCommandExec}, map[string]string{
					"commands": `(curl|wget|fetch|requests\.|http\.client|urllib|aiohttp|node\s+-e|python.*import\s+(requests|urllib|http))`,
				}),
			},
			TimeWindowSeconds: 300, Ordered: true, Action: models.ActionAlert, Severity: models.SeverityCritical,
			Tags: []string{"exfiltration", "sequence", "data-theft"}, Enabled: true,
		},
		{
			ID: "SEQ-EXFIL-002", Name: "Data encoded/archived then transmitted",
			Steps: []models.SequenceStep{
				step("encode or archive data", []models.EventCategory{models.CategoryCommandExec}, map[string]string{
					"commands": `(base64|xxd|tar\s+[czf]|zip|gzip|openssl\s+(enc|base64)).*(\.(env|pem|key|json|conf)|credentials|secrets|\.ssh)`,
				}),
				step("transmit over network", []models.EventCategory{models.CategoryCommandExec, models.CategoryNetworkAccess}, map[string]string{
					"commands": `(curl|wget|nc\s|ncat|python.*socket|ruby.*TCPSocket)`,
				}),
			},
			TimeWindowSeconds: 300, Ordered: true, Action: models.ActionAlert, Severity: models.SeverityCritical,
			Tags: []string{"exfiltration", "sequence", "encoding", "evasion"}, Enabled: true,
		},
		{
			ID: "SEQ-EXEC-001", Name: "Download then execute",
			Steps: []models.SequenceStep{
				step("download file", []models.EventCategory{models.CategoryNetworkAccess, models.CategoryCommandExec}, map[string]string{
					"commands": `\b(curl|wget|fetch)\b.*(-o|-O|--output)\b`,
				}),
				step("execute downloaded file", []models.EventCategory{models.CategoryCommandExec}, map[string]string{
					"commands": `\b(bash|sh|python3?|perl|ruby|chmod\s+\+x)\b`,
				}),
			},
			TimeWindowSeconds: 120, Ordered: true, Action: models.ActionAlert, Severity: models.SeverityCritical,
			Tags: []string{"download-execute", "sequence", "malware"}, Enabled: true,
		},
		{
			ID: "SEQ-RECON-001", Name: "System reconnaissance then privilege escalation",
			Steps: []models.SequenceStep{
				step("read system files", []models.EventCategory{models.CategoryFileRead}, map[string]string{
					"file_paths": `(/etc/(passwd|shadow|sudoers|group|hosts)|/proc/)`,
				}),
				step("attempt privilege escalation", []models.EventCategory{models.CategoryCommandExec}, map[string]string{
					"commands": `\b(sudo|chmod\s+\+s|chmod\s+777|chown\s+root|setuid|pkexec|doas)\b`,
				}),
			},
			TimeWindowSeconds: 600, Ordered: true, Action: models.ActionAlert, Severity: models.SeverityHigh,
			Tags: []string{"reconnaissance", "sequence", "privilege-escalation"}, Enabled: true,
		},
		{
			ID: "SEQ-PERSIST-001", Name: "Script creation then persistence mechanism",
			Steps: []models.SequenceStep{
				step("create or download script", []models.EventCategory{models.CategoryFileWrite, models.CategoryCommandExec}, map[string]string{
					"file_paths": `\.(sh|py|pl|rb|js)$`,
				}),
				step("install persistence", []models.EventCategory{models.CategoryFileWrite, models.CategoryCommandExec}, map[string]string{
					"file_paths": `(cron|systemd|launchd|\.bashrc|\.zshrc|\.profile|\.bash_profile|/etc/init\.d|LaunchAgents|LaunchDaemons)`,
				}),
			},
			TimeWindowSeconds: 600, Ordered: true, Action: models.ActionAlert, Severity: models.SeverityHigh,
			Tags: []string{"persistence", "sequence", "backdoor"}, Enabled: true,
		},
	}
}

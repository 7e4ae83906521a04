package models

import (
	"time"

	"github.com/google/uuid"
)

// AlertStatus is the triage state of an Alert.
type AlertStatus string

const (
	AlertNew           AlertStatus = "new"
	AlertInvestigating AlertStatus = "investigating"
	AlertResolved      AlertStatus = "resolved"
	AlertDismissed     AlertStatus = "dismissed"
)

// PolicyAction is what happens when a policy or sequence rule matches.
type PolicyAction string

const (
	ActionAlert PolicyAction = "alert"
	ActionBlock PolicyAction = "block"
	ActionLog   PolicyAction = "log"
)

// ConditionLogic combines a policy's conditions.
type ConditionLogic string

const (
	LogicAll ConditionLogic = "all"
	LogicAny ConditionLogic = "any"
)

// ConditionOperator is the comparison applied by a RuleCondition.
type ConditionOperator string

const (
	OpEquals      ConditionOperator = "equals"
	OpNotEquals   ConditionOperator = "not_equals"
	OpContains    ConditionOperator = "contains"
	OpNotContains ConditionOperator = "not_contains"
	OpStartsWith  ConditionOperator = "starts_with"
	OpEndsWith    ConditionOperator = "ends_with"
	OpMatches     ConditionOperator = "matches"
	OpNotMatches  ConditionOperator = "not_matches"
	OpGreaterThan ConditionOperator = "greater_than"
	OpLessThan    ConditionOperator = "less_than"
	OpIn          ConditionOperator = "in"
	OpNotIn       ConditionOperator = "not_in"
)

// RuleCondition is a single field/operator/value test, the atomic unit a
// Policy or SequenceStep is built from. Deliberately a flat data record
// (not a type hierarchy) so it round-trips to the JSON wire format as-is.
type RuleCondition struct {
	Field         string            `json:"field"`
	Operator      ConditionOperator `json:"operator"`
	Value         any               `json:"value"`
	CaseSensitive bool              `json:"case_sensitive"`
}

// Policy is a declarative single-event detection rule.
type Policy struct {
	ID               uuid.UUID       `json:"id"`
	Name             string          `json:"name"`
	Description      string          `json:"description,omitempty"`
	Enabled          bool            `json:"enabled"`
	Categories       []EventCategory `json:"categories,omitempty"`
	Tools            []string        `json:"tools,omitempty"`
	Conditions       []RuleCondition `json:"conditions,omitempty"`
	ConditionLogic   ConditionLogic  `json:"condition_logic"`
	Action           PolicyAction    `json:"action"`
	Severity         Severity        `json:"severity"`
	AlertTitle       string          `json:"alert_title,omitempty"`
	AlertDescription string          `json:"alert_description,omitempty"`
	Tags             []string        `json:"tags,omitempty"`
	Metadata         JSONMap         `json:"metadata,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// AlertEvidence is one step's worth of proof attached to an Alert.
type AlertEvidence struct {
	EventID     uuid.UUID `json:"event_id"`
	Description string    `json:"description"`
	Data        JSONMap   `json:"data,omitempty"`
	FilePath    *string   `json:"file_path,omitempty"`
	Command     *string   `json:"command,omitempty"`
	URL         *string   `json:"url,omitempty"`
}

// Alert is generated by the Engine when a policy or sequence rule matches.
type Alert struct {
	ID          uuid.UUID       `json:"id"`
	SessionID   string          `json:"session_id"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Severity    Severity        `json:"severity"`
	Category    EventCategory   `json:"category"`
	Status      AlertStatus     `json:"status"`
	AssignedTo  string          `json:"assigned_to,omitempty"`
	PolicyID    *uuid.UUID      `json:"policy_id,omitempty"`
	EventIDs    []uuid.UUID     `json:"event_ids,omitempty"`
	Evidence    []AlertEvidence `json:"evidence,omitempty"`
	ActionTaken string          `json:"action_taken,omitempty"`
	Blocked     bool            `json:"blocked"`
	Tags        []string        `json:"tags,omitempty"`
	Metadata    JSONMap         `json:"metadata,omitempty"`
}

// NewAlert builds an Alert with the defaults the original processor always
// applies (new status, current timestamps, empty collections).
func NewAlert(sessionID string, severity Severity, category EventCategory) *Alert {
	now := time.Now().UTC()
	return &Alert{
		ID:        uuid.New(),
		SessionID: sessionID,
		CreatedAt: now,
		UpdatedAt: now,
		Severity:  severity,
		Category:  category,
		Status:    AlertNew,
		EventIDs:  []uuid.UUID{},
		Evidence:  []AlertEvidence{},
		Tags:      []string{},
		Metadata:  JSONMap{},
	}
}

// AddEvidence appends one evidence item to the alert.
func (a *Alert) AddEvidence(eventID uuid.UUID, description string, data JSONMap, filePath, command, url *string) {
	a.Evidence = append(a.Evidence, AlertEvidence{
		EventID:     eventID,
		Description: description,
		Data:        data,
		FilePath:    filePath,
		Command:     command,
		URL:         url,
	})
}

// SequenceStep is one step of a SequenceRule: a category allowlist and a
// set of dotted-path field regexes that must all match.
type SequenceStep struct {
	Label         string
	Categories    []EventCategory
	FieldPatterns map[string]string
}

// SequenceRule is a temporally ordered (or unordered) multi-step pattern.
type SequenceRule struct {
	ID                string
	Name              string
	Description       string
	Steps             []SequenceStep
	TimeWindowSeconds int
	Ordered           bool
	Action            PolicyAction
	Severity          Severity
	AlertTitle        string
	AlertDescription  string
	Tags              []string
	Enabled           bool
}

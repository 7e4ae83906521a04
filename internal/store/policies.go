package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/IngaCherny/AgentsLeak/internal/apierr"
	"github.com/IngaCherny/AgentsLeak/internal/models"
)

const policyColumns = `id, name, description, enabled, categories, tools, conditions,
		condition_logic, action, severity, alert_title, alert_description,
		tags, metadata, created_at, updated_at`

// SavePolicy inserts a new policy, or upserts on a name conflict (every
// field but id/name is mutable).
func (s *Store) SavePolicy(ctx context.Context, p *models.Policy) error {
	ctx = ctxOrBackground(ctx)

	categoriesJSON, _ := toJSON(p.Categories)
	toolsJSON, _ := toJSON(p.Tools)
	conditionsJSON, err := toJSON(p.Conditions)
	if err != nil {
		return apierr.Internalf(err, "marshal conditions")
	}
	tagsJSON, _ := toJSON(p.Tags)
	metadataJSON, err := toJSON(p.Metadata)
	if err != nil {
		return apierr.Internalf(err, "marshal metadata")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO policies (
			id, name, description, enabled, categories, tools, conditions,
			condition_logic, action, severity, alert_title, alert_description,
			tags, metadata, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			description = excluded.description,
			enabled = excluded.enabled,
			categories = excluded.categories,
			tools = excluded.tools,
			conditions = excluded.conditions,
			condition_logic = excluded.condition_logic,
			action = excluded.action,
			severity = excluded.severity,
			alert_title = excluded.alert_title,
			alert_description = excluded.alert_description,
			tags = excluded.tags,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at
	`,
		p.ID.String(), p.Name, nullString(p.Description), boolToInt(p.Enabled),
		nullString(categoriesJSON), nullString(toolsJSON), nullString(conditionsJSON),
		string(p.ConditionLogic), string(p.Action), string(p.Severity),
		nullString(p.AlertTitle), nullString(p.AlertDescription),
		nullString(tagsJSON), nullString(metadataJSON),
		p.CreatedAt.UTC().Format(time.RFC3339Nano), p.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unique") {
			return apierr.Conflictf("policy named %q already exists", p.Name)
		}
		return apierr.Internalf(err, "save policy %s", p.Name)
	}
	return nil
}

// AllowedPolicyUpdateColumns is the union of fields update_policy actually
// handles in the original implementation, reconciled against its narrower,
// inconsistent ALLOWED_POLICY_COLUMNS constant (name/description/enabled/
// conditions/metadata only) — here every field the model exposes besides
// id/name is a legal PATCH target.
var AllowedPolicyUpdateColumns = map[string]bool{
	"description": true, "enabled": true, "categories": true, "tools": true,
	"conditions": true, "condition_logic": true, "action": true, "severity": true,
	"alert_title": true, "alert_description": true, "tags": true, "metadata": true,
}

// UpdatePolicy applies a partial update restricted to AllowedPolicyUpdateColumns.
func (s *Store) UpdatePolicy(ctx context.Context, id uuid.UUID, fields map[string]any) error {
	ctx = ctxOrBackground(ctx)
	set := ""
	args := []any{}
	for k, v := range fields {
		if !AllowedPolicyUpdateColumns[k] {
			continue
		}
		if set != "" {
			set += ", "
		}
		switch k {
		case "categories", "tools", "conditions", "tags", "metadata":
			j, err := toJSON(v)
			if err != nil {
				return apierr.InvalidArgumentf("invalid value for %s", k)
			}
			set += k + " = ?"
			args = append(args, j)
		case "enabled":
			b, _ := v.(bool)
			set += k + " = ?"
			args = append(args, boolToInt(b))
		default:
			set += k + " = ?"
			args = append(args, v)
		}
	}
	if set == "" {
		return apierr.InvalidArgumentf("no valid fields to update")
	}
	set += ", updated_at = ?"
	args = append(args, time.Now().UTC().Format(time.RFC3339Nano), id.String())

	res, err := s.db.ExecContext(ctx, "UPDATE policies SET "+set+" WHERE id = ?", args...)
	if err != nil {
		return apierr.Internalf(err, "update policy %s", id)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apierr.NotFoundf("policy %s not found", id)
	}
	return nil
}

// DeletePolicy removes a policy by id.
func (s *Store) DeletePolicy(ctx context.Context, id uuid.UUID) error {
	ctx = ctxOrBackground(ctx)
	res, err := s.db.ExecContext(ctx, "DELETE FROM policies WHERE id = ?", id.String())
	if err != nil {
		return apierr.Internalf(err, "delete policy %s", id)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apierr.NotFoundf("policy %s not found", id)
	}
	return nil
}

func scanPolicy(row rowScanner) (*models.Policy, error) {
	var (
		p                                                    models.Policy
		id, createdAt, updatedAt                              string
		description, alertTitle, alertDescription             sql.NullString
		categoriesJSON, toolsJSON, conditionsJSON             sql.NullString
		tagsJSON, metadataJSON                                sql.NullString
		conditionLogic, action, severity                      string
		enabled                                               int
	)
	if err := row.Scan(
		&id, &p.Name, &description, &enabled, &categoriesJSON, &toolsJSON, &conditionsJSON,
		&conditionLogic, &action, &severity, &alertTitle, &alertDescription,
		&tagsJSON, &metadataJSON, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}
	p.ID = uuid.MustParse(id)
	p.Description = description.String
	p.Enabled = enabled != 0
	_ = fromJSON(categoriesJSON, &p.Categories)
	_ = fromJSON(toolsJSON, &p.Tools)
	_ = fromJSON(conditionsJSON, &p.Conditions)
	p.ConditionLogic = models.ConditionLogic(conditionLogic)
	p.Action = models.PolicyAction(action)
	p.Severity = models.Severity(severity)
	p.AlertTitle = alertTitle.String
	p.AlertDescription = alertDescription.String
	_ = fromJSON(tagsJSON, &p.Tags)
	_ = fromJSON(metadataJSON, &p.Metadata)
	p.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	p.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &p, nil
}

// GetPolicy fetches a single policy by id.
func (s *Store) GetPolicy(ctx context.Context, id uuid.UUID) (*models.Policy, error) {
	ctx = ctxOrBackground(ctx)
	row := s.db.QueryRowContext(ctx, "SELECT "+policyColumns+" FROM policies WHERE id = ?", id.String())
	p, err := scanPolicy(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierr.NotFoundf("policy %s not found", id)
	}
	if err != nil {
		return nil, apierr.Internalf(err, "get policy %s", id)
	}
	return p, nil
}

// GetPolicyByName fetches a single policy by its unique name.
func (s *Store) GetPolicyByName(ctx context.Context, name string) (*models.Policy, error) {
	ctx = ctxOrBackground(ctx)
	row := s.db.QueryRowContext(ctx, "SELECT "+policyColumns+" FROM policies WHERE name = ?", name)
	p, err := scanPolicy(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierr.NotFoundf("policy %q not found", name)
	}
	if err != nil {
		return nil, apierr.Internalf(err, "get policy %q", name)
	}
	return p, nil
}

// ListPolicies returns all policies, optionally filtered to enabled-only.
func (s *Store) ListPolicies(ctx context.Context, enabledOnly bool) ([]*models.Policy, error) {
	ctx = ctxOrBackground(ctx)
	query := "SELECT " + policyColumns + " FROM policies"
	if enabledOnly {
		query += " WHERE enabled = 1"
	}
	query += " ORDER BY name ASC"
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, apierr.Internalf(err, "list policies")
	}
	defer rows.Close()

	items := []*models.Policy{}
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, apierr.Internalf(err, "scan policy row")
		}
		items = append(items, p)
	}
	return items, nil
}

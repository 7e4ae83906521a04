package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/IngaCherny/AgentsLeak/internal/apierr"
	"github.com/IngaCherny/AgentsLeak/internal/models"
)

// SaveAlert upserts an alert. On conflict (existing id), only the mutable
// triage fields are updated; title/description/severity/category/policy_id
// /blocked/created_at are set once at creation.
func (s *Store) SaveAlert(ctx context.Context, a *models.Alert) error {
	ctx = ctxOrBackground(ctx)

	eventIDs := make([]string, len(a.EventIDs))
	for i, id := range a.EventIDs {
		eventIDs[i] = id.String()
	}
	eventIDsJSON, _ := toJSON(eventIDs)
	evidenceJSON, err := toJSON(a.Evidence)
	if err != nil {
		return apierr.Internalf(err, "marshal evidence")
	}
	tagsJSON, _ := toJSON(a.Tags)
	metadataJSON, err := toJSON(a.Metadata)
	if err != nil {
		return apierr.Internalf(err, "marshal metadata")
	}
	var policyIDStr string
	if a.PolicyID != nil {
		policyIDStr = a.PolicyID.String()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO alerts (
			id, session_id, created_at, updated_at, title, description, severity,
			category, status, assigned_to, policy_id, event_ids, evidence,
			action_taken, blocked, tags, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			assigned_to = excluded.assigned_to,
			action_taken = excluded.action_taken,
			evidence = excluded.evidence,
			tags = excluded.tags,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at
	`,
		a.ID.String(), a.SessionID, a.CreatedAt.UTC().Format(time.RFC3339Nano), a.UpdatedAt.UTC().Format(time.RFC3339Nano),
		nullString(a.Title), nullString(a.Description), string(a.Severity),
		string(a.Category), string(a.Status), nullString(a.AssignedTo), nullString(policyIDStr),
		nullString(eventIDsJSON), nullString(evidenceJSON),
		nullString(a.ActionTaken), boolToInt(a.Blocked), nullString(tagsJSON), nullString(metadataJSON),
	)
	if err != nil {
		return apierr.Internalf(err, "save alert %s", a.ID)
	}
	return nil
}

// AllowedAlertUpdateColumns is the set of alert fields a PATCH may mutate.
var AllowedAlertUpdateColumns = map[string]bool{
	"status": true, "assigned_to": true, "action_taken": true, "tags": true, "metadata": true,
}

// UpdateAlert applies a partial update restricted to AllowedAlertUpdateColumns.
func (s *Store) UpdateAlert(ctx context.Context, id uuid.UUID, fields map[string]any) error {
	ctx = ctxOrBackground(ctx)
	set := ""
	args := []any{}
	for k, v := range fields {
		if !AllowedAlertUpdateColumns[k] {
			continue
		}
		if set != "" {
			set += ", "
		}
		switch k {
		case "tags", "metadata":
			j, err := toJSON(v)
			if err != nil {
				return apierr.InvalidArgumentf("invalid value for %s", k)
			}
			set += k + " = ?"
			args = append(args, j)
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

	res, err := s.db.ExecContext(ctx, "UPDATE alerts SET "+set+" WHERE id = ?", args...)
	if err != nil {
		return apierr.Internalf(err, "update alert %s", id)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apierr.NotFoundf("alert %s not found", id)
	}
	return nil
}

func scanAlert(row rowScanner) (*models.Alert, error) {
	var (
		a                                                      models.Alert
		id, createdAt, updatedAt                                string
		title, description, assignedTo, policyID                sql.NullString
		eventIDsJSON, evidenceJSON, actionTaken, tagsJSON, meta  sql.NullString
		severity, category, status                              string
		blocked                                                  int
	)
	if err := row.Scan(
		&id, &a.SessionID, &createdAt, &updatedAt, &title, &description, &severity,
		&category, &status, &assignedTo, &policyID, &eventIDsJSON, &evidenceJSON,
		&actionTaken, &blocked, &tagsJSON, &meta,
	); err != nil {
		return nil, err
	}
	a.ID = uuid.MustParse(id)
	a.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	a.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	a.Title = title.String
	a.Description = description.String
	a.Severity = models.Severity(severity)
	a.Category = models.EventCategory(category)
	a.Status = models.AlertStatus(status)
	a.AssignedTo = assignedTo.String
	if policyID.Valid && policyID.String != "" && policyID.String != "<nil>" {
		pid, err := uuid.Parse(policyID.String)
		if err == nil {
			a.PolicyID = &pid
		}
	}
	var eventIDStrs []string
	_ = fromJSON(eventIDsJSON, &eventIDStrs)
	for _, s := range eventIDStrs {
		if id, err := uuid.Parse(s); err == nil {
			a.EventIDs = append(a.EventIDs, id)
		}
	}
	_ = fromJSON(evidenceJSON, &a.Evidence)
	a.ActionTaken = actionTaken.String
	a.Blocked = blocked != 0
	_ = fromJSON(tagsJSON, &a.Tags)
	_ = fromJSON(meta, &a.Metadata)
	return &a, nil
}

const alertColumns = `id, session_id, created_at, updated_at, title, description, severity,
		category, status, assigned_to, policy_id, event_ids, evidence,
		action_taken, blocked, tags, metadata`

// GetAlert fetches a single alert by id.
func (s *Store) GetAlert(ctx context.Context, id uuid.UUID) (*models.Alert, error) {
	ctx = ctxOrBackground(ctx)
	row := s.db.QueryRowContext(ctx, "SELECT "+alertColumns+" FROM alerts WHERE id = ?", id.String())
	a, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierr.NotFoundf("alert %s not found", id)
	}
	if err != nil {
		return nil, apierr.Internalf(err, "get alert %s", id)
	}
	return a, nil
}

// AlertFilter narrows GetAlerts.
type AlertFilter struct {
	SessionID string
	Status    string
	Severity  string
	Category  string
	FromDate  *time.Time
	ToDate    *time.Time
	Limit     int
	Offset    int
}

// PaginatedAlerts is a page of alerts plus the total matching count.
type PaginatedAlerts struct {
	Items []*models.Alert
	Total int
}

// GetAlerts returns a filtered, paginated, newest-first page of alerts.
func (s *Store) GetAlerts(ctx context.Context, f AlertFilter) (*PaginatedAlerts, error) {
	ctx = ctxOrBackground(ctx)
	where := "WHERE 1=1"
	args := []any{}
	if f.SessionID != "" {
		where += " AND session_id = ?"
		args = append(args, f.SessionID)
	}
	if f.Status != "" {
		where += " AND status = ?"
		args = append(args, f.Status)
	}
	if f.Severity != "" {
		where += " AND severity = ?"
		args = append(args, f.Severity)
	}
	if f.Category != "" {
		where += " AND category = ?"
		args = append(args, f.Category)
	}
	if f.FromDate != nil {
		where += " AND created_at >= ?"
		args = append(args, f.FromDate.UTC().Format(time.RFC3339Nano))
	}
	if f.ToDate != nil {
		where += " AND created_at <= ?"
		args = append(args, f.ToDate.UTC().Format(time.RFC3339Nano))
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM alerts "+where, args...).Scan(&total); err != nil {
		return nil, apierr.Internalf(err, "count alerts")
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query := "SELECT " + alertColumns + " FROM alerts " + where + " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	rows, err := s.db.QueryContext(ctx, query, append(args, limit, f.Offset)...)
	if err != nil {
		return nil, apierr.Internalf(err, "list alerts")
	}
	defer rows.Close()

	items := []*models.Alert{}
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, apierr.Internalf(err, "scan alert row")
		}
		items = append(items, a)
	}
	return &PaginatedAlerts{Items: items, Total: total}, nil
}

// GetAlertCount returns the count of alerts, optionally scoped to a session
// and/or date range, used by dashboard stats.
func (s *Store) GetAlertCount(ctx context.Context, sessionID string, from, to *time.Time) (int, error) {
	ctx = ctxOrBackground(ctx)
	where := "WHERE 1=1"
	args := []any{}
	if sessionID != "" {
		where += " AND session_id = ?"
		args = append(args, sessionID)
	}
	if from != nil {
		where += " AND created_at >= ?"
		args = append(args, from.UTC().Format(time.RFC3339Nano))
	}
	if to != nil {
		where += " AND created_at <= ?"
		args = append(args, to.UTC().Format(time.RFC3339Nano))
	}
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM alerts "+where, args...).Scan(&count); err != nil {
		return 0, apierr.Internalf(err, "count alerts")
	}
	return count, nil
}

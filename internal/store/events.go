package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/IngaCherny/AgentsLeak/internal/apierr"
	"github.com/IngaCherny/AgentsLeak/internal/models"
)

// SaveEvent persists an event unconditionally via INSERT OR REPLACE: an
// event that gets re-saved after enrichment (classification, risk fields)
// fully overwrites the row saved on first ingest.
func (s *Store) SaveEvent(ctx context.Context, e *models.Event) error {
	ctx = ctxOrBackground(ctx)

	toolInput, err := toJSON(e.ToolInput)
	if err != nil {
		return apierr.Internalf(err, "marshal tool_input")
	}
	toolResult, err := toJSON(e.ToolResult)
	if err != nil {
		return apierr.Internalf(err, "marshal tool_result")
	}
	filePaths, _ := toJSON(e.FilePaths)
	commands, _ := toJSON(e.Commands)
	urls, _ := toJSON(e.URLs)
	ips, _ := toJSON(e.IPAddresses)
	raw, err := toJSON(e.RawPayload)
	if err != nil {
		return apierr.Internalf(err, "marshal raw_payload")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO events (
			id, session_id, timestamp, hook_type, tool_name, tool_input, tool_result,
			category, severity, file_paths, commands, urls, ip_addresses,
			processed, enriched, raw_payload
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID.String(), e.SessionID, e.Timestamp.UTC().Format(time.RFC3339Nano),
		nullString(string(e.HookType)), nullString(e.ToolName), nullString(toolInput), nullString(toolResult),
		nullString(string(e.Category)), nullString(string(e.Severity)),
		nullString(filePaths), nullString(commands), nullString(urls), nullString(ips),
		boolToInt(e.Processed), boolToInt(e.Enriched), nullString(raw),
	)
	if err != nil {
		return apierr.Internalf(err, "save event %s", e.ID)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func scanEvent(row rowScanner) (*models.Event, error) {
	var (
		e                                           models.Event
		id, ts                                      string
		hookType, toolName, toolInput, toolResult   sql.NullString
		category, severity                          sql.NullString
		filePaths, commands, urls, ips, rawPayload  sql.NullString
		processed, enriched                         int
	)
	if err := row.Scan(
		&id, &e.SessionID, &ts, &hookType, &toolName, &toolInput, &toolResult,
		&category, &severity, &filePaths, &commands, &urls, &ips,
		&processed, &enriched, &rawPayload,
	); err != nil {
		return nil, err
	}
	e.ID = uuid.MustParse(id)
	e.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
	e.HookType = models.HookKind(hookType.String)
	e.ToolName = toolName.String
	e.Category = models.EventCategory(category.String)
	e.Severity = models.Severity(severity.String)
	e.Processed = processed != 0
	e.Enriched = enriched != 0

	_ = fromJSON(toolInput, &e.ToolInput)
	_ = fromJSON(toolResult, &e.ToolResult)
	_ = fromJSON(filePaths, &e.FilePaths)
	_ = fromJSON(commands, &e.Commands)
	_ = fromJSON(urls, &e.URLs)
	_ = fromJSON(ips, &e.IPAddresses)
	_ = fromJSON(rawPayload, &e.RawPayload)
	return &e, nil
}

// GetEvent fetches a single event by id.
func (s *Store) GetEvent(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	ctx = ctxOrBackground(ctx)
	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, timestamp, hook_type, tool_name, tool_input, tool_result,
		       category, severity, file_paths, commands, urls, ip_addresses,
		       processed, enriched, raw_payload
		FROM events WHERE id = ?`, id.String())
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierr.NotFoundf("event %s not found", id)
	}
	if err != nil {
		return nil, apierr.Internalf(err, "get event %s", id)
	}
	return e, nil
}

// EventFilter narrows GetEvents.
type EventFilter struct {
	SessionID string
	Category  string
	Severity  string
	HookType  string
	ToolName  string
	FromDate  *time.Time
	ToDate    *time.Time
	Limit     int
	Offset    int
}

// PaginatedEvents is a page of events plus the total matching count.
type PaginatedEvents struct {
	Items []*models.Event
	Total int
}

// GetEvents returns a filtered, paginated, newest-first page of events.
func (s *Store) GetEvents(ctx context.Context, f EventFilter) (*PaginatedEvents, error) {
	ctx = ctxOrBackground(ctx)
	where, args := buildEventWhere(f)

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM events "+where, args...).Scan(&total); err != nil {
		return nil, apierr.Internalf(err, "count events")
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, session_id, timestamp, hook_type, tool_name, tool_input, tool_result,
		category, severity, file_paths, commands, urls, ip_addresses,
		processed, enriched, raw_payload
		FROM events ` + where + ` ORDER BY timestamp DESC LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, query, append(args, limit, f.Offset)...)
	if err != nil {
		return nil, apierr.Internalf(err, "list events")
	}
	defer rows.Close()

	items := []*models.Event{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, apierr.Internalf(err, "scan event row")
		}
		items = append(items, e)
	}
	return &PaginatedEvents{Items: items, Total: total}, nil
}

func buildEventWhere(f EventFilter) (string, []any) {
	where := "WHERE 1=1"
	args := []any{}
	if f.SessionID != "" {
		where += " AND session_id = ?"
		args = append(args, f.SessionID)
	}
	if f.Category != "" {
		where += " AND category = ?"
		args = append(args, f.Category)
	}
	if f.Severity != "" {
		where += " AND severity = ?"
		args = append(args, f.Severity)
	}
	if f.HookType != "" {
		where += " AND hook_type = ?"
		args = append(args, f.HookType)
	}
	if f.ToolName != "" {
		where += " AND tool_name = ?"
		args = append(args, f.ToolName)
	}
	if f.FromDate != nil {
		where += " AND timestamp >= ?"
		args = append(args, f.FromDate.UTC().Format(time.RFC3339Nano))
	}
	if f.ToDate != nil {
		where += " AND timestamp <= ?"
		args = append(args, f.ToDate.UTC().Format(time.RFC3339Nano))
	}
	return where, args
}

// GetEventCount returns the count of events matching a filter (date range
// and session only; used by dashboard stats).
func (s *Store) GetEventCount(ctx context.Context, sessionID string, from, to *time.Time) (int, error) {
	ctx = ctxOrBackground(ctx)
	where, args := buildEventWhere(EventFilter{SessionID: sessionID, FromDate: from, ToDate: to})
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM events "+where, args...).Scan(&count); err != nil {
		return 0, apierr.Internalf(err, "count events")
	}
	return count, nil
}

// rawEventRow holds just the raw JSON-list columns that
// queryRawEventsByCategories fetches for the top_files/top_commands/
// top_domains aggregations, without the overhead of a full scanEvent per
// row.
type rawEventRow struct {
	category    string
	filePaths   string
	commands    string
	urls        string
	sessionID   string
	timestamp   time.Time
}

func (s *Store) queryRawEventsByCategories(ctx context.Context, categories []string, from, to *time.Time, sessionIDs []string) ([]rawEventRow, error) {
	ctx = ctxOrBackground(ctx)
	where := "WHERE 1=1"
	args := []any{}
	if len(categories) > 0 {
		placeholders := ""
		for i, c := range categories {
			if i > 0 {
				placeholders += ","
			}
			placeholders += "?"
			args = append(args, c)
		}
		where += " AND category IN (" + placeholders + ")"
	}
	if from != nil {
		where += " AND timestamp >= ?"
		args = append(args, from.UTC().Format(time.RFC3339Nano))
	}
	if to != nil {
		where += " AND timestamp <= ?"
		args = append(args, to.UTC().Format(time.RFC3339Nano))
	}
	if sessionIDs != nil {
		if len(sessionIDs) == 0 {
			return nil, nil
		}
		placeholders := ""
		for i, id := range sessionIDs {
			if i > 0 {
				placeholders += ","
			}
			placeholders += "?"
			args = append(args, id)
		}
		where += " AND session_id IN (" + placeholders + ")"
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT category, file_paths, commands, urls, session_id, timestamp
		FROM events `+where, args...)
	if err != nil {
		return nil, apierr.Internalf(err, "query raw events")
	}
	defer rows.Close()

	var out []rawEventRow
	for rows.Next() {
		var r rawEventRow
		var cat, fp, cmd, u sql.NullString
		var ts string
		if err := rows.Scan(&cat, &fp, &cmd, &u, &r.sessionID, &ts); err != nil {
			return nil, apierr.Internalf(err, "scan raw event row")
		}
		r.category = cat.String
		r.filePaths = fp.String
		r.commands = cmd.String
		r.urls = u.String
		r.timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, r)
	}
	return out, nil
}

func decodeStringList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}

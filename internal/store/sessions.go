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

// SaveSession upserts a session. On conflict (existing session_id), only
// the mutable lifecycle fields are updated; origin fields (cwd, parent,
// endpoint, source) are set once at creation and never overwritten.
func (s *Store) SaveSession(ctx context.Context, sess *models.Session) error {
	ctx = ctxOrBackground(ctx)
	var endedAt any
	if sess.EndedAt != nil {
		endedAt = sess.EndedAt.UTC().Format(time.RFC3339Nano)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (
			id, session_id, started_at, ended_at, cwd, parent_session_id,
			event_count, alert_count, risk_score, status,
			endpoint_hostname, endpoint_user, session_source
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			ended_at = excluded.ended_at,
			event_count = excluded.event_count,
			alert_count = excluded.alert_count,
			risk_score = excluded.risk_score,
			status = excluded.status
	`,
		sess.ID.String(), sess.SessionID, sess.StartedAt.UTC().Format(time.RFC3339Nano), endedAt,
		nullString(sess.Cwd), nullString(sess.ParentSessionID),
		sess.EventCount, sess.AlertCount, sess.RiskScore, string(sess.Status),
		nullString(sess.EndpointHostname), nullString(sess.EndpointUser), nullString(sess.SessionSource),
	)
	if err != nil {
		return apierr.Internalf(err, "save session %s", sess.SessionID)
	}
	return nil
}

// GetSession looks up a session by its external session_id.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	ctx = ctxOrBackground(ctx)
	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, started_at, ended_at, cwd, parent_session_id,
		       event_count, alert_count, risk_score, status,
		       endpoint_hostname, endpoint_user, session_source
		FROM sessions WHERE session_id = ?`, sessionID)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierr.NotFoundf("session %s not found", sessionID)
	}
	if err != nil {
		return nil, apierr.Internalf(err, "get session %s", sessionID)
	}
	return sess, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.Session, error) {
	var (
		sess                                         models.Session
		id                                            string
		startedAt                                     string
		endedAt, cwd, parentID                        sql.NullString
		endpointHostname, endpointUser, sessionSource sql.NullString
		status                                        string
	)
	if err := row.Scan(
		&id, &sess.SessionID, &startedAt, &endedAt, &cwd, &parentID,
		&sess.EventCount, &sess.AlertCount, &sess.RiskScore, &status,
		&endpointHostname, &endpointUser, &sessionSource,
	); err != nil {
		return nil, err
	}
	sess.ID = uuid.MustParse(id)
	sess.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
	if endedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, endedAt.String)
		if err == nil {
			sess.EndedAt = &t
		}
	}
	sess.Cwd = cwd.String
	sess.ParentSessionID = parentID.String
	sess.Status = models.SessionStatus(status)
	sess.EndpointHostname = endpointHostname.String
	sess.EndpointUser = endpointUser.String
	sess.SessionSource = sessionSource.String
	return &sess, nil
}

// EnsureSession returns the existing session for sessionID, or creates one
// with the given origin fields if none exists yet (lazy creation on first
// event, mirroring the collector's behavior).
func (s *Store) EnsureSession(ctx context.Context, sessionID, cwd, parentSessionID, endpointHostname, endpointUser, sessionSource string, startedAt time.Time) (*models.Session, error) {
	ctx = ctxOrBackground(ctx)
	existing, err := s.GetSession(ctx, sessionID)
	if err == nil {
		return existing, nil
	}
	if apiErr, ok := apierr.As(err); !ok || apiErr.Kind != apierr.NotFound {
		return nil, err
	}
	sess := &models.Session{
		ID:               uuid.New(),
		SessionID:        sessionID,
		StartedAt:        startedAt,
		Cwd:              cwd,
		ParentSessionID:  parentSessionID,
		Status:           models.SessionActive,
		EndpointHostname: endpointHostname,
		EndpointUser:     endpointUser,
		SessionSource:    sessionSource,
	}
	if err := s.SaveSession(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// IncrementSessionEventCount bumps event_count by one and "wakes up" the
// session: status is reset to active and ended_at cleared, even if the
// session had previously been marked ended.
func (s *Store) IncrementSessionEventCount(ctx context.Context, sessionID string) error {
	ctx = ctxOrBackground(ctx)
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET event_count = event_count + 1, status = 'active', ended_at = NULL
		WHERE session_id = ?`, sessionID)
	if err != nil {
		return apierr.Internalf(err, "increment event count for session %s", sessionID)
	}
	return nil
}

// IncrementSessionAlertCount bumps alert_count by one.
func (s *Store) IncrementSessionAlertCount(ctx context.Context, sessionID string) error {
	ctx = ctxOrBackground(ctx)
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET alert_count = alert_count + 1 WHERE session_id = ?`, sessionID)
	if err != nil {
		return apierr.Internalf(err, "increment alert count for session %s", sessionID)
	}
	return nil
}

// IncrementSessionRiskScore adds delta (which may be zero or negative, but
// callers only ever pass non-negative deltas) to a session's risk_score.
func (s *Store) IncrementSessionRiskScore(ctx context.Context, sessionID string, delta int) error {
	if delta == 0 {
		return nil
	}
	ctx = ctxOrBackground(ctx)
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET risk_score = risk_score + ? WHERE session_id = ?`, delta, sessionID)
	if err != nil {
		return apierr.Internalf(err, "increment risk score for session %s", sessionID)
	}
	return nil
}

// EndSession marks a session ended at the given time.
func (s *Store) EndSession(ctx context.Context, sessionID string, endedAt time.Time) error {
	ctx = ctxOrBackground(ctx)
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET status = 'ended', ended_at = ? WHERE session_id = ?`,
		endedAt.UTC().Format(time.RFC3339Nano), sessionID)
	if err != nil {
		return apierr.Internalf(err, "end session %s", sessionID)
	}
	return nil
}

// CleanupStaleSessions closes any active session whose most recent event
// (or, if it has none, whose start time) is older than the cutoff. Returns
// the number of sessions closed.
func (s *Store) CleanupStaleSessions(ctx context.Context, cutoff time.Time) (int, error) {
	ctx = ctxOrBackground(ctx)
	cutoffStr := cutoff.UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET status = 'ended', ended_at = ?
		WHERE status = 'active'
		AND session_id IN (
			SELECT sessions.session_id
			FROM sessions
			LEFT JOIN (
				SELECT session_id, MAX(timestamp) AS last_event
				FROM events GROUP BY session_id
			) le ON le.session_id = sessions.session_id
			WHERE (le.last_event IS NOT NULL AND le.last_event < ?)
			   OR (le.last_event IS NULL AND sessions.started_at < ?)
		)`, cutoffStr, cutoffStr, cutoffStr)
	if err != nil {
		return 0, apierr.Internalf(err, "cleanup stale sessions")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, apierr.Internalf(err, "cleanup stale sessions rows affected")
	}
	return int(n), nil
}

// PaginatedSessions is a page of sessions plus the total matching count.
type PaginatedSessions struct {
	Items []*models.Session
	Total int
}

// SessionFilter narrows ListSessions.
type SessionFilter struct {
	Status           string
	EndpointHostname string
	EndpointUser     string
	SessionSource    string
	FromDate         *time.Time
	ToDate           *time.Time
	Limit            int
	Offset           int
}

// ListSessions returns a page of sessions ordered by most recently started.
func (s *Store) ListSessions(ctx context.Context, f SessionFilter) (*PaginatedSessions, error) {
	ctx = ctxOrBackground(ctx)
	where := "WHERE 1=1"
	args := []any{}
	if f.Status != "" {
		where += " AND status = ?"
		args = append(args, f.Status)
	}
	if f.EndpointHostname != "" {
		where += " AND endpoint_hostname = ?"
		args = append(args, f.EndpointHostname)
	}
	if f.EndpointUser != "" {
		where += " AND endpoint_user = ?"
		args = append(args, f.EndpointUser)
	}
	if f.SessionSource != "" {
		where += " AND session_source = ?"
		args = append(args, f.SessionSource)
	}
	if f.FromDate != nil {
		where += " AND started_at >= ?"
		args = append(args, f.FromDate.UTC().Format(time.RFC3339Nano))
	}
	if f.ToDate != nil {
		where += " AND started_at <= ?"
		args = append(args, f.ToDate.UTC().Format(time.RFC3339Nano))
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sessions "+where, args...).Scan(&total); err != nil {
		return nil, apierr.Internalf(err, "count sessions")
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, session_id, started_at, ended_at, cwd, parent_session_id,
		event_count, alert_count, risk_score, status,
		endpoint_hostname, endpoint_user, session_source
		FROM sessions ` + where + ` ORDER BY started_at DESC LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, query, append(args, limit, f.Offset)...)
	if err != nil {
		return nil, apierr.Internalf(err, "list sessions")
	}
	defer rows.Close()

	items := []*models.Session{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, apierr.Internalf(err, "scan session row")
		}
		items = append(items, sess)
	}
	return &PaginatedSessions{Items: items, Total: total}, nil
}

package store

import (
	"context"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/IngaCherny/AgentsLeak/internal/apierr"
)

// DashboardStats is the top-level /api/stats/dashboard response.
type DashboardStats struct {
	TotalSessions  int `json:"total_sessions"`
	ActiveSessions int `json:"active_sessions"`
	TotalEvents    int `json:"total_events"`
	TotalAlerts    int `json:"total_alerts"`
	NewAlerts      int `json:"new_alerts"`
}

// DashboardStats aggregates the headline counts shown on the overview page.
func (s *Store) DashboardStats(ctx context.Context) (*DashboardStats, error) {
	ctx = ctxOrBackground(ctx)
	var d DashboardStats
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&d.TotalSessions); err != nil {
		return nil, apierr.Internalf(err, "count sessions")
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE status = 'active'`).Scan(&d.ActiveSessions); err != nil {
		return nil, apierr.Internalf(err, "count active sessions")
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&d.TotalEvents); err != nil {
		return nil, apierr.Internalf(err, "count events")
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM alerts`).Scan(&d.TotalAlerts); err != nil {
		return nil, apierr.Internalf(err, "count alerts")
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM alerts WHERE status = 'new'`).Scan(&d.NewAlerts); err != nil {
		return nil, apierr.Internalf(err, "count new alerts")
	}
	return &d, nil
}

// SessionStats is the breakdown returned for a single session.
type SessionStats struct {
	EventsByCategory map[string]int `json:"events_by_category"`
	EventsBySeverity map[string]int `json:"events_by_severity"`
	AlertsBySeverity map[string]int `json:"alerts_by_severity"`
}

// SessionStats aggregates per-category/severity breakdowns for one session.
func (s *Store) SessionStats(ctx context.Context, sessionID string) (*SessionStats, error) {
	ctx = ctxOrBackground(ctx)
	stats := &SessionStats{
		EventsByCategory: map[string]int{},
		EventsBySeverity: map[string]int{},
		AlertsBySeverity: map[string]int{},
	}

	rows, err := s.db.QueryContext(ctx, `SELECT category, COUNT(*) FROM events WHERE session_id = ? GROUP BY category`, sessionID)
	if err != nil {
		return nil, apierr.Internalf(err, "events by category")
	}
	for rows.Next() {
		var cat string
		var n int
		if err := rows.Scan(&cat, &n); err == nil {
			stats.EventsByCategory[cat] = n
		}
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx, `SELECT severity, COUNT(*) FROM events WHERE session_id = ? GROUP BY severity`, sessionID)
	if err != nil {
		return nil, apierr.Internalf(err, "events by severity")
	}
	for rows.Next() {
		var sev string
		var n int
		if err := rows.Scan(&sev, &n); err == nil {
			stats.EventsBySeverity[sev] = n
		}
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx, `SELECT severity, COUNT(*) FROM alerts WHERE session_id = ? GROUP BY severity`, sessionID)
	if err != nil {
		return nil, apierr.Internalf(err, "alerts by severity")
	}
	for rows.Next() {
		var sev string
		var n int
		if err := rows.Scan(&sev, &n); err == nil {
			stats.AlertsBySeverity[sev] = n
		}
	}
	rows.Close()

	return stats, nil
}

// MaxTimelineBuckets caps the number of points the timeline endpoint will
// ever return; past it the bucket interval is widened rather than the
// point count grown.
const MaxTimelineBuckets = 500

// TimelineBucket is one point in a timeline series.
type TimelineBucket struct {
	Bucket     time.Time `json:"bucket"`
	EventCount int       `json:"event_count"`
	AlertCount int       `json:"alert_count"`
}

// TimelineStats buckets events and alerts between from/to into at most
// MaxTimelineBuckets intervals, auto-widening the interval to stay under
// that cap for wide date ranges.
func (s *Store) TimelineStats(ctx context.Context, from, to time.Time, intervalMinutes int) ([]TimelineBucket, error) {
	ctx = ctxOrBackground(ctx)
	if intervalMinutes <= 0 {
		intervalMinutes = 60
	}
	span := to.Sub(from)
	bucketCount := int(span.Minutes()) / intervalMinutes
	if bucketCount > MaxTimelineBuckets {
		intervalMinutes = int(span.Minutes())/MaxTimelineBuckets + 1
	}

	type countRow struct {
		ts time.Time
	}
	var eventTimes, alertTimes []time.Time

	rows, err := s.db.QueryContext(ctx, `SELECT timestamp FROM events WHERE timestamp >= ? AND timestamp <= ?`,
		from.UTC().Format(time.RFC3339Nano), to.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, apierr.Internalf(err, "timeline events")
	}
	for rows.Next() {
		var ts string
		if err := rows.Scan(&ts); err == nil {
			if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
				eventTimes = append(eventTimes, t)
			}
		}
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx, `SELECT created_at FROM alerts WHERE created_at >= ? AND created_at <= ?`,
		from.UTC().Format(time.RFC3339Nano), to.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, apierr.Internalf(err, "timeline alerts")
	}
	for rows.Next() {
		var ts string
		if err := rows.Scan(&ts); err == nil {
			if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
				alertTimes = append(alertTimes, t)
			}
		}
	}
	rows.Close()
	_ = countRow{}

	interval := time.Duration(intervalMinutes) * time.Minute
	buckets := map[int64]*TimelineBucket{}
	bucketKey := func(t time.Time) int64 {
		return t.Sub(from).Nanoseconds() / interval.Nanoseconds()
	}
	get := func(t time.Time) *TimelineBucket {
		k := bucketKey(t)
		b, ok := buckets[k]
		if !ok {
			b = &TimelineBucket{Bucket: from.Add(time.Duration(k) * interval)}
			buckets[k] = b
		}
		return b
	}
	for _, t := range eventTimes {
		get(t).EventCount++
	}
	for _, t := range alertTimes {
		get(t).AlertCount++
	}

	out := make([]TimelineBucket, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Bucket.Before(out[j].Bucket) })
	return out, nil
}

func (s *Store) sessionIDsForEndpoint(ctx context.Context, endpoint string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT session_id FROM sessions WHERE endpoint_hostname = ?`, endpoint)
	if err != nil {
		return nil, apierr.Internalf(err, "sessions for endpoint")
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err == nil {
			out = append(out, id)
		}
	}
	return out, nil
}

func (s *Store) sessionIDsForSource(ctx context.Context, source string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT session_id FROM sessions WHERE COALESCE(session_source, 'claude_code') = ?`, source)
	if err != nil {
		return nil, apierr.Internalf(err, "sessions for source")
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err == nil {
			out = append(out, id)
		}
	}
	return out, nil
}

// AggregateFilter narrows the top_files/top_commands/top_domains queries.
type AggregateFilter struct {
	FromDate *time.Time
	ToDate   *time.Time
	Endpoint string
	Source   string
	Limit    int
	SortBy   string
}

func (s *Store) resolveSessionScope(ctx context.Context, f AggregateFilter) ([]string, bool, error) {
	switch {
	case f.Endpoint != "":
		ids, err := s.sessionIDsForEndpoint(ctx, f.Endpoint)
		return ids, true, err
	case f.Source != "":
		ids, err := s.sessionIDsForSource(ctx, f.Source)
		return ids, true, err
	default:
		return nil, false, nil
	}
}

// TopFile is one row of the top_files aggregation.
type TopFile struct {
	Path         string    `json:"path"`
	ReadCount    int       `json:"read_count"`
	WriteCount   int       `json:"write_count"`
	DeleteCount  int       `json:"delete_count"`
	LastAccessed time.Time `json:"last_accessed"`
}

// TopFiles aggregates file_read/file_write/file_delete events by path.
func (s *Store) TopFiles(ctx context.Context, f AggregateFilter) ([]TopFile, error) {
	ctx = ctxOrBackground(ctx)
	scopeIDs, scoped, err := s.resolveSessionScope(ctx, f)
	if err != nil {
		return nil, err
	}
	if scoped && len(scopeIDs) == 0 {
		return []TopFile{}, nil
	}
	rows, err := s.queryRawEventsByCategories(ctx,
		[]string{"file_read", "file_write", "file_delete"}, f.FromDate, f.ToDate, scopeIDsOrNil(scoped, scopeIDs))
	if err != nil {
		return nil, err
	}

	agg := map[string]*TopFile{}
	for _, r := range rows {
		for _, p := range decodeStringList(r.filePaths) {
			t, ok := agg[p]
			if !ok {
				t = &TopFile{Path: p}
				agg[p] = t
			}
			switch r.category {
			case "file_read":
				t.ReadCount++
			case "file_write":
				t.WriteCount++
			case "file_delete":
				t.DeleteCount++
			}
			if r.timestamp.After(t.LastAccessed) {
				t.LastAccessed = r.timestamp
			}
		}
	}

	out := make([]TopFile, 0, len(agg))
	for _, t := range agg {
		out = append(out, *t)
	}
	sortBy := f.SortBy
	if sortBy == "" {
		sortBy = "total_access"
	}
	sort.Slice(out, func(i, j int) bool {
		return totalAccess(out[i]) > totalAccess(out[j])
	})
	return truncateFiles(out, f.Limit), nil
}

func totalAccess(t TopFile) int { return t.ReadCount + t.WriteCount + t.DeleteCount }

func truncateFiles(items []TopFile, limit int) []TopFile {
	if limit <= 0 {
		limit = 20
	}
	if len(items) > limit {
		return items[:limit]
	}
	return items
}

// TopCommand is one row of the top_commands aggregation, keyed by the
// command's first whitespace-delimited token.
type TopCommand struct {
	Command        string    `json:"command"`
	ExecutionCount int       `json:"execution_count"`
	LastExecuted   time.Time `json:"last_executed"`
}

// TopCommands aggregates command_exec events by base command.
func (s *Store) TopCommands(ctx context.Context, f AggregateFilter) ([]TopCommand, error) {
	ctx = ctxOrBackground(ctx)
	scopeIDs, scoped, err := s.resolveSessionScope(ctx, f)
	if err != nil {
		return nil, err
	}
	if scoped && len(scopeIDs) == 0 {
		return []TopCommand{}, nil
	}
	rows, err := s.queryRawEventsByCategories(ctx, []string{"command_exec"}, f.FromDate, f.ToDate, scopeIDsOrNil(scoped, scopeIDs))
	if err != nil {
		return nil, err
	}

	agg := map[string]*TopCommand{}
	for _, r := range rows {
		for _, c := range decodeStringList(r.commands) {
			key := strings.Fields(c)
			if len(key) == 0 {
				continue
			}
			base := key[0]
			t, ok := agg[base]
			if !ok {
				t = &TopCommand{Command: base}
				agg[base] = t
			}
			t.ExecutionCount++
			if r.timestamp.After(t.LastExecuted) {
				t.LastExecuted = r.timestamp
			}
		}
	}

	out := make([]TopCommand, 0, len(agg))
	for _, t := range agg {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExecutionCount > out[j].ExecutionCount })
	if f.Limit <= 0 {
		f.Limit = 20
	}
	if len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// TopDomain is one row of the top_domains aggregation, keyed by hostname.
type TopDomain struct {
	Domain       string    `json:"domain"`
	AccessCount  int       `json:"access_count"`
	LastAccessed time.Time `json:"last_accessed"`
}

// TopDomains aggregates network_access events by URL hostname.
func (s *Store) TopDomains(ctx context.Context, f AggregateFilter) ([]TopDomain, error) {
	ctx = ctxOrBackground(ctx)
	scopeIDs, scoped, err := s.resolveSessionScope(ctx, f)
	if err != nil {
		return nil, err
	}
	if scoped && len(scopeIDs) == 0 {
		return []TopDomain{}, nil
	}
	rows, err := s.queryRawEventsByCategories(ctx, []string{"network_access"}, f.FromDate, f.ToDate, scopeIDsOrNil(scoped, scopeIDs))
	if err != nil {
		return nil, err
	}

	agg := map[string]*TopDomain{}
	for _, r := range rows {
		for _, u := range decodeStringList(r.urls) {
			host := u
			if parsed, err := url.Parse(u); err == nil && parsed.Hostname() != "" {
				host = parsed.Hostname()
			}
			t, ok := agg[host]
			if !ok {
				t = &TopDomain{Domain: host}
				agg[host] = t
			}
			t.AccessCount++
			if r.timestamp.After(t.LastAccessed) {
				t.LastAccessed = r.timestamp
			}
		}
	}

	out := make([]TopDomain, 0, len(agg))
	for _, t := range agg {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccessCount > out[j].AccessCount })
	if f.Limit <= 0 {
		f.Limit = 20
	}
	if len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func scopeIDsOrNil(scoped bool, ids []string) []string {
	if !scoped {
		return nil
	}
	return ids
}

// EndpointStat is one row of the endpoints aggregation.
type EndpointStat struct {
	EndpointHostname string    `json:"endpoint_hostname"`
	EndpointUser     string    `json:"endpoint_user"`
	SessionSource    string    `json:"session_source"`
	SessionCount     int       `json:"session_count"`
	ActiveSessions   int       `json:"active_sessions"`
	TotalEvents      int       `json:"total_events"`
	TotalAlerts      int       `json:"total_alerts"`
	LastSeen         time.Time `json:"last_seen"`
}

// EndpointStats groups sessions by (hostname, user, source) and aggregates
// session/event/alert counts per group.
func (s *Store) EndpointStats(ctx context.Context) ([]EndpointStat, error) {
	ctx = ctxOrBackground(ctx)
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			COALESCE(endpoint_hostname, ''), COALESCE(endpoint_user, ''), COALESCE(session_source, 'claude_code'),
			COUNT(*), SUM(CASE WHEN status = 'active' THEN 1 ELSE 0 END),
			SUM(event_count), SUM(alert_count), MAX(started_at)
		FROM sessions
		GROUP BY endpoint_hostname, endpoint_user, session_source
		ORDER BY MAX(started_at) DESC`)
	if err != nil {
		return nil, apierr.Internalf(err, "endpoint stats")
	}
	defer rows.Close()

	out := []EndpointStat{}
	for rows.Next() {
		var e EndpointStat
		var lastSeen string
		if err := rows.Scan(&e.EndpointHostname, &e.EndpointUser, &e.SessionSource,
			&e.SessionCount, &e.ActiveSessions, &e.TotalEvents, &e.TotalAlerts, &lastSeen); err != nil {
			return nil, apierr.Internalf(err, "scan endpoint stat row")
		}
		e.LastSeen, _ = time.Parse(time.RFC3339Nano, lastSeen)
		out = append(out, e)
	}
	return out, nil
}

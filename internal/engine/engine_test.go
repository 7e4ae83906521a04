package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IngaCherny/AgentsLeak/internal/apierr"
	"github.com/IngaCherny/AgentsLeak/internal/models"
)

type fakeStore struct {
	mu sync.Mutex

	policiesByName map[string]*models.Policy
	enabledList    []*models.Policy
	events         []*models.Event
	alerts         []*models.Alert
	nodes          []*models.GraphNode
	edges          []*models.GraphEdge

	riskDeltas   []int
	alertCountIncrements int
	eventCountIncrements int
	staleCutoffs []time.Time
	staleReturn  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{policiesByName: map[string]*models.Policy{}}
}

func (f *fakeStore) GetPolicyByName(ctx context.Context, name string) (*models.Policy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.policiesByName[name]; ok {
		return p, nil
	}
	return nil, apierr.NotFoundf("policy %q not found", name)
}

func (f *fakeStore) SavePolicy(ctx context.Context, p *models.Policy) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.policiesByName[p.Name] = p
	return nil
}

func (f *fakeStore) SaveGraphNode(ctx context.Context, n *models.GraphNode) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nodes = append(f.nodes, n)
	return n.ID, nil
}

func (f *fakeStore) SaveGraphEdge(ctx context.Context, e *models.GraphEdge) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edges = append(f.edges, e)
	return e.ID, nil
}

func (f *fakeStore) SaveEvent(ctx context.Context, e *models.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
	return nil
}

func (f *fakeStore) SaveAlert(ctx context.Context, a *models.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, a)
	return nil
}

func (f *fakeStore) ListPolicies(ctx context.Context, enabledOnly bool) ([]*models.Policy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enabledList, nil
}

func (f *fakeStore) IncrementSessionEventCount(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.eventCountIncrements++
	return nil
}

func (f *fakeStore) IncrementSessionAlertCount(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alertCountIncrements++
	return nil
}

func (f *fakeStore) IncrementSessionRiskScore(ctx context.Context, sessionID string, delta int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.riskDeltas = append(f.riskDeltas, delta)
	return nil
}

func (f *fakeStore) CleanupStaleSessions(ctx context.Context, cutoff time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.staleCutoffs = append(f.staleCutoffs, cutoff)
	return f.staleReturn, nil
}

func (f *fakeStore) alertCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.alerts)
}

type fakePublisher struct {
	mu           sync.Mutex
	events       []any
	alerts       []any
	eventSession string
	alertSession string
}

func (f *fakePublisher) PublishEvent(sessionID string, data any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.eventSession = sessionID
	f.events = append(f.events, data)
}

func (f *fakePublisher) PublishAlert(sessionID string, data any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alertSession = sessionID
	f.alerts = append(f.alerts, data)
}

func blockPolicy() *models.Policy {
	return &models.Policy{
		ID: uuid.New(), Name: "BLOCK-1", Enabled: true, Action: models.ActionBlock,
		Categories: []models.EventCategory{models.CategoryCommandExec},
		Severity:   models.SeverityCritical,
	}
}

func alertPolicy() *models.Policy {
	return &models.Policy{
		ID: uuid.New(), Name: "ALERT-1", Enabled: true, Action: models.ActionAlert,
		Categories: []models.EventCategory{models.CategoryNetworkAccess},
		Severity:   models.SeverityHigh,
	}
}

func TestNew_AppliesConfigDefaults(t *testing.T) {
	e := New(newFakeStore(), &fakePublisher{}, Config{})
	assert.Equal(t, 10000, cap(e.queue))
	assert.Equal(t, 5*time.Minute, e.cfg.StaleSessionCheckInterval)
	assert.Equal(t, 24*time.Hour, e.cfg.StaleSessionInactiveThreshold)
}

func TestEvaluatePreTool_BlocksOnMatchingBlockPolicy(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{}
	e := New(store, pub, Config{})
	e.policies = []*models.Policy{blockPolicy()}

	event := &models.Event{
		ID: uuid.New(), SessionID: "sess-1", HookType: models.HookPreToolUse,
		ToolName: "Bash", Category: models.CategoryCommandExec, Commands: []string{"rm -rf /"},
	}
	decision := e.EvaluatePreTool(context.Background(), event)
	assert.False(t, decision.Allow)
	assert.Equal(t, "BLOCK-1", decision.Reason)
	require.NotNil(t, decision.AlertID)

	require.Equal(t, 1, store.alertCount())
	alert := store.alerts[0]
	assert.True(t, alert.Blocked)
	assert.Equal(t, decision.AlertID, &alert.ID)
	assert.Equal(t, []uuid.UUID{event.ID}, alert.EventIDs)
	require.Len(t, alert.Evidence, 1)
	assert.Equal(t, event.ID, alert.Evidence[0].EventID)
	assert.Equal(t, 1, store.alertCountIncrements)
	assert.Len(t, pub.alerts, 1)
}

func TestEvaluatePreTool_AllowsWhenNoBlockPolicyMatches(t *testing.T) {
	e := New(newFakeStore(), &fakePublisher{}, Config{})
	e.policies = []*models.Policy{alertPolicy()}

	event := &models.Event{
		ID: uuid.New(), SessionID: "sess-1", HookType: models.HookPreToolUse,
		ToolName: "Read", Category: models.CategoryFileRead,
	}
	decision := e.EvaluatePreTool(context.Background(), event)
	assert.True(t, decision.Allow)
}

func TestProcess_FiresAlertOnMatchingNonBlockPolicy(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{}
	e := New(store, pub, Config{})
	e.policies = []*models.Policy{alertPolicy()}

	event := &models.Event{
		ID: uuid.New(), SessionID: "sess-1", HookType: models.HookPostToolUse,
		ToolName: "WebFetch", Category: models.CategoryNetworkAccess,
		URLs: []string{"https://example.com"},
	}
	e.process(context.Background(), event)

	require.Equal(t, 1, store.alertCount())
	assert.Equal(t, "ALERT-1", store.alerts[0].Metadata["policy_name"])
	assert.True(t, event.Processed)
	require.Len(t, pub.events, 1)
	require.Len(t, pub.alerts, 1)
	assert.Equal(t, "sess-1", pub.alertSession)
}

func TestProcess_PreToolUseEventNeverFiresStandardPolicyAlerts(t *testing.T) {
	store := newFakeStore()
	e := New(store, &fakePublisher{}, Config{})
	e.policies = []*models.Policy{alertPolicy()}

	event := &models.Event{
		ID: uuid.New(), SessionID: "sess-1", HookType: models.HookPreToolUse,
		ToolName: "WebFetch", Category: models.CategoryNetworkAccess,
	}
	e.process(context.Background(), event)
	assert.Equal(t, 0, store.alertCount())
}

func TestProcess_AccumulatesRiskScoreFromSignals(t *testing.T) {
	store := newFakeStore()
	e := New(store, &fakePublisher{}, Config{})

	event := &models.Event{
		ID: uuid.New(), SessionID: "sess-1", HookType: models.HookPostToolUse,
		ToolName: "Read", Category: models.CategoryFileRead,
		ToolInput: models.JSONMap{"file_path": "/home/user/.ssh/id_rsa"},
		FilePaths: []string{"/home/user/.ssh/id_rsa"},
	}
	e.process(context.Background(), event)

	require.Len(t, store.riskDeltas, 1)
	assert.Equal(t, 15, store.riskDeltas[0])
}

func TestProcess_BuildsGraphAndSavesEvent(t *testing.T) {
	store := newFakeStore()
	e := New(store, &fakePublisher{}, Config{})

	event := &models.Event{
		ID: uuid.New(), SessionID: "sess-1", HookType: models.HookPostToolUse,
		ToolName: "Write", Category: models.CategoryFileWrite, FilePaths: []string{"/tmp/out.txt"},
	}
	e.process(context.Background(), event)

	assert.NotEmpty(t, store.nodes)
	require.Len(t, store.events, 1)
	assert.True(t, store.events[0].Enriched)
}

func TestReloadPolicies_RefreshesCache(t *testing.T) {
	store := newFakeStore()
	store.enabledList = []*models.Policy{alertPolicy()}
	e := New(store, &fakePublisher{}, Config{})

	require.NoError(t, e.ReloadPolicies(context.Background()))
	assert.Len(t, e.activePolicies(), 1)
}

func TestEnqueue_DropsEventWhenQueueFull(t *testing.T) {
	e := New(newFakeStore(), &fakePublisher{}, Config{MaxQueueLength: 1})
	e.Enqueue(&models.Event{ID: uuid.New(), SessionID: "a"})
	// Second enqueue hits the full queue and is dropped, not blocked.
	done := make(chan struct{})
	go func() {
		e.Enqueue(&models.Event{ID: uuid.New(), SessionID: "b"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Enqueue blocked instead of dropping when queue is full")
	}
}

func TestStartStop_ProcessesEnqueuedEventThenShutsDownCleanly(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{}
	e := New(store, pub, Config{StaleSessionCheckInterval: time.Hour})

	require.NoError(t, e.Start(context.Background()))
	e.Enqueue(&models.Event{ID: uuid.New(), SessionID: "sess-1", HookType: models.HookPostToolUse, ToolName: "Read"})

	deadline := time.Now().Add(2 * time.Second)
	for len(store.events) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	e.Stop()

	require.Len(t, store.events, 1)
}

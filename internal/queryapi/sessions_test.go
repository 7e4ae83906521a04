package queryapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleSessions_ListsAndPaginates(t *testing.T) {
	a, st, _ := newTestAPI(t, "", "")
	ctx := context.Background()
	_, err := st.EnsureSession(ctx, "sess-1", "/repo", "", "box-a", "alice", "claude_code", time.Now().UTC())
	require.NoError(t, err)

	w := httptest.NewRecorder()
	a.handleSessions(w, httptest.NewRequest(http.MethodGet, "/api/sessions", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, float64(1), resp["total"])
	assert.Equal(t, float64(1), resp["page"])
}

func TestHandleSessions_RejectsNonGet(t *testing.T) {
	a, _, _ := newTestAPI(t, "", "")
	w := httptest.NewRecorder()
	a.handleSessions(w, httptest.NewRequest(http.MethodPost, "/api/sessions", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestHandleSessionByID_ReturnsSessionAndStats(t *testing.T) {
	a, st, _ := newTestAPI(t, "", "")
	ctx := context.Background()
	_, err := st.EnsureSession(ctx, "sess-1", "/repo", "", "box-a", "alice", "claude_code", time.Now().UTC())
	require.NoError(t, err)

	w := httptest.NewRecorder()
	a.handleSessionSubroutes(w, httptest.NewRequest(http.MethodGet, "/api/sessions/sess-1", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Contains(t, resp, "session")
	assert.Contains(t, resp, "stats")
}

func TestHandleSessionByID_MissingSessionReturnsNotFound(t *testing.T) {
	a, _, _ := newTestAPI(t, "", "")
	w := httptest.NewRecorder()
	a.handleSessionSubroutes(w, httptest.NewRequest(http.MethodGet, "/api/sessions/does-not-exist", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleSessionTerminate_EndsSession(t *testing.T) {
	a, st, _ := newTestAPI(t, "", "")
	ctx := context.Background()
	_, err := st.EnsureSession(ctx, "sess-1", "/repo", "", "box-a", "alice", "claude_code", time.Now().UTC())
	require.NoError(t, err)

	w := httptest.NewRecorder()
	a.handleSessionSubroutes(w, httptest.NewRequest(http.MethodPost, "/api/sessions/sess-1/terminate", nil))
	require.Equal(t, http.StatusOK, w.Code)

	sess, err := st.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "ended", string(sess.Status))
}

func TestHandleSessionEvents_EmptySessionReturnsZeroTotal(t *testing.T) {
	a, st, _ := newTestAPI(t, "", "")
	ctx := context.Background()
	_, err := st.EnsureSession(ctx, "sess-1", "/repo", "", "", "", "claude_code", time.Now().UTC())
	require.NoError(t, err)

	w := httptest.NewRecorder()
	a.handleSessionSubroutes(w, httptest.NewRequest(http.MethodGet, "/api/sessions/sess-1/events", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, float64(0), resp["total"])
}

func TestSplitFirstSegment_RoutesSubresource(t *testing.T) {
	a, _, _ := newTestAPI(t, "", "")
	w := httptest.NewRecorder()
	// An id with no matching session still routes to the events subresource,
	// not the bare-session handler, exercising splitFirstSegment's routing.
	a.handleSessionSubroutes(w, httptest.NewRequest(http.MethodGet, "/api/sessions/missing/events", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

package queryapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IngaCherny/AgentsLeak/internal/models"
)

func saveTestAlert(t *testing.T, a *API) *models.Alert {
	t.Helper()
	alert := models.NewAlert("sess-1", models.SeverityHigh, models.CategoryNetworkAccess)
	alert.Title = "test alert"
	require.NoError(t, a.store.SaveAlert(context.Background(), alert))
	return alert
}

func TestHandleAlerts_ListsAndFiltersByStatus(t *testing.T) {
	a, _, _ := newTestAPI(t, "", "")
	saveTestAlert(t, a)

	w := httptest.NewRecorder()
	a.handleAlerts(w, httptest.NewRequest(http.MethodGet, "/api/alerts?status=new", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, float64(1), resp["total"])
}

func TestHandleAlertByID_PatchUpdatesFields(t *testing.T) {
	a, _, _ := newTestAPI(t, "", "")
	alert := saveTestAlert(t, a)

	body, err := json.Marshal(map[string]any{"status": "investigating"})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPatch, "/api/alerts/"+alert.ID.String(), bytes.NewReader(body))

	w := httptest.NewRecorder()
	a.handleAlertSubroutes(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var updated models.Alert
	require.NoError(t, json.NewDecoder(w.Body).Decode(&updated))
	assert.Equal(t, models.AlertInvestigating, updated.Status)
}

func TestHandleAlertSetStatus_AcknowledgeAndResolve(t *testing.T) {
	a, _, _ := newTestAPI(t, "", "")
	alert := saveTestAlert(t, a)

	w := httptest.NewRecorder()
	a.handleAlertSubroutes(w, httptest.NewRequest(http.MethodPost, "/api/alerts/"+alert.ID.String()+"/acknowledge", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var ack models.Alert
	require.NoError(t, json.NewDecoder(w.Body).Decode(&ack))
	assert.Equal(t, models.AlertInvestigating, ack.Status)

	w = httptest.NewRecorder()
	a.handleAlertSubroutes(w, httptest.NewRequest(http.MethodPost, "/api/alerts/"+alert.ID.String()+"/resolve", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var resolved models.Alert
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resolved))
	assert.Equal(t, models.AlertResolved, resolved.Status)
}

func TestHandleAlertContext_ReturnsEventsList(t *testing.T) {
	a, st, _ := newTestAPI(t, "", "")
	ctx := context.Background()

	alert := models.NewAlert("sess-1", models.SeverityHigh, models.CategoryNetworkAccess)
	require.NoError(t, st.SaveAlert(ctx, alert))

	w := httptest.NewRecorder()
	a.handleAlertSubroutes(w, httptest.NewRequest(http.MethodGet, "/api/alerts/"+alert.ID.String()+"/context", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Contains(t, resp, "events")
}

func TestHandleAlertGraph_ReturnsInducedSubgraph(t *testing.T) {
	a, st, _ := newTestAPI(t, "", "")
	ctx := context.Background()

	sessionNode := models.NewGraphNode(models.NodeSession, "sess-1", "sess-1", []string{"sess-1"}, nil)
	sessionID, err := st.SaveGraphNode(ctx, sessionNode)
	require.NoError(t, err)
	fileNode := models.NewGraphNode(models.NodeFile, "x.txt", "/tmp/x.txt", []string{"sess-1"}, nil)
	fileID, err := st.SaveGraphNode(ctx, fileNode)
	require.NoError(t, err)
	_, err = st.SaveGraphEdge(ctx, models.NewGraphEdge(sessionID, fileID, models.EdgeReads, []string{"sess-1"}, nil))
	require.NoError(t, err)

	alert := models.NewAlert("sess-1", models.SeverityHigh, models.CategoryFileRead)
	require.NoError(t, st.SaveAlert(ctx, alert))

	w := httptest.NewRecorder()
	a.handleAlertSubroutes(w, httptest.NewRequest(http.MethodGet, "/api/alerts/"+alert.ID.String()+"/graph", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Contains(t, resp, "nodes")
	assert.Contains(t, resp, "edges")
}

func TestHandleAlertSubroutes_UnknownSubrouteNotFound(t *testing.T) {
	a, _, _ := newTestAPI(t, "", "")
	alert := saveTestAlert(t, a)

	w := httptest.NewRecorder()
	a.handleAlertSubroutes(w, httptest.NewRequest(http.MethodGet, "/api/alerts/"+alert.ID.String()+"/bogus", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

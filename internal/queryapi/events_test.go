package queryapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IngaCherny/AgentsLeak/internal/models"
)

func TestHandleEvents_ListsBySessionAndTool(t *testing.T) {
	a, st, _ := newTestAPI(t, "", "")
	ctx := context.Background()
	e := &models.Event{ID: uuid.New(), SessionID: "sess-1", Timestamp: time.Now().UTC(), ToolName: "Bash"}
	require.NoError(t, st.SaveEvent(ctx, e))

	w := httptest.NewRecorder()
	a.handleEvents(w, httptest.NewRequest(http.MethodGet, "/api/events?tool_name=Bash", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, float64(1), resp["total"])

	w = httptest.NewRecorder()
	a.handleEvents(w, httptest.NewRequest(http.MethodGet, "/api/events?tool_name=Write", nil))
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, float64(0), resp["total"])
}

func TestHandleEventByID_ReturnsEventOrNotFound(t *testing.T) {
	a, st, _ := newTestAPI(t, "", "")
	ctx := context.Background()
	e := &models.Event{ID: uuid.New(), SessionID: "sess-1", Timestamp: time.Now().UTC()}
	require.NoError(t, st.SaveEvent(ctx, e))

	w := httptest.NewRecorder()
	a.handleEventByID(w, httptest.NewRequest(http.MethodGet, "/api/events/"+e.ID.String(), nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	a.handleEventByID(w, httptest.NewRequest(http.MethodGet, "/api/events/"+uuid.New().String(), nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	a.handleEventByID(w, httptest.NewRequest(http.MethodGet, "/api/events/not-a-uuid", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

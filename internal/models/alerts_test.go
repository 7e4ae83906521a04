package models

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAlert_Defaults(t *testing.T) {
	a := NewAlert("sess-1", SeverityHigh, CategoryNetworkAccess)

	require.NotEqual(t, uuid.Nil, a.ID)
	assert.Equal(t, "sess-1", a.SessionID)
	assert.Equal(t, AlertNew, a.Status)
	assert.Equal(t, SeverityHigh, a.Severity)
	assert.Equal(t, CategoryNetworkAccess, a.Category)
	assert.Empty(t, a.EventIDs)
	assert.Empty(t, a.Evidence)
	assert.NotNil(t, a.Metadata)
	assert.False(t, a.CreatedAt.IsZero())
	assert.Equal(t, a.CreatedAt, a.UpdatedAt)
}

func TestAlert_AddEvidence(t *testing.T) {
	a := NewAlert("sess-1", SeverityMedium, CategoryFileWrite)
	eventID := uuid.New()
	path := "/etc/passwd"

	a.AddEvidence(eventID, "wrote sensitive file", JSONMap{"size": 128}, &path, nil, nil)

	require.Len(t, a.Evidence, 1)
	ev := a.Evidence[0]
	assert.Equal(t, eventID, ev.EventID)
	assert.Equal(t, "wrote sensitive file", ev.Description)
	require.NotNil(t, ev.FilePath)
	assert.Equal(t, path, *ev.FilePath)
	assert.Nil(t, ev.Command)
}

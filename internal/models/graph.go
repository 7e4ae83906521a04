package models

import (
	"time"

	"github.com/google/uuid"
)

// NodeType is the kind of entity represented by a graph node.
type NodeType string

const (
	NodeSession   NodeType = "session"
	NodeFile      NodeType = "file"
	NodeDirectory NodeType = "directory"
	NodeCommand   NodeType = "command"
	NodeProcess   NodeType = "process"
	NodeNetwork   NodeType = "network"
	NodeURL       NodeType = "url"
	NodeIPAddress NodeType = "ip_address"
	NodeTool      NodeType = "tool"
	NodeUser      NodeType = "user"
	NodeAlert     NodeType = "alert"
)

// EdgeRelation is the kind of relationship a graph edge represents. This
// enumeration is deliberately larger than the handful of relations the
// Graph Builder emits today (see internal/graphbuilder): it mirrors the
// full relation vocabulary the activity graph is modeled around, so the
// query/export surface and any future builder extension has a home for
// relations like CREATES or PARENT_OF without a schema change.
type EdgeRelation string

const (
	EdgeReads       EdgeRelation = "reads"
	EdgeWrites      EdgeRelation = "writes"
	EdgeCreates     EdgeRelation = "creates"
	EdgeDeletes     EdgeRelation = "deletes"
	EdgeModifies    EdgeRelation = "modifies"
	EdgeExecutes    EdgeRelation = "executes"
	EdgeSpawns      EdgeRelation = "spawns"
	EdgeTerminates  EdgeRelation = "terminates"
	EdgeConnectsTo  EdgeRelation = "connects_to"
	EdgeDownloads   EdgeRelation = "downloads_from"
	EdgeUploadsTo   EdgeRelation = "uploads_to"
	EdgeFetches     EdgeRelation = "fetches"
	EdgeContains    EdgeRelation = "contains"
	EdgeParentOf    EdgeRelation = "parent_of"
	EdgeChildOf     EdgeRelation = "child_of"
	EdgeUses        EdgeRelation = "uses"
	EdgeInvokes     EdgeRelation = "invokes"
	EdgeTriggers    EdgeRelation = "triggers"
	EdgeRelatedTo   EdgeRelation = "related_to"
)

// GraphNode is a node in the activity graph. Identity is (NodeType, Value);
// see internal/store for the upsert contract.
type GraphNode struct {
	ID          uuid.UUID    `json:"id"`
	NodeType    NodeType     `json:"node_type"`
	Label       string       `json:"label"`
	Value       string       `json:"value"`
	FirstSeen   time.Time    `json:"first_seen"`
	LastSeen    time.Time    `json:"last_seen"`
	AccessCount int          `json:"access_count"`
	AlertCount  int          `json:"alert_count"`
	SessionIDs  []string     `json:"session_ids,omitempty"`
	EventIDs    []uuid.UUID  `json:"event_ids,omitempty"`
	Size        float64      `json:"size"`
	Color       string       `json:"color,omitempty"`
	Metadata    JSONMap      `json:"metadata,omitempty"`
}

// NewGraphNode builds a node with the defaults every call site uses:
// access_count 1, first_seen/last_seen now, size 1.
func NewGraphNode(nodeType NodeType, label, value string, sessionIDs []string, eventIDs []uuid.UUID) *GraphNode {
	now := time.Now().UTC()
	return &GraphNode{
		ID:          uuid.New(),
		NodeType:    nodeType,
		Label:       label,
		Value:       value,
		FirstSeen:   now,
		LastSeen:    now,
		AccessCount: 1,
		SessionIDs:  sessionIDs,
		EventIDs:    eventIDs,
		Size:        1.0,
		Metadata:    JSONMap{},
	}
}

// GraphEdge is an edge (relationship) in the activity graph. Identity is
// (SourceID, TargetID, Relation).
type GraphEdge struct {
	ID         uuid.UUID    `json:"id"`
	SourceID   uuid.UUID    `json:"source_id"`
	TargetID   uuid.UUID    `json:"target_id"`
	Relation   EdgeRelation `json:"relation"`
	FirstSeen  time.Time    `json:"first_seen"`
	LastSeen   time.Time    `json:"last_seen"`
	Count      int          `json:"count"`
	SessionIDs []string     `json:"session_ids,omitempty"`
	EventIDs   []uuid.UUID  `json:"event_ids,omitempty"`
	Weight     float64      `json:"weight"`
	Color      string       `json:"color,omitempty"`
	Metadata   JSONMap      `json:"metadata,omitempty"`
}

// NewGraphEdge builds an edge with the defaults every call site uses.
func NewGraphEdge(sourceID, targetID uuid.UUID, relation EdgeRelation, sessionIDs []string, eventIDs []uuid.UUID) *GraphEdge {
	now := time.Now().UTC()
	return &GraphEdge{
		ID:         uuid.New(),
		SourceID:   sourceID,
		TargetID:   targetID,
		Relation:   relation,
		FirstSeen:  now,
		LastSeen:   now,
		Count:      1,
		SessionIDs: sessionIDs,
		EventIDs:   eventIDs,
		Weight:     1.0,
		Metadata:   JSONMap{},
	}
}

// Package graphbuilder turns an enriched Event into activity-graph nodes
// and edges, building a readable attack-chain tree rather than a flat star:
//
//	Session --uses--> Tool --reads/writes--> File
//	                       --executes--> CommandGroup --executes--> Process --connects_to--> URL
//	                       --connects_to--> URL  (when no process)
package graphbuilder

import (
	"context"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/IngaCherny/AgentsLeak/internal/classifier"
	"github.com/IngaCherny/AgentsLeak/internal/models"
)

// NodeStore is the subset of the store the builder needs: an upsert that
// returns the effective (possibly pre-existing) node/edge id.
type NodeStore interface {
	SaveGraphNode(ctx context.Context, n *models.GraphNode) (uuid.UUID, error)
	SaveGraphEdge(ctx context.Context, e *models.GraphEdge) (uuid.UUID, error)
}

// Build materializes the graph contribution of one enriched event.
func Build(ctx context.Context, store NodeStore, e *models.Event) error {
	sid := e.SessionID
	eid := e.ID

	sessionLabel := sid
	if len(sessionLabel) > 16 {
		sessionLabel = sessionLabel[:16]
	}
	sessionID, err := store.SaveGraphNode(ctx, models.NewGraphNode(
		models.NodeSession, sessionLabel, sid, []string{sid}, []uuid.UUID{eid}))
	if err != nil {
		return err
	}

	parentID := sessionID
	if e.ToolName != "" {
		toolID, err := store.SaveGraphNode(ctx, models.NewGraphNode(
			models.NodeTool, e.ToolName, e.ToolName+":"+sid, []string{sid}, []uuid.UUID{eid}))
		if err != nil {
			return err
		}
		if _, err := store.SaveGraphEdge(ctx, models.NewGraphEdge(sessionID, toolID, models.EdgeUses, []string{sid}, []uuid.UUID{eid})); err != nil {
			return err
		}
		parentID = toolID
	}

	// File nodes directly off the tool, skipped for command events: step
	// below creates more precise process->file edges with correct roles.
	if len(e.Commands) == 0 {
		for _, fp := range e.FilePaths {
			fileID, err := store.SaveGraphNode(ctx, models.NewGraphNode(
				models.NodeFile, baseLabel(fp), fp, []string{sid}, []uuid.UUID{eid}))
			if err != nil {
				return err
			}
			rel := models.EdgeReads
			switch e.Category {
			case models.CategoryFileWrite:
				rel = models.EdgeWrites
			case models.CategoryFileDelete:
				rel = models.EdgeDeletes
			}
			if _, err := store.SaveGraphEdge(ctx, models.NewGraphEdge(parentID, fileID, rel, []string{sid}, []uuid.UUID{eid})); err != nil {
				return err
			}
		}
	}

	var processIDs []uuid.UUID
	for _, cmd := range e.Commands {
		base := baseCommand(cmd)
		groupID, err := store.SaveGraphNode(ctx, models.NewGraphNode(
			models.NodeCommand, base, "cmdgroup:"+base+":"+sid, []string{sid}, []uuid.UUID{eid}))
		if err != nil {
			return err
		}
		if _, err := store.SaveGraphEdge(ctx, models.NewGraphEdge(parentID, groupID, models.EdgeExecutes, []string{sid}, []uuid.UUID{eid})); err != nil {
			return err
		}

		processID, err := store.SaveGraphNode(ctx, models.NewGraphNode(
			models.NodeProcess, shortLabel(cmd), cmd, []string{sid}, []uuid.UUID{eid}))
		if err != nil {
			return err
		}
		processIDs = append(processIDs, processID)
		if _, err := store.SaveGraphEdge(ctx, models.NewGraphEdge(groupID, processID, models.EdgeExecutes, []string{sid}, []uuid.UUID{eid})); err != nil {
			return err
		}

		for _, ref := range classifier.ExtractCommandFileRefs(cmd) {
			fileID, err := store.SaveGraphNode(ctx, models.NewGraphNode(
				models.NodeFile, baseLabel(ref.Path), ref.Path, []string{sid}, []uuid.UUID{eid}))
			if err != nil {
				return err
			}
			rel := models.EdgeReads
			switch ref.Role {
			case classifier.RoleWrites:
				rel = models.EdgeWrites
			case classifier.RoleExecutes:
				rel = models.EdgeExecutes
			}
			if _, err := store.SaveGraphEdge(ctx, models.NewGraphEdge(processID, fileID, rel, []string{sid}, []uuid.UUID{eid})); err != nil {
				return err
			}
		}
	}

	for _, u := range e.URLs {
		domain := u
		if parsed, err := url.Parse(u); err == nil && parsed.Hostname() != "" {
			domain = parsed.Hostname()
		}
		urlID, err := store.SaveGraphNode(ctx, models.NewGraphNode(
			models.NodeURL, domain, u, []string{sid}, []uuid.UUID{eid}))
		if err != nil {
			return err
		}
		if len(processIDs) > 0 {
			for _, pid := range processIDs {
				if _, err := store.SaveGraphEdge(ctx, models.NewGraphEdge(pid, urlID, models.EdgeConnectsTo, []string{sid}, []uuid.UUID{eid})); err != nil {
					return err
				}
			}
		} else {
			if _, err := store.SaveGraphEdge(ctx, models.NewGraphEdge(parentID, urlID, models.EdgeConnectsTo, []string{sid}, []uuid.UUID{eid})); err != nil {
				return err
			}
		}
	}

	return nil
}

func baseLabel(path string) string {
	if b := filepath.Base(path); b != "." && b != "/" {
		return b
	}
	return path
}

func baseCommand(cmd string) string {
	fields := strings.Fields(cmd)
	if len(fields) == 0 {
		return "unknown"
	}
	return filepath.Base(fields[0])
}

func shortLabel(cmd string) string {
	const max = 60
	if len(cmd) > max {
		return cmd[:max] + "..."
	}
	return cmd
}

package queryapi

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/IngaCherny/AgentsLeak/internal/models"
)

var validCategories = map[models.EventCategory]bool{
	models.CategoryFileRead:         true,
	models.CategoryFileWrite:        true,
	models.CategoryFileDelete:       true,
	models.CategoryCommandExec:      true,
	models.CategoryNetworkAccess:    true,
	models.CategoryCodeExecution:    true,
	models.CategorySubagentSpawn:    true,
	models.CategoryMCPToolUse:       true,
	models.CategorySessionLifecycle: true,
	models.CategoryUnknown:          true,
}

func (a *API) handlePolicies(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		enabledOnly := r.URL.Query().Get("enabled") == "true"
		policies, err := a.store.ListPolicies(r.Context(), enabledOnly)
		if err != nil {
			sendErr(w, err)
			return
		}
		sendJSON(w, http.StatusOK, map[string]any{"items": policies, "total": len(policies)})
	case http.MethodPost:
		a.handleCreatePolicy(w, r)
	default:
		sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (a *API) handleCreatePolicy(w http.ResponseWriter, r *http.Request) {
	req := models.Policy{Enabled: true}
	if err := decodeJSON(r, &req); err != nil {
		sendJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		sendJSONError(w, http.StatusBadRequest, "name is required")
		return
	}
	for _, c := range req.Categories {
		if !validCategories[c] {
			sendJSONError(w, http.StatusBadRequest, "unknown category: "+string(c))
			return
		}
	}
	if req.Action == "" {
		req.Action = models.ActionAlert
	}
	if req.Severity == "" {
		req.Severity = models.SeverityMedium
	}
	if req.ConditionLogic == "" {
		req.ConditionLogic = models.LogicAll
	}

	if _, err := a.store.GetPolicyByName(r.Context(), req.Name); err == nil {
		sendJSONError(w, http.StatusConflict, "policy named "+req.Name+" already exists")
		return
	}

	now := time.Now().UTC()
	req.ID = uuid.New()
	req.CreatedAt = now
	req.UpdatedAt = now
	if req.Metadata == nil {
		req.Metadata = models.JSONMap{}
	}

	if err := a.store.SavePolicy(r.Context(), &req); err != nil {
		sendErr(w, err)
		return
	}
	if err := a.engine.ReloadPolicies(r.Context()); err != nil {
		sendErr(w, err)
		return
	}
	sendJSON(w, http.StatusCreated, req)
}

func (a *API) handlePolicySubroutes(w http.ResponseWriter, r *http.Request) {
	tail := pathTail(r.URL.Path, "/api/policies/")
	idStr, rest, hasRest := splitFirstSegment(tail)
	id, ok := parseUUID(w, idStr)
	if !ok {
		return
	}
	if hasRest && rest == "toggle" {
		a.handlePolicyToggle(w, r, id)
		return
	}
	a.handlePolicyByID(w, r, id)
}

func (a *API) handlePolicyByID(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	switch r.Method {
	case http.MethodGet:
		p, err := a.store.GetPolicy(r.Context(), id)
		if err != nil {
			sendErr(w, err)
			return
		}
		sendJSON(w, http.StatusOK, p)
	case http.MethodPut:
		var fields map[string]any
		if err := decodeJSON(r, &fields); err != nil {
			sendJSONError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if cat, ok := fields["categories"].([]any); ok {
			for _, c := range cat {
				s, _ := c.(string)
				if !validCategories[models.EventCategory(s)] {
					sendJSONError(w, http.StatusBadRequest, "unknown category: "+s)
					return
				}
			}
		}
		a.updatePolicy(w, r, id, fields)
	case http.MethodDelete:
		if err := a.store.DeletePolicy(r.Context(), id); err != nil {
			sendErr(w, err)
			return
		}
		if err := a.engine.ReloadPolicies(r.Context()); err != nil {
			sendErr(w, err)
			return
		}
		sendJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (a *API) updatePolicy(w http.ResponseWriter, r *http.Request, id uuid.UUID, fields map[string]any) {
	if err := a.store.UpdatePolicy(r.Context(), id, fields); err != nil {
		sendErr(w, err)
		return
	}
	if err := a.engine.ReloadPolicies(r.Context()); err != nil {
		sendErr(w, err)
		return
	}
	p, err := a.store.GetPolicy(r.Context(), id)
	if err != nil {
		sendErr(w, err)
		return
	}
	sendJSON(w, http.StatusOK, p)
}

func (a *API) handlePolicyToggle(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	if r.Method != http.MethodPost {
		sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	p, err := a.store.GetPolicy(r.Context(), id)
	if err != nil {
		sendErr(w, err)
		return
	}
	a.updatePolicy(w, r, id, map[string]any{"enabled": !p.Enabled})
}

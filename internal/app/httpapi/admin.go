package httpapi

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	platformerrors "github.com/tessera-social/app_platform/internal/errors"
	"github.com/tessera-social/app_platform/internal/platform/manifest"
	"github.com/tessera-social/app_platform/internal/platform/script"
)

type applyRequest struct {
	WorkspaceID string `json:"workspace_id"`
	Message     string `json:"message"`
}

// apply promotes a validated workspace to the new active revision. The
// workspace script is vetted and evaluated first so manifest handler
// references are checked against what the script actually exports.
func (h *Handler) apply(w http.ResponseWriter, r *http.Request) {
	var req applyRequest
	if err := h.decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.WorkspaceID == "" {
		h.writeError(w, r, platformerrors.Validation("workspace_id required"))
		return
	}

	handlers, err := h.workspaceHandlers(r.Context(), req.WorkspaceID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	result, err := h.lifecycle.Apply(r.Context(), req.WorkspaceID, req.Message, handlers)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.builder.Reset()
	h.writeJSON(w, http.StatusOK, result)
}

// workspaceHandlers resolves, vets and evaluates the workspace script,
// returning its exported handler names.
func (h *Handler) workspaceHandlers(ctx context.Context, workspaceID string) ([]string, error) {
	ws, err := h.workspaces.LoadWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, platformerrors.NotFound("workspace " + workspaceID + " not found")
	}
	source, err := h.loader.Resolve(ctx, ws.ScriptRef)
	if err != nil {
		return nil, err
	}
	if issues := script.Inspect(source, h.inspect); manifest.HasErrors(issues) {
		return nil, platformerrors.Security(issues[0].Message)
	}
	return h.sandbox.Evaluate(ctx, source)
}

func (h *Handler) diff(w http.ResponseWriter, r *http.Request) {
	workspaceID := mux.Vars(r)["workspaceID"]
	diff, err := h.lifecycle.Diff(r.Context(), workspaceID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, diff)
}

type rollbackRequest struct {
	RevisionID string `json:"revision_id"`
}

func (h *Handler) rollback(w http.ResponseWriter, r *http.Request) {
	var req rollbackRequest
	if err := h.decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.RevisionID == "" {
		h.writeError(w, r, platformerrors.Validation("revision_id required"))
		return
	}

	result, err := h.lifecycle.Rollback(r.Context(), req.RevisionID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.builder.Reset()
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) audit(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			h.writeError(w, r, platformerrors.Validation("limit must be a positive integer"))
			return
		}
		limit = parsed
	}
	entries, err := h.lifecycle.ListAudit(r.Context(), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

func (h *Handler) active(w http.ResponseWriter, r *http.Request) {
	rev, err := h.lifecycle.ActiveRevision(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, rev)
}

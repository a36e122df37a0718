// Package lifecycle manages app revisions: promoting validated
// workspaces into immutable revisions, diffing, rolling back, and the
// audit trail. The active pointer is only ever repointed; history is
// never mutated.
package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tessera-social/app_platform/internal/app/domain/revision"
	"github.com/tessera-social/app_platform/internal/app/storage"
	platformerrors "github.com/tessera-social/app_platform/internal/errors"
	"github.com/tessera-social/app_platform/internal/platform/manifest"
	"github.com/tessera-social/app_platform/internal/platform/schema"
	"github.com/tessera-social/app_platform/pkg/logger"
)

// WorkspaceSource loads externally authored workspaces. The platform
// never writes back.
type WorkspaceSource interface {
	LoadWorkspace(ctx context.Context, id string) (revision.Workspace, error)
}

// Versions holds the platform's current version stamps.
type Versions struct {
	SchemaVersion string
	CoreVersion   string
}

// Service is the revision lifecycle manager.
type Service struct {
	revisions  storage.RevisionStore
	pointer    storage.PointerStore
	audit      storage.AuditStore
	workspaces WorkspaceSource
	versions   Versions
	log        *logger.Logger
}

// New constructs a lifecycle service.
func New(revisions storage.RevisionStore, pointer storage.PointerStore, audit storage.AuditStore, workspaces WorkspaceSource, versions Versions, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("lifecycle")
	}
	return &Service{
		revisions:  revisions,
		pointer:    pointer,
		audit:      audit,
		workspaces: workspaces,
		versions:   versions,
		log:        log,
	}
}

// ApplyResult reports a successful apply.
type ApplyResult struct {
	RevisionID string   `json:"revision_id"`
	Warnings   []string `json:"warnings,omitempty"`
}

// handlerSet adapts an exported-handler list to manifest.HandlerResolver.
type handlerSet map[string]struct{}

func (h handlerSet) Has(name string) bool {
	_, ok := h[name]
	return ok
}

func newHandlerSet(handlers []string) handlerSet {
	set := make(handlerSet, len(handlers))
	for _, h := range handlers {
		set[h] = struct{}{}
	}
	return set
}

// Apply promotes a workspace into a new immutable revision and
// repoints the active pointer. The workspace must be validated with
// zero blocking issues; otherwise apply fails closed.
func (s *Service) Apply(ctx context.Context, workspaceID, message string, handlers []string) (ApplyResult, error) {
	ws, err := s.workspaces.LoadWorkspace(ctx, workspaceID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ApplyResult{}, platformerrors.NotFound(fmt.Sprintf("workspace %s not found", workspaceID))
		}
		return ApplyResult{}, platformerrors.Internal("load workspace", err)
	}

	if ws.Status != revision.StatusValidated || len(ws.BlockingIssues) > 0 {
		return ApplyResult{}, platformerrors.WorkspaceValidationFailed(ws.BlockingIssues)
	}

	m, err := manifest.Normalize(ws.Manifest)
	if err != nil {
		return ApplyResult{}, platformerrors.Validation(fmt.Sprintf("workspace manifest: %v", err))
	}
	if issues := manifest.Validate(m); manifest.HasErrors(issues) {
		return ApplyResult{}, platformerrors.WorkspaceValidationFailed(issues)
	}
	if len(handlers) > 0 {
		if issues := manifest.ValidateHandlers(m, newHandlerSet(handlers)); manifest.HasErrors(issues) {
			return ApplyResult{}, platformerrors.WorkspaceValidationFailed(issues)
		}
	}

	compat := schema.Check(s.versions.SchemaVersion, m.SchemaVersion)
	if compat.Err != "" {
		return ApplyResult{}, platformerrors.Validation(
			fmt.Sprintf("manifest schema %s is not compatible with platform schema %s: %s",
				m.SchemaVersion, s.versions.SchemaVersion, compat.Err))
	}

	snapshot, err := json.Marshal(m)
	if err != nil {
		return ApplyResult{}, platformerrors.Internal("encode manifest snapshot", err)
	}

	rev, err := s.revisions.CreateRevision(ctx, revision.Revision{
		SchemaVersion:     m.SchemaVersion,
		CoreVersion:       s.versions.CoreVersion,
		ManifestSnapshot:  snapshot,
		ScriptSnapshotRef: ws.ScriptRef,
		WorkspaceID:       ws.ID,
		Message:           message,
	})
	if err != nil {
		return ApplyResult{}, platformerrors.Internal("persist revision", err)
	}

	if err := s.pointer.SetActivePointer(ctx, revision.ActivePointer{
		ActiveRevisionID: rev.ID,
		SchemaVersion:    rev.SchemaVersion,
		CoreVersion:      rev.CoreVersion,
		UpdatedAt:        time.Now().UTC(),
	}); err != nil {
		return ApplyResult{}, platformerrors.Internal("repoint active revision", err)
	}

	s.appendAudit(ctx, revision.AuditEntry{
		Action:      "apply",
		RevisionID:  rev.ID,
		WorkspaceID: ws.ID,
		Result:      "success",
		Details: map[string]interface{}{
			"message": message,
			"schema_compat": map[string]interface{}{
				"ok":       compat.OK,
				"warnings": compat.Warnings,
			},
		},
	})

	s.log.WithFields(map[string]interface{}{
		"revision_id":  rev.ID,
		"workspace_id": ws.ID,
	}).Info("applied workspace revision")

	return ApplyResult{RevisionID: rev.ID, Warnings: compat.Warnings}, nil
}

// RollbackResult reports a successful rollback.
type RollbackResult struct {
	RevisionID string   `json:"revision_id"`
	Warnings   []string `json:"warnings,omitempty"`
}

// Rollback repoints the active pointer at an already-persisted
// revision. It never creates revisions. A major schema mismatch
// between the target's stamps and the platform's current versions
// refuses the rollback and leaves the pointer unchanged.
func (s *Service) Rollback(ctx context.Context, targetRevisionID string) (RollbackResult, error) {
	target, err := s.revisions.GetRevision(ctx, targetRevisionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return RollbackResult{}, platformerrors.NotFound(fmt.Sprintf("revision %s not found", targetRevisionID))
		}
		return RollbackResult{}, platformerrors.Internal("load revision", err)
	}

	warnings := []string{}
	schemaCompat := schema.Check(s.versions.SchemaVersion, target.SchemaVersion)
	if schemaCompat.Err != "" {
		return RollbackResult{}, platformerrors.Validation(
			fmt.Sprintf("revision %s schema %s is not compatible with platform schema %s: %s",
				target.ID, target.SchemaVersion, s.versions.SchemaVersion, schemaCompat.Err))
	}
	warnings = append(warnings, schemaCompat.Warnings...)

	coreCompat := schema.Check(s.versions.CoreVersion, target.CoreVersion)
	if coreCompat.Err != "" {
		return RollbackResult{}, platformerrors.Validation(
			fmt.Sprintf("revision %s core %s is not compatible with platform core %s: %s",
				target.ID, target.CoreVersion, s.versions.CoreVersion, coreCompat.Err))
	}
	warnings = append(warnings, coreCompat.Warnings...)

	var previous revision.ActivePointer
	if ptr, err := s.pointer.GetActivePointer(ctx); err == nil {
		previous = ptr
	} else if !errors.Is(err, storage.ErrNotFound) {
		return RollbackResult{}, platformerrors.Internal("load active pointer", err)
	}

	if err := s.pointer.SetActivePointer(ctx, revision.ActivePointer{
		ActiveRevisionID: target.ID,
		SchemaVersion:    target.SchemaVersion,
		CoreVersion:      target.CoreVersion,
		UpdatedAt:        time.Now().UTC(),
	}); err != nil {
		return RollbackResult{}, platformerrors.Internal("repoint active revision", err)
	}

	s.appendAudit(ctx, revision.AuditEntry{
		Action:     "rollback",
		RevisionID: target.ID,
		Result:     "success",
		Details: map[string]interface{}{
			"schema_version": map[string]interface{}{
				"previous_active": map[string]interface{}{
					"from": previous.SchemaVersion,
					"to":   target.SchemaVersion,
				},
			},
			"previous_revision_id": previous.ActiveRevisionID,
			"warnings":             warnings,
		},
	})

	s.log.WithFields(map[string]interface{}{
		"revision_id":          target.ID,
		"previous_revision_id": previous.ActiveRevisionID,
	}).Info("rolled back active revision")

	return RollbackResult{RevisionID: target.ID, Warnings: warnings}, nil
}

// ListAudit returns audit entries newest-first with parsed details.
func (s *Service) ListAudit(ctx context.Context, limit int) ([]revision.AuditEntry, error) {
	entries, err := s.audit.ListAudit(ctx, limit)
	if err != nil {
		return nil, platformerrors.Internal("list audit", err)
	}
	return entries, nil
}

// ActiveRevision resolves the currently active revision.
func (s *Service) ActiveRevision(ctx context.Context) (revision.Revision, error) {
	ptr, err := s.pointer.GetActivePointer(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return revision.Revision{}, platformerrors.NotFound("no active revision")
		}
		return revision.Revision{}, platformerrors.Internal("load active pointer", err)
	}
	rev, err := s.revisions.GetRevision(ctx, ptr.ActiveRevisionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return revision.Revision{}, platformerrors.NotFound(fmt.Sprintf("active revision %s missing", ptr.ActiveRevisionID))
		}
		return revision.Revision{}, platformerrors.Internal("load active revision", err)
	}
	return rev, nil
}

// appendAudit writes an audit entry. Failures are logged, not
// propagated, so lifecycle outcomes are not rolled back by a trail
// write error.
func (s *Service) appendAudit(ctx context.Context, entry revision.AuditEntry) {
	if _, err := s.audit.AppendAudit(ctx, entry); err != nil {
		s.log.WithError(err).WithField("action", entry.Action).Warn("append audit entry")
	}
}

// Package revision defines the revision lifecycle records: immutable
// revisions, the single active pointer, and append-only audit entries.
package revision

import (
	"encoding/json"
	"time"

	"github.com/tessera-social/app_platform/internal/platform/manifest"
)

// Revision is an immutable, versioned manifest+script bundle. Once
// persisted it is never updated or deleted.
type Revision struct {
	ID                  string          `json:"id"`
	SchemaVersion       string          `json:"schema_version"`
	CoreVersion         string          `json:"core_version"`
	ManifestSnapshot    json.RawMessage `json:"manifest_snapshot,omitempty"`
	ManifestSnapshotRef string          `json:"manifest_snapshot_ref,omitempty"`
	ScriptSnapshotRef   string          `json:"script_snapshot_ref"`
	WorkspaceID         string          `json:"workspace_id,omitempty"`
	Message             string          `json:"message,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
}

// ActivePointer is the single mutable reference to the live revision.
type ActivePointer struct {
	ActiveRevisionID string    `json:"active_revision_id"`
	SchemaVersion    string    `json:"schema_version"`
	CoreVersion      string    `json:"core_version"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// AuditEntry records one lifecycle action. Entries are append-only; no
// update or delete path exists.
type AuditEntry struct {
	ID          string                 `json:"id"`
	Action      string                 `json:"action"`
	RevisionID  string                 `json:"revision_id"`
	WorkspaceID string                 `json:"workspace_id,omitempty"`
	Result      string                 `json:"result"`
	Details     map[string]interface{} `json:"details,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
}

// Workspace is the externally authored staging area a revision is
// promoted from. The platform only reads it.
type Workspace struct {
	ID             string           `json:"id"`
	Status         string           `json:"status"`
	Manifest       json.RawMessage  `json:"manifest"`
	ScriptRef      string           `json:"script_ref"`
	BlockingIssues []manifest.Issue `json:"blocking_issues,omitempty"`
}

// StatusValidated is the only workspace status eligible for apply.
const StatusValidated = "validated"

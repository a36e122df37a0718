// Package postgres implements the storage interfaces backed by
// PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/tessera-social/app_platform/internal/app/domain/appdata"
	"github.com/tessera-social/app_platform/internal/app/domain/revision"
	"github.com/tessera-social/app_platform/internal/app/storage"
)

// Store implements the storage interfaces over a database handle.
type Store struct {
	db *sql.DB
}

var _ storage.RevisionStore = (*Store)(nil)
var _ storage.PointerStore = (*Store)(nil)
var _ storage.AuditStore = (*Store)(nil)
var _ storage.DocumentStore = (*Store)(nil)
var _ storage.BlobStore = (*Store)(nil)
var _ storage.UsageStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// --- RevisionStore -----------------------------------------------------------

func (s *Store) CreateRevision(ctx context.Context, rev revision.Revision) (revision.Revision, error) {
	if rev.ID == "" {
		rev.ID = uuid.NewString()
	}
	if rev.CreatedAt.IsZero() {
		rev.CreatedAt = time.Now().UTC()
	}

	var snapshot interface{}
	if len(rev.ManifestSnapshot) > 0 {
		snapshot = []byte(rev.ManifestSnapshot)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_revisions (id, schema_version, core_version, manifest_snapshot, manifest_snapshot_ref, script_snapshot_ref, workspace_id, message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, rev.ID, rev.SchemaVersion, rev.CoreVersion, snapshot, nullable(rev.ManifestSnapshotRef), rev.ScriptSnapshotRef, nullable(rev.WorkspaceID), nullable(rev.Message), rev.CreatedAt)
	if err != nil {
		return revision.Revision{}, err
	}
	return rev, nil
}

func (s *Store) GetRevision(ctx context.Context, id string) (revision.Revision, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, schema_version, core_version, manifest_snapshot, manifest_snapshot_ref, script_snapshot_ref, workspace_id, message, created_at
		FROM app_revisions WHERE id = $1
	`, id)
	return scanRevision(row)
}

func (s *Store) ListRevisions(ctx context.Context, limit int) ([]revision.Revision, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, schema_version, core_version, manifest_snapshot, manifest_snapshot_ref, script_snapshot_ref, workspace_id, message, created_at
		FROM app_revisions ORDER BY created_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []revision.Revision
	for rows.Next() {
		rev, err := scanRevision(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rev)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRevision(row rowScanner) (revision.Revision, error) {
	var rev revision.Revision
	var snapshot []byte
	var snapshotRef, workspaceID, message sql.NullString

	err := row.Scan(&rev.ID, &rev.SchemaVersion, &rev.CoreVersion, &snapshot, &snapshotRef, &rev.ScriptSnapshotRef, &workspaceID, &message, &rev.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return revision.Revision{}, storage.ErrNotFound
	}
	if err != nil {
		return revision.Revision{}, err
	}
	rev.ManifestSnapshot = json.RawMessage(snapshot)
	rev.ManifestSnapshotRef = snapshotRef.String
	rev.WorkspaceID = workspaceID.String
	rev.Message = message.String
	return rev, nil
}

// --- PointerStore ------------------------------------------------------------

func (s *Store) GetActivePointer(ctx context.Context) (revision.ActivePointer, error) {
	var ptr revision.ActivePointer
	err := s.db.QueryRowContext(ctx, `
		SELECT active_revision_id, schema_version, core_version, updated_at
		FROM app_active_pointer WHERE singleton
	`).Scan(&ptr.ActiveRevisionID, &ptr.SchemaVersion, &ptr.CoreVersion, &ptr.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return revision.ActivePointer{}, storage.ErrNotFound
	}
	if err != nil {
		return revision.ActivePointer{}, err
	}
	return ptr, nil
}

func (s *Store) SetActivePointer(ctx context.Context, ptr revision.ActivePointer) error {
	if ptr.UpdatedAt.IsZero() {
		ptr.UpdatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_active_pointer (singleton, active_revision_id, schema_version, core_version, updated_at)
		VALUES (TRUE, $1, $2, $3, $4)
		ON CONFLICT (singleton) DO UPDATE
		SET active_revision_id = $1, schema_version = $2, core_version = $3, updated_at = $4
	`, ptr.ActiveRevisionID, ptr.SchemaVersion, ptr.CoreVersion, ptr.UpdatedAt)
	return err
}

// --- AuditStore --------------------------------------------------------------

func (s *Store) AppendAudit(ctx context.Context, entry revision.AuditEntry) (revision.AuditEntry, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	var details []byte
	if entry.Details != nil {
		var err error
		details, err = json.Marshal(entry.Details)
		if err != nil {
			return revision.AuditEntry{}, err
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_audit_log (id, action, revision_id, workspace_id, result, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, entry.ID, entry.Action, nullable(entry.RevisionID), nullable(entry.WorkspaceID), entry.Result, details, entry.CreatedAt)
	if err != nil {
		return revision.AuditEntry{}, err
	}
	return entry, nil
}

func (s *Store) ListAudit(ctx context.Context, limit int) ([]revision.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, action, revision_id, workspace_id, result, details, created_at
		FROM app_audit_log ORDER BY created_at DESC, id DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []revision.AuditEntry
	for rows.Next() {
		var entry revision.AuditEntry
		var revisionID, workspaceID sql.NullString
		var details []byte
		if err := rows.Scan(&entry.ID, &entry.Action, &revisionID, &workspaceID, &entry.Result, &details, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.RevisionID = revisionID.String
		entry.WorkspaceID = workspaceID.String
		if len(details) > 0 {
			if err := json.Unmarshal(details, &entry.Details); err != nil {
				return nil, err
			}
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// --- DocumentStore -----------------------------------------------------------

func (s *Store) PutDocument(ctx context.Context, doc appdata.Document) (appdata.Document, error) {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	doc.UpdatedAt = now

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO app_documents (collection, workspace_id, id, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (collection, workspace_id, id) DO UPDATE
		SET data = $4, updated_at = $5
		RETURNING created_at
	`, doc.Collection, doc.WorkspaceID, doc.ID, []byte(doc.Data), now).Scan(&doc.CreatedAt)
	if err != nil {
		return appdata.Document{}, err
	}
	return doc, nil
}

func (s *Store) GetDocument(ctx context.Context, collection, workspaceID, id string) (appdata.Document, error) {
	var doc appdata.Document
	var data []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT collection, workspace_id, id, data, created_at, updated_at
		FROM app_documents WHERE collection = $1 AND workspace_id = $2 AND id = $3
	`, collection, workspaceID, id).Scan(&doc.Collection, &doc.WorkspaceID, &doc.ID, &data, &doc.CreatedAt, &doc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return appdata.Document{}, storage.ErrNotFound
	}
	if err != nil {
		return appdata.Document{}, err
	}
	doc.Data = json.RawMessage(data)
	return doc, nil
}

func (s *Store) ListDocuments(ctx context.Context, collection, workspaceID string, limit int) ([]appdata.Document, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT collection, workspace_id, id, data, created_at, updated_at
		FROM app_documents WHERE collection = $1 AND workspace_id = $2
		ORDER BY created_at ASC LIMIT $3
	`, collection, workspaceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []appdata.Document
	for rows.Next() {
		var doc appdata.Document
		var data []byte
		if err := rows.Scan(&doc.Collection, &doc.WorkspaceID, &doc.ID, &data, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, err
		}
		doc.Data = json.RawMessage(data)
		out = append(out, doc)
	}
	return out, rows.Err()
}

func (s *Store) DeleteDocument(ctx context.Context, collection, workspaceID, id string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM app_documents WHERE collection = $1 AND workspace_id = $2 AND id = $3
	`, collection, workspaceID, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// --- BlobStore ---------------------------------------------------------------

func (s *Store) PutObject(ctx context.Context, obj appdata.Object) (appdata.Object, error) {
	now := time.Now().UTC()
	obj.UpdatedAt = now

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO app_objects (bucket, workspace_id, key, content_type, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (bucket, workspace_id, key) DO UPDATE
		SET content_type = $4, data = $5, updated_at = $6
		RETURNING created_at
	`, obj.Bucket, obj.WorkspaceID, obj.Key, nullable(obj.ContentType), obj.Data, now).Scan(&obj.CreatedAt)
	if err != nil {
		return appdata.Object{}, err
	}
	return obj, nil
}

func (s *Store) GetObject(ctx context.Context, bucket, workspaceID, key string) (appdata.Object, error) {
	var obj appdata.Object
	var contentType sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT bucket, workspace_id, key, content_type, data, created_at, updated_at
		FROM app_objects WHERE bucket = $1 AND workspace_id = $2 AND key = $3
	`, bucket, workspaceID, key).Scan(&obj.Bucket, &obj.WorkspaceID, &obj.Key, &contentType, &obj.Data, &obj.CreatedAt, &obj.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return appdata.Object{}, storage.ErrNotFound
	}
	if err != nil {
		return appdata.Object{}, err
	}
	obj.ContentType = contentType.String
	return obj, nil
}

func (s *Store) ListObjects(ctx context.Context, bucket, workspaceID string, limit int) ([]appdata.Object, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT bucket, workspace_id, key, content_type, data, created_at, updated_at
		FROM app_objects WHERE bucket = $1 AND workspace_id = $2
		ORDER BY key ASC LIMIT $3
	`, bucket, workspaceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []appdata.Object
	for rows.Next() {
		var obj appdata.Object
		var contentType sql.NullString
		if err := rows.Scan(&obj.Bucket, &obj.WorkspaceID, &obj.Key, &contentType, &obj.Data, &obj.CreatedAt, &obj.UpdatedAt); err != nil {
			return nil, err
		}
		obj.ContentType = contentType.String
		out = append(out, obj)
	}
	return out, rows.Err()
}

func (s *Store) DeleteObject(ctx context.Context, bucket, workspaceID, key string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM app_objects WHERE bucket = $1 AND workspace_id = $2 AND key = $3
	`, bucket, workspaceID, key)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// --- UsageStore --------------------------------------------------------------

func (s *Store) IncrementUsage(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	var expires interface{}
	if ttl > 0 {
		expires = time.Now().UTC().Add(ttl)
	}
	var value int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO app_usage_counters (key, value, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE
		SET value = app_usage_counters.value + $2
		RETURNING value
	`, key, delta, expires).Scan(&value)
	if err != nil {
		return 0, err
	}
	return value, nil
}

func (s *Store) GetUsage(ctx context.Context, key string) (int64, error) {
	var value int64
	err := s.db.QueryRowContext(ctx, `
		SELECT value FROM app_usage_counters
		WHERE key = $1 AND (expires_at IS NULL OR expires_at > NOW())
	`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return value, nil
}

func (s *Store) PruneUsage(ctx context.Context, olderThan time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM app_usage_counters WHERE expires_at IS NOT NULL AND expires_at < $1
	`, olderThan)
	return err
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// Package storage declares the persistence interfaces of the app
// platform. Implementations live in the memory, postgres and redis
// subpackages.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/tessera-social/app_platform/internal/app/domain/appdata"
	"github.com/tessera-social/app_platform/internal/app/domain/revision"
)

// ErrNotFound is returned for any missing record.
var ErrNotFound = errors.New("not found")

// RevisionStore persists immutable revisions. There is deliberately no
// update or delete: superseded revisions stay queryable forever.
type RevisionStore interface {
	CreateRevision(ctx context.Context, rev revision.Revision) (revision.Revision, error)
	GetRevision(ctx context.Context, id string) (revision.Revision, error)
	ListRevisions(ctx context.Context, limit int) ([]revision.Revision, error)
}

// PointerStore holds the single active revision pointer.
type PointerStore interface {
	GetActivePointer(ctx context.Context) (revision.ActivePointer, error)
	SetActivePointer(ctx context.Context, ptr revision.ActivePointer) error
}

// AuditStore is the append-only audit trail.
type AuditStore interface {
	AppendAudit(ctx context.Context, entry revision.AuditEntry) (revision.AuditEntry, error)
	ListAudit(ctx context.Context, limit int) ([]revision.AuditEntry, error)
}

// DocumentStore persists app collection documents (the db RPC kind).
type DocumentStore interface {
	PutDocument(ctx context.Context, doc appdata.Document) (appdata.Document, error)
	GetDocument(ctx context.Context, collection, workspaceID, id string) (appdata.Document, error)
	ListDocuments(ctx context.Context, collection, workspaceID string, limit int) ([]appdata.Document, error)
	DeleteDocument(ctx context.Context, collection, workspaceID, id string) error
}

// BlobStore persists app bucket objects (the storage RPC kind).
type BlobStore interface {
	PutObject(ctx context.Context, obj appdata.Object) (appdata.Object, error)
	GetObject(ctx context.Context, bucket, workspaceID, key string) (appdata.Object, error)
	ListObjects(ctx context.Context, bucket, workspaceID string, limit int) ([]appdata.Object, error)
	DeleteObject(ctx context.Context, bucket, workspaceID, key string) error
}

// UsageStore keeps durable usage counters keyed by dimension and UTC
// time bucket. IncrementUsage returns the counter value after the
// increment so callers can enforce limits atomically.
type UsageStore interface {
	IncrementUsage(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error)
	GetUsage(ctx context.Context, key string) (int64, error)
	PruneUsage(ctx context.Context, olderThan time.Time) error
}

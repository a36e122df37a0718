// Package memory provides an in-memory implementation of the storage
// interfaces. It is safe for concurrent use and primarily intended for
// tests and local development.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tessera-social/app_platform/internal/app/domain/appdata"
	"github.com/tessera-social/app_platform/internal/app/domain/revision"
	"github.com/tessera-social/app_platform/internal/app/storage"
)

// Store is the in-memory store.
type Store struct {
	mu            sync.RWMutex
	revisions     map[string]revision.Revision
	revisionOrder []string
	pointer       *revision.ActivePointer
	audit         []revision.AuditEntry
	documents     map[string]appdata.Document
	objects       map[string]appdata.Object
	usage         map[string]usageEntry
}

type usageEntry struct {
	value    int64
	expireAt time.Time
}

var _ storage.RevisionStore = (*Store)(nil)
var _ storage.PointerStore = (*Store)(nil)
var _ storage.AuditStore = (*Store)(nil)
var _ storage.DocumentStore = (*Store)(nil)
var _ storage.BlobStore = (*Store)(nil)
var _ storage.UsageStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		revisions: make(map[string]revision.Revision),
		documents: make(map[string]appdata.Document),
		objects:   make(map[string]appdata.Object),
		usage:     make(map[string]usageEntry),
	}
}

// RevisionStore implementation ------------------------------------------------

func (s *Store) CreateRevision(_ context.Context, rev revision.Revision) (revision.Revision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rev.ID == "" {
		rev.ID = uuid.NewString()
	} else if _, exists := s.revisions[rev.ID]; exists {
		return revision.Revision{}, fmt.Errorf("revision %s already exists", rev.ID)
	}
	if rev.CreatedAt.IsZero() {
		rev.CreatedAt = time.Now().UTC()
	}
	rev.ManifestSnapshot = cloneRaw(rev.ManifestSnapshot)

	s.revisions[rev.ID] = rev
	s.revisionOrder = append(s.revisionOrder, rev.ID)
	return rev, nil
}

func (s *Store) GetRevision(_ context.Context, id string) (revision.Revision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rev, ok := s.revisions[id]
	if !ok {
		return revision.Revision{}, storage.ErrNotFound
	}
	rev.ManifestSnapshot = cloneRaw(rev.ManifestSnapshot)
	return rev, nil
}

func (s *Store) ListRevisions(_ context.Context, limit int) ([]revision.Revision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]revision.Revision, 0, len(s.revisionOrder))
	for i := len(s.revisionOrder) - 1; i >= 0; i-- {
		rev := s.revisions[s.revisionOrder[i]]
		rev.ManifestSnapshot = cloneRaw(rev.ManifestSnapshot)
		out = append(out, rev)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// PointerStore implementation -------------------------------------------------

func (s *Store) GetActivePointer(_ context.Context) (revision.ActivePointer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.pointer == nil {
		return revision.ActivePointer{}, storage.ErrNotFound
	}
	return *s.pointer, nil
}

func (s *Store) SetActivePointer(_ context.Context, ptr revision.ActivePointer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ptr.UpdatedAt.IsZero() {
		ptr.UpdatedAt = time.Now().UTC()
	}
	s.pointer = &ptr
	return nil
}

// AuditStore implementation ---------------------------------------------------

func (s *Store) AppendAudit(_ context.Context, entry revision.AuditEntry) (revision.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	entry.Details = cloneDetails(entry.Details)
	s.audit = append(s.audit, entry)
	return entry, nil
}

func (s *Store) ListAudit(_ context.Context, limit int) ([]revision.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]revision.AuditEntry, 0, len(s.audit))
	for i := len(s.audit) - 1; i >= 0; i-- {
		entry := s.audit[i]
		entry.Details = cloneDetails(entry.Details)
		out = append(out, entry)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// DocumentStore implementation ------------------------------------------------

func docKey(collection, workspaceID, id string) string {
	return collection + "\x00" + workspaceID + "\x00" + id
}

func (s *Store) PutDocument(_ context.Context, doc appdata.Document) (appdata.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	key := docKey(doc.Collection, doc.WorkspaceID, doc.ID)
	if existing, ok := s.documents[key]; ok {
		doc.CreatedAt = existing.CreatedAt
	} else {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now
	doc.Data = cloneRaw(doc.Data)

	s.documents[key] = doc
	return doc, nil
}

func (s *Store) GetDocument(_ context.Context, collection, workspaceID, id string) (appdata.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.documents[docKey(collection, workspaceID, id)]
	if !ok {
		return appdata.Document{}, storage.ErrNotFound
	}
	doc.Data = cloneRaw(doc.Data)
	return doc, nil
}

func (s *Store) ListDocuments(_ context.Context, collection, workspaceID string, limit int) ([]appdata.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]appdata.Document, 0)
	for _, doc := range s.documents {
		if doc.Collection == collection && doc.WorkspaceID == workspaceID {
			doc.Data = cloneRaw(doc.Data)
			out = append(out, doc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) DeleteDocument(_ context.Context, collection, workspaceID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := docKey(collection, workspaceID, id)
	if _, ok := s.documents[key]; !ok {
		return storage.ErrNotFound
	}
	delete(s.documents, key)
	return nil
}

// BlobStore implementation ----------------------------------------------------

func objKey(bucket, workspaceID, key string) string {
	return bucket + "\x00" + workspaceID + "\x00" + key
}

func (s *Store) PutObject(_ context.Context, obj appdata.Object) (appdata.Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if obj.Key == "" {
		return appdata.Object{}, fmt.Errorf("object key is required")
	}
	now := time.Now().UTC()
	key := objKey(obj.Bucket, obj.WorkspaceID, obj.Key)
	if existing, ok := s.objects[key]; ok {
		obj.CreatedAt = existing.CreatedAt
	} else {
		obj.CreatedAt = now
	}
	obj.UpdatedAt = now
	obj.Data = cloneBytes(obj.Data)

	s.objects[key] = obj
	return obj, nil
}

func (s *Store) GetObject(_ context.Context, bucket, workspaceID, key string) (appdata.Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, ok := s.objects[objKey(bucket, workspaceID, key)]
	if !ok {
		return appdata.Object{}, storage.ErrNotFound
	}
	obj.Data = cloneBytes(obj.Data)
	return obj, nil
}

func (s *Store) ListObjects(_ context.Context, bucket, workspaceID string, limit int) ([]appdata.Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]appdata.Object, 0)
	for _, obj := range s.objects {
		if obj.Bucket == bucket && obj.WorkspaceID == workspaceID {
			obj.Data = cloneBytes(obj.Data)
			out = append(out, obj)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) DeleteObject(_ context.Context, bucket, workspaceID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := objKey(bucket, workspaceID, key)
	if _, ok := s.objects[k]; !ok {
		return storage.ErrNotFound
	}
	delete(s.objects, k)
	return nil
}

// UsageStore implementation ---------------------------------------------------

func (s *Store) IncrementUsage(_ context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	entry, ok := s.usage[key]
	if !ok || (!entry.expireAt.IsZero() && now.After(entry.expireAt)) {
		entry = usageEntry{}
		if ttl > 0 {
			entry.expireAt = now.Add(ttl)
		}
	}
	entry.value += delta
	s.usage[key] = entry
	return entry.value, nil
}

func (s *Store) GetUsage(_ context.Context, key string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.usage[key]
	if !ok || (!entry.expireAt.IsZero() && time.Now().After(entry.expireAt)) {
		return 0, nil
	}
	return entry.value, nil
}

func (s *Store) PruneUsage(_ context.Context, olderThan time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, entry := range s.usage {
		if !entry.expireAt.IsZero() && entry.expireAt.Before(olderThan) {
			delete(s.usage, key)
		}
	}
	return nil
}

// helpers ---------------------------------------------------------------------

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	out := make(json.RawMessage, len(raw))
	copy(out, raw)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func cloneDetails(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

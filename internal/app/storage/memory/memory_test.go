package memory

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/tessera-social/app_platform/internal/app/domain/appdata"
	"github.com/tessera-social/app_platform/internal/app/domain/revision"
	"github.com/tessera-social/app_platform/internal/app/storage"
)

func TestRevisionLifecycle(t *testing.T) {
	store := New()
	ctx := context.Background()

	first, err := store.CreateRevision(ctx, revision.Revision{
		SchemaVersion: "1.0.0", CoreVersion: "1.0.0",
		ManifestSnapshot:  json.RawMessage(`{"schemaVersion":"1.0.0"}`),
		ScriptSnapshotRef: "store:a.js",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if first.ID == "" || first.CreatedAt.IsZero() {
		t.Fatalf("missing stamps: %+v", first)
	}

	second, _ := store.CreateRevision(ctx, revision.Revision{
		SchemaVersion: "1.0.0", CoreVersion: "1.0.0", ScriptSnapshotRef: "store:b.js",
	})

	got, err := store.GetRevision(ctx, first.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	// Mutating the returned snapshot must not touch the stored copy.
	got.ManifestSnapshot[0] = 'X'
	again, _ := store.GetRevision(ctx, first.ID)
	if again.ManifestSnapshot[0] == 'X' {
		t.Fatal("stored snapshot must be isolated from callers")
	}

	list, err := store.ListRevisions(ctx, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].ID != second.ID {
		t.Fatalf("list should be newest-first: %v", list)
	}

	if _, err := store.CreateRevision(ctx, revision.Revision{ID: first.ID}); err == nil {
		t.Fatal("duplicate id must fail")
	}
	if _, err := store.GetRevision(ctx, "missing"); err != storage.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestActivePointer(t *testing.T) {
	store := New()
	ctx := context.Background()

	if _, err := store.GetActivePointer(ctx); err != storage.ErrNotFound {
		t.Fatalf("empty pointer: %v", err)
	}

	if err := store.SetActivePointer(ctx, revision.ActivePointer{ActiveRevisionID: "r1", SchemaVersion: "1.0.0"}); err != nil {
		t.Fatal(err)
	}
	ptr, err := store.GetActivePointer(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if ptr.ActiveRevisionID != "r1" || ptr.UpdatedAt.IsZero() {
		t.Fatalf("pointer = %+v", ptr)
	}

	if err := store.SetActivePointer(ctx, revision.ActivePointer{ActiveRevisionID: "r2"}); err != nil {
		t.Fatal(err)
	}
	ptr, _ = store.GetActivePointer(ctx)
	if ptr.ActiveRevisionID != "r2" {
		t.Fatal("pointer should repoint, not accumulate")
	}
}

func TestAuditIsAppendOnlyNewestFirst(t *testing.T) {
	store := New()
	ctx := context.Background()

	for _, action := range []string{"apply", "rollback", "apply"} {
		if _, err := store.AppendAudit(ctx, revision.AuditEntry{Action: action, Result: "success"}); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := store.ListAudit(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("limit ignored: %d entries", len(entries))
	}
	if entries[0].Action != "apply" || entries[1].Action != "rollback" {
		t.Fatalf("order = %v", entries)
	}
	if entries[0].ID == "" {
		t.Fatal("entries should get ids")
	}
}

func TestDocumentsScopedByWorkspace(t *testing.T) {
	store := New()
	ctx := context.Background()

	if _, err := store.PutDocument(ctx, appdata.Document{
		Collection: "app:notes", ID: "n1", Data: json.RawMessage(`{"v":1}`),
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := store.PutDocument(ctx, appdata.Document{
		Collection: "app:notes", ID: "n1", WorkspaceID: "ws1", Data: json.RawMessage(`{"v":2}`),
	}); err != nil {
		t.Fatal(err)
	}

	live, err := store.GetDocument(ctx, "app:notes", "", "n1")
	if err != nil {
		t.Fatal(err)
	}
	if string(live.Data) != `{"v":1}` {
		t.Fatalf("live data = %s", live.Data)
	}

	draft, err := store.GetDocument(ctx, "app:notes", "ws1", "n1")
	if err != nil {
		t.Fatal(err)
	}
	if string(draft.Data) != `{"v":2}` {
		t.Fatalf("draft data = %s", draft.Data)
	}

	docs, _ := store.ListDocuments(ctx, "app:notes", "", 0)
	if len(docs) != 1 {
		t.Fatalf("workspace scoping leaked: %d docs", len(docs))
	}

	if err := store.DeleteDocument(ctx, "app:notes", "", "n1"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.GetDocument(ctx, "app:notes", "", "n1"); err != storage.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPutDocumentKeepsCreatedAt(t *testing.T) {
	store := New()
	ctx := context.Background()

	first, _ := store.PutDocument(ctx, appdata.Document{Collection: "app:notes", ID: "n1", Data: json.RawMessage(`1`)})
	second, _ := store.PutDocument(ctx, appdata.Document{Collection: "app:notes", ID: "n1", Data: json.RawMessage(`2`)})
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Fatal("update must preserve created_at")
	}
}

func TestObjects(t *testing.T) {
	store := New()
	ctx := context.Background()

	if _, err := store.PutObject(ctx, appdata.Object{Bucket: "app:media", Key: "a.png", Data: []byte{1, 2}}); err != nil {
		t.Fatal(err)
	}
	if _, err := store.PutObject(ctx, appdata.Object{Bucket: "app:media", Data: []byte{1}}); err == nil {
		t.Fatal("missing key must fail")
	}

	obj, err := store.GetObject(ctx, "app:media", "", "a.png")
	if err != nil {
		t.Fatal(err)
	}
	obj.Data[0] = 9
	again, _ := store.GetObject(ctx, "app:media", "", "a.png")
	if again.Data[0] == 9 {
		t.Fatal("stored blob must be isolated from callers")
	}

	if err := store.DeleteObject(ctx, "app:media", "", "a.png"); err != nil {
		t.Fatal(err)
	}
	if err := store.DeleteObject(ctx, "app:media", "", "a.png"); err != storage.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUsageCountersExpire(t *testing.T) {
	store := New()
	ctx := context.Background()

	v, err := store.IncrementUsage(ctx, "k", 2, 50*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if v != 2 {
		t.Fatalf("v = %d", v)
	}
	if v, _ = store.IncrementUsage(ctx, "k", 3, 50*time.Millisecond); v != 5 {
		t.Fatalf("v = %d", v)
	}

	time.Sleep(60 * time.Millisecond)
	if got, _ := store.GetUsage(ctx, "k"); got != 0 {
		t.Fatalf("expired counter should read zero, got %d", got)
	}
	// A new increment restarts the bucket.
	if v, _ = store.IncrementUsage(ctx, "k", 1, time.Minute); v != 1 {
		t.Fatalf("restarted bucket = %d", v)
	}

	if err := store.PruneUsage(ctx, time.Now().Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	if got, _ := store.GetUsage(ctx, "k"); got != 0 {
		t.Fatal("pruned counter should be gone")
	}
}

package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/tessera-social/app_platform/internal/app/domain/appdata"
	"github.com/tessera-social/app_platform/internal/app/domain/revision"
	"github.com/tessera-social/app_platform/internal/app/storage"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	return New(db), mock, func() { db.Close() }
}

func TestCreateRevisionStampsIDAndTime(t *testing.T) {
	store, mock, done := newMockStore(t)
	defer done()

	mock.ExpectExec("INSERT INTO app_revisions").
		WillReturnResult(sqlmock.NewResult(0, 1))

	rev, err := store.CreateRevision(context.Background(), revision.Revision{
		SchemaVersion:     "1.0.0",
		CoreVersion:       "1.0.0",
		ManifestSnapshot:  json.RawMessage(`{"schemaVersion":"1.0.0"}`),
		ScriptSnapshotRef: "store:main.js",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if rev.ID == "" || rev.CreatedAt.IsZero() {
		t.Fatalf("missing stamps: %+v", rev)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestGetRevisionNotFound(t *testing.T) {
	store, mock, done := newMockStore(t)
	defer done()

	mock.ExpectQuery("SELECT .+ FROM app_revisions WHERE id").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "schema_version", "core_version", "manifest_snapshot",
			"manifest_snapshot_ref", "script_snapshot_ref", "workspace_id", "message", "created_at",
		}))

	_, err := store.GetRevision(context.Background(), "missing")
	if err != storage.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetRevisionScansNullables(t *testing.T) {
	store, mock, done := newMockStore(t)
	defer done()

	now := time.Now().UTC()
	mock.ExpectQuery("SELECT .+ FROM app_revisions WHERE id").
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "schema_version", "core_version", "manifest_snapshot",
			"manifest_snapshot_ref", "script_snapshot_ref", "workspace_id", "message", "created_at",
		}).AddRow("r1", "1.0.0", "1.0.0", []byte(`{}`), nil, "store:main.js", nil, nil, now))

	rev, err := store.GetRevision(context.Background(), "r1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rev.WorkspaceID != "" || rev.Message != "" {
		t.Fatalf("nullables not defaulted: %+v", rev)
	}
	if string(rev.ManifestSnapshot) != `{}` {
		t.Fatalf("snapshot = %s", rev.ManifestSnapshot)
	}
}

func TestSetActivePointerUpserts(t *testing.T) {
	store, mock, done := newMockStore(t)
	defer done()

	mock.ExpectExec("INSERT INTO app_active_pointer").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.SetActivePointer(context.Background(), revision.ActivePointer{
		ActiveRevisionID: "r1", SchemaVersion: "1.0.0", CoreVersion: "1.0.0",
	})
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestGetActivePointerNotFound(t *testing.T) {
	store, mock, done := newMockStore(t)
	defer done()

	mock.ExpectQuery("SELECT .+ FROM app_active_pointer").
		WillReturnRows(sqlmock.NewRows([]string{"active_revision_id", "schema_version", "core_version", "updated_at"}))

	_, err := store.GetActivePointer(context.Background())
	if err != storage.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAppendAuditEncodesDetails(t *testing.T) {
	store, mock, done := newMockStore(t)
	defer done()

	mock.ExpectExec("INSERT INTO app_audit_log").
		WillReturnResult(sqlmock.NewResult(0, 1))

	entry, err := store.AppendAudit(context.Background(), revision.AuditEntry{
		Action: "rollback", RevisionID: "r1", Result: "success",
		Details: map[string]interface{}{"previous_revision_id": "r2"},
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if entry.ID == "" {
		t.Fatal("id not stamped")
	}
}

func TestListAuditDecodesDetails(t *testing.T) {
	store, mock, done := newMockStore(t)
	defer done()

	now := time.Now().UTC()
	mock.ExpectQuery("SELECT .+ FROM app_audit_log").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "action", "revision_id", "workspace_id", "result", "details", "created_at",
		}).AddRow("a1", "apply", "r1", nil, "success", []byte(`{"message":"x"}`), now))

	entries, err := store.ListAudit(context.Background(), 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 || entries[0].Details["message"] != "x" {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestPutDocumentReturnsCreatedAt(t *testing.T) {
	store, mock, done := newMockStore(t)
	defer done()

	created := time.Now().UTC().Add(-time.Hour)
	mock.ExpectQuery("INSERT INTO app_documents").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(created))

	doc, err := store.PutDocument(context.Background(), appdata.Document{
		Collection: "app:notes", ID: "n1", Data: json.RawMessage(`{"v":1}`),
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if !doc.CreatedAt.Equal(created) {
		t.Fatalf("created_at = %v", doc.CreatedAt)
	}
	if doc.UpdatedAt.IsZero() {
		t.Fatal("updated_at not stamped")
	}
}

func TestDeleteDocumentNotFound(t *testing.T) {
	store, mock, done := newMockStore(t)
	defer done()

	mock.ExpectExec("DELETE FROM app_documents").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.DeleteDocument(context.Background(), "app:notes", "", "missing")
	if err != storage.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestIncrementUsageReturnsNewValue(t *testing.T) {
	store, mock, done := newMockStore(t)
	defer done()

	mock.ExpectQuery("INSERT INTO app_usage_counters").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow(int64(4)))

	value, err := store.IncrementUsage(context.Background(), "k", 1, time.Minute)
	if err != nil {
		t.Fatalf("increment: %v", err)
	}
	if value != 4 {
		t.Fatalf("value = %d", value)
	}
}

func TestGetUsageMissingKeyIsZero(t *testing.T) {
	store, mock, done := newMockStore(t)
	defer done()

	mock.ExpectQuery("SELECT value FROM app_usage_counters").
		WillReturnRows(sqlmock.NewRows([]string{"value"}))

	value, err := store.GetUsage(context.Background(), "k")
	if err != nil || value != 0 {
		t.Fatalf("value = %d err = %v", value, err)
	}
}

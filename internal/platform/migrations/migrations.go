// Package migrations applies the PostgreSQL schema for the app
// platform. Statements are idempotent so Apply can run at every boot.
package migrations

import (
	"context"
	"database/sql"
	"fmt"
)

var statements = []string{
	`CREATE TABLE IF NOT EXISTS app_revisions (
		id TEXT PRIMARY KEY,
		schema_version TEXT NOT NULL,
		core_version TEXT NOT NULL,
		manifest_snapshot JSONB,
		manifest_snapshot_ref TEXT,
		script_snapshot_ref TEXT NOT NULL,
		workspace_id TEXT,
		message TEXT,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS app_active_pointer (
		singleton BOOLEAN PRIMARY KEY DEFAULT TRUE CHECK (singleton),
		active_revision_id TEXT NOT NULL REFERENCES app_revisions(id),
		schema_version TEXT NOT NULL,
		core_version TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS app_audit_log (
		id TEXT PRIMARY KEY,
		action TEXT NOT NULL,
		revision_id TEXT,
		workspace_id TEXT,
		result TEXT NOT NULL,
		details JSONB,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS app_documents (
		collection TEXT NOT NULL,
		workspace_id TEXT NOT NULL DEFAULT '',
		id TEXT NOT NULL,
		data JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (collection, workspace_id, id)
	)`,
	`CREATE TABLE IF NOT EXISTS app_objects (
		bucket TEXT NOT NULL,
		workspace_id TEXT NOT NULL DEFAULT '',
		key TEXT NOT NULL,
		content_type TEXT,
		data BYTEA NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (bucket, workspace_id, key)
	)`,
	`CREATE TABLE IF NOT EXISTS app_usage_counters (
		key TEXT PRIMARY KEY,
		value BIGINT NOT NULL DEFAULT 0,
		expires_at TIMESTAMPTZ
	)`,
}

// Apply executes all schema statements in order.
func Apply(ctx context.Context, db *sql.DB) error {
	for i, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}
	return nil
}

// Package appdata defines the namespaced records behind the db and
// storage RPC kinds: app-owned documents and blobs.
package appdata

import (
	"encoding/json"
	"time"
)

// Document is one record in an app collection.
type Document struct {
	Collection  string          `json:"collection"`
	ID          string          `json:"id"`
	WorkspaceID string          `json:"workspace_id,omitempty"`
	Data        json.RawMessage `json:"data"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Object is one blob in an app bucket.
type Object struct {
	Bucket      string    `json:"bucket"`
	Key         string    `json:"key"`
	WorkspaceID string    `json:"workspace_id,omitempty"`
	ContentType string    `json:"content_type,omitempty"`
	Data        []byte    `json:"data"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

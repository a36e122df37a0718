// Package workspaces provides workspace sources the lifecycle service
// promotes revisions from.
package workspaces

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/tessera-social/app_platform/internal/app/domain/revision"
	"github.com/tessera-social/app_platform/internal/app/storage"
	"github.com/tessera-social/app_platform/internal/platform/manifest"
	"github.com/tessera-social/app_platform/internal/platform/script"
)

// DirSource reads workspaces from a directory tree: one subdirectory
// per workspace holding manifest.json and main.js. Validation runs at
// load time so the workspace status always reflects the files on disk.
type DirSource struct {
	root string
}

// NewDirSource builds a directory-backed workspace source.
func NewDirSource(root string) *DirSource {
	return &DirSource{root: root}
}

// LoadWorkspace reads and validates one workspace.
func (s *DirSource) LoadWorkspace(ctx context.Context, id string) (revision.Workspace, error) {
	if id == "" || strings.ContainsAny(id, "/\\") || strings.Contains(id, "..") {
		return revision.Workspace{}, storage.ErrNotFound
	}

	dir := filepath.Join(s.root, id)
	raw, err := os.ReadFile(filepath.Join(dir, "manifest.json"))
	if err != nil {
		return revision.Workspace{}, storage.ErrNotFound
	}
	if _, err := os.Stat(filepath.Join(dir, "main.js")); err != nil {
		return revision.Workspace{}, storage.ErrNotFound
	}

	ws := revision.Workspace{
		ID:        id,
		Manifest:  raw,
		ScriptRef: script.SchemeWorkspace + ":" + id + "/main.js",
	}

	m, err := manifest.Normalize(raw)
	if err != nil {
		ws.Status = "invalid"
		ws.BlockingIssues = []manifest.Issue{{
			Severity: manifest.SeverityError,
			Message:  err.Error(),
			Path:     "manifest",
		}}
		return ws, nil
	}

	issues := manifest.Validate(m)
	if manifest.HasErrors(issues) {
		ws.Status = "invalid"
		for _, issue := range issues {
			if issue.Severity == manifest.SeverityError {
				ws.BlockingIssues = append(ws.BlockingIssues, issue)
			}
		}
		return ws, nil
	}

	ws.Status = revision.StatusValidated
	return ws, nil
}

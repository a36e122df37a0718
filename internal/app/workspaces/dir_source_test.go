package workspaces

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tessera-social/app_platform/internal/app/domain/revision"
	"github.com/tessera-social/app_platform/internal/app/storage"
)

const wsManifest = `{
	"schemaVersion": "1.0.0",
	"routes": [{"id": "home", "method": "GET", "path": "/", "handler": "home"}],
	"views": {"screens": [{"id": "home", "route": "/", "title": "Home"}]}
}`

func writeWorkspace(t *testing.T, root, id, manifest string, withScript bool) {
	t.Helper()
	dir := filepath.Join(root, id)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "manifest.json"), []byte(manifest), 0o644))
	if withScript {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "main.js"), []byte("exports.home = function () {};"), 0o644))
	}
}

func TestLoadWorkspaceValid(t *testing.T) {
	root := t.TempDir()
	writeWorkspace(t, root, "ws1", wsManifest, true)

	ws, err := NewDirSource(root).LoadWorkspace(context.Background(), "ws1")
	require.NoError(t, err)
	require.Equal(t, revision.StatusValidated, ws.Status)
	require.Equal(t, "workspace:ws1/main.js", ws.ScriptRef)
	require.Empty(t, ws.BlockingIssues)
}

func TestLoadWorkspaceMissing(t *testing.T) {
	root := t.TempDir()
	_, err := NewDirSource(root).LoadWorkspace(context.Background(), "ghost")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestLoadWorkspaceRequiresScript(t *testing.T) {
	root := t.TempDir()
	writeWorkspace(t, root, "ws1", wsManifest, false)
	_, err := NewDirSource(root).LoadWorkspace(context.Background(), "ws1")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestLoadWorkspaceMalformedManifestIsInvalidNotError(t *testing.T) {
	root := t.TempDir()
	writeWorkspace(t, root, "ws1", "{not json", true)

	ws, err := NewDirSource(root).LoadWorkspace(context.Background(), "ws1")
	require.NoError(t, err)
	require.Equal(t, "invalid", ws.Status)
	require.NotEmpty(t, ws.BlockingIssues)
}

func TestLoadWorkspaceReservedRouteIsBlocking(t *testing.T) {
	root := t.TempDir()
	writeWorkspace(t, root, "ws1", `{
		"schemaVersion": "1.0.0",
		"routes": [{"id": "login", "method": "GET", "path": "/login", "handler": "login"}]
	}`, true)

	ws, err := NewDirSource(root).LoadWorkspace(context.Background(), "ws1")
	require.NoError(t, err)
	require.Equal(t, "invalid", ws.Status)
	require.NotEmpty(t, ws.BlockingIssues)
}

func TestLoadWorkspaceRejectsTraversalIDs(t *testing.T) {
	root := t.TempDir()
	writeWorkspace(t, root, "ws1", wsManifest, true)

	src := NewDirSource(root)
	for _, id := range []string{"", "../ws1", "a/b", `a\b`} {
		_, err := src.LoadWorkspace(context.Background(), id)
		require.ErrorIs(t, err, storage.ErrNotFound, "id %q", id)
	}
}

package script

import (
	"context"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"testing"

	platformerrors "github.com/tessera-social/app_platform/internal/errors"
)

type fakeFetcher map[string][]byte

func (f fakeFetcher) FetchObject(_ context.Context, key string) ([]byte, error) {
	data, ok := f[key]
	if !ok {
		return nil, errors.New("no such object")
	}
	return data, nil
}

func TestResolveInline(t *testing.T) {
	source := `export function home() {}`
	ref := "inline:" + base64.StdEncoding.EncodeToString([]byte(source))

	loader := NewLoader(nil, "")
	got, err := loader.Resolve(context.Background(), ref)
	if err != nil {
		t.Fatalf("resolve inline: %v", err)
	}
	if got != source {
		t.Fatalf("got %q", got)
	}
}

func TestResolveInlineBadBase64(t *testing.T) {
	loader := NewLoader(nil, "")
	_, err := loader.Resolve(context.Background(), "inline:!!!not-base64!!!")
	se := platformerrors.GetServiceError(err)
	if se == nil || se.Code != platformerrors.CodeLoad {
		t.Fatalf("expected load error, got %v", err)
	}
}

func TestResolveStore(t *testing.T) {
	loader := NewLoader(fakeFetcher{"apps/main.js": []byte("export {}")}, "")
	got, err := loader.Resolve(context.Background(), "store:apps/main.js")
	if err != nil {
		t.Fatalf("resolve store: %v", err)
	}
	if got != "export {}" {
		t.Fatalf("got %q", got)
	}

	if _, err := loader.Resolve(context.Background(), "store:missing.js"); err == nil {
		t.Fatal("missing object should fail")
	}
}

func TestResolveWorkspace(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "ws1")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "main.js"), []byte("export {}"), 0o644); err != nil {
		t.Fatal(err)
	}

	loader := NewLoader(nil, root)
	got, err := loader.Resolve(context.Background(), "workspace:ws1/main.js")
	if err != nil {
		t.Fatalf("resolve workspace: %v", err)
	}
	if got != "export {}" {
		t.Fatalf("got %q", got)
	}
}

func TestResolveWorkspaceStaysJailed(t *testing.T) {
	root := t.TempDir()
	loader := NewLoader(nil, root)
	// Traversal refs are cleaned into the root, never outside it, so a
	// ref pointing above the root resolves to a nonexistent jailed path.
	if _, err := loader.Resolve(context.Background(), "workspace:../../etc/passwd"); err == nil {
		t.Fatal("escape ref must not resolve")
	}
}

func TestResolveMalformedAndUnknownRefs(t *testing.T) {
	loader := NewLoader(nil, "")
	for _, ref := range []string{"", "inline:", "noscheme", "ftp:thing"} {
		_, err := loader.Resolve(context.Background(), ref)
		se := platformerrors.GetServiceError(err)
		if se == nil || se.Code != platformerrors.CodeLoad {
			t.Fatalf("ref %q: expected load error, got %v", ref, err)
		}
	}
}

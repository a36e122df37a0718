// Package script resolves app script references, vets the source with
// a static inspection pass, and extracts the handler registry an
// evaluated script exports.
package script

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	platformerrors "github.com/tessera-social/app_platform/internal/errors"
)

// Ref addressing schemes.
const (
	SchemeInline    = "inline"
	SchemeStore     = "store"
	SchemeWorkspace = "workspace"
)

// ObjectFetcher reads a script object from the external object store.
type ObjectFetcher interface {
	FetchObject(ctx context.Context, key string) ([]byte, error)
}

// Loader resolves script references into source text.
type Loader struct {
	store         ObjectFetcher
	workspaceRoot string
}

// NewLoader builds a loader. store may be nil when the deployment has
// no object store; workspaceRoot may be empty when workspace refs are
// not served from this node.
func NewLoader(store ObjectFetcher, workspaceRoot string) *Loader {
	return &Loader{store: store, workspaceRoot: workspaceRoot}
}

// Resolve turns a script reference into source text. Failures are
// structured LoadErrors, never panics.
func (l *Loader) Resolve(ctx context.Context, ref string) (string, error) {
	scheme, rest, ok := strings.Cut(ref, ":")
	if !ok || rest == "" {
		return "", platformerrors.Load(fmt.Sprintf("malformed script ref %q", ref), nil)
	}

	switch scheme {
	case SchemeInline:
		decoded, err := base64.StdEncoding.DecodeString(rest)
		if err != nil {
			return "", platformerrors.Load("inline script ref is not valid base64", err)
		}
		return string(decoded), nil

	case SchemeStore:
		if l.store == nil {
			return "", platformerrors.Load("object store not configured for store refs", nil)
		}
		data, err := l.store.FetchObject(ctx, rest)
		if err != nil {
			return "", platformerrors.Load(fmt.Sprintf("fetch script object %q", rest), err)
		}
		return string(data), nil

	case SchemeWorkspace:
		if l.workspaceRoot == "" {
			return "", platformerrors.Load("workspace root not configured for workspace refs", nil)
		}
		path, err := l.jailedPath(rest)
		if err != nil {
			return "", err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return "", platformerrors.Load(fmt.Sprintf("read workspace script %q", rest), err)
		}
		return string(data), nil

	default:
		return "", platformerrors.Load(fmt.Sprintf("unknown script ref scheme %q", scheme), nil)
	}
}

// jailedPath confines workspace-relative refs to the workspace root.
func (l *Loader) jailedPath(rel string) (string, error) {
	cleaned := filepath.Clean("/" + rel)
	full := filepath.Join(l.workspaceRoot, cleaned)
	root := filepath.Clean(l.workspaceRoot)
	if full != root && !strings.HasPrefix(full, root+string(filepath.Separator)) {
		return "", platformerrors.Load(fmt.Sprintf("workspace ref %q escapes workspace root", rel), nil)
	}
	return full, nil
}

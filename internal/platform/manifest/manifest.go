// Package manifest defines the declarative app manifest: the routes,
// screens, handlers and data namespaces a third-party app contributes
// to the platform.
package manifest

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// AppManifest is the canonical manifest shape.
type AppManifest struct {
	SchemaVersion string            `json:"schemaVersion"`
	Version       string            `json:"version"`
	Routes        []RouteDefinition `json:"routes"`
	Views         Views             `json:"views"`
	AP            APConfig          `json:"ap"`
	Data          DataConfig        `json:"data"`
	Storage       StorageConfig     `json:"storage"`
}

// RouteDefinition declares one HTTP route contributed by the app.
type RouteDefinition struct {
	ID      string `json:"id"`
	Method  string `json:"method"`
	Path    string `json:"path"`
	Handler string `json:"handler"`
	Auth    bool   `json:"auth,omitempty"`
}

// Views groups the UI surface of the manifest.
type Views struct {
	Screens []ScreenDefinition `json:"screens"`
	Insert  []InsertDefinition `json:"insert"`
}

// ScreenDefinition declares a UI screen and the route it renders at.
type ScreenDefinition struct {
	ID    string `json:"id"`
	Route string `json:"route"`
	Title string `json:"title,omitempty"`
}

// InsertDefinition injects a screen fragment into a platform slot.
type InsertDefinition struct {
	Slot   string `json:"slot"`
	Screen string `json:"screen"`
}

// APConfig declares federation (ActivityPub) background handlers.
type APConfig struct {
	Handlers []APHandler `json:"handlers"`
}

// APHandler binds an incoming activity type to a script handler.
type APHandler struct {
	Activity string `json:"activity"`
	Handler  string `json:"handler"`
}

// DataConfig declares the app's document collections.
type DataConfig struct {
	Collections map[string]CollectionSpec `json:"collections"`
}

// CollectionSpec describes one document collection.
type CollectionSpec struct {
	Description string   `json:"description,omitempty"`
	Indexes     []string `json:"indexes,omitempty"`
}

// StorageConfig declares the app's blob buckets.
type StorageConfig struct {
	Buckets map[string]BucketSpec `json:"buckets"`
}

// BucketSpec describes one blob bucket.
type BucketSpec struct {
	MaxObjectSize int64 `json:"maxObjectSize,omitempty"`
	Public        bool  `json:"public,omitempty"`
}

// reservedPaths are platform-owned path roots no manifest may claim,
// either exactly or as a prefix.
var reservedPaths = []string{
	"login",
	"logout",
	"auth",
	"health",
	"healthz",
	"metrics",
	"internal",
	".well-known",
	"api/internal",
}

// coreScreens pins fixed platform screen ids to their canonical routes.
// These bindings are compiled in and never configurable via manifest.
var coreScreens = map[string]string{
	"home":          "/",
	"notifications": "/notifications",
	"settings":      "/settings",
	"compose":       "/compose",
}

// ReservedPaths returns a copy of the reserved path table.
func ReservedPaths() []string {
	out := make([]string, len(reservedPaths))
	copy(out, reservedPaths)
	return out
}

// CoreScreenRoute returns the pinned route for a core screen id.
func CoreScreenRoute(id string) (string, bool) {
	route, ok := coreScreens[id]
	return route, ok
}

// IsCoreScreenRoute reports whether a normalized path is pinned to a
// core screen.
func IsCoreScreenRoute(path string) bool {
	normalized := NormalizePath(path)
	for _, route := range coreScreens {
		if normalized == route {
			return true
		}
	}
	return false
}

// IsReservedPath reports whether a path equals or is prefixed by a
// reserved platform path.
func IsReservedPath(path string) bool {
	trimmed := strings.TrimPrefix(NormalizePath(path), "/")
	for _, reserved := range reservedPaths {
		if trimmed == reserved || strings.HasPrefix(trimmed, reserved+"/") {
			return true
		}
	}
	return false
}

// NormalizePath collapses duplicate slashes, guarantees a leading
// slash, and strips a trailing slash on everything but the root.
func NormalizePath(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return "/"
	}
	segments := strings.Split(path, "/")
	cleaned := segments[:0]
	for _, seg := range segments {
		if seg != "" {
			cleaned = append(cleaned, seg)
		}
	}
	if len(cleaned) == 0 {
		return "/"
	}
	return "/" + strings.Join(cleaned, "/")
}

// Normalize canonicalizes an arbitrary manifest snapshot. It accepts
// the parsed struct, a generic map, raw JSON bytes, or a JSON string
// (possibly double-encoded), and defaults absent containers to empty.
func Normalize(snapshot interface{}) (*AppManifest, error) {
	var m *AppManifest

	switch v := snapshot.(type) {
	case nil:
		return nil, fmt.Errorf("manifest snapshot is nil")
	case *AppManifest:
		clone := *v
		m = &clone
	case AppManifest:
		clone := v
		m = &clone
	case []byte:
		return normalizeJSON(v)
	case json.RawMessage:
		return normalizeJSON(v)
	case string:
		return normalizeJSON([]byte(v))
	case map[string]interface{}:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode manifest snapshot: %w", err)
		}
		return normalizeJSON(data)
	default:
		return nil, fmt.Errorf("unsupported manifest snapshot type %T", snapshot)
	}

	fillDefaults(m)
	return m, nil
}

func normalizeJSON(data []byte) (*AppManifest, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("manifest snapshot is not valid JSON")
	}

	// A workspace export may arrive double-encoded: a JSON string whose
	// content is the manifest document. Unwrap one level.
	parsed := gjson.ParseBytes(data)
	if parsed.Type == gjson.String {
		inner := parsed.String()
		if !gjson.Valid(inner) {
			return nil, fmt.Errorf("manifest snapshot string is not valid JSON")
		}
		data = []byte(inner)
	}

	var m AppManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	fillDefaults(&m)
	return &m, nil
}

func fillDefaults(m *AppManifest) {
	if m.Routes == nil {
		m.Routes = []RouteDefinition{}
	}
	if m.Views.Screens == nil {
		m.Views.Screens = []ScreenDefinition{}
	}
	if m.Views.Insert == nil {
		m.Views.Insert = []InsertDefinition{}
	}
	if m.AP.Handlers == nil {
		m.AP.Handlers = []APHandler{}
	}
	if m.Data.Collections == nil {
		m.Data.Collections = map[string]CollectionSpec{}
	}
	if m.Storage.Buckets == nil {
		m.Storage.Buckets = map[string]BucketSpec{}
	}
	for i := range m.Routes {
		m.Routes[i].Method = strings.ToUpper(strings.TrimSpace(m.Routes[i].Method))
		m.Routes[i].Path = NormalizePath(m.Routes[i].Path)
	}
	for i := range m.Views.Screens {
		m.Views.Screens[i].Route = NormalizePath(m.Views.Screens[i].Route)
	}
}

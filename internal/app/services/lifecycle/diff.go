package lifecycle

import (
	"context"
	"fmt"
	"reflect"
	"sort"

	platformerrors "github.com/tessera-social/app_platform/internal/errors"
	"github.com/tessera-social/app_platform/internal/platform/manifest"
)

// SectionDiff lists added, removed and changed entries of one manifest
// section, sorted for deterministic output.
type SectionDiff struct {
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
	Changed []string `json:"changed"`
}

// Diff is the structural difference between a workspace manifest and
// the active revision's manifest.
type Diff struct {
	Routes        SectionDiff `json:"routes"`
	Screens       SectionDiff `json:"screens"`
	Collections   SectionDiff `json:"collections"`
	Buckets       SectionDiff `json:"buckets"`
	ScriptChanged bool        `json:"script_changed"`
}

// Diff computes a pure, non-mutating structural diff between the
// workspace manifest and the active revision. Calling it twice with no
// intervening apply yields identical results.
func (s *Service) Diff(ctx context.Context, workspaceID string) (Diff, error) {
	ws, err := s.workspaces.LoadWorkspace(ctx, workspaceID)
	if err != nil {
		return Diff{}, platformerrors.NotFound(fmt.Sprintf("workspace %s not found", workspaceID))
	}
	wsManifest, err := manifest.Normalize(ws.Manifest)
	if err != nil {
		return Diff{}, platformerrors.Validation(fmt.Sprintf("workspace manifest: %v", err))
	}

	active, err := s.ActiveRevision(ctx)
	if err != nil {
		return Diff{}, err
	}
	activeManifest, err := manifest.Normalize(active.ManifestSnapshot)
	if err != nil {
		return Diff{}, platformerrors.Internal("active revision manifest", err)
	}

	return Diff{
		Routes:        diffRoutes(activeManifest.Routes, wsManifest.Routes),
		Screens:       diffScreens(activeManifest.Views.Screens, wsManifest.Views.Screens),
		Collections:   diffCollections(activeManifest.Data.Collections, wsManifest.Data.Collections),
		Buckets:       diffBuckets(activeManifest.Storage.Buckets, wsManifest.Storage.Buckets),
		ScriptChanged: ws.ScriptRef != active.ScriptSnapshotRef,
	}, nil
}

func diffRoutes(before, after []manifest.RouteDefinition) SectionDiff {
	old := make(map[string]manifest.RouteDefinition, len(before))
	for _, r := range before {
		old[r.ID] = r
	}
	next := make(map[string]manifest.RouteDefinition, len(after))
	for _, r := range after {
		next[r.ID] = r
	}
	return diffKeys(keysOf(old), keysOf(next), func(id string) bool {
		return !reflect.DeepEqual(old[id], next[id])
	})
}

func diffScreens(before, after []manifest.ScreenDefinition) SectionDiff {
	old := make(map[string]manifest.ScreenDefinition, len(before))
	for _, s := range before {
		old[s.ID] = s
	}
	next := make(map[string]manifest.ScreenDefinition, len(after))
	for _, s := range after {
		next[s.ID] = s
	}
	return diffKeys(keysOf(old), keysOf(next), func(id string) bool {
		return !reflect.DeepEqual(old[id], next[id])
	})
}

func diffCollections(before, after map[string]manifest.CollectionSpec) SectionDiff {
	return diffKeys(keysOf(before), keysOf(after), func(name string) bool {
		return !reflect.DeepEqual(before[name], after[name])
	})
}

func diffBuckets(before, after map[string]manifest.BucketSpec) SectionDiff {
	return diffKeys(keysOf(before), keysOf(after), func(name string) bool {
		return !reflect.DeepEqual(before[name], after[name])
	})
}

func diffKeys(before, after map[string]bool, changed func(string) bool) SectionDiff {
	diff := SectionDiff{Added: []string{}, Removed: []string{}, Changed: []string{}}
	for key := range after {
		if !before[key] {
			diff.Added = append(diff.Added, key)
		} else if changed(key) {
			diff.Changed = append(diff.Changed, key)
		}
	}
	for key := range before {
		if !after[key] {
			diff.Removed = append(diff.Removed, key)
		}
	}
	sort.Strings(diff.Added)
	sort.Strings(diff.Removed)
	sort.Strings(diff.Changed)
	return diff
}

func keysOf[V any](m map[string]V) map[string]bool {
	out := make(map[string]bool, len(m))
	for k := range m {
		out[k] = true
	}
	return out
}

// Package router compiles manifest routes into dispatchable patterns
// and maintains the cached, request-ready router for the active
// revision.
package router

import (
	"fmt"
	"strings"

	"github.com/tessera-social/app_platform/internal/platform/manifest"
)

type segmentKind int

const (
	segLiteral segmentKind = iota
	segParam
	segWildcard
)

type segment struct {
	kind  segmentKind
	value string // literal text or parameter name
}

// Pattern is one compiled route.
type Pattern struct {
	Route    manifest.RouteDefinition
	segments []segment
}

// Compile parses a route path into a matchable pattern. Supported
// syntax: literal segments, ":name" single-segment parameters, and a
// trailing "*" wildcard.
func Compile(route manifest.RouteDefinition) (*Pattern, error) {
	normalized := manifest.NormalizePath(route.Path)
	p := &Pattern{Route: route}
	if normalized == "/" {
		return p, nil
	}

	parts := strings.Split(strings.TrimPrefix(normalized, "/"), "/")
	for i, part := range parts {
		switch {
		case part == "*":
			if i != len(parts)-1 {
				return nil, fmt.Errorf("route %q: wildcard must be the final segment", route.ID)
			}
			p.segments = append(p.segments, segment{kind: segWildcard})
		case strings.HasPrefix(part, ":"):
			name := part[1:]
			if name == "" {
				return nil, fmt.Errorf("route %q: parameter segment needs a name", route.ID)
			}
			p.segments = append(p.segments, segment{kind: segParam, value: name})
		default:
			p.segments = append(p.segments, segment{kind: segLiteral, value: part})
		}
	}
	return p, nil
}

// match attempts to match a normalized path, returning captured params.
func (p *Pattern) match(path string) (map[string]string, bool) {
	var parts []string
	if path != "/" {
		parts = strings.Split(strings.TrimPrefix(path, "/"), "/")
	}

	params := map[string]string{}
	i := 0
	for _, seg := range p.segments {
		switch seg.kind {
		case segWildcard:
			params["*"] = strings.Join(parts[i:], "/")
			return params, true
		case segParam:
			if i >= len(parts) {
				return nil, false
			}
			params[seg.value] = parts[i]
			i++
		case segLiteral:
			if i >= len(parts) || parts[i] != seg.value {
				return nil, false
			}
			i++
		}
	}
	if i != len(parts) {
		return nil, false
	}
	return params, true
}

// Matcher dispatches requests across a compiled route set.
type Matcher struct {
	patterns []*Pattern
}

// NewMatcher compiles all routes of a manifest.
func NewMatcher(routes []manifest.RouteDefinition) (*Matcher, error) {
	m := &Matcher{}
	for _, route := range routes {
		pattern, err := Compile(route)
		if err != nil {
			return nil, err
		}
		m.patterns = append(m.patterns, pattern)
	}
	return m, nil
}

// Match finds the route for a method and path. Reserved platform paths
// and core-screen routes never match app routes, regardless of what
// the manifest declared: build-time validation already rejects them,
// but a revision could in principle reach the active pointer without
// passing through validation, so dispatch is the last line of defense.
func (m *Matcher) Match(method, path string) (manifest.RouteDefinition, map[string]string, bool) {
	normalized := manifest.NormalizePath(path)
	if manifest.IsReservedPath(normalized) {
		return manifest.RouteDefinition{}, nil, false
	}

	method = strings.ToUpper(method)
	for _, pattern := range m.patterns {
		if pattern.Route.Method != method {
			continue
		}
		if manifest.IsReservedPath(pattern.Route.Path) {
			continue
		}
		if params, ok := pattern.match(normalized); ok {
			return pattern.Route, params, true
		}
	}
	return manifest.RouteDefinition{}, nil, false
}

// ResolveScreen finds the screen bound to a normalized path, enforcing
// the core-screen bindings at dispatch time: a pinned core route only
// ever resolves to its pinned screen id.
func ResolveScreen(screens []manifest.ScreenDefinition, path string) (manifest.ScreenDefinition, bool) {
	normalized := manifest.NormalizePath(path)
	for _, screen := range screens {
		if screen.Route != normalized {
			continue
		}
		if pinned, core := manifest.CoreScreenRoute(screen.ID); core {
			if pinned != normalized {
				continue
			}
		} else if manifest.IsCoreScreenRoute(normalized) || manifest.IsReservedPath(normalized) {
			continue
		}
		return screen, true
	}
	return manifest.ScreenDefinition{}, false
}

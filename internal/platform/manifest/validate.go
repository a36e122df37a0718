package manifest

import (
	"fmt"
	"strings"
)

// Severity grades a validation issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one validation finding.
type Issue struct {
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Path     string   `json:"path"`
}

// HasErrors reports whether any issue carries error severity.
func HasErrors(issues []Issue) bool {
	for _, issue := range issues {
		if issue.Severity == SeverityError {
			return true
		}
	}
	return false
}

// HandlerResolver answers whether a handler name exists in the
// companion script's registry.
type HandlerResolver interface {
	Has(name string) bool
}

var allowedMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "PATCH": true, "DELETE": true,
}

// Validate checks structural invariants of a normalized manifest. A
// manifest with any error-severity issue never becomes routable.
func Validate(m *AppManifest) []Issue {
	var issues []Issue
	errf := func(path, format string, args ...interface{}) {
		issues = append(issues, Issue{Severity: SeverityError, Message: fmt.Sprintf(format, args...), Path: path})
	}

	if m == nil {
		return []Issue{{Severity: SeverityError, Message: "manifest is nil", Path: ""}}
	}
	if strings.TrimSpace(m.SchemaVersion) == "" {
		errf("schemaVersion", "schemaVersion is required")
	}

	routeIDs := make(map[string]bool)
	routePaths := make(map[string]string) // method+path -> first route id
	for i, route := range m.Routes {
		path := fmt.Sprintf("routes[%d]", i)
		if route.ID == "" {
			errf(path, "route id is required")
			continue
		}
		if routeIDs[route.ID] {
			errf(path, "duplicate route id %q", route.ID)
		}
		routeIDs[route.ID] = true

		if !allowedMethods[route.Method] {
			errf(path, "route %q has unsupported method %q", route.ID, route.Method)
		}
		if route.Handler == "" {
			errf(path, "route %q has no handler", route.ID)
		}

		key := route.Method + " " + route.Path
		if first, dup := routePaths[key]; dup {
			errf(path, "route %q duplicates %s already declared by route %q", route.ID, key, first)
		} else {
			routePaths[key] = route.ID
		}

		if IsReservedPath(route.Path) {
			errf(path, "route %q claims reserved platform path %s", route.ID, route.Path)
		}
	}

	screenIDs := make(map[string]bool)
	screenRoutes := make(map[string]string)
	for i, screen := range m.Views.Screens {
		path := fmt.Sprintf("views.screens[%d]", i)
		if screen.ID == "" {
			errf(path, "screen id is required")
			continue
		}
		if screenIDs[screen.ID] {
			errf(path, "duplicate screen id %q", screen.ID)
		}
		screenIDs[screen.ID] = true

		if first, dup := screenRoutes[screen.Route]; dup {
			errf(path, "screen %q duplicates route %s already declared by screen %q", screen.ID, screen.Route, first)
		} else {
			screenRoutes[screen.Route] = screen.ID
		}

		if pinned, core := CoreScreenRoute(screen.ID); core {
			if screen.Route != pinned {
				errf(path, "core screen %q must keep canonical route %s", screen.ID, pinned)
			}
		} else {
			if IsReservedPath(screen.Route) {
				errf(path, "screen %q claims reserved platform path %s", screen.ID, screen.Route)
			}
			if IsCoreScreenRoute(screen.Route) {
				errf(path, "screen %q shadows a core screen route %s", screen.ID, screen.Route)
			}
		}
	}

	for i, insert := range m.Views.Insert {
		path := fmt.Sprintf("views.insert[%d]", i)
		if insert.Slot == "" {
			errf(path, "insert slot is required")
		}
		if insert.Screen != "" && !screenIDs[insert.Screen] {
			errf(path, "insert references unknown screen %q", insert.Screen)
		}
	}

	for i, h := range m.AP.Handlers {
		path := fmt.Sprintf("ap.handlers[%d]", i)
		if h.Activity == "" {
			errf(path, "ap handler activity is required")
		}
		if h.Handler == "" {
			errf(path, "ap handler for %q has no handler name", h.Activity)
		}
	}

	for name := range m.Data.Collections {
		if !validName(name) {
			errf("data.collections."+name, "invalid collection name %q", name)
		}
	}
	for name := range m.Storage.Buckets {
		if !validName(name) {
			errf("storage.buckets."+name, "invalid bucket name %q", name)
		}
	}

	return issues
}

// ValidateHandlers checks that every handler name the manifest binds
// resolves to an exported function in the companion script. It runs
// once the script is loaded, separately from structural validation.
func ValidateHandlers(m *AppManifest, resolver HandlerResolver) []Issue {
	var issues []Issue
	if m == nil || resolver == nil {
		return issues
	}
	for i, route := range m.Routes {
		if route.Handler != "" && !resolver.Has(route.Handler) {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Message:  fmt.Sprintf("route %q handler %q not exported by script", route.ID, route.Handler),
				Path:     fmt.Sprintf("routes[%d]", i),
			})
		}
	}
	for i, h := range m.AP.Handlers {
		if h.Handler != "" && !resolver.Has(h.Handler) {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Message:  fmt.Sprintf("ap handler %q for activity %q not exported by script", h.Handler, h.Activity),
				Path:     fmt.Sprintf("ap.handlers[%d]", i),
			})
		}
	}
	return issues
}

func validName(name string) bool {
	if name == "" || len(name) > 128 {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return false
		}
	}
	return true
}

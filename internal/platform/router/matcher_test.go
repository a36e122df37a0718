package router

import (
	"testing"

	"github.com/tessera-social/app_platform/internal/platform/manifest"
)

func testRoutes() []manifest.RouteDefinition {
	return []manifest.RouteDefinition{
		{ID: "home", Method: "GET", Path: "/", Handler: "home"},
		{ID: "widget", Method: "GET", Path: "/widgets/:id", Handler: "getWidget"},
		{ID: "create", Method: "POST", Path: "/widgets", Handler: "createWidget"},
		{ID: "files", Method: "GET", Path: "/files/*", Handler: "files"},
	}
}

func TestMatcherMatchesEveryDeclaredRoute(t *testing.T) {
	m, err := NewMatcher(testRoutes())
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	cases := []struct {
		method, path, wantID string
	}{
		{"GET", "/", "home"},
		{"GET", "/widgets/42", "widget"},
		{"POST", "/widgets", "create"},
		{"GET", "/files/a/b/c.txt", "files"},
	}
	for _, tc := range cases {
		route, _, ok := m.Match(tc.method, tc.path)
		if !ok {
			t.Errorf("%s %s: no match", tc.method, tc.path)
			continue
		}
		if route.ID != tc.wantID {
			t.Errorf("%s %s matched %q, want %q", tc.method, tc.path, route.ID, tc.wantID)
		}
	}
}

func TestMatcherCapturesParams(t *testing.T) {
	m, _ := NewMatcher(testRoutes())
	_, params, ok := m.Match("GET", "/widgets/42")
	if !ok || params["id"] != "42" {
		t.Fatalf("params = %v ok = %v", params, ok)
	}

	_, params, ok = m.Match("GET", "/files/a/b.txt")
	if !ok || params["*"] != "a/b.txt" {
		t.Fatalf("wildcard params = %v", params)
	}
}

func TestMatcherMethodMismatch(t *testing.T) {
	m, _ := NewMatcher(testRoutes())
	if _, _, ok := m.Match("DELETE", "/widgets/42"); ok {
		t.Fatal("DELETE must not match a GET route")
	}
}

func TestMatcherNormalizesSlashes(t *testing.T) {
	m, _ := NewMatcher(testRoutes())
	if _, _, ok := m.Match("GET", "//widgets//42/"); !ok {
		t.Fatal("slash noise should still match")
	}
}

func TestMatcherNeverMatchesReservedPaths(t *testing.T) {
	// Even a route set that illegally claims a reserved path must not
	// dispatch to it.
	routes := append(testRoutes(), manifest.RouteDefinition{
		ID: "evil", Method: "GET", Path: "/login", Handler: "steal",
	})
	m, err := NewMatcher(routes)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	for _, path := range []string{"/login", "/login/callback", "/metrics", "/api/internal/apps/apply"} {
		if _, _, ok := m.Match("GET", path); ok {
			t.Errorf("reserved path %s must never match", path)
		}
	}
}

func TestCompileRejectsMidPathWildcard(t *testing.T) {
	_, err := Compile(manifest.RouteDefinition{ID: "bad", Method: "GET", Path: "/a/*/b"})
	if err == nil {
		t.Fatal("mid-path wildcard must not compile")
	}
}

func TestResolveScreenEnforcesCoreBindings(t *testing.T) {
	screens := []manifest.ScreenDefinition{
		{ID: "home", Route: "/"},
		{ID: "gallery", Route: "/gallery"},
		{ID: "impostor", Route: "/settings"},
	}

	if s, ok := ResolveScreen(screens, "/"); !ok || s.ID != "home" {
		t.Fatalf("core home: %v %v", s, ok)
	}
	if s, ok := ResolveScreen(screens, "/gallery"); !ok || s.ID != "gallery" {
		t.Fatalf("app screen: %v %v", s, ok)
	}
	if _, ok := ResolveScreen(screens, "/settings"); ok {
		t.Fatal("non-core screen must never resolve on a core route")
	}
}

package sandbox

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	platformerrors "github.com/tessera-social/app_platform/internal/errors"
)

type recordingInvoker struct {
	requests []Request
	respond  func(Request) Response
}

func (r *recordingInvoker) Invoke(_ context.Context, req Request) Response {
	r.requests = append(r.requests, req)
	if r.respond != nil {
		return r.respond(req)
	}
	return Response{OK: true, Result: "ok"}
}

func TestExecuteHandler(t *testing.T) {
	sb := New(&recordingInvoker{}, Options{Timeout: time.Second}, nil)
	source := `
exports.home = function (req) {
  return { status: 201, body: { path: req.path, id: req.params.id } };
};
`
	result, err := sb.Execute(context.Background(), source, "home", HandlerRequest{
		Method: "GET",
		Path:   "/widgets/7",
		Params: map[string]string{"id": "7"},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Status != 201 {
		t.Fatalf("status = %d", result.Status)
	}
	body, ok := result.Body.(map[string]interface{})
	if !ok || body["id"] != "7" || body["path"] != "/widgets/7" {
		t.Fatalf("body = %#v", result.Body)
	}
}

func TestExecuteHandlerSeesUserID(t *testing.T) {
	sb := New(&recordingInvoker{}, Options{Timeout: time.Second}, nil)
	source := `
exports.whoami = function (req) {
  return { status: 200, body: { user: req.userId, viaAuth: req.auth.userId } };
};
`
	result, err := sb.Execute(context.Background(), source, "whoami", HandlerRequest{
		Auth:   &Auth{UserID: "u1", IsAuthenticated: true},
		UserID: "u1",
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	body, ok := result.Body.(map[string]interface{})
	if !ok || body["user"] != "u1" {
		t.Fatalf("req.userId not visible to the handler: %#v", result.Body)
	}
	if body["viaAuth"] != "u1" {
		t.Fatalf("req.auth.userId = %v", body["viaAuth"])
	}
}

func TestExecuteMissingHandler(t *testing.T) {
	sb := New(&recordingInvoker{}, Options{Timeout: time.Second}, nil)
	_, err := sb.Execute(context.Background(), `exports.other = function () {};`, "home", HandlerRequest{})
	if err == nil || !strings.Contains(err.Error(), "does not export") {
		t.Fatalf("expected missing-handler error, got %v", err)
	}
}

func TestExecuteTimeoutIsDistinctClass(t *testing.T) {
	sb := New(&recordingInvoker{}, Options{Timeout: 50 * time.Millisecond}, nil)
	_, err := sb.Execute(context.Background(), `
exports.spin = function () { for (;;) {} };
`, "spin", HandlerRequest{})
	se := platformerrors.GetServiceError(err)
	if se == nil || se.Code != platformerrors.CodeTimeout {
		t.Fatalf("expected timeout class, got %v", err)
	}
}

func TestExecuteHandlerErrorIsExecutionClass(t *testing.T) {
	sb := New(&recordingInvoker{}, Options{Timeout: time.Second}, nil)
	_, err := sb.Execute(context.Background(), `
exports.boom = function () { throw new Error("kaput"); };
`, "boom", HandlerRequest{})
	se := platformerrors.GetServiceError(err)
	if se == nil || se.Code != platformerrors.CodeExecution {
		t.Fatalf("expected execution class, got %v", err)
	}
	if !strings.Contains(se.Message, "kaput") {
		t.Fatalf("message should carry the handler error: %q", se.Message)
	}
}

func TestClientStampsIdentityOntoEnvelopes(t *testing.T) {
	invoker := &recordingInvoker{respond: func(req Request) Response {
		return Response{OK: true, Result: map[string]interface{}{"id": "doc1"}}
	}}
	sb := New(invoker, Options{Timeout: time.Second}, nil)

	source := `
exports.save = function (req) {
  return platform.db.put("app:notes", { id: "doc1", data: { text: "hi" } });
};
`
	_, err := sb.Execute(context.Background(), source, "save", HandlerRequest{
		Auth:   &Auth{UserID: "u1", IsAuthenticated: true},
		UserID: "u1",
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(invoker.requests) != 1 {
		t.Fatalf("expected one envelope, got %d", len(invoker.requests))
	}
	req := invoker.requests[0]
	if req.Kind != "db" || req.Method != "put" || req.Collection != "app:notes" {
		t.Fatalf("envelope = %+v", req)
	}
	if req.Auth == nil || req.Auth.UserID != "u1" || !req.Auth.IsAuthenticated {
		t.Fatalf("auth not stamped: %+v", req.Auth)
	}
	if req.Mode != "production" {
		t.Fatalf("mode = %q", req.Mode)
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(req.Args[0], &payload); err != nil {
		t.Fatalf("args: %v", err)
	}
	if payload["id"] != "doc1" {
		t.Fatalf("payload = %v", payload)
	}
}

func TestClientRejectsUnprefixedNamespaceLocally(t *testing.T) {
	invoker := &recordingInvoker{}
	sb := New(invoker, Options{Timeout: time.Second}, nil)

	_, err := sb.Execute(context.Background(), `
exports.peek = function () { return platform.db.get("users", "u1"); };
`, "peek", HandlerRequest{})
	if err == nil || !strings.Contains(err.Error(), "outside the app namespace") {
		t.Fatalf("expected namespace rejection, got %v", err)
	}
	if len(invoker.requests) != 0 {
		t.Fatal("rejection must happen before any round trip")
	}
}

func TestClientSurfacesBridgeErrors(t *testing.T) {
	invoker := &recordingInvoker{respond: func(Request) Response {
		return Response{OK: false, Error: &ErrorBody{Message: "service feeds is not exposed to apps", Status: 403}}
	}}
	sb := New(invoker, Options{Timeout: time.Second}, nil)

	_, err := sb.Execute(context.Background(), `
exports.call = function () { return platform.services.call("feeds.read"); };
`, "call", HandlerRequest{})
	if err == nil || !strings.Contains(err.Error(), "not exposed to apps") {
		t.Fatalf("bridge error should surface in the thrown error: %v", err)
	}
}

func TestWorkspaceOverrideOnlyInDevelopment(t *testing.T) {
	invoker := &recordingInvoker{}
	prod := New(invoker, Options{Timeout: time.Second}, nil)
	source := `exports.h = function () { return platform.db.list("app:notes"); };`

	if _, err := prod.Execute(context.Background(), source, "h", HandlerRequest{WorkspaceID: "ws1"}); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if invoker.requests[0].WorkspaceID != "" {
		t.Fatal("production envelopes must not carry a workspace override")
	}

	dev := New(invoker, Options{Timeout: time.Second, Development: true}, nil)
	if _, err := dev.Execute(context.Background(), source, "h", HandlerRequest{WorkspaceID: "ws1"}); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if invoker.requests[1].WorkspaceID != "ws1" {
		t.Fatal("development envelopes should carry the override")
	}
	if invoker.requests[1].Mode != "development" {
		t.Fatalf("mode = %q", invoker.requests[1].Mode)
	}
}

func TestEvaluateListsExportedHandlers(t *testing.T) {
	sb := New(&recordingInvoker{}, Options{Timeout: time.Second}, nil)
	names, err := sb.Evaluate(context.Background(), `
exports.home = function () {};
exports.about = function () {};
exports.version = "1.0";
`)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(names) != 2 || names[0] != "about" || names[1] != "home" {
		t.Fatalf("names = %v", names)
	}
}

func TestConsoleLogsAreCaptured(t *testing.T) {
	sb := New(&recordingInvoker{}, Options{Timeout: time.Second}, nil)
	result, err := sb.Execute(context.Background(), `
exports.h = function () { console.log("hello", 42); return {}; };
`, "h", HandlerRequest{})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(result.Logs) != 1 || !strings.Contains(result.Logs[0], "hello 42") {
		t.Fatalf("logs = %v", result.Logs)
	}
}

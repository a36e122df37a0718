// Package sandbox executes app scripts in an isolated JavaScript VM.
// The VM receives no host objects: its only capability is an RPC
// client whose envelopes round-trip through the bridge, so every
// privileged operation is authorized in exactly one place.
package sandbox

import (
	"context"
	"encoding/json"
)

// Auth is the end-user identity attached to a bridge call. Apps never
// construct it; the platform injects it from the verified session.
type Auth struct {
	UserID          string `json:"userId"`
	IsAuthenticated bool   `json:"isAuthenticated"`
}

// Request is the RPC envelope sent from the sandbox to the bridge.
type Request struct {
	Kind        string                 `json:"kind"`
	Collection  string                 `json:"collection,omitempty"`
	Bucket      string                 `json:"bucket,omitempty"`
	Path        []string               `json:"path,omitempty"`
	URL         string                 `json:"url,omitempty"`
	Method      string                 `json:"method,omitempty"`
	Args        []json.RawMessage      `json:"args,omitempty"`
	WorkspaceID string                 `json:"workspaceId,omitempty"`
	UserID      string                 `json:"userId,omitempty"`
	Mode        string                 `json:"mode,omitempty"`
	Auth        *Auth                  `json:"auth,omitempty"`
	Init        map[string]interface{} `json:"init,omitempty"`
}

// ErrorBody is the error half of a bridge response. Stack is only
// populated when the node runs in confirmed development mode.
type ErrorBody struct {
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
	Status  int    `json:"status,omitempty"`
}

// Response is the RPC envelope returned by the bridge.
type Response struct {
	OK     bool        `json:"ok"`
	Result interface{} `json:"result,omitempty"`
	Error  *ErrorBody  `json:"error,omitempty"`
}

// Invoker dispatches one bridge envelope. The in-process bridge service
// implements it directly; a remote node uses an HTTP client.
type Invoker interface {
	Invoke(ctx context.Context, req Request) Response
}

// InvokerFunc adapts a function to Invoker.
type InvokerFunc func(ctx context.Context, req Request) Response

func (f InvokerFunc) Invoke(ctx context.Context, req Request) Response { return f(ctx, req) }

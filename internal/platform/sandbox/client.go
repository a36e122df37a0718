package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dop251/goja"
)

// clientConfig is the identity and dispatch context stamped onto every
// envelope the in-VM client emits. App code cannot alter it.
type clientConfig struct {
	invoker     Invoker
	auth        *Auth
	userID      string
	workspaceID string // populated only in development mode
	mode        string
}

// installClient binds the "platform" capability object into the VM.
// The object is the sandbox's sole connection to the host.
func installClient(ctx context.Context, vm *goja.Runtime, cfg clientConfig) error {
	dispatch := func(req Request) goja.Value {
		req.UserID = cfg.userID
		req.Mode = cfg.mode
		req.Auth = cfg.auth
		req.WorkspaceID = cfg.workspaceID

		resp := cfg.invoker.Invoke(ctx, req)
		if !resp.OK {
			message := "bridge call failed"
			if resp.Error != nil {
				message = resp.Error.Message
				if resp.Error.Stack != "" {
					message += "\n" + resp.Error.Stack
				}
			}
			panic(vm.NewGoError(fmt.Errorf("%s", message)))
		}
		return vm.ToValue(resp.Result)
	}

	encodeArgs := func(values []goja.Value) []json.RawMessage {
		args := make([]json.RawMessage, 0, len(values))
		for _, v := range values {
			raw, err := json.Marshal(v.Export())
			if err != nil {
				panic(vm.NewGoError(fmt.Errorf("argument is not serializable: %v", err)))
			}
			args = append(args, raw)
		}
		return args
	}

	// Namespace guards run locally before any round trip so an app
	// probing outside its prefix never reaches the bridge.
	requirePrefixed := func(what, name string) {
		if !strings.HasPrefix(name, "app:") {
			panic(vm.NewGoError(fmt.Errorf("%s %q is outside the app namespace", what, name)))
		}
	}

	db := vm.NewObject()
	dbMethod := func(method string) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			if len(call.Arguments) < 1 {
				panic(vm.NewGoError(fmt.Errorf("db.%s: collection required", method)))
			}
			collection := call.Arguments[0].String()
			requirePrefixed("collection", collection)
			return dispatch(Request{
				Kind:       "db",
				Collection: collection,
				Method:     method,
				Args:       encodeArgs(call.Arguments[1:]),
			})
		}
	}
	for _, method := range []string{"get", "put", "list", "delete"} {
		if err := db.Set(method, dbMethod(method)); err != nil {
			return err
		}
	}

	store := vm.NewObject()
	storeMethod := func(method string) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			if len(call.Arguments) < 1 {
				panic(vm.NewGoError(fmt.Errorf("storage.%s: bucket required", method)))
			}
			bucket := call.Arguments[0].String()
			requirePrefixed("bucket", bucket)
			return dispatch(Request{
				Kind:   "storage",
				Bucket: bucket,
				Method: method,
				Args:   encodeArgs(call.Arguments[1:]),
			})
		}
	}
	for _, method := range []string{"get", "put", "list", "delete"} {
		if err := store.Set(method, storeMethod(method)); err != nil {
			return err
		}
	}

	services := vm.NewObject()
	if err := services.Set("call", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 1 {
			panic(vm.NewGoError(fmt.Errorf("services.call: target required")))
		}
		path := strings.Split(call.Arguments[0].String(), ".")
		return dispatch(Request{
			Kind: "services",
			Path: path,
			Args: encodeArgs(call.Arguments[1:]),
		})
	}); err != nil {
		return err
	}

	ai := vm.NewObject()
	aiMethod := func(method string) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			return dispatch(Request{
				Kind:   "ai",
				Method: method,
				Args:   encodeArgs(call.Arguments),
			})
		}
	}
	for _, method := range []string{"generate", "moderate"} {
		if err := ai.Set(method, aiMethod(method)); err != nil {
			return err
		}
	}

	outbound := vm.NewObject()
	if err := outbound.Set("fetch", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 1 {
			panic(vm.NewGoError(fmt.Errorf("outbound.fetch: url required")))
		}
		req := Request{Kind: "outbound", URL: call.Arguments[0].String()}
		if len(call.Arguments) > 1 {
			init, ok := call.Arguments[1].Export().(map[string]interface{})
			if !ok && !goja.IsUndefined(call.Arguments[1]) && !goja.IsNull(call.Arguments[1]) {
				panic(vm.NewGoError(fmt.Errorf("outbound.fetch: init must be an object")))
			}
			req.Init = init
		}
		return dispatch(req)
	}); err != nil {
		return err
	}

	platform := vm.NewObject()
	for name, obj := range map[string]*goja.Object{
		"db":       db,
		"storage":  store,
		"services": services,
		"ai":       ai,
		"outbound": outbound,
	} {
		if err := platform.Set(name, obj); err != nil {
			return err
		}
	}
	return vm.Set("platform", platform)
}

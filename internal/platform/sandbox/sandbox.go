package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dop251/goja"

	platformerrors "github.com/tessera-social/app_platform/internal/errors"
	"github.com/tessera-social/app_platform/internal/platform/script"
	"github.com/tessera-social/app_platform/pkg/logger"
)

const defaultTimeout = 5 * time.Second

// Options configure sandbox execution.
type Options struct {
	// Timeout bounds a single evaluation or handler call.
	Timeout time.Duration
	// Development gates stack traces and the workspace override. It
	// must come from the node configuration, never from a request.
	Development bool
}

// Sandbox runs app scripts. Every execution gets a fresh VM so state
// never leaks between requests or between apps.
type Sandbox struct {
	invoker Invoker
	opts    Options
	log     *logger.Logger
}

// New constructs a sandbox bound to a bridge invoker.
func New(invoker Invoker, opts Options, log *logger.Logger) *Sandbox {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if log == nil {
		log = logger.NewDefault("sandbox")
	}
	return &Sandbox{invoker: invoker, opts: opts, log: log}
}

// HandlerRequest is the request object passed to an app handler.
type HandlerRequest struct {
	Method      string
	Path        string
	Params      map[string]string
	Query       map[string]string
	Body        interface{}
	Auth        *Auth
	UserID      string
	WorkspaceID string
}

// HandlerResult is an app handler's response.
type HandlerResult struct {
	Status int
	Body   interface{}
	Logs   []string
}

// Evaluate runs a script and returns the names of its exported
// handlers without calling any of them. Used at router build time to
// verify that every manifest handler reference resolves.
func (s *Sandbox) Evaluate(ctx context.Context, source string) ([]string, error) {
	env, err := s.run(ctx, source, clientConfig{invoker: s.invoker, mode: s.mode()})
	if err != nil {
		return nil, err
	}
	defer env.stop()
	return env.registry.Names(), nil
}

// Execute evaluates a script and calls one exported handler.
func (s *Sandbox) Execute(ctx context.Context, source, handlerName string, req HandlerRequest) (HandlerResult, error) {
	cfg := clientConfig{
		invoker: s.invoker,
		auth:    req.Auth,
		userID:  req.UserID,
		mode:    s.mode(),
	}
	if s.opts.Development {
		cfg.workspaceID = req.WorkspaceID
	}

	env, err := s.run(ctx, source, cfg)
	if err != nil {
		return HandlerResult{}, err
	}
	defer env.stop()

	handler, ok := env.registry.Get(handlerName)
	if !ok {
		return HandlerResult{}, platformerrors.Execution(
			fmt.Sprintf("script does not export handler %q", handlerName), nil)
	}

	arg := env.vm.ToValue(map[string]interface{}{
		"method": req.Method,
		"path":   req.Path,
		"params": req.Params,
		"query":  req.Query,
		"body":   req.Body,
		"auth":   authObject(req.Auth),
		"userId": req.UserID,
	})

	value, err := handler(goja.Undefined(), arg)
	if err != nil {
		return HandlerResult{Logs: env.logs()}, s.classify(err, "handler failed")
	}
	value, err = env.await(value)
	if err != nil {
		return HandlerResult{Logs: env.logs()}, s.classify(err, "handler failed")
	}

	result := HandlerResult{Status: 200, Logs: env.logs()}
	if value != nil && !goja.IsUndefined(value) && !goja.IsNull(value) {
		if obj, ok := value.(*goja.Object); ok {
			status := obj.Get("status")
			body := obj.Get("body")
			if status != nil && !goja.IsUndefined(status) {
				result.Status = int(status.ToInteger())
				if body != nil && !goja.IsUndefined(body) {
					result.Body = body.Export()
				}
				return result, nil
			}
		}
		result.Body = value.Export()
	}
	return result, nil
}

func (s *Sandbox) mode() string {
	if s.opts.Development {
		return "development"
	}
	return "production"
}

// environment is one live VM with its evaluated registry.
type environment struct {
	vm       *goja.Runtime
	registry *script.Registry
	console  *[]string
	stop     func()
}

func (e *environment) logs() []string {
	if e.console == nil {
		return nil
	}
	return *e.console
}

// await unwraps a settled promise. Handlers that return a promise must
// have resolved it by the time the call returns, since the VM runs no
// background event loop.
func (e *environment) await(value goja.Value) (goja.Value, error) {
	promise, ok := value.Export().(*goja.Promise)
	if !ok {
		return value, nil
	}
	switch promise.State() {
	case goja.PromiseStateFulfilled:
		return promise.Result(), nil
	case goja.PromiseStateRejected:
		return nil, fmt.Errorf("%s", promise.Result().String())
	default:
		return nil, fmt.Errorf("handler returned a pending promise")
	}
}

// run builds a fresh VM, installs the capability client and console,
// evaluates the source under the execution budget, and extracts the
// handler registry.
func (s *Sandbox) run(ctx context.Context, source string, cfg clientConfig) (*environment, error) {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	done := make(chan struct{})
	timer := time.AfterFunc(s.opts.Timeout, func() {
		vm.Interrupt("execution budget exceeded")
	})
	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt("request canceled")
		case <-done:
		}
	}()
	stop := func() {
		timer.Stop()
		close(done)
	}

	var console []string
	if err := installConsole(vm, &console, s.log); err != nil {
		stop()
		return nil, platformerrors.Internal("install console", err)
	}
	if err := installClient(ctx, vm, cfg); err != nil {
		stop()
		return nil, platformerrors.Internal("install capability client", err)
	}

	exports := vm.NewObject()
	module := vm.NewObject()
	if err := module.Set("exports", exports); err != nil {
		stop()
		return nil, platformerrors.Internal("install module shim", err)
	}
	_ = vm.Set("exports", exports)
	_ = vm.Set("module", module)

	if _, err := vm.RunString(source); err != nil {
		stop()
		return nil, s.classify(err, "script evaluation failed")
	}

	finalExports, _ := module.Get("exports").(*goja.Object)
	registry, err := script.BuildRegistry(vm, finalExports)
	if err != nil {
		stop()
		return nil, platformerrors.Execution(err.Error(), nil)
	}

	return &environment{vm: vm, registry: registry, console: &console, stop: stop}, nil
}

// classify maps a VM error to the platform taxonomy. Interrupts become
// timeout errors, a class callers never conflate with handler bugs.
func (s *Sandbox) classify(err error, context string) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return platformerrors.Timeout("execution budget exceeded")
	}
	var exception *goja.Exception
	if errors.As(err, &exception) {
		message := exception.Error()
		serr := platformerrors.Execution(fmt.Sprintf("%s: %s", context, exceptionMessage(exception)), nil)
		if s.opts.Development {
			serr.WithDetails("stack", message)
		}
		return serr
	}
	return platformerrors.Execution(fmt.Sprintf("%s: %v", context, err), nil)
}

func exceptionMessage(ex *goja.Exception) string {
	if v := ex.Value(); v != nil {
		if obj, ok := v.(*goja.Object); ok {
			if msg := obj.Get("message"); msg != nil && !goja.IsUndefined(msg) {
				return msg.String()
			}
		}
		return v.String()
	}
	return ex.Error()
}

func authObject(auth *Auth) map[string]interface{} {
	if auth == nil {
		return map[string]interface{}{"isAuthenticated": false}
	}
	return map[string]interface{}{
		"userId":          auth.UserID,
		"isAuthenticated": auth.IsAuthenticated,
	}
}

func installConsole(vm *goja.Runtime, sink *[]string, log *logger.Logger) error {
	console := vm.NewObject()
	logFn := func(level string) func(call goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			parts := make([]string, 0, len(call.Arguments))
			for _, arg := range call.Arguments {
				parts = append(parts, arg.String())
			}
			line := fmt.Sprintf("[%s] %s", level, strings.Join(parts, " "))
			*sink = append(*sink, line)
			log.WithField("level", level).Debug(strings.Join(parts, " "))
			return goja.Undefined()
		}
	}
	for _, level := range []string{"log", "info", "warn", "error"} {
		if err := console.Set(level, logFn(level)); err != nil {
			return err
		}
	}
	return vm.Set("console", console)
}

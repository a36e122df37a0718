// Package httpapi exposes the platform's HTTP surface: the lifecycle
// admin endpoints, the sandbox RPC bridge, and app route dispatch.
package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/tessera-social/app_platform/internal/app/metrics"
	"github.com/tessera-social/app_platform/internal/app/services/lifecycle"
	"github.com/tessera-social/app_platform/internal/config"
	platformerrors "github.com/tessera-social/app_platform/internal/errors"
	"github.com/tessera-social/app_platform/internal/middleware"
	"github.com/tessera-social/app_platform/internal/platform/router"
	"github.com/tessera-social/app_platform/internal/platform/sandbox"
	"github.com/tessera-social/app_platform/internal/platform/script"
	"github.com/tessera-social/app_platform/pkg/logger"
)

// Handler wires the HTTP surface to the platform services.
type Handler struct {
	lifecycle  *lifecycle.Service
	workspaces lifecycle.WorkspaceSource
	builder    *router.Builder
	sandbox    *sandbox.Sandbox
	loader     *script.Loader
	inspect    script.InspectOptions
	invoker    sandbox.Invoker
	metrics    *metrics.Metrics
	cfg        *config.Config
	log        *logger.Logger
}

// New constructs the HTTP handler set.
func New(lifecycleSvc *lifecycle.Service, workspaces lifecycle.WorkspaceSource, builder *router.Builder, sb *sandbox.Sandbox, loader *script.Loader, inspect script.InspectOptions, invoker sandbox.Invoker, m *metrics.Metrics, cfg *config.Config, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	return &Handler{
		lifecycle:  lifecycleSvc,
		workspaces: workspaces,
		builder:    builder,
		sandbox:    sb,
		loader:     loader,
		inspect:    inspect,
		invoker:    invoker,
		metrics:    m,
		cfg:        cfg,
		log:        log,
	}
}

// Routes assembles the full router. Reserved platform paths are bound
// here, before app dispatch, so no manifest route can ever shadow them.
func (h *Handler) Routes() http.Handler {
	r := mux.NewRouter()

	r.Use(middleware.Recovery(h.log, h.writeErrorFn()))
	r.Use(middleware.RequestLogging(h.log))
	r.Use(middleware.NewRateLimiter(100, 200).Middleware(h.writeErrorFn()))

	r.HandleFunc("/health", h.health).Methods(http.MethodGet)
	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	if h.metrics != nil {
		r.Handle("/metrics", h.metrics.Handler()).Methods(http.MethodGet)
	}

	admin := r.PathPrefix("/api/internal/apps").Subrouter()
	admin.Use(middleware.AdminAuth(h.cfg.Auth.AdminTokenList(), h.writeErrorFn()))
	admin.HandleFunc("/apply", h.apply).Methods(http.MethodPost)
	admin.HandleFunc("/diff/{workspaceID}", h.diff).Methods(http.MethodGet)
	admin.HandleFunc("/rollback", h.rollback).Methods(http.MethodPost)
	admin.HandleFunc("/audit", h.audit).Methods(http.MethodGet)
	admin.HandleFunc("/active", h.active).Methods(http.MethodGet)

	rpc := r.Path("/rpc").Subrouter()
	rpc.Use(middleware.SecretAuth(h.cfg.Auth.BridgeSecretList(), h.writeErrorFn()))
	rpc.HandleFunc("", h.rpc).Methods(http.MethodPost)

	// Everything else is app dispatch. User sessions are verified only
	// here; the admin and bridge surfaces use their own credentials. A
	// revision that fails to build simply has no routes; the platform
	// surface above keeps serving.
	userAuth := middleware.UserAuth(h.cfg.Auth.UserJWTSecret, h.writeErrorFn())
	r.PathPrefix("/").Handler(userAuth(http.HandlerFunc(h.dispatch)))

	return r
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		if err := json.NewEncoder(w).Encode(body); err != nil {
			h.log.WithError(err).Warn("encode response")
		}
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := platformerrors.HTTPStatus(err)
	body := map[string]interface{}{
		"code":    string(platformerrors.CodeInternal),
		"message": "internal error",
	}
	if se := platformerrors.GetServiceError(err); se != nil {
		body["code"] = string(se.Code)
		body["message"] = se.Message
		if len(se.Details) > 0 {
			details := se.Details
			if !h.cfg.IsDevelopment() {
				details = withoutStack(details)
			}
			if len(details) > 0 {
				body["details"] = details
			}
		}
	} else if err != nil {
		h.log.WithError(err).WithField("path", r.URL.Path).Error("unclassified error")
	}
	h.writeJSON(w, status, map[string]interface{}{"error": body})
}

func withoutStack(details map[string]interface{}) map[string]interface{} {
	if _, ok := details["stack"]; !ok {
		return details
	}
	out := make(map[string]interface{}, len(details))
	for k, v := range details {
		if k == "stack" {
			continue
		}
		out[k] = v
	}
	return out
}

func (h *Handler) writeErrorFn() func(http.ResponseWriter, *http.Request, error) {
	return h.writeError
}

func (h *Handler) decodeJSON(r *http.Request, into interface{}) error {
	defer r.Body.Close()
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := decoder.Decode(into); err != nil {
		return platformerrors.Validation(fmt.Sprintf("invalid request body: %v", err))
	}
	return nil
}

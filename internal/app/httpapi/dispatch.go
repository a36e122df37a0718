package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	platformerrors "github.com/tessera-social/app_platform/internal/errors"
	"github.com/tessera-social/app_platform/internal/middleware"
	"github.com/tessera-social/app_platform/internal/platform/sandbox"
)

// dispatch routes a request through the active revision's app router
// and executes the bound handler in the sandbox.
func (h *Handler) dispatch(w http.ResponseWriter, r *http.Request) {
	if !h.cfg.Apps.ManifestRouting {
		h.writeError(w, r, platformerrors.NotFound("no app route matches "+r.URL.Path))
		return
	}

	active, err := h.lifecycle.ActiveRevision(r.Context())
	if err != nil {
		h.writeError(w, r, platformerrors.NotFound("no app route matches "+r.URL.Path))
		return
	}

	built, err := h.builder.Get(r.Context(), active)
	if err != nil {
		// A broken revision contributes zero routes. The rest of the
		// node keeps serving.
		h.countRouterBuild("error")
		h.log.WithError(err).WithField("revision_id", active.ID).Warn("app router unavailable")
		h.writeError(w, r, platformerrors.NotFound("no app route matches "+r.URL.Path))
		return
	}
	h.countRouterBuild("ok")

	route, params, ok := built.Matcher.Match(r.Method, r.URL.Path)
	if !ok {
		h.writeError(w, r, platformerrors.NotFound("no app route matches "+r.URL.Path))
		return
	}

	auth := middleware.AuthFromContext(r.Context())
	if route.Auth {
		auth, err = middleware.RequireUser(r.Context())
		if err != nil {
			h.writeError(w, r, err)
			return
		}
	}

	query := map[string]string{}
	for key, values := range r.URL.Query() {
		if len(values) > 0 {
			query[key] = values[0]
		}
	}

	var body interface{}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&body); err != nil {
			h.writeError(w, r, platformerrors.Validation("request body is not valid JSON"))
			return
		}
	}

	handlerReq := sandbox.HandlerRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Params: params,
		Query:  query,
		Body:   body,
	}
	if auth != nil {
		handlerReq.Auth = auth
		handlerReq.UserID = auth.UserID
	}
	if h.cfg.IsDevelopment() {
		handlerReq.WorkspaceID = r.Header.Get("X-Workspace-Override")
	}

	start := time.Now()
	result, err := h.sandbox.Execute(r.Context(), built.Source, route.Handler, handlerReq)
	h.observeSandbox(err, time.Since(start))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	status := result.Status
	if status == 0 {
		status = http.StatusOK
	}
	h.countRequest(r.Method, "app", status)
	h.writeJSON(w, status, result.Body)
}

func (h *Handler) countRouterBuild(outcome string) {
	if h.metrics != nil {
		h.metrics.RouterBuilds.WithLabelValues(outcome).Inc()
	}
}

func (h *Handler) countRequest(method, class string, status int) {
	if h.metrics != nil {
		h.metrics.HTTPRequests.WithLabelValues(method, class, strconv.Itoa(status)).Inc()
	}
}

func (h *Handler) observeSandbox(err error, elapsed time.Duration) {
	if h.metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
		if se := platformerrors.GetServiceError(err); se != nil && se.Code == platformerrors.CodeTimeout {
			outcome = "timeout"
		}
	}
	h.metrics.SandboxRuns.WithLabelValues(outcome).Inc()
	h.metrics.SandboxDuration.Observe(elapsed.Seconds())
}

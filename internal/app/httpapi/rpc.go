package httpapi

import (
	"net/http"

	"github.com/tessera-social/app_platform/internal/platform/sandbox"
)

// rpc executes one bridge envelope for an out-of-process sandbox. The
// caller already passed shared-secret auth; the bridge itself decides
// whether the envelope is allowed.
func (h *Handler) rpc(w http.ResponseWriter, r *http.Request) {
	var req sandbox.Request
	if err := h.decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := h.invoker.Invoke(r.Context(), req)

	if h.metrics != nil {
		outcome := "ok"
		if !resp.OK {
			outcome = "error"
		}
		h.metrics.BridgeCalls.WithLabelValues(req.Kind, outcome).Inc()
	}

	status := http.StatusOK
	if !resp.OK && resp.Error != nil && resp.Error.Status != 0 {
		status = resp.Error.Status
	}
	h.writeJSON(w, status, resp)
}

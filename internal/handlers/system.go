package handlers

import (
	"net/http"

	"github.com/relaykit/whatsrelay/internal/httputil"
)

// Health handles GET /health, the aggregate dependency report.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.methodNotAllowed(w, http.MethodGet)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, h.monitor.Check(r.Context()))
}

// Healthz handles GET /healthz for liveness probes.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.methodNotAllowed(w, http.MethodGet)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz handles GET /readyz. The relay is ready once the store
// answers; connector state does not gate readiness.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.methodNotAllowed(w, http.MethodGet)
		return
	}
	if !h.monitor.Ready(r.Context()) {
		httputil.WriteError(w, http.StatusServiceUnavailable, "store not ready")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

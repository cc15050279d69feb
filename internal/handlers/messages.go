package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/relaykit/whatsrelay/internal/httputil"
	"github.com/relaykit/whatsrelay/internal/logging"
	"github.com/relaykit/whatsrelay/internal/metrics"
	"github.com/relaykit/whatsrelay/internal/models"
	"github.com/relaykit/whatsrelay/internal/store"
)

// Read API limits.
const (
	maxReadCount  = 100
	defReadCount  = 10
	maxPopCount   = 100
	defPopCount   = 10
	maxPeekWindow = 99
	maxTraceLimit = 500
	defTraceLimit = 100
)

// StreamInfo handles GET /messages/stream/info.
func (h *Handler) StreamInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.methodNotAllowed(w, http.MethodGet)
		return
	}
	info, err := h.store.Info(r.Context())
	if err != nil {
		h.storeError(w, r, "info", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, info)
}

// StreamRead handles GET /messages/stream/read?count&lastId. It never
// removes envelopes; callers page by passing the last id they saw.
func (h *Handler) StreamRead(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.methodNotAllowed(w, http.MethodGet)
		return
	}
	q := r.URL.Query()
	count := queryInt(q, "count", defReadCount, 1, maxReadCount)
	lastID := q.Get("lastId")
	if lastID == "" {
		lastID = store.ZeroID
	}

	envs, err := h.store.ReadAfter(r.Context(), lastID, count)
	if err != nil {
		h.storeError(w, r, "read", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, readResponse(envs, lastID))
}

// Trace handles GET /messages/trace/{jid}?limit. The jid may be a full
// address or a bare phone number.
func (h *Handler) Trace(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.methodNotAllowed(w, http.MethodGet)
		return
	}
	jid := strings.TrimPrefix(r.URL.Path, "/messages/trace/")
	if jid == "" || strings.Contains(jid, "/") {
		httputil.WriteError(w, http.StatusBadRequest, "jid is required")
		return
	}
	limit := queryInt(r.URL.Query(), "limit", defTraceLimit, 1, maxTraceLimit)

	envs, err := h.store.Trace(r.Context(), jid, limit)
	if err != nil {
		h.storeError(w, r, "trace", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jid":      jid,
		"count":    len(envs),
		"messages": envs,
	})
}

// Peek handles GET /messages/peek?start&end. The window is positional,
// newest first, and never mutates the store.
func (h *Handler) Peek(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.methodNotAllowed(w, http.MethodGet)
		return
	}
	q := r.URL.Query()
	start := queryInt(q, "start", 0, 0, maxPeekWindow)
	end := queryInt(q, "end", maxPeekWindow, 0, maxPeekWindow)
	if end < start {
		httputil.WriteError(w, http.StatusBadRequest, "end must not precede start")
		return
	}

	envs, err := h.store.Peek(r.Context(), start, end)
	if err != nil {
		h.storeError(w, r, "peek", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"count":    len(envs),
		"messages": envs,
	})
}

// Pop handles POST /messages/pop?count. Removal is atomic: each
// envelope is handed to exactly one caller.
func (h *Handler) Pop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.methodNotAllowed(w, http.MethodPost)
		return
	}
	count := queryInt(r.URL.Query(), "count", defPopCount, 1, maxPopCount)

	envs, err := h.store.Pop(r.Context(), count)
	if err != nil {
		h.storeError(w, r, "pop", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"count":    len(envs),
		"messages": envs,
	})
}

// QueueStatus handles GET /messages/status, the legacy length probe.
func (h *Handler) QueueStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.methodNotAllowed(w, http.MethodGet)
		return
	}
	n, err := h.store.Length(r.Context())
	if err != nil {
		h.storeError(w, r, "length", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]int64{"queue_length": n})
}

func (h *Handler) storeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	metrics.StoreErrors.WithLabelValues(op).Inc()
	h.logger.ErrorContext(r.Context(), "store operation failed", logging.Error(err))
	if errors.Is(err, store.ErrUnavailable) {
		httputil.WriteError(w, http.StatusServiceUnavailable, "message store unavailable")
		return
	}
	httputil.WriteError(w, http.StatusInternalServerError, "internal error")
}

func readResponse(envs []models.Envelope, lastID string) map[string]interface{} {
	next := lastID
	if len(envs) > 0 {
		next = envs[len(envs)-1].ID
	}
	return map[string]interface{}{
		"count":    len(envs),
		"lastId":   next,
		"messages": envs,
	}
}

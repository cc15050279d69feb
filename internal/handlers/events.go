package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/relaykit/whatsrelay/internal/httputil"
	"github.com/relaykit/whatsrelay/internal/ingest"
	"github.com/relaykit/whatsrelay/internal/store"
)

// Events handles POST /events, the connector's inbound push. A stored
// event answers 202 with its assigned id; a rejected event answers 400
// and is never stored.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.methodNotAllowed(w, http.MethodPost)
		return
	}

	var raw ingest.RawEvent
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	id, err := h.ingest.Ingest(r.Context(), &raw)
	if err != nil {
		switch {
		case errors.Is(err, ingest.ErrMalformed):
			httputil.WriteError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, store.ErrUnavailable):
			httputil.WriteError(w, http.StatusServiceUnavailable, "message store unavailable")
		default:
			httputil.WriteError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"id": id})
}

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/relaykit/whatsrelay/internal/connector"
	"github.com/relaykit/whatsrelay/internal/httputil"
	"github.com/relaykit/whatsrelay/internal/logging"
)

// Caps request bodies forwarded to the bridge.
const maxProxyBody = 1 << 20

// SessionStatus handles GET /status.
func (h *Handler) SessionStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.methodNotAllowed(w, http.MethodGet)
		return
	}
	h.forward(w, r, func(ctx context.Context) (*connector.Response, error) {
		return h.connector.Status(ctx)
	})
}

// QRCode handles GET /qrcode.
func (h *Handler) QRCode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.methodNotAllowed(w, http.MethodGet)
		return
	}
	h.forward(w, r, func(ctx context.Context) (*connector.Response, error) {
		return h.connector.QRCode(ctx)
	})
}

// Logout handles DELETE /logout.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		h.methodNotAllowed(w, http.MethodDelete)
		return
	}
	h.forward(w, r, func(ctx context.Context) (*connector.Response, error) {
		return h.connector.Logout(ctx)
	})
}

// Send handles POST /send/{kind}.
func (h *Handler) Send(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.methodNotAllowed(w, http.MethodPost)
		return
	}
	kind := strings.TrimPrefix(r.URL.Path, "/send/")
	if !connector.KnownSendKind(kind) {
		httputil.WriteError(w, http.StatusNotFound, "unknown send kind")
		return
	}
	body, ok := h.readProxyBody(w, r)
	if !ok {
		return
	}
	h.forward(w, r, func(ctx context.Context) (*connector.Response, error) {
		return h.connector.Send(ctx, kind, body)
	})
}

// Contacts handles GET /contacts and GET /contacts/count. The query
// string (q, limit) is forwarded to the bridge as-is.
func (h *Handler) Contacts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.methodNotAllowed(w, http.MethodGet)
		return
	}
	switch strings.TrimSuffix(r.URL.Path, "/") {
	case "/contacts":
		h.forward(w, r, func(ctx context.Context) (*connector.Response, error) {
			return h.connector.Contacts(ctx, r.URL.RawQuery)
		})
	case "/contacts/count":
		h.forward(w, r, func(ctx context.Context) (*connector.Response, error) {
			return h.connector.ContactsCount(ctx)
		})
	default:
		httputil.WriteError(w, http.StatusNotFound, "not found")
	}
}

// Interact handles POST /interact/{kind}.
func (h *Handler) Interact(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.methodNotAllowed(w, http.MethodPost)
		return
	}
	kind := strings.TrimPrefix(r.URL.Path, "/interact/")
	if !connector.KnownInteractKind(kind) {
		httputil.WriteError(w, http.StatusNotFound, "unknown interaction kind")
		return
	}
	body, ok := h.readProxyBody(w, r)
	if !ok {
		return
	}
	h.forward(w, r, func(ctx context.Context) (*connector.Response, error) {
		return h.connector.Interact(ctx, kind, body)
	})
}

func (h *Handler) readProxyBody(w http.ResponseWriter, r *http.Request) (json.RawMessage, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxProxyBody))
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "failed to read request body")
		return nil, false
	}
	if len(body) > 0 && !json.Valid(body) {
		httputil.WriteError(w, http.StatusBadRequest, "body must be valid JSON")
		return nil, false
	}
	return body, true
}

// forward relays a bridge call, passing the bridge's status code and
// body through verbatim.
func (h *Handler) forward(w http.ResponseWriter, r *http.Request, call func(context.Context) (*connector.Response, error)) {
	resp, err := call(r.Context())
	if err != nil {
		if errors.Is(err, connector.ErrUnavailable) {
			h.logger.WarnContext(r.Context(), "connector unreachable", logging.Error(err))
			httputil.WriteError(w, http.StatusServiceUnavailable, "connector unavailable")
			return
		}
		httputil.WriteError(w, http.StatusBadGateway, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	if len(resp.Body) > 0 {
		w.Write(resp.Body)
	}
}

package handlers

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/relaykit/whatsrelay/internal/httputil"
	"github.com/relaykit/whatsrelay/internal/logging"
)

type registerRequest struct {
	URL    string `json:"url"`
	Secret string `json:"secret"`
}

type unregisterRequest struct {
	URL string `json:"url"`
}

// RegisterWebhook handles POST /webhooks/register. Registering an
// already-known URL updates its secret.
func (h *Handler) RegisterWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.methodNotAllowed(w, http.MethodPost)
		return
	}

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if !validWebhookURL(req.URL) {
		httputil.WriteError(w, http.StatusBadRequest, "url must be a valid http or https URL")
		return
	}

	sub := h.subs.Subscribe(req.URL, req.Secret)
	h.logger.InfoContext(r.Context(), "webhook registered", logging.URL(sub.URL))
	httputil.WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"url":          sub.URL,
		"registeredAt": sub.RegisteredAt,
	})
}

// UnregisterWebhook handles DELETE /webhooks/unregister.
func (h *Handler) UnregisterWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		h.methodNotAllowed(w, http.MethodDelete)
		return
	}

	var req unregisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.URL == "" {
		httputil.WriteError(w, http.StatusBadRequest, "url is required")
		return
	}

	if !h.subs.Unsubscribe(req.URL) {
		httputil.WriteError(w, http.StatusNotFound, "webhook not registered")
		return
	}
	h.logger.InfoContext(r.Context(), "webhook unregistered", logging.URL(req.URL))
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"url": req.URL})
}

// ListWebhooks handles GET /webhooks. Secrets are never echoed back.
func (h *Handler) ListWebhooks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.methodNotAllowed(w, http.MethodGet)
		return
	}

	subs := h.subs.List()
	out := make([]map[string]interface{}, 0, len(subs))
	for _, sub := range subs {
		out = append(out, map[string]interface{}{
			"url":          sub.URL,
			"hasSecret":    sub.Secret != "",
			"registeredAt": sub.RegisteredAt,
		})
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"count":    len(out),
		"webhooks": out,
	})
}

func validWebhookURL(raw string) bool {
	if raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if u.Host == "" {
		return false
	}
	return strings.EqualFold(u.Scheme, "http") || strings.EqualFold(u.Scheme, "https")
}

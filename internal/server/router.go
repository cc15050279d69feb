package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/relaykit/whatsrelay/internal/handlers"
	"github.com/relaykit/whatsrelay/internal/middleware"
)

// NewRouter constructs a ServeMux with all relay API routes registered.
func NewRouter(h *handlers.Handler) http.Handler {
	mux := http.NewServeMux()

	// Connector session
	mux.HandleFunc("/status", h.SessionStatus)
	mux.HandleFunc("/qrcode", h.QRCode)
	mux.HandleFunc("/logout", h.Logout)

	// Outbound proxy
	mux.HandleFunc("/send/", h.Send)
	mux.HandleFunc("/interact/", h.Interact)

	// Contact lookups
	mux.HandleFunc("/contacts", h.Contacts)
	mux.HandleFunc("/contacts/", h.Contacts)

	// Inbound ingestion
	mux.HandleFunc("/events", h.Events)

	// Webhook subscriptions
	mux.HandleFunc("/webhooks", h.ListWebhooks)
	mux.HandleFunc("/webhooks/register", h.RegisterWebhook)
	mux.HandleFunc("/webhooks/unregister", h.UnregisterWebhook)

	// Consumer read API
	mux.HandleFunc("/messages/stream/info", h.StreamInfo)
	mux.HandleFunc("/messages/stream/read", h.StreamRead)
	mux.HandleFunc("/messages/trace/", h.Trace)
	mux.HandleFunc("/messages/peek", h.Peek)
	mux.HandleFunc("/messages/pop", h.Pop)
	mux.HandleFunc("/messages/status", h.QueueStatus)

	// Health and metrics
	mux.HandleFunc("/health", h.Health)
	mux.HandleFunc("/healthz", h.Healthz)
	mux.HandleFunc("/readyz", h.Readyz)
	mux.Handle("/metrics", promhttp.Handler())

	return middleware.RequestID(mux)
}

// Package handlers wires the relay's HTTP surface to its services.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/relaykit/whatsrelay/internal/connector"
	"github.com/relaykit/whatsrelay/internal/health"
	"github.com/relaykit/whatsrelay/internal/httputil"
	"github.com/relaykit/whatsrelay/internal/ingest"
	"github.com/relaykit/whatsrelay/internal/logging"
	"github.com/relaykit/whatsrelay/internal/models"
	"github.com/relaykit/whatsrelay/internal/store"
)

// Connector is the slice of the bridge client the handlers call.
type Connector interface {
	Status(ctx context.Context) (*connector.Response, error)
	QRCode(ctx context.Context) (*connector.Response, error)
	Logout(ctx context.Context) (*connector.Response, error)
	Send(ctx context.Context, kind string, body json.RawMessage) (*connector.Response, error)
	Interact(ctx context.Context, kind string, body json.RawMessage) (*connector.Response, error)
	Contacts(ctx context.Context, rawQuery string) (*connector.Response, error)
	ContactsCount(ctx context.Context) (*connector.Response, error)
}

// Subscriptions is the dispatcher surface the webhook handlers use.
// Subscribe must prepare delivery before returning, so that an event
// appended right after the registration response is still delivered.
type Subscriptions interface {
	Subscribe(url, secret string) models.Subscriber
	Unsubscribe(url string) bool
	List() []models.Subscriber
}

// Handler serves the relay API.
type Handler struct {
	store     store.Store
	ingest    *ingest.Service
	subs      Subscriptions
	connector Connector
	monitor   *health.Monitor
	logger    *logging.Logger
}

// New creates a Handler over the relay's services.
func New(st store.Store, ing *ingest.Service, subs Subscriptions, conn Connector, mon *health.Monitor, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		store:     st,
		ingest:    ing,
		subs:      subs,
		connector: conn,
		monitor:   mon,
		logger:    logger,
	}
}

func (h *Handler) methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	httputil.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
}

// queryInt reads an integer query parameter, clamped to [min, max].
// Missing or unparseable values fall back to def.
func queryInt(values url.Values, name string, def, min, max int64) int64 {
	raw := values.Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}

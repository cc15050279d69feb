package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestion metrics
	IngestedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whatsrelay_ingest_events_total",
			Help: "Total number of inbound events received from the connector",
		},
		[]string{"status"},
	)

	MalformedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "whatsrelay_ingest_malformed_total",
			Help: "Total number of inbound events rejected as malformed",
		},
	)

	// Store metrics
	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whatsrelay_store_errors_total",
			Help: "Total number of store operation failures",
		},
		[]string{"op"},
	)

	// Webhook delivery metrics
	DeliveryAttempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "whatsrelay_webhook_attempts_total",
			Help: "Total number of webhook delivery attempts",
		},
	)

	Deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whatsrelay_webhook_deliveries_total",
			Help: "Total number of webhook deliveries by outcome",
		},
		[]string{"outcome"},
	)

	Subscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "whatsrelay_webhook_subscribers",
			Help: "Number of registered webhook subscribers",
		},
	)

	// Connector proxy metrics
	ConnectorErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "whatsrelay_connector_errors_total",
			Help: "Total number of failed connector calls",
		},
	)
)

// Delivery outcomes.
const (
	OutcomeDelivered = "delivered"
	OutcomeExhausted = "exhausted"
)

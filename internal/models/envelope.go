package models

import "time"

// Message types as reported by the connector. Anything else is normalized
// to TypeUnknown at ingestion.
const (
	TypeText        = "text"
	TypeImage       = "image"
	TypeButtonReply = "button-reply"
	TypeListReply   = "list-reply"
	TypeUnknown     = "unknown"
)

// KnownType reports whether t is one of the recognized message types.
func KnownType(t string) bool {
	switch t {
	case TypeText, TypeImage, TypeButtonReply, TypeListReply:
		return true
	}
	return false
}

// Envelope is the canonical record of one inbound messaging event.
// The ID is assigned by the store at append time ("<millis>-<seq>") and
// envelopes are immutable once appended.
type Envelope struct {
	ID         string                 `json:"id,omitempty"`
	JID        string                 `json:"jid"`
	Type       string                 `json:"type"`
	Data       map[string]interface{} `json:"data"`
	Timestamp  int64                  `json:"timestamp"`  // event time, epoch millis
	ReceivedAt string                 `json:"receivedAt"` // ingestion time, RFC 3339
}

// Subscriber is a registered webhook endpoint. URL is the unique key.
type Subscriber struct {
	URL          string    `json:"url"`
	Secret       string    `json:"secret,omitempty"`
	RegisteredAt time.Time `json:"registeredAt"`
}

// DeliveryPayload is the JSON body POSTed to subscriber endpoints.
// Subscribers must dedupe by MessageID: delivery is at-least-once.
type DeliveryPayload struct {
	MessageID  string                 `json:"messageId"`
	JID        string                 `json:"jid"`
	Type       string                 `json:"type"`
	Data       map[string]interface{} `json:"data"`
	Timestamp  int64                  `json:"timestamp"`
	ReceivedAt string                 `json:"receivedAt"`
}

// NewDeliveryPayload builds the webhook body for an envelope.
func NewDeliveryPayload(env *Envelope) *DeliveryPayload {
	return &DeliveryPayload{
		MessageID:  env.ID,
		JID:        env.JID,
		Type:       env.Type,
		Data:       env.Data,
		Timestamp:  env.Timestamp,
		ReceivedAt: env.ReceivedAt,
	}
}

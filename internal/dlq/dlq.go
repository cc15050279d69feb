// Package dlq captures inbound payloads the relay refused to ingest,
// so operators can inspect or replay them. Rejected events never enter
// the durable store.
package dlq

import (
	"context"
	"encoding/json"
	"time"
)

// Rejection reasons, used as the DLQ subject suffix.
const (
	ReasonMalformed        = "malformed"
	ReasonStoreUnavailable = "store_unavailable"
)

// FailedEvent is one rejected ingestion payload.
type FailedEvent struct {
	Timestamp time.Time       `json:"timestamp"`
	Raw       json.RawMessage `json:"raw"`
	Error     string          `json:"error"`
	Reason    string          `json:"reason"`
}

// Writer records rejected payloads. Implementations must tolerate a nil
// receiver so callers can write unconditionally.
type Writer interface {
	Write(ctx context.Context, raw json.RawMessage, cause error, reason string) error
	Close() error
}

// Package ingest normalizes raw connector events into envelopes and
// appends them to the durable store.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/relaykit/whatsrelay/internal/dlq"
	"github.com/relaykit/whatsrelay/internal/logging"
	"github.com/relaykit/whatsrelay/internal/metrics"
	"github.com/relaykit/whatsrelay/internal/models"
	"github.com/relaykit/whatsrelay/internal/store"
)

// ErrMalformed indicates a raw payload that must be rejected without
// entering the store.
var ErrMalformed = errors.New("malformed event")

// RawEvent is the connector's inbound push payload. The id is assigned
// by the relay, never by the connector.
type RawEvent struct {
	JID       string                 `json:"jid"`
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data"`
	Timestamp int64                  `json:"timestamp"`
}

// Normalize validates a raw event and builds the canonical envelope.
// A blank jid is rejected; an unrecognized type becomes "unknown"; a
// missing timestamp defaults to now.
func Normalize(raw *RawEvent, now time.Time) (*models.Envelope, error) {
	jid := strings.TrimSpace(raw.JID)
	if jid == "" {
		return nil, fmt.Errorf("%w: jid is required", ErrMalformed)
	}

	typ := raw.Type
	if !models.KnownType(typ) {
		typ = models.TypeUnknown
	}

	ts := raw.Timestamp
	if ts <= 0 {
		ts = now.UnixMilli()
	}

	data := raw.Data
	if data == nil {
		data = map[string]interface{}{}
	}

	return &models.Envelope{
		JID:        jid,
		Type:       typ,
		Data:       data,
		Timestamp:  ts,
		ReceivedAt: now.UTC().Format(time.RFC3339),
	}, nil
}

// Service ties normalization to the store and wakes the webhook
// dispatcher after each successful append.
type Service struct {
	store  store.Store
	dlq    dlq.Writer
	logger *logging.Logger
	notify func()
}

// NewService creates the ingestion service. dlqWriter may be nil.
func NewService(st store.Store, dlqWriter dlq.Writer, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{store: st, dlq: dlqWriter, logger: logger}
}

// OnAppend registers a callback invoked after every successful append.
func (s *Service) OnAppend(fn func()) {
	s.notify = fn
}

// Ingest validates, normalizes and appends one raw event, returning the
// store-assigned id. Failures are loud: the caller must not treat the
// event as ingested unless an id is returned.
func (s *Service) Ingest(ctx context.Context, raw *RawEvent) (string, error) {
	env, err := Normalize(raw, time.Now())
	if err != nil {
		metrics.MalformedTotal.Inc()
		metrics.IngestedTotal.WithLabelValues("rejected").Inc()
		s.logger.WarnContext(ctx, "rejected malformed event", logging.Error(err))
		s.deadLetter(ctx, raw, err, dlq.ReasonMalformed)
		return "", err
	}

	id, err := s.store.Append(ctx, env)
	if err != nil {
		metrics.StoreErrors.WithLabelValues("append").Inc()
		metrics.IngestedTotal.WithLabelValues("failed").Inc()
		s.logger.ErrorContext(ctx, "failed to append event", logging.JID(env.JID), logging.Error(err))
		s.deadLetter(ctx, raw, err, dlq.ReasonStoreUnavailable)
		return "", err
	}

	metrics.IngestedTotal.WithLabelValues("ok").Inc()
	s.logger.DebugContext(ctx, "event ingested", logging.EventID(id), logging.JID(env.JID))

	if s.notify != nil {
		s.notify()
	}
	return id, nil
}

func (s *Service) deadLetter(ctx context.Context, raw *RawEvent, cause error, reason string) {
	if s.dlq == nil {
		return
	}
	payload, err := json.Marshal(raw)
	if err != nil {
		return
	}
	if err := s.dlq.Write(ctx, payload, cause, reason); err != nil {
		s.logger.ErrorContext(ctx, "failed to write dlq entry", logging.Error(err))
	}
}

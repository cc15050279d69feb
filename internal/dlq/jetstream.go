package dlq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	streamName    = "WHATSRELAY_DLQ"
	subjectPrefix = "relay.dlq."
)

// JetStreamQueue writes failed events to NATS JetStream for a
// centralized DLQ. Safe for use across multiple relay instances.
type JetStreamQueue struct {
	conn    *nats.Conn
	js      jetstream.JetStream
	stream  jetstream.Stream
	written uint64
}

// NewJetStreamQueue connects to NATS and ensures the DLQ stream exists.
func NewJetStreamQueue(ctx context.Context, natsURL string) (*JetStreamQueue, error) {
	conn, err := nats.Connect(natsURL,
		nats.Name("whatsrelay-dlq"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      streamName,
		Subjects:  []string{subjectPrefix + ">"},
		MaxAge:    7 * 24 * time.Hour,
		MaxBytes:  100 * 1024 * 1024,
		Retention: jetstream.LimitsPolicy,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create dlq stream: %w", err)
	}

	return &JetStreamQueue{conn: conn, js: js, stream: stream}, nil
}

// Write publishes a failed event under relay.dlq.<reason>.
func (q *JetStreamQueue) Write(ctx context.Context, raw json.RawMessage, cause error, reason string) error {
	if q == nil {
		return nil
	}

	failed := FailedEvent{
		Timestamp: time.Now().UTC(),
		Raw:       raw,
		Error:     cause.Error(),
		Reason:    reason,
	}
	data, err := json.Marshal(failed)
	if err != nil {
		return fmt.Errorf("marshal dlq entry: %w", err)
	}

	if _, err := q.js.Publish(ctx, subjectPrefix+reason, data); err != nil {
		return fmt.Errorf("publish dlq entry: %w", err)
	}
	atomic.AddUint64(&q.written, 1)
	return nil
}

// List returns failed events from the JetStream DLQ via an ephemeral
// consumer.
func (q *JetStreamQueue) List(ctx context.Context, limit int) ([]FailedEvent, error) {
	if q == nil {
		return nil, fmt.Errorf("dlq not enabled")
	}
	if limit <= 0 {
		limit = 100
	}

	consumer, err := q.stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		FilterSubject: subjectPrefix + ">",
		AckPolicy:     jetstream.AckNonePolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("create list consumer: %w", err)
	}

	msgs, err := consumer.Fetch(limit, jetstream.FetchMaxWait(2*time.Second))
	if err != nil {
		return nil, fmt.Errorf("fetch messages: %w", err)
	}

	var events []FailedEvent
	for msg := range msgs.Messages() {
		var failed FailedEvent
		if err := json.Unmarshal(msg.Data(), &failed); err != nil {
			continue
		}
		events = append(events, failed)
	}
	return events, nil
}

// Written returns the number of events this instance has published.
func (q *JetStreamQueue) Written() uint64 {
	if q == nil {
		return 0
	}
	return atomic.LoadUint64(&q.written)
}

func (q *JetStreamQueue) Close() error {
	if q == nil {
		return nil
	}
	q.conn.Close()
	return nil
}

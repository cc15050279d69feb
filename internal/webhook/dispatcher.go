// Package webhook pushes newly appended envelopes to registered
// subscriber endpoints. Delivery is at-least-once: subscribers must
// dedupe by messageId.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/relaykit/whatsrelay/internal/logging"
	"github.com/relaykit/whatsrelay/internal/metrics"
	"github.com/relaykit/whatsrelay/internal/models"
	"github.com/relaykit/whatsrelay/internal/store"
)

// ErrExhausted marks an event whose delivery attempts to one subscriber
// ran out. The envelope stays in the store; only that subscriber's
// delivery obligation is dropped.
var ErrExhausted = errors.New("delivery exhausted")

// SecretHeader carries the subscriber's registered secret on every
// delivery for receiver-side verification.
const SecretHeader = "X-Webhook-Secret"

// Config controls retry and scheduling behavior.
type Config struct {
	MaxAttempts  int
	BaseBackoff  time.Duration
	Timeout      time.Duration
	PollInterval time.Duration
	BatchSize    int64
}

// DefaultConfig returns the production retry policy.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  5,
		BaseBackoff:  time.Second,
		Timeout:      10 * time.Second,
		PollInterval: 2 * time.Second,
		BatchSize:    20,
	}
}

// Dispatcher runs one delivery worker per registered subscriber. Each
// worker tracks a per-subscriber cursor persisted through the store, so
// deliveries to one subscriber preserve append order and restarts
// resume without redelivering acknowledged events.
type Dispatcher struct {
	store    store.Store
	registry *Registry
	client   *http.Client
	cfg      Config
	logger   *logging.Logger

	mu      sync.Mutex
	workers map[string]*worker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type worker struct {
	url  string
	wake chan struct{}
	stop chan struct{}
	done chan struct{}
}

// NewDispatcher creates a dispatcher over the given store and registry.
func NewDispatcher(st store.Store, reg *Registry, cfg Config, logger *logging.Logger) *Dispatcher {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Dispatcher{
		store:    st,
		registry: reg,
		client:   &http.Client{Timeout: cfg.Timeout},
		cfg:      cfg,
		logger:   logger,
		workers:  make(map[string]*worker),
	}
}

// Start launches the reconcile loop. Workers are created and torn down
// as subscribers come and go via Subscribe and Unsubscribe.
func (d *Dispatcher) Start(ctx context.Context) {
	d.ctx, d.cancel = context.WithCancel(ctx)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		interval := d.cfg.PollInterval
		if interval <= 0 {
			interval = time.Second
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		d.reconcile()
		for {
			select {
			case <-ticker.C:
				d.reconcile()
			case <-d.ctx.Done():
				return
			}
		}
	}()
}

// Stop tears down all workers and waits for in-flight deliveries to
// wind down.
func (d *Dispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.mu.Lock()
	for _, w := range d.workers {
		close(w.stop)
	}
	workers := d.workers
	d.workers = make(map[string]*worker)
	d.mu.Unlock()

	for _, w := range workers {
		<-w.done
	}
	d.wg.Wait()
}

// Subscribe registers a webhook endpoint and starts its delivery
// worker before returning. The delivery cursor is primed to the
// current stream tail first, so the subscriber receives every envelope
// appended after Subscribe returns and none of the backlog — there is
// no window in which a fresh append can be skipped.
func (d *Dispatcher) Subscribe(url, secret string) models.Subscriber {
	d.primeCursor(url)
	sub := d.registry.Register(url, secret)
	d.reconcile()
	return sub
}

// Unsubscribe removes a subscriber and tears down its worker. The
// persisted cursor is kept, so a later re-registration resumes instead
// of replaying acknowledged events.
func (d *Dispatcher) Unsubscribe(url string) bool {
	if !d.registry.Unregister(url) {
		return false
	}
	d.reconcile()
	return true
}

// List returns the current subscribers.
func (d *Dispatcher) List() []models.Subscriber {
	return d.registry.List()
}

// primeCursor moves a never-acknowledged cursor to the stream tail.
// An existing cursor is left alone.
func (d *Dispatcher) primeCursor(url string) {
	ctx := d.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	cur, err := d.store.Cursor(ctx, cursorGroup(url))
	if err == nil && cur == store.ZeroID {
		var info *store.StreamInfo
		if info, err = d.store.Info(ctx); err == nil && info.Last != nil {
			err = d.store.AdvanceCursor(ctx, cursorGroup(url), info.Last.ID)
		}
	}
	if err != nil {
		d.logger.Warn("failed to prime delivery cursor", logging.URL(url), logging.Error(err))
	}
}

// Wake nudges every worker to check for new envelopes immediately
// instead of waiting for the next poll tick.
func (d *Dispatcher) Wake() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, w := range d.workers {
		select {
		case w.wake <- struct{}{}:
		default:
		}
	}
	d.reconcileLocked()
}

// reconcile aligns the worker set with the current registry contents.
func (d *Dispatcher) reconcile() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reconcileLocked()
}

func (d *Dispatcher) reconcileLocked() {
	if d.ctx == nil || d.ctx.Err() != nil {
		return
	}

	current := make(map[string]bool)
	for _, sub := range d.registry.List() {
		current[sub.URL] = true
		if _, running := d.workers[sub.URL]; running {
			continue
		}
		w := &worker{
			url:  sub.URL,
			wake: make(chan struct{}, 1),
			stop: make(chan struct{}),
			done: make(chan struct{}),
		}
		d.workers[sub.URL] = w
		go d.runWorker(w)
	}

	for url, w := range d.workers {
		if !current[url] {
			close(w.stop)
			delete(d.workers, url)
		}
	}
}

func (d *Dispatcher) runWorker(w *worker) {
	defer close(w.done)

	interval := d.cfg.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := d.drain(w); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Warn("delivery pass failed", logging.URL(w.url), logging.Error(err))
		}
		select {
		case <-w.wake:
		case <-ticker.C:
		case <-w.stop:
			return
		case <-d.ctx.Done():
			return
		}
	}
}

// drain delivers everything past the subscriber's cursor, in append
// order. Exhausted events advance the cursor too: a dead event never
// wedges the subscriber.
func (d *Dispatcher) drain(w *worker) error {
	for {
		select {
		case <-w.stop:
			return nil
		case <-d.ctx.Done():
			return d.ctx.Err()
		default:
		}

		sub, ok := d.registry.Get(w.url)
		if !ok {
			return nil
		}

		cursor, err := d.store.Cursor(d.ctx, cursorGroup(w.url))
		if err != nil {
			return err
		}
		batch, err := d.store.ReadAfter(d.ctx, cursor, d.cfg.BatchSize)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}

		for i := range batch {
			env := &batch[i]
			err := d.deliver(w, sub, env)
			switch {
			case err == nil:
				metrics.Deliveries.WithLabelValues(metrics.OutcomeDelivered).Inc()
			case errors.Is(err, ErrExhausted):
				metrics.Deliveries.WithLabelValues(metrics.OutcomeExhausted).Inc()
				d.logger.Warn("delivery exhausted",
					logging.URL(sub.URL), logging.EventID(env.ID), logging.Error(err))
			default:
				// Stopped or cancelled mid-delivery: leave the cursor so
				// the event is retried on resume (at-least-once).
				return err
			}
			if err := d.store.AdvanceCursor(d.ctx, cursorGroup(w.url), env.ID); err != nil {
				return err
			}
		}
	}
}

// deliver attempts one envelope against one subscriber with exponential
// backoff. Every attempt, including one cancelled by its timeout,
// consumes a retry slot.
func (d *Dispatcher) deliver(w *worker, sub models.Subscriber, env *models.Envelope) error {
	payload, err := json.Marshal(models.NewDeliveryPayload(env))
	if err != nil {
		return fmt.Errorf("marshal delivery payload: %w", err)
	}

	backoff := d.cfg.BaseBackoff
	for attempt := 1; ; attempt++ {
		metrics.DeliveryAttempts.Inc()
		err := d.post(sub, payload)
		if err == nil {
			return nil
		}
		d.logger.Debug("delivery attempt failed",
			logging.URL(sub.URL), logging.EventID(env.ID), logging.Attempt(attempt), logging.Error(err))

		if attempt >= d.cfg.MaxAttempts {
			return fmt.Errorf("%w: %d attempts to %s: %v", ErrExhausted, attempt, sub.URL, err)
		}

		select {
		case <-time.After(backoff):
		case <-w.stop:
			return context.Canceled
		case <-d.ctx.Done():
			return d.ctx.Err()
		}
		backoff *= 2
	}
}

func (d *Dispatcher) post(sub models.Subscriber, payload []byte) error {
	ctx, cancel := context.WithTimeout(d.ctx, d.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if sub.Secret != "" {
		req.Header.Set(SecretHeader, sub.Secret)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("subscriber returned %d", resp.StatusCode)
	}
	return nil
}

func cursorGroup(url string) string {
	return "wh:" + url
}

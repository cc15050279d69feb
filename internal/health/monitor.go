// Package health probes the relay's dependencies.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/relaykit/whatsrelay/internal/connector"
	"github.com/relaykit/whatsrelay/internal/store"
)

const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"

	probeOK    = "ok"
	probeError = "error"
)

// Status is the aggregate health report. Check never fails; a broken
// dependency shows up as a degraded report, not an error.
type Status struct {
	Status    string `json:"status"`
	Store     string `json:"store"`
	Connector string `json:"connector"`
}

// StatusProber is the slice of the connector client the monitor needs.
type StatusProber interface {
	Status(ctx context.Context) (*connector.Response, error)
}

// Monitor probes the store and the connector concurrently, each under
// its own timeout.
type Monitor struct {
	store   store.Store
	probe   StatusProber
	timeout time.Duration
}

func NewMonitor(st store.Store, probe StatusProber, timeout time.Duration) *Monitor {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Monitor{store: st, probe: probe, timeout: timeout}
}

// Check runs both probes and aggregates the result. The relay is
// healthy only when both the store and the connector respond.
func (m *Monitor) Check(ctx context.Context) Status {
	st := Status{Store: probeError, Connector: probeError}

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		pctx, cancel := context.WithTimeout(ctx, m.timeout)
		defer cancel()
		if m.store != nil && m.store.Ping(pctx) == nil {
			st.Store = probeOK
		}
	}()

	go func() {
		defer wg.Done()
		pctx, cancel := context.WithTimeout(ctx, m.timeout)
		defer cancel()
		if m.probe == nil {
			return
		}
		if _, err := m.probe.Status(pctx); err == nil {
			st.Connector = probeOK
		}
	}()

	wg.Wait()

	if st.Store == probeOK && st.Connector == probeOK {
		st.Status = StatusHealthy
	} else {
		st.Status = StatusDegraded
	}
	return st
}

// Ready reports whether the relay can serve its core duty, which only
// requires the store.
func (m *Monitor) Ready(ctx context.Context) bool {
	pctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	return m.store != nil && m.store.Ping(pctx) == nil
}

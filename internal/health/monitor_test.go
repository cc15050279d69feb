package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaykit/whatsrelay/internal/connector"
	"github.com/relaykit/whatsrelay/internal/store"
)

type fakeProber struct {
	err error
}

func (f *fakeProber) Status(ctx context.Context) (*connector.Response, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &connector.Response{StatusCode: 200}, nil
}

func newTestStore(t *testing.T) (store.Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return store.NewStream(client, "test:messages"), mr
}

func TestMonitor_Healthy(t *testing.T) {
	st, _ := newTestStore(t)
	m := NewMonitor(st, &fakeProber{}, time.Second)

	got := m.Check(context.Background())
	assert.Equal(t, StatusHealthy, got.Status)
	assert.Equal(t, "ok", got.Store)
	assert.Equal(t, "ok", got.Connector)
	assert.True(t, m.Ready(context.Background()))
}

func TestMonitor_ConnectorDown(t *testing.T) {
	st, _ := newTestStore(t)
	m := NewMonitor(st, &fakeProber{err: errors.New("connection refused")}, time.Second)

	got := m.Check(context.Background())
	assert.Equal(t, StatusDegraded, got.Status)
	assert.Equal(t, "ok", got.Store)
	assert.Equal(t, "error", got.Connector)

	// the store alone keeps the relay ready to buffer
	assert.True(t, m.Ready(context.Background()))
}

func TestMonitor_StoreDown(t *testing.T) {
	st, mr := newTestStore(t)
	mr.Close()
	m := NewMonitor(st, &fakeProber{}, time.Second)

	got := m.Check(context.Background())
	assert.Equal(t, StatusDegraded, got.Status)
	assert.Equal(t, "error", got.Store)
	assert.False(t, m.Ready(context.Background()))
}

func TestMonitor_NilProber(t *testing.T) {
	st, _ := newTestStore(t)
	m := NewMonitor(st, nil, time.Second)

	got := m.Check(context.Background())
	assert.Equal(t, StatusDegraded, got.Status)
	assert.Equal(t, "error", got.Connector)
}

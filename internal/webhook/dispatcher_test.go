package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaykit/whatsrelay/internal/models"
	"github.com/relaykit/whatsrelay/internal/store"
)

func testConfig() Config {
	return Config{
		MaxAttempts:  3,
		BaseBackoff:  25 * time.Millisecond,
		Timeout:      time.Second,
		PollInterval: 25 * time.Millisecond,
		BatchSize:    20,
	}
}

func setupDispatcher(t *testing.T) (*Dispatcher, store.Store) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})

	st := store.NewStream(client, "test:messages")
	d := NewDispatcher(st, NewRegistry(), testConfig(), nil)
	d.Start(context.Background())
	t.Cleanup(d.Stop)
	return d, st
}

// receiver records delivery payloads. The first `failures` requests
// are answered with HTTP 500.
type receiver struct {
	mu           sync.Mutex
	failures     int
	attempts     int
	attemptTimes []time.Time
	bodies       []DeliveryRecord
	secrets      []string
}

type DeliveryRecord struct {
	Payload models.DeliveryPayload
	At      time.Time
}

func (rcv *receiver) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rcv.mu.Lock()
		defer rcv.mu.Unlock()
		rcv.attempts++
		rcv.attemptTimes = append(rcv.attemptTimes, time.Now())
		if rcv.attempts <= rcv.failures {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		body, _ := io.ReadAll(r.Body)
		var p models.DeliveryPayload
		if err := json.Unmarshal(body, &p); err == nil {
			rcv.bodies = append(rcv.bodies, DeliveryRecord{Payload: p, At: time.Now()})
			rcv.secrets = append(rcv.secrets, r.Header.Get(SecretHeader))
		}
		w.WriteHeader(http.StatusOK)
	}
}

func (rcv *receiver) delivered() []DeliveryRecord {
	rcv.mu.Lock()
	defer rcv.mu.Unlock()
	out := make([]DeliveryRecord, len(rcv.bodies))
	copy(out, rcv.bodies)
	return out
}

func (rcv *receiver) attemptCount() int {
	rcv.mu.Lock()
	defer rcv.mu.Unlock()
	return rcv.attempts
}

func appendEnvelope(t *testing.T, st store.Store, jid, text string) string {
	t.Helper()
	id, err := st.Append(context.Background(), &models.Envelope{
		JID:        jid,
		Type:       models.TypeText,
		Data:       map[string]interface{}{"text": text},
		Timestamp:  time.Now().UnixMilli(),
		ReceivedAt: time.Now().UTC().Format(time.RFC3339),
	})
	require.NoError(t, err)
	return id
}

func TestDispatcher_DeliversAppendedEvent(t *testing.T) {
	d, st := setupDispatcher(t)

	rcv := &receiver{}
	srv := httptest.NewServer(rcv.handler())
	defer srv.Close()

	d.Subscribe(srv.URL, "hook-secret")

	id := appendEnvelope(t, st, "972501234567@s.whatsapp.net", "hello")
	d.Wake()

	require.Eventually(t, func() bool {
		return len(rcv.delivered()) == 1
	}, 3*time.Second, 10*time.Millisecond)

	got := rcv.delivered()[0].Payload
	assert.Equal(t, id, got.MessageID)
	assert.Equal(t, "972501234567@s.whatsapp.net", got.JID)
	assert.Equal(t, models.TypeText, got.Type)
	assert.Equal(t, "hello", got.Data["text"])

	rcv.mu.Lock()
	assert.Equal(t, "hook-secret", rcv.secrets[0])
	rcv.mu.Unlock()
}

func TestDispatcher_FirstEventAfterSubscribeIsDelivered(t *testing.T) {
	d, st := setupDispatcher(t)

	rcv := &receiver{}
	srv := httptest.NewServer(rcv.handler())
	defer srv.Close()

	// No delay between subscribing and the first append: the very next
	// envelope must reach the subscriber.
	d.Subscribe(srv.URL, "")
	firstID := appendEnvelope(t, st, "a@s.whatsapp.net", "first")
	d.Wake()
	secondID := appendEnvelope(t, st, "a@s.whatsapp.net", "second")
	d.Wake()

	require.Eventually(t, func() bool {
		return len(rcv.delivered()) == 2
	}, 3*time.Second, 10*time.Millisecond)

	got := rcv.delivered()
	assert.Equal(t, firstID, got[0].Payload.MessageID)
	assert.Equal(t, secondID, got[1].Payload.MessageID)
}

func TestDispatcher_RetriesUntilSuccess(t *testing.T) {
	d, st := setupDispatcher(t)

	rcv := &receiver{failures: 2}
	srv := httptest.NewServer(rcv.handler())
	defer srv.Close()

	d.Subscribe(srv.URL, "")
	appendEnvelope(t, st, "a@s.whatsapp.net", "retry me")
	d.Wake()

	require.Eventually(t, func() bool {
		return len(rcv.delivered()) == 1
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, 3, rcv.attemptCount())

	rcv.mu.Lock()
	gap1 := rcv.attemptTimes[1].Sub(rcv.attemptTimes[0])
	gap2 := rcv.attemptTimes[2].Sub(rcv.attemptTimes[1])
	rcv.mu.Unlock()
	assert.Greater(t, gap2, gap1, "backoff intervals must grow between attempts")
}

func TestDispatcher_ExhaustionDoesNotBlockLaterEvents(t *testing.T) {
	d, st := setupDispatcher(t)

	rcv := &receiver{failures: 3} // first event burns all 3 attempts
	srv := httptest.NewServer(rcv.handler())
	defer srv.Close()

	d.Subscribe(srv.URL, "")
	appendEnvelope(t, st, "a@s.whatsapp.net", "doomed")
	secondID := appendEnvelope(t, st, "a@s.whatsapp.net", "fine")
	d.Wake()

	require.Eventually(t, func() bool {
		return len(rcv.delivered()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, secondID, rcv.delivered()[0].Payload.MessageID)
	assert.Equal(t, 4, rcv.attemptCount())

	// the exhausted event must never be retried again
	cur, err := st.Cursor(context.Background(), cursorGroup(srv.URL))
	require.NoError(t, err)
	assert.Equal(t, secondID, cur)
}

func TestDispatcher_NewSubscriberSkipsBacklog(t *testing.T) {
	d, st := setupDispatcher(t)

	appendEnvelope(t, st, "old@s.whatsapp.net", "backlog")

	rcv := &receiver{}
	srv := httptest.NewServer(rcv.handler())
	defer srv.Close()

	d.Subscribe(srv.URL, "")
	freshID := appendEnvelope(t, st, "new@s.whatsapp.net", "fresh")
	d.Wake()

	require.Eventually(t, func() bool {
		return len(rcv.delivered()) == 1
	}, 3*time.Second, 10*time.Millisecond)

	assert.Equal(t, freshID, rcv.delivered()[0].Payload.MessageID)
}

func TestDispatcher_IndependentSubscribers(t *testing.T) {
	d, st := setupDispatcher(t)

	healthy := &receiver{}
	healthySrv := httptest.NewServer(healthy.handler())
	defer healthySrv.Close()

	broken := &receiver{failures: 1 << 20}
	brokenSrv := httptest.NewServer(broken.handler())
	defer brokenSrv.Close()

	d.Subscribe(healthySrv.URL, "")
	d.Subscribe(brokenSrv.URL, "")

	appendEnvelope(t, st, "a@s.whatsapp.net", "one")
	appendEnvelope(t, st, "a@s.whatsapp.net", "two")
	d.Wake()

	require.Eventually(t, func() bool {
		return len(healthy.delivered()) == 2
	}, 3*time.Second, 10*time.Millisecond)
	assert.Empty(t, broken.delivered())
}

func TestDispatcher_UnsubscribeStopsDeliveries(t *testing.T) {
	d, st := setupDispatcher(t)

	rcv := &receiver{}
	srv := httptest.NewServer(rcv.handler())
	defer srv.Close()

	d.Subscribe(srv.URL, "")
	appendEnvelope(t, st, "a@s.whatsapp.net", "before")
	d.Wake()
	require.Eventually(t, func() bool {
		return len(rcv.delivered()) == 1
	}, 3*time.Second, 10*time.Millisecond)

	require.True(t, d.Unsubscribe(srv.URL))

	appendEnvelope(t, st, "a@s.whatsapp.net", "after")
	d.Wake()
	time.Sleep(150 * time.Millisecond)

	assert.Len(t, rcv.delivered(), 1)
}

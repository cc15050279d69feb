package connector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Status(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/status", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"connected": true, "jid": "972501234567:12@s.whatsapp.net"})
	}))
	defer srv.Close()

	c := New(srv.URL, 5*time.Second)
	resp, err := c.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"connected":true,"jid":"972501234567:12@s.whatsapp.net"}`, string(resp.Body))
}

func TestClient_SendForwardsBodyAndStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/send/text", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "hello", body["text"])

		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{"messageId": "3EB0"})
	}))
	defer srv.Close()

	c := New(srv.URL, 5*time.Second)
	resp, err := c.Send(context.Background(), "text", json.RawMessage(`{"phone":"972501234567","text":"hello"}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.JSONEq(t, `{"messageId":"3EB0"}`, string(resp.Body))
}

func TestClient_SendRejectsUnknownKind(t *testing.T) {
	c := New("http://localhost:0", time.Second)
	_, err := c.Send(context.Background(), "carrier-pigeon", nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnavailable)
}

func TestClient_BridgeErrorStatusIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "not logged in"})
	}))
	defer srv.Close()

	c := New(srv.URL, 5*time.Second)
	resp, err := c.Logout(context.Background())
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.JSONEq(t, `{"error":"not logged in"}`, string(resp.Body))
}

func TestClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := New(srv.URL, time.Second)
	_, err := c.Status(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestClient_ContactsForwardsQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/contacts", r.URL.Path)
		assert.Equal(t, "q=dav&limit=5", r.URL.RawQuery)
		json.NewEncoder(w).Encode([]map[string]string{{"jid": "972501234567@s.whatsapp.net", "name": "Dave"}})
	}))
	defer srv.Close()

	c := New(srv.URL, 5*time.Second)
	resp, err := c.Contacts(context.Background(), "q=dav&limit=5")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[{"jid":"972501234567@s.whatsapp.net","name":"Dave"}]`, string(resp.Body))
}

func TestClient_ContactsCount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/contacts/count", r.URL.Path)
		assert.Empty(t, r.URL.RawQuery)
		json.NewEncoder(w).Encode(map[string]int{"count": 42})
	}))
	defer srv.Close()

	c := New(srv.URL, 5*time.Second)
	resp, err := c.ContactsCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"count":42}`, string(resp.Body))
}

func TestClient_Interact(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/send/button-click", r.URL.Path)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := New(srv.URL, 5*time.Second)
	resp, err := c.Interact(context.Background(), "button-click", json.RawMessage(`{"buttonId":"b1"}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	_, err = c.Interact(context.Background(), "swipe", nil)
	assert.Error(t, err)
}

package delivery

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeliverSucceeds(t *testing.T) {
	var got atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		got.Store(body["kind"])
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	d := NewHTTPDeliverer(srv.URL, time.Second, zerolog.Nop())
	err := d.Deliver(context.Background(), json.RawMessage(`{"kind":"mood"}`))
	require.NoError(t, err)
	assert.Equal(t, "mood", got.Load())
}

func TestDeliverRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewHTTPDeliverer(srv.URL, time.Second, zerolog.Nop())
	err := d.Deliver(context.Background(), json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestDeliverDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	d := NewHTTPDeliverer(srv.URL, time.Second, zerolog.Nop())
	err := d.Deliver(context.Background(), json.RawMessage(`{}`))
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load(), "4xx must be permanent")
}

func TestFetchTodayParsesItem(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c-1","contentDate":"2026-06-15","payload":{"title":"hello"}}`))
	}))
	defer srv.Close()

	f := NewFetcher(srv.URL, time.Second, zerolog.Nop())
	item, err := f.FetchToday(context.Background())
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, "c-1", item.ID)
	assert.Equal(t, "2026-06-15", item.ContentDate)
	assert.True(t, item.IsFromNetwork)
}

func TestFetchTodayNoContentYet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	f := NewFetcher(srv.URL, time.Second, zerolog.Nop())
	item, err := f.FetchToday(context.Background())
	require.NoError(t, err)
	assert.Nil(t, item)
}

func TestFetchTodayServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := NewFetcher(srv.URL, time.Second, zerolog.Nop())
	_, err := f.FetchToday(context.Background())
	require.Error(t, err)
}

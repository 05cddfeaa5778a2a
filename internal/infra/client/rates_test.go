package client_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/boddenberg/ledger-sync/internal/domain"
	"github.com/boddenberg/ledger-sync/internal/infra/cache"
	"github.com/boddenberg/ledger-sync/internal/infra/client"
	"github.com/boddenberg/ledger-sync/internal/infra/observability"
	"github.com/boddenberg/ledger-sync/internal/infra/resilience"
)

func newRatesClient(url string, retries int) *client.RatesClient {
	quotes := cache.New[*domain.Quotes](30 * time.Minute)
	return client.NewRatesClient(
		&http.Client{Timeout: time.Second},
		url,
		resilience.Config{MaxRetries: retries, InitialBackoff: time.Millisecond},
		quotes,
		observability.NewMetrics(),
	)
}

func TestRatesClient_FetchAndMemoize(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if r.URL.Path != "/latest" || r.URL.Query().Get("from") != "USD" || r.URL.Query().Get("to") != "EUR,TRY" {
			t.Errorf("unexpected request %s", r.URL.String())
		}
		w.Write([]byte(`{"amount":1.0,"base":"USD","date":"2024-03-15","rates":{"EUR":0.92,"TRY":32.1}}`))
	}))
	defer srv.Close()

	c := newRatesClient(srv.URL, 0)

	q, err := c.FetchRates(context.Background(), "USD", []string{"TRY", "EUR"})
	if err != nil {
		t.Fatal(err)
	}
	if q.Rates["EUR"] != 0.92 || q.AsOf != "2024-03-15" {
		t.Errorf("unexpected quotes %+v", q)
	}

	if _, err := c.FetchRates(context.Background(), "USD", []string{"EUR", "TRY"}); err != nil {
		t.Fatal(err)
	}
	if n := atomic.LoadInt32(&hits); n != 1 {
		t.Errorf("expected memoized second call, got %d hits", n)
	}
}

func TestRatesClient_RetriesServerErrors(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"base":"USD","date":"2024-03-15","rates":{"EUR":0.9}}`))
	}))
	defer srv.Close()

	q, err := newRatesClient(srv.URL, 3).FetchRates(context.Background(), "USD", []string{"EUR"})
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if q.Rates["EUR"] != 0.9 {
		t.Errorf("unexpected quotes %+v", q)
	}
}

func TestRatesClient_ClientErrorIsNotRetried(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newRatesClient(srv.URL, 3).FetchRates(context.Background(), "USD", []string{"XXX"})

	var ext *domain.ErrExternalService
	if !errors.As(err, &ext) {
		t.Fatalf("expected ErrExternalService, got %v", err)
	}
	if n := atomic.LoadInt32(&hits); n != 1 {
		t.Errorf("expected a single attempt, got %d", n)
	}
}

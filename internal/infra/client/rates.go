// Package client holds HTTP adapters for third-party APIs.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/boddenberg/ledger-sync/internal/domain"
	"github.com/boddenberg/ledger-sync/internal/infra/cache"
	"github.com/boddenberg/ledger-sync/internal/infra/observability"
	"github.com/boddenberg/ledger-sync/internal/infra/resilience"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("client")

// DefaultRatesURL is the public Frankfurter API.
const DefaultRatesURL = "https://api.frankfurter.app"

// frankfurterResponse is the body of GET /latest.
type frankfurterResponse struct {
	Amount float64            `json:"amount"`
	Base   string             `json:"base"`
	Date   string             `json:"date"`
	Rates  map[string]float64 `json:"rates"`
}

// RatesClient fetches live quotes from a Frankfurter-compatible API.
// Answers are memoized per (base, symbols).
type RatesClient struct {
	httpClient *http.Client
	baseURL    string
	cb         *gobreaker.CircuitBreaker
	cfg        resilience.Config
	quotes     *cache.InMemory[*domain.Quotes]
	metrics    *observability.Metrics
}

// NewRatesClient creates a new RatesClient.
func NewRatesClient(httpClient *http.Client, baseURL string, cfg resilience.Config, quotes *cache.InMemory[*domain.Quotes], metrics *observability.Metrics) *RatesClient {
	if baseURL == "" {
		baseURL = DefaultRatesURL
	}
	return &RatesClient{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		cb:         resilience.NewCircuitBreaker("rates", nil),
		cfg:        cfg,
		quotes:     quotes,
		metrics:    metrics,
	}
}

// FetchRates implements port.RateProvider with retry, circuit breaker, and tracing.
func (c *RatesClient) FetchRates(ctx context.Context, base string, symbols []string) (*domain.Quotes, error) {
	ctx, span := tracer.Start(ctx, "RatesClient.FetchRates")
	defer span.End()

	syms := append([]string(nil), symbols...)
	sort.Strings(syms)
	key := base + ":" + strings.Join(syms, ",")
	span.SetAttributes(attribute.String("fx.base", base), attribute.String("fx.symbols", strings.Join(syms, ",")))

	if q, ok := c.quotes.Get(key); ok {
		c.metrics.IncrCacheHit("fx_quotes")
		return q, nil
	}
	c.metrics.IncrCacheMiss("fx_quotes")

	result, err := c.cb.Execute(func() (any, error) {
		var quotes *domain.Quotes
		innerErr := resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			q := url.Values{}
			q.Set("from", base)
			if len(syms) > 0 {
				q.Set("to", strings.Join(syms, ","))
			}
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/latest?"+q.Encode(), nil)
			if err != nil {
				return resilience.Permanent(err)
			}

			resp, err := c.httpClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return resilience.Permanent(fmt.Errorf("rates API returned status %d", resp.StatusCode))
			}
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("rates API returned status %d", resp.StatusCode)
			}

			var body frankfurterResponse
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				return resilience.Permanent(fmt.Errorf("decode rates: %w", err))
			}
			if len(body.Rates) == 0 {
				return resilience.Permanent(fmt.Errorf("rates API returned no rates"))
			}
			quotes = &domain.Quotes{Base: body.Base, Rates: body.Rates, AsOf: body.Date}
			return nil
		})
		if innerErr != nil {
			return nil, innerErr
		}
		return quotes, nil
	})

	if err != nil {
		span.RecordError(err)
		return nil, &domain.ErrExternalService{Service: "rates", Err: err}
	}

	quotes := result.(*domain.Quotes)
	c.quotes.Set(key, quotes)
	return quotes, nil
}

// Package supabase is the PostgREST adapter of the remote ledger store.
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/boddenberg/ledger-sync/internal/domain"
	"github.com/boddenberg/ledger-sync/internal/infra/observability"
	"github.com/boddenberg/ledger-sync/internal/infra/resilience"
	"github.com/boddenberg/ledger-sync/internal/port"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("supabase")

const serviceName = "supabase"

// Client implements port.RemoteStore over the Supabase REST API.
//
// Requests carry the caller's access token when the context has one, so
// row-level security applies; otherwise the service role key is used.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	apiKey         string
	serviceRoleKey string
	cb             *gobreaker.CircuitBreaker
	bulkhead       *resilience.Bulkhead
	tokenFrom      func(context.Context) string
	metrics        *observability.Metrics
	logger         *zap.Logger
}

// NewClient creates a Supabase client.
func NewClient(
	httpClient *http.Client,
	baseURL, apiKey, serviceRoleKey string,
	cfg resilience.Config,
	tokenFrom func(context.Context) string,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *Client {
	return &Client{
		httpClient:     httpClient,
		baseURL:        baseURL,
		apiKey:         apiKey,
		serviceRoleKey: serviceRoleKey,
		cb:             resilience.NewCircuitBreaker(serviceName, isCallerError),
		bulkhead:       resilience.NewBulkhead(cfg.MaxConcurrency),
		tokenFrom:      tokenFrom,
		metrics:        metrics,
		logger:         logger,
	}
}

// isCallerError reports errors that do not count against the breaker.
func isCallerError(err error) bool {
	var rejected *domain.ErrRemoteRejected
	var unauth *domain.ErrNotAuthenticated
	return errors.As(err, &rejected) || errors.As(err, &unauth)
}

// List implements port.RemoteStore.
func (c *Client) List(ctx context.Context, table string, filter port.Filter, out any) error {
	body, err := c.call(ctx, "list", table, http.MethodGet, table+"?"+filterQuery(filter, true), nil, "")
	if err != nil {
		return err
	}
	if len(body) == 0 {
		body = []byte("[]")
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &domain.ErrExternalService{Service: serviceName, Err: fmt.Errorf("decode %s: %w", table, err)}
	}
	return nil
}

// Insert implements port.RemoteStore. rows may be a slice (bulk insert) or a
// single row; out, when non-nil, receives the inserted rows.
func (c *Client) Insert(ctx context.Context, table string, rows any, out any) error {
	payload, err := json.Marshal(rows)
	if err != nil {
		return &domain.ErrRemoteRejected{Table: table, Op: "insert", Err: err}
	}
	prefer := "return=minimal"
	if out != nil {
		prefer = "return=representation"
	}
	body, err := c.call(ctx, "insert", table, http.MethodPost, table, payload, prefer)
	if err != nil {
		return err
	}
	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return &domain.ErrExternalService{Service: serviceName, Err: fmt.Errorf("decode %s: %w", table, err)}
		}
	}
	return nil
}

// Update implements port.RemoteStore.
func (c *Client) Update(ctx context.Context, table string, filter port.Filter, patch map[string]any) error {
	payload, err := json.Marshal(patch)
	if err != nil {
		return &domain.ErrRemoteRejected{Table: table, Op: "update", Err: err}
	}
	_, err = c.call(ctx, "update", table, http.MethodPatch, table+"?"+filterQuery(filter, false), payload, "return=minimal")
	return err
}

// Delete implements port.RemoteStore.
func (c *Client) Delete(ctx context.Context, table string, filter port.Filter) error {
	_, err := c.call(ctx, "delete", table, http.MethodDelete, table+"?"+filterQuery(filter, false), nil, "")
	return err
}

// call runs one request inside the bulkhead and the circuit breaker and maps
// the outcome to domain errors.
func (c *Client) call(ctx context.Context, op, table, method, path string, payload []byte, prefer string) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "Supabase."+op)
	defer span.End()
	span.SetAttributes(
		attribute.String("db.table", table),
		attribute.String("db.operation", op),
	)

	start := time.Now()
	defer func() { c.metrics.RecordRequestDuration("supabase."+op, time.Since(start)) }()

	if err := c.bulkhead.Acquire(ctx); err != nil {
		return nil, &domain.ErrExternalService{Service: serviceName, Err: err}
	}
	defer c.bulkhead.Release()

	res, err := c.cb.Execute(func() (any, error) {
		return c.doRequest(ctx, op, table, method, path, payload, prefer)
	})
	if err != nil {
		span.RecordError(err)
		if resilience.IsBreakerOpen(err) {
			c.metrics.IncrExternalError(serviceName)
			return nil, &domain.ErrCircuitOpen{Service: serviceName}
		}
		if !isCallerError(err) {
			c.metrics.IncrExternalError(serviceName)
		}
		return nil, err
	}
	body, _ := res.([]byte)
	return body, nil
}

// doRequest executes an authenticated request to Supabase PostgREST.
func (c *Client) doRequest(ctx context.Context, op, table, method, path string, payload []byte, prefer string) ([]byte, error) {
	url := fmt.Sprintf("%s/rest/v1/%s", c.baseURL, path)

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: serviceName, Err: err}
	}
	c.setHeaders(ctx, req, prefer)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("supabase: request failed",
			zap.String("op", op),
			zap.String("table", table),
			zap.Error(err),
		)
		return nil, &domain.ErrExternalService{Service: serviceName, Err: err}
	}
	defer resp.Body.Close()

	body, err := readBody(resp)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: serviceName, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("supabase: non-2xx response",
			zap.String("op", op),
			zap.String("table", table),
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(body)),
		)
		return nil, statusError(op, table, resp.StatusCode, body)
	}

	c.logger.Debug("supabase: request OK",
		zap.String("op", op),
		zap.String("table", table),
		zap.Int("status", resp.StatusCode),
	)
	return body, nil
}

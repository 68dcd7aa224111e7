// Package supabase provides a client for Supabase (PostgREST + Auth).
// It is the production backend behind port.RowStore and port.AuthBackend.
package supabase

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/boddenberg/consultant-bfa-go/internal/domain"
	"github.com/boddenberg/consultant-bfa-go/internal/infra/observability"
	"github.com/boddenberg/consultant-bfa-go/internal/infra/resilience"
	"github.com/boddenberg/consultant-bfa-go/internal/port"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("supabase")

// Client wraps HTTP calls to the Supabase PostgREST and GoTrue APIs.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	anonKey        string
	serviceRoleKey string
	cb             *gobreaker.CircuitBreaker
	bulkhead       *resilience.Bulkhead
	cfg            resilience.Config
	metrics        *observability.Metrics
	logger         *zap.Logger
}

var (
	_ port.RowStore    = (*Client)(nil)
	_ port.AuthBackend = (*Client)(nil)
)

// NewClient creates a Supabase client.
func NewClient(httpClient *http.Client, baseURL, anonKey, serviceRoleKey string, cb *gobreaker.CircuitBreaker, cfg resilience.Config, metrics *observability.Metrics, logger *zap.Logger) *Client {
	return &Client{
		httpClient:     httpClient,
		baseURL:        strings.TrimRight(baseURL, "/"),
		anonKey:        anonKey,
		serviceRoleKey: serviceRoleKey,
		cb:             cb,
		bulkhead:       resilience.NewBulkhead(cfg.MaxConcurrency),
		cfg:            cfg,
		metrics:        metrics,
		logger:         logger,
	}
}

// call runs fn under the bulkhead and the circuit breaker. Reads may retry;
// writes never do since they are not idempotent.
func (c *Client) call(ctx context.Context, op string, retry bool, fn func(ctx context.Context) error) error {
	ctx, span := tracer.Start(ctx, "Supabase."+op)
	defer span.End()

	start := time.Now()
	defer func() { c.metrics.RecordRequestDuration("supabase."+op, time.Since(start)) }()

	if err := c.bulkhead.Acquire(ctx); err != nil {
		return c.mapError(op, err)
	}
	defer c.bulkhead.Release()

	_, err := c.cb.Execute(func() (any, error) {
		if !retry {
			return nil, fn(ctx)
		}
		return nil, resilience.RetryWithBackoff(ctx, c.cfg, func() error { return fn(ctx) })
	})
	if err != nil {
		span.RecordError(err)
	}
	return c.mapError(op, err)
}

// mapError converts transport and breaker failures into domain errors and
// lets already-typed domain errors through.
func (c *Client) mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &domain.ErrCircuitOpen{Service: "supabase"}
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &domain.ErrTimeout{Operation: "supabase." + op}
	}
	if typed := domainError(err); typed != nil {
		return typed
	}

	c.metrics.IncrExternalError("supabase")
	status := 0
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		status = apiErr.Status
	}
	return &domain.ErrExternalService{Service: "supabase/" + op, Status: status, Err: err}
}

func domainError(err error) error {
	var (
		notFound     *domain.ErrNotFound
		unauth       *domain.ErrUnauthenticated
		invalidCreds *domain.ErrInvalidCredentials
		validation   *domain.ErrValidation
		conflict     *domain.ErrConflict
	)
	switch {
	case errors.As(err, &notFound):
		return notFound
	case errors.As(err, &unauth):
		return unauth
	case errors.As(err, &invalidCreds):
		return invalidCreds
	case errors.As(err, &validation):
		return validation
	case errors.As(err, &conflict):
		return conflict
	}
	return nil
}

// --- Row API (implements port.RowStore) ---

// rowError maps PostgREST client errors onto domain errors.
func rowError(table string) func(*apiError) error {
	return func(e *apiError) error {
		switch {
		case e.Status == http.StatusUnauthorized, e.Status == http.StatusForbidden, e.Code == "42501":
			return &domain.ErrUnauthenticated{Operation: table}
		case e.Status == http.StatusConflict, e.Code == "23505":
			return &domain.ErrConflict{Message: e.Message}
		case e.Code == "22P02", e.Code == "23502", e.Code == "23503", e.Code == "23514", e.Code == "22007":
			return &domain.ErrValidation{Field: table, Message: e.Message}
		}
		return e
	}
}

// Select reads rows of table into out (a pointer to a slice).
func (c *Client) Select(ctx context.Context, table string, q port.Query, out any) error {
	return c.call(ctx, "select."+table, true, func(ctx context.Context) error {
		req, err := c.newRequest(ctx, http.MethodGet, c.restURL(table, queryParams(q)), nil, c.bearer(ctx))
		if err != nil {
			return resilience.Permanent(err)
		}
		body, err := c.send(req)
		if err != nil {
			return classify(err, rowError(table))
		}
		return decodeInto(body, out)
	})
}

// Insert creates one row and decodes the stored representation into out.
func (c *Client) Insert(ctx context.Context, table string, row any, out any) error {
	return c.call(ctx, "insert."+table, false, func(ctx context.Context) error {
		req, err := c.newRequest(ctx, http.MethodPost, c.restURL(table, nil), row, c.bearer(ctx))
		if err != nil {
			return resilience.Permanent(err)
		}
		req.Header.Set("Prefer", "return=representation")
		body, err := c.send(req)
		if err != nil {
			return classify(err, rowError(table))
		}
		return decodeInto(body, out)
	})
}

// Update patches every row matching filters and decodes the updated rows into out.
func (c *Client) Update(ctx context.Context, table string, filters []port.Filter, patch any, out any) error {
	return c.call(ctx, "update."+table, false, func(ctx context.Context) error {
		req, err := c.newRequest(ctx, http.MethodPatch, c.restURL(table, filterParams(filters)), patch, c.bearer(ctx))
		if err != nil {
			return resilience.Permanent(err)
		}
		req.Header.Set("Prefer", "return=representation")
		body, err := c.send(req)
		if err != nil {
			return classify(err, rowError(table))
		}
		return decodeInto(body, out)
	})
}

// Delete removes every row matching filters.
func (c *Client) Delete(ctx context.Context, table string, filters []port.Filter) error {
	if len(filters) == 0 {
		return &domain.ErrValidation{Field: "filters", Message: "refusing to delete without a filter"}
	}
	return c.call(ctx, "delete."+table, false, func(ctx context.Context) error {
		req, err := c.newRequest(ctx, http.MethodDelete, c.restURL(table, filterParams(filters)), nil, c.bearer(ctx))
		if err != nil {
			return resilience.Permanent(err)
		}
		req.Header.Set("Prefer", "return=minimal")
		_, err = c.send(req)
		if err != nil {
			return classify(err, rowError(table))
		}
		return nil
	})
}

// Ping checks that the auth service answers. Used by readiness checks.
func (c *Client) Ping(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Supabase.Ping")
	defer span.End()
	span.SetAttributes(attribute.String("supabase.url", c.baseURL))

	req, err := c.newRequest(ctx, http.MethodGet, c.authURL("health", nil), nil, c.anonKey)
	if err != nil {
		return err
	}
	if _, err := c.send(req); err != nil {
		return c.mapError("ping", err)
	}
	return nil
}

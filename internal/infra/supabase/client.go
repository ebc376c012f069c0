// Package supabase provides a LedgerStore backed by Supabase (PostgREST).
// Every table is filtered by owner_id; row level security on the project
// side is a second line, not the only one.
package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/boddenberg/milhas-bfa-go/internal/domain"
	"github.com/boddenberg/milhas-bfa-go/internal/infra/observability"
	"github.com/boddenberg/milhas-bfa-go/internal/infra/resilience"
	"github.com/boddenberg/milhas-bfa-go/internal/port"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("supabase")

const storeName = "supabase"

// Client wraps HTTP calls to the Supabase PostgREST API.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	apiKey         string
	serviceRoleKey string
	cb             *gobreaker.CircuitBreaker
	cfg            resilience.Config
	bulkhead       *resilience.Bulkhead
	metrics        *observability.Metrics
	logger         *zap.Logger
}

var _ port.LedgerStore = (*Client)(nil)

// NewClient creates a Supabase client.
func NewClient(httpClient *http.Client, baseURL, apiKey, serviceRoleKey string, cb *gobreaker.CircuitBreaker, cfg resilience.Config, metrics *observability.Metrics, logger *zap.Logger) *Client {
	return &Client{
		httpClient:     httpClient,
		baseURL:        strings.TrimRight(baseURL, "/"),
		apiKey:         apiKey,
		serviceRoleKey: serviceRoleKey,
		cb:             cb,
		cfg:            cfg,
		bulkhead:       resilience.NewBulkhead(cfg.MaxConcurrency),
		metrics:        metrics,
		logger:         logger,
	}
}

// Ping issues a cheap read to check PostgREST is reachable.
func (c *Client) Ping(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Supabase.Ping")
	defer span.End()

	var rows []json.RawMessage
	return c.get(ctx, "programs?select=id&limit=1", &rows)
}

// ============================================================
// Call plumbing
// ============================================================

// get reads path and decodes the JSON array into out. Reads are idempotent
// and therefore retried with backoff.
func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.call(ctx, http.MethodGet, path, true, func() ([]byte, error) {
		return c.doRequest(ctx, http.MethodGet, path, nil, "")
	}, out)
}

// write sends a mutation once. Writes are not retried: a retried POST after
// a lost response would duplicate rows.
func (c *Client) write(ctx context.Context, method, path string, payload any, prefer string, out any) error {
	return c.call(ctx, method, path, false, func() ([]byte, error) {
		return c.doRequest(ctx, method, path, payload, prefer)
	}, out)
}

func (c *Client) call(ctx context.Context, method, path string, retry bool, do func() ([]byte, error), out any) error {
	var body []byte
	err := c.bulkhead.Do(ctx, func() error {
		_, err := c.cb.Execute(func() (any, error) {
			attempt := func() error {
				b, err := do()
				if err != nil {
					return err
				}
				body = b
				return nil
			}
			var err error
			if retry {
				err = resilience.RetryWithBackoff(ctx, c.cfg, attempt)
			} else {
				err = attempt()
			}
			if isClientError(err) {
				return nil, resilience.Permanent(err)
			}
			return nil, err
		})
		return err
	})
	if err != nil {
		return c.mapError(method, path, err)
	}

	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		c.metrics.IncrStoreError(storeName)
		return &domain.ErrPersistence{Store: storeName, Err: fmt.Errorf("decode %s: %w", tableOf(path), err)}
	}
	return nil
}

// mapError converts transport and PostgREST failures into domain errors.
func (c *Client) mapError(method, path string, err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		c.metrics.IncrStoreError(storeName)
		return &domain.ErrCircuitOpen{Service: storeName}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &domain.ErrTimeout{Operation: method + " " + tableOf(path)}
	}

	var se *statusError
	if errors.As(err, &se) && se.status == http.StatusConflict {
		return &domain.ErrConflict{Message: "duplicate " + tableOf(path)}
	}

	c.metrics.IncrStoreError(storeName)
	c.logger.Error("supabase: call failed",
		zap.String("method", method),
		zap.String("table", tableOf(path)),
		zap.Error(err),
	)
	return &domain.ErrPersistence{Store: storeName, Err: err}
}

// ============================================================
// Query building
// ============================================================

func eq(v string) string {
	return "eq." + url.QueryEscape(v)
}

func inList(ids []string) string {
	escaped := make([]string, len(ids))
	for i, id := range ids {
		escaped[i] = url.QueryEscape(id)
	}
	return "in.(" + strings.Join(escaped, ",") + ")"
}

// query renders table?k=v&... keeping the PostgREST operators unescaped.
func query(table string, params ...string) string {
	if len(params) == 0 {
		return table
	}
	var b strings.Builder
	b.WriteString(table)
	for i := 0; i+1 < len(params); i += 2 {
		if i == 0 {
			b.WriteByte('?')
		} else {
			b.WriteByte('&')
		}
		b.WriteString(params[i])
		b.WriteByte('=')
		b.WriteString(params[i+1])
	}
	return b.String()
}

func tableOf(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		return path[:i]
	}
	return path
}

func ownerFilter(ownerID string) []string {
	return []string{"owner_id", eq(ownerID)}
}

func notFound(resource, id string) error {
	return &domain.ErrNotFound{Resource: resource, ID: id}
}

func ownerAttr(ownerID string) attribute.KeyValue {
	return attribute.String("owner.id", ownerID)
}

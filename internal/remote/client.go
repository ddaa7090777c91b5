// Package remote – shared request plumbing.
//
// All three service clients funnel through Client.do, which owns JSON
// encoding/decoding, outbound rate limiting, tracing, metrics, and the
// mapping from transport/status failures to the FetchError/WriteError
// taxonomy. Individual clients stay transport-thin: path + payload + shape.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// callKind distinguishes reads from mutations for error classification.
type callKind int

const (
	kindFetch callKind = iota
	kindWrite
)

var (
	// remoteReqs counts outbound requests by operation and outcome.
	remoteReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docchat_remote_requests_total",
			Help: "Total number of outbound remote service requests.",
		},
		[]string{"op", "outcome"},
	)

	// remoteLat records outbound request duration in seconds by operation.
	remoteLat = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docchat_remote_request_duration_seconds",
			Help:    "Duration of outbound remote service requests in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)
)

func init() {
	prometheus.MustRegister(remoteReqs, remoteLat)
}

// Client is the shared HTTP plumbing for one remote service base URL.
//
// The zero value is not usable; construct with NewClient. A Client is safe
// for concurrent use.
type Client struct {
	base    *url.URL
	httpc   *http.Client
	limiter *rate.Limiter
	log     zerolog.Logger
}

// NewClient builds a Client for the service rooted at baseURL.
//
//   - timeout: per-request budget (0 means 15s).
//   - rps/burst: outbound token bucket; rps <= 0 disables limiting.
func NewClient(baseURL string, timeout time.Duration, rps float64, burst int, log zerolog.Logger) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", baseURL)
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	var lim *rate.Limiter
	if rps > 0 {
		if burst < 1 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(rps), burst)
	}

	return &Client{
		base:    u,
		httpc:   &http.Client{Timeout: timeout},
		limiter: lim,
		log:     log,
	}, nil
}

// do performs one JSON round-trip.
//
//   - op:    contract operation name, used for spans, metrics, and errors.
//   - path:  path under the base URL; query may be attached by the caller.
//   - in:    request body (nil for none), marshalled as JSON.
//   - out:   response target (nil to discard), decoded from JSON.
//   - kind:  fetch or write, selecting the error class on failure.
//
// 404 responses map to ErrNotFound (wrapped in the kind's error class); any
// other non-2xx status or transport failure is wrapped likewise.
func (c *Client) do(ctx context.Context, method, path string, in, out any, op string, kind callKind) error {
	tr := otel.Tracer("remote")
	ctx, span := tr.Start(ctx, op,
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("remote.path", path),
		),
	)
	defer span.End()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return c.classify(op, kind, err)
		}
	}

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return c.classify(op, kind, fmt.Errorf("encode request: %w", err))
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, body)
	if err != nil {
		return c.classify(op, kind, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpc.Do(req)
	remoteLat.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		remoteReqs.WithLabelValues(op, "transport_error").Inc()
		return c.classify(op, kind, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		remoteReqs.WithLabelValues(op, "status_error").Inc()
		if resp.StatusCode == http.StatusNotFound {
			return c.classify(op, kind, ErrNotFound)
		}
		return c.classify(op, kind, &StatusError{
			Status: resp.StatusCode,
			Detail: readDetail(resp.Body),
		})
	}

	remoteReqs.WithLabelValues(op, "ok").Inc()
	if out == nil {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return c.classify(op, kind, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// classify wraps err in the error class matching kind and logs it once at the
// client boundary.
func (c *Client) classify(op string, kind callKind, err error) error {
	c.log.Warn().Str("op", op).Err(err).Msg("remote call failed")
	if kind == kindWrite {
		return &WriteError{Op: op, Err: err}
	}
	return &FetchError{Op: op, Err: err}
}

// errDetail is the FastAPI-style error envelope the collaborator services
// return ({"detail": "..."}).
type errDetail struct {
	Detail string `json:"detail"`
}

// readDetail best-effort decodes a service error message from a response body.
func readDetail(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 8<<10))
	if err != nil {
		return ""
	}
	var d errDetail
	if json.Unmarshal(raw, &d) == nil && d.Detail != "" {
		return d.Detail
	}
	return strings.TrimSpace(string(raw))
}

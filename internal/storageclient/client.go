// Package storageclient calls the storage service through a circuit breaker
// with bounded retries, per-attempt timeouts and pluggable outbound auth.
package storageclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/Togather-Foundation/passvault/internal/api/envelope"
	"github.com/Togather-Foundation/passvault/internal/apperror"
	"github.com/Togather-Foundation/passvault/internal/auth"
	"github.com/Togather-Foundation/passvault/internal/breaker"
	"github.com/Togather-Foundation/passvault/internal/metrics"
)

const tracerName = "github.com/Togather-Foundation/passvault/internal/storageclient"

const (
	DefaultRequestTimeout = 3 * time.Second
	DefaultRetryAttempts  = 2
	DefaultBackoffBase    = 100 * time.Millisecond

	maxResponseBody = 4 << 20
)

var errAuthorize = errors.New("authorize request")

type Config struct {
	BaseURL string
	// RequestTimeout bounds each attempt.
	RequestTimeout time.Duration
	// RetryAttempts is the number of retries after the first attempt. Zero
	// disables retries.
	RetryAttempts int
	// BackoffBase is multiplied by 2^attempt before each retry.
	BackoffBase time.Duration
}

type Option func(*Client)

// WithHTTPClient replaces the default transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRequestID sets how the correlation id is read from the caller's
// context. A new id is generated when fn returns "".
func WithRequestID(fn func(context.Context) string) Option {
	return func(c *Client) { c.requestID = fn }
}

// Client is safe for concurrent use. Each logical call is one breaker
// observation regardless of how many attempts it takes.
type Client struct {
	baseURL     string
	timeout     time.Duration
	retries     int
	backoffBase time.Duration

	http      *http.Client
	breaker   *breaker.Breaker
	auth      auth.Outbound
	requestID func(context.Context) string
	logger    zerolog.Logger
	tracer    trace.Tracer
}

func New(cfg Config, cb *breaker.Breaker, outbound auth.Outbound, logger zerolog.Logger, opts ...Option) *Client {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.RetryAttempts < 0 {
		cfg.RetryAttempts = 0
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultBackoffBase
	}
	if cb == nil {
		cb = breaker.New(breaker.Config{Name: "storage"})
	}
	c := &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		timeout:     cfg.RequestTimeout,
		retries:     cfg.RetryAttempts,
		backoffBase: cfg.BackoffBase,
		http:        &http.Client{},
		breaker:     cb,
		auth:        outbound,
		requestID:   func(context.Context) string { return "" },
		logger:      logger.With().Str("component", "storage_client").Logger(),
		tracer:      otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Breaker returns the breaker guarding this client.
func (c *Client) Breaker() *breaker.Breaker { return c.breaker }

// Do performs one logical call. body is JSON-encoded when non-nil; the
// envelope's data member is decoded into out when out is non-nil. Errors are
// *apperror.Error values.
func (c *Client) Do(ctx context.Context, method, path string, body, out any) (err error) {
	start := time.Now()
	requestID := c.requestID(ctx)
	if requestID == "" {
		requestID = uuid.NewString()
	}

	ctx, span := c.tracer.Start(ctx, "storage "+method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			semconv.HTTPMethod(method),
			attribute.String("storage.path", path),
			attribute.String("request_id", requestID),
		),
	)
	defer func() {
		outcome := outcomeOf(err)
		metrics.StorageRequestsTotal.WithLabelValues(method, outcome).Inc()
		metrics.StorageLatency.WithLabelValues(method).Observe(time.Since(start).Seconds())
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}()

	permit, ok := c.breaker.Acquire()
	if !ok {
		return apperror.New(apperror.KindCircuitOpen, apperror.CodeCircuitOpen,
			"storage service is temporarily unavailable").WithTrace(requestID)
	}

	var payload []byte
	if body != nil {
		if payload, err = json.Marshal(body); err != nil {
			c.breaker.Release(permit)
			return apperror.Internal(fmt.Errorf("encode request body: %w", err), "could not encode storage request").WithTrace(requestID)
		}
	}

	log := c.logger.With().Str("request_id", requestID).Str("method", method).Str("path", path).Logger()

	var lastErr *apperror.Error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			delay := c.backoffBase * time.Duration(1<<attempt)
			log.Debug().Int("attempt", attempt).Dur("delay", delay).Err(lastErr).Msg("retrying storage request")
			if serr := sleep(ctx, delay); serr != nil {
				c.breaker.Failure()
				return cancelled(serr, requestID)
			}
		}

		metrics.StorageAttemptsTotal.WithLabelValues(method).Inc()
		status, respBody, aerr := c.attempt(ctx, method, path, payload, requestID)

		var reason string
		switch {
		case errors.Is(aerr, errAuthorize):
			c.breaker.Release(permit)
			return apperror.Wrap(aerr, apperror.KindAuth, apperror.CodeTokenError,
				"could not obtain credentials for the storage service").WithTrace(requestID)

		case aerr != nil:
			if ctx.Err() != nil {
				c.breaker.Failure()
				return cancelled(ctx.Err(), requestID)
			}
			lastErr = transportError(aerr, requestID)
			reason = "transport"

		case status == http.StatusUnauthorized:
			if c.auth != nil && c.auth.Invalidate() && attempt < c.retries {
				lastErr = apperror.New(apperror.KindAuth, apperror.CodeTokenError, "storage rejected service credentials")
				reason = "unauthorized"
				break
			}
			c.breaker.Success()
			return apperror.New(apperror.KindAuth, apperror.CodeTokenError,
				"storage rejected service credentials").WithTrace(requestID)

		case status == http.StatusTooManyRequests:
			lastErr = apperror.New(apperror.KindStorageUnavailable, apperror.CodeStorageUnavailable,
				"storage service is rate limiting requests").WithTrace(requestID)
			reason = "rate_limited"

		case status >= http.StatusInternalServerError:
			resp, derr := envelope.Decode(respBody)
			if derr == nil && resp.Error != nil {
				lastErr = downstreamError(resp.Error, requestID)
				if !resp.Error.Retryable {
					c.breaker.Failure()
					return lastErr
				}
			} else {
				lastErr = apperror.New(apperror.KindStorageUnavailable, apperror.CodeStorageUnavailable,
					fmt.Sprintf("storage service responded %d", status)).WithTrace(requestID)
			}
			reason = "server_error"

		default:
			c.breaker.Success()
			return decodeResponse(status, respBody, out, requestID)
		}

		if attempt < c.retries {
			metrics.StorageRetriesTotal.WithLabelValues(reason).Inc()
		}
	}

	c.breaker.Failure()
	log.Warn().Err(lastErr).Int("attempts", c.retries+1).Msg("storage request failed")
	return lastErr
}

// attempt sends one request bounded by the per-attempt timeout and reads the
// whole body before the timeout is released.
func (c *Client) attempt(ctx context.Context, method, path string, payload []byte, requestID string) (int, []byte, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(attemptCtx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(envelope.HeaderRequestID, requestID)
	otel.GetTextMapPropagator().Inject(attemptCtx, propagation.HeaderCarrier(req.Header))

	if c.auth != nil {
		if err := c.auth.Authorize(attemptCtx, req); err != nil {
			return 0, nil, fmt.Errorf("%w: %w", errAuthorize, err)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, data, nil
}

func decodeResponse(status int, body []byte, out any, requestID string) error {
	if len(bytes.TrimSpace(body)) == 0 {
		if status >= http.StatusBadRequest {
			return apperror.New(apperror.KindStorage, apperror.CodeStorageError,
				fmt.Sprintf("storage service responded %d", status)).WithTrace(requestID)
		}
		return nil
	}

	resp, err := envelope.Decode(body)
	if err != nil {
		return apperror.Wrap(err, apperror.KindStorage, apperror.CodeStorageError,
			fmt.Sprintf("unexpected storage response (status %d)", status)).WithTrace(requestID)
	}
	if resp.Error != nil {
		return downstreamError(resp.Error, requestID)
	}
	if status >= http.StatusBadRequest {
		return apperror.New(apperror.KindStorage, apperror.CodeStorageError,
			fmt.Sprintf("storage service responded %d", status)).WithTrace(requestID)
	}
	if out != nil && len(resp.Data) > 0 {
		if err := json.Unmarshal(resp.Data, out); err != nil {
			return apperror.Wrap(err, apperror.KindStorage, apperror.CodeStorageError,
				"could not decode storage response").WithTrace(requestID)
		}
	}
	return nil
}

// downstreamError carries a storage envelope error across. NOT_FOUND and
// VALIDATION_ERROR keep their code; everything else surfaces as STORAGE_ERROR.
func downstreamError(body *envelope.ErrorBody, requestID string) *apperror.Error {
	kind := apperror.KindForCode(body.Code)
	code := body.Code
	switch kind {
	case apperror.KindNotFound, apperror.KindValidation:
	default:
		kind = apperror.KindStorage
		code = apperror.CodeStorageError
	}
	traceID := body.TraceID
	if traceID == "" {
		traceID = requestID
	}
	return &apperror.Error{
		Kind:      kind,
		Code:      code,
		Message:   body.Message,
		TraceID:   traceID,
		Retryable: body.Retryable,
	}
}

func transportError(err error, requestID string) *apperror.Error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return apperror.Wrap(err, apperror.KindStorageTimeout, apperror.CodeStorageTimeout,
			"storage service did not respond in time").WithTrace(requestID)
	}
	return apperror.Wrap(err, apperror.KindStorageUnavailable, apperror.CodeStorageUnavailable,
		"storage service is unreachable").WithTrace(requestID)
}

func cancelled(err error, requestID string) *apperror.Error {
	return apperror.Wrap(err, apperror.KindStorageTimeout, apperror.CodeStorageTimeout,
		"storage request cancelled").WithTrace(requestID)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func outcomeOf(err error) string {
	if err == nil {
		return "success"
	}
	switch apperror.From(err).Kind {
	case apperror.KindCircuitOpen:
		return "circuit_open"
	case apperror.KindStorageTimeout:
		return "timeout"
	case apperror.KindStorageUnavailable:
		return "unavailable"
	case apperror.KindAuth:
		return "auth_error"
	default:
		return "app_error"
	}
}

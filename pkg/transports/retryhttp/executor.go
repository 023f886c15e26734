package retryhttp

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/openfroyo/vminit/pkg/engine"
)

// Request is a re-sendable HTTP request. The body is held in memory so every attempt
// sends identical bytes.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Outcome labels for observed attempts.
const (
	OutcomeSuccess   = "success"
	OutcomeRetry     = "retry"
	OutcomeHardFail  = "hard_fail"
	OutcomeTransport = "transport"
)

// Observer is notified after every attempt.
type Observer interface {
	HTTPAttempt(service, outcome string, duration time.Duration)
}

// Executor sends requests with status classification and a shrinking time budget. It is
// safe for concurrent use; the underlying client is shared read-only.
type Executor struct {
	service  string
	client   *http.Client
	logger   zerolog.Logger
	observer Observer
	tracer   trace.Tracer
}

// Option configures an Executor.
type Option func(*Executor)

// WithClient replaces the HTTP client.
func WithClient(c *http.Client) Option {
	return func(e *Executor) {
		if c != nil {
			e.client = c
		}
	}
}

// WithConnectTimeout bounds TCP connection establishment for the default client.
func WithConnectTimeout(d time.Duration) Option {
	return func(e *Executor) {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.DialContext = (&net.Dialer{Timeout: d, KeepAlive: 30 * time.Second}).DialContext
		e.client = &http.Client{Transport: transport}
	}
}

// WithObserver registers an attempt observer.
func WithObserver(o Observer) Option {
	return func(e *Executor) { e.observer = o }
}

// WithTracer records one span per Execute call.
func WithTracer(t trace.Tracer) Option {
	return func(e *Executor) {
		if t != nil {
			e.tracer = t
		}
	}
}

// New creates an executor for the named service. The service name labels logs and metrics.
func New(service string, logger zerolog.Logger, opts ...Option) *Executor {
	e := &Executor{
		service: service,
		client:  &http.Client{},
		logger:  logger.With().Str("component", "retryhttp").Str("service", service).Logger(),
		tracer:  noop.NewTracerProvider().Tracer("retryhttp"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute sends req until a status in policy.SuccessCodes arrives, a hard-fail status is
// seen, or the budget runs out. Transport errors and retryable statuses are logged and
// retried. On success it returns the response together with the budget left for a related
// follow-up operation: budget.Remaining minus elapsed time minus one retry interval.
func (e *Executor) Execute(ctx context.Context, req Request, policy Policy, budget Budget) (*Response, time.Duration, error) {
	ctx, span := e.tracer.Start(ctx, "retryhttp.execute", trace.WithAttributes(
		attribute.String("service", e.service),
		attribute.String("http.method", req.Method),
		attribute.String("http.url", req.URL),
	))
	defer span.End()

	if budget.Exhausted() {
		err := engine.NewTimeoutError(req.URL, nil)
		span.SetStatus(codes.Error, err.Error())
		return nil, 0, err
	}

	if _, err := http.NewRequest(methodOf(req), req.URL, nil); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, budget.Remaining, engine.NewTransportError(req.URL, err)
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, budget.Remaining)
	defer cancel()

	remaining := budget.Remaining
	for attempt := 1; ; attempt++ {
		attemptStart := time.Now()
		resp, err := e.send(ctx, req, budget.AttemptTimeout)
		elapsed := time.Since(attemptStart)
		remaining -= elapsed + budget.RetryInterval

		if err != nil {
			e.observe(OutcomeTransport, elapsed)
			if ctx.Err() != nil {
				return nil, 0, e.expired(ctx, span, req, attempt, err)
			}
			e.logger.Warn().
				Err(err).
				Int("attempt", attempt).
				Dur("remaining", remaining).
				Str("url", req.URL).
				Msg("HTTP request failed, retrying")
		} else {
			switch policy.Classify(resp.StatusCode) {
			case StatusTerminal:
				e.observe(OutcomeSuccess, elapsed)
				left := budget.Remaining - time.Since(start) - budget.RetryInterval
				if left < 0 {
					left = 0
				}
				span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode), attribute.Int("attempts", attempt))
				e.logger.Debug().
					Int("status", resp.StatusCode).
					Int("attempt", attempt).
					Str("url", req.URL).
					Msg("HTTP request succeeded")
				return resp, left, nil

			case StatusRetryable:
				e.observe(OutcomeRetry, elapsed)
				e.logger.Warn().
					Int("status", resp.StatusCode).
					Int("attempt", attempt).
					Dur("remaining", remaining).
					Str("url", req.URL).
					Msg("HTTP request returned retryable status")

			default:
				e.observe(OutcomeHardFail, elapsed)
				err := engine.NewHTTPStatusError(req.URL, resp.StatusCode)
				span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode), attribute.Int("attempts", attempt))
				span.SetStatus(codes.Error, err.Error())
				e.logger.Error().
					Int("status", resp.StatusCode).
					Str("url", req.URL).
					Msg("HTTP request failed with non-retryable status")
				return nil, remaining, err
			}
		}

		if remaining <= 0 {
			return nil, 0, e.expired(ctx, span, req, attempt, nil)
		}

		select {
		case <-ctx.Done():
			return nil, 0, e.expired(ctx, span, req, attempt, ctx.Err())
		case <-time.After(budget.RetryInterval):
		}
	}
}

// expired builds the error for a loop that ran out of budget. A cancelled parent context
// that did not hit a deadline is not a timeout.
func (e *Executor) expired(ctx context.Context, span trace.Span, req Request, attempts int, cause error) error {
	var err *engine.Error
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(ctxErr, context.DeadlineExceeded) {
		err = engine.NewUnhandledError("HTTP request cancelled", ctxErr)
	} else {
		err = engine.NewTimeoutError(req.URL, cause)
	}
	span.SetAttributes(attribute.Int("attempts", attempts))
	span.SetStatus(codes.Error, err.Error())
	e.logger.Error().
		Int("attempts", attempts).
		Str("url", req.URL).
		Msg("HTTP retry budget exhausted")
	return err
}

// send performs one attempt, reading the whole body inside the attempt timeout.
func (e *Executor) send(ctx context.Context, req Request, timeout time.Duration) (*Response, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, methodOf(req), req.URL, body)
	if err != nil {
		return nil, err
	}
	for k, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(k, v)
		}
	}

	httpResp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, err
	}
	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       data,
	}, nil
}

func methodOf(req Request) string {
	if req.Method == "" {
		return http.MethodGet
	}
	return req.Method
}

func (e *Executor) observe(outcome string, d time.Duration) {
	if e.observer != nil {
		e.observer.HTTPAttempt(e.service, outcome, d)
	}
}

// Package transport wraps a single outbound HTTP call with a per-attempt
// timeout and bounded exponential-backoff retry.
//
// Retries trigger only on transport-level failure (connection error or
// timeout). Responses with non-2xx status codes are returned as-is.
package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultTimeout    = 5 * time.Second
	DefaultMaxRetries = 3
)

// Transport sends HTTP requests with retry.
// The zero value is not usable; use New.
type Transport struct {
	base       http.RoundTripper
	timeout    time.Duration
	maxRetries int
	log        zerolog.Logger
	// sleep is swappable so tests can observe the backoff schedule.
	sleep func(time.Duration)
}

type Option func(*Transport)

// WithBase sets the underlying round tripper. Defaults to http.DefaultTransport.
func WithBase(rt http.RoundTripper) Option {
	return func(t *Transport) { t.base = rt }
}

// WithTimeout sets the per-attempt timeout.
func WithTimeout(d time.Duration) Option {
	return func(t *Transport) { t.timeout = d }
}

// WithMaxRetries sets how many additional attempts follow a failed first one.
func WithMaxRetries(n int) Option {
	return func(t *Transport) { t.maxRetries = n }
}

// WithLogger sets the logger used for retry reporting.
func WithLogger(log zerolog.Logger) Option {
	return func(t *Transport) { t.log = log }
}

func withSleep(sleep func(time.Duration)) Option {
	return func(t *Transport) { t.sleep = sleep }
}

func New(options ...Option) *Transport {
	t := &Transport{
		base:       http.DefaultTransport,
		timeout:    DefaultTimeout,
		maxRetries: DefaultMaxRetries,
		log:        zerolog.Nop(),
		sleep:      time.Sleep,
	}
	for _, option := range options {
		option(t)
	}
	return t
}

// Do sends the request, retrying on transport failure with delays of
// 1s, 2s, 4s, ... between attempts. After the retries are exhausted the
// last observed error is returned, wrapped in *Error.
func (t *Transport) Do(req *http.Request) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= t.maxRetries; attempt++ {
		if attempt > 0 {
			delay := backoff(attempt - 1)
			t.log.Debug().
				Int("attempt", attempt).
				Dur("backoff", delay).
				Str("url", req.URL.String()).
				Msg("Retrying request")
			t.sleep(delay)
		}
		res, err := t.attempt(req)
		if err == nil {
			return res, nil
		}
		lastErr = err
		t.log.Warn().Err(err).
			Int("attempt", attempt).
			Str("url", req.URL.String()).
			Msg("Request attempt failed")
	}
	return nil, &Error{
		Timeout:  errors.Is(lastErr, context.DeadlineExceeded),
		Attempts: t.maxRetries + 1,
		URL:      req.URL.String(),
		Cause:    lastErr,
	}
}

// attempt performs a single send, bounded by the per-attempt timeout.
func (t *Transport) attempt(req *http.Request) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(req.Context(), t.timeout)
	attemptReq := req.Clone(ctx)
	// Rewind the body for each attempt, if there is one.
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			cancel()
			return nil, err
		}
		attemptReq.Body = body
	}
	res, err := t.base.RoundTrip(attemptReq)
	if err != nil {
		cancel()
		return nil, err
	}
	// Tie the timeout cancellation to the response body.
	res.Body = &cancelBody{ReadCloser: res.Body, cancel: cancel}
	return res, nil
}

func backoff(attempt int) time.Duration {
	return time.Duration(1<<attempt) * time.Second
}

type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	b.cancel()
	return b.ReadCloser.Close()
}

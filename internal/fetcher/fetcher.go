// Package fetcher performs page fetches with per-attempt timeouts and
// exponential retry on transient failures.
package fetcher

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/license-resolver/internal/metrics"
)

// CanceledPrefix starts Response.Err when the caller's context ended the fetch.
const CanceledPrefix = "canceled: "

// Page is the result of a single underlying HTTP call.
type Page struct {
	Status   int
	FinalURL string
	Body     []byte
}

// Getter executes exactly one HTTP GET. Non-2xx statuses are returned as pages,
// not errors; errors are reserved for transport failures.
type Getter interface {
	Get(ctx context.Context, url string) (Page, error)
}

// Waiter paces requests before they are sent.
type Waiter interface {
	Wait(ctx context.Context, url string) error
}

// Response is the terminal result of a fetch. Err is set, and Status is zero,
// when every attempt failed at the transport level.
type Response struct {
	Status   int
	FinalURL string
	Body     []byte
	Attempts int
	Err      string
}

// OK reports a 2xx response.
func (r Response) OK() bool {
	return r.Err == "" && r.Status >= 200 && r.Status < 300
}

// NotFound reports a definitive 404 or 410.
func (r Response) NotFound() bool {
	return r.Err == "" && (r.Status == http.StatusNotFound || r.Status == http.StatusGone)
}

// Canceled reports that the fetch was abandoned because its context ended.
func (r Response) Canceled() bool {
	return strings.HasPrefix(r.Err, CanceledPrefix)
}

// Options bound each fetch.
type Options struct {
	Timeout       time.Duration
	MaxRetries    int
	RetryStatuses map[int]struct{}
	Backoff       ExponentialBackoff
}

// Retrying wraps a Getter with timeouts, retries, pacing and metrics.
type Retrying struct {
	getter  Getter
	opts    Options
	limiter Waiter
	sleep   func(context.Context, time.Duration) error
	logger  *zap.Logger
}

// Option customizes a Retrying fetcher.
type Option func(*Retrying)

// WithLimiter paces every attempt through w.
func WithLimiter(w Waiter) Option {
	return func(r *Retrying) { r.limiter = w }
}

// WithSleep replaces the backoff sleep, mainly for tests.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(r *Retrying) { r.sleep = sleep }
}

// New builds a Retrying fetcher.
func New(getter Getter, opts Options, logger *zap.Logger, options ...Option) *Retrying {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Retrying{
		getter: getter,
		opts:   opts,
		sleep:  sleepCtx,
		logger: logger.Named("fetcher"),
	}
	for _, opt := range options {
		opt(r)
	}
	return r
}

// Fetch retrieves url, retrying retryable statuses and transport failures up to
// MaxRetries additional attempts. It never returns a Go error; failures are
// reported through Response.Err.
func (r *Retrying) Fetch(ctx context.Context, url string) Response {
	var attempts int
	for {
		attempts++
		page, err := r.attempt(ctx, url)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Response{Attempts: attempts, Err: CanceledPrefix + ctxErr.Error()}
		}

		retryable := err != nil || r.retryableStatus(page.Status)
		if !retryable || attempts > r.opts.MaxRetries {
			if err != nil {
				return Response{Attempts: attempts, FinalURL: url, Err: err.Error()}
			}
			return Response{
				Status:   page.Status,
				FinalURL: page.FinalURL,
				Body:     page.Body,
				Attempts: attempts,
			}
		}

		delay := r.opts.Backoff.Delay(attempts)
		metrics.ObserveFetchRetry(url)
		r.logger.Debug("retrying fetch",
			zap.String("url", url),
			zap.Int("attempt", attempts),
			zap.Int("status", page.Status),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if err := r.sleep(ctx, delay); err != nil {
			return Response{Attempts: attempts, Err: CanceledPrefix + err.Error()}
		}
	}
}

func (r *Retrying) attempt(ctx context.Context, url string) (Page, error) {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx, url); err != nil {
			return Page{}, err
		}
	}
	attemptCtx := ctx
	cancel := context.CancelFunc(func() {})
	if r.opts.Timeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
	}
	defer cancel()

	page, err := r.getter.Get(attemptCtx, url)
	metrics.ObserveFetchAttempt(url, page.Status, len(page.Body), err)
	if err != nil {
		return Page{}, err
	}
	if page.FinalURL == "" {
		page.FinalURL = url
	}
	return page, nil
}

func (r *Retrying) retryableStatus(status int) bool {
	_, ok := r.opts.RetryStatuses[status]
	return ok
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Package fetch wraps an HTTP client with bounded retry and backoff.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/video-stream/subexplain/internal/apperr"
	"github.com/video-stream/subexplain/internal/logging"
)

const (
	defaultAttempts = 3

	rateLimitBase   = 300 * time.Millisecond
	rateLimitJitter = 120 * time.Millisecond
	failureBase     = 250 * time.Millisecond
	failureJitter   = 100 * time.Millisecond

	// errorBodyLimit caps how much of a failed response is kept in the error.
	errorBodyLimit = 300
)

// Doer is the subset of *http.Client used here.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// RetryingFetcher performs one logical request with up to three attempts.
// A 429 backs off 300ms*2^i plus up to 120ms of jitter; any other failure
// (non-2xx status or transport error) backs off 250ms*2^i plus up to 100ms.
// It satisfies Doer, so it can stand in for an *http.Client.
type RetryingFetcher struct {
	client   Doer
	attempts int
	sleep    SleepFunc
	jitter   func(max time.Duration) time.Duration
	logger   *zap.Logger
}

type Option func(*RetryingFetcher)

// WithSleep replaces the backoff wait. Tests pass a no-op.
func WithSleep(fn SleepFunc) Option {
	return func(f *RetryingFetcher) { f.sleep = fn }
}

// WithJitter replaces the jitter source.
func WithJitter(fn func(max time.Duration) time.Duration) Option {
	return func(f *RetryingFetcher) { f.jitter = fn }
}

func WithLogger(l *zap.Logger) Option {
	return func(f *RetryingFetcher) { f.logger = logging.OrNop(l).Named("fetch") }
}

func WithAttempts(n int) Option {
	return func(f *RetryingFetcher) {
		if n > 0 {
			f.attempts = n
		}
	}
}

func New(client Doer, opts ...Option) *RetryingFetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	f := &RetryingFetcher{
		client:   client,
		attempts: defaultAttempts,
		sleep:    sleepContext,
		jitter:   randomJitter,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Do sends req, retrying per the backoff policy. Only a 2xx response is
// returned; the caller owns its body. When attempts run out the last error
// is returned wrapped as apperr.ErrTerminal.
func (f *RetryingFetcher) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	op := req.Method + " " + redactURL(req)

	var lastErr error
	for i := 0; i < f.attempts; i++ {
		attemptReq, err := rewind(req, i)
		if err != nil {
			return nil, err
		}

		resp, err := f.client.Do(attemptReq)
		if err == nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}

		if err != nil {
			if ctxErr := apperr.FromContext(ctx, op, err); apperr.IsCancelled(ctxErr) {
				return nil, ctxErr
			}
			lastErr = apperr.Wrap(apperr.ErrTransient, op, "", err)
		} else {
			lastErr = statusError(resp)
		}

		if i == f.attempts-1 {
			break
		}

		delay := f.backoff(i, apperr.StatusCode(lastErr) == http.StatusTooManyRequests)
		f.logger.Debug("retrying request",
			zap.String("op", op),
			zap.Int("attempt", i+1),
			zap.Duration("delay", delay),
			zap.Error(lastErr),
		)
		if err := f.sleep(ctx, delay); err != nil {
			return nil, apperr.Interrupted(ctx, op, lastErr)
		}
	}

	f.logger.Warn("request failed after retries",
		zap.String("op", op),
		zap.Int("attempts", f.attempts),
		zap.Error(lastErr),
	)
	return nil, apperr.Terminal(op, lastErr)
}

func (f *RetryingFetcher) backoff(i int, rateLimited bool) time.Duration {
	base, spread := failureBase, failureJitter
	if rateLimited {
		base, spread = rateLimitBase, rateLimitJitter
	}
	return base*time.Duration(1<<i) + f.jitter(spread)
}

// rewind returns a request usable for attempt i. The first attempt reuses
// req; later ones need a fresh body from GetBody.
func rewind(req *http.Request, i int) (*http.Request, error) {
	if i == 0 || req.Body == nil || req.Body == http.NoBody {
		return req, nil
	}
	if req.GetBody == nil {
		return nil, fmt.Errorf("request body cannot be replayed for retry")
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, fmt.Errorf("rewind request body: %w", err)
	}
	clone := req.Clone(req.Context())
	clone.Body = body
	return clone, nil
}

func statusError(resp *http.Response) error {
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
	se := &apperr.StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	return apperr.Wrap(apperr.ErrTransient, "", "", se)
}

// redactURL drops the query string, which may carry API keys.
func redactURL(req *http.Request) string {
	if req.URL == nil {
		return ""
	}
	return req.URL.Scheme + "://" + req.URL.Host + req.URL.Path
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func randomJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(max)))
}

// ReadBody drains and closes resp.Body.
func ReadBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Join(apperr.ErrTransient, err)
	}
	return body, nil
}

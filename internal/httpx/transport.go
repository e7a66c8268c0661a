package httpx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// ErrRetryableStatus marks a response whose status code is worth retrying.
var ErrRetryableStatus = errors.New("retryable status")

const maxRetryAfter = 2 * time.Minute

// Transport retries requests that failed at the network level or answered
// with 429 or a 5xx gateway status. Retry-After hints from the server take
// precedence over the computed backoff when they are longer.
type Transport struct {
	Base            http.RoundTripper
	MaxRetries      uint64
	AttemptTimeout  time.Duration
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// NewClient returns an http.Client whose requests are retried up to
// maxRetries times, each attempt bounded by timeout.
func NewClient(timeout time.Duration, maxRetries int) *http.Client {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &http.Client{
		Transport: &Transport{
			Base:            http.DefaultTransport,
			MaxRetries:      uint64(maxRetries),
			AttemptTimeout:  timeout,
			InitialInterval: 700 * time.Millisecond,
			MaxInterval:     30 * time.Second,
		},
	}
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func (t *Transport) newBackOff() *hintedBackOff {
	eb := backoff.NewExponentialBackOff()
	if t.InitialInterval > 0 {
		eb.InitialInterval = t.InitialInterval
	}
	if t.MaxInterval > 0 {
		eb.MaxInterval = t.MaxInterval
	}
	eb.MaxElapsedTime = 0
	return &hintedBackOff{BackOff: eb}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	bo := t.newBackOff()
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, t.MaxRetries), req.Context())

	var last *http.Response
	attempt := 0
	op := func() error {
		if last != nil {
			drain(last)
			last = nil
		}
		out, cancel, err := t.prepare(req, attempt)
		if err != nil {
			return backoff.Permanent(err)
		}
		attempt++

		resp, err := t.base().RoundTrip(out)
		if err != nil {
			cancel()
			if req.Context().Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
		if !retryable(resp.StatusCode) {
			last = resp
			return nil
		}
		bo.hint = retryAfter(resp.Header.Get("Retry-After"), time.Now())
		last = resp
		return fmt.Errorf("%w: %d", ErrRetryableStatus, resp.StatusCode)
	}

	notify := func(err error, wait time.Duration) {
		zap.L().Warn("Retrying HTTP request",
			zap.String("method", req.Method),
			zap.String("host", req.URL.Host),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}

	err := backoff.RetryNotify(op, policy, notify)
	if err != nil {
		if errors.Is(err, ErrRetryableStatus) && last != nil {
			// retries exhausted: let the caller see the final response
			return last, nil
		}
		if last != nil {
			drain(last)
		}
		return nil, err
	}
	return last, nil
}

// prepare clones req for one attempt, rewinding the body on retries and
// attaching the per-attempt timeout. The returned cancel func must be called
// once the attempt's response is no longer needed.
func (t *Transport) prepare(req *http.Request, attempt int) (*http.Request, context.CancelFunc, error) {
	ctx, cancel := req.Context(), context.CancelFunc(func() {})
	if t.AttemptTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, t.AttemptTimeout)
	}
	out := req.Clone(ctx)
	if attempt > 0 && req.Body != nil && req.Body != http.NoBody {
		if req.GetBody == nil {
			cancel()
			return nil, nil, errors.New("request body cannot be replayed")
		}
		body, err := req.GetBody()
		if err != nil {
			cancel()
			return nil, nil, fmt.Errorf("failed to rewind request body: %w", err)
		}
		out.Body = body
	}
	return out, cancel, nil
}

func retryable(status int) bool {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// retryAfter parses a Retry-After header given either in seconds or as an
// HTTP date. Unparseable or negative values yield zero.
func retryAfter(value string, now time.Time) time.Duration {
	if value == "" {
		return 0
	}
	var d time.Duration
	if secs, err := strconv.Atoi(value); err == nil {
		d = time.Duration(secs) * time.Second
	} else if when, err := http.ParseTime(value); err == nil {
		d = when.Sub(now)
	}
	if d < 0 {
		return 0
	}
	if d > maxRetryAfter {
		return maxRetryAfter
	}
	return d
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
}

type hintedBackOff struct {
	backoff.BackOff
	hint time.Duration
}

func (b *hintedBackOff) NextBackOff() time.Duration {
	d := b.BackOff.NextBackOff()
	if d == backoff.Stop {
		return d
	}
	if b.hint > d {
		d = b.hint
	}
	b.hint = 0
	return d
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

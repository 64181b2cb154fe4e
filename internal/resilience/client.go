package resilience

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// RetryPolicy bounds retries of an outbound call.
type RetryPolicy struct {
	Base        time.Duration
	MaxAttempts int
	Jitter      float64
}

func (p RetryPolicy) attempts() int { return max(p.MaxAttempts, 1) }

// HTTPClient sends requests through a breaker with per-attempt timeouts and
// retries. Transport errors and 5xx responses are failures; any other
// response is handed back to the caller untouched.
type HTTPClient struct {
	client  *http.Client
	breaker *Breaker
	policy  RetryPolicy
	timeout time.Duration
}

// NewHTTPClient wraps client. A nil breaker disables short-circuiting.
func NewHTTPClient(client *http.Client, breaker *Breaker, policy RetryPolicy, timeout time.Duration) HTTPClient {
	if client == nil {
		client = http.DefaultClient
	}
	return HTTPClient{client: client, breaker: breaker, policy: policy, timeout: timeout}
}

// StatusError is the last 5xx seen once retries are exhausted.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("resilience: upstream responded %s", e.Status)
}

// Do executes req, replaying its body on every attempt. ErrOpenCircuit is
// returned as soon as the breaker refuses an attempt.
func (cl HTTPClient) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	body, err := bufferBody(req)
	if err != nil {
		return nil, err
	}

	var lastErr error
	attempts := cl.policy.attempts()
	for attempt := 1; attempt <= attempts; attempt++ {
		if cl.breaker != nil && !cl.breaker.Allow(ctx) {
			return nil, errors.Join(ErrOpenCircuit, lastErr)
		}
		resp, err := cl.attempt(ctx, req, body)
		ok := err == nil && resp.StatusCode < http.StatusInternalServerError
		if cl.breaker != nil {
			cl.breaker.Report(ctx, ok)
		}
		if ok {
			return resp, nil
		}
		if err != nil {
			lastErr = err
		} else {
			lastErr = &StatusError{Code: resp.StatusCode, Status: resp.Status}
			drain(resp)
		}
		if attempt == attempts || ctx.Err() != nil {
			break
		}
		RetryAttempts.WithLabelValues(cl.target()).Inc()
		if err := sleep(ctx, Backoff(cl.policy.Base, attempt, cl.policy.Jitter)); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

func (cl HTTPClient) target() string {
	if cl.breaker == nil {
		return "default"
	}
	return cl.breaker.Target()
}

func (cl HTTPClient) attempt(ctx context.Context, req *http.Request, body []byte) (*http.Response, error) {
	var (
		callCtx context.Context
		cancel  context.CancelFunc
	)
	if cl.timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, cl.timeout)
	} else {
		callCtx, cancel = context.WithCancel(ctx)
	}
	attemptReq := req.Clone(callCtx)
	if body != nil {
		attemptReq.Body = io.NopCloser(bytes.NewReader(body))
	}
	resp, err := cl.client.Do(attemptReq)
	if err != nil {
		cancel()
		return nil, err
	}
	// the attempt deadline covers reading the body too
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
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

func bufferBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	data, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("resilience: buffer request body: %w", err)
	}
	req.Body = io.NopCloser(bytes.NewReader(data))
	req.GetBody = func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(data)), nil }
	return data, nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

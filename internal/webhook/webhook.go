package webhook

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/oshokin/alarm-relay/internal/logger"
)

// Caller fires webhook requests without observing their outcome.
type Caller struct {
	client  *http.Client
	timeout time.Duration
	// inflight tracks running calls so shutdown can wait for them.
	inflight sync.WaitGroup
}

// NewCaller creates a caller bounding every request by timeout.
func NewCaller(client *http.Client, timeout time.Duration) *Caller {
	if client == nil {
		client = http.DefaultClient
	}

	return &Caller{
		client:  client,
		timeout: timeout,
	}
}

// Fire starts a GET request to url in the background and returns immediately.
// The request is detached from ctx cancellation; only the timeout bounds it.
func (c *Caller) Fire(ctx context.Context, url string) {
	c.inflight.Add(1)

	go func() {
		defer c.inflight.Done()

		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(callCtx, http.MethodGet, url, nil)
		if err != nil {
			logger.DebugKV(ctx, "Webhook request not built", "url", url, "error", err)

			return
		}

		resp, err := c.client.Do(req)
		if err != nil {
			logger.DebugKV(ctx, "Webhook call failed", "url", url, "error", err)

			return
		}

		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()
}

// Wait blocks until every fired request has finished.
func (c *Caller) Wait() {
	c.inflight.Wait()
}

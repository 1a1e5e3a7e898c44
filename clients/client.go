// Package clients implements the per-chain-family network adapters. Each
// adapter translates its chain's public API responses into the common
// CandidateTransaction shape; all chain-specific address formats, token
// semantics and finality models stay behind the Adapter interface.
package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/chainpay-io/chainpay/logger"
	"github.com/chainpay-io/chainpay/metrics"
	"github.com/chainpay-io/chainpay/types"
)

// DefaultTimeout bounds every outbound adapter call so a dead endpoint never
// stalls a reconciliation sweep.
const DefaultTimeout = 5 * time.Second

// Adapter is the common contract every chain family implements.
type Adapter interface {
	// Network returns the network this adapter serves.
	Network() types.Network

	// FindCandidates returns transactions credited to recipient since the
	// given time. tokenID filters token transfers; empty means native
	// currency. Endpoint failures after the fallback attempt surface as a
	// typed AdapterUnavailable error.
	FindCandidates(ctx context.Context, recipient, tokenID string, since time.Time) ([]types.CandidateTransaction, error)

	// ConfirmationDepth returns the number of blocks (or the binary finality
	// marker, on chains with instant finality) since the transaction was
	// included.
	ConfirmationDepth(ctx context.Context, hash string) (int64, error)
}

// restClient is the shared HTTP layer under the adapters: short explicit
// timeout, per-adapter rate limiting, and primary-then-fallback endpoint
// failover for a single call. A fallback promotion is never persisted; the
// next call starts from the primary again.
type restClient struct {
	network types.Network
	http    *http.Client
	limiter *rate.Limiter
	log     logger.Logger
	rec     metrics.Recorder
}

func newRestClient(network types.Network, log logger.Logger, rec metrics.Recorder) *restClient {
	if log == nil {
		log = logger.NoopLogger{}
	}
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return &restClient{
		network: network,
		http:    &http.Client{Timeout: DefaultTimeout},
		limiter: rate.NewLimiter(rate.Limit(4), 2), // public scan APIs throttle around 5 rps
		log:     log,
		rec:     rec,
	}
}

// getJSON fetches the first reachable URL into out. urls holds the primary
// endpoint and, optionally, the fallback. Non-2xx responses count as
// failures. When every endpoint fails the caller gets AdapterUnavailable so
// other networks keep progressing through the sweep.
func (c *restClient) getJSON(ctx context.Context, urls []string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	start := time.Now()
	defer func() {
		c.rec.ObserveLatency("adapter_request", time.Since(start), map[string]string{"network": c.network.String()})
	}()

	var lastErr error
	for i, u := range urls {
		if u == "" {
			continue
		}
		if err := c.fetchOne(ctx, u, out); err != nil {
			lastErr = err
			c.log.Warn("adapter endpoint failed", map[string]any{
				"network":  c.network,
				"fallback": i > 0,
				"error":    err.Error(),
			})
			continue
		}
		if i > 0 {
			c.rec.IncCounter(metrics.CounterFallbacksUsed, map[string]string{"network": c.network.String()})
			c.log.Info("using fallback endpoint", map[string]any{"network": c.network})
		}
		return nil
	}

	c.rec.IncCounter(metrics.CounterAdapterErrors, map[string]string{"network": c.network.String()})
	return types.NewAdapterUnavailable(c.network, lastErr)
}

func (c *restClient) fetchOne(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

// Package oracle fetches USD spot prices from a simple-price HTTP API.
// The oracle is strictly best-effort: it is disabled when no endpoint is
// configured and every failure degrades to a zero price, so price
// lookups can never take down a request path.
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/taoliq/incentived/params"
)

type cachedPrice struct {
	usd       float64
	fetchedAt time.Time
}

// Client caches USD prices per asset id for a short window.
type Client struct {
	endpoint string
	http     *http.Client
	ttl      time.Duration
	now      func() time.Time

	mu    sync.Mutex
	cache map[string]cachedPrice
}

// New builds a price client for endpoint. An empty endpoint returns a
// disabled client whose lookups always report zero.
func New(endpoint string) *Client {
	return &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: params.OracleCallTimeout},
		ttl:      params.PriceCacheTTL,
		now:      time.Now,
		cache:    make(map[string]cachedPrice),
	}
}

// Enabled reports whether an endpoint is configured.
func (c *Client) Enabled() bool { return c.endpoint != "" }

// USDPrice returns the cached USD price for the asset id, fetching on a
// cache miss. Disabled clients and upstream failures yield zero.
func (c *Client) USDPrice(ctx context.Context, id string) float64 {
	if !c.Enabled() || id == "" {
		return 0
	}

	c.mu.Lock()
	if p, ok := c.cache[id]; ok && c.now().Sub(p.fetchedAt) < c.ttl {
		c.mu.Unlock()
		return p.usd
	}
	c.mu.Unlock()

	usd, err := c.fetch(ctx, id)
	if err != nil {
		log.Warn("Price lookup failed", "id", id, "err", err)
		return 0
	}

	c.mu.Lock()
	c.cache[id] = cachedPrice{usd: usd, fetchedAt: c.now()}
	c.mu.Unlock()
	return usd
}

func (c *Client) fetch(ctx context.Context, id string) (float64, error) {
	q := url.Values{}
	q.Set("ids", id)
	q.Set("vs_currencies", "usd")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("oracle: status %d", resp.StatusCode)
	}

	// CoinGecko-style shape: {"<id>": {"usd": 1.23}}.
	var body map[string]map[string]float64
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("oracle: decode response: %w", err)
	}
	usd, ok := body[id]["usd"]
	if !ok {
		return 0, fmt.Errorf("oracle: no usd quote for %q", id)
	}
	return usd, nil
}

package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/wyntrades-ai/defi-yields-mcp/internal/model"
)

// DefaultURL is the DefiLlama yields endpoint.
const DefaultURL = "https://yields.llama.fi/pools"

// Fetcher fetches the full pool dataset from the external provider.
type Fetcher interface {
	FetchPools(ctx context.Context) (*model.Dataset, error)
}

// ClientConfig holds runtime settings for the upstream client.
type ClientConfig struct {
	URL          string
	FetchTimeout time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
}

// Client fetches yield pools from the upstream HTTP API with retry.
type Client struct {
	cfg    ClientConfig
	http   *http.Client
	logger *zap.Logger
}

// NewClient builds a Client. Zero-valued config fields fall back to defaults.
func NewClient(cfg ClientConfig, logger *zap.Logger) *Client {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.FetchTimeout},
		logger: logger,
	}
}

// poolsEnvelope matches the upstream response body. The provider wraps the
// pool array in {"status":..., "data":[...]}.
type poolsEnvelope struct {
	Status string       `json:"status"`
	Data   []model.Pool `json:"data"`
}

// FetchPools retrieves the pool list, retrying transient failures with
// exponential backoff. The returned Dataset is a fresh snapshot stamped
// with the fetch time.
func (c *Client) FetchPools(ctx context.Context) (*model.Dataset, error) {
	var pools []model.Pool
	err := withRetry(ctx, c.cfg.MaxRetries, c.cfg.RetryBackoff, func(ctx context.Context) error {
		var err error
		pools, err = c.fetchOnce(ctx)
		if err != nil {
			c.logger.Warn("upstream fetch failed", zap.Error(err), zap.String("url", c.cfg.URL))
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("fetch pools: %w", err)
	}

	return &model.Dataset{Pools: pools, FetchedAt: time.Now().UTC()}, nil
}

func (c *Client) fetchOnce(ctx context.Context) ([]model.Pool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("upstream status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	return decodePools(body)
}

// decodePools accepts either the provider's {"data":[...]} envelope or a
// bare JSON array of pools.
func decodePools(body []byte) ([]model.Pool, error) {
	var envelope poolsEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Data != nil {
		return envelope.Data, nil
	}

	var pools []model.Pool
	if err := json.Unmarshal(body, &pools); err != nil {
		return nil, fmt.Errorf("decode pools: %w", err)
	}
	return pools, nil
}

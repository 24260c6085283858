// Package registry queries the external asset registry used as the
// validator's independent source of truth in registry verification mode.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/minted-network/bridge-relay/pkg/config"
)

// ErrNotFound indicates the registry has no record of the requested asset.
var ErrNotFound = errors.New("asset not found")

// AssetPosition is the registry's view of one collateral asset.
type AssetPosition struct {
	AssetID   string          `json:"assetId"`
	Amount    decimal.Decimal `json:"amount"`
	StateHash string          `json:"stateHash"`
}

// Snapshot is the registry's collateral report at a point in time.
type Snapshot struct {
	Assets    []AssetPosition `json:"assets"`
	Total     decimal.Decimal `json:"total"`
	StateHash string          `json:"stateHash"`
	AsOf      time.Time       `json:"asOf"`
}

// Client fetches collateral snapshots from the registry API. Requests retry
// transient failures with backoff.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *retryablehttp.Client
	logger     *zap.Logger
}

// NewClient creates a registry client.
func NewClient(cfg *config.RegistryConfig, logger *zap.Logger) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.MaxRetries
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 5 * time.Second
	rc.Logger = nil
	if cfg.RequestTimeout > 0 {
		rc.HTTPClient.Timeout = cfg.RequestTimeout
	}

	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		httpClient: rc,
		logger:     logger,
	}
}

// GetSnapshot fetches the current collateral snapshot.
func (c *Client) GetSnapshot(ctx context.Context) (*Snapshot, error) {
	var snap Snapshot
	if err := c.get(ctx, "/v1/collateral/snapshot", &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// GetAsset fetches a single asset position by id.
func (c *Client) GetAsset(ctx context.Context, assetID string) (*AssetPosition, error) {
	var pos AssetPosition
	if err := c.get(ctx, "/v1/collateral/assets/"+url.PathEscape(assetID), &pos); err != nil {
		return nil, err
	}
	return &pos, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create registry request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call registry: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read registry response: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("registry: %w", ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("registry returned %d: %s", resp.StatusCode, raw)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode registry response: %w", err)
	}
	return nil
}

package lifecycle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultGatewayTimeout is the HTTP client timeout for gateway calls.
const DefaultGatewayTimeout = 30 * time.Second

// GatewayClient implements ChainClient over the chain gateway's JSON HTTP
// API. The gateway owns keys, nonces and contract bindings; this client only
// moves requests and responses.
type GatewayClient struct {
	baseURL string
	client  *http.Client
}

// GatewayOption configures GatewayClient.
type GatewayOption func(*GatewayClient)

// WithGatewayTimeout sets the HTTP client timeout.
func WithGatewayTimeout(d time.Duration) GatewayOption {
	return func(c *GatewayClient) {
		c.client.Timeout = d
	}
}

// WithGatewayHTTPClient sets a custom http.Client.
func WithGatewayHTTPClient(client *http.Client) GatewayOption {
	return func(c *GatewayClient) {
		c.client = client
	}
}

// NewGatewayClient creates a chain gateway client.
func NewGatewayClient(baseURL string, opts ...GatewayOption) *GatewayClient {
	c := &GatewayClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: DefaultGatewayTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ ChainClient = (*GatewayClient)(nil)

type gatewayError struct {
	Status int
	Body   string
}

func (e *gatewayError) Error() string {
	return fmt.Sprintf("gateway returned %d: %s", e.Status, e.Body)
}

func (c *GatewayClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal gateway request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create gateway request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("call gateway %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read gateway response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &gatewayError{Status: resp.StatusCode, Body: string(data)}
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode gateway response: %w", err)
		}
	}
	return nil
}

func (c *GatewayClient) contractPath(chainID int64, address, suffix string) string {
	return fmt.Sprintf("/chains/%d/contracts/%s%s", chainID, address, suffix)
}

func (c *GatewayClient) ContractState(ctx context.Context, chainID int64, address string) (string, error) {
	var resp struct {
		State string `json:"state"`
	}
	if err := c.do(ctx, http.MethodGet, c.contractPath(chainID, address, "/state"), nil, &resp); err != nil {
		return "", err
	}
	return resp.State, nil
}

func (c *GatewayClient) ContractTimeline(ctx context.Context, chainID int64, address string) (Timeline, error) {
	var resp struct {
		RegisteringEnds int64 `json:"registeringEnds"`
		LiveEnds        int64 `json:"liveEnds"`
	}
	if err := c.do(ctx, http.MethodGet, c.contractPath(chainID, address, "/timeline"), nil, &resp); err != nil {
		return Timeline{}, err
	}
	return Timeline{RegisteringEnds: resp.RegisteringEnds, LiveEnds: resp.LiveEnds}, nil
}

func (c *GatewayClient) LeaderboardVersion(ctx context.Context, chainID int64, address string) (int64, error) {
	var resp struct {
		Version int64 `json:"version"`
	}
	if err := c.do(ctx, http.MethodGet, c.contractPath(chainID, address, "/leaders/version"), nil, &resp); err != nil {
		return 0, err
	}
	return resp.Version, nil
}

func (c *GatewayClient) VaultScore(ctx context.Context, chainID int64, address, wallet string) (VaultStanding, error) {
	var resp struct {
		Score   string `json:"score"`
		Settled bool   `json:"settled"`
	}
	if err := c.do(ctx, http.MethodGet, c.contractPath(chainID, address, "/vaults/"+wallet), nil, &resp); err != nil {
		return VaultStanding{}, err
	}
	return VaultStanding{Score: resp.Score, Settled: resp.Settled}, nil
}

func (c *GatewayClient) SubmitSyncState(ctx context.Context, chainID int64, address string) error {
	return c.do(ctx, http.MethodPost, c.contractPath(chainID, address, "/tx/sync-state"), struct{}{}, nil)
}

func (c *GatewayClient) SubmitFreeze(ctx context.Context, chainID int64, address string) error {
	return c.do(ctx, http.MethodPost, c.contractPath(chainID, address, "/tx/freeze"), struct{}{}, nil)
}

func (c *GatewayClient) SubmitSettle(ctx context.Context, chainID int64, address, wallet string) error {
	body := struct {
		Wallet string `json:"wallet"`
	}{Wallet: wallet}
	return c.do(ctx, http.MethodPost, c.contractPath(chainID, address, "/tx/settle"), body, nil)
}

func (c *GatewayClient) SubmitUpdateLeaders(ctx context.Context, chainID int64, address string, updates []LeaderUpdate) error {
	body := struct {
		Updates []LeaderUpdate `json:"updates"`
	}{Updates: updates}
	return c.do(ctx, http.MethodPost, c.contractPath(chainID, address, "/tx/update-leaders"), body, nil)
}

func (c *GatewayClient) SubmitSeal(ctx context.Context, chainID int64, address string) error {
	return c.do(ctx, http.MethodPost, c.contractPath(chainID, address, "/tx/seal"), struct{}{}, nil)
}

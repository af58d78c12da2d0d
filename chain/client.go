package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"tronnode/observability"
	"tronnode/tron"
)

const (
	defaultTimeout   = 10 * time.Second
	maxResponseBytes = 4 << 20

	apiKeyHeader = "TRON-PRO-API-KEY"
)

// Config configures the full-node HTTP client.
type Config struct {
	URL     string
	APIKey  string
	Timeout time.Duration
	// RequestsPerSecond caps outbound calls; zero disables limiting.
	RequestsPerSecond float64
	Burst             int
	Transport         http.RoundTripper
}

// Client is a thin wrapper over the Tron full-node HTTP API. All calls are POSTs
// with visible=true so addresses travel in base58 form.
type Client struct {
	baseURL    string
	apiKey     string
	timeout    time.Duration
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient constructs a client targeting the supplied node URL.
func NewClient(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if base == "" {
		return nil, fmt.Errorf("chain: node url required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	client := &Client{
		baseURL: base,
		apiKey:  strings.TrimSpace(cfg.APIKey),
		timeout: timeout,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(transport),
		},
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		client.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return client, nil
}

// ChainParameters returns the node's current chain parameter list.
func (c *Client) ChainParameters(ctx context.Context) ([]Parameter, error) {
	var out struct {
		ChainParameter []Parameter `json:"chainParameter"`
	}
	if err := c.post(ctx, "/wallet/getchainparameters", nil, &out); err != nil {
		return nil, err
	}
	return out.ChainParameter, nil
}

// AccountResource fetches the bandwidth and energy counters of an account.
// Unknown accounts yield a zero value.
func (c *Client) AccountResource(ctx context.Context, addr tron.Address) (AccountResource, error) {
	var out AccountResource
	err := c.post(ctx, "/wallet/getaccountresource", map[string]any{"address": addr.String()}, &out)
	return out, err
}

// Account fetches an account. ErrAddressNotFound is returned for accounts that
// have never been activated.
func (c *Client) Account(ctx context.Context, addr tron.Address) (Account, error) {
	var out Account
	if err := c.post(ctx, "/wallet/getaccount", map[string]any{"address": addr.String()}, &out); err != nil {
		return Account{}, err
	}
	if strings.TrimSpace(out.Address) == "" {
		return Account{}, fmt.Errorf("%w: %s", ErrAddressNotFound, addr)
	}
	return out, nil
}

// AccountBalance returns the TRX balance of an account in sun.
func (c *Client) AccountBalance(ctx context.Context, addr tron.Address) (int64, error) {
	account, err := c.Account(ctx, addr)
	if err != nil {
		return 0, err
	}
	return account.Balance, nil
}

// DelegatedResources lists the stake-2.0 delegations from owner to recipient.
func (c *Client) DelegatedResources(ctx context.Context, owner, recipient tron.Address) ([]Delegation, error) {
	var out struct {
		DelegatedResource []Delegation `json:"delegatedResource"`
	}
	payload := map[string]any{
		"fromAddress": owner.String(),
		"toAddress":   recipient.String(),
	}
	if err := c.post(ctx, "/wallet/getdelegatedresourcev2", payload, &out); err != nil {
		return nil, err
	}
	return out.DelegatedResource, nil
}

// Contract fetches contract metadata, returning ErrContractNotFound when nothing
// is deployed at addr.
func (c *Client) Contract(ctx context.Context, addr tron.Address) (ContractInfo, error) {
	var out ContractInfo
	if err := c.post(ctx, "/wallet/getcontract", map[string]any{"value": addr.String()}, &out); err != nil {
		return ContractInfo{}, err
	}
	if strings.TrimSpace(out.Address) == "" {
		return ContractInfo{}, fmt.Errorf("%w: %s", ErrContractNotFound, addr)
	}
	return out, nil
}

// TriggerConstant executes a read-only contract call and returns the raw return data.
func (c *Client) TriggerConstant(ctx context.Context, owner, contract tron.Address, selector string, parameter []byte) ([]byte, error) {
	payload := map[string]any{
		"owner_address":     owner.String(),
		"contract_address":  contract.String(),
		"function_selector": selector,
		"parameter":         fmt.Sprintf("%x", parameter),
	}
	var out struct {
		Result struct {
			Result  bool   `json:"result"`
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"result"`
		ConstantResult []string `json:"constant_result"`
	}
	if err := c.post(ctx, "/wallet/triggerconstantcontract", payload, &out); err != nil {
		return nil, err
	}
	if !out.Result.Result {
		return nil, fmt.Errorf("%w: %s %s: %s", ErrRejected, selector, out.Result.Code, decodeMessage(out.Result.Message))
	}
	if len(out.ConstantResult) == 0 {
		return nil, fmt.Errorf("%w: %s returned no data", ErrUnavailable, selector)
	}
	data, err := decodeHex(out.ConstantResult[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUnavailable, selector, err)
	}
	return data, nil
}

func (c *Client) post(ctx context.Context, path string, payload map[string]any, out any) (err error) {
	if c == nil || c.httpClient == nil {
		return fmt.Errorf("chain: client not configured")
	}
	started := time.Now()
	defer func() {
		observability.Chain().Observe(path, outcome(err), time.Since(started))
	}()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%w: %s: rate limit: %w", ErrUnavailable, path, err)
		}
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body := map[string]any{"visible": true}
	for key, value := range payload {
		body[key] = value
	}
	buf, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("chain: encode %s: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return fmt.Errorf("chain: build %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrUnavailable, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%w: %s: read body: %w", ErrUnavailable, path, err)
	}
	switch {
	case resp.StatusCode >= http.StatusInternalServerError, resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s: status %d", ErrUnavailable, path, resp.StatusCode)
	case resp.StatusCode >= http.StatusBadRequest:
		return fmt.Errorf("%w: %s: status %d", ErrRejected, path, resp.StatusCode)
	}

	var nodeErr struct {
		Error string `json:"Error"`
	}
	if json.Unmarshal(raw, &nodeErr) == nil && strings.TrimSpace(nodeErr.Error) != "" {
		return fmt.Errorf("%w: %s: %s", ErrRejected, path, nodeErr.Error)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %s: decode response: %w", ErrUnavailable, path, err)
	}
	return nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	case errors.Is(err, ErrRejected):
		return "rejected"
	default:
		return "error"
	}
}

// Package jupiter is the REST client for the Jupiter aggregator: quotes,
// swap transaction building, spot prices, and the public token list.
package jupiter

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"solbot/internal/domain"
	"solbot/internal/request"
)

// RateKey is the budget bucket shared by all Jupiter traffic.
const RateKey = "jupiter"

// Client talks to the Jupiter aggregator through the request executor, so
// every call inherits retry, backoff, and host failover.
type Client struct {
	exec       *request.Executor
	httpClient *http.Client
}

// NewClient builds a Jupiter client on top of the shared executor.
func NewClient(exec *request.Executor) *Client {
	return &Client{
		exec: exec,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// GetQuote asks for a swap route. amount is in the input token's base units;
// slippagePct is a percentage (1.0 means 1%).
func (c *Client) GetQuote(ctx context.Context, inputMint, outputMint string, amount, slippagePct decimal.Decimal) (domain.Quote, error) {
	params := url.Values{}
	params.Set("inputMint", inputMint)
	params.Set("outputMint", outputMint)
	params.Set("amount", amount.String())
	// Jupiter takes slippage in basis points.
	params.Set("slippageBps", slippagePct.Mul(decimal.NewFromInt(100)).Round(0).String())

	var resp quoteResponse
	err := c.exec.Do(ctx, domain.CapabilityQuote, request.Options{PreferredVersion: "v6", RateKey: RateKey},
		func(ctx context.Context, ep domain.Endpoint) error {
			return c.getJSON(ctx, ep.BaseURL+"/quote?"+params.Encode(), &resp)
		})
	if err != nil {
		return domain.Quote{}, fmt.Errorf("jupiter: get quote %s->%s: %w", inputMint, outputMint, err)
	}

	q := domain.Quote{
		InputMint:      resp.InputMint,
		OutputMint:     resp.OutputMint,
		InAmount:       resp.InAmount,
		OutAmount:      resp.OutAmount,
		PriceImpactPct: resp.PriceImpactPct,
		RoutePlan:      resp.RoutePlan,
	}
	if !resp.OutAmount.IsZero() {
		q.EffectivePrice = resp.InAmount.Div(resp.OutAmount)
	}
	return q, nil
}

// BuildSwapTransaction turns a quote into an unsigned serialized transaction
// for the given owner address.
func (c *Client) BuildSwapTransaction(ctx context.Context, quote domain.Quote, owner string) (domain.UnsignedTx, error) {
	reqBody := swapRequest{
		QuoteRoute:    quote.RoutePlan,
		UserPublicKey: owner,
		WrapUnwrapSOL: true,
	}

	var resp swapResponse
	err := c.exec.Do(ctx, domain.CapabilitySwap, request.Options{PreferredVersion: "v6", RateKey: RateKey},
		func(ctx context.Context, ep domain.Endpoint) error {
			return c.postJSON(ctx, ep.BaseURL+"/swap", reqBody, &resp)
		})
	if err != nil {
		return nil, fmt.Errorf("jupiter: build swap: %w", err)
	}

	raw, err := base64.StdEncoding.DecodeString(resp.SwapTransaction)
	if err != nil {
		return nil, fmt.Errorf("jupiter: decode swap transaction: %w", err)
	}
	return domain.UnsignedTx(raw), nil
}

// GetPrice returns the spot price of token denominated in vsToken, with pool
// liquidity attached.
func (c *Client) GetPrice(ctx context.Context, token, vsToken string) (domain.PriceSample, error) {
	params := url.Values{}
	params.Set("ids", token)
	params.Set("vsToken", vsToken)

	var resp priceResponse
	err := c.exec.Do(ctx, domain.CapabilityPrice, request.Options{RateKey: RateKey},
		func(ctx context.Context, ep domain.Endpoint) error {
			return c.getJSON(ctx, ep.BaseURL+"/price?"+params.Encode(), &resp)
		})
	if err != nil {
		return domain.PriceSample{}, fmt.Errorf("jupiter: get price %s: %w", token, err)
	}

	entry, ok := resp.Data[token]
	if !ok {
		return domain.PriceSample{}, fmt.Errorf("jupiter: price for %s: %w", token, domain.ErrNotFound)
	}
	return domain.PriceSample{
		Token:      token,
		Price:      entry.Price,
		Liquidity:  entry.Liquidity,
		ObservedAt: time.Now(),
		Source:     "jupiter",
	}, nil
}

// Probe is the registry health check: the aggregator exposes a dedicated
// health-check route per host.
func (c *Client) Probe(ctx context.Context, ep domain.Endpoint) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ep.BaseURL+"/health-check", nil)
	if err != nil {
		return fmt.Errorf("jupiter: create probe: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("jupiter: probe: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("jupiter: probe: HTTP %d", resp.StatusCode)
	}
	return nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

func (c *Client) getJSON(ctx context.Context, fullURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return c.send(req, out)
}

func (c *Client) postJSON(ctx context.Context, fullURL string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fullURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return c.send(req, out)
}

func (c *Client) send(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if err := checkStatus(resp.StatusCode, respBody); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// checkStatus maps non-2xx HTTP status codes onto the domain's remote error
// taxonomy. Rate limits and server errors are retryable; client errors are
// not worth another attempt on any host.
func checkStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	var apiErr errorResponse
	_ = json.Unmarshal(body, &apiErr)
	msg := apiErr.Message
	if msg == "" {
		msg = apiErr.Error
	}
	if msg == "" {
		msg = http.StatusText(statusCode)
	}

	retryable := statusCode == http.StatusTooManyRequests || statusCode >= 500
	return &domain.RemoteError{Status: statusCode, Message: msg, Retryable: retryable}
}

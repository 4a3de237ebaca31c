// Package quicknode talks to Solana RPC nodes: transaction submission,
// confirmation polling, balances, and the websocket price push feed.
package quicknode

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"solbot/internal/domain"
	"solbot/internal/request"
)

// RateKey is the budget bucket shared by all RPC traffic.
const RateKey = "rpc"

// lamportsPerSOL converts getBalance results to whole SOL.
var lamportsPerSOL = decimal.NewFromInt(1_000_000_000)

// Client is a JSON-RPC client routed through the request executor, so every
// call inherits retry, backoff, and node failover.
type Client struct {
	exec       *request.Executor
	apiKey     string
	httpClient *http.Client
}

// NewClient builds an RPC client. apiKey may be empty for public nodes.
func NewClient(exec *request.Executor, apiKey string) *Client {
	return &Client{
		exec:   exec,
		apiKey: apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SubmitTransaction broadcasts a signed transaction and returns its
// signature. Submission is never retried across nodes: a timeout here is an
// ambiguous outcome the caller must reconcile via GetTransactionStatus.
func (c *Client) SubmitTransaction(ctx context.Context, tx domain.SignedTx) (string, error) {
	params := []any{
		base64.StdEncoding.EncodeToString(tx),
		map[string]any{"encoding": "base64", "skipPreflight": false},
	}

	var sig string
	err := c.exec.Do(ctx, domain.CapabilityRPC, request.Options{MaxRetries: 1, RateKey: RateKey},
		func(ctx context.Context, ep domain.Endpoint) error {
			return c.call(ctx, ep.BaseURL, "sendTransaction", params, &sig)
		})
	if err != nil {
		return "", fmt.Errorf("quicknode: send transaction: %w", err)
	}
	return sig, nil
}

// GetTransactionStatus maps getSignatureStatuses onto the three-state
// confirmation model. A signature the cluster has not seen yet is pending.
func (c *Client) GetTransactionStatus(ctx context.Context, txID string) (domain.TxStatus, error) {
	params := []any{
		[]string{txID},
		map[string]any{"searchTransactionHistory": true},
	}

	var result struct {
		Value []*struct {
			ConfirmationStatus string          `json:"confirmationStatus"`
			Err                json.RawMessage `json:"err"`
		} `json:"value"`
	}
	err := c.exec.Do(ctx, domain.CapabilityRPC, request.Options{RateKey: RateKey},
		func(ctx context.Context, ep domain.Endpoint) error {
			return c.call(ctx, ep.BaseURL, "getSignatureStatuses", params, &result)
		})
	if err != nil {
		return "", fmt.Errorf("quicknode: get status %s: %w", txID, err)
	}

	if len(result.Value) == 0 || result.Value[0] == nil {
		return domain.TxStatusPending, nil
	}
	st := result.Value[0]
	if len(st.Err) > 0 && string(st.Err) != "null" {
		return domain.TxStatusFailed, nil
	}
	switch st.ConfirmationStatus {
	case "confirmed", "finalized":
		return domain.TxStatusConfirmed, nil
	default:
		return domain.TxStatusPending, nil
	}
}

// GetBalance returns the address's balance in SOL.
func (c *Client) GetBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	var result struct {
		Value int64 `json:"value"`
	}
	err := c.exec.Do(ctx, domain.CapabilityRPC, request.Options{RateKey: RateKey},
		func(ctx context.Context, ep domain.Endpoint) error {
			return c.call(ctx, ep.BaseURL, "getBalance", []any{address}, &result)
		})
	if err != nil {
		return decimal.Zero, fmt.Errorf("quicknode: get balance %s: %w", address, err)
	}
	return decimal.NewFromInt(result.Value).Div(lamportsPerSOL), nil
}

// Probe is the registry health check for RPC nodes.
func (c *Client) Probe(ctx context.Context, ep domain.Endpoint) error {
	var status string
	if err := c.call(ctx, ep.BaseURL, "getHealth", []any{}, &status); err != nil {
		return err
	}
	if status != "ok" {
		return fmt.Errorf("quicknode: node health %q", status)
	}
	return nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// call performs one JSON-RPC round trip and decodes result into out.
func (c *Client) call(ctx context.Context, baseURL, method string, params []any, out any) error {
	payload, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return &domain.RemoteError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode), Retryable: retryable}
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if rpcResp.Error != nil {
		// Node-side refusals carry their own codes; negative custom codes
		// (bad transaction, blockhash expired) do not heal on retry.
		retryable := rpcResp.Error.Code == -32005 // node behind
		return &domain.RemoteError{Status: rpcResp.Error.Code, Message: rpcResp.Error.Message, Retryable: retryable}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(rpcResp.Result, out); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}

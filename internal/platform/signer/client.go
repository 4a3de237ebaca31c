// Package signer delegates transaction signing to an external signing
// service so private key material never enters this process.
package signer

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"solbot/internal/domain"
)

// Client signs transactions over HTTP against a co-located signer service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient builds a signer client. timeout of zero means 10 seconds.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type signRequest struct {
	Transaction string `json:"transaction"`
}

type signResponse struct {
	SignedTransaction string `json:"signed_transaction"`
}

// Sign sends the unsigned transaction to the signer service and returns the
// signed bytes.
func (c *Client) Sign(ctx context.Context, tx domain.UnsignedTx) (domain.SignedTx, error) {
	payload, err := json.Marshal(signRequest{
		Transaction: base64.StdEncoding.EncodeToString(tx),
	})
	if err != nil {
		return nil, fmt.Errorf("signer: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/sign", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("signer: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("signer: %w: %v", domain.ErrSigningFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("signer: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("signer: %w: HTTP %d: %s", domain.ErrSigningFailed, resp.StatusCode, body)
	}

	var sr signResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, fmt.Errorf("signer: decode response: %w", err)
	}
	raw, err := base64.StdEncoding.DecodeString(sr.SignedTransaction)
	if err != nil {
		return nil, fmt.Errorf("signer: decode transaction: %w", err)
	}
	return domain.SignedTx(raw), nil
}

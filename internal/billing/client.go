// Package billing is the client for the external invoicing collaborator.
// The engine only hands over a price reference and a context key; refund
// policy and capture live entirely on the billing side.
package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

var (
	ErrInternal        = errors.New("billing client: internal error")
	ErrInvalidResponse = errors.New("billing client: invalid response")
)

type Invoice struct {
	Customer         string `json:"customer"`
	Merchant         string `json:"merchant"`
	ContextKey       string `json:"context_key"`
	AmountMinorUnits int64  `json:"amount_minor_units"`
	Currency         string `json:"currency"`
}

type Invoicer interface {
	// CreateInvoice registers the invoice with the collaborator and
	// returns its external reference.
	CreateInvoice(ctx context.Context, inv Invoice) (string, error)
}

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *Client) CreateInvoice(ctx context.Context, inv Invoice) (string, error) {
	body, err := json.Marshal(inv)
	if err != nil {
		return "", fmt.Errorf("%w: marshal invoice: %v", ErrInternal, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/invoices", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: build request: %v", ErrInternal, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: execute request: %v", ErrInternal, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
	default:
		msg, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("%w: unexpected status %d: %s", ErrInvalidResponse, resp.StatusCode, string(msg))
	}

	var out struct {
		Ref string `json:"ref"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrInvalidResponse, err)
	}
	if out.Ref == "" {
		return "", fmt.Errorf("%w: empty invoice ref", ErrInvalidResponse)
	}
	return out.Ref, nil
}

// NopInvoicer is used when no billing endpoint is configured.
type NopInvoicer struct{}

func (NopInvoicer) CreateInvoice(context.Context, Invoice) (string, error) {
	return "", nil
}

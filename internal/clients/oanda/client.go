// Package oanda provides client functionality for interacting with the
// OANDA v20 REST API.
package oanda

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
)

const (
	// PracticeURL is the URL for OANDA's practice/demo environment
	PracticeURL = "https://api-fxpractice.oanda.com"
	// LiveURL is the URL for OANDA's live trading environment
	LiveURL = "https://api-fxtrade.oanda.com"
)

// Config holds the connection parameters for one broker account.
type Config struct {
	BaseURL   string
	AccountID string
	APIKey    string
}

// Client is an OANDA v20 API client scoped to a single account.
// The underlying http.Client keeps connections alive across calls.
type Client struct {
	baseURL    string
	accountID  string
	apiKey     string
	httpClient *http.Client
	log        zerolog.Logger
}

// NewClient creates a new OANDA client
func NewClient(cfg Config, log zerolog.Logger) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = PracticeURL
	}

	return &Client{
		baseURL:    baseURL,
		accountID:  cfg.AccountID,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        log.With().Str("client", "oanda").Logger(),
	}
}

// Changes polls the account change feed for everything after the given
// transaction id.
func (c *Client) Changes(ctx context.Context, sinceTransactionID string) (*AccountChanges, error) {
	endpoint := fmt.Sprintf("%s/v3/accounts/%s/changes", c.baseURL, c.accountID)

	params := url.Values{}
	params.Set("sinceTransactionID", sinceTransactionID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create changes request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("changes request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read changes response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("changes request returned %d: %s", resp.StatusCode, string(body))
	}

	var changes AccountChanges
	if err := json.Unmarshal(body, &changes); err != nil {
		return nil, fmt.Errorf("failed to decode changes response: %w", err)
	}

	c.log.Debug().
		Str("since", sinceTransactionID).
		Str("last_transaction_id", changes.LastTransactionID).
		Int("trades_opened", len(changes.Changes.TradesOpened)).
		Int("trades_reduced", len(changes.Changes.TradesReduced)).
		Int("trades_closed", len(changes.Changes.TradesClosed)).
		Int("orders_filled", len(changes.Changes.OrdersFilled)).
		Int("orders_cancelled", len(changes.Changes.OrdersCancelled)).
		Msg("Fetched account changes")

	return &changes, nil
}

// CreateMarketOrder submits a market order for the account.
func (c *Client) CreateMarketOrder(ctx context.Context, order MarketOrderRequest) (*OrderResponse, error) {
	endpoint := fmt.Sprintf("%s/v3/accounts/%s/orders", c.baseURL, c.accountID)

	payload, err := json.Marshal(order)
	if err != nil {
		return nil, fmt.Errorf("failed to encode order request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create order request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("order request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read order response: %w", err)
	}

	if resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("order request returned %d: %s", resp.StatusCode, string(body))
	}

	var orderResp OrderResponse
	if err := json.Unmarshal(body, &orderResp); err != nil {
		return nil, fmt.Errorf("failed to decode order response: %w", err)
	}

	c.log.Info().
		Str("instrument", order.Order.Instrument).
		Int("units", order.Order.Units).
		Str("fill_transaction_id", orderResp.FilledTransactionID()).
		Str("pending_order_id", orderResp.PendingOrderID()).
		Msg("Market order submitted")

	return &orderResp, nil
}

// CloseTrade closes an open trade in full.
func (c *Client) CloseTrade(ctx context.Context, tradeID string) error {
	endpoint := fmt.Sprintf("%s/v3/accounts/%s/trades/%s/close", c.baseURL, c.accountID, tradeID)

	payload, err := json.Marshal(map[string]string{"units": "ALL"})
	if err != nil {
		return fmt.Errorf("failed to encode close request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create close request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("close request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("close request for trade %s returned %d: %s", tradeID, resp.StatusCode, string(body))
	}

	c.log.Info().Str("trade_id", tradeID).Msg("Trade closed")
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Connection", "keep-alive")
}

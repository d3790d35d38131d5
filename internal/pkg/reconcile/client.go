package reconcile

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
)

// Client-side classifications of server answers. Transport faults are left
// as-is so the reconciler can tell "retry later" from "the server said no".
var (
	ErrUnauthorized      = errors.New("missing or invalid token")
	ErrInsufficientFunds = errors.New("insufficient generations")
	ErrPaymentIncomplete = errors.New("payment not completed")
)

// Client is the HTTP client the browser-side reconciliation layer uses to
// talk to the entitlement API.
type Client struct {
	BaseURL string
	Token   string

	HTTPClient *http.Client
}

// NewClient creates an API client for the given server and bearer token.
func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// BalancesPayload mirrors the server's generations object.
type BalancesPayload struct {
	Normal        int64 `json:"normal"`
	WatermarkFree int64 `json:"watermark_free"`
}

// SubscriptionPayload mirrors the server's subscription object.
type SubscriptionPayload struct {
	PlanTier       string    `json:"plan_type"`
	Name           string    `json:"name"`
	MonthlyGrant   int64     `json:"monthly_generations"`
	ActivatedAt    time.Time `json:"start_date"`
	PeriodsGranted int64     `json:"months_granted"`
	Status         string    `json:"status"`
}

// StatusResponse is the authoritative entitlement snapshot.
type StatusResponse struct {
	IsSubscribed bool                 `json:"is_subscribed"`
	Subscription *SubscriptionPayload `json:"subscription"`
	Generations  BalancesPayload      `json:"generations"`
}

// VerifyResponse is the answer to a credits or subscription verification.
type VerifyResponse struct {
	OK           bool                 `json:"ok"`
	Credited     bool                 `json:"credited"`
	IsSubscribed bool                 `json:"is_subscribed"`
	Subscription *SubscriptionPayload `json:"subscription"`
	Generations  BalancesPayload      `json:"generations"`
}

// ConsumeResponse is the answer to a consume call.
type ConsumeResponse struct {
	OK          bool            `json:"ok"`
	Generations BalancesPayload `json:"generations"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Status fetches the authoritative subscription/balance snapshot.
func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	var out StatusResponse
	if err := c.do(ctx, http.MethodGet, "/api/subscription/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// VerifyCredits asks the server to confirm and credit a credit-pack checkout
// session. Duplicate calls are success-no-ops server-side.
func (c *Client) VerifyCredits(ctx context.Context, sessionRef string, expectedGrant int64) (*VerifyResponse, error) {
	body := map[string]any{
		"session_id":           sessionRef,
		"expected_generations": expectedGrant,
	}
	var out VerifyResponse
	if err := c.do(ctx, http.MethodPost, "/api/credits/verify", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// VerifySubscription asks the server to confirm a subscription checkout
// session and activate the plan.
func (c *Client) VerifySubscription(ctx context.Context, sessionRef string) (*VerifyResponse, error) {
	body := map[string]any{"session_id": sessionRef}
	var out VerifyResponse
	if err := c.do(ctx, http.MethodPost, "/api/subscription/verify", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CancelSubscription cancels the active subscription.
func (c *Client) CancelSubscription(ctx context.Context) (*StatusResponse, error) {
	var out StatusResponse
	if err := c.do(ctx, http.MethodPost, "/api/subscription/cancel", map[string]any{}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ConsumeGeneration spends one generation of the given kind.
func (c *Client) ConsumeGeneration(ctx context.Context, kind string) (*ConsumeResponse, error) {
	body := map[string]any{"type": kind}
	var out ConsumeResponse
	if err := c.do(ctx, http.MethodPost, "/api/user/consume-generation", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		var apiErr errorResponse
		_ = json.Unmarshal(raw, &apiErr)
		switch {
		case resp.StatusCode == http.StatusUnauthorized:
			return ErrUnauthorized
		case resp.StatusCode == http.StatusPaymentRequired:
			return ErrInsufficientFunds
		case apiErr.Error == "payment_not_completed":
			return ErrPaymentIncomplete
		default:
			return fmt.Errorf("api error %d: %s", resp.StatusCode, apiErr.Error)
		}
	}

	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

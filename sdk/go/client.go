package ateliersdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal atelier HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults. baseURL includes the API base
// path, e.g. http://localhost:8080/v1.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL:     baseURL,
		BearerToken: token,
		Timeout:     10 * time.Second,
	}
}

type Capability struct {
	Material       string  `json:"material"`
	Technique      string  `json:"technique"`
	CostMultiplier float64 `json:"cost_multiplier"`
	LeadTimeDays   int     `json:"lead_time_days"`
	MinSize        float64 `json:"min_size,omitempty"`
	MaxSize        float64 `json:"max_size,omitempty"`
}

// Artisan represents the API artisan model (partial).
type Artisan struct {
	ID           string       `json:"id"`
	UserID       string       `json:"user_id"`
	BrandID      string       `json:"brand_id,omitempty"`
	BusinessName string       `json:"business_name"`
	Status       string       `json:"status"`
	KYCStatus    string       `json:"kyc_status"`
	ServiceTier  string       `json:"service_tier"`
	CurrentLoad  int          `json:"current_load"`
	MaxVolume    int          `json:"max_volume"`
	Capabilities []Capability `json:"capabilities"`
}

type NewArtisan struct {
	ID           string       `json:"id,omitempty"`
	UserID       string       `json:"user_id"`
	BrandID      string       `json:"brand_id,omitempty"`
	BusinessName string       `json:"business_name"`
	Email        string       `json:"email,omitempty"`
	Zone         string       `json:"zone,omitempty"`
	ServiceTier  string       `json:"service_tier,omitempty"`
	Capabilities []Capability `json:"capabilities,omitempty"`
}

type NewOrder struct {
	ID              string   `json:"id,omitempty"`
	ProductID       string   `json:"product_id"`
	Material        string   `json:"material"`
	Technique       string   `json:"technique"`
	Quantity        int      `json:"quantity,omitempty"`
	Urgency         string   `json:"urgency,omitempty"`
	MaxPriceCents   int64    `json:"max_price_cents,omitempty"`
	MaxLeadTimeDays int      `json:"max_lead_time_days,omitempty"`
	PreferredZones  []string `json:"preferred_zones,omitempty"`
}

type Order struct {
	ID        string `json:"id"`
	BrandID   string `json:"brand_id"`
	ProductID string `json:"product_id"`
	Status    string `json:"status"`
}

type Quote struct {
	ID           string  `json:"id"`
	PriceCents   int64   `json:"price_cents"`
	LeadTimeDays int     `json:"lead_time_days"`
	OverallScore float64 `json:"overall_score"`
}

type Match struct {
	Artisan Artisan  `json:"artisan"`
	Quote   Quote    `json:"quote"`
	Score   float64  `json:"score"`
	Reasons []string `json:"reasons"`
}

type WorkOrder struct {
	ID                string     `json:"id"`
	OrderID           string     `json:"order_id"`
	ArtisanID         string     `json:"artisan_id"`
	Status            string     `json:"status"`
	PriceCents        int64      `json:"price_cents"`
	PayoutAmountCents int64      `json:"payout_amount_cents"`
	PayoutStatus      string     `json:"payout_status"`
	SLADeadline       *time.Time `json:"sla_deadline,omitempty"`
}

type Payout struct {
	ID                 string   `json:"id"`
	ArtisanID          string   `json:"artisan_id"`
	AmountCents        int64    `json:"amount_cents"`
	FeesCents          int64    `json:"fees_cents"`
	NetAmountCents     int64    `json:"net_amount_cents"`
	Status             string   `json:"status"`
	ExternalTransferID string   `json:"external_transfer_id,omitempty"`
	FailureReason      string   `json:"failure_reason,omitempty"`
	WorkOrderIDs       []string `json:"work_order_ids"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	BrandID    string `json:"brand_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	Payload    string `json:"payload_json"`
}

type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

type Principal struct {
	ActorID     string   `json:"actor_id"`
	BrandID     string   `json:"brand_id,omitempty"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

// APIError carries the decoded error envelope of a failed call.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

func (c *Client) Me(ctx context.Context) (Principal, error) {
	var resp Principal
	err := c.do(ctx, http.MethodGet, "me", nil, &resp)
	return resp, err
}

func (c *Client) CreateArtisan(ctx context.Context, in NewArtisan) (Artisan, error) {
	var resp Artisan
	err := c.do(ctx, http.MethodPost, "artisans", in, &resp)
	return resp, err
}

func (c *Client) Artisan(ctx context.Context, id string) (Artisan, error) {
	var resp Artisan
	err := c.do(ctx, http.MethodGet, "artisans/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

func (c *Client) VerifyArtisan(ctx context.Context, id, kycStatus string) (Artisan, error) {
	var resp Artisan
	err := c.do(ctx, http.MethodPost, "artisans/"+url.PathEscape(id)+"/kyc", map[string]any{"status": kycStatus}, &resp)
	return resp, err
}

func (c *Client) UpsertProduct(ctx context.Context, id, name string, baseCostCents, baseLaborCents int64) error {
	body := map[string]any{
		"name":             name,
		"base_cost_cents":  baseCostCents,
		"base_labor_cents": baseLaborCents,
	}
	return c.do(ctx, http.MethodPut, "products/"+url.PathEscape(id), body, nil)
}

func (c *Client) CreateOrder(ctx context.Context, in NewOrder) (Order, error) {
	var resp Order
	err := c.do(ctx, http.MethodPost, "orders", in, &resp)
	return resp, err
}

func (c *Client) Matches(ctx context.Context, orderID string, limit int) ([]Match, error) {
	endpoint := "orders/" + url.PathEscape(orderID) + "/matches"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp struct {
		Items []Match `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

func (c *Client) RouteOrder(ctx context.Context, orderID, artisanID string) (WorkOrder, Quote, error) {
	var resp struct {
		WorkOrder WorkOrder `json:"work_order"`
		Quote     Quote     `json:"quote"`
	}
	err := c.do(ctx, http.MethodPost, "orders/"+url.PathEscape(orderID)+"/route", map[string]any{"artisan_id": artisanID}, &resp)
	return resp.WorkOrder, resp.Quote, err
}

func (c *Client) TransitionWorkOrder(ctx context.Context, id, status string) (WorkOrder, error) {
	var resp WorkOrder
	err := c.do(ctx, http.MethodPost, "work-orders/"+url.PathEscape(id)+"/transition", map[string]any{"status": status}, &resp)
	return resp, err
}

func (c *Client) CreatePayout(ctx context.Context, artisanID string, workOrderIDs []string) (Payout, error) {
	body := map[string]any{"artisan_id": artisanID}
	if len(workOrderIDs) > 0 {
		body["work_order_ids"] = workOrderIDs
	}
	var resp Payout
	err := c.do(ctx, http.MethodPost, "payouts", body, &resp)
	return resp, err
}

func (c *Client) Payout(ctx context.Context, id string) (Payout, error) {
	var resp Payout
	err := c.do(ctx, http.MethodGet, "payouts/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code, apiErr.Message = env.Error.Code, env.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}

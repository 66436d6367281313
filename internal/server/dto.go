package server

import (
	"atelier/internal/domain"
	"atelier/internal/engine"
)

// Request payloads

type CapabilityRequest struct {
	Material       string  `json:"material"`
	Technique      string  `json:"technique"`
	CostMultiplier float64 `json:"cost_multiplier" minimum:"0"`
	LeadTimeDays   int     `json:"lead_time_days" minimum:"1"`
	MinSize        float64 `json:"min_size,omitempty"`
	MaxSize        float64 `json:"max_size,omitempty"`
}

func (c CapabilityRequest) capability() domain.Capability {
	return domain.Capability{
		Material: c.Material, Technique: c.Technique, CostMultiplier: c.CostMultiplier,
		LeadTimeDays: c.LeadTimeDays, MinSize: c.MinSize, MaxSize: c.MaxSize,
	}
}

func capabilities(in []CapabilityRequest) []domain.Capability {
	out := make([]domain.Capability, 0, len(in))
	for _, c := range in {
		out = append(out, c.capability())
	}
	return out
}

type CreateArtisanRequest struct {
	ID                 string              `json:"id,omitempty"`
	UserID             string              `json:"user_id"`
	BrandID            string              `json:"brand_id,omitempty"`
	BusinessName       string              `json:"business_name"`
	Email              string              `json:"email,omitempty"`
	Country            string              `json:"country,omitempty"`
	Zone               string              `json:"zone,omitempty"`
	MaxVolume          int                 `json:"max_volume,omitempty"`
	AverageLeadTime    int                 `json:"average_lead_time,omitempty"`
	MinOrderValueCents int64               `json:"min_order_value_cents,omitempty"`
	ServiceTier        string              `json:"service_tier,omitempty" enum:"basic,standard,premium,enterprise"`
	PayoutSchedule     string              `json:"payout_schedule,omitempty" enum:"daily,weekly,bi-weekly,monthly,manual"`
	Capabilities       []CapabilityRequest `json:"capabilities,omitempty"`
}

type KYCRequest struct {
	Status string `json:"status" enum:"pending,verified,rejected"`
}

type ArtisanStatusRequest struct {
	Status string `json:"status" enum:"active,suspended,inactive"`
}

type ReplaceCapabilitiesRequest struct {
	Capabilities []CapabilityRequest `json:"capabilities"`
}

type ArtisanSettingsRequest struct {
	MaxVolume          *int    `json:"max_volume,omitempty"`
	AverageLeadTime    *int    `json:"average_lead_time,omitempty"`
	MinOrderValueCents *int64  `json:"min_order_value_cents,omitempty"`
	ServiceTier        *string `json:"service_tier,omitempty"`
	PayoutSchedule     *string `json:"payout_schedule,omitempty"`
	Zone               *string `json:"zone,omitempty"`
}

type ProductRequest struct {
	Name           string `json:"name,omitempty"`
	BaseCostCents  int64  `json:"base_cost_cents" minimum:"0"`
	BaseLaborCents int64  `json:"base_labor_cents" minimum:"0"`
}

type CreateOrderRequest struct {
	ID              string   `json:"id,omitempty"`
	ProductID       string   `json:"product_id"`
	Material        string   `json:"material"`
	Technique       string   `json:"technique"`
	Quantity        int      `json:"quantity,omitempty"`
	Urgency         string   `json:"urgency,omitempty" enum:"standard,express"`
	Size            float64  `json:"size,omitempty"`
	MaxPriceCents   int64    `json:"max_price_cents,omitempty"`
	MaxLeadTimeDays int      `json:"max_lead_time_days,omitempty"`
	PreferredZones  []string `json:"preferred_zones,omitempty"`
}

type MatchRequest struct {
	Criteria engine.MatchCriteria `json:"criteria"`
	Limit    int                  `json:"limit,omitempty"`
}

type RouteOrderRequest struct {
	ArtisanID    string `json:"artisan_id"`
	PriceCents   int64  `json:"price_cents,omitempty"`
	LeadTimeDays int    `json:"lead_time_days,omitempty"`
}

type TransitionRequest struct {
	Status string `json:"status" enum:"accepted,in_progress,qc_pending,completed"`
}

type QCReportRequest struct {
	OverallScore    float64  `json:"overall_score"`
	Passed          bool     `json:"passed"`
	Issues          []string `json:"issues,omitempty"`
	Recommendations []string `json:"recommendations,omitempty"`
}

type ReturnRequest struct {
	Reason string `json:"reason,omitempty"`
}

type CreatePayoutRequest struct {
	ArtisanID    string   `json:"artisan_id"`
	WorkOrderIDs []string `json:"work_order_ids,omitempty"`
}

type PayoutRunRequest struct {
	// At overrides the schedule clock, RFC 3339. Defaults to now.
	At string `json:"at,omitempty" format:"date-time"`
}

type ConnectAccountRequest struct {
	Email   string `json:"email,omitempty"`
	Country string `json:"country,omitempty"`
}

type DevLoginRequest struct {
	ActorID string   `json:"actor_id"`
	BrandID string   `json:"brand_id,omitempty"`
	Roles   []string `json:"roles"`
}

// Response payloads

type DevLoginResponse struct {
	Token string `json:"token"`
}

type WhoAmIResponse struct {
	ActorID     string   `json:"actor_id"`
	BrandID     string   `json:"brand_id,omitempty"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

type MatchesResponse struct {
	Items []engine.Match `json:"items"`
}

type ArtisansResponse struct {
	Items []domain.Artisan `json:"items"`
}

type WorkOrdersResponse struct {
	Items []domain.WorkOrder `json:"items"`
}

type PayoutsResponse struct {
	Items []domain.Payout `json:"items"`
}

type EventsResponse struct {
	Items      []domain.Event `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

type WebhookResponse struct {
	Received bool `json:"received"`
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

package domain

import "time"

const (
	ArtisanInactive    = "inactive"
	ArtisanActive      = "active"
	ArtisanQuarantined = "quarantined"
	ArtisanSuspended   = "suspended"

	KYCPending  = "pending"
	KYCVerified = "verified"
	KYCRejected = "rejected"

	AccountPending    = "pending"
	AccountActive     = "active"
	AccountRestricted = "restricted"
)

const (
	TierBasic      = "basic"
	TierStandard   = "standard"
	TierPremium    = "premium"
	TierEnterprise = "enterprise"
)

const (
	ScheduleDaily    = "daily"
	ScheduleWeekly   = "weekly"
	ScheduleBiWeekly = "bi-weekly"
	ScheduleMonthly  = "monthly"
	ScheduleManual   = "manual"
)

const (
	OrderPending = "pending"
	OrderRouted  = "routed"
)

const (
	UrgencyStandard = "standard"
	UrgencyExpress  = "express"
)

const (
	WorkOrderAssigned   = "assigned"
	WorkOrderAccepted   = "accepted"
	WorkOrderInProgress = "in_progress"
	WorkOrderQCPending  = "qc_pending"
	WorkOrderQCPassed   = "qc_passed"
	WorkOrderQCFailed   = "qc_failed"
	WorkOrderCompleted  = "completed"
)

// Payout status values are shared by work orders (PENDING, PROCESSING, PAID, FAILED)
// and payouts (PENDING, PROCESSING, COMPLETED, FAILED).
const (
	PayoutPending    = "PENDING"
	PayoutProcessing = "PROCESSING"
	PayoutPaid       = "PAID"
	PayoutCompleted  = "COMPLETED"
	PayoutFailed     = "FAILED"
)

const QuoteSelected = "selected"

type Reputation struct {
	QualityScore       float64 `json:"quality_score"`
	DefectRate         float64 `json:"defect_rate"`
	ReturnRate         float64 `json:"return_rate"`
	OnTimeDeliveryRate float64 `json:"on_time_delivery_rate"`
	TotalOrders        int     `json:"total_orders"`
	CompletedOrders    int     `json:"completed_orders"`
}

type Artisan struct {
	ID                  string       `json:"id"`
	UserID              string       `json:"user_id"`
	BrandID             string       `json:"brand_id,omitempty"`
	BusinessName        string       `json:"business_name"`
	Email               string       `json:"email,omitempty"`
	Country             string       `json:"country,omitempty"`
	Zone                string       `json:"zone,omitempty"`
	Status              string       `json:"status" enum:"inactive,active,quarantined,suspended"`
	KYCStatus           string       `json:"kyc_status" enum:"pending,verified,rejected"`
	KYCVerifiedAt       *time.Time   `json:"kyc_verified_at,omitempty"`
	Capabilities        []Capability `json:"capabilities"`
	CurrentLoad         int          `json:"current_load"`
	MaxVolume           int          `json:"max_volume"`
	AverageLeadTime     int          `json:"average_lead_time"`
	MinOrderValueCents  int64        `json:"min_order_value_cents"`
	ServiceTier         string       `json:"service_tier" enum:"basic,standard,premium,enterprise"`
	PayoutSchedule      string       `json:"payout_schedule"`
	Reputation          Reputation   `json:"reputation"`
	PayoutAccountID     string       `json:"payout_account_id,omitempty"`
	PayoutAccountStatus string       `json:"payout_account_status,omitempty"`
	QuarantineUntil     *time.Time   `json:"quarantine_until,omitempty"`
	QuarantineReason    string       `json:"quarantine_reason,omitempty"`
	CreatedAt           time.Time    `json:"created_at"`
	UpdatedAt           time.Time    `json:"updated_at"`
}

// Quarantined reports whether the artisan is barred from routing at t.
func (a Artisan) Quarantined(t time.Time) bool {
	return a.QuarantineUntil != nil && a.QuarantineUntil.After(t)
}

type Capability struct {
	ArtisanID      string  `json:"artisan_id,omitempty"`
	Material       string  `json:"material"`
	Technique      string  `json:"technique"`
	CostMultiplier float64 `json:"cost_multiplier"`
	LeadTimeDays   int     `json:"lead_time_days"`
	MinSize        float64 `json:"min_size,omitempty"`
	MaxSize        float64 `json:"max_size,omitempty"`
}

// Fits reports whether size lies inside the capability's bounds. Zero bounds are open.
func (c Capability) Fits(size float64) bool {
	if size <= 0 {
		return true
	}
	if c.MinSize > 0 && size < c.MinSize {
		return false
	}
	if c.MaxSize > 0 && size > c.MaxSize {
		return false
	}
	return true
}

type Product struct {
	ID             string `json:"id"`
	BrandID        string `json:"brand_id"`
	Name           string `json:"name"`
	BaseCostCents  int64  `json:"base_cost_cents"`
	BaseLaborCents int64  `json:"base_labor_cents"`
}

type Order struct {
	ID              string    `json:"id"`
	BrandID         string    `json:"brand_id"`
	ProductID       string    `json:"product_id"`
	Material        string    `json:"material"`
	Technique       string    `json:"technique"`
	Quantity        int       `json:"quantity"`
	Urgency         string    `json:"urgency"`
	Size            float64   `json:"size,omitempty"`
	MaxPriceCents   int64     `json:"max_price_cents,omitempty"`
	MaxLeadTimeDays int       `json:"max_lead_time_days,omitempty"`
	PreferredZones  []string  `json:"preferred_zones,omitempty"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
}

type ScoreBreakdown struct {
	Quality     float64 `json:"quality"`
	Cost        float64 `json:"cost"`
	LeadTime    float64 `json:"lead_time"`
	Performance float64 `json:"performance"`
}

type QuoteBreakdown struct {
	BaseCostCents      int64          `json:"base_cost_cents"`
	BaseLaborCents     int64          `json:"base_labor_cents"`
	CostMultiplier     float64        `json:"cost_multiplier"`
	CapabilityLeadDays int            `json:"capability_lead_days"`
	UrgencyDaysSaved   int            `json:"urgency_days_saved"`
	Scores             ScoreBreakdown `json:"scores"`
}

type Quote struct {
	ID           string         `json:"id"`
	OrderID      string         `json:"order_id"`
	ArtisanID    string         `json:"artisan_id"`
	PriceCents   int64          `json:"price_cents"`
	LeadTimeDays int            `json:"lead_time_days"`
	Breakdown    QuoteBreakdown `json:"breakdown"`
	OverallScore float64        `json:"overall_score"`
	Status       string         `json:"status"`
	CreatedAt    time.Time      `json:"created_at"`
}

type WorkOrder struct {
	ID                string     `json:"id"`
	OrderID           string     `json:"order_id"`
	BrandID           string     `json:"brand_id"`
	ArtisanID         string     `json:"artisan_id"`
	QuoteID           string     `json:"quote_id"`
	RoutingScore      float64    `json:"routing_score"`
	SLADeadline       *time.Time `json:"sla_deadline,omitempty"`
	Status            string     `json:"status" enum:"assigned,accepted,in_progress,qc_pending,qc_passed,qc_failed,completed"`
	PriceCents        int64      `json:"price_cents"`
	PayoutAmountCents int64      `json:"payout_amount_cents"`
	CommissionCents   int64      `json:"commission_cents"`
	QCScore           *float64   `json:"qc_score,omitempty"`
	QCPassed          *bool      `json:"qc_passed,omitempty"`
	QCIssues          []string   `json:"qc_issues,omitempty"`
	SLAMet            *bool      `json:"sla_met,omitempty"`
	SLAPenaltyCents   int64      `json:"sla_penalty_cents"`
	SLABonusCents     int64      `json:"sla_bonus_cents"`
	PayoutStatus      string     `json:"payout_status" enum:"PENDING,PROCESSING,PAID,FAILED"`
	PayoutID          string     `json:"payout_id,omitempty"`
	AcceptedAt        *time.Time `json:"accepted_at,omitempty"`
	StartedAt         *time.Time `json:"started_at,omitempty"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	PaidAt            *time.Time `json:"paid_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

type SLARecord struct {
	WorkOrderID  string     `json:"work_order_id"`
	Deadline     time.Time  `json:"deadline"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	OnTime       bool       `json:"on_time"`
	DelayHours   int        `json:"delay_hours"`
	PenaltyCents int64      `json:"penalty_cents"`
	BonusCents   int64      `json:"bonus_cents"`
	Reason       string     `json:"reason"`
	Finalized    bool       `json:"finalized"`
	EvaluatedAt  time.Time  `json:"evaluated_at"`
}

type QualityReport struct {
	ID              string    `json:"id"`
	WorkOrderID     string    `json:"work_order_id"`
	ArtisanID       string    `json:"artisan_id"`
	InspectorID     string    `json:"inspector_id,omitempty"`
	OverallScore    float64   `json:"overall_score"`
	Issues          []string  `json:"issues"`
	Recommendations []string  `json:"recommendations"`
	Passed          bool      `json:"passed"`
	CreatedAt       time.Time `json:"created_at"`
}

type Payout struct {
	ID                 string     `json:"id"`
	ArtisanID          string     `json:"artisan_id"`
	GrossAmountCents   int64      `json:"gross_amount_cents"`
	AmountCents        int64      `json:"amount_cents"`
	FeesCents          int64      `json:"fees_cents"`
	NetAmountCents     int64      `json:"net_amount_cents"`
	SLAPenaltyCents    int64      `json:"sla_penalty_cents"`
	SLABonusCents      int64      `json:"sla_bonus_cents"`
	Currency           string     `json:"currency"`
	WorkOrderIDs       []string   `json:"work_order_ids"`
	Status             string     `json:"status" enum:"PENDING,PROCESSING,COMPLETED,FAILED"`
	ExternalTransferID string     `json:"external_transfer_id,omitempty"`
	FailureReason      string     `json:"failure_reason,omitempty"`
	PaidAt             *time.Time `json:"paid_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	BrandID    string `json:"brand_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

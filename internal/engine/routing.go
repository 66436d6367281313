package engine

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"atelier/internal/config"
	"atelier/internal/domain"
	"atelier/internal/events"
	"atelier/internal/repo"
)

// MatchCriteria are the fulfillment requirements of an order.
type MatchCriteria struct {
	BrandID         string   `json:"brand_id,omitempty"`
	ProductID       string   `json:"product_id"`
	Material        string   `json:"material"`
	Technique       string   `json:"technique"`
	Quantity        int      `json:"quantity"`
	Urgency         string   `json:"urgency,omitempty"`
	Size            float64  `json:"size,omitempty"`
	MaxPriceCents   int64    `json:"max_price_cents,omitempty"`
	MaxLeadTimeDays int      `json:"max_lead_time_days,omitempty"`
	PreferredZones  []string `json:"preferred_zones,omitempty"`
}

func (c MatchCriteria) validate() error {
	var missing []string
	if c.ProductID == "" {
		missing = append(missing, "product_id")
	}
	if c.Material == "" {
		missing = append(missing, "material")
	}
	if c.Technique == "" {
		missing = append(missing, "technique")
	}
	if len(missing) > 0 {
		return Validation("criteria missing %s", strings.Join(missing, ", "))
	}
	if c.Quantity < 1 {
		return Validation("quantity must be at least 1")
	}
	switch c.Urgency {
	case "", domain.UrgencyStandard, domain.UrgencyExpress:
	default:
		return Validation("unknown urgency %q", c.Urgency)
	}
	if c.MaxPriceCents < 0 || c.MaxLeadTimeDays < 0 || c.Size < 0 {
		return Validation("max price, max lead time and size must not be negative")
	}
	return nil
}

// Match is one ranked candidate with its unsaved quote.
type Match struct {
	Artisan    domain.Artisan    `json:"artisan"`
	Capability domain.Capability `json:"capability"`
	Quote      domain.Quote      `json:"quote"`
	Score      float64           `json:"score"`
	Reasons    []string          `json:"reasons"`
}

// FindBestArtisans ranks eligible artisans for the criteria, best first.
func (e Engine) FindBestArtisans(ctx context.Context, criteria MatchCriteria, limit int) (matches []Match, err error) {
	ctx, end := e.span(ctx, "engine.FindBestArtisans",
		attribute.String("material", criteria.Material), attribute.String("technique", criteria.Technique))
	defer func() { end(err) }()

	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := criteria.validate(); err != nil {
		return nil, err
	}
	if limit < 0 {
		return nil, Validation("limit must not be negative")
	}
	if limit == 0 {
		limit = e.Config.Routing.DefaultLimit
	}
	if limit > e.Config.Routing.MaxLimit {
		limit = e.Config.Routing.MaxLimit
	}
	product, err := e.Repo.GetProduct(ctx, nil, criteria.ProductID)
	if err != nil {
		return nil, notFoundAs(err, "product", criteria.ProductID)
	}
	if criteria.BrandID != "" && product.BrandID != criteria.BrandID {
		return nil, NotFound("product %s not found", criteria.ProductID)
	}
	candidates, err := e.Repo.ListCandidates(ctx, repo.CandidateFilter{
		Material:  criteria.Material,
		Technique: criteria.Technique,
		Size:      criteria.Size,
		Zones:     criteria.PreferredZones,
		Now:       e.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	for _, c := range candidates {
		matches = append(matches, e.evaluateCandidate(product, criteria, c.Artisan, c.Capability))
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > limit {
		matches = matches[:limit]
	}
	e.log().Debug("routing candidates ranked", "product", criteria.ProductID, "candidates", len(candidates), "returned", len(matches))
	return matches, nil
}

func (e Engine) evaluateCandidate(p domain.Product, c MatchCriteria, a domain.Artisan, cp domain.Capability) Match {
	q := QuoteFor(e.Config, p, cp, c.Urgency)
	scores, total := ScoreQuote(e.Config, a.Reputation, q, c)
	q.ArtisanID = a.ID
	q.Breakdown.Scores = scores
	q.OverallScore = total
	return Match{
		Artisan:    a,
		Capability: cp,
		Quote:      q,
		Score:      total,
		Reasons:    matchReasons(a.Reputation, q, c),
	}
}

// QuoteFor prices a product on a capability. Express urgency shortens the lead
// time by the configured days, never below one day.
func QuoteFor(cfg *config.Config, p domain.Product, cp domain.Capability, urgency string) domain.Quote {
	multiplier := cp.CostMultiplier
	if multiplier <= 0 {
		multiplier = 1
	}
	price := int64(math.Round(float64(p.BaseCostCents+p.BaseLaborCents) * multiplier))
	lead := cp.LeadTimeDays
	saved := 0
	if urgency == domain.UrgencyExpress {
		saved = cfg.Routing.ExpressDaysSaved
		lead -= saved
		if lead < 1 {
			saved -= 1 - lead
			lead = 1
		}
	}
	return domain.Quote{
		PriceCents:   price,
		LeadTimeDays: lead,
		Breakdown: domain.QuoteBreakdown{
			BaseCostCents:      p.BaseCostCents,
			BaseLaborCents:     p.BaseLaborCents,
			CostMultiplier:     multiplier,
			CapabilityLeadDays: cp.LeadTimeDays,
			UrgencyDaysSaved:   saved,
		},
	}
}

// ScoreQuote returns the per-criterion scores in [0,1] and the weighted
// composite in [0,100].
func ScoreQuote(cfg *config.Config, rep domain.Reputation, q domain.Quote, c MatchCriteria) (domain.ScoreBreakdown, float64) {
	var s domain.ScoreBreakdown
	s.Quality = clamp01(rep.QualityScore / 5)
	s.Cost = ratioScore(float64(c.MaxPriceCents), float64(q.PriceCents), float64(cfg.Routing.PriceCeilingCents))
	s.LeadTime = ratioScore(float64(c.MaxLeadTimeDays), float64(q.LeadTimeDays), float64(cfg.Routing.LeadTimeCeilingDays))
	s.Performance = clamp01(rep.OnTimeDeliveryRate * (1 - rep.DefectRate) * (1 - rep.ReturnRate))
	w := cfg.Routing.Weights
	total := 100 * (w.Quality*s.Quality + w.Cost*s.Cost + w.LeadTime*s.LeadTime + w.Performance*s.Performance)
	return s, total
}

// ratioScore rewards values under a cap, or inverse-normalizes against the
// ceiling when no cap is given.
func ratioScore(limit, value, ceiling float64) float64 {
	if limit > 0 {
		if value <= 0 {
			return 1
		}
		return math.Min(1, limit/value)
	}
	if ceiling <= 0 {
		return 0
	}
	return math.Max(0, 1-value/ceiling)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func matchReasons(rep domain.Reputation, q domain.Quote, c MatchCriteria) []string {
	reasons := []string{}
	if rep.QualityScore >= 4.5 {
		reasons = append(reasons, fmt.Sprintf("High quality score (%.1f/5)", rep.QualityScore))
	}
	if rep.OnTimeDeliveryRate >= 0.95 {
		reasons = append(reasons, fmt.Sprintf("Excellent on-time delivery (%.0f%%)", rep.OnTimeDeliveryRate*100))
	}
	if c.MaxPriceCents > 0 && q.PriceCents <= c.MaxPriceCents {
		reasons = append(reasons, "Price within budget")
	}
	if c.MaxLeadTimeDays > 0 && q.LeadTimeDays <= c.MaxLeadTimeDays {
		reasons = append(reasons, "Lead time within requirement")
	}
	if rep.TotalOrders > 50 {
		reasons = append(reasons, fmt.Sprintf("Experienced (%d orders)", rep.TotalOrders))
	}
	return reasons
}

// RouteInput selects the artisan and quote terms for an order.
type RouteInput struct {
	BrandID   string
	OrderID   string
	ArtisanID string
	// Quote terms proposed by the caller. When zero the quote is re-derived
	// from the artisan's capability.
	PriceCents   int64
	LeadTimeDays int
	ActorID      string
}

type RouteResult struct {
	WorkOrder domain.WorkOrder `json:"work_order"`
	Quote     domain.Quote     `json:"quote"`
}

// RouteOrder assigns an order to an artisan, reserving one unit of capacity.
func (e Engine) RouteOrder(ctx context.Context, in RouteInput) (res RouteResult, err error) {
	ctx, end := e.span(ctx, "engine.RouteOrder",
		attribute.String("order_id", in.OrderID), attribute.String("artisan_id", in.ArtisanID))
	defer func() { end(err) }()

	if err := e.ready(); err != nil {
		return res, err
	}
	if in.OrderID == "" || in.ArtisanID == "" {
		return res, Validation("order_id and artisan_id are required")
	}
	if in.PriceCents < 0 || in.LeadTimeDays < 0 {
		return res, Validation("quote price and lead time must not be negative")
	}
	now := e.now()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return res, err
	}
	defer tx.Rollback()

	order, err := e.Repo.GetOrder(ctx, tx, in.BrandID, in.OrderID)
	if err != nil {
		return res, notFoundAs(err, "order", in.OrderID)
	}
	if order.Status == domain.OrderRouted {
		return res, Conflict("order %s is already routed", order.ID)
	}
	artisan, err := e.Repo.GetArtisan(ctx, tx, in.ArtisanID)
	if err != nil {
		return res, notFoundAs(err, "artisan", in.ArtisanID)
	}
	product, err := e.Repo.GetProduct(ctx, tx, order.ProductID)
	if err != nil {
		return res, notFoundAs(err, "product", order.ProductID)
	}
	criteria := MatchCriteria{
		BrandID:         order.BrandID,
		ProductID:       order.ProductID,
		Material:        order.Material,
		Technique:       order.Technique,
		Quantity:        order.Quantity,
		Urgency:         order.Urgency,
		Size:            order.Size,
		MaxPriceCents:   order.MaxPriceCents,
		MaxLeadTimeDays: order.MaxLeadTimeDays,
		PreferredZones:  order.PreferredZones,
	}
	cp, err := eligibleCapability(artisan, criteria, now)
	if err != nil {
		return res, err
	}
	quote := QuoteFor(e.Config, product, cp, order.Urgency)
	if in.PriceCents > 0 {
		quote.PriceCents = in.PriceCents
	}
	if in.LeadTimeDays > 0 {
		quote.LeadTimeDays = in.LeadTimeDays
	}
	scores, total := ScoreQuote(e.Config, artisan.Reputation, quote, criteria)
	quote.ID = uuid.NewString()
	quote.OrderID = order.ID
	quote.ArtisanID = artisan.ID
	quote.Breakdown.Scores = scores
	quote.OverallScore = total
	quote.Status = domain.QuoteSelected
	quote.CreatedAt = now

	reserved, err := e.Repo.IncrementLoad(ctx, tx, artisan.ID, now)
	if err != nil {
		return res, fmt.Errorf("reserve capacity: %w", err)
	}
	if !reserved {
		return res, Conflict("artisan %s is at capacity", artisan.ID)
	}
	if err := e.Repo.InsertQuote(ctx, tx, quote); err != nil {
		return res, fmt.Errorf("insert quote: %w", err)
	}
	commission := applyBasisPoints(quote.PriceCents, e.Config.CommissionBasisPoints())
	deadline := now.Add(days(quote.LeadTimeDays))
	wo := domain.WorkOrder{
		ID:                uuid.NewString(),
		OrderID:           order.ID,
		BrandID:           order.BrandID,
		ArtisanID:         artisan.ID,
		QuoteID:           quote.ID,
		RoutingScore:      total,
		SLADeadline:       &deadline,
		Status:            domain.WorkOrderAssigned,
		PriceCents:        quote.PriceCents,
		CommissionCents:   commission,
		PayoutAmountCents: quote.PriceCents - commission,
		PayoutStatus:      domain.PayoutPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := e.Repo.InsertWorkOrder(ctx, tx, wo); err != nil {
		return res, fmt.Errorf("insert work order: %w", err)
	}
	if err := e.Repo.SetOrderStatus(ctx, tx, order.ID, domain.OrderRouted); err != nil {
		return res, err
	}
	if err := e.appendEvent(ctx, tx, "work_order.assigned", order.BrandID, "work_order", wo.ID, in.ActorID, events.EventPayload{
		"order_id":      order.ID,
		"artisan_id":    artisan.ID,
		"quote_id":      quote.ID,
		"price_cents":   quote.PriceCents,
		"routing_score": total,
	}); err != nil {
		return res, err
	}
	if err := tx.Commit(); err != nil {
		return res, err
	}
	e.log().Info("order routed", "order", order.ID, "artisan", artisan.ID, "work_order", wo.ID, "score", math.Round(total*100)/100)
	return RouteResult{WorkOrder: wo, Quote: quote}, nil
}

// eligibleCapability re-checks routing eligibility inside the assignment
// transaction. Capacity is enforced separately by the load reservation.
func eligibleCapability(a domain.Artisan, c MatchCriteria, now time.Time) (domain.Capability, error) {
	if a.Status != domain.ArtisanActive || a.KYCStatus != domain.KYCVerified {
		return domain.Capability{}, Conflict("artisan %s is not eligible for routing (status %s, kyc %s)", a.ID, a.Status, a.KYCStatus)
	}
	if a.Quarantined(now) {
		return domain.Capability{}, Conflict("artisan %s is quarantined", a.ID)
	}
	if len(c.PreferredZones) > 0 && !contains(c.PreferredZones, a.Zone) {
		return domain.Capability{}, Conflict("artisan %s is outside the preferred zones", a.ID)
	}
	for _, cp := range a.Capabilities {
		if cp.Material == c.Material && cp.Technique == c.Technique && cp.Fits(c.Size) {
			return cp, nil
		}
	}
	return domain.Capability{}, Conflict("artisan %s lacks capability %s/%s", a.ID, c.Material, c.Technique)
}

// applyBasisPoints returns amount×bps/10000 rounded half up.
func applyBasisPoints(amount, bps int64) int64 {
	return (amount*bps + 5000) / 10000
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

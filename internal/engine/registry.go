package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"atelier/internal/domain"
	"atelier/internal/events"
	"atelier/internal/repo"
)

type ArtisanCreateOptions struct {
	ID                 string
	UserID             string
	BrandID            string
	BusinessName       string
	Email              string
	Country            string
	Zone               string
	MaxVolume          int
	AverageLeadTime    int
	MinOrderValueCents int64
	ServiceTier        string
	PayoutSchedule     string
	Capabilities       []domain.Capability
	ActorID            string
}

var validTiers = []string{domain.TierBasic, domain.TierStandard, domain.TierPremium, domain.TierEnterprise}

var validSchedules = []string{domain.ScheduleDaily, domain.ScheduleWeekly, domain.ScheduleBiWeekly, domain.ScheduleMonthly, domain.ScheduleManual}

// CreateArtisan onboards an inactive artisan pending KYC.
func (e Engine) CreateArtisan(ctx context.Context, opts ArtisanCreateOptions) (domain.Artisan, error) {
	if opts.UserID == "" || opts.BusinessName == "" {
		return domain.Artisan{}, Validation("user_id and business_name are required")
	}
	if opts.MaxVolume == 0 {
		opts.MaxVolume = 10
	}
	if opts.AverageLeadTime == 0 {
		opts.AverageLeadTime = 7
	}
	if opts.ServiceTier == "" {
		opts.ServiceTier = domain.TierStandard
	}
	if opts.PayoutSchedule == "" {
		opts.PayoutSchedule = domain.ScheduleWeekly
	}
	if opts.MaxVolume < 0 || opts.AverageLeadTime < 0 || opts.MinOrderValueCents < 0 {
		return domain.Artisan{}, Validation("max_volume, average_lead_time and min_order_value must not be negative")
	}
	if !contains(validTiers, opts.ServiceTier) {
		return domain.Artisan{}, Validation("unknown service tier %q", opts.ServiceTier)
	}
	if !contains(validSchedules, opts.PayoutSchedule) {
		return domain.Artisan{}, Validation("unknown payout schedule %q", opts.PayoutSchedule)
	}
	for _, c := range opts.Capabilities {
		if err := validateCapability(c); err != nil {
			return domain.Artisan{}, err
		}
	}
	if err := ensureUniqueCapabilities(opts.Capabilities); err != nil {
		return domain.Artisan{}, err
	}
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := e.now()
	a := domain.Artisan{
		ID:                 id,
		UserID:             opts.UserID,
		BrandID:            opts.BrandID,
		BusinessName:       opts.BusinessName,
		Email:              opts.Email,
		Country:            opts.Country,
		Zone:               opts.Zone,
		Status:             domain.ArtisanInactive,
		KYCStatus:          domain.KYCPending,
		MaxVolume:          opts.MaxVolume,
		AverageLeadTime:    opts.AverageLeadTime,
		MinOrderValueCents: opts.MinOrderValueCents,
		ServiceTier:        opts.ServiceTier,
		PayoutSchedule:     opts.PayoutSchedule,
		Reputation:         domain.Reputation{QualityScore: 5, OnTimeDeliveryRate: 1},
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return a, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertArtisan(ctx, tx, a); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return a, Conflict("artisan for user %s already exists", opts.UserID)
		}
		return a, fmt.Errorf("insert artisan: %w", err)
	}
	for _, c := range opts.Capabilities {
		c.ArtisanID = id
		if err := e.Repo.UpsertCapability(ctx, tx, c); err != nil {
			return a, fmt.Errorf("insert capability: %w", err)
		}
	}
	if err := e.appendEvent(ctx, tx, "artisan.create", a.BrandID, "artisan", id, opts.ActorID, events.EventPayload{
		"user_id": a.UserID, "service_tier": a.ServiceTier,
	}); err != nil {
		return a, err
	}
	if err := tx.Commit(); err != nil {
		return a, err
	}
	return e.GetArtisan(ctx, id)
}

func (e Engine) GetArtisan(ctx context.Context, id string) (domain.Artisan, error) {
	a, err := e.Repo.GetArtisan(ctx, nil, id)
	return a, notFoundAs(err, "artisan", id)
}

func (e Engine) ListArtisans(ctx context.Context, f repo.ArtisanFilter) ([]domain.Artisan, error) {
	return e.Repo.ListArtisans(ctx, f)
}

// VerifyArtisan records the KYC decision. Verification activates an inactive
// artisan; rejection deactivates it.
func (e Engine) VerifyArtisan(ctx context.Context, id, kycStatus, actorID string) (domain.Artisan, error) {
	if kycStatus != domain.KYCVerified && kycStatus != domain.KYCRejected && kycStatus != domain.KYCPending {
		return domain.Artisan{}, Validation("unknown kyc status %q", kycStatus)
	}
	now := e.now()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Artisan{}, err
	}
	defer tx.Rollback()
	a, err := e.Repo.GetArtisan(ctx, tx, id)
	if err != nil {
		return a, notFoundAs(err, "artisan", id)
	}
	status := a.Status
	verifiedAt := a.KYCVerifiedAt
	switch kycStatus {
	case domain.KYCVerified:
		verifiedAt = &now
		if status == domain.ArtisanInactive {
			status = domain.ArtisanActive
		}
	case domain.KYCRejected:
		verifiedAt = nil
		status = domain.ArtisanInactive
	}
	if err := e.Repo.SetArtisanKYC(ctx, tx, id, kycStatus, status, verifiedAt, now); err != nil {
		return a, err
	}
	if err := e.appendEvent(ctx, tx, "artisan.kyc", a.BrandID, "artisan", id, actorID, events.EventPayload{
		"kyc_status": kycStatus, "status": status,
	}); err != nil {
		return a, err
	}
	if err := tx.Commit(); err != nil {
		return a, err
	}
	return e.GetArtisan(ctx, id)
}

// SetArtisanStatus is the administrative override for suspension and
// reactivation. Quarantine is owned by the quality gate; reactivating a
// quarantined artisan clears the quarantine window so routing sees it again.
func (e Engine) SetArtisanStatus(ctx context.Context, id, status, actorID string) (domain.Artisan, error) {
	if status != domain.ArtisanActive && status != domain.ArtisanSuspended && status != domain.ArtisanInactive {
		return domain.Artisan{}, Validation("status %q cannot be set directly", status)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Artisan{}, err
	}
	defer tx.Rollback()
	a, err := e.Repo.GetArtisan(ctx, tx, id)
	if err != nil {
		return a, notFoundAs(err, "artisan", id)
	}
	if status == domain.ArtisanActive && a.KYCStatus != domain.KYCVerified {
		return a, Conflict("artisan %s must pass kyc before activation", id)
	}
	if status == domain.ArtisanActive && a.Status == domain.ArtisanQuarantined {
		if _, err := e.Repo.Reinstate(ctx, tx, id, e.now()); err != nil {
			return a, err
		}
	} else if err := e.Repo.SetArtisanStatus(ctx, tx, id, status, e.now()); err != nil {
		return a, err
	}
	if err := e.appendEvent(ctx, tx, "artisan.status", a.BrandID, "artisan", id, actorID, events.EventPayload{
		"from": a.Status, "to": status,
	}); err != nil {
		return a, err
	}
	if err := tx.Commit(); err != nil {
		return a, err
	}
	return e.GetArtisan(ctx, id)
}

// AddCapability adds a material/technique mapping. An existing mapping for
// the same pair is a Conflict.
func (e Engine) AddCapability(ctx context.Context, artisanID string, c domain.Capability, actorID string) (domain.Artisan, error) {
	if err := validateCapability(c); err != nil {
		return domain.Artisan{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Artisan{}, err
	}
	defer tx.Rollback()
	a, err := e.Repo.GetArtisan(ctx, tx, artisanID)
	if err != nil {
		return a, notFoundAs(err, "artisan", artisanID)
	}
	for _, existing := range a.Capabilities {
		if existing.Material == c.Material && existing.Technique == c.Technique {
			return a, Conflict("capability %s/%s already mapped for artisan %s", c.Material, c.Technique, artisanID)
		}
	}
	c.ArtisanID = artisanID
	if err := e.Repo.UpsertCapability(ctx, tx, c); err != nil {
		return a, err
	}
	if err := e.appendEvent(ctx, tx, "artisan.capability.add", a.BrandID, "artisan", artisanID, actorID, events.EventPayload{
		"material": c.Material, "technique": c.Technique,
	}); err != nil {
		return a, err
	}
	if err := tx.Commit(); err != nil {
		return a, err
	}
	return e.GetArtisan(ctx, artisanID)
}

// ReplaceCapabilities swaps the artisan's whole capability catalog.
func (e Engine) ReplaceCapabilities(ctx context.Context, artisanID string, caps []domain.Capability, actorID string) (domain.Artisan, error) {
	for _, c := range caps {
		if err := validateCapability(c); err != nil {
			return domain.Artisan{}, err
		}
	}
	if err := ensureUniqueCapabilities(caps); err != nil {
		return domain.Artisan{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Artisan{}, err
	}
	defer tx.Rollback()
	a, err := e.Repo.GetArtisan(ctx, tx, artisanID)
	if err != nil {
		return a, notFoundAs(err, "artisan", artisanID)
	}
	if err := e.Repo.DeleteCapabilities(ctx, tx, artisanID); err != nil {
		return a, err
	}
	for _, c := range caps {
		c.ArtisanID = artisanID
		if err := e.Repo.UpsertCapability(ctx, tx, c); err != nil {
			return a, err
		}
	}
	if err := e.appendEvent(ctx, tx, "artisan.capability.replace", a.BrandID, "artisan", artisanID, actorID, events.EventPayload{
		"count": len(caps),
	}); err != nil {
		return a, err
	}
	if err := tx.Commit(); err != nil {
		return a, err
	}
	return e.GetArtisan(ctx, artisanID)
}

func validateCapability(c domain.Capability) error {
	if c.Material == "" || c.Technique == "" {
		return Validation("capability material and technique are required")
	}
	if c.LeadTimeDays < 1 {
		return Validation("capability %s/%s lead time must be at least 1 day", c.Material, c.Technique)
	}
	if c.CostMultiplier < 0 {
		return Validation("capability %s/%s cost multiplier must not be negative", c.Material, c.Technique)
	}
	if c.MinSize < 0 || c.MaxSize < 0 || (c.MaxSize > 0 && c.MinSize > c.MaxSize) {
		return Validation("capability %s/%s has invalid size bounds", c.Material, c.Technique)
	}
	return nil
}

func ensureUniqueCapabilities(caps []domain.Capability) error {
	seen := map[string]bool{}
	for _, c := range caps {
		key := strings.ToLower(c.Material) + "|" + strings.ToLower(c.Technique)
		if seen[key] {
			return Conflict("duplicate capability mapping %s/%s", c.Material, c.Technique)
		}
		seen[key] = true
	}
	return nil
}

// UpdateArtisanSettings changes operational settings. Nil fields are left as is.
func (e Engine) UpdateArtisanSettings(ctx context.Context, id string, s repo.ArtisanSettings, actorID string) (domain.Artisan, error) {
	if s.ServiceTier != nil && !contains(validTiers, *s.ServiceTier) {
		return domain.Artisan{}, Validation("unknown service tier %q", *s.ServiceTier)
	}
	if s.PayoutSchedule != nil && !contains(validSchedules, *s.PayoutSchedule) {
		return domain.Artisan{}, Validation("unknown payout schedule %q", *s.PayoutSchedule)
	}
	if s.MaxVolume != nil && *s.MaxVolume < 0 {
		return domain.Artisan{}, Validation("max_volume must not be negative")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Artisan{}, err
	}
	defer tx.Rollback()
	a, err := e.Repo.GetArtisan(ctx, tx, id)
	if err != nil {
		return a, notFoundAs(err, "artisan", id)
	}
	if err := e.Repo.UpdateArtisanSettings(ctx, tx, id, s, e.now()); err != nil {
		return a, err
	}
	payload := events.EventPayload{}
	if s.ServiceTier != nil {
		payload["service_tier"] = *s.ServiceTier
	}
	if s.PayoutSchedule != nil {
		payload["payout_schedule"] = *s.PayoutSchedule
	}
	if s.MaxVolume != nil {
		payload["max_volume"] = *s.MaxVolume
	}
	if err := e.appendEvent(ctx, tx, "artisan.settings", a.BrandID, "artisan", id, actorID, payload); err != nil {
		return a, err
	}
	if err := tx.Commit(); err != nil {
		return a, err
	}
	return e.GetArtisan(ctx, id)
}

// SeedReputation back-fills reputation imported from another system.
func (e Engine) SeedReputation(ctx context.Context, id string, rep domain.Reputation, actorID string) (domain.Artisan, error) {
	if rep.QualityScore < 0 || rep.QualityScore > 5 {
		return domain.Artisan{}, Validation("quality score must be within [0,5]")
	}
	for _, r := range []float64{rep.DefectRate, rep.ReturnRate, rep.OnTimeDeliveryRate} {
		if r < 0 || r > 1 {
			return domain.Artisan{}, Validation("rates must be within [0,1]")
		}
	}
	if rep.TotalOrders < 0 || rep.CompletedOrders < 0 || rep.CompletedOrders > rep.TotalOrders {
		return domain.Artisan{}, Validation("completed orders must be within [0,total orders]")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Artisan{}, err
	}
	defer tx.Rollback()
	a, err := e.Repo.GetArtisan(ctx, tx, id)
	if err != nil {
		return a, notFoundAs(err, "artisan", id)
	}
	if err := e.Repo.SeedReputation(ctx, tx, id, rep, e.now()); err != nil {
		return a, err
	}
	if err := e.appendEvent(ctx, tx, "artisan.reputation.seed", a.BrandID, "artisan", id, actorID, events.EventPayload{
		"quality_score": rep.QualityScore, "total_orders": rep.TotalOrders,
	}); err != nil {
		return a, err
	}
	if err := tx.Commit(); err != nil {
		return a, err
	}
	return e.GetArtisan(ctx, id)
}

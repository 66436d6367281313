package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"atelier/internal/domain"
	"atelier/internal/events"
	"atelier/internal/repo"
)

// UpsertProduct stores the pricing inputs of a marketplace product.
func (e Engine) UpsertProduct(ctx context.Context, p domain.Product, actorID string) (domain.Product, error) {
	if p.ID == "" || p.BrandID == "" {
		return p, Validation("product id and brand_id are required")
	}
	if p.BaseCostCents < 0 || p.BaseLaborCents < 0 {
		return p, Validation("base cost and labor must not be negative")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return p, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpsertProduct(ctx, tx, p); err != nil {
		return p, err
	}
	if err := e.appendEvent(ctx, tx, "product.upsert", p.BrandID, "product", p.ID, actorID, nil); err != nil {
		return p, err
	}
	return p, tx.Commit()
}

// CreateOrder records a fulfillment order awaiting routing.
func (e Engine) CreateOrder(ctx context.Context, o domain.Order, actorID string) (domain.Order, error) {
	if o.BrandID == "" {
		return o, Validation("brand_id is required")
	}
	if o.Quantity == 0 {
		o.Quantity = 1
	}
	if o.Urgency == "" {
		o.Urgency = domain.UrgencyStandard
	}
	crit := MatchCriteria{
		ProductID: o.ProductID, Material: o.Material, Technique: o.Technique, Quantity: o.Quantity,
		Urgency: o.Urgency, Size: o.Size, MaxPriceCents: o.MaxPriceCents, MaxLeadTimeDays: o.MaxLeadTimeDays,
	}
	if err := crit.validate(); err != nil {
		return o, err
	}
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	o.Status = domain.OrderPending
	o.CreatedAt = e.now()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return o, err
	}
	defer tx.Rollback()
	p, err := e.Repo.GetProduct(ctx, tx, o.ProductID)
	if err != nil {
		return o, notFoundAs(err, "product", o.ProductID)
	}
	if p.BrandID != o.BrandID {
		return o, NotFound("product %s not found", o.ProductID)
	}
	if err := e.Repo.InsertOrder(ctx, tx, o); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return o, Conflict("order %s already exists", o.ID)
		}
		return o, fmt.Errorf("insert order: %w", err)
	}
	if err := e.appendEvent(ctx, tx, "order.create", o.BrandID, "order", o.ID, actorID, events.EventPayload{
		"product_id": o.ProductID, "material": o.Material, "technique": o.Technique,
	}); err != nil {
		return o, err
	}
	return o, tx.Commit()
}

func (e Engine) GetOrder(ctx context.Context, brandID, id string) (domain.Order, error) {
	o, err := e.Repo.GetOrder(ctx, nil, brandID, id)
	return o, notFoundAs(err, "order", id)
}

// CriteriaForOrder derives routing criteria from a stored order.
func (e Engine) CriteriaForOrder(ctx context.Context, brandID, orderID string) (MatchCriteria, error) {
	o, err := e.GetOrder(ctx, brandID, orderID)
	if err != nil {
		return MatchCriteria{}, err
	}
	return MatchCriteria{
		BrandID: o.BrandID, ProductID: o.ProductID, Material: o.Material, Technique: o.Technique,
		Quantity: o.Quantity, Urgency: o.Urgency, Size: o.Size, MaxPriceCents: o.MaxPriceCents,
		MaxLeadTimeDays: o.MaxLeadTimeDays, PreferredZones: o.PreferredZones,
	}, nil
}

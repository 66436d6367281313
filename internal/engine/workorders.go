package engine

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"atelier/internal/domain"
	"atelier/internal/events"
	"atelier/internal/repo"
)

func ensureWorkOrderTransition(from, to string) error {
	switch from {
	case domain.WorkOrderAssigned:
		if to == domain.WorkOrderAccepted {
			return nil
		}
	case domain.WorkOrderAccepted:
		if to == domain.WorkOrderInProgress {
			return nil
		}
	case domain.WorkOrderInProgress:
		if to == domain.WorkOrderQCPending {
			return nil
		}
	case domain.WorkOrderQCFailed:
		if to == domain.WorkOrderInProgress {
			return nil
		}
	case domain.WorkOrderQCPassed:
		if to == domain.WorkOrderCompleted {
			return nil
		}
	}
	return Conflict("invalid work order status transition %s -> %s", from, to)
}

// TransitionWorkOrder advances a work order through production. QC outcomes
// are set by CreateQCReport. Completion releases the artisan's capacity and
// evaluates the SLA.
func (e Engine) TransitionWorkOrder(ctx context.Context, id, to, actorID string) (wo domain.WorkOrder, err error) {
	ctx, end := e.span(ctx, "engine.TransitionWorkOrder", attribute.String("work_order_id", id), attribute.String("to", to))
	defer func() { end(err) }()

	now := e.now()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return wo, err
	}
	defer tx.Rollback()
	wo, err = e.Repo.GetWorkOrder(ctx, tx, id)
	if err != nil {
		return wo, notFoundAs(err, "work order", id)
	}
	if err := ensureWorkOrderTransition(wo.Status, to); err != nil {
		return wo, err
	}
	ok, err := e.Repo.SetWorkOrderStatus(ctx, tx, id, wo.Status, to, now)
	if err != nil {
		return wo, err
	}
	if !ok {
		return wo, Conflict("work order %s changed concurrently", id)
	}
	if to == domain.WorkOrderCompleted {
		if err := e.Repo.DecrementLoad(ctx, tx, wo.ArtisanID, now); err != nil {
			return wo, fmt.Errorf("release capacity: %w", err)
		}
	}
	if err := e.appendEvent(ctx, tx, "work_order.status", wo.BrandID, "work_order", id, actorID, events.EventPayload{
		"from": wo.Status, "to": to,
	}); err != nil {
		return wo, err
	}
	if err := tx.Commit(); err != nil {
		return wo, err
	}
	if to == domain.WorkOrderCompleted && wo.SLADeadline != nil {
		if _, err := e.EvaluateSLA(ctx, id); err != nil {
			// The sweep retries unfinalized completed work orders.
			e.log().Warn("sla evaluation after completion failed", "work_order", id, "err", err)
		}
	}
	return e.GetWorkOrder(ctx, id)
}

func (e Engine) GetWorkOrder(ctx context.Context, id string) (domain.WorkOrder, error) {
	wo, err := e.Repo.GetWorkOrder(ctx, nil, id)
	return wo, notFoundAs(err, "work order", id)
}

func (e Engine) ListWorkOrders(ctx context.Context, f repo.WorkOrderFilter) ([]domain.WorkOrder, error) {
	return e.Repo.ListWorkOrders(ctx, nil, f)
}

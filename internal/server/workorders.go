package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"atelier/internal/domain"
	"atelier/internal/engine"
	"atelier/internal/engine/auth"
	"atelier/internal/repo"
)

type workOrderPath struct {
	ID string `path:"id"`
}

func registerWorkOrders(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-work-orders",
		Method:      http.MethodGet,
		Path:        "/work-orders",
		Summary:     "List work orders",
		Errors:      stdErrors,
	}, func(ctx context.Context, input *struct {
		BrandID      string `query:"brand_id"`
		ArtisanID    string `query:"artisan_id"`
		Status       string `query:"status"`
		PayoutStatus string `query:"payout_status" enum:"PENDING,PROCESSING,PAID,FAILED"`
	}) (*out[WorkOrdersResponse], error) {
		p, authErr := require(ctx, auth.PermWorkOrderRead)
		if authErr != nil {
			return nil, authErr
		}
		f := repo.WorkOrderFilter{
			BrandID: input.BrandID, ArtisanID: input.ArtisanID,
			Status: input.Status, PayoutStatus: input.PayoutStatus,
		}
		switch {
		case p.isStaff():
		case p.hasRole(auth.RoleBrand):
			brandID, scopeErr := brandScope(p, f.BrandID)
			if scopeErr != nil {
				return nil, scopeErr
			}
			f.BrandID = brandID
		default:
			a, err := e.Repo.GetArtisanByUser(ctx, p.ActorID)
			if err != nil {
				return nil, handleError(err)
			}
			if f.ArtisanID != "" && f.ArtisanID != a.ID {
				return nil, handleError(auth.ForbiddenBrandError{BrandID: f.BrandID})
			}
			f.ArtisanID = a.ID
		}
		items, err := e.ListWorkOrders(ctx, f)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(WorkOrdersResponse{Items: nonNilSlice(items)}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-work-order",
		Method:      http.MethodGet,
		Path:        "/work-orders/{id}",
		Summary:     "Get a work order",
		Errors:      stdErrors,
	}, func(ctx context.Context, input *workOrderPath) (*out[domain.WorkOrder], error) {
		p, authErr := require(ctx, auth.PermWorkOrderRead)
		if authErr != nil {
			return nil, authErr
		}
		wo, scopeErr := workOrderInScope(ctx, e, p, input.ID)
		if scopeErr != nil {
			return nil, scopeErr
		}
		return reply(wo), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "transition-work-order",
		Method:      http.MethodPost,
		Path:        "/work-orders/{id}/transition",
		Summary:     "Advance a work order through production",
		Errors:      stdErrors,
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body TransitionRequest `json:"body"`
	}) (*out[domain.WorkOrder], error) {
		p, authErr := require(ctx, auth.PermWorkOrderMove)
		if authErr != nil {
			return nil, authErr
		}
		if _, scopeErr := workOrderInScope(ctx, e, p, input.ID); scopeErr != nil {
			return nil, scopeErr
		}
		wo, err := e.TransitionWorkOrder(ctx, input.ID, input.Body.Status, p.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(wo), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-qc-report",
		Method:        http.MethodPost,
		Path:          "/work-orders/{id}/qc-reports",
		Summary:       "Record a quality inspection",
		DefaultStatus: http.StatusCreated,
		Errors:        stdErrors,
	}, func(ctx context.Context, input *struct {
		ID   string          `path:"id"`
		Body QCReportRequest `json:"body"`
	}) (*out[domain.QualityReport], error) {
		p, authErr := require(ctx, auth.PermQCWrite)
		if authErr != nil {
			return nil, authErr
		}
		b := input.Body
		r, err := e.CreateQCReport(ctx, engine.QCReportInput{
			WorkOrderID: input.ID, InspectorID: p.ActorID, OverallScore: b.OverallScore,
			Issues: b.Issues, Recommendations: b.Recommendations, Passed: b.Passed, ActorID: p.ActorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(r), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "record-return",
		Method:        http.MethodPost,
		Path:          "/work-orders/{id}/returns",
		Summary:       "Record a customer return",
		DefaultStatus: http.StatusCreated,
		Errors:        stdErrors,
	}, func(ctx context.Context, input *struct {
		ID   string        `path:"id"`
		Body ReturnRequest `json:"body" required:"false"`
	}) (*out[engine.QuarantineDecision], error) {
		p, authErr := require(ctx, auth.PermOrderWrite)
		if authErr != nil {
			return nil, authErr
		}
		if _, scopeErr := workOrderInScope(ctx, e, p, input.ID); scopeErr != nil {
			return nil, scopeErr
		}
		d, err := e.RecordReturn(ctx, input.ID, input.Body.Reason, p.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(d), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "evaluate-sla",
		Method:      http.MethodPost,
		Path:        "/work-orders/{id}/sla/evaluate",
		Summary:     "Evaluate the SLA of one work order",
		Errors:      stdErrors,
	}, func(ctx context.Context, input *workOrderPath) (*out[domain.SLARecord], error) {
		if _, authErr := require(ctx, auth.PermSLAWrite); authErr != nil {
			return nil, authErr
		}
		rec, err := e.EvaluateSLA(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(rec), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "sla-sweep",
		Method:      http.MethodPost,
		Path:        "/sla/sweep",
		Summary:     "Evaluate every open SLA",
		Errors:      stdErrors,
	}, func(ctx context.Context, _ *struct{}) (*out[engine.SLASweepSummary], error) {
		if _, authErr := require(ctx, auth.PermSLAWrite); authErr != nil {
			return nil, authErr
		}
		sum, err := e.EvaluateAllActiveSLAs(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(sum), nil
	})
}

package server

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"atelier/internal/domain"
	"atelier/internal/engine"
	"atelier/internal/engine/auth"
	"atelier/internal/repo"
)

type payoutPath struct {
	ID string `path:"id"`
}

func registerPayouts(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-payout",
		Method:        http.MethodPost,
		Path:          "/payouts",
		Summary:       "Pay out completed work orders",
		DefaultStatus: http.StatusCreated,
		Errors:        append(stdErrors, http.StatusBadGateway),
	}, func(ctx context.Context, input *struct {
		Body CreatePayoutRequest `json:"body"`
	}) (*out[domain.Payout], error) {
		p, authErr := require(ctx, auth.PermPayoutWrite)
		if authErr != nil {
			return nil, authErr
		}
		po, err := e.CreatePayout(ctx, input.Body.ArtisanID, input.Body.WorkOrderIDs, p.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(po), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-payouts",
		Method:      http.MethodGet,
		Path:        "/payouts",
		Summary:     "List payouts",
		Errors:      stdErrors,
	}, func(ctx context.Context, input *struct {
		ArtisanID string `query:"artisan_id"`
		Status    string `query:"status" enum:"PENDING,PROCESSING,COMPLETED,FAILED"`
	}) (*out[PayoutsResponse], error) {
		p, authErr := require(ctx, auth.PermPayoutRead)
		if authErr != nil {
			return nil, authErr
		}
		f := repo.PayoutFilter{ArtisanID: input.ArtisanID, Status: input.Status}
		if !p.isStaff() {
			a, err := e.Repo.GetArtisanByUser(ctx, p.ActorID)
			if err != nil {
				return nil, handleError(err)
			}
			if f.ArtisanID != "" && f.ArtisanID != a.ID {
				return nil, handleError(auth.ForbiddenError{Permission: auth.PermPayoutWrite})
			}
			f.ArtisanID = a.ID
		}
		items, err := e.ListPayouts(ctx, f)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(PayoutsResponse{Items: nonNilSlice(items)}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-payout",
		Method:      http.MethodGet,
		Path:        "/payouts/{id}",
		Summary:     "Get a payout",
		Errors:      stdErrors,
	}, func(ctx context.Context, input *payoutPath) (*out[domain.Payout], error) {
		p, authErr := require(ctx, auth.PermPayoutRead)
		if authErr != nil {
			return nil, authErr
		}
		po, err := e.GetPayout(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if !p.isStaff() {
			if a, err := e.Repo.GetArtisanByUser(ctx, p.ActorID); err != nil || a.ID != po.ArtisanID {
				return nil, newAPIError(http.StatusNotFound, "not_found", "payout "+input.ID+" not found", nil)
			}
		}
		return reply(po), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "apply-sla-to-payout",
		Method:      http.MethodPost,
		Path:        "/payouts/{id}/apply-sla",
		Summary:     "Fold SLA penalties and bonuses into a pending payout",
		Errors:      stdErrors,
	}, func(ctx context.Context, input *payoutPath) (*out[domain.Payout], error) {
		p, authErr := require(ctx, auth.PermSLAWrite)
		if authErr != nil {
			return nil, authErr
		}
		po, err := e.ApplySLAToPayout(ctx, input.ID, p.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(po), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "run-scheduled-payouts",
		Method:      http.MethodPost,
		Path:        "/payouts/run",
		Summary:     "Create payouts for artisans due on their schedule",
		Errors:      stdErrors,
	}, func(ctx context.Context, input *struct {
		Body PayoutRunRequest `json:"body" required:"false"`
	}) (*out[engine.PayoutRunSummary], error) {
		if _, authErr := require(ctx, auth.PermPayoutWrite); authErr != nil {
			return nil, authErr
		}
		at := time.Now().UTC()
		if e.Now != nil {
			at = e.Now().UTC()
		}
		if input.Body.At != "" {
			parsed, err := time.Parse(time.RFC3339, input.Body.At)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "at must be RFC 3339", map[string]any{"at": input.Body.At})
			}
			at = parsed
		}
		sum, err := e.ProcessScheduledPayouts(ctx, at)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(sum), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "retry-payouts",
		Method:      http.MethodPost,
		Path:        "/payouts/retry",
		Summary:     "Resubmit stale pending payouts",
		Errors:      stdErrors,
	}, func(ctx context.Context, _ *struct{}) (*out[engine.RetrySummary], error) {
		if _, authErr := require(ctx, auth.PermPayoutWrite); authErr != nil {
			return nil, authErr
		}
		sum, err := e.RetryPendingPayouts(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(sum), nil
	})
}

func registerConnect(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "create-connect-account",
		Method:      http.MethodPost,
		Path:        "/connect/accounts",
		Summary:     "Create the caller's payout account and onboarding link",
		Errors:      append(stdErrors, http.StatusBadGateway),
	}, func(ctx context.Context, input *struct {
		Body ConnectAccountRequest `json:"body" required:"false"`
	}) (*out[engine.ConnectAccountResult], error) {
		p, authErr := require(ctx, auth.PermConnectWrite)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.CreateSellerConnectAccount(ctx, p.ActorID, input.Body.Email, engine.ConnectAccountOptions{
			Country: input.Body.Country, ActorID: p.ActorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(res), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "connect-status",
		Method:      http.MethodGet,
		Path:        "/connect/status",
		Summary:     "Payout account status of the caller",
		Errors:      append(stdErrors, http.StatusBadGateway),
	}, func(ctx context.Context, _ *struct{}) (*out[engine.ConnectStatus], error) {
		p, authErr := require(ctx, auth.PermConnectWrite)
		if authErr != nil {
			return nil, authErr
		}
		st, err := e.GetSellerConnectStatus(ctx, p.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(st), nil
	})
}

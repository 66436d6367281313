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

type artisanPath struct {
	ID string `path:"id"`
}

func registerArtisans(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-artisan",
		Method:        http.MethodPost,
		Path:          "/artisans",
		Summary:       "Onboard an artisan",
		DefaultStatus: http.StatusCreated,
		Errors:        stdErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateArtisanRequest `json:"body"`
	}) (*out[domain.Artisan], error) {
		p, authErr := require(ctx, auth.PermArtisanWrite)
		if authErr != nil {
			return nil, authErr
		}
		brandID := input.Body.BrandID
		if !p.isAdmin() {
			var scopeErr huma.StatusError
			if brandID, scopeErr = brandScope(p, brandID); scopeErr != nil {
				return nil, scopeErr
			}
		}
		b := input.Body
		a, err := e.CreateArtisan(ctx, engine.ArtisanCreateOptions{
			ID: b.ID, UserID: b.UserID, BrandID: brandID, BusinessName: b.BusinessName,
			Email: b.Email, Country: b.Country, Zone: b.Zone, MaxVolume: b.MaxVolume,
			AverageLeadTime: b.AverageLeadTime, MinOrderValueCents: b.MinOrderValueCents,
			ServiceTier: b.ServiceTier, PayoutSchedule: b.PayoutSchedule,
			Capabilities: capabilities(b.Capabilities), ActorID: p.ActorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(a), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-artisans",
		Method:      http.MethodGet,
		Path:        "/artisans",
		Summary:     "List artisans",
		Errors:      stdErrors,
	}, func(ctx context.Context, input *struct {
		BrandID string `query:"brand_id"`
		Status  string `query:"status" enum:"inactive,active,suspended,quarantined"`
		Zone    string `query:"zone"`
	}) (*out[ArtisansResponse], error) {
		p, authErr := require(ctx, auth.PermArtisanRead)
		if authErr != nil {
			return nil, authErr
		}
		f := repo.ArtisanFilter{BrandID: input.BrandID, Status: input.Status, Zone: input.Zone}
		if !p.isStaff() && f.BrandID != "" {
			brandID, scopeErr := brandScope(p, f.BrandID)
			if scopeErr != nil {
				return nil, scopeErr
			}
			f.BrandID = brandID
		}
		items, err := e.ListArtisans(ctx, f)
		if err != nil {
			return nil, handleError(err)
		}
		if !p.isStaff() {
			visible := items[:0]
			for _, a := range items {
				if a.BrandID == "" || a.BrandID == p.BrandID {
					visible = append(visible, a)
				}
			}
			items = visible
		}
		return reply(ArtisansResponse{Items: nonNilSlice(items)}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-artisan",
		Method:      http.MethodGet,
		Path:        "/artisans/{id}",
		Summary:     "Get an artisan",
		Errors:      stdErrors,
	}, func(ctx context.Context, input *artisanPath) (*out[domain.Artisan], error) {
		p, authErr := require(ctx, auth.PermArtisanRead)
		if authErr != nil {
			return nil, authErr
		}
		a, scopeErr := artisanInScope(ctx, e, p, input.ID)
		if scopeErr != nil {
			return nil, scopeErr
		}
		return reply(a), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "verify-artisan",
		Method:      http.MethodPost,
		Path:        "/artisans/{id}/kyc",
		Summary:     "Record the KYC outcome",
		Errors:      stdErrors,
	}, func(ctx context.Context, input *struct {
		ID   string     `path:"id"`
		Body KYCRequest `json:"body"`
	}) (*out[domain.Artisan], error) {
		p, authErr := require(ctx, auth.PermArtisanAdmin)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.VerifyArtisan(ctx, input.ID, input.Body.Status, p.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(a), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-artisan-status",
		Method:      http.MethodPost,
		Path:        "/artisans/{id}/status",
		Summary:     "Activate, suspend or deactivate an artisan",
		Errors:      stdErrors,
	}, func(ctx context.Context, input *struct {
		ID   string               `path:"id"`
		Body ArtisanStatusRequest `json:"body"`
	}) (*out[domain.Artisan], error) {
		p, authErr := require(ctx, auth.PermArtisanAdmin)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.SetArtisanStatus(ctx, input.ID, input.Body.Status, p.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(a), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-capability",
		Method:        http.MethodPost,
		Path:          "/artisans/{id}/capabilities",
		Summary:       "Add a capability",
		DefaultStatus: http.StatusCreated,
		Errors:        stdErrors,
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body CapabilityRequest `json:"body"`
	}) (*out[domain.Artisan], error) {
		p, authErr := require(ctx, auth.PermArtisanWrite)
		if authErr != nil {
			return nil, authErr
		}
		if _, scopeErr := artisanInScope(ctx, e, p, input.ID); scopeErr != nil {
			return nil, scopeErr
		}
		a, err := e.AddCapability(ctx, input.ID, input.Body.capability(), p.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(a), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "replace-capabilities",
		Method:      http.MethodPut,
		Path:        "/artisans/{id}/capabilities",
		Summary:     "Replace all capabilities",
		Errors:      stdErrors,
	}, func(ctx context.Context, input *struct {
		ID   string                     `path:"id"`
		Body ReplaceCapabilitiesRequest `json:"body"`
	}) (*out[domain.Artisan], error) {
		p, authErr := require(ctx, auth.PermArtisanWrite)
		if authErr != nil {
			return nil, authErr
		}
		if _, scopeErr := artisanInScope(ctx, e, p, input.ID); scopeErr != nil {
			return nil, scopeErr
		}
		a, err := e.ReplaceCapabilities(ctx, input.ID, capabilities(input.Body.Capabilities), p.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(a), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-artisan-settings",
		Method:      http.MethodPatch,
		Path:        "/artisans/{id}/settings",
		Summary:     "Update capacity, tier and payout schedule",
		Errors:      stdErrors,
	}, func(ctx context.Context, input *struct {
		ID   string                 `path:"id"`
		Body ArtisanSettingsRequest `json:"body"`
	}) (*out[domain.Artisan], error) {
		p, authErr := require(ctx, auth.PermArtisanWrite)
		if authErr != nil {
			return nil, authErr
		}
		if _, scopeErr := artisanInScope(ctx, e, p, input.ID); scopeErr != nil {
			return nil, scopeErr
		}
		b := input.Body
		a, err := e.UpdateArtisanSettings(ctx, input.ID, repo.ArtisanSettings{
			MaxVolume: b.MaxVolume, AverageLeadTime: b.AverageLeadTime, MinOrderValueCents: b.MinOrderValueCents,
			ServiceTier: b.ServiceTier, PayoutSchedule: b.PayoutSchedule, Zone: b.Zone,
		}, p.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(a), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "seed-reputation",
		Method:      http.MethodPut,
		Path:        "/artisans/{id}/reputation",
		Summary:     "Overwrite reputation metrics (migration and backfill)",
		Errors:      stdErrors,
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body domain.Reputation `json:"body"`
	}) (*out[domain.Artisan], error) {
		p, authErr := require(ctx, auth.PermArtisanAdmin)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.SeedReputation(ctx, input.ID, input.Body, p.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(a), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "artisan-qc-stats",
		Method:      http.MethodGet,
		Path:        "/artisans/{id}/qc-stats",
		Summary:     "Quality statistics and recent inspections",
		Errors:      stdErrors,
	}, func(ctx context.Context, input *artisanPath) (*out[engine.QCStats], error) {
		p, authErr := require(ctx, auth.PermArtisanRead)
		if authErr != nil {
			return nil, authErr
		}
		if _, scopeErr := artisanInScope(ctx, e, p, input.ID); scopeErr != nil {
			return nil, scopeErr
		}
		stats, err := e.GetArtisanQCStats(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(stats), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "check-quarantine",
		Method:      http.MethodPost,
		Path:        "/artisans/{id}/quarantine/check",
		Summary:     "Re-evaluate quarantine thresholds",
		Errors:      stdErrors,
	}, func(ctx context.Context, input *artisanPath) (*out[engine.QuarantineDecision], error) {
		p, authErr := require(ctx, auth.PermQCWrite)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.CheckQuarantine(ctx, input.ID, p.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(d), nil
	})
}

package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"atelier/internal/domain"
	"atelier/internal/engine"
	"atelier/internal/engine/auth"
)

func registerOrders(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "upsert-product",
		Method:      http.MethodPut,
		Path:        "/products/{id}",
		Summary:     "Create or update a product's pricing inputs",
		Errors:      stdErrors,
	}, func(ctx context.Context, input *struct {
		ID      string         `path:"id"`
		BrandID string         `query:"brand_id"`
		Body    ProductRequest `json:"body"`
	}) (*out[domain.Product], error) {
		p, authErr := require(ctx, auth.PermOrderWrite)
		if authErr != nil {
			return nil, authErr
		}
		brandID, scopeErr := brandScope(p, input.BrandID)
		if scopeErr != nil {
			return nil, scopeErr
		}
		prod, err := e.UpsertProduct(ctx, domain.Product{
			ID: input.ID, BrandID: brandID, Name: input.Body.Name,
			BaseCostCents: input.Body.BaseCostCents, BaseLaborCents: input.Body.BaseLaborCents,
		}, p.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(prod), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-order",
		Method:        http.MethodPost,
		Path:          "/orders",
		Summary:       "Create an order awaiting routing",
		DefaultStatus: http.StatusCreated,
		Errors:        stdErrors,
	}, func(ctx context.Context, input *struct {
		BrandID string             `query:"brand_id"`
		Body    CreateOrderRequest `json:"body"`
	}) (*out[domain.Order], error) {
		p, authErr := require(ctx, auth.PermOrderWrite)
		if authErr != nil {
			return nil, authErr
		}
		brandID, scopeErr := brandScope(p, input.BrandID)
		if scopeErr != nil {
			return nil, scopeErr
		}
		b := input.Body
		o, err := e.CreateOrder(ctx, domain.Order{
			ID: b.ID, BrandID: brandID, ProductID: b.ProductID, Material: b.Material,
			Technique: b.Technique, Quantity: b.Quantity, Urgency: b.Urgency, Size: b.Size,
			MaxPriceCents: b.MaxPriceCents, MaxLeadTimeDays: b.MaxLeadTimeDays, PreferredZones: b.PreferredZones,
		}, p.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(o), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-order",
		Method:      http.MethodGet,
		Path:        "/orders/{id}",
		Summary:     "Get an order",
		Errors:      stdErrors,
	}, func(ctx context.Context, input *struct {
		ID      string `path:"id"`
		BrandID string `query:"brand_id"`
	}) (*out[domain.Order], error) {
		p, authErr := require(ctx, auth.PermOrderRead)
		if authErr != nil {
			return nil, authErr
		}
		brandID, scopeErr := brandScope(p, input.BrandID)
		if scopeErr != nil {
			return nil, scopeErr
		}
		o, err := e.GetOrder(ctx, brandID, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(o), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "order-matches",
		Method:      http.MethodGet,
		Path:        "/orders/{id}/matches",
		Summary:     "Rank artisans for a stored order",
		Errors:      stdErrors,
	}, func(ctx context.Context, input *struct {
		ID      string `path:"id"`
		BrandID string `query:"brand_id"`
		Limit   int    `query:"limit"`
	}) (*out[MatchesResponse], error) {
		p, authErr := require(ctx, auth.PermRoutingWrite)
		if authErr != nil {
			return nil, authErr
		}
		brandID, scopeErr := brandScope(p, input.BrandID)
		if scopeErr != nil {
			return nil, scopeErr
		}
		criteria, err := e.CriteriaForOrder(ctx, brandID, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		matches, err := e.FindBestArtisans(ctx, criteria, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(MatchesResponse{Items: nonNilSlice(matches)}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "find-matches",
		Method:      http.MethodPost,
		Path:        "/routing/matches",
		Summary:     "Rank artisans for ad-hoc criteria",
		Errors:      stdErrors,
	}, func(ctx context.Context, input *struct {
		Body MatchRequest `json:"body"`
	}) (*out[MatchesResponse], error) {
		p, authErr := require(ctx, auth.PermRoutingWrite)
		if authErr != nil {
			return nil, authErr
		}
		criteria := input.Body.Criteria
		brandID, scopeErr := brandScope(p, criteria.BrandID)
		if scopeErr != nil {
			return nil, scopeErr
		}
		criteria.BrandID = brandID
		matches, err := e.FindBestArtisans(ctx, criteria, input.Body.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(MatchesResponse{Items: nonNilSlice(matches)}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "route-order",
		Method:        http.MethodPost,
		Path:          "/orders/{id}/route",
		Summary:       "Assign an order to an artisan",
		DefaultStatus: http.StatusCreated,
		Errors:        stdErrors,
	}, func(ctx context.Context, input *struct {
		ID      string            `path:"id"`
		BrandID string            `query:"brand_id"`
		Body    RouteOrderRequest `json:"body"`
	}) (*out[engine.RouteResult], error) {
		p, authErr := require(ctx, auth.PermRoutingWrite)
		if authErr != nil {
			return nil, authErr
		}
		brandID, scopeErr := brandScope(p, input.BrandID)
		if scopeErr != nil {
			return nil, scopeErr
		}
		res, err := e.RouteOrder(ctx, engine.RouteInput{
			BrandID: brandID, OrderID: input.ID, ArtisanID: input.Body.ArtisanID,
			PriceCents: input.Body.PriceCents, LeadTimeDays: input.Body.LeadTimeDays, ActorID: p.ActorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(res), nil
	})
}

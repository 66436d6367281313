package server

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"atelier/internal/domain"
	"atelier/internal/engine"
	"atelier/internal/engine/auth"
)

func (p Principal) hasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// staff roles see every artisan and work order.
func (p Principal) isStaff() bool {
	return p.isAdmin() || p.hasRole(auth.RoleFinance) || p.hasRole(auth.RoleInspector)
}

// artisanInScope loads an artisan the caller may act on. Brands reach their
// own and marketplace-wide artisans, artisans only their own profile.
func artisanInScope(ctx context.Context, e engine.Engine, p Principal, id string) (domain.Artisan, huma.StatusError) {
	a, err := e.GetArtisan(ctx, id)
	if err != nil {
		return a, handleError(err)
	}
	if p.isStaff() {
		return a, nil
	}
	if p.hasRole(auth.RoleBrand) && (a.BrandID == "" || a.BrandID == p.BrandID) {
		return a, nil
	}
	if p.hasRole(auth.RoleArtisan) && a.UserID == p.ActorID {
		return a, nil
	}
	return a, handleError(auth.ForbiddenBrandError{BrandID: a.BrandID})
}

func workOrderInScope(ctx context.Context, e engine.Engine, p Principal, id string) (domain.WorkOrder, huma.StatusError) {
	wo, err := e.GetWorkOrder(ctx, id)
	if err != nil {
		return wo, handleError(err)
	}
	if p.isStaff() {
		return wo, nil
	}
	if p.hasRole(auth.RoleBrand) && wo.BrandID == p.BrandID {
		return wo, nil
	}
	if p.hasRole(auth.RoleArtisan) {
		if a, err := e.Repo.GetArtisanByUser(ctx, p.ActorID); err == nil && a.ID == wo.ArtisanID {
			return wo, nil
		}
	}
	return wo, handleError(auth.ForbiddenBrandError{BrandID: wo.BrandID})
}

// Package auth maps marketplace roles onto permissions.
package auth

import (
	"fmt"
	"sort"
)

const (
	RoleAdmin     = "admin"
	RoleBrand     = "brand"
	RoleArtisan   = "artisan"
	RoleInspector = "inspector"
	RoleFinance   = "finance"
)

const (
	PermArtisanRead   = "artisan.read"
	PermArtisanWrite  = "artisan.write"
	PermArtisanAdmin  = "artisan.admin"
	PermOrderRead     = "order.read"
	PermOrderWrite    = "order.write"
	PermRoutingWrite  = "routing.write"
	PermWorkOrderRead = "workorder.read"
	PermWorkOrderMove = "workorder.transition"
	PermQCWrite       = "qc.write"
	PermSLAWrite      = "sla.write"
	PermPayoutRead    = "payout.read"
	PermPayoutWrite   = "payout.write"
	PermConnectWrite  = "connect.write"
	PermEventsRead    = "events.read"
)

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Permission string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("permission %s required", e.Permission)
}

// ForbiddenBrandError indicates a request outside the caller's brand.
type ForbiddenBrandError struct {
	BrandID string
}

func (e ForbiddenBrandError) Error() string {
	return fmt.Sprintf("brand %s is outside the caller's scope", e.BrandID)
}

var rolePermissions = map[string][]string{
	RoleAdmin: {
		PermArtisanRead, PermArtisanWrite, PermArtisanAdmin, PermOrderRead, PermOrderWrite, PermRoutingWrite,
		PermWorkOrderRead, PermWorkOrderMove, PermQCWrite, PermSLAWrite, PermPayoutRead, PermPayoutWrite,
		PermConnectWrite, PermEventsRead,
	},
	RoleBrand: {
		PermArtisanRead, PermArtisanWrite, PermOrderRead, PermOrderWrite, PermRoutingWrite, PermWorkOrderRead,
		PermEventsRead,
	},
	RoleArtisan:   {PermWorkOrderRead, PermWorkOrderMove, PermConnectWrite, PermPayoutRead},
	RoleInspector: {PermWorkOrderRead, PermQCWrite, PermArtisanRead},
	RoleFinance:   {PermPayoutRead, PermPayoutWrite, PermSLAWrite, PermWorkOrderRead, PermEventsRead},
}

// Known reports whether role is a recognized marketplace role.
func Known(role string) bool {
	_, ok := rolePermissions[role]
	return ok
}

// Permissions returns the sorted union of the roles' permissions.
func Permissions(roles []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, r := range roles {
		for _, p := range rolePermissions[r] {
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	sort.Strings(out)
	return out
}

func Has(roles []string, perm string) bool {
	for _, r := range roles {
		for _, p := range rolePermissions[r] {
			if p == perm {
				return true
			}
		}
	}
	return false
}

// Require returns a ForbiddenError unless one of roles grants perm.
func Require(roles []string, perm string) error {
	if Has(roles, perm) {
		return nil
	}
	return ForbiddenError{Permission: perm}
}

package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/golang-jwt/jwt/v5"

	"atelier/internal/engine/auth"
)

type AuthConfig struct {
	JWTSecret string
	// DevLogin exposes POST /auth/dev/login, which mints tokens for local testing.
	DevLogin bool
	Logger   *slog.Logger
}

type Principal struct {
	ActorID string
	BrandID string
	Roles   []string
	Source  string
}

func (p Principal) isAdmin() bool {
	for _, r := range p.Roles {
		if r == auth.RoleAdmin {
			return true
		}
	}
	return false
}

type principalKey struct{}

func (c AuthConfig) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFromContext(ctx context.Context) (Principal, huma.StatusError) {
	if p, ok := ctx.Value(principalKey{}).(Principal); ok && p.ActorID != "" {
		return p, nil
	}
	return Principal{}, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
}

// require resolves the caller and checks one permission.
func require(ctx context.Context, perm string) (Principal, huma.StatusError) {
	p, authErr := principalFromContext(ctx)
	if authErr != nil {
		return p, authErr
	}
	if err := auth.Require(p.Roles, perm); err != nil {
		return p, handleError(err)
	}
	return p, nil
}

// brandScope picks the brand a request acts on. Admins may name any brand;
// everyone else is pinned to the brand claim of their token.
func brandScope(p Principal, requested string) (string, huma.StatusError) {
	requested = strings.TrimSpace(requested)
	switch {
	case p.isAdmin() && requested != "":
		return requested, nil
	case requested != "" && requested != p.BrandID:
		return "", handleError(auth.ForbiddenBrandError{BrandID: requested})
	case p.BrandID == "" && !p.isAdmin():
		return "", newAPIError(http.StatusForbidden, "forbidden", "token carries no brand", nil)
	}
	return p.BrandID, nil
}

type jwtClaims struct {
	jwt.RegisteredClaims
	BrandID string   `json:"brand_id,omitempty"`
	Roles   []string `json:"roles,omitempty"`
}

func authenticateJWT(token string, secret string) (Principal, error) {
	if strings.TrimSpace(secret) == "" {
		return Principal{}, errors.New("jwt secret not configured")
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &jwtClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return Principal{}, err
	}
	if !parsed.Valid {
		return Principal{}, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return Principal{}, errors.New("subject claim required")
	}
	return Principal{
		ActorID: claims.Subject,
		BrandID: claims.BrandID,
		Roles:   claims.Roles,
		Source:  "jwt",
	}, nil
}

// SignToken mints an HS256 token for actor. Unknown roles are rejected.
func SignToken(secret, actorID, brandID string, roles []string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("jwt secret not configured")
	}
	for _, r := range roles {
		if !auth.Known(r) {
			return "", errors.New("unknown role " + r)
		}
	}
	now := time.Now()
	claims := jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actorID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		BrandID: brandID,
		Roles:   roles,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

func newAuthMiddleware(basePath string, cfg AuthConfig) func(http.Handler) http.Handler {
	open := map[string]bool{
		path.Join(basePath, "health"):            true,
		path.Join(basePath, "auth/dev/login"):    true,
		path.Join(basePath, "webhooks/payments"): true,
		path.Join(basePath, "openapi.json"):      true,
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			// Only enforce for API base path.
			if basePath != "" && !strings.HasPrefix(req.URL.Path, basePath) {
				next.ServeHTTP(w, req)
				return
			}
			if open[req.URL.Path] {
				next.ServeHTTP(w, req)
				return
			}
			authz := strings.TrimSpace(req.Header.Get("Authorization"))
			if authz == "" {
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
				return
			}
			token, ok := bearerToken(authz)
			if !ok {
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
				return
			}
			principal, err := authenticateJWT(token, cfg.JWTSecret)
			if err != nil {
				cfg.logger().Debug("rejected bearer token", "err", err)
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
				return
			}
			next.ServeHTTP(w, req.WithContext(withPrincipal(req.Context(), principal)))
		})
	}
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	status := http.StatusInternalServerError
	if e, ok := err.(interface{ GetStatus() int }); ok {
		status = e.GetStatus()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(err)
}

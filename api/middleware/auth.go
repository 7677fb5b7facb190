package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/angelmondragon/keydrop-backend/api/responses"
	pkgAuth "github.com/angelmondragon/keydrop-backend/pkg/auth"
	"github.com/angelmondragon/keydrop-backend/pkg/config"
	"github.com/angelmondragon/keydrop-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/keydrop-backend/pkg/errors"
	"github.com/angelmondragon/keydrop-backend/pkg/logger"
)

const (
	apiKeyHeader        = "X-Api-Key"
	internalTokenHeader = "X-Internal-Token"
)

type apiKeyAuthenticator interface {
	Authenticate(ctx context.Context, apiKey string) (*models.Reseller, error)
}

// ResellerAuth resolves the X-Api-Key header to an active reseller.
func ResellerAuth(authn apiKeyAuthenticator, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get(apiKeyHeader))
			if key == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}
			reseller, err := authn.Authenticate(r.Context(), key)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			ctx := WithReseller(r.Context(), reseller)
			if logg != nil {
				ctx = logg.WithResellerID(ctx, reseller.ID.String())
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AdminAuth validates an HS256 bearer token carrying the admin role.
func AdminAuth(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get("Authorization"))
			token := raw
			if strings.HasPrefix(strings.ToLower(token), "bearer ") {
				token = strings.TrimSpace(token[7:])
			}
			if token == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			claims, err := pkgAuth.ParseAdminToken(cfg, token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}
			if !claims.IsAdmin() {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "admin role required"))
				return
			}

			ctx := context.WithValue(r.Context(), ctxAdminSubject, claims.Subject)
			if logg != nil {
				ctx = logg.WithFields(ctx, map[string]any{"admin_subject": claims.Subject, "actor_role": claims.Role})
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// InternalToken guards service-to-service endpoints with a shared token.
func InternalToken(expected string, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(internalTokenHeader)
			if expected == "" || subtle.ConstantTimeCompare([]byte(got), []byte(expected)) != 1 {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid internal token"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

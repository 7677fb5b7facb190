package middleware

import (
	"context"

	"github.com/angelmondragon/keydrop-backend/pkg/db/models"
)

type contextKey string

const (
	ctxReseller     contextKey = "reseller"
	ctxAdminSubject contextKey = "admin_subject"
)

// ResellerFromContext returns the reseller authenticated by ResellerAuth.
func ResellerFromContext(ctx context.Context) (*models.Reseller, bool) {
	if ctx == nil {
		return nil, false
	}
	reseller, ok := ctx.Value(ctxReseller).(*models.Reseller)
	return reseller, ok && reseller != nil
}

func WithReseller(ctx context.Context, reseller *models.Reseller) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxReseller, reseller)
}

func AdminSubjectFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxAdminSubject).(string); ok {
		return v
	}
	return ""
}

func resellerScope(ctx context.Context) string {
	if reseller, ok := ResellerFromContext(ctx); ok {
		return reseller.ID.String()
	}
	return ""
}

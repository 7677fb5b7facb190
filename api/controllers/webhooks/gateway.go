package webhooks

import (
	"context"
	"io"
	"net/http"

	"github.com/angelmondragon/keydrop-backend/api/middleware"
	"github.com/angelmondragon/keydrop-backend/api/responses"
	"github.com/angelmondragon/keydrop-backend/internal/webhooks/gateway"
	pkgerrors "github.com/angelmondragon/keydrop-backend/pkg/errors"
	"github.com/angelmondragon/keydrop-backend/pkg/logger"
)

const maxCallbackBody = 1 << 20

type GatewayWebhookService interface {
	HandleCallback(ctx context.Context, cb gateway.Callback, meta gateway.Meta) (gateway.Result, error)
}

// GatewayWebhook accepts payment callbacks. The gateway always gets 200 with
// {success, error?}; a non-2xx would make it retry callbacks that can never
// succeed.
func GatewayWebhook(svc GatewayWebhookService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteJSON(w, http.StatusOK, gateway.Result{Success: false, Error: "webhook service unavailable"})
			return
		}

		var body []byte
		if r.Body != nil {
			payload, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBody))
			if err != nil {
				logg.Error(ctx, "read gateway callback body", err)
				responses.WriteJSON(w, http.StatusOK, gateway.Result{Success: false, Error: "unreadable body"})
				return
			}
			body = payload
		}

		cb, parseErr := gateway.Normalize(r, body)
		result, err := svc.HandleCallback(ctx, cb, gateway.Meta{
			RemoteAddr: middleware.ClientIP(r),
			ParseErr:   parseErr,
		})
		if err != nil && pkgerrors.CodeOf(err) != pkgerrors.CodeValidation {
			logg.Warn(logg.WithField(ctx, "error", err.Error()), "gateway callback not applied")
		}
		responses.WriteJSON(w, http.StatusOK, result)
	}
}

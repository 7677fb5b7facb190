package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/keydrop-backend/api/responses"
	"github.com/angelmondragon/keydrop-backend/api/validators"
	"github.com/angelmondragon/keydrop-backend/internal/auth"
	"github.com/angelmondragon/keydrop-backend/internal/ledger"
	"github.com/angelmondragon/keydrop-backend/internal/providers"
	"github.com/angelmondragon/keydrop-backend/pkg/db/models"
	"github.com/angelmondragon/keydrop-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/keydrop-backend/pkg/errors"
	"github.com/angelmondragon/keydrop-backend/pkg/logger"
	"github.com/angelmondragon/keydrop-backend/pkg/pagination"
)

type jobLister interface {
	List(ctx context.Context, status *enums.JobStatus, params pagination.Params) (pagination.Page[models.FulfillmentJob], error)
}

type accountAdmin interface {
	CreateAccount(ctx context.Context, input providers.CreateAccountInput) (*models.ProviderAccount, error)
	Reset(ctx context.Context, accountID uuid.UUID) (*models.ProviderAccount, error)
}

type ledgerAuditor interface {
	AuditWallet(ctx context.Context, ownerID uuid.UUID) (*ledger.AuditReport, error)
	AuditPoints(ctx context.Context, ownerID uuid.UUID) (*ledger.AuditReport, error)
}

type resellerRegistrar interface {
	RegisterReseller(ctx context.Context, req auth.RegisterResellerRequest) (*auth.RegisterResellerResponse, error)
}

type auditResponse struct {
	Wallet *ledger.AuditReport `json:"wallet"`
	Points *ledger.AuditReport `json:"points"`
}

// AdminListJobs pages fulfillment jobs, optionally filtered by status.
func AdminListJobs(svc jobLister, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		params, err := pageParams(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var status *enums.JobStatus
		if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
			parsed, err := enums.ParseJobStatus(strings.ToUpper(raw))
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status").WithDetails(map[string]any{"field": "status"}))
				return
			}
			status = &parsed
		}

		page, err := svc.List(ctx, status, params)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, newJobPage(page))
	}
}

// AdminCreateProviderAccount registers an account; credentials are sealed before storage.
func AdminCreateProviderAccount(svc accountAdmin, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		var payload providers.CreateAccountInput
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		account, err := svc.CreateAccount(ctx, payload)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newProviderAccountResponse(account))
	}
}

func AdminResetProviderAccount(svc accountAdmin, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		accountID, err := uuidParam(r, "accountId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		account, err := svc.Reset(ctx, accountID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, newProviderAccountResponse(account))
	}
}

// AdminAuditWallet recomputes the wallet and points chains for one owner.
func AdminAuditWallet(svc ledgerAuditor, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ownerID, err := uuidParam(r, "ownerId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		wallet, err := svc.AuditWallet(ctx, ownerID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		points, err := svc.AuditPoints(ctx, ownerID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if logg != nil && (!wallet.Consistent || !points.Consistent) {
			logg.Warn(logg.WithField(ctx, "owner_id", ownerID.String()), "ledger audit found drift")
		}
		responses.WriteSuccess(w, auditResponse{Wallet: wallet, Points: points})
	}
}

// AdminRegisterReseller issues a reseller and its API key. The key is only
// returned here.
func AdminRegisterReseller(svc resellerRegistrar, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		var payload auth.RegisterResellerRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		created, err := svc.RegisterReseller(ctx, payload)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, created)
	}
}

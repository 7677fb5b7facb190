package controllers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/keydrop-backend/api/middleware"
	"github.com/angelmondragon/keydrop-backend/api/responses"
	"github.com/angelmondragon/keydrop-backend/api/validators"
	"github.com/angelmondragon/keydrop-backend/internal/checkout"
	"github.com/angelmondragon/keydrop-backend/pkg/db/models"
	"github.com/angelmondragon/keydrop-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/keydrop-backend/pkg/errors"
	"github.com/angelmondragon/keydrop-backend/pkg/logger"
	"github.com/angelmondragon/keydrop-backend/pkg/pagination"
)

type walletReader interface {
	Wallet(ctx context.Context, ownerID uuid.UUID) (*models.Wallet, error)
	Points(ctx context.Context, ownerID uuid.UUID) (*models.PointsBalance, error)
	ListTransactions(ctx context.Context, ownerID uuid.UUID, params pagination.Params) (pagination.Page[models.WalletTransaction], error)
}

type resellerOrderReader interface {
	GetForReseller(ctx context.Context, orderID, resellerID uuid.UUID) (*models.Order, error)
}

type placeOrderRequest struct {
	Funding        string             `json:"funding" validate:"required,oneof=WALLET GATEWAY"`
	Items          []orderItemRequest `json:"items" validate:"required,min=1,max=50,dive"`
	Customer       customerRequest    `json:"customer" validate:"required"`
	PointsToRedeem int64              `json:"points_to_redeem" validate:"min=0"`
}

type orderItemRequest struct {
	ProductID uuid.UUID         `json:"product_id" validate:"required"`
	Quantity  int               `json:"quantity" validate:"required,min=1,max=100"`
	Input     map[string]string `json:"input,omitempty"`
}

type customerRequest struct {
	Name  string `json:"name" validate:"required,max=120"`
	Email string `json:"email" validate:"required,email"`
	Phone string `json:"phone,omitempty" validate:"omitempty,max=32"`
}

type topupRequest struct {
	Amount int64 `json:"amount" validate:"required,min=1"`
}

func currentReseller(r *http.Request) (*models.Reseller, error) {
	reseller, ok := middleware.ResellerFromContext(r.Context())
	if !ok || reseller == nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "reseller context missing")
	}
	return reseller, nil
}

// ResellerPlaceOrder creates a wallet- or gateway-funded order.
func ResellerPlaceOrder(svc checkout.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		reseller, err := currentReseller(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var payload placeOrderRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		funding, err := enums.ParseOrderFunding(payload.Funding)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid funding"))
			return
		}

		input := checkout.OrderInput{
			Funding: funding,
			Customer: checkout.Customer{
				Name:  payload.Customer.Name,
				Email: payload.Customer.Email,
				Phone: payload.Customer.Phone,
			},
			PointsToRedeem: payload.PointsToRedeem,
		}
		for _, item := range payload.Items {
			input.Items = append(input.Items, checkout.ItemInput{
				ProductID: item.ProductID,
				Quantity:  item.Quantity,
				Input:     item.Input,
			})
		}

		placement, err := svc.PlaceOrder(ctx, *reseller, input)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newPlacementResponse(placement.Order, placement.Payment))
	}
}

// ResellerCreateTopup opens a gateway payment that credits the wallet once paid.
func ResellerCreateTopup(svc checkout.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		reseller, err := currentReseller(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var payload topupRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		placement, err := svc.CreateTopup(ctx, *reseller, payload.Amount)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newPlacementResponse(placement.Order, placement.Payment))
	}
}

func ResellerWallet(svc walletReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		reseller, err := currentReseller(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		wallet, err := svc.Wallet(ctx, reseller.ID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		points, err := svc.Points(ctx, reseller.ID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, walletResponse{
			OwnerID:          reseller.ID,
			Balance:          wallet.Balance,
			LifetimeCashback: wallet.LifetimeCashback,
			Points:           points.Balance,
		})
	}
}

// ResellerWalletTransactions pages the wallet ledger newest first.
func ResellerWalletTransactions(svc walletReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		reseller, err := currentReseller(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		params, err := pageParams(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		page, err := svc.ListTransactions(ctx, reseller.ID, params)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, newTransactionPage(page))
	}
}

// ResellerGetOrder returns an order owned by the caller, including delivered items.
func ResellerGetOrder(svc resellerOrderReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		reseller, err := currentReseller(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		orderID, err := uuidParam(r, "orderId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		order, err := svc.GetForReseller(ctx, orderID, reseller.ID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, newOrderResponse(order))
	}
}

func uuidParam(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid "+name).WithDetails(map[string]any{"field": name})
	}
	return id, nil
}

func pageParams(r *http.Request) (pagination.Params, error) {
	limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
	if err != nil {
		return pagination.Params{}, err
	}
	return pagination.Params{Limit: limit, Cursor: r.URL.Query().Get("cursor")}, nil
}

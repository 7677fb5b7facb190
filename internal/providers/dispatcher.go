package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/mail"
	"strings"

	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/keydrop-backend/pkg/errors"
	"github.com/angelmondragon/keydrop-backend/pkg/logger"
	"github.com/angelmondragon/keydrop-backend/pkg/metrics"
)

// DispatchRequest is one INVITE order item to deliver.
type DispatchRequest struct {
	JobID       uuid.UUID
	OrderID     uuid.UUID
	OrderItemID uuid.UUID
	ProductID   uuid.UUID
	InputData   map[string]string
}

// Dispatcher delivers INVITE items through the provider adapters. It holds no
// database lock while an adapter is talking to the provider; the account slot
// is reserved before the call and given back if the call fails.
type Dispatcher struct {
	registry *Registry
	adapters Adapters
	metrics  *metrics.FulfillmentMetrics
	logg     *logger.Logger
}

func NewDispatcher(registry *Registry, adapters Adapters, m *metrics.FulfillmentMetrics, logg *logger.Logger) (*Dispatcher, error) {
	if registry == nil {
		return nil, fmt.Errorf("provider registry required")
	}
	if adapters == nil {
		adapters = NewAdapters()
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &Dispatcher{registry: registry, adapters: adapters, metrics: m, logg: logg}, nil
}

func (d *Dispatcher) Dispatch(ctx context.Context, req DispatchRequest) (Result, error) {
	email, err := targetEmail(req.InputData)
	if err != nil {
		return Result{}, err
	}

	provider, err := d.registry.ProviderForProduct(ctx, req.ProductID)
	if err != nil {
		return Result{}, err
	}
	account, err := d.registry.ReserveAccount(ctx, provider.ID)
	if err != nil {
		return Result{}, err
	}

	ctx = d.logg.WithFields(ctx, map[string]any{
		"provider":            provider.Slug,
		"provider_account_id": account.ID.String(),
	})
	adapter := d.adapters.For(provider.Slug)

	result, err := adapter.Dispatch(ctx, account.Credentials, Input{
		Email:       email,
		OrderID:     req.OrderID,
		OrderItemID: req.OrderItemID,
		Provider:    provider.Slug,
		Extra:       req.InputData,
	})
	if err != nil {
		if relErr := d.registry.ReleaseUsage(ctx, account.ID); relErr != nil {
			d.logg.Error(ctx, "provider reservation not released", relErr)
		}
		if markErr := d.registry.MarkFailure(ctx, account.ID, err); markErr != nil {
			d.logg.Error(ctx, "provider cooldown not recorded", markErr)
		}
		d.metrics.IncCooldown(provider.Slug)
		d.logg.Error(ctx, "provider dispatch failed", err)
		if pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
			return Result{}, err
		}
		if pkgerrors.As(err) != nil {
			return Result{}, err
		}
		return Result{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "provider dispatch failed")
	}

	accountID := account.ID
	result.AccountID = &accountID
	if result.Provider == "" {
		result.Provider = provider.Slug
	}
	if result.Email == "" {
		result.Email = email
	}
	d.logg.Info(ctx, "provider invite dispatched")
	return result, nil
}

// DeliveryData is what lands in order_items.delivery_data for INVITE items.
func DeliveryData(result Result) json.RawMessage {
	payload, _ := json.Marshal(struct {
		Type string `json:"type"`
		Result
	}{Type: "invite", Result: result})
	return payload
}

func targetEmail(input map[string]string) (string, error) {
	raw := strings.TrimSpace(input["email"])
	if raw == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "target email is required for invite products")
	}
	addr, err := mail.ParseAddress(raw)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "target email is invalid")
	}
	return strings.ToLower(addr.Address), nil
}

package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/keydrop-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/keydrop-backend/pkg/errors"
	"github.com/angelmondragon/keydrop-backend/pkg/logger"
	"github.com/angelmondragon/keydrop-backend/pkg/secrets"
)

// Credentials is the opened credential bag of an account (token, org, url, secret...).
type Credentials map[string]string

func (c Credentials) Get(key string) string {
	return strings.TrimSpace(c[key])
}

// Account is a selected provider account with its credentials opened.
type Account struct {
	ID          uuid.UUID
	ProviderID  uuid.UUID
	Label       string
	Credentials Credentials
}

// CreateAccountInput is what an admin supplies for a new provider account.
type CreateAccountInput struct {
	ProviderSlug string            `json:"provider_slug" validate:"required"`
	Label        string            `json:"label" validate:"required,max=120"`
	Capacity     *int              `json:"capacity,omitempty" validate:"omitempty,min=1"`
	Credentials  map[string]string `json:"credentials" validate:"required,min=1"`
}

// Registry owns account selection, cooldowns and usage accounting.
type Registry struct {
	repo     Repository
	box      *secrets.Box
	cooldown time.Duration
	logg     *logger.Logger
	now      func() time.Time
}

type RegistryParams struct {
	Repo     Repository
	Box      *secrets.Box
	Cooldown time.Duration
	Logger   *logger.Logger
}

const defaultCooldown = 5 * time.Minute

func NewRegistry(p RegistryParams) (*Registry, error) {
	if p.Repo == nil {
		return nil, fmt.Errorf("provider repository required")
	}
	if p.Box == nil {
		return nil, fmt.Errorf("credentials box required")
	}
	if p.Cooldown <= 0 {
		p.Cooldown = defaultCooldown
	}
	if p.Logger == nil {
		p.Logger = logger.Nop()
	}
	return &Registry{
		repo:     p.Repo,
		box:      p.Box,
		cooldown: p.Cooldown,
		logg:     p.Logger,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// ProviderForProduct resolves the provider an INVITE product is fulfilled on.
func (r *Registry) ProviderForProduct(ctx context.Context, productID uuid.UUID) (*models.Provider, error) {
	product, err := r.repo.FindProduct(ctx, productID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeReferential, "product not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load product: %w", err)
	}
	if product.ProviderID == nil {
		return nil, pkgerrors.New(pkgerrors.CodeReferential, "product has no provider")
	}
	provider, err := r.repo.FindProvider(ctx, *product.ProviderID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeReferential, "provider not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load provider: %w", err)
	}
	if !provider.IsActive {
		return nil, pkgerrors.New(pkgerrors.CodeContention, "provider is inactive")
	}
	return provider, nil
}

// ReserveAccount takes one usage slot on the least used account that is
// active, out of cooldown and under capacity. The slot is claimed with a
// conditional update before any provider call, so concurrent dispatches can
// never push an account past its capacity. A lost claim moves on to the next
// candidate.
func (r *Registry) ReserveAccount(ctx context.Context, providerID uuid.UUID) (*Account, error) {
	var tried []uuid.UUID
	for {
		row, err := r.repo.SelectAvailableAccount(ctx, providerID, r.now(), tried)
		if err != nil {
			return nil, fmt.Errorf("select provider account: %w", err)
		}
		if row == nil {
			return nil, pkgerrors.New(pkgerrors.CodeContention, "no available provider accounts").
				WithDetails(map[string]any{"provider_id": providerID, "contended": len(tried)})
		}
		affected, err := r.repo.IncrementUsage(ctx, row.ID, r.now())
		if err != nil {
			return nil, fmt.Errorf("reserve provider account: %w", err)
		}
		if affected != 1 {
			tried = append(tried, row.ID)
			continue
		}

		creds := Credentials{}
		if err := r.box.OpenJSON(row.Credentials, &creds); err != nil {
			// an account whose credentials cannot be opened is useless until an admin fixes it
			if relErr := r.ReleaseUsage(ctx, row.ID); relErr != nil {
				r.logg.Error(ctx, "provider reservation not released", relErr)
			}
			_ = r.repo.SetCooldown(ctx, row.ID, r.now().Add(r.cooldown), "credentials unreadable")
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "provider credentials unreadable")
		}
		return &Account{ID: row.ID, ProviderID: row.ProviderID, Label: row.Label, Credentials: creds}, nil
	}
}

// MarkFailure puts the account into cooldown and records the failure message.
func (r *Registry) MarkFailure(ctx context.Context, accountID uuid.UUID, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	until := r.now().Add(r.cooldown)
	if err := r.repo.SetCooldown(ctx, accountID, until, msg); err != nil {
		return fmt.Errorf("set provider cooldown: %w", err)
	}
	r.logg.Warn(r.logg.WithFields(ctx, map[string]any{
		"provider_account_id": accountID.String(),
		"cooldown_until":      until,
	}), "provider account cooling down")
	return nil
}

// ReleaseUsage returns a slot taken by ReserveAccount whose dispatch failed.
func (r *Registry) ReleaseUsage(ctx context.Context, accountID uuid.UUID) error {
	if _, err := r.repo.DecrementUsage(ctx, accountID, r.now()); err != nil {
		return fmt.Errorf("release provider usage: %w", err)
	}
	return nil
}

// Reset zeroes usage and clears the cooldown.
func (r *Registry) Reset(ctx context.Context, accountID uuid.UUID) (*models.ProviderAccount, error) {
	affected, err := r.repo.ResetAccount(ctx, accountID, r.now())
	if err != nil {
		return nil, fmt.Errorf("reset provider account: %w", err)
	}
	if affected == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "provider account not found")
	}
	return r.repo.FindAccount(ctx, accountID)
}

// CreateAccount seals the credentials and stores a new active account.
func (r *Registry) CreateAccount(ctx context.Context, input CreateAccountInput) (*models.ProviderAccount, error) {
	if strings.TrimSpace(input.Label) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "label is required")
	}
	if len(input.Credentials) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "credentials are required")
	}
	if input.Capacity != nil && *input.Capacity < 1 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "capacity must be positive")
	}
	provider, err := r.repo.FindProviderBySlug(ctx, strings.TrimSpace(input.ProviderSlug))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "provider not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load provider: %w", err)
	}
	sealed, err := r.box.SealJSON(input.Credentials)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "seal credentials")
	}
	account := &models.ProviderAccount{
		ProviderID:  provider.ID,
		Label:       strings.TrimSpace(input.Label),
		Credentials: sealed,
		Capacity:    input.Capacity,
		IsActive:    true,
	}
	if err := r.repo.CreateAccount(ctx, account); err != nil {
		return nil, fmt.Errorf("create provider account: %w", err)
	}
	r.logg.Info(r.logg.WithFields(ctx, map[string]any{
		"provider":            provider.Slug,
		"provider_account_id": account.ID.String(),
	}), "provider account created")
	return account, nil
}

// Unavailable reports accounts that cannot currently take work.
func (r *Registry) Unavailable(ctx context.Context) ([]UnavailableCount, error) {
	return r.repo.UnavailableCounts(ctx, r.now())
}

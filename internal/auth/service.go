package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/angelmondragon/keydrop-backend/pkg/config"
	"github.com/angelmondragon/keydrop-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/keydrop-backend/pkg/errors"
	"github.com/angelmondragon/keydrop-backend/pkg/security"
)

const invalidCredentialsMessage = "invalid credentials"

// Service authenticates reseller API keys and onboards resellers.
type Service interface {
	Authenticate(ctx context.Context, apiKey string) (*models.Reseller, error)
	RegisterReseller(ctx context.Context, req RegisterResellerRequest) (*RegisterResellerResponse, error)
}

type service struct {
	repo     Repository
	password config.PasswordConfig
}

// ServiceParams bundles the dependencies required to build an auth service.
type ServiceParams struct {
	Repo     Repository
	Password config.PasswordConfig
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("reseller repository is required")
	}
	return &service{repo: params.Repo, password: params.Password}, nil
}

// Authenticate resolves kd_<prefix>_<secret> to an active reseller. Every
// failure looks the same to the caller.
func (s *service) Authenticate(ctx context.Context, apiKey string) (*models.Reseller, error) {
	prefix, secret, err := security.SplitAPIKey(apiKey)
	if err != nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, invalidCredentialsMessage)
	}
	reseller, err := s.repo.FindByPrefix(ctx, prefix)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, invalidCredentialsMessage)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load reseller")
	}
	ok, err := security.VerifySecret(secret, reseller.APIKeyHash)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "verify api key")
	}
	if !ok || !reseller.IsActive {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, invalidCredentialsMessage)
	}
	return reseller, nil
}

func (s *service) RegisterReseller(ctx context.Context, req RegisterResellerRequest) (*RegisterResellerResponse, error) {
	name := strings.TrimSpace(req.Name)
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if name == "" || email == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "name and email are required")
	}
	key, err := security.GenerateAPIKey(s.password)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate api key")
	}
	reseller := &models.Reseller{
		Name:         name,
		Email:        email,
		APIKeyPrefix: key.Prefix,
		APIKeyHash:   key.Hash,
		IsActive:     true,
	}
	if err := s.repo.Create(ctx, reseller); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create reseller")
	}
	return &RegisterResellerResponse{
		ID:     reseller.ID,
		Name:   reseller.Name,
		Email:  reseller.Email,
		APIKey: key.Plain,
	}, nil
}

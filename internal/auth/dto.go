package auth

import "github.com/google/uuid"

// RegisterResellerRequest is the admin payload for onboarding a reseller.
type RegisterResellerRequest struct {
	Name  string `json:"name" validate:"required,max=120"`
	Email string `json:"email" validate:"required,email"`
}

// RegisterResellerResponse carries the plain API key. It is returned once and never stored.
type RegisterResellerResponse struct {
	ID     uuid.UUID `json:"id"`
	Name   string    `json:"name"`
	Email  string    `json:"email"`
	APIKey string    `json:"api_key"`
}

package providers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Input is what an adapter needs to issue one invite.
type Input struct {
	Email       string
	OrderID     uuid.UUID
	OrderItemID uuid.UUID
	Provider    string
	Extra       map[string]string
}

// Result is the provider's answer for one invite.
type Result struct {
	Provider  string     `json:"provider"`
	AccountID *uuid.UUID `json:"account_id,omitempty"`
	Status    string     `json:"status"`
	Message   string     `json:"message,omitempty"`
	Reference string     `json:"reference,omitempty"`
	Email     string     `json:"email,omitempty"`
}

const (
	ResultInvited = "invited"
	ResultManual  = "manual"
)

// Adapter talks to one external platform. Implementations return a
// CodeValidation error for requests the platform will never accept.
type Adapter interface {
	Slug() string
	Dispatch(ctx context.Context, creds Credentials, input Input) (Result, error)
}

// ManualAdapter is the fallback for providers without an integration.
type ManualAdapter struct{}

func (ManualAdapter) Slug() string { return "manual" }

func (ManualAdapter) Dispatch(_ context.Context, _ Credentials, input Input) (Result, error) {
	return Result{
		Provider: input.Provider,
		Status:   ResultManual,
		Message:  "queued for manual processing",
		Email:    input.Email,
	}, nil
}

// Adapters indexes adapters by provider slug.
type Adapters map[string]Adapter

func NewAdapters(list ...Adapter) Adapters {
	out := Adapters{}
	for _, a := range list {
		if a == nil {
			continue
		}
		out[strings.ToLower(a.Slug())] = a
	}
	return out
}

// Register binds an extra provider slug to an adapter.
func (a Adapters) Register(slug string, adapter Adapter) {
	a[strings.ToLower(strings.TrimSpace(slug))] = adapter
}

// For returns the adapter registered for slug, then for its family prefix
// ("webhook-acme" resolves to "webhook"), else the manual fallback.
func (a Adapters) For(slug string) Adapter {
	slug = strings.ToLower(strings.TrimSpace(slug))
	if adapter, ok := a[slug]; ok {
		return adapter
	}
	if family, _, found := strings.Cut(slug, "-"); found {
		if adapter, ok := a[family]; ok {
			return adapter
		}
	}
	return ManualAdapter{}
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

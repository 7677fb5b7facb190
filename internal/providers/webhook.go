package providers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"time"

	pkgerrors "github.com/angelmondragon/keydrop-backend/pkg/errors"
)

const (
	webhookSlug            = "webhook"
	webhookSignatureHeader = "X-Keydrop-Signature"
)

// WebhookAdapter POSTs invite requests to a provider-run endpoint.
// Credentials: url and secret; the body is signed with HMAC-SHA256.
type WebhookAdapter struct {
	client *http.Client
	now    func() time.Time
}

func NewWebhookAdapter(timeout time.Duration) *WebhookAdapter {
	return &WebhookAdapter{
		client: newHTTPClient(timeout),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (a *WebhookAdapter) Slug() string { return webhookSlug }

type webhookInviteRequest struct {
	Email       string            `json:"email"`
	OrderID     string            `json:"order_id"`
	OrderItemID string            `json:"order_item_id"`
	Extra       map[string]string `json:"extra,omitempty"`
	SentAt      time.Time         `json:"sent_at"`
}

type webhookInviteResponse struct {
	Reference string `json:"reference"`
	Message   string `json:"message"`
}

// SignBody is the signature a receiving endpoint recomputes.
func SignBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (a *WebhookAdapter) Dispatch(ctx context.Context, creds Credentials, input Input) (Result, error) {
	url, secret := creds.Get("url"), creds.Get("secret")
	if url == "" || secret == "" {
		return Result{}, pkgerrors.New(pkgerrors.CodeDependency, "webhook account is missing url or secret")
	}
	body, err := json.Marshal(webhookInviteRequest{
		Email:       input.Email,
		OrderID:     input.OrderID.String(),
		OrderItemID: input.OrderItemID.String(),
		Extra:       input.Extra,
		SentAt:      a.now(),
	})
	if err != nil {
		return Result{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Result{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "invalid webhook url")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(webhookSignatureHeader, SignBody(secret, body))

	resp, err := a.client.Do(req)
	if err != nil {
		return Result{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "webhook request failed")
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var decoded webhookInviteResponse
	_ = json.Unmarshal(raw, &decoded)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return Result{
			Provider:  input.Provider,
			Status:    ResultInvited,
			Message:   decoded.Message,
			Reference: decoded.Reference,
			Email:     input.Email,
		}, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 &&
		resp.StatusCode != http.StatusRequestTimeout && resp.StatusCode != http.StatusTooManyRequests:
		return Result{}, pkgerrors.Newf(pkgerrors.CodeValidation, "provider rejected invite (%d): %s", resp.StatusCode, decoded.Message)
	default:
		return Result{}, pkgerrors.Newf(pkgerrors.CodeDependency, "provider returned %d", resp.StatusCode)
	}
}

package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/keydrop-backend/api/responses"
	pkgerrors "github.com/angelmondragon/keydrop-backend/pkg/errors"
	"github.com/angelmondragon/keydrop-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/keydrop-backend/pkg/redis"
)

const (
	idempotencyHeader     = "Idempotency-Key"
	defaultIdempotencyTTL = 24 * time.Hour
	maxIdempotencyKeyLen  = 255

	recordPending   = "pending"
	recordCompleted = "completed"
)

type idempotencyRule struct {
	method   string
	path     string
	required bool
}

// Reseller writes must carry a key; admin writes honour one when sent.
var idempotencyRules = []idempotencyRule{
	{method: http.MethodPost, path: "/api/v1/reseller/orders", required: true},
	{method: http.MethodPost, path: "/api/v1/reseller/topups", required: true},
	{method: http.MethodPost, path: "/api/admin/v1/provider-accounts"},
	{method: http.MethodPost, path: "/api/admin/v1/resellers"},
}

type idempotencyRecord struct {
	State       string            `json:"state"`
	Status      int               `json:"status,omitempty"`
	Body        string            `json:"body,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	RequestHash string            `json:"request_hash"`
}

// Idempotency replays the stored response for a repeated Idempotency-Key.
// The key is reserved before the handler runs so concurrent duplicates get a
// conflict instead of running twice. 5xx responses release the key.
func Idempotency(store pkgredis.IdempotencyStore, ttl time.Duration, logg *logger.Logger) func(http.Handler) http.Handler {
	if ttl <= 0 {
		ttl = defaultIdempotencyTTL
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rule, ok := ruleFor(r.Method, r.URL.Path)
			if !ok || store == nil {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()

			idempotencyKey := strings.TrimSpace(r.Header.Get(idempotencyHeader))
			if idempotencyKey == "" {
				if rule.required {
					responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header required"))
					return
				}
				next.ServeHTTP(w, r)
				return
			}
			if len(idempotencyKey) > maxIdempotencyKeyLen {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key too long"))
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			requestHash := hashBody(body)
			key := store.IdempotencyKey(buildScope(r), idempotencyKey)

			pending, _ := json.Marshal(idempotencyRecord{State: recordPending, RequestHash: requestHash})
			reserved, err := store.SetNX(ctx, key, string(pending), ttl)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reserve idempotency key"))
				return
			}
			if !reserved {
				replayExisting(ctx, logg, w, store, key, requestHash)
				return
			}

			rec := &responseCapture{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			// the request context may already be cancelled; the record must still land
			storeCtx := context.WithoutCancel(ctx)
			status := defaultStatus(rec.status)
			if status >= http.StatusInternalServerError {
				if delErr := store.Del(storeCtx, key); delErr != nil {
					logError(ctx, logg, "release idempotency key", delErr)
				}
				return
			}
			record := idempotencyRecord{
				State:       recordCompleted,
				Status:      status,
				Body:        base64.StdEncoding.EncodeToString(rec.body.Bytes()),
				RequestHash: requestHash,
			}
			if ct := rec.Header().Get("Content-Type"); ct != "" {
				record.Headers = map[string]string{"Content-Type": ct}
			}
			payload, err := json.Marshal(record)
			if err != nil {
				logError(ctx, logg, "marshal idempotency record", err)
				return
			}
			if err := store.Set(storeCtx, key, string(payload), ttl); err != nil {
				logError(ctx, logg, "persist idempotency record", err)
			}
		})
	}
}

func replayExisting(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, store pkgredis.IdempotencyStore, key, requestHash string) {
	stored, err := store.Get(ctx, key)
	if errors.Is(err, redis.Nil) {
		// expired between SetNX and Get
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeConflict, "request in progress, retry"))
		return
	}
	if err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
		return
	}
	var record idempotencyRecord
	if err := json.Unmarshal([]byte(stored), &record); err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode idempotency record"))
		return
	}
	if record.RequestHash != requestHash {
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with different request body"))
		return
	}
	if record.State != recordCompleted {
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeConflict, "request in progress, retry"))
		return
	}
	if ct, ok := record.Headers["Content-Type"]; ok && ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.Header().Set("Idempotent-Replayed", "true")
	w.WriteHeader(record.Status)
	if decoded, err := base64.StdEncoding.DecodeString(record.Body); err == nil {
		_, _ = w.Write(decoded)
	}
}

func buildScope(r *http.Request) string {
	owner := resellerScope(r.Context())
	if owner == "" {
		owner = "admin:" + AdminSubjectFromContext(r.Context())
	}
	return strings.Join([]string{owner, r.Method, r.URL.Path}, "|")
}

func hashBody(payload []byte) string {
	sum := sha256.Sum256(payload)
	return base64.StdEncoding.EncodeToString(sum[:])
}

func defaultStatus(value int) int {
	if value == 0 {
		return http.StatusOK
	}
	return value
}

func ruleFor(method, path string) (idempotencyRule, bool) {
	path = strings.TrimSuffix(path, "/")
	for _, rule := range idempotencyRules {
		if rule.method == method && rule.path == path {
			return rule, true
		}
	}
	return idempotencyRule{}, false
}

type responseCapture struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (r *responseCapture) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseCapture) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

func logError(ctx context.Context, logg *logger.Logger, msg string, err error) {
	if logg == nil || err == nil {
		return
	}
	logg.Error(ctx, msg, err)
}

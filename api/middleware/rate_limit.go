package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/angelmondragon/keydrop-backend/api/responses"
	pkgerrors "github.com/angelmondragon/keydrop-backend/pkg/errors"
	"github.com/angelmondragon/keydrop-backend/pkg/logger"
)

type rateLimiterStore interface {
	IncrWithTTL(context.Context, string, time.Duration) (int64, error)
	RateLimitKey(scope string) string
}

// RateLimitPolicy defines the throttling parameters for a traffic surface.
type RateLimitPolicy struct {
	name     string
	window   time.Duration
	ipLimit  int
	keyLimit int
}

func NewRateLimitPolicy(name string, window time.Duration, ipLimit, keyLimit int) RateLimitPolicy {
	return RateLimitPolicy{
		name:     strings.ToLower(strings.TrimSpace(name)),
		window:   window,
		ipLimit:  ipLimit,
		keyLimit: keyLimit,
	}
}

func (p RateLimitPolicy) enabled() bool {
	return p.window > 0 && (p.ipLimit > 0 || p.keyLimit > 0)
}

func (p RateLimitPolicy) normalizedName() string {
	if p.name == "" {
		return "api"
	}
	return p.name
}

// bucket pins counters to the current fixed window so keys roll over.
func (p RateLimitPolicy) bucket(now time.Time) int64 {
	return now.UnixNano() / int64(p.window)
}

// RateLimit enforces fixed-window counters per client IP and per API key.
// It runs before authentication so failed key guesses count too.
func RateLimit(policy RateLimitPolicy, store rateLimiterStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !policy.enabled() || store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			bucket := policy.bucket(time.Now())

			if ip := ClientIP(r); policy.ipLimit > 0 && ip != "" {
				key := store.RateLimitKey(policy.scope("ip", ip, bucket))
				if !checkLimit(ctx, logg, w, store, policy, key, "ip", policy.ipLimit) {
					return
				}
			}
			if apiKey := strings.TrimSpace(r.Header.Get(apiKeyHeader)); policy.keyLimit > 0 && apiKey != "" {
				key := store.RateLimitKey(policy.scope("key", hashValue(apiKey), bucket))
				if !checkLimit(ctx, logg, w, store, policy, key, "api_key", policy.keyLimit) {
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (p RateLimitPolicy) scope(kind, value string, bucket int64) string {
	return strings.Join([]string{p.normalizedName(), kind, value, strconv.FormatInt(bucket, 10)}, ":")
}

func checkLimit(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, store rateLimiterStore, policy RateLimitPolicy, key, scope string, limit int) bool {
	count, err := store.IncrWithTTL(ctx, key, policy.window)
	if err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "rate limiting"))
		return false
	}
	if count <= int64(limit) {
		return true
	}
	if logg != nil {
		logg.Warn(logg.WithFields(ctx, map[string]any{
			"scope":          scope,
			"policy":         policy.normalizedName(),
			"attempts":       count,
			"limit":          limit,
			"window_seconds": int(policy.window.Seconds()),
		}), "rate_limit.blocked")
	}
	w.Header().Set("Retry-After", strconv.Itoa(int(policy.window.Seconds())))
	responses.WriteError(ctx, nil, w, pkgerrors.New(pkgerrors.CodeRateLimit, "rate limit exceeded"))
	return false
}

// ClientIP prefers proxy headers over the socket address.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	if header := r.Header.Get("X-Forwarded-For"); header != "" {
		for _, part := range strings.Split(header, ",") {
			if ip := strings.TrimSpace(part); ip != "" {
				return ip
			}
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}

func hashValue(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

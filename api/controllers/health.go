package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/angelmondragon/keydrop-backend/api/responses"
	"github.com/angelmondragon/keydrop-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/keydrop-backend/pkg/errors"
	"github.com/angelmondragon/keydrop-backend/pkg/logger"
)

// Pinger is a dependency the readiness probe checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

const readinessTimeout = 2 * time.Second

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Keydrop-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady pings every named dependency and reports 503 when any fails.
func HealthReady(cfg *config.Config, deps map[string]Pinger, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Keydrop-Env", cfg.App.Env)
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		checks := make(map[string]string, len(deps))
		var failed []string
		for name, dep := range deps {
			if dep == nil {
				continue
			}
			if err := dep.Ping(ctx); err != nil {
				checks[name] = "down"
				failed = append(failed, name)
				continue
			}
			checks[name] = "up"
		}
		if len(failed) > 0 {
			err := pkgerrors.New(pkgerrors.CodeDependency, "dependency unavailable").WithDetails(checks)
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"status": "ready", "checks": checks})
	}
}

package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/angelmondragon/eduflow-sync/api/responses"
	"github.com/angelmondragon/eduflow-sync/pkg/config"
	pkgerrors "github.com/angelmondragon/eduflow-sync/pkg/errors"
	"github.com/angelmondragon/eduflow-sync/pkg/logger"
)

const readyCheckTimeout = 2 * time.Second

type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyCheck is one dependency probed by /health/ready. Only required checks
// fail readiness; the remote store is optional for an offline-first agent.
type ReadyCheck struct {
	Name     string
	Pinger   Pinger
	Required bool
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-EduFlow-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

func HealthReady(cfg *config.Config, logg *logger.Logger, checks ...ReadyCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-EduFlow-Env", cfg.App.Env)

		results := make(map[string]string, len(checks))
		ready := true
		for _, check := range checks {
			if check.Pinger == nil {
				continue
			}
			ctx, cancel := context.WithTimeout(r.Context(), readyCheckTimeout)
			err := check.Pinger.Ping(ctx)
			cancel()
			if err == nil {
				results[check.Name] = "ok"
				continue
			}
			results[check.Name] = "unavailable"
			if check.Required {
				ready = false
			}
			if logg != nil {
				logg.Warn(logg.WithFields(r.Context(), map[string]any{
					"check": check.Name,
					"error": err.Error(),
				}), "health.check_failed")
			}
		}

		if !ready {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeDependency, "not ready").WithDetails(results))
			return
		}
		responses.WriteSuccess(w, map[string]any{"status": "ready", "checks": results})
	}
}

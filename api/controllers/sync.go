package controllers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/eduflow-sync/api/middleware"
	"github.com/angelmondragon/eduflow-sync/api/responses"
	"github.com/angelmondragon/eduflow-sync/api/validators"
	"github.com/angelmondragon/eduflow-sync/internal/syncer"
	"github.com/angelmondragon/eduflow-sync/pkg/db/models"
	pkgerrors "github.com/angelmondragon/eduflow-sync/pkg/errors"
	"github.com/angelmondragon/eduflow-sync/pkg/logger"
)

type SyncManager interface {
	SyncAll(ctx context.Context, orgID string) (syncer.Report, error)
	Status(ctx context.Context) syncer.Status
}

// OutboxAdmin exposes the queue and the quarantine to operators.
type OutboxAdmin interface {
	Pending(ctx context.Context, limit int) ([]models.OutboxEvent, error)
	Quarantined(ctx context.Context, limit int) ([]models.OutboxDLQ, error)
	Requeue(ctx context.Context, eventID string) (*models.OutboxEvent, error)
	Discard(ctx context.Context, eventID string) error
}

func SyncStatus(manager SyncManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		responses.WriteSuccess(w, manager.Status(r.Context()))
	}
}

// TriggerSync runs one pass for the organization in the path. Skipped passes
// map to 409 (busy) and 503 (offline); remote failures still answer 200 with
// the report describing them.
func TriggerSync(manager SyncManager, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgID := middleware.OrganizationIDFromContext(r.Context())
		if orgID == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "organization id is required"))
			return
		}

		report, err := manager.SyncAll(r.Context(), orgID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		switch report.Skipped {
		case syncer.SkipBusy:
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeSyncInProgress, "sync already running"))
			return
		case syncer.SkipOffline:
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeOffline, "remote store unreachable"))
			return
		}
		responses.WriteSuccess(w, report)
	}
}

func ListOutbox(admin OutboxAdmin, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := validators.ParseQueryInt(r, "limit", 50, 1, 500)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		events, err := admin.Pending(r.Context(), limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if events == nil {
			events = []models.OutboxEvent{}
		}
		responses.WriteSuccess(w, events)
	}
}

func ListDLQ(admin OutboxAdmin, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := validators.ParseQueryInt(r, "limit", 50, 1, 500)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		entries, err := admin.Quarantined(r.Context(), limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if entries == nil {
			entries = []models.OutboxDLQ{}
		}
		responses.WriteSuccess(w, entries)
	}
}

func RequeueDLQ(admin OutboxAdmin, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		event, err := admin.Requeue(r.Context(), chi.URLParam(r, "eventId"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, event)
	}
}

func DiscardDLQ(admin OutboxAdmin, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := admin.Discard(r.Context(), chi.URLParam(r, "eventId")); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

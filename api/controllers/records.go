package controllers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/eduflow-sync/api/middleware"
	"github.com/angelmondragon/eduflow-sync/api/responses"
	"github.com/angelmondragon/eduflow-sync/api/validators"
	"github.com/angelmondragon/eduflow-sync/pkg/db/models"
	pkgerrors "github.com/angelmondragon/eduflow-sync/pkg/errors"
	"github.com/angelmondragon/eduflow-sync/pkg/logger"
)

// RecordRepository is the facade of one collection.
type RecordRepository interface {
	GetAll(ctx context.Context, orgID string) ([]models.Record, error)
	Get(ctx context.Context, orgID, id string) (*models.Record, error)
	Add(ctx context.Context, orgID string, doc map[string]any) (models.Record, error)
	Update(ctx context.Context, orgID, id string, patch map[string]any) (models.Record, error)
	Delete(ctx context.Context, orgID, id string) error
	Watch(ctx context.Context, orgID string, fn func([]models.Record)) error
}

// RecordResolver returns the facade for a collection name or a NOT_FOUND error.
type RecordResolver func(collection string) (RecordRepository, error)

func resolveRecords(w http.ResponseWriter, r *http.Request, resolve RecordResolver, logg *logger.Logger) (RecordRepository, string, bool) {
	if resolve == nil {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "record repositories unavailable"))
		return nil, "", false
	}
	repo, err := resolve(chi.URLParam(r, "collection"))
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return nil, "", false
	}
	orgID := middleware.OrganizationIDFromContext(r.Context())
	if orgID == "" {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "organization id is required"))
		return nil, "", false
	}
	return repo, orgID, true
}

// ListRecords returns every cached record of the collection, dirty ones included.
func ListRecords(resolve RecordResolver, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		repo, orgID, ok := resolveRecords(w, r, resolve, logg)
		if !ok {
			return
		}
		records, err := repo.GetAll(r.Context(), orgID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if records == nil {
			records = []models.Record{}
		}
		responses.WriteSuccess(w, records)
	}
}

func GetRecord(resolve RecordResolver, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		repo, orgID, ok := resolveRecords(w, r, resolve, logg)
		if !ok {
			return
		}
		record, err := repo.Get(r.Context(), orgID, chi.URLParam(r, "id"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, record)
	}
}

// CreateRecord writes locally and queues the push; it answers 201 without
// waiting for the remote store.
func CreateRecord(resolve RecordResolver, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		repo, orgID, ok := resolveRecords(w, r, resolve, logg)
		if !ok {
			return
		}
		doc, err := validators.DecodeJSONObject(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		record, err := repo.Add(r.Context(), orgID, doc)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, record)
	}
}

func UpdateRecord(resolve RecordResolver, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		repo, orgID, ok := resolveRecords(w, r, resolve, logg)
		if !ok {
			return
		}
		patch, err := validators.DecodeJSONObject(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		record, err := repo.Update(r.Context(), orgID, chi.URLParam(r, "id"), patch)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, record)
	}
}

func DeleteRecord(resolve RecordResolver, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		repo, orgID, ok := resolveRecords(w, r, resolve, logg)
		if !ok {
			return
		}
		if err := repo.Delete(r.Context(), orgID, chi.URLParam(r, "id")); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/eduflow-sync/pkg/db/models"
)

// DocumentStore keeps every collection in the remote_documents table.
type DocumentStore struct {
	db  *gorm.DB
	now func() time.Time
}

func NewDocumentStore(db *gorm.DB) *DocumentStore {
	return &DocumentStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Set creates or replaces the document. An existing document owned by another
// organization is left alone.
func (s *DocumentStore) Set(ctx context.Context, collection, orgID, id string, doc Document) error {
	if err := checkWrite(collection, orgID, id, doc); err != nil {
		return err
	}
	row := models.RemoteDocument{
		Collection:     collection,
		ID:             id,
		OrganizationID: orgID,
		Data:           doc.Clone(),
		UpdatedAt:      s.now(),
	}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "collection"}, {Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"data", "updated_at"}),
			Where: clause.Where{Exprs: []clause.Expression{
				clause.Eq{Column: clause.Column{Table: models.RemoteDocument{}.TableName(), Name: "organization_id"}, Value: orgID},
			}},
		}).
		Create(&row)
	if res.Error != nil {
		return classify(fmt.Errorf("set %s/%s: %w", collection, id, res.Error))
	}
	if res.RowsAffected == 0 {
		return s.ownerMismatch(ctx, collection, orgID, id)
	}
	return nil
}

// Update merges patch into the stored document.
func (s *DocumentStore) Update(ctx context.Context, collection, orgID, id string, patch Document) error {
	if err := checkWrite(collection, orgID, id, patch); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row models.RemoteDocument
		err := tx.Where("collection = ? AND id = ?", collection, id).Take(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("update %s/%s: %w", collection, id, ErrNotFound)
		}
		if err != nil {
			return classify(fmt.Errorf("load %s/%s: %w", collection, id, err))
		}
		if row.OrganizationID != orgID {
			return mismatch(collection, id, orgID, row.OrganizationID)
		}

		merged := row.Data.Clone()
		for k, v := range patch {
			merged[k] = v
		}
		data, err := merged.Value()
		if err != nil {
			return NewNonRetryableError(err)
		}
		err = tx.Model(&models.RemoteDocument{}).
			Where("collection = ? AND id = ? AND organization_id = ?", collection, id, orgID).
			Updates(map[string]any{
				"data":       data,
				"updated_at": s.now(),
			}).Error
		if err != nil {
			return classify(fmt.Errorf("update %s/%s: %w", collection, id, err))
		}
		return nil
	})
}

// Delete removes the document of orgID. Deleting an absent document succeeds.
func (s *DocumentStore) Delete(ctx context.Context, collection, orgID, id string) error {
	if err := checkWrite(collection, orgID, id, nil); err != nil {
		return err
	}
	res := s.db.WithContext(ctx).
		Where("collection = ? AND id = ? AND organization_id = ?", collection, id, orgID).
		Delete(&models.RemoteDocument{})
	if res.Error != nil {
		return classify(fmt.Errorf("delete %s/%s: %w", collection, id, res.Error))
	}
	if res.RowsAffected == 0 {
		return s.ownerMismatch(ctx, collection, orgID, id)
	}
	return nil
}

// ownerMismatch explains a write that touched no row: nil when the document is
// absent, a mismatch when another organization owns it.
func (s *DocumentStore) ownerMismatch(ctx context.Context, collection, orgID, id string) error {
	var owners []string
	err := s.db.WithContext(ctx).Model(&models.RemoteDocument{}).
		Where("collection = ? AND id = ?", collection, id).
		Limit(1).
		Pluck("organization_id", &owners).Error
	if err != nil {
		return classify(fmt.Errorf("load %s/%s: %w", collection, id, err))
	}
	if len(owners) == 0 || owners[0] == orgID {
		return nil
	}
	return mismatch(collection, id, orgID, owners[0])
}

func (s *DocumentStore) Get(ctx context.Context, collection, id string) (Document, error) {
	var row models.RemoteDocument
	err := s.db.WithContext(ctx).Where("collection = ? AND id = ?", collection, id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("get %s/%s: %w", collection, id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	return row.Data, nil
}

func (s *DocumentStore) Query(ctx context.Context, collection, orgID string) ([]Document, error) {
	var rows []models.RemoteDocument
	err := s.db.WithContext(ctx).
		Where("collection = ? AND organization_id = ?", collection, orgID).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	out := make([]Document, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.Data)
	}
	return out, nil
}

func (s *DocumentStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

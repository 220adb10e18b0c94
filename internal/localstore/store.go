package localstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/eduflow-sync/internal/collections"
	dbpkg "github.com/angelmondragon/eduflow-sync/pkg/db"
	"github.com/angelmondragon/eduflow-sync/pkg/db/models"
	dbtypes "github.com/angelmondragon/eduflow-sync/pkg/db/types"
	"github.com/angelmondragon/eduflow-sync/pkg/enums"
	pkgerrors "github.com/angelmondragon/eduflow-sync/pkg/errors"
)

const insertBatchSize = 200

// Store is the embedded cache of every collection plus agent metadata. It
// keeps no in-memory state; every call reads through to sqlite.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

func New(db *gorm.DB) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// NewRecord builds a record for doc with its indexed columns filled in.
func NewRecord(collection enums.Collection, orgID string, doc dbtypes.JSONDocument, state enums.SyncState) (models.Record, error) {
	def, ok := collections.Lookup(collection)
	if !ok {
		return models.Record{}, fmt.Errorf("unknown collection %q", collection)
	}
	id := doc.String(collections.FieldID)
	if id == "" {
		return models.Record{}, errors.New("document id is required")
	}
	cols := def.Columns(doc)
	return models.Record{
		ID:             id,
		OrganizationID: orgID,
		FirstName:      cols.FirstName,
		LastName:       cols.LastName,
		Email:          cols.Email,
		Name:           cols.Name,
		Status:         cols.Status,
		Data:           doc,
		SyncState:      state,
	}, nil
}

// GetAll returns every cached record of the collection regardless of state.
func (s *Store) GetAll(ctx context.Context, collection enums.Collection) ([]models.Record, error) {
	conn, err := s.table(ctx, nil, collection)
	if err != nil {
		return nil, err
	}
	var rows []models.Record
	if err := conn.Order("id ASC").Find(&rows).Error; err != nil {
		return nil, s.wrap(err, "list records")
	}
	return rows, nil
}

// List returns the cached records of one organization.
func (s *Store) List(ctx context.Context, collection enums.Collection, orgID string) ([]models.Record, error) {
	conn, err := s.table(ctx, nil, collection)
	if err != nil {
		return nil, err
	}
	var rows []models.Record
	if err := conn.Where("organization_id = ?", orgID).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, s.wrap(err, "list records")
	}
	return rows, nil
}

// GetByID returns nil, nil when the record is not cached.
func (s *Store) GetByID(ctx context.Context, collection enums.Collection, id string) (*models.Record, error) {
	return s.getByID(ctx, nil, collection, id)
}

func (s *Store) getByID(ctx context.Context, tx *gorm.DB, collection enums.Collection, id string) (*models.Record, error) {
	conn, err := s.table(ctx, tx, collection)
	if err != nil {
		return nil, err
	}
	var rows []models.Record
	if err := conn.Where("id = ?", id).Limit(1).Find(&rows).Error; err != nil {
		return nil, s.wrap(err, "get record")
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// Put inserts or replaces the record by id.
func (s *Store) Put(ctx context.Context, tx *gorm.DB, collection enums.Collection, record *models.Record) error {
	if record == nil || record.ID == "" {
		return errors.New("record id is required")
	}
	conn, err := s.table(ctx, tx, collection)
	if err != nil {
		return err
	}
	if record.SyncState == "" {
		record.SyncState = enums.SyncStateClean
	}
	if record.Data == nil {
		record.Data = dbtypes.JSONDocument{}
	}
	record.UpdatedAt = s.now()
	err = conn.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(record).Error
	return s.wrap(err, "put record")
}

// Delete removes the record. Deleting an absent record is not an error.
func (s *Store) Delete(ctx context.Context, tx *gorm.DB, collection enums.Collection, id string) error {
	conn, err := s.table(ctx, tx, collection)
	if err != nil {
		return err
	}
	return s.wrap(conn.Where("id = ?", id).Delete(&models.Record{}).Error, "delete record")
}

// SetSyncState moves a record between reconciliation states. A missing record
// is ignored; a queued DELETE has already removed it.
func (s *Store) SetSyncState(tx *gorm.DB, collection enums.Collection, id string, state enums.SyncState, lastErr *string) error {
	if !state.IsValid() {
		return fmt.Errorf("invalid sync state %q", state)
	}
	conn, err := s.table(context.Background(), tx, collection)
	if err != nil {
		return err
	}
	var errValue any
	if lastErr != nil && state != enums.SyncStateClean {
		errValue = *lastErr
	}
	err = conn.Where("id = ?", id).Updates(map[string]any{
		"sync_state":      state,
		"last_sync_error": errValue,
	}).Error
	return s.wrap(err, "set sync state")
}

// ReplaceClean swaps the clean rows of one organization for the fetched
// snapshot in a single transaction. Dirty rows survive untouched, including
// when the snapshot carries a document with the same id. Documents with a
// queued or quarantined mutation are skipped too, so a pending DELETE is not
// undone. It returns how many records were written.
func (s *Store) ReplaceClean(ctx context.Context, collection enums.Collection, orgID string, docs []dbtypes.JSONDocument) (int, error) {
	if s.db == nil {
		return 0, unavailable(errors.New("nil database handle"))
	}
	written := 0
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		queued, err := queuedDocIDs(tx, collection)
		if err != nil {
			return err
		}
		records := make([]models.Record, 0, len(docs))
		for _, doc := range docs {
			rec, err := NewRecord(collection, orgID, doc, enums.SyncStateClean)
			if err != nil {
				continue
			}
			if _, ok := queued[rec.ID]; ok {
				continue
			}
			rec.UpdatedAt = s.now()
			records = append(records, rec)
		}

		if err := tx.Table(collection.String()).
			Where("organization_id = ? AND sync_state = ?", orgID, enums.SyncStateClean).
			Delete(&models.Record{}).Error; err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}
		res := tx.Table(collection.String()).
			Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
			CreateInBatches(&records, insertBatchSize)
		if res.Error != nil {
			return res.Error
		}
		written = int(res.RowsAffected)
		return nil
	})
	if err != nil {
		return 0, s.wrap(err, "replace clean records")
	}
	return written, nil
}

// ApplyRemote mirrors a single remote change into the cache. Dirty rows and
// documents with a queued or quarantined mutation win: the change is skipped
// and false is returned.
func (s *Store) ApplyRemote(ctx context.Context, collection enums.Collection, orgID string, doc dbtypes.JSONDocument, deleted bool) (bool, error) {
	if s.db == nil {
		return false, unavailable(errors.New("nil database handle"))
	}
	id := doc.String(collections.FieldID)
	if id == "" {
		return false, errors.New("document id is required")
	}

	applied := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.getByID(ctx, tx, collection, id)
		if err != nil {
			return err
		}
		if current != nil && current.IsDirty() {
			return nil
		}
		if current == nil {
			pending, err := hasQueued(tx, collection, id)
			if err != nil || pending {
				return err
			}
		}
		if deleted {
			if current == nil {
				return nil
			}
			applied = true
			return s.Delete(ctx, tx, collection, id)
		}
		rec, err := NewRecord(collection, orgID, doc, enums.SyncStateClean)
		if err != nil {
			return err
		}
		applied = true
		return s.Put(ctx, tx, collection, &rec)
	})
	if err != nil {
		return false, s.wrap(err, "apply remote change")
	}
	return applied, nil
}

// GetMeta returns the metadata value and whether it was set.
func (s *Store) GetMeta(ctx context.Context, key string) (string, bool, error) {
	if s.db == nil {
		return "", false, unavailable(errors.New("nil database handle"))
	}
	var rows []models.SystemMetadata
	err := s.db.WithContext(ctx).
		Where(clause.Eq{Column: clause.Column{Name: "key"}, Value: key}).
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return "", false, s.wrap(err, "get metadata")
	}
	if len(rows) == 0 {
		return "", false, nil
	}
	return rows[0].Value, true, nil
}

func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	if s.db == nil {
		return unavailable(errors.New("nil database handle"))
	}
	row := models.SystemMetadata{Key: key, Value: value, UpdatedAt: s.now()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error
	return s.wrap(err, "set metadata")
}

// Ping reports whether the store is usable.
func (s *Store) Ping(ctx context.Context) error {
	if s.db == nil {
		return unavailable(errors.New("nil database handle"))
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return unavailable(err)
	}
	return s.wrap(sqlDB.PingContext(ctx), "ping local store")
}

// queuedDocIDs returns the ids of collection that still have a mutation in the
// outbox or the DLQ.
func queuedDocIDs(tx *gorm.DB, collection enums.Collection) (map[string]struct{}, error) {
	var queued, quarantined []string
	if err := tx.Model(&models.OutboxEvent{}).
		Where("collection = ?", collection).
		Distinct().
		Pluck("doc_id", &queued).Error; err != nil {
		return nil, err
	}
	if err := tx.Model(&models.OutboxDLQ{}).
		Where("collection = ?", collection).
		Distinct().
		Pluck("doc_id", &quarantined).Error; err != nil {
		return nil, err
	}
	out := make(map[string]struct{}, len(queued)+len(quarantined))
	for _, id := range append(queued, quarantined...) {
		out[id] = struct{}{}
	}
	return out, nil
}

func hasQueued(tx *gorm.DB, collection enums.Collection, id string) (bool, error) {
	var queued, quarantined int64
	if err := tx.Model(&models.OutboxEvent{}).
		Where("collection = ? AND doc_id = ?", collection, id).
		Count(&queued).Error; err != nil {
		return false, err
	}
	if err := tx.Model(&models.OutboxDLQ{}).
		Where("collection = ? AND doc_id = ?", collection, id).
		Count(&quarantined).Error; err != nil {
		return false, err
	}
	return queued+quarantined > 0, nil
}

func (s *Store) table(ctx context.Context, tx *gorm.DB, collection enums.Collection) (*gorm.DB, error) {
	if !collection.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown collection %q", collection))
	}
	if tx != nil {
		return tx.Table(collection.String()), nil
	}
	if s.db == nil {
		return nil, unavailable(errors.New("nil database handle"))
	}
	return s.db.WithContext(ctx).Table(collection.String()), nil
}

func (s *Store) wrap(err error, op string) error {
	if err == nil {
		return nil
	}
	var typed *pkgerrors.Error
	if errors.As(err, &typed) {
		return err
	}
	if dbpkg.IsUnavailable(err) {
		return unavailable(fmt.Errorf("%s: %w", op, err))
	}
	return fmt.Errorf("%s: %w", op, err)
}

func unavailable(err error) error {
	return pkgerrors.Wrap(pkgerrors.CodeStorageUnavailable, err, "local storage unavailable")
}

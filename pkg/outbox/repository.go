package outbox

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/eduflow-sync/pkg/db/models"
	"github.com/angelmondragon/eduflow-sync/pkg/enums"
)

// Repository persists queued mutations. Replay order is seq ascending.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Enqueue appends the event to the queue inside the caller's transaction so
// the entity write and the queued mutation commit together.
func (r *Repository) Enqueue(tx *gorm.DB, event *models.OutboxEvent) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if event == nil {
		return errors.New("outbox event required")
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Status == "" {
		event.Status = enums.OutboxStatusPending
	}
	event.Seq = 0
	return tx.Create(event).Error
}

// ListPending returns up to limit queued events, oldest seq first.
func (r *Repository) ListPending(ctx context.Context, limit int) ([]models.OutboxEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []models.OutboxEvent
	err := r.db.WithContext(ctx).
		Order("seq ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// FindByID returns nil, nil when the event is no longer queued.
func (r *Repository) FindByID(tx *gorm.DB, id string) (*models.OutboxEvent, error) {
	var row models.OutboxEvent
	err := r.conn(tx).Where("id = ?", id).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

// Dequeue removes a confirmed event. Removing an absent event is not an error.
func (r *Repository) Dequeue(tx *gorm.DB, id string) error {
	return r.conn(tx).Where("id = ?", id).Delete(&models.OutboxEvent{}).Error
}

// MarkFailed records a failed push and returns the updated attempt count.
func (r *Repository) MarkFailed(tx *gorm.DB, id string, cause error) (int, error) {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	conn := r.conn(tx)
	res := conn.Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        enums.OutboxStatusFailed,
			"last_error":    msg,
			"attempt_count": gorm.Expr("attempt_count + 1"),
		})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, gorm.ErrRecordNotFound
	}
	var attempts int
	if err := conn.Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Select("attempt_count").
		Scan(&attempts).Error; err != nil {
		return 0, err
	}
	return attempts, nil
}

// HasPendingForDoc reports whether any queued event still targets the record.
func (r *Repository) HasPendingForDoc(tx *gorm.DB, collection enums.Collection, docID string) (bool, error) {
	var count int64
	err := r.conn(tx).Model(&models.OutboxEvent{}).
		Where("collection = ? AND doc_id = ?", collection, docID).
		Count(&count).Error
	return count > 0, err
}

func (r *Repository) CountPending(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.OutboxEvent{}).Count(&count).Error
	return count, err
}

func (r *Repository) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

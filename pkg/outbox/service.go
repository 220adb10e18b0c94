package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/angelmondragon/eduflow-sync/pkg/db/models"
	"github.com/angelmondragon/eduflow-sync/pkg/enums"
	pkgerrors "github.com/angelmondragon/eduflow-sync/pkg/errors"
	"github.com/angelmondragon/eduflow-sync/pkg/logger"
)

// Mutation describes a local write that must be replayed remotely.
type Mutation struct {
	Collection     enums.Collection
	Action         enums.OutboxAction
	DocID          string
	OrganizationID string
	Data           any
}

// StateWriter moves a cached record between reconciliation states.
type StateWriter interface {
	SetSyncState(tx *gorm.DB, collection enums.Collection, id string, state enums.SyncState, lastErr *string) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type ServiceParams struct {
	Repo   *Repository
	DLQ    *DLQRepository
	States StateWriter
	DB     txRunner
	Logger *logger.Logger
}

// Service owns the queue lifecycle: enqueue, quarantine, requeue and discard.
type Service struct {
	repo   *Repository
	dlq    *DLQRepository
	states StateWriter
	db     txRunner
	logg   *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, errors.New("outbox repository is required")
	}
	if params.DLQ == nil {
		return nil, errors.New("dlq repository is required")
	}
	if params.States == nil {
		return nil, errors.New("state writer is required")
	}
	if params.DB == nil {
		return nil, errors.New("database is required")
	}
	return &Service{
		repo:   params.Repo,
		dlq:    params.DLQ,
		states: params.States,
		db:     params.DB,
		logg:   params.Logger,
	}, nil
}

func (s *Service) Repository() *Repository { return s.repo }

func (s *Service) DLQ() *DLQRepository { return s.dlq }

// Pending lists queued events in replay order.
func (s *Service) Pending(ctx context.Context, limit int) ([]models.OutboxEvent, error) {
	return s.repo.ListPending(ctx, limit)
}

// Quarantined lists DLQ entries, newest first.
func (s *Service) Quarantined(ctx context.Context, limit int) ([]models.OutboxDLQ, error) {
	return s.dlq.List(ctx, limit)
}

// Enqueue serializes the mutation and queues it in tx.
func (s *Service) Enqueue(ctx context.Context, tx *gorm.DB, m Mutation) (*models.OutboxEvent, error) {
	if tx == nil {
		return nil, errors.New("transaction required")
	}
	if !m.Collection.IsValid() {
		return nil, fmt.Errorf("invalid collection %q", m.Collection)
	}
	if !m.Action.IsValid() {
		return nil, fmt.Errorf("invalid outbox action %q", m.Action)
	}
	if m.DocID == "" {
		return nil, errors.New("document id is required")
	}

	data := m.Data
	if m.Action == enums.OutboxActionDelete {
		data = map[string]any{"id": m.DocID}
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode outbox payload: %w", err)
	}

	event := &models.OutboxEvent{
		Collection:     m.Collection,
		Action:         m.Action,
		DocID:          m.DocID,
		OrganizationID: m.OrganizationID,
		Payload:        json.RawMessage(payload),
	}
	if err := s.repo.Enqueue(tx, event); err != nil {
		return nil, err
	}
	if s.logg != nil {
		s.logg.Info(s.logg.WithFields(ctx, eventFields(*event)), "outbox event queued")
	}
	return event, nil
}

// Quarantine moves event into the DLQ and off the queue inside tx. The record
// stays push_failed so pulls keep skipping it.
func (s *Service) Quarantine(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	entry := models.OutboxDLQ{
		EventID:        event.ID,
		Seq:            event.Seq,
		Collection:     event.Collection,
		Action:         event.Action,
		DocID:          event.DocID,
		OrganizationID: event.OrganizationID,
		Payload:        event.Payload,
		ErrorReason:    reason,
		ErrorMessage:   &msg,
		AttemptCount:   event.AttemptCount,
	}
	if err := s.dlq.InsertTx(tx, entry); err != nil {
		return fmt.Errorf("insert dlq entry: %w", err)
	}
	if err := s.repo.Dequeue(tx, event.ID); err != nil {
		return fmt.Errorf("dequeue quarantined event: %w", err)
	}
	state := truncateDLQError(msg)
	if err := s.states.SetSyncState(tx, event.Collection, event.DocID, enums.SyncStatePushFailed, &state); err != nil {
		return err
	}
	if s.logg != nil {
		fields := eventFields(event)
		fields["reason"] = reason
		s.logg.Warn(s.logg.WithFields(ctx, fields), "outbox event quarantined")
	}
	return nil
}

// Requeue moves a quarantined event back to the tail of the queue with a fresh
// seq and marks its record pending again.
func (s *Service) Requeue(ctx context.Context, eventID string) (*models.OutboxEvent, error) {
	var requeued *models.OutboxEvent
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		entry, err := s.dlq.FindByEventIDTx(tx, eventID)
		if err != nil {
			return err
		}
		if entry == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "dlq entry not found")
		}
		event := &models.OutboxEvent{
			ID:             entry.EventID,
			Collection:     entry.Collection,
			Action:         entry.Action,
			DocID:          entry.DocID,
			OrganizationID: entry.OrganizationID,
			Payload:        entry.Payload,
		}
		if err := s.repo.Enqueue(tx, event); err != nil {
			return err
		}
		if err := s.dlq.DeleteTx(tx, eventID); err != nil {
			return err
		}
		if err := s.states.SetSyncState(tx, entry.Collection, entry.DocID, enums.SyncStatePendingPush, nil); err != nil {
			return err
		}
		requeued = event
		return nil
	})
	if err != nil {
		return nil, err
	}
	if s.logg != nil {
		s.logg.Info(s.logg.WithFields(ctx, eventFields(*requeued)), "dlq event requeued")
	}
	return requeued, nil
}

// Discard drops a quarantined event. The record turns clean unless other
// events for it are still queued, so the next pull restores remote truth.
func (s *Service) Discard(ctx context.Context, eventID string) error {
	var discarded models.OutboxDLQ
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		entry, err := s.dlq.FindByEventIDTx(tx, eventID)
		if err != nil {
			return err
		}
		if entry == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "dlq entry not found")
		}
		if err := s.dlq.DeleteTx(tx, eventID); err != nil {
			return err
		}
		pending, err := s.repo.HasPendingForDoc(tx, entry.Collection, entry.DocID)
		if err != nil {
			return err
		}
		state := enums.SyncStateClean
		if pending {
			state = enums.SyncStatePendingPush
		}
		if err := s.states.SetSyncState(tx, entry.Collection, entry.DocID, state, nil); err != nil {
			return err
		}
		discarded = *entry
		return nil
	})
	if err != nil {
		return err
	}
	if s.logg != nil {
		fields := map[string]any{
			"event_id":   discarded.EventID,
			"collection": discarded.Collection,
			"doc_id":     discarded.DocID,
		}
		s.logg.Warn(s.logg.WithFields(ctx, fields), "dlq event discarded")
	}
	return nil
}

func eventFields(event models.OutboxEvent) map[string]any {
	return map[string]any{
		"event_id":        event.ID,
		"seq":             event.Seq,
		"collection":      event.Collection,
		"action":          event.Action,
		"doc_id":          event.DocID,
		"organization_id": event.OrganizationID,
	}
}

package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/eduflow-sync/internal/collections"
	"github.com/angelmondragon/eduflow-sync/internal/connectivity"
	"github.com/angelmondragon/eduflow-sync/internal/remote"
	"github.com/angelmondragon/eduflow-sync/pkg/db/models"
	dbtypes "github.com/angelmondragon/eduflow-sync/pkg/db/types"
	"github.com/angelmondragon/eduflow-sync/pkg/enums"
	"github.com/angelmondragon/eduflow-sync/pkg/logger"
	"github.com/angelmondragon/eduflow-sync/pkg/metrics"
	"github.com/angelmondragon/eduflow-sync/pkg/outbox"
)

const (
	defaultBatchSize     = 50
	defaultMaxAttempts   = 10
	defaultRemoteTimeout = 15 * time.Second

	// replayConsumer namespaces confirmed pushes in the idempotency store.
	replayConsumer = "outbox-push"

	metaLastSyncAt     = "last_sync_at"
	metaLastSyncResult = "last_sync_result"

	resultOK             = "ok"
	resultFailed         = "failed"
	resultSkippedBusy    = "skipped_busy"
	resultSkippedOffline = "skipped_offline"
	resultReplayed       = "replayed"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type localStore interface {
	SetSyncState(tx *gorm.DB, collection enums.Collection, id string, state enums.SyncState, lastErr *string) error
	ReplaceClean(ctx context.Context, collection enums.Collection, orgID string, docs []dbtypes.JSONDocument) (int, error)
	SetMeta(ctx context.Context, key, value string) error
}

type queue interface {
	ListPending(ctx context.Context, limit int) ([]models.OutboxEvent, error)
	Dequeue(tx *gorm.DB, id string) error
	MarkFailed(tx *gorm.DB, id string, cause error) (int, error)
	HasPendingForDoc(tx *gorm.DB, collection enums.Collection, docID string) (bool, error)
	CountPending(ctx context.Context) (int64, error)
}

type quarantiner interface {
	Quarantine(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error) error
}

type dlqCounter interface {
	Count(ctx context.Context) (int64, error)
}

// ReplayGuard remembers pushes the remote store already confirmed.
type ReplayGuard interface {
	IsProcessed(ctx context.Context, consumer, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, consumer, eventID string) error
}

type ManagerParams struct {
	DB      txRunner
	Local   localStore
	Outbox  *outbox.Service
	Remote  remote.Store
	Monitor connectivity.Monitor
	// Guard is optional; without redis every replay hits the remote store.
	Guard   ReplayGuard
	Metrics *metrics.SyncMetrics
	Logger  *logger.Logger

	BatchSize     int
	MaxAttempts   int
	RemoteTimeout time.Duration
}

// Manager replays the outbox and refreshes the cache. One pass runs at a time
// per process.
type Manager struct {
	db          txRunner
	local       localStore
	queue       queue
	quarantine  quarantiner
	dlq         dlqCounter
	remote      remote.Store
	monitor     connectivity.Monitor
	guard       ReplayGuard
	metrics     *metrics.SyncMetrics
	logg        *logger.Logger
	batchSize   int
	maxAttempts int
	timeout     time.Duration
	now         func() time.Time

	busy atomic.Bool

	mu        sync.Mutex
	last      *Report
	lastErr   error
	observers map[int]func(Status)
	nextObs   int
}

func NewManager(params ManagerParams) (*Manager, error) {
	switch {
	case params.DB == nil:
		return nil, errors.New("database is required")
	case params.Local == nil:
		return nil, errors.New("local store is required")
	case params.Outbox == nil:
		return nil, errors.New("outbox service is required")
	case params.Remote == nil:
		return nil, errors.New("remote store is required")
	case params.Monitor == nil:
		return nil, errors.New("connectivity monitor is required")
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	}

	m := &Manager{
		db:          params.DB,
		local:       params.Local,
		queue:       params.Outbox.Repository(),
		quarantine:  params.Outbox,
		dlq:         params.Outbox.DLQ(),
		remote:      params.Remote,
		monitor:     params.Monitor,
		guard:       params.Guard,
		metrics:     params.Metrics,
		logg:        params.Logger,
		batchSize:   params.BatchSize,
		maxAttempts: params.MaxAttempts,
		timeout:     params.RemoteTimeout,
		now:         func() time.Time { return time.Now().UTC() },
		observers:   map[int]func(Status){},
	}
	if m.batchSize <= 0 {
		m.batchSize = defaultBatchSize
	}
	if m.maxAttempts <= 0 {
		m.maxAttempts = defaultMaxAttempts
	}
	if m.timeout <= 0 {
		m.timeout = defaultRemoteTimeout
	}
	return m, nil
}

// SyncAll pushes every queued mutation in seq order, then refreshes the clean
// cache of orgID. Remote failures land in the report; the returned error is
// reserved for local store failures.
func (m *Manager) SyncAll(ctx context.Context, orgID string) (Report, error) {
	started := m.now()
	report := newReport(orgID, started)
	ctx = m.logg.WithOrganizationID(ctx, orgID)

	if !m.busy.CompareAndSwap(false, true) {
		report.Skipped = SkipBusy
		report.FinishedAt = m.now()
		m.metrics.ObserveRun(resultSkippedBusy, 0)
		m.logg.Info(ctx, "sync skipped: already running")
		return report, nil
	}
	if !m.monitor.Status().Connected {
		m.busy.Store(false)
		report.Skipped = SkipOffline
		report.FinishedAt = m.now()
		m.metrics.ObserveRun(resultSkippedOffline, 0)
		m.logg.Info(ctx, "sync skipped: offline")
		return report, nil
	}

	m.notify(ctx)
	defer func() {
		m.busy.Store(false)
		m.notify(ctx)
	}()

	m.logg.Info(ctx, "sync started")

	if err := m.push(ctx, &report); err != nil {
		return m.finish(ctx, report, err)
	}
	if err := m.pull(ctx, &report); err != nil {
		return m.finish(ctx, report, err)
	}
	return m.finish(ctx, report, nil)
}

func (m *Manager) finish(ctx context.Context, report Report, localErr error) (Report, error) {
	report.FinishedAt = m.now()
	result := report.result()
	if localErr != nil {
		result = resultFailed
	}
	m.metrics.ObserveRun(result, report.FinishedAt.Sub(report.StartedAt))
	if pending, err := m.queue.CountPending(ctx); err == nil {
		m.metrics.SetPending(pending)
	}

	if localErr == nil {
		stamp := report.FinishedAt.Format(time.RFC3339Nano)
		if err := m.local.SetMeta(ctx, metaKey(metaLastSyncAt, report.OrganizationID), stamp); err != nil {
			localErr = err
		} else if err := m.local.SetMeta(ctx, metaKey(metaLastSyncResult, report.OrganizationID), result); err != nil {
			localErr = err
		}
	}

	m.mu.Lock()
	last := report
	m.last = &last
	m.lastErr = localErr
	if localErr == nil {
		m.lastErr = report.Err()
	}
	m.mu.Unlock()

	fields := map[string]any{
		"result":      result,
		"pushed":      report.Pushed,
		"replayed":    report.Replayed,
		"quarantined": report.Quarantined,
		"duration_ms": report.FinishedAt.Sub(report.StartedAt).Milliseconds(),
	}
	logCtx := m.logg.WithFields(ctx, fields)
	switch {
	case localErr != nil:
		m.logg.Error(logCtx, "sync aborted by local store failure", localErr)
	case report.Failed():
		m.logg.Warn(m.logg.WithField(logCtx, "error", report.Err().Error()), "sync finished with failures")
	default:
		m.logg.Info(logCtx, "sync finished")
	}
	return report, localErr
}

// push drains the queue one event at a time and stops at the first failure.
func (m *Manager) push(ctx context.Context, report *Report) error {
	for {
		events, err := m.queue.ListPending(ctx, m.batchSize)
		if err != nil {
			return fmt.Errorf("list pending events: %w", err)
		}
		if len(events) == 0 {
			return nil
		}
		for _, event := range events {
			stop, err := m.replay(ctx, event, report)
			if err != nil {
				return err
			}
			if stop {
				return nil
			}
		}
	}
}

// replay pushes one event. It returns stop=true when the push phase must end.
func (m *Manager) replay(ctx context.Context, event models.OutboxEvent, report *Report) (bool, error) {
	logCtx := m.logg.WithFields(ctx, map[string]any{
		"event_id":   event.ID,
		"seq":        event.Seq,
		"collection": event.Collection,
		"action":     event.Action,
		"doc_id":     event.DocID,
	})

	replayed := m.alreadyPushed(logCtx, event)
	var pushErr error
	if !replayed {
		pushErr = m.send(ctx, event)
	}
	if pushErr == nil {
		if !replayed {
			m.markPushed(logCtx, event)
		}
		if err := m.db.WithTx(ctx, func(tx *gorm.DB) error {
			return m.confirm(tx, event)
		}); err != nil {
			return true, fmt.Errorf("confirm event %s: %w", event.ID, err)
		}
		if replayed {
			report.Replayed++
			m.metrics.IncPush(event.Collection.String(), string(event.Action), resultReplayed)
		} else {
			report.Pushed++
			m.metrics.IncPush(event.Collection.String(), string(event.Action), resultOK)
		}
		return false, nil
	}

	report.PushError = fmt.Errorf("push %s %s/%s: %w", event.Action, event.Collection, event.DocID, pushErr)
	m.metrics.IncPush(event.Collection.String(), string(event.Action), resultFailed)

	var reason enums.OutboxDLQErrorReason
	err := m.db.WithTx(ctx, func(tx *gorm.DB) error {
		attempts, err := m.queue.MarkFailed(tx, event.ID, pushErr)
		if err != nil {
			return err
		}
		event.AttemptCount = attempts
		switch {
		case remote.IsNonRetryable(pushErr):
			reason = enums.OutboxDLQReasonNonRetryable
		case attempts >= m.maxAttempts:
			reason = enums.OutboxDLQReasonMaxAttempts
		}
		if reason != "" {
			return m.quarantine.Quarantine(ctx, tx, event, reason, pushErr)
		}
		msg := pushErr.Error()
		return m.local.SetSyncState(tx, event.Collection, event.DocID, enums.SyncStatePushFailed, &msg)
	})
	if err != nil {
		return true, fmt.Errorf("record push failure for %s: %w", event.ID, err)
	}
	if reason != "" {
		report.Quarantined++
		m.metrics.IncQuarantined(string(reason))
	} else {
		m.logg.Warn(m.logg.WithFields(logCtx, map[string]any{
			"attempt_count": event.AttemptCount,
			"error":         pushErr.Error(),
		}), "outbox push failed")
	}
	return true, nil
}

// confirm dequeues a pushed event and cleans the record once nothing else is
// queued for it.
func (m *Manager) confirm(tx *gorm.DB, event models.OutboxEvent) error {
	if err := m.queue.Dequeue(tx, event.ID); err != nil {
		return err
	}
	pending, err := m.queue.HasPendingForDoc(tx, event.Collection, event.DocID)
	if err != nil {
		return err
	}
	if pending {
		return nil
	}
	return m.local.SetSyncState(tx, event.Collection, event.DocID, enums.SyncStateClean, nil)
}

// send maps the event onto the remote call. Timeouts are ordinary transient
// failures.
func (m *Manager) send(ctx context.Context, event models.OutboxEvent) error {
	def, ok := collections.Lookup(event.Collection)
	if !ok {
		return remote.NewNonRetryableError(fmt.Errorf("unknown collection %q", event.Collection))
	}

	var doc remote.Document
	if event.Action != enums.OutboxActionDelete {
		if err := json.Unmarshal(event.Payload, &doc); err != nil {
			return remote.NewNonRetryableError(fmt.Errorf("decode payload: %w", err))
		}
		if doc == nil {
			return remote.NewNonRetryableError(errors.New("empty payload"))
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	var err error
	switch event.Action {
	case enums.OutboxActionCreate:
		err = m.remote.Set(callCtx, def.Remote, event.OrganizationID, event.DocID, doc)
	case enums.OutboxActionUpdate:
		err = m.remote.Update(callCtx, def.Remote, event.OrganizationID, event.DocID, doc)
	case enums.OutboxActionDelete:
		err = m.remote.Delete(callCtx, def.Remote, event.OrganizationID, event.DocID)
	default:
		return remote.NewNonRetryableError(fmt.Errorf("unsupported action %q", event.Action))
	}
	if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("remote timeout after %s: %w", m.timeout, err)
	}
	return err
}

func (m *Manager) alreadyPushed(ctx context.Context, event models.OutboxEvent) bool {
	if m.guard == nil {
		return false
	}
	done, err := m.guard.IsProcessed(ctx, replayConsumer, event.ID)
	if err != nil {
		m.logg.Warn(m.logg.WithField(ctx, "error", err.Error()), "replay guard lookup failed")
		return false
	}
	return done
}

func (m *Manager) markPushed(ctx context.Context, event models.OutboxEvent) {
	if m.guard == nil {
		return
	}
	if err := m.guard.MarkProcessed(ctx, replayConsumer, event.ID); err != nil {
		m.logg.Warn(m.logg.WithField(ctx, "error", err.Error()), "replay guard write failed")
	}
}

// pull refreshes every pull source. Remote failures are per collection; local
// failures abort.
func (m *Manager) pull(ctx context.Context, report *Report) error {
	for _, source := range collections.PullSources() {
		docs, err := m.query(ctx, source.Remote, report.OrganizationID)
		if err != nil {
			for _, target := range source.Targets {
				report.PullErrors[target] = fmt.Errorf("pull %s: %w", target, err)
			}
			m.logg.Warn(m.logg.WithFields(ctx, map[string]any{
				"remote_collection": source.Remote,
				"error":             err.Error(),
			}), "pull failed")
			continue
		}

		buckets := make(map[enums.Collection][]dbtypes.JSONDocument, len(source.Targets))
		for _, doc := range docs {
			if target, ok := collections.Route(source, doc); ok {
				buckets[target] = append(buckets[target], doc)
			}
		}
		for _, target := range source.Targets {
			written, err := m.local.ReplaceClean(ctx, target, report.OrganizationID, buckets[target])
			if err != nil {
				return fmt.Errorf("refresh %s: %w", target, err)
			}
			report.Pulled[target] = written
			m.metrics.AddPulled(target.String(), written)
		}
	}
	return nil
}

func (m *Manager) query(ctx context.Context, collection, orgID string) ([]remote.Document, error) {
	callCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	return m.remote.Query(callCtx, collection, orgID)
}

func metaKey(name, orgID string) string {
	return name + ":" + orgID
}

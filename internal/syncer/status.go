package syncer

import (
	"context"
	"sort"
	"time"

	"github.com/angelmondragon/eduflow-sync/internal/connectivity"
)

// State is the coarse sync state shown to users.
type State string

const (
	StateIdle    State = "idle"
	StateSyncing State = "syncing"
	StateFailed  State = "failed"
	StateOffline State = "offline"
)

type Status struct {
	State          State      `json:"state"`
	Connected      bool       `json:"connected"`
	LastReport     *Report    `json:"lastReport,omitempty"`
	LastError      string     `json:"lastError,omitempty"`
	LastFinishedAt *time.Time `json:"lastFinishedAt,omitempty"`
	Pending        int64      `json:"pending"`
	Quarantined    int64      `json:"quarantined"`
}

// Status snapshots the manager. Queue counts are best effort; a failing local
// store leaves them at zero.
func (m *Manager) Status(ctx context.Context) Status {
	m.mu.Lock()
	var last *Report
	if m.last != nil {
		copied := *m.last
		last = &copied
	}
	lastErr := m.lastErr
	m.mu.Unlock()

	st := Status{
		Connected:  m.monitor.Status().Connected,
		LastReport: last,
	}
	if lastErr != nil {
		st.LastError = lastErr.Error()
	}
	if last != nil {
		finished := last.FinishedAt
		st.LastFinishedAt = &finished
	}
	if n, err := m.queue.CountPending(ctx); err == nil {
		st.Pending = n
	}
	if n, err := m.dlq.Count(ctx); err == nil {
		st.Quarantined = n
	}

	switch {
	case m.busy.Load():
		st.State = StateSyncing
	case !st.Connected:
		st.State = StateOffline
	case lastErr != nil || st.Quarantined > 0:
		st.State = StateFailed
	default:
		st.State = StateIdle
	}
	return st
}

// Observe registers fn for status changes and returns the unsubscribe func.
func (m *Manager) Observe(fn func(Status)) func() {
	m.mu.Lock()
	id := m.nextObs
	m.nextObs++
	m.observers[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.observers, id)
		m.mu.Unlock()
	}
}

func (m *Manager) notify(ctx context.Context) {
	m.mu.Lock()
	if len(m.observers) == 0 {
		m.mu.Unlock()
		return
	}
	ids := make([]int, 0, len(m.observers))
	for id := range m.observers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(Status), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, m.observers[id])
	}
	m.mu.Unlock()

	st := m.Status(ctx)
	for _, fn := range fns {
		fn(st)
	}
}

// Run syncs every organization whenever connectivity comes back, until ctx is
// done. Periodic passes belong to the cron worker.
func (m *Manager) Run(ctx context.Context, orgIDs []string) error {
	trigger := make(chan struct{}, 1)
	unsubscribe := m.monitor.Subscribe(func(s connectivity.Status) {
		if !s.Connected {
			m.notify(ctx)
			return
		}
		select {
		case trigger <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-trigger:
			m.logg.Info(ctx, "connectivity restored, syncing")
			m.SyncOrganizations(ctx, orgIDs)
		}
	}
}

// SyncOrganizations runs SyncAll for each organization in turn, logging local
// failures instead of stopping.
func (m *Manager) SyncOrganizations(ctx context.Context, orgIDs []string) []Report {
	reports := make([]Report, 0, len(orgIDs))
	for _, orgID := range orgIDs {
		if ctx.Err() != nil {
			break
		}
		report, err := m.SyncAll(ctx, orgID)
		if err != nil {
			m.logg.Error(m.logg.WithOrganizationID(ctx, orgID), "sync failed", err)
		}
		reports = append(reports, report)
	}
	return reports
}

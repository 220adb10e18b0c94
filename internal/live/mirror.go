package live

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/angelmondragon/eduflow-sync/internal/changefeed"
	"github.com/angelmondragon/eduflow-sync/internal/collections"
	dbtypes "github.com/angelmondragon/eduflow-sync/pkg/db/types"
	"github.com/angelmondragon/eduflow-sync/pkg/enums"
	"github.com/angelmondragon/eduflow-sync/pkg/logger"
)

const mirrorConsumer = "live-mirror"

type applier interface {
	ApplyRemote(ctx context.Context, collection enums.Collection, orgID string, doc dbtypes.JSONDocument, deleted bool) (bool, error)
}

type deduper interface {
	CheckAndMarkProcessed(ctx context.Context, consumer, eventID string) (bool, error)
	Delete(ctx context.Context, consumer, eventID string) error
}

type MirrorParams struct {
	Store      applier
	Subscriber changefeed.Subscriber
	// Idempotency is optional; without it redelivered changes are applied
	// again, which is harmless.
	Idempotency deduper
	// Organizations limits mirroring to these tenants. Empty mirrors all.
	Organizations []string
	Logger        *logger.Logger
}

type watchKey struct {
	collection enums.Collection
	orgID      string
}

// Mirror applies remote change notifications to the local store and wakes
// watchers of the affected collection. Dirty local rows are never overwritten.
type Mirror struct {
	store applier
	sub   changefeed.Subscriber
	idem  deduper
	orgs  map[string]struct{}
	logg  *logger.Logger

	mu       sync.Mutex
	nextID   int
	watchers map[watchKey]map[int]func()
}

func NewMirror(params MirrorParams) (*Mirror, error) {
	if params.Store == nil {
		return nil, errors.New("local store required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	m := &Mirror{
		store:    params.Store,
		sub:      params.Subscriber,
		idem:     params.Idempotency,
		logg:     params.Logger,
		watchers: map[watchKey]map[int]func(){},
	}
	if len(params.Organizations) > 0 {
		m.orgs = make(map[string]struct{}, len(params.Organizations))
		for _, org := range params.Organizations {
			m.orgs[org] = struct{}{}
		}
	}
	return m, nil
}

// Run consumes the change feed until ctx is done.
func (m *Mirror) Run(ctx context.Context) error {
	if m.sub == nil {
		return errors.New("change feed subscriber not configured")
	}
	m.logg.Info(ctx, "live mirror started")
	return m.sub.Receive(ctx, m.Handle)
}

// Handle applies one change. A returned error asks for redelivery.
func (m *Mirror) Handle(ctx context.Context, env changefeed.ChangeEnvelope) error {
	source, ok := collections.SourceFor(env.Collection)
	if !ok {
		m.logg.Info(ctx, "ignoring change for unmirrored collection")
		return nil
	}
	if m.orgs != nil {
		if _, ok := m.orgs[env.OrganizationID]; !ok {
			return nil
		}
	}
	doc, err := env.Document()
	if err != nil {
		m.logg.Error(ctx, "dropping change with undecodable data", err)
		return nil
	}
	doc[collections.FieldID] = env.DocID

	if m.idem != nil {
		already, err := m.idem.CheckAndMarkProcessed(ctx, mirrorConsumer, env.EventID)
		if err != nil {
			return fmt.Errorf("idempotency check: %w", err)
		}
		if already {
			m.logg.Info(ctx, "change already applied")
			return nil
		}
	}

	touched, err := m.apply(ctx, source, env, dbtypes.JSONDocument(doc))
	if err != nil {
		if m.idem != nil {
			_ = m.idem.Delete(ctx, mirrorConsumer, env.EventID)
		}
		return err
	}
	for _, target := range touched {
		m.Notify(target, env.OrganizationID)
	}
	return nil
}

// apply returns the local collections that changed. Deletes carry no role, so
// every target of the source is tried; ids are unique across them.
func (m *Mirror) apply(ctx context.Context, source collections.PullSource, env changefeed.ChangeEnvelope, doc dbtypes.JSONDocument) ([]enums.Collection, error) {
	targets := source.Targets
	if !env.Deleted() {
		target, ok := collections.Route(source, doc)
		if !ok {
			return nil, nil
		}
		targets = []enums.Collection{target}
	}

	var touched []enums.Collection
	for _, target := range targets {
		applied, err := m.store.ApplyRemote(ctx, target, env.OrganizationID, doc, env.Deleted())
		if err != nil {
			return nil, fmt.Errorf("apply %s change: %w", target, err)
		}
		if applied {
			touched = append(touched, target)
		} else if !env.Deleted() {
			m.logg.Info(m.logg.WithField(ctx, "doc_id", env.DocID), "remote change skipped: local edits pending")
		}
	}
	return touched, nil
}

// Watch registers fn for changes to collection within orgID.
func (m *Mirror) Watch(collection enums.Collection, orgID string, fn func()) func() {
	key := watchKey{collection: collection, orgID: orgID}
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	if m.watchers[key] == nil {
		m.watchers[key] = map[int]func(){}
	}
	m.watchers[key][id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.watchers[key], id)
			if len(m.watchers[key]) == 0 {
				delete(m.watchers, key)
			}
			m.mu.Unlock()
		})
	}
}

// Notify wakes every watcher of collection within orgID.
func (m *Mirror) Notify(collection enums.Collection, orgID string) {
	key := watchKey{collection: collection, orgID: orgID}
	m.mu.Lock()
	fns := make([]func(), 0, len(m.watchers[key]))
	for _, fn := range m.watchers[key] {
		fns = append(fns, fn)
	}
	m.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Watchers counts registered watchers across all keys.
func (m *Mirror) Watchers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, set := range m.watchers {
		n += len(set)
	}
	return n
}

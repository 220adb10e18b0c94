package repository

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/eduflow-sync/internal/collections"
	"github.com/angelmondragon/eduflow-sync/internal/localstore"
	"github.com/angelmondragon/eduflow-sync/pkg/config"
	"github.com/angelmondragon/eduflow-sync/pkg/db"
	"github.com/angelmondragon/eduflow-sync/pkg/db/models"
	"github.com/angelmondragon/eduflow-sync/pkg/enums"
	pkgerrors "github.com/angelmondragon/eduflow-sync/pkg/errors"
	"github.com/angelmondragon/eduflow-sync/pkg/logger"
	"github.com/angelmondragon/eduflow-sync/pkg/migrate"
	"github.com/angelmondragon/eduflow-sync/pkg/outbox"
)

type fixture struct {
	client  *db.Client
	store   *localstore.Store
	outbox  *outbox.Service
	watcher *fakeWatcher
	repos   *Registry
}

func setupFacadeTest(t *testing.T) fixture {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	logg := logger.New(logger.Options{ServiceName: "repository-test", Output: io.Discard})
	client := db.NewFromDB(conn, config.DriverSQLite)
	require.NoError(t, migrate.EnsureLocal(context.Background(), logg, client))

	store := localstore.New(conn)
	svc, err := outbox.NewService(outbox.ServiceParams{
		Repo:   outbox.NewRepository(conn),
		DLQ:    outbox.NewDLQRepository(conn),
		States: store,
		DB:     client,
		Logger: logg,
	})
	require.NoError(t, err)

	watcher := newFakeWatcher()
	repos, err := NewRegistry(Params{DB: client, Store: store, Outbox: svc, Watcher: watcher})
	require.NoError(t, err)
	return fixture{client: client, store: store, outbox: svc, watcher: watcher, repos: repos}
}

func (f fixture) events(t *testing.T) []models.OutboxEvent {
	t.Helper()
	events, err := f.outbox.Repository().ListPending(context.Background(), 100)
	require.NoError(t, err)
	return events
}

type fakeWatcher struct {
	mu       sync.Mutex
	notified []string
	watchers map[string][]func()
}

func newFakeWatcher() *fakeWatcher {
	return &fakeWatcher{watchers: map[string][]func(){}}
}

func (w *fakeWatcher) Watch(c enums.Collection, orgID string, fn func()) func() {
	w.mu.Lock()
	defer w.mu.Unlock()
	key := c.String() + "/" + orgID
	w.watchers[key] = append(w.watchers[key], fn)
	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		delete(w.watchers, key)
	}
}

func (w *fakeWatcher) Notify(c enums.Collection, orgID string) {
	key := c.String() + "/" + orgID
	w.mu.Lock()
	w.notified = append(w.notified, key)
	fns := append([]func(){}, w.watchers[key]...)
	w.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (w *fakeWatcher) count(key string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, k := range w.notified {
		if k == key {
			n++
		}
	}
	return n
}

func (w *fakeWatcher) watching(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.watchers[key]) > 0
}

func TestAddStoresPendingRecordAndQueuesCreate(t *testing.T) {
	f := setupFacadeTest(t)
	ctx := context.Background()

	rec, err := f.repos.Must(enums.CollectionStudents).Add(ctx, "org-1", map[string]any{
		"firstName": "Ana",
		"lastName":  "Doe",
		"email":     "ana@example.com",
	})
	require.NoError(t, err)
	require.NotEmpty(t, rec.ID)
	assert.Equal(t, enums.SyncStatePendingPush, rec.SyncState)
	assert.Equal(t, "STUDENT", rec.Data.String(collections.FieldRole))
	assert.Equal(t, "org-1", rec.Data.String(collections.FieldOrganizationID))

	stored, err := f.store.GetByID(ctx, enums.CollectionStudents, rec.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "ana@example.com", *stored.Email)

	events := f.events(t)
	require.Len(t, events, 1)
	assert.Equal(t, enums.OutboxActionCreate, events[0].Action)
	assert.Equal(t, rec.ID, events[0].DocID)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(events[0].Payload, &payload))
	assert.Equal(t, rec.ID, payload["id"])
	assert.Equal(t, "Ana", payload["firstName"])

	assert.Equal(t, 1, f.watcher.count("students/org-1"))
}

func TestAddRejectsInvalidDocumentWithoutSideEffects(t *testing.T) {
	f := setupFacadeTest(t)
	ctx := context.Background()

	_, err := f.repos.Must(enums.CollectionStudents).Add(ctx, "org-1", map[string]any{"firstName": "Ana"})
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))

	_, err = f.repos.Must(enums.CollectionGroups).Add(ctx, "", map[string]any{"name": "5A"})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))

	assert.Empty(t, f.events(t))
	assert.Zero(t, f.watcher.count("students/org-1"))
}

func TestUpdateMergesAndQueuesFullDocument(t *testing.T) {
	f := setupFacadeTest(t)
	ctx := context.Background()
	facade := f.repos.Must(enums.CollectionGroups)

	_, err := facade.Add(ctx, "org-1", map[string]any{"id": "g-1", "name": "5A", "shift": "morning"})
	require.NoError(t, err)

	rec, err := facade.Update(ctx, "org-1", "g-1", map[string]any{"name": "5B"})
	require.NoError(t, err)
	assert.Equal(t, "5B", rec.Data.String("name"))
	assert.Equal(t, "morning", rec.Data.String("shift"))

	events := f.events(t)
	require.Len(t, events, 2)
	assert.Equal(t, enums.OutboxActionUpdate, events[1].Action)
	assert.Less(t, events[0].Seq, events[1].Seq)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(events[1].Payload, &payload))
	assert.Equal(t, "morning", payload["shift"])
	assert.Equal(t, "g-1", payload["id"])
}

func TestUpdateAndGetHideOtherOrganizations(t *testing.T) {
	f := setupFacadeTest(t)
	ctx := context.Background()
	facade := f.repos.Must(enums.CollectionCourses)

	_, err := facade.Add(ctx, "org-1", map[string]any{"id": "c-1", "name": "Math"})
	require.NoError(t, err)

	_, err = facade.Get(ctx, "org-2", "c-1")
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))
	_, err = facade.Update(ctx, "org-2", "c-1", map[string]any{"name": "Art"})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))
	err = facade.Delete(ctx, "org-2", "c-1")
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))

	all, err := facade.GetAll(ctx, "org-2")
	require.NoError(t, err)
	assert.Empty(t, all)
	assert.Len(t, f.events(t), 1)
}

func TestAddRejectsIDOwnedByAnotherOrganization(t *testing.T) {
	f := setupFacadeTest(t)
	ctx := context.Background()
	facade := f.repos.Must(enums.CollectionCourses)

	_, err := facade.Add(ctx, "org-1", map[string]any{"id": "c-1", "name": "Math"})
	require.NoError(t, err)

	_, err = facade.Add(ctx, "org-2", map[string]any{"id": "c-1", "name": "Art"})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeConflict))

	rec, err := facade.Get(ctx, "org-1", "c-1")
	require.NoError(t, err)
	assert.Equal(t, "Math", rec.Data.String("name"))
	assert.Len(t, f.events(t), 1)
}

func TestDeleteRemovesRecordAndQueuesDelete(t *testing.T) {
	f := setupFacadeTest(t)
	ctx := context.Background()
	facade := f.repos.Must(enums.CollectionCourses)

	_, err := facade.Add(ctx, "org-1", map[string]any{"id": "c-1", "name": "Math"})
	require.NoError(t, err)
	require.NoError(t, facade.Delete(ctx, "org-1", "c-1"))

	rec, err := f.store.GetByID(ctx, enums.CollectionCourses, "c-1")
	require.NoError(t, err)
	assert.Nil(t, rec)

	events := f.events(t)
	require.Len(t, events, 2)
	assert.Equal(t, enums.OutboxActionDelete, events[1].Action)
	assert.JSONEq(t, `{"id":"c-1"}`, string(events[1].Payload))

	// An absent record still queues the delete for the remote copy.
	require.NoError(t, facade.Delete(ctx, "org-1", "c-404"))
	assert.Len(t, f.events(t), 3)
}

type failingEnqueuer struct{}

func (failingEnqueuer) Enqueue(context.Context, *gorm.DB, outbox.Mutation) (*models.OutboxEvent, error) {
	return nil, errors.New("outbox unavailable")
}

func TestWriteIsAtomicWithOutbox(t *testing.T) {
	f := setupFacadeTest(t)
	ctx := context.Background()

	facade := &Facade{
		def:    collections.MustLookup(enums.CollectionGroups),
		db:     f.client,
		store:  f.store,
		outbox: failingEnqueuer{},
		newID:  func() string { return "g-1" },
	}
	_, err := facade.Add(ctx, "org-1", map[string]any{"name": "5A"})
	require.Error(t, err)

	rec, err := f.store.GetByID(ctx, enums.CollectionGroups, "g-1")
	require.NoError(t, err)
	assert.Nil(t, rec, "record must roll back with the failed enqueue")
}

func TestRegistryFor(t *testing.T) {
	f := setupFacadeTest(t)

	facade, err := f.repos.For("grades")
	require.NoError(t, err)
	assert.Equal(t, enums.CollectionGrades, facade.def.Name)

	_, err = f.repos.For("invoices")
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))

	_, err = NewRegistry(Params{})
	assert.Error(t, err)
}

func TestWatchEmitsInitialAndChangedLists(t *testing.T) {
	f := setupFacadeTest(t)
	facade := f.repos.Must(enums.CollectionGroups)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates := make(chan []models.Record, 4)
	done := make(chan error, 1)
	go func() {
		done <- facade.Watch(ctx, "org-1", func(records []models.Record) { updates <- records })
	}()

	select {
	case initial := <-updates:
		assert.Empty(t, initial)
	case <-time.After(2 * time.Second):
		t.Fatal("no initial emission")
	}
	require.Eventually(t, func() bool { return f.watcher.watching("groups/org-1") }, 2*time.Second, 5*time.Millisecond)

	_, err := facade.Add(context.Background(), "org-1", map[string]any{"id": "g-1", "name": "5A"})
	require.NoError(t, err)

	select {
	case changed := <-updates:
		require.Len(t, changed, 1)
		assert.Equal(t, "g-1", changed[0].ID)
	case <-time.After(2 * time.Second):
		t.Fatal("no emission after write")
	}

	cancel()
	require.NoError(t, <-done)
	assert.False(t, f.watcher.watching("groups/org-1"))
}

func TestWatchRequiresWatcher(t *testing.T) {
	facade := &Facade{def: collections.MustLookup(enums.CollectionGroups)}
	err := facade.Watch(context.Background(), "org-1", func([]models.Record) {})
	assert.Error(t, err)
}

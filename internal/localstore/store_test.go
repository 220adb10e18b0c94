package localstore

import (
	"bytes"
	"context"
	"io"
	"log"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/eduflow-sync/pkg/config"
	"github.com/angelmondragon/eduflow-sync/pkg/db"
	"github.com/angelmondragon/eduflow-sync/pkg/db/models"
	dbtypes "github.com/angelmondragon/eduflow-sync/pkg/db/types"
	"github.com/angelmondragon/eduflow-sync/pkg/enums"
	pkgerrors "github.com/angelmondragon/eduflow-sync/pkg/errors"
	"github.com/angelmondragon/eduflow-sync/pkg/logger"
	"github.com/angelmondragon/eduflow-sync/pkg/migrate"
)

func openTestDB(t *testing.T, migrated bool) *db.Client {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{SkipDefaultTransaction: true})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	client := db.NewFromDB(conn, config.DriverSQLite)
	if migrated {
		logg := logger.New(logger.Options{ServiceName: "localstore-test", Output: io.Discard})
		if err := migrate.EnsureLocal(context.Background(), logg, client); err != nil {
			t.Fatalf("migrate: %v", err)
		}
	}
	return client
}

func newTestStore(t *testing.T) (*Store, *db.Client) {
	t.Helper()
	client := openTestDB(t, true)
	return New(client.DB()), client
}

func student(id, org, first string) dbtypes.JSONDocument {
	return dbtypes.JSONDocument{"id": id, "organizationId": org, "firstName": first, "lastName": "Doe", "role": "STUDENT"}
}

func putStudent(t *testing.T, s *Store, id, org, first string, state enums.SyncState) {
	t.Helper()
	rec, err := NewRecord(enums.CollectionStudents, org, student(id, org, first), state)
	if err != nil {
		t.Fatalf("NewRecord: %v", err)
	}
	if err := s.Put(context.Background(), nil, enums.CollectionStudents, &rec); err != nil {
		t.Fatalf("Put: %v", err)
	}
}

func TestPutIsIdempotentAndIndexesColumns(t *testing.T) {
	s, _ := newTestStore(t)
	putStudent(t, s, "s-1", "org-a", "Ana", enums.SyncStatePendingPush)
	putStudent(t, s, "s-1", "org-a", "Anna", enums.SyncStatePendingPush)

	rows, err := s.GetAll(context.Background(), enums.CollectionStudents)
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected a single row after replacing, got %d", len(rows))
	}
	got := rows[0]
	if got.FirstName == nil || *got.FirstName != "Anna" || got.Data.String("firstName") != "Anna" {
		t.Fatalf("expected replaced document, got %+v", got)
	}
	if got.SyncState != enums.SyncStatePendingPush || !got.IsDirty() {
		t.Fatalf("expected pending_push, got %s", got.SyncState)
	}
	if got.UpdatedAt.IsZero() {
		t.Fatal("expected updated_at to be stamped")
	}
}

func TestGetByIDMissingIsNotAnError(t *testing.T) {
	s, _ := newTestStore(t)
	rec, err := s.GetByID(context.Background(), enums.CollectionGroups, "nope")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if rec != nil {
		t.Fatalf("expected nil record, got %+v", rec)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	s, _ := newTestStore(t)
	putStudent(t, s, "s-1", "org-a", "Ana", enums.SyncStateClean)

	for i := 0; i < 2; i++ {
		if err := s.Delete(context.Background(), nil, enums.CollectionStudents, "s-1"); err != nil {
			t.Fatalf("Delete #%d: %v", i, err)
		}
	}
	if rec, _ := s.GetByID(context.Background(), enums.CollectionStudents, "s-1"); rec != nil {
		t.Fatal("expected record to be gone")
	}
}

func TestListScopesByOrganization(t *testing.T) {
	s, _ := newTestStore(t)
	putStudent(t, s, "s-1", "org-a", "Ana", enums.SyncStateClean)
	putStudent(t, s, "s-2", "org-b", "Ben", enums.SyncStateClean)

	rows, err := s.List(context.Background(), enums.CollectionStudents, "org-b")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(rows) != 1 || rows[0].ID != "s-2" {
		t.Fatalf("expected only org-b rows, got %+v", rows)
	}
}

func TestReplaceCleanKeepsDirtyRows(t *testing.T) {
	s, _ := newTestStore(t)
	putStudent(t, s, "s-clean", "org-a", "Old", enums.SyncStateClean)
	putStudent(t, s, "s-dirty", "org-a", "Local", enums.SyncStatePendingPush)
	putStudent(t, s, "s-failed", "org-a", "Failed", enums.SyncStatePushFailed)
	putStudent(t, s, "s-other", "org-b", "Other", enums.SyncStateClean)

	snapshot := []dbtypes.JSONDocument{
		student("s-dirty", "org-a", "Remote"),
		student("s-failed", "org-a", "Remote"),
		student("s-new", "org-a", "New"),
		{"firstName": "no id"},
	}
	written, err := s.ReplaceClean(context.Background(), enums.CollectionStudents, "org-a", snapshot)
	if err != nil {
		t.Fatalf("ReplaceClean: %v", err)
	}
	if written != 1 {
		t.Fatalf("expected only s-new written, got %d", written)
	}

	ctx := context.Background()
	if rec, _ := s.GetByID(ctx, enums.CollectionStudents, "s-clean"); rec != nil {
		t.Fatal("clean row missing from the snapshot must be removed")
	}
	for id, first := range map[string]string{"s-dirty": "Local", "s-failed": "Failed"} {
		rec, err := s.GetByID(ctx, enums.CollectionStudents, id)
		if err != nil || rec == nil {
			t.Fatalf("dirty row %s lost: %v", id, err)
		}
		if rec.Data.String("firstName") != first || !rec.IsDirty() {
			t.Fatalf("dirty row %s overwritten: %+v", id, rec)
		}
	}
	rec, _ := s.GetByID(ctx, enums.CollectionStudents, "s-new")
	if rec == nil || rec.SyncState != enums.SyncStateClean {
		t.Fatalf("expected s-new inserted clean, got %+v", rec)
	}
	if other, _ := s.GetByID(ctx, enums.CollectionStudents, "s-other"); other == nil {
		t.Fatal("other organization must not be touched")
	}
}

func queueDelete(t *testing.T, client *db.Client, collection enums.Collection, id string) {
	t.Helper()
	event := models.OutboxEvent{
		ID:             "evt-" + id,
		Collection:     collection,
		Action:         enums.OutboxActionDelete,
		DocID:          id,
		OrganizationID: "org-a",
		Payload:        []byte(`{"id":"` + id + `"}`),
		Status:         enums.OutboxStatusPending,
	}
	if err := client.DB().Create(&event).Error; err != nil {
		t.Fatalf("queue delete: %v", err)
	}
}

func quarantineDelete(t *testing.T, client *db.Client, collection enums.Collection, id string) {
	t.Helper()
	entry := models.OutboxDLQ{
		ID:             "dlq-" + id,
		EventID:        "evt-" + id,
		Seq:            1,
		Collection:     collection,
		Action:         enums.OutboxActionDelete,
		DocID:          id,
		OrganizationID: "org-a",
		Payload:        []byte(`{"id":"` + id + `"}`),
		ErrorReason:    enums.OutboxDLQReasonMaxAttempts,
		FailedAt:       time.Now().UTC(),
	}
	if err := client.DB().Create(&entry).Error; err != nil {
		t.Fatalf("quarantine delete: %v", err)
	}
}

func TestReplaceCleanSkipsDocumentsWithQueuedMutations(t *testing.T) {
	s, client := newTestStore(t)
	ctx := context.Background()
	queueDelete(t, client, enums.CollectionStudents, "s-queued")
	quarantineDelete(t, client, enums.CollectionStudents, "s-quarantined")

	snapshot := []dbtypes.JSONDocument{
		student("s-queued", "org-a", "Back"),
		student("s-quarantined", "org-a", "Back"),
		student("s-1", "org-a", "Ana"),
	}
	written, err := s.ReplaceClean(ctx, enums.CollectionStudents, "org-a", snapshot)
	if err != nil {
		t.Fatalf("ReplaceClean: %v", err)
	}
	if written != 1 {
		t.Fatalf("expected only s-1 written, got %d", written)
	}
	for _, id := range []string{"s-queued", "s-quarantined"} {
		if rec, _ := s.GetByID(ctx, enums.CollectionStudents, id); rec != nil {
			t.Fatalf("pull restored %s while its delete is unresolved: %+v", id, rec)
		}
	}

	// Another collection with the same id is not affected.
	written, err = s.ReplaceClean(ctx, enums.CollectionTeachers, "org-a", []dbtypes.JSONDocument{student("s-queued", "org-a", "T")})
	if err != nil || written != 1 {
		t.Fatalf("expected teacher written, written=%d err=%v", written, err)
	}
}

func TestApplyRemoteSkipsDocumentsWithQueuedMutations(t *testing.T) {
	s, client := newTestStore(t)
	ctx := context.Background()
	queueDelete(t, client, enums.CollectionStudents, "s-queued")

	applied, err := s.ApplyRemote(ctx, enums.CollectionStudents, "org-a", student("s-queued", "org-a", "Back"), false)
	if err != nil || applied {
		t.Fatalf("expected change skipped, applied=%v err=%v", applied, err)
	}
	if rec, _ := s.GetByID(ctx, enums.CollectionStudents, "s-queued"); rec != nil {
		t.Fatalf("live change restored a locally deleted record: %+v", rec)
	}
}

func TestReplaceCleanEmptySnapshotClearsCleanRows(t *testing.T) {
	s, _ := newTestStore(t)
	putStudent(t, s, "s-1", "org-a", "Ana", enums.SyncStateClean)
	putStudent(t, s, "s-2", "org-a", "Ben", enums.SyncStatePendingPush)

	if _, err := s.ReplaceClean(context.Background(), enums.CollectionStudents, "org-a", nil); err != nil {
		t.Fatalf("ReplaceClean: %v", err)
	}
	rows, _ := s.List(context.Background(), enums.CollectionStudents, "org-a")
	if len(rows) != 1 || rows[0].ID != "s-2" {
		t.Fatalf("expected only the dirty row to survive, got %+v", rows)
	}
}

func TestSetSyncState(t *testing.T) {
	s, _ := newTestStore(t)
	putStudent(t, s, "s-1", "org-a", "Ana", enums.SyncStatePendingPush)
	ctx := context.Background()

	msg := "remote timeout"
	if err := s.SetSyncState(nil, enums.CollectionStudents, "s-1", enums.SyncStatePushFailed, &msg); err != nil {
		t.Fatalf("SetSyncState: %v", err)
	}
	rec, _ := s.GetByID(ctx, enums.CollectionStudents, "s-1")
	if rec.SyncState != enums.SyncStatePushFailed || rec.LastSyncError == nil || *rec.LastSyncError != msg {
		t.Fatalf("unexpected failed record %+v", rec)
	}

	if err := s.SetSyncState(nil, enums.CollectionStudents, "s-1", enums.SyncStateClean, &msg); err != nil {
		t.Fatalf("SetSyncState: %v", err)
	}
	rec, _ = s.GetByID(ctx, enums.CollectionStudents, "s-1")
	if rec.SyncState != enums.SyncStateClean || rec.LastSyncError != nil {
		t.Fatalf("clean records carry no error, got %+v", rec)
	}

	if err := s.SetSyncState(nil, enums.CollectionStudents, "missing", enums.SyncStateClean, nil); err != nil {
		t.Fatalf("missing record should be ignored, got %v", err)
	}
	if err := s.SetSyncState(nil, enums.CollectionStudents, "s-1", "bogus", nil); err == nil {
		t.Fatal("expected invalid state error")
	}
}

func TestApplyRemoteSkipsDirtyRows(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	putStudent(t, s, "s-dirty", "org-a", "Local", enums.SyncStatePendingPush)
	putStudent(t, s, "s-clean", "org-a", "Old", enums.SyncStateClean)

	applied, err := s.ApplyRemote(ctx, enums.CollectionStudents, "org-a", student("s-dirty", "org-a", "Remote"), false)
	if err != nil || applied {
		t.Fatalf("expected dirty row skipped, applied=%v err=%v", applied, err)
	}
	applied, err = s.ApplyRemote(ctx, enums.CollectionStudents, "org-a", student("s-dirty", "org-a", ""), true)
	if err != nil || applied {
		t.Fatalf("expected dirty row not deleted, applied=%v err=%v", applied, err)
	}

	applied, err = s.ApplyRemote(ctx, enums.CollectionStudents, "org-a", student("s-clean", "org-a", "New"), false)
	if err != nil || !applied {
		t.Fatalf("expected clean row updated, applied=%v err=%v", applied, err)
	}
	rec, _ := s.GetByID(ctx, enums.CollectionStudents, "s-clean")
	if rec.Data.String("firstName") != "New" {
		t.Fatalf("expected remote value applied, got %+v", rec)
	}

	applied, err = s.ApplyRemote(ctx, enums.CollectionStudents, "org-a", dbtypes.JSONDocument{"id": "s-clean"}, true)
	if err != nil || !applied {
		t.Fatalf("expected clean row deleted, applied=%v err=%v", applied, err)
	}
	if rec, _ := s.GetByID(ctx, enums.CollectionStudents, "s-clean"); rec != nil {
		t.Fatal("expected clean row removed")
	}

	applied, err = s.ApplyRemote(ctx, enums.CollectionStudents, "org-a", dbtypes.JSONDocument{"id": "ghost"}, true)
	if err != nil || applied {
		t.Fatalf("deleting an absent row is a no-op, applied=%v err=%v", applied, err)
	}
}

func TestMetadataRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if _, ok, err := s.GetMeta(ctx, "last_sync_at:org-a"); err != nil || ok {
		t.Fatalf("expected unset key, ok=%v err=%v", ok, err)
	}
	if err := s.SetMeta(ctx, "last_sync_at:org-a", "2026-01-01T00:00:00Z"); err != nil {
		t.Fatalf("SetMeta: %v", err)
	}
	if err := s.SetMeta(ctx, "last_sync_at:org-a", "2026-01-02T00:00:00Z"); err != nil {
		t.Fatalf("SetMeta overwrite: %v", err)
	}
	value, ok, err := s.GetMeta(ctx, "last_sync_at:org-a")
	if err != nil || !ok || value != "2026-01-02T00:00:00Z" {
		t.Fatalf("unexpected meta value %q ok=%v err=%v", value, ok, err)
	}
}

func TestStorageUnavailableWithoutSchema(t *testing.T) {
	unmigrated := New(openTestDB(t, false).DB())
	if _, err := unmigrated.GetAll(context.Background(), enums.CollectionStudents); !pkgerrors.Is(err, pkgerrors.CodeStorageUnavailable) {
		t.Fatalf("expected storage unavailable for missing schema, got %v", err)
	}
}

func TestStorageUnavailable(t *testing.T) {
	ctx := context.Background()

	s, client := newTestStore(t)
	if err := client.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := s.GetByID(ctx, enums.CollectionStudents, "s-1"); !pkgerrors.Is(err, pkgerrors.CodeStorageUnavailable) {
		t.Fatalf("expected storage unavailable for closed handle, got %v", err)
	}
	if err := s.Ping(ctx); !pkgerrors.Is(err, pkgerrors.CodeStorageUnavailable) {
		t.Fatalf("expected ping to report unavailable, got %v", err)
	}

	nilStore := New(nil)
	if _, err := nilStore.List(ctx, enums.CollectionStudents, "org-a"); !pkgerrors.Is(err, pkgerrors.CodeStorageUnavailable) {
		t.Fatalf("expected storage unavailable for nil handle, got %v", err)
	}
	if _, err := nilStore.GetAll(ctx, "users"); !pkgerrors.Is(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error for unknown collection, got %v", err)
	}
}

func TestNewRecordRequiresID(t *testing.T) {
	if _, err := NewRecord(enums.CollectionGroups, "org-a", dbtypes.JSONDocument{"name": "x"}, enums.SyncStateClean); err == nil {
		t.Fatal("expected missing id error")
	}
	rec, err := NewRecord(enums.CollectionGroups, "org-a", dbtypes.JSONDocument{"id": "g-1", "name": "3A"}, enums.SyncStateClean)
	if err != nil {
		t.Fatalf("NewRecord: %v", err)
	}
	if rec.Name == nil || *rec.Name != "3A" {
		t.Fatalf("expected name column, got %+v", rec)
	}
}

func TestMissingLookupsStayOutOfErrorLog(t *testing.T) {
	client := openTestDB(t, true)
	var buf bytes.Buffer
	conn := client.DB().Session(&gorm.Session{
		Logger: gormlogger.New(log.New(&buf, "", 0), gormlogger.Config{LogLevel: gormlogger.Error}),
	})
	s := New(conn)
	ctx := context.Background()

	rec, err := s.GetByID(ctx, enums.CollectionStudents, "nobody")
	if err != nil || rec != nil {
		t.Fatalf("expected no record and no error, got %+v %v", rec, err)
	}
	if _, ok, err := s.GetMeta(ctx, "lastSyncAt:org-1"); err != nil || ok {
		t.Fatalf("expected missing meta, got ok=%v err=%v", ok, err)
	}
	if buf.Len() != 0 {
		t.Fatalf("expected no gorm error output, got %q", buf.String())
	}
}

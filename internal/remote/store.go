package remote

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/angelmondragon/eduflow-sync/internal/collections"
	"github.com/angelmondragon/eduflow-sync/pkg/config"
	"github.com/angelmondragon/eduflow-sync/pkg/db"
	dbtypes "github.com/angelmondragon/eduflow-sync/pkg/db/types"
	"github.com/angelmondragon/eduflow-sync/pkg/logger"
)

// Document is an opaque JSON object keyed by field name.
type Document = dbtypes.JSONDocument

// Store is the authoritative document store. Collections are remote names
// (users, groups, ...). Every write is idempotent except Update on a missing
// document. Writes are scoped to orgID: touching a document owned by another
// organization fails with ErrOrganizationMismatch.
type Store interface {
	Set(ctx context.Context, collection, orgID, id string, doc Document) error
	Update(ctx context.Context, collection, orgID, id string, patch Document) error
	Delete(ctx context.Context, collection, orgID, id string) error
	Get(ctx context.Context, collection, id string) (Document, error)
	Query(ctx context.Context, collection, orgID string) ([]Document, error)
	Ping(ctx context.Context) error
}

// Open builds the store selected by cfg.Driver. The returned close func is
// never nil.
func Open(ctx context.Context, cfg config.RemoteConfig, logg *logger.Logger) (Store, func() error, error) {
	switch cfg.Driver {
	case config.RemoteDriverMemory:
		if logg != nil {
			logg.Warn(ctx, "remote store is in-memory; data is lost on exit")
		}
		return NewMemoryStore(), func() error { return nil }, nil
	case config.DriverPostgres, config.DriverSQLite:
		client, err := db.New(ctx, cfg.DBConfig(), logg)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting remote store: %w", err)
		}
		return NewDocumentStore(client.DB()), client.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported remote driver %q", cfg.Driver)
	}
}

func checkKey(collection, id string) error {
	if strings.TrimSpace(collection) == "" {
		return NewNonRetryableError(errors.New("remote collection is required"))
	}
	if strings.TrimSpace(id) == "" {
		return NewNonRetryableError(errors.New("remote document id is required"))
	}
	return nil
}

// checkWrite validates the key and that doc, when it names an organization,
// names orgID.
func checkWrite(collection, orgID, id string, doc Document) error {
	if err := checkKey(collection, id); err != nil {
		return err
	}
	if strings.TrimSpace(orgID) == "" {
		return NewNonRetryableError(errors.New("organization id is required"))
	}
	if owner := orgOf(doc); owner != "" && owner != orgID {
		return mismatch(collection, id, orgID, owner)
	}
	return nil
}

func mismatch(collection, id, orgID, owner string) error {
	return NewNonRetryableError(fmt.Errorf("%s/%s belongs to %q, not %q: %w", collection, id, owner, orgID, ErrOrganizationMismatch))
}

func orgOf(doc Document) string {
	return doc.String(collections.FieldOrganizationID)
}

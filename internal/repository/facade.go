package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/eduflow-sync/internal/collections"
	"github.com/angelmondragon/eduflow-sync/internal/localstore"
	"github.com/angelmondragon/eduflow-sync/pkg/db/models"
	dbtypes "github.com/angelmondragon/eduflow-sync/pkg/db/types"
	"github.com/angelmondragon/eduflow-sync/pkg/enums"
	pkgerrors "github.com/angelmondragon/eduflow-sync/pkg/errors"
	"github.com/angelmondragon/eduflow-sync/pkg/outbox"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type recordStore interface {
	List(ctx context.Context, collection enums.Collection, orgID string) ([]models.Record, error)
	GetByID(ctx context.Context, collection enums.Collection, id string) (*models.Record, error)
	Put(ctx context.Context, tx *gorm.DB, collection enums.Collection, record *models.Record) error
	Delete(ctx context.Context, tx *gorm.DB, collection enums.Collection, id string) error
}

type enqueuer interface {
	Enqueue(ctx context.Context, tx *gorm.DB, m outbox.Mutation) (*models.OutboxEvent, error)
}

// Watcher delivers change signals per collection and organization. The live
// mirror implements it.
type Watcher interface {
	Watch(collection enums.Collection, orgID string, fn func()) func()
	Notify(collection enums.Collection, orgID string)
}

// Facade is the read/write surface of one collection. Writes land in the local
// store and the outbox atomically and never wait on the network.
type Facade struct {
	def     collections.Definition
	db      txRunner
	store   recordStore
	outbox  enqueuer
	watcher Watcher
	newID   func() string
}

// Get returns the record or a NOT_FOUND error when it is missing or belongs
// to another organization.
func (f *Facade) Get(ctx context.Context, orgID, id string) (*models.Record, error) {
	rec, err := f.store.GetByID(ctx, f.def.Name, id)
	if err != nil {
		return nil, err
	}
	if rec == nil || rec.OrganizationID != orgID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "record not found")
	}
	return rec, nil
}

// GetAll reads the organization's cached records, dirty ones included.
func (f *Facade) GetAll(ctx context.Context, orgID string) ([]models.Record, error) {
	if err := requireOrg(orgID); err != nil {
		return nil, err
	}
	return f.store.List(ctx, f.def.Name, orgID)
}

// Add stores a new document as pending_push and queues a CREATE. A missing id
// is generated.
func (f *Facade) Add(ctx context.Context, orgID string, doc map[string]any) (models.Record, error) {
	if err := requireOrg(orgID); err != nil {
		return models.Record{}, err
	}
	id, _ := doc[collections.FieldID].(string)
	if strings.TrimSpace(id) == "" {
		id = f.newID()
	} else {
		existing, err := f.store.GetByID(ctx, f.def.Name, id)
		if err != nil {
			return models.Record{}, err
		}
		if existing != nil && existing.OrganizationID != orgID {
			return models.Record{}, pkgerrors.New(pkgerrors.CodeConflict, "id is already taken")
		}
	}
	prepared := f.def.Prepare(orgID, id, doc)
	rec, err := f.write(ctx, orgID, prepared, enums.OutboxActionCreate)
	if err != nil {
		return models.Record{}, err
	}
	return rec, nil
}

// Update merges patch into the cached document and queues an UPDATE carrying
// the full merged document.
func (f *Facade) Update(ctx context.Context, orgID, id string, patch map[string]any) (models.Record, error) {
	current, err := f.Get(ctx, orgID, id)
	if err != nil {
		return models.Record{}, err
	}
	merged := current.Data.Clone()
	for k, v := range patch {
		merged[k] = v
	}
	prepared := f.def.Prepare(orgID, id, merged)
	return f.write(ctx, orgID, prepared, enums.OutboxActionUpdate)
}

func (f *Facade) write(ctx context.Context, orgID string, doc dbtypes.JSONDocument, action enums.OutboxAction) (models.Record, error) {
	if err := f.def.Validate(doc); err != nil {
		return models.Record{}, err
	}
	rec, err := localstore.NewRecord(f.def.Name, orgID, doc, enums.SyncStatePendingPush)
	if err != nil {
		return models.Record{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, err.Error())
	}
	err = f.db.WithTx(ctx, func(tx *gorm.DB) error {
		if err := f.store.Put(ctx, tx, f.def.Name, &rec); err != nil {
			return err
		}
		_, err := f.outbox.Enqueue(ctx, tx, outbox.Mutation{
			Collection:     f.def.Name,
			Action:         action,
			DocID:          rec.ID,
			OrganizationID: orgID,
			Data:           doc,
		})
		return err
	})
	if err != nil {
		return models.Record{}, err
	}
	f.touch(orgID)
	return rec, nil
}

// Delete removes the record locally and queues a DELETE. Deleting an absent
// record still queues the DELETE so the remote copy goes too.
func (f *Facade) Delete(ctx context.Context, orgID, id string) error {
	if err := requireOrg(orgID); err != nil {
		return err
	}
	if strings.TrimSpace(id) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "id is required")
	}
	current, err := f.store.GetByID(ctx, f.def.Name, id)
	if err != nil {
		return err
	}
	if current != nil && current.OrganizationID != orgID {
		return pkgerrors.New(pkgerrors.CodeNotFound, "record not found")
	}
	err = f.db.WithTx(ctx, func(tx *gorm.DB) error {
		if err := f.store.Delete(ctx, tx, f.def.Name, id); err != nil {
			return err
		}
		_, err := f.outbox.Enqueue(ctx, tx, outbox.Mutation{
			Collection:     f.def.Name,
			Action:         enums.OutboxActionDelete,
			DocID:          id,
			OrganizationID: orgID,
		})
		return err
	})
	if err != nil {
		return err
	}
	f.touch(orgID)
	return nil
}

// Watch calls fn with the current records and again after every change to
// this collection and organization, until ctx is done.
func (f *Facade) Watch(ctx context.Context, orgID string, fn func([]models.Record)) error {
	if err := requireOrg(orgID); err != nil {
		return err
	}
	if f.watcher == nil {
		return errors.New("live updates are not configured")
	}
	signals := make(chan struct{}, 1)
	stop := f.watcher.Watch(f.def.Name, orgID, func() {
		select {
		case signals <- struct{}{}:
		default:
		}
	})
	defer stop()

	emit := func() error {
		records, err := f.GetAll(ctx, orgID)
		if err != nil {
			return err
		}
		fn(records)
		return nil
	}
	if err := emit(); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-signals:
			if err := emit(); err != nil {
				return err
			}
		}
	}
}

func (f *Facade) touch(orgID string) {
	if f.watcher != nil {
		f.watcher.Notify(f.def.Name, orgID)
	}
}

func requireOrg(orgID string) error {
	if strings.TrimSpace(orgID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "organization id is required")
	}
	return nil
}

// Params wires every facade to the same local store handle.
type Params struct {
	DB      txRunner
	Store   *localstore.Store
	Outbox  *outbox.Service
	Watcher Watcher
}

// Registry holds one facade per collection.
type Registry struct {
	facades map[enums.Collection]*Facade
}

func NewRegistry(params Params) (*Registry, error) {
	switch {
	case params.DB == nil:
		return nil, errors.New("database is required")
	case params.Store == nil:
		return nil, errors.New("local store is required")
	case params.Outbox == nil:
		return nil, errors.New("outbox service is required")
	}
	r := &Registry{facades: map[enums.Collection]*Facade{}}
	for _, def := range collections.All() {
		r.facades[def.Name] = &Facade{
			def:     def,
			db:      params.DB,
			store:   params.Store,
			outbox:  params.Outbox,
			watcher: params.Watcher,
			newID:   uuid.NewString,
		}
	}
	return r, nil
}

// For returns the facade of the named collection.
func (r *Registry) For(name string) (*Facade, error) {
	collection, err := enums.ParseCollection(name)
	if err != nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "unknown collection")
	}
	return r.facades[collection], nil
}

// Must returns the facade of a known collection.
func (r *Registry) Must(collection enums.Collection) *Facade {
	f, ok := r.facades[collection]
	if !ok {
		panic("repository: no facade for " + collection.String())
	}
	return f
}

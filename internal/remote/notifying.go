package remote

import (
	"context"
	"errors"

	"github.com/angelmondragon/eduflow-sync/internal/changefeed"
	"github.com/angelmondragon/eduflow-sync/pkg/enums"
	"github.com/angelmondragon/eduflow-sync/pkg/logger"
)

// Notifying publishes a change envelope after every successful write. Publish
// failures are logged; the write already happened and the next pull heals
// anyone who missed it.
type Notifying struct {
	Store
	pub  changefeed.Publisher
	logg *logger.Logger
}

func NewNotifying(store Store, pub changefeed.Publisher, logg *logger.Logger) (*Notifying, error) {
	if store == nil {
		return nil, errors.New("remote store required")
	}
	if pub == nil {
		return nil, errors.New("change publisher required")
	}
	if logg == nil {
		return nil, errors.New("logger required")
	}
	return &Notifying{Store: store, pub: pub, logg: logg}, nil
}

func (n *Notifying) Set(ctx context.Context, collection, orgID, id string, doc Document) error {
	if err := n.Store.Set(ctx, collection, orgID, id, doc); err != nil {
		return err
	}
	n.announce(ctx, collection, enums.OutboxActionCreate, orgID, id, doc)
	return nil
}

// Update announces the merged document so receivers never apply a partial patch.
func (n *Notifying) Update(ctx context.Context, collection, orgID, id string, patch Document) error {
	if err := n.Store.Update(ctx, collection, orgID, id, patch); err != nil {
		return err
	}
	merged, err := n.Store.Get(ctx, collection, id)
	if err != nil {
		n.logg.Error(n.logg.WithField(ctx, "doc_id", id), "reading updated document for change feed", err)
		return nil
	}
	n.announce(ctx, collection, enums.OutboxActionUpdate, orgID, id, merged)
	return nil
}

// Delete announces only deletes that removed something.
func (n *Notifying) Delete(ctx context.Context, collection, orgID, id string) error {
	_, getErr := n.Store.Get(ctx, collection, id)
	if err := n.Store.Delete(ctx, collection, orgID, id); err != nil {
		return err
	}
	if getErr != nil {
		return nil
	}
	n.announce(ctx, collection, enums.OutboxActionDelete, orgID, id, nil)
	return nil
}

func (n *Notifying) announce(ctx context.Context, collection string, action enums.OutboxAction, orgID, id string, doc Document) {
	var data any
	if doc != nil {
		data = doc
	}
	logCtx := n.logg.WithFields(ctx, map[string]any{
		"collection": collection,
		"action":     action,
		"doc_id":     id,
	})
	env, err := changefeed.NewEnvelope(collection, action, orgID, id, data)
	if err != nil {
		n.logg.Warn(n.logg.WithField(logCtx, "error", err.Error()), "change not announced")
		return
	}
	if err := n.pub.Publish(ctx, env); err != nil {
		n.logg.Error(logCtx, "publishing remote change failed", err)
	}
}

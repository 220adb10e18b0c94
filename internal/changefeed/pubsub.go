package changefeed

import (
	"context"
	"errors"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"

	"github.com/angelmondragon/eduflow-sync/pkg/logger"
)

const defaultPublishTimeout = 15 * time.Second

type pubsubPublisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(context.Context) (string, error)
}

type pubsubReceiver interface {
	Receive(context.Context, func(context.Context, *gcppubsub.Message)) error
}

// PubSubFeed carries change envelopes over a Pub/Sub topic and subscription.
type PubSubFeed struct {
	pub  pubsubPublisher
	sub  pubsubReceiver
	logg *logger.Logger
}

// NewPubSubFeed wraps the v2 publisher and subscriber handles. Either may be
// nil for a publish-only or receive-only agent.
func NewPubSubFeed(pub *gcppubsub.Publisher, sub *gcppubsub.Subscriber, logg *logger.Logger) (*PubSubFeed, error) {
	if pub == nil && sub == nil {
		return nil, errors.New("pubsub publisher or subscriber required")
	}
	if logg == nil {
		return nil, errors.New("logger required")
	}
	feed := &PubSubFeed{logg: logg}
	if pub != nil {
		feed.pub = &gcpPublisher{Publisher: pub}
	}
	if sub != nil {
		feed.sub = sub
	}
	return feed, nil
}

func (f *PubSubFeed) Publish(ctx context.Context, env ChangeEnvelope) error {
	if f.pub == nil {
		return errors.New("pubsub publisher not configured")
	}
	body, err := Encode(env)
	if err != nil {
		return err
	}
	publishCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()

	result := f.pub.Publish(publishCtx, &gcppubsub.Message{
		Data:       body,
		Attributes: env.Attributes(),
	})
	if result == nil {
		return fmt.Errorf("publisher returned nil for event %s", env.EventID)
	}
	if _, err := result.Get(publishCtx); err != nil {
		return fmt.Errorf("publish change %s: %w", env.EventID, err)
	}
	return nil
}

// Receive acks malformed messages after logging them and nacks when fn fails.
func (f *PubSubFeed) Receive(ctx context.Context, fn Handler) error {
	if f.sub == nil {
		return errors.New("pubsub subscriber not configured")
	}
	return f.sub.Receive(ctx, func(ctx context.Context, msg *gcppubsub.Message) {
		logCtx := f.logg.WithField(ctx, "message_id", msg.ID)
		if deliver(logCtx, f.logg, msg.Data, fn) {
			msg.Ack()
			return
		}
		msg.Nack()
	})
}

func (f *PubSubFeed) Close() error {
	if p, ok := f.pub.(*gcpPublisher); ok && p.Publisher != nil {
		p.Publisher.Stop()
	}
	return nil
}

// deliver decodes raw and runs fn. It returns true when the message should be
// acknowledged.
func deliver(ctx context.Context, logg *logger.Logger, raw []byte, fn Handler) bool {
	env, err := Decode(raw)
	if err != nil {
		logg.Error(ctx, "dropping malformed change message", err)
		return true
	}
	ctx = logg.WithFields(ctx, map[string]any{
		"event_id":        env.EventID,
		"collection":      env.Collection,
		"organization_id": env.OrganizationID,
	})
	if err := fn(ctx, env); err != nil {
		logg.Error(ctx, "change handling failed", err)
		return false
	}
	return true
}

type gcpPublisher struct {
	*gcppubsub.Publisher
}

func (p *gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	if p == nil || p.Publisher == nil {
		return nil
	}
	return p.Publisher.Publish(ctx, msg)
}

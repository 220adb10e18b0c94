package changefeed

import "context"

// Handler processes one change. A non-nil error asks the transport to
// redeliver it later.
type Handler func(context.Context, ChangeEnvelope) error

// Publisher announces remote writes.
type Publisher interface {
	Publish(ctx context.Context, env ChangeEnvelope) error
}

// Subscriber delivers remote changes until ctx is done.
type Subscriber interface {
	Receive(ctx context.Context, fn Handler) error
}

// Feed is a transport that can do both.
type Feed interface {
	Publisher
	Subscriber
	Close() error
}

package changefeed

import (
	"context"
	"sync"

	"go.uber.org/multierr"
)

// LocalBus fans changes out to in-process receivers. It backs the "none"
// driver, where writes made by this agent are the only changes it can see.
type LocalBus struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[int]Handler
}

func NewLocalBus() *LocalBus {
	return &LocalBus{handlers: map[int]Handler{}}
}

// Publish delivers env synchronously to every receiver and joins their errors.
func (b *LocalBus) Publish(ctx context.Context, env ChangeEnvelope) error {
	if err := env.Validate(); err != nil {
		return err
	}
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	var errs error
	for _, h := range handlers {
		errs = multierr.Append(errs, h(ctx, env))
	}
	return errs
}

// Receive registers fn and blocks until ctx is canceled.
func (b *LocalBus) Receive(ctx context.Context, fn Handler) error {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = fn
	b.mu.Unlock()

	<-ctx.Done()

	b.mu.Lock()
	delete(b.handlers, id)
	b.mu.Unlock()
	return nil
}

// Receivers returns the number of registered receivers.
func (b *LocalBus) Receivers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers)
}

func (b *LocalBus) Close() error { return nil }

package connectivity

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Status is the last known reachability of the remote store.
type Status struct {
	Connected bool      `json:"connected"`
	CheckedAt time.Time `json:"checkedAt"`
}

// Monitor is advisory: callers still handle remote failures themselves.
type Monitor interface {
	Status() Status
	// Subscribe registers fn for online/offline transitions and returns a
	// function that removes it.
	Subscribe(fn func(Status)) func()
}

// notifier holds the current status and its subscribers.
type notifier struct {
	mu     sync.Mutex
	status Status
	nextID int
	subs   map[int]func(Status)
}

func newNotifier(connected bool) *notifier {
	return &notifier{
		status: Status{Connected: connected, CheckedAt: time.Now().UTC()},
		subs:   map[int]func(Status){},
	}
}

func (n *notifier) Status() Status {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.status
}

func (n *notifier) Subscribe(fn func(Status)) func() {
	n.mu.Lock()
	id := n.nextID
	n.nextID++
	n.subs[id] = fn
	n.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.subs, id)
			n.mu.Unlock()
		})
	}
}

// Subscribers returns the number of registered subscribers.
func (n *notifier) Subscribers() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs)
}

// set records a check and notifies subscribers when reachability flipped.
// Subscribers run outside the lock, in registration order.
func (n *notifier) set(connected bool) {
	n.mu.Lock()
	changed := n.status.Connected != connected
	n.status = Status{Connected: connected, CheckedAt: time.Now().UTC()}
	current := n.status
	var fns []func(Status)
	if changed {
		ids := make([]int, 0, len(n.subs))
		for id := range n.subs {
			ids = append(ids, id)
		}
		sort.Ints(ids)
		for _, id := range ids {
			fns = append(fns, n.subs[id])
		}
	}
	n.mu.Unlock()

	for _, fn := range fns {
		fn(current)
	}
}

// Manual is a Monitor driven by SetConnected. It backs forced offline mode
// and tests.
type Manual struct {
	*notifier
}

func NewManual(connected bool) *Manual {
	return &Manual{notifier: newNotifier(connected)}
}

func (m *Manual) SetConnected(connected bool) {
	m.set(connected)
}

// Static never changes state.
type Static struct {
	*notifier
}

func NewStatic(connected bool) *Static {
	return &Static{notifier: newNotifier(connected)}
}

// Run exists so Static and Manual fit wherever a ProbeMonitor runs.
func (m *Manual) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (s *Static) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

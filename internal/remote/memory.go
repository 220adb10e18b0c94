package remote

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/angelmondragon/eduflow-sync/internal/collections"
)

// Op names a remote call for failure injection.
type Op string

const (
	OpSet    Op = "set"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
	OpGet    Op = "get"
	OpQuery  Op = "query"
	OpPing   Op = "ping"
)

// MemoryStore is an in-process Store. OnCall, when set, runs before every
// call and its error is returned instead of performing the call.
type MemoryStore struct {
	mu    sync.Mutex
	docs  map[string]map[string]Document
	calls map[Op]int

	OnCall func(ctx context.Context, op Op, collection, id string) error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:  map[string]map[string]Document{},
		calls: map[Op]int{},
	}
}

func (m *MemoryStore) before(ctx context.Context, op Op, collection, id string) error {
	m.mu.Lock()
	m.calls[op]++
	hook := m.OnCall
	m.mu.Unlock()
	if hook != nil {
		if err := hook(ctx, op, collection, id); err != nil {
			return err
		}
	}
	return ctx.Err()
}

func (m *MemoryStore) Set(ctx context.Context, collection, orgID, id string, doc Document) error {
	if err := checkWrite(collection, orgID, id, doc); err != nil {
		return err
	}
	if err := m.before(ctx, OpSet, collection, id); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.docs[collection][id]; ok && orgOf(current) != orgID {
		return mismatch(collection, id, orgID, orgOf(current))
	}
	if m.docs[collection] == nil {
		m.docs[collection] = map[string]Document{}
	}
	stored := doc.Clone()
	stored[collections.FieldOrganizationID] = orgID
	m.docs[collection][id] = stored
	return nil
}

func (m *MemoryStore) Update(ctx context.Context, collection, orgID, id string, patch Document) error {
	if err := checkWrite(collection, orgID, id, patch); err != nil {
		return err
	}
	if err := m.before(ctx, OpUpdate, collection, id); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.docs[collection][id]
	if !ok {
		return fmt.Errorf("update %s/%s: %w", collection, id, ErrNotFound)
	}
	if owner := orgOf(current); owner != orgID {
		return mismatch(collection, id, orgID, owner)
	}
	merged := current.Clone()
	for k, v := range patch {
		merged[k] = v
	}
	m.docs[collection][id] = merged
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, collection, orgID, id string) error {
	if err := checkWrite(collection, orgID, id, nil); err != nil {
		return err
	}
	if err := m.before(ctx, OpDelete, collection, id); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.docs[collection][id]
	if !ok {
		return nil
	}
	if owner := orgOf(current); owner != orgID {
		return mismatch(collection, id, orgID, owner)
	}
	delete(m.docs[collection], id)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, collection, id string) (Document, error) {
	if err := m.before(ctx, OpGet, collection, id); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[collection][id]
	if !ok {
		return nil, fmt.Errorf("get %s/%s: %w", collection, id, ErrNotFound)
	}
	return doc.Clone(), nil
}

func (m *MemoryStore) Query(ctx context.Context, collection, orgID string) ([]Document, error) {
	if err := m.before(ctx, OpQuery, collection, ""); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []Document{}
	for _, doc := range m.docs[collection] {
		if orgOf(doc) == orgID {
			out = append(out, doc.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String("id") < out[j].String("id") })
	return out, nil
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	return m.before(ctx, OpPing, "", "")
}

// Calls returns how many times op was attempted.
func (m *MemoryStore) Calls(op Op) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// Total counts every data call, ignoring pings.
func (m *MemoryStore) Total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for op, n := range m.calls {
		if op != OpPing {
			total += n
		}
	}
	return total
}

// Seed stores docs without counting calls or running the hook.
func (m *MemoryStore) Seed(collection string, docs ...Document) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.docs[collection] == nil {
		m.docs[collection] = map[string]Document{}
	}
	for _, doc := range docs {
		m.docs[collection][doc.String("id")] = doc.Clone()
	}
}

// Snapshot returns a copy of the stored collection keyed by id.
func (m *MemoryStore) Snapshot(collection string) map[string]Document {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Document, len(m.docs[collection]))
	for id, doc := range m.docs[collection] {
		out[id] = doc.Clone()
	}
	return out
}

package idempotency

import (
	"context"
	"fmt"
	"time"
)

type exampleStore struct {
	values []bool
	index  int
}

func (s *exampleStore) Get(context.Context, string) (string, error) {
	return "", nil
}

func (s *exampleStore) Set(context.Context, string, any, time.Duration) error {
	return nil
}

func (s *exampleStore) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	result := false
	if s.index < len(s.values) {
		result = s.values[s.index]
	}
	s.index++
	return result, nil
}

func (s *exampleStore) IdempotencyKey(scope, id string) string {
	return "edu:idempotency:" + scope + ":" + id
}

func (s *exampleStore) Del(context.Context, ...string) error {
	return nil
}

type exampleMirror struct {
	name    string
	manager *Manager
}

func (c *exampleMirror) handle(ctx context.Context, eventID string) string {
	alreadyProcessed, _ := c.manager.CheckAndMarkProcessed(ctx, c.name, eventID)
	if alreadyProcessed {
		return "already applied"
	}
	return "applying change"
}

func ExampleManager_CheckAndMarkProcessed() {
	ctx := context.Background()
	store := &exampleStore{values: []bool{true, false}}
	manager, _ := NewManager(store, 7*24*time.Hour)
	mirror := &exampleMirror{name: "live-mirror", manager: manager}
	eventID := "f47ac10b-58cc-4372-a567-0e02b2c3d479"

	fmt.Println(mirror.handle(ctx, eventID))
	fmt.Println(mirror.handle(ctx, eventID))
	// Output:
	// applying change
	// already applied
}

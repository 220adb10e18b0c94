package changefeed

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"

	"github.com/angelmondragon/eduflow-sync/pkg/amqp"
	"github.com/angelmondragon/eduflow-sync/pkg/enums"
	"github.com/angelmondragon/eduflow-sync/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "changefeed-test", Output: io.Discard})
}

func mustEnvelope(t *testing.T, action enums.OutboxAction, data any) ChangeEnvelope {
	t.Helper()
	env, err := NewEnvelope("users", action, "org-1", "u-1", data)
	if err != nil {
		t.Fatalf("new envelope: %v", err)
	}
	return env
}

func TestEnvelopeRoundTrip(t *testing.T) {
	env := mustEnvelope(t, enums.OutboxActionCreate, map[string]any{"id": "u-1", "role": "STUDENT"})
	raw, err := Encode(env)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	back, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if back.EventID != env.EventID || back.Collection != "users" || back.Deleted() {
		t.Fatalf("unexpected envelope %+v", back)
	}
	doc, err := back.Document()
	if err != nil {
		t.Fatalf("document: %v", err)
	}
	if doc["role"] != "STUDENT" {
		t.Fatalf("expected role in document, got %v", doc)
	}
}

func TestEnvelopeDeleteHasEmptyDocument(t *testing.T) {
	env := mustEnvelope(t, enums.OutboxActionDelete, nil)
	if !env.Deleted() {
		t.Fatal("expected delete envelope")
	}
	doc, err := env.Document()
	if err != nil || len(doc) != 0 {
		t.Fatalf("expected empty document, got %v %v", doc, err)
	}
}

func TestDecodeRejectsIncompleteEnvelope(t *testing.T) {
	cases := map[string]string{
		"garbage":     `not-json`,
		"no event id": `{"collection":"users","action":"CREATE","docId":"u","organizationId":"o"}`,
		"bad action":  `{"eventId":"e","collection":"users","action":"UPSERT","docId":"u","organizationId":"o"}`,
		"no org":      `{"eventId":"e","collection":"users","action":"CREATE","docId":"u"}`,
	}
	for name, raw := range cases {
		if _, err := Decode([]byte(raw)); err == nil {
			t.Fatalf("%s: expected decode error", name)
		}
	}
}

func TestRoutingKey(t *testing.T) {
	if got := RoutingKey("org-1", "grades"); got != "changes.org-1.grades" {
		t.Fatalf("unexpected routing key %q", got)
	}
}

func TestLocalBusFansOut(t *testing.T) {
	bus := NewLocalBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	got := []string{}
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = bus.Receive(ctx, func(_ context.Context, env ChangeEnvelope) error {
				mu.Lock()
				got = append(got, env.EventID)
				mu.Unlock()
				return nil
			})
		}()
	}
	waitFor(t, func() bool { return bus.Receivers() == 2 })

	env := mustEnvelope(t, enums.OutboxActionUpdate, map[string]any{"id": "u-1"})
	if err := bus.Publish(context.Background(), env); err != nil {
		t.Fatalf("publish: %v", err)
	}
	mu.Lock()
	if len(got) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(got))
	}
	mu.Unlock()

	cancel()
	wg.Wait()
	if bus.Receivers() != 0 {
		t.Fatalf("expected receivers to unregister, got %d", bus.Receivers())
	}
}

func TestLocalBusReturnsHandlerErrors(t *testing.T) {
	bus := NewLocalBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = bus.Receive(ctx, func(context.Context, ChangeEnvelope) error { return errors.New("boom") })
	}()
	waitFor(t, func() bool { return bus.Receivers() == 1 })

	if err := bus.Publish(context.Background(), mustEnvelope(t, enums.OutboxActionCreate, nil)); err == nil {
		t.Fatal("expected handler error")
	}
	if err := bus.Publish(context.Background(), ChangeEnvelope{}); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestDeliverAcksMalformedAndNacksFailures(t *testing.T) {
	logg := testLogger()
	calls := 0
	ok := func(context.Context, ChangeEnvelope) error { calls++; return nil }
	fail := func(context.Context, ChangeEnvelope) error { calls++; return errors.New("apply failed") }

	if !deliver(context.Background(), logg, []byte("{"), ok) {
		t.Fatal("malformed message should be acked")
	}
	if calls != 0 {
		t.Fatal("handler must not run for malformed message")
	}

	raw, _ := Encode(mustEnvelope(t, enums.OutboxActionCreate, nil))
	if !deliver(context.Background(), logg, raw, ok) {
		t.Fatal("expected ack on success")
	}
	if deliver(context.Background(), logg, raw, fail) {
		t.Fatal("expected nack on handler failure")
	}
	if calls != 2 {
		t.Fatalf("expected 2 handler calls, got %d", calls)
	}
}

type fakeResult struct{ err error }

func (r fakeResult) Get(context.Context) (string, error) { return "msg-1", r.err }

type fakePublisher struct {
	msgs []*gcppubsub.Message
	err  error
}

func (p *fakePublisher) Publish(_ context.Context, msg *gcppubsub.Message) publishResult {
	p.msgs = append(p.msgs, msg)
	return fakeResult{err: p.err}
}

func TestPubSubFeedPublishSetsAttributes(t *testing.T) {
	pub := &fakePublisher{}
	feed := &PubSubFeed{pub: pub, logg: testLogger()}
	env := mustEnvelope(t, enums.OutboxActionCreate, map[string]any{"id": "u-1"})

	if err := feed.Publish(context.Background(), env); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(pub.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(pub.msgs))
	}
	attrs := pub.msgs[0].Attributes
	if attrs["event_id"] != env.EventID || attrs["collection"] != "users" || attrs["organization_id"] != "org-1" {
		t.Fatalf("unexpected attributes %v", attrs)
	}

	pub.err = errors.New("unavailable")
	if err := feed.Publish(context.Background(), env); err == nil {
		t.Fatal("expected publish error")
	}
}

func TestPubSubFeedRequiresHandles(t *testing.T) {
	if _, err := NewPubSubFeed(nil, nil, testLogger()); err == nil {
		t.Fatal("expected error without handles")
	}
	feed := &PubSubFeed{logg: testLogger()}
	if err := feed.Receive(context.Background(), nil); err == nil {
		t.Fatal("expected error without subscriber")
	}
	if err := feed.Publish(context.Background(), ChangeEnvelope{}); err == nil {
		t.Fatal("expected error without publisher")
	}
}

type fakeAMQP struct {
	published  []string
	headers    map[string]any
	deliveries [][]byte
	results    []error
	queue      string
	binding    string
}

func (f *fakeAMQP) Publish(_ context.Context, key string, _ []byte, headers map[string]any) error {
	f.published = append(f.published, key)
	f.headers = headers
	return nil
}

func (f *fakeAMQP) Consume(ctx context.Context, queue, binding string, fn func(context.Context, amqp.Delivery) error) error {
	f.queue, f.binding = queue, binding
	for _, body := range f.deliveries {
		f.results = append(f.results, fn(ctx, amqp.Delivery{Body: body, RoutingKey: "changes.org-1.users"}))
	}
	return nil
}

func (f *fakeAMQP) Close() error { return nil }

func TestAMQPFeedPublishUsesRoutingKey(t *testing.T) {
	client := &fakeAMQP{}
	feed, err := NewAMQPFeed(client, " eduflow.agent ", testLogger())
	if err != nil {
		t.Fatalf("new feed: %v", err)
	}
	env := mustEnvelope(t, enums.OutboxActionUpdate, map[string]any{"id": "u-1"})
	if err := feed.Publish(context.Background(), env); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(client.published) != 1 || client.published[0] != "changes.org-1.users" {
		t.Fatalf("unexpected routing keys %v", client.published)
	}
	if client.headers["event_id"] != env.EventID {
		t.Fatalf("expected event id header, got %v", client.headers)
	}
}

func TestAMQPFeedReceiveAcksAndRequeues(t *testing.T) {
	good, _ := Encode(mustEnvelope(t, enums.OutboxActionCreate, nil))
	client := &fakeAMQP{deliveries: [][]byte{[]byte("junk"), good, good}}
	feed, _ := NewAMQPFeed(client, "eduflow.agent", testLogger())

	calls := 0
	err := feed.Receive(context.Background(), func(context.Context, ChangeEnvelope) error {
		calls++
		if calls == 2 {
			return errors.New("store busy")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if client.queue != "eduflow.agent" || client.binding != "changes.#" {
		t.Fatalf("unexpected bind %q %q", client.queue, client.binding)
	}
	if client.results[0] != nil || client.results[1] != nil {
		t.Fatalf("expected acks for junk and first delivery, got %v", client.results)
	}
	if client.results[2] == nil {
		t.Fatal("expected requeue for failed delivery")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

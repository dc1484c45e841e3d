package main

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"

	"github.com/imrishuroy/campus-orderflow/internal/backend"
	"github.com/imrishuroy/campus-orderflow/internal/orders"
)

func newStoreWithOrder(t *testing.T) *orders.Store {
	t.Helper()
	store := orders.NewStore(backend.NewMemoryStore(orders.Keys()))
	o := &orders.Order{
		ID:         "o1",
		ActorID:    "student-1",
		TargetID:   "cafe-1",
		TotalCents: 450,
		ItemCount:  1,
		Delivery:   orders.Delivery{Location: "Hostel B"},
		Status:     orders.StatusReceived,
	}
	if err := store.InsertOrder(context.Background(), o); err != nil {
		t.Fatalf("insert: %v", err)
	}
	return store
}

func sqsEvent(bodies ...string) events.SQSEvent {
	var ev events.SQSEvent
	for i, b := range bodies {
		ev.Records = append(ev.Records, events.SQSMessage{MessageId: string(rune('a' + i)), Body: b})
	}
	return ev
}

func TestProcessor_AppliesStatus(t *testing.T) {
	store := newStoreWithOrder(t)
	p := NewProcessor(store, zap.NewNop().Sugar())

	resp, err := p.Handle(context.Background(), sqsEvent(
		`{"order_id":"o1","status":"confirmed","correlation_id":"c-1"}`,
		`{"order_id":"o1","status":"preparing"}`,
	))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(resp.BatchItemFailures) != 0 {
		t.Fatalf("unexpected failures: %+v", resp.BatchItemFailures)
	}

	got, _ := store.Get(context.Background(), "o1")
	if got.Status != orders.StatusPreparing {
		t.Fatalf("expected preparing, got %s", got.Status)
	}
}

func TestProcessor_DropsPermanentFailures(t *testing.T) {
	store := newStoreWithOrder(t)
	p := NewProcessor(store, zap.NewNop().Sugar())

	resp, _ := p.Handle(context.Background(), sqsEvent(
		`not json`,
		`{"order_id":"o1","status":"PENDING"}`,
		`{"order_id":"missing","status":"confirmed"}`,
		`{"order_id":"o1","status":"received"}`,
	))
	if len(resp.BatchItemFailures) != 0 {
		t.Fatalf("permanent failures must not be retried: %+v", resp.BatchItemFailures)
	}

	got, _ := store.Get(context.Background(), "o1")
	if got.Status != orders.StatusReceived {
		t.Fatalf("status must be unchanged, got %s", got.Status)
	}
}

func TestProcessor_DuplicateDeliveryIsDropped(t *testing.T) {
	store := newStoreWithOrder(t)
	p := NewProcessor(store, zap.NewNop().Sugar())
	body := `{"order_id":"o1","status":"completed"}`

	for i := 0; i < 2; i++ {
		resp, _ := p.Handle(context.Background(), sqsEvent(body))
		if len(resp.BatchItemFailures) != 0 {
			t.Fatalf("delivery %d failed: %+v", i, resp.BatchItemFailures)
		}
	}
}

type flakyUpdater struct {
	err error
}

func (f flakyUpdater) UpdateStatus(context.Context, string, orders.Status) (*orders.Order, error) {
	return nil, f.err
}

func TestProcessor_RetryableFailuresReported(t *testing.T) {
	for _, cause := range []error{orders.ErrStatusMismatch, errors.New("backend unavailable")} {
		p := NewProcessor(flakyUpdater{err: cause}, zap.NewNop().Sugar())
		resp, err := p.Handle(context.Background(), sqsEvent(
			`{"order_id":"o1","status":"confirmed"}`,
			`{"order_id":"o2","status":"confirmed"}`,
		))
		if err != nil {
			t.Fatalf("handle: %v", err)
		}
		if len(resp.BatchItemFailures) != 2 || resp.BatchItemFailures[1].ItemIdentifier != "b" {
			t.Fatalf("%v: expected both messages reported, got %+v", cause, resp.BatchItemFailures)
		}
	}
}

// Package events carries order notifications out of the core: to SQS, to a
// RabbitMQ queue, and to in-process subscribers.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/imrishuroy/campus-orderflow/internal/orders"
)

// Type names an event.
type Type string

const (
	// OrderCreated is emitted by ingestion once an order and all its items are stored.
	OrderCreated Type = "order.created"
	// OrderNew is emitted by a sync engine the first time it observes a received order.
	OrderNew Type = "order.new"
	// OrderUpdated is emitted by a sync engine when an order's status changes.
	OrderUpdated Type = "order.updated"
)

// Event is one notification about an order.
type Event struct {
	Type     Type          `json:"type"`
	OrderID  string        `json:"order_id"`
	TargetID string        `json:"target_id"`
	ActorID  string        `json:"actor_id"`
	Status   orders.Status `json:"status"`
	At       time.Time     `json:"at"`
	Order    *orders.Order `json:"order,omitempty"`
}

// FromOrder builds an event of type t describing o.
func FromOrder(t Type, o orders.Order, at time.Time) Event {
	return Event{
		Type:     t,
		OrderID:  o.ID,
		TargetID: o.TargetID,
		ActorID:  o.ActorID,
		Status:   o.Status,
		At:       at.UTC(),
		Order:    &o,
	}
}

func (e Event) attributes() map[string]string {
	return map[string]string{
		"event_type": string(e.Type),
		"target_id":  e.TargetID,
		"status":     string(e.Status),
	}
}

func (e Event) marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Sink receives events.
type Sink interface {
	Publish(ctx context.Context, e Event) error
}

// Multi publishes to every sink and joins their errors.
type Multi []Sink

func (m Multi) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(context.Context, Event) error { return nil }

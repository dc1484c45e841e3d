// Package cache keeps recently touched orders in memory, by id and as
// newest-first lists per actor.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/imrishuroy/campus-orderflow/internal/events"
	"github.com/imrishuroy/campus-orderflow/internal/orders"
)

// Config sizes the caches. ListLimit caps each cached list.
type Config struct {
	Size      int
	TTL       time.Duration
	ListLimit int
}

func DefaultConfig() Config {
	return Config{Size: 1024, TTL: 5 * time.Minute, ListLimit: 50}
}

// Entry is an order together with its line items.
type Entry struct {
	Order orders.Order
	Items []orders.LineItem
}

// Cache is safe for concurrent use. Writers hold mu so list updates do not
// interleave; readers go straight to the LRUs.
type Cache struct {
	listLimit int

	mu      sync.Mutex
	byID    *expirable.LRU[string, Entry]
	byActor *expirable.LRU[string, []orders.Order]
}

var _ events.Sink = (*Cache)(nil)

func New(cfg Config) *Cache {
	if cfg.Size <= 0 {
		cfg.Size = DefaultConfig().Size
	}
	if cfg.ListLimit <= 0 {
		cfg.ListLimit = DefaultConfig().ListLimit
	}
	return &Cache{
		listLimit: cfg.ListLimit,
		byID:      expirable.NewLRU[string, Entry](cfg.Size, nil, cfg.TTL),
		byActor:   expirable.NewLRU[string, []orders.Order](cfg.Size, nil, cfg.TTL),
	}
}

// Order returns the cached order and items.
func (c *Cache) Order(id string) (Entry, bool) {
	e, ok := c.byID.Get(id)
	if !ok {
		return Entry{}, false
	}
	return Entry{Order: e.Order, Items: append([]orders.LineItem(nil), e.Items...)}, true
}

func (c *Cache) PutOrder(o orders.Order, items []orders.LineItem) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byID.Add(o.ID, Entry{Order: o, Items: append([]orders.LineItem(nil), items...)})
}

func (c *Cache) ActorOrders(actorID string) ([]orders.Order, bool) {
	list, ok := c.byActor.Get(actorID)
	if !ok {
		return nil, false
	}
	return append([]orders.Order(nil), list...), true
}

func (c *Cache) SetActorOrders(actorID string, list []orders.Order) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byActor.Add(actorID, c.trim(list))
}

// Created records a newly placed order. An actor list that is not cached stays
// uncached, so a later read loads it whole from the backend.
func (c *Cache) Created(o orders.Order, items []orders.LineItem) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.byID.Add(o.ID, Entry{Order: o, Items: append([]orders.LineItem(nil), items...)})
	if list, ok := c.byActor.Get(o.ActorID); ok {
		c.byActor.Add(o.ActorID, c.prepend(list, o))
	}
}

// UpdateOrder replaces o wherever it is cached. Items are kept.
func (c *Cache) UpdateOrder(o orders.Order) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.byID.Get(o.ID); ok {
		c.byID.Add(o.ID, Entry{Order: o, Items: e.Items})
	}
	if list, ok := c.byActor.Get(o.ActorID); ok {
		c.byActor.Add(o.ActorID, replace(list, o))
	}
}

// Invalidate drops the order and its actor's list.
func (c *Cache) Invalidate(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.byID.Peek(id); ok {
		c.byActor.Remove(e.Order.ActorID)
	}
	c.byID.Remove(id)
}

// Publish applies orders observed by the sync engines, so status changes and
// orders written by other processes reach cached reads.
func (c *Cache) Publish(_ context.Context, e events.Event) error {
	if e.Order == nil {
		return nil
	}
	switch e.Type {
	case events.OrderNew:
		c.observed(*e.Order)
	case events.OrderUpdated:
		c.UpdateOrder(*e.Order)
	}
	return nil
}

// observed merges an order another process created. The order has no items
// here, so only lists are touched. A list the order cannot be placed in
// without a reload is dropped.
func (c *Cache) observed(o orders.Order) {
	c.mu.Lock()
	defer c.mu.Unlock()

	list, ok := c.byActor.Get(o.ActorID)
	if !ok {
		return
	}
	for _, existing := range list {
		if existing.ID == o.ID {
			c.byActor.Add(o.ActorID, replace(list, o))
			return
		}
	}
	if len(list) == 0 || !o.CreatedAt.Before(list[0].CreatedAt) {
		c.byActor.Add(o.ActorID, c.prepend(list, o))
		return
	}
	c.byActor.Remove(o.ActorID)
}

func (c *Cache) trim(list []orders.Order) []orders.Order {
	if len(list) > c.listLimit {
		list = list[:c.listLimit]
	}
	return append([]orders.Order(nil), list...)
}

func (c *Cache) prepend(list []orders.Order, o orders.Order) []orders.Order {
	out := make([]orders.Order, 0, len(list)+1)
	out = append(out, o)
	for _, existing := range list {
		if existing.ID != o.ID {
			out = append(out, existing)
		}
	}
	return c.trim(out)
}

func replace(list []orders.Order, o orders.Order) []orders.Order {
	out := append([]orders.Order(nil), list...)
	for i := range out {
		if out[i].ID == o.ID {
			out[i] = o
		}
	}
	return out
}

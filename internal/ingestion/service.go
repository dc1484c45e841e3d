// Package ingestion places orders. An order and its line items live in separate
// tables with no shared transaction, so a failed items write is undone by deleting
// the order row.
package ingestion

import (
	"context"
	"errors"
	"time"

	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/imrishuroy/campus-orderflow/internal/cache"
	"github.com/imrishuroy/campus-orderflow/internal/events"
	"github.com/imrishuroy/campus-orderflow/internal/orders"
	"github.com/imrishuroy/campus-orderflow/internal/pool"
	"github.com/imrishuroy/campus-orderflow/internal/ratelimit"
	"github.com/imrishuroy/campus-orderflow/internal/validation"
)

const (
	// compensateTimeout bounds the cleanup delete, which runs even if the caller gave up.
	compensateTimeout = 5 * time.Second
	publishTimeout    = 5 * time.Second
	listLimit         = 50
)

// Result is a stored order with all of its items.
type Result struct {
	Order orders.Order      `json:"order"`
	Items []orders.LineItem `json:"items"`
}

// Service places and reads orders through the client pool.
type Service struct {
	pool      *pool.Pool
	limiter   *ratelimit.Limiter
	cache     *cache.Cache
	sink      events.Sink
	validator *validatorv10.Validate
	log       *zap.SugaredLogger
	nowFunc   func() time.Time
	newID     func() string
}

// NewService wires the service. c may be nil to disable caching, sink may be nil to
// disable events.
func NewService(p *pool.Pool, limiter *ratelimit.Limiter, c *cache.Cache, sink events.Sink, log *zap.SugaredLogger) *Service {
	if sink == nil {
		sink = events.Discard{}
	}
	return &Service{
		pool:      p,
		limiter:   limiter,
		cache:     c,
		sink:      sink,
		validator: validation.New(),
		log:       log,
		nowFunc:   time.Now,
		newID:     uuid.NewString,
	}
}

// CreateOrder validates, rate limits, and stores an order with its items.
//
// Pool errors are returned unchanged. On *OrderItemsError the order row has been
// deleted (or the delete failure logged). The client is always released before
// the cache and event sinks are touched.
func (s *Service) CreateOrder(ctx context.Context, req validation.CreateOrderRequest) (*Result, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, &ValidationError{Fields: validation.FieldErrors(err)}
	}

	if !s.limiter.Allow(req.ActorID) {
		resetIn := s.limiter.ResetTime(req.ActorID).Sub(s.nowFunc())
		if resetIn < 0 {
			resetIn = 0
		}
		s.log.Infow("order submit rate limited", "actor_id", req.ActorID, "reset_in", resetIn)
		return nil, &RateLimitError{Remaining: s.limiter.Remaining(req.ActorID), ResetIn: resetIn}
	}

	client, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	res, err := s.write(ctx, client, req)
	if relErr := s.pool.Release(client); relErr != nil {
		s.log.Errorw("release client", "client_id", client.ID, "error", relErr)
	}
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.Created(res.Order, res.Items)
	}
	s.publish(ctx, events.FromOrder(events.OrderCreated, res.Order, res.Order.CreatedAt))

	s.log.Infow("order created",
		"order_id", res.Order.ID,
		"actor_id", res.Order.ActorID,
		"target_id", res.Order.TargetID,
		"items", len(res.Items),
		"total_cents", res.Order.TotalCents,
	)
	return res, nil
}

func (s *Service) write(ctx context.Context, client *pool.Client, req validation.CreateOrderRequest) (*Result, error) {
	store := orders.NewStore(client.Backend).WithClock(s.nowFunc)

	order := orders.Order{
		ID:            s.newID(),
		ActorID:       req.ActorID,
		TargetID:      req.TargetID,
		TotalCents:    req.TotalCents,
		ItemCount:     len(req.Items),
		PaymentMethod: req.PaymentMethod,
		Delivery: orders.Delivery{
			Location: req.Delivery.Location,
			Building: req.Delivery.Building,
			Room:     req.Delivery.Room,
			Phone:    req.Delivery.Phone,
			Notes:    req.Delivery.Notes,
		},
		Status: orders.StatusReceived,
	}
	if err := store.InsertOrder(ctx, &order); err != nil {
		s.log.Warnw("order insert failed", "order_id", order.ID, "actor_id", order.ActorID, "error", err)
		return nil, &OrderCreateError{Cause: err}
	}

	items := make([]orders.LineItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, orders.NewLineItem(s.newID(), order.ID, it.MenuItemID, it.Name, it.Quantity, it.UnitPriceCents))
	}
	if err := store.InsertItems(ctx, items); err != nil {
		s.log.Warnw("order items insert failed, removing order", "order_id", order.ID, "error", err)
		s.compensate(ctx, store, order.ID)
		return nil, &OrderItemsError{OrderID: order.ID, Cause: err}
	}

	return &Result{Order: order, Items: items}, nil
}

// compensate deletes a half-written order. It runs detached from ctx so a cancelled
// request still cleans up, and its failure never replaces the original error.
func (s *Service) compensate(ctx context.Context, store *orders.Store, orderID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensateTimeout)
	defer cancel()
	if err := store.DeleteOrder(ctx, orderID); err != nil {
		s.log.Errorw("compensating delete failed, order left without items", "order_id", orderID, "error", err)
	}
}

func (s *Service) publish(ctx context.Context, e events.Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := s.sink.Publish(ctx, e); err != nil {
		s.log.Warnw("publish event failed", "type", e.Type, "order_id", e.OrderID, "error", err)
	}
}

// GetOrder returns an order with its items, from cache when possible.
func (s *Service) GetOrder(ctx context.Context, id string) (*Result, error) {
	if s.cache != nil {
		if e, ok := s.cache.Order(id); ok {
			return &Result{Order: e.Order, Items: e.Items}, nil
		}
	}

	var res Result
	err := s.pool.With(ctx, func(c *pool.Client) error {
		store := orders.NewStore(c.Backend)
		o, err := store.Get(ctx, id)
		if err != nil {
			return err
		}
		items, err := store.Items(ctx, id)
		if err != nil {
			return err
		}
		res = Result{Order: *o, Items: items}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.PutOrder(res.Order, res.Items)
	}
	return &res, nil
}

// ListActorOrders returns an actor's most recent orders, newest first.
func (s *Service) ListActorOrders(ctx context.Context, actorID string) ([]orders.Order, error) {
	if s.cache != nil {
		if list, ok := s.cache.ActorOrders(actorID); ok {
			return list, nil
		}
	}

	var list []orders.Order
	err := s.pool.With(ctx, func(c *pool.Client) error {
		var err error
		list, err = orders.NewStore(c.Backend).ListByActor(ctx, actorID, listLimit)
		return err
	})
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.SetActorOrders(actorID, list)
	}
	return list, nil
}

// UpdateStatus applies a point-of-sale status change and refreshes cached copies.
// A concurrent change surfaces as orders.ErrStatusMismatch; the caller may re-read and retry.
func (s *Service) UpdateStatus(ctx context.Context, orderID string, next orders.Status) (*orders.Order, error) {
	var updated *orders.Order
	err := s.pool.With(ctx, func(c *pool.Client) error {
		var err error
		updated, err = orders.NewStore(c.Backend).WithClock(s.nowFunc).UpdateStatus(ctx, orderID, next)
		return err
	})
	if errors.Is(err, orders.ErrStatusMismatch) && s.cache != nil {
		// someone else moved the order; the cached copy is behind
		s.cache.Invalidate(orderID)
	}
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.UpdateOrder(*updated)
	}
	s.log.Infow("order status updated", "order_id", orderID, "status", next)
	return updated, nil
}

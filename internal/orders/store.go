package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/imrishuroy/campus-orderflow/internal/backend"
)

// Logical table names.
const (
	TableOrders = "orders"
	TableItems  = "order_items"
)

// Keys returns the key column of each order table.
func Keys() map[string]string {
	return map[string]string{
		TableOrders: "id",
		TableItems:  "id",
	}
}

// Schemas describes the order tables for fixed-schema drivers.
// Timestamps are stored as Unix microseconds.
func Schemas() []backend.TableSchema {
	return []backend.TableSchema{
		{
			Name: TableOrders,
			Key:  "id",
			Columns: []backend.Column{
				{Name: "id", Type: "TEXT"},
				{Name: "actor_id", Type: "TEXT NOT NULL"},
				{Name: "target_id", Type: "TEXT NOT NULL"},
				{Name: "total_cents", Type: "BIGINT NOT NULL"},
				{Name: "item_count", Type: "INT"},
				{Name: "payment_method", Type: "TEXT"},
				{Name: "delivery", Type: "TEXT"},
				{Name: "status", Type: "TEXT NOT NULL"},
				{Name: "created_at", Type: "BIGINT NOT NULL"},
				{Name: "status_updated_at", Type: "BIGINT NOT NULL"},
			},
		},
		{
			Name: TableItems,
			Key:  "id",
			Columns: []backend.Column{
				{Name: "id", Type: "TEXT"},
				{Name: "order_id", Type: "TEXT NOT NULL"},
				{Name: "menu_item_id", Type: "TEXT NOT NULL"},
				{Name: "name", Type: "TEXT"},
				{Name: "quantity", Type: "INT NOT NULL"},
				{Name: "unit_price_cents", Type: "BIGINT NOT NULL"},
				{Name: "line_total_cents", Type: "BIGINT NOT NULL"},
			},
		},
	}
}

// Store encapsulates operations on the order tables through one backend handle.
type Store struct {
	db      backend.Backend
	nowFunc func() time.Time
}

// NewStore creates a new orders Store.
func NewStore(db backend.Backend) *Store {
	return &Store{
		db:      db,
		nowFunc: time.Now,
	}
}

// WithClock overrides the clock used for status timestamps.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.nowFunc = now
	return s
}

func (s *Store) now() time.Time {
	return s.nowFunc().UTC().Truncate(time.Microsecond)
}

// InsertOrder writes the order row. CreatedAt/StatusUpdatedAt are set when empty.
func (s *Store) InsertOrder(ctx context.Context, o *Order) error {
	if o.CreatedAt.IsZero() {
		o.CreatedAt = s.now()
	}
	if o.StatusUpdatedAt.IsZero() {
		o.StatusUpdatedAt = o.CreatedAt
	}
	row, err := orderToRow(*o)
	if err != nil {
		return err
	}
	if _, err := s.db.Insert(ctx, TableOrders, row); err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// InsertItems writes all line items in one batched call.
func (s *Store) InsertItems(ctx context.Context, items []LineItem) error {
	rows := make([]backend.Row, 0, len(items))
	for _, it := range items {
		rows = append(rows, itemToRow(it))
	}
	if err := s.db.InsertMany(ctx, TableItems, rows); err != nil {
		return fmt.Errorf("insert items: %w", err)
	}
	return nil
}

// DeleteOrder removes the order row and any of its items.
// Items go first so a crash in between never leaves items without a parent.
func (s *Store) DeleteOrder(ctx context.Context, id string) error {
	if _, err := s.db.Delete(ctx, TableItems, map[string]any{"order_id": id}); err != nil {
		return fmt.Errorf("delete items: %w", err)
	}
	n, err := s.db.Delete(ctx, TableOrders, map[string]any{"id": id})
	if err != nil {
		return fmt.Errorf("delete order: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Get fetches an order by id. Returns ErrNotFound when absent.
func (s *Store) Get(ctx context.Context, id string) (*Order, error) {
	rows, err := s.db.Select(ctx, TableOrders, backend.Query{Filters: map[string]any{"id": id}, Limit: 1})
	if err != nil {
		return nil, fmt.Errorf("select order: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	o, err := rowToOrder(rows[0])
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// Items returns the line items of an order.
func (s *Store) Items(ctx context.Context, orderID string) ([]LineItem, error) {
	rows, err := s.db.Select(ctx, TableItems, backend.Query{Filters: map[string]any{"order_id": orderID}, OrderBy: "id"})
	if err != nil {
		return nil, fmt.Errorf("select items: %w", err)
	}
	out := make([]LineItem, 0, len(rows))
	for _, r := range rows {
		it, err := rowToItem(r)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, nil
}

// LatestCreated returns a target's newest orders by created_at, newest first.
func (s *Store) LatestCreated(ctx context.Context, targetID string, limit int) ([]Order, error) {
	return s.list(ctx, map[string]any{"target_id": targetID}, "created_at", limit)
}

// LatestUpdated returns a target's orders by status_updated_at, newest first.
func (s *Store) LatestUpdated(ctx context.Context, targetID string, limit int) ([]Order, error) {
	return s.list(ctx, map[string]any{"target_id": targetID}, "status_updated_at", limit)
}

// ListByTarget returns a target's orders newest first; limit <= 0 means all.
func (s *Store) ListByTarget(ctx context.Context, targetID string, limit int) ([]Order, error) {
	return s.list(ctx, map[string]any{"target_id": targetID}, "created_at", limit)
}

// ListByActor returns an actor's orders newest first; limit <= 0 means all.
func (s *Store) ListByActor(ctx context.Context, actorID string, limit int) ([]Order, error) {
	return s.list(ctx, map[string]any{"actor_id": actorID}, "created_at", limit)
}

func (s *Store) list(ctx context.Context, filters map[string]any, orderBy string, limit int) ([]Order, error) {
	rows, err := s.db.Select(ctx, TableOrders, backend.Query{
		Filters: filters,
		OrderBy: orderBy,
		Desc:    true,
		Limit:   limit,
	})
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	out := make([]Order, 0, len(rows))
	for _, r := range rows {
		o, err := rowToOrder(r)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

// UpdateStatus moves an order to next if the transition is allowed.
// status_updated_at is strictly increasing per order, and the write is conditional on
// the status read, so a competing writer yields ErrStatusMismatch.
func (s *Store) UpdateStatus(ctx context.Context, id string, next Status) (*Order, error) {
	o, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !o.Status.CanTransitionTo(next) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, next)
	}

	ts := s.now()
	if !ts.After(o.StatusUpdatedAt) {
		ts = o.StatusUpdatedAt.Add(time.Microsecond)
	}
	n, err := s.db.Update(ctx, TableOrders,
		map[string]any{"id": id, "status": string(o.Status)},
		backend.Row{"status": string(next), "status_updated_at": ts.UnixMicro()},
	)
	if err != nil {
		return nil, fmt.Errorf("update status: %w", err)
	}
	if n == 0 {
		return nil, ErrStatusMismatch
	}
	o.Status = next
	o.StatusUpdatedAt = ts
	return o, nil
}

func orderToRow(o Order) (backend.Row, error) {
	delivery, err := json.Marshal(o.Delivery)
	if err != nil {
		return nil, fmt.Errorf("marshal delivery: %w", err)
	}
	return backend.Row{
		"id":                o.ID,
		"actor_id":          o.ActorID,
		"target_id":         o.TargetID,
		"total_cents":       o.TotalCents,
		"item_count":        int64(o.ItemCount),
		"payment_method":    o.PaymentMethod,
		"delivery":          string(delivery),
		"status":            string(o.Status),
		"created_at":        o.CreatedAt.UnixMicro(),
		"status_updated_at": o.StatusUpdatedAt.UnixMicro(),
	}, nil
}

// rowToOrder treats an unknown status as a data error.
func rowToOrder(r backend.Row) (Order, error) {
	status, err := ParseStatus(r.String("status"))
	if err != nil {
		return Order{}, fmt.Errorf("order %s: %w", r.String("id"), err)
	}
	total, err := r.Int64("total_cents")
	if err != nil {
		return Order{}, err
	}
	count, err := r.Int64("item_count")
	if err != nil {
		return Order{}, err
	}
	created, err := r.Int64("created_at")
	if err != nil {
		return Order{}, err
	}
	updated, err := r.Int64("status_updated_at")
	if err != nil {
		return Order{}, err
	}
	var d Delivery
	if raw := r.String("delivery"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &d); err != nil {
			return Order{}, fmt.Errorf("order %s delivery: %w", r.String("id"), err)
		}
	}
	return Order{
		ID:              r.String("id"),
		ActorID:         r.String("actor_id"),
		TargetID:        r.String("target_id"),
		TotalCents:      total,
		ItemCount:       int(count),
		PaymentMethod:   r.String("payment_method"),
		Delivery:        d,
		Status:          status,
		CreatedAt:       time.UnixMicro(created).UTC(),
		StatusUpdatedAt: time.UnixMicro(updated).UTC(),
	}, nil
}

func itemToRow(it LineItem) backend.Row {
	return backend.Row{
		"id":               it.ID,
		"order_id":         it.OrderID,
		"menu_item_id":     it.MenuItemID,
		"name":             it.Name,
		"quantity":         int64(it.Quantity),
		"unit_price_cents": it.UnitPriceCents,
		"line_total_cents": it.LineTotalCents,
	}
}

func rowToItem(r backend.Row) (LineItem, error) {
	qty, err := r.Int64("quantity")
	if err != nil {
		return LineItem{}, err
	}
	unit, err := r.Int64("unit_price_cents")
	if err != nil {
		return LineItem{}, err
	}
	total, err := r.Int64("line_total_cents")
	if err != nil {
		return LineItem{}, err
	}
	return LineItem{
		ID:             r.String("id"),
		OrderID:        r.String("order_id"),
		MenuItemID:     r.String("menu_item_id"),
		Name:           r.String("name"),
		Quantity:       int(qty),
		UnitPriceCents: unit,
		LineTotalCents: total,
	}, nil
}

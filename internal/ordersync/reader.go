package ordersync

import (
	"context"

	"github.com/imrishuroy/campus-orderflow/internal/orders"
	"github.com/imrishuroy/campus-orderflow/internal/pool"
)

// Reader is the read side an engine polls. Lists are newest first.
type Reader interface {
	LatestCreated(ctx context.Context, targetID string, limit int) ([]orders.Order, error)
	LatestUpdated(ctx context.Context, targetID string, limit int) ([]orders.Order, error)
	ListByTarget(ctx context.Context, targetID string, limit int) ([]orders.Order, error)
}

// PooledReader reads through the client pool, holding a client for one query.
type PooledReader struct {
	pool *pool.Pool
}

var _ Reader = (*PooledReader)(nil)

func NewPooledReader(p *pool.Pool) *PooledReader {
	return &PooledReader{pool: p}
}

func (r *PooledReader) LatestCreated(ctx context.Context, targetID string, limit int) ([]orders.Order, error) {
	return r.read(ctx, func(s *orders.Store) ([]orders.Order, error) {
		return s.LatestCreated(ctx, targetID, limit)
	})
}

func (r *PooledReader) LatestUpdated(ctx context.Context, targetID string, limit int) ([]orders.Order, error) {
	return r.read(ctx, func(s *orders.Store) ([]orders.Order, error) {
		return s.LatestUpdated(ctx, targetID, limit)
	})
}

func (r *PooledReader) ListByTarget(ctx context.Context, targetID string, limit int) ([]orders.Order, error) {
	return r.read(ctx, func(s *orders.Store) ([]orders.Order, error) {
		return s.ListByTarget(ctx, targetID, limit)
	})
}

func (r *PooledReader) read(ctx context.Context, fn func(*orders.Store) ([]orders.Order, error)) ([]orders.Order, error) {
	var out []orders.Order
	err := r.pool.With(ctx, func(c *pool.Client) error {
		var err error
		out, err = fn(orders.NewStore(c.Backend))
		return err
	})
	return out, err
}

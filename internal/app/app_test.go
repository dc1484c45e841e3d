package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/imrishuroy/campus-orderflow/internal/config"
	"github.com/imrishuroy/campus-orderflow/internal/orders"
	"github.com/imrishuroy/campus-orderflow/internal/pool"
	"github.com/imrishuroy/campus-orderflow/internal/ratelimit"
	"github.com/imrishuroy/campus-orderflow/internal/validation"
)

func memoryConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("BACKEND_DRIVER", "memory")
	t.Setenv("POOL_SIZE", "3")
	t.Setenv("SYNC_TARGETS", "cafe-1,cafe-2")
	cfg, err := config.Load("")
	require.NoError(t, err)
	return cfg
}

func TestNew_MemoryDriver(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, memoryConfig(t), zap.NewNop().Sugar())
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, 3, a.Pool.Status().Total)
	assert.NotNil(t, a.Limits.Get(ratelimit.OrderSubmit))
	assert.Nil(t, a.Metrics, "metrics disabled without a namespace")

	require.NoError(t, a.Start(ctx))
	assert.Equal(t, []string{"cafe-1", "cafe-2"}, a.Manager.Targets())

	res, err := a.Service.CreateOrder(ctx, validation.CreateOrderRequest{
		ActorID:       "student-1",
		TargetID:      "cafe-1",
		Items:         []validation.Item{{MenuItemID: "m-1", Name: "Idli", Quantity: 2, UnitPriceCents: 90}},
		TotalCents:    180,
		Delivery:      validation.DeliveryInfo{Location: "Gate 2", Phone: "5550100"},
		PaymentMethod: "wallet",
	})
	require.NoError(t, err)

	rec, created, err := a.Idempotency.Begin(ctx, "k", "student-1")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "k", rec.Key)

	require.NoError(t, a.Close())
	_, err = a.Service.GetOrder(ctx, res.Order.ID)
	assert.NoError(t, err, "cached reads survive shutdown")
	_, err = a.Service.ListActorOrders(ctx, "someone-else")
	assert.ErrorIs(t, err, pool.ErrClosed)
}

func TestPoolGauges(t *testing.T) {
	cfg := memoryConfig(t)
	a, err := New(context.Background(), cfg, zap.NewNop().Sugar())
	require.NoError(t, err)
	defer a.Close()

	c, err := a.Pool.Acquire(context.Background())
	require.NoError(t, err)
	defer a.Pool.Release(c)

	gauges := PoolGauges(a.Pool)()
	byName := map[string]float64{}
	for _, g := range gauges {
		byName[g.Name] = g.Value
	}
	assert.Equal(t, 1.0, byName["PoolInUse"])
	assert.Equal(t, 2.0, byName["PoolAvailable"])
	assert.InDelta(t, 33.3, byName["PoolUtilization"], 0.1)
}

func TestWatchedTarget_RefreshesCacheOnExternalStatusChange(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, memoryConfig(t), zap.NewNop().Sugar())
	require.NoError(t, err)
	defer a.Close()
	require.NoError(t, a.Start(ctx))

	e, ok := a.Manager.Engine("cafe-1")
	require.True(t, ok)
	require.NoError(t, e.Tick(ctx))

	res, err := a.Service.CreateOrder(ctx, validation.CreateOrderRequest{
		ActorID:       "student-1",
		TargetID:      "cafe-1",
		Items:         []validation.Item{{MenuItemID: "m-1", Name: "Dosa", Quantity: 1, UnitPriceCents: 150}},
		TotalCents:    150,
		Delivery:      validation.DeliveryInfo{Location: "Gate 2", Phone: "5550100"},
		PaymentMethod: "cash",
	})
	require.NoError(t, err)
	_, err = a.Service.ListActorOrders(ctx, "student-1")
	require.NoError(t, err)

	// a separate process (the status worker) writes straight to the backend
	c, err := a.Pool.Acquire(ctx)
	require.NoError(t, err)
	_, err = orders.NewStore(c.Backend).UpdateStatus(ctx, res.Order.ID, orders.StatusPreparing)
	require.NoError(t, a.Pool.Release(c))
	require.NoError(t, err)

	require.NoError(t, e.Tick(ctx))

	got, err := a.Service.GetOrder(ctx, res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPreparing, got.Order.Status)
	assert.Len(t, got.Items, 1)

	list, err := a.Service.ListActorOrders(ctx, "student-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, orders.StatusPreparing, list[0].Status)
}

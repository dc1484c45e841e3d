// Package app wires the order core from configuration. Both binaries build on it.
package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/imrishuroy/campus-orderflow/internal/aws"
	"github.com/imrishuroy/campus-orderflow/internal/backend"
	"github.com/imrishuroy/campus-orderflow/internal/cache"
	"github.com/imrishuroy/campus-orderflow/internal/config"
	"github.com/imrishuroy/campus-orderflow/internal/events"
	"github.com/imrishuroy/campus-orderflow/internal/idempotency"
	"github.com/imrishuroy/campus-orderflow/internal/ingestion"
	"github.com/imrishuroy/campus-orderflow/internal/orders"
	"github.com/imrishuroy/campus-orderflow/internal/ordersync"
	"github.com/imrishuroy/campus-orderflow/internal/pool"
	"github.com/imrishuroy/campus-orderflow/internal/ratelimit"
)

const (
	serviceName     = "campus-orderflow"
	broadcastBuffer = 32
)

// App holds the wired components.
type App struct {
	Config      *config.Config
	Log         *zap.SugaredLogger
	Pool        *pool.Pool
	Limits      *ratelimit.Registry
	Cache       *cache.Cache
	Broadcaster *events.Broadcaster
	Sink        events.Sink
	Service     *ingestion.Service
	Manager     *ordersync.Manager
	Idempotency *idempotency.Store
	Metrics     *aws.MetricsReporter // nil when metrics.namespace is empty

	awsClients *aws.AWSClients
	closers    []func() error
}

// New builds every component. ctx bounds the sync engines started later by Start.
func New(ctx context.Context, cfg *config.Config, log *zap.SugaredLogger) (*App, error) {
	a := &App{Config: cfg, Log: log}

	shared, factory, err := a.backend(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Pool, err = pool.New(pool.Config{
		Size:              cfg.Pool.Size,
		MaxWaiters:        cfg.Pool.MaxWaiters,
		AcquireTimeout:    cfg.Pool.AcquireTimeout,
		WarningThreshold:  cfg.Pool.WarningPct,
		CriticalThreshold: cfg.Pool.CriticalPct,
	}, factory, log)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("build pool: %w", err)
	}

	a.Limits, err = ratelimit.NewRegistry(map[string]ratelimit.Class{
		ratelimit.OrderSubmit: {Limit: cfg.OrderSubmit.Limit, Window: cfg.OrderSubmit.Window},
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	cc := cache.DefaultConfig()
	cc.Size, cc.TTL = cfg.Cache.Size, cfg.Cache.TTL
	a.Cache = cache.New(cc)

	if err := a.sinks(ctx); err != nil {
		a.Close()
		return nil, err
	}

	a.Service = ingestion.NewService(a.Pool, a.Limits.Get(ratelimit.OrderSubmit), a.Cache, a.Sink, log)
	a.Manager = ordersync.NewManager(ctx, ordersync.NewPooledReader(a.Pool), ordersync.Config{
		Interval:    cfg.Sync.Interval,
		UpdateBatch: cfg.Sync.UpdateBatch,
	}, events.Multi{a.Cache, a.Sink}, log)
	a.Idempotency = idempotency.NewStore(shared, cfg.IdempotencyTTL)

	if cfg.Metrics.Namespace != "" {
		clients, err := a.aws(ctx)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Metrics = aws.NewMetricsReporter(clients.CloudWatch, cfg.Metrics.Namespace,
			map[string]string{"Service": serviceName}, PoolGauges(a.Pool), log)
	}

	log.Infow("app wired", "config", cfg.String())
	return a, nil
}

// Start watches the configured targets and starts the metrics loop.
func (a *App) Start(ctx context.Context) error {
	for _, target := range a.Config.Sync.Targets {
		if _, _, err := a.Manager.Watch(target); err != nil {
			return fmt.Errorf("watch target %s: %w", target, err)
		}
	}
	if a.Metrics != nil {
		go a.Metrics.Run(ctx, a.Config.Metrics.Interval)
	}
	return nil
}

// Close stops engines, fails pending pool waiters and releases connections.
func (a *App) Close() error {
	if a.Manager != nil {
		a.Manager.StopAll()
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
	if a.Broadcaster != nil {
		a.Broadcaster.Close()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) aws(ctx context.Context) (*aws.AWSClients, error) {
	if a.awsClients != nil {
		return a.awsClients, nil
	}
	clients, err := aws.NewAWSClients(ctx, aws.Settings{Region: a.Config.AWS.Region, Endpoint: a.Config.AWS.Endpoint})
	if err != nil {
		return nil, fmt.Errorf("init aws clients: %w", err)
	}
	a.awsClients = clients
	return clients, nil
}

func tableKeys() map[string]string {
	keys := orders.Keys()
	for t, k := range idempotency.Keys() {
		keys[t] = k
	}
	return keys
}

func tableSchemas() []backend.TableSchema {
	return append(orders.Schemas(), idempotency.Schemas()...)
}

// backend returns a handle for shared use and the factory the pool builds its
// clients with.
func (a *App) backend(ctx context.Context) (backend.Backend, func(int) (backend.Backend, error), error) {
	cfg := a.Config
	switch cfg.Backend.Driver {
	case config.DriverMemory:
		mem := backend.NewMemoryStore(tableKeys())
		return mem, func(int) (backend.Backend, error) { return mem, nil }, nil

	case config.DriverDynamoDB:
		clients, err := a.aws(ctx)
		if err != nil {
			return nil, nil, err
		}
		ds := backend.NewDynamoStore(clients.DynamoDB, tableKeys(), map[string]string{
			orders.TableOrders: cfg.Tables.Orders,
			orders.TableItems:  cfg.Tables.OrderItems,
			idempotency.Table:  cfg.Tables.Idempotency,
		})
		// the SDK client is safe for concurrent use; the pool bounds in-flight calls
		return ds, func(int) (backend.Backend, error) { return ds, nil }, nil

	case config.DriverPostgres:
		db, err := backend.OpenPostgres(ctx, cfg.Backend.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, db.Close)
		if err := backend.Migrate(ctx, db, tableSchemas()); err != nil {
			return nil, nil, err
		}
		// one dedicated session per pool client plus headroom for shared use
		db.SetMaxOpenConns(cfg.Pool.Size + 2)
		schemas := tableSchemas()
		open := func(ctx context.Context) (backend.SQLSession, error) { return db.Conn(ctx) }
		factory := func(id int) (backend.Backend, error) {
			conn, err := db.Conn(ctx)
			if err != nil {
				return nil, fmt.Errorf("open session %d: %w", id, err)
			}
			store := backend.NewPostgresStore(conn, schemas).WithReopen(open)
			// closers run in reverse, so sessions close before db
			a.closers = append(a.closers, store.Close)
			return store, nil
		}
		return backend.NewPostgresStore(db, schemas), factory, nil
	}
	return nil, nil, fmt.Errorf("unknown backend driver %q", cfg.Backend.Driver)
}

func (a *App) sinks(ctx context.Context) error {
	a.Broadcaster = events.NewBroadcaster(broadcastBuffer)
	sinks := events.Multi{a.Broadcaster}

	if url := a.Config.Events.SQSQueueURL; url != "" {
		clients, err := a.aws(ctx)
		if err != nil {
			return err
		}
		sinks = append(sinks, events.NewSQSSink(aws.NewPublisher(clients.SQS, url)))
	}
	if url := a.Config.Events.AMQPURL; url != "" {
		s, err := events.NewAMQPSink(url, a.Config.Events.AMQPQueue)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, s.Close)
		sinks = append(sinks, s)
	}
	a.Sink = sinks
	return nil
}

// PoolGauges reports pool status as CloudWatch gauges.
func PoolGauges(p *pool.Pool) func() []aws.Gauge {
	return func() []aws.Gauge {
		s := p.Status()
		return []aws.Gauge{
			{Name: "PoolInUse", Value: float64(s.InUse)},
			{Name: "PoolAvailable", Value: float64(s.Available)},
			{Name: "PoolWaiting", Value: float64(s.Waiting)},
			{Name: "PoolUtilization", Value: s.UtilizationPct, Percent: true},
			{Name: "PoolQueueUtilization", Value: s.QueueUtilizationPct, Percent: true},
		}
	}
}

package ordersync

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/imrishuroy/campus-orderflow/internal/events"
	"github.com/imrishuroy/campus-orderflow/internal/orders"
)

const publishTimeout = 5 * time.Second

// Manager runs one engine per watched target and turns their callbacks into events.
type Manager struct {
	ctx    context.Context
	reader Reader
	cfg    Config
	sink   events.Sink
	log    *zap.SugaredLogger

	mu      sync.Mutex
	engines map[string]*Engine
}

// NewManager returns a manager whose engines live until ctx ends or StopAll is called.
func NewManager(ctx context.Context, reader Reader, cfg Config, sink events.Sink, log *zap.SugaredLogger) *Manager {
	if sink == nil {
		sink = events.Discard{}
	}
	return &Manager{
		ctx:     ctx,
		reader:  reader,
		cfg:     cfg,
		sink:    sink,
		log:     log,
		engines: make(map[string]*Engine),
	}
}

// Watch starts an engine for targetID unless one is already running.
// It reports whether a new engine was started.
func (m *Manager) Watch(targetID string) (*Engine, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.engines[targetID]; ok {
		return e, false, nil
	}
	e := NewEngine(targetID, m.reader, m.cfg, Handlers{
		OnNewOrder: func(o orders.Order) {
			m.publish(events.FromOrder(events.OrderNew, o, o.CreatedAt))
		},
		OnOrderUpdate: func(o orders.Order) {
			m.publish(events.FromOrder(events.OrderUpdated, o, o.StatusUpdatedAt))
		},
	}, m.log)
	if err := e.Start(m.ctx); err != nil {
		return nil, false, err
	}
	m.engines[targetID] = e
	return e, true, nil
}

// Unwatch stops and forgets the engine for targetID.
func (m *Manager) Unwatch(targetID string) bool {
	m.mu.Lock()
	e, ok := m.engines[targetID]
	delete(m.engines, targetID)
	m.mu.Unlock()

	if ok {
		e.Stop()
	}
	return ok
}

// Engine returns the engine watching targetID.
func (m *Manager) Engine(targetID string) (*Engine, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.engines[targetID]
	return e, ok
}

// Targets lists watched targets in sorted order.
func (m *Manager) Targets() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.engines))
	for t := range m.engines {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// StopAll stops every engine and waits for them.
func (m *Manager) StopAll() {
	m.mu.Lock()
	engines := m.engines
	m.engines = make(map[string]*Engine)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, e := range engines {
		wg.Add(1)
		go func(e *Engine) {
			defer wg.Done()
			e.Stop()
		}(e)
	}
	wg.Wait()
}

func (m *Manager) publish(ev events.Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(m.ctx), publishTimeout)
	defer cancel()
	if err := m.sink.Publish(ctx, ev); err != nil {
		m.log.Warnw("publish event failed", "type", ev.Type, "order_id", ev.OrderID, "target_id", ev.TargetID, "error", err)
	}
}

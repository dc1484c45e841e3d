// Package ordersync watches a target's orders by polling and reports each new
// order and each status change once, oldest first.
//
// An engine keeps two watermarks: the newest created_at and the newest
// status_updated_at it has processed. Only strictly newer timestamps are
// dispatched, so an unchanged backend produces no callbacks however often it
// is polled.
package ordersync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/imrishuroy/campus-orderflow/internal/orders"
)

// ErrStopped is returned by Tick and Start once Stop has been called.
var ErrStopped = errors.New("ordersync: engine stopped")

// State is the engine lifecycle.
type State int

const (
	Uninitialized State = iota
	Baselined
	Observing
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Baselined:
		return "baselined"
	case Observing:
		return "observing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Cursor holds the watermarks. Both only move forward.
type Cursor struct {
	LastSeenCreatedAt time.Time `json:"last_seen_created_at"`
	LastSeenUpdatedAt time.Time `json:"last_seen_updated_at"`
}

// Handlers receive dispatched orders. Either may be nil. They run inside the
// tick, so a slow handler delays the next poll.
type Handlers struct {
	OnNewOrder    func(orders.Order)
	OnOrderUpdate func(orders.Order)
}

// Config tunes an engine.
//
// UpdateBatch bounds how many orders each stream reads per tick. When more
// than UpdateBatch orders are created (or change status) between two ticks,
// only the newest UpdateBatch are reported and the older ones are skipped;
// Refresh still returns them.
type Config struct {
	Interval     time.Duration
	UpdateBatch  int // orders read per stream per tick
	SeenCapacity int // (order, timestamp) pairs remembered
	RefreshLimit int // orders returned by Refresh; 0 means all
}

func DefaultConfig() Config {
	return Config{
		Interval:     3 * time.Second,
		UpdateBatch:  10,
		SeenCapacity: 512,
		RefreshLimit: 100,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.UpdateBatch <= 0 {
		c.UpdateBatch = d.UpdateBatch
	}
	if c.SeenCapacity <= 0 {
		c.SeenCapacity = d.SeenCapacity
	}
	return c
}

// Engine polls one target.
//
// tickMu serializes ticks and guards state, cursor and seen. mu guards the loop
// lifecycle fields.
type Engine struct {
	targetID string
	reader   Reader
	cfg      Config
	handlers Handlers
	log      *zap.SugaredLogger

	tickMu  sync.Mutex
	state   State
	cursor  Cursor
	seen    *seenSet
	stopped bool

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

func NewEngine(targetID string, reader Reader, cfg Config, h Handlers, log *zap.SugaredLogger) *Engine {
	cfg = cfg.withDefaults()
	return &Engine{
		targetID: targetID,
		reader:   reader,
		cfg:      cfg,
		handlers: h,
		log:      log.With("target_id", targetID),
		seen:     newSeenSet(cfg.SeenCapacity),
	}
}

func (e *Engine) TargetID() string { return e.targetID }

func (e *Engine) State() State {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()
	return e.state
}

func (e *Engine) Cursor() Cursor {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()
	return e.cursor
}

// Start runs a tick now and then every Interval until ctx ends or Stop is called.
// Starting a running engine is a no-op.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.tickMu.Lock()
	stopped := e.stopped
	e.tickMu.Unlock()
	if stopped {
		return ErrStopped
	}
	if e.running {
		return nil
	}

	loopCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})
	e.running = true
	go e.loop(loopCtx, e.done)
	e.log.Infow("sync engine started", "interval", e.cfg.Interval)
	return nil
}

func (e *Engine) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	for {
		// failures are logged by Tick and retried on the next interval
		_ = e.Tick(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Stop ends the loop and waits for an in-flight tick. No tick runs after Stop
// returns. Calling Stop more than once is safe.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel, done := e.cancel, e.done
	e.running = false
	e.cancel, e.done = nil, nil
	e.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	e.tickMu.Lock()
	if !e.stopped {
		e.stopped = true
		e.log.Infow("sync engine stopped", "cursor", e.cursor)
	}
	e.tickMu.Unlock()
}

// Tick polls once. A read failure is logged and returned; the cursor is left
// untouched so the next tick retries from the same place.
func (e *Engine) Tick(ctx context.Context) error {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	if e.stopped {
		return ErrStopped
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var err error
	if e.state == Uninitialized {
		err = e.baseline(ctx)
	} else {
		err = e.observe(ctx)
	}
	if err != nil {
		e.log.Warnw("sync tick skipped", "state", e.state, "error", err)
	}
	return err
}

func (e *Engine) baseline(ctx context.Context) error {
	created, err := e.reader.LatestCreated(ctx, e.targetID, 1)
	if err != nil {
		return fmt.Errorf("read latest created: %w", err)
	}
	updated, err := e.reader.LatestUpdated(ctx, e.targetID, 1)
	if err != nil {
		return fmt.Errorf("read latest updated: %w", err)
	}

	if len(created) > 0 {
		e.cursor.LastSeenCreatedAt = created[0].CreatedAt
	}
	if len(updated) > 0 {
		e.cursor.LastSeenUpdatedAt = updated[0].StatusUpdatedAt
	}
	e.state = Baselined
	e.log.Infow("sync baseline set", "cursor", e.cursor)
	return nil
}

func (e *Engine) observe(ctx context.Context) error {
	// read both streams before touching the cursor
	created, err := e.reader.LatestCreated(ctx, e.targetID, e.cfg.UpdateBatch)
	if err != nil {
		return fmt.Errorf("read latest created: %w", err)
	}
	updated, err := e.reader.LatestUpdated(ctx, e.targetID, e.cfg.UpdateBatch)
	if err != nil {
		return fmt.Errorf("read latest updated: %w", err)
	}
	e.state = Observing

	newCreated := newerThan(created, e.cursor.LastSeenCreatedAt, createdAt)
	newUpdated := newerThan(updated, e.cursor.LastSeenUpdatedAt, statusUpdatedAt)
	if len(newCreated) == e.cfg.UpdateBatch || len(newUpdated) == e.cfg.UpdateBatch {
		e.log.Warnw("full batch newer than cursor, older changes may be skipped", "batch", e.cfg.UpdateBatch)
	}

	for _, o := range newCreated {
		e.cursor.LastSeenCreatedAt = o.CreatedAt
		if o.Status != orders.StatusReceived {
			continue
		}
		if e.seen.add("new", o.ID, o.CreatedAt) && e.handlers.OnNewOrder != nil {
			e.handlers.OnNewOrder(o)
		}
	}

	for _, o := range newUpdated {
		e.cursor.LastSeenUpdatedAt = o.StatusUpdatedAt
		if neverUpdated(o) {
			continue
		}
		if e.seen.add("update", o.ID, o.StatusUpdatedAt) && e.handlers.OnOrderUpdate != nil {
			e.handlers.OnOrderUpdate(o)
		}
	}
	return nil
}

// Refresh returns the target's current orders, newest first, without touching
// the cursor.
func (e *Engine) Refresh(ctx context.Context) ([]orders.Order, error) {
	list, err := e.reader.ListByTarget(ctx, e.targetID, e.cfg.RefreshLimit)
	if err != nil {
		return nil, fmt.Errorf("refresh target %s: %w", e.targetID, err)
	}
	return list, nil
}

// TestConnection performs a minimal read against the target.
func (e *Engine) TestConnection(ctx context.Context) error {
	if _, err := e.reader.LatestCreated(ctx, e.targetID, 1); err != nil {
		return fmt.Errorf("test connection: %w", err)
	}
	return nil
}

func createdAt(o orders.Order) time.Time { return o.CreatedAt }
func statusUpdatedAt(o orders.Order) time.Time { return o.StatusUpdatedAt }

// newerThan returns the orders strictly after mark, oldest first.
func newerThan(list []orders.Order, mark time.Time, ts func(orders.Order) time.Time) []orders.Order {
	out := make([]orders.Order, 0, len(list))
	for _, o := range list {
		if ts(o).After(mark) {
			out = append(out, o)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return ts(out[i]).Before(ts(out[j])) })
	return out
}

// neverUpdated reports an order whose only status write is its creation. The
// created stream reports it, so the update stream only moves past it.
func neverUpdated(o orders.Order) bool {
	return o.Status == orders.StatusReceived && o.StatusUpdatedAt.Equal(o.CreatedAt)
}

// Package pool bounds concurrent backend access to a fixed set of client handles.
//
// Callers beyond the pool size wait in a bounded FIFO queue. A released client is
// handed straight to the oldest waiter so a fast-path caller cannot take it first.
package pool

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/imrishuroy/campus-orderflow/internal/backend"
)

var (
	// ErrOverloaded means every client is busy and the waiter queue is full.
	ErrOverloaded = errors.New("pool: overloaded")
	// ErrTimeout means a queued caller was not served before its deadline.
	ErrTimeout = errors.New("pool: acquire timeout")
	// ErrClosed is returned once Close has been called.
	ErrClosed = errors.New("pool: closed")
	// ErrNotLent is returned when releasing a client this pool has not lent out.
	ErrNotLent = errors.New("pool: client not lent")
)

// Health classifies utilization.
type Health string

const (
	Healthy  Health = "healthy"
	Warning  Health = "warning"
	Critical Health = "critical"
)

// Config sizes the pool. Thresholds are utilization percentages.
type Config struct {
	Size              int
	MaxWaiters        int
	AcquireTimeout    time.Duration
	WarningThreshold  float64
	CriticalThreshold float64
}

// DefaultConfig matches the campus deployment: 10 clients, 50 waiters, 10s deadline.
func DefaultConfig() Config {
	return Config{
		Size:              10,
		MaxWaiters:        50,
		AcquireTimeout:    10 * time.Second,
		WarningThreshold:  70,
		CriticalThreshold: 90,
	}
}

func (c Config) validate() error {
	switch {
	case c.Size <= 0:
		return fmt.Errorf("pool size must be positive, got %d", c.Size)
	case c.MaxWaiters < 0:
		return fmt.Errorf("max waiters must not be negative, got %d", c.MaxWaiters)
	case c.AcquireTimeout <= 0:
		return fmt.Errorf("acquire timeout must be positive, got %s", c.AcquireTimeout)
	case c.WarningThreshold > c.CriticalThreshold:
		return fmt.Errorf("warning threshold %.0f above critical %.0f", c.WarningThreshold, c.CriticalThreshold)
	}
	return nil
}

// Client is one backend session, lent to a single caller at a time.
type Client struct {
	ID      int
	Backend backend.Backend

	lent bool
}

type waiter struct {
	ch     chan *Client
	queued bool
}

// Status is a point-in-time view of the pool.
type Status struct {
	Total               int     `json:"total"`
	Available           int     `json:"available"`
	InUse               int     `json:"in_use"`
	Waiting             int     `json:"waiting"`
	UtilizationPct      float64 `json:"utilization_pct"`
	QueueUtilizationPct float64 `json:"queue_utilization_pct"`
	Health              Health  `json:"health"`
}

// Pool owns the clients. idle, the lent flags and waiters change only under mu.
type Pool struct {
	cfg Config
	log *zap.SugaredLogger

	mu      sync.Mutex
	clients []*Client
	idle    []*Client
	waiters *list.List
	closed  bool
}

// New builds cfg.Size clients up front with factory.
func New(cfg Config, factory func(id int) (backend.Backend, error), log *zap.SugaredLogger) (*Pool, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	p := &Pool{
		cfg:     cfg,
		log:     log,
		clients: make([]*Client, 0, cfg.Size),
		idle:    make([]*Client, 0, cfg.Size),
		waiters: list.New(),
	}
	for i := 0; i < cfg.Size; i++ {
		b, err := factory(i)
		if err != nil {
			return nil, fmt.Errorf("create client %d: %w", i, err)
		}
		c := &Client{ID: i, Backend: b}
		p.clients = append(p.clients, c)
		p.idle = append(p.idle, c)
	}
	return p, nil
}

// Acquire returns an idle client, or queues the caller until one is released to it.
// It fails with ErrOverloaded when the queue is full, ErrTimeout after the configured
// deadline, or the context error when ctx ends first. It never retries.
func (p *Pool) Acquire(ctx context.Context) (*Client, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	if len(p.idle) > 0 {
		c := p.idle[0]
		p.idle = p.idle[1:]
		c.lent = true
		p.mu.Unlock()
		return c, nil
	}
	if p.waiters.Len() >= p.cfg.MaxWaiters {
		waiting := p.waiters.Len()
		p.mu.Unlock()
		p.log.Warnw("pool overloaded", "size", p.cfg.Size, "waiting", waiting)
		return nil, ErrOverloaded
	}
	w := &waiter{ch: make(chan *Client, 1), queued: true}
	elem := p.waiters.PushBack(w)
	p.mu.Unlock()

	timer := time.NewTimer(p.cfg.AcquireTimeout)
	defer timer.Stop()

	select {
	case c, ok := <-w.ch:
		if !ok {
			return nil, ErrClosed
		}
		return c, nil
	case <-timer.C:
		return p.abandon(w, elem, ErrTimeout)
	case <-ctx.Done():
		return p.abandon(w, elem, ctx.Err())
	}
}

// abandon removes a waiter that gave up. If a release already handed it a client the
// hand-off wins and the client is returned to the caller.
func (p *Pool) abandon(w *waiter, elem *list.Element, cause error) (*Client, error) {
	p.mu.Lock()
	if w.queued {
		p.waiters.Remove(elem)
		w.queued = false
		p.mu.Unlock()
		if errors.Is(cause, ErrTimeout) {
			p.log.Warnw("pool acquire timed out", "timeout", p.cfg.AcquireTimeout)
		}
		return nil, cause
	}
	p.mu.Unlock()

	c, ok := <-w.ch
	if !ok {
		return nil, ErrClosed
	}
	return c, nil
}

// Release returns c to the pool, serving the longest-waiting caller first.
func (p *Pool) Release(c *Client) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c == nil || c.ID < 0 || c.ID >= len(p.clients) || p.clients[c.ID] != c || !c.lent {
		p.log.Errorw("release of client not lent by this pool", "client", c)
		return ErrNotLent
	}
	if !p.closed {
		if front := p.waiters.Front(); front != nil {
			w := p.waiters.Remove(front).(*waiter)
			w.queued = false
			w.ch <- c
			return nil
		}
	}
	c.lent = false
	p.idle = append(p.idle, c)
	return nil
}

// With acquires a client, runs fn, and always releases.
func (p *Pool) With(ctx context.Context, fn func(*Client) error) error {
	c, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = p.Release(c) }()
	return fn(c)
}

// Status reports utilization and health.
func (p *Pool) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	total := len(p.clients)
	available := len(p.idle)
	inUse := total - available
	waiting := p.waiters.Len()

	s := Status{
		Total:          total,
		Available:      available,
		InUse:          inUse,
		Waiting:        waiting,
		UtilizationPct: float64(inUse) * 100 / float64(total),
	}
	if p.cfg.MaxWaiters > 0 {
		s.QueueUtilizationPct = float64(waiting) * 100 / float64(p.cfg.MaxWaiters)
	}
	switch {
	case s.UtilizationPct < p.cfg.WarningThreshold:
		s.Health = Healthy
	case s.UtilizationPct < p.cfg.CriticalThreshold:
		s.Health = Warning
	default:
		s.Health = Critical
	}
	return s
}

// Close fails every queued caller with ErrClosed and rejects further acquisitions.
// Lent clients may still be released.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for e := p.waiters.Front(); e != nil; e = e.Next() {
		w := e.Value.(*waiter)
		w.queued = false
		close(w.ch)
	}
	p.waiters.Init()
}

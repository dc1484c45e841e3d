package ratelimit

import (
	"fmt"
	"time"
)

// OrderSubmit is the class guarding order creation.
const OrderSubmit = "order_submit"

// Class configures one named limiter.
type Class struct {
	Limit  int
	Window time.Duration
}

// Registry holds one Limiter per operation class. It is fixed after NewRegistry.
type Registry struct {
	limiters map[string]*Limiter
}

func NewRegistry(classes map[string]Class) (*Registry, error) {
	r := &Registry{limiters: make(map[string]*Limiter, len(classes))}
	for name, c := range classes {
		if c.Limit < 1 || c.Window <= 0 {
			return nil, fmt.Errorf("rate limit class %q: invalid limit %d per %s", name, c.Limit, c.Window)
		}
		r.limiters[name] = New(c.Limit, c.Window)
	}
	return r, nil
}

// Get returns the limiter for class, or nil when the class is not configured.
func (r *Registry) Get(class string) *Limiter {
	return r.limiters[class]
}


package ingestion

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrRateLimited matches *RateLimitError.
	ErrRateLimited = errors.New("rate limit exceeded")
	// ErrOrderCreateFailed matches *OrderCreateError.
	ErrOrderCreateFailed = errors.New("order create failed")
	// ErrOrderItemsFailed matches *OrderItemsError.
	ErrOrderItemsFailed = errors.New("order items failed")
	// ErrInvalidRequest matches *ValidationError.
	ErrInvalidRequest = errors.New("invalid order request")
)

// RateLimitError is returned before any backend call when an actor is over its limit.
type RateLimitError struct {
	Remaining int
	ResetIn   time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded: %d remaining, resets in %s", e.Remaining, e.ResetIn.Round(time.Second))
}

func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }

// OrderCreateError means the order row was not written. Nothing needs cleaning up.
type OrderCreateError struct {
	Cause error
}

func (e *OrderCreateError) Error() string { return fmt.Sprintf("create order: %v", e.Cause) }

func (e *OrderCreateError) Unwrap() error { return e.Cause }

func (e *OrderCreateError) Is(target error) bool { return target == ErrOrderCreateFailed }

// OrderItemsError means the items write failed and the order row was deleted again.
// Cause is the items failure; a failed cleanup is only logged.
type OrderItemsError struct {
	OrderID string
	Cause   error
}

func (e *OrderItemsError) Error() string {
	return fmt.Sprintf("create items for order %s: %v", e.OrderID, e.Cause)
}

func (e *OrderItemsError) Unwrap() error { return e.Cause }

func (e *OrderItemsError) Is(target error) bool { return target == ErrOrderItemsFailed }

// ValidationError carries field -> rule failures.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid order request: %v", e.Fields)
}

func (e *ValidationError) Is(target error) bool { return target == ErrInvalidRequest }

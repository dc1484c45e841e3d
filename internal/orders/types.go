package orders

import (
	"errors"
	"fmt"
	"time"
)

// Status is the lifecycle state of an order.
type Status string

// Order statuses
const (
	StatusReceived  Status = "received"
	StatusConfirmed Status = "confirmed"
	StatusPreparing Status = "preparing"
	StatusOnTheWay  Status = "on_the_way"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

var (
	ErrUnknownStatus     = errors.New("unknown order status")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNotFound          = errors.New("order not found")
	// ErrStatusMismatch means the order changed status between read and conditional write.
	ErrStatusMismatch = errors.New("status mismatch/conditional failed")
)

// progression is the forward chain; cancelled sits outside it.
var progression = map[Status]int{
	StatusReceived:  0,
	StatusConfirmed: 1,
	StatusPreparing: 2,
	StatusOnTheWay:  3,
	StatusCompleted: 4,
}

// ParseStatus rejects anything outside the closed set.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if _, ok := progression[st]; ok || st == StatusCancelled {
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
}

// IsTerminal reports whether no further transitions are allowed.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// CanTransitionTo allows forward moves along the chain (steps may be skipped)
// and cancellation from any non-terminal state.
func (s Status) CanTransitionTo(next Status) bool {
	if s.IsTerminal() {
		return false
	}
	if next == StatusCancelled {
		return true
	}
	from, ok := progression[s]
	if !ok {
		return false
	}
	to, ok := progression[next]
	return ok && to > from
}

// Delivery is where and how the order is handed over on campus.
type Delivery struct {
	Location string `json:"location"`
	Building string `json:"building,omitempty"`
	Room     string `json:"room,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Notes    string `json:"notes,omitempty"`
}

// Order is one placed order for a café (target) by a student (actor).
type Order struct {
	ID              string    `json:"id"`
	ActorID         string    `json:"actor_id"`
	TargetID        string    `json:"target_id"`
	TotalCents      int64     `json:"total_cents"`
	ItemCount       int       `json:"item_count"`
	PaymentMethod   string    `json:"payment_method,omitempty"`
	Delivery        Delivery  `json:"delivery"`
	Status          Status    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
	StatusUpdatedAt time.Time `json:"status_updated_at"`
}

// LineItem belongs to exactly one Order.
type LineItem struct {
	ID             string `json:"id"`
	OrderID        string `json:"order_id"`
	MenuItemID     string `json:"menu_item_id"`
	Name           string `json:"name,omitempty"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	LineTotalCents int64  `json:"line_total_cents"`
}

// NewLineItem computes the line total.
func NewLineItem(id, orderID, menuItemID, name string, qty int, unitPriceCents int64) LineItem {
	return LineItem{
		ID:             id,
		OrderID:        orderID,
		MenuItemID:     menuItemID,
		Name:           name,
		Quantity:       qty,
		UnitPriceCents: unitPriceCents,
		LineTotalCents: int64(qty) * unitPriceCents,
	}
}

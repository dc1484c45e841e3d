package idempotency

import (
	"errors"
	"time"
)

// Status values for idempotency entries
const (
	StatusInProgress = "IN_PROGRESS"
	StatusDone       = "DONE"
	StatusFailed     = "FAILED"
)

// Table is the logical table holding idempotency records, keyed by idempotency_key.
const Table = "idempotency_keys"

// ErrKeyConflict is returned when a key is reused by a different actor.
var ErrKeyConflict = errors.New("idempotency key belongs to another actor")

// Record is one Idempotency-Key and the response it produced.
type Record struct {
	Key            string
	ActorID        string
	Status         string
	OrderID        string
	ResponseBody   string // small responses only
	ResponseStatus int    // e.g., 201
	Note           string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ExpiresAt      time.Time
}

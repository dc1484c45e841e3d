package main

// StatusCommand is the payload a point-of-sale system sends through the status queue.
type StatusCommand struct {
	OrderID       string `json:"order_id"`
	Status        string `json:"status"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

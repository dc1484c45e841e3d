package validation

// Item is one requested line.
type Item struct {
	MenuItemID     string `json:"menu_item_id" validate:"required"`
	Name           string `json:"name" validate:"required"`
	Quantity       int    `json:"quantity" validate:"required,min=1"`
	UnitPriceCents int64  `json:"unit_price_cents" validate:"required,gt=0"`
}

// DeliveryInfo says where on campus to bring the order.
type DeliveryInfo struct {
	Location string `json:"location" validate:"required"`
	Building string `json:"building,omitempty"`
	Room     string `json:"room,omitempty"`
	Phone    string `json:"phone" validate:"required,min=7,max=20"`
	Notes    string `json:"notes,omitempty" validate:"max=500"`
}

// CreateOrderRequest is the payload for POST /orders
type CreateOrderRequest struct {
	ActorID       string       `json:"actor_id" validate:"required"`  // student placing the order
	TargetID      string       `json:"target_id" validate:"required"` // restaurant receiving it
	Items         []Item       `json:"items" validate:"required,min=1,dive"`
	TotalCents    int64        `json:"total_cents" validate:"required,gt=0"` // total the client claims
	Delivery      DeliveryInfo `json:"delivery"`
	PaymentMethod string       `json:"payment_method" validate:"required,oneof=cash card wallet"`
}

// UpdateStatusRequest is the payload for PATCH /orders/:id/status
type UpdateStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=received confirmed preparing on_the_way completed cancelled"`
}

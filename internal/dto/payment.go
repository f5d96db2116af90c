package dto

// SignedCallbackRequest is a gateway callback authenticated by an
// HMAC signature over order_id and payment_id
type SignedCallbackRequest struct {
	OrderID   string `json:"order_id" binding:"required"`
	PaymentID string `json:"payment_id" binding:"required"`
	Signature string `json:"signature" binding:"required"`
	UserID    string `json:"user_id" binding:"required"`
	EventID   string `json:"event_id" binding:"required"`
	PassID    string `json:"pass_id,omitempty"`
	Quantity  int    `json:"quantity" binding:"required,min=1"`
	// Amount is in minor units, as gateways report it
	Amount   int64  `json:"amount"`
	Currency string `json:"currency,omitempty"`
}

// WebhookResponse acknowledges a gateway webhook
type WebhookResponse struct {
	Received bool                 `json:"received"`
	Outcome  *ReservationResponse `json:"outcome,omitempty"`
	Message  string               `json:"message,omitempty"`
}

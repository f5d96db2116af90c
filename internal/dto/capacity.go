package dto

import (
	"github.com/shopspring/decimal"

	"github.com/anirudhsonawane/ticket-reservation/internal/domain"
)

// DefineCapacityRequest lists an event or pass for sale with its inventory
type DefineCapacityRequest struct {
	EventID       string          `json:"event_id" binding:"required"`
	PassID        string          `json:"pass_id,omitempty"`
	TotalQuantity int             `json:"total_quantity" binding:"gte=0"`
	Price         decimal.Decimal `json:"price"`
	Cancelled     bool            `json:"cancelled"`
}

// CapacityResponse is the display view of one capacity key
type CapacityResponse struct {
	EventID       string `json:"event_id"`
	PassID        string `json:"pass_id,omitempty"`
	TotalQuantity int    `json:"total_quantity"`
	SoldQuantity  int    `json:"sold_quantity"`
	Available     int    `json:"available"`
}

// FromCapacity converts an EventCapacity
func FromCapacity(c *domain.EventCapacity) *CapacityResponse {
	return &CapacityResponse{
		EventID:       c.Key.EventID,
		PassID:        c.Key.PassID,
		TotalQuantity: c.TotalQuantity,
		SoldQuantity:  c.SoldQuantity,
		Available:     c.Available(),
	}
}

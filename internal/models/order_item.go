package models

import (
	"time"

	"github.com/google/uuid"
)

// OrderItem is the subset of an order_items row the image import reads.
// ProductImages holds the raw JSON column value and may be nil.
type OrderItem struct {
	ID             uuid.UUID `json:"id" db:"id"`
	SequenceNumber *int      `json:"sequence_number" db:"sequence_number"`
	CustomerName   *string   `json:"customer_name" db:"customer_name"`
	ProductImages  []byte    `json:"product_images" db:"product_images"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// DisplayName returns the customer name cut to max runes, or "N/A".
func (o *OrderItem) DisplayName(max int) string {
	if o.CustomerName == nil || *o.CustomerName == "" {
		return "N/A"
	}
	runes := []rune(*o.CustomerName)
	if len(runes) > max {
		runes = runes[:max]
	}
	return string(runes)
}

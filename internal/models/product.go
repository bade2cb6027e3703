package models

import (
	"time"

	"github.com/google/uuid"
)

type Product struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Price     int64     `json:"price"`
	Stock     int       `json:"stock"`
	Published bool      `json:"published"`
	DeletedAt time.Time `json:"deleted_at,omitzero"`
}

// Purchasable reports whether the product may appear in a new order.
func (p *Product) Purchasable() bool {
	return p != nil && p.Published && p.DeletedAt.IsZero()
}

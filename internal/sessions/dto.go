package sessions

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pdvjgm/pos-backend/pkg/enums"
)

// CartItemDTO is one line of a session cart. UnitPrice is snapshotted from
// the catalog at the moment the item is added; later price updates do not
// reprice carts.
type CartItemDTO struct {
	Code      string          `json:"code" validate:"required"`
	Name      string          `json:"name"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

// LineTotal is quantity times the snapshotted unit price.
func (i CartItemDTO) LineTotal() decimal.Decimal {
	return i.Quantity.Mul(i.UnitPrice)
}

// StartSessionDTO opens or resumes a shopping session.
type StartSessionDTO struct {
	CustomerID string `json:"customerId" validate:"required"`
	StoreID    string `json:"storeId" validate:"required"`
}

// AddItemDTO adds quantity of one product to the cart.
type AddItemDTO struct {
	Code     string          `json:"code" validate:"required"`
	Quantity decimal.Decimal `json:"quantity"`
}

// SessionDTO is the read projection returned by the session endpoints.
type SessionDTO struct {
	ID         uuid.UUID           `json:"id"`
	CustomerID string              `json:"customerId"`
	StoreID    string              `json:"storeId"`
	Status     enums.SessionStatus `json:"status"`
	Cart       []CartItemDTO       `json:"cart"`
	Total      decimal.Decimal     `json:"total"`
	CreatedAt  time.Time           `json:"createdAt"`
}

package catalog

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProductUpdateDTO is one product record from the upstream feed.
type ProductUpdateDTO struct {
	Code        string  `json:"code" validate:"required"`
	Name        string  `json:"name" validate:"required"`
	Description *string `json:"description,omitempty"`
	UOM         string  `json:"uom" validate:"required"`
	Barcode     *string `json:"barcode,omitempty"`
	IsActive    bool    `json:"isActive"`
}

// StockUpdateDTO is one stock record. UpdatedAt is the upstream system's
// own modification time, not the time this process saw the record.
type StockUpdateDTO struct {
	Code        string    `json:"code" validate:"required"`
	WarehouseID string    `json:"warehouseId" validate:"required"`
	Quantity    float64   `json:"quantity" validate:"gte=0"`
	UpdatedAt   time.Time `json:"updatedAt" validate:"required"`
}

// PriceUpdateDTO is one price-list entry. ValidFrom doubles as the source
// timestamp for conflict resolution; absent means "effective now".
type PriceUpdateDTO struct {
	Code      string          `json:"code" validate:"required"`
	PriceList string          `json:"priceList" validate:"required"`
	Rate      decimal.Decimal `json:"rate"`
	Currency  string          `json:"currency" validate:"required"`
	ValidFrom *time.Time      `json:"validFrom,omitempty"`
}

// PriceQuote is the read-side projection used when pricing cart items.
type PriceQuote struct {
	ProductCode string          `json:"productCode"`
	ProductName string          `json:"productName"`
	PriceList   string          `json:"priceList"`
	Rate        decimal.Decimal `json:"rate"`
	Currency    string          `json:"currency"`
}

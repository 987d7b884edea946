package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Price is one entry of a named price list for a product.
type Price struct {
	ID              uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ProductCode     string          `gorm:"column:product_code;not null;uniqueIndex:ux_prices_product_list"`
	PriceList       string          `gorm:"column:price_list;not null;uniqueIndex:ux_prices_product_list"`
	Rate            decimal.Decimal `gorm:"column:rate;type:numeric(10,2);not null"`
	Currency        string          `gorm:"column:currency;not null"`
	ValidFrom       *time.Time      `gorm:"column:valid_from"`
	SourceUpdatedAt time.Time       `gorm:"column:source_updated_at;not null"`
	CreatedAt       time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (Price) TableName() string { return "prices" }

package models

import (
	"time"

	"github.com/google/uuid"
)

// Stock is the on-hand quantity for a product in one warehouse.
// SourceUpdatedAt is the upstream system's own last-modified time; it is
// the ordering key for conflict resolution, never the local arrival time.
type Stock struct {
	ID              uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ProductCode     string    `gorm:"column:product_code;not null;uniqueIndex:ux_stocks_product_warehouse"`
	WarehouseID     string    `gorm:"column:warehouse_id;not null;uniqueIndex:ux_stocks_product_warehouse"`
	Quantity        float64   `gorm:"column:quantity;type:numeric(14,3);not null"`
	SourceUpdatedAt time.Time `gorm:"column:source_updated_at;not null"`
	CreatedAt       time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Stock) TableName() string { return "stocks" }

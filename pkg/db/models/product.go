package models

import (
	"time"

	"github.com/google/uuid"
)

// Product mirrors the ERP item master. Code is the upstream business key.
type Product struct {
	ID          uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Code        string    `gorm:"column:code;not null;uniqueIndex:ux_products_code"`
	Name        string    `gorm:"column:name;not null"`
	Description *string   `gorm:"column:description"`
	UOM         string    `gorm:"column:uom;not null"`
	Barcode     *string   `gorm:"column:barcode"`
	IsActive    bool      `gorm:"column:is_active;not null;default:true"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Product) TableName() string { return "products" }

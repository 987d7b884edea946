package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pdvjgm/pos-backend/pkg/enums"
)

// Sale is a finalized purchase. Items is an immutable snapshot taken at
// creation; payment metadata is attached only on confirmation.
type Sale struct {
	ID            uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	SessionID     *uuid.UUID          `gorm:"column:session_id;type:uuid;uniqueIndex:ux_sales_session_id"`
	OfflineID     *string             `gorm:"column:offline_id;uniqueIndex:ux_sales_offline_id"`
	StoreID       string              `gorm:"column:store_id;not null"`
	CustomerID    string              `gorm:"column:customer_id;not null"`
	Total         decimal.Decimal     `gorm:"column:total;type:numeric(10,2);not null"`
	Status        enums.SaleStatus    `gorm:"column:status;not null;default:CREATED"`
	Items         json.RawMessage     `gorm:"column:items;type:jsonb;not null"`
	PaymentMeta   json.RawMessage     `gorm:"column:payment_meta;type:jsonb"`
	ErpSyncStatus enums.ErpSyncStatus `gorm:"column:erp_sync_status;not null;default:PENDING"`
	CreatedAt     time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (Sale) TableName() string { return "sales" }

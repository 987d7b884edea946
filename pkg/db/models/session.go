package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pdvjgm/pos-backend/pkg/enums"
)

// Session is a customer's in-store shopping session. Cart line items carry
// the unit price snapshotted when the item was added.
type Session struct {
	ID         uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	CustomerID string              `gorm:"column:customer_id;not null;index:ix_sessions_customer"`
	StoreID    string              `gorm:"column:store_id;not null"`
	Status     enums.SessionStatus `gorm:"column:status;not null;default:ACTIVE"`
	Cart       json.RawMessage     `gorm:"column:cart;type:jsonb;not null"`
	Total      decimal.Decimal     `gorm:"column:total;type:numeric(10,2);not null"`
	CreatedAt  time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (Session) TableName() string { return "sessions" }

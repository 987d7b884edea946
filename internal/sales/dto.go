package sales

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pdvjgm/pos-backend/pkg/enums"
)

// SaleItemDTO is one line of a sale's immutable item snapshot.
type SaleItemDTO struct {
	Code      string          `json:"code" validate:"required"`
	Name      string          `json:"name"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

// LineTotal is quantity times unit price.
func (i SaleItemDTO) LineTotal() decimal.Decimal {
	return i.Quantity.Mul(i.UnitPrice)
}

// OfflineSaleDTO is a sale completed on a terminal while disconnected,
// submitted for server-side registration once connectivity returns.
type OfflineSaleDTO struct {
	OfflineID  string          `json:"offlineId" validate:"required"`
	CustomerID string          `json:"customerId" validate:"required"`
	StoreID    string          `json:"storeId" validate:"required"`
	Items      []SaleItemDTO   `json:"items" validate:"required,min=1,dive"`
	Total      decimal.Decimal `json:"total"`
}

// PaymentWebhookDTO is the provider's confirmation callback payload.
type PaymentWebhookDTO struct {
	SaleID        uuid.UUID       `json:"saleId" validate:"required"`
	TransactionID string          `json:"transactionId" validate:"required"`
	Status        string          `json:"status"`
	Provider      string          `json:"provider"`
	Raw           json.RawMessage `json:"raw,omitempty"`
}

// PaymentMeta is what a confirmed sale stores about its payment.
type PaymentMeta struct {
	TransactionID string          `json:"transactionId"`
	Status        string          `json:"status"`
	Provider      string          `json:"provider"`
	Raw           json.RawMessage `json:"raw,omitempty"`
}

// SaleDTO is the read projection returned by the sale endpoints.
type SaleDTO struct {
	ID            uuid.UUID           `json:"id"`
	SessionID     *uuid.UUID          `json:"sessionId,omitempty"`
	OfflineID     *string             `json:"offlineId,omitempty"`
	StoreID       string              `json:"storeId"`
	CustomerID    string              `json:"customerId"`
	Total         decimal.Decimal     `json:"total"`
	Status        enums.SaleStatus    `json:"status"`
	Items         []SaleItemDTO       `json:"items"`
	PaymentMeta   *PaymentMeta        `json:"paymentMeta,omitempty"`
	ErpSyncStatus enums.ErpSyncStatus `json:"erpSyncStatus"`
	CheckoutURL   string              `json:"checkoutUrl,omitempty"`
	CreatedAt     time.Time           `json:"createdAt"`
}

// ExportInvoicePayload is the body of an export-invoice job.
type ExportInvoicePayload struct {
	SaleID uuid.UUID `json:"saleId"`
}

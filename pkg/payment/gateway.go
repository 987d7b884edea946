package payment

import (
	"context"

	"github.com/shopspring/decimal"
)

// ChargeRef identifies a charge created at the payment provider. The
// provider is a black box; the ref is what webhooks later correlate on.
type ChargeRef struct {
	TransactionID string `json:"transactionId"`
	Status        string `json:"status"`
	CheckoutURL   string `json:"checkoutUrl,omitempty"`
}

// ChargeRequest describes one charge to create.
type ChargeRequest struct {
	SaleID      string
	Amount      decimal.Decimal
	Currency    string
	Description string
}

// Gateway creates charges at the external payment provider.
type Gateway interface {
	CreateCharge(ctx context.Context, req ChargeRequest) (*ChargeRef, error)
}

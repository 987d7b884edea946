package controllers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pdvjgm/pos-backend/api/middleware"
	"github.com/pdvjgm/pos-backend/api/responses"
	"github.com/pdvjgm/pos-backend/api/validators"
	salessvc "github.com/pdvjgm/pos-backend/internal/sales"
	pkgerrors "github.com/pdvjgm/pos-backend/pkg/errors"
	"github.com/pdvjgm/pos-backend/pkg/logger"
)

type offlineSaleRequest struct {
	IdempotencyKey string                 `json:"idempotencyKey"`
	OfflineID      string                 `json:"offlineId" validate:"required"`
	CustomerID     string                 `json:"customerId" validate:"required"`
	StoreID        string                 `json:"storeId" validate:"required"`
	Items          []salessvc.SaleItemDTO `json:"items" validate:"required,min=1,dive"`
	Total          decimal.Decimal        `json:"total"`
}

// OfflineSale registers a sale completed on a disconnected terminal.
func OfflineSale(svc salessvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "sales service unavailable"))
			return
		}

		var payload offlineSaleRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		sale, err := svc.SyncOfflineSale(r.Context(), salessvc.OfflineSaleDTO{
			OfflineID:  payload.OfflineID,
			CustomerID: payload.CustomerID,
			StoreID:    payload.StoreID,
			Items:      payload.Items,
			Total:      payload.Total,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, sale)
	}
}

// StartCheckout opens a payment charge for the sale and moves it to
// PENDING_PAYMENT.
func StartCheckout(svc salessvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "sales service unavailable"))
			return
		}

		saleID, err := uuid.Parse(chi.URLParam(r, "saleId"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid sale id"))
			return
		}
		customerID := middleware.CustomerIDFromContext(r.Context())
		if customerID == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "X-Customer-Id header required"))
			return
		}

		sale, err := svc.StartCheckout(r.Context(), saleID, customerID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, sale)
	}
}

// GetSale returns one sale owned by the caller.
func GetSale(svc salessvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "sales service unavailable"))
			return
		}

		saleID, err := uuid.Parse(chi.URLParam(r, "saleId"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid sale id"))
			return
		}
		customerID := middleware.CustomerIDFromContext(r.Context())
		if customerID == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "X-Customer-Id header required"))
			return
		}

		sale, err := svc.GetSale(r.Context(), saleID, customerID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, sale)
	}
}

// PaymentWebhook handles the provider's payment confirmation callback.
// Redelivery of an already-confirmed transaction is acknowledged without
// side effects, so the provider can retry safely.
func PaymentWebhook(svc salessvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "sales service unavailable"))
			return
		}

		var payload salessvc.PaymentWebhookDTO
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		sale, err := svc.ConfirmPayment(r.Context(), payload)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, sale)
	}
}

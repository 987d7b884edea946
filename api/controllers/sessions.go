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
	sessionssvc "github.com/pdvjgm/pos-backend/internal/sessions"
	pkgerrors "github.com/pdvjgm/pos-backend/pkg/errors"
	"github.com/pdvjgm/pos-backend/pkg/logger"
)

type startSessionRequest struct {
	IdempotencyKey string `json:"idempotencyKey"`
	CustomerID     string `json:"customerId" validate:"required"`
	StoreID        string `json:"storeId" validate:"required"`
}

type addItemRequest struct {
	IdempotencyKey string          `json:"idempotencyKey"`
	Code           string          `json:"code" validate:"required"`
	Quantity       decimal.Decimal `json:"quantity"`
}

// SessionStart opens a shopping session, resuming the customer's active
// one in the store when it exists.
func SessionStart(svc sessionssvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "sessions service unavailable"))
			return
		}

		var payload startSessionRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		session, err := svc.Start(r.Context(), sessionssvc.StartSessionDTO{
			CustomerID: payload.CustomerID,
			StoreID:    payload.StoreID,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, session)
	}
}

// SessionAddItem adds quantity of one product to the session cart.
func SessionAddItem(svc sessionssvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "sessions service unavailable"))
			return
		}

		sessionID, customerID, err := sessionCallScope(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload addItemRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		session, err := svc.AddItem(r.Context(), sessionID, customerID, sessionssvc.AddItemDTO{
			Code:     payload.Code,
			Quantity: payload.Quantity,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, session)
	}
}

// SessionClose ends an active, non-empty session.
func SessionClose(svc sessionssvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "sessions service unavailable"))
			return
		}

		sessionID, customerID, err := sessionCallScope(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		session, err := svc.Close(r.Context(), sessionID, customerID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, session)
	}
}

// SessionGet returns one session owned by the caller.
func SessionGet(svc sessionssvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "sessions service unavailable"))
			return
		}

		sessionID, customerID, err := sessionCallScope(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		session, err := svc.Get(r.Context(), sessionID, customerID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, session)
	}
}

// SessionToSale converts a closed session into a sale.
func SessionToSale(svc salessvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "sales service unavailable"))
			return
		}

		sessionID, customerID, err := sessionCallScope(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		sale, err := svc.CreateFromSession(r.Context(), sessionID, customerID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, sale)
	}
}

func sessionCallScope(r *http.Request) (uuid.UUID, string, error) {
	sessionID, err := uuid.Parse(chi.URLParam(r, "sessionId"))
	if err != nil {
		return uuid.Nil, "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid session id")
	}
	customerID := middleware.CustomerIDFromContext(r.Context())
	if customerID == "" {
		return uuid.Nil, "", pkgerrors.New(pkgerrors.CodeValidation, "X-Customer-Id header required")
	}
	return sessionID, customerID, nil
}

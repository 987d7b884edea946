package sessions

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pdvjgm/pos-backend/internal/catalog"
	"github.com/pdvjgm/pos-backend/pkg/db"
	"github.com/pdvjgm/pos-backend/pkg/db/models"
	"github.com/pdvjgm/pos-backend/pkg/enums"
	pkgerrors "github.com/pdvjgm/pos-backend/pkg/errors"
	"github.com/pdvjgm/pos-backend/pkg/logger"
)

// DefaultPriceList is the retail list sessions price against when the
// deployment does not name one.
const DefaultPriceList = "LOJA_01"

type priceReader interface {
	GetPrice(ctx context.Context, code, priceList string) (*catalog.PriceQuote, error)
}

// Service owns the shopping-session lifecycle. Every operation checks that
// the caller owns the session; foreign sessions look absent.
type Service interface {
	Start(ctx context.Context, dto StartSessionDTO) (*SessionDTO, error)
	AddItem(ctx context.Context, sessionID uuid.UUID, customerID string, dto AddItemDTO) (*SessionDTO, error)
	Close(ctx context.Context, sessionID uuid.UUID, customerID string) (*SessionDTO, error)
	Get(ctx context.Context, sessionID uuid.UUID, customerID string) (*SessionDTO, error)
}

type service struct {
	repo      *Repository
	prices    priceReader
	logg      *logger.Logger
	priceList string
}

func NewService(repo *Repository, prices priceReader, logg *logger.Logger, priceList string) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("sessions repository required")
	}
	if prices == nil {
		return nil, fmt.Errorf("price reader required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if priceList == "" {
		priceList = DefaultPriceList
	}
	return &service{repo: repo, prices: prices, logg: logg, priceList: priceList}, nil
}

// Start resumes the customer's open session in the store, or opens a fresh
// empty one.
func (s *service) Start(ctx context.Context, dto StartSessionDTO) (*SessionDTO, error) {
	if dto.CustomerID == "" || dto.StoreID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer id and store id are required")
	}

	existing, err := s.repo.FindActive(ctx, dto.CustomerID, dto.StoreID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "looking up active session")
	}
	if existing != nil {
		return toDTO(existing)
	}

	session := &models.Session{
		ID:         uuid.New(),
		CustomerID: dto.CustomerID,
		StoreID:    dto.StoreID,
		Status:     enums.SessionStatusActive,
		Cart:       []byte(`[]`),
		Total:      decimal.Zero,
	}
	if err := s.repo.Insert(ctx, session); err != nil {
		// Two concurrent starts can both miss the lookup. The partial unique
		// index on (customer_id, store_id, ACTIVE) elects a winner; the loser
		// resumes it, same as a sequential second start.
		if db.IsUniqueViolation(err, "ux_sessions_active") {
			winner, findErr := s.repo.FindActive(ctx, dto.CustomerID, dto.StoreID)
			if findErr == nil && winner != nil {
				return toDTO(winner)
			}
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "creating session")
	}

	s.logg.Info(s.logg.WithField(ctx, "session_id", session.ID.String()), "session started")
	return toDTO(session)
}

// AddItem snapshots the product's current price into the cart and
// recomputes the running total. Adding a code already in the cart adds
// quantity to its line without repricing it.
func (s *service) AddItem(ctx context.Context, sessionID uuid.UUID, customerID string, dto AddItemDTO) (*SessionDTO, error) {
	if dto.Code == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product code is required")
	}
	if !dto.Quantity.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}

	session, err := s.loadOwned(ctx, sessionID, customerID)
	if err != nil {
		return nil, err
	}
	if session.Status != enums.SessionStatusActive {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("session %s is %s, items can only be added while active", sessionID, session.Status))
	}

	var cart []CartItemDTO
	if err := json.Unmarshal(session.Cart, &cart); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decoding cart")
	}

	merged := false
	for i := range cart {
		if cart[i].Code == dto.Code {
			cart[i].Quantity = cart[i].Quantity.Add(dto.Quantity)
			merged = true
			break
		}
	}
	if !merged {
		quote, err := s.prices.GetPrice(ctx, dto.Code, s.priceList)
		if err != nil {
			return nil, err
		}
		cart = append(cart, CartItemDTO{
			Code:      dto.Code,
			Name:      quote.ProductName,
			Quantity:  dto.Quantity,
			UnitPrice: quote.Rate,
		})
	}

	total := decimal.Zero
	for _, item := range cart {
		total = total.Add(item.LineTotal())
	}

	encoded, err := json.Marshal(cart)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encoding cart")
	}
	if err := s.repo.Update(ctx, session.ID, map[string]any{
		"cart":  encoded,
		"total": total,
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "updating session")
	}

	session.Cart = encoded
	session.Total = total
	return toDTO(session)
}

// Close ends an active, non-empty session.
func (s *service) Close(ctx context.Context, sessionID uuid.UUID, customerID string) (*SessionDTO, error) {
	session, err := s.loadOwned(ctx, sessionID, customerID)
	if err != nil {
		return nil, err
	}
	if session.Status != enums.SessionStatusActive {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("session %s is %s, only active sessions close", sessionID, session.Status))
	}

	var cart []CartItemDTO
	if err := json.Unmarshal(session.Cart, &cart); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decoding cart")
	}
	if len(cart) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "an empty session cannot be closed")
	}

	if err := s.repo.Update(ctx, session.ID, map[string]any{
		"status": enums.SessionStatusClosed,
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "closing session")
	}

	session.Status = enums.SessionStatusClosed
	s.logg.Info(s.logg.WithField(ctx, "session_id", session.ID.String()), "session closed")
	return toDTO(session)
}

// Get loads one session with an ownership check.
func (s *service) Get(ctx context.Context, sessionID uuid.UUID, customerID string) (*SessionDTO, error) {
	session, err := s.loadOwned(ctx, sessionID, customerID)
	if err != nil {
		return nil, err
	}
	return toDTO(session)
}

func (s *service) loadOwned(ctx context.Context, sessionID uuid.UUID, customerID string) (*models.Session, error) {
	session, err := s.repo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading session")
	}
	if session == nil || session.CustomerID != customerID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("session %s not found", sessionID))
	}
	return session, nil
}

func toDTO(session *models.Session) (*SessionDTO, error) {
	var cart []CartItemDTO
	if len(session.Cart) > 0 {
		if err := json.Unmarshal(session.Cart, &cart); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decoding cart")
		}
	}
	if cart == nil {
		cart = []CartItemDTO{}
	}
	return &SessionDTO{
		ID:         session.ID,
		CustomerID: session.CustomerID,
		StoreID:    session.StoreID,
		Status:     session.Status,
		Cart:       cart,
		Total:      session.Total,
		CreatedAt:  session.CreatedAt,
	}, nil
}

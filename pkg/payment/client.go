package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pdvjgm/pos-backend/pkg/config"
	pkgerrors "github.com/pdvjgm/pos-backend/pkg/errors"
	"github.com/pdvjgm/pos-backend/pkg/logger"
)

const maxErrorBodyLen = 512

var (
	errBaseURLRequired     = errors.New("payment gateway base url is required")
	errAccessTokenRequired = errors.New("payment gateway access token is required")
	errLoggerRequired      = errors.New("payment logger is required")
)

// Client is the HTTP implementation of Gateway. Every request carries a
// fresh idempotency key so provider-side retries cannot double-charge.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	accessToken string
	logger      *logger.Logger
}

func NewClient(cfg config.PaymentConfig, logg *logger.Logger) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.GatewayBaseURL), "/")
	if baseURL == "" {
		return nil, errBaseURLRequired
	}
	accessToken := strings.TrimSpace(cfg.AccessToken)
	if accessToken == "" {
		return nil, errAccessTokenRequired
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		httpClient:  &http.Client{Timeout: timeout},
		baseURL:     baseURL,
		accessToken: accessToken,
		logger:      logg,
	}, nil
}

type createChargeBody struct {
	ExternalReference string `json:"external_reference"`
	Amount            string `json:"transaction_amount"`
	Currency          string `json:"currency_id"`
	Description       string `json:"description"`
}

type createChargeResponse struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	CheckoutURL string `json:"init_point"`
}

// CreateCharge posts the charge to the provider and returns its reference.
func (c *Client) CreateCharge(ctx context.Context, req ChargeRequest) (*ChargeRef, error) {
	if req.SaleID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "sale id is required")
	}
	if req.Amount.IsNegative() || req.Amount.IsZero() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "charge amount must be positive")
	}

	body := createChargeBody{
		ExternalReference: req.SaleID,
		Amount:            req.Amount.StringFixed(2),
		Currency:          req.Currency,
		Description:       req.Description,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encoding charge request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/payments", bytes.NewReader(payload))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "building charge request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.accessToken)
	httpReq.Header.Set("X-Idempotency-Key", NewIdempotencyKey("charge"))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "payment gateway unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("payment gateway returned %d: %s", resp.StatusCode, readErrorBody(resp.Body)))
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("payment gateway rejected charge (%d): %s", resp.StatusCode, readErrorBody(resp.Body)))
	}

	var parsed createChargeResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decoding charge response")
	}
	if parsed.ID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "payment gateway response missing charge id")
	}

	logCtx := c.logger.WithSaleID(ctx, req.SaleID)
	logCtx = c.logger.WithField(logCtx, "transaction_id", parsed.ID)
	c.logger.Info(logCtx, "charge created")

	return &ChargeRef{
		TransactionID: parsed.ID,
		Status:        parsed.Status,
		CheckoutURL:   parsed.CheckoutURL,
	}, nil
}

// NewIdempotencyKey returns a unique key for provider operations.
func NewIdempotencyKey(prefix string) string {
	key := strings.TrimSpace(prefix)
	if key == "" {
		key = "pdv"
	}
	return fmt.Sprintf("%s-%s", key, uuid.NewString())
}

func readErrorBody(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, maxErrorBodyLen))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

package sales

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/pdvjgm/pos-backend/pkg/db"
	"github.com/pdvjgm/pos-backend/pkg/db/models"
	"github.com/pdvjgm/pos-backend/pkg/enums"
	pkgerrors "github.com/pdvjgm/pos-backend/pkg/errors"
	"github.com/pdvjgm/pos-backend/pkg/jobs"
	"github.com/pdvjgm/pos-backend/pkg/logger"
	"github.com/pdvjgm/pos-backend/pkg/payment"
)

// totalTolerance bounds the accepted drift between the submitted total of
// an offline sale and the recomputed item sum. Terminals round per line;
// the server recomputes exactly.
var totalTolerance = decimal.NewFromFloat(0.05)

// Service owns the sale lifecycle.
type Service interface {
	SyncOfflineSale(ctx context.Context, dto OfflineSaleDTO) (*SaleDTO, error)
	ConfirmPayment(ctx context.Context, webhook PaymentWebhookDTO) (*SaleDTO, error)
	CreateFromSession(ctx context.Context, sessionID uuid.UUID, customerID string) (*SaleDTO, error)
	StartCheckout(ctx context.Context, saleID uuid.UUID, customerID string) (*SaleDTO, error)
	GetSale(ctx context.Context, id uuid.UUID, customerID string) (*SaleDTO, error)
	RegisterHandlers(w *jobs.Worker)
}

type txProducer interface {
	EnqueueTx(ctx context.Context, tx *gorm.DB, name enums.JobName, payload any, opts jobs.Options) (bool, error)
}

type sessionReader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Session, error)
	MarkCompletedTx(tx *gorm.DB, id uuid.UUID) error
}

type service struct {
	repo     *Repository
	dbClient *db.Client
	queue    txProducer
	gateway  payment.Gateway
	sessions sessionReader
	logg     *logger.Logger
}

// NewService constructs the sales service. The payment gateway and session
// reader are optional for deployments that only run the offline path.
func NewService(repo *Repository, dbClient *db.Client, queue txProducer, gateway payment.Gateway, sessions sessionReader, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("sales repository required")
	}
	if dbClient == nil {
		return nil, fmt.Errorf("db client required")
	}
	if queue == nil {
		return nil, fmt.Errorf("job producer required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:     repo,
		dbClient: dbClient,
		queue:    queue,
		gateway:  gateway,
		sessions: sessions,
		logg:     logg,
	}, nil
}

// SyncOfflineSale registers a sale completed offline. Resubmissions of the
// same offline id return the first-created record unchanged; totals that
// drift from the item sum beyond the tolerance are rejected outright.
func (s *service) SyncOfflineSale(ctx context.Context, dto OfflineSaleDTO) (*SaleDTO, error) {
	if dto.OfflineID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "offline id is required")
	}
	if len(dto.Items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "offline sale has no items")
	}

	computed := decimal.Zero
	for _, item := range dto.Items {
		computed = computed.Add(item.LineTotal())
	}
	if computed.Sub(dto.Total).Abs().GreaterThan(totalTolerance) {
		return nil, pkgerrors.New(pkgerrors.CodeIntegrityViolation, "offline sale total does not reconcile with its items").
			WithDetails(map[string]any{
				"submittedTotal": dto.Total.StringFixed(2),
				"computedTotal":  computed.StringFixed(2),
				"tolerance":      totalTolerance.StringFixed(2),
			})
	}

	existing, err := s.repo.FindByOfflineID(ctx, dto.OfflineID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "looking up offline id")
	}
	if existing != nil {
		return toDTO(existing)
	}

	items, err := json.Marshal(dto.Items)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encoding item snapshot")
	}

	offlineID := dto.OfflineID
	sale := &models.Sale{
		ID:            uuid.New(),
		OfflineID:     &offlineID,
		StoreID:       dto.StoreID,
		CustomerID:    dto.CustomerID,
		Total:         dto.Total,
		Status:        enums.SaleStatusPaid,
		Items:         items,
		ErpSyncStatus: enums.ErpSyncStatusPending,
	}

	err = s.dbClient.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Insert(ctx, sale); err != nil {
			return err
		}
		_, err := s.queue.EnqueueTx(ctx, tx, enums.JobNameExportInvoice, ExportInvoicePayload{SaleID: sale.ID}, jobs.Options{
			DedupeKey: fmt.Sprintf("export-invoice-%s", sale.ID),
		})
		return err
	})
	if err != nil {
		if db.IsUniqueViolation(err, "ux_sales_offline_id") {
			// Lost the race with a concurrent resubmission.
			winner, findErr := s.repo.FindByOfflineID(ctx, dto.OfflineID)
			if findErr == nil && winner != nil {
				return toDTO(winner)
			}
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "registering offline sale")
	}

	logCtx := s.logg.WithSaleID(ctx, sale.ID.String())
	logCtx = s.logg.WithField(logCtx, "offline_id", dto.OfflineID)
	s.logg.Info(logCtx, "offline sale registered")

	return toDTO(sale)
}

// ConfirmPayment applies a provider confirmation. Re-confirmation of a PAID
// sale is a no-op; a cancelled sale cannot be paid. The transition to PAID
// and the export-invoice enqueue commit in one transaction, so the export
// can never exist without the durable PAID write.
func (s *service) ConfirmPayment(ctx context.Context, webhook PaymentWebhookDTO) (*SaleDTO, error) {
	if webhook.SaleID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "sale id is required")
	}
	if webhook.TransactionID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction id is required")
	}

	sale, err := s.repo.FindByID(ctx, webhook.SaleID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading sale")
	}
	if sale == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("sale %s not found", webhook.SaleID))
	}

	switch sale.Status {
	case enums.SaleStatusPaid:
		// Duplicate webhook delivery.
		s.logg.Debug(s.logg.WithSaleID(ctx, sale.ID.String()), "re-confirmation of paid sale ignored")
		return toDTO(sale)
	case enums.SaleStatusCancelled:
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("sale %s is cancelled and cannot be paid", sale.ID))
	}

	meta, err := json.Marshal(PaymentMeta{
		TransactionID: webhook.TransactionID,
		Status:        webhook.Status,
		Provider:      webhook.Provider,
		Raw:           webhook.Raw,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encoding payment metadata")
	}

	// The status read above is a fast path, not a guard: a duplicate
	// webhook racing the first one reads the sale before it turns PAID.
	// The transition itself is conditional, so only the delivery that
	// actually flips the status enqueues the export and completes the
	// session. Anything else would re-export once the first job's dedupe
	// key is released.
	transitioned := false
	err = s.dbClient.WithTx(ctx, func(tx *gorm.DB) error {
		applied, err := s.repo.WithTx(tx).MarkPaid(ctx, sale.ID, meta)
		if err != nil {
			return err
		}
		transitioned = applied
		if !applied {
			return nil
		}
		if _, err := s.queue.EnqueueTx(ctx, tx, enums.JobNameExportInvoice, ExportInvoicePayload{SaleID: sale.ID}, jobs.Options{
			DedupeKey: fmt.Sprintf("export-invoice-%s", sale.ID),
		}); err != nil {
			return err
		}
		if sale.SessionID != nil && s.sessions != nil {
			return s.sessions.MarkCompletedTx(tx, *sale.SessionID)
		}
		return nil
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "confirming payment")
	}

	fresh, err := s.repo.FindByID(ctx, sale.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reloading sale")
	}
	if fresh == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("sale %s not found", sale.ID))
	}

	if !transitioned {
		if fresh.Status == enums.SaleStatusCancelled {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("sale %s is cancelled and cannot be paid", sale.ID))
		}
		s.logg.Debug(s.logg.WithSaleID(ctx, sale.ID.String()), "re-confirmation of paid sale ignored")
		return toDTO(fresh)
	}

	logCtx := s.logg.WithSaleID(ctx, sale.ID.String())
	logCtx = s.logg.WithField(logCtx, "transaction_id", webhook.TransactionID)
	s.logg.Info(logCtx, "sale payment confirmed")

	return toDTO(fresh)
}

// CreateFromSession converts a closed session into a sale. One sale per
// session; the session cart becomes the immutable item snapshot.
func (s *service) CreateFromSession(ctx context.Context, sessionID uuid.UUID, customerID string) (*SaleDTO, error) {
	if s.sessions == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "session reader not configured")
	}

	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading session")
	}
	if session == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("session %s not found", sessionID))
	}
	if session.CustomerID != customerID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("session %s not found", sessionID))
	}
	if session.Status != enums.SessionStatusClosed {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("session %s is %s, only closed sessions convert to sales", sessionID, session.Status))
	}

	existing, err := s.repo.FindBySessionID(ctx, sessionID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "looking up session sale")
	}
	if existing != nil {
		return toDTO(existing)
	}

	sid := sessionID
	sale := &models.Sale{
		ID:            uuid.New(),
		SessionID:     &sid,
		StoreID:       session.StoreID,
		CustomerID:    session.CustomerID,
		Total:         session.Total,
		Status:        enums.SaleStatusCreated,
		Items:         session.Cart,
		ErpSyncStatus: enums.ErpSyncStatusPending,
	}

	if err := s.repo.Insert(ctx, sale); err != nil {
		if db.IsUniqueViolation(err, "ux_sales_session_id") {
			winner, findErr := s.repo.FindBySessionID(ctx, sessionID)
			if findErr == nil && winner != nil {
				return toDTO(winner)
			}
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "creating sale")
	}

	s.logg.Info(s.logg.WithSaleID(ctx, sale.ID.String()), "sale created from session")
	return toDTO(sale)
}

// StartCheckout creates the provider charge for a fresh sale and moves it
// to PENDING_PAYMENT. Calling it again while payment is pending returns the
// stored charge instead of creating a second one.
func (s *service) StartCheckout(ctx context.Context, saleID uuid.UUID, customerID string) (*SaleDTO, error) {
	if s.gateway == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payment gateway not configured")
	}

	sale, err := s.repo.FindByID(ctx, saleID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading sale")
	}
	if sale == nil || sale.CustomerID != customerID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("sale %s not found", saleID))
	}

	switch sale.Status {
	case enums.SaleStatusPendingPayment:
		return toDTO(sale)
	case enums.SaleStatusPaid, enums.SaleStatusCancelled:
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("sale %s is %s, checkout is not possible", saleID, sale.Status))
	}

	ref, err := s.gateway.CreateCharge(ctx, payment.ChargeRequest{
		SaleID:      sale.ID.String(),
		Amount:      sale.Total,
		Currency:    "BRL",
		Description: fmt.Sprintf("POS sale %s", sale.ID),
	})
	if err != nil {
		return nil, err
	}

	meta, err := json.Marshal(PaymentMeta{
		TransactionID: ref.TransactionID,
		Status:        ref.Status,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encoding payment metadata")
	}

	if err := s.repo.Update(ctx, sale.ID, map[string]any{
		"status":       enums.SaleStatusPendingPayment,
		"payment_meta": meta,
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "updating sale")
	}

	logCtx := s.logg.WithSaleID(ctx, sale.ID.String())
	logCtx = s.logg.WithField(logCtx, "transaction_id", ref.TransactionID)
	s.logg.Info(logCtx, "checkout started")

	fresh, err := s.repo.FindByID(ctx, sale.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reloading sale")
	}
	dto, err := toDTO(fresh)
	if err != nil {
		return nil, err
	}
	dto.CheckoutURL = ref.CheckoutURL
	return dto, nil
}

// GetSale loads one sale with an ownership check.
func (s *service) GetSale(ctx context.Context, id uuid.UUID, customerID string) (*SaleDTO, error) {
	sale, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading sale")
	}
	if sale == nil || sale.CustomerID != customerID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("sale %s not found", id))
	}
	return toDTO(sale)
}

// RegisterHandlers binds the export-invoice job kind onto the worker.
func (s *service) RegisterHandlers(w *jobs.Worker) {
	w.Register(enums.JobNameExportInvoice, s.handleExportInvoice)
}

// handleExportInvoice marks the sale as exported to the ERP. The invoice
// upload itself is the downstream system's concern.
func (s *service) handleExportInvoice(ctx context.Context, job models.Job) error {
	var payload ExportInvoicePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed export payload")
	}
	if payload.SaleID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "export payload is missing the sale id")
	}

	sale, err := s.repo.FindByID(ctx, payload.SaleID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading sale")
	}
	if sale == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("sale %s not found", payload.SaleID))
	}
	if sale.ErpSyncStatus == enums.ErpSyncStatusExported {
		return nil
	}

	if err := s.repo.Update(ctx, sale.ID, map[string]any{
		"erp_sync_status": enums.ErpSyncStatusExported,
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marking sale exported")
	}

	s.logg.Info(s.logg.WithSaleID(ctx, sale.ID.String()), "sale exported to erp")
	return nil
}

func toDTO(sale *models.Sale) (*SaleDTO, error) {
	var items []SaleItemDTO
	if len(sale.Items) > 0 {
		if err := json.Unmarshal(sale.Items, &items); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decoding item snapshot")
		}
	}
	dto := &SaleDTO{
		ID:            sale.ID,
		SessionID:     sale.SessionID,
		OfflineID:     sale.OfflineID,
		StoreID:       sale.StoreID,
		CustomerID:    sale.CustomerID,
		Total:         sale.Total,
		Status:        sale.Status,
		Items:         items,
		ErpSyncStatus: sale.ErpSyncStatus,
		CreatedAt:     sale.CreatedAt,
	}
	if len(sale.PaymentMeta) > 0 {
		var meta PaymentMeta
		if err := json.Unmarshal(sale.PaymentMeta, &meta); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decoding payment metadata")
		}
		dto.PaymentMeta = &meta
	}
	return dto, nil
}

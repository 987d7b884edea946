package sales

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	dbpkg "github.com/pdvjgm/pos-backend/pkg/db"
	"github.com/pdvjgm/pos-backend/pkg/db/models"
	"github.com/pdvjgm/pos-backend/pkg/enums"
	pkgerrors "github.com/pdvjgm/pos-backend/pkg/errors"
	"github.com/pdvjgm/pos-backend/pkg/jobs"
	"github.com/pdvjgm/pos-backend/pkg/logger"
	"github.com/pdvjgm/pos-backend/pkg/payment"
)

type stubGateway struct {
	calls int
	ref   *payment.ChargeRef
	err   error
}

func (s *stubGateway) CreateCharge(ctx context.Context, req payment.ChargeRequest) (*payment.ChargeRef, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if s.ref != nil {
		return s.ref, nil
	}
	return &payment.ChargeRef{TransactionID: "mp-1", Status: "pending", CheckoutURL: "https://pay.example/mp-1"}, nil
}

type stubSessions struct {
	sessions  map[uuid.UUID]*models.Session
	completed []uuid.UUID
}

func (s *stubSessions) FindByID(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	session, ok := s.sessions[id]
	if !ok {
		return nil, nil
	}
	copied := *session
	return &copied, nil
}

func (s *stubSessions) MarkCompletedTx(tx *gorm.DB, id uuid.UUID) error {
	s.completed = append(s.completed, id)
	return nil
}

func setupSalesTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	sales := `
CREATE TABLE IF NOT EXISTS sales (
  id TEXT PRIMARY KEY,
  session_id TEXT UNIQUE,
  offline_id TEXT UNIQUE,
  store_id TEXT NOT NULL,
  customer_id TEXT NOT NULL,
  total NUMERIC NOT NULL,
  status TEXT NOT NULL DEFAULT 'CREATED',
  items TEXT NOT NULL,
  payment_meta TEXT,
  erp_sync_status TEXT NOT NULL DEFAULT 'PENDING',
  created_at DATETIME,
  updated_at DATETIME
);`
	jobsTable := `
CREATE TABLE IF NOT EXISTS jobs (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  dedupe_key TEXT UNIQUE,
  payload TEXT NOT NULL,
  state TEXT NOT NULL DEFAULT 'pending',
  attempt_count INTEGER NOT NULL DEFAULT 0,
  max_attempts INTEGER NOT NULL DEFAULT 5,
  run_at DATETIME NOT NULL,
  last_error TEXT,
  manual_retries INTEGER NOT NULL DEFAULT 0,
  last_retry_by TEXT,
  last_retry_at DATETIME,
  purge_on_ok INTEGER NOT NULL DEFAULT 0,
  enqueued_at DATETIME,
  updated_at DATETIME
);`
	require.NoError(t, db.Exec(sales).Error)
	require.NoError(t, db.Exec(jobsTable).Error)
	require.NoError(t, db.Exec("DELETE FROM sales").Error)
	require.NoError(t, db.Exec("DELETE FROM jobs").Error)
	return db
}

type salesFixture struct {
	svc      Service
	db       *gorm.DB
	gateway  *stubGateway
	sessions *stubSessions
}

func setupSalesService(t *testing.T) *salesFixture {
	t.Helper()
	db := setupSalesTestDB(t)
	logg := logger.New(logger.Options{ServiceName: "test", Level: zerolog.Disabled})

	queue, err := jobs.NewService(jobs.NewRepository(db), logg, 5)
	require.NoError(t, err)

	gateway := &stubGateway{}
	sessions := &stubSessions{sessions: map[uuid.UUID]*models.Session{}}

	svc, err := NewService(NewRepository(db), dbpkg.NewFromConn(db), queue, gateway, sessions, logg)
	require.NoError(t, err)

	return &salesFixture{svc: svc, db: db, gateway: gateway, sessions: sessions}
}

func offlineSale(offlineID string) OfflineSaleDTO {
	return OfflineSaleDTO{
		OfflineID:  offlineID,
		CustomerID: "cust-1",
		StoreID:    "store-1",
		Items: []SaleItemDTO{
			{Code: "COC-350", Name: "Coca-Cola 350ml", Quantity: decimal.NewFromInt(2), UnitPrice: decimal.NewFromFloat(4.50)},
			{Code: "AGU-500", Name: "Agua Mineral 500ml", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.NewFromFloat(1.00)},
		},
		Total: decimal.NewFromFloat(10.00),
	}
}

func countJobs(t *testing.T, db *gorm.DB, name enums.JobName) int64 {
	t.Helper()
	var count int64
	require.NoError(t, db.Model(&models.Job{}).Where("name = ?", name).Count(&count).Error)
	return count
}

func TestSyncOfflineSaleRegistersOnce(t *testing.T) {
	f := setupSalesService(t)
	ctx := context.Background()

	first, err := f.svc.SyncOfflineSale(ctx, offlineSale("term1-0001"))
	require.NoError(t, err)
	assert.Equal(t, enums.SaleStatusPaid, first.Status)
	assert.Equal(t, int64(1), countJobs(t, f.db, enums.JobNameExportInvoice))

	second, err := f.svc.SyncOfflineSale(ctx, offlineSale("term1-0001"))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "resubmission must return the first-created sale")
	assert.Equal(t, int64(1), countJobs(t, f.db, enums.JobNameExportInvoice), "resubmission must not enqueue again")
}

func TestSyncOfflineSaleToleratesRounding(t *testing.T) {
	f := setupSalesService(t)

	dto := offlineSale("term1-0002")
	dto.Total = decimal.NewFromFloat(10.04)
	_, err := f.svc.SyncOfflineSale(context.Background(), dto)
	require.NoError(t, err, "drift within 0.05 must be accepted")
}

func TestSyncOfflineSaleIntegrityViolation(t *testing.T) {
	f := setupSalesService(t)

	dto := offlineSale("term1-0003")
	dto.Total = decimal.NewFromFloat(5.00)
	_, err := f.svc.SyncOfflineSale(context.Background(), dto)

	domain := pkgerrors.As(err)
	require.NotNil(t, domain)
	assert.Equal(t, pkgerrors.CodeIntegrityViolation, domain.Code())

	details, ok := domain.Details().(map[string]any)
	require.True(t, ok, "integrity error must carry both totals")
	assert.Equal(t, "5.00", details["submittedTotal"])
	assert.Equal(t, "10.00", details["computedTotal"])

	assert.Equal(t, int64(0), countJobs(t, f.db, enums.JobNameExportInvoice))
}

func TestConfirmPaymentTransitionsAndEnqueues(t *testing.T) {
	f := setupSalesService(t)
	ctx := context.Background()

	sale := &models.Sale{
		ID:         uuid.New(),
		StoreID:    "store-1",
		CustomerID: "cust-1",
		Total:      decimal.NewFromFloat(10.00),
		Status:     enums.SaleStatusPendingPayment,
		Items:      []byte(`[]`),
	}
	require.NoError(t, NewRepository(f.db).Insert(ctx, sale))

	dto, err := f.svc.ConfirmPayment(ctx, PaymentWebhookDTO{
		SaleID:        sale.ID,
		TransactionID: "mp-42",
		Status:        "approved",
		Provider:      "mercadopago",
	})
	require.NoError(t, err)
	assert.Equal(t, enums.SaleStatusPaid, dto.Status)
	require.NotNil(t, dto.PaymentMeta)
	assert.Equal(t, "mp-42", dto.PaymentMeta.TransactionID)
	assert.Equal(t, int64(1), countJobs(t, f.db, enums.JobNameExportInvoice))

	// Duplicate delivery of the same webhook.
	again, err := f.svc.ConfirmPayment(ctx, PaymentWebhookDTO{
		SaleID:        sale.ID,
		TransactionID: "mp-42",
		Status:        "approved",
		Provider:      "mercadopago",
	})
	require.NoError(t, err)
	assert.Equal(t, enums.SaleStatusPaid, again.Status)
	assert.Equal(t, int64(1), countJobs(t, f.db, enums.JobNameExportInvoice), "duplicate webhook must not enqueue again")
}

func TestConfirmPaymentDuplicateAfterExportCompletes(t *testing.T) {
	f := setupSalesService(t)
	ctx := context.Background()

	sale := &models.Sale{
		ID:         uuid.New(),
		StoreID:    "store-1",
		CustomerID: "cust-1",
		Total:      decimal.NewFromFloat(10.00),
		Status:     enums.SaleStatusPendingPayment,
		Items:      []byte(`[]`),
	}
	require.NoError(t, NewRepository(f.db).Insert(ctx, sale))

	webhook := PaymentWebhookDTO{SaleID: sale.ID, TransactionID: "mp-7", Status: "approved", Provider: "mercadopago"}
	_, err := f.svc.ConfirmPayment(ctx, webhook)
	require.NoError(t, err)
	require.Equal(t, int64(1), countJobs(t, f.db, enums.JobNameExportInvoice))

	// The export job completes, which releases its dedupe key. A slow
	// duplicate webhook arriving now must not start a second export.
	jobsRepo := jobs.NewRepository(f.db)
	var exportJob models.Job
	require.NoError(t, f.db.Where("name = ?", enums.JobNameExportInvoice).First(&exportJob).Error)
	require.NoError(t, jobsRepo.MarkCompleted(ctx, &exportJob))

	again, err := f.svc.ConfirmPayment(ctx, webhook)
	require.NoError(t, err)
	assert.Equal(t, enums.SaleStatusPaid, again.Status)
	assert.Equal(t, int64(1), countJobs(t, f.db, enums.JobNameExportInvoice), "a paid sale must never enqueue a second export")
	assert.Len(t, f.sessions.completed, 0)
}

func TestConfirmPaymentStaleReadDoesNotReExport(t *testing.T) {
	f := setupSalesService(t)
	ctx := context.Background()

	sale := &models.Sale{
		ID:         uuid.New(),
		StoreID:    "store-1",
		CustomerID: "cust-1",
		Total:      decimal.NewFromFloat(10.00),
		Status:     enums.SaleStatusPendingPayment,
		Items:      []byte(`[]`),
	}
	require.NoError(t, NewRepository(f.db).Insert(ctx, sale))

	webhook := PaymentWebhookDTO{SaleID: sale.ID, TransactionID: "mp-9", Status: "approved", Provider: "mercadopago"}

	// Replay the race: the duplicate webhook reads the sale while it is
	// still pending, then the first confirmation commits and its export
	// job completes, releasing the dedupe key. The duplicate's update runs
	// against that stale read.
	fired := false
	require.NoError(t, f.db.Callback().Query().After("gorm:query").Register("interleave_first_confirmation", func(tx *gorm.DB) {
		if fired || tx.Statement.Table != "sales" {
			return
		}
		fired = true
		if _, err := f.svc.ConfirmPayment(ctx, webhook); err != nil {
			t.Errorf("first confirmation: %v", err)
			return
		}
		var exportJob models.Job
		if err := f.db.Where("name = ?", enums.JobNameExportInvoice).First(&exportJob).Error; err != nil {
			t.Errorf("load export job: %v", err)
			return
		}
		if err := jobs.NewRepository(f.db).MarkCompleted(ctx, &exportJob); err != nil {
			t.Errorf("complete export job: %v", err)
		}
	}))

	again, err := f.svc.ConfirmPayment(ctx, webhook)
	require.NoError(t, err)
	assert.Equal(t, enums.SaleStatusPaid, again.Status)
	assert.Equal(t, int64(1), countJobs(t, f.db, enums.JobNameExportInvoice), "the losing confirmation must not enqueue a second export")
}

func TestMarkPaidGuardsTerminalStates(t *testing.T) {
	db := setupSalesTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	sale := &models.Sale{
		ID:         uuid.New(),
		StoreID:    "store-1",
		CustomerID: "cust-1",
		Total:      decimal.NewFromFloat(10.00),
		Status:     enums.SaleStatusPendingPayment,
		Items:      []byte(`[]`),
	}
	require.NoError(t, repo.Insert(ctx, sale))

	applied, err := repo.MarkPaid(ctx, sale.ID, []byte(`{"transactionId":"mp-1"}`))
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = repo.MarkPaid(ctx, sale.ID, []byte(`{"transactionId":"mp-2"}`))
	require.NoError(t, err)
	assert.False(t, applied, "a paid sale must not transition again")

	stored, err := repo.FindByID(ctx, sale.ID)
	require.NoError(t, err)
	assert.Contains(t, string(stored.PaymentMeta), "mp-1", "the first confirmation's metadata must survive")

	cancelled := &models.Sale{
		ID:         uuid.New(),
		StoreID:    "store-1",
		CustomerID: "cust-1",
		Total:      decimal.NewFromFloat(10.00),
		Status:     enums.SaleStatusCancelled,
		Items:      []byte(`[]`),
	}
	require.NoError(t, repo.Insert(ctx, cancelled))

	applied, err = repo.MarkPaid(ctx, cancelled.ID, []byte(`{}`))
	require.NoError(t, err)
	assert.False(t, applied, "a cancelled sale must not transition to paid")
}

func TestConfirmPaymentCancelledSale(t *testing.T) {
	f := setupSalesService(t)
	ctx := context.Background()

	sale := &models.Sale{
		ID:         uuid.New(),
		StoreID:    "store-1",
		CustomerID: "cust-1",
		Total:      decimal.NewFromFloat(10.00),
		Status:     enums.SaleStatusCancelled,
		Items:      []byte(`[]`),
	}
	require.NoError(t, NewRepository(f.db).Insert(ctx, sale))

	_, err := f.svc.ConfirmPayment(ctx, PaymentWebhookDTO{SaleID: sale.ID, TransactionID: "mp-1"})
	domain := pkgerrors.As(err)
	require.NotNil(t, domain)
	assert.Equal(t, pkgerrors.CodeStateConflict, domain.Code())
}

func TestConfirmPaymentUnknownSale(t *testing.T) {
	f := setupSalesService(t)

	_, err := f.svc.ConfirmPayment(context.Background(), PaymentWebhookDTO{SaleID: uuid.New(), TransactionID: "mp-1"})
	domain := pkgerrors.As(err)
	require.NotNil(t, domain)
	assert.Equal(t, pkgerrors.CodeNotFound, domain.Code())
}

func TestCreateFromSession(t *testing.T) {
	f := setupSalesService(t)
	ctx := context.Background()

	cart, err := json.Marshal([]SaleItemDTO{
		{Code: "COC-350", Name: "Coca-Cola 350ml", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.NewFromFloat(4.50)},
	})
	require.NoError(t, err)

	session := &models.Session{
		ID:         uuid.New(),
		CustomerID: "cust-1",
		StoreID:    "store-1",
		Status:     enums.SessionStatusClosed,
		Cart:       cart,
		Total:      decimal.NewFromFloat(4.50),
	}
	f.sessions.sessions[session.ID] = session

	sale, err := f.svc.CreateFromSession(ctx, session.ID, "cust-1")
	require.NoError(t, err)
	assert.Equal(t, enums.SaleStatusCreated, sale.Status)
	require.Len(t, sale.Items, 1)
	assert.Equal(t, "COC-350", sale.Items[0].Code)

	// Second conversion returns the same sale.
	again, err := f.svc.CreateFromSession(ctx, session.ID, "cust-1")
	require.NoError(t, err)
	assert.Equal(t, sale.ID, again.ID)
}

func TestCreateFromSessionGuards(t *testing.T) {
	f := setupSalesService(t)
	ctx := context.Background()

	session := &models.Session{
		ID:         uuid.New(),
		CustomerID: "cust-1",
		StoreID:    "store-1",
		Status:     enums.SessionStatusActive,
		Cart:       []byte(`[]`),
		Total:      decimal.Zero,
	}
	f.sessions.sessions[session.ID] = session

	_, err := f.svc.CreateFromSession(ctx, session.ID, "someone-else")
	domain := pkgerrors.As(err)
	require.NotNil(t, domain)
	assert.Equal(t, pkgerrors.CodeNotFound, domain.Code(), "foreign sessions must look absent")

	_, err = f.svc.CreateFromSession(ctx, session.ID, "cust-1")
	domain = pkgerrors.As(err)
	require.NotNil(t, domain)
	assert.Equal(t, pkgerrors.CodeStateConflict, domain.Code(), "open sessions cannot convert")
}

func TestStartCheckout(t *testing.T) {
	f := setupSalesService(t)
	ctx := context.Background()

	sale := &models.Sale{
		ID:         uuid.New(),
		StoreID:    "store-1",
		CustomerID: "cust-1",
		Total:      decimal.NewFromFloat(10.00),
		Status:     enums.SaleStatusCreated,
		Items:      []byte(`[]`),
	}
	require.NoError(t, NewRepository(f.db).Insert(ctx, sale))

	dto, err := f.svc.StartCheckout(ctx, sale.ID, "cust-1")
	require.NoError(t, err)
	assert.Equal(t, enums.SaleStatusPendingPayment, dto.Status)
	assert.Equal(t, "https://pay.example/mp-1", dto.CheckoutURL)
	require.NotNil(t, dto.PaymentMeta)
	assert.Equal(t, "mp-1", dto.PaymentMeta.TransactionID)
	assert.Equal(t, 1, f.gateway.calls)

	// Retrying checkout must not create a second charge.
	again, err := f.svc.StartCheckout(ctx, sale.ID, "cust-1")
	require.NoError(t, err)
	assert.Equal(t, enums.SaleStatusPendingPayment, again.Status)
	assert.Equal(t, 1, f.gateway.calls)
}

func TestStartCheckoutPaidSale(t *testing.T) {
	f := setupSalesService(t)
	ctx := context.Background()

	sale := &models.Sale{
		ID:         uuid.New(),
		StoreID:    "store-1",
		CustomerID: "cust-1",
		Total:      decimal.NewFromFloat(10.00),
		Status:     enums.SaleStatusPaid,
		Items:      []byte(`[]`),
	}
	require.NoError(t, NewRepository(f.db).Insert(ctx, sale))

	_, err := f.svc.StartCheckout(ctx, sale.ID, "cust-1")
	domain := pkgerrors.As(err)
	require.NotNil(t, domain)
	assert.Equal(t, pkgerrors.CodeStateConflict, domain.Code())
}

func TestGetSaleOwnership(t *testing.T) {
	f := setupSalesService(t)
	ctx := context.Background()

	sale := &models.Sale{
		ID:         uuid.New(),
		StoreID:    "store-1",
		CustomerID: "cust-1",
		Total:      decimal.NewFromFloat(10.00),
		Status:     enums.SaleStatusCreated,
		Items:      []byte(`[]`),
	}
	require.NoError(t, NewRepository(f.db).Insert(ctx, sale))

	got, err := f.svc.GetSale(ctx, sale.ID, "cust-1")
	require.NoError(t, err)
	assert.Equal(t, sale.ID, got.ID)

	_, err = f.svc.GetSale(ctx, sale.ID, "cust-2")
	domain := pkgerrors.As(err)
	require.NotNil(t, domain)
	assert.Equal(t, pkgerrors.CodeNotFound, domain.Code())
}

func TestExportInvoiceHandler(t *testing.T) {
	f := setupSalesService(t)
	ctx := context.Background()

	sale := &models.Sale{
		ID:         uuid.New(),
		StoreID:    "store-1",
		CustomerID: "cust-1",
		Total:      decimal.NewFromFloat(10.00),
		Status:     enums.SaleStatusPaid,
		Items:      []byte(`[]`),
	}
	require.NoError(t, NewRepository(f.db).Insert(ctx, sale))

	payload, err := json.Marshal(ExportInvoicePayload{SaleID: sale.ID})
	require.NoError(t, err)

	svc := f.svc.(*service)
	require.NoError(t, svc.handleExportInvoice(ctx, models.Job{Payload: payload}))

	stored, err := NewRepository(f.db).FindByID(ctx, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.ErpSyncStatusExported, stored.ErpSyncStatus)

	// Redelivery is a no-op.
	require.NoError(t, svc.handleExportInvoice(ctx, models.Job{Payload: payload}))

	// Unknown sale is terminal, not retryable.
	missing, err := json.Marshal(ExportInvoicePayload{SaleID: uuid.New()})
	require.NoError(t, err)
	err = svc.handleExportInvoice(ctx, models.Job{Payload: missing})
	require.Error(t, err)
	assert.False(t, pkgerrors.IsRetryable(err))
}

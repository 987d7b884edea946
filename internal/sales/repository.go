package sales

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pdvjgm/pos-backend/pkg/db/models"
	"github.com/pdvjgm/pos-backend/pkg/enums"
)

// Repository persists sales.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repository bound to the provided transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	return &Repository{db: tx}
}

// FindByID loads one sale.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Sale, error) {
	var sale models.Sale
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&sale).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sale, nil
}

// FindByOfflineID loads the sale registered for a terminal-generated id.
func (r *Repository) FindByOfflineID(ctx context.Context, offlineID string) (*models.Sale, error) {
	var sale models.Sale
	err := r.db.WithContext(ctx).Where("offline_id = ?", offlineID).First(&sale).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sale, nil
}

// FindBySessionID loads the sale created from a session, if any.
func (r *Repository) FindBySessionID(ctx context.Context, sessionID uuid.UUID) (*models.Sale, error) {
	var sale models.Sale
	err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&sale).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sale, nil
}

// Insert creates the sale.
func (r *Repository) Insert(ctx context.Context, sale *models.Sale) error {
	if sale.ID == uuid.Nil {
		sale.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(sale).Error
}

// Update applies the column updates to one sale.
func (r *Repository) Update(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&models.Sale{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// MarkPaid moves the sale to PAID unless it already reached a terminal
// state. It reports whether this call performed the transition, so a
// duplicate confirmation cannot re-trigger the PAID side effects.
func (r *Repository) MarkPaid(ctx context.Context, id uuid.UUID, paymentMeta []byte) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Sale{}).
		Where("id = ? AND status NOT IN ?", id, []enums.SaleStatus{enums.SaleStatusPaid, enums.SaleStatusCancelled}).
		Updates(map[string]any{
			"status":       enums.SaleStatusPaid,
			"payment_meta": paymentMeta,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

package sessions

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pdvjgm/pos-backend/pkg/db/models"
	"github.com/pdvjgm/pos-backend/pkg/enums"
)

// Repository persists shopping sessions.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// FindByID loads one session.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	var session models.Session
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &session, nil
}

// FindActive returns the customer's open session in the store, if any.
func (r *Repository) FindActive(ctx context.Context, customerID, storeID string) (*models.Session, error) {
	var session models.Session
	err := r.db.WithContext(ctx).
		Where("customer_id = ? AND store_id = ? AND status = ?", customerID, storeID, enums.SessionStatusActive).
		Order("created_at DESC").
		First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &session, nil
}

// Insert creates the session.
func (r *Repository) Insert(ctx context.Context, session *models.Session) error {
	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(session).Error
}

// Update applies the column updates to one session.
func (r *Repository) Update(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&models.Session{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// MarkCompletedTx moves the session to COMPLETED inside the caller's
// transaction. Used when the sale created from the session is paid.
func (r *Repository) MarkCompletedTx(tx *gorm.DB, id uuid.UUID) error {
	return tx.
		Model(&models.Session{}).
		Where("id = ?", id).
		Update("status", enums.SessionStatusCompleted).Error
}

package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/pdvjgm/pos-backend/pkg/db"
	"github.com/pdvjgm/pos-backend/pkg/db/models"
	"github.com/pdvjgm/pos-backend/pkg/enums"
)

const (
	maxStoredErrorLen   = 1024
	defaultLeaseTimeout = 5 * time.Minute
)

// Repository persists jobs in the relational store. Claiming and state
// transitions are conditional updates so concurrent workers never process
// the same delivery twice.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// InsertTx creates the job inside the provided transaction. It returns
// false without error when a live job already holds the same dedupe key.
func (r *Repository) InsertTx(tx *gorm.DB, job *models.Job) (bool, error) {
	if tx == nil {
		return false, errors.New("transaction required")
	}
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if err := tx.Create(job).Error; err != nil {
		if job.DedupeKey != nil && dbpkg.IsUniqueViolation(err, "ux_jobs_dedupe_key") {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Insert creates the job outside any caller transaction.
func (r *Repository) Insert(ctx context.Context, job *models.Job) (bool, error) {
	return r.InsertTx(r.db.WithContext(ctx), job)
}

// ClaimDue atomically moves due pending jobs to the active state and
// increments their attempt counter. Jobs claimed by a concurrent worker
// between the read and the conditional update are skipped. Active jobs
// whose lease expired are reclaimed the same way: a claim is a lease on
// updated_at, not ownership, so a crash between processing and
// acknowledgment redelivers instead of stranding the job.
func (r *Repository) ClaimDue(ctx context.Context, limit int, now time.Time, lease time.Duration) ([]models.Job, error) {
	if limit <= 0 {
		limit = 20
	}
	if lease <= 0 {
		lease = defaultLeaseTimeout
	}
	staleBefore := now.Add(-lease)

	var due []models.Job
	err := r.db.WithContext(ctx).
		Where("(state = ? AND run_at <= ?) OR (state = ? AND updated_at <= ?)",
			enums.JobStatePending, now, enums.JobStateActive, staleBefore).
		Order("run_at ASC").
		Limit(limit).
		Find(&due).Error
	if err != nil {
		return nil, err
	}

	claimed := make([]models.Job, 0, len(due))
	for i := range due {
		query := r.db.WithContext(ctx).Model(&models.Job{})
		if due[i].State == enums.JobStateActive {
			// The lease guard keeps a worker that acknowledged meanwhile
			// from losing its claim to the reclaim pass.
			query = query.Where("id = ? AND state = ? AND updated_at <= ?",
				due[i].ID, enums.JobStateActive, staleBefore)
		} else {
			query = query.Where("id = ? AND state = ?", due[i].ID, enums.JobStatePending)
		}
		// Updates touches updated_at, which renews the lease.
		res := query.Updates(map[string]any{
			"state":         enums.JobStateActive,
			"attempt_count": gorm.Expr("attempt_count + 1"),
		})
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			continue
		}
		due[i].State = enums.JobStateActive
		due[i].AttemptCount++
		claimed = append(claimed, due[i])
	}
	return claimed, nil
}

// MarkCompleted acknowledges the delivery. Jobs flagged purge-on-success are
// removed entirely; others keep a completed row with the dedupe key released.
func (r *Repository) MarkCompleted(ctx context.Context, job *models.Job) error {
	if job.PurgeOnOK {
		return r.db.WithContext(ctx).Delete(&models.Job{}, "id = ?", job.ID).Error
	}
	return r.db.WithContext(ctx).
		Model(&models.Job{}).
		Where("id = ?", job.ID).
		Updates(map[string]any{
			"state":      enums.JobStateCompleted,
			"dedupe_key": nil,
		}).Error
}

// Reschedule returns the job to the pending state for a later attempt.
func (r *Repository) Reschedule(ctx context.Context, id uuid.UUID, runAt time.Time, cause error) error {
	return r.db.WithContext(ctx).
		Model(&models.Job{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"state":      enums.JobStatePending,
			"run_at":     runAt,
			"last_error": storedError(cause),
		}).Error
}

// MarkFailed moves the job to the failed set, releasing its dedupe key so a
// fresh enqueue of the same work is not suppressed by the dead letter.
func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, cause error) error {
	return r.db.WithContext(ctx).
		Model(&models.Job{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"state":      enums.JobStateFailed,
			"dedupe_key": nil,
			"last_error": storedError(cause),
		}).Error
}

// FindByID loads one job.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	var job models.Job
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &job, nil
}

// ListFailed returns the dead-letter set, most recent failures first.
func (r *Repository) ListFailed(ctx context.Context, limit int) ([]models.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []models.Job
	err := r.db.WithContext(ctx).
		Where("state = ?", enums.JobStateFailed).
		Order("updated_at DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// RequeueForManualRetry moves a failed job back to pending with a fresh
// attempt budget and the audit stamps applied. The state guard makes the
// transition a no-op when the job left the failed state concurrently.
func (r *Repository) RequeueForManualRetry(ctx context.Context, id uuid.UUID, payload []byte, actorID string, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Job{}).
		Where("id = ? AND state = ?", id, enums.JobStateFailed).
		Updates(map[string]any{
			"state":          enums.JobStatePending,
			"run_at":         now,
			"attempt_count":  0,
			"payload":        payload,
			"manual_retries": gorm.Expr("manual_retries + 1"),
			"last_retry_by":  actorID,
			"last_retry_at":  now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func storedError(err error) *string {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if len(msg) > maxStoredErrorLen {
		msg = msg[:maxStoredErrorLen]
	}
	return &msg
}

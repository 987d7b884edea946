package jobs

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/pdvjgm/pos-backend/pkg/db/models"
	"github.com/pdvjgm/pos-backend/pkg/enums"
)

func setupJobsTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	jobs := `
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
	require.NoError(t, db.Exec(jobs).Error)
	require.NoError(t, db.Exec("DELETE FROM jobs").Error)
	return db
}

func newPendingJob(name enums.JobName, dedupeKey string, runAt time.Time) *models.Job {
	job := &models.Job{
		ID:          uuid.New(),
		Name:        name,
		Payload:     []byte(`{"code":"COC-350"}`),
		State:       enums.JobStatePending,
		MaxAttempts: 5,
		RunAt:       runAt,
	}
	if dedupeKey != "" {
		job.DedupeKey = &dedupeKey
	}
	return job
}

func TestInsertSuppressesLiveDuplicate(t *testing.T) {
	db := setupJobsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	first := newPendingJob(enums.JobNameStockUpdate, "stock-COC-350-1", now)
	created, err := repo.Insert(ctx, first)
	require.NoError(t, err)
	assert.True(t, created)

	dup := newPendingJob(enums.JobNameStockUpdate, "stock-COC-350-1", now)
	created, err = repo.Insert(ctx, dup)
	require.NoError(t, err)
	assert.False(t, created, "duplicate of a live job must be suppressed")

	other := newPendingJob(enums.JobNameStockUpdate, "stock-COC-350-2", now)
	created, err = repo.Insert(ctx, other)
	require.NoError(t, err)
	assert.True(t, created, "a distinct dedupe key must not be suppressed")
}

func TestDedupeKeyReusableAfterTerminalState(t *testing.T) {
	db := setupJobsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	job := newPendingJob(enums.JobNamePriceUpdate, "price-COC-350-LOJA_01", now)
	created, err := repo.Insert(ctx, job)
	require.NoError(t, err)
	require.True(t, created)

	require.NoError(t, repo.MarkFailed(ctx, job.ID, assert.AnError))

	again := newPendingJob(enums.JobNamePriceUpdate, "price-COC-350-LOJA_01", now)
	created, err = repo.Insert(ctx, again)
	require.NoError(t, err)
	assert.True(t, created, "dedupe key must be free once the holder dead-letters")
}

func TestClaimDueRespectsScheduleAndState(t *testing.T) {
	db := setupJobsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	due := newPendingJob(enums.JobNameProductUpdate, "", now.Add(-time.Minute))
	future := newPendingJob(enums.JobNameProductUpdate, "", now.Add(time.Hour))
	active := newPendingJob(enums.JobNameProductUpdate, "", now.Add(-time.Minute))
	active.State = enums.JobStateActive

	for _, j := range []*models.Job{due, future, active} {
		require.NoError(t, db.Create(j).Error)
	}

	claimed, err := repo.ClaimDue(ctx, 10, now, 5*time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, due.ID, claimed[0].ID)
	assert.Equal(t, enums.JobStateActive, claimed[0].State)
	assert.Equal(t, 1, claimed[0].AttemptCount)

	// A second pass finds nothing: the job is active and its lease is fresh.
	claimed, err = repo.ClaimDue(ctx, 10, now, 5*time.Minute)
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestClaimDueReclaimsExpiredLease(t *testing.T) {
	db := setupJobsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	job := newPendingJob(enums.JobNameExportInvoice, "", now.Add(-time.Hour))
	require.NoError(t, db.Create(job).Error)

	claimed, err := repo.ClaimDue(ctx, 10, now, 5*time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.Equal(t, 1, claimed[0].AttemptCount)

	// The worker that claimed it crashes before acknowledging. Backdate the
	// lease past the timeout with raw SQL so GORM does not refresh it.
	stale := now.Add(-10 * time.Minute)
	require.NoError(t, db.Exec("UPDATE jobs SET updated_at = ? WHERE id = ?", stale, job.ID).Error)

	claimed, err = repo.ClaimDue(ctx, 10, now, 5*time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1, "an active job with an expired lease must be redelivered")
	assert.Equal(t, job.ID, claimed[0].ID)
	assert.Equal(t, enums.JobStateActive, claimed[0].State)
	assert.Equal(t, 2, claimed[0].AttemptCount, "redelivery counts against the attempt budget")

	// The reclaim renewed the lease, so the job is owned again.
	claimed, err = repo.ClaimDue(ctx, 10, now, 5*time.Minute)
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestClaimDueLeavesFreshLeaseAlone(t *testing.T) {
	db := setupJobsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	job := newPendingJob(enums.JobNameStockUpdate, "", now.Add(-time.Hour))
	job.State = enums.JobStateActive
	require.NoError(t, db.Create(job).Error)

	recent := now.Add(-time.Minute)
	require.NoError(t, db.Exec("UPDATE jobs SET updated_at = ? WHERE id = ?", recent, job.ID).Error)

	claimed, err := repo.ClaimDue(ctx, 10, now, 5*time.Minute)
	require.NoError(t, err)
	assert.Empty(t, claimed, "a job inside its lease belongs to its worker")
}

func TestMarkCompletedPurgeAndKeep(t *testing.T) {
	db := setupJobsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	purged := newPendingJob(enums.JobNameExportInvoice, "", now)
	purged.PurgeOnOK = true
	kept := newPendingJob(enums.JobNameStockUpdate, "stock-AGU-500-1", now)

	require.NoError(t, db.Create(purged).Error)
	require.NoError(t, db.Create(kept).Error)

	require.NoError(t, repo.MarkCompleted(ctx, purged))
	var count int64
	require.NoError(t, db.Model(&models.Job{}).Where("id = ?", purged.ID).Count(&count).Error)
	assert.Zero(t, count, "purge-on-success jobs leave no row behind")

	require.NoError(t, repo.MarkCompleted(ctx, kept))
	stored, err := repo.FindByID(ctx, kept.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, enums.JobStateCompleted, stored.State)
	assert.Nil(t, stored.DedupeKey)
}

func TestRescheduleReturnsJobToPending(t *testing.T) {
	db := setupJobsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	job := newPendingJob(enums.JobNameStockUpdate, "", now)
	job.State = enums.JobStateActive
	require.NoError(t, db.Create(job).Error)

	retryAt := now.Add(4 * time.Second)
	require.NoError(t, repo.Reschedule(ctx, job.ID, retryAt, assert.AnError))

	stored, err := repo.FindByID(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, enums.JobStatePending, stored.State)
	assert.WithinDuration(t, retryAt, stored.RunAt, time.Second)
	require.NotNil(t, stored.LastError)
	assert.Contains(t, *stored.LastError, assert.AnError.Error())
}

func TestMarkFailedTruncatesStoredError(t *testing.T) {
	db := setupJobsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	job := newPendingJob(enums.JobNameStockUpdate, "", time.Now().UTC())
	require.NoError(t, db.Create(job).Error)

	require.NoError(t, repo.MarkFailed(ctx, job.ID, errLong{strings.Repeat("x", 4096)}))

	stored, err := repo.FindByID(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, enums.JobStateFailed, stored.State)
	require.NotNil(t, stored.LastError)
	assert.Len(t, *stored.LastError, maxStoredErrorLen)
}

type errLong struct{ msg string }

func (e errLong) Error() string { return e.msg }

func TestListFailedMostRecentFirst(t *testing.T) {
	db := setupJobsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	older := newPendingJob(enums.JobNameStockUpdate, "", now)
	newer := newPendingJob(enums.JobNamePriceUpdate, "", now)
	require.NoError(t, db.Create(older).Error)
	require.NoError(t, db.Create(newer).Error)

	require.NoError(t, repo.MarkFailed(ctx, older.ID, assert.AnError))
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, repo.MarkFailed(ctx, newer.ID, assert.AnError))

	rows, err := repo.ListFailed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, newer.ID, rows[0].ID)
	assert.Equal(t, older.ID, rows[1].ID)
}

func TestRequeueForManualRetry(t *testing.T) {
	db := setupJobsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	job := newPendingJob(enums.JobNameStockUpdate, "", now)
	job.AttemptCount = 5
	require.NoError(t, db.Create(job).Error)
	require.NoError(t, repo.MarkFailed(ctx, job.ID, assert.AnError))

	payload := []byte(`{"code":"COC-350","manualRetries":1}`)
	requeued, err := repo.RequeueForManualRetry(ctx, job.ID, payload, "operator-7", now)
	require.NoError(t, err)
	require.True(t, requeued)

	stored, err := repo.FindByID(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, enums.JobStatePending, stored.State)
	assert.Zero(t, stored.AttemptCount)
	assert.Equal(t, 1, stored.ManualRetries)
	require.NotNil(t, stored.LastRetryBy)
	assert.Equal(t, "operator-7", *stored.LastRetryBy)
	require.NotNil(t, stored.LastRetryAt)
	assert.JSONEq(t, string(payload), string(stored.Payload))

	// Already pending again: the guarded update must not apply twice.
	requeued, err = repo.RequeueForManualRetry(ctx, job.ID, payload, "operator-7", now)
	require.NoError(t, err)
	assert.False(t, requeued)
}

func TestFindByIDMissingReturnsNil(t *testing.T) {
	db := setupJobsTestDB(t)
	repo := NewRepository(db)

	job, err := repo.FindByID(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, job)
}

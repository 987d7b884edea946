package dlq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pdvjgm/pos-backend/pkg/db/models"
	"github.com/pdvjgm/pos-backend/pkg/enums"
	pkgerrors "github.com/pdvjgm/pos-backend/pkg/errors"
	"github.com/pdvjgm/pos-backend/pkg/logger"
)

const defaultListLimit = 50

// FailedJobDTO is the operator-facing projection of a dead-lettered job.
type FailedJobDTO struct {
	ID            uuid.UUID       `json:"id"`
	Name          enums.JobName   `json:"name"`
	FailureReason string          `json:"failureReason"`
	Attempts      int             `json:"attempts"`
	Payload       json.RawMessage `json:"payload"`
	EnqueuedAt    time.Time       `json:"enqueuedAt"`
	ManualRetries int             `json:"manualRetries"`
	LastRetryBy   *string         `json:"lastRetryBy,omitempty"`
	LastRetryAt   *time.Time      `json:"lastRetryAt,omitempty"`
}

type jobStore interface {
	ListFailed(ctx context.Context, limit int) ([]models.Job, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Job, error)
	RequeueForManualRetry(ctx context.Context, id uuid.UUID, payload []byte, actorID string, now time.Time) (bool, error)
}

// Service is the manual recovery surface over the dead-letter set.
type Service interface {
	ListFailed(ctx context.Context, limit int) ([]FailedJobDTO, error)
	Retry(ctx context.Context, jobID uuid.UUID, actorID string) (*FailedJobDTO, error)
}

type service struct {
	store            jobStore
	logg             *logger.Logger
	maxManualRetries int
	now              func() time.Time
}

func NewService(store jobStore, logg *logger.Logger, maxManualRetries int) (Service, error) {
	if store == nil {
		return nil, fmt.Errorf("job store required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if maxManualRetries <= 0 {
		maxManualRetries = 3
	}
	return &service{
		store:            store,
		logg:             logg,
		maxManualRetries: maxManualRetries,
		now:              func() time.Time { return time.Now().UTC() },
	}, nil
}

// ListFailed returns the dead-letter set, most recent failures first.
func (s *service) ListFailed(ctx context.Context, limit int) ([]FailedJobDTO, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.store.ListFailed(ctx, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing failed jobs")
	}
	out := make([]FailedJobDTO, 0, len(rows))
	for i := range rows {
		out = append(out, toDTO(&rows[i]))
	}
	return out, nil
}

// Retry requeues one dead-lettered job on behalf of an operator. The job
// must still be failed, and its manual retry budget must not be exhausted.
// The audit stamps travel both in the job columns and inside the payload so
// the handler sees who requeued it.
func (s *service) Retry(ctx context.Context, jobID uuid.UUID, actorID string) (*FailedJobDTO, error) {
	if actorID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "actor id is required")
	}

	job, err := s.store.FindByID(ctx, jobID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading job")
	}
	if job == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("job %s not found", jobID))
	}
	if job.State != enums.JobStateFailed {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("job %s is %s, only failed jobs can be retried", jobID, job.State))
	}
	if job.ManualRetries >= s.maxManualRetries {
		return nil, pkgerrors.New(pkgerrors.CodeRetryLimitExceeded, fmt.Sprintf("job %s exhausted its %d manual retries", jobID, s.maxManualRetries)).
			WithDetails(map[string]any{"manualRetries": job.ManualRetries, "limit": s.maxManualRetries})
	}

	now := s.now()
	payload, err := stampPayload(job.Payload, job.ManualRetries+1, actorID, now)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "stamping payload")
	}

	requeued, err := s.store.RequeueForManualRetry(ctx, jobID, payload, actorID, now)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "requeueing job")
	}
	if !requeued {
		// Lost a race with another operator or the worker.
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("job %s left the failed state concurrently", jobID))
	}

	logCtx := s.logg.WithJobID(ctx, jobID.String())
	logCtx = s.logg.WithActorID(logCtx, actorID)
	logCtx = s.logg.WithField(logCtx, "manual_retries", job.ManualRetries+1)
	s.logg.Info(logCtx, "dead-lettered job requeued by operator")

	fresh, err := s.store.FindByID(ctx, jobID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reloading job")
	}
	if fresh == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "job disappeared after requeue")
	}
	dto := toDTO(fresh)
	return &dto, nil
}

// stampPayload merges the audit fields into the job payload. Non-object
// payloads are preserved under a "data" key rather than rejected.
func stampPayload(raw json.RawMessage, manualRetries int, actorID string, at time.Time) ([]byte, error) {
	body := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &body); err != nil {
			body = map[string]any{"data": json.RawMessage(raw)}
		}
	}
	body["manualRetries"] = manualRetries
	body["lastRetryBy"] = actorID
	body["lastRetryAt"] = at.Format(time.RFC3339)
	return json.Marshal(body)
}

func toDTO(job *models.Job) FailedJobDTO {
	dto := FailedJobDTO{
		ID:            job.ID,
		Name:          job.Name,
		Attempts:      job.AttemptCount,
		Payload:       job.Payload,
		EnqueuedAt:    job.EnqueuedAt,
		ManualRetries: job.ManualRetries,
		LastRetryBy:   job.LastRetryBy,
		LastRetryAt:   job.LastRetryAt,
	}
	if job.LastError != nil {
		dto.FailureReason = *job.LastError
	}
	return dto
}

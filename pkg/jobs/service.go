package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/pdvjgm/pos-backend/pkg/db/models"
	"github.com/pdvjgm/pos-backend/pkg/enums"
	"github.com/pdvjgm/pos-backend/pkg/logger"
)

// Options controls one enqueue.
type Options struct {
	// DedupeKey suppresses the enqueue while a pending or active job
	// already carries the same key. Empty disables deduplication.
	DedupeKey string
	// PurgeOnSuccess removes the job row once it completes.
	PurgeOnSuccess bool
	// MaxAttempts overrides the queue default when > 0.
	MaxAttempts int
}

type producerRepository interface {
	Insert(ctx context.Context, job *models.Job) (bool, error)
	InsertTx(tx *gorm.DB, job *models.Job) (bool, error)
}

// Service is the producer side of the queue.
type Service struct {
	repo        producerRepository
	logg        *logger.Logger
	maxAttempts int
}

func NewService(repo producerRepository, logg *logger.Logger, defaultMaxAttempts int) (*Service, error) {
	if repo == nil {
		return nil, errors.New("jobs repository required")
	}
	if defaultMaxAttempts <= 0 {
		defaultMaxAttempts = 5
	}
	return &Service{repo: repo, logg: logg, maxAttempts: defaultMaxAttempts}, nil
}

// Enqueue creates a pending job. A dedupe-key collision with a live job is
// a silent no-op; the bool reports whether a new job was created.
func (s *Service) Enqueue(ctx context.Context, name enums.JobName, payload any, opts Options) (bool, error) {
	job, err := s.build(name, payload, opts)
	if err != nil {
		return false, err
	}
	created, err := s.repo.Insert(ctx, job)
	if err != nil {
		return false, err
	}
	s.logEnqueue(ctx, job, created)
	return created, nil
}

// EnqueueTx creates the job inside the caller's transaction so the enqueue
// commits atomically with the caller's state change.
func (s *Service) EnqueueTx(ctx context.Context, tx *gorm.DB, name enums.JobName, payload any, opts Options) (bool, error) {
	if tx == nil {
		return false, errors.New("transaction required")
	}
	job, err := s.build(name, payload, opts)
	if err != nil {
		return false, err
	}
	created, err := s.repo.InsertTx(tx, job)
	if err != nil {
		return false, err
	}
	s.logEnqueue(ctx, job, created)
	return created, nil
}

func (s *Service) build(name enums.JobName, payload any, opts Options) (*models.Job, error) {
	if name == "" {
		return nil, errors.New("job name required")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = s.maxAttempts
	}
	job := &models.Job{
		Name:        name,
		Payload:     body,
		State:       enums.JobStatePending,
		MaxAttempts: maxAttempts,
		RunAt:       time.Now().UTC(),
		PurgeOnOK:   opts.PurgeOnSuccess,
	}
	if opts.DedupeKey != "" {
		key := opts.DedupeKey
		job.DedupeKey = &key
	}
	return job, nil
}

func (s *Service) logEnqueue(ctx context.Context, job *models.Job, created bool) {
	if s.logg == nil {
		return
	}
	fields := map[string]any{"job_name": job.Name}
	if job.DedupeKey != nil {
		fields["dedupe_key"] = *job.DedupeKey
	}
	logCtx := s.logg.WithFields(ctx, fields)
	if !created {
		s.logg.Debug(logCtx, "enqueue suppressed by live duplicate")
		return
	}
	s.logg.Debug(logCtx, "job enqueued")
}

package jobs

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pdvjgm/pos-backend/pkg/config"
	"github.com/pdvjgm/pos-backend/pkg/db/models"
	"github.com/pdvjgm/pos-backend/pkg/enums"
	pkgerrors "github.com/pdvjgm/pos-backend/pkg/errors"
	"github.com/pdvjgm/pos-backend/pkg/logger"
	"github.com/pdvjgm/pos-backend/pkg/metrics"
)

const (
	defaultPollMs         = 500
	defaultBatchSize      = 20
	defaultInitialBackoff = 2 * time.Second
	defaultMaxBackoff     = 5 * time.Minute
	maxLoopBackoff        = 10 * time.Second
	jitterWindow          = 250 * time.Millisecond
)

var jitterSource = rand.New(rand.NewSource(time.Now().UnixNano()))

// Handler processes one delivery of a job. Delivery is at-least-once: a
// handler can see the same job again after a crash between processing and
// acknowledgment and must tolerate re-execution.
type Handler func(ctx context.Context, job models.Job) error

type workerRepository interface {
	ClaimDue(ctx context.Context, limit int, now time.Time, lease time.Duration) ([]models.Job, error)
	MarkCompleted(ctx context.Context, job *models.Job) error
	Reschedule(ctx context.Context, id uuid.UUID, runAt time.Time, cause error) error
	MarkFailed(ctx context.Context, id uuid.UUID, cause error) error
}

// Worker drains the queue: claim due jobs, dispatch to the registered
// handler, and apply the retry policy on failure. Transient errors are
// rescheduled with exponential backoff until the attempt budget runs out;
// everything else dead-letters immediately because the worker cannot tell
// bad data from a bug without operator judgment.
type Worker struct {
	repo           workerRepository
	logg           *logger.Logger
	queueMetrics   *metrics.QueueMetrics
	handlers       map[enums.JobName]Handler
	pollInterval   time.Duration
	batchSize      int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	leaseTimeout   time.Duration
	now            func() time.Time
}

func NewWorker(repo workerRepository, logg *logger.Logger, cfg config.QueueConfig, queueMetrics *metrics.QueueMetrics) (*Worker, error) {
	if repo == nil {
		return nil, errors.New("jobs repository required")
	}
	if logg == nil {
		return nil, errors.New("logger required")
	}
	pollMs := cfg.PollIntervalMS
	if pollMs <= 0 {
		pollMs = defaultPollMs
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	initial := cfg.InitialBackoff
	if initial <= 0 {
		initial = defaultInitialBackoff
	}
	max := cfg.MaxBackoff
	if max <= 0 {
		max = defaultMaxBackoff
	}
	lease := cfg.LeaseTimeout
	if lease <= 0 {
		lease = defaultLeaseTimeout
	}
	return &Worker{
		repo:           repo,
		logg:           logg,
		queueMetrics:   queueMetrics,
		handlers:       map[enums.JobName]Handler{},
		pollInterval:   time.Duration(pollMs) * time.Millisecond,
		batchSize:      batch,
		initialBackoff: initial,
		maxBackoff:     max,
		leaseTimeout:   lease,
		now:            func() time.Time { return time.Now().UTC() },
	}, nil
}

// Register binds a handler to a job name. Names without a handler are
// acknowledged without processing so newer producers cannot jam this worker.
func (w *Worker) Register(name enums.JobName, handler Handler) {
	w.handlers[name] = handler
}

// Run polls until the context is canceled.
func (w *Worker) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	backoff := w.pollInterval
	for {
		select {
		case <-ctx.Done():
			w.logg.Info(ctx, "job worker context canceled")
			return ctx.Err()
		default:
		}

		processed, err := w.ProcessBatch(ctx)
		if err != nil {
			w.logg.Error(ctx, "job worker batch error", err)
			backoff = nextBackoff(backoff, w.pollInterval, maxLoopBackoff)
			if err := w.sleep(ctx, withJitter(backoff)); err != nil {
				return err
			}
			continue
		}

		backoff = w.pollInterval

		if processed {
			continue
		}

		if err := w.sleep(ctx, withJitter(w.pollInterval)); err != nil {
			return err
		}
	}
}

// ProcessBatch claims one batch of due jobs and processes them concurrently.
// It reports whether any job was claimed.
func (w *Worker) ProcessBatch(ctx context.Context) (bool, error) {
	claimed, err := w.repo.ClaimDue(ctx, w.batchSize, w.now(), w.leaseTimeout)
	if err != nil {
		return false, fmt.Errorf("claim due jobs: %w", err)
	}
	if len(claimed) == 0 {
		return false, nil
	}

	var wg sync.WaitGroup
	for i := range claimed {
		wg.Add(1)
		go func(job models.Job) {
			defer wg.Done()
			w.handleJob(ctx, job)
		}(claimed[i])
	}
	wg.Wait()
	return true, nil
}

func (w *Worker) handleJob(ctx context.Context, job models.Job) {
	jobCtx := w.logg.WithJobID(ctx, job.ID.String())
	jobCtx = w.logg.WithFields(jobCtx, map[string]any{
		"job_name":      job.Name,
		"attempt_count": job.AttemptCount,
	})

	handler, ok := w.handlers[job.Name]
	if !ok {
		// Forward compatibility: unknown names are acked, not failed.
		w.logg.Warn(jobCtx, "unknown job name, acknowledging without processing")
		if err := w.repo.MarkCompleted(jobCtx, &job); err != nil {
			w.logg.Error(jobCtx, "ack unknown job", err)
		}
		return
	}

	start := w.now()
	err := handler(jobCtx, job)
	w.queueMetrics.ObserveDuration(string(job.Name), w.now().Sub(start))

	if err == nil {
		if markErr := w.repo.MarkCompleted(jobCtx, &job); markErr != nil {
			w.logg.Error(jobCtx, "mark job completed", markErr)
			return
		}
		w.queueMetrics.IncProcessed(string(job.Name))
		w.logg.Info(jobCtx, "job completed")
		return
	}

	errCtx := w.logg.WithField(jobCtx, "error", err.Error())

	if pkgerrors.IsRetryable(err) && job.AttemptCount < job.MaxAttempts {
		runAt := w.now().Add(w.retryDelay(job.AttemptCount))
		if reschedErr := w.repo.Reschedule(errCtx, job.ID, runAt, err); reschedErr != nil {
			w.logg.Error(errCtx, "reschedule job", reschedErr)
			return
		}
		w.queueMetrics.IncRetried(string(job.Name))
		w.logg.Warn(w.logg.WithField(errCtx, "run_at", runAt.Format(time.RFC3339)), "job rescheduled after transient failure")
		return
	}

	if failErr := w.repo.MarkFailed(errCtx, job.ID, err); failErr != nil {
		w.logg.Error(errCtx, "mark job failed", failErr)
		return
	}
	w.queueMetrics.IncDeadLettered(string(job.Name))
	w.logg.Error(errCtx, "job dead-lettered", err)
}

// retryDelay doubles per attempt starting at the initial backoff, capped.
func (w *Worker) retryDelay(attempt int) time.Duration {
	delay := w.initialBackoff
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= w.maxBackoff {
			return w.maxBackoff
		}
	}
	if delay > w.maxBackoff {
		return w.maxBackoff
	}
	return delay
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func nextBackoff(current, base, max time.Duration) time.Duration {
	if current <= 0 {
		current = base
	}
	next := current * 2
	if next > max {
		return max
	}
	return next
}

func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	jitter := time.Duration(jitterSource.Int63n(int64(jitterWindow)))
	return d + jitter
}

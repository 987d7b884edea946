package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/pdvjgm/pos-backend/pkg/enums"
)

// Job is one durable unit of work. DedupeKey suppresses duplicate enqueues
// while a job with the same key is still pending or active; it is cleared
// when the job reaches a terminal state so the key can be reused.
type Job struct {
	ID            uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Name          enums.JobName   `gorm:"column:name;not null;index:ix_jobs_name"`
	DedupeKey     *string         `gorm:"column:dedupe_key;uniqueIndex:ux_jobs_dedupe_key"`
	Payload       json.RawMessage `gorm:"column:payload;type:jsonb;not null"`
	State         enums.JobState  `gorm:"column:state;not null;default:pending;index:ix_jobs_state_run_at,priority:1"`
	AttemptCount  int             `gorm:"column:attempt_count;not null;default:0"`
	MaxAttempts   int             `gorm:"column:max_attempts;not null;default:5"`
	RunAt         time.Time       `gorm:"column:run_at;not null;index:ix_jobs_state_run_at,priority:2"`
	LastError     *string         `gorm:"column:last_error"`
	ManualRetries int             `gorm:"column:manual_retries;not null;default:0"`
	LastRetryBy   *string         `gorm:"column:last_retry_by"`
	LastRetryAt   *time.Time      `gorm:"column:last_retry_at"`
	PurgeOnOK     bool            `gorm:"column:purge_on_ok;not null;default:false"`
	EnqueuedAt    time.Time       `gorm:"column:enqueued_at;autoCreateTime"`
	UpdatedAt     time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (Job) TableName() string { return "jobs" }

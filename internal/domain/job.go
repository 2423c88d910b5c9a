package types

import (
	"time"

	"github.com/google/uuid"
)

const (
	JobStatusQueued    = "queued"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
	JobStatusCancelled = "cancelled"
)

const (
	ItemStatusPending   = "pending"
	ItemStatusRunning   = "running"
	ItemStatusCompleted = "completed"
	ItemStatusFailed    = "failed"
)

const (
	StageInit      = "init"
	StageFetch     = "fetch"
	StageVision    = "vision"
	StageAnalyst   = "analyst"
	StageStore     = "store"
	StageCompleted = "completed"
	StageFailed    = "failed"
)

type JobBatch struct {
	ID        uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Status    string    `gorm:"column:status;not null;index" json:"status"`
	CreatedAt time.Time `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (JobBatch) TableName() string { return "job_batches" }

// JobItem is one post within a job batch. Mutated only through the
// claim/complete/fail contract in the job item repo; pipelines touch it
// via the runtime context.
type JobItem struct {
	ID           uuid.UUID  `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	JobID        uuid.UUID  `gorm:"type:uuid;column:job_id;not null;index" json:"job_id"`
	PostURL      string     `gorm:"column:post_url;not null" json:"post_url"`
	Stage        string     `gorm:"column:stage;not null;index" json:"stage"`
	Status       string     `gorm:"column:status;not null;index" json:"status"`
	LastError    string     `gorm:"column:last_error" json:"last_error,omitempty"`
	ResultPostID *uuid.UUID `gorm:"type:uuid;column:result_post_id" json:"result_post_id,omitempty"`
	Attempts     int        `gorm:"column:attempts;not null;default:0" json:"attempts"`
	LockedAt     *time.Time `gorm:"column:locked_at;index" json:"locked_at,omitempty"`
	HeartbeatAt  *time.Time `gorm:"column:heartbeat_at;index" json:"heartbeat_at,omitempty"`
	CreatedAt    time.Time  `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"not null;default:now()" json:"updated_at"`
}

func (JobItem) TableName() string { return "job_items" }

type JobSummary struct {
	JobID     uuid.UUID `json:"job_id"`
	Status    string    `json:"status"`
	Total     int64     `json:"total"`
	Pending   int64     `json:"pending"`
	Running   int64     `json:"running"`
	Completed int64     `json:"completed"`
	Failed    int64     `json:"failed"`
}

package repos

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/threadscope/threadscope-backend/internal/domain"
	"github.com/threadscope/threadscope-backend/internal/logger"
	"github.com/threadscope/threadscope-backend/internal/pkg/dbctx"
)

// ErrIncompleteArtifact is returned when an item is asked to complete
// against a post that has no stored analysis document. Completion is
// gated on the artifact existing; there is no way around the gate.
var ErrIncompleteArtifact = errors.New("job item cannot complete: post has no analysis artifact")

// LeaseExpiredReason is stamped on items that burned their attempt
// budget through stale leases rather than explicit stage failures.
const LeaseExpiredReason = "lease_expired"

type JobBatchRepo interface {
	Create(dbc dbctx.Context, batch *types.JobBatch) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.JobBatch, error)
	List(dbc dbctx.Context, limit int) ([]types.JobBatch, error)
	UpdateStatus(dbc dbctx.Context, id uuid.UUID, status string) error
	// RefreshStatus derives the batch status from its items and writes it
	// back. Cancelled batches are terminal and never overwritten.
	RefreshStatus(dbc dbctx.Context, id uuid.UUID) (string, error)
}

type jobBatchRepo struct {
	db    *gorm.DB
	items JobItemRepo
	log   *logger.Logger
}

func NewJobBatchRepo(db *gorm.DB, items JobItemRepo, baseLog *logger.Logger) JobBatchRepo {
	return &jobBatchRepo{db: db, items: items, log: baseLog.With("repo", "JobBatchRepo")}
}

func (r *jobBatchRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *jobBatchRepo) Create(dbc dbctx.Context, batch *types.JobBatch) error {
	if batch == nil {
		return errors.New("batch required")
	}
	if batch.ID == uuid.Nil {
		batch.ID = uuid.New()
	}
	if batch.Status == "" {
		batch.Status = types.JobStatusQueued
	}
	return r.handle(dbc).WithContext(dbc.Ctx).Create(batch).Error
}

func (r *jobBatchRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.JobBatch, error) {
	var b types.JobBatch
	err := r.handle(dbc).WithContext(dbc.Ctx).Where("id = ?", id).First(&b).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *jobBatchRepo) List(dbc dbctx.Context, limit int) ([]types.JobBatch, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []types.JobBatch
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *jobBatchRepo) UpdateStatus(dbc dbctx.Context, id uuid.UUID, status string) error {
	return r.handle(dbc).WithContext(dbc.Ctx).
		Model(&types.JobBatch{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     status,
			"updated_at": time.Now().UTC(),
		}).Error
}

func (r *jobBatchRepo) RefreshStatus(dbc dbctx.Context, id uuid.UUID) (string, error) {
	batch, err := r.GetByID(dbc, id)
	if err != nil {
		return "", err
	}
	if batch == nil {
		return "", gorm.ErrRecordNotFound
	}
	if batch.Status == types.JobStatusCancelled {
		return batch.Status, nil
	}
	counts, err := r.items.CountsByJob(dbc, id)
	if err != nil {
		return "", err
	}

	status := types.JobStatusQueued
	switch {
	case counts.Total == 0:
		status = batch.Status
	case counts.Pending+counts.Running > 0 && counts.Running+counts.Completed+counts.Failed > 0:
		status = types.JobStatusRunning
	case counts.Pending+counts.Running == 0 && counts.Failed > 0:
		status = types.JobStatusFailed
	case counts.Pending+counts.Running == 0:
		status = types.JobStatusCompleted
	}
	if status != batch.Status {
		if err := r.UpdateStatus(dbc, id, status); err != nil {
			return "", err
		}
	}
	return status, nil
}

type JobItemRepo interface {
	CreateMany(dbc dbctx.Context, items []types.JobItem) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.JobItem, error)
	ListByJob(dbc dbctx.Context, jobID uuid.UUID, limit int) ([]types.JobItem, error)
	// ClaimNext atomically claims one runnable item for a worker:
	// pending items first, then running items whose lease expired with
	// attempts to spare. The claim increments attempts and stamps the
	// lock and heartbeat.
	ClaimNext(dbc dbctx.Context, lease time.Duration, maxAttempts int) (*types.JobItem, error)
	Heartbeat(dbc dbctx.Context, id uuid.UUID) error
	AdvanceStage(dbc dbctx.Context, id uuid.UUID, stage string) error
	SetLastError(dbc dbctx.Context, id uuid.UUID, msg string) error
	// CompleteItem transitions to completed only when the referenced post
	// carries a non-null analysis artifact; otherwise ErrIncompleteArtifact.
	CompleteItem(dbc dbctx.Context, id uuid.UUID, resultPostID uuid.UUID) error
	FailItem(dbc dbctx.Context, id uuid.UUID, stage, reason string) error
	// FailExhausted sweeps stale-leased items that are out of attempts
	// into failed with the lease_expired reason.
	FailExhausted(dbc dbctx.Context, lease time.Duration, maxAttempts int) (int64, error)
	CancelPendingByJob(dbc dbctx.Context, jobID uuid.UUID) (int64, error)
	CountsByJob(dbc dbctx.Context, jobID uuid.UUID) (types.JobSummary, error)
}

type jobItemRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewJobItemRepo(db *gorm.DB, baseLog *logger.Logger) JobItemRepo {
	return &jobItemRepo{db: db, log: baseLog.With("repo", "JobItemRepo")}
}

func (r *jobItemRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *jobItemRepo) CreateMany(dbc dbctx.Context, items []types.JobItem) error {
	if len(items) == 0 {
		return nil
	}
	for i := range items {
		if items[i].ID == uuid.Nil {
			items[i].ID = uuid.New()
		}
		if items[i].Status == "" {
			items[i].Status = types.ItemStatusPending
		}
		if items[i].Stage == "" {
			items[i].Stage = types.StageInit
		}
	}
	return r.handle(dbc).WithContext(dbc.Ctx).CreateInBatches(items, 200).Error
}

func (r *jobItemRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.JobItem, error) {
	var item types.JobItem
	err := r.handle(dbc).WithContext(dbc.Ctx).Where("id = ?", id).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *jobItemRepo) ListByJob(dbc dbctx.Context, jobID uuid.UUID, limit int) ([]types.JobItem, error) {
	if limit <= 0 {
		limit = 200
	}
	var out []types.JobItem
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("job_id = ?", jobID).
		Order("created_at ASC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *jobItemRepo) ClaimNext(dbc dbctx.Context, lease time.Duration, maxAttempts int) (*types.JobItem, error) {
	now := time.Now().UTC()
	stale := now.Add(-lease)

	// Select and update run in one transaction so the SKIP LOCKED row
	// lock holds until the claim is written; outside a transaction the
	// lock would be gone the moment the SELECT ends.
	var item types.JobItem
	claimed := false
	err := r.handle(dbc).WithContext(dbc.Ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where(
				"(status = ?) OR (status = ? AND heartbeat_at < ? AND attempts < ?)",
				types.ItemStatusPending, types.ItemStatusRunning, stale, maxAttempts,
			).
			Order("created_at ASC").
			First(&item).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		observedStatus := item.Status
		observedAttempts := item.Attempts
		item.Status = types.ItemStatusRunning
		item.Attempts++
		item.LockedAt = &now
		item.HeartbeatAt = &now
		if item.Stage == "" || item.Stage == types.StageInit {
			item.Stage = types.StageFetch
		}
		res := tx.Model(&types.JobItem{}).
			Where("id = ? AND status = ? AND attempts = ?", item.ID, observedStatus, observedAttempts).
			Updates(map[string]interface{}{
				"status":       item.Status,
				"stage":        item.Stage,
				"attempts":     item.Attempts,
				"locked_at":    now,
				"heartbeat_at": now,
				"updated_at":   now,
			})
		if res.Error != nil {
			return res.Error
		}
		// RowsAffected 0 means another claimant got there first; the
		// caller just sees nothing runnable.
		claimed = res.RowsAffected == 1
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, nil
	}
	return &item, nil
}

func (r *jobItemRepo) Heartbeat(dbc dbctx.Context, id uuid.UUID) error {
	now := time.Now().UTC()
	return r.handle(dbc).WithContext(dbc.Ctx).
		Model(&types.JobItem{}).
		Where("id = ? AND status = ?", id, types.ItemStatusRunning).
		Updates(map[string]interface{}{"heartbeat_at": now, "updated_at": now}).Error
}

func (r *jobItemRepo) AdvanceStage(dbc dbctx.Context, id uuid.UUID, stage string) error {
	now := time.Now().UTC()
	res := r.handle(dbc).WithContext(dbc.Ctx).
		Model(&types.JobItem{}).
		Where("id = ? AND status = ?", id, types.ItemStatusRunning).
		Updates(map[string]interface{}{"stage": stage, "heartbeat_at": now, "updated_at": now})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *jobItemRepo) SetLastError(dbc dbctx.Context, id uuid.UUID, msg string) error {
	return r.handle(dbc).WithContext(dbc.Ctx).
		Model(&types.JobItem{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"last_error": msg, "updated_at": time.Now().UTC()}).Error
}

func (r *jobItemRepo) CompleteItem(dbc dbctx.Context, id uuid.UUID, resultPostID uuid.UUID) error {
	if resultPostID == uuid.Nil {
		return ErrIncompleteArtifact
	}
	now := time.Now().UTC()
	res := r.handle(dbc).WithContext(dbc.Ctx).
		Model(&types.JobItem{}).
		Where("id = ? AND status = ?", id, types.ItemStatusRunning).
		Where("EXISTS (SELECT 1 FROM threads_posts p WHERE p.id = ? AND p.analysis_result IS NOT NULL)", resultPostID).
		Updates(map[string]interface{}{
			"status":         types.ItemStatusCompleted,
			"stage":          types.StageCompleted,
			"result_post_id": resultPostID,
			"locked_at":      nil,
			"updated_at":     now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrIncompleteArtifact
	}
	return nil
}

func (r *jobItemRepo) FailItem(dbc dbctx.Context, id uuid.UUID, stage, reason string) error {
	now := time.Now().UTC()
	if stage == "" {
		stage = types.StageFailed
	}
	res := r.handle(dbc).WithContext(dbc.Ctx).
		Model(&types.JobItem{}).
		Where("id = ? AND status IN ?", id, []string{types.ItemStatusRunning, types.ItemStatusPending}).
		Updates(map[string]interface{}{
			"status":     types.ItemStatusFailed,
			"stage":      stage,
			"last_error": reason,
			"locked_at":  nil,
			"updated_at": now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *jobItemRepo) FailExhausted(dbc dbctx.Context, lease time.Duration, maxAttempts int) (int64, error) {
	now := time.Now().UTC()
	stale := now.Add(-lease)
	res := r.handle(dbc).WithContext(dbc.Ctx).
		Model(&types.JobItem{}).
		Where("status = ? AND heartbeat_at < ? AND attempts >= ?", types.ItemStatusRunning, stale, maxAttempts).
		Updates(map[string]interface{}{
			"status":     types.ItemStatusFailed,
			"stage":      types.StageFailed,
			"last_error": LeaseExpiredReason,
			"locked_at":  nil,
			"updated_at": now,
		})
	return res.RowsAffected, res.Error
}

func (r *jobItemRepo) CancelPendingByJob(dbc dbctx.Context, jobID uuid.UUID) (int64, error) {
	now := time.Now().UTC()
	res := r.handle(dbc).WithContext(dbc.Ctx).
		Model(&types.JobItem{}).
		Where("job_id = ? AND status = ?", jobID, types.ItemStatusPending).
		Updates(map[string]interface{}{
			"status":     types.ItemStatusFailed,
			"last_error": "cancelled",
			"updated_at": now,
		})
	return res.RowsAffected, res.Error
}

func (r *jobItemRepo) CountsByJob(dbc dbctx.Context, jobID uuid.UUID) (types.JobSummary, error) {
	summary := types.JobSummary{JobID: jobID}
	rows := []struct {
		Status string
		N      int64
	}{}
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Model(&types.JobItem{}).
		Select("status, count(*) as n").
		Where("job_id = ?", jobID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return summary, err
	}
	for _, row := range rows {
		summary.Total += row.N
		switch row.Status {
		case types.ItemStatusPending:
			summary.Pending = row.N
		case types.ItemStatusRunning:
			summary.Running = row.N
		case types.ItemStatusCompleted:
			summary.Completed = row.N
		case types.ItemStatusFailed:
			summary.Failed = row.N
		}
	}
	return summary, nil
}

package services

import (
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/threadscope/threadscope-backend/internal/data/repos"
	types "github.com/threadscope/threadscope-backend/internal/domain"
	"github.com/threadscope/threadscope-backend/internal/logger"
	"github.com/threadscope/threadscope-backend/internal/pkg/dbctx"
)

const (
	// Item listing caps: a missing limit gets the default, anything
	// above the hard cap is clamped.
	DefaultItemLimit = 200
	MaxItemLimit     = 1000
)

type JobWithSummary struct {
	Job     *types.JobBatch  `json:"job"`
	Summary types.JobSummary `json:"summary"`
}

type JobService interface {
	CreateJob(dbc dbctx.Context, urls []string) (*types.JobBatch, []types.JobItem, error)
	GetJob(dbc dbctx.Context, jobID uuid.UUID) (*JobWithSummary, error)
	ListJobs(dbc dbctx.Context, limit int) ([]JobWithSummary, error)
	ListItems(dbc dbctx.Context, jobID uuid.UUID, limit int) ([]types.JobItem, error)
	Cancel(dbc dbctx.Context, jobID uuid.UUID) (*types.JobBatch, error)
}

type jobService struct {
	db      *gorm.DB
	log     *logger.Logger
	batches repos.JobBatchRepo
	items   repos.JobItemRepo
	notify  JobNotifier
}

func NewJobService(
	db *gorm.DB,
	baseLog *logger.Logger,
	batches repos.JobBatchRepo,
	items repos.JobItemRepo,
	notify JobNotifier,
) JobService {
	return &jobService{
		db:      db,
		log:     baseLog.With("service", "JobService"),
		batches: batches,
		items:   items,
		notify:  notify,
	}
}

func (s *jobService) CreateJob(dbc dbctx.Context, urls []string) (*types.JobBatch, []types.JobItem, error) {
	if len(urls) == 0 {
		return nil, nil, fmt.Errorf("no urls provided")
	}

	normalized := make([]string, 0, len(urls))
	seen := map[string]bool{}
	for _, raw := range urls {
		u, err := NormalizeThreadURL(raw)
		if err != nil {
			return nil, nil, fmt.Errorf("url %q: %w", raw, err)
		}
		if seen[u] {
			continue
		}
		seen[u] = true
		normalized = append(normalized, u)
	}

	batch := &types.JobBatch{ID: uuid.New(), Status: types.JobStatusQueued}
	if err := s.batches.Create(dbc, batch); err != nil {
		return nil, nil, fmt.Errorf("create batch: %w", err)
	}

	items := make([]types.JobItem, 0, len(normalized))
	for _, u := range normalized {
		items = append(items, types.JobItem{
			ID:      uuid.New(),
			JobID:   batch.ID,
			PostURL: u,
			Stage:   types.StageInit,
			Status:  types.ItemStatusPending,
		})
	}
	if err := s.items.CreateMany(dbc, items); err != nil {
		return nil, nil, fmt.Errorf("create items: %w", err)
	}

	s.log.Info("job created", "job_id", batch.ID, "items", len(items))
	if s.notify != nil {
		s.notify.JobCreated(batch, len(items))
	}
	return batch, items, nil
}

func (s *jobService) GetJob(dbc dbctx.Context, jobID uuid.UUID) (*JobWithSummary, error) {
	batch, err := s.batches.GetByID(dbc, jobID)
	if err != nil {
		return nil, err
	}
	if batch == nil {
		return nil, nil
	}
	summary, err := s.items.CountsByJob(dbc, jobID)
	if err != nil {
		return nil, err
	}
	summary.Status = batch.Status
	return &JobWithSummary{Job: batch, Summary: summary}, nil
}

func (s *jobService) ListJobs(dbc dbctx.Context, limit int) ([]JobWithSummary, error) {
	batches, err := s.batches.List(dbc, limit)
	if err != nil {
		return nil, err
	}
	out := make([]JobWithSummary, 0, len(batches))
	for i := range batches {
		summary, err := s.items.CountsByJob(dbc, batches[i].ID)
		if err != nil {
			return nil, err
		}
		summary.Status = batches[i].Status
		out = append(out, JobWithSummary{Job: &batches[i], Summary: summary})
	}
	return out, nil
}

func (s *jobService) ListItems(dbc dbctx.Context, jobID uuid.UUID, limit int) ([]types.JobItem, error) {
	if limit <= 0 {
		limit = DefaultItemLimit
	}
	if limit > MaxItemLimit {
		limit = MaxItemLimit
	}
	return s.items.ListByJob(dbc, jobID, limit)
}

func (s *jobService) Cancel(dbc dbctx.Context, jobID uuid.UUID) (*types.JobBatch, error) {
	batch, err := s.batches.GetByID(dbc, jobID)
	if err != nil {
		return nil, err
	}
	if batch == nil {
		return nil, nil
	}
	switch batch.Status {
	case types.JobStatusCompleted, types.JobStatusFailed, types.JobStatusCancelled:
		return batch, nil
	}

	cancelled, err := s.items.CancelPendingByJob(dbc, jobID)
	if err != nil {
		return nil, fmt.Errorf("cancel pending items: %w", err)
	}
	if err := s.batches.UpdateStatus(dbc, jobID, types.JobStatusCancelled); err != nil {
		return nil, err
	}
	batch.Status = types.JobStatusCancelled

	s.log.Info("job cancelled", "job_id", jobID, "items_cancelled", cancelled)
	if s.notify != nil {
		s.notify.JobCancelled(jobID)
	}
	return batch, nil
}

package worker

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/threadscope/threadscope-backend/internal/config"
	"github.com/threadscope/threadscope-backend/internal/data/repos"
	types "github.com/threadscope/threadscope-backend/internal/domain"
	"github.com/threadscope/threadscope-backend/internal/jobs/runtime"
	"github.com/threadscope/threadscope-backend/internal/logger"
	"github.com/threadscope/threadscope-backend/internal/pkg/dbctx"
	"github.com/threadscope/threadscope-backend/internal/services"
)

// Pool runs a bounded set of claim loops. Each loop claims at most one
// item at a time, so concurrency across items is exactly the pool
// size and no item ever has two processors.
type Pool struct {
	db       *gorm.DB
	log      *logger.Logger
	items    repos.JobItemRepo
	batches  repos.JobBatchRepo
	registry *runtime.Registry
	notify   services.JobNotifier
	jobType  string
	cfg      config.PipelineConfig
}

func NewPool(
	db *gorm.DB,
	baseLog *logger.Logger,
	items repos.JobItemRepo,
	batches repos.JobBatchRepo,
	registry *runtime.Registry,
	notify services.JobNotifier,
	jobType string,
	cfg config.PipelineConfig,
) *Pool {
	return &Pool{
		db:       db,
		log:      baseLog.With("component", "WorkerPool"),
		items:    items,
		batches:  batches,
		registry: registry,
		notify:   notify,
		jobType:  jobType,
		cfg:      cfg,
	}
}

func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.cfg.WorkerConcurrency; i++ {
		go p.claimLoop(ctx, i)
	}
	go p.sweepLoop(ctx)
	p.log.Info("worker pool started",
		"concurrency", p.cfg.WorkerConcurrency,
		"lease", p.cfg.JobLease().String(),
		"max_attempts", p.cfg.JobMaxAttempts)
}

func (p *Pool) claimLoop(ctx context.Context, slot int) {
	log := p.log.With("slot", slot)
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			item, err := p.items.ClaimNext(dbctx.Context{Ctx: ctx}, p.cfg.JobLease(), p.cfg.JobMaxAttempts)
			if err != nil {
				log.Warn("claim failed", "error", err)
				continue
			}
			if item == nil {
				continue
			}
			p.runOne(ctx, item, log)
		}
	}
}

func (p *Pool) runOne(ctx context.Context, item *types.JobItem, log *logger.Logger) {
	h, ok := p.registry.Get(p.jobType)
	if !ok {
		log.Error("no handler registered", "job_type", p.jobType)
		jc := runtime.NewContext(ctx, p.db, item, p.items, p.batches, p.notify, log)
		jc.Fail("dispatch", fmt.Errorf("no handler registered for job_type=%s", p.jobType))
		return
	}

	jc := runtime.NewContext(ctx, p.db, item, p.items, p.batches, p.notify, log)
	func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error("pipeline panic", "item_id", item.ID, "panic", r)
				jc.Fail("panic", fmt.Errorf("panic: %v", r))
			}
		}()
		if err := h.Run(jc); err != nil {
			// Handlers own their terminal transitions; an error escaping
			// here means the runner itself broke.
			log.Error("handler returned error after transitions", "item_id", item.ID, "error", err)
		}
	}()
}

// sweepLoop periodically fails items whose lease expired with no
// attempts left, so nothing stays invisible forever.
func (p *Pool) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.items.FailExhausted(dbctx.Context{Ctx: ctx}, p.cfg.JobLease(), p.cfg.JobMaxAttempts)
			if err != nil {
				p.log.Warn("exhausted sweep failed", "error", err)
				continue
			}
			if n > 0 {
				p.log.Warn("swept exhausted items", "count", n)
			}
		}
	}
}

package runtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/threadscope/threadscope-backend/internal/data/repos"
	types "github.com/threadscope/threadscope-backend/internal/domain"
	"github.com/threadscope/threadscope-backend/internal/logger"
	"github.com/threadscope/threadscope-backend/internal/pkg/dbctx"
	"github.com/threadscope/threadscope-backend/internal/services"
)

// ErrCancelled is returned by CheckCancelled when the owning batch was
// cancelled while the item ran. Observed at stage boundaries only.
var ErrCancelled = errors.New("job cancelled")

// Context is the execution contract between the job system and the
// pipeline. It wraps the claimed item, the only sanctioned transitions
// (AdvanceStage, Complete, Fail), and the notification side effects.
// Pipelines never touch job_items rows directly.
type Context struct {
	Ctx     context.Context
	DB      *gorm.DB
	Item    *types.JobItem
	Items   repos.JobItemRepo
	Batches repos.JobBatchRepo
	Notify  services.JobNotifier
	Log     *logger.Logger
}

func NewContext(
	ctx context.Context,
	db *gorm.DB,
	item *types.JobItem,
	items repos.JobItemRepo,
	batches repos.JobBatchRepo,
	notify services.JobNotifier,
	log *logger.Logger,
) *Context {
	return &Context{
		Ctx:     ctx,
		DB:      db,
		Item:    item,
		Items:   items,
		Batches: batches,
		Notify:  notify,
		Log:     log.With("item_id", item.ID, "job_id", item.JobID),
	}
}

func (c *Context) dbc() dbctx.Context {
	return dbctx.Context{Ctx: c.Ctx}
}

// CheckCancelled is called by the runner at stage boundaries. A
// running stage is never interrupted mid-flight.
func (c *Context) CheckCancelled() error {
	if err := c.Ctx.Err(); err != nil {
		return err
	}
	batch, err := c.Batches.GetByID(c.dbc(), c.Item.JobID)
	if err != nil {
		return err
	}
	if batch != nil && batch.Status == types.JobStatusCancelled {
		return ErrCancelled
	}
	return nil
}

// AdvanceStage records the transition, refreshes the heartbeat, and
// tells listeners where the item is.
func (c *Context) AdvanceStage(stage, message string) error {
	if err := c.Items.AdvanceStage(c.dbc(), c.Item.ID, stage); err != nil {
		return fmt.Errorf("advance to %s: %w", stage, err)
	}
	c.Item.Stage = stage
	c.Log.Info("stage advanced", "stage", stage)
	if c.Notify != nil {
		c.Notify.ItemProgress(c.Item.JobID, c.Item, stage, message)
	}
	return nil
}

func (c *Context) Heartbeat() {
	if err := c.Items.Heartbeat(c.dbc(), c.Item.ID); err != nil {
		c.Log.Warn("heartbeat failed", "error", err)
	}
}

// RecordSoftFailure stamps last_error without changing status. Used by
// stages whose failure degrades the result instead of ending the run.
func (c *Context) RecordSoftFailure(stage string, cause error) {
	msg := fmt.Sprintf("%s: %v", stage, cause)
	if err := c.Items.SetLastError(c.dbc(), c.Item.ID, msg); err != nil {
		c.Log.Warn("recording soft failure failed", "error", err)
	}
	c.Item.LastError = msg
	c.Log.Warn("stage soft-failed", "stage", stage, "error", cause)
}

// Complete finishes the item against its stored artifact. The
// completion gate lives in the repo; an item can never complete
// against a post without a document.
func (c *Context) Complete(resultPostID uuid.UUID) error {
	if err := c.Items.CompleteItem(c.dbc(), c.Item.ID, resultPostID); err != nil {
		return err
	}
	c.Item.Status = types.ItemStatusCompleted
	c.Item.Stage = types.StageCompleted
	c.Item.ResultPostID = &resultPostID
	c.Log.Info("item completed", "post_id", resultPostID)
	if c.Notify != nil {
		c.Notify.ItemCompleted(c.Item.JobID, c.Item)
	}
	c.refreshBatch()
	return nil
}

// Fail terminates the item at the given stage.
func (c *Context) Fail(stage string, cause error) {
	reason := cause.Error()
	if err := c.Items.FailItem(c.dbc(), c.Item.ID, stage, reason); err != nil {
		c.Log.Error("fail transition failed", "stage", stage, "error", err)
		return
	}
	c.Item.Status = types.ItemStatusFailed
	c.Item.Stage = stage
	c.Item.LastError = reason
	c.Log.Warn("item failed", "stage", stage, "error", reason)
	if c.Notify != nil {
		c.Notify.ItemFailed(c.Item.JobID, c.Item, stage, reason)
	}
	c.refreshBatch()
}

func (c *Context) refreshBatch() {
	status, err := c.Batches.RefreshStatus(c.dbc(), c.Item.JobID)
	if err != nil {
		c.Log.Warn("batch refresh failed", "error", err)
		return
	}
	if status == types.JobStatusCompleted || status == types.JobStatusFailed {
		batch, err := c.Batches.GetByID(c.dbc(), c.Item.JobID)
		if err != nil || batch == nil {
			return
		}
		summary, err := c.Items.CountsByJob(c.dbc(), c.Item.JobID)
		if err != nil {
			return
		}
		summary.Status = status
		if c.Notify != nil {
			c.Notify.JobDone(batch, summary)
		}
	}
}

package post_analyze

import (
	"errors"
	"math/rand"
	"time"

	jobrt "github.com/threadscope/threadscope-backend/internal/jobs/runtime"
	"github.com/threadscope/threadscope-backend/internal/jobs/steps"
	"github.com/threadscope/threadscope-backend/internal/pkg/dbctx"
	"github.com/threadscope/threadscope-backend/internal/services"
	types "github.com/threadscope/threadscope-backend/internal/domain"
)

// Run is the only converter of component failures into job-item
// transitions. Stage semantics:
//
//	fetch    hard   item cannot proceed without content
//	vision   soft   annotations degrade, run continues
//	analyst  hard   includes clustering, gates, narrative
//	store    hard   the artifact either persists or the item fails
//
// Transient failures retry with backoff inside their stage; gate
// violations never retry.
func (p *Pipeline) Run(jc *jobrt.Context) error {
	if jc == nil || jc.Item == nil {
		return nil
	}

	if err := jc.CheckCancelled(); err != nil {
		jc.Fail(types.StageInit, err)
		return nil
	}

	// fetch
	if err := jc.AdvanceStage(types.StageFetch, "fetching thread"); err != nil {
		return err
	}
	var post *types.ThreadPost
	var comments []types.ThreadComment
	err := p.withRetry(jc, func() error {
		var stepErr error
		post, comments, stepErr = steps.FetchThread(jc.Ctx, p.deps, jc.Item.PostURL)
		return stepErr
	})
	if err != nil {
		jc.Fail(types.StageFetch, err)
		return nil
	}

	if err := jc.CheckCancelled(); err != nil {
		jc.Fail(types.StageFetch, err)
		return nil
	}

	// vision (soft)
	if err := jc.AdvanceStage(types.StageVision, "annotating images"); err != nil {
		return err
	}
	var annotations []services.ImageAnnotation
	err = p.withRetry(jc, func() error {
		var stepErr error
		annotations, stepErr = steps.AnnotateImages(jc.Ctx, p.deps, post)
		return stepErr
	})
	if err != nil {
		jc.RecordSoftFailure(types.StageVision, err)
		annotations = nil
	}

	if err := jc.CheckCancelled(); err != nil {
		jc.Fail(types.StageVision, err)
		return nil
	}

	// analyst: clustering, gates, metrics, narrative
	if err := jc.AdvanceStage(types.StageAnalyst, "clustering and narrating"); err != nil {
		return err
	}
	var q *steps.QuantResult
	err = p.withRetry(jc, func() error {
		var stepErr error
		q, stepErr = steps.RunQuant(jc.Ctx, p.deps, post, comments)
		return stepErr
	})
	if err != nil {
		jc.Fail(types.StageAnalyst, err)
		return nil
	}

	var doc *types.AnalysisDocument
	err = p.withRetry(jc, func() error {
		var stepErr error
		doc, stepErr = steps.RunNarrative(jc.Ctx, p.deps, post, q, annotations)
		return stepErr
	})
	if err != nil {
		jc.Fail(types.StageAnalyst, err)
		return nil
	}

	if err := jc.CheckCancelled(); err != nil {
		jc.Fail(types.StageAnalyst, err)
		return nil
	}

	// store
	if err := jc.AdvanceStage(types.StageStore, "persisting document"); err != nil {
		return err
	}
	valid, reason, err := steps.StoreDocument(jc.Ctx, p.deps, post, doc, q)
	if err != nil {
		jc.Fail(types.StageStore, err)
		return nil
	}
	if !valid {
		p.log.Warn("document stored invalid", "post_id", post.ID, "reason", reason)
	}

	if p.naming != nil {
		if err := p.naming.EnrichPost(dbctx.Context{Ctx: jc.Ctx}, post.ID); err != nil {
			// Enrichment is decorative; its failure never touches the item.
			p.log.Warn("naming enrichment failed", "post_id", post.ID, "error", err)
		}
	}

	if err := jc.Complete(post.ID); err != nil {
		jc.Fail(types.StageStore, err)
		return nil
	}
	return nil
}

// withRetry retries transient failures with capped exponential backoff
// and jitter. Anything else returns immediately; gate violations and
// contract errors are not retry fodder.
func (p *Pipeline) withRetry(jc *jobrt.Context, fn func() error) error {
	backoff := 2 * time.Second
	attempts := p.cfg.StageRetryAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !isTransient(err) {
			return err
		}
		if attempt == attempts {
			return err
		}

		sleep := backoff
		if sleep > 15*time.Second {
			sleep = 15 * time.Second
		}
		// +/- 20% jitter
		delta := sleep.Seconds() * 0.2
		sleep = time.Duration((sleep.Seconds() - delta + rand.Float64()*2*delta) * float64(time.Second))

		p.log.Warn("stage retrying", "item_id", jc.Item.ID, "attempt", attempt, "sleep", sleep.String(), "error", err.Error())
		time.Sleep(sleep)
		jc.Heartbeat()
		backoff *= 2
	}
	return err
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	// Gate sentinels are invariant violations, never retried.
	switch {
	case errors.Is(err, services.ErrCentroidRequired),
		errors.Is(err, services.ErrCentroidPersistenceFailed),
		errors.Is(err, services.ErrForceRequired),
		errors.Is(err, services.ErrPartialAssignmentPayload),
		errors.Is(err, services.ErrCoverageShortfall):
		return false
	}
	return jobrt.IsTransient(err) || services.IsTransient(err)
}

package services

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/threadscope/threadscope-backend/internal/data/repos"
	"github.com/threadscope/threadscope-backend/internal/logger"
	"github.com/threadscope/threadscope-backend/internal/pkg/dbctx"
)

// AssignmentHydration backfills the noise key onto comments left
// unassigned by historical runs, so older posts satisfy the same
// full-coverage reads as fresh ones. It runs as maintenance, never
// inside the pipeline.
type AssignmentHydration interface {
	Run(ctx context.Context, batchSize, concurrency int) (int64, error)
}

type assignmentHydration struct {
	db       *gorm.DB
	log      *logger.Logger
	comments repos.CommentRepo
}

func NewAssignmentHydration(db *gorm.DB, baseLog *logger.Logger, comments repos.CommentRepo) AssignmentHydration {
	return &assignmentHydration{
		db:       db,
		log:      baseLog.With("service", "AssignmentHydration"),
		comments: comments,
	}
}

func (s *assignmentHydration) Run(ctx context.Context, batchSize, concurrency int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 100
	}
	if concurrency <= 0 {
		concurrency = 4
	}

	var total int64
	for {
		dbc := dbctx.Context{Ctx: ctx}
		postIDs, err := s.comments.ListPostIDsWithUnassigned(dbc, batchSize)
		if err != nil {
			return total, err
		}
		if len(postIDs) == 0 {
			return total, nil
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(concurrency)
		var batchTotal int64
		for _, postID := range postIDs {
			postID := postID
			g.Go(func() error {
				n, err := s.comments.BackfillNoise(dbctx.Context{Ctx: gctx}, postID)
				if err != nil {
					return err
				}
				atomic.AddInt64(&batchTotal, n)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return total, err
		}
		total += batchTotal
		s.log.Info("hydration batch complete", "posts", len(postIDs), "comments_backfilled", batchTotal)

		// A full short batch means the scan is done.
		if len(postIDs) < batchSize {
			return total, nil
		}
	}
}

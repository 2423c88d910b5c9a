package services

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/threadscope/threadscope-backend/internal/analysis/identity"
	"github.com/threadscope/threadscope-backend/internal/data/repos"
	types "github.com/threadscope/threadscope-backend/internal/domain"
	"github.com/threadscope/threadscope-backend/internal/logger"
	"github.com/threadscope/threadscope-backend/internal/pkg/dbctx"
)

// QuantAudit owns run identity: computing the dedup key for a
// content+configuration pair, deciding novel vs repeat, and appending
// the audit rows. A repeat never skips work; it only changes the health
// stamp on the row.
type QuantAudit interface {
	Identify(postText string, comments []identity.CommentInput, params identity.BackendParams) (identity.DedupKey, error)
	IsRepeat(dbc dbctx.Context, key identity.DedupKey) (bool, error)
	RecordRun(dbc dbctx.Context, postID uuid.UUID, key identity.DedupKey, params identity.BackendParams, centroids map[int][]float64) (*types.QuantRun, error)
	RecordClusterSnapshots(dbc dbctx.Context, run *types.QuantRun, metrics []types.ClusterMetrics) error
}

type quantAudit struct {
	db   *gorm.DB
	log  *logger.Logger
	runs repos.QuantRunRepo
}

func NewQuantAudit(db *gorm.DB, baseLog *logger.Logger, runs repos.QuantRunRepo) QuantAudit {
	return &quantAudit{db: db, log: baseLog.With("service", "QuantAudit"), runs: runs}
}

func (s *quantAudit) Identify(postText string, comments []identity.CommentInput, params identity.BackendParams) (identity.DedupKey, error) {
	return identity.Identify(postText, comments, params)
}

func (s *quantAudit) IsRepeat(dbc dbctx.Context, key identity.DedupKey) (bool, error) {
	return s.runs.ExistsByKey(dbc, key.CanonicalTextHash, key.BackendParamsHash)
}

func (s *quantAudit) RecordRun(dbc dbctx.Context, postID uuid.UUID, key identity.DedupKey, params identity.BackendParams, centroids map[int][]float64) (*types.QuantRun, error) {
	if postID == uuid.Nil {
		return nil, fmt.Errorf("missing post_id")
	}
	repeat, err := s.IsRepeat(dbc, key)
	if err != nil {
		return nil, fmt.Errorf("repeat check: %w", err)
	}
	health := types.RunHealthNovel
	if repeat {
		health = types.RunHealthRepeat
	}

	rawParams, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal backend params: %w", err)
	}
	run := &types.QuantRun{
		ID:                         uuid.New(),
		PostID:                     postID,
		CanonicalTextHash:          key.CanonicalTextHash,
		BackendParamsHash:          key.BackendParamsHash,
		Seed:                       params.Seed,
		BackendParams:              datatypes.JSON(rawParams),
		Health:                     health,
		CentroidHash:               identity.CentroidHash(centroids),
		EmbeddingPreprocessVersion: identity.EmbeddingPreprocessVersion,
		CanonicalEmbedTextHash:     key.CanonicalTextHash,
	}
	if err := s.runs.Insert(dbc, run); err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	s.log.Info("quant run recorded",
		"post_id", postID, "health", health, "dedup_key", key.String())
	return run, nil
}

func (s *quantAudit) RecordClusterSnapshots(dbc dbctx.Context, run *types.QuantRun, metrics []types.ClusterMetrics) error {
	if run == nil || run.ID == uuid.Nil {
		return fmt.Errorf("missing run")
	}
	snaps := make([]types.QuantClusterSnapshot, 0, len(metrics))
	for _, m := range metrics {
		snaps = append(snaps, types.QuantClusterSnapshot{
			ID:           uuid.New(),
			RunID:        run.ID,
			PostID:       run.PostID,
			ClusterKey:   m.ClusterKey,
			Size:         m.Size,
			LikeSum:      m.LikeSum,
			CentroidHash: run.CentroidHash,
		})
	}
	return s.runs.InsertSnapshots(dbc, snaps)
}

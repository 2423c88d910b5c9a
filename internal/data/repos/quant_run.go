package repos

import (
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/threadscope/threadscope-backend/internal/domain"
	"github.com/threadscope/threadscope-backend/internal/logger"
	"github.com/threadscope/threadscope-backend/internal/pkg/dbctx"
)

// QuantRunRepo is append-only on purpose: run rows are an audit trail,
// and there is no update or delete surface to lose history through.
type QuantRunRepo interface {
	Insert(dbc dbctx.Context, run *types.QuantRun) error
	ExistsByKey(dbc dbctx.Context, canonicalTextHash, backendParamsHash string) (bool, error)
	ListByKey(dbc dbctx.Context, canonicalTextHash, backendParamsHash string) ([]types.QuantRun, error)
	ListByPost(dbc dbctx.Context, postID uuid.UUID) ([]types.QuantRun, error)
	InsertSnapshots(dbc dbctx.Context, snapshots []types.QuantClusterSnapshot) error
	ListSnapshots(dbc dbctx.Context, runID uuid.UUID) ([]types.QuantClusterSnapshot, error)
}

type quantRunRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewQuantRunRepo(db *gorm.DB, baseLog *logger.Logger) QuantRunRepo {
	return &quantRunRepo{db: db, log: baseLog.With("repo", "QuantRunRepo")}
}

func (r *quantRunRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *quantRunRepo) Insert(dbc dbctx.Context, run *types.QuantRun) error {
	if run == nil {
		return errors.New("run required")
	}
	if run.PostID == uuid.Nil {
		return errors.New("run missing post id")
	}
	if run.CanonicalTextHash == "" || run.BackendParamsHash == "" {
		return errors.New("run missing dedup key")
	}
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	return r.handle(dbc).WithContext(dbc.Ctx).Create(run).Error
}

func (r *quantRunRepo) ExistsByKey(dbc dbctx.Context, canonicalTextHash, backendParamsHash string) (bool, error) {
	var n int64
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Model(&types.QuantRun{}).
		Where("canonical_text_hash = ? AND backend_params_hash = ?", canonicalTextHash, backendParamsHash).
		Count(&n).Error
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *quantRunRepo) ListByKey(dbc dbctx.Context, canonicalTextHash, backendParamsHash string) ([]types.QuantRun, error) {
	var out []types.QuantRun
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("canonical_text_hash = ? AND backend_params_hash = ?", canonicalTextHash, backendParamsHash).
		Order("created_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *quantRunRepo) ListByPost(dbc dbctx.Context, postID uuid.UUID) ([]types.QuantRun, error) {
	var out []types.QuantRun
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("post_id = ?", postID).
		Order("created_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *quantRunRepo) InsertSnapshots(dbc dbctx.Context, snapshots []types.QuantClusterSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}
	for i := range snapshots {
		if snapshots[i].ID == uuid.Nil {
			snapshots[i].ID = uuid.New()
		}
		if snapshots[i].RunID == uuid.Nil {
			return errors.New("snapshot missing run id")
		}
	}
	return r.handle(dbc).WithContext(dbc.Ctx).CreateInBatches(snapshots, 200).Error
}

func (r *quantRunRepo) ListSnapshots(dbc dbctx.Context, runID uuid.UUID) ([]types.QuantClusterSnapshot, error) {
	var out []types.QuantClusterSnapshot
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("run_id = ?", runID).
		Order("cluster_key ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

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

type ClusterRepo interface {
	UpsertMany(dbc dbctx.Context, clusters []types.CommentCluster) error
	ListByPost(dbc dbctx.Context, postID uuid.UUID) ([]types.CommentCluster, error)
	GetByKey(dbc dbctx.Context, postID uuid.UUID, clusterKey int) (*types.CommentCluster, error)
	// CentroidMissingKeys re-reads the stored rows and reports which
	// multi-member clusters came back without a centroid.
	CentroidMissingKeys(dbc dbctx.Context, postID uuid.UUID) ([]int, error)
	SaveDrafts(dbc dbctx.Context, postID uuid.UUID, clusterKey int, labelDraft, summaryDraft string) error
	PromoteDrafts(dbc dbctx.Context, postID uuid.UUID) (int64, error)
}

type clusterRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewClusterRepo(db *gorm.DB, baseLog *logger.Logger) ClusterRepo {
	return &clusterRepo{db: db, log: baseLog.With("repo", "ClusterRepo")}
}

func (r *clusterRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *clusterRepo) UpsertMany(dbc dbctx.Context, clusters []types.CommentCluster) error {
	if len(clusters) == 0 {
		return nil
	}
	for i := range clusters {
		if clusters[i].PostID == uuid.Nil {
			return errors.New("cluster missing post id")
		}
		if clusters[i].ID == uuid.Nil {
			clusters[i].ID = uuid.New()
		}
	}
	return r.handle(dbc).WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "post_id"}, {Name: "cluster_key"}},
			// label and summary stay out of the update set: pipeline
			// reruns carry empty naming and must not clobber promoted
			// labels.
			DoUpdates: clause.AssignmentColumns([]string{
				"size", "keywords", "top_comment_ids",
				"centroid", "tactics", "updated_at",
			}),
		}).
		Create(clusters).Error
}

func (r *clusterRepo) ListByPost(dbc dbctx.Context, postID uuid.UUID) ([]types.CommentCluster, error) {
	var out []types.CommentCluster
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("post_id = ?", postID).
		Order("cluster_key ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *clusterRepo) GetByKey(dbc dbctx.Context, postID uuid.UUID, clusterKey int) (*types.CommentCluster, error) {
	var c types.CommentCluster
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("post_id = ? AND cluster_key = ?", postID, clusterKey).
		First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *clusterRepo) CentroidMissingKeys(dbc dbctx.Context, postID uuid.UUID) ([]int, error) {
	var keys []int
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Model(&types.CommentCluster{}).
		Where("post_id = ? AND size >= 2 AND cluster_key <> ?", postID, types.NoiseClusterKey).
		Where("centroid IS NULL OR CAST(centroid AS TEXT) = 'null'").
		Order("cluster_key ASC").
		Pluck("cluster_key", &keys).Error
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (r *clusterRepo) SaveDrafts(dbc dbctx.Context, postID uuid.UUID, clusterKey int, labelDraft, summaryDraft string) error {
	res := r.handle(dbc).WithContext(dbc.Ctx).
		Model(&types.CommentCluster{}).
		Where("post_id = ? AND cluster_key = ?", postID, clusterKey).
		Updates(map[string]interface{}{
			"label_draft":   labelDraft,
			"summary_draft": summaryDraft,
			"updated_at":    time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// PromoteDrafts moves staged naming output into the live columns and
// clears the drafts. Rows without a staged label are left alone.
func (r *clusterRepo) PromoteDrafts(dbc dbctx.Context, postID uuid.UUID) (int64, error) {
	res := r.handle(dbc).WithContext(dbc.Ctx).
		Model(&types.CommentCluster{}).
		Where("post_id = ? AND label_draft <> ''", postID).
		Updates(map[string]interface{}{
			"label":         gorm.Expr("label_draft"),
			"summary":       gorm.Expr("summary_draft"),
			"label_draft":   "",
			"summary_draft": "",
			"updated_at":    time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}

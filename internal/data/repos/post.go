package repos

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/threadscope/threadscope-backend/internal/domain"
	"github.com/threadscope/threadscope-backend/internal/logger"
	"github.com/threadscope/threadscope-backend/internal/pkg/dbctx"
)

type PostRepo interface {
	UpsertByURL(dbc dbctx.Context, post *types.ThreadPost) (*types.ThreadPost, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.ThreadPost, error)
	GetByURL(dbc dbctx.Context, url string) (*types.ThreadPost, error)
	SaveAnalysisResult(dbc dbctx.Context, id uuid.UUID, doc datatypes.JSON, version, buildID string, isValid bool, invalidReason string, missingKeys datatypes.JSON) error
	HasAnalysisArtifact(dbc dbctx.Context, id uuid.UUID) (bool, error)
}

type postRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPostRepo(db *gorm.DB, baseLog *logger.Logger) PostRepo {
	return &postRepo{db: db, log: baseLog.With("repo", "PostRepo")}
}

func (r *postRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *postRepo) UpsertByURL(dbc dbctx.Context, post *types.ThreadPost) (*types.ThreadPost, error) {
	if post == nil || post.URL == "" {
		return nil, errors.New("post with url required")
	}
	if post.ID == uuid.Nil {
		post.ID = uuid.New()
	}
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "url"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"author", "post_text", "post_text_raw",
				"like_count", "view_count", "reply_count", "repost_count", "share_count",
				"images", "snapshot_paths", "captured_at", "updated_at",
			}),
		}).
		Create(post).Error
	if err != nil {
		return nil, err
	}
	// Re-select so callers always observe the durable row id, not the
	// in-memory one from a conflicting insert.
	return r.GetByURL(dbc, post.URL)
}

func (r *postRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.ThreadPost, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var post types.ThreadPost
	err := r.handle(dbc).WithContext(dbc.Ctx).Where("id = ?", id).First(&post).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &post, nil
}

func (r *postRepo) GetByURL(dbc dbctx.Context, url string) (*types.ThreadPost, error) {
	if url == "" {
		return nil, nil
	}
	var post types.ThreadPost
	err := r.handle(dbc).WithContext(dbc.Ctx).Where("url = ?", url).First(&post).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &post, nil
}

func (r *postRepo) SaveAnalysisResult(dbc dbctx.Context, id uuid.UUID, doc datatypes.JSON, version, buildID string, isValid bool, invalidReason string, missingKeys datatypes.JSON) error {
	if id == uuid.Nil {
		return errors.New("post id required")
	}
	return r.handle(dbc).WithContext(dbc.Ctx).
		Model(&types.ThreadPost{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"analysis_result":         doc,
			"analysis_version":        version,
			"analysis_build_id":       buildID,
			"analysis_is_valid":       isValid,
			"analysis_invalid_reason": invalidReason,
			"analysis_missing_keys":   missingKeys,
			"updated_at":              time.Now().UTC(),
		}).Error
}

func (r *postRepo) HasAnalysisArtifact(dbc dbctx.Context, id uuid.UUID) (bool, error) {
	if id == uuid.Nil {
		return false, nil
	}
	var count int64
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Model(&types.ThreadPost{}).
		Where("id = ? AND analysis_result IS NOT NULL", id).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

package repos

import (
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/threadscope/threadscope-backend/internal/domain"
	"github.com/threadscope/threadscope-backend/internal/logger"
	"github.com/threadscope/threadscope-backend/internal/pkg/dbctx"
)

type CommentRepo interface {
	UpsertMany(dbc dbctx.Context, comments []types.ThreadComment) error
	ListByPost(dbc dbctx.Context, postID uuid.UUID) ([]types.ThreadComment, error)
	CountByPost(dbc dbctx.Context, postID uuid.UUID) (int64, error)
	CountAssigned(dbc dbctx.Context, postID uuid.UUID) (int64, error)
	// AssignFillNulls writes cluster keys only where none exists yet.
	// Returns how many rows actually changed.
	AssignFillNulls(dbc dbctx.Context, postID uuid.UUID, assignments map[string]int) (int64, error)
	// AssignOverwrite replaces existing keys unconditionally.
	AssignOverwrite(dbc dbctx.Context, postID uuid.UUID, assignments map[string]int) (int64, error)
	ListPostIDsWithUnassigned(dbc dbctx.Context, limit int) ([]uuid.UUID, error)
	BackfillNoise(dbc dbctx.Context, postID uuid.UUID) (int64, error)
}

type commentRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCommentRepo(db *gorm.DB, baseLog *logger.Logger) CommentRepo {
	return &commentRepo{db: db, log: baseLog.With("repo", "CommentRepo")}
}

func (r *commentRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

// UpsertMany keys on the external comment id, so re-ingesting a post
// refreshes counts and text without duplicating rows. Cluster keys are
// deliberately not in the update set: re-ingest never clobbers an
// existing assignment.
func (r *commentRepo) UpsertMany(dbc dbctx.Context, comments []types.ThreadComment) error {
	if len(comments) == 0 {
		return nil
	}
	for i := range comments {
		if comments[i].ID == "" {
			return errors.New("comment missing external id")
		}
		if comments[i].PostID == uuid.Nil {
			return errors.New("comment missing post id")
		}
	}
	return r.handle(dbc).WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"text", "author_handle", "like_count", "reply_count", "captured_at",
			}),
		}).
		CreateInBatches(comments, 200).Error
}

func (r *commentRepo) ListByPost(dbc dbctx.Context, postID uuid.UUID) ([]types.ThreadComment, error) {
	var out []types.ThreadComment
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("post_id = ?", postID).
		Order("id ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *commentRepo) CountByPost(dbc dbctx.Context, postID uuid.UUID) (int64, error) {
	var n int64
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Model(&types.ThreadComment{}).
		Where("post_id = ?", postID).
		Count(&n).Error
	return n, err
}

func (r *commentRepo) CountAssigned(dbc dbctx.Context, postID uuid.UUID) (int64, error) {
	var n int64
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Model(&types.ThreadComment{}).
		Where("post_id = ? AND cluster_key IS NOT NULL", postID).
		Count(&n).Error
	return n, err
}

func (r *commentRepo) AssignFillNulls(dbc dbctx.Context, postID uuid.UUID, assignments map[string]int) (int64, error) {
	return r.assign(dbc, postID, assignments, true)
}

func (r *commentRepo) AssignOverwrite(dbc dbctx.Context, postID uuid.UUID, assignments map[string]int) (int64, error) {
	return r.assign(dbc, postID, assignments, false)
}

func (r *commentRepo) assign(dbc dbctx.Context, postID uuid.UUID, assignments map[string]int, onlyNull bool) (int64, error) {
	if postID == uuid.Nil {
		return 0, errors.New("post id required")
	}
	h := r.handle(dbc).WithContext(dbc.Ctx)
	var updated int64
	for id, key := range assignments {
		q := h.Model(&types.ThreadComment{}).Where("id = ? AND post_id = ?", id, postID)
		if onlyNull {
			q = q.Where("cluster_key IS NULL")
		}
		res := q.Update("cluster_key", key)
		if res.Error != nil {
			return updated, res.Error
		}
		updated += res.RowsAffected
	}
	return updated, nil
}

func (r *commentRepo) ListPostIDsWithUnassigned(dbc dbctx.Context, limit int) ([]uuid.UUID, error) {
	if limit <= 0 {
		limit = 100
	}
	var ids []uuid.UUID
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Model(&types.ThreadComment{}).
		Distinct("post_id").
		Where("cluster_key IS NULL").
		Limit(limit).
		Pluck("post_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// BackfillNoise stamps every still-unassigned comment of a post with the
// noise key. Used by hydration after an analysis run has already been
// accepted, never as part of the primary assignment path.
func (r *commentRepo) BackfillNoise(dbc dbctx.Context, postID uuid.UUID) (int64, error) {
	res := r.handle(dbc).WithContext(dbc.Ctx).
		Model(&types.ThreadComment{}).
		Where("post_id = ? AND cluster_key IS NULL", postID).
		Update("cluster_key", types.NoiseClusterKey)
	return res.RowsAffected, res.Error
}

type EdgeRepo interface {
	UpsertMany(dbc dbctx.Context, edges []types.CommentEdge) error
	ListByPost(dbc dbctx.Context, postID uuid.UUID) ([]types.CommentEdge, error)
}

type edgeRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewEdgeRepo(db *gorm.DB, baseLog *logger.Logger) EdgeRepo {
	return &edgeRepo{db: db, log: baseLog.With("repo", "EdgeRepo")}
}

func (r *edgeRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *edgeRepo) UpsertMany(dbc dbctx.Context, edges []types.CommentEdge) error {
	filtered := make([]types.CommentEdge, 0, len(edges))
	for _, e := range edges {
		// Self-loops are scraper artifacts, never real reply structure.
		if e.ParentCommentID == e.ChildCommentID {
			r.log.Warn("dropping self-loop edge", "post_id", e.PostID, "comment_id", e.ParentCommentID)
			continue
		}
		if e.EdgeType == "" {
			e.EdgeType = "reply"
		}
		filtered = append(filtered, e)
	}
	if len(filtered) == 0 {
		return nil
	}
	return r.handle(dbc).WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(filtered, 200).Error
}

func (r *edgeRepo) ListByPost(dbc dbctx.Context, postID uuid.UUID) ([]types.CommentEdge, error) {
	var out []types.CommentEdge
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("post_id = ?", postID).
		Order("created_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/threadscope/threadscope-backend/internal/data/repos"
	"github.com/threadscope/threadscope-backend/internal/logger"
	"github.com/threadscope/threadscope-backend/internal/pkg/dbctx"
)

type PostsHandler struct {
	log      *logger.Logger
	posts    repos.PostRepo
	clusters repos.ClusterRepo
	runs     repos.QuantRunRepo
}

func NewPostsHandler(log *logger.Logger, posts repos.PostRepo, clusters repos.ClusterRepo, runs repos.QuantRunRepo) *PostsHandler {
	return &PostsHandler{
		log:      log.With("handler", "PostsHandler"),
		posts:    posts,
		clusters: clusters,
		runs:     runs,
	}
}

// GET /api/posts/:id/analysis
// Returns the stored document with its validity verdict. An invalid
// document is still served; the caller sees why it was rejected.
func (h *PostsHandler) GetAnalysis(c *gin.Context) {
	postID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_post_id", err)
		return
	}

	dbc := dbctx.Context{Ctx: c.Request.Context()}
	post, err := h.posts.GetByID(dbc, postID)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "post_lookup_failed", err)
		return
	}
	if post == nil {
		RespondError(c, http.StatusNotFound, "post_not_found", errors.New("post not found"))
		return
	}
	if len(post.AnalysisResult) == 0 {
		RespondError(c, http.StatusNotFound, "analysis_not_ready", errors.New("post has no analysis artifact"))
		return
	}

	clusters, err := h.clusters.ListByPost(dbc, postID)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "cluster_lookup_failed", err)
		return
	}

	RespondOK(c, gin.H{
		"post_id":          post.ID,
		"url":              post.URL,
		"analysis":         post.AnalysisResult,
		"is_valid":         post.AnalysisIsValid,
		"invalid_reason":   post.AnalysisInvalidReason,
		"missing_keys":     post.AnalysisMissingKeys,
		"analysis_version": post.AnalysisVersion,
		"build_id":         post.AnalysisBuildID,
		"clusters":         clusters,
	})
}

// GET /api/posts/:id/quant-runs
// The append-only run audit for a post, newest first.
func (h *PostsHandler) ListQuantRuns(c *gin.Context) {
	postID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_post_id", err)
		return
	}

	dbc := dbctx.Context{Ctx: c.Request.Context()}
	runs, err := h.runs.ListByPost(dbc, postID)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "quant_run_lookup_failed", err)
		return
	}
	RespondOK(c, gin.H{"runs": runs})
}

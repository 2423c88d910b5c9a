package services

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/threadscope/threadscope-backend/internal/data/repos"
	types "github.com/threadscope/threadscope-backend/internal/domain"
	"github.com/threadscope/threadscope-backend/internal/logger"
	"github.com/threadscope/threadscope-backend/internal/pkg/dbctx"
)

const (
	WritebackStaging = "staging"
	WritebackPromote = "promote"
)

// NamingOptions is resolved from configuration at startup.
type NamingOptions struct {
	Enabled       bool
	WritebackMode string
}

// NamingEnrichment asks the analyst for human-readable cluster labels
// and summaries after a document is stored. Staging mode writes drafts
// only; promote mode also moves them live. The feature is optional and
// never touches document validity.
type NamingEnrichment interface {
	EnrichPost(dbc dbctx.Context, postID uuid.UUID) error
}

type namingEnrichment struct {
	db       *gorm.DB
	log      *logger.Logger
	posts    repos.PostRepo
	clusters repos.ClusterRepo
	analyst  NarrativeAnalyst
	opts     NamingOptions
}

func NewNamingEnrichment(
	db *gorm.DB,
	baseLog *logger.Logger,
	posts repos.PostRepo,
	clusters repos.ClusterRepo,
	analyst NarrativeAnalyst,
	opts NamingOptions,
) NamingEnrichment {
	if opts.WritebackMode == "" {
		opts.WritebackMode = WritebackStaging
	}
	return &namingEnrichment{
		db:       db,
		log:      baseLog.With("service", "NamingEnrichment"),
		posts:    posts,
		clusters: clusters,
		analyst:  analyst,
		opts:     opts,
	}
}

func (s *namingEnrichment) EnrichPost(dbc dbctx.Context, postID uuid.UUID) error {
	if !s.opts.Enabled {
		return nil
	}
	post, err := s.posts.GetByID(dbc, postID)
	if err != nil {
		return err
	}
	if post == nil {
		return fmt.Errorf("post %s not found", postID)
	}
	clusters, err := s.clusters.ListByPost(dbc, postID)
	if err != nil {
		return err
	}

	req := AnalystRequest{PostText: post.PostText, Author: post.Author}
	for _, c := range clusters {
		if c.ClusterKey == types.NoiseClusterKey {
			continue
		}
		ac := AnalystCluster{ClusterKey: c.ClusterKey, Size: c.Size}
		if len(c.Keywords) > 0 {
			_ = json.Unmarshal(c.Keywords, &ac.Keywords)
		}
		req.Clusters = append(req.Clusters, ac)
	}
	if len(req.Clusters) == 0 {
		return nil
	}

	namings, err := s.analyst.NameClusters(dbc.Ctx, req)
	if err != nil {
		return fmt.Errorf("name clusters: %w", err)
	}
	for _, n := range namings {
		if n.Label == "" {
			continue
		}
		if err := s.clusters.SaveDrafts(dbc, postID, n.ClusterKey, n.Label, n.Summary); err != nil {
			s.log.Warn("naming draft write failed",
				"post_id", postID, "cluster_key", n.ClusterKey, "error", err)
		}
	}

	if s.opts.WritebackMode == WritebackPromote {
		promoted, err := s.clusters.PromoteDrafts(dbc, postID)
		if err != nil {
			return fmt.Errorf("promote drafts: %w", err)
		}
		s.log.Info("naming drafts promoted", "post_id", postID, "count", promoted)
	}
	return nil
}

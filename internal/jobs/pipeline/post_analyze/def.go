package post_analyze

import (
	"gorm.io/gorm"

	"github.com/threadscope/threadscope-backend/internal/config"
	"github.com/threadscope/threadscope-backend/internal/data/repos"
	"github.com/threadscope/threadscope-backend/internal/jobs/steps"
	"github.com/threadscope/threadscope-backend/internal/logger"
	"github.com/threadscope/threadscope-backend/internal/services"
)

// Pipeline runs one job item through fetch, vision, analyst, store.
type Pipeline struct {
	db     *gorm.DB
	log    *logger.Logger
	cfg    config.PipelineConfig
	deps   steps.AnalyzeDeps
	naming services.NamingEnrichment
}

func New(
	db *gorm.DB,
	baseLog *logger.Logger,
	cfg config.PipelineConfig,
	posts repos.PostRepo,
	comments repos.CommentRepo,
	edges repos.EdgeRepo,
	fetcher services.ThreadFetcher,
	archive services.SnapshotArchive,
	vision services.VisionProvider,
	backend services.ClusterBackend,
	analyst services.NarrativeAnalyst,
	audit services.QuantAudit,
	store services.AnalysisStore,
	naming services.NamingEnrichment,
) *Pipeline {
	log := baseLog.With("job", "post_analyze")
	return &Pipeline{
		db:  db,
		log: log,
		cfg: cfg,
		deps: steps.AnalyzeDeps{
			DB:       db,
			Log:      log,
			Cfg:      cfg,
			Posts:    posts,
			Comments: comments,
			Edges:    edges,
			Fetcher:  fetcher,
			Archive:  archive,
			Vision:   vision,
			Backend:  backend,
			Analyst:  analyst,
			Audit:    audit,
			Store:    store,
		},
		naming: naming,
	}
}

func (p *Pipeline) Type() string { return "post_analyze" }

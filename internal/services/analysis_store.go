package services

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/threadscope/threadscope-backend/internal/analysis/contract"
	"github.com/threadscope/threadscope-backend/internal/data/repos"
	types "github.com/threadscope/threadscope-backend/internal/domain"
	"github.com/threadscope/threadscope-backend/internal/logger"
	"github.com/threadscope/threadscope-backend/internal/pkg/dbctx"
)

const (
	WriteModeFillNulls = "fill_nulls"
	WriteModeOverwrite = "overwrite"
)

var (
	// ErrCentroidRequired fires before any write when a multi-member
	// cluster arrives without a centroid.
	ErrCentroidRequired = errors.New("multi-member cluster missing centroid")
	// ErrCentroidPersistenceFailed fires after the write, when the
	// read-back shows a centroid did not survive persistence. Fatal for
	// the run; nothing downstream may proceed on top of it.
	ErrCentroidPersistenceFailed = errors.New("centroid missing after write")
	// ErrForceRequired guards overwrite mode: destroying existing
	// assignments takes an explicit force flag.
	ErrForceRequired = errors.New("overwrite mode requires force_reassign")
	// ErrPartialAssignmentPayload rejects assignment maps that do not
	// cover every comment of the post. Strict mode only; nothing is
	// written. Non-strict writes what is present and lets the coverage
	// check decide the outcome.
	ErrPartialAssignmentPayload = errors.New("assignment payload does not cover all comments")
	// ErrCoverageShortfall is the strict-mode outcome when post-write
	// coverage lands under the configured minimum.
	ErrCoverageShortfall = errors.New("assignment coverage below minimum")
)

// StoreOptions is resolved once at startup from configuration and
// passed immutably to the store.
type StoreOptions struct {
	WriteMode     string
	CoverageMin   float64
	Strict        bool
	ForceReassign bool
}

// AssignmentResult reports what an assignment write actually did. The
// pipeline uses Coverage and CoverageOK to decide whether the document
// must be invalidated in non-strict mode.
type AssignmentResult struct {
	Total      int64
	Assigned   int64
	Updated    int64
	Coverage   float64
	CoverageOK bool
}

// AnalysisStore is the persistence gate between quantitative results
// and the database. It is the only writer of cluster rows, assignment
// keys, and the analysis artifact.
type AnalysisStore interface {
	UpsertClusters(dbc dbctx.Context, postID uuid.UUID, clusters []types.CommentCluster) error
	ApplyAssignments(dbc dbctx.Context, postID uuid.UUID, assignments map[string]int) (AssignmentResult, error)
	// SaveAnalysis validates, stamps build metadata, and persists the
	// document. Invalid documents persist too, flagged with the reason;
	// the returned result tells the caller which case it was.
	// forcedInvalidReason marks an upstream recorded invalidation (for
	// example a non-strict coverage shortfall) on an otherwise valid
	// document.
	SaveAnalysis(dbc dbctx.Context, postID uuid.UUID, doc *types.AnalysisDocument, buildID string, forcedInvalidReason string) (contract.ValidationResult, error)
}

// ReasonCoverageShortfall flags documents whose assignment coverage
// landed under the minimum in non-strict mode.
const ReasonCoverageShortfall = "assignment_coverage_shortfall"

type analysisStore struct {
	db       *gorm.DB
	log      *logger.Logger
	posts    repos.PostRepo
	comments repos.CommentRepo
	clusters repos.ClusterRepo
	opts     StoreOptions
}

func NewAnalysisStore(
	db *gorm.DB,
	baseLog *logger.Logger,
	posts repos.PostRepo,
	comments repos.CommentRepo,
	clusters repos.ClusterRepo,
	opts StoreOptions,
) AnalysisStore {
	if opts.WriteMode == "" {
		opts.WriteMode = WriteModeFillNulls
	}
	return &analysisStore{
		db:       db,
		log:      baseLog.With("service", "AnalysisStore"),
		posts:    posts,
		comments: comments,
		clusters: clusters,
		opts:     opts,
	}
}

func (s *analysisStore) UpsertClusters(dbc dbctx.Context, postID uuid.UUID, clusters []types.CommentCluster) error {
	if postID == uuid.Nil {
		return fmt.Errorf("missing post_id")
	}
	for _, c := range clusters {
		if c.ClusterKey == types.NoiseClusterKey {
			continue
		}
		if c.Size >= 2 && centroidEmpty(c.Centroid) {
			return fmt.Errorf("cluster %d (size %d): %w", c.ClusterKey, c.Size, ErrCentroidRequired)
		}
	}
	for i := range clusters {
		clusters[i].PostID = postID
	}
	if err := s.clusters.UpsertMany(dbc, clusters); err != nil {
		return fmt.Errorf("upsert clusters: %w", err)
	}

	// Read-after-write: trust the database, not the payload we sent.
	missing, err := s.clusters.CentroidMissingKeys(dbc, postID)
	if err != nil {
		return fmt.Errorf("centroid read-back: %w", err)
	}
	if len(missing) > 0 {
		s.log.Error("centroid persistence failed", "post_id", postID, "cluster_keys", missing)
		return fmt.Errorf("clusters %v: %w", missing, ErrCentroidPersistenceFailed)
	}
	return nil
}

func (s *analysisStore) ApplyAssignments(dbc dbctx.Context, postID uuid.UUID, assignments map[string]int) (AssignmentResult, error) {
	res := AssignmentResult{}
	if postID == uuid.Nil {
		return res, fmt.Errorf("missing post_id")
	}

	mode := s.opts.WriteMode
	if mode == WriteModeOverwrite && !s.opts.ForceReassign {
		return res, ErrForceRequired
	}

	comments, err := s.comments.ListByPost(dbc, postID)
	if err != nil {
		return res, fmt.Errorf("list comments: %w", err)
	}
	res.Total = int64(len(comments))
	if res.Total == 0 {
		res.CoverageOK = true
		return res, nil
	}

	// In strict mode the payload must speak for every comment, noise
	// included: a partial map means the clustering output and the stored
	// thread disagree about what the thread contains, and nothing is
	// written. Non-strict writes the entries it has and lets the
	// coverage check below record the shortfall.
	if s.opts.Strict {
		for _, c := range comments {
			if _, ok := assignments[c.ID]; !ok {
				return res, fmt.Errorf("comment %s absent from payload: %w", c.ID, ErrPartialAssignmentPayload)
			}
		}
	}

	switch mode {
	case WriteModeOverwrite:
		res.Updated, err = s.comments.AssignOverwrite(dbc, postID, assignments)
	default:
		res.Updated, err = s.comments.AssignFillNulls(dbc, postID, assignments)
	}
	if err != nil {
		return res, fmt.Errorf("apply assignments (%s): %w", mode, err)
	}

	res.Assigned, err = s.comments.CountAssigned(dbc, postID)
	if err != nil {
		return res, fmt.Errorf("count assigned: %w", err)
	}
	res.Coverage = float64(res.Assigned) / float64(res.Total)
	res.CoverageOK = res.Coverage >= s.opts.CoverageMin

	if !res.CoverageOK {
		if s.opts.Strict {
			return res, fmt.Errorf("coverage %.3f < %.3f: %w", res.Coverage, s.opts.CoverageMin, ErrCoverageShortfall)
		}
		s.log.Warn("assignment coverage shortfall recorded",
			"post_id", postID, "coverage", res.Coverage, "min", s.opts.CoverageMin)
	}
	return res, nil
}

func (s *analysisStore) SaveAnalysis(dbc dbctx.Context, postID uuid.UUID, doc *types.AnalysisDocument, buildID string, forcedInvalidReason string) (contract.ValidationResult, error) {
	if postID == uuid.Nil {
		return contract.ValidationResult{}, fmt.Errorf("missing post_id")
	}
	if doc == nil {
		return contract.ValidationResult{}, fmt.Errorf("missing document")
	}

	doc.Build.Version = types.AnalysisVersion
	doc.Build.BuildID = buildID

	vres := contract.Validate(doc)
	if forcedInvalidReason != "" && vres.IsValid {
		vres.IsValid = false
		vres.Reason = forcedInvalidReason
		vres.Issues = append(vres.Issues, contract.Issue{
			Category: forcedInvalidReason,
			Detail:   "recorded invalidation from persistence gate",
		})
	}
	doc.Build.IsValid = vres.IsValid
	doc.Build.InvalidReason = vres.Reason
	doc.Build.MissingKeys = vres.MissingKeys

	raw, err := json.Marshal(doc)
	if err != nil {
		return vres, fmt.Errorf("marshal document: %w", err)
	}
	var missingJSON datatypes.JSON
	if len(vres.MissingKeys) > 0 {
		mk, _ := json.Marshal(vres.MissingKeys)
		missingJSON = datatypes.JSON(mk)
	}

	err = s.posts.SaveAnalysisResult(dbc, postID,
		datatypes.JSON(raw), types.AnalysisVersion, buildID,
		vres.IsValid, vres.Reason, missingJSON)
	if err != nil {
		return vres, fmt.Errorf("persist analysis: %w", err)
	}
	if !vres.IsValid {
		s.log.Warn("persisted invalid analysis document",
			"post_id", postID, "reason", vres.Reason, "missing_keys", vres.MissingKeys)
	}
	return vres, nil
}

func centroidEmpty(c datatypes.JSON) bool {
	if len(c) == 0 {
		return true
	}
	s := string(c)
	return s == "null" || s == "[]" || s == "{}"
}

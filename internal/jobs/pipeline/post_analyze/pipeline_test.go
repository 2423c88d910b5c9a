package post_analyze

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/threadscope/threadscope-backend/internal/analysis/contract"
	"github.com/threadscope/threadscope-backend/internal/analysis/identity"
	"github.com/threadscope/threadscope-backend/internal/config"
	types "github.com/threadscope/threadscope-backend/internal/domain"
	jobrt "github.com/threadscope/threadscope-backend/internal/jobs/runtime"
	"github.com/threadscope/threadscope-backend/internal/logger"
	"github.com/threadscope/threadscope-backend/internal/pkg/dbctx"
	"github.com/threadscope/threadscope-backend/internal/services"
	"gorm.io/datatypes"
)

func TestGateSentinelsNeverRetry(t *testing.T) {
	sentinels := []error{
		services.ErrCentroidRequired,
		services.ErrCentroidPersistenceFailed,
		services.ErrForceRequired,
		services.ErrPartialAssignmentPayload,
		services.ErrCoverageShortfall,
	}
	for _, s := range sentinels {
		if isTransient(s) {
			t.Fatalf("%v must not be retried", s)
		}
		// Wrapping must not change the verdict.
		if isTransient(fmt.Errorf("clusters [2]: %w", s)) {
			t.Fatalf("wrapped %v must not be retried", s)
		}
	}
}

func TestTransientClassification(t *testing.T) {
	if !isTransient(context.DeadlineExceeded) {
		t.Fatalf("deadline exceeded is transient")
	}
	if isTransient(context.Canceled) {
		t.Fatalf("cancellation must not be retried")
	}
	if !isTransient(jobrt.Transient(errors.New("backend busy"))) {
		t.Fatalf("explicitly tagged errors are transient")
	}
	if isTransient(errors.New("malformed response")) {
		t.Fatalf("plain errors are not transient")
	}
	if isTransient(nil) {
		t.Fatalf("nil is not an error")
	}
}

type runFetcher struct{ result *services.FetchResult }

func (f *runFetcher) Fetch(context.Context, string) (*services.FetchResult, error) {
	return f.result, nil
}

type failingVision struct {
	err   error
	calls int
}

func (v *failingVision) AnnotateImages(context.Context, []string) ([]services.ImageAnnotation, error) {
	v.calls++
	return nil, v.err
}
func (v *failingVision) Close() error { return nil }

type runBackend struct{ out *services.ClusterOutput }

func (b *runBackend) Cluster(context.Context, services.ClusterRequest) (*services.ClusterOutput, error) {
	return b.out, nil
}

type runAnalyst struct{ lastReq services.AnalystRequest }

func (a *runAnalyst) Analyze(_ context.Context, req services.AnalystRequest) (*services.AnalystResponse, error) {
	a.lastReq = req
	return &services.AnalystResponse{FullReport: "report"}, nil
}
func (a *runAnalyst) NameClusters(context.Context, services.AnalystRequest) ([]services.ClusterNaming, error) {
	return nil, nil
}

type runAudit struct{}

func (runAudit) Identify(postText string, comments []identity.CommentInput, params identity.BackendParams) (identity.DedupKey, error) {
	return identity.Identify(postText, comments, params)
}
func (runAudit) IsRepeat(dbctx.Context, identity.DedupKey) (bool, error) { return false, nil }
func (runAudit) RecordRun(_ dbctx.Context, postID uuid.UUID, key identity.DedupKey, _ identity.BackendParams, _ map[int][]float64) (*types.QuantRun, error) {
	return &types.QuantRun{ID: uuid.New(), PostID: postID, CanonicalTextHash: key.CanonicalTextHash, BackendParamsHash: key.BackendParamsHash}, nil
}
func (runAudit) RecordClusterSnapshots(dbctx.Context, *types.QuantRun, []types.ClusterMetrics) error {
	return nil
}

type runStore struct{ saves int }

func (s *runStore) UpsertClusters(dbctx.Context, uuid.UUID, []types.CommentCluster) error { return nil }
func (s *runStore) ApplyAssignments(dbctx.Context, uuid.UUID, map[string]int) (services.AssignmentResult, error) {
	return services.AssignmentResult{Total: 1, Assigned: 1, Coverage: 1, CoverageOK: true}, nil
}
func (s *runStore) SaveAnalysis(dbctx.Context, uuid.UUID, *types.AnalysisDocument, string, string) (contract.ValidationResult, error) {
	s.saves++
	return contract.ValidationResult{IsValid: true}, nil
}

type runPosts struct{ post *types.ThreadPost }

func (p *runPosts) UpsertByURL(_ dbctx.Context, post *types.ThreadPost) (*types.ThreadPost, error) {
	if post.ID == uuid.Nil {
		post.ID = uuid.New()
	}
	p.post = post
	return post, nil
}
func (p *runPosts) GetByID(dbctx.Context, uuid.UUID) (*types.ThreadPost, error) { return p.post, nil }
func (p *runPosts) GetByURL(dbctx.Context, string) (*types.ThreadPost, error)   { return p.post, nil }
func (p *runPosts) SaveAnalysisResult(dbctx.Context, uuid.UUID, datatypes.JSON, string, string, bool, string, datatypes.JSON) error {
	return nil
}
func (p *runPosts) HasAnalysisArtifact(dbctx.Context, uuid.UUID) (bool, error) { return true, nil }

type runComments struct{ stored []types.ThreadComment }

func (c *runComments) UpsertMany(_ dbctx.Context, comments []types.ThreadComment) error {
	c.stored = comments
	return nil
}
func (c *runComments) ListByPost(dbctx.Context, uuid.UUID) ([]types.ThreadComment, error) {
	return c.stored, nil
}
func (c *runComments) CountByPost(dbctx.Context, uuid.UUID) (int64, error) {
	return int64(len(c.stored)), nil
}
func (c *runComments) CountAssigned(dbctx.Context, uuid.UUID) (int64, error) { return 0, nil }
func (c *runComments) AssignFillNulls(dbctx.Context, uuid.UUID, map[string]int) (int64, error) {
	return 0, nil
}
func (c *runComments) AssignOverwrite(dbctx.Context, uuid.UUID, map[string]int) (int64, error) {
	return 0, nil
}
func (c *runComments) ListPostIDsWithUnassigned(dbctx.Context, int) ([]uuid.UUID, error) {
	return nil, nil
}
func (c *runComments) BackfillNoise(dbctx.Context, uuid.UUID) (int64, error) { return 0, nil }

type runEdges struct{}

func (runEdges) UpsertMany(dbctx.Context, []types.CommentEdge) error { return nil }
func (runEdges) ListByPost(dbctx.Context, uuid.UUID) ([]types.CommentEdge, error) {
	return nil, nil
}

// fakeItemRepo keeps one item in memory and records the transitions the
// runtime applies to it.
type fakeItemRepo struct {
	item       *types.JobItem
	lastErrors []string
	completed  bool
	failed     bool
	failStage  string
}

func (f *fakeItemRepo) CreateMany(dbctx.Context, []types.JobItem) error { return nil }
func (f *fakeItemRepo) GetByID(dbctx.Context, uuid.UUID) (*types.JobItem, error) {
	return f.item, nil
}
func (f *fakeItemRepo) ListByJob(dbctx.Context, uuid.UUID, int) ([]types.JobItem, error) {
	return nil, nil
}
func (f *fakeItemRepo) ClaimNext(dbctx.Context, time.Duration, int) (*types.JobItem, error) {
	return nil, nil
}
func (f *fakeItemRepo) Heartbeat(dbctx.Context, uuid.UUID) error { return nil }
func (f *fakeItemRepo) AdvanceStage(_ dbctx.Context, _ uuid.UUID, stage string) error {
	f.item.Stage = stage
	return nil
}
func (f *fakeItemRepo) SetLastError(_ dbctx.Context, _ uuid.UUID, msg string) error {
	f.lastErrors = append(f.lastErrors, msg)
	f.item.LastError = msg
	return nil
}
func (f *fakeItemRepo) CompleteItem(dbctx.Context, uuid.UUID, uuid.UUID) error {
	f.completed = true
	return nil
}
func (f *fakeItemRepo) FailItem(_ dbctx.Context, _ uuid.UUID, stage, reason string) error {
	f.failed = true
	f.failStage = stage
	return nil
}
func (f *fakeItemRepo) FailExhausted(dbctx.Context, time.Duration, int) (int64, error) {
	return 0, nil
}
func (f *fakeItemRepo) CancelPendingByJob(dbctx.Context, uuid.UUID) (int64, error) { return 0, nil }
func (f *fakeItemRepo) CountsByJob(dbctx.Context, uuid.UUID) (types.JobSummary, error) {
	return types.JobSummary{}, nil
}

type fakeBatchRepo struct{ batch *types.JobBatch }

func (f *fakeBatchRepo) Create(dbctx.Context, *types.JobBatch) error { return nil }
func (f *fakeBatchRepo) GetByID(dbctx.Context, uuid.UUID) (*types.JobBatch, error) {
	return f.batch, nil
}
func (f *fakeBatchRepo) List(dbctx.Context, int) ([]types.JobBatch, error) { return nil, nil }
func (f *fakeBatchRepo) UpdateStatus(dbctx.Context, uuid.UUID, string) error {
	return nil
}
func (f *fakeBatchRepo) RefreshStatus(dbctx.Context, uuid.UUID) (string, error) {
	return types.JobStatusCompleted, nil
}

func TestRunCompletesWhenVisionSoftFails(t *testing.T) {
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	cfg := config.PipelineConfig{
		ClusteringBackend:  "hdbscan",
		EmbeddingModel:     "text-embedding-3-small",
		ClusteringSeed:     42,
		MinClusterSize:     3,
		EvidenceSampleSize: 3,
		EvidenceSampleMax:  6,
		StageRetryAttempts: 1,
	}
	fetch := &runFetcher{result: &services.FetchResult{
		URL:      "https://www.threads.net/@user/post/V1",
		Author:   "user",
		PostText: "original post",
		Images:   []string{"https://cdn.example/img1.jpg"},
		Comments: []services.FetchedComment{
			{ID: "36241000001", Text: "first", LikeCount: 5},
		},
		CapturedAt: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
	}}
	vision := &failingVision{err: errors.New("vision quota exhausted")}
	backend := &runBackend{out: &services.ClusterOutput{
		Assignments: map[string]int{"36241000001": 0},
		Centroids:   map[int][]float64{0: {0.1, 0.2}},
		Keywords:    map[int][]string{0: {"topic"}},
	}}
	store := &runStore{}
	analyst := &runAnalyst{}

	p := New(nil, log, cfg,
		&runPosts{}, &runComments{}, runEdges{},
		fetch, nil, vision, backend, analyst, runAudit{}, store, nil)

	items := &fakeItemRepo{}
	batches := &fakeBatchRepo{batch: &types.JobBatch{ID: uuid.New(), Status: types.JobStatusRunning}}
	item := &types.JobItem{
		ID:      uuid.New(),
		JobID:   batches.batch.ID,
		PostURL: "https://www.threads.net/@user/post/V1",
		Status:  types.ItemStatusRunning,
		Stage:   types.StageFetch,
	}
	items.item = item

	jc := jobrt.NewContext(context.Background(), nil, item, items, batches, nil, log)
	if err := p.Run(jc); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if vision.calls == 0 {
		t.Fatalf("vision was never attempted")
	}
	if items.failed {
		t.Fatalf("vision failure must not fail the item, failed at %s", items.failStage)
	}
	if !items.completed || item.Status != types.ItemStatusCompleted {
		t.Fatalf("item must complete past a vision soft failure: status=%s", item.Status)
	}
	if !strings.Contains(item.LastError, "vision") || !strings.Contains(item.LastError, "quota exhausted") {
		t.Fatalf("soft failure must stay on last_error, got %q", item.LastError)
	}
	if store.saves != 1 {
		t.Fatalf("document must persist despite missing annotations, saves=%d", store.saves)
	}
	if len(analyst.lastReq.Annotations) != 0 {
		t.Fatalf("failed vision must brief the analyst with no annotations")
	}
}

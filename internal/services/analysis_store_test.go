package services

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	types "github.com/threadscope/threadscope-backend/internal/domain"
	"github.com/threadscope/threadscope-backend/internal/logger"
	"github.com/threadscope/threadscope-backend/internal/pkg/dbctx"
)

type fakePostRepo struct {
	saved        bool
	savedDoc     datatypes.JSON
	savedValid   bool
	savedReason  string
	savedBuildID string
	savedVersion string
	savedMissing datatypes.JSON
}

func (f *fakePostRepo) UpsertByURL(dbctx.Context, *types.ThreadPost) (*types.ThreadPost, error) {
	return nil, nil
}
func (f *fakePostRepo) GetByID(dbctx.Context, uuid.UUID) (*types.ThreadPost, error) {
	return nil, nil
}
func (f *fakePostRepo) GetByURL(dbctx.Context, string) (*types.ThreadPost, error) { return nil, nil }
func (f *fakePostRepo) SaveAnalysisResult(_ dbctx.Context, _ uuid.UUID, doc datatypes.JSON, version, buildID string, isValid bool, invalidReason string, missingKeys datatypes.JSON) error {
	f.saved = true
	f.savedDoc = doc
	f.savedVersion = version
	f.savedBuildID = buildID
	f.savedValid = isValid
	f.savedReason = invalidReason
	f.savedMissing = missingKeys
	return nil
}
func (f *fakePostRepo) HasAnalysisArtifact(dbctx.Context, uuid.UUID) (bool, error) {
	return f.saved, nil
}

type fakeCommentRepo struct {
	comments []types.ThreadComment
	// stuck rows refuse assignment writes, as a dead tuple would.
	stuck      map[string]bool
	fillCalls  int
	overwrites int
}

func (f *fakeCommentRepo) UpsertMany(dbctx.Context, []types.ThreadComment) error { return nil }
func (f *fakeCommentRepo) ListByPost(dbctx.Context, uuid.UUID) ([]types.ThreadComment, error) {
	return f.comments, nil
}
func (f *fakeCommentRepo) CountByPost(dbctx.Context, uuid.UUID) (int64, error) {
	return int64(len(f.comments)), nil
}
func (f *fakeCommentRepo) CountAssigned(dbctx.Context, uuid.UUID) (int64, error) {
	var n int64
	for _, c := range f.comments {
		if c.ClusterKey != nil {
			n++
		}
	}
	return n, nil
}
func (f *fakeCommentRepo) AssignFillNulls(_ dbctx.Context, _ uuid.UUID, assignments map[string]int) (int64, error) {
	f.fillCalls++
	var n int64
	for i := range f.comments {
		c := &f.comments[i]
		if c.ClusterKey != nil || f.stuck[c.ID] {
			continue
		}
		if key, ok := assignments[c.ID]; ok {
			k := key
			c.ClusterKey = &k
			n++
		}
	}
	return n, nil
}
func (f *fakeCommentRepo) AssignOverwrite(_ dbctx.Context, _ uuid.UUID, assignments map[string]int) (int64, error) {
	f.overwrites++
	var n int64
	for i := range f.comments {
		c := &f.comments[i]
		if f.stuck[c.ID] {
			continue
		}
		if key, ok := assignments[c.ID]; ok {
			k := key
			c.ClusterKey = &k
			n++
		}
	}
	return n, nil
}
func (f *fakeCommentRepo) ListPostIDsWithUnassigned(dbctx.Context, int) ([]uuid.UUID, error) {
	return nil, nil
}
func (f *fakeCommentRepo) BackfillNoise(dbctx.Context, uuid.UUID) (int64, error) { return 0, nil }

type fakeClusterRepo struct {
	upserts int
	stored  []types.CommentCluster
	// missing overrides the read-back verdict, simulating a write the
	// database silently dropped.
	missing []int
}

func (f *fakeClusterRepo) UpsertMany(_ dbctx.Context, clusters []types.CommentCluster) error {
	f.upserts++
	f.stored = append(f.stored[:0], clusters...)
	return nil
}
func (f *fakeClusterRepo) ListByPost(dbctx.Context, uuid.UUID) ([]types.CommentCluster, error) {
	return f.stored, nil
}
func (f *fakeClusterRepo) GetByKey(dbctx.Context, uuid.UUID, int) (*types.CommentCluster, error) {
	return nil, nil
}
func (f *fakeClusterRepo) CentroidMissingKeys(dbctx.Context, uuid.UUID) ([]int, error) {
	return f.missing, nil
}
func (f *fakeClusterRepo) SaveDrafts(dbctx.Context, uuid.UUID, int, string, string) error {
	return nil
}
func (f *fakeClusterRepo) PromoteDrafts(dbctx.Context, uuid.UUID) (int64, error) { return 0, nil }

func storeForTest(t *testing.T, comments *fakeCommentRepo, clusters *fakeClusterRepo, posts *fakePostRepo, opts StoreOptions) AnalysisStore {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return NewAnalysisStore(nil, log, posts, comments, clusters, opts)
}

func commentsFixture(ids ...string) []types.ThreadComment {
	out := make([]types.ThreadComment, 0, len(ids))
	for _, id := range ids {
		out = append(out, types.ThreadComment{ID: id})
	}
	return out
}

func TestUpsertClustersRequiresCentroid(t *testing.T) {
	clusters := &fakeClusterRepo{}
	store := storeForTest(t, &fakeCommentRepo{}, clusters, &fakePostRepo{}, StoreOptions{})
	dbc := dbctx.Context{}
	postID := uuid.New()

	err := store.UpsertClusters(dbc, postID, []types.CommentCluster{
		{ClusterKey: 0, Size: 3, Centroid: nil},
	})
	if !errors.Is(err, ErrCentroidRequired) {
		t.Fatalf("expected ErrCentroidRequired, got %v", err)
	}
	if clusters.upserts != 0 {
		t.Fatalf("precheck failure must write nothing, got %d upserts", clusters.upserts)
	}

	// Noise and singletons are exempt.
	err = store.UpsertClusters(dbc, postID, []types.CommentCluster{
		{ClusterKey: types.NoiseClusterKey, Size: 7},
		{ClusterKey: 0, Size: 1},
	})
	if err != nil {
		t.Fatalf("noise/singleton without centroid should pass: %v", err)
	}
	if clusters.upserts != 1 {
		t.Fatalf("expected 1 upsert, got %d", clusters.upserts)
	}
}

func TestUpsertClustersReadBackFailure(t *testing.T) {
	clusters := &fakeClusterRepo{missing: []int{2}}
	store := storeForTest(t, &fakeCommentRepo{}, clusters, &fakePostRepo{}, StoreOptions{})

	err := store.UpsertClusters(dbctx.Context{}, uuid.New(), []types.CommentCluster{
		{ClusterKey: 2, Size: 4, Centroid: datatypes.JSON(`[0.1,0.2]`)},
	})
	if !errors.Is(err, ErrCentroidPersistenceFailed) {
		t.Fatalf("expected ErrCentroidPersistenceFailed, got %v", err)
	}
	if clusters.upserts != 1 {
		t.Fatalf("read-back failure happens after the write, got %d upserts", clusters.upserts)
	}
}

func TestApplyAssignmentsOverwriteRequiresForce(t *testing.T) {
	comments := &fakeCommentRepo{comments: commentsFixture("a", "b")}
	store := storeForTest(t, comments, &fakeClusterRepo{}, &fakePostRepo{}, StoreOptions{
		WriteMode: WriteModeOverwrite, CoverageMin: 0.9,
	})

	_, err := store.ApplyAssignments(dbctx.Context{}, uuid.New(), map[string]int{"a": 0, "b": 0})
	if !errors.Is(err, ErrForceRequired) {
		t.Fatalf("expected ErrForceRequired, got %v", err)
	}
	if comments.overwrites != 0 {
		t.Fatalf("force gate must fire before any write")
	}
}

func TestApplyAssignmentsPartialPayloadStrictWritesNothing(t *testing.T) {
	comments := &fakeCommentRepo{comments: commentsFixture("a", "b", "c")}
	store := storeForTest(t, comments, &fakeClusterRepo{}, &fakePostRepo{}, StoreOptions{
		WriteMode: WriteModeFillNulls, CoverageMin: 0.9, Strict: true,
	})

	_, err := store.ApplyAssignments(dbctx.Context{}, uuid.New(), map[string]int{"a": 0, "b": 1})
	if !errors.Is(err, ErrPartialAssignmentPayload) {
		t.Fatalf("expected ErrPartialAssignmentPayload, got %v", err)
	}
	if comments.fillCalls != 0 {
		t.Fatalf("partial payload must write nothing, got %d fill calls", comments.fillCalls)
	}
}

func TestApplyAssignmentsPartialPayloadNonStrictWritesPresent(t *testing.T) {
	comments := &fakeCommentRepo{comments: commentsFixture("a", "b", "c", "d", "e")}
	store := storeForTest(t, comments, &fakeClusterRepo{}, &fakePostRepo{}, StoreOptions{
		WriteMode: WriteModeFillNulls, CoverageMin: 0.95, Strict: false,
	})

	res, err := store.ApplyAssignments(dbctx.Context{}, uuid.New(),
		map[string]int{"a": 0, "b": 0, "c": 1, "d": types.NoiseClusterKey})
	if err != nil {
		t.Fatalf("non-strict partial payload must not error: %v", err)
	}
	if comments.fillCalls != 1 {
		t.Fatalf("expected the present entries to be written, got %d fill calls", comments.fillCalls)
	}
	if res.Total != 5 || res.Assigned != 4 {
		t.Fatalf("unexpected counts: total=%d assigned=%d", res.Total, res.Assigned)
	}
	if res.Coverage != 0.8 || res.CoverageOK {
		t.Fatalf("expected recorded shortfall at coverage %.3f, ok=%v", res.Coverage, res.CoverageOK)
	}
}

func TestApplyAssignmentsCoverage(t *testing.T) {
	payload := map[string]int{"a": 0, "b": 0, "c": 1, "d": types.NoiseClusterKey}

	// Strict mode: shortfall is an error.
	strictComments := &fakeCommentRepo{
		comments: commentsFixture("a", "b", "c", "d"),
		stuck:    map[string]bool{"c": true},
	}
	strict := storeForTest(t, strictComments, &fakeClusterRepo{}, &fakePostRepo{}, StoreOptions{
		WriteMode: WriteModeFillNulls, CoverageMin: 0.95, Strict: true,
	})
	_, err := strict.ApplyAssignments(dbctx.Context{}, uuid.New(), payload)
	if !errors.Is(err, ErrCoverageShortfall) {
		t.Fatalf("expected ErrCoverageShortfall, got %v", err)
	}

	// Non-strict: same shortfall is recorded, not raised.
	laxComments := &fakeCommentRepo{
		comments: commentsFixture("a", "b", "c", "d"),
		stuck:    map[string]bool{"c": true},
	}
	lax := storeForTest(t, laxComments, &fakeClusterRepo{}, &fakePostRepo{}, StoreOptions{
		WriteMode: WriteModeFillNulls, CoverageMin: 0.95, Strict: false,
	})
	res, err := lax.ApplyAssignments(dbctx.Context{}, uuid.New(), payload)
	if err != nil {
		t.Fatalf("non-strict shortfall must not error: %v", err)
	}
	if res.CoverageOK {
		t.Fatalf("expected CoverageOK=false at coverage %.3f", res.Coverage)
	}
	if res.Total != 4 || res.Assigned != 3 {
		t.Fatalf("unexpected counts: total=%d assigned=%d", res.Total, res.Assigned)
	}

	// Full coverage passes.
	okComments := &fakeCommentRepo{comments: commentsFixture("a", "b", "c", "d")}
	ok := storeForTest(t, okComments, &fakeClusterRepo{}, &fakePostRepo{}, StoreOptions{
		WriteMode: WriteModeFillNulls, CoverageMin: 0.95, Strict: true,
	})
	res, err = ok.ApplyAssignments(dbctx.Context{}, uuid.New(), payload)
	if err != nil {
		t.Fatalf("full coverage: %v", err)
	}
	if !res.CoverageOK || res.Assigned != 4 {
		t.Fatalf("expected full coverage, got %+v", res)
	}
}

func validDocFixture() *types.AnalysisDocument {
	return &types.AnalysisDocument{
		Post: types.PostIdentity{
			PostID:     uuid.NewString(),
			PostText:   "original post",
			CapturedAt: "2026-08-30T12:00:00Z",
		},
		HardMetrics: types.HardMetrics{CommentCount: 4, ClusterCount: 2},
		ClusterMetrics: []types.ClusterMetrics{
			{ClusterKey: 0, Size: 3, SizeShare: 0.75, LikeSum: 10, LikeShare: 0.8},
			{ClusterKey: 1, Size: 1, SizeShare: 0.25, LikeSum: 2, LikeShare: 0.2},
		},
		FullReport: "report",
	}
}

func TestSaveAnalysisValid(t *testing.T) {
	posts := &fakePostRepo{}
	store := storeForTest(t, &fakeCommentRepo{}, &fakeClusterRepo{}, posts, StoreOptions{})

	vres, err := store.SaveAnalysis(dbctx.Context{}, uuid.New(), validDocFixture(), "build-1", "")
	if err != nil {
		t.Fatalf("SaveAnalysis: %v", err)
	}
	if !vres.IsValid {
		t.Fatalf("expected valid, got reason %q issues %v", vres.Reason, vres.Issues)
	}
	if !posts.saved || !posts.savedValid {
		t.Fatalf("expected valid artifact persisted")
	}
	if posts.savedVersion != types.AnalysisVersion || posts.savedBuildID != "build-1" {
		t.Fatalf("build stamp wrong: version=%q build=%q", posts.savedVersion, posts.savedBuildID)
	}
}

func TestSaveAnalysisForcedInvalidReason(t *testing.T) {
	posts := &fakePostRepo{}
	store := storeForTest(t, &fakeCommentRepo{}, &fakeClusterRepo{}, posts, StoreOptions{})

	vres, err := store.SaveAnalysis(dbctx.Context{}, uuid.New(), validDocFixture(), "build-2", ReasonCoverageShortfall)
	if err != nil {
		t.Fatalf("SaveAnalysis: %v", err)
	}
	if vres.IsValid {
		t.Fatalf("forced reason must invalidate the document")
	}
	if vres.Reason != ReasonCoverageShortfall {
		t.Fatalf("reason = %q, want %q", vres.Reason, ReasonCoverageShortfall)
	}
	if !posts.saved || posts.savedValid {
		t.Fatalf("invalid artifact must still persist, flagged invalid")
	}
	if posts.savedReason != ReasonCoverageShortfall {
		t.Fatalf("persisted reason = %q", posts.savedReason)
	}
}

func TestSaveAnalysisInvalidStillPersists(t *testing.T) {
	posts := &fakePostRepo{}
	store := storeForTest(t, &fakeCommentRepo{}, &fakeClusterRepo{}, posts, StoreOptions{})

	doc := validDocFixture()
	doc.StrategicVerdict = &types.EvidenceSection{
		Text:        "verdict",
		EvidenceIDs: []string{"36241000001", "c99"},
	}
	vres, err := store.SaveAnalysis(dbctx.Context{}, uuid.New(), doc, "build-3", "")
	if err != nil {
		t.Fatalf("SaveAnalysis: %v", err)
	}
	if vres.IsValid {
		t.Fatalf("unresolved alias must invalidate")
	}
	if vres.Reason != "evidence_alias_unresolved" {
		t.Fatalf("reason = %q", vres.Reason)
	}
	if !posts.saved || posts.savedValid {
		t.Fatalf("invalid document must persist with the invalid flag")
	}
}

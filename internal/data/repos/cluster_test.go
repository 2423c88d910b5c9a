package repos

import (
	"context"
	"testing"

	"gorm.io/datatypes"

	types "github.com/threadscope/threadscope-backend/internal/domain"
	"github.com/threadscope/threadscope-backend/internal/data/repos/testutil"
	"github.com/threadscope/threadscope-backend/internal/pkg/dbctx"
)

func TestClusterUpsertAndCentroidCheck(t *testing.T) {
	gdb := testutil.DB(t)
	tx := testutil.Tx(t, gdb)
	log := testutil.Logger(t)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}

	repo := NewClusterRepo(gdb, log)
	post := testutil.SeedPost(t, ctx, tx, "https://www.threads.net/@a/post/k1")

	clusters := []types.CommentCluster{
		{PostID: post.ID, ClusterKey: 0, Size: 3, Centroid: datatypes.JSON([]byte(`[0.1,0.2]`))},
		{PostID: post.ID, ClusterKey: 1, Size: 2},
		{PostID: post.ID, ClusterKey: types.NoiseClusterKey, Size: 4},
	}
	if err := repo.UpsertMany(dbc, clusters); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	missing, err := repo.CentroidMissingKeys(dbc, post.ID)
	if err != nil {
		t.Fatalf("centroid check: %v", err)
	}
	// Cluster 1 has members but no centroid; noise is exempt.
	if len(missing) != 1 || missing[0] != 1 {
		t.Fatalf("missing = %v, want [1]", missing)
	}

	clusters[1].Centroid = datatypes.JSON([]byte(`[0.3,0.4]`))
	if err := repo.UpsertMany(dbc, clusters[1:2]); err != nil {
		t.Fatalf("repair upsert: %v", err)
	}
	missing, err = repo.CentroidMissingKeys(dbc, post.ID)
	if err != nil {
		t.Fatalf("centroid recheck: %v", err)
	}
	if len(missing) != 0 {
		t.Fatalf("missing after repair = %v", missing)
	}

	got, err := repo.ListByPost(dbc, post.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 3 || got[0].ClusterKey != types.NoiseClusterKey {
		t.Fatalf("unexpected rows: %+v", got)
	}
}

func TestClusterDraftPromotion(t *testing.T) {
	gdb := testutil.DB(t)
	tx := testutil.Tx(t, gdb)
	log := testutil.Logger(t)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}

	repo := NewClusterRepo(gdb, log)
	post := testutil.SeedPost(t, ctx, tx, "https://www.threads.net/@a/post/k2")

	clusters := []types.CommentCluster{
		{PostID: post.ID, ClusterKey: 0, Label: "old label", Size: 2, Centroid: datatypes.JSON([]byte(`[0.1]`))},
		{PostID: post.ID, ClusterKey: 1, Label: "keep me", Size: 2, Centroid: datatypes.JSON([]byte(`[0.2]`))},
	}
	if err := repo.UpsertMany(dbc, clusters); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	if err := repo.SaveDrafts(dbc, post.ID, 0, "new label", "new summary"); err != nil {
		t.Fatalf("save drafts: %v", err)
	}
	promoted, err := repo.PromoteDrafts(dbc, post.ID)
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if promoted != 1 {
		t.Fatalf("promoted = %d, want 1", promoted)
	}

	c0, err := repo.GetByKey(dbc, post.ID, 0)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if c0.Label != "new label" || c0.Summary != "new summary" || c0.LabelDraft != "" {
		t.Fatalf("promotion incomplete: %+v", c0)
	}
	c1, err := repo.GetByKey(dbc, post.ID, 1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if c1.Label != "keep me" {
		t.Fatalf("undrafted cluster touched: %+v", c1)
	}
}

func TestClusterUpsertPreservesPromotedLabels(t *testing.T) {
	gdb := testutil.DB(t)
	tx := testutil.Tx(t, gdb)
	log := testutil.Logger(t)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}

	repo := NewClusterRepo(gdb, log)
	post := testutil.SeedPost(t, ctx, tx, "https://www.threads.net/@a/post/k4")

	first := []types.CommentCluster{
		{PostID: post.ID, ClusterKey: 0, Size: 2, Centroid: datatypes.JSON([]byte(`[0.1]`))},
	}
	if err := repo.UpsertMany(dbc, first); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := repo.SaveDrafts(dbc, post.ID, 0, "promoted label", "promoted summary"); err != nil {
		t.Fatalf("save drafts: %v", err)
	}
	if _, err := repo.PromoteDrafts(dbc, post.ID); err != nil {
		t.Fatalf("promote: %v", err)
	}

	// A rerun carries fresh metrics but no naming.
	rerun := []types.CommentCluster{
		{PostID: post.ID, ClusterKey: 0, Size: 5, Centroid: datatypes.JSON([]byte(`[0.9]`))},
	}
	if err := repo.UpsertMany(dbc, rerun); err != nil {
		t.Fatalf("rerun upsert: %v", err)
	}

	got, err := repo.GetByKey(dbc, post.ID, 0)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Label != "promoted label" || got.Summary != "promoted summary" {
		t.Fatalf("rerun clobbered naming: label=%q summary=%q", got.Label, got.Summary)
	}
	if got.Size != 5 {
		t.Fatalf("rerun must refresh metrics, size=%d", got.Size)
	}
}

func TestQuantRunAppendOnlyAudit(t *testing.T) {
	gdb := testutil.DB(t)
	tx := testutil.Tx(t, gdb)
	log := testutil.Logger(t)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}

	repo := NewQuantRunRepo(gdb, log)
	post := testutil.SeedPost(t, ctx, tx, "https://www.threads.net/@a/post/k3")

	run := &types.QuantRun{
		PostID:            post.ID,
		CanonicalTextHash: "text-hash",
		BackendParamsHash: "params-hash",
		Seed:              42,
		Health:            types.RunHealthNovel,
	}
	if err := repo.Insert(dbc, run); err != nil {
		t.Fatalf("insert: %v", err)
	}

	exists, err := repo.ExistsByKey(dbc, "text-hash", "params-hash")
	if err != nil || !exists {
		t.Fatalf("exists = %v err = %v", exists, err)
	}
	exists, err = repo.ExistsByKey(dbc, "text-hash", "other-params")
	if err != nil || exists {
		t.Fatalf("different params must be a distinct key")
	}

	repeat := &types.QuantRun{
		PostID:            post.ID,
		CanonicalTextHash: "text-hash",
		BackendParamsHash: "params-hash",
		Seed:              42,
		Health:            types.RunHealthRepeat,
	}
	if err := repo.Insert(dbc, repeat); err != nil {
		t.Fatalf("repeat insert must append, got %v", err)
	}
	runs, err := repo.ListByKey(dbc, "text-hash", "params-hash")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("runs = %d, want 2 (append-only)", len(runs))
	}

	snaps := []types.QuantClusterSnapshot{
		{RunID: run.ID, PostID: post.ID, ClusterKey: 0, Size: 3, LikeSum: 12},
		{RunID: run.ID, PostID: post.ID, ClusterKey: 1, Size: 2, LikeSum: 4},
	}
	if err := repo.InsertSnapshots(dbc, snaps); err != nil {
		t.Fatalf("snapshots: %v", err)
	}
	got, err := repo.ListSnapshots(dbc, run.ID)
	if err != nil || len(got) != 2 {
		t.Fatalf("snapshots list = %d err = %v", len(got), err)
	}
}

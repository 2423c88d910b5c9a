package steps

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/threadscope/threadscope-backend/internal/analysis/evidence"
	"github.com/threadscope/threadscope-backend/internal/analysis/identity"
	"github.com/threadscope/threadscope-backend/internal/analysis/quant"
	"github.com/threadscope/threadscope-backend/internal/config"
	"github.com/threadscope/threadscope-backend/internal/data/repos"
	types "github.com/threadscope/threadscope-backend/internal/domain"
	"github.com/threadscope/threadscope-backend/internal/logger"
	"github.com/threadscope/threadscope-backend/internal/pkg/dbctx"
	"github.com/threadscope/threadscope-backend/internal/services"
)

// AnalyzeDeps carries every collaborator a stage can touch. The
// pipeline wires it once; steps stay plain functions.
type AnalyzeDeps struct {
	DB       *gorm.DB
	Log      *logger.Logger
	Cfg      config.PipelineConfig
	Posts    repos.PostRepo
	Comments repos.CommentRepo
	Edges    repos.EdgeRepo
	Fetcher  services.ThreadFetcher
	Archive  services.SnapshotArchive
	Vision   services.VisionProvider
	Backend  services.ClusterBackend
	Analyst  services.NarrativeAnalyst
	Audit    services.QuantAudit
	Store    services.AnalysisStore
}

// FetchThread scrapes one thread and ingests it idempotently: post
// upserted by url, comments by external id, reply edges deduplicated.
func FetchThread(ctx context.Context, deps AnalyzeDeps, postURL string) (*types.ThreadPost, []types.ThreadComment, error) {
	res, err := deps.Fetcher.Fetch(ctx, postURL)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch %s: %w", postURL, err)
	}
	dbc := dbctx.Context{Ctx: ctx}

	var snapshotPaths datatypes.JSON
	if deps.Archive != nil && deps.Archive.Enabled() && res.RawHTML != "" {
		path, archiveErr := deps.Archive.ArchiveHTML(ctx, res.URL, res.RawHTML)
		if archiveErr != nil {
			deps.Log.Warn("snapshot archive failed", "url", res.URL, "error", archiveErr)
		} else if path != "" {
			raw, _ := json.Marshal([]string{path})
			snapshotPaths = datatypes.JSON(raw)
		}
	}

	capturedAt := res.CapturedAt
	post := &types.ThreadPost{
		URL:         res.URL,
		Author:      res.Author,
		PostText:    identity.CleanCommentText(res.PostText),
		PostTextRaw: res.PostTextRaw,
		LikeCount:   res.LikeCount,
		ViewCount:   res.ViewCount,
		ReplyCount:  res.ReplyCount,
		RepostCount: res.RepostCount,
		ShareCount:  res.ShareCount,
		CapturedAt:  &capturedAt,
	}
	if len(res.Images) > 0 {
		raw, _ := json.Marshal(res.Images)
		post.Images = datatypes.JSON(raw)
	}
	if snapshotPaths != nil {
		post.SnapshotPaths = snapshotPaths
	}

	post, err = deps.Posts.UpsertByURL(dbc, post)
	if err != nil {
		return nil, nil, fmt.Errorf("upsert post: %w", err)
	}

	comments := make([]types.ThreadComment, 0, len(res.Comments))
	edges := make([]types.CommentEdge, 0)
	for _, fc := range res.Comments {
		c := types.ThreadComment{
			ID:           fc.ID,
			PostID:       post.ID,
			Text:         identity.CleanCommentText(fc.Text),
			AuthorHandle: fc.AuthorHandle,
			LikeCount:    fc.LikeCount,
			ReplyCount:   fc.ReplyCount,
		}
		if fc.CreatedAt != "" {
			if t, parseErr := time.Parse(time.RFC3339, fc.CreatedAt); parseErr == nil {
				c.CreatedAt = &t
			}
		}
		comments = append(comments, c)
		if fc.ParentID != "" {
			edges = append(edges, types.CommentEdge{
				PostID:          post.ID,
				ParentCommentID: fc.ParentID,
				ChildCommentID:  fc.ID,
			})
		}
	}
	if err := deps.Comments.UpsertMany(dbc, comments); err != nil {
		return nil, nil, fmt.Errorf("upsert comments: %w", err)
	}
	if err := deps.Edges.UpsertMany(dbc, edges); err != nil {
		return nil, nil, fmt.Errorf("upsert edges: %w", err)
	}

	stored, err := deps.Comments.ListByPost(dbc, post.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("list comments: %w", err)
	}
	deps.Log.Info("thread ingested",
		"post_id", post.ID, "url", post.URL, "comments", len(stored), "edges", len(edges))
	return post, stored, nil
}

// AnnotateImages runs the vision collaborator over the post's images.
// Its output is advisory context only; the caller soft-fails on error.
func AnnotateImages(ctx context.Context, deps AnalyzeDeps, post *types.ThreadPost) ([]services.ImageAnnotation, error) {
	if deps.Vision == nil || len(post.Images) == 0 {
		return nil, nil
	}
	var urls []string
	if err := json.Unmarshal(post.Images, &urls); err != nil || len(urls) == 0 {
		return nil, nil
	}
	return deps.Vision.AnnotateImages(ctx, urls)
}

// QuantResult is everything the narrative stage is allowed to build on.
type QuantResult struct {
	Key         identity.DedupKey
	Run         *types.QuantRun
	Output      *services.ClusterOutput
	Clustered   []quant.ClusteredComment
	HardMetrics types.HardMetrics
	PerCluster  []types.ClusterMetrics
	Samples     map[int][]quant.ClusteredComment
	Assignment  services.AssignmentResult
}

// RunQuant drives the clustering backend, audits the run identity,
// persists clusters and assignments through the gate, and computes the
// authoritative metrics. Gate violations abort before any narrative.
func RunQuant(ctx context.Context, deps AnalyzeDeps, post *types.ThreadPost, comments []types.ThreadComment) (*QuantResult, error) {
	dbc := dbctx.Context{Ctx: ctx}

	inputs := make([]identity.CommentInput, 0, len(comments))
	for _, c := range comments {
		inputs = append(inputs, identity.CommentInput{ID: c.ID, Text: c.Text})
	}
	params := identity.BackendParams{
		Backend:        deps.Cfg.ClusteringBackend,
		EmbeddingModel: deps.Cfg.EmbeddingModel,
		Seed:           deps.Cfg.ClusteringSeed,
		MinClusterSize: deps.Cfg.MinClusterSize,
	}

	key, err := deps.Audit.Identify(post.PostText, inputs, params)
	if err != nil {
		return nil, fmt.Errorf("identify run: %w", err)
	}

	out, err := deps.Backend.Cluster(ctx, services.ClusterRequest{
		PostText: post.PostText,
		Comments: inputs,
		Params:   params,
	})
	if err != nil {
		return nil, fmt.Errorf("cluster backend: %w", err)
	}

	// Audit row first: the run happened whether or not persistence
	// succeeds, and repeats are informational, never a skip.
	run, err := deps.Audit.RecordRun(dbc, post.ID, key, params, out.Centroids)
	if err != nil {
		return nil, fmt.Errorf("record run: %w", err)
	}

	clustered := make([]quant.ClusteredComment, 0, len(comments))
	for _, c := range comments {
		clusterKey, ok := out.Assignments[c.ID]
		if !ok {
			clusterKey = types.NoiseClusterKey
		}
		clustered = append(clustered, quant.ClusteredComment{
			ID:         c.ID,
			ClusterKey: clusterKey,
			Likes:      c.LikeCount,
			Text:       c.Text,
		})
	}
	hard, perCluster := quant.Compute(clustered)

	// Sampled once here so the stored cluster rows and the analyst brief
	// cite the same comments.
	samples := quant.SampleEvidence(clustered, deps.Cfg.EvidenceSampleSize, deps.Cfg.EvidenceSampleMax)

	clusterRows := buildClusterRows(post.ID, out, perCluster, hard, samples)
	if err := deps.Store.UpsertClusters(dbc, post.ID, clusterRows); err != nil {
		return nil, err
	}

	assignRes, err := deps.Store.ApplyAssignments(dbc, post.ID, out.Assignments)
	if err != nil {
		return nil, err
	}

	if err := deps.Audit.RecordClusterSnapshots(dbc, run, perCluster); err != nil {
		return nil, fmt.Errorf("record snapshots: %w", err)
	}

	return &QuantResult{
		Key:         key,
		Run:         run,
		Output:      out,
		Clustered:   clustered,
		HardMetrics: hard,
		PerCluster:  perCluster,
		Samples:     samples,
		Assignment:  assignRes,
	}, nil
}

func buildClusterRows(postID uuid.UUID, out *services.ClusterOutput, perCluster []types.ClusterMetrics, hard types.HardMetrics, samples map[int][]quant.ClusteredComment) []types.CommentCluster {
	rows := make([]types.CommentCluster, 0, len(perCluster)+1)
	for _, m := range perCluster {
		row := types.CommentCluster{
			PostID:     postID,
			ClusterKey: m.ClusterKey,
			Size:       m.Size,
			Tactics:    datatypes.JSON([]byte(`[]`)),
		}
		if cent, ok := out.Centroids[m.ClusterKey]; ok {
			raw, _ := json.Marshal(cent)
			row.Centroid = datatypes.JSON(raw)
		}
		if kws, ok := out.Keywords[m.ClusterKey]; ok {
			raw, _ := json.Marshal(kws)
			row.Keywords = datatypes.JSON(raw)
		}
		if sampled := samples[m.ClusterKey]; len(sampled) > 0 {
			ids := make([]string, 0, len(sampled))
			for _, s := range sampled {
				ids = append(ids, s.ID)
			}
			raw, _ := json.Marshal(ids)
			row.TopCommentIDs = datatypes.JSON(raw)
		}
		rows = append(rows, row)
	}
	if hard.NoiseCount > 0 {
		rows = append(rows, types.CommentCluster{
			PostID:     postID,
			ClusterKey: types.NoiseClusterKey,
			Size:       hard.NoiseCount,
			Tactics:    datatypes.JSON([]byte(`[]`)),
		})
	}
	return rows
}

// RunNarrative briefs the analyst with aliased evidence and
// authoritative numbers, then reverse-maps every cited alias. Unknown
// aliases stay in the document so validation can reject it; they are
// never silently dropped.
func RunNarrative(ctx context.Context, deps AnalyzeDeps, post *types.ThreadPost, q *QuantResult, annotations []services.ImageAnnotation) (*types.AnalysisDocument, error) {
	reg := evidence.NewRegistry()
	samples := q.Samples

	capturedAt := ""
	if post.CapturedAt != nil {
		capturedAt = post.CapturedAt.UTC().Format(time.RFC3339)
	}
	req := services.AnalystRequest{
		PostText:    post.PostText,
		Author:      post.Author,
		CapturedAt:  capturedAt,
		HardMetrics: q.HardMetrics,
		Annotations: annotations,
	}
	for _, m := range q.PerCluster {
		ac := services.AnalystCluster{
			ClusterKey: m.ClusterKey,
			Size:       m.Size,
			SizeShare:  m.SizeShare,
			LikeSum:    m.LikeSum,
			LikeShare:  m.LikeShare,
			Keywords:   q.Output.Keywords[m.ClusterKey],
		}
		for _, s := range samples[m.ClusterKey] {
			ac.Evidence = append(ac.Evidence, services.AnalystEvidence{
				Alias: reg.Alias(s.ID),
				Text:  s.Text,
				Likes: s.Likes,
			})
		}
		req.Clusters = append(req.Clusters, ac)
	}

	resp, err := deps.Analyst.Analyze(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("analyst: %w", err)
	}

	doc := &types.AnalysisDocument{
		Post: types.PostIdentity{
			PostID:     post.ID.String(),
			PostText:   post.PostText,
			CapturedAt: capturedAt,
		},
		Phenomenon:        resp.Phenomenon,
		EmotionalPulse:    resp.EmotionalPulse,
		Segments:          resp.Segments,
		HardMetrics:       q.HardMetrics,
		ClusterMetrics:    q.PerCluster,
		Battlefield:       resp.Battlefield,
		StrategicVerdict:  resp.StrategicVerdict,
		StructuralInsight: resp.StructuralInsight,
		AxisAlignment:     resp.AxisAlignment,
		FullReport:        resp.FullReport,
	}

	for i := range doc.Battlefield {
		doc.Battlefield[i].EvidenceIDs = resolveIDs(reg, doc.Battlefield[i].EvidenceIDs)
	}
	if doc.StrategicVerdict != nil {
		doc.StrategicVerdict.EvidenceIDs = resolveIDs(reg, doc.StrategicVerdict.EvidenceIDs)
	}
	if doc.StructuralInsight != nil {
		doc.StructuralInsight.EvidenceIDs = resolveIDs(reg, doc.StructuralInsight.EvidenceIDs)
	}
	return doc, nil
}

// resolveIDs keeps unknown aliases in place among the resolved ids, in
// their original order, so the validation gate sees exactly what the
// analyst cited.
func resolveIDs(reg *evidence.Registry, ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		resolved, unresolved := reg.Resolve([]string{id})
		out = append(out, resolved...)
		out = append(out, unresolved...)
	}
	return out
}

// StoreDocument persists the composed document through the single
// writer. The forced reason carries a recorded coverage invalidation.
func StoreDocument(ctx context.Context, deps AnalyzeDeps, post *types.ThreadPost, doc *types.AnalysisDocument, q *QuantResult) (bool, string, error) {
	forced := ""
	if !q.Assignment.CoverageOK {
		forced = services.ReasonCoverageShortfall + ": " + strconv.FormatFloat(q.Assignment.Coverage, 'f', 3, 64)
	}
	buildID := buildIDFor(q)
	vres, err := deps.Store.SaveAnalysis(dbctx.Context{Ctx: ctx}, post.ID, doc, buildID, forced)
	if err != nil {
		return false, "", fmt.Errorf("save analysis: %w", err)
	}
	return vres.IsValid, vres.Reason, nil
}

func buildIDFor(q *QuantResult) string {
	// Short, stable, human-greppable: dedup key prefix plus run id tail.
	key := q.Key.String()
	if len(key) > 16 {
		key = key[:16]
	}
	runID := q.Run.ID.String()
	if i := len(runID) - 8; i > 0 {
		runID = runID[i:]
	}
	return key + "-" + runID
}

// sortable helper used by tests to make cluster ordering explicit.
func sortClusters(rows []types.CommentCluster) {
	sort.Slice(rows, func(i, j int) bool { return rows[i].ClusterKey < rows[j].ClusterKey })
}

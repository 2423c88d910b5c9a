package quant

import (
	"math"
	"testing"

	types "github.com/threadscope/threadscope-backend/internal/domain"
)

func fixtureComments() []ClusteredComment {
	return []ClusteredComment{
		{ID: "c1", ClusterKey: 0, Likes: 10},
		{ID: "c2", ClusterKey: 0, Likes: 6},
		{ID: "c3", ClusterKey: 0, Likes: 4},
		{ID: "c4", ClusterKey: 1, Likes: 5},
		{ID: "c5", ClusterKey: 1, Likes: 3},
		{ID: "c6", ClusterKey: types.NoiseClusterKey, Likes: 2},
	}
}

func TestComputeCountsAndShares(t *testing.T) {
	hm, cm := Compute(fixtureComments())

	if hm.CommentCount != 6 {
		t.Fatalf("CommentCount = %d", hm.CommentCount)
	}
	if hm.ClusterCount != 2 {
		t.Fatalf("ClusterCount = %d", hm.ClusterCount)
	}
	if hm.NoiseCount != 1 {
		t.Fatalf("NoiseCount = %d", hm.NoiseCount)
	}
	if hm.TotalLikes != 30 {
		t.Fatalf("TotalLikes = %d", hm.TotalLikes)
	}
	if len(cm) != 2 {
		t.Fatalf("cluster metrics len = %d", len(cm))
	}
	if cm[0].ClusterKey != 0 || cm[1].ClusterKey != 1 {
		t.Fatalf("cluster metrics not ordered by key: %+v", cm)
	}
	if math.Abs(cm[0].SizeShare-0.5) > 1e-9 {
		t.Fatalf("cluster 0 size share = %f", cm[0].SizeShare)
	}
	if math.Abs(cm[0].LikeShare-20.0/30.0) > 1e-9 {
		t.Fatalf("cluster 0 like share = %f", cm[0].LikeShare)
	}

	var shareSum float64
	for _, m := range cm {
		if m.SizeShare < 0 || m.SizeShare > 1 || m.LikeShare < 0 || m.LikeShare > 1 {
			t.Fatalf("share out of [0,1]: %+v", m)
		}
		shareSum += m.SizeShare
	}
	if shareSum > 1.01 {
		t.Fatalf("size share sum %f exceeds tolerance", shareSum)
	}
}

func TestComputeDeterministic(t *testing.T) {
	hm1, cm1 := Compute(fixtureComments())
	hm2, cm2 := Compute(fixtureComments())
	if hm1 != hm2 {
		t.Fatalf("hard metrics differ across identical runs:\n%+v\n%+v", hm1, hm2)
	}
	if len(cm1) != len(cm2) {
		t.Fatalf("cluster metrics length differ")
	}
	for i := range cm1 {
		if cm1[i] != cm2[i] {
			t.Fatalf("cluster metrics differ at %d: %+v vs %+v", i, cm1[i], cm2[i])
		}
	}
}

func TestGiniBounds(t *testing.T) {
	uniform := gini([]float64{5, 5, 5, 5})
	if math.Abs(uniform) > 1e-9 {
		t.Fatalf("uniform gini = %f", uniform)
	}

	concentrated := gini([]float64{0, 0, 0, 100})
	if concentrated <= 0.5 || concentrated > 1 {
		t.Fatalf("concentrated gini = %f", concentrated)
	}

	if g := gini(nil); g != 0 {
		t.Fatalf("empty gini = %f", g)
	}
	if g := gini([]float64{0, 0}); g != 0 {
		t.Fatalf("zero-likes gini = %f", g)
	}
}

func TestEntropyBounds(t *testing.T) {
	even := clusterLikeEntropy([]types.ClusterMetrics{
		{ClusterKey: 0, LikeSum: 10},
		{ClusterKey: 1, LikeSum: 10},
	})
	if math.Abs(even-1.0) > 1e-9 {
		t.Fatalf("even split entropy = %f, want 1", even)
	}

	single := clusterLikeEntropy([]types.ClusterMetrics{{ClusterKey: 0, LikeSum: 10}})
	if single != 0 {
		t.Fatalf("single cluster entropy = %f", single)
	}

	skewed := clusterLikeEntropy([]types.ClusterMetrics{
		{ClusterKey: 0, LikeSum: 99},
		{ClusterKey: 1, LikeSum: 1},
	})
	if skewed <= 0 || skewed >= 1 {
		t.Fatalf("skewed entropy = %f, want in (0,1)", skewed)
	}
}

func TestDominance(t *testing.T) {
	hm, _ := Compute(fixtureComments())
	// sizes 3 vs 2, likes 20 vs 8
	if math.Abs(hm.SizeDominance-1.5) > 1e-9 {
		t.Fatalf("SizeDominance = %f", hm.SizeDominance)
	}
	if math.Abs(hm.LikeDominance-2.5) > 1e-9 {
		t.Fatalf("LikeDominance = %f", hm.LikeDominance)
	}

	hmSingle, _ := Compute([]ClusteredComment{{ID: "a", ClusterKey: 0, Likes: 1}})
	if hmSingle.SizeDominance != 0 {
		t.Fatalf("single-cluster dominance = %f", hmSingle.SizeDominance)
	}
}

func TestSampleEvidenceDeterministicOrder(t *testing.T) {
	comments := []ClusteredComment{
		{ID: "b", ClusterKey: 0, Likes: 5},
		{ID: "a", ClusterKey: 0, Likes: 5},
		{ID: "c", ClusterKey: 0, Likes: 9},
		{ID: "d", ClusterKey: 0, Likes: 1},
		{ID: "n", ClusterKey: types.NoiseClusterKey, Likes: 50},
	}
	sample := SampleEvidence(comments, 3, 12)
	got := sample[0]
	if len(got) != 3 {
		t.Fatalf("sample size = %d", len(got))
	}
	if got[0].ID != "c" || got[1].ID != "a" || got[2].ID != "b" {
		t.Fatalf("unexpected sample order: %v %v %v", got[0].ID, got[1].ID, got[2].ID)
	}
	if _, ok := sample[types.NoiseClusterKey]; ok {
		t.Fatalf("noise cluster must not be sampled")
	}
}

func TestSampleEvidenceCap(t *testing.T) {
	comments := make([]ClusteredComment, 0, 20)
	for i := 0; i < 20; i++ {
		comments = append(comments, ClusteredComment{ID: string(rune('a' + i)), ClusterKey: 0, Likes: i})
	}
	sample := SampleEvidence(comments, 50, 12)
	if len(sample[0]) != 12 {
		t.Fatalf("cap not applied, got %d", len(sample[0]))
	}
}

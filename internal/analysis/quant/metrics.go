package quant

import (
	"math"
	"sort"

	types "github.com/threadscope/threadscope-backend/internal/domain"
)

// ClusteredComment is the quant engine's input row: one comment with
// its assigned cluster key (NoiseClusterKey for noise) and like count.
type ClusteredComment struct {
	ID         string
	ClusterKey int
	Likes      int
	Text       string
}

// Compute derives the deterministic hard metrics and per-cluster
// metrics for a post's clustered comments. It runs strictly after
// clustering and before any narrative call; its outputs are
// authoritative and never overridden downstream.
func Compute(comments []ClusteredComment) (types.HardMetrics, []types.ClusterMetrics) {
	hm := types.HardMetrics{CommentCount: len(comments)}
	if len(comments) == 0 {
		return hm, nil
	}

	type agg struct {
		size    int
		likeSum int
	}
	byCluster := map[int]*agg{}
	likes := make([]float64, 0, len(comments))
	for _, c := range comments {
		a := byCluster[c.ClusterKey]
		if a == nil {
			a = &agg{}
			byCluster[c.ClusterKey] = a
		}
		a.size++
		a.likeSum += c.Likes
		hm.TotalLikes += c.Likes
		likes = append(likes, float64(c.Likes))
	}

	keys := make([]int, 0, len(byCluster))
	for k := range byCluster {
		if k == types.NoiseClusterKey {
			hm.NoiseCount = byCluster[k].size
			continue
		}
		keys = append(keys, k)
	}
	sort.Ints(keys)
	hm.ClusterCount = len(keys)

	cm := make([]types.ClusterMetrics, 0, len(keys))
	for _, k := range keys {
		a := byCluster[k]
		m := types.ClusterMetrics{
			ClusterKey: k,
			Size:       a.size,
			SizeShare:  float64(a.size) / float64(hm.CommentCount),
			LikeSum:    a.likeSum,
		}
		if hm.TotalLikes > 0 {
			m.LikeShare = float64(a.likeSum) / float64(hm.TotalLikes)
		}
		cm = append(cm, m)
	}

	hm.LikeGini = gini(likes)
	hm.LikeEntropy = clusterLikeEntropy(cm)
	hm.SizeDominance = dominance(cm, func(m types.ClusterMetrics) float64 { return float64(m.Size) })
	hm.LikeDominance = dominance(cm, func(m types.ClusterMetrics) float64 { return float64(m.LikeSum) })
	return hm, cm
}

// gini computes the Gini coefficient of the like distribution across
// individual comments. 0 for a uniform distribution, approaching 1 as
// likes concentrate on a single comment.
func gini(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	var total, weighted float64
	for i, v := range sorted {
		total += v
		weighted += float64(i+1) * v
	}
	if total == 0 {
		return 0
	}
	return (2*weighted)/(float64(n)*total) - float64(n+1)/float64(n)
}

// clusterLikeEntropy is the normalized Shannon entropy of the like mass
// across substantive clusters, in [0,1]. Single-cluster and zero-like
// posts score 0.
func clusterLikeEntropy(cm []types.ClusterMetrics) float64 {
	var total float64
	for _, m := range cm {
		total += float64(m.LikeSum)
	}
	if total == 0 || len(cm) < 2 {
		return 0
	}
	var h float64
	for _, m := range cm {
		p := float64(m.LikeSum) / total
		if p > 0 {
			h -= p * math.Log(p)
		}
	}
	return h / math.Log(float64(len(cm)))
}

// dominance is the ratio between the largest and second-largest cluster
// under the given measure. Posts with fewer than two substantive
// clusters score 0.
func dominance(cm []types.ClusterMetrics, measure func(types.ClusterMetrics) float64) float64 {
	if len(cm) < 2 {
		return 0
	}
	var top, second float64
	for _, m := range cm {
		v := measure(m)
		if v > top {
			second = top
			top = v
		} else if v > second {
			second = v
		}
	}
	if second == 0 {
		return 0
	}
	return top / second
}

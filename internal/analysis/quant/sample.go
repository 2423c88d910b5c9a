package quant

import (
	"sort"

	types "github.com/threadscope/threadscope-backend/internal/domain"
)

// SampleEvidence selects a deterministic per-cluster evidence sample
// for the narrative stage: top comments by likes, ties broken by
// comment id, noise excluded. sampleSize is clamped to [1, maxCap].
func SampleEvidence(comments []ClusteredComment, sampleSize, maxCap int) map[int][]ClusteredComment {
	if maxCap < 1 {
		maxCap = 1
	}
	if sampleSize < 1 {
		sampleSize = 1
	}
	if sampleSize > maxCap {
		sampleSize = maxCap
	}

	byCluster := map[int][]ClusteredComment{}
	for _, c := range comments {
		if c.ClusterKey == types.NoiseClusterKey {
			continue
		}
		byCluster[c.ClusterKey] = append(byCluster[c.ClusterKey], c)
	}

	out := make(map[int][]ClusteredComment, len(byCluster))
	for k, members := range byCluster {
		sort.Slice(members, func(i, j int) bool {
			if members[i].Likes != members[j].Likes {
				return members[i].Likes > members[j].Likes
			}
			return members[i].ID < members[j].ID
		})
		n := sampleSize
		if n > len(members) {
			n = len(members)
		}
		out[k] = members[:n]
	}
	return out
}

package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
)

// EmbeddingPreprocessVersion tags the canonicalization rules below.
// Bump it whenever canonicalization changes, so audit rows from
// different preprocess eras are never compared for drift.
const EmbeddingPreprocessVersion = "p3"

// uiTokens are interface chrome lines that leak into scraped comment
// text and must never reach canonicalization.
var uiTokens = map[string]bool{
	"top":           true,
	"view activity": true,
	"author":        true,
	"translate":     true,
	"like":          true,
	"reply":         true,
	"repost":        true,
	"share":         true,
}

// DedupKey identifies a content+configuration pair. Immutable once
// computed for a given input snapshot.
type DedupKey struct {
	CanonicalTextHash string `json:"canonical_text_hash"`
	BackendParamsHash string `json:"backend_params_hash"`
}

func (k DedupKey) String() string {
	return k.CanonicalTextHash + ":" + k.BackendParamsHash
}

// BackendParams captures every knob of the clustering backend that can
// change its output, including the randomness seed.
type BackendParams struct {
	Backend        string            `json:"backend"`
	EmbeddingModel string            `json:"embedding_model"`
	Seed           int64             `json:"seed"`
	MinClusterSize int               `json:"min_cluster_size"`
	Extra          map[string]string `json:"extra,omitempty"`
}

// CommentInput is the minimal comment snapshot that participates in the
// canonical content hash.
type CommentInput struct {
	ID   string
	Text string
}

// CleanCommentText strips UI chrome lines and collapses whitespace.
func CleanCommentText(text string) string {
	lines := strings.Split(text, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if uiTokens[strings.ToLower(trimmed)] {
			continue
		}
		kept = append(kept, strings.Join(strings.Fields(trimmed), " "))
	}
	return strings.Join(kept, "\n")
}

// CanonicalText builds the canonical content snapshot for one post:
// the cleaned post text followed by every comment, sorted by comment id
// so scrape order never changes the hash.
func CanonicalText(postText string, comments []CommentInput) string {
	sorted := make([]CommentInput, len(comments))
	copy(sorted, comments)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	var b strings.Builder
	b.WriteString(CleanCommentText(postText))
	for _, c := range sorted {
		b.WriteString("\n")
		b.WriteString(c.ID)
		b.WriteString("\t")
		b.WriteString(CleanCommentText(c.Text))
	}
	return b.String()
}

func CanonicalTextHash(postText string, comments []CommentInput) string {
	return hashString(CanonicalText(postText, comments))
}

// BackendParamsHash hashes the full parameter set. json.Marshal sorts
// map keys, so equal parameter sets always serialize identically.
func BackendParamsHash(p BackendParams) (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal backend params: %w", err)
	}
	return hashBytes(raw), nil
}

// Identify computes the dedup key for a content+configuration pair.
func Identify(postText string, comments []CommentInput, params BackendParams) (DedupKey, error) {
	ph, err := BackendParamsHash(params)
	if err != nil {
		return DedupKey{}, err
	}
	return DedupKey{
		CanonicalTextHash: CanonicalTextHash(postText, comments),
		BackendParamsHash: ph,
	}, nil
}

// CentroidHash hashes the centroid set of a run. Values are rounded to
// six decimals before hashing so float formatting noise does not break
// the determinism audit.
func CentroidHash(centroids map[int][]float64) string {
	keys := make([]int, 0, len(centroids))
	for k := range centroids {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%d:", k)
		for i, v := range centroids[k] {
			if i > 0 {
				b.WriteString(",")
			}
			fmt.Fprintf(&b, "%.6f", roundTo(v, 6))
		}
		b.WriteString("\n")
	}
	return hashString(b.String())
}

func roundTo(v float64, digits int) float64 {
	scale := math.Pow10(digits)
	return math.Round(v*scale) / scale
}

func hashString(s string) string { return hashBytes([]byte(s)) }

func hashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

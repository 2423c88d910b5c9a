package identity

import "testing"

func TestCanonicalTextHashIgnoresCommentOrder(t *testing.T) {
	a := []CommentInput{{ID: "c_001", Text: "first"}, {ID: "c_002", Text: "second"}}
	b := []CommentInput{{ID: "c_002", Text: "second"}, {ID: "c_001", Text: "first"}}

	ha := CanonicalTextHash("post body", a)
	hb := CanonicalTextHash("post body", b)
	if ha != hb {
		t.Fatalf("hash changed with comment order: %s vs %s", ha, hb)
	}
}

func TestCanonicalTextHashChangesWithContent(t *testing.T) {
	base := []CommentInput{{ID: "c_001", Text: "first"}}
	edited := []CommentInput{{ID: "c_001", Text: "first edited"}}
	if CanonicalTextHash("post", base) == CanonicalTextHash("post", edited) {
		t.Fatalf("expected different hashes for different content")
	}
}

func TestCleanCommentTextStripsUITokens(t *testing.T) {
	in := "Like\nreal opinion here\nTranslate\nView activity"
	got := CleanCommentText(in)
	if got != "real opinion here" {
		t.Fatalf("CleanCommentText = %q", got)
	}
}

func TestBackendParamsHashDeterministic(t *testing.T) {
	p := BackendParams{
		Backend:        "hdbscan",
		EmbeddingModel: "text-embedding-3-small",
		Seed:           42,
		MinClusterSize: 3,
		Extra:          map[string]string{"metric": "cosine", "alpha": "1.0"},
	}
	h1, err := BackendParamsHash(p)
	if err != nil {
		t.Fatalf("BackendParamsHash: %v", err)
	}
	h2, err := BackendParamsHash(p)
	if err != nil {
		t.Fatalf("BackendParamsHash: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("same params hashed differently: %s vs %s", h1, h2)
	}

	p.Seed = 43
	h3, err := BackendParamsHash(p)
	if err != nil {
		t.Fatalf("BackendParamsHash: %v", err)
	}
	if h3 == h1 {
		t.Fatalf("seed change must change the params hash")
	}
}

func TestIdentifySameInputsSameKey(t *testing.T) {
	comments := []CommentInput{{ID: "a", Text: "x"}, {ID: "b", Text: "y"}}
	params := BackendParams{Backend: "hdbscan", Seed: 7}

	k1, err := Identify("post", comments, params)
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	k2, err := Identify("post", comments, params)
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if k1 != k2 {
		t.Fatalf("identical inputs produced different keys: %v vs %v", k1, k2)
	}
}

func TestCentroidHashToleratesFloatNoise(t *testing.T) {
	a := map[int][]float64{0: {0.1234567, 0.5}, 1: {0.9}}
	b := map[int][]float64{1: {0.9}, 0: {0.12345672, 0.5000000001}}
	if CentroidHash(a) != CentroidHash(b) {
		t.Fatalf("sub-rounding float noise changed the centroid hash")
	}

	c := map[int][]float64{0: {0.1235, 0.5}, 1: {0.9}}
	if CentroidHash(a) == CentroidHash(c) {
		t.Fatalf("materially different centroids must hash differently")
	}
}

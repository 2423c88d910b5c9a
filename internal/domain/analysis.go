package types

// AnalysisVersion is the contract version every stored document must
// carry. Validation rejects documents tagged with anything else.
const AnalysisVersion = "v6.1"

// AnalysisDocument is the composed analyst output persisted on
// threads_posts.analysis_result. Hard metrics and per-cluster metrics
// are computed deterministically before the narrative call and are
// authoritative; the narrative stage never overrides them.
type AnalysisDocument struct {
	Post              PostIdentity       `json:"post"`
	Phenomenon        *Phenomenon        `json:"phenomenon,omitempty"`
	EmotionalPulse    map[string]float64 `json:"emotional_pulse,omitempty"`
	Segments          []NarrativeSegment `json:"segments,omitempty"`
	HardMetrics       HardMetrics        `json:"hard_metrics"`
	ClusterMetrics    []ClusterMetrics   `json:"cluster_metrics"`
	Battlefield       []BattlefieldEntry `json:"battlefield,omitempty"`
	StrategicVerdict  *EvidenceSection   `json:"strategic_verdict,omitempty"`
	StructuralInsight *EvidenceSection   `json:"structural_insight,omitempty"`
	AxisAlignment     *AxisAlignment     `json:"axis_alignment,omitempty"`
	FullReport        string             `json:"full_report,omitempty"`
	Build             BuildMeta          `json:"build"`
}

type PostIdentity struct {
	PostID     string `json:"post_id"`
	PostText   string `json:"post_text"`
	CapturedAt string `json:"captured_at"`
}

type Phenomenon struct {
	ID     string `json:"id,omitempty"`
	Name   string `json:"name,omitempty"`
	Status string `json:"status,omitempty"`
}

type NarrativeSegment struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

type HardMetrics struct {
	CommentCount  int     `json:"comment_count"`
	ClusterCount  int     `json:"cluster_count"`
	NoiseCount    int     `json:"noise_count"`
	TotalLikes    int     `json:"total_likes"`
	LikeGini      float64 `json:"like_gini"`
	LikeEntropy   float64 `json:"like_entropy"`
	SizeDominance float64 `json:"size_dominance"`
	LikeDominance float64 `json:"like_dominance"`
}

type ClusterMetrics struct {
	ClusterKey int     `json:"cluster_key"`
	Size       int     `json:"size"`
	SizeShare  float64 `json:"size_share"`
	LikeSum    int     `json:"like_sum"`
	LikeShare  float64 `json:"like_share"`
}

// BattlefieldEntry is an evidence-bearing narrative section; it must
// cite at least two resolved comment ids to survive validation.
type BattlefieldEntry struct {
	ClusterKey  int      `json:"cluster_key"`
	Claim       string   `json:"claim"`
	EvidenceIDs []string `json:"evidence_ids"`
}

type EvidenceSection struct {
	Text        string   `json:"text"`
	EvidenceIDs []string `json:"evidence_ids"`
}

type AxisAlignment struct {
	Axes []AlignmentAxis `json:"axes"`
}

type AlignmentAxis struct {
	Name  string   `json:"name"`
	Poles []string `json:"poles"`
	// Scores maps cluster key (stringified) to a position in [0,1]
	// between the two poles.
	Scores map[string]float64 `json:"scores"`
}

type BuildMeta struct {
	Version       string   `json:"version"`
	BuildID       string   `json:"build_id"`
	IsValid       bool     `json:"analysis_is_valid"`
	InvalidReason string   `json:"invalid_reason,omitempty"`
	MissingKeys   []string `json:"missing_keys,omitempty"`
}

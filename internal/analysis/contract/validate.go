package contract

import (
	"fmt"
	"strings"

	"github.com/threadscope/threadscope-backend/internal/analysis/evidence"
	types "github.com/threadscope/threadscope-backend/internal/domain"
)

// ShareSumTolerance absorbs floating rounding when per-cluster shares
// are summed.
const ShareSumTolerance = 1.01

const (
	ReasonMissingKeys       = "missing_required_keys"
	ReasonVersionMismatch   = "version_mismatch"
	ReasonShareOutOfRange   = "share_out_of_range"
	ReasonShareSumExceeded  = "share_sum_exceeded"
	ReasonEvidenceCount     = "evidence_count_insufficient"
	ReasonAliasUnresolved   = "evidence_alias_unresolved"
	ReasonAxisInvalid       = "axis_alignment_invalid"
)

type Issue struct {
	Category string `json:"category"`
	Detail   string `json:"detail"`
}

// ValidationResult is stored alongside the document, never thrown away.
// Invalid documents still persist; they just never satisfy the job's
// completion gate as a valid artifact.
type ValidationResult struct {
	IsValid     bool     `json:"is_valid"`
	Reason      string   `json:"reason,omitempty"`
	MissingKeys []string `json:"missing_keys,omitempty"`
	Issues      []Issue  `json:"issues,omitempty"`
}

// Validate checks a composed analysis document against the contract.
// Rule categories run in a fixed order and stop at the first failing
// category; every issue discovered up to that point is recorded.
func Validate(doc *types.AnalysisDocument) ValidationResult {
	res := ValidationResult{IsValid: true}
	if doc == nil {
		return ValidationResult{IsValid: false, Reason: ReasonMissingKeys, MissingKeys: []string{"document"}}
	}

	categories := []func(*types.AnalysisDocument, *ValidationResult) string{
		checkIdentity,
		checkVersion,
		checkShares,
		checkEvidence,
		checkAxisAlignment,
	}
	for _, check := range categories {
		if reason := check(doc, &res); reason != "" {
			res.IsValid = false
			res.Reason = reason
			return res
		}
	}
	return res
}

func checkIdentity(doc *types.AnalysisDocument, res *ValidationResult) string {
	missing := []string{}
	if strings.TrimSpace(doc.Post.PostID) == "" {
		missing = append(missing, "post.post_id")
	}
	if strings.TrimSpace(doc.Post.PostText) == "" {
		missing = append(missing, "post.post_text")
	}
	if strings.TrimSpace(doc.Post.CapturedAt) == "" {
		missing = append(missing, "post.captured_at")
	}
	if doc.Phenomenon != nil {
		// Pending phenomena are registry placeholders; they bypass the
		// name requirement.
		pending := strings.EqualFold(doc.Phenomenon.Status, "pending")
		if !pending && strings.TrimSpace(doc.Phenomenon.ID) == "" && strings.TrimSpace(doc.Phenomenon.Name) == "" {
			missing = append(missing, "phenomenon.id|phenomenon.name")
		}
	}
	if len(missing) == 0 {
		return ""
	}
	res.MissingKeys = missing
	for _, k := range missing {
		res.Issues = append(res.Issues, Issue{Category: ReasonMissingKeys, Detail: k})
	}
	return ReasonMissingKeys
}

func checkVersion(doc *types.AnalysisDocument, res *ValidationResult) string {
	if doc.Build.Version == types.AnalysisVersion {
		return ""
	}
	res.Issues = append(res.Issues, Issue{
		Category: ReasonVersionMismatch,
		Detail:   fmt.Sprintf("got %q want %q", doc.Build.Version, types.AnalysisVersion),
	})
	return ReasonVersionMismatch
}

func checkShares(doc *types.AnalysisDocument, res *ValidationResult) string {
	failed := ""
	var sizeSum, likeSum float64
	for _, m := range doc.ClusterMetrics {
		for name, v := range map[string]float64{"size_share": m.SizeShare, "like_share": m.LikeShare} {
			if v < 0 || v > 1 {
				res.Issues = append(res.Issues, Issue{
					Category: ReasonShareOutOfRange,
					Detail:   fmt.Sprintf("cluster %d %s=%f", m.ClusterKey, name, v),
				})
				failed = ReasonShareOutOfRange
			}
		}
		sizeSum += m.SizeShare
		likeSum += m.LikeShare
	}
	if sizeSum > ShareSumTolerance {
		res.Issues = append(res.Issues, Issue{Category: ReasonShareSumExceeded, Detail: fmt.Sprintf("size_share sum=%f", sizeSum)})
		if failed == "" {
			failed = ReasonShareSumExceeded
		}
	}
	if likeSum > ShareSumTolerance {
		res.Issues = append(res.Issues, Issue{Category: ReasonShareSumExceeded, Detail: fmt.Sprintf("like_share sum=%f", likeSum)})
		if failed == "" {
			failed = ReasonShareSumExceeded
		}
	}
	return failed
}

func checkEvidence(doc *types.AnalysisDocument, res *ValidationResult) string {
	failed := ""
	record := func(section string, ids []string, requireTwo bool) {
		if requireTwo && len(ids) < 2 {
			res.Issues = append(res.Issues, Issue{
				Category: ReasonEvidenceCount,
				Detail:   fmt.Sprintf("%s cites %d evidence ids", section, len(ids)),
			})
			if failed == "" {
				failed = ReasonEvidenceCount
			}
		}
		for _, id := range ids {
			if evidence.IsAliasShaped(id) {
				res.Issues = append(res.Issues, Issue{
					Category: ReasonAliasUnresolved,
					Detail:   fmt.Sprintf("%s cites unresolved alias %s", section, id),
				})
				// Alias leakage outranks a count shortfall as the headline
				// reason.
				failed = ReasonAliasUnresolved
			}
		}
	}

	for i, e := range doc.Battlefield {
		record(fmt.Sprintf("battlefield[%d]", i), e.EvidenceIDs, true)
	}
	if doc.StrategicVerdict != nil {
		record("strategic_verdict", doc.StrategicVerdict.EvidenceIDs, true)
	}
	if doc.StructuralInsight != nil {
		record("structural_insight", doc.StructuralInsight.EvidenceIDs, true)
	}
	return failed
}

func checkAxisAlignment(doc *types.AnalysisDocument, res *ValidationResult) string {
	if doc.AxisAlignment == nil {
		return ""
	}
	failed := ""
	fail := func(detail string) {
		res.Issues = append(res.Issues, Issue{Category: ReasonAxisInvalid, Detail: detail})
		failed = fmt.Sprintf("%s: %s", ReasonAxisInvalid, detail)
	}
	if len(doc.AxisAlignment.Axes) == 0 {
		fail("empty axes")
		return failed
	}
	for i, axis := range doc.AxisAlignment.Axes {
		if strings.TrimSpace(axis.Name) == "" {
			fail(fmt.Sprintf("axes[%d] missing name", i))
		}
		if len(axis.Poles) != 2 {
			fail(fmt.Sprintf("axes[%d] needs exactly 2 poles, got %d", i, len(axis.Poles)))
		}
		for key, score := range axis.Scores {
			if score < 0 || score > 1 {
				fail(fmt.Sprintf("axes[%d] score for cluster %s out of [0,1]: %f", i, key, score))
			}
		}
	}
	return failed
}

package services

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	types "github.com/threadscope/threadscope-backend/internal/domain"
	"github.com/threadscope/threadscope-backend/internal/logger"
	"github.com/threadscope/threadscope-backend/internal/utils"
)

// AnalystEvidence is one sampled comment as the analyst sees it: the
// alias stands in for the real id, which never crosses this boundary.
type AnalystEvidence struct {
	Alias string `json:"alias"`
	Text  string `json:"text"`
	Likes int    `json:"likes"`
}

// AnalystCluster is the per-cluster briefing: authoritative numbers
// plus the sampled evidence the analyst may cite.
type AnalystCluster struct {
	ClusterKey int               `json:"cluster_key"`
	Size       int               `json:"size"`
	SizeShare  float64           `json:"size_share"`
	LikeSum    int               `json:"like_sum"`
	LikeShare  float64           `json:"like_share"`
	Keywords   []string          `json:"keywords,omitempty"`
	Evidence   []AnalystEvidence `json:"evidence"`
}

type AnalystRequest struct {
	PostText    string                `json:"post_text"`
	Author      string                `json:"author"`
	CapturedAt  string                `json:"captured_at"`
	HardMetrics types.HardMetrics     `json:"hard_metrics"`
	Clusters    []AnalystCluster      `json:"clusters"`
	Annotations []ImageAnnotation     `json:"image_annotations,omitempty"`
}

// AnalystResponse is the narrative layer of the document. Evidence ids
// in here are aliases until the pipeline reverse-maps them.
type AnalystResponse struct {
	Phenomenon        *types.Phenomenon        `json:"phenomenon,omitempty"`
	EmotionalPulse    map[string]float64       `json:"emotional_pulse,omitempty"`
	Segments          []types.NarrativeSegment `json:"segments,omitempty"`
	Battlefield       []types.BattlefieldEntry `json:"battlefield"`
	StrategicVerdict  *types.EvidenceSection   `json:"strategic_verdict,omitempty"`
	StructuralInsight *types.EvidenceSection   `json:"structural_insight,omitempty"`
	AxisAlignment     *types.AxisAlignment     `json:"axis_alignment,omitempty"`
	FullReport        string                   `json:"full_report"`
}

// ClusterNaming is the optional enrichment output for one cluster.
type ClusterNaming struct {
	ClusterKey int    `json:"cluster_key"`
	Label      string `json:"label"`
	Summary    string `json:"summary"`
}

// NarrativeAnalyst is the LLM collaborator behind the analyst stage.
type NarrativeAnalyst interface {
	Analyze(ctx context.Context, req AnalystRequest) (*AnalystResponse, error)
	NameClusters(ctx context.Context, req AnalystRequest) ([]ClusterNaming, error)
}

type httpAnalyst struct {
	client *jsonClient
}

func NewHTTPAnalyst(baseLog *logger.Logger) (NarrativeAnalyst, error) {
	log := baseLog.With("service", "NarrativeAnalyst")
	baseURL := strings.TrimRight(utils.GetEnv("ANALYST_BASE_URL", "http://localhost:8092", log), "/")
	apiKey := utils.GetEnv("ANALYST_API_KEY", "", log)
	timeoutSec := utils.GetEnvAsInt("ANALYST_TIMEOUT_SECONDS", 300, log)
	maxRetries := utils.GetEnvAsInt("ANALYST_MAX_RETRIES", 2, log)

	headers := map[string]string{}
	if apiKey != "" {
		headers["Authorization"] = "Bearer " + apiKey
	}
	return &httpAnalyst{
		client: &jsonClient{
			name:       "analyst",
			baseURL:    baseURL,
			headers:    headers,
			httpClient: &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
			maxRetries: maxRetries,
			log:        log,
		},
	}, nil
}

func (c *httpAnalyst) Analyze(ctx context.Context, req AnalystRequest) (*AnalystResponse, error) {
	var out AnalystResponse
	if err := c.client.do(ctx, "/analyze", req, &out); err != nil {
		return nil, err
	}
	if out.FullReport == "" && len(out.Battlefield) == 0 {
		return nil, fmt.Errorf("analyst returned an empty document")
	}
	return &out, nil
}

func (c *httpAnalyst) NameClusters(ctx context.Context, req AnalystRequest) ([]ClusterNaming, error) {
	var out struct {
		Clusters []ClusterNaming `json:"clusters"`
	}
	if err := c.client.do(ctx, "/name-clusters", req, &out); err != nil {
		return nil, err
	}
	return out.Clusters, nil
}

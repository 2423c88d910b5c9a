package services

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/threadscope/threadscope-backend/internal/analysis/identity"
	"github.com/threadscope/threadscope-backend/internal/logger"
	"github.com/threadscope/threadscope-backend/internal/utils"
)

// ClusterRequest carries the cleaned thread content and the full
// parameter set to the clustering sidecar. The same params feed the
// dedup key, so what ran is exactly what was hashed.
type ClusterRequest struct {
	PostText string                  `json:"post_text"`
	Comments []identity.CommentInput `json:"comments"`
	Params   identity.BackendParams  `json:"params"`
}

// ClusterOutput is the backend's verdict: one key per comment (noise
// included as -1), centroids per substantive cluster, and optional
// descriptive keywords.
type ClusterOutput struct {
	Assignments map[string]int       `json:"assignments"`
	Centroids   map[int][]float64    `json:"centroids"`
	Keywords    map[int][]string     `json:"keywords,omitempty"`
}

// ClusterBackend is the quantitative clustering collaborator. The
// embedding and clustering math live behind this boundary; this side
// only audits, persists, and measures what comes back.
type ClusterBackend interface {
	Cluster(ctx context.Context, req ClusterRequest) (*ClusterOutput, error)
}

type httpClusterBackend struct {
	client *jsonClient
}

func NewHTTPClusterBackend(baseLog *logger.Logger) (ClusterBackend, error) {
	log := baseLog.With("service", "ClusterBackend")
	baseURL := strings.TrimRight(utils.GetEnv("CLUSTER_BACKEND_URL", "http://localhost:8091", log), "/")
	timeoutSec := utils.GetEnvAsInt("CLUSTER_BACKEND_TIMEOUT_SECONDS", 300, log)
	maxRetries := utils.GetEnvAsInt("CLUSTER_BACKEND_MAX_RETRIES", 2, log)
	return &httpClusterBackend{
		client: &jsonClient{
			name:       "cluster-backend",
			baseURL:    baseURL,
			httpClient: &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
			maxRetries: maxRetries,
			log:        log,
		},
	}, nil
}

func (c *httpClusterBackend) Cluster(ctx context.Context, req ClusterRequest) (*ClusterOutput, error) {
	var out ClusterOutput
	if err := c.client.do(ctx, "/cluster", req, &out); err != nil {
		return nil, err
	}
	if out.Assignments == nil {
		return nil, fmt.Errorf("cluster backend returned no assignments")
	}
	return &out, nil
}

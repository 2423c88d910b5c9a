package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/threadscope/threadscope-backend/internal/logger"
	"github.com/threadscope/threadscope-backend/internal/utils"
)

// PipelineConfig is resolved once at startup and passed around by
// value. Nothing mutates it after Load returns; a config change means
// a restart, so every run can be traced to one parameter set.
type PipelineConfig struct {
	AssignmentWriteMode   string  `yaml:"assignment_write_mode"`
	AssignmentCoverageMin float64 `yaml:"assignment_coverage_min"`
	AssignmentStrict      bool    `yaml:"assignment_strict"`
	ForceReassign         bool    `yaml:"force_reassign"`

	ClusteringBackend string `yaml:"clustering_backend"`
	EmbeddingModel    string `yaml:"embedding_model"`
	ClusteringSeed    int64  `yaml:"clustering_seed"`
	MinClusterSize    int    `yaml:"min_cluster_size"`

	NamingEnrichmentEnabled bool   `yaml:"naming_enrichment_enabled"`
	NamingWritebackMode     string `yaml:"naming_writeback_mode"`

	EvidenceSampleSize int `yaml:"evidence_sample_size"`
	EvidenceSampleMax  int `yaml:"evidence_sample_max"`

	WorkerConcurrency  int `yaml:"worker_concurrency"`
	JobLeaseSeconds    int `yaml:"job_lease_seconds"`
	JobMaxAttempts     int `yaml:"job_max_attempts"`
	StageRetryAttempts int `yaml:"stage_retry_attempts"`
}

func defaults() PipelineConfig {
	return PipelineConfig{
		AssignmentWriteMode:   "fill_nulls",
		AssignmentCoverageMin: 0.95,
		AssignmentStrict:      true,
		ForceReassign:         false,

		ClusteringBackend: "hdbscan",
		EmbeddingModel:    "text-embedding-3-small",
		ClusteringSeed:    42,
		MinClusterSize:    3,

		NamingEnrichmentEnabled: false,
		NamingWritebackMode:     "staging",

		EvidenceSampleSize: 5,
		EvidenceSampleMax:  12,

		WorkerConcurrency:  4,
		JobLeaseSeconds:    900,
		JobMaxAttempts:     3,
		StageRetryAttempts: 3,
	}
}

// Load builds the config: defaults, then the optional YAML file named
// by PIPELINE_CONFIG_YAML, then env overrides on top.
func Load(log *logger.Logger) (PipelineConfig, error) {
	cfg := defaults()

	if path := os.Getenv("PIPELINE_CONFIG_YAML"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read pipeline config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse pipeline config %s: %w", path, err)
		}
		log.Info("pipeline config file loaded", "path", path)
	}

	cfg.AssignmentWriteMode = utils.GetEnv("ASSIGNMENT_WRITE_MODE", cfg.AssignmentWriteMode, log)
	cfg.AssignmentCoverageMin = utils.GetEnvAsFloat("ASSIGNMENT_COVERAGE_MIN", cfg.AssignmentCoverageMin, log)
	cfg.AssignmentStrict = utils.GetEnvAsBool("ASSIGNMENT_STRICT", cfg.AssignmentStrict, log)
	cfg.ForceReassign = utils.GetEnvAsBool("FORCE_REASSIGN", cfg.ForceReassign, log)

	cfg.ClusteringBackend = utils.GetEnv("CLUSTERING_BACKEND", cfg.ClusteringBackend, log)
	cfg.EmbeddingModel = utils.GetEnv("EMBEDDING_MODEL", cfg.EmbeddingModel, log)
	cfg.ClusteringSeed = int64(utils.GetEnvAsInt("CLUSTERING_SEED", int(cfg.ClusteringSeed), log))
	cfg.MinClusterSize = utils.GetEnvAsInt("MIN_CLUSTER_SIZE", cfg.MinClusterSize, log)

	cfg.NamingEnrichmentEnabled = utils.GetEnvAsBool("NAMING_ENRICHMENT_ENABLED", cfg.NamingEnrichmentEnabled, log)
	cfg.NamingWritebackMode = utils.GetEnv("NAMING_WRITEBACK_MODE", cfg.NamingWritebackMode, log)

	cfg.EvidenceSampleSize = utils.GetEnvAsInt("EVIDENCE_SAMPLE_SIZE", cfg.EvidenceSampleSize, log)
	cfg.EvidenceSampleMax = utils.GetEnvAsInt("EVIDENCE_SAMPLE_MAX", cfg.EvidenceSampleMax, log)

	cfg.WorkerConcurrency = utils.GetEnvAsInt("WORKER_CONCURRENCY", cfg.WorkerConcurrency, log)
	cfg.JobLeaseSeconds = utils.GetEnvAsInt("JOB_LEASE_SECONDS", cfg.JobLeaseSeconds, log)
	cfg.JobMaxAttempts = utils.GetEnvAsInt("JOB_MAX_ATTEMPTS", cfg.JobMaxAttempts, log)
	cfg.StageRetryAttempts = utils.GetEnvAsInt("STAGE_RETRY_ATTEMPTS", cfg.StageRetryAttempts, log)

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c PipelineConfig) validate() error {
	switch c.AssignmentWriteMode {
	case "fill_nulls", "overwrite":
	default:
		return fmt.Errorf("invalid ASSIGNMENT_WRITE_MODE %q", c.AssignmentWriteMode)
	}
	switch c.NamingWritebackMode {
	case "staging", "promote":
	default:
		return fmt.Errorf("invalid NAMING_WRITEBACK_MODE %q", c.NamingWritebackMode)
	}
	if c.AssignmentCoverageMin < 0 || c.AssignmentCoverageMin > 1 {
		return fmt.Errorf("ASSIGNMENT_COVERAGE_MIN out of [0,1]: %f", c.AssignmentCoverageMin)
	}
	if c.WorkerConcurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY must be positive")
	}
	if c.JobMaxAttempts < 1 || c.StageRetryAttempts < 1 {
		return fmt.Errorf("attempt bounds must be positive")
	}
	return nil
}

func (c PipelineConfig) JobLease() time.Duration {
	return time.Duration(c.JobLeaseSeconds) * time.Second
}

package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	RunHealthNovel  = "novel"
	RunHealthRepeat = "repeat"
)

// QuantRun is the append-only audit row for one quantitative clustering
// run. Rows are never updated after insert; reruns with the same dedup
// key are additional rows, kept for drift and determinism checks.
type QuantRun struct {
	ID                        uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	PostID                    uuid.UUID      `gorm:"type:uuid;column:post_id;not null;index" json:"post_id"`
	CanonicalTextHash         string         `gorm:"column:canonical_text_hash;not null;index:idx_dedup_key" json:"canonical_text_hash"`
	BackendParamsHash         string         `gorm:"column:backend_params_hash;not null;index:idx_dedup_key" json:"backend_params_hash"`
	Seed                      int64          `gorm:"column:seed;not null" json:"seed"`
	BackendParams             datatypes.JSON `gorm:"column:backend_params;type:jsonb" json:"backend_params"`
	Health                    string         `gorm:"column:health;not null" json:"health"`
	CentroidHash              string         `gorm:"column:centroid_hash" json:"centroid_hash"`
	EmbeddingPreprocessVersion string        `gorm:"column:embedding_preprocess_version" json:"embedding_preprocess_version"`
	CanonicalEmbedTextHash    string         `gorm:"column:canonical_embed_text_hash" json:"canonical_embed_text_hash"`
	CreatedAt                 time.Time      `gorm:"not null;default:now();index" json:"created_at"`
}

func (QuantRun) TableName() string { return "quant_runs" }

type QuantClusterSnapshot struct {
	ID           uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	RunID        uuid.UUID `gorm:"type:uuid;column:run_id;not null;index" json:"run_id"`
	PostID       uuid.UUID `gorm:"type:uuid;column:post_id;not null;index" json:"post_id"`
	ClusterKey   int       `gorm:"column:cluster_key;not null" json:"cluster_key"`
	Size         int       `gorm:"column:size;not null" json:"size"`
	LikeSum      int       `gorm:"column:like_sum;not null" json:"like_sum"`
	CentroidHash string    `gorm:"column:centroid_hash" json:"centroid_hash"`
	CreatedAt    time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (QuantClusterSnapshot) TableName() string { return "quant_cluster_snapshots" }

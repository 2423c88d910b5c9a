package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// NoiseClusterKey is the reserved key for comments that belong to no
// substantive cluster.
const NoiseClusterKey = -1

type CommentCluster struct {
	ID         uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	PostID     uuid.UUID `gorm:"type:uuid;column:post_id;not null;index:idx_post_cluster,unique" json:"post_id"`
	ClusterKey int       `gorm:"column:cluster_key;not null;index:idx_post_cluster,unique" json:"cluster_key"`
	Label      string    `gorm:"column:label" json:"label"`
	Summary    string    `gorm:"column:summary" json:"summary"`
	// Draft columns hold staging-mode naming enrichment output until it
	// is promoted into label/summary.
	LabelDraft    string         `gorm:"column:label_draft" json:"label_draft,omitempty"`
	SummaryDraft  string         `gorm:"column:summary_draft" json:"summary_draft,omitempty"`
	Size          int            `gorm:"column:size;not null;default:0" json:"size"`
	Keywords      datatypes.JSON `gorm:"column:keywords;type:jsonb" json:"keywords,omitempty"`
	TopCommentIDs datatypes.JSON `gorm:"column:top_comment_ids;type:jsonb" json:"top_comment_ids,omitempty"`
	// Centroid is required whenever Size >= 2; its absence after a write
	// is a fatal persistence condition.
	Centroid  datatypes.JSON `gorm:"column:centroid;type:jsonb" json:"centroid,omitempty"`
	Tactics   datatypes.JSON `gorm:"column:tactics;type:jsonb" json:"tactics"`
	CreatedAt time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (CommentCluster) TableName() string { return "comment_clusters" }

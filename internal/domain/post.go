package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type ThreadPost struct {
	ID            uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	URL           string         `gorm:"column:url;not null;uniqueIndex" json:"url"`
	Author        string         `gorm:"column:author" json:"author,omitempty"`
	PostText      string         `gorm:"column:post_text" json:"post_text,omitempty"`
	PostTextRaw   string         `gorm:"column:post_text_raw" json:"post_text_raw,omitempty"`
	LikeCount     int            `gorm:"column:like_count;not null;default:0" json:"like_count"`
	ViewCount     int            `gorm:"column:view_count;not null;default:0" json:"view_count"`
	ReplyCount    int            `gorm:"column:reply_count;not null;default:0" json:"reply_count"`
	RepostCount   int            `gorm:"column:repost_count;not null;default:0" json:"repost_count"`
	ShareCount    int            `gorm:"column:share_count;not null;default:0" json:"share_count"`
	Images        datatypes.JSON `gorm:"column:images;type:jsonb" json:"images,omitempty"`
	SnapshotPaths datatypes.JSON `gorm:"column:snapshot_paths;type:jsonb" json:"snapshot_paths,omitempty"`
	PhenomenonID  *uuid.UUID     `gorm:"type:uuid;column:phenomenon_id;index" json:"phenomenon_id,omitempty"`

	// Analysis artifact. A nil AnalysisResult means the store stage has
	// never completed for this post; job items cannot complete against it.
	AnalysisResult        datatypes.JSON `gorm:"column:analysis_result;type:jsonb" json:"analysis_result,omitempty"`
	AnalysisIsValid       *bool          `gorm:"column:analysis_is_valid" json:"analysis_is_valid,omitempty"`
	AnalysisInvalidReason string         `gorm:"column:analysis_invalid_reason" json:"analysis_invalid_reason,omitempty"`
	AnalysisMissingKeys   datatypes.JSON `gorm:"column:analysis_missing_keys;type:jsonb" json:"analysis_missing_keys,omitempty"`
	AnalysisVersion       string         `gorm:"column:analysis_version" json:"analysis_version,omitempty"`
	AnalysisBuildID       string         `gorm:"column:analysis_build_id" json:"analysis_build_id,omitempty"`

	CapturedAt *time.Time `gorm:"column:captured_at" json:"captured_at,omitempty"`
	CreatedAt  time.Time  `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt  time.Time  `gorm:"not null;default:now()" json:"updated_at"`
}

func (ThreadPost) TableName() string { return "threads_posts" }

type ThreadComment struct {
	ID           string     `gorm:"column:id;primaryKey" json:"id"`
	PostID       uuid.UUID  `gorm:"type:uuid;column:post_id;not null;index" json:"post_id"`
	Text         string     `gorm:"column:text" json:"text"`
	AuthorHandle string     `gorm:"column:author_handle" json:"author_handle,omitempty"`
	LikeCount    int        `gorm:"column:like_count;not null;default:0" json:"like_count"`
	ReplyCount   int        `gorm:"column:reply_count;not null;default:0" json:"reply_count"`
	// ClusterKey is nil until clustering assigns it; -1 marks noise.
	ClusterKey *int       `gorm:"column:cluster_key;index" json:"cluster_key,omitempty"`
	CreatedAt  *time.Time `gorm:"column:created_at" json:"created_at,omitempty"`
	CapturedAt *time.Time `gorm:"column:captured_at" json:"captured_at,omitempty"`
}

func (ThreadComment) TableName() string { return "threads_comments" }

type CommentEdge struct {
	ID              uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	PostID          uuid.UUID `gorm:"type:uuid;column:post_id;not null;index:idx_comment_edge,unique" json:"post_id"`
	ParentCommentID string    `gorm:"column:parent_comment_id;not null;index:idx_comment_edge,unique" json:"parent_comment_id"`
	ChildCommentID  string    `gorm:"column:child_comment_id;not null;index:idx_comment_edge,unique" json:"child_comment_id"`
	EdgeType        string    `gorm:"column:edge_type;not null;default:reply;index:idx_comment_edge,unique" json:"edge_type"`
	CreatedAt       time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (CommentEdge) TableName() string { return "threads_comment_edges" }

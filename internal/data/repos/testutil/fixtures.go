package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	types "github.com/threadscope/threadscope-backend/internal/domain"
)

func SeedPost(tb testing.TB, ctx context.Context, tx *gorm.DB, url string) *types.ThreadPost {
	tb.Helper()
	now := time.Now().UTC()
	p := &types.ThreadPost{
		ID:         uuid.New(),
		URL:        url,
		Author:     "handle",
		PostText:   "post text",
		CapturedAt: &now,
	}
	if err := tx.WithContext(ctx).Create(p).Error; err != nil {
		tb.Fatalf("seed post: %v", err)
	}
	return p
}

func SeedComments(tb testing.TB, ctx context.Context, tx *gorm.DB, postID uuid.UUID, n int) []types.ThreadComment {
	tb.Helper()
	out := make([]types.ThreadComment, 0, n)
	for i := 0; i < n; i++ {
		c := types.ThreadComment{
			ID:        fmt.Sprintf("36241%05d", i),
			PostID:    postID,
			Text:      fmt.Sprintf("comment %d", i),
			LikeCount: i,
		}
		if err := tx.WithContext(ctx).Create(&c).Error; err != nil {
			tb.Fatalf("seed comment: %v", err)
		}
		out = append(out, c)
	}
	return out
}

func SeedBatch(tb testing.TB, ctx context.Context, tx *gorm.DB) *types.JobBatch {
	tb.Helper()
	b := &types.JobBatch{ID: uuid.New(), Status: types.JobStatusQueued}
	if err := tx.WithContext(ctx).Create(b).Error; err != nil {
		tb.Fatalf("seed batch: %v", err)
	}
	return b
}

func SeedItem(tb testing.TB, ctx context.Context, tx *gorm.DB, jobID uuid.UUID, url string) *types.JobItem {
	tb.Helper()
	it := &types.JobItem{
		ID:      uuid.New(),
		JobID:   jobID,
		PostURL: url,
		Stage:   types.StageInit,
		Status:  types.ItemStatusPending,
	}
	if err := tx.WithContext(ctx).Create(it).Error; err != nil {
		tb.Fatalf("seed item: %v", err)
	}
	return it
}

func MarkAnalyzed(tb testing.TB, ctx context.Context, tx *gorm.DB, postID uuid.UUID) {
	tb.Helper()
	err := tx.WithContext(ctx).
		Model(&types.ThreadPost{}).
		Where("id = ?", postID).
		Update("analysis_result", datatypes.JSON([]byte(`{"full_report":"r"}`))).Error
	if err != nil {
		tb.Fatalf("mark analyzed: %v", err)
	}
}

func PtrInt(v int) *int { return &v }

func PtrTime(v time.Time) *time.Time { return &v }

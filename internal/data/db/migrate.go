package db

import (
	"gorm.io/gorm"

	types "github.com/threadscope/threadscope-backend/internal/domain"
)

func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(
		&types.ThreadPost{},
		&types.ThreadComment{},
		&types.CommentEdge{},
		&types.CommentCluster{},
		&types.JobBatch{},
		&types.JobItem{},
		&types.QuantRun{},
		&types.QuantClusterSnapshot{},
	)
}

func (s *PostgresService) AutoMigrateAll() error {
	return AutoMigrateAll(s.db)
}

package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// checkpointDO is the storage-layer row for one checkpoint
type checkpointDO struct {
	ContainerKey string `gorm:"primaryKey"`
	BlobPath     string `gorm:"primaryKey"`
	Etag         string `gorm:"not null"`
	Size         int64  `gorm:"not null"`
	ProcessedAt  time.Time
}

func (checkpointDO) TableName() string { return "checkpoints" }

// SQLiteStore persists checkpoints in a local sqlite database. Suited to
// single-node deployments where Table Storage is unavailable; the db file
// can be inspected directly when debugging.
type SQLiteStore struct {
	db *gorm.DB
}

// NewSQLiteStore opens (or creates) the checkpoint database at path
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		SkipDefaultTransaction: true,
		PrepareStmt:            true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint database %s: %w", path, err)
	}

	if err := db.AutoMigrate(&checkpointDO{}); err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			sqlDB.Close()
		}
		return nil, fmt.Errorf("failed to migrate checkpoint schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, containerKey, blobPath string) (*Checkpoint, error) {
	var do checkpointDO
	result := s.db.WithContext(ctx).
		First(&do, "container_key = ? AND blob_path = ?", containerKey, blobPath)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read checkpoint for %s/%s: %w", containerKey, blobPath, result.Error)
	}

	return &Checkpoint{
		ETag:        do.Etag,
		Size:        do.Size,
		ProcessedAt: do.ProcessedAt,
	}, nil
}

func (s *SQLiteStore) Put(ctx context.Context, containerKey, blobPath string, cp Checkpoint) error {
	do := checkpointDO{
		ContainerKey: containerKey,
		BlobPath:     blobPath,
		Etag:         cp.ETag,
		Size:         cp.Size,
		ProcessedAt:  cp.ProcessedAt,
	}

	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "container_key"}, {Name: "blob_path"}},
		DoUpdates: clause.AssignmentColumns([]string{"etag", "size", "processed_at"}),
	}).Create(&do)
	if result.Error != nil {
		return fmt.Errorf("failed to write checkpoint for %s/%s: %w", containerKey, blobPath, result.Error)
	}
	return nil
}

// Close releases the underlying database handle
func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

package repository

import (
	"fmt"

	"QShareFM/model"

	"gorm.io/gorm"
)

// PlayHistoryRepository 播放历史的持久化接口
type PlayHistoryRepository interface {
	Create(record *model.PlayHistory) error
	Recent(limit int) ([]model.PlayHistory, error)
	CountByBackend(backend string) (int64, error)
}

// gormPlayHistoryRepository 基于 GORM 的播放历史仓库
type gormPlayHistoryRepository struct {
	db *gorm.DB
}

// NewGormPlayHistoryRepository 创建播放历史仓库
func NewGormPlayHistoryRepository(db *gorm.DB) PlayHistoryRepository {
	return &gormPlayHistoryRepository{db: db}
}

// Create 写入一条播放历史
func (r *gormPlayHistoryRepository) Create(record *model.PlayHistory) error {
	if err := r.db.Create(record).Error; err != nil {
		return fmt.Errorf("failed to create play history: %w", err)
	}
	return nil
}

// Recent 返回最近的播放历史，按播放时间倒序
func (r *gormPlayHistoryRepository) Recent(limit int) ([]model.PlayHistory, error) {
	if limit <= 0 {
		limit = 50
	}

	var records []model.PlayHistory
	err := r.db.Order("played_at DESC").Limit(limit).Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query play history: %w", err)
	}
	return records, nil
}

// CountByBackend 统计某个后端的播放次数
func (r *gormPlayHistoryRepository) CountByBackend(backend string) (int64, error) {
	var count int64
	err := r.db.Model(&model.PlayHistory{}).Where("backend = ?", backend).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count play history: %w", err)
	}
	return count, nil
}

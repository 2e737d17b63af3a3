package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/BaSui01/campaignflow/workflow"
)

// =============================================================================
// 🗄️ SQL Checkpoint Store (GORM)
// =============================================================================

// checkpointRecord workflow_checkpoints 表行；state 列保存完整 JSON 快照
type checkpointRecord struct {
	ID          string    `gorm:"primaryKey;size:64"`
	GraphID     string    `gorm:"size:128;not null;index"`
	Status      string    `gorm:"size:32;not null;index"`
	CurrentNode string    `gorm:"size:128"`
	Version     int64     `gorm:"not null"`
	State       string    `gorm:"type:text;not null"`
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}

// TableName 与 internal/migration 中的表名一致
func (checkpointRecord) TableName() string { return "workflow_checkpoints" }

// GormStore 基于 GORM 的快照存储（postgres / mysql / sqlite）
type GormStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewGormStore 创建 SQL 快照存储；表结构由迁移创建，开发环境可调用 AutoMigrate
func NewGormStore(db *gorm.DB, logger *zap.Logger) *GormStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GormStore{db: db, logger: logger.With(zap.String("store", "sql_checkpoint"))}
}

// AutoMigrate 按模型建表
func (s *GormStore) AutoMigrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&checkpointRecord{})
}

// Save upsert 快照
func (s *GormStore) Save(ctx context.Context, id string, state *workflow.WorkflowState) error {
	if state == nil {
		return fmt.Errorf("save checkpoint %s: state is nil", id)
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal checkpoint %s: %w", id, err)
	}

	rec := checkpointRecord{
		ID:          id,
		GraphID:     state.GraphID,
		Status:      string(state.Status),
		CurrentNode: state.CurrentNode,
		Version:     state.Version,
		State:       string(data),
		CreatedAt:   state.CreatedAt,
		UpdatedAt:   state.UpdatedAt,
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"graph_id", "status", "current_node", "version", "state", "updated_at"}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("save checkpoint %s: %w", id, err)
	}

	s.logger.Debug("checkpoint saved",
		zap.String("workflow_id", id),
		zap.String("status", rec.Status),
		zap.Int64("version", rec.Version))
	return nil
}

// Load 读取快照
func (s *GormStore) Load(ctx context.Context, id string) (*workflow.WorkflowState, error) {
	var rec checkpointRecord
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("checkpoint %s: %w", id, workflow.ErrCheckpointNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint %s: %w", id, err)
	}
	return decodeRecord(rec)
}

// List 按状态过滤，按创建时间升序
func (s *GormStore) List(ctx context.Context, statuses ...workflow.Status) ([]*workflow.WorkflowState, error) {
	q := s.db.WithContext(ctx).Order("created_at ASC").Order("id ASC")
	if len(statuses) > 0 {
		names := make([]string, len(statuses))
		for i, st := range statuses {
			names[i] = string(st)
		}
		q = q.Where("status IN ?", names)
	}

	var recs []checkpointRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}

	out := make([]*workflow.WorkflowState, 0, len(recs))
	for _, rec := range recs {
		st, err := decodeRecord(rec)
		if err != nil {
			s.logger.Warn("skip unreadable checkpoint", zap.String("workflow_id", rec.ID), zap.Error(err))
			continue
		}
		out = append(out, st)
	}
	return out, nil
}

// Delete 删除快照
func (s *GormStore) Delete(ctx context.Context, id string) error {
	if err := s.db.WithContext(ctx).Delete(&checkpointRecord{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("delete checkpoint %s: %w", id, err)
	}
	return nil
}

func decodeRecord(rec checkpointRecord) (*workflow.WorkflowState, error) {
	var st workflow.WorkflowState
	if err := json.Unmarshal([]byte(rec.State), &st); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", rec.ID, err)
	}
	return &st, nil
}

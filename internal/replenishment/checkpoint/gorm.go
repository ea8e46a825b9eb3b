package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"backend/internal/metrics"
	"backend/internal/replenishment"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CheckpointRow 检查点持久化记录
type CheckpointRow struct {
	ThreadID  string         `gorm:"primaryKey;size:100"`
	Stage     string         `gorm:"size:50;not null"`
	State     datatypes.JSON `gorm:"type:jsonb;not null"`
	UpdatedAt time.Time      `gorm:"not null;autoUpdateTime"`
}

func (CheckpointRow) TableName() string {
	return "workflow_checkpoints"
}

// GormStore 数据库检查点存储（生产默认）。
// 以 threadID 为主键做 UPSERT，天然满足原子的最后写入生效语义。
type GormStore struct {
	db *gorm.DB
}

// NewGormStore 创建数据库检查点存储
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// AutoMigrate 迁移检查点表
func (s *GormStore) AutoMigrate() error {
	return s.db.AutoMigrate(&CheckpointRow{})
}

// Save 保存快照（UPSERT，最后写入生效）
func (s *GormStore) Save(ctx context.Context, threadID, stageName string, state *replenishment.WorkflowState) error {
	data, err := json.Marshal(state)
	if err != nil {
		metrics.CheckpointOpsTotal.WithLabelValues("database", "save", "error").Inc()
		return fmt.Errorf("序列化检查点失败: %w", err)
	}

	row := CheckpointRow{
		ThreadID: threadID,
		Stage:    stageName,
		State:    datatypes.JSON(data),
	}

	if err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "thread_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"stage", "state", "updated_at"}),
		}).
		Create(&row).Error; err != nil {
		metrics.CheckpointOpsTotal.WithLabelValues("database", "save", "error").Inc()
		return fmt.Errorf("保存检查点失败: %w", err)
	}

	metrics.CheckpointOpsTotal.WithLabelValues("database", "save", "ok").Inc()
	return nil
}

// Load 读取最近一次快照
func (s *GormStore) Load(ctx context.Context, threadID string) (*replenishment.WorkflowState, string, error) {
	var row CheckpointRow
	if err := s.db.WithContext(ctx).
		Where("thread_id = ?", threadID).
		First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, "", ErrNotFound
		}
		metrics.CheckpointOpsTotal.WithLabelValues("database", "load", "error").Inc()
		return nil, "", fmt.Errorf("查询检查点失败: %w", err)
	}

	var state replenishment.WorkflowState
	if err := json.Unmarshal(row.State, &state); err != nil {
		metrics.CheckpointOpsTotal.WithLabelValues("database", "load", "error").Inc()
		return nil, "", fmt.Errorf("解析检查点失败: %w", err)
	}

	metrics.CheckpointOpsTotal.WithLabelValues("database", "load", "ok").Inc()
	return &state, row.Stage, nil
}

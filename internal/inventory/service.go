package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// StockLevel SKU 当前库存记录
type StockLevel struct {
	SKUID          string    `json:"skuId" gorm:"primaryKey;type:uuid"`
	SKU            string    `json:"sku" gorm:"size:100;not null;index"`
	QuantityOnHand int       `json:"quantityOnHand" gorm:"not null"`
	UpdatedAt      time.Time `json:"updatedAt" gorm:"not null;autoUpdateTime"`
}

func (StockLevel) TableName() string {
	return "stock_levels"
}

// Service 库存查询服务
type Service struct {
	db *gorm.DB
}

// NewService 创建库存服务
func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// GetCurrentInventory 查询 SKU 当前在手库存
func (s *Service) GetCurrentInventory(ctx context.Context, skuID string) (int, error) {
	var level StockLevel
	if err := s.db.WithContext(ctx).
		Where("sku_id = ?", skuID).
		First(&level).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, fmt.Errorf("SKU 库存记录不存在: %s", skuID)
		}
		return 0, fmt.Errorf("查询库存失败: %w", err)
	}
	return level.QuantityOnHand, nil
}

// SetInventory 写入 SKU 库存（测试与数据导入使用）
func (s *Service) SetInventory(ctx context.Context, skuID, sku string, quantity int) error {
	level := StockLevel{SKUID: skuID, SKU: sku, QuantityOnHand: quantity}
	if err := s.db.WithContext(ctx).Save(&level).Error; err != nil {
		return fmt.Errorf("写入库存失败: %w", err)
	}
	return nil
}

package suppliers

import (
	"context"
	"fmt"
	"time"

	"backend/internal/replenishment"

	"gorm.io/gorm"
)

// VendorRecord 供应商目录条目（一个 SKU 可有多个候选供应商）
type VendorRecord struct {
	ID    string `json:"id" gorm:"primaryKey;type:uuid"`
	SKUID string `json:"skuId" gorm:"type:uuid;not null;index"`

	Name             string  `json:"name" gorm:"size:255;not null"`
	UnitPrice        float64 `json:"unitPrice" gorm:"not null"`
	LeadTimeDays     int     `json:"leadTimeDays" gorm:"not null"`
	MinOrderQty      int     `json:"minOrderQty" gorm:"not null;default:0"`
	ReliabilityScore float64 `json:"reliabilityScore" gorm:"not null;default:0"`
	IsActive         bool    `json:"isActive" gorm:"not null;default:true"`

	CreatedAt time.Time `json:"createdAt" gorm:"not null;autoCreateTime"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"not null;autoUpdateTime"`
}

func (VendorRecord) TableName() string {
	return "vendor_records"
}

// Service 供应商目录服务
type Service struct {
	db *gorm.DB
}

// NewService 创建供应商服务
func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// GetVendorsForSKU 查询 SKU 的候选供应商
func (s *Service) GetVendorsForSKU(ctx context.Context, skuID string) ([]replenishment.Vendor, error) {
	var records []VendorRecord
	if err := s.db.WithContext(ctx).
		Where("sku_id = ? AND is_active = ?", skuID, true).
		Order("unit_price ASC").
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("查询供应商失败: %w", err)
	}

	vendors := make([]replenishment.Vendor, 0, len(records))
	for _, r := range records {
		vendors = append(vendors, replenishment.Vendor{
			ID:               r.ID,
			Name:             r.Name,
			UnitPrice:        r.UnitPrice,
			LeadTimeDays:     r.LeadTimeDays,
			MinOrderQty:      r.MinOrderQty,
			ReliabilityScore: r.ReliabilityScore,
		})
	}
	return vendors, nil
}

package forecast

import (
	"fmt"
	"time"

	"backend/internal/replenishment"
)

// Series 预测结果：预测点序列 + 模型误差
type Series struct {
	Points []replenishment.ForecastPoint `json:"points"`
	// MAPE 平均绝对百分比误差，取值 [0, +inf)，用于推导置信度
	MAPE float64 `json:"mape"`
}

// InsufficientDataError 历史数据不足，属于可恢复错误：
// 流水线以降级的低置信度继续，而不是失败终止。
type InsufficientDataError struct {
	AvailableDays int
	RequiredDays  int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("历史销售数据不足: 现有 %d 天, 需要 %d 天", e.AvailableDays, e.RequiredDays)
}

// SalesRecord 日销售历史记录
type SalesRecord struct {
	ID       uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	SKUID    string    `json:"skuId" gorm:"column:sku_id;type:uuid;not null;index:idx_sales_sku_date"`
	Date     time.Time `json:"date" gorm:"not null;index:idx_sales_sku_date"`
	Quantity int       `json:"quantity" gorm:"not null"`

	CreatedAt time.Time `json:"createdAt" gorm:"not null;autoCreateTime"`
}

func (SalesRecord) TableName() string {
	return "sales_records"
}

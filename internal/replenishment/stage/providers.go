package stage

import (
	"context"

	"backend/internal/forecast"
	"backend/internal/replenishment"
)

// ForecastProvider 需求预测协作方
// 历史不足时返回 *forecast.InsufficientDataError。
type ForecastProvider interface {
	GetForecast(ctx context.Context, skuID string) (*forecast.Series, error)
}

// InventoryProvider 库存协作方
type InventoryProvider interface {
	GetCurrentInventory(ctx context.Context, skuID string) (int, error)
}

// VendorProvider 供应商目录协作方
type VendorProvider interface {
	GetVendorsForSKU(ctx context.Context, skuID string) ([]replenishment.Vendor, error)
}

package forecast

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"backend/internal/logger"
	"backend/internal/replenishment"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	// 预测视野（周）
	horizonWeeks = 12
	// 滑动平均窗口（周）
	windowWeeks = 13
	// MAPE 回测窗口（周）
	backtestWeeks = 8
	// 置信区间分位系数（约 80% 区间）
	intervalZ = 1.28
)

// Service 基于日销售历史的需求预测服务。
// 按周聚合后做滑动平均预测，并用回测 MAPE 衡量模型误差。
type Service struct {
	db           *gorm.DB
	requiredDays int
	logger       *zap.Logger
}

// NewService 创建预测服务
// requiredDays: 预测所需最少历史天数
func NewService(db *gorm.DB, requiredDays int) *Service {
	return &Service{
		db:           db,
		requiredDays: requiredDays,
		logger:       logger.Get(),
	}
}

// GetForecast 生成 SKU 的周需求预测
// 历史不足时返回 *InsufficientDataError，调用方据此降级而非终止。
func (s *Service) GetForecast(ctx context.Context, skuID string) (*Series, error) {
	var records []SalesRecord
	if err := s.db.WithContext(ctx).
		Where("sku_id = ?", skuID).
		Order("date ASC").
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("查询销售历史失败: %w", err)
	}

	availableDays := countDistinctDays(records)
	if availableDays < s.requiredDays {
		return nil, &InsufficientDataError{
			AvailableDays: availableDays,
			RequiredDays:  s.requiredDays,
		}
	}

	weekly := aggregateWeekly(records)
	if len(weekly) < windowWeeks+backtestWeeks {
		// 天数够但按周聚合后样本仍不足，同样走降级路径
		return nil, &InsufficientDataError{
			AvailableDays: availableDays,
			RequiredDays:  s.requiredDays,
		}
	}

	mean, std := meanStd(lastN(weekly, windowWeeks))
	mape := backtestMAPE(weekly)

	points := make([]replenishment.ForecastPoint, 0, horizonWeeks)
	start := mondayAfter(records[len(records)-1].Date)
	for week := 1; week <= horizonWeeks; week++ {
		lower := math.Max(0, mean-intervalZ*std)
		points = append(points, replenishment.ForecastPoint{
			Week:          week,
			Date:          start.AddDate(0, 0, (week-1)*7),
			PointEstimate: round2(mean),
			LowerBound:    round2(lower),
			UpperBound:    round2(mean + intervalZ*std),
		})
	}

	s.logger.Debug("需求预测完成",
		zap.String("sku_id", skuID),
		zap.Int("weeks", len(weekly)),
		zap.Float64("mape", mape),
	)

	return &Series{Points: points, MAPE: mape}, nil
}

// countDistinctDays 统计去重后的历史天数
func countDistinctDays(records []SalesRecord) int {
	days := make(map[string]struct{}, len(records))
	for _, r := range records {
		days[r.Date.Format("2006-01-02")] = struct{}{}
	}
	return len(days)
}

// aggregateWeekly 按 ISO 周聚合日销量，返回按时间排序的周销量序列
func aggregateWeekly(records []SalesRecord) []float64 {
	type weekKey struct {
		year int
		week int
	}
	totals := make(map[weekKey]float64)
	for _, r := range records {
		y, w := r.Date.ISOWeek()
		totals[weekKey{y, w}] += float64(r.Quantity)
	}

	keys := make([]weekKey, 0, len(totals))
	for k := range totals {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].year != keys[j].year {
			return keys[i].year < keys[j].year
		}
		return keys[i].week < keys[j].week
	})

	out := make([]float64, 0, len(keys))
	for _, k := range keys {
		out = append(out, totals[k])
	}
	return out
}

// backtestMAPE 用逐周回测估计滑动平均模型的误差
func backtestMAPE(weekly []float64) float64 {
	var sum float64
	var n int
	for i := len(weekly) - backtestWeeks; i < len(weekly); i++ {
		if i < windowWeeks {
			continue
		}
		pred, _ := meanStd(weekly[i-windowWeeks : i])
		actual := weekly[i]
		if actual <= 0 {
			continue
		}
		sum += math.Abs(actual-pred) / actual
		n++
	}
	if n == 0 {
		return 1.0
	}
	return sum / float64(n)
}

func meanStd(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}
	std := math.Sqrt(sq / float64(len(values)))
	return mean, std
}

func lastN(values []float64, n int) []float64 {
	if len(values) <= n {
		return values
	}
	return values[len(values)-n:]
}

func mondayAfter(t time.Time) time.Time {
	d := t.AddDate(0, 0, 1)
	for d.Weekday() != time.Monday {
		d = d.AddDate(0, 0, 1)
	}
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

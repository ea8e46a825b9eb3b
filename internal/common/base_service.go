package common

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// BaseService 提供通用的数据访问辅助方法
type BaseService struct {
	db *gorm.DB
}

// NewBaseService 创建基础服务
func NewBaseService(db *gorm.DB) *BaseService {
	return &BaseService{db: db}
}

// DB 返回底层数据库连接
func (s *BaseService) DB() *gorm.DB {
	return s.db
}

// ApplyPagination 应用分页参数
func (s *BaseService) ApplyPagination(query *gorm.DB, p *PaginationRequest) *gorm.DB {
	return query.Offset(p.GetOffset()).Limit(p.GetPageSize())
}

// ApplySorting 应用排序, 仅允许白名单字段防止注入
func (s *BaseService) ApplySorting(query *gorm.DB, sort *SortRequest, allowed map[string]bool, defaultOrder string) *gorm.DB {
	if sort == nil || sort.SortBy == "" || !allowed[sort.SortBy] {
		return query.Order(defaultOrder)
	}
	order := "desc"
	if sort.SortOrder == "asc" {
		order = "asc"
	}
	return query.Order(fmt.Sprintf("%s %s", sort.SortBy, order))
}

// ApplyStatusFilter 应用状态过滤
func (s *BaseService) ApplyStatusFilter(query *gorm.DB, column, status string) *gorm.DB {
	if status == "" {
		return query
	}
	return query.Where(fmt.Sprintf("%s = ?", column), status)
}

// ApplyDateRange 应用时间范围过滤
func (s *BaseService) ApplyDateRange(query *gorm.DB, column string, dr *DateRange) *gorm.DB {
	if dr == nil {
		return query
	}
	if dr.StartTime != nil {
		query = query.Where(fmt.Sprintf("%s >= ?", column), *dr.StartTime)
	}
	if dr.EndTime != nil {
		query = query.Where(fmt.Sprintf("%s <= ?", column), *dr.EndTime)
	}
	return query
}

// Count 统计查询结果总数
func (s *BaseService) Count(query *gorm.DB, model any) (int64, error) {
	var total int64
	if err := query.Model(model).Count(&total).Error; err != nil {
		return 0, fmt.Errorf("统计记录总数失败: %w", err)
	}
	return total, nil
}

// Transaction 在事务中执行操作
func (s *BaseService) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return s.db.WithContext(ctx).Transaction(fn)
}

package common

import "time"

// PaginationRequest 通用分页请求参数
type PaginationRequest struct {
	Page     int `form:"page,default=1" json:"page" binding:"omitempty,min=1"`
	PageSize int `form:"page_size,default=20" json:"page_size" binding:"omitempty,min=1,max=100"`
}

// GetOffset 获取偏移量
func (p *PaginationRequest) GetOffset() int {
	if p.Page < 1 {
		p.Page = 1
	}
	return (p.Page - 1) * p.GetPageSize()
}

// GetPageSize 获取每页大小
func (p *PaginationRequest) GetPageSize() int {
	if p.PageSize < 1 {
		return 20
	}
	if p.PageSize > 100 {
		return 100
	}
	return p.PageSize
}

// PaginatedResult 通用分页结果
type PaginatedResult[T any] struct {
	Items    []T   `json:"items"`
	Total    int64 `json:"total"`
	Page     int   `json:"page"`
	PageSize int   `json:"page_size"`
}

// DateRange 时间范围过滤
type DateRange struct {
	StartTime *time.Time `form:"start_time" json:"start_time"`
	EndTime   *time.Time `form:"end_time" json:"end_time"`
}

// SortRequest 排序请求参数
type SortRequest struct {
	SortBy    string `form:"sort_by" json:"sort_by"`
	SortOrder string `form:"sort_order,default=desc" json:"sort_order" binding:"omitempty,oneof=asc desc"`
}

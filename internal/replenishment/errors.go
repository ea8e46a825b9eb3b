package replenishment

import "errors"

// 工作流错误类别，调用方通过 errors.Is 区分处理
var (
	// ErrWorkflowNotFound 未知的工作流 ID
	ErrWorkflowNotFound = errors.New("工作流不存在")

	// ErrInvalidWorkflowState 状态冲突：审批已有结论或工作流不在挂起状态
	ErrInvalidWorkflowState = errors.New("工作流状态不允许该操作")

	// ErrValidation 请求参数校验失败，工作流未创建
	ErrValidation = errors.New("请求参数无效")
)

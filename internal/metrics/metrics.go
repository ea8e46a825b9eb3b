package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// API 指标
var (
	// APIRequestsTotal API 请求总数
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replenish_api_requests_total",
			Help: "API 请求总数",
		},
		[]string{"method", "path", "status"},
	)

	// APIRequestDuration API 请求延迟（秒）
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "replenish_api_request_duration_seconds",
			Help:    "API 请求延迟分布",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// 工作流指标
var (
	// WorkflowStartedTotal 工作流启动总数
	WorkflowStartedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "replenish_workflow_started_total",
			Help: "补货工作流启动总数",
		},
	)

	// WorkflowCompletedTotal 工作流完成总数（按终态与审批方式）
	WorkflowCompletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replenish_workflow_completed_total",
			Help: "补货工作流完成总数",
		},
		[]string{"status", "approval_status"},
	)

	// StageExecutionsTotal 各阶段执行总数
	StageExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replenish_stage_executions_total",
			Help: "工作流阶段执行总数",
		},
		[]string{"stage", "status"},
	)

	// StageDuration 各阶段执行耗时（秒）
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "replenish_stage_duration_seconds",
			Help:    "工作流阶段执行耗时分布",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		},
		[]string{"stage"},
	)

	// ApprovalPendingGauge 当前挂起待审批的工作流数量
	ApprovalPendingGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "replenish_approval_pending",
			Help: "当前待人工审批的工作流数量",
		},
	)

	// ApprovalDecisionsTotal 审批决策总数
	ApprovalDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replenish_approval_decisions_total",
			Help: "审批决策总数",
		},
		[]string{"decision", "level"},
	)
)

// 检查点指标
var (
	// CheckpointOpsTotal 检查点读写总数
	CheckpointOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replenish_checkpoint_ops_total",
			Help: "检查点存储读写总数",
		},
		[]string{"store", "op", "status"},
	)
)

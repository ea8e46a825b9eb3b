package graph

import (
	"context"
	"fmt"
	"time"

	"backend/internal/logger"
	"backend/internal/metrics"
	"backend/internal/policy"
	"backend/internal/replenishment"
	"backend/internal/replenishment/checkpoint"
	"backend/internal/replenishment/stage"

	"go.uber.org/zap"
)

// Stage 流水线阶段枚举
type Stage string

const (
	StageForecast        Stage = "forecast"
	StageOptimize        Stage = "optimize"
	StageSelectVendor    Stage = "select_vendor"
	StageRequestApproval Stage = "request_approval"
	StageGeneratePO      Stage = "generate_po"
)

// StageFunc 阶段函数：读取状态，产出增量更新
type StageFunc func(ctx context.Context, state *replenishment.WorkflowState) *replenishment.StateDelta

// nextKind 阶段完成后的流转类别（带标签的变体）
type nextKind int

const (
	// nextAdvance 无条件进入下一阶段
	nextAdvance nextKind = iota
	// nextAutoApprove 记录自动批准后进入采购单生成
	nextAutoApprove
	// nextSuspend 挂起等待外部审批，编排器不再推进
	nextSuspend
	// nextDone 流水线结束
	nextDone
)

// next 流转决策
type next struct {
	kind  nextKind
	stage Stage
}

// entryStatus 进入各阶段时的生命周期状态
var entryStatus = map[Stage]replenishment.WorkflowStatus{
	StageForecast:        replenishment.StatusForecasting,
	StageOptimize:        replenishment.StatusOptimizing,
	StageSelectVendor:    replenishment.StatusAnalyzingVendor,
	StageRequestApproval: replenishment.StatusAwaitingApproval,
	StageGeneratePO:      replenishment.StatusGeneratingPO,
}

// transitions 有序边/条件表。唯一的条件边在审批请求之后：
// 需要人工审批时挂起，否则记录自动批准并直接生成采购单。
var transitions = map[Stage]func(*replenishment.WorkflowState) next{
	StageForecast: func(*replenishment.WorkflowState) next {
		return next{kind: nextAdvance, stage: StageOptimize}
	},
	StageOptimize: func(*replenishment.WorkflowState) next {
		return next{kind: nextAdvance, stage: StageSelectVendor}
	},
	StageSelectVendor: func(*replenishment.WorkflowState) next {
		return next{kind: nextAdvance, stage: StageRequestApproval}
	},
	StageRequestApproval: func(s *replenishment.WorkflowState) next {
		if s.ApprovalRequiredLevel == policy.LevelAuto {
			return next{kind: nextAutoApprove, stage: StageGeneratePO}
		}
		return next{kind: nextSuspend}
	},
	StageGeneratePO: func(*replenishment.WorkflowState) next {
		return next{kind: nextDone}
	},
}

// Outcome 一次图执行的结果
type Outcome struct {
	State *replenishment.WorkflowState
	// Suspended 为 true 表示在审批挂起点停住，等待外部恢复
	Suspended bool
	// LastStage 最后执行完成的阶段
	LastStage Stage
}

// Runner 把阶段函数接成有向流水线，并在每个阶段之后落检查点。
// 挂起的实现就是"不再调用下一阶段"：进程可以退出再重启而不丢失工作流。
type Runner struct {
	stages      map[Stage]StageFunc
	checkpoints checkpoint.Store
	logger      *zap.Logger
}

// NewRunner 创建图执行器
func NewRunner(set *stage.Set, store checkpoint.Store) *Runner {
	return &Runner{
		stages: map[Stage]StageFunc{
			StageForecast:        set.Forecast,
			StageOptimize:        set.Optimize,
			StageSelectVendor:    set.SelectVendor,
			StageRequestApproval: set.RequestApproval,
			StageGeneratePO:      set.GeneratePurchaseOrder,
		},
		checkpoints: store,
		logger:      logger.Get(),
	}
}

// Run 从头执行流水线，直到完成、失败或在审批点挂起
func (r *Runner) Run(ctx context.Context, threadID string, state *replenishment.WorkflowState) (*Outcome, error) {
	return r.runFrom(ctx, threadID, state, StageForecast)
}

// ResumeFrom 从指定阶段继续执行（审批恢复后由编排器调用）
func (r *Runner) ResumeFrom(ctx context.Context, threadID string, state *replenishment.WorkflowState, from Stage) (*Outcome, error) {
	if _, ok := r.stages[from]; !ok {
		return nil, fmt.Errorf("未知的恢复阶段: %s", from)
	}
	return r.runFrom(ctx, threadID, state, from)
}

func (r *Runner) runFrom(ctx context.Context, threadID string, state *replenishment.WorkflowState, from Stage) (*Outcome, error) {
	current := from

	for {
		fn := r.stages[current]

		// 进入阶段：推进生命周期状态（只前进，失败除外）
		state.WorkflowStatus = entryStatus[current]

		start := time.Now()
		delta := fn(ctx, state)
		replenishment.MergeState(state, delta)
		metrics.StageDuration.WithLabelValues(string(current)).Observe(time.Since(start).Seconds())

		// 每个阶段之后落检查点：进程崩溃后从最近完成的阶段恢复
		if err := r.checkpoints.Save(ctx, threadID, string(current), state); err != nil {
			metrics.StageExecutionsTotal.WithLabelValues(string(current), "checkpoint_error").Inc()
			return nil, fmt.Errorf("阶段 %s 保存检查点失败: %w", current, err)
		}

		if state.WorkflowStatus == replenishment.StatusFailed {
			metrics.StageExecutionsTotal.WithLabelValues(string(current), "failed").Inc()
			r.logger.Warn("流水线阶段失败",
				zap.String("thread_id", threadID),
				zap.String("stage", string(current)),
				zap.String("error", state.ErrorMessage),
			)
			return &Outcome{State: state, LastStage: current}, nil
		}
		metrics.StageExecutionsTotal.WithLabelValues(string(current), "ok").Inc()

		decision := transitions[current](state)
		switch decision.kind {
		case nextDone:
			return &Outcome{State: state, LastStage: current}, nil

		case nextSuspend:
			r.logger.Info("工作流挂起等待人工审批",
				zap.String("thread_id", threadID),
				zap.String("required_level", string(state.ApprovalRequiredLevel)),
			)
			return &Outcome{State: state, Suspended: true, LastStage: current}, nil

		case nextAutoApprove:
			state.ApprovalStatus = replenishment.ApprovalAutoApproved
			current = decision.stage

		default:
			current = decision.stage
		}
	}
}

package policy

import (
	"fmt"

	"backend/internal/config"
	"backend/internal/logger"

	"github.com/Knetic/govaluate"
	"go.uber.org/zap"
)

// Inputs 升级规则可引用的参数
type Inputs struct {
	OrderValue          float64
	Confidence          float64
	VendorReliability   float64
	RecommendedQuantity int
}

// compiledRule 预编译的升级规则
type compiledRule struct {
	name       string
	expression *govaluate.EvaluableExpression
	level      Level
}

// Engine 审批策略引擎
// 固定阈值（DecideApprovalLevel）是下限，配置化规则只能在其上升级。
type Engine struct {
	rules  []compiledRule
	logger *zap.Logger
}

// NewEngine 创建策略引擎，编译配置中的升级规则
func NewEngine(rules []config.EscalationRule) (*Engine, error) {
	e := &Engine{logger: logger.Get()}

	for _, r := range rules {
		level := Level(r.Level)
		if !level.IsValid() || level == LevelAuto {
			return nil, fmt.Errorf("升级规则 %q 的级别无效: %s", r.Name, r.Level)
		}
		expr, err := govaluate.NewEvaluableExpression(r.Expression)
		if err != nil {
			return nil, fmt.Errorf("解析升级规则 %q 失败: %w", r.Name, err)
		}
		e.rules = append(e.rules, compiledRule{
			name:       r.Name,
			expression: expr,
			level:      level,
		})
	}

	return e, nil
}

// Decide 计算所需审批级别：固定阈值结果与命中的升级规则取最大值
func (e *Engine) Decide(in Inputs) Level {
	level := DecideApprovalLevel(in.OrderValue, in.Confidence)

	if len(e.rules) == 0 {
		return level
	}

	params := map[string]interface{}{
		"order_value":          in.OrderValue,
		"confidence":           in.Confidence,
		"vendor_reliability":   in.VendorReliability,
		"recommended_quantity": float64(in.RecommendedQuantity),
	}

	for _, rule := range e.rules {
		result, err := rule.expression.Evaluate(params)
		if err != nil {
			e.logger.Warn("升级规则评估失败",
				zap.String("rule", rule.name),
				zap.Error(err),
			)
			continue
		}
		matched, ok := result.(bool)
		if !ok {
			e.logger.Warn("升级规则结果不是布尔值", zap.String("rule", rule.name))
			continue
		}
		if matched {
			level = MaxLevel(level, rule.level)
		}
	}

	return level
}

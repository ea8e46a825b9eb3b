package policy

// Level 审批级别
type Level string

const (
	LevelAuto      Level = "auto"
	LevelManager   Level = "manager"
	LevelExecutive Level = "executive"
)

// 审批阈值（边界按含等号处理：恰好 5000/0.85 走自动，恰好 10000 走经理）
const (
	executiveThreshold = 10000.0
	managerThreshold   = 5000.0
	autoConfidenceMin  = 0.85
)

var levelRank = map[Level]int{
	LevelAuto:      0,
	LevelManager:   1,
	LevelExecutive: 2,
}

// Rank 返回级别的序号，用于比较升级
func (l Level) Rank() int {
	return levelRank[l]
}

// IsValid 判断是否为合法级别
func (l Level) IsValid() bool {
	_, ok := levelRank[l]
	return ok
}

// DecideApprovalLevel 根据订单金额与预测置信度决定所需审批级别
func DecideApprovalLevel(orderValue, confidence float64) Level {
	switch {
	case orderValue > executiveThreshold:
		return LevelExecutive
	case orderValue > managerThreshold:
		return LevelManager
	case confidence < autoConfidenceMin:
		return LevelManager
	default:
		return LevelAuto
	}
}

// RequiresHumanApproval 判断是否需要人工审批
func RequiresHumanApproval(orderValue, confidence float64) bool {
	return DecideApprovalLevel(orderValue, confidence) != LevelAuto
}

// MaxLevel 返回两个级别中较高的一个
func MaxLevel(a, b Level) Level {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

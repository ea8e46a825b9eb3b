package tasks

// Task Types
const (
	TypeRunReplenishment = "replenish:run"
)

// RunReplenishmentPayload 补货工作流执行任务载荷。
// CurrentInventory 为负表示由库存服务查询。
type RunReplenishmentPayload struct {
	SKUID            string `json:"sku_id"`
	SKU              string `json:"sku"`
	CurrentInventory int    `json:"current_inventory"`
}

package domain

// OrderStatus 訂單狀態枚舉
type OrderStatus string

const (
	StatusPending    OrderStatus = "PENDING"
	StatusProcessing OrderStatus = "PROCESSING"
	StatusCompleted  OrderStatus = "COMPLETED"
	StatusExpired    OrderStatus = "EXPIRED"
)

// String 返回狀態的字串表示
func (s OrderStatus) String() string {
	return string(s)
}

// IsValid 檢查是否為已知狀態
func (s OrderStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusExpired:
		return true
	default:
		return false
	}
}

// IsTerminal 終態（COMPLETED、EXPIRED）不可再變更
func (s OrderStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusExpired
}

// ParseOrderStatus 將字串轉換為訂單狀態
func ParseOrderStatus(value string) (OrderStatus, error) {
	status := OrderStatus(value)
	if !status.IsValid() {
		return "", ErrValidation{Field: "status", Reason: "unknown order status " + value}
	}
	return status, nil
}

// CanTransitionTo 檢查是否可以從當前狀態轉換到目標狀態
func CanTransitionTo(from, to OrderStatus) bool {
	allowedTransitions := map[OrderStatus][]OrderStatus{
		StatusPending:    {StatusProcessing},               // 付款處理器取得建立事件
		StatusProcessing: {StatusCompleted, StatusExpired}, // 付款成功或逾時
		StatusCompleted:  {},                               // 已完成狀態不能轉換到其他狀態
		StatusExpired:    {},                               // 已過期狀態不能轉換到其他狀態
	}

	allowed, exists := allowedTransitions[from]
	if !exists {
		return false
	}

	for _, status := range allowed {
		if status == to {
			return true
		}
	}

	return false
}

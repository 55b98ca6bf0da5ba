package domain

import "fmt"

// 業務規則錯誤代碼
const (
	CodeOutOfStock        = "OUT_OF_STOCK"
	CodeInsufficientStock = "INSUFFICIENT_STOCK"
	CodeOrderFinalized    = "ORDER_FINALIZED"
)

// 資源名稱（用於 ErrNotFound）
const (
	ResourceUser    = "user"
	ResourceProduct = "product"
	ResourceOrder   = "order"
)

// ErrValidation 輸入格式錯誤，在任何狀態變更前拒絕
type ErrValidation struct {
	Field  string
	Reason string
}

func (e ErrValidation) Error() string {
	return "validation failed on " + e.Field + ": " + e.Reason
}

// ErrNotFound 引用的使用者、商品或訂單不存在
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e ErrNotFound) Error() string {
	return e.Resource + " not found: " + e.ID
}

// ErrBusinessRule 違反業務規則（庫存不足、終態訂單不可修改）
type ErrBusinessRule struct {
	Code    string
	Message string
}

func (e ErrBusinessRule) Error() string {
	return e.Message
}

// ErrOutOfStock 商品庫存為零
func ErrOutOfStock() ErrBusinessRule {
	return ErrBusinessRule{Code: CodeOutOfStock, Message: "product is out of stock"}
}

// ErrInsufficientStock 商品庫存少於請求數量
func ErrInsufficientStock() ErrBusinessRule {
	return ErrBusinessRule{Code: CodeInsufficientStock, Message: "insufficient stock"}
}

// ErrOrderFinalized 訂單已是終態
func ErrOrderFinalized() ErrBusinessRule {
	return ErrBusinessRule{Code: CodeOrderFinalized, Message: "order is already finalized"}
}

// ErrSerialization 事件序列化或反序列化失敗
type ErrSerialization struct {
	EventType string
	Err       error
}

func (e ErrSerialization) Error() string {
	return fmt.Sprintf("serialize %s event: %v", e.EventType, e.Err)
}

func (e ErrSerialization) Unwrap() error { return e.Err }

// ErrProcessing 非同步處理（付款模擬、過期掃描）中的非預期錯誤
type ErrProcessing struct {
	OrderID string
	Op      string
	Err     error
}

func (e ErrProcessing) Error() string {
	return fmt.Sprintf("%s failed for order %s: %v", e.Op, e.OrderID, e.Err)
}

func (e ErrProcessing) Unwrap() error { return e.Err }

// ErrStatusConflict 狀態比較交換失敗，訂單已被其他流程推進
type ErrStatusConflict struct {
	OrderID  string
	Expected OrderStatus
	Actual   OrderStatus
}

func (e ErrStatusConflict) Error() string {
	return fmt.Sprintf("order %s status conflict: expected %s, actual %s", e.OrderID, e.Expected, e.Actual)
}

// ErrInvalidStatusTransition 無效的狀態轉換錯誤
type ErrInvalidStatusTransition struct {
	FromStatus OrderStatus
	ToStatus   OrderStatus
}

func (e ErrInvalidStatusTransition) Error() string {
	return "invalid status transition: cannot transition from " + string(e.FromStatus) + " to " + string(e.ToStatus)
}

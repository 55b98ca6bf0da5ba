package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order 訂單聚合根
type Order struct {
	ID        string          `json:"orderId"`
	UserID    string          `json:"userId"`
	ProductID string          `json:"productId"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Total     decimal.Decimal `json:"total"`
	Status    OrderStatus     `json:"status"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// NewOrder 以商品當下單價建立 PENDING 訂單
func NewOrder(id, userID string, product *Product, quantity int, now time.Time) (*Order, error) {
	if err := ValidateQuantity(quantity); err != nil {
		return nil, err
	}

	return &Order{
		ID:        id,
		UserID:    userID,
		ProductID: product.ID,
		Quantity:  quantity,
		UnitPrice: product.Price,
		Total:     CalculateTotal(product.Price, quantity),
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// ValidateQuantity 數量必須 >= 1
func ValidateQuantity(quantity int) error {
	if quantity < 1 {
		return ErrValidation{Field: "quantity", Reason: "must be at least 1"}
	}
	return nil
}

// CalculateTotal 以十進位精確計算 單價 × 數量
func CalculateTotal(unitPrice decimal.Decimal, quantity int) decimal.Decimal {
	return unitPrice.Mul(decimal.NewFromInt(int64(quantity)))
}

// UpdateStatus 更新訂單狀態（包含狀態機驗證）
func (o *Order) UpdateStatus(newStatus OrderStatus, at time.Time) error {
	if !CanTransitionTo(o.Status, newStatus) {
		return ErrInvalidStatusTransition{
			FromStatus: o.Status,
			ToStatus:   newStatus,
		}
	}

	o.Status = newStatus
	o.UpdatedAt = at

	return nil
}

// ChangeQuantity 修改數量並以原始單價重新計算總額
// 注意：不會調整已保留的庫存
func (o *Order) ChangeQuantity(quantity int, at time.Time) error {
	if o.Status.IsTerminal() {
		return ErrOrderFinalized()
	}
	if err := ValidateQuantity(quantity); err != nil {
		return err
	}

	o.Quantity = quantity
	o.Total = CalculateTotal(o.UnitPrice, quantity)
	o.UpdatedAt = at
	return nil
}

// OverrideStatus 直接設定狀態，只檢查終態保護（對應外部更新操作）
func (o *Order) OverrideStatus(status OrderStatus, at time.Time) error {
	if o.Status.IsTerminal() {
		return ErrOrderFinalized()
	}
	if !status.IsValid() {
		return ErrValidation{Field: "status", Reason: "unknown order status " + string(status)}
	}

	o.Status = status
	o.UpdatedAt = at
	return nil
}

// Touch 刷新更新時間
func (o *Order) Touch(at time.Time) {
	o.UpdatedAt = at
}

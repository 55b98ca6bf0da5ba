package domain

import "github.com/shopspring/decimal"

// User 使用者（由身分服務提供，核心只讀）
type User struct {
	ID    string `json:"userId"`
	Email string `json:"email"`
}

// Product 商品（由商品目錄提供；庫存僅在建立訂單時扣減）
type Product struct {
	ID    string          `json:"productId"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
	Stock int             `json:"stock"`
}

// CheckStock 檢查庫存是否足夠，庫存為零與不足回傳不同錯誤
func (p *Product) CheckStock(quantity int) error {
	if p.Stock <= 0 {
		return ErrOutOfStock()
	}
	if p.Stock < quantity {
		return ErrInsufficientStock()
	}
	return nil
}

package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Order 資料庫模型（金額以文字讀出，避免浮點轉換）
type Order struct {
	ID        string
	UserID    string
	ProductID string
	Quantity  int
	UnitPrice string
	Total     string
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CreateOrderParams 建立訂單參數
type CreateOrderParams struct {
	ID        string
	UserID    string
	ProductID string
	Quantity  int
	UnitPrice string
	Total     string
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// UpdateOrderParams 更新訂單參數（ExpectedStatus 用於比較並交換）
type UpdateOrderParams struct {
	ID             string
	Quantity       int
	Total          string
	Status         string
	UpdatedAt      time.Time
	ExpectedStatus string
}

// Product 商品資料庫模型
type Product struct {
	ID    string
	Name  string
	Price string
	Stock int
}

// User 使用者資料庫模型
type User struct {
	ID    string
	Email string
}

const orderColumns = `id, user_id, product_id, quantity, unit_price::text, total::text, status, created_at, updated_at`

// directQueries 直接 SQL 查詢實作
type directQueries struct {
	pool *pgxpool.Pool
	tx   pgx.Tx // 事務（如果有的話）
}

// getQueryExecutor 獲取查詢執行器（優先使用事務，否則使用連接池）
func (q *directQueries) getQueryExecutor() interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
} {
	if q.tx != nil {
		return q.tx
	}
	return q.pool
}

func scanOrder(row pgx.Row) (Order, error) {
	var order Order
	err := row.Scan(
		&order.ID, &order.UserID, &order.ProductID, &order.Quantity,
		&order.UnitPrice, &order.Total, &order.Status, &order.CreatedAt, &order.UpdatedAt,
	)
	return order, err
}

// GetOrderByID 根據 ID 獲取訂單
func (q *directQueries) GetOrderByID(ctx context.Context, id string) (Order, error) {
	return scanOrder(q.getQueryExecutor().QueryRow(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE id = $1
	`, id))
}

// GetOrderByIDForUpdate 根據 ID 獲取訂單（使用悲觀鎖 SELECT FOR UPDATE）
func (q *directQueries) GetOrderByIDForUpdate(ctx context.Context, id string) (Order, error) {
	return scanOrder(q.getQueryExecutor().QueryRow(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE id = $1
		FOR UPDATE
	`, id))
}

// CreateOrder 創建訂單
func (q *directQueries) CreateOrder(ctx context.Context, arg CreateOrderParams) error {
	_, err := q.getQueryExecutor().Exec(ctx, `
		INSERT INTO orders (id, user_id, product_id, quantity, unit_price, total, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7, $8, $9)
	`, arg.ID, arg.UserID, arg.ProductID, arg.Quantity, arg.UnitPrice, arg.Total, arg.Status, arg.CreatedAt, arg.UpdatedAt)
	if err != nil {
		return fmt.Errorf("創建訂單失敗: %w", err)
	}
	return nil
}

// UpdateOrder 更新訂單（只在狀態仍為 ExpectedStatus 時生效），回傳受影響筆數
func (q *directQueries) UpdateOrder(ctx context.Context, arg UpdateOrderParams) (int64, error) {
	tag, err := q.getQueryExecutor().Exec(ctx, `
		UPDATE orders
		SET quantity = $2, total = $3::numeric, status = $4, updated_at = $5
		WHERE id = $1 AND status = $6
	`, arg.ID, arg.Quantity, arg.Total, arg.Status, arg.UpdatedAt, arg.ExpectedStatus)
	if err != nil {
		return 0, fmt.Errorf("更新訂單失敗: %w", err)
	}
	return tag.RowsAffected(), nil
}

// UpdateOrderStatus 更新訂單狀態
func (q *directQueries) UpdateOrderStatus(ctx context.Context, id, status string, updatedAt time.Time) error {
	_, err := q.getQueryExecutor().Exec(ctx, `
		UPDATE orders
		SET status = $2, updated_at = $3
		WHERE id = $1
	`, id, status, updatedAt)
	if err != nil {
		return fmt.Errorf("更新訂單狀態失敗: %w", err)
	}
	return nil
}

// DeleteOrder 刪除訂單，回傳受影響筆數
func (q *directQueries) DeleteOrder(ctx context.Context, id string) (int64, error) {
	tag, err := q.getQueryExecutor().Exec(ctx, `DELETE FROM orders WHERE id = $1`, id)
	if err != nil {
		return 0, fmt.Errorf("刪除訂單失敗: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ReserveStock 在庫存足夠時扣減，回傳受影響筆數（0 代表庫存不足或商品不存在）
func (q *directQueries) ReserveStock(ctx context.Context, productID string, quantity int) (int64, error) {
	tag, err := q.getQueryExecutor().Exec(ctx, `
		UPDATE products
		SET stock = stock - $2, updated_at = now()
		WHERE id = $1 AND stock >= $2
	`, productID, quantity)
	if err != nil {
		return 0, fmt.Errorf("扣減庫存失敗: %w", err)
	}
	return tag.RowsAffected(), nil
}

// GetProductByID 根據 ID 獲取商品
func (q *directQueries) GetProductByID(ctx context.Context, id string) (Product, error) {
	var product Product
	err := q.getQueryExecutor().QueryRow(ctx, `
		SELECT id, name, price::text, stock
		FROM products
		WHERE id = $1
	`, id).Scan(&product.ID, &product.Name, &product.Price, &product.Stock)
	return product, err
}

// GetUserByID 根據 ID 獲取使用者
func (q *directQueries) GetUserByID(ctx context.Context, id string) (User, error) {
	var user User
	err := q.getQueryExecutor().QueryRow(ctx, `
		SELECT id, email
		FROM users
		WHERE id = $1
	`, id).Scan(&user.ID, &user.Email)
	return user, err
}

// GetOrdersByStatusWithPagination 根據狀態獲取訂單列表（分頁）
func (q *directQueries) GetOrdersByStatusWithPagination(ctx context.Context, status string, limit, offset int) ([]Order, error) {
	return q.listOrders(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE status = $1
		ORDER BY created_at ASC, id ASC
		LIMIT $2 OFFSET $3
	`, status, limit, offset)
}

// GetOrdersByUserWithPagination 根據使用者獲取訂單列表（分頁）
func (q *directQueries) GetOrdersByUserWithPagination(ctx context.Context, userID string, limit, offset int) ([]Order, error) {
	return q.listOrders(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE user_id = $1
		ORDER BY created_at ASC, id ASC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
}

// GetStaleOrders 查詢指定狀態且建立時間早於 cutoff 的訂單（keyset 分頁）
func (q *directQueries) GetStaleOrders(ctx context.Context, status string, cutoff time.Time, after StaleCursor, limit int) ([]Order, error) {
	if after.IsZero() {
		return q.listOrders(ctx, `
			SELECT `+orderColumns+`
			FROM orders
			WHERE status = $1 AND created_at < $2
			ORDER BY created_at ASC, id ASC
			LIMIT $3
		`, status, cutoff, limit)
	}

	return q.listOrders(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE status = $1 AND created_at < $2
		  AND (created_at, id) > ($3, $4)
		ORDER BY created_at ASC, id ASC
		LIMIT $5
	`, status, cutoff, after.CreatedAt, after.OrderID, limit)
}

func (q *directQueries) listOrders(ctx context.Context, sql string, args ...interface{}) ([]Order, error) {
	rows, err := q.getQueryExecutor().Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("查詢訂單失敗: %w", err)
	}
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("掃描訂單失敗: %w", err)
		}
		orders = append(orders, order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("讀取訂單失敗: %w", err)
	}

	return orders, nil
}

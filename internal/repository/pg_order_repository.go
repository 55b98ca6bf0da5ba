package repository

import (
	"context"
	"ec-order-lifecycle-service/internal/domain"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PostgreSQL 錯誤碼
const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// PgOrderRepository PostgreSQL 實作的訂單倉儲
type PgOrderRepository struct {
	pool         *pgxpool.Pool
	queries      *directQueries
	queryTimeout time.Duration // 查詢操作超時時間
	writeTimeout time.Duration // 寫入操作超時時間
}

// NewPgOrderRepositoryWithConfig 創建 PostgreSQL 倉儲（使用自訂超時配置）
func NewPgOrderRepositoryWithConfig(pool *pgxpool.Pool, queryTimeout, writeTimeout time.Duration) *PgOrderRepository {
	return &PgOrderRepository{
		pool:         pool,
		queries:      &directQueries{pool: pool},
		queryTimeout: queryTimeout,
		writeTimeout: writeTimeout,
	}
}

// GetByID 根據 ID 獲取訂單
func (r *PgOrderRepository) GetByID(ctx context.Context, orderID string) (*domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, r.queryTimeout)
	defer cancel()

	dbOrder, err := r.queries.GetOrderByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound{Resource: domain.ResourceOrder, ID: orderID}
		}
		return nil, fmt.Errorf("查詢訂單失敗: %w", err)
	}

	return toDomainOrder(dbOrder)
}

// PlaceOrder 在同一個事務中扣減庫存、寫入訂單並發布事件
// 庫存扣減使用 stock >= quantity 條件更新，並發建立同一商品時不會超賣
func (r *PgOrderRepository) PlaceOrder(ctx context.Context, order *domain.Order, publish PublishFunc) error {
	return r.inTx(ctx, func(ctx context.Context, txQueries *directQueries) error {
		reserved, err := txQueries.ReserveStock(ctx, order.ProductID, order.Quantity)
		if err != nil {
			return err
		}
		if reserved == 0 {
			return r.reservationFailure(ctx, txQueries, order)
		}

		err = txQueries.CreateOrder(ctx, CreateOrderParams{
			ID:        order.ID,
			UserID:    order.UserID,
			ProductID: order.ProductID,
			Quantity:  order.Quantity,
			UnitPrice: order.UnitPrice.String(),
			Total:     order.Total.String(),
			Status:    string(order.Status),
			CreatedAt: order.CreatedAt,
			UpdatedAt: order.UpdatedAt,
		})
		if err != nil {
			if pgErrorCode(err) == pgUniqueViolation {
				return ErrDuplicateOrder{OrderID: order.ID}
			}
			return err
		}

		if publish != nil {
			return publish(ctx, order)
		}
		return nil
	})
}

// reservationFailure 條件扣減失敗時，重新讀取商品以區分「不存在 / 缺貨 / 庫存不足」
func (r *PgOrderRepository) reservationFailure(ctx context.Context, txQueries *directQueries, order *domain.Order) error {
	product, err := txQueries.GetProductByID(ctx, order.ProductID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrNotFound{Resource: domain.ResourceProduct, ID: order.ProductID}
		}
		return fmt.Errorf("查詢商品失敗: %w", err)
	}

	stock := domain.Product{ID: product.ID, Stock: product.Stock}
	if err := stock.CheckStock(order.Quantity); err != nil {
		return err
	}
	return domain.ErrInsufficientStock()
}

// Update 保存訂單變更（比較狀態後寫入）
func (r *PgOrderRepository) Update(ctx context.Context, order *domain.Order, expected domain.OrderStatus) error {
	ctx, cancel := context.WithTimeout(ctx, r.writeTimeout)
	defer cancel()

	affected, err := r.queries.UpdateOrder(ctx, UpdateOrderParams{
		ID:             order.ID,
		Quantity:       order.Quantity,
		Total:          order.Total.String(),
		Status:         string(order.Status),
		UpdatedAt:      order.UpdatedAt,
		ExpectedStatus: string(expected),
	})
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	current, err := r.queries.GetOrderByID(ctx, order.ID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrNotFound{Resource: domain.ResourceOrder, ID: order.ID}
		}
		return fmt.Errorf("查詢訂單失敗: %w", err)
	}
	return domain.ErrStatusConflict{OrderID: order.ID, Expected: expected, Actual: domain.OrderStatus(current.Status)}
}

// Delete 刪除訂單
func (r *PgOrderRepository) Delete(ctx context.Context, orderID string) error {
	ctx, cancel := context.WithTimeout(ctx, r.writeTimeout)
	defer cancel()

	affected, err := r.queries.DeleteOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrNotFound{Resource: domain.ResourceOrder, ID: orderID}
	}
	return nil
}

// TransitionStatus 以 SELECT FOR UPDATE 鎖定訂單後比較並交換狀態
func (r *PgOrderRepository) TransitionStatus(ctx context.Context, orderID string, from, to domain.OrderStatus, at time.Time, publish PublishFunc) (*domain.Order, error) {
	var result *domain.Order
	err := r.inTx(ctx, func(ctx context.Context, txQueries *directQueries) error {
		dbOrder, err := txQueries.GetOrderByIDForUpdate(ctx, orderID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrNotFound{Resource: domain.ResourceOrder, ID: orderID}
			}
			return fmt.Errorf("查詢訂單失敗: %w", err)
		}

		order, err := toDomainOrder(dbOrder)
		if err != nil {
			return err
		}
		if order.Status != from {
			return domain.ErrStatusConflict{OrderID: orderID, Expected: from, Actual: order.Status}
		}
		if err := order.UpdateStatus(to, at); err != nil {
			return err
		}
		if err := txQueries.UpdateOrderStatus(ctx, orderID, string(to), at); err != nil {
			return err
		}

		if publish != nil {
			if err := publish(ctx, order); err != nil {
				return err
			}
		}
		result = order
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetOrdersByStatus 根據狀態獲取訂單列表（支持分頁）
func (r *PgOrderRepository) GetOrdersByStatus(ctx context.Context, status domain.OrderStatus, limit, offset int) ([]*domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, r.queryTimeout)
	defer cancel()

	limit, offset = normalizePage(limit, offset)
	dbOrders, err := r.queries.GetOrdersByStatusWithPagination(ctx, string(status), limit, offset)
	if err != nil {
		return nil, err
	}
	return toDomainOrders(dbOrders)
}

// GetOrdersByUser 根據使用者獲取訂單列表（支持分頁）
func (r *PgOrderRepository) GetOrdersByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, r.queryTimeout)
	defer cancel()

	limit, offset = normalizePage(limit, offset)
	dbOrders, err := r.queries.GetOrdersByUserWithPagination(ctx, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	return toDomainOrders(dbOrders)
}

// FindStaleOrders 查詢逾時訂單（使用 status + created_at 索引）
func (r *PgOrderRepository) FindStaleOrders(ctx context.Context, status domain.OrderStatus, createdBefore time.Time, after StaleCursor, limit int) ([]*domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, r.queryTimeout)
	defer cancel()

	limit, _ = normalizePage(limit, 0)
	dbOrders, err := r.queries.GetStaleOrders(ctx, string(status), createdBefore, after, limit)
	if err != nil {
		return nil, err
	}
	return toDomainOrders(dbOrders)
}

// inTx 使用事務包裹操作，遇到死鎖或序列化失敗時重試
func (r *PgOrderRepository) inTx(ctx context.Context, fn func(ctx context.Context, txQueries *directQueries) error) error {
	const maxRetries = 3
	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			// 重試前等待一小段時間（線性退避）
			time.Sleep(time.Duration(attempt) * 50 * time.Millisecond)
		}

		txCtx, cancel := context.WithTimeout(ctx, r.writeTimeout)
		err := pgx.BeginTxFunc(txCtx, r.pool, pgx.TxOptions{
			IsoLevel: pgx.ReadCommitted,
		}, func(tx pgx.Tx) error {
			return fn(txCtx, &directQueries{pool: r.pool, tx: tx})
		})
		cancel()

		if err == nil {
			return nil
		}

		lastErr = err
		if isRetryableError(err) {
			continue
		}
		return err
	}

	return fmt.Errorf("事務執行失敗（已重試 %d 次）: %w", maxRetries, lastErr)
}

// isRetryableError 檢查是否為死鎖或序列化失敗
func isRetryableError(err error) bool {
	code := pgErrorCode(err)
	return code == pgSerializationFailure || code == pgDeadlockDetected
}

func pgErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 100 // 預設限制
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// toDomainOrder 將資料庫模型轉換為領域模型
func toDomainOrder(dbOrder Order) (*domain.Order, error) {
	unitPrice, err := decimal.NewFromString(dbOrder.UnitPrice)
	if err != nil {
		return nil, fmt.Errorf("解析訂單單價失敗 (orderId=%s): %w", dbOrder.ID, err)
	}
	total, err := decimal.NewFromString(dbOrder.Total)
	if err != nil {
		return nil, fmt.Errorf("解析訂單總額失敗 (orderId=%s): %w", dbOrder.ID, err)
	}

	return &domain.Order{
		ID:        dbOrder.ID,
		UserID:    dbOrder.UserID,
		ProductID: dbOrder.ProductID,
		Quantity:  dbOrder.Quantity,
		UnitPrice: unitPrice,
		Total:     total,
		Status:    domain.OrderStatus(dbOrder.Status),
		CreatedAt: dbOrder.CreatedAt,
		UpdatedAt: dbOrder.UpdatedAt,
	}, nil
}

func toDomainOrders(dbOrders []Order) ([]*domain.Order, error) {
	orders := make([]*domain.Order, 0, len(dbOrders))
	for _, dbOrder := range dbOrders {
		order, err := toDomainOrder(dbOrder)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, nil
}

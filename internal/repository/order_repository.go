package repository

import (
	"context"
	"ec-order-lifecycle-service/internal/domain"
	"sort"
	"sync"
	"time"
)

// PublishFunc 在交易提交前執行的回呼（用於發布事件），回傳錯誤會回滾整筆交易
type PublishFunc func(ctx context.Context, order *domain.Order) error

// OrderRepository 訂單倉儲介面
type OrderRepository interface {
	GetByID(ctx context.Context, orderID string) (*domain.Order, error)
	// PlaceOrder 扣減庫存、寫入訂單並發布事件，三者為同一個原子單位
	PlaceOrder(ctx context.Context, order *domain.Order, publish PublishFunc) error
	// Update 保存訂單變更，只有在資料庫中的狀態仍為 expected 時才會寫入
	Update(ctx context.Context, order *domain.Order, expected domain.OrderStatus) error
	Delete(ctx context.Context, orderID string) error
	// TransitionStatus 比較並交換訂單狀態，publish 在提交前執行
	TransitionStatus(ctx context.Context, orderID string, from, to domain.OrderStatus, at time.Time, publish PublishFunc) (*domain.Order, error)
	GetOrdersByStatus(ctx context.Context, status domain.OrderStatus, limit, offset int) ([]*domain.Order, error)
	GetOrdersByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.Order, error)
	// FindStaleOrders 查詢指定狀態且建立時間早於 createdBefore 的訂單，依 (created_at, id) 排序並從 after 之後開始
	FindStaleOrders(ctx context.Context, status domain.OrderStatus, createdBefore time.Time, after StaleCursor, limit int) ([]*domain.Order, error)
}

// StaleCursor 逾時訂單查詢的分頁游標（零值代表從頭開始）
type StaleCursor struct {
	CreatedAt time.Time
	OrderID   string
}

// CursorAfter 以訂單建立游標
func CursorAfter(order *domain.Order) StaleCursor {
	return StaleCursor{CreatedAt: order.CreatedAt, OrderID: order.ID}
}

// IsZero 是否為起始游標
func (c StaleCursor) IsZero() bool {
	return c.OrderID == ""
}

// Before 游標是否排在訂單之前
func (c StaleCursor) Before(order *domain.Order) bool {
	if c.IsZero() {
		return true
	}
	if !c.CreatedAt.Equal(order.CreatedAt) {
		return c.CreatedAt.Before(order.CreatedAt)
	}
	return c.OrderID < order.ID
}

// InMemoryOrderRepository 記憶體實作的訂單倉儲（用於測試）
type InMemoryOrderRepository struct {
	orders  map[string]*domain.Order
	catalog *InMemoryCatalogRepository
	mu      sync.RWMutex
}

// NewInMemoryOrderRepository 創建記憶體倉儲，庫存保留透過 catalog 完成
func NewInMemoryOrderRepository(catalog *InMemoryCatalogRepository) *InMemoryOrderRepository {
	return &InMemoryOrderRepository{
		orders:  make(map[string]*domain.Order),
		catalog: catalog,
	}
}

// GetByID 根據 ID 獲取訂單
func (r *InMemoryOrderRepository) GetByID(ctx context.Context, orderID string) (*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, exists := r.orders[orderID]
	if !exists {
		return nil, domain.ErrNotFound{Resource: domain.ResourceOrder, ID: orderID}
	}

	// 複製訂單以避免外部修改
	orderCopy := *order
	return &orderCopy, nil
}

// PlaceOrder 保留庫存並寫入訂單（記憶體實作，以互斥鎖序列化同一時間的建立請求）
func (r *InMemoryOrderRepository) PlaceOrder(ctx context.Context, order *domain.Order, publish PublishFunc) error {
	r.catalog.mu.Lock()
	defer r.catalog.mu.Unlock()
	r.mu.Lock()
	defer r.mu.Unlock()

	product, exists := r.catalog.products[order.ProductID]
	if !exists {
		return domain.ErrNotFound{Resource: domain.ResourceProduct, ID: order.ProductID}
	}
	if err := product.CheckStock(order.Quantity); err != nil {
		return err
	}
	if _, exists := r.orders[order.ID]; exists {
		return ErrDuplicateOrder{OrderID: order.ID}
	}

	product.Stock -= order.Quantity
	orderCopy := *order
	r.orders[order.ID] = &orderCopy

	if publish != nil {
		if err := publish(ctx, order); err != nil {
			// 回滾
			product.Stock += order.Quantity
			delete(r.orders, order.ID)
			return err
		}
	}

	return nil
}

// Update 保存訂單（比較狀態後寫入）
func (r *InMemoryOrderRepository) Update(ctx context.Context, order *domain.Order, expected domain.OrderStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, exists := r.orders[order.ID]
	if !exists {
		return domain.ErrNotFound{Resource: domain.ResourceOrder, ID: order.ID}
	}
	if current.Status != expected {
		return domain.ErrStatusConflict{OrderID: order.ID, Expected: expected, Actual: current.Status}
	}

	orderCopy := *order
	r.orders[order.ID] = &orderCopy
	return nil
}

// Delete 刪除訂單
func (r *InMemoryOrderRepository) Delete(ctx context.Context, orderID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.orders[orderID]; !exists {
		return domain.ErrNotFound{Resource: domain.ResourceOrder, ID: orderID}
	}
	delete(r.orders, orderID)
	return nil
}

// TransitionStatus 比較並交換訂單狀態（記憶體實作）
func (r *InMemoryOrderRepository) TransitionStatus(ctx context.Context, orderID string, from, to domain.OrderStatus, at time.Time, publish PublishFunc) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, exists := r.orders[orderID]
	if !exists {
		return nil, domain.ErrNotFound{Resource: domain.ResourceOrder, ID: orderID}
	}
	if current.Status != from {
		return nil, domain.ErrStatusConflict{OrderID: orderID, Expected: from, Actual: current.Status}
	}

	updated := *current
	if err := updated.UpdateStatus(to, at); err != nil {
		return nil, err
	}

	if publish != nil {
		if err := publish(ctx, &updated); err != nil {
			return nil, err
		}
	}

	r.orders[orderID] = &updated
	result := updated
	return &result, nil
}

// GetOrdersByStatus 根據狀態獲取訂單列表（支持分頁）
func (r *InMemoryOrderRepository) GetOrdersByStatus(ctx context.Context, status domain.OrderStatus, limit, offset int) ([]*domain.Order, error) {
	return r.filter(func(o *domain.Order) bool { return o.Status == status }, limit, offset), nil
}

// GetOrdersByUser 根據使用者獲取訂單列表（支持分頁）
func (r *InMemoryOrderRepository) GetOrdersByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.Order, error) {
	return r.filter(func(o *domain.Order) bool { return o.UserID == userID }, limit, offset), nil
}

// FindStaleOrders 查詢逾時訂單（依建立時間與 ID 排序）
func (r *InMemoryOrderRepository) FindStaleOrders(ctx context.Context, status domain.OrderStatus, createdBefore time.Time, after StaleCursor, limit int) ([]*domain.Order, error) {
	return r.filter(func(o *domain.Order) bool {
		return o.Status == status && o.CreatedAt.Before(createdBefore) && after.Before(o)
	}, limit, 0), nil
}

func (r *InMemoryOrderRepository) filter(match func(*domain.Order) bool, limit, offset int) []*domain.Order {
	r.mu.RLock()
	defer r.mu.RUnlock()

	orders := []*domain.Order{}
	for _, order := range r.orders {
		if match(order) {
			// 複製訂單以避免外部修改
			orderCopy := *order
			orders = append(orders, &orderCopy)
		}
	}
	sort.Slice(orders, func(i, j int) bool {
		if orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].ID < orders[j].ID
		}
		return orders[i].CreatedAt.Before(orders[j].CreatedAt)
	})

	// 實作分頁邏輯
	if limit <= 0 {
		limit = len(orders) // 如果 limit <= 0，返回所有結果
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(orders) {
		return []*domain.Order{}
	}
	end := offset + limit
	if end > len(orders) {
		end = len(orders)
	}

	return orders[offset:end]
}

// ErrDuplicateOrder 訂單 ID 重複
type ErrDuplicateOrder struct {
	OrderID string
}

func (e ErrDuplicateOrder) Error() string {
	return "order already exists: " + e.OrderID
}

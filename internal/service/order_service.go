package service

import (
	"context"
	"ec-order-lifecycle-service/internal/domain"
	"ec-order-lifecycle-service/internal/metrics"
	"ec-order-lifecycle-service/internal/repository"
	"errors"
	"fmt"
)

// 訂單操作名稱（用於日誌與指標）
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
)

// 更新時狀態衝突的最大重試次數
const maxUpdateAttempts = 3

// CreateOrderRequest 建立訂單請求
type CreateOrderRequest struct {
	UserID    string
	ProductID string
	Quantity  int
}

// UpdateOrderRequest 更新訂單請求（nil 表示不修改）
type UpdateOrderRequest struct {
	Quantity *int
	Status   *domain.OrderStatus
}

// OrderService 訂單建立、更新、刪除與查詢
type OrderService struct {
	orderRepo      repository.OrderRepository
	catalog        repository.CatalogRepository
	eventPublisher EventPublisher
	logger         Logger
	clock          Clock
	newID          IDGenerator
}

// NewOrderService 使用依賴注入創建服務
func NewOrderService(
	orderRepo repository.OrderRepository,
	catalog repository.CatalogRepository,
	eventPublisher EventPublisher,
	logger Logger,
) *OrderService {
	return &OrderService{
		orderRepo:      orderRepo,
		catalog:        catalog,
		eventPublisher: eventPublisher,
		logger:         logger,
		clock:          SystemClock{},
		newID:          NewUUID,
	}
}

// WithClock 替換時間來源
func (s *OrderService) WithClock(clock Clock) *OrderService {
	s.clock = clock
	return s
}

// WithIDGenerator 替換 ID 產生器
func (s *OrderService) WithIDGenerator(newID IDGenerator) *OrderService {
	s.newID = newID
	return s
}

// Create 驗證請求、保留庫存、寫入 PENDING 訂單並發布 order-created 事件（同一個交易）
func (s *OrderService) Create(ctx context.Context, req CreateOrderRequest) (order *domain.Order, err error) {
	defer func() { metrics.RecordOrderOperation(OpCreate, err) }()

	if err := domain.ValidateQuantity(req.Quantity); err != nil {
		return nil, err
	}

	if _, err := s.catalog.FindUserByID(ctx, req.UserID); err != nil {
		return nil, err
	}

	product, err := s.catalog.FindProductByID(ctx, req.ProductID)
	if err != nil {
		return nil, err
	}
	if err := product.CheckStock(req.Quantity); err != nil {
		s.logger.Warn("庫存不足，拒絕建立訂單",
			"productId", req.ProductID, "stock", product.Stock, "quantity", req.Quantity)
		return nil, err
	}

	now := s.clock.Now()
	order, err = domain.NewOrder(s.newID(), req.UserID, product, req.Quantity, now)
	if err != nil {
		return nil, err
	}

	eventID := NewUUID()
	err = s.orderRepo.PlaceOrder(ctx, order, func(ctx context.Context, placed *domain.Order) error {
		event := domain.NewOrderCreatedEvent(placed, now)
		event.EventID = eventID // 交易重試時沿用同一個事件 ID
		return s.eventPublisher.Publish(ctx, event)
	})
	if err != nil {
		s.logger.Error("建立訂單失敗", err, "userId", req.UserID, "productId", req.ProductID)
		return nil, err
	}

	s.logger.Info("訂單建立成功",
		"orderId", order.ID, "userId", order.UserID, "productId", order.ProductID,
		"quantity", order.Quantity, "total", order.Total.String())
	return order, nil
}

// Update 修改數量或直接設定狀態；終態訂單不可修改
func (s *OrderService) Update(ctx context.Context, orderID string, req UpdateOrderRequest) (order *domain.Order, err error) {
	defer func() { metrics.RecordOrderOperation(OpUpdate, err) }()

	for attempt := 1; attempt <= maxUpdateAttempts; attempt++ {
		order, err = s.orderRepo.GetByID(ctx, orderID)
		if err != nil {
			return nil, err
		}

		expected := order.Status
		if err := s.applyUpdate(order, req); err != nil {
			return nil, err
		}

		err = s.orderRepo.Update(ctx, order, expected)
		if err == nil {
			s.logger.Info("訂單更新成功",
				"orderId", orderID, "quantity", order.Quantity, "total", order.Total.String(), "status", order.Status)
			return order, nil
		}

		var conflict domain.ErrStatusConflict
		if !errors.As(err, &conflict) {
			s.logger.Error("保存訂單失敗", err, "orderId", orderID)
			return nil, err
		}
		// 狀態在讀取後被付款處理或過期掃描改變，重新讀取後再套用
		s.logger.Warn("並發更新衝突，重新查詢訂單狀態",
			"orderId", orderID, "expected", conflict.Expected, "actual", conflict.Actual, "attempt", attempt)
	}

	return nil, fmt.Errorf("更新訂單失敗 (orderId=%s): %w", orderID, err)
}

func (s *OrderService) applyUpdate(order *domain.Order, req UpdateOrderRequest) error {
	if order.Status.IsTerminal() {
		return domain.ErrOrderFinalized()
	}

	now := s.clock.Now()
	if req.Quantity != nil {
		if err := order.ChangeQuantity(*req.Quantity, now); err != nil {
			return err
		}
	}
	if req.Status != nil {
		if err := order.OverrideStatus(*req.Status, now); err != nil {
			return err
		}
	}
	order.Touch(now)
	return nil
}

// Delete 刪除訂單（不回補庫存）
func (s *OrderService) Delete(ctx context.Context, orderID string) (err error) {
	defer func() { metrics.RecordOrderOperation(OpDelete, err) }()

	if err := s.orderRepo.Delete(ctx, orderID); err != nil {
		return err
	}
	s.logger.Info("訂單已刪除", "orderId", orderID)
	return nil
}

// GetOrder 獲取訂單
func (s *OrderService) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	return s.orderRepo.GetByID(ctx, orderID)
}

// ListOrdersByUser 根據使用者獲取訂單列表（支持分頁）
func (s *OrderService) ListOrdersByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.Order, error) {
	return s.orderRepo.GetOrdersByUser(ctx, userID, limit, offset)
}

// ListOrdersByStatus 根據狀態獲取訂單列表（支持分頁）
func (s *OrderService) ListOrdersByStatus(ctx context.Context, status domain.OrderStatus, limit, offset int) ([]*domain.Order, error) {
	if !status.IsValid() {
		return nil, domain.ErrValidation{Field: "status", Reason: "unknown order status " + string(status)}
	}
	return s.orderRepo.GetOrdersByStatus(ctx, status, limit, offset)
}

package domain

import (
	"ec-order-lifecycle-service/pkg/events"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// 事件類型（同時作為 order-events 通道的分區鍵）
const (
	EventTypeOrderCreated   = events.KeyOrderCreated
	EventTypeOrderCompleted = events.KeyOrderCompleted
	EventTypeOrderExpired   = events.KeyOrderExpired
)

// Event 事件介面
type Event interface {
	EventType() string
	Base() LifecycleEvent
}

// LifecycleEvent 生命週期事件的共用欄位
type LifecycleEvent struct {
	EventID   string
	OrderID   string
	UserID    string
	ProductID string
	Quantity  int
	Total     decimal.Decimal
	Timestamp time.Time
}

func newLifecycleEvent(order *Order, at time.Time) LifecycleEvent {
	return LifecycleEvent{
		EventID:   uuid.NewString(),
		OrderID:   order.ID,
		UserID:    order.UserID,
		ProductID: order.ProductID,
		Quantity:  order.Quantity,
		Total:     order.Total,
		Timestamp: at,
	}
}

// OrderCreatedEvent 訂單建立事件，Status 為發布當下的訂單狀態
type OrderCreatedEvent struct {
	LifecycleEvent
	Status OrderStatus
}

func (e OrderCreatedEvent) EventType() string    { return EventTypeOrderCreated }
func (e OrderCreatedEvent) Base() LifecycleEvent { return e.LifecycleEvent }

// NewOrderCreatedEvent 創建訂單建立事件
func NewOrderCreatedEvent(order *Order, at time.Time) OrderCreatedEvent {
	return OrderCreatedEvent{
		LifecycleEvent: newLifecycleEvent(order, at),
		Status:         order.Status,
	}
}

// OrderCompletedEvent 訂單完成事件
type OrderCompletedEvent struct {
	LifecycleEvent
}

func (e OrderCompletedEvent) EventType() string    { return EventTypeOrderCompleted }
func (e OrderCompletedEvent) Base() LifecycleEvent { return e.LifecycleEvent }

// NewOrderCompletedEvent 創建訂單完成事件
func NewOrderCompletedEvent(order *Order, at time.Time) OrderCompletedEvent {
	return OrderCompletedEvent{LifecycleEvent: newLifecycleEvent(order, at)}
}

// OrderExpiredEvent 訂單過期事件
type OrderExpiredEvent struct {
	LifecycleEvent
}

func (e OrderExpiredEvent) EventType() string    { return EventTypeOrderExpired }
func (e OrderExpiredEvent) Base() LifecycleEvent { return e.LifecycleEvent }

// NewOrderExpiredEvent 創建訂單過期事件
func NewOrderExpiredEvent(order *Order, at time.Time) OrderExpiredEvent {
	return OrderExpiredEvent{LifecycleEvent: newLifecycleEvent(order, at)}
}

package handler

import (
	"context"
	"ec-order-lifecycle-service/internal/domain"
	"ec-order-lifecycle-service/pkg/events"
	"fmt"
	"log"
	"time"
)

// OrderCreatedProcessor 處理 order-created 事件的服務
type OrderCreatedProcessor interface {
	HandleOrderCreated(ctx context.Context, event domain.OrderCreatedEvent) error
}

// OrderEventHandler 將通道消息轉為領域事件並交給付款處理器
type OrderEventHandler struct {
	processor OrderCreatedProcessor
}

// NewOrderEventHandler 建立訂單事件處理器
func NewOrderEventHandler(processor OrderCreatedProcessor) *OrderEventHandler {
	return &OrderEventHandler{processor: processor}
}

// HandleOrderCreated 處理訂單建立事件（回傳錯誤時由通道重試）
func (h *OrderEventHandler) HandleOrderCreated(ctx context.Context, msg events.OrderEventMessage) error {
	startTime := time.Now()
	log.Printf("[Handler] 開始處理訂單建立事件: orderId=%s, eventId=%s, status=%s", msg.OrderID, msg.EventID, msg.Status)

	event := ToOrderCreatedEvent(msg)
	if err := h.processor.HandleOrderCreated(ctx, event); err != nil {
		log.Printf("[Handler] 處理訂單建立事件失敗: orderId=%s, error=%v, duration=%v",
			msg.OrderID, err, time.Since(startTime))
		return fmt.Errorf("處理訂單建立事件失敗 (orderId=%s): %w", msg.OrderID, err)
	}

	log.Printf("[Handler] 訂單建立事件處理成功: orderId=%s, duration=%v", msg.OrderID, time.Since(startTime))
	return nil
}

// ToOrderCreatedEvent 將通道消息轉為領域事件（時間格式錯誤時記錄並保留零值）
func ToOrderCreatedEvent(msg events.OrderEventMessage) domain.OrderCreatedEvent {
	timestamp, err := time.Parse(time.RFC3339Nano, msg.Timestamp)
	if err != nil {
		log.Printf("[Handler] 事件時間格式錯誤，改用零值: orderId=%s, eventId=%s, timestamp=%q, error=%v",
			msg.OrderID, msg.EventID, msg.Timestamp, err)
		timestamp = time.Time{}
	}

	return domain.OrderCreatedEvent{
		LifecycleEvent: domain.LifecycleEvent{
			EventID:   msg.EventID,
			OrderID:   msg.OrderID,
			UserID:    msg.UserID,
			ProductID: msg.ProductID,
			Quantity:  msg.Quantity,
			Total:     msg.Total,
			Timestamp: timestamp,
		},
		Status: domain.OrderStatus(msg.Status),
	}
}

var _ events.Handler = (*OrderEventHandler)(nil)

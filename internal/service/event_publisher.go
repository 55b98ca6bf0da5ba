package service

import (
	"context"
	"ec-order-lifecycle-service/internal/domain"
	"ec-order-lifecycle-service/pkg/events"
	"fmt"
	"sync"
	"time"
)

// EventPublisher 事件發布介面
type EventPublisher interface {
	Publish(ctx context.Context, event domain.Event) error
}

// BrokerEventPublisher 將領域事件序列化後交給 order-events 通道
type BrokerEventPublisher struct {
	publisher events.Publisher
}

// NewBrokerEventPublisher 創建事件發布器（RabbitMQ 或 Kafka 生產者皆可）
func NewBrokerEventPublisher(publisher events.Publisher) *BrokerEventPublisher {
	return &BrokerEventPublisher{publisher: publisher}
}

// Publish 序列化失敗回傳 ErrSerialization，呼叫端必須中止操作
func (p *BrokerEventPublisher) Publish(ctx context.Context, event domain.Event) error {
	body, err := events.Encode(ToMessage(event))
	if err != nil {
		return domain.ErrSerialization{EventType: event.EventType(), Err: err}
	}

	if err := p.publisher.Publish(ctx, event.EventType(), body); err != nil {
		return fmt.Errorf("發布 %s 事件失敗 (orderId=%s): %w", event.EventType(), event.Base().OrderID, err)
	}
	return nil
}

// ToMessage 將領域事件轉成通道訊息
func ToMessage(event domain.Event) events.OrderEventMessage {
	base := event.Base()
	msg := events.OrderEventMessage{
		EventID:   base.EventID,
		EventType: event.EventType(),
		OrderID:   base.OrderID,
		UserID:    base.UserID,
		ProductID: base.ProductID,
		Quantity:  base.Quantity,
		Total:     base.Total,
		Timestamp: base.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	if created, ok := event.(domain.OrderCreatedEvent); ok {
		msg.Status = string(created.Status)
	}
	return msg
}

// MockEventPublisher 模擬事件發布器（用於測試）
type MockEventPublisher struct {
	Events []domain.Event
	Err    error // 設定後 Publish 會回傳此錯誤
	mu     sync.Mutex
}

func (m *MockEventPublisher) Publish(ctx context.Context, event domain.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return m.Err
	}
	m.Events = append(m.Events, event)
	return nil
}

func (m *MockEventPublisher) GetPublishedEvents() []domain.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Event(nil), m.Events...)
}

// EventsOfType 依事件類型過濾
func (m *MockEventPublisher) EventsOfType(eventType string) []domain.Event {
	var matched []domain.Event
	for _, event := range m.GetPublishedEvents() {
		if event.EventType() == eventType {
			matched = append(matched, event)
		}
	}
	return matched
}

func (m *MockEventPublisher) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = make([]domain.Event, 0)
}

// NewMockEventPublisher 創建模擬事件發布器
func NewMockEventPublisher() *MockEventPublisher {
	return &MockEventPublisher{
		Events: make([]domain.Event, 0),
	}
}
